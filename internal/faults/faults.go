// Package faults maps heterogeneous failures onto the closed error
// taxonomy surfaced to callers. Every error leaving the core is
// classified exactly once into a category, a stable code, a retryable
// flag, and a short list of suggested next steps.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Category is the coarse error class.
type Category string

const (
	CategorySession    Category = "session"
	CategoryAPI        Category = "api"
	CategoryFilesystem Category = "filesystem"
	CategoryUnknown    Category = "unknown"
)

// Code is a stable short identifier for one failure shape.
type Code string

const (
	SessionNotFound Code = "SESSION_NOT_FOUND"
	SessionLocked   Code = "SESSION_LOCKED"
	SessionTimeout  Code = "SESSION_TIMEOUT"

	APIAuthError   Code = "API_AUTH_ERROR"
	RateLimitError Code = "RATE_LIMIT_ERROR"
	APIParseError  Code = "API_PARSE_ERROR"

	PathTraversal   Code = "PATH_TRAVERSAL"
	InvalidFileType Code = "INVALID_FILE_TYPE"
	FileTooLarge    Code = "FILE_TOO_LARGE"
	NotAFile        Code = "NOT_A_FILE"
	FSError         Code = "FS_ERROR"

	UnknownError Code = "UNKNOWN_ERROR"
)

var categories = map[Code]Category{
	SessionNotFound: CategorySession,
	SessionLocked:   CategorySession,
	SessionTimeout:  CategorySession,
	APIAuthError:    CategoryAPI,
	RateLimitError:  CategoryAPI,
	APIParseError:   CategoryAPI,
	PathTraversal:   CategoryFilesystem,
	InvalidFileType: CategoryFilesystem,
	FileTooLarge:    CategoryFilesystem,
	NotAFile:        CategoryFilesystem,
	FSError:         CategoryFilesystem,
	UnknownError:    CategoryUnknown,
}

// retryable codes: the caller may try again once the transient condition
// clears. Path errors, auth errors, and unknown errors never recover by
// retrying.
var retryable = map[Code]bool{
	SessionLocked:  true,
	RateLimitError: true,
}

// nextSteps holds the fixed per-code guidance (at most four entries).
var nextSteps = map[Code][]string{
	SessionNotFound: {
		"verify the session_id value",
		"the session may have expired after 30 minutes of inactivity; start a new conversation",
	},
	SessionLocked: {
		"another operation holds this session; retry after it completes",
		"use get_conversation_status to observe session state without locking",
	},
	SessionTimeout: {
		"start a new conversation; idle sessions are reclaimed after 30 minutes",
	},
	APIAuthError: {
		"check that GEMINI_API_KEY is set and valid",
		"confirm the key has access to the configured model",
	},
	RateLimitError: {
		"wait before retrying",
		"reduce parallel_sessions in tournament configurations",
	},
	APIParseError: {
		"retry the operation; the remote response had no parseable structure",
		"reduce the requested detail level",
	},
	PathTraversal: {
		"use paths inside the configured project root",
		"remove any .. segments from the path",
	},
	InvalidFileType: {
		"only source, config, and documentation file extensions are readable",
	},
	FileTooLarge: {
		"files over 10 MiB are not read; point at a smaller file or a specific region",
	},
	NotAFile: {
		"the path must name a regular file, not a directory or device",
	},
	FSError: {
		"check that the file exists and is readable by this process",
	},
	UnknownError: {
		"check the server log on stderr for details",
	},
}

// Error is a classified failure. It wraps the underlying cause so
// errors.Is / errors.As keep working through the classification layer.
type Error struct {
	Category  Category `json:"category"`
	Code      Code     `json:"code"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	NextSteps []string `json:"next_steps,omitempty"`
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a classified error for code with the given message.
func New(code Code, msg string) *Error {
	return &Error{
		Category:  categoryOf(code),
		Code:      code,
		Message:   msg,
		Retryable: retryable[code],
		NextSteps: nextSteps[code],
	}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap classifies cause under code, preserving it for unwrapping.
func Wrap(code Code, msg string, cause error) *Error {
	e := New(code, msg)
	e.cause = cause
	return e
}

// WithContext returns a copy of e with extra context prepended to the
// message. Classification is unchanged; orchestration layers attach
// session or hypothesis identifiers this way instead of reclassifying.
func (e *Error) WithContext(context string) *Error {
	out := *e
	out.Message = context + ": " + e.Message
	return &out
}

func categoryOf(code Code) Category {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryUnknown
}

// substring heuristics for errors produced outside the core. Matched in
// order; the first hit wins so each error maps to exactly one code.
var heuristics = []struct {
	needles []string
	code    Code
}{
	{[]string{"rate limit", "too many requests", "429", "quota", "resource_exhausted", "resource exhausted"}, RateLimitError},
	{[]string{"api key", "unauthorized", "unauthenticated", "permission denied", "401", "403", "invalid authentication"}, APIAuthError},
	{[]string{"deadline exceeded", "context deadline", "timed out", "timeout"}, RateLimitError},
	{[]string{"no such file", "permission", "is a directory", "file does not exist"}, FSError},
}

// Classify maps any error onto the taxonomy. Already-classified errors
// pass through unchanged, so classification is idempotent.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	msg := strings.ToLower(err.Error())
	for _, h := range heuristics {
		for _, needle := range h.needles {
			if strings.Contains(msg, needle) {
				return Wrap(h.code, err.Error(), err)
			}
		}
	}
	return Wrap(UnknownError, err.Error(), err)
}

// IsCode reports whether err classifies to the given code.
func IsCode(err error, code Code) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == code
}
