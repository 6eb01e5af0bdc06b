package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNewAssignsCategory(t *testing.T) {
	cases := []struct {
		code Code
		want Category
	}{
		{SessionLocked, CategorySession},
		{RateLimitError, CategoryAPI},
		{PathTraversal, CategoryFilesystem},
		{UnknownError, CategoryUnknown},
	}
	for _, c := range cases {
		e := New(c.code, "x")
		if e.Category != c.want {
			t.Errorf("New(%s): category = %s, want %s", c.code, e.Category, c.want)
		}
	}
}

func TestRetryableFlags(t *testing.T) {
	if !New(SessionLocked, "x").Retryable {
		t.Error("SESSION_LOCKED should be retryable")
	}
	if !New(RateLimitError, "x").Retryable {
		t.Error("RATE_LIMIT_ERROR should be retryable")
	}
	for _, code := range []Code{PathTraversal, APIAuthError, UnknownError, SessionNotFound} {
		if New(code, "x").Retryable {
			t.Errorf("%s should not be retryable", code)
		}
	}
}

func TestClassifyHeuristics(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{errors.New("googleapi: Error 429: too many requests"), RateLimitError},
		{errors.New("request failed: 401 Unauthorized"), APIAuthError},
		{errors.New("invalid API key provided"), APIAuthError},
		{context.DeadlineExceeded, RateLimitError},
		{errors.New("open /etc/x: no such file or directory"), FSError},
		{errors.New("something inexplicable"), UnknownError},
	}
	for _, c := range cases {
		got := Classify(c.err)
		if got.Code != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.err, got.Code, c.want)
		}
	}
}

func TestClassifyIdempotent(t *testing.T) {
	orig := New(FileTooLarge, "file is 11 MiB")
	again := Classify(fmt.Errorf("reading focus area: %w", orig))
	if again.Code != FileTooLarge || again.Category != CategoryFilesystem {
		t.Fatalf("classification changed through wrapping: %+v", again)
	}
	if Classify(again) != again {
		t.Fatal("classifying a classified error should be the identity")
	}
}

func TestNextStepsBounded(t *testing.T) {
	for code, steps := range nextSteps {
		if len(steps) == 0 || len(steps) > 4 {
			t.Errorf("%s: %d next steps, want 1-4", code, len(steps))
		}
	}
}

func TestWithContextKeepsCode(t *testing.T) {
	e := New(SessionLocked, "held by another caller").WithContext("session abc123")
	if e.Code != SessionLocked {
		t.Fatalf("WithContext changed code to %s", e.Code)
	}
	if e.Message != "session abc123: held by another caller" {
		t.Fatalf("unexpected message %q", e.Message)
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("tournament round 2: %w", New(RateLimitError, "throttled"))
	if !IsCode(err, RateLimitError) {
		t.Fatal("IsCode should see through fmt.Errorf wrapping")
	}
	if IsCode(err, SessionLocked) {
		t.Fatal("IsCode matched the wrong code")
	}
}
