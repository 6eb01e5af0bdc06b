package dialogue

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"reasongate/internal/faults"
)

// ExtractJSON returns the first balanced {...} substring of s. The scan
// respects string literals and escapes, so braces inside quoted values
// do not confuse the balance count. Greedy first-to-last matching is
// deliberately avoided: a stray opening brace earlier in the prose must
// not swallow the real object.
func ExtractJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				if inString {
					escaped = true
				}
			case '"':
				inString = !inString
			case '{':
				if !inString {
					depth++
				}
			case '}':
				if !inString {
					depth--
					if depth == 0 {
						return s[start : i+1], nil
					}
				}
			}
		}
		// Unbalanced from this opening brace; try the next one.
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return "", faults.New(faults.APIParseError, "no JSON object found in response")
}

// questionRe matches one sentence ending in a question mark.
var questionRe = regexp.MustCompile(`[^.!?\n]+\?`)

// topicalFollowUps supplement extracted questions when the response
// touches a known trouble area. Kept as data so triggers can be tuned.
var topicalFollowUps = []struct {
	triggers []string
	question string
}{
	{[]string{"async", "concurrent", "parallel", "goroutine", "race"},
		"Could the behavior depend on operation ordering or missing synchronization?"},
	{[]string{"database", "query", "sql"},
		"How does the behavior change with production-sized data volumes?"},
	{[]string{"cache", "caching", "memoiz"},
		"Could stale or missing cache entries explain the inconsistency?"},
	{[]string{"memory", "leak", "allocation"},
		"Does memory usage grow over time under sustained load?"},
}

// ExtractFollowUps collects up to max follow-up questions from a remote
// response: every sentence ending in "?" plus topical suggestions gated
// by keyword presence.
func ExtractFollowUps(response string, max int) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(q string) {
		q = strings.TrimSpace(q)
		if len(q) < 10 {
			return // stray fragment, not a question
		}
		if _, ok := seen[q]; ok {
			return
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}

	for _, m := range questionRe.FindAllString(response, -1) {
		add(m)
	}
	lower := strings.ToLower(response)
	for _, t := range topicalFollowUps {
		for _, trigger := range t.triggers {
			if strings.Contains(lower, trigger) {
				add(t.question)
				break
			}
		}
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// ParseListItems returns the text of every ordered or bulleted list item
// in md, in document order. Remote responses deliver hypotheses and
// reproduction steps as markdown lists; parsing the real AST instead of
// splitting lines keeps multi-line items intact.
func ParseListItems(md string) []string {
	source := []byte(md)
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	var items []string
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if _, ok := n.(*ast.ListItem); !ok {
			return ast.WalkContinue, nil
		}
		if item := strings.TrimSpace(string(blockText(n, source))); item != "" {
			items = append(items, item)
		}
		return ast.WalkSkipChildren, nil
	})
	return items
}

// blockText concatenates the source lines of n's direct block children.
func blockText(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		lines := c.Lines()
		if lines == nil {
			continue
		}
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if buf.Len() > 0 {
				buf.WriteByte(' ')
			}
			buf.Write(bytes.TrimSpace(seg.Value(source)))
		}
	}
	return buf.Bytes()
}

// FileRef is a file mention in a caller message, optionally with a line.
type FileRef struct {
	File string
	Line int
}

var fileRefRe = regexp.MustCompile(`\b(\w+\.\w+)(?::(\d+))?`)

// ExtractFileRefs finds filename mentions (name.ext or name.ext:line)
// in msg, deduplicated in order of first appearance.
func ExtractFileRefs(msg string) []FileRef {
	var refs []FileRef
	seen := make(map[string]struct{})
	for _, m := range fileRefRe.FindAllStringSubmatch(msg, -1) {
		key := m[0]
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ref := FileRef{File: m[1]}
		if m[2] != "" {
			ref.Line, _ = strconv.Atoi(m[2])
		}
		refs = append(refs, ref)
	}
	return refs
}
