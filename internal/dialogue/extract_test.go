package dialogue

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"reasongate/internal/faults"
)

func TestExtractJSONPlain(t *testing.T) {
	got, err := ExtractJSON(`{"a":1}`)
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSONInProse(t *testing.T) {
	got, err := ExtractJSON(`the answer is {"a":{"b":2}} and some trailing text {"c":3}`)
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"a":{"b":2}}` {
		t.Fatalf("got %q, want first balanced object", got)
	}
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	in := `note {"msg":"closing } and opening { inside","esc":"quote \" here"} done`
	got, err := ExtractJSON(in)
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"msg":"closing } and opening { inside","esc":"quote \" here"}` {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSONSkipsUnbalancedBrace(t *testing.T) {
	got, err := ExtractJSON(`stray { here then {"ok":true}`)
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"ok":true}` {
		t.Fatalf("got %q, want the balanced object after the stray brace", got)
	}
}

func TestExtractJSONNone(t *testing.T) {
	_, err := ExtractJSON("no structure here at all")
	if !faults.IsCode(err, faults.APIParseError) {
		t.Fatalf("expected API_PARSE_ERROR, got %v", err)
	}
}

func TestExtractFollowUpsFromQuestions(t *testing.T) {
	resp := "The handler looks fine. What does the upstream send on retry? " +
		"Also, is the connection pool shared across workers?"
	got := ExtractFollowUps(resp, 3)
	want := []string{
		"What does the upstream send on retry?",
		"Also, is the connection pool shared across workers?",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("follow-ups mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractFollowUpsTopical(t *testing.T) {
	got := ExtractFollowUps("The workers run concurrent writes against the database.", 3)
	if len(got) != 2 {
		t.Fatalf("got %v, want the synchronization and data-volume questions", got)
	}
}

func TestExtractFollowUpsCapped(t *testing.T) {
	resp := "First question here? Second question here? Third question here? Fourth question here?"
	if got := ExtractFollowUps(resp, 3); len(got) != 3 {
		t.Fatalf("got %d follow-ups, want cap of 3", len(got))
	}
}

func TestParseListItems(t *testing.T) {
	md := `Intro line.

1. The cache returns stale entries.
   Approach: add a version check.
2. The pool is exhausted under load.

- check the retry budget
- check the timeout
`
	got := ParseListItems(md)
	want := []string{
		"The cache returns stale entries. Approach: add a version check.",
		"The pool is exhausted under load.",
		"check the retry budget",
		"check the timeout",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("list items mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractFileRefs(t *testing.T) {
	refs := ExtractFileRefs("look at manager.go:42 and also server.go, then manager.go:42 again")
	want := []FileRef{{File: "manager.go", Line: 42}, {File: "server.go"}}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Fatalf("refs mismatch (-want +got):\n%s", diff)
	}
}
