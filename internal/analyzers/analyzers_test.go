package analyzers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reasongate/internal/reader"
	"reasongate/internal/types"
)

func testReader(t *testing.T, files map[string]string) *reader.Reader {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	rd, err := reader.New(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	return rd
}

func TestTracerFindsCallSites(t *testing.T) {
	rd := testReader(t, map[string]string{
		"handler.go": "package h\n\nfunc Handle() {\n\tuser := loadUser(id)\n\trender(user)\n}\n",
	})
	tr := NewTracer(rd)

	got, err := tr.Trace(types.CodeLocation{File: "handler.go", Line: 3}, 10, true)
	if err != nil {
		t.Fatal(err)
	}
	var notes []string
	for _, a := range got {
		notes = append(notes, a.Note)
	}
	joined := strings.Join(notes, "; ")
	if !strings.Contains(joined, "calls loadUser") || !strings.Contains(joined, "calls render") {
		t.Fatalf("annotations = %v", notes)
	}
	if !strings.Contains(joined, "loadUser feeds a local binding") {
		t.Fatalf("data-flow note missing: %v", notes)
	}
}

func TestTracerRespectsDepth(t *testing.T) {
	rd := testReader(t, map[string]string{
		"deep.go": "package d\nfunc f() {\n\ta()\n\tb()\n\tc()\n\td()\n}\n",
	})
	got, err := NewTracer(rd).Trace(types.CodeLocation{File: "deep.go", Line: 2}, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("annotations = %d, want depth cap of 2", len(got))
	}
}

func TestPerfFlagsQueryInLoop(t *testing.T) {
	rd := testReader(t, map[string]string{
		"repo.py": "def load(ids):\n    for i in ids:\n        row = db.execute(\"SELECT * FROM users WHERE id=?\", i)\n    sleep(1)\n",
	})
	got, err := NewPerf(rd).Model(types.CodeLocation{File: "repo.py"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	var sawN1, sawSleep bool
	for _, a := range got {
		if strings.Contains(a.Note, "N+1") {
			sawN1 = true
		}
		if strings.Contains(a.Note, "synchronous wait") {
			sawSleep = true
		}
	}
	if !sawN1 || !sawSleep {
		t.Fatalf("annotations = %+v, want N+1 and wait flags", got)
	}
}

func TestBoundaryFlagsServiceImports(t *testing.T) {
	rd := testReader(t, map[string]string{
		"client.ts": "import { call } from \"billing-client\";\nexport const f = () => http.get(\"/v1/x\");\n",
	})
	got, err := NewBoundary(rd).Scan(types.CodeScope{
		Files:        []string{"client.ts"},
		ServiceNames: []string{"billing"},
	})
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(Render(got), "; ")
	if !strings.Contains(joined, "imports from service billing") {
		t.Fatalf("annotations = %v", Render(got))
	}
	if !strings.Contains(joined, "remote calls") {
		t.Fatalf("annotations = %v", Render(got))
	}
}
