package reader

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"reasongate/internal/faults"
)

func testReader(t *testing.T) (*Reader, string) {
	t.Helper()
	root := t.TempDir()
	r, err := New(root, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, root
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestReadWithinRoot(t *testing.T) {
	r, root := testReader(t)
	writeFile(t, filepath.Join(root, "main.go"), []byte("package main\n"))

	data, err := r.Read("main.go")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, []byte("package main\n")) {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	r, _ := testReader(t)
	for _, p := range []string{"../outside", "../../etc/passwd", "a/../../b.go", "/etc/passwd"} {
		_, err := r.Read(p)
		if !faults.IsCode(err, faults.PathTraversal) {
			t.Errorf("Read(%q): got %v, want PATH_TRAVERSAL", p, err)
		}
	}
}

func TestExtensionAllowList(t *testing.T) {
	r, root := testReader(t)
	writeFile(t, filepath.Join(root, "core.bin"), []byte{1, 2, 3})

	_, err := r.Read("core.bin")
	if !faults.IsCode(err, faults.InvalidFileType) {
		t.Fatalf("got %v, want INVALID_FILE_TYPE", err)
	}
}

func TestSizeCap(t *testing.T) {
	r, root := testReader(t)
	big := make([]byte, MaxFileSize+1)
	writeFile(t, filepath.Join(root, "big.txt"), big)

	_, err := r.Read("big.txt")
	if !faults.IsCode(err, faults.FileTooLarge) {
		t.Fatalf("got %v, want FILE_TOO_LARGE", err)
	}
}

func TestDirectoryRejected(t *testing.T) {
	r, root := testReader(t)
	if err := os.Mkdir(filepath.Join(root, "pkg.go"), 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := r.Read("pkg.go")
	if !faults.IsCode(err, faults.NotAFile) {
		t.Fatalf("got %v, want NOT_A_FILE", err)
	}
}

func TestMissingFile(t *testing.T) {
	r, _ := testReader(t)
	_, err := r.Read("absent.go")
	if !faults.IsCode(err, faults.FSError) {
		t.Fatalf("got %v, want FS_ERROR", err)
	}
}

func TestCacheServesSecondRead(t *testing.T) {
	r, root := testReader(t)
	path := filepath.Join(root, "cached.go")
	writeFile(t, path, []byte("v1"))

	if _, err := r.Read("cached.go"); err != nil {
		t.Fatal(err)
	}
	// Change on disk; the cache should still answer.
	writeFile(t, path, []byte("v2"))
	data, err := r.Read("cached.go")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Fatalf("expected cached v1, got %q", data)
	}

	r.ClearCache()
	data, err = r.Read("cached.go")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v2" {
		t.Fatalf("expected fresh v2 after ClearCache, got %q", data)
	}
}

func TestSetRootInvalidatesCache(t *testing.T) {
	r, root := testReader(t)
	writeFile(t, filepath.Join(root, "a.go"), []byte("a"))
	if _, err := r.Read("a.go"); err != nil {
		t.Fatal(err)
	}

	other := t.TempDir()
	if err := r.SetRoot(other); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read("a.go"); !faults.IsCode(err, faults.FSError) {
		t.Fatalf("expected FS_ERROR after root change, got %v", err)
	}
}

func TestSetRootRequiresAbsolute(t *testing.T) {
	r, _ := testReader(t)
	if err := r.SetRoot("relative/root"); !faults.IsCode(err, faults.FSError) {
		t.Fatalf("got %v, want FS_ERROR", err)
	}
}

func TestFindRelated(t *testing.T) {
	r, root := testReader(t)
	for _, name := range []string{"user.go", "user_test.go", "userService.go", "user.spec.ts", "order.go"} {
		writeFile(t, filepath.Join(root, name), []byte("x"))
	}

	related, err := r.FindRelated("user.go")
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	got := make(map[string]bool)
	for _, p := range related {
		got[filepath.Base(p)] = true
	}
	for _, want := range []string{"user_test.go", "userService.go", "user.spec.ts"} {
		if !got[want] {
			t.Errorf("FindRelated missing %s (got %v)", want, related)
		}
	}
	if got["order.go"] {
		t.Error("FindRelated should not include unrelated order.go")
	}
}

func TestValidatePathReturnsAbsolute(t *testing.T) {
	r, root := testReader(t)
	abs, err := r.ValidatePath("sub/file.go")
	if err != nil {
		t.Fatal(err)
	}
	if abs != filepath.Join(root, "sub", "file.go") {
		t.Fatalf("unexpected resolved path %q", abs)
	}
}
