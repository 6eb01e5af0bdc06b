// Package reader is the only component that touches the file system.
// It confines reads to the configured project root, enforces an
// extension allow-list and a size cap, and caches content so repeated
// prompt assembly does not re-read files.
package reader

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"reasongate/internal/faults"
)

// MaxFileSize is the largest regular file the reader will return.
const MaxFileSize = 10 << 20 // 10 MiB

// allowedExtensions covers source, config, and documentation files.
var allowedExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rb": true, ".java": true, ".kt": true, ".scala": true,
	".rs": true, ".c": true, ".h": true, ".cpp": true, ".hpp": true,
	".cc": true, ".cs": true, ".php": true, ".swift": true, ".m": true,
	".sql": true, ".proto": true, ".graphql": true, ".sh": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true,
	".md": true, ".txt": true, ".rst": true, ".html": true, ".css": true,
}

// relatedSuffixes are the well-known companions FindRelated looks for
// next to a base file.
var relatedSuffixes = []string{"test", "spec", "Service", "Controller", "Client"}

// Reader validates and caches file reads under a single project root.
type Reader struct {
	mu    sync.Mutex
	root  string
	cache map[string][]byte
	log   *zap.Logger
}

// New creates a Reader rooted at the absolute path root.
func New(root string, log *zap.Logger) (*Reader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reader{log: log}
	if err := r.SetRoot(root); err != nil {
		return nil, err
	}
	return r, nil
}

// SetRoot changes the project root and drops the cache.
func (r *Reader) SetRoot(root string) error {
	if !filepath.IsAbs(root) {
		return faults.Newf(faults.FSError, "project root %q is not absolute", root)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = filepath.Clean(root)
	r.cache = make(map[string][]byte)
	return nil
}

// Root returns the current project root.
func (r *Reader) Root() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// ClearCache drops all cached content.
func (r *Reader) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string][]byte)
}

// ValidatePath resolves path against the project root and rejects
// anything that escapes it. The returned path is absolute and clean.
func (r *Reader) ValidatePath(path string) (string, error) {
	r.mu.Lock()
	root := r.root
	r.mu.Unlock()

	if strings.ContainsRune(path, 0) {
		return "", faults.Newf(faults.PathTraversal, "path contains NUL byte")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)
	// Clean resolves interior .. segments; any survivor or an escape of
	// the root is a traversal attempt.
	for _, seg := range strings.Split(abs, string(filepath.Separator)) {
		if seg == ".." {
			return "", faults.Newf(faults.PathTraversal, "path %q escapes the project root", path)
		}
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", faults.Newf(faults.PathTraversal, "path %q resolves outside the project root", path)
	}
	return abs, nil
}

// Read returns the content of path after validating confinement,
// extension, and size. Content is cached keyed by the requested path.
func (r *Reader) Read(path string) ([]byte, error) {
	r.mu.Lock()
	if data, ok := r.cache[path]; ok {
		r.mu.Unlock()
		return data, nil
	}
	r.mu.Unlock()

	abs, err := r.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(abs))
	if !allowedExtensions[ext] {
		return nil, faults.Newf(faults.InvalidFileType, "extension %q is not readable", ext)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, faults.Wrap(faults.FSError, "file does not exist: "+path, err)
		}
		return nil, faults.Wrap(faults.FSError, "stat "+path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, faults.Newf(faults.NotAFile, "%q is not a regular file", path)
	}
	if info.Size() > MaxFileSize {
		return nil, faults.Newf(faults.FileTooLarge, "%q is %d bytes; limit is %d", path, info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, faults.Wrap(faults.FSError, "read "+path, err)
	}

	r.mu.Lock()
	r.cache[path] = data
	r.mu.Unlock()
	r.log.Debug("file read", zap.String("path", abs), zap.Int("bytes", len(data)))
	return data, nil
}

// ReadAll reads every path in files, returning a map of path to content.
// The first failure aborts the batch.
func (r *Reader) ReadAll(files []string) (map[string]string, error) {
	out := make(map[string]string, len(files))
	for _, f := range files {
		data, err := r.Read(f)
		if err != nil {
			return nil, err
		}
		out[f] = string(data)
	}
	return out, nil
}

// FindRelated lists sibling files in base's directory whose names share
// base's stem or carry a well-known companion suffix. All results stay
// inside the project root.
func (r *Reader) FindRelated(base string) ([]string, error) {
	abs, err := r.ValidatePath(base)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, faults.Wrap(faults.FSError, "list "+dir, err)
	}

	var related []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == filepath.Base(abs) {
			continue
		}
		entryStem := strings.TrimSuffix(name, filepath.Ext(name))
		if matchesRelated(entryStem, stem) {
			related = append(related, filepath.Join(dir, name))
		}
	}
	return related, nil
}

func matchesRelated(candidate, stem string) bool {
	if strings.HasPrefix(candidate, stem) || strings.HasPrefix(stem, candidate) {
		return true
	}
	for _, suffix := range relatedSuffixes {
		if candidate == stem+"_"+suffix || candidate == stem+"."+suffix || candidate == stem+suffix {
			return true
		}
		if stem == candidate+"_"+suffix || stem == candidate+"."+suffix || stem == candidate+suffix {
			return true
		}
	}
	return false
}
