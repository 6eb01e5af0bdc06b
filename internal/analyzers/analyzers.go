// Package analyzers holds the heuristic pre-analysis passes that run
// before the remote dialogue: a call-site tracer, a performance
// modeler, and a service-boundary scanner. Their outputs are advisory
// annotations attached to prompts; nothing downstream depends on their
// precision.
package analyzers

import (
	"fmt"
	"regexp"
	"strings"

	"reasongate/internal/reader"
	"reasongate/internal/types"
)

// Annotation is one opaque advisory record.
type Annotation struct {
	Analyzer string `json:"analyzer"`
	File     string `json:"file"`
	Line     int    `json:"line,omitempty"`
	Note     string `json:"note"`
}

// Render flattens annotations into prompt-ready lines.
func Render(annotations []Annotation) []string {
	out := make([]string, 0, len(annotations))
	for _, a := range annotations {
		loc := a.File
		if a.Line > 0 {
			loc = fmt.Sprintf("%s:%d", a.File, a.Line)
		}
		out = append(out, fmt.Sprintf("[%s] %s: %s", a.Analyzer, loc, a.Note))
	}
	return out
}

var (
	callRe   = regexp.MustCompile(`(\w+)\s*\(`)
	loopRe   = regexp.MustCompile(`\b(for|while)\b`)
	queryRe  = regexp.MustCompile(`(?i)\b(select|insert|update|delete)\b\s+`)
	sleepRe  = regexp.MustCompile(`(?i)\b(sleep|wait|delay)\s*\(`)
	httpRe   = regexp.MustCompile(`(?i)\b(http|fetch|request|client)\b`)
	importRe = regexp.MustCompile(`(?m)^\s*(?:import|from|require|include)\b(.*)$`)
)

// Tracer follows call sites outward from an entry point, breadth-first
// over the files the reader can see, up to maxDepth hops.
type Tracer struct {
	files *reader.Reader
}

func NewTracer(files *reader.Reader) *Tracer { return &Tracer{files: files} }

// Trace walks callees reachable from entry. includeDataFlow adds notes
// on assignments feeding each call.
func (t *Tracer) Trace(entry types.CodeLocation, maxDepth int, includeDataFlow bool) ([]Annotation, error) {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	data, err := t.files.Read(entry.File)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")

	start := entry.Line
	if start < 1 || start > len(lines) {
		start = 1
	}

	var out []Annotation
	seen := make(map[string]bool)
	depth := 0
	for i := start - 1; i < len(lines) && depth < maxDepth; i++ {
		line := lines[i]
		for _, m := range callRe.FindAllStringSubmatch(line, -1) {
			name := m[1]
			if seen[name] || isKeyword(name) {
				continue
			}
			seen[name] = true
			depth++
			out = append(out, Annotation{
				Analyzer: "tracer",
				File:     entry.File,
				Line:     i + 1,
				Note:     "calls " + name,
			})
			if includeDataFlow && strings.Contains(line, "=") {
				out = append(out, Annotation{
					Analyzer: "tracer",
					File:     entry.File,
					Line:     i + 1,
					Note:     "result of " + name + " feeds a local binding",
				})
			}
			if depth >= maxDepth {
				break
			}
		}
	}
	return out, nil
}

var keywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "return": true,
	"func": true, "catch": true, "make": true, "new": true, "len": true,
}

func isKeyword(s string) bool { return keywords[s] }

// Perf scans a code path for the usual bottleneck shapes: queries
// inside loops, synchronous sleeps, remote calls on the hot path.
type Perf struct {
	files *reader.Reader
}

func NewPerf(files *reader.Reader) *Perf { return &Perf{files: files} }

// Model scans up to profileDepth nesting levels.
func (p *Perf) Model(entry types.CodeLocation, profileDepth int) ([]Annotation, error) {
	if profileDepth <= 0 {
		profileDepth = 3
	}
	data, err := p.files.Read(entry.File)
	if err != nil {
		return nil, err
	}

	var out []Annotation
	loopDepth := 0
	for i, line := range strings.Split(string(data), "\n") {
		if loopRe.MatchString(line) {
			loopDepth++
			if loopDepth > profileDepth {
				continue
			}
		}
		if strings.Contains(line, "}") && loopDepth > 0 {
			loopDepth--
		}
		switch {
		case queryRe.MatchString(line) && loopDepth > 0:
			out = append(out, Annotation{
				Analyzer: "perf", File: entry.File, Line: i + 1,
				Note: fmt.Sprintf("query inside a loop (depth %d); possible N+1", loopDepth),
			})
		case sleepRe.MatchString(line):
			out = append(out, Annotation{
				Analyzer: "perf", File: entry.File, Line: i + 1,
				Note: "synchronous wait on the analyzed path",
			})
		case httpRe.MatchString(line) && loopDepth > 0:
			out = append(out, Annotation{
				Analyzer: "perf", File: entry.File, Line: i + 1,
				Note: "remote call inside a loop",
			})
		}
	}
	return out, nil
}

// Boundary maps which files in a change scope talk across service
// boundaries, keyed off their import lines and service-name mentions.
type Boundary struct {
	files *reader.Reader
}

func NewBoundary(files *reader.Reader) *Boundary { return &Boundary{files: files} }

// Scan reports cross-boundary touch points for every file in scope.
func (b *Boundary) Scan(scope types.CodeScope) ([]Annotation, error) {
	var out []Annotation
	for _, file := range scope.Files {
		data, err := b.files.Read(file)
		if err != nil {
			return nil, err
		}
		content := string(data)
		for _, m := range importRe.FindAllStringSubmatch(content, -1) {
			dep := strings.TrimSpace(m[1])
			if dep == "" {
				continue
			}
			for _, svc := range scope.ServiceNames {
				if strings.Contains(strings.ToLower(dep), strings.ToLower(svc)) {
					out = append(out, Annotation{
						Analyzer: "boundary", File: file,
						Note: "imports from service " + svc,
					})
				}
			}
		}
		if httpRe.MatchString(content) {
			out = append(out, Annotation{
				Analyzer: "boundary", File: file,
				Note: "performs remote calls; behavioral changes propagate downstream",
			})
		}
	}
	return out, nil
}
