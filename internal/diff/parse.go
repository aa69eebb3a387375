package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// LineType classifies one line of a unified diff.
type LineType int

const (
	LineContext LineType = iota
	LineAdded
	LineRemoved
	LineHeader
)

func (t LineType) String() string {
	switch t {
	case LineContext:
		return "context"
	case LineAdded:
		return "added"
	case LineRemoved:
		return "removed"
	case LineHeader:
		return "header"
	default:
		return "LineType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Line is one classified line of a unified diff. Content has the diff marker removed (Header lines carry the raw "@@" text). Number is the line's position in
// the new file and is only meaningful when HasNumber is true.
type Line struct {
	Type      LineType
	Content   string
	Number    int
	HasNumber bool
}

// Hunk is the set of lines that follow one "@@" header. File is the path recovered from the preceding "---"/"+++" headers ("" if there were none).
type Hunk struct {
	File      string
	StartLine int
	Lines     []Line
}

// Stats counts added and removed lines.
type Stats struct {
	Added   int
	Removed int
}

// hunkHeaderRE matches "@@ -a[,b] +c" and captures c.
var hunkHeaderRE = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)`)

// scanner walks a unified diff and classifies lines. The zero value is ready to use.
type scanner struct {
	counter  int
	numbered bool // true once any hunk header has parsed

	oldFile string
	newFile string
}

type scanResult struct {
	line     Line
	keep     bool // false for file headers and "\ No newline" markers
	newHunk  bool
	hunkFile string
	start    int
}

func (s *scanner) next(raw string) scanResult {
	switch {
	case strings.HasPrefix(raw, "@@"):
		// A header that does not parse leaves the counter where the previous hunk left it.
		if m := hunkHeaderRE.FindStringSubmatch(raw); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				s.counter = n
				s.numbered = true
			}
		}
		start := 0
		if s.numbered {
			start = s.counter
		}
		file := s.oldFile
		if file == "" || file == "/dev/null" {
			file = s.newFile
		}
		return scanResult{line: Line{Type: LineHeader, Content: raw}, keep: true, newHunk: true, hunkFile: file, start: start}

	case strings.HasPrefix(raw, "+++"):
		s.newFile = headerPath(raw[3:], "b/")
		return scanResult{}

	case strings.HasPrefix(raw, "---"):
		// A new file section starts; forget the previous pair.
		s.oldFile = headerPath(raw[3:], "a/")
		s.newFile = ""
		return scanResult{}

	case strings.HasPrefix(raw, "+"):
		ln := Line{Type: LineAdded, Content: raw[1:]}
		s.number(&ln)
		return scanResult{line: ln, keep: true}

	case strings.HasPrefix(raw, "-"):
		return scanResult{line: Line{Type: LineRemoved, Content: raw[1:]}, keep: true}

	case strings.HasPrefix(raw, `\`):
		// "\ No newline at end of file" describes the previous line.
		return scanResult{}

	default:
		ln := Line{Type: LineContext, Content: strings.TrimPrefix(raw, " ")}
		s.number(&ln)
		return scanResult{line: ln, keep: true}
	}
}

func (s *scanner) number(ln *Line) {
	if !s.numbered {
		return
	}
	ln.Number = s.counter
	ln.HasNumber = true
	s.counter++
}

// headerPath extracts the path from the remainder of a "---"/"+++" line, dropping a git-style prefix and any trailing timestamp.
func headerPath(rest, prefix string) string {
	p := strings.TrimSpace(rest)
	if i := strings.IndexByte(p, '\t'); i >= 0 {
		p = p[:i]
	}
	return strings.TrimPrefix(p, prefix)
}

// splitLines splits text on '\n'. A trailing newline does not produce an extra empty line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

// Parse classifies each line of diffText. File headers are dropped. Lines before the first valid "@@" header are not numbered; a malformed header continues
// the previous hunk's numbering.
func Parse(diffText string) []Line {
	var s scanner
	var out []Line
	for _, raw := range splitLines(diffText) {
		r := s.next(raw)
		if r.keep {
			out = append(out, r.line)
		}
	}
	return out
}

// Summarize counts Added and Removed lines in diffText. ok is false when both counts are zero, which callers treat as "this output carries no diff".
func Summarize(diffText string) (stats Stats, ok bool) {
	for _, raw := range splitLines(diffText) {
		switch {
		case strings.HasPrefix(raw, "+++"), strings.HasPrefix(raw, "---"):
		case strings.HasPrefix(raw, "+"):
			stats.Added++
		case strings.HasPrefix(raw, "-"):
			stats.Removed++
		}
	}
	return stats, stats.Added > 0 || stats.Removed > 0
}

// GroupByHunk splits diffText on each "@@" header. Each Hunk's Lines start with its Header line. Lines that appear before any header are collected into a leading
// Hunk with StartLine 0.
func GroupByHunk(diffText string) []Hunk {
	var s scanner
	var out []Hunk
	for _, raw := range splitLines(diffText) {
		r := s.next(raw)
		if !r.keep {
			continue
		}
		if r.newHunk {
			out = append(out, Hunk{File: r.hunkFile, StartLine: r.start})
		} else if len(out) == 0 {
			out = append(out, Hunk{})
		}
		h := &out[len(out)-1]
		h.Lines = append(h.Lines, r.line)
	}
	return out
}

// Add returns the sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{Added: s.Added + o.Added, Removed: s.Removed + o.Removed}
}

// String formats s as "+a -r".
func (s Stats) String() string {
	return "+" + strconv.Itoa(s.Added) + " -" + strconv.Itoa(s.Removed)
}
