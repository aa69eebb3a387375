package diff

import (
	"fmt"
	"strings"
)

type outLine struct {
	tag  byte // ' ', '+', '-'
	text string
}

// flatten expands d into unified-diff body lines. Replacements are emitted as all '-' lines followed by all '+' lines.
func (d Diff) flatten() []outLine {
	var lines []outLine
	for _, c := range d.Changes {
		switch c.Op {
		case OpEqual:
			for _, l := range c.OldLines {
				lines = append(lines, outLine{tag: ' ', text: trimEOL(l)})
			}
		default:
			for _, l := range c.OldLines {
				lines = append(lines, outLine{tag: '-', text: trimEOL(l)})
			}
			for _, l := range c.NewLines {
				lines = append(lines, outLine{tag: '+', text: trimEOL(l)})
			}
		}
	}
	return lines
}

// Unified renders d as a unified diff with contextSize lines of context around each change. Two changes separated by at most 2*contextSize unchanged lines share
// a hunk. If color, ANSI colors are added; uncolored output round-trips through Parse. An unchanged Diff renders as "".
func (d Diff) Unified(color bool, fromFilename, toFilename string, contextSize int) string {
	const (
		reset    = "\x1b[0m"
		red      = "\x1b[31m"
		green    = "\x1b[32m"
		magenta  = "\x1b[35m"
		cyanBold = "\x1b[1;36m"
	)
	colorize := func(s, code string) string {
		if !color {
			return s
		}
		return code + s + reset
	}

	if !d.HasChanges() {
		return ""
	}
	if contextSize < 0 {
		contextSize = 0
	}

	lines := d.flatten()

	// oldBefore[k]/newBefore[k]: number of old/new lines in lines[:k].
	oldBefore := make([]int, len(lines)+1)
	newBefore := make([]int, len(lines)+1)
	for k, l := range lines {
		oldBefore[k+1] = oldBefore[k]
		newBefore[k+1] = newBefore[k]
		if l.tag != '+' {
			oldBefore[k+1]++
		}
		if l.tag != '-' {
			newBefore[k+1]++
		}
	}

	out := []string{
		colorize("--- "+fromFilename, cyanBold),
		colorize("+++ "+toFilename, cyanBold),
	}

	i := 0
	for i < len(lines) {
		if lines[i].tag == ' ' {
			i++
			continue
		}

		start := max(i-contextSize, 0)

		// end is one past the last change in this hunk.
		end := i + 1
		for j := i + 1; j < len(lines); j++ {
			if lines[j].tag != ' ' {
				end = j + 1
				continue
			}
			if j-end+1 > 2*contextSize {
				break
			}
		}
		stop := min(end+contextSize, len(lines))

		oldCount := oldBefore[stop] - oldBefore[start]
		newCount := newBefore[stop] - newBefore[start]
		header := fmt.Sprintf("@@ -%d,%d +%d,%d @@", rangeStart(oldBefore[start], oldCount), oldCount, rangeStart(newBefore[start], newCount), newCount)
		out = append(out, colorize(header, magenta))

		for _, l := range lines[start:stop] {
			s := string(l.tag) + l.text
			switch l.tag {
			case '+':
				out = append(out, colorize(s, green))
			case '-':
				out = append(out, colorize(s, red))
			default:
				out = append(out, s)
			}
		}
		i = stop
	}

	return strings.Join(out, "\n") + "\n"
}

// rangeStart returns the 1-based start of a hunk range. Empty ranges point at the line before the range, following GNU diff.
func rangeStart(before, count int) int {
	if count == 0 {
		return before
	}
	return before + 1
}
