package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Op is an operation from old text to new text.
type Op int

// Operations from old text to new text.
const (
	OpEqual Op = iota
	OpInsert
	OpDelete
	OpReplace
)

// Diff is a line diff from OldText to NewText.
//
// Invariants:
//   - concat(Changes.OldLines) == OldText
//   - concat(Changes.NewLines) == NewText
//   - adjacent Changes never share an Op
type Diff struct {
	OldText string
	NewText string
	Changes []Change
}

// Change is a run of whole lines. Lines keep their trailing '\n' when the input had one.
//   - OpEqual: OldLines and NewLines are identical.
//   - OpInsert: OldLines is empty.
//   - OpDelete: NewLines is empty.
//   - OpReplace: both are non-empty.
type Change struct {
	Op       Op
	OldLines []string
	NewLines []string
}

// HasChanges reports whether d contains any non-equal Change.
func (d Diff) HasChanges() bool {
	for _, c := range d.Changes {
		if c.Op != OpEqual {
			return true
		}
	}
	return false
}

// Compute diffs oldText to newText line by line.
func Compute(oldText, newText string) Diff {
	dmp := diffmatchpatch.New()
	rOld, rNew, lineArray := dmp.DiffLinesToRunes(oldText, newText)
	lineDiffs := dmp.DiffMainRunes(rOld, rNew, false)
	lineDiffs = dmp.DiffCleanupMerge(lineDiffs)

	decode := func(s string) []string {
		if s == "" {
			return nil
		}
		out := make([]string, 0, len(s))
		for _, r := range s {
			idx := int(r)
			if idx >= 0 && idx < len(lineArray) {
				out = append(out, lineArray[idx])
			}
		}
		return out
	}

	var changes []Change
	var dels, ins []string

	flush := func() {
		if len(dels) == 0 && len(ins) == 0 {
			return
		}
		op := OpInsert
		switch {
		case len(dels) > 0 && len(ins) > 0:
			op = OpReplace
		case len(dels) > 0:
			op = OpDelete
		}
		changes = append(changes, Change{Op: op, OldLines: dels, NewLines: ins})
		dels, ins = nil, nil
	}

	for _, d := range lineDiffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			eq := decode(d.Text)
			if len(eq) == 0 {
				continue
			}
			changes = append(changes, Change{Op: OpEqual, OldLines: eq, NewLines: eq})
		case diffmatchpatch.DiffDelete:
			dels = append(dels, decode(d.Text)...)
		case diffmatchpatch.DiffInsert:
			ins = append(ins, decode(d.Text)...)
		}
	}
	flush()

	return Diff{OldText: oldText, NewText: newText, Changes: changes}
}

// Stats counts the lines d removes and adds.
func (d Diff) Stats() Stats {
	var s Stats
	for _, c := range d.Changes {
		if c.Op == OpEqual {
			continue
		}
		s.Added += len(c.NewLines)
		s.Removed += len(c.OldLines)
	}
	return s
}

func trimEOL(line string) string {
	return strings.TrimSuffix(line, "\n")
}
