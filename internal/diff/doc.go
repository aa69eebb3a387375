// Package diff analyzes unified diffs produced by agent tools and computes line diffs between two texts.
//
// Parsing: Parse classifies every line of a unified diff as a hunk header, an added line, a removed line, or context. Added and context lines that follow an
// "@@ -a,b +c,d @@" header are numbered in the new file starting at c; removed lines are never numbered. File headers ("--- a/x", "+++ b/x") are dropped from
// the line stream but recovered by GroupByHunk. Parsing is best effort: malformed input never panics, and lines outside any hunk are unnumbered context.
//
//	stats, ok := diff.Summarize(text) // ok is false when nothing was added or removed
//	for _, h := range diff.GroupByHunk(text) {
//		fmt.Println(h.File, h.StartLine, len(h.Lines))
//	}
//
// Computing: Compute produces a line-level Diff between an old and a new text. Its changes, concatenated, reconstruct both sides. Diff.Unified renders it as a
// standard unified diff, which can be fed back into Parse.
//
// Newlines: '\n' is the line separator. A trailing "\r" is kept as part of the line content.
package diff
