package part

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pocketcode/chatcore/internal/diff"
)

// DiffStats returns the added/removed line counts of the diff a tool reported in its metadata. It reads metadata["diff"] (unified diff text) and falls back to
// metadata["filediff"] = {"before": ..., "after": ...}. ok is false when the tool reported no diff or the diff changes nothing.
func (t Tool) DiffStats() (diff.Stats, bool) {
	return DiffStatsFromMetadata(Metadata(t.State))
}

// DiffStatsFromMetadata is Tool.DiffStats for a bare metadata map.
func DiffStatsFromMetadata(md map[string]any) (diff.Stats, bool) {
	if md == nil {
		return diff.Stats{}, false
	}
	if text, ok := md["diff"].(string); ok {
		return diff.Summarize(text)
	}
	if fd, ok := md["filediff"].(map[string]any); ok {
		before, _ := fd["before"].(string)
		after, _ := fd["after"].(string)
		if before == after {
			return diff.Stats{}, false
		}
		s := diff.Compute(before, after).Stats()
		return s, s.Added > 0 || s.Removed > 0
	}
	return diff.Stats{}, false
}

// UnifiedDiff returns the unified diff a tool reported, rendering one from metadata["filediff"] when only before/after texts are present.
func UnifiedDiff(md map[string]any) string {
	if md == nil {
		return ""
	}
	if text, ok := md["diff"].(string); ok {
		return text
	}
	fd, ok := md["filediff"].(map[string]any)
	if !ok {
		return ""
	}
	before, _ := fd["before"].(string)
	after, _ := fd["after"].(string)
	file, _ := fd["file"].(string)
	return diff.Compute(before, after).Unified(false, "a/"+file, "b/"+file, 3)
}

// ToolGroup is the collapsed view of every call to one tool within a message.
type ToolGroup struct {
	Name     string
	Count    int
	Status   Status
	Stats    diff.Stats
	HasStats bool
}

// rank orders aggregate statuses: running first, then pending, error, completed.
func rank(s Status) int {
	switch s {
	case StatusRunning:
		return 0
	case StatusPending:
		return 1
	case StatusError:
		return 2
	default:
		return 3
	}
}

// Aggregate groups tools by ToolName. A group is Running if any call is running, else Pending if any is pending, else Error if any failed, else Completed. Groups
// are ordered by that status (running first) and then by name.
func Aggregate(tools []Tool) []ToolGroup {
	index := make(map[string]int)
	var groups []ToolGroup
	for _, t := range tools {
		i, ok := index[t.ToolName]
		if !ok {
			i = len(groups)
			index[t.ToolName] = i
			groups = append(groups, ToolGroup{Name: t.ToolName, Status: StatusCompleted})
		}
		g := &groups[i]
		g.Count++
		if s := t.Status(); rank(s) < rank(g.Status) {
			g.Status = s
		}
		if st, ok := t.DiffStats(); ok {
			g.Stats = g.Stats.Add(st)
			g.HasStats = true
		}
	}
	sort.SliceStable(groups, func(a, b int) bool {
		ra, rb := rank(groups[a].Status), rank(groups[b].Status)
		if ra != rb {
			return ra < rb
		}
		return groups[a].Name < groups[b].Name
	})
	return groups
}

// SummaryLine renders groups on one line, for example "◐ bash | ✓ read ×3 | ✓ edit +4 -1".
func SummaryLine(groups []ToolGroup) string {
	var b strings.Builder
	for i, g := range groups {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(g.Status.Icon())
		b.WriteByte(' ')
		b.WriteString(g.Name)
		if g.Count > 1 {
			b.WriteString(" ×")
			b.WriteString(strconv.Itoa(g.Count))
		}
		if g.HasStats {
			b.WriteByte(' ')
			b.WriteString(g.Stats.String())
		}
	}
	return b.String()
}

// Tools returns the Tool parts of parts in order.
func Tools(parts []Part) []Tool {
	var out []Tool
	for _, p := range parts {
		if t, ok := p.(Tool); ok {
			out = append(out, t)
		}
	}
	return out
}
