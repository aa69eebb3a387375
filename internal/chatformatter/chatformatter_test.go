package chatformatter

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketcode/chatcore/internal/conversation"
	"github.com/pocketcode/chatcore/internal/message"
	"github.com/pocketcode/chatcore/internal/part"
	"github.com/pocketcode/chatcore/internal/permission"
	"github.com/pocketcode/chatcore/internal/tiplist"
	"github.com/pocketcode/chatcore/internal/tooldesc"
)

func plain() *Formatter {
	return New(Config{PlainText: true})
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "", sanitizeText(""))
	assert.Equal(t, "a    b\\x1B[31m\n", sanitizeText("a\tb\x1b[31m\r\n"))
	assert.Equal(t, "x�y", sanitizeText("x\xffy"))
}

func TestWrap(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	assert.Equal(t, []string{"• the quick brown fox jumps over", "  the lazy dog"}, wrap(text, 32, "• ", "  "))

	// Narrow terminals are not wrapped.
	assert.Equal(t, []string{"• " + text}, wrap(text, 20, "• ", "  "))

	long := strings.Repeat("x", 40)
	assert.Equal(t, []string{"• " + strings.Repeat("x", 30), "  " + strings.Repeat("x", 10)}, wrap(long, 32, "• ", "  "))

	assert.Equal(t, []string{"• a", "  ", "  b"}, wrap("a\n\nb", 80, "• ", "  "))
}

func TestFormatText(t *testing.T) {
	f := plain()
	assert.Equal(t, "• Hello\n  world", f.FormatPart(part.NewText("prt_1", "Hello\nworld\n", false), 80))
	assert.Equal(t, "", f.FormatPart(part.NewText("prt_2", "  \n", false), 80))
}

func TestFormatToolCompleted(t *testing.T) {
	tool := part.Tool{
		CallID:   "call_1",
		ToolName: "bash",
		Input:    json.RawMessage(`{"command":"ls -la"}`),
		State:    part.Completed{Output: "a\nb\n"},
	}
	assert.Equal(t, "✓ bash ls -la\n  └ a\n    b", plain().FormatPart(tool, 80))
}

func TestFormatToolOutputIsTruncated(t *testing.T) {
	tool := part.Tool{CallID: "call_1", ToolName: "bash", State: part.Completed{Output: "1\n2\n3\n4\n5\n6\n7"}}
	got := plain().FormatPart(tool, 80)
	assert.Equal(t, "✓ bash\n  └ 1\n    2\n    3\n    4\n    5\n    … +2 lines", got)
}

func TestFormatToolErrorWithDiff(t *testing.T) {
	tool := part.Tool{
		CallID:   "call_1",
		ToolName: "edit",
		Input:    json.RawMessage(`{"filePath":"/repo/main.go"}`),
		State:    part.Error{Message: "boom", Metadata: map[string]any{"diff": "@@ -1 +1 @@\n-a\n+b\n"}},
	}
	assert.Equal(t, "✗ edit main.go +1 -1\n  └ Error: boom", plain().FormatPart(tool, 80))
}

func TestFormatToolRunningUsesTitle(t *testing.T) {
	tool := part.Tool{CallID: "call_1", ToolName: "mcp_thing", State: part.Running{Title: "Doing things"}}
	assert.Equal(t, "◐ mcp_thing Doing things", plain().FormatPart(tool, 80))
}

func TestFormatToolCustomRegistry(t *testing.T) {
	r := tooldesc.NewRegistry()
	r.Set("deploy", tooldesc.Rule{Icon: tooldesc.IconTerminal, Summary: tooldesc.Summary{Mode: tooldesc.ModeText, Fields: []string{"env"}}})
	f := New(Config{PlainText: true, Registry: r})
	tool := part.Tool{CallID: "call_1", ToolName: "deploy", Input: json.RawMessage(`{"env":"prod"}`), State: part.Pending{}}
	assert.Equal(t, "○ deploy prod", f.FormatPart(tool, 80))
}

func TestFormatOtherParts(t *testing.T) {
	f := plain()
	cost := 0.0125
	dur := int64(1500)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		p    part.Part
		want string
	}{
		{"step start", part.StepStart{ID: "s"}, ""},
		{"snapshot", part.Snapshot{ID: "s"}, ""},
		{"step finish", part.StepFinish{Reason: "stop", TokensIn: 10, TokensOut: 5, Cost: &cost, DurationMs: &dur}, "Step finished: reason=stop input=10 output=5 cost=$0.0125 duration=1.5s"},
		{"retry", part.Retry{Attempt: 2, ErrorMessage: "rate limited"}, "Retry: attempt 2: rate limited"},
		{"compaction", part.Compaction{IsAutomatic: true}, "• Compacted conversation (automatic)"},
		{"agent", part.Agent{FromAgent: "build", ToAgent: "plan"}, "• Agent: build → plan"},
		{"file", part.File{Filename: "a.png", MimeType: "image/png"}, "• Attached a.png (image/png)"},
		{"patch", part.Patch{Hash: "0123456789abcdef", Files: []string{"a.go"}}, "• Patch 01234567 (1 file changed)"},
		{"subtask", part.Subtask{AgentName: "general", Description: "look around", Status: part.RunRunning}, "• Subtask general: look around (running)"},
		{"thinking", part.NewReasoning("r", "", start), "• Thinking"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.FormatPart(tt.p, 80))
		})
	}

	r := part.NewReasoning("r", "considering\noptions", start)
	r.EndTime = start.Add(3 * time.Second)
	assert.Equal(t, "• Thought for 3s\n  └ considering\n    options", f.FormatPart(r, 80))
}

func TestFormatPermission(t *testing.T) {
	p := permission.Permission{ID: "per_1", CallID: "call_1", Type: "bash", Patterns: []string{"ls"}}
	assert.Equal(t, "Permission: Execute command: ls\n  [y] allow once  [a] always allow  [n] deny", plain().FormatPermission(p, 80))
}

func TestFormatError(t *testing.T) {
	f := plain()
	assert.Equal(t, "", f.FormatError(nil, 80))
	assert.Equal(t, "Error: boom", f.FormatError(errors.New("boom"), 80))
}

func TestTrackerPrintsEachThingOnce(t *testing.T) {
	tr := NewTracker(plain(), 80)

	user := message.New("msg_0", "ses_1", message.RoleUser).WithParts(part.NewText("prt_u", "fix the bug", false))
	streaming := message.New("msg_1", "ses_1", message.RoleAssistant).WithParts(part.NewText("prt_1", "Hel", true))

	lines := tr.Diff(conversation.Snapshot{Messages: tiplist.Of(user, streaming)})
	assert.Equal(t, []string{"› fix the bug"}, lines)

	running := part.Tool{ID: "prt_2", CallID: "call_1", ToolName: "bash", Input: json.RawMessage(`{"command":"ls"}`), State: part.Running{}}
	second := message.New("msg_1", "ses_1", message.RoleAssistant).WithParts(part.NewText("prt_1", "Hello", false), running)
	perm := permission.Permission{ID: "per_1", CallID: "call_2", Type: "bash", Patterns: []string{"rm x"}}
	lines = tr.Diff(conversation.Snapshot{Messages: tiplist.Of(user, second), Permissions: []permission.Permission{perm}})
	assert.Equal(t, []string{
		"• Hello",
		"Permission: Execute command: rm x\n  [y] allow once  [a] always allow  [n] deny",
	}, lines)

	done := running
	done.State = part.Completed{Output: "ok"}
	final := message.New("msg_1", "ses_1", message.RoleAssistant).WithParts(
		part.NewText("prt_1", "Hello", false),
		done,
		part.StepFinish{ID: "prt_3", Reason: "stop", TokensIn: 10, TokensOut: 5},
	)
	final.Complete = true
	final.Tokens = message.Tokens{Input: 10, Output: 5, Reasoning: 2, CacheRead: 1}
	snap := conversation.Snapshot{Messages: tiplist.Of(user, final), Permissions: []permission.Permission{perm}}
	lines = tr.Diff(snap)
	assert.Equal(t, []string{
		"✓ bash ls\n  └ ok",
		"Step finished: reason=stop input=10 output=5",
		"Turn complete: input=10 output=5 reasoning=2 cached_input=1",
	}, lines)

	assert.Empty(t, tr.Diff(snap))
}

func TestTrackerFlushesStreamingTextOnComplete(t *testing.T) {
	tr := NewTracker(plain(), 80)
	m := message.New("msg_1", "ses_1", message.RoleAssistant).WithParts(part.NewText("prt_1", "partial", true))
	m.Complete = true
	lines := tr.Diff(conversation.Snapshot{Messages: tiplist.Of(m)})
	require.Len(t, lines, 2)
	assert.Equal(t, "• partial", lines[0])
}

func TestTrackerPrintsUserTextWithoutEndTime(t *testing.T) {
	tr := NewTracker(plain(), 80)
	user := message.New("msg_0", "ses_1", message.RoleUser).WithParts(part.NewText("prt_u", "add a test", true))
	assert.Equal(t, []string{"› add a test"}, tr.Diff(conversation.Snapshot{Messages: tiplist.Of(user)}))
	assert.Empty(t, tr.Diff(conversation.Snapshot{Messages: tiplist.Of(user)}))
}

func TestTrackerErrors(t *testing.T) {
	tr := NewTracker(plain(), 80)
	boom := errors.New("boom")

	assert.Equal(t, []string{"Error: boom"}, tr.Diff(conversation.Snapshot{Err: boom}))
	assert.Empty(t, tr.Diff(conversation.Snapshot{Err: boom}))
	assert.Empty(t, tr.Diff(conversation.Snapshot{}))
	assert.Equal(t, []string{"Error: boom"}, tr.Diff(conversation.Snapshot{Err: boom}))

	m := message.New("msg_1", "ses_1", message.RoleAssistant)
	m.Error = "provider overloaded"
	assert.Equal(t, []string{"Error: provider overloaded"}, tr.Diff(conversation.Snapshot{Messages: tiplist.Of(m)}))
}
