package message

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pocketcode/chatcore/internal/part"
)

func apply(t *testing.T, m Message, events ...Event) Message {
	t.Helper()
	for _, ev := range events {
		m, _ = Apply(m, ev)
	}
	return m
}

func textAt(t *testing.T, m Message, i int) part.Text {
	t.Helper()
	p, ok := m.Part(i).(part.Text)
	require.True(t, ok, "part %d is %T", i, m.Part(i))
	return p
}

func TestApply_TextDeltasInOrder(t *testing.T) {
	t.Parallel()

	m0 := New("m1", "s1", RoleAssistant)
	m1, changed := Apply(m0, TextDelta{PartIndex: 0, Append: "Hello"})
	require.True(t, changed)
	m2, _ := Apply(m1, TextDelta{PartIndex: 0, Append: " "})
	m3, _ := Apply(m2, TextDelta{PartIndex: 0, Append: "world"})

	require.Equal(t, 0, m0.Len())
	require.Equal(t, "Hello", textAt(t, m1, 0).Content())
	require.Equal(t, "Hello ", textAt(t, m2, 0).Content())
	require.Equal(t, "Hello world", textAt(t, m3, 0).Content())
	require.True(t, textAt(t, m3, 0).IsStreaming)
	require.Equal(t, 1, m3.Len())
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	base := apply(t, New("m", "s", RoleAssistant),
		TextDelta{PartID: "p1", Append: "abc"},
		ToolEvent{CallID: "t1", ToolName: "bash", Next: part.Pending{}},
	)

	a := apply(t, base, TextDelta{PartID: "p1", Append: "-a"}, ToolEvent{CallID: "t1", Next: part.Running{}})
	b := apply(t, base, TextDelta{PartID: "p1", Append: "-b"}, ToolEvent{CallID: "t1", Next: part.Denied()})

	require.Equal(t, "abc", textAt(t, base, 0).Content())
	require.Equal(t, "abc-a", textAt(t, a, 0).Content())
	require.Equal(t, "abc-b", textAt(t, b, 0).Content())

	tb, _ := base.ToolByCallID("t1")
	ta, _ := a.ToolByCallID("t1")
	tbb, _ := b.ToolByCallID("t1")
	require.Equal(t, part.StatusPending, tb.Status())
	require.Equal(t, part.StatusRunning, ta.Status())
	require.Equal(t, part.StatusError, tbb.Status())
}

func TestApply_TextDeltaByIDAndIndex(t *testing.T) {
	t.Parallel()

	m := apply(t, New("m", "s", RoleAssistant),
		TextDelta{PartID: "a", Append: "one"},
		PartAdded{Part: part.File{ID: "f", Filename: "x.png"}},
		TextDelta{PartID: "b", Append: "two"},
		TextDelta{PartID: "a", Append: "+"},
		TextDelta{PartIndex: 2, Append: "+"},
	)
	require.Equal(t, 3, m.Len())
	require.Equal(t, "one+", textAt(t, m, 0).Content())
	require.Equal(t, "two+", textAt(t, m, 2).Content())

	// A delta aimed at a non-text part is dropped.
	_, changed := Apply(m, TextDelta{PartIndex: 1, Append: "x"})
	require.False(t, changed)

	// An index past the end starts a new text part.
	m = apply(t, m, TextDelta{PartIndex: 9, Append: "three"})
	require.Equal(t, 4, m.Len())
	require.Equal(t, "three", textAt(t, m, 3).Content())

	// Full seeds a part first seen mid-stream and is ignored once the part exists.
	m = apply(t, m, TextDelta{PartID: "c", Append: "lo", Full: "hello"}, TextDelta{PartID: "c", Append: "!", Full: "hello!"})
	require.Equal(t, "hello!", textAt(t, m, 4).Content())
}

func TestApply_PartFinalized(t *testing.T) {
	t.Parallel()

	start := time.UnixMilli(100)
	end := time.UnixMilli(200)
	m := apply(t, New("m", "s", RoleAssistant),
		PartAdded{Part: part.NewReasoning("r", "", start)},
		TextDelta{PartID: "r", Append: "thinking"},
		TextDelta{PartID: "t", Append: "answer"},
	)
	r := m.Part(0).(part.Reasoning)
	require.Equal(t, "thinking", r.Content())
	require.True(t, r.Thinking())

	m = apply(t, m, PartFinalized{PartID: "r", At: end}, PartFinalized{PartIndex: 1})
	require.Equal(t, end, m.Part(0).(part.Reasoning).EndTime)
	require.False(t, textAt(t, m, 1).IsStreaming)

	_, changed := Apply(m, PartFinalized{PartID: "r", At: time.UnixMilli(300)})
	require.False(t, changed)
	_, changed = Apply(m, PartFinalized{PartID: "missing"})
	require.False(t, changed)
}

func TestApply_ToolScenarios(t *testing.T) {
	t.Parallel()

	t.Run("bash completes", func(t *testing.T) {
		m := apply(t, New("m", "s", RoleAssistant),
			ToolEvent{CallID: "t1", ToolName: "bash", Next: part.Pending{}},
			ToolEvent{CallID: "t1", Next: part.Running{}, Input: json.RawMessage(`{"command":"echo 5"}`)},
			ToolEvent{CallID: "t1", Next: part.Completed{Output: "5\n", Metadata: map[string]any{}}},
		)
		tool, ok := m.ToolByCallID("t1")
		require.True(t, ok)
		require.Equal(t, part.Completed{Output: "5\n", Metadata: map[string]any{}}, tool.State)
		require.JSONEq(t, `{"command":"echo 5"}`, string(tool.Input))
		require.Equal(t, "✓ bash", part.SummaryLine(part.Aggregate(m.Tools())))
	})

	t.Run("denied", func(t *testing.T) {
		m := apply(t, New("m", "s", RoleAssistant),
			ToolEvent{CallID: "t1", ToolName: "bash", Next: part.Pending{}},
			ToolEvent{CallID: "t1", Next: part.Denied()},
		)
		once, _ := m.ToolByCallID("t1")

		m2, changed := Apply(m, ToolEvent{CallID: "t1", Next: part.Denied()})
		require.False(t, changed)
		twice, _ := m2.ToolByCallID("t1")
		require.Equal(t, once, twice)
		require.Contains(t, twice.State.(part.Error).Message, "denied")
	})

	t.Run("terminal ignores late events", func(t *testing.T) {
		m := apply(t, New("m", "s", RoleAssistant),
			ToolEvent{CallID: "t1", ToolName: "read", Next: part.Completed{Output: "ok"}},
		)
		for _, next := range []part.ToolState{part.Running{}, part.Error{Message: "late"}, part.Pending{}} {
			_, changed := Apply(m, ToolEvent{CallID: "t1", Next: next})
			require.False(t, changed)
		}
	})

	t.Run("found anywhere", func(t *testing.T) {
		m := apply(t, New("m", "s", RoleAssistant),
			ToolEvent{CallID: "a", ToolName: "read", Next: part.Running{}},
			TextDelta{PartID: "x", Append: "between"},
			ToolEvent{CallID: "b", ToolName: "grep", Next: part.Running{}},
			ToolEvent{CallID: "a", Next: part.Completed{}},
		)
		require.Equal(t, 3, m.Len())
		a, _ := m.ToolByCallID("a")
		require.Equal(t, part.StatusCompleted, a.Status())
		require.Equal(t, "read", a.ToolName)
	})

	t.Run("unknown call without transition is pending", func(t *testing.T) {
		m := apply(t, New("m", "s", RoleAssistant), ToolEvent{CallID: "z", ToolName: "edit"})
		z, ok := m.ToolByCallID("z")
		require.True(t, ok)
		require.Equal(t, part.Pending{}, z.State)
	})
}

func TestApply_StepFinishCompletes(t *testing.T) {
	t.Parallel()

	cost := 0.5
	m := apply(t, New("m", "s", RoleAssistant),
		TextDelta{Append: "done"},
		StepFinishEvent{Part: part.StepFinish{Reason: "stop", Cost: &cost, TokensIn: 10, TokensOut: 4}},
	)
	require.True(t, m.Complete)
	require.Equal(t, Tokens{Input: 10, Output: 4}, m.Tokens)
	require.InDelta(t, 0.5, m.Cost, 1e-9)
	require.Equal(t, part.KindStepFinish, m.Part(1).Kind())

	for _, ev := range []Event{
		TextDelta{PartIndex: 0, Append: "more"},
		ToolEvent{CallID: "late", Next: part.Running{}},
		StepFinishEvent{},
		PartAdded{Part: part.Snapshot{SnapshotID: "x"}},
		PartFinalized{PartIndex: 0},
	} {
		_, changed := Apply(m, ev)
		require.False(t, changed, "%T", ev)
	}

	// Server accounting may still arrive.
	m2, changed := Apply(m, InfoUpdated{Info: Info{Tokens: Tokens{Input: 11, Output: 5}, Cost: 0.6}})
	require.True(t, changed)
	require.Equal(t, 11, m2.Tokens.Input)
	require.Equal(t, 2, m2.Len())
}

func TestApply_PartAdded(t *testing.T) {
	t.Parallel()

	m := apply(t, New("m", "s", RoleAssistant),
		PartAdded{Part: part.StepStart{ID: "ss", SnapshotRef: "abc"}},
		PartAdded{Part: part.Retry{ID: "r", Attempt: 1}},
		PartAdded{Part: part.Retry{ID: "r", Attempt: 2, ErrorMessage: "busy"}},
		PartAdded{Part: part.NewText("t", "Hel", true)},
		PartAdded{Part: part.NewText("t", "Hello", true)},
		PartAdded{Part: part.NewText("t", "Goodbye", true)},
		PartAdded{Part: part.Tool{ID: "tp", CallID: "c", ToolName: "glob", State: part.Running{}}},
	)
	require.Equal(t, 4, m.Len())
	require.Equal(t, part.Retry{ID: "r", Attempt: 2, ErrorMessage: "busy"}, m.Part(1))
	require.Equal(t, "Hello", textAt(t, m, 2).Content())
	tool, _ := m.ToolByCallID("c")
	require.Equal(t, part.StatusRunning, tool.Status())

	// Kind mismatch for an existing id is ignored.
	_, changed := Apply(m, PartAdded{Part: part.Snapshot{ID: "r"}})
	require.False(t, changed)

	m = apply(t, m, PartAdded{Part: part.NewText("t", "Hello", false)})
	require.False(t, textAt(t, m, 2).IsStreaming)
}

func TestApply_InfoUpdated(t *testing.T) {
	t.Parallel()

	m := New("m", "s", "")
	m, changed := Apply(m, InfoUpdated{Info: Info{Role: RoleAssistant, ModelID: "claude", ProviderID: "anthropic", CreatedAt: time.UnixMilli(5)}})
	require.True(t, changed)
	require.Equal(t, RoleAssistant, m.Role)
	require.Equal(t, "claude", m.ModelID)
	require.False(t, m.Complete)

	_, changed = Apply(m, InfoUpdated{Info: Info{ModelID: "claude"}})
	require.False(t, changed)

	m, _ = Apply(m, InfoUpdated{Info: Info{CompletedAt: time.UnixMilli(9), Error: "aborted"}})
	require.True(t, m.Complete)
	require.Equal(t, "aborted", m.Error)
}

func TestPreview(t *testing.T) {
	t.Parallel()

	m := apply(t, New("m", "s", RoleUser),
		PartAdded{Part: part.File{ID: "f"}},
		PartAdded{Part: part.NewText("t", "# Fix the **build**\n\nRun `go test` and [see docs](http://x).", false)},
	)
	require.Equal(t, "Fix the build Run go test and see docs.", m.Preview(0))
	require.Equal(t, "Fix the…", m.Preview(8))
	require.Equal(t, "", New("e", "s", RoleUser).Preview(10))
}

func TestRecord_RoundTrip(t *testing.T) {
	t.Parallel()

	cost := 0.1
	m := New("m", "s", RoleAssistant)
	m.ModelID = "gpt"
	m.CreatedAt = time.UnixMilli(1)
	m = apply(t, m,
		TextDelta{PartID: "t", Append: "hi"},
		ToolEvent{CallID: "c", ToolName: "bash", Next: part.Completed{Output: "x"}},
		StepFinishEvent{Part: part.StepFinish{ID: "sf", Cost: &cost, TokensIn: 1, TokensOut: 2}},
	)

	data, err := json.Marshal(RecordOf(m))
	require.NoError(t, err)
	var r Record
	require.NoError(t, json.Unmarshal(data, &r))
	got := r.Message()

	require.Equal(t, m.ID, got.ID)
	require.Equal(t, m.ModelID, got.ModelID)
	require.Equal(t, m.Tokens, got.Tokens)
	require.Equal(t, m.CreatedAt, got.CreatedAt)
	require.True(t, got.Complete)
	require.Equal(t, m.Len(), got.Len())
	require.Equal(t, "hi", textAt(t, got, 0).Content())
	tool, _ := got.ToolByCallID("c")
	require.Equal(t, part.Completed{Output: "x"}, tool.State)
}

func TestApply_StreamingCostIndependentOfPartCount(t *testing.T) {
	build := func(n int) Message {
		m := New("m", "s", RoleAssistant)
		for i := range n {
			m, _ = Apply(m, ToolEvent{CallID: fmt.Sprintf("t%d", i), ToolName: "read", Next: part.Pending{}})
		}
		m, _ = Apply(m, TextDelta{PartIndex: n, Append: "a"})
		return m
	}
	cost := func(m Message) float64 {
		last := m.Len() - 1
		return testing.AllocsPerRun(50, func() {
			Apply(m, TextDelta{PartIndex: last, Append: "b"})
		})
	}

	small, large := build(2), build(2000)
	require.LessOrEqual(t, cost(large), cost(small))

	next, _ := Apply(large, TextDelta{PartIndex: 2000, Append: "b"})
	require.Equal(t, "a", textAt(t, large, 2000).Content())
	require.Equal(t, "ab", textAt(t, next, 2000).Content())
}
