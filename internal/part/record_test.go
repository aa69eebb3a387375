package part

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func decodeRecord(t *testing.T, s string) Part {
	t.Helper()
	var r Record
	require.NoError(t, json.Unmarshal([]byte(s), &r))
	return r.Part()
}

func TestRecord_DecodeServerParts(t *testing.T) {
	t.Parallel()

	text := decodeRecord(t, `{"id":"p1","sessionID":"s","messageID":"m","type":"text","text":"hi"}`)
	require.IsType(t, Text{}, text)
	require.Equal(t, "hi", text.(Text).Content())
	require.Equal(t, "p1", text.PartID())

	tool := decodeRecord(t, `{"id":"p2","type":"tool","callID":"t1","tool":"bash",
		"state":{"status":"completed","input":{"command":"ls"},"output":"a\nb\n","title":"ls",
		"metadata":{"diff":"+x"},"time":{"start":1000,"end":2000}}}`)
	tp := tool.(Tool)
	require.Equal(t, "t1", tp.CallID)
	require.Equal(t, "bash", tp.ToolName)
	require.JSONEq(t, `{"command":"ls"}`, string(tp.Input))
	done := tp.State.(Completed)
	require.Equal(t, "a\nb\n", done.Output)
	require.Equal(t, time.UnixMilli(1000), done.StartedAt)
	require.Equal(t, time.UnixMilli(2000), done.EndedAt)

	failed := decodeRecord(t, `{"type":"tool","callID":"t2","tool":"edit","state":{"status":"error","error":"no such file"}}`)
	require.Equal(t, Error{Message: "no such file"}, failed.(Tool).State)

	pending := decodeRecord(t, `{"type":"tool","callID":"t3","tool":"read"}`)
	require.Equal(t, Pending{}, pending.(Tool).State)

	retry := decodeRecord(t, `{"type":"retry","attempt":2,"error":{"name":"APIError","data":{"message":"overloaded"}},"next":5000}`)
	require.Equal(t, Retry{Attempt: 2, ErrorMessage: "overloaded", NextRetryAt: time.UnixMilli(5000)}, retry)

	finish := decodeRecord(t, `{"type":"step-finish","reason":"stop","cost":0.25,"tokens":{"input":10,"output":20,"cache":{"read":1,"write":2}}}`)
	sf := finish.(StepFinish)
	require.Equal(t, "stop", sf.Reason)
	require.InDelta(t, 0.25, *sf.Cost, 1e-9)
	require.Equal(t, 10, sf.TokensIn)
	require.Equal(t, 20, sf.TokensOut)
	require.Nil(t, sf.DurationMs)

	require.Equal(t, Agent{ToAgent: "build"}, decodeRecord(t, `{"type":"agent","name":"build"}`))
	require.Equal(t, Subtask{AgentName: "explore", Description: "d", Prompt: "p", Status: RunPending},
		decodeRecord(t, `{"type":"subtask","agent":"explore","description":"d","prompt":"p"}`))
	require.Equal(t, Compaction{IsAutomatic: true}, decodeRecord(t, `{"type":"compaction","auto":true}`))

	unknown := decodeRecord(t, `{"id":"x","type":"hologram","text":"?"}`)
	require.Equal(t, "?", unknown.(Text).Content())
	require.False(t, unknown.(Text).IsStreaming)
}

func TestRecord_RoundTrip(t *testing.T) {
	t.Parallel()

	cost := 1.5
	dur := int64(42)
	reasoning := NewReasoning("r", "hmm", time.UnixMilli(10))
	reasoning.EndTime = time.UnixMilli(20)

	parts := []Part{
		NewText("a", "hello", true),
		reasoning,
		Tool{ID: "t", CallID: "c1", ToolName: "bash", Input: json.RawMessage(`{"command":"ls"}`), State: Running{Title: "ls", StartedAt: time.UnixMilli(5)}},
		Tool{ID: "t2", CallID: "c2", ToolName: "edit", State: Denied()},
		File{ID: "f", Filename: "a.png", MimeType: "image/png", URL: "data:"},
		Patch{ID: "p", Hash: "abc", Files: []string{"a.go", "b.go"}},
		StepStart{ID: "s", SnapshotRef: "snap"},
		StepFinish{ID: "sf", Reason: "stop", Cost: &cost, TokensIn: 1, TokensOut: 2, DurationMs: &dur},
		Snapshot{ID: "sn", SnapshotID: "x"},
		Retry{ID: "re", Attempt: 3, ErrorMessage: "rate limited", NextRetryAt: time.UnixMilli(99)},
		Compaction{ID: "co"},
		Agent{ID: "ag", FromAgent: "plan", ToAgent: "build"},
		Subtask{ID: "st", AgentName: "general", Description: "d", Prompt: "p", Status: RunCompleted},
	}

	for _, p := range parts {
		data, err := json.Marshal(RecordOf(p))
		require.NoError(t, err)

		var r Record
		require.NoError(t, json.Unmarshal(data, &r))
		got := r.Part()

		require.Equal(t, p.Kind(), got.Kind())
		require.Equal(t, p.PartID(), got.PartID())
		switch want := p.(type) {
		case Text:
			require.Equal(t, want.Content(), got.(Text).Content())
			require.Equal(t, want.IsStreaming, got.(Text).IsStreaming)
		case Reasoning:
			g := got.(Reasoning)
			require.Equal(t, want.Content(), g.Content())
			require.Equal(t, want.StartTime, g.StartTime)
			require.Equal(t, want.EndTime, g.EndTime)
		case Tool:
			g := got.(Tool)
			require.Equal(t, want.State, g.State)
			require.Equal(t, want.CallID, g.CallID)
			if want.Input != nil {
				require.JSONEq(t, string(want.Input), string(g.Input))
			}
		default:
			require.Equal(t, p, got)
		}
	}
}
