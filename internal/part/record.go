package part

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// Record is the JSON form of a part as the agent server sends it. Timestamps are Unix milliseconds. A few fields (streaming, fromAgent, status, next,
// duration) are not sent by the server; they let a Record carry every Part field when archived.
type Record struct {
	ID        string `json:"id,omitempty"`
	SessionID string `json:"sessionID,omitempty"`
	MessageID string `json:"messageID,omitempty"`
	Type      Kind   `json:"type"`

	Text      string      `json:"text,omitempty"`
	Streaming bool        `json:"streaming,omitempty"`
	Time      *TimeRecord `json:"time,omitempty"`

	CallID string       `json:"callID,omitempty"`
	Tool   string       `json:"tool,omitempty"`
	State  *StateRecord `json:"state,omitempty"`

	Mime     string   `json:"mime,omitempty"`
	Filename string   `json:"filename,omitempty"`
	URL      string   `json:"url,omitempty"`
	Hash     string   `json:"hash,omitempty"`
	Files    []string `json:"files,omitempty"`
	Snapshot string   `json:"snapshot,omitempty"`

	Reason   string        `json:"reason,omitempty"`
	Cost     *float64      `json:"cost,omitempty"`
	Tokens   *TokensRecord `json:"tokens,omitempty"`
	Duration *int64        `json:"duration,omitempty"`

	Name      string `json:"name,omitempty"`
	FromAgent string `json:"fromAgent,omitempty"`

	Attempt int             `json:"attempt,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Next    int64           `json:"next,omitempty"`

	Auto bool `json:"auto,omitempty"`

	Prompt      string `json:"prompt,omitempty"`
	Description string `json:"description,omitempty"`
	Agent       string `json:"agent,omitempty"`
	Status      string `json:"status,omitempty"`
}

type TimeRecord struct {
	Start     int64 `json:"start,omitempty"`
	End       int64 `json:"end,omitempty"`
	Compacted int64 `json:"compacted,omitempty"`
}

type StateRecord struct {
	Status   string          `json:"status"`
	Input    json.RawMessage `json:"input,omitempty"`
	Raw      string          `json:"raw,omitempty"`
	Title    string          `json:"title,omitempty"`
	Output   string          `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Time     *TimeRecord     `json:"time,omitempty"`
}

type TokensRecord struct {
	Input     int          `json:"input"`
	Output    int          `json:"output"`
	Reasoning int          `json:"reasoning,omitempty"`
	Cache     *CacheRecord `json:"cache,omitempty"`
}

type CacheRecord struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (r Record) times() (start, end time.Time) {
	if r.Time == nil {
		return time.Time{}, time.Time{}
	}
	return millis(r.Time.Start), millis(r.Time.End)
}

// Part converts r to its Part variant. Unknown types become a finished Text part holding r.Text.
func (r Record) Part() Part {
	switch r.Type {
	case KindText:
		return NewText(r.ID, r.Text, r.Streaming)
	case KindReasoning:
		start, end := r.times()
		p := NewReasoning(r.ID, r.Text, start)
		p.EndTime = end
		return p
	case KindTool:
		t := Tool{ID: r.ID, CallID: r.CallID, ToolName: r.Tool, State: Pending{}}
		if r.State != nil {
			t.State = r.State.ToolState()
			t.Input = r.State.Input
		}
		return t
	case KindFile:
		return File{ID: r.ID, Filename: r.Filename, MimeType: r.Mime, URL: r.URL}
	case KindPatch:
		return Patch{ID: r.ID, Hash: r.Hash, Files: r.Files}
	case KindStepStart:
		return StepStart{ID: r.ID, SnapshotRef: r.Snapshot}
	case KindStepFinish:
		p := StepFinish{ID: r.ID, Reason: r.Reason, Cost: r.Cost, DurationMs: r.Duration}
		if r.Tokens != nil {
			p.TokensIn = r.Tokens.Input
			p.TokensOut = r.Tokens.Output
		}
		return p
	case KindSnapshot:
		return Snapshot{ID: r.ID, SnapshotID: r.Snapshot}
	case KindRetry:
		return Retry{ID: r.ID, Attempt: max(r.Attempt, 1), ErrorMessage: errorMessage(r.Error), NextRetryAt: millis(r.Next)}
	case KindCompaction:
		return Compaction{ID: r.ID, IsAutomatic: r.Auto}
	case KindAgent:
		return Agent{ID: r.ID, FromAgent: r.FromAgent, ToAgent: r.Name}
	case KindSubtask:
		status := RunStatus(r.Status)
		if status == "" {
			status = RunPending
		}
		return Subtask{ID: r.ID, AgentName: r.Agent, Description: r.Description, Prompt: r.Prompt, Status: status}
	default:
		return NewText(r.ID, r.Text, false)
	}
}

// errorMessage extracts a human message from an error payload: {"name":..,"data":{"message":..}}, {"message":..}, or a bare string.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	v := gjson.ParseBytes(raw)
	if v.Type == gjson.String {
		return v.String()
	}
	if m := v.Get("data.message"); m.Exists() {
		return m.String()
	}
	if m := v.Get("message"); m.Exists() {
		return m.String()
	}
	return v.Get("name").String()
}

// ToolState converts the record to a ToolState. Unknown statuses are Pending.
func (s StateRecord) ToolState() ToolState {
	var start, end time.Time
	if s.Time != nil {
		start, end = millis(s.Time.Start), millis(s.Time.End)
	}
	switch s.Status {
	case "running":
		return Running{Title: s.Title, Metadata: s.Metadata, StartedAt: start}
	case "completed":
		return Completed{Output: s.Output, Title: s.Title, Metadata: s.Metadata, StartedAt: start, EndedAt: end}
	case "error":
		return Error{Message: s.Error, Metadata: s.Metadata, StartedAt: start, EndedAt: end}
	default:
		return Pending{Raw: s.Raw}
	}
}

// RecordOf converts p to a Record. Record.Part inverts it.
func RecordOf(p Part) Record {
	var b recordBuilder
	p.Accept(&b)
	return b.rec
}

type recordBuilder struct {
	rec Record
}

func (b *recordBuilder) VisitText(p Text) {
	b.rec = Record{ID: p.ID, Type: KindText, Text: p.Content(), Streaming: p.IsStreaming}
}

func (b *recordBuilder) VisitReasoning(p Reasoning) {
	b.rec = Record{ID: p.ID, Type: KindReasoning, Text: p.Content()}
	if !p.StartTime.IsZero() || !p.EndTime.IsZero() {
		b.rec.Time = &TimeRecord{Start: toMillis(p.StartTime), End: toMillis(p.EndTime)}
	}
}

func (b *recordBuilder) VisitTool(p Tool) {
	b.rec = Record{ID: p.ID, Type: KindTool, CallID: p.CallID, Tool: p.ToolName, State: stateRecordOf(p.State)}
	b.rec.State.Input = p.Input
}

func stateRecordOf(s ToolState) *StateRecord {
	switch st := s.(type) {
	case Running:
		return &StateRecord{Status: "running", Title: st.Title, Metadata: st.Metadata, Time: timeRecord(st.StartedAt, time.Time{})}
	case Completed:
		return &StateRecord{Status: "completed", Output: st.Output, Title: st.Title, Metadata: st.Metadata, Time: timeRecord(st.StartedAt, st.EndedAt)}
	case Error:
		return &StateRecord{Status: "error", Error: st.Message, Metadata: st.Metadata, Time: timeRecord(st.StartedAt, st.EndedAt)}
	case Pending:
		return &StateRecord{Status: "pending", Raw: st.Raw}
	default:
		return &StateRecord{Status: "pending"}
	}
}

func timeRecord(start, end time.Time) *TimeRecord {
	if start.IsZero() && end.IsZero() {
		return nil
	}
	return &TimeRecord{Start: toMillis(start), End: toMillis(end)}
}

func (b *recordBuilder) VisitFile(p File) {
	b.rec = Record{ID: p.ID, Type: KindFile, Filename: p.Filename, Mime: p.MimeType, URL: p.URL}
}

func (b *recordBuilder) VisitPatch(p Patch) {
	b.rec = Record{ID: p.ID, Type: KindPatch, Hash: p.Hash, Files: p.Files}
}

func (b *recordBuilder) VisitStepStart(p StepStart) {
	b.rec = Record{ID: p.ID, Type: KindStepStart, Snapshot: p.SnapshotRef}
}

func (b *recordBuilder) VisitStepFinish(p StepFinish) {
	b.rec = Record{ID: p.ID, Type: KindStepFinish, Reason: p.Reason, Cost: p.Cost, Duration: p.DurationMs,
		Tokens: &TokensRecord{Input: p.TokensIn, Output: p.TokensOut}}
}

func (b *recordBuilder) VisitSnapshot(p Snapshot) {
	b.rec = Record{ID: p.ID, Type: KindSnapshot, Snapshot: p.SnapshotID}
}

func (b *recordBuilder) VisitRetry(p Retry) {
	b.rec = Record{ID: p.ID, Type: KindRetry, Attempt: p.Attempt, Next: toMillis(p.NextRetryAt)}
	if p.ErrorMessage != "" {
		msg, _ := json.Marshal(p.ErrorMessage)
		b.rec.Error = msg
	}
}

func (b *recordBuilder) VisitCompaction(p Compaction) {
	b.rec = Record{ID: p.ID, Type: KindCompaction, Auto: p.IsAutomatic}
}

func (b *recordBuilder) VisitAgent(p Agent) {
	b.rec = Record{ID: p.ID, Type: KindAgent, Name: p.ToAgent, FromAgent: p.FromAgent}
}

func (b *recordBuilder) VisitSubtask(p Subtask) {
	b.rec = Record{ID: p.ID, Type: KindSubtask, Agent: p.AgentName, Description: p.Description, Prompt: p.Prompt, Status: string(p.Status)}
}
