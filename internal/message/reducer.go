package message

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pocketcode/chatcore/internal/part"
)

// Event is a stream event that Apply understands: TextDelta, PartFinalized, ToolEvent, StepFinishEvent, PartAdded, or InfoUpdated.
type Event interface {
	isEvent()
}

// TextDelta appends to a Text (or Reasoning) part. The part is located by PartID when set, otherwise by PartIndex. If no such part exists, a new streaming Text
// part is appended holding Full, or Append when Full is empty.
type TextDelta struct {
	PartIndex int
	PartID    string
	Append    string
	Full      string // the whole text so far, delta included
}

// PartFinalized ends streaming of a Text part (IsStreaming=false) or a Reasoning part (EndTime=At).
type PartFinalized struct {
	PartIndex int
	PartID    string
	At        time.Time
}

// ToolEvent moves the tool call CallID to Next. Input, when set, replaces the call's arguments if the transition is applied.
type ToolEvent struct {
	CallID   string
	ToolName string
	PartID   string
	Input    json.RawMessage
	Next     part.ToolState
}

// StepFinishEvent appends the terminal StepFinish part and completes the message.
type StepFinishEvent struct {
	Part part.StepFinish
}

// PartAdded adds a part, or updates the part with the same non-empty ID in place. Tool parts are routed through the tool state machine.
type PartAdded struct {
	Part part.Part
}

// InfoUpdated carries server-authoritative message fields. Zero fields leave the message unchanged.
type InfoUpdated struct {
	Info Info
}

type Info struct {
	Role        Role
	ParentID    string
	ModelID     string
	ProviderID  string
	Agent       string
	Tokens      Tokens
	Cost        float64
	CreatedAt   time.Time
	CompletedAt time.Time
	Error       string
}

func (TextDelta) isEvent()       {}
func (PartFinalized) isEvent()   {}
func (ToolEvent) isEvent()       {}
func (StepFinishEvent) isEvent() {}
func (PartAdded) isEvent()       {}
func (InfoUpdated) isEvent()     {}

// Apply returns m with ev applied and whether anything changed. m is not modified. Events other than InfoUpdated are ignored once m is Complete.
func Apply(m Message, ev Event) (Message, bool) {
	if info, ok := ev.(InfoUpdated); ok {
		return applyInfo(m, info.Info)
	}
	if m.Complete {
		return m, false
	}

	switch e := ev.(type) {
	case TextDelta:
		return applyTextDelta(m, e)
	case PartFinalized:
		return applyFinalized(m, e)
	case ToolEvent:
		return applyTool(m, e)
	case StepFinishEvent:
		return applyStepFinish(m, e)
	case PartAdded:
		return applyPartAdded(m, e)
	}
	return m, false
}

func (m Message) locate(id string, index int) int {
	if id != "" {
		return m.indexOfID(id)
	}
	if index >= 0 && index < m.parts.Len() {
		return index
	}
	return -1
}

func applyTextDelta(m Message, e TextDelta) (Message, bool) {
	i := m.locate(e.PartID, e.PartIndex)
	if i < 0 {
		content := e.Full
		if content == "" {
			content = e.Append
		}
		return m.withAppended(part.NewText(e.PartID, content, true)), true
	}
	if e.Append == "" {
		return m, false
	}
	switch p := m.parts.At(i).(type) {
	case part.Text:
		return m.withPart(i, p.Append(e.Append)), true
	case part.Reasoning:
		return m.withPart(i, p.Append(e.Append)), true
	}
	return m, false
}

func applyFinalized(m Message, e PartFinalized) (Message, bool) {
	i := m.locate(e.PartID, e.PartIndex)
	if i < 0 {
		return m, false
	}
	switch p := m.parts.At(i).(type) {
	case part.Text:
		if !p.IsStreaming {
			return m, false
		}
		p.IsStreaming = false
		return m.withPart(i, p), true
	case part.Reasoning:
		if !p.EndTime.IsZero() {
			return m, false
		}
		p.EndTime = e.At
		if p.EndTime.IsZero() {
			p.EndTime = p.StartTime
		}
		if p.EndTime.IsZero() {
			p.EndTime = time.Unix(0, 0)
		}
		return m.withPart(i, p), true
	}
	return m, false
}

func applyTool(m Message, e ToolEvent) (Message, bool) {
	i := m.indexOfCall(e.CallID)
	if i < 0 {
		t := part.Tool{ID: e.PartID, CallID: e.CallID, ToolName: e.ToolName, Input: e.Input, State: part.Pending{}}
		if p, ok := e.Next.(part.Pending); ok {
			t.State = p
		} else if next, ok := part.Transition(t.State, e.Next); ok {
			t.State = next
		}
		return m.withAppended(t), true
	}

	t := m.parts.At(i).(part.Tool)
	changed := false
	if next, ok := part.Transition(t.State, e.Next); ok {
		t.State = next
		if len(e.Input) > 0 {
			t.Input = e.Input
		}
		changed = true
	}
	// A call opened by its permission request has no name or arguments until the server's own event for it arrives.
	if len(t.Input) == 0 && len(e.Input) > 0 {
		t.Input, changed = e.Input, true
	}
	if t.ToolName == "" && e.ToolName != "" {
		t.ToolName, changed = e.ToolName, true
	}
	if t.ID == "" && e.PartID != "" {
		t.ID, changed = e.PartID, true
	}
	if !changed {
		return m, false
	}
	return m.withPart(i, t), true
}

func applyStepFinish(m Message, e StepFinishEvent) (Message, bool) {
	m = m.withAppended(e.Part)
	m.Tokens.Input += e.Part.TokensIn
	m.Tokens.Output += e.Part.TokensOut
	if e.Part.Cost != nil {
		m.Cost += *e.Part.Cost
	}
	m.Complete = true
	return m, true
}

func applyPartAdded(m Message, e PartAdded) (Message, bool) {
	if e.Part == nil {
		return m, false
	}
	if t, ok := e.Part.(part.Tool); ok {
		return applyTool(m, ToolEvent{CallID: t.CallID, ToolName: t.ToolName, PartID: t.ID, Input: t.Input, Next: t.State})
	}

	i := m.indexOfID(e.Part.PartID())
	if i < 0 {
		return m.withAppended(e.Part), true
	}
	old := m.parts.At(i)
	if old.Kind() != e.Part.Kind() {
		return m, false
	}

	switch p := e.Part.(type) {
	case part.Text:
		// A full-text update extends the streamed content; it never rewrites it.
		o := old.(part.Text)
		cur, full := o.Content(), p.Content()
		if !strings.HasPrefix(full, cur) {
			return m, false
		}
		if len(full) == len(cur) && o.IsStreaming == p.IsStreaming {
			return m, false
		}
		o = o.Append(full[len(cur):])
		o.IsStreaming = o.IsStreaming && p.IsStreaming
		return m.withPart(i, o), true
	case part.Reasoning:
		o := old.(part.Reasoning)
		cur, full := o.Content(), p.Content()
		if !strings.HasPrefix(full, cur) {
			return m, false
		}
		if len(full) == len(cur) && (p.EndTime.IsZero() || !o.EndTime.IsZero()) {
			return m, false
		}
		o = o.Append(full[len(cur):])
		if o.EndTime.IsZero() {
			o.EndTime = p.EndTime
		}
		return m.withPart(i, o), true
	}
	return m.withPart(i, e.Part), true
}

func applyInfo(m Message, info Info) (Message, bool) {
	before := m
	if info.Role != "" {
		m.Role = info.Role
	}
	if info.ParentID != "" {
		m.ParentID = info.ParentID
	}
	if info.ModelID != "" {
		m.ModelID = info.ModelID
	}
	if info.ProviderID != "" {
		m.ProviderID = info.ProviderID
	}
	if info.Agent != "" {
		m.Agent = info.Agent
	}
	if info.Tokens != (Tokens{}) {
		m.Tokens = info.Tokens
	}
	if info.Cost != 0 {
		m.Cost = info.Cost
	}
	if !info.CreatedAt.IsZero() {
		m.CreatedAt = info.CreatedAt
	}
	if !info.CompletedAt.IsZero() {
		m.CompletedAt = info.CompletedAt
		m.Complete = true
	}
	if info.Error != "" {
		m.Error = info.Error
	}
	return m, !sameInfo(before, m)
}

func sameInfo(a, b Message) bool {
	return a.Role == b.Role && a.ParentID == b.ParentID && a.ModelID == b.ModelID && a.ProviderID == b.ProviderID && a.Agent == b.Agent &&
		a.Tokens == b.Tokens && a.Cost == b.Cost && a.CreatedAt.Equal(b.CreatedAt) && a.CompletedAt.Equal(b.CompletedAt) && a.Error == b.Error &&
		a.Complete == b.Complete
}
