// Package message models one conversation turn and the pure reducer that applies stream events to it.
//
// A Message is a value. Apply never modifies its input; it returns a new Message that may share storage with the old one, so a published snapshot stays valid
// while newer ones are built. Parts are append-only: once added, a part is only ever transitioned in place.
package message

import (
	"iter"
	"strings"
	"time"

	"github.com/pocketcode/chatcore/internal/part"
	"github.com/pocketcode/chatcore/internal/tiplist"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Tokens is the token accounting of an assistant message.
type Tokens struct {
	Input      int
	Output     int
	Reasoning  int
	CacheRead  int
	CacheWrite int
}

// Message is one turn. ModelID, ProviderID, Tokens and Cost are only meaningful for assistant messages. Complete is set once the terminal step-finish arrives;
// after that the parts never change.
type Message struct {
	ID        string
	SessionID string
	Role      Role
	ParentID  string

	ModelID    string
	ProviderID string
	Agent      string
	Tokens     Tokens
	Cost       float64

	CreatedAt   time.Time
	CompletedAt time.Time
	Error       string

	Complete bool

	parts tiplist.List[part.Part]
}

// New returns an empty message.
func New(id, sessionID string, role Role) Message {
	return Message{ID: id, SessionID: sessionID, Role: role}
}

// Parts returns a copy of the message's parts in arrival order.
func (m Message) Parts() []part.Part {
	return m.parts.Slice()
}

// All iterates the message's parts in arrival order without copying them.
func (m Message) All() iter.Seq2[int, part.Part] {
	return m.parts.All()
}

func (m Message) Len() int { return m.parts.Len() }

// Part returns the i-th part, or nil when i is out of range.
func (m Message) Part(i int) part.Part {
	if i < 0 || i >= m.parts.Len() {
		return nil
	}
	return m.parts.At(i)
}

// Tools returns the message's tool parts in order.
func (m Message) Tools() []part.Tool {
	return part.Tools(m.parts.Slice())
}

// ToolByCallID finds the tool part for callID.
func (m Message) ToolByCallID(callID string) (part.Tool, bool) {
	if i := m.indexOfCall(callID); i >= 0 {
		return m.parts.At(i).(part.Tool), true
	}
	return part.Tool{}, false
}

// Text concatenates the content of the message's Text parts, separated by blank lines.
func (m Message) Text() string {
	var texts []string
	for _, p := range m.parts.All() {
		if t, ok := p.(part.Text); ok && t.Len() > 0 {
			texts = append(texts, t.Content())
		}
	}
	return strings.Join(texts, "\n\n")
}

// WithParts returns m holding parts. It is meant for constructing messages (for example from an archive), not for streaming updates.
func (m Message) WithParts(parts ...part.Part) Message {
	m.parts = tiplist.Of(parts...)
	return m
}

// indexOfCall searches from the end, where the most recent calls are.
func (m Message) indexOfCall(callID string) int {
	if callID == "" {
		return -1
	}
	for i, p := range m.parts.Backward() {
		if t, ok := p.(part.Tool); ok && t.CallID == callID {
			return i
		}
	}
	return -1
}

func (m Message) indexOfID(id string) int {
	if id == "" {
		return -1
	}
	for i, p := range m.parts.Backward() {
		if p.PartID() == id {
			return i
		}
	}
	return -1
}

// withPart returns m with parts[i] replaced by p. Replacing the last part, the streaming case, does not copy.
func (m Message) withPart(i int, p part.Part) Message {
	m.parts = m.parts.Set(i, p)
	return m
}

// withAppended returns m with p added after the last part.
func (m Message) withAppended(p part.Part) Message {
	m.parts = m.parts.Append(p)
	return m
}
