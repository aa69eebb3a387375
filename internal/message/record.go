package message

import (
	"time"

	"github.com/pocketcode/chatcore/internal/part"
)

// Record is the JSON form of a Message. Timestamps are Unix milliseconds.
type Record struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"sessionID"`
	Role       Role          `json:"role"`
	ParentID   string        `json:"parentID,omitempty"`
	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	Agent      string        `json:"agent,omitempty"`
	Tokens     TokensRecord  `json:"tokens"`
	Cost       float64       `json:"cost,omitempty"`
	Created    int64         `json:"created,omitempty"`
	Completed  int64         `json:"completed,omitempty"`
	Error      string        `json:"error,omitempty"`
	Complete   bool          `json:"complete"`
	Parts      []part.Record `json:"parts"`
}

type TokensRecord struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	Reasoning  int `json:"reasoning,omitempty"`
	CacheRead  int `json:"cacheRead,omitempty"`
	CacheWrite int `json:"cacheWrite,omitempty"`
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// RecordOf converts m to a Record.
func RecordOf(m Message) Record {
	r := Record{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Role:       m.Role,
		ParentID:   m.ParentID,
		ModelID:    m.ModelID,
		ProviderID: m.ProviderID,
		Agent:      m.Agent,
		Tokens:     TokensRecord(m.Tokens),
		Cost:       m.Cost,
		Created:    unixMilli(m.CreatedAt),
		Completed:  unixMilli(m.CompletedAt),
		Error:      m.Error,
		Complete:   m.Complete,
		Parts:      make([]part.Record, 0, m.parts.Len()),
	}
	for _, p := range m.parts.All() {
		r.Parts = append(r.Parts, part.RecordOf(p))
	}
	return r
}

// Message converts r back to a Message.
func (r Record) Message() Message {
	m := Message{
		ID:          r.ID,
		SessionID:   r.SessionID,
		Role:        r.Role,
		ParentID:    r.ParentID,
		ModelID:     r.ModelID,
		ProviderID:  r.ProviderID,
		Agent:       r.Agent,
		Tokens:      Tokens(r.Tokens),
		Cost:        r.Cost,
		CreatedAt:   fromMilli(r.Created),
		CompletedAt: fromMilli(r.Completed),
		Error:       r.Error,
		Complete:    r.Complete,
	}
	for _, pr := range r.Parts {
		m.parts = m.parts.Append(pr.Part())
	}
	return m
}
