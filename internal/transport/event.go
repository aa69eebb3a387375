// Package transport connects a conversation.Store to an agent server: it decodes the server's event stream, maps events onto store calls, reconnects after
// failures, and delivers permission decisions back to the server.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pocketcode/chatcore/internal/message"
	"github.com/pocketcode/chatcore/internal/part"
	"github.com/pocketcode/chatcore/internal/permission"
)

var (
	// ErrMalformed is returned by Decode for data that is not a well-formed event.
	ErrMalformed = errors.New("transport: malformed event")

	// ErrSession wraps errors the server reports for a session.
	ErrSession = errors.New("transport: session error")
)

// Inbound is a decoded server event.
type Inbound interface {
	EventType() string
}

type MessageUpdated struct {
	SessionID string
	MessageID string
	Info      message.Info
}

// PartUpdated carries the full current state of a part. Delta, when HasDelta, is the text appended since the previous update.
type PartUpdated struct {
	Record   part.Record
	Delta    string
	HasDelta bool
}

type PartRemoved struct {
	SessionID string
	MessageID string
	PartID    string
}

type PermissionAsked struct {
	Permission permission.Permission
}

type PermissionReplied struct {
	SessionID    string
	PermissionID string
	Decision     permission.Decision
}

type SessionError struct {
	SessionID string
	Name      string
	Message   string
}

type ServerConnected struct{}

type Heartbeat struct{}

// Ignored is any event type this client does not act on.
type Ignored struct {
	Type string
}

func (MessageUpdated) EventType() string    { return "message.updated" }
func (PartUpdated) EventType() string       { return "message.part.updated" }
func (PartRemoved) EventType() string       { return "message.part.removed" }
func (PermissionAsked) EventType() string   { return "permission.asked" }
func (PermissionReplied) EventType() string { return "permission.replied" }
func (SessionError) EventType() string      { return "session.error" }
func (ServerConnected) EventType() string   { return "server.connected" }
func (Heartbeat) EventType() string         { return "server.heartbeat" }
func (e Ignored) EventType() string         { return e.Type }

// Decode parses one event. Both the plain form {type, properties} and the global form {directory, payload: {type, properties}} are accepted.
func Decode(data []byte) (Inbound, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if payload := root.Get("payload"); payload.IsObject() {
		root = payload
	}
	typ := root.Get("type").String()
	if typ == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	props := []byte(root.Get("properties").Raw)
	if len(props) == 0 {
		props = []byte("{}")
	}

	switch typ {
	case "message.updated":
		return decodeMessageUpdated(props)
	case "message.part.updated":
		var r struct {
			Part  part.Record `json:"part"`
			Delta *string     `json:"delta"`
		}
		if err := json.Unmarshal(props, &r); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, typ, err)
		}
		if r.Part.Type == "" {
			return nil, fmt.Errorf("%w: %s: part without type", ErrMalformed, typ)
		}
		out := PartUpdated{Record: r.Part}
		if r.Delta != nil {
			out.Delta, out.HasDelta = *r.Delta, true
		}
		return out, nil
	case "message.part.removed":
		var r struct {
			SessionID string `json:"sessionID"`
			MessageID string `json:"messageID"`
			PartID    string `json:"partID"`
		}
		if err := json.Unmarshal(props, &r); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, typ, err)
		}
		return PartRemoved(r), nil
	case "permission.asked", "permission.updated":
		return decodePermission(props, typ)
	case "permission.replied":
		sessionID := gjson.GetBytes(props, "sessionID").String()
		id := firstOf(props, "permissionID", "requestID")
		if id == "" {
			return nil, fmt.Errorf("%w: %s: missing permission id", ErrMalformed, typ)
		}
		d, ok := ParseDecision(firstOf(props, "response", "reply"))
		if !ok {
			return nil, fmt.Errorf("%w: %s: unknown response", ErrMalformed, typ)
		}
		return PermissionReplied{SessionID: sessionID, PermissionID: id, Decision: d}, nil
	case "session.error":
		p := gjson.ParseBytes(props)
		e := SessionError{SessionID: p.Get("sessionID").String(), Name: p.Get("error.name").String(), Message: p.Get("error.data.message").String()}
		if e.Message == "" {
			e.Message = e.Name
		}
		return e, nil
	case "server.connected":
		return ServerConnected{}, nil
	case "server.heartbeat":
		return Heartbeat{}, nil
	}
	return Ignored{Type: typ}, nil
}

func firstOf(data []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(data, p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// ParseDecision maps a server reply value to a Decision. Both the client vocabulary (allow, always, deny) and the server's (once, always, reject) are accepted.
func ParseDecision(s string) (permission.Decision, bool) {
	switch s {
	case "allow", "once":
		return permission.Allow, true
	case "always":
		return permission.Always, true
	case "deny", "reject":
		return permission.Deny, true
	}
	return "", false
}

type messageRecord struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"sessionID"`
	Role       string             `json:"role"`
	ParentID   string             `json:"parentID"`
	ModelID    string             `json:"modelID"`
	ProviderID string             `json:"providerID"`
	Agent      string             `json:"agent"`
	Cost       float64            `json:"cost"`
	Tokens     *part.TokensRecord `json:"tokens"`
	Time       struct {
		Created   int64 `json:"created"`
		Completed int64 `json:"completed"`
	} `json:"time"`
	Error json.RawMessage `json:"error"`
}

func decodeMessageUpdated(props []byte) (Inbound, error) {
	var r struct {
		Info messageRecord `json:"info"`
	}
	if err := json.Unmarshal(props, &r); err != nil {
		return nil, fmt.Errorf("%w: message.updated: %w", ErrMalformed, err)
	}
	if r.Info.ID == "" {
		return nil, fmt.Errorf("%w: message.updated: missing id", ErrMalformed)
	}
	in := r.Info
	info := message.Info{
		Role:        message.Role(in.Role),
		ParentID:    in.ParentID,
		ModelID:     in.ModelID,
		ProviderID:  in.ProviderID,
		Agent:       in.Agent,
		Cost:        in.Cost,
		CreatedAt:   millis(in.Time.Created),
		CompletedAt: millis(in.Time.Completed),
	}
	if t := in.Tokens; t != nil {
		info.Tokens = message.Tokens{Input: t.Input, Output: t.Output, Reasoning: t.Reasoning}
		if t.Cache != nil {
			info.Tokens.CacheRead, info.Tokens.CacheWrite = t.Cache.Read, t.Cache.Write
		}
	}
	if len(in.Error) > 0 {
		e := gjson.ParseBytes(in.Error)
		info.Error = e.Get("data.message").String()
		if info.Error == "" {
			info.Error = e.Get("name").String()
		}
	}
	return MessageUpdated{SessionID: in.SessionID, MessageID: in.ID, Info: info}, nil
}

func decodePermission(props []byte, typ string) (Inbound, error) {
	var r struct {
		ID         string          `json:"id"`
		SessionID  string          `json:"sessionID"`
		Permission string          `json:"permission"`
		Type       string          `json:"type"`
		Patterns   []string        `json:"patterns"`
		Pattern    json.RawMessage `json:"pattern"`
		MessageID  string          `json:"messageID"`
		CallID     string          `json:"callID"`
		Title      string          `json:"title"`
		Metadata   map[string]any  `json:"metadata"`
		Time       struct {
			Created int64 `json:"created"`
		} `json:"time"`
		Tool *struct {
			MessageID string `json:"messageID"`
			CallID    string `json:"callID"`
		} `json:"tool"`
	}
	if err := json.Unmarshal(props, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, typ, err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: %s: missing id", ErrMalformed, typ)
	}

	p := permission.Permission{
		ID:        r.ID,
		SessionID: r.SessionID,
		MessageID: r.MessageID,
		CallID:    r.CallID,
		Type:      r.Permission,
		Patterns:  r.Patterns,
		Title:     r.Title,
		Metadata:  r.Metadata,
		CreatedAt: millis(r.Time.Created),
	}
	if p.Type == "" {
		p.Type = r.Type
	}
	if r.Tool != nil {
		if r.Tool.MessageID != "" {
			p.MessageID = r.Tool.MessageID
		}
		if r.Tool.CallID != "" {
			p.CallID = r.Tool.CallID
		}
	}
	if len(p.Patterns) == 0 && len(r.Pattern) > 0 {
		pat := gjson.ParseBytes(r.Pattern)
		if pat.IsArray() {
			for _, v := range pat.Array() {
				p.Patterns = append(p.Patterns, v.String())
			}
		} else if s := pat.String(); s != "" {
			p.Patterns = []string{s}
		}
	}
	return PermissionAsked{Permission: p}, nil
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
