// Package permission implements the handshake that gates a pending tool call on a user decision.
//
// The server asks for a Permission tied to a tool call; the user answers allow-once, always-allow (which records a rule that auto-answers matching future
// requests), or deny. Every resolution is idempotent: answering a call twice returns the first Resolution and nothing is sent again. There is no timeout: an open
// permission stays open until the user or the server resolves it.
package permission

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pocketcode/chatcore/internal/part"
	"github.com/pocketcode/chatcore/internal/tooldesc"
)

var (
	// ErrAlreadyOpen is returned when a second permission is requested for a call that has one open.
	ErrAlreadyOpen = errors.New("permission: request already open for call")

	// ErrNotFound is returned when resolving a call that has no open or resolved permission.
	ErrNotFound = errors.New("permission: no request for call")

	// ErrClosed is returned by Request after Close.
	ErrClosed = errors.New("permission: protocol closed")
)

// Decision is the answer sent to the server.
type Decision string

const (
	Allow  Decision = "allow"
	Always Decision = "always"
	Deny   Decision = "deny"
)

// Permission is a server request to run a tool call.
type Permission struct {
	ID        string
	SessionID string
	MessageID string
	CallID    string
	Type      string   // category, for example "bash" or "edit"
	Patterns  []string // what the call touches, for example a command or a path
	Title     string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Key identifies the permission's call and is what AllowOnce, AllowAlways and Deny take. Permissions without a call (for example a doom-loop check) are keyed by
// their own id.
func (p Permission) Key() string {
	if p.CallID != "" {
		return p.CallID
	}
	return "permission:" + p.ID
}

// DisplayTitle is Title, or a title derived from Type and Patterns when the server sent none.
func (p Permission) DisplayTitle() string {
	if p.Title != "" {
		return p.Title
	}
	return tooldesc.PermissionTitle(p.Type, p.Patterns)
}

// ScopeKeys returns the rule keys that match p: its type, and "type:pattern" for each pattern.
func (p Permission) ScopeKeys() []string {
	if p.Type == "" {
		return nil
	}
	keys := []string{p.Type}
	for _, pat := range p.Patterns {
		if pat != "" {
			keys = append(keys, p.Type+":"+pat)
		}
	}
	return keys
}

// Reply is the decision message sent to the server for one permission.
type Reply struct {
	SessionID    string
	PermissionID string
	CallID       string
	Decision     Decision
}

// Outcome is the result of Request.
type Outcome struct {
	// AutoAllowed is true when a recorded rule answered the request. Reply must then be sent, and the tool may run.
	AutoAllowed bool
	Rule        string
	Reply       Reply

	// Duplicate is true when the same permission was already known; nothing changed.
	Duplicate bool

	// Prompt is true when the permission was opened and waits for the user. Pending is the tool state to show meanwhile.
	Prompt  bool
	Pending part.ToolState
}

// Resolution is the result of answering a permission.
type Resolution struct {
	Permission Permission
	Reply      Reply
	Next       part.ToolState // Running for allow and always, the denied Error for deny
	Fresh      bool           // false when the call had already been resolved
	Remote     bool           // resolved by the server or another client; no Reply needs sending
}

// Protocol tracks open permissions and allow rules for one session. It is safe for concurrent use.
type Protocol struct {
	mu       sync.Mutex
	open     map[string]Permission // by key
	order    []string              // open keys, request order
	resolved map[string]Resolution // by key
	byID     map[string]string     // permission id -> key
	rules    map[string]struct{}
	closed   bool
}

func New() *Protocol {
	return &Protocol{
		open:     make(map[string]Permission),
		resolved: make(map[string]Resolution),
		byID:     make(map[string]string),
		rules:    make(map[string]struct{}),
	}
}

// Request registers p. If a recorded rule matches one of p.ScopeKeys, p is resolved immediately as Allow.
func (pr *Protocol) Request(p Permission) (Outcome, error) {
	key := p.Key()

	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.closed {
		return Outcome{}, ErrClosed
	}
	if cur, ok := pr.open[key]; ok {
		if cur.ID == p.ID {
			return Outcome{Duplicate: true}, nil
		}
		return Outcome{}, ErrAlreadyOpen
	}
	if res, ok := pr.resolved[key]; ok {
		if res.Permission.ID == p.ID {
			return Outcome{Duplicate: true}, nil
		}
		// The server asks again for a call we answered; treat it as a new request.
		delete(pr.resolved, key)
	}

	if rule, ok := pr.matchLocked(p); ok {
		res := Resolution{Permission: p, Reply: replyFor(p, Allow), Next: part.Running{}, Fresh: true}
		pr.resolved[key] = res
		pr.byID[p.ID] = key
		return Outcome{AutoAllowed: true, Rule: rule, Reply: res.Reply}, nil
	}

	pr.open[key] = p
	pr.order = append(pr.order, key)
	pr.byID[p.ID] = key
	return Outcome{Prompt: true, Pending: part.Pending{}}, nil
}

// AllowOnce authorizes this call only.
func (pr *Protocol) AllowOnce(callID string) (Resolution, error) {
	return pr.resolve(callID, Allow, "")
}

// AllowAlways authorizes this call and records scopeKey so matching future requests are allowed without asking. An empty scopeKey records the permission's type.
// A scopeKey ending in "*" matches every key with that prefix.
func (pr *Protocol) AllowAlways(callID, scopeKey string) (Resolution, error) {
	return pr.resolve(callID, Always, scopeKey)
}

// Deny refuses this call. No rule is recorded.
func (pr *Protocol) Deny(callID string) (Resolution, error) {
	return pr.resolve(callID, Deny, "")
}

func (pr *Protocol) resolve(callID string, d Decision, scopeKey string) (Resolution, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if res, ok := pr.resolved[callID]; ok {
		res.Fresh = false
		return res, nil
	}
	p, ok := pr.open[callID]
	if !ok {
		return Resolution{}, ErrNotFound
	}

	if d == Always {
		if scopeKey == "" {
			scopeKey = p.Type
		}
		if scopeKey != "" {
			pr.rules[scopeKey] = struct{}{}
		}
	}

	res := Resolution{Permission: p, Reply: replyFor(p, d), Next: nextState(d), Fresh: true}
	pr.finishLocked(callID, res)
	return res, nil
}

// Remote records a resolution made elsewhere, identified by permission id.
func (pr *Protocol) Remote(permissionID string, d Decision) (Resolution, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	key, ok := pr.byID[permissionID]
	if !ok {
		return Resolution{}, ErrNotFound
	}
	if res, ok := pr.resolved[key]; ok {
		res.Fresh = false
		return res, nil
	}
	p := pr.open[key]
	res := Resolution{Permission: p, Reply: replyFor(p, d), Next: nextState(d), Fresh: true, Remote: true}
	pr.finishLocked(key, res)
	return res, nil
}

func (pr *Protocol) finishLocked(key string, res Resolution) {
	delete(pr.open, key)
	if i := indexOf(pr.order, key); i >= 0 {
		pr.order = append(pr.order[:i:i], pr.order[i+1:]...)
	}
	pr.resolved[key] = res
}

func (pr *Protocol) matchLocked(p Permission) (string, bool) {
	for _, k := range p.ScopeKeys() {
		if _, ok := pr.rules[k]; ok {
			return k, true
		}
	}
	for rule := range pr.rules {
		prefix, ok := strings.CutSuffix(rule, "*")
		if !ok {
			continue
		}
		for _, k := range p.ScopeKeys() {
			if strings.HasPrefix(k, prefix) {
				return rule, true
			}
		}
	}
	return "", false
}

// AddRule records an allow rule directly, for example one restored from configuration.
func (pr *Protocol) AddRule(scopeKey string) {
	if scopeKey == "" {
		return
	}
	pr.mu.Lock()
	pr.rules[scopeKey] = struct{}{}
	pr.mu.Unlock()
}

// Rules returns the recorded allow rules, sorted.
func (pr *Protocol) Rules() []string {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	out := make([]string, 0, len(pr.rules))
	for r := range pr.rules {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Open returns the open permissions in request order.
func (pr *Protocol) Open() []Permission {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	out := make([]Permission, 0, len(pr.order))
	for _, k := range pr.order {
		out = append(out, pr.open[k])
	}
	return out
}

// Get returns the open permission for callID.
func (pr *Protocol) Get(callID string) (Permission, bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	p, ok := pr.open[callID]
	return p, ok
}

// Close drops every open permission and rejects further requests. It returns the permissions that were still open.
func (pr *Protocol) Close() []Permission {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	var out []Permission
	for _, k := range pr.order {
		out = append(out, pr.open[k])
	}
	pr.open = make(map[string]Permission)
	pr.order = nil
	pr.closed = true
	return out
}

func replyFor(p Permission, d Decision) Reply {
	return Reply{SessionID: p.SessionID, PermissionID: p.ID, CallID: p.CallID, Decision: d}
}

func nextState(d Decision) part.ToolState {
	if d == Deny {
		return part.Denied()
	}
	return part.Running{}
}

func indexOf(items []string, v string) int {
	for i, item := range items {
		if item == v {
			return i
		}
	}
	return -1
}
