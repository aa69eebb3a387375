// Package conversation owns the state of one chat session: the messages of every branch, the open permissions, and the connection status.
//
// Store is the single writer. Stream events and user commands are applied one at a time; after each change a new immutable Snapshot is published atomically and
// delivered, in order, to every subscriber. Readers never lock: they hold a Snapshot, and nothing in it changes afterwards.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pocketcode/chatcore/internal/message"
	"github.com/pocketcode/chatcore/internal/metrics"
	"github.com/pocketcode/chatcore/internal/part"
	"github.com/pocketcode/chatcore/internal/permission"
)

var (
	ErrClosed         = errors.New("conversation: store closed")
	ErrUnknownBranch  = errors.New("conversation: unknown branch")
	ErrRootBranch     = errors.New("conversation: cannot delete the root branch")
	ErrUnknownMessage = errors.New("conversation: unknown message")
	ErrUnknownCall    = errors.New("conversation: no tool call")
	ErrNotDelivered   = errors.New("conversation: permission decision not delivered")
)

// RootBranchID is the id of the branch every session starts with.
const RootBranchID = "main"

// DefaultSubscriberBuffer is the number of undelivered snapshots a subscriber may hold before the oldest is dropped.
const DefaultSubscriberBuffer = 64

// DecisionSender delivers a permission decision to the server.
type DecisionSender interface {
	SendDecision(ctx context.Context, r permission.Reply) error
}

// Archiver receives completed messages. *archive.Archive implements it.
type Archiver interface {
	SaveMessage(sessionID, branchID string, seq int, m message.Message) error
	DeleteBranch(sessionID, branchID string) error
}

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (c ConnState) String() string {
	switch c {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Options struct {
	Logger  *slog.Logger     // nil discards
	Metrics *metrics.Metrics // nil records nothing
	Archive Archiver         // nil keeps completed messages in memory only
	Sender  DecisionSender   // nil treats every decision as delivered

	// SubscriberBuffer defaults to DefaultSubscriberBuffer.
	SubscriberBuffer int

	// Rules are allow rules recorded before the session starts (see permission.Protocol.AddRule).
	Rules []string

	Now   func() time.Time
	NewID func() string
}

// Store holds one session. Create it with New.
type Store struct {
	sessionID string
	log       *slog.Logger
	metrics   *metrics.Metrics
	archive   Archiver
	sender    DecisionSender
	now       func() time.Time
	newID     func() string
	bufSize   int

	perms *permission.Protocol

	mu       sync.Mutex // serializes writers
	closed   bool
	version  uint64
	branches *arena
	conn     ConnState
	err      error
	subs     map[int]*subscriber
	nextSub  int
	done     chan struct{}

	// held keeps, per call id, the newest server tool event that would have started the call while its permission was open.
	held map[string]heldTool

	latest atomic.Pointer[Snapshot]
}

func New(sessionID string, opts Options) *Store {
	s := &Store{
		sessionID: sessionID,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		archive:   opts.Archive,
		sender:    opts.Sender,
		now:       opts.Now,
		newID:     opts.NewID,
		bufSize:   opts.SubscriberBuffer,
		perms:     permission.New(),
		subs:      make(map[int]*subscriber),
		done:      make(chan struct{}),
		held:      make(map[string]heldTool),
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.bufSize <= 0 {
		s.bufSize = DefaultSubscriberBuffer
	}
	for _, r := range opts.Rules {
		s.perms.AddRule(r)
	}
	s.branches = newArena(RootBranchID, s.now())

	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	return s
}

func (s *Store) SessionID() string { return s.sessionID }

// Latest returns the most recently published snapshot.
func (s *Store) Latest() Snapshot {
	return *s.latest.Load()
}

// Apply applies ev to the message messageID of the active branch, creating the message if it is new. It reports whether the snapshot changed.
func (s *Store) Apply(messageID string, ev message.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	changed := s.applyLocked(messageID, ev)
	if changed {
		s.publishLocked()
	}
	return changed
}

// UpsertInfo applies server-side message fields. It is Apply with an InfoUpdated event.
func (s *Store) UpsertInfo(messageID string, info message.Info) bool {
	return s.Apply(messageID, message.InfoUpdated{Info: info})
}

type heldTool struct {
	messageID string
	ev        message.ToolEvent
}

// applyLocked applies ev to the active branch. A tool event that would start or finish a call whose permission is still open is held until the permission
// is resolved; the call stays Pending, though its name and arguments are recorded.
func (s *Store) applyLocked(messageID string, ev message.Event) bool {
	if te, ok := ev.(message.ToolEvent); ok && s.awaitsPermission(te) {
		if h, ok := s.held[te.CallID]; ok && len(te.Input) == 0 {
			te.Input = h.ev.Input
		}
		s.held[te.CallID] = heldTool{messageID: messageID, ev: te}
		s.log.Debug("tool event held for permission", "message", messageID, "call", te.CallID, "status", te.Next.Status())
		ev = message.ToolEvent{CallID: te.CallID, ToolName: te.ToolName, PartID: te.PartID, Input: te.Input, Next: part.Pending{}}
	}

	b := s.branches.active()
	i, ok := b.index[messageID]
	var cur message.Message
	if ok {
		cur = b.messages.At(i)
	} else {
		cur = message.New(messageID, s.sessionID, message.RoleAssistant)
	}

	next, changed := message.Apply(cur, ev)
	s.metrics.Event(eventKind(ev), changed)
	if !changed {
		s.log.Debug("event ignored", "message", messageID, "kind", eventKind(ev), "complete", cur.Complete)
		return false
	}

	seq := b.put(next)
	if next.Complete && !cur.Complete {
		s.archiveLocked(b.ID, seq, next)
	}
	return true
}

func (s *Store) awaitsPermission(e message.ToolEvent) bool {
	if e.CallID == "" {
		return false
	}
	switch e.Next.(type) {
	case part.Running, part.Completed:
	default:
		return false
	}
	_, open := s.perms.Get(e.CallID)
	return open
}

// releaseLocked applies the event held for callID once its permission is allowed, and drops it otherwise.
func (s *Store) releaseLocked(callID string, allowed bool) {
	h, ok := s.held[callID]
	if !ok {
		return
	}
	delete(s.held, callID)
	if !allowed {
		s.log.Debug("held tool event dropped", "call", callID)
		return
	}
	s.applyLocked(h.messageID, h.ev)
}

func (s *Store) archiveLocked(branchID string, seq int, m message.Message) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveMessage(s.sessionID, branchID, seq, m); err != nil {
		s.log.Warn("archive message", "message", m.ID, "branch", branchID, "err", err)
	}
}

// RequestPermission registers a server permission request. The call's tool part becomes Pending, and is created if the request arrived before it. When a
// recorded allow rule matches, the decision is sent at once and the tool moves to Running.
func (s *Store) RequestPermission(ctx context.Context, p permission.Permission) error {
	out, err := s.perms.Request(p)
	if err != nil {
		s.log.Warn("permission request", "permission", p.ID, "call", p.CallID, "err", err)
		return err
	}
	if out.Duplicate {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if out.Prompt && p.CallID != "" && p.MessageID != "" {
		target := s.messageWithCallLocked(p.CallID)
		if target == "" {
			target = p.MessageID
		}
		s.applyLocked(target, message.ToolEvent{CallID: p.CallID, Next: out.Pending})
	}
	if out.AutoAllowed {
		s.transitionCallLocked(p.CallID, p.MessageID, part.Running{})
		s.releaseLocked(p.CallID, true)
		s.metrics.Decision(string(permission.Allow), "auto")
		s.log.Info("permission auto-allowed", "permission", p.ID, "call", p.CallID, "rule", out.Rule)
	}
	s.publishLocked()
	s.mu.Unlock()

	if out.AutoAllowed {
		return s.deliver(ctx, permission.Resolution{Permission: p, Reply: out.Reply, Next: part.Running{}, Fresh: true})
	}
	return nil
}

// RemotePermissionReply records a decision made by the server or another client.
func (s *Store) RemotePermissionReply(permissionID string, d permission.Decision) error {
	res, err := s.perms.Remote(permissionID, d)
	if err != nil {
		return err
	}
	if !res.Fresh {
		return nil
	}
	s.metrics.Decision(string(d), "remote")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.transitionCallLocked(res.Permission.CallID, res.Permission.MessageID, res.Next)
	s.releaseLocked(res.Permission.CallID, d != permission.Deny)
	s.publishLocked()
	return nil
}

// ApproveTool allows the call once.
func (s *Store) ApproveTool(ctx context.Context, callID string) error {
	return s.decide(ctx, callID, func() (permission.Resolution, error) { return s.perms.AllowOnce(callID) })
}

// DenyTool refuses the call; its tool part becomes the denied Error.
func (s *Store) DenyTool(ctx context.Context, callID string) error {
	return s.decide(ctx, callID, func() (permission.Resolution, error) { return s.perms.Deny(callID) })
}

// AlwaysAllow allows the call and records scopeKey so matching requests are allowed without asking.
func (s *Store) AlwaysAllow(ctx context.Context, callID, scopeKey string) error {
	return s.decide(ctx, callID, func() (permission.Resolution, error) { return s.perms.AllowAlways(callID, scopeKey) })
}

// decide resolves a permission, applies the resulting tool state optimistically, then delivers the decision. A repeated decision is a no-op.
func (s *Store) decide(ctx context.Context, callID string, resolve func() (permission.Resolution, error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	res, err := resolve()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w %s: %w", ErrUnknownCall, callID, err)
	}
	if !res.Fresh {
		s.mu.Unlock()
		s.metrics.Decision(string(res.Reply.Decision), "repeat")
		return nil
	}
	s.transitionCallLocked(res.Permission.CallID, res.Permission.MessageID, res.Next)
	s.releaseLocked(res.Permission.CallID, res.Reply.Decision != permission.Deny)
	s.publishLocked()
	s.mu.Unlock()

	return s.deliver(ctx, res)
}

// deliver sends res.Reply. When delivery fails, an allowed call that is still Running is rolled back to an Error naming the failure.
func (s *Store) deliver(ctx context.Context, res permission.Resolution) error {
	decision := string(res.Reply.Decision)
	if s.sender == nil {
		s.metrics.Decision(decision, "sent")
		return nil
	}
	err := s.sender.SendDecision(ctx, res.Reply)
	if err == nil {
		s.metrics.Decision(decision, "sent")
		s.log.Debug("permission decision sent", "permission", res.Reply.PermissionID, "decision", decision)
		return nil
	}

	s.metrics.Decision(decision, "failed")
	s.log.Warn("permission decision not delivered", "permission", res.Reply.PermissionID, "call", res.Reply.CallID, "err", err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		if res.Reply.Decision != permission.Deny {
			s.transitionCallLocked(res.Permission.CallID, res.Permission.MessageID, part.Error{Message: "permission decision not delivered: " + err.Error()})
		}
		s.err = fmt.Errorf("%w: %w", ErrNotDelivered, err)
		s.publishLocked()
	}
	return fmt.Errorf("%w: %w", ErrNotDelivered, err)
}

// transitionCallLocked moves the tool part for callID to next. The call is looked up in the active branch, newest message first, then in messageID.
func (s *Store) transitionCallLocked(callID, messageID string, next part.ToolState) bool {
	if callID == "" {
		return false
	}
	target := s.messageWithCallLocked(callID)
	if target == "" {
		if _, ok := s.branches.active().index[messageID]; !ok {
			return false
		}
		target = messageID
	}
	return s.applyLocked(target, message.ToolEvent{CallID: callID, Next: next})
}

// messageWithCallLocked returns the id of the newest message in the active branch holding a tool part for callID.
func (s *Store) messageWithCallLocked(callID string) string {
	for _, m := range s.branches.active().messages.Backward() {
		if _, ok := m.ToolByCallID(callID); ok {
			return m.ID
		}
	}
	return ""
}

// ReportTransportError records a session-level error. Message state is untouched.
func (s *Store) ReportTransportError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.publishLocked()
}

// SetConnection records the transport status. Becoming Connected clears the session error.
func (s *Store) SetConnection(c ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.conn == c && (c != Connected || s.err == nil)) {
		return
	}
	s.conn = c
	if c == Connected {
		s.err = nil
	}
	s.publishLocked()
}

// Close stops delivery: subscriber channels are closed and later writes are ignored. Open permissions are dropped.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.perms.Close()
	clear(s.held)
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
}

func eventKind(ev message.Event) string {
	switch e := ev.(type) {
	case message.TextDelta:
		return "text_delta"
	case message.PartFinalized:
		return "part_finalized"
	case message.ToolEvent:
		return "tool"
	case message.StepFinishEvent:
		return "step_finish"
	case message.PartAdded:
		if e.Part != nil {
			return string(e.Part.Kind())
		}
		return "part"
	case message.InfoUpdated:
		return "info"
	default:
		return "unknown"
	}
}
