package conversation

import (
	"context"

	"github.com/pocketcode/chatcore/internal/message"
	"github.com/pocketcode/chatcore/internal/part"
	"github.com/pocketcode/chatcore/internal/permission"
	"github.com/pocketcode/chatcore/internal/tiplist"
)

// Snapshot is the state of a session at one Version. It is immutable: slices in it must not be modified.
type Snapshot struct {
	Version        uint64
	SessionID      string
	ActiveBranchID string
	Branches       []Branch
	Messages       tiplist.List[message.Message] // active branch, in order
	Permissions    []permission.Permission
	Rules          []string
	Connection     ConnState
	Err            error
}

// Message returns the message with id on the active branch.
func (s Snapshot) Message(id string) (message.Message, bool) {
	for _, m := range s.Messages.Backward() {
		if m.ID == id {
			return m, true
		}
	}
	return message.Message{}, false
}

// Tool returns the tool part for callID on the active branch.
func (s Snapshot) Tool(callID string) (part.Tool, bool) {
	for _, m := range s.Messages.Backward() {
		if t, ok := m.ToolByCallID(callID); ok {
			return t, true
		}
	}
	return part.Tool{}, false
}

// Permission returns the open permission for callID.
func (s Snapshot) Permission(callID string) (permission.Permission, bool) {
	for _, p := range s.Permissions {
		if p.CallID == callID {
			return p, true
		}
	}
	return permission.Permission{}, false
}

func (s Snapshot) Branch(id string) (Branch, bool) {
	for _, b := range s.Branches {
		if b.ID == id {
			return b, true
		}
	}
	return Branch{}, false
}

type subscriber struct {
	ch chan Snapshot
}

// send delivers snap without blocking. When the buffer is full the oldest undelivered snapshot is discarded. Only the writer sends, so the second send cannot
// block.
func (sub *subscriber) send(snap Snapshot) (dropped bool) {
	select {
	case sub.ch <- snap:
		return false
	default:
	}
	select {
	case <-sub.ch:
		dropped = true
	default:
	}
	select {
	case sub.ch <- snap:
	default:
	}
	return dropped
}

// publishLocked builds the next snapshot, stores it as latest, and delivers it to subscribers.
func (s *Store) publishLocked() {
	s.version++
	b := s.branches.active()
	snap := &Snapshot{
		Version:        s.version,
		SessionID:      s.sessionID,
		ActiveBranchID: b.ID,
		Branches:       s.branches.views(),
		Messages:       b.messages,
		Permissions:    s.perms.Open(),
		Rules:          s.perms.Rules(),
		Connection:     s.conn,
		Err:            s.err,
	}
	s.latest.Store(snap)
	s.metrics.SnapshotPublished()
	s.metrics.OpenPermissions(len(snap.Permissions))

	for _, sub := range s.subs {
		if sub.send(*snap) {
			s.metrics.SnapshotDropped()
		}
	}
}

// Subscribe returns a channel that receives the latest snapshot immediately and every later one in order. A subscriber that falls behind loses its oldest
// undelivered snapshots, never the newest. The channel is closed when ctx is done or the store is closed.
func (s *Store) Subscribe(ctx context.Context) <-chan Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscriber{ch: make(chan Snapshot, s.bufSize)}
	if s.closed {
		close(sub.ch)
		return sub.ch
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	sub.send(*s.latest.Load())

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.ch)
		}
	}()
	return sub.ch
}
