package conversation

import (
	"fmt"
	"time"

	"github.com/pocketcode/chatcore/internal/message"
	"github.com/pocketcode/chatcore/internal/tiplist"
)

// Branch describes one alternate continuation of the conversation. The root branch has no parent.
type Branch struct {
	ID              string
	ParentID        string // parent branch
	ParentMessageID string // last message shared with the parent branch
	CreatedAt       time.Time
	Title           string
	MessageCount    int
	IsActive        bool
}

type branchRec struct {
	ID              string
	ParentID        string
	ParentMessageID string
	CreatedAt       time.Time
	Title           string
	active          bool

	messages tiplist.List[message.Message]
	index    map[string]int // message id -> position
}

// put stores m, replacing the message with the same id or appending it, and returns its position. Published snapshots share the list, so it is replaced, never
// written in place. Updating the newest message, the streaming case, does not copy.
func (b *branchRec) put(m message.Message) int {
	if i, ok := b.index[m.ID]; ok {
		b.messages = b.messages.Set(i, m)
		return i
	}
	b.messages = b.messages.Append(m)
	b.index[m.ID] = b.messages.Len() - 1
	return b.messages.Len() - 1
}

func (b *branchRec) view() Branch {
	return Branch{
		ID:              b.ID,
		ParentID:        b.ParentID,
		ParentMessageID: b.ParentMessageID,
		CreatedAt:       b.CreatedAt,
		Title:           b.Title,
		MessageCount:    b.messages.Len(),
		IsActive:        b.active,
	}
}

// arena is the branch tree: records in creation order plus an id index. Parent links are ids, so there are no pointer cycles.
type arena struct {
	recs     []*branchRec
	byID     map[string]int
	activeID string
}

func newArena(rootID string, now time.Time) *arena {
	root := &branchRec{ID: rootID, CreatedAt: now, Title: rootID, active: true, index: make(map[string]int)}
	return &arena{recs: []*branchRec{root}, byID: map[string]int{rootID: 0}, activeID: rootID}
}

func (a *arena) get(id string) (*branchRec, bool) {
	i, ok := a.byID[id]
	if !ok {
		return nil, false
	}
	return a.recs[i], true
}

func (a *arena) active() *branchRec {
	b, _ := a.get(a.activeID)
	return b
}

func (a *arena) add(b *branchRec) {
	a.byID[b.ID] = len(a.recs)
	a.recs = append(a.recs, b)
}

// activate makes id the active branch and marks it and each of its ancestors active among their siblings.
func (a *arena) activate(id string) {
	a.activeID = id
	for cur, ok := a.get(id); ok; cur, ok = a.get(cur.ParentID) {
		for _, other := range a.recs {
			if other.ID != cur.ID && other.ParentID == cur.ParentID && other.ParentMessageID == cur.ParentMessageID && other.ParentID != "" {
				other.active = false
			}
		}
		cur.active = true
		if cur.ParentID == "" {
			break
		}
	}
}

// subtree returns id and all of its descendants.
func (a *arena) subtree(id string) map[string]bool {
	out := map[string]bool{id: true}
	for grew := true; grew; {
		grew = false
		for _, b := range a.recs {
			if !out[b.ID] && out[b.ParentID] {
				out[b.ID] = true
				grew = true
			}
		}
	}
	return out
}

// remove drops every branch in ids and rebuilds the index.
func (a *arena) remove(ids map[string]bool) {
	kept := a.recs[:0:0]
	for _, b := range a.recs {
		if !ids[b.ID] {
			kept = append(kept, b)
		}
	}
	a.recs = kept
	a.byID = make(map[string]int, len(kept))
	for i, b := range kept {
		a.byID[b.ID] = i
	}
}

func (a *arena) views() []Branch {
	out := make([]Branch, 0, len(a.recs))
	for _, b := range a.recs {
		out = append(out, b.view())
	}
	return out
}

// CreateBranch forks the active branch after fromMessageID: the new branch holds the active branch's messages up to and including that message, and becomes
// active. An empty title is derived from the message text.
func (s *Store) CreateBranch(fromMessageID, title string) (Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Branch{}, ErrClosed
	}

	parent := s.branches.active()
	i, ok := parent.index[fromMessageID]
	if !ok {
		return Branch{}, fmt.Errorf("%w: %s", ErrUnknownMessage, fromMessageID)
	}
	if title == "" {
		title = parent.messages.At(i).Preview(40)
	}
	if title == "" {
		title = fmt.Sprintf("Branch %d", len(s.branches.recs))
	}

	b := &branchRec{
		ID:              s.newID(),
		ParentID:        parent.ID,
		ParentMessageID: fromMessageID,
		CreatedAt:       s.now(),
		Title:           title,
		messages:        parent.messages.Prefix(i + 1),
		index:           make(map[string]int, i+1),
	}
	for j, m := range b.messages.All() {
		b.index[m.ID] = j
	}
	s.branches.add(b)
	s.branches.activate(b.ID)
	s.log.Info("branch created", "branch", b.ID, "parent", parent.ID, "from", fromMessageID)
	s.publishLocked()
	return b.view(), nil
}

// SelectBranch makes id the active branch. Later stream events apply to it.
func (s *Store) SelectBranch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.branches.get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBranch, id)
	}
	if s.branches.activeID == id {
		return nil
	}
	s.branches.activate(id)
	s.publishLocked()
	return nil
}

// DeleteBranch removes the branch and its descendants. The root cannot be deleted. If the active branch is removed, the deleted branch's parent becomes active.
func (s *Store) DeleteBranch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	b, ok := s.branches.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBranch, id)
	}
	if b.ParentID == "" {
		return ErrRootBranch
	}

	gone := s.branches.subtree(id)
	s.branches.remove(gone)
	if gone[s.branches.activeID] {
		s.branches.activate(b.ParentID)
	}
	if s.archive != nil {
		for bid := range gone {
			if err := s.archive.DeleteBranch(s.sessionID, bid); err != nil {
				s.log.Warn("archive delete branch", "branch", bid, "err", err)
			}
		}
	}
	s.log.Info("branch deleted", "branch", id, "removed", len(gone))
	s.publishLocked()
	return nil
}
