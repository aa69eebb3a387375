// Package archive persists completed messages in a Pebble database so a session's history can be read back after the stream is gone.
//
// Keys are "session:<sid>:branch:<bid>:msg:<seq>" with seq zero-padded, so a prefix scan returns a branch in conversation order. Values are the JSON form of
// message.Record.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/pocketcode/chatcore/internal/message"
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("archive: closed")

type Archive struct {
	db *pebble.DB
}

// Open opens (creating if needed) the archive in dir.
func Open(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", dir, err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func branchPrefix(sessionID, branchID string) []byte {
	return []byte("session:" + sessionID + ":branch:" + branchID + ":msg:")
}

func messageKey(sessionID, branchID string, seq int) []byte {
	return fmt.Appendf(branchPrefix(sessionID, branchID), "%010d", seq)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// SaveMessage stores m at position seq of the branch, replacing what was there.
func (a *Archive) SaveMessage(sessionID, branchID string, seq int, m message.Message) error {
	if a == nil || a.db == nil {
		return ErrClosed
	}
	b, err := json.Marshal(message.RecordOf(m))
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", m.ID, err)
	}
	if err := a.db.Set(messageKey(sessionID, branchID, seq), b, pebble.Sync); err != nil {
		return fmt.Errorf("archive: save %s: %w", m.ID, err)
	}
	return nil
}

// LoadBranch returns the archived messages of a branch in order. A branch with nothing archived yields nil.
func (a *Archive) LoadBranch(sessionID, branchID string) ([]message.Message, error) {
	if a == nil || a.db == nil {
		return nil, ErrClosed
	}
	prefix := branchPrefix(sessionID, branchID)
	it, err := a.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer it.Close()

	var out []message.Message
	for ok := it.First(); ok; ok = it.Next() {
		var r message.Record
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("archive: decode %s: %w", it.Key(), err)
		}
		out = append(out, r.Message())
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return out, nil
}

// Branches returns the ids of the session's branches that have archived messages, in key order.
func (a *Archive) Branches(sessionID string) ([]string, error) {
	if a == nil || a.db == nil {
		return nil, ErrClosed
	}
	prefix := []byte("session:" + sessionID + ":branch:")
	it, err := a.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer it.Close()

	var out []string
	for ok := it.First(); ok; ok = it.Next() {
		rest := string(it.Key()[len(prefix):])
		id, _, found := strings.Cut(rest, ":msg:")
		if !found {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != id {
			out = append(out, id)
		}
	}
	return out, it.Error()
}

// DeleteBranch removes every archived message of a branch.
func (a *Archive) DeleteBranch(sessionID, branchID string) error {
	if a == nil || a.db == nil {
		return ErrClosed
	}
	prefix := branchPrefix(sessionID, branchID)
	if err := a.db.DeleteRange(prefix, prefixEnd(prefix), pebble.Sync); err != nil {
		return fmt.Errorf("archive: delete branch %s: %w", branchID, err)
	}
	return nil
}
