package part

import "sync/atomic"

// appendLog is an immutable byte string that supports amortized O(1) appends.
//
// Successive versions of a streaming part share one backing array. Each version only reads data[:len(data)], so writing past that length is invisible to it.
// tip records the longest length handed out for the shared array: only a version whose length equals tip may extend the array in place. Appending to any other
// (older) version copies, which keeps every version immutable.
type appendLog struct {
	data []byte
	tip  *atomic.Int64
}

func (l appendLog) String() string { return string(l.data) }

func (l appendLog) Len() int { return len(l.data) }

func (l appendLog) append(s string) appendLog {
	if s == "" {
		return l
	}
	n := len(l.data)
	if l.tip != nil && cap(l.data)-n >= len(s) && l.tip.CompareAndSwap(int64(n), int64(n+len(s))) {
		return appendLog{data: append(l.data, s...), tip: l.tip}
	}

	size := 2 * (n + len(s))
	if size < 64 {
		size = 64
	}
	buf := make([]byte, n, size)
	copy(buf, l.data)
	buf = append(buf, s...)
	tip := new(atomic.Int64)
	tip.Store(int64(len(buf)))
	return appendLog{data: buf, tip: tip}
}
