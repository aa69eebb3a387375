// Package tiplist provides List, an immutable sequence whose last element can be replaced and whose end can be extended in amortized O(1).
//
// A List is a shared, append-only head plus a separately held last element. Versions derived from one another share the head's backing array. Each version
// only reads head[:len(head)], so writing past that length is invisible to it. A watermark records the longest head handed out for the shared array: only a
// version whose head length equals the watermark may extend the array in place; any other version copies first. Replacing the last element never touches the
// shared array at all. Replacing any other element copies the head.
package tiplist

import (
	"iter"
	"sync/atomic"
)

// List is an immutable sequence of T. The zero value is empty and ready to use.
type List[T any] struct {
	head    []T
	tip     *atomic.Int64
	last    T
	hasLast bool
}

// Of returns a list holding vs.
func Of[T any](vs ...T) List[T] {
	var l List[T]
	if len(vs) == 0 {
		return l
	}
	head := make([]T, len(vs)-1, len(vs))
	copy(head, vs)
	tip := new(atomic.Int64)
	tip.Store(int64(len(head)))
	return List[T]{head: head, tip: tip, last: vs[len(vs)-1], hasLast: true}
}

func (l List[T]) Len() int {
	if !l.hasLast {
		return 0
	}
	return len(l.head) + 1
}

// At returns the i-th element. It panics when i is out of range, like a slice index.
func (l List[T]) At(i int) T {
	if i == len(l.head) && l.hasLast {
		return l.last
	}
	return l.head[i]
}

// Last returns the final element, if any.
func (l List[T]) Last() (T, bool) {
	return l.last, l.hasLast
}

// Append returns l with v added at the end.
func (l List[T]) Append(v T) List[T] {
	if l.hasLast {
		l.head, l.tip = push(l.head, l.tip, l.last)
	}
	l.last = v
	l.hasLast = true
	return l
}

// Set returns l with the i-th element replaced by v. Replacing the last element is O(1); any other index copies the head.
func (l List[T]) Set(i int, v T) List[T] {
	if i == len(l.head) && l.hasLast {
		l.last = v
		return l
	}
	_ = l.head[i]
	head := make([]T, len(l.head), cap(l.head))
	copy(head, l.head)
	head[i] = v
	tip := new(atomic.Int64)
	tip.Store(int64(len(head)))
	l.head, l.tip = head, tip
	return l
}

// Prefix returns the first n elements as a new list that shares nothing writable with l.
func (l List[T]) Prefix(n int) List[T] {
	return Of(l.Slice()[:n]...)
}

// All iterates the elements in order.
func (l List[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, v := range l.head {
			if !yield(i, v) {
				return
			}
		}
		if l.hasLast {
			yield(len(l.head), l.last)
		}
	}
}

// Backward iterates the elements from last to first.
func (l List[T]) Backward() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		if l.hasLast && !yield(len(l.head), l.last) {
			return
		}
		for i := len(l.head) - 1; i >= 0; i-- {
			if !yield(i, l.head[i]) {
				return
			}
		}
	}
}

// Slice returns a fresh slice holding the elements.
func (l List[T]) Slice() []T {
	out := make([]T, 0, l.Len())
	out = append(out, l.head...)
	if l.hasLast {
		out = append(out, l.last)
	}
	return out
}

// push appends v to head, in place when head is at the watermark and has room, otherwise into a new array twice the size.
func push[T any](head []T, tip *atomic.Int64, v T) ([]T, *atomic.Int64) {
	n := len(head)
	if tip != nil && cap(head) > n && tip.CompareAndSwap(int64(n), int64(n+1)) {
		return append(head, v), tip
	}
	size := 2 * (n + 1)
	if size < 8 {
		size = 8
	}
	buf := make([]T, n, size)
	copy(buf, head)
	buf = append(buf, v)
	tip = new(atomic.Int64)
	tip.Store(int64(len(buf)))
	return buf, tip
}
