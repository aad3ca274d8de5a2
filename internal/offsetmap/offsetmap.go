// Package offsetmap provides an ordered map keyed by document offset whose
// keys can be shifted in bulk when text is inserted or removed.
//
// The map is a treap. Shifting every key at or after an offset splits the
// tree there, records the delta lazily on the right part and merges the two
// halves again, so the cost does not depend on how many entries move.
//
// A Map is not safe for concurrent mutation. Read operations never modify the
// tree, so concurrent readers are fine as long as no writer runs.
package offsetmap

import (
	"iter"
	"math/rand/v2"
)

type node[V any] struct {
	key   int
	prio  uint32
	val   V
	lazy  int // pending delta for both subtrees
	left  *node[V]
	right *node[V]
}

func (n *node[V]) shift(delta int) {
	if n != nil {
		n.key += delta
		n.lazy += delta
	}
}

func (n *node[V]) push() {
	if n.lazy != 0 {
		n.left.shift(n.lazy)
		n.right.shift(n.lazy)
		n.lazy = 0
	}
}

// Entry is a key/value pair.
type Entry[V any] struct {
	Key   int
	Value V
}

// Map is an offset-keyed ordered map.
type Map[V any] struct {
	root *node[V]
	size int
}

// New returns an empty map.
func New[V any]() *Map[V] {
	return &Map[V]{}
}

// Len returns the number of entries.
func (m *Map[V]) Len() int {
	return m.size
}

// split divides t into keys < k and keys >= k.
func split[V any](t *node[V], k int) (*node[V], *node[V]) {
	if t == nil {
		return nil, nil
	}
	t.push()
	if t.key < k {
		l, r := split(t.right, k)
		t.right = l
		return t, r
	}
	l, r := split(t.left, k)
	t.left = r
	return l, t
}

// merge joins a and b, where every key in a is below every key in b.
func merge[V any](a, b *node[V]) *node[V] {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.prio > b.prio {
		a.push()
		a.right = merge(a.right, b)
		return a
	}
	b.push()
	b.left = merge(a, b.left)
	return b
}

// Put stores value at offset, replacing any existing entry there.
func (m *Map[V]) Put(offset int, value V) {
	l, r := split(m.root, offset)
	mid, r := split(r, offset+1)
	if mid == nil {
		mid = &node[V]{key: offset, prio: rand.Uint32()}
		m.size++
	}
	mid.val = value
	m.root = merge(merge(l, mid), r)
}

// RemoveAt deletes the entry at offset and reports whether one existed.
func (m *Map[V]) RemoveAt(offset int) bool {
	l, r := split(m.root, offset)
	mid, r := split(r, offset+1)
	m.root = merge(l, r)
	if mid != nil {
		m.size--
		return true
	}
	return false
}

// RemoveRange deletes every entry with from <= key < to and returns them in
// key order.
func (m *Map[V]) RemoveRange(from, to int) []Entry[V] {
	if to <= from {
		return nil
	}
	l, r := split(m.root, from)
	mid, r := split(r, to)
	m.root = merge(l, r)
	removed := collect(mid)
	m.size -= len(removed)
	return removed
}

// Clear removes every entry.
func (m *Map[V]) Clear() {
	m.root = nil
	m.size = 0
}

// ApplyOffset adds delta to the key of every entry at or after fromOffset.
// A negative delta must not move a key onto or before an unshifted key;
// callers remove the affected range first.
func (m *Map[V]) ApplyOffset(fromOffset, delta int) {
	if delta == 0 || m.root == nil {
		return
	}
	l, r := split(m.root, fromOffset)
	r.shift(delta)
	m.root = merge(l, r)
}

// Find returns the value stored at exactly offset.
func (m *Map[V]) Find(offset int) (V, bool) {
	acc := 0
	for n := m.root; n != nil; {
		k := n.key + acc
		switch {
		case offset == k:
			return n.val, true
		case offset < k:
			acc += n.lazy
			n = n.left
		default:
			acc += n.lazy
			n = n.right
		}
	}
	var zero V
	return zero, false
}

// Floor returns the entry with the greatest key <= offset.
func (m *Map[V]) Floor(offset int) (Entry[V], bool) {
	return m.search(offset, true)
}

// Ceiling returns the entry with the smallest key >= offset.
func (m *Map[V]) Ceiling(offset int) (Entry[V], bool) {
	return m.search(offset, false)
}

func (m *Map[V]) search(offset int, floor bool) (Entry[V], bool) {
	var best Entry[V]
	found := false
	acc := 0
	for n := m.root; n != nil; {
		k := n.key + acc
		if k == offset {
			return Entry[V]{Key: k, Value: n.val}, true
		}
		acc += n.lazy
		if (k < offset) == floor {
			best, found = Entry[V]{Key: k, Value: n.val}, true
		}
		if k < offset {
			n = n.right
		} else {
			n = n.left
		}
	}
	return best, found
}

// All iterates over every entry in key order.
func (m *Map[V]) All() iter.Seq2[int, V] {
	return func(yield func(int, V) bool) {
		type frame struct {
			n   *node[V]
			acc int
		}
		var stack []frame
		n, acc := m.root, 0
		for n != nil || len(stack) > 0 {
			for n != nil {
				stack = append(stack, frame{n, acc})
				acc += n.lazy
				n = n.left
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(f.n.key+f.acc, f.n.val) {
				return
			}
			n, acc = f.n.right, f.acc+f.n.lazy
		}
	}
}

// Entries returns every entry in key order.
func (m *Map[V]) Entries() []Entry[V] {
	out := make([]Entry[V], 0, m.size)
	for k, v := range m.All() {
		out = append(out, Entry[V]{Key: k, Value: v})
	}
	return out
}

func collect[V any](t *node[V]) []Entry[V] {
	tmp := &Map[V]{root: t}
	var out []Entry[V]
	for k, v := range tmp.All() {
		out = append(out, Entry[V]{Key: k, Value: v})
	}
	return out
}

// Iterator walks a Map in either direction from a cursor that sits between
// entries. Modifying the map invalidates nothing: each step is a fresh
// lookup relative to the cursor.
type Iterator[V any] struct {
	m      *Map[V]
	cursor int
}

// IteratorAt returns an iterator whose cursor sits just before offset: Next
// yields the first entry at or after offset, Prev the last entry before it.
// The offset need not be present in the map.
func (m *Map[V]) IteratorAt(offset int) *Iterator[V] {
	return &Iterator[V]{m: m, cursor: offset}
}

// Next returns the entry after the cursor and moves the cursor past it.
func (it *Iterator[V]) Next() (Entry[V], bool) {
	e, ok := it.m.Ceiling(it.cursor)
	if ok {
		it.cursor = e.Key + 1
	}
	return e, ok
}

// Prev returns the entry before the cursor and moves the cursor before it.
func (it *Iterator[V]) Prev() (Entry[V], bool) {
	e, ok := it.m.Floor(it.cursor - 1)
	if ok {
		it.cursor = e.Key
	}
	return e, ok
}
