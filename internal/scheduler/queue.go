package scheduler

import (
	"github.com/leapstack-labs/sqlsense/internal/offsetmap"
	"github.com/leapstack-labs/sqlsense/internal/syntaxctx"
)

// regionQueue holds the regions still to be analysed as start -> length
// entries. Regions never overlap; touching regions are merged.
type regionQueue struct {
	m *offsetmap.Map[int]
}

func newRegionQueue() *regionQueue {
	return &regionQueue{m: offsetmap.New[int]()}
}

func (q *regionQueue) len() int {
	return q.m.Len()
}

func (q *regionQueue) regions() []syntaxctx.Interval {
	entries := q.m.Entries()
	out := make([]syntaxctx.Interval, len(entries))
	for i, e := range entries {
		out[i] = syntaxctx.Interval{Start: e.Key, End: e.Key + e.Value}
	}
	return out
}

// add queues iv, merging it with every region it touches.
func (q *regionQueue) add(iv syntaxctx.Interval) {
	if iv.Empty() {
		return
	}
	merged := iv
	if e, ok := q.m.Floor(iv.Start); ok && e.Key+e.Value >= iv.Start {
		q.m.RemoveAt(e.Key)
		merged = merged.Union(syntaxctx.Interval{Start: e.Key, End: e.Key + e.Value})
	}
	for _, e := range q.m.RemoveRange(merged.Start, merged.End+1) {
		merged = merged.Union(syntaxctx.Interval{Start: e.Key, End: e.Key + e.Value})
	}
	q.m.Put(merged.Start, merged.Len())
}

// remove unqueues iv, keeping the parts of regions outside it.
func (q *regionQueue) remove(iv syntaxctx.Interval) {
	if iv.Empty() {
		return
	}
	var hit []offsetmap.Entry[int]
	if e, ok := q.m.Floor(iv.Start - 1); ok && e.Key+e.Value > iv.Start {
		q.m.RemoveAt(e.Key)
		hit = append(hit, e)
	}
	hit = append(hit, q.m.RemoveRange(iv.Start, iv.End)...)
	for _, e := range hit {
		if e.Key < iv.Start {
			q.m.Put(e.Key, iv.Start-e.Key)
		}
		if end := e.Key + e.Value; end > iv.End {
			q.m.Put(iv.End, end-iv.End)
		}
	}
}

// shift maps the queue through an edit replacing removed bytes at offset
// with inserted bytes. Regions after the edit move; regions the edit touches
// are stretched over it.
func (q *regionQueue) shift(offset, removed, inserted int) {
	delta := inserted - removed
	editEnd := offset + removed

	var hit []offsetmap.Entry[int]
	if e, ok := q.m.Floor(offset - 1); ok && e.Key+e.Value >= offset {
		q.m.RemoveAt(e.Key)
		hit = append(hit, e)
	}
	hit = append(hit, q.m.RemoveRange(offset, editEnd+1)...)
	q.m.ApplyOffset(editEnd, delta)

	for _, e := range hit {
		start, end := e.Key, e.Key+e.Value
		if start > offset {
			start = offset
		}
		if end >= editEnd {
			end += delta
		} else {
			end = offset + inserted
		}
		q.add(syntaxctx.Interval{Start: start, End: max(end, start+1)})
	}
}

// within returns the union of the queued regions overlapping iv, clipped to
// iv.
func (q *regionQueue) within(iv syntaxctx.Interval) syntaxctx.Interval {
	var out syntaxctx.Interval
	for _, r := range q.regions() {
		out = out.Union(r.Intersect(iv))
	}
	return out
}

// touches reports whether any queued region contains or borders offset.
func (q *regionQueue) touches(offset int) bool {
	e, ok := q.m.Floor(offset)
	return ok && e.Key+e.Value >= offset
}

func (q *regionQueue) clear() {
	q.m.Clear()
}
