// Package syntaxctx keeps the per-statement analysis results of one
// document, keyed by statement start offset, and keeps those offsets in step
// with edits.
package syntaxctx

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/leapstack-labs/sqlsense/internal/offsetmap"
	"github.com/leapstack-labs/sqlsense/internal/semantic"
)

// ScriptItem is the analysis of one statement or control command. Items
// handed out by a Context are copies; Start reflects the item's position at
// the time of the call.
type ScriptItem struct {
	Start             int
	Length            int
	Text              string
	EndsWithDelimiter bool
	IsCommand         bool
	// Dirty marks an item whose text is unchanged but whose boundaries may
	// have moved, for instance after a delimiter was typed before it.
	Dirty bool
	// Generation increases with every registration in the owning context.
	Generation uint64
	Model      *semantic.Model
}

// End returns the offset just past the item.
func (it ScriptItem) End() int {
	return it.Start + it.Length
}

// Interval returns the range the item covers.
func (it ScriptItem) Interval() Interval {
	return Interval{Start: it.Start, End: it.End()}
}

// Symbols returns the item's symbols. Their offsets are relative to Start.
func (it ScriptItem) Symbols() []*semantic.SymbolEntry {
	if it.Model == nil {
		return nil
	}
	return it.Model.Symbols
}

// Problems returns the item's problems, relative to Start.
func (it ScriptItem) Problems() []semantic.Problem {
	if it.Model == nil {
		return nil
	}
	return it.Model.Problems
}

// claims reports whether offset belongs to the item. The position right
// after an undelimited statement still belongs to it, so that a cursor at
// the end of "SELECT * FROM t" is inside the statement.
func (it *ScriptItem) claims(start, offset int) bool {
	end := start + it.Length
	if offset < start {
		return false
	}
	if offset < end {
		return true
	}
	return offset == end && !it.EndsWithDelimiter
}

// Options configures a Context.
type Options struct {
	// BlankLineDelimiter must match the statement splitter: when set, a
	// newline typed or deleted may move statement boundaries.
	BlankLineDelimiter bool
	// CommandMarker starts a control command. Zero means '@'.
	CommandMarker byte
	Logger        *slog.Logger
}

// Listener is told about every range whose script items changed.
type Listener func(changed Interval)

// Context holds the script items of one document. At most one item claims
// any offset. Context is safe for concurrent use.
type Context struct {
	opts   Options
	logger *slog.Logger

	mu         sync.RWMutex
	items      *offsetmap.Map[*ScriptItem]
	known      Interval
	generation uint64

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// New returns an empty context.
func New(opts Options) *Context {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.CommandMarker == 0 {
		opts.CommandMarker = '@'
	}
	return &Context{
		opts:      opts,
		logger:    logger,
		items:     offsetmap.New[*ScriptItem](),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers l and returns a function removing it.
func (c *Context) Subscribe(l Listener) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Context) notify(changed Interval) {
	c.lmu.Lock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.lmu.Unlock()
	for _, l := range ls {
		l(changed)
	}
}

// ApplyDelta updates the items for an edit replacing removed bytes at
// offset with inserted bytes. Items after the edit are shifted; items the
// edit touches are dropped. It returns the region, in post-edit offsets,
// that must be analysed again.
func (c *Context) ApplyDelta(offset, removed, inserted int) Interval {
	c.mu.Lock()
	region := c.applyDelta(offset, removed, inserted)
	c.mu.Unlock()
	c.notify(region)
	return region
}

// ApplyDeltaText is ApplyDelta for callers that know the edited text. When
// either text could open or close a statement, quote or comment, the effect
// on later statements cannot be judged locally: the returned region then
// extends to EndOfDocument and the items after the edit are marked dirty.
func (c *Context) ApplyDeltaText(offset int, removedText, insertedText string) Interval {
	c.mu.Lock()
	region := c.applyDelta(offset, len(removedText), len(insertedText))
	if c.AffectsBoundaries(removedText) || c.AffectsBoundaries(insertedText) {
		region.End = EndOfDocument
		c.markDirtyFrom(offset + len(insertedText))
	}
	c.mu.Unlock()
	c.notify(region)
	return region
}

// MarkDirtyFrom marks every item starting at or after offset dirty.
func (c *Context) MarkDirtyFrom(offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markDirtyFrom(offset)
}

func (c *Context) markDirtyFrom(offset int) {
	it := c.items.IteratorAt(offset)
	for e, ok := it.Next(); ok; e, ok = it.Next() {
		e.Value.Dirty = true
	}
}

// AffectsBoundaries reports whether text may open or close a statement,
// quote or comment.
func (c *Context) AffectsBoundaries(text string) bool {
	if strings.ContainsAny(text, ";'\"`$*/-") || strings.IndexByte(text, c.opts.CommandMarker) >= 0 {
		return true
	}
	return c.opts.BlankLineDelimiter && strings.Contains(text, "\n")
}

func (c *Context) applyDelta(offset, removed, inserted int) Interval {
	delta := inserted - removed
	editEnd := offset + removed
	region := Interval{Start: offset, End: offset + inserted}

	var affected []offsetmap.Entry[*ScriptItem]
	if e, ok := c.items.Floor(offset - 1); ok && e.Value.claims(e.Key, offset) {
		c.items.RemoveAt(e.Key)
		affected = append(affected, e)
	}
	affected = append(affected, c.items.RemoveRange(offset, editEnd+1)...)
	c.items.ApplyOffset(editEnd, delta)

	for _, e := range affected {
		start, end := e.Key, e.Key+e.Value.Length
		if start > offset {
			start = offset
		}
		if end >= editEnd {
			end += delta
		} else {
			end = offset + inserted
		}
		region = region.Union(Interval{Start: start, End: max(end, start)})
	}
	if region.Empty() {
		region = Interval{Start: offset, End: offset + 1}
	}

	c.known = shiftInterval(c.known, offset, editEnd, delta)
	if len(affected) > 0 {
		c.logger.Debug("script items invalidated", "offset", offset, "count", len(affected))
	}
	return region
}

// shiftInterval maps iv through an edit replacing [offset, editEnd).
func shiftInterval(iv Interval, offset, editEnd, delta int) Interval {
	mapPos := func(p int) int {
		switch {
		case p <= offset:
			return p
		case p >= editEnd:
			return p + delta
		default:
			return offset
		}
	}
	if iv.Empty() {
		return iv
	}
	out := Interval{Start: mapPos(iv.Start), End: iv.End}
	if iv.End != EndOfDocument {
		out.End = mapPos(iv.End)
	}
	return out
}

// RegisterScriptItemContext stores the analysis of the statement at
// [offset, offset+length), replacing every item overlapping that range.
func (c *Context) RegisterScriptItemContext(text string, model *semantic.Model, offset, length int, endsWithDelimiter bool) ScriptItem {
	c.mu.Lock()
	if e, ok := c.items.Floor(offset - 1); ok && e.Key+e.Value.Length > offset {
		c.items.RemoveAt(e.Key)
	}
	c.items.RemoveRange(offset, offset+max(length, 1))
	c.generation++
	item := &ScriptItem{
		Length:            length,
		Text:              text,
		EndsWithDelimiter: endsWithDelimiter,
		IsCommand:         model != nil && model.IsCommand,
		Generation:        c.generation,
		Model:             model,
	}
	c.items.Put(offset, item)
	out := *item
	out.Start = offset
	c.mu.Unlock()

	c.notify(out.Interval())
	return out
}

// FindScriptItem returns the item claiming offset.
func (c *Context) FindScriptItem(offset int) (ScriptItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items.Floor(offset)
	if !ok || !e.Value.claims(e.Key, offset) {
		return ScriptItem{}, false
	}
	out := *e.Value
	out.Start = e.Key
	return out, true
}

// PreviousScriptItem returns the last item starting before offset.
func (c *Context) PreviousScriptItem(offset int) (ScriptItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items.Floor(offset - 1)
	if !ok {
		return ScriptItem{}, false
	}
	out := *e.Value
	out.Start = e.Key
	return out, true
}

// RestartOffset returns a statement start at or before offset from which
// the text can be scanned again: the start of the last clean item ending at
// or before offset, or zero.
func (c *Context) RestartOffset(offset int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it := c.items.IteratorAt(offset + 1)
	for e, ok := it.Prev(); ok; e, ok = it.Prev() {
		if !e.Value.Dirty && e.Key+e.Value.Length <= offset {
			return e.Key
		}
	}
	return 0
}

// ItemsIn returns the items overlapping iv in offset order.
func (c *Context) ItemsIn(iv Interval) []ScriptItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ScriptItem
	it := c.items.IteratorAt(iv.Start)
	if e, ok := it.Prev(); ok && e.Key+e.Value.Length > iv.Start {
		out = append(out, copyItem(e))
	}
	it = c.items.IteratorAt(iv.Start)
	for e, ok := it.Next(); ok && e.Key < iv.End; e, ok = it.Next() {
		out = append(out, copyItem(e))
	}
	return out
}

func copyItem(e offsetmap.Entry[*ScriptItem]) ScriptItem {
	out := *e.Value
	out.Start = e.Key
	return out
}

// DropInvisibleScriptItems evicts every item lying entirely outside visible
// widened by margin on each side, and returns the range still known.
func (c *Context) DropInvisibleScriptItems(visible Interval, margin int) Interval {
	retained := Interval{Start: max(0, visible.Start-margin), End: visible.End}
	if retained.End <= EndOfDocument-margin {
		retained.End += margin
	}

	c.mu.Lock()
	var dropped []offsetmap.Entry[*ScriptItem]
	for _, e := range c.items.Entries() {
		if e.Key+e.Value.Length < retained.Start || e.Key > retained.End {
			dropped = append(dropped, e)
		}
	}
	for _, e := range dropped {
		c.items.RemoveAt(e.Key)
	}
	c.known = c.known.Intersect(retained)
	known := c.known
	c.mu.Unlock()

	if len(dropped) > 0 {
		c.logger.Debug("script items evicted", "count", len(dropped), "retained", retained.String())
	}
	return known
}

// DropStale removes the items starting inside iv whose generation is at
// most gen, and returns how many were removed.
func (c *Context) DropStale(iv Interval, gen uint64) int {
	c.mu.Lock()
	var stale []int
	it := c.items.IteratorAt(iv.Start)
	for e, ok := it.Next(); ok && e.Key < iv.End; e, ok = it.Next() {
		if e.Value.Generation <= gen {
			stale = append(stale, e.Key)
		}
	}
	for _, k := range stale {
		c.items.RemoveAt(k)
	}
	c.mu.Unlock()

	if len(stale) > 0 {
		c.notify(iv)
	}
	return len(stale)
}

// Generation returns the generation of the most recent registration.
func (c *Context) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Known returns the range whose analysis is current.
func (c *Context) Known() Interval {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.known
}

// MarkKnown records that iv has been analysed. A range disjoint from the
// current known range replaces it.
func (c *Context) MarkKnown(iv Interval) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known.Touches(iv) {
		c.known = c.known.Union(iv)
	} else {
		c.known = iv
	}
}

// Len returns the number of items.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items.Len()
}

// Clear removes every item and forgets the known range.
func (c *Context) Clear() {
	c.mu.Lock()
	c.items.Clear()
	c.known = Interval{}
	c.mu.Unlock()
	c.notify(Interval{Start: 0, End: EndOfDocument})
}

// Snapshot returns a read-only copy of the current state.
func (c *Context) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.items.Entries()
	s := &Snapshot{Known: c.known, Items: make([]ScriptItem, len(entries))}
	for i, e := range entries {
		s.Items[i] = copyItem(e)
	}
	return s
}

// Snapshot is a point-in-time view of a Context.
type Snapshot struct {
	Items []ScriptItem // ordered by Start
	Known Interval
}

// Find returns the item claiming offset.
func (s *Snapshot) Find(offset int) (ScriptItem, bool) {
	lo, hi := 0, len(s.Items)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.Items[mid].Start <= offset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return ScriptItem{}, false
	}
	it := s.Items[lo-1]
	if !it.claims(it.Start, offset) {
		return ScriptItem{}, false
	}
	return it, true
}
