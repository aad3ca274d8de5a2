// Package document holds the text of an open script and tells listeners
// about every change before and after it is applied.
package document

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/sqlsense/internal/syntaxctx"
)

// ErrOutOfRange is returned for edits outside the document.
var ErrOutOfRange = errors.New("document: range out of bounds")

// Position is a zero-based line and byte column.
type Position struct {
	Line      int
	Character int
}

// Range is a span between two positions, End exclusive.
type Range struct {
	Start Position
	End   Position
}

// Change replaces Range with Text. A nil Range replaces the whole text.
type Change struct {
	Range *Range
	Text  string
}

// Listener is told about edits. BeforeChange runs before the text changes,
// AfterChange once the new text is visible through Text.
type Listener interface {
	BeforeChange(offset int, removedText, insertedText string)
	AfterChange()
}

// ViewportListener is implemented by listeners interested in the visible
// range.
type ViewportListener interface {
	ViewportChanged(visible syntaxctx.Interval)
}

// SwapListener is implemented by listeners that must start over when the
// whole text is replaced.
type SwapListener interface {
	DocumentSwapped()
}

// Document is the text of one script. Edits are serialized; readers never
// see a half-applied edit.
type Document struct {
	uri    string
	logger *slog.Logger

	// editMu serializes edits so listeners see them in order.
	editMu sync.Mutex

	mu       sync.RWMutex
	text     string
	version  int
	revision uint64
	lines    []int
	viewport *syntaxctx.Interval

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// New returns a document holding text.
func New(uri, text string, version int, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Document{
		uri:       uri,
		logger:    logger,
		text:      text,
		version:   version,
		lines:     computeLineOffsets(text),
		listeners: make(map[int]Listener),
	}
}

// URI returns the document's identifier.
func (d *Document) URI() string { return d.uri }

// Text returns the current text.
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text
}

// Version returns the version of the last change.
func (d *Document) Version() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Revision counts the changes to the text. Unlike Version it moves on every
// edit and swap, whatever version the editor reports.
func (d *Document) Revision() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.revision
}

// Len returns the text length in bytes.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.text)
}

// Read calls fn with the text and version while holding edits back, so
// that listeners updated by an edit and the text agree for the duration.
func (d *Document) Read(fn func(text string, version int)) {
	d.editMu.Lock()
	defer d.editMu.Unlock()
	d.mu.RLock()
	text, version := d.text, d.version
	d.mu.RUnlock()
	fn(text, version)
}

// Subscribe registers l and returns a function removing it.
func (d *Document) Subscribe(l Listener) func() {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = l
	return func() {
		d.lmu.Lock()
		defer d.lmu.Unlock()
		delete(d.listeners, id)
	}
}

func (d *Document) snapshotListeners() []Listener {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	ids := make([]int, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = d.listeners[id]
	}
	return out
}

// Edit replaces removed bytes at offset with inserted. version is stored
// as the new version; zero increments the current one.
func (d *Document) Edit(offset, removed int, inserted string, version int) error {
	d.editMu.Lock()
	defer d.editMu.Unlock()
	return d.editLocked(offset, removed, inserted, version)
}

func (d *Document) editLocked(offset, removed int, inserted string, version int) error {
	old := d.Text()
	if offset < 0 || removed < 0 || offset+removed > len(old) {
		return fmt.Errorf("edit at %d removing %d of %d bytes: %w", offset, removed, len(old), ErrOutOfRange)
	}
	removedText := old[offset : offset+removed]
	if removedText == inserted {
		d.setVersion(version)
		return nil
	}

	listeners := d.snapshotListeners()
	for _, l := range listeners {
		l.BeforeChange(offset, removedText, inserted)
	}

	d.mu.Lock()
	d.text = old[:offset] + inserted + old[offset+removed:]
	d.lines = computeLineOffsets(d.text)
	d.revision++
	d.bumpLocked(version)
	d.mu.Unlock()

	for _, l := range listeners {
		l.AfterChange()
	}
	return nil
}

func (d *Document) setVersion(version int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bumpLocked(version)
}

func (d *Document) bumpLocked(version int) {
	if version == 0 {
		version = d.version + 1
	}
	d.version = version
}

// ApplyChanges applies editor changes in order. Ranges refer to the text
// as left by the previous change.
func (d *Document) ApplyChanges(changes []Change, version int) error {
	d.editMu.Lock()
	defer d.editMu.Unlock()
	for i, ch := range changes {
		v := 0
		if i == len(changes)-1 {
			v = version
		}
		offset, removed := 0, d.Len()
		if ch.Range != nil {
			start := d.PositionToOffset(ch.Range.Start)
			end := d.PositionToOffset(ch.Range.End)
			if end < start {
				return fmt.Errorf("change %d ends before it starts: %w", i, ErrOutOfRange)
			}
			offset, removed = start, end-start
		}
		if err := d.editLocked(offset, removed, ch.Text, v); err != nil {
			return err
		}
	}
	return nil
}

// Swap replaces the whole text without reporting it as an edit. Listeners
// implementing SwapListener start over.
func (d *Document) Swap(text string, version int) {
	d.editMu.Lock()
	defer d.editMu.Unlock()

	d.mu.Lock()
	d.text = text
	d.lines = computeLineOffsets(text)
	d.revision++
	d.bumpLocked(version)
	d.mu.Unlock()

	for _, l := range d.snapshotListeners() {
		if sl, ok := l.(SwapListener); ok {
			sl.DocumentSwapped()
		}
	}
	d.logger.Debug("document swapped", "uri", d.uri, "length", len(text))
}

// SetViewport records the visible byte range and tells listeners
// implementing ViewportListener.
func (d *Document) SetViewport(visible syntaxctx.Interval) {
	d.mu.Lock()
	v := visible.Clip(len(d.text))
	d.viewport = &v
	d.mu.Unlock()

	for _, l := range d.snapshotListeners() {
		if vl, ok := l.(ViewportListener); ok {
			vl.ViewportChanged(v)
		}
	}
}

// SetVisibleLines sets the viewport to the lines first through last.
func (d *Document) SetVisibleLines(first, last int) {
	start := d.PositionToOffset(Position{Line: first})
	end := d.PositionToOffset(Position{Line: last + 1})
	d.SetViewport(syntaxctx.Interval{Start: start, End: end})
}

// Viewport returns the visible range, if one was set.
func (d *Document) Viewport() (syntaxctx.Interval, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.viewport == nil {
		return syntaxctx.Interval{}, false
	}
	return *d.viewport, true
}

// computeLineOffsets calculates byte offsets for each line start.
func computeLineOffsets(content string) []int {
	offsets := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// LineCount returns the number of lines.
func (d *Document) LineCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lines)
}

// PositionToOffset converts a position to a byte offset, clamping to the
// line and document ends.
func (d *Document) PositionToOffset(pos Position) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(d.lines) {
		return len(d.text)
	}
	lineEnd := len(d.text)
	if pos.Line+1 < len(d.lines) {
		lineEnd = d.lines[pos.Line+1] - 1
	}
	return min(d.lines[pos.Line]+max(pos.Character, 0), lineEnd)
}

// OffsetToPosition converts a byte offset to a position.
func (d *Document) OffsetToPosition(offset int) Position {
	d.mu.RLock()
	defer d.mu.RUnlock()
	offset = min(max(offset, 0), len(d.text))
	line := sort.Search(len(d.lines), func(i int) bool { return d.lines[i] > offset }) - 1
	return Position{Line: line, Character: offset - d.lines[line]}
}

// Line returns the content of a line without its newline.
func (d *Document) Line(line int) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if line < 0 || line >= len(d.lines) {
		return ""
	}
	start := d.lines[line]
	end := len(d.text)
	if line+1 < len(d.lines) {
		end = d.lines[line+1] - 1
	}
	return d.text[start:end]
}

// WordAt returns the identifier around offset and its byte range.
func (d *Document) WordAt(offset int) (word string, start, end int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	offset = min(max(offset, 0), len(d.text))
	start, end = offset, offset
	for start > 0 && isWordChar(d.text[start-1]) {
		start--
	}
	for end < len(d.text) && isWordChar(d.text[end]) {
		end++
	}
	return d.text[start:end], start, end
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_' || c == '$' || c >= 0x80
}
