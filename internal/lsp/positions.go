package lsp

import (
	"unicode/utf16"
	"unicode/utf8"

	"github.com/leapstack-labs/sqlsense/internal/document"
)

// byteColumn converts a UTF-16 column of line to a byte column. Columns past
// the end of the line clamp to its length.
func byteColumn(line string, col uint32) int {
	units := uint32(0)
	for i, r := range line {
		if units >= col {
			return i
		}
		units += uint32(utf16.RuneLen(r))
	}
	return len(line)
}

// utf16Column converts a byte column of line to a UTF-16 column.
func utf16Column(line string, col int) uint32 {
	col = min(max(col, 0), len(line))
	units := uint32(0)
	for i := 0; i < col; {
		r, size := utf8.DecodeRuneInString(line[i:])
		i += size
		units += uint32(utf16.RuneLen(r))
	}
	return units
}

// toOffset converts an editor position to a byte offset of doc.
func toOffset(doc *document.Document, pos Position) int {
	line := int(pos.Line)
	return doc.PositionToOffset(document.Position{
		Line:      line,
		Character: byteColumn(doc.Line(line), pos.Character),
	})
}

// toPosition converts a byte offset of doc to an editor position.
func toPosition(doc *document.Document, offset int) Position {
	p := doc.OffsetToPosition(offset)
	return Position{
		Line:      uint32(p.Line),
		Character: utf16Column(doc.Line(p.Line), p.Character),
	}
}

func toRange(doc *document.Document, start, end int) Range {
	return Range{Start: toPosition(doc, start), End: toPosition(doc, end)}
}

// toChange converts an editor change to a byte based document change.
func toChange(doc *document.Document, ev TextDocumentContentChangeEvent) document.Change {
	if ev.Range == nil {
		return document.Change{Text: ev.Text}
	}
	conv := func(p Position) document.Position {
		line := int(p.Line)
		return document.Position{Line: line, Character: byteColumn(doc.Line(line), p.Character)}
	}
	return document.Change{
		Range: &document.Range{Start: conv(ev.Range.Start), End: conv(ev.Range.End)},
		Text:  ev.Text,
	}
}
