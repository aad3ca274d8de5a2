package parser

import (
	"strings"

	"github.com/leapstack-labs/sqlsense/pkg/token"
)

// Statement boundary detection.
//
// A script is a sequence of statements separated by ';'. The delimiter
// belongs to the statement it terminates. A line whose first non-blank
// character is the command marker is a single-line control command. Comments
// and whitespace between statements belong to no statement.

// Bounds locates one statement inside a script. End is exclusive.
type Bounds struct {
	Start             int
	End               int
	EndsWithDelimiter bool
	IsCommand         bool
}

// Len returns the number of bytes covered by the statement.
func (b Bounds) Len() int {
	return b.End - b.Start
}

// Overlaps reports whether the statement intersects [from, to]. Both ends are
// inclusive so that an edit touching the last character still counts.
func (b Bounds) Overlaps(from, to int) bool {
	return b.Start <= to && b.End >= from
}

// SplitOptions controls statement boundary detection.
type SplitOptions struct {
	// BlankLineDelimiter ends a statement at an empty line.
	BlankLineDelimiter bool
	// CommandMarker starts a control command at the beginning of a line.
	// Zero means '@'.
	CommandMarker byte
}

func (o SplitOptions) marker() byte {
	if o.CommandMarker == 0 {
		return '@'
	}
	return o.CommandMarker
}

// Split returns the bounds of every statement in text.
func Split(text string, opts SplitOptions) []Bounds {
	return SplitFrom(text, 0, -1, opts)
}

// SplitFrom scans text starting at restart, which must not lie inside a
// statement, and returns the statements found. Scanning stops before the first
// statement starting at or after stop; a negative stop scans to the end.
func SplitFrom(text string, restart, stop int, opts SplitOptions) []Bounds {
	l := NewLexerAt(text, restart)
	marker := opts.marker()

	var out []Bounds
	start, end := -1, -1
	flush := func(delimited bool) {
		if start >= 0 {
			out = append(out, Bounds{Start: start, End: end, EndsWithDelimiter: delimited})
		}
		start, end = -1, -1
	}

	for {
		tok := l.NextToken()
		if tok.Type == token.EOF {
			flush(false)
			return out
		}

		if start >= 0 && opts.BlankLineDelimiter && hasBlankLine(text[end:tok.Pos.Offset]) {
			flush(false)
		}
		if isCommandStart(text, tok, marker) {
			flush(false)
			if stop >= 0 && tok.Pos.Offset >= stop {
				return out
			}
			lineEnd := lineEndAt(text, tok.Pos.Offset)
			out = append(out, Bounds{Start: tok.Pos.Offset, End: lineEnd, IsCommand: true})
			l.skipTo(lineEnd)
			continue
		}
		if start < 0 {
			if tok.Type == token.SEMICOLON {
				continue
			}
			if stop >= 0 && tok.Pos.Offset >= stop {
				return out
			}
			start = tok.Pos.Offset
		}
		end = tok.End.Offset
		if tok.Type == token.SEMICOLON {
			flush(true)
		}
	}
}

// Covering returns, in order, every statement overlapping [from, to].
// Scanning starts at restart, which must be a statement start at or before
// from (zero is always safe).
func Covering(text string, restart, from, to int, opts SplitOptions) []Bounds {
	if restart > from {
		restart = 0
	}
	var out []Bounds
	for _, b := range SplitFrom(text, restart, to+1, opts) {
		if b.Overlaps(from, to) {
			out = append(out, b)
		}
	}
	return out
}

// skipTo advances the lexer to offset without producing tokens.
func (l *Lexer) skipTo(offset int) {
	for l.pos < offset && !l.atEOF() {
		l.readChar()
	}
}

func isCommandStart(text string, tok Token, marker byte) bool {
	if tok.Type != token.AT && tok.Type != token.ILLEGAL {
		return false
	}
	if tok.Literal == "" || tok.Literal[0] != marker {
		return false
	}
	for i := tok.Pos.Offset - 1; i >= 0; i-- {
		switch text[i] {
		case '\n':
			return true
		case ' ', '\t', '\r':
		default:
			return false
		}
	}
	return true
}

// lineEndAt returns the end of the line containing offset with trailing
// blanks removed.
func lineEndAt(text string, offset int) int {
	end := len(text)
	if i := strings.IndexByte(text[offset:], '\n'); i >= 0 {
		end = offset + i
	}
	for end > offset && (text[end-1] == ' ' || text[end-1] == '\t' || text[end-1] == '\r') {
		end--
	}
	return end
}

// hasBlankLine reports whether gap, made of whitespace and comments, contains
// a line with nothing but whitespace.
func hasBlankLine(gap string) bool {
	newlines := 0
	for i := 0; i < len(gap); i++ {
		c := gap[i]
		switch {
		case c == '\n':
			newlines++
			if newlines >= 2 {
				return true
			}
		case c == ' ' || c == '\t' || c == '\r' || c == '\f':
		case c == '-' && i+1 < len(gap) && gap[i+1] == '-':
			j := strings.IndexByte(gap[i:], '\n')
			if j < 0 {
				return false
			}
			i += j - 1
			newlines = 0
		case c == '/' && i+1 < len(gap) && gap[i+1] == '*':
			k := strings.Index(gap[i+2:], "*/")
			if k < 0 {
				return false
			}
			i += k + 3
			newlines = 0
		default:
			newlines = 0
		}
	}
	return false
}
