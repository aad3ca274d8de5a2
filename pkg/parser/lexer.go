package parser

import (
	"strings"
	"unicode"

	"github.com/leapstack-labs/sqlsense/pkg/token"
)

// Lexer tokenizes SQL input. It never fails: unterminated strings, quoted
// identifiers and comments run to the end of input and are reported through
// Errors.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)

	// Comments collected during lexing.
	Comments []*token.Comment
	// Errors collected during lexing.
	Errors []*LexError
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return NewLexerAt(input, 0)
}

// NewLexerAt creates a Lexer that starts scanning at the given byte offset.
// Line and column numbers stay relative to the whole input.
func NewLexerAt(input string, offset int) *Lexer {
	if offset < 0 {
		offset = 0
	}
	if offset > len(input) {
		offset = len(input)
	}
	l := &Lexer{
		input:   input,
		readPos: offset,
		line:    1 + strings.Count(input[:offset], "\n"),
		col:     offset - strings.LastIndexByte(input[:offset], '\n') - 1,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
		if l.pos < len(l.input) {
			l.col++
		}
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		return
	}
	prev := l.ch
	l.ch = l.input[l.readPos]
	l.pos = l.readPos
	l.readPos++

	if prev == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// atEOF reports whether the whole input has been consumed. A NUL byte inside
// the input is not end of input.
func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// currentPos returns the current position.
func (l *Lexer) currentPos() Position {
	return Position{
		Line:   l.line,
		Column: l.col,
		Offset: l.pos,
	}
}

// Offset returns the byte offset of the next unread character.
func (l *Lexer) Offset() int {
	return l.pos
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.currentPos()
	if l.atEOF() {
		return Token{Type: token.EOF, Pos: pos, End: pos}
	}

	switch l.ch {
	case '+':
		return l.single(token.PLUS, pos)
	case '-':
		return l.single(token.MINUS, pos)
	case '*':
		return l.single(token.STAR, pos)
	case '/':
		return l.single(token.SLASH, pos)
	case '%':
		return l.single(token.PERCENT, pos)
	case '=':
		if l.peekChar() == '=' {
			return l.double(token.EQ, pos)
		}
		return l.single(token.EQ, pos)
	case '<':
		switch l.peekChar() {
		case '=':
			return l.double(token.LE, pos)
		case '>':
			return l.double(token.NE, pos)
		}
		return l.single(token.LT, pos)
	case '>':
		if l.peekChar() == '=' {
			return l.double(token.GE, pos)
		}
		return l.single(token.GT, pos)
	case '!':
		if l.peekChar() == '=' {
			return l.double(token.NE, pos)
		}
		return l.single(token.ILLEGAL, pos)
	case '|':
		if l.peekChar() == '|' {
			return l.double(token.DPIPE, pos)
		}
		return l.single(token.ILLEGAL, pos)
	case '.':
		if isDigit(l.peekChar()) {
			return l.finish(token.NUMBER, pos, l.readNumber())
		}
		return l.single(token.DOT, pos)
	case ',':
		return l.single(token.COMMA, pos)
	case ';':
		return l.single(token.SEMICOLON, pos)
	case '(':
		return l.single(token.LPAREN, pos)
	case ')':
		return l.single(token.RPAREN, pos)
	case '[':
		return l.single(token.LBRACKET, pos)
	case ']':
		return l.single(token.RBRACKET, pos)
	case '@':
		return l.single(token.AT, pos)
	case '?':
		return l.single(token.PARAM, pos)
	case ':':
		if isIdentStart(l.peekChar()) {
			l.readChar()
			return l.finish(token.PARAM, pos, l.readIdentifier())
		}
		return l.single(token.ILLEGAL, pos)
	case '$':
		if l.peekChar() == '{' {
			return l.readVariable(pos)
		}
		return l.single(token.ILLEGAL, pos)
	case '\'':
		lit := l.readQuoted('\'', pos, ErrUnterminatedString)
		return l.finish(token.STRING, pos, lit)
	case '"', '`':
		lit := l.readQuoted(l.ch, pos, ErrUnterminatedIdent)
		tok := l.finish(token.IDENT, pos, lit)
		tok.Quoted = true
		return tok
	}

	switch {
	case isIdentStart(l.ch):
		lit := l.readIdentifier()
		return l.finish(token.LookupIdent(strings.ToLower(lit)), pos, lit)
	case isDigit(l.ch):
		return l.finish(token.NUMBER, pos, l.readNumber())
	default:
		return l.single(token.ILLEGAL, pos)
	}
}

// single consumes one character and returns a token of the given type.
func (l *Lexer) single(t TokenType, pos Position) Token {
	lit := string(l.ch)
	l.readChar()
	return l.finish(t, pos, lit)
}

// double consumes two characters and returns a token of the given type.
func (l *Lexer) double(t TokenType, pos Position) Token {
	lit := l.input[l.pos : l.pos+2]
	l.readChar()
	l.readChar()
	return l.finish(t, pos, lit)
}

func (l *Lexer) finish(t TokenType, pos Position, lit string) Token {
	return Token{Type: t, Literal: lit, Pos: pos, End: l.currentPos()}
}

// skipWhitespaceAndComments skips whitespace and collects comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEOF() {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			l.collectLineComment()
		case l.ch == '/' && l.peekChar() == '*':
			l.collectBlockComment()
		default:
			return
		}
	}
}

// collectLineComment collects a line comment.
func (l *Lexer) collectLineComment() {
	startPos := l.currentPos()
	for l.ch != '\n' && !l.atEOF() {
		l.readChar()
	}
	l.Comments = append(l.Comments, &token.Comment{
		Kind:       token.LineComment,
		Text:       l.input[startPos.Offset:l.pos],
		Span:       token.Span{Start: startPos, End: l.currentPos()},
		Terminated: true,
	})
}

// collectBlockComment collects a block comment.
func (l *Lexer) collectBlockComment() {
	startPos := l.currentPos()
	l.readChar() // skip '/'
	l.readChar() // skip '*'

	terminated := false
	for !l.atEOF() {
		if l.ch == '*' && l.peekChar() == '/' {
			l.readChar()
			l.readChar()
			terminated = true
			break
		}
		l.readChar()
	}
	if !terminated {
		l.Errors = append(l.Errors, &LexError{Pos: startPos, Message: ErrUnterminatedComment})
	}
	l.Comments = append(l.Comments, &token.Comment{
		Kind:       token.BlockComment,
		Text:       l.input[startPos.Offset:l.pos],
		Span:       token.Span{Start: startPos, End: l.currentPos()},
		Terminated: terminated,
	})
}

// readQuoted reads a quoted literal. A doubled quote is an escaped quote:
// 'it''s' -> it's, "col""name" -> col"name.
func (l *Lexer) readQuoted(quote byte, pos Position, unterminated string) string {
	l.readChar() // skip opening quote

	var result strings.Builder
	for !l.atEOF() {
		if l.ch == quote {
			if l.peekChar() == quote {
				result.WriteByte(quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			return result.String()
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	l.Errors = append(l.Errors, &LexError{Pos: pos, Message: unterminated})
	return result.String()
}

// readVariable reads a ${name} reference. The literal is the bare name.
func (l *Lexer) readVariable(pos Position) Token {
	l.readChar() // skip '$'
	l.readChar() // skip '{'
	start := l.pos
	for !l.atEOF() && l.ch != '}' && l.ch != '\n' {
		l.readChar()
	}
	name := l.input[start:l.pos]
	if l.ch == '}' {
		l.readChar()
	} else {
		l.Errors = append(l.Errors, &LexError{Pos: pos, Message: ErrUnterminatedVariable})
	}
	return l.finish(token.VARIABLE, pos, strings.TrimSpace(name))
}

// readIdentifier reads an unquoted identifier.
func (l *Lexer) readIdentifier() string {
	start := l.pos
	for !l.atEOF() && isIdentPart(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads a numeric literal (integer, decimal, or scientific).
func (l *Lexer) readNumber() string {
	start := l.pos

	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) || l.peekChar() == '+' || l.peekChar() == '-') {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	return l.input[start:l.pos]
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Tokenize returns all tokens from the input, ending with EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			return tokens
		}
	}
}
