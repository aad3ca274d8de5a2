// Package completion derives what can be typed at a cursor position from the
// analysed script items of a document, and proposes keywords, tables,
// columns and star expansions for it.
package completion

import (
	"log/slog"
	"strings"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/internal/semantic"
	"github.com/leapstack-labs/sqlsense/internal/syntaxctx"
	"github.com/leapstack-labs/sqlsense/pkg/parser"
	"github.com/leapstack-labs/sqlsense/pkg/token"
)

// Mode tells what kind of name completes at the cursor.
type Mode int

// Completion modes.
const (
	// OffQuery is a cursor outside any statement, or inside a command.
	OffQuery Mode = iota
	Keyword
	Columns
	Tables
	// Members follows a qualifier such as "a." or "public.".
	Members
	// StarExpansion replaces a "*" or "t.*" by its column list.
	StarExpansion
)

func (m Mode) String() string {
	switch m {
	case OffQuery:
		return "off-query"
	case Keyword:
		return "keyword"
	case Columns:
		return "columns"
	case Tables:
		return "tables"
	case Members:
		return "members"
	case StarExpansion:
		return "star-expansion"
	default:
		return "unknown"
	}
}

// Context describes a cursor position for completion. Offsets are document
// offsets. A Context may be shared through the cache and must not be
// modified.
type Context struct {
	Offset int
	Mode   Mode
	// Item is the statement the cursor belongs to, nil when off-query.
	Item  *syntaxctx.ScriptItem
	Model *semantic.Model
	// Node is the innermost query node at the cursor and Data the columns
	// and sources visible there.
	Node *semantic.QueryNode
	Data *semantic.RowsDataContext
	// Prefix is the part of the word before the cursor. Proposals replace
	// [ReplaceStart, ReplaceEnd).
	Prefix       string
	ReplaceStart int
	ReplaceEnd   int
	// Qualifier holds the names before the last dot, unquoted.
	Qualifier []string
	// QualifierText is the qualifier as written, without the trailing dot.
	QualifierText string
	Keywords      []token.TokenType

	// tableSlot marks members completing a table name, as in "FROM public.".
	tableSlot bool
	star      *semantic.ExpandableTupleRef
}

// Keyword case settings.
const (
	KeywordCaseUpper   = "upper"
	KeywordCaseLower   = "lower"
	KeywordCaseAsTyped = "as-typed"
)

// Options configures a Builder.
type Options struct {
	// Catalog supplies table and column names. It may be nil.
	Catalog      catalog.Provider
	ReadMetadata bool
	// KeywordCase is one of the KeywordCase constants; empty means upper.
	KeywordCase string
	// MaxProposals caps the proposals returned; zero means no cap.
	MaxProposals int
	Logger       *slog.Logger
}

// Builder answers completion requests for one document.
type Builder struct {
	sctx   *syntaxctx.Context
	opts   Options
	logger *slog.Logger
	cache  *Cache
}

// NewBuilder returns a builder reading the items of sctx. Close releases its
// cache subscription.
func NewBuilder(sctx *syntaxctx.Context, opts Options) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{
		sctx:   sctx,
		opts:   opts,
		logger: logger.With("component", "completion"),
		cache:  NewCache(sctx, 0),
	}
}

// Close unsubscribes the builder's cache.
func (b *Builder) Close() {
	b.cache.Close()
}

// Context returns the completion context at offset of text. text must be
// the document text the items of the syntax context were computed for.
func (b *Builder) Context(text string, offset int) *Context {
	offset = min(max(offset, 0), len(text))
	item, ok := b.locate(text, offset)
	if !ok {
		return b.offQuery(text, offset)
	}
	rel := offset - item.Start
	if rel > item.Length {
		return build(item, text, offset)
	}
	if c, ok := b.cache.get(item, rel); ok {
		return c
	}
	c := build(item, text, offset)
	b.cache.put(item, rel, c)
	return c
}

// locate returns the item the cursor belongs to: the one claiming offset,
// or an undelimited item separated from the cursor by whitespace and
// comments only.
func (b *Builder) locate(text string, offset int) (syntaxctx.ScriptItem, bool) {
	if it, ok := b.sctx.FindScriptItem(offset); ok {
		return it, true
	}
	it, ok := b.sctx.PreviousScriptItem(offset)
	if !ok || it.EndsWithDelimiter || it.End() > offset || it.End() > len(text) {
		return syntaxctx.ScriptItem{}, false
	}
	if toks, _ := scan(text[it.End():offset]); len(toks) > 0 {
		return syntaxctx.ScriptItem{}, false
	}
	return it, true
}

// offQuery proposes statement keywords, unless the cursor sits in a comment
// between statements.
func (b *Builder) offQuery(text string, offset int) *Context {
	start := offset
	for start > 0 && isIdentByte(text[start-1]) {
		start--
	}
	c := &Context{
		Offset:       offset,
		Mode:         OffQuery,
		Prefix:       text[start:offset],
		ReplaceStart: start,
		ReplaceEnd:   offset + identRun(text[offset:]),
		Keywords:     statementStart,
	}
	from := 0
	if prev, ok := b.sctx.PreviousScriptItem(offset); ok && prev.End() <= offset {
		from = prev.End()
	}
	if _, inComment := scan(text[from:offset]); inComment {
		c.Keywords = nil
	}
	return c
}

func build(item syntaxctx.ScriptItem, text string, offset int) *Context {
	rel := offset - item.Start
	stmt := item.Text
	if rel > len(stmt) {
		stmt += text[item.End():offset]
	}
	c := &Context{
		Offset:       offset,
		Item:         &item,
		Model:        item.Model,
		ReplaceStart: offset,
		ReplaceEnd:   offset + identRun(stmt[rel:]),
	}
	if item.IsCommand {
		c.Mode = OffQuery
		return c
	}
	if c.Model != nil {
		c.Node = c.Model.InnermostNode(min(rel, item.Length))
		c.Data = scopeData(c.Node)
	}

	toks, inLiteral := scan(stmt[:rel])
	if inLiteral {
		c.Mode = Keyword
		return c
	}

	if n := len(toks); n > 0 && toks[n-1].End.Offset == rel && isWord(toks[n-1]) {
		last := toks[n-1]
		c.Prefix = stmt[last.Pos.Offset:rel]
		if last.Quoted {
			c.Prefix = last.Literal
		}
		c.ReplaceStart = item.Start + last.Pos.Offset
		toks = toks[:n-1]
	}

	star := false
	if n := len(toks); c.Prefix == "" && n > 0 && toks[n-1].Type == token.STAR && toks[n-1].End.Offset == rel {
		var prev *parser.Token
		if n > 1 {
			prev = &toks[n-2]
		}
		if endsOperand(toks[n-1], prev) {
			star = true
			c.ReplaceStart = item.Start + toks[n-1].Pos.Offset
			if c.Model != nil {
				if sym := c.Model.SymbolAt(rel); sym != nil {
					if ref, ok := sym.Origin.(semantic.ExpandableTupleRef); ok {
						c.star = &ref
					}
				}
			}
			toks = toks[:n-1]
		}
	}

	var raw []string
	for len(toks) >= 2 && toks[len(toks)-1].Type == token.DOT && toks[len(toks)-2].Type == token.IDENT {
		id := toks[len(toks)-2]
		c.Qualifier = append([]string{id.Literal}, c.Qualifier...)
		raw = append([]string{stmt[id.Pos.Offset:id.End.Offset]}, raw...)
		if star {
			c.ReplaceStart = item.Start + id.Pos.Offset
		}
		toks = toks[:len(toks)-2]
	}
	c.QualifierText = strings.Join(raw, ".")

	cl := currentClause(toks)
	switch {
	case star:
		c.Mode = StarExpansion
	case len(c.Qualifier) > 0:
		c.Mode = Members
		c.tableSlot = len(toks) > 0 && tableSlot(toks[len(toks)-1], cl)
	case len(toks) > 0 && toks[len(toks)-1].Type == token.DOT:
		// a dot after something that is not a name, such as "(...)."
		c.Mode = Members
	default:
		c.Mode, c.Keywords = decide(toks, cl)
	}
	return c
}

// scan tokenizes s and reports whether s ends inside a comment, string
// literal or quoted identifier.
func scan(s string) ([]parser.Token, bool) {
	l := parser.NewLexer(s)
	var toks []parser.Token
	for {
		t := l.NextToken()
		if t.Type == token.EOF {
			break
		}
		toks = append(toks, t)
	}
	for _, cm := range l.Comments {
		if cm.Span.End.Offset == len(s) && (cm.IsLineComment() || !cm.Terminated) {
			return toks, true
		}
	}
	if n := len(toks); n > 0 && toks[n-1].End.Offset == len(s) {
		for _, e := range l.Errors {
			if e.Pos.Offset == toks[n-1].Pos.Offset {
				return toks, true
			}
		}
	}
	return toks, false
}

// scopeData picks the data context visible at n. Clause nodes see what
// their query hands them; query level nodes see their full scope.
func scopeData(n *semantic.QueryNode) *semantic.RowsDataContext {
	for cur := n; cur != nil; cur = cur.Parent {
		switch cur.Kind() {
		case parser.KindFrom, parser.KindSelect, parser.KindInsert, parser.KindUpdate,
			parser.KindDelete, parser.KindStatement:
			if cur.Result != nil {
				return cur.Result
			}
		}
		if cur.Given != nil {
			return cur.Given
		}
	}
	return nil
}

func isWord(t parser.Token) bool {
	return t.Type == token.IDENT || token.IsKeyword(t.Type)
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// identRun returns the length of the identifier characters starting s.
func identRun(s string) int {
	n := 0
	for n < len(s) && isIdentByte(s[n]) {
		n++
	}
	return n
}
