package completion

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/internal/semantic"
	"github.com/leapstack-labs/sqlsense/pkg/token"
)

// Kind classifies a proposal. Kinds are listed in ranking order: among
// equally good matches, earlier kinds come first.
type Kind int

// Proposal kinds.
const (
	KindStarExpansion Kind = iota
	KindColumn
	KindSource
	KindTable
	KindView
	KindSchema
	KindCatalog
	KindFunction
	KindKeyword
)

func (k Kind) String() string {
	switch k {
	case KindStarExpansion:
		return "star-expansion"
	case KindColumn:
		return "column"
	case KindSource:
		return "source"
	case KindTable:
		return "table"
	case KindView:
		return "view"
	case KindSchema:
		return "schema"
	case KindCatalog:
		return "catalog"
	case KindFunction:
		return "function"
	default:
		return "keyword"
	}
}

// Proposal is one completion candidate. Insert replaces the document range
// [ReplaceStart, ReplaceEnd).
type Proposal struct {
	Label        string
	Insert       string
	Kind         Kind
	Detail       string
	ReplaceStart int
	ReplaceEnd   int

	score int
}

// Match scores.
const (
	scoreNone = iota
	scoreAny
	scoreFold
	scoreExact
)

func matchScore(label, prefix string) int {
	switch {
	case prefix == "":
		return scoreAny
	case strings.HasPrefix(label, prefix):
		return scoreExact
	case len(label) >= len(prefix) && strings.EqualFold(label[:len(prefix)], prefix):
		return scoreFold
	}
	return scoreNone
}

// Complete returns the context at offset and its proposals.
func (b *Builder) Complete(ctx context.Context, text string, offset int) (*Context, []Proposal) {
	c := b.Context(text, offset)
	return c, b.Proposals(ctx, c)
}

// Proposals returns the ranked proposals for c.
func (b *Builder) Proposals(ctx context.Context, c *Context) []Proposal {
	p := &proposer{b: b, ctx: ctx, c: c, attrs: b.attributeFunc(ctx), seen: map[string]bool{}}
	switch c.Mode {
	case OffQuery, Keyword:
		p.keywords()
	case Columns:
		p.columns()
		p.sources()
		if c.Prefix != "" {
			p.functions()
		}
		p.keywords()
	case Tables:
		p.tables()
		p.keywords()
	case Members:
		if c.tableSlot {
			p.objectMembers()
		} else {
			p.members()
		}
	case StarExpansion:
		p.starExpansion()
	}

	out := p.out
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return strings.ToLower(out[i].Label) < strings.ToLower(out[j].Label)
	})
	if b.opts.MaxProposals > 0 && len(out) > b.opts.MaxProposals {
		out = out[:b.opts.MaxProposals]
	}
	return out
}

func (b *Builder) metadata() bool {
	return b.opts.Catalog != nil && b.opts.ReadMetadata
}

// attributeFunc reads table columns from the catalog, memoized for one
// request.
func (b *Builder) attributeFunc(ctx context.Context) semantic.AttributeFunc {
	if !b.metadata() {
		return nil
	}
	memo := map[*catalog.Object][]catalog.Column{}
	return func(table *catalog.Object) []catalog.Column {
		if cols, ok := memo[table]; ok {
			return cols
		}
		cols, err := b.opts.Catalog.Attributes(ctx, table)
		if err != nil {
			b.logger.Debug("attribute lookup failed", "table", table.QualifiedName(), "error", err)
		}
		memo[table] = cols
		return cols
	}
}

func (b *Builder) keywordCaser(prefix string) cases.Caser {
	switch b.opts.KeywordCase {
	case KeywordCaseLower:
		return cases.Lower(language.Und)
	case KeywordCaseAsTyped:
		if prefix != "" && prefix == strings.ToLower(prefix) && prefix != strings.ToUpper(prefix) {
			return cases.Lower(language.Und)
		}
	}
	return cases.Upper(language.Und)
}

type proposer struct {
	b     *Builder
	ctx   context.Context
	c     *Context
	attrs semantic.AttributeFunc
	seen  map[string]bool
	out   []Proposal
}

func (p *proposer) add(kind Kind, label, insert, detail string) {
	score := matchScore(label, p.c.Prefix)
	if score == scoreNone {
		return
	}
	key := dedupeKey(kind) + strings.ToLower(label)
	if p.seen[key] {
		return
	}
	p.seen[key] = true
	p.out = append(p.out, Proposal{
		Label:        label,
		Insert:       insert,
		Kind:         kind,
		Detail:       detail,
		ReplaceStart: p.c.ReplaceStart,
		ReplaceEnd:   p.c.ReplaceEnd,
		score:        score,
	})
}

func dedupeKey(k Kind) string {
	switch k {
	case KindTable, KindView, KindSchema, KindCatalog:
		return "object:"
	}
	return k.String() + ":"
}

func (p *proposer) keywords() {
	caser := p.b.keywordCaser(p.c.Prefix)
	for _, t := range p.c.Keywords {
		label := caser.String(t.String())
		p.add(KindKeyword, label, label, "")
	}
}

func (p *proposer) columns() {
	if p.c.Data == nil {
		return
	}
	for _, rc := range p.c.Data.VisibleColumns(p.attrs) {
		p.column(rc)
	}
	for s := p.c.Data.Sources().Outer(); s != nil; s = s.Outer() {
		for _, src := range s.Sources() {
			for _, rc := range semantic.SourceColumns(src, p.attrs) {
				p.column(rc)
			}
		}
	}
	for _, pc := range p.c.Data.PseudoColumns() {
		p.add(KindColumn, pc.Name, quoteIdent(pc.Name), "pseudo-column")
	}
}

func (p *proposer) column(rc *semantic.ResultColumn) {
	if rc.Label == "" {
		return
	}
	p.add(KindColumn, rc.Label, quoteIdent(rc.Label), columnDetail(rc))
}

func columnDetail(rc *semantic.ResultColumn) string {
	var parts []string
	if rc.Attribute != nil && rc.Attribute.Type != "" {
		parts = append(parts, rc.Attribute.Type)
	}
	if rc.Source != nil && rc.Source.Label() != "" {
		parts = append(parts, rc.Source.Label())
	}
	return strings.Join(parts, " ")
}

// sources proposes the names sources are visible under, so that a
// qualifier can be typed.
func (p *proposer) sources() {
	for s := p.c.Data.Sources(); s != nil; s = s.Outer() {
		for _, src := range s.Sources() {
			if label := src.Label(); label != "" {
				p.add(KindSource, label, quoteIdent(label), src.Kind.String())
			}
		}
	}
}

func (p *proposer) functions() {
	for _, fn := range SearchFunctions(p.c.Prefix) {
		p.add(KindFunction, fn.Name, fn.Name, fn.Signature)
	}
}

// tables proposes CTEs in scope, the relations of the search schema, the
// schemas next to it and the catalogs.
func (p *proposer) tables() {
	for _, cte := range p.c.Data.Sources().Ctes() {
		if label := cte.Label(); label != "" {
			p.add(KindTable, label, quoteIdent(label), "cte")
		}
	}
	if !p.b.metadata() {
		return
	}
	if sch := catalog.SearchSchema(p.ctx, p.b.opts.Catalog); sch != nil {
		p.children(sch)
		if sch.Parent != nil {
			p.children(sch.Parent)
		}
	}
	p.children(nil)
}

func (p *proposer) children(parent *catalog.Object) {
	objs, err := p.b.opts.Catalog.Children(p.ctx, parent)
	if err != nil {
		p.b.logger.Debug("listing catalog objects failed", "error", err)
		return
	}
	for _, o := range objs {
		detail := o.Kind.String()
		if o.Parent != nil {
			detail += " in " + o.Parent.QualifiedName()
		}
		p.add(objectKind(o.Kind), o.Name, quoteIdent(o.Name), detail)
	}
}

func objectKind(k catalog.ObjectKind) Kind {
	switch k {
	case catalog.KindCatalog:
		return KindCatalog
	case catalog.KindSchema:
		return KindSchema
	case catalog.KindView:
		return KindView
	default:
		return KindTable
	}
}

func (p *proposer) findObject(parts []string) *catalog.Object {
	if !p.b.metadata() {
		return nil
	}
	obj, err := p.b.opts.Catalog.FindObject(p.ctx, parts)
	if err != nil {
		p.b.logger.Debug("metadata lookup failed", "name", strings.Join(parts, "."), "error", err)
		return nil
	}
	return obj
}

// objectMembers proposes what lies inside the catalog object named by the
// qualifier, as in "FROM public.".
func (p *proposer) objectMembers() {
	obj := p.findObject(p.c.Qualifier)
	if obj == nil {
		return
	}
	if obj.Kind.IsRelation() {
		p.attributes(obj)
		return
	}
	p.children(obj)
}

func (p *proposer) attributes(table *catalog.Object) {
	if p.attrs == nil {
		return
	}
	for _, col := range p.attrs(table) {
		p.add(KindColumn, col.Name, quoteIdent(col.Name), col.Type)
	}
}

// members resolves the qualifier as a source in scope first, then as a
// catalog object. An unresolved qualifier yields nothing.
func (p *proposer) members() {
	if src := p.c.Data.Sources().FindPath(p.c.Qualifier); src != nil {
		for _, rc := range semantic.SourceColumns(src, p.attrs) {
			p.column(rc)
		}
		for _, pc := range p.c.Data.PseudoColumns() {
			if pc.Source == src {
				p.add(KindColumn, pc.Name, quoteIdent(pc.Name), "pseudo-column")
			}
		}
		return
	}
	p.objectMembers()
}

// starExpansion proposes the column list a star stands for as one
// comma-separated insertion.
func (p *proposer) starExpansion() {
	var src *semantic.SourceInfo
	data := p.c.Data
	if p.c.star != nil {
		src = p.c.star.Source
		if p.c.star.Context != nil {
			data = p.c.star.Context
		}
	}
	if src == nil && len(p.c.Qualifier) > 0 {
		if src = data.Sources().FindPath(p.c.Qualifier); src == nil {
			return
		}
	}

	var names []string
	if src != nil {
		for _, rc := range semantic.SourceColumns(src, p.attrs) {
			names = append(names, qualify(p.c.QualifierText, rc.Label))
		}
	} else {
		sources := data.Sources().Sources()
		for _, s := range sources {
			q := ""
			if len(sources) > 1 {
				q = quoteIdent(s.Label())
			}
			for _, rc := range semantic.SourceColumns(s, p.attrs) {
				names = append(names, qualify(q, rc.Label))
			}
		}
	}
	if len(names) == 0 {
		return
	}
	label := strings.Join(names, ", ")
	p.out = append(p.out, Proposal{
		Label:        label,
		Insert:       label,
		Kind:         KindStarExpansion,
		Detail:       "expand *",
		ReplaceStart: p.c.ReplaceStart,
		ReplaceEnd:   p.c.ReplaceEnd,
		score:        scoreAny,
	})
}

func qualify(qualifier, name string) string {
	if qualifier == "" {
		return quoteIdent(name)
	}
	return qualifier + "." + quoteIdent(name)
}

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// quoteIdent double-quotes name unless it can be written bare.
func quoteIdent(name string) string {
	if plainIdent.MatchString(name) && token.LookupIdent(strings.ToLower(name)) == token.IDENT {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
