// Package semantic builds the semantic model of a single script statement:
// the symbols it contains, the scopes its clauses see and the database
// objects its names resolve to.
//
// Models are produced once per parse and never modified afterwards, so they
// can be read concurrently by completion while the next parse runs.
package semantic

import (
	"fmt"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
)

// SymbolClass classifies an identifier occurrence.
type SymbolClass int

// Symbol classes.
const (
	ClassUnknown SymbolClass = iota
	ClassKeyword
	ClassCatalog
	ClassSchema
	ClassTable
	ClassTableAlias
	ClassColumn
	ClassColumnAlias
	ClassFunction
	ClassVariable
	ClassCommand
	ClassObject
	ClassParameter
	ClassLiteral

	classCount
)

var classNames = [classCount]string{
	ClassUnknown:     "unknown",
	ClassKeyword:     "keyword",
	ClassCatalog:     "catalog",
	ClassSchema:      "schema",
	ClassTable:       "table",
	ClassTableAlias:  "table-alias",
	ClassColumn:      "column",
	ClassColumnAlias: "column-alias",
	ClassFunction:    "function",
	ClassVariable:    "variable",
	ClassCommand:     "command",
	ClassObject:      "object",
	ClassParameter:   "parameter",
	ClassLiteral:     "literal",
}

func (c SymbolClass) String() string {
	if c >= 0 && c < classCount {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Classes returns every symbol class in declaration order.
func Classes() []SymbolClass {
	out := make([]SymbolClass, 0, classCount)
	for c := ClassUnknown; c < classCount; c++ {
		out = append(out, c)
	}
	return out
}

// classForObject maps a catalog object kind to the class of a name that
// refers to it.
func classForObject(kind catalog.ObjectKind) SymbolClass {
	switch kind {
	case catalog.KindCatalog:
		return ClassCatalog
	case catalog.KindSchema:
		return ClassSchema
	case catalog.KindTable, catalog.KindView:
		return ClassTable
	default:
		return ClassObject
	}
}

// Origin explains why a symbol has its class. The set of origins is closed.
type Origin interface {
	origin()
}

// DataContextOrigin marks a name resolved against the columns and sources
// visible at its position.
type DataContextOrigin struct {
	Context *RowsDataContext
}

// MemberOfObject marks a name found inside a database object, such as a
// table inside a schema.
type MemberOfObject struct {
	Object *catalog.Object
}

// MemberOfSource marks a column qualified by a table name or alias.
type MemberOfSource struct {
	Source *SourceInfo
}

// ExpandableTupleRef marks a star that stands for the columns of one source,
// or of every source in Context when Source is nil.
type ExpandableTupleRef struct {
	Source  *SourceInfo
	Context *RowsDataContext
}

// PotentialObject marks an unresolved name that may still name a database
// object. Parent is the deepest object the preceding parts resolved to.
type PotentialObject struct {
	Parts  []string
	Parent *catalog.Object
}

// CommandOrigin marks the prefix and name of a control command. Marker is
// "@" or "@@".
type CommandOrigin struct {
	Name   string
	Marker string
}

// VariableOrigin marks a variable reference and its value at parse time.
type VariableOrigin struct {
	Name     string
	Value    string
	Resolved bool
}

func (DataContextOrigin) origin()  {}
func (MemberOfObject) origin()     {}
func (MemberOfSource) origin()     {}
func (ExpandableTupleRef) origin() {}
func (PotentialObject) origin()    {}
func (CommandOrigin) origin()      {}
func (VariableOrigin) origin()     {}

// Definition links a symbol to what it names. At most one field is set.
type Definition struct {
	Object *catalog.Object
	Column *catalog.Column
	Symbol *SymbolEntry
}

// SymbolEntry is one classified range of a statement. Offsets are relative
// to the statement start; End is exclusive.
type SymbolEntry struct {
	Start      int
	End        int
	Name       string
	Canonical  string
	Class      SymbolClass
	Origin     Origin
	Definition *Definition
}

// Touches reports whether offset lies inside the symbol or on its end.
func (s *SymbolEntry) Touches(offset int) bool {
	return offset >= s.Start && offset <= s.End
}

// Len returns the length of the symbol's range.
func (s *SymbolEntry) Len() int {
	return s.End - s.Start
}

func (s *SymbolEntry) String() string {
	return fmt.Sprintf("%s %q [%d,%d)", s.Class, s.Name, s.Start, s.End)
}
