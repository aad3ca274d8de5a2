// Package catalog provides database metadata to the analysis engine: the
// catalogs, schemas, tables and columns that names in a script resolve to.
//
// Every lookup is optional for the caller. A Provider may be offline, slow or
// incomplete; the analysis engine treats errors as "not found".
package catalog

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConnected is returned by providers that need a live connection.
var ErrNotConnected = errors.New("catalog: not connected")

// ObjectKind classifies a catalog object.
type ObjectKind int

// Object kinds, outermost first.
const (
	KindCatalog ObjectKind = iota
	KindSchema
	KindTable
	KindView
)

func (k ObjectKind) String() string {
	switch k {
	case KindCatalog:
		return "catalog"
	case KindSchema:
		return "schema"
	case KindTable:
		return "table"
	case KindView:
		return "view"
	default:
		return "unknown"
	}
}

// IsRelation reports whether objects of this kind have columns.
func (k ObjectKind) IsRelation() bool {
	return k == KindTable || k == KindView
}

// Object is a named database object. Parent is nil for catalogs.
type Object struct {
	Kind    ObjectKind
	Name    string
	Parent  *Object
	Comment string
}

// Path returns the names from the outermost parent down to the object.
func (o *Object) Path() []string {
	var parts []string
	for cur := o; cur != nil; cur = cur.Parent {
		parts = append(parts, cur.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts
}

// QualifiedName returns the dotted path of the object.
func (o *Object) QualifiedName() string {
	return strings.Join(o.Path(), ".")
}

// Column is an attribute of a table or view.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int // 1-based ordinal
	Table    *Object
}

// Provider looks up database metadata.
//
// FindObject returns nil and no error when nothing matches. Name parts are
// compared case-insensitively.
type Provider interface {
	// FindObject resolves a possibly partial qualified name. One part names
	// a table in the default schema, a schema in the default catalog or a
	// catalog, in that order; two parts a table in a schema or a schema in a
	// catalog; three parts a fully qualified table.
	FindObject(ctx context.Context, parts []string) (*Object, error)
	// Attributes returns the columns of a table or view in ordinal order.
	Attributes(ctx context.Context, table *Object) ([]Column, error)
	// Children returns the objects directly inside parent; nil lists catalogs.
	Children(ctx context.Context, parent *Object) ([]*Object, error)
	// PseudoColumns returns the names of row-level pseudo-columns of a table,
	// such as rowid, which are never shadowed by real columns.
	PseudoColumns(ctx context.Context, table *Object) ([]string, error)
}

// SearchPath is implemented by providers that know the schema unqualified
// table names resolve in.
type SearchPath interface {
	SearchSchema(ctx context.Context) (*Object, error)
}

// SearchSchema returns the schema unqualified names resolve in, or nil when
// p cannot tell.
func SearchSchema(ctx context.Context, p Provider) *Object {
	sp, ok := p.(SearchPath)
	if !ok {
		return nil
	}
	sch, err := sp.SearchSchema(ctx)
	if err != nil {
		return nil
	}
	return sch
}

// Normalize returns the lookup key for an identifier.
func Normalize(name string) string {
	return strings.ToLower(name)
}
