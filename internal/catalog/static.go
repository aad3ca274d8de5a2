package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Static is an in-memory catalog. It serves YAML catalog files, snapshots
// loaded from a Store and the result of introspecting a live database.
type Static struct {
	DefaultCatalog string
	DefaultSchema  string

	mu       sync.RWMutex
	catalogs []*Object
	children map[*Object][]*Object
	columns  map[*Object][]Column
	pseudo   []string
}

var _ Provider = (*Static)(nil)

// NewStatic returns an empty catalog with the given defaults.
func NewStatic(defaultCatalog, defaultSchema string) *Static {
	return &Static{
		DefaultCatalog: defaultCatalog,
		DefaultSchema:  defaultSchema,
		children:       make(map[*Object][]*Object),
		columns:        make(map[*Object][]Column),
	}
}

func find(list []*Object, name string) *Object {
	for _, o := range list {
		if strings.EqualFold(o.Name, name) {
			return o
		}
	}
	return nil
}

// AddCatalog returns the named catalog, creating it if needed.
func (s *Static) AddCatalog(name string) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := find(s.catalogs, name); c != nil {
		return c
	}
	c := &Object{Kind: KindCatalog, Name: name}
	s.catalogs = append(s.catalogs, c)
	return c
}

// AddSchema returns the named schema of catalog, creating it if needed.
func (s *Static) AddSchema(catalog *Object, name string) *Object {
	return s.addChild(catalog, KindSchema, name)
}

// AddTable adds a table or view with its columns to schema. Re-adding a
// table replaces its columns.
func (s *Static) AddTable(schema *Object, kind ObjectKind, name string, columns ...Column) *Object {
	t := s.addChild(schema, kind, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	cols := make([]Column, len(columns))
	for i, c := range columns {
		c.Table = t
		if c.Position == 0 {
			c.Position = i + 1
		}
		cols[i] = c
	}
	s.columns[t] = cols
	return t
}

// AddDefaultTable adds a table with untyped columns to the default schema.
func (s *Static) AddDefaultTable(name string, columns ...string) *Object {
	cat := s.AddCatalog(s.DefaultCatalog)
	sch := s.AddSchema(cat, s.DefaultSchema)
	cols := make([]Column, len(columns))
	for i, c := range columns {
		cols[i] = Column{Name: c, Nullable: true}
	}
	return s.AddTable(sch, KindTable, name, cols...)
}

// SetPseudoColumns sets the pseudo-columns every table exposes.
func (s *Static) SetPseudoColumns(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pseudo = append([]string(nil), names...)
}

func (s *Static) addChild(parent *Object, kind ObjectKind, name string) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := find(s.children[parent], name); c != nil {
		c.Kind = kind
		return c
	}
	c := &Object{Kind: kind, Name: name, Parent: parent}
	s.children[parent] = append(s.children[parent], c)
	return c
}

func (s *Static) defaultCatalog() *Object {
	if s.DefaultCatalog == "" && len(s.catalogs) == 1 {
		return s.catalogs[0]
	}
	return find(s.catalogs, s.DefaultCatalog)
}

func (s *Static) defaultSchema() *Object {
	cat := s.defaultCatalog()
	if cat == nil {
		return nil
	}
	schemas := s.children[cat]
	if s.DefaultSchema == "" && len(schemas) == 1 {
		return schemas[0]
	}
	return find(schemas, s.DefaultSchema)
}

// FindObject implements Provider.
func (s *Static) FindObject(_ context.Context, parts []string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch len(parts) {
	case 1:
		if sch := s.defaultSchema(); sch != nil {
			if t := find(s.children[sch], parts[0]); t != nil {
				return t, nil
			}
		}
		if cat := s.defaultCatalog(); cat != nil {
			if sch := find(s.children[cat], parts[0]); sch != nil {
				return sch, nil
			}
		}
		return find(s.catalogs, parts[0]), nil
	case 2:
		if cat := s.defaultCatalog(); cat != nil {
			if sch := find(s.children[cat], parts[0]); sch != nil {
				if t := find(s.children[sch], parts[1]); t != nil {
					return t, nil
				}
			}
		}
		if cat := find(s.catalogs, parts[0]); cat != nil {
			return find(s.children[cat], parts[1]), nil
		}
	case 3:
		if cat := find(s.catalogs, parts[0]); cat != nil {
			if sch := find(s.children[cat], parts[1]); sch != nil {
				return find(s.children[sch], parts[2]), nil
			}
		}
	}
	return nil, nil
}

// SearchSchema implements SearchPath.
func (s *Static) SearchSchema(context.Context) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultSchema(), nil
}

// Attributes implements Provider.
func (s *Static) Attributes(_ context.Context, table *Object) ([]Column, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Column(nil), s.columns[table]...), nil
}

// Children implements Provider.
func (s *Static) Children(_ context.Context, parent *Object) ([]*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if parent == nil {
		return append([]*Object(nil), s.catalogs...), nil
	}
	return append([]*Object(nil), s.children[parent]...), nil
}

// PseudoColumns implements Provider.
func (s *Static) PseudoColumns(_ context.Context, table *Object) ([]string, error) {
	if table == nil || !table.Kind.IsRelation() {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.pseudo...), nil
}

// Relations returns every table and view in catalog order.
func (s *Static) Relations() []*Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Object
	for _, cat := range s.catalogs {
		for _, sch := range s.children[cat] {
			out = append(out, s.children[sch]...)
		}
	}
	return out
}

// ---------- YAML format ----------

type fileCatalog struct {
	DefaultCatalog string             `yaml:"default_catalog,omitempty"`
	DefaultSchema  string             `yaml:"default_schema,omitempty"`
	PseudoColumns  []string           `yaml:"pseudo_columns,omitempty"`
	Catalogs       []fileCatalogEntry `yaml:"catalogs"`
}

type fileCatalogEntry struct {
	Name    string       `yaml:"name"`
	Schemas []fileSchema `yaml:"schemas"`
}

type fileSchema struct {
	Name   string      `yaml:"name"`
	Tables []fileTable `yaml:"tables"`
}

type fileTable struct {
	Name    string       `yaml:"name"`
	Kind    string       `yaml:"kind,omitempty"`
	Comment string       `yaml:"comment,omitempty"`
	Columns []fileColumn `yaml:"columns"`
}

type fileColumn struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type,omitempty"`
	Nullable *bool  `yaml:"nullable,omitempty"`
}

// UnmarshalYAML accepts either a mapping or a bare column name.
func (c *fileColumn) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Name = node.Value
		return nil
	}
	type plain fileColumn
	return node.Decode((*plain)(c))
}

// ParseYAML builds a catalog from its YAML form.
func ParseYAML(data []byte) (*Static, error) {
	var f fileCatalog
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	s := NewStatic(f.DefaultCatalog, f.DefaultSchema)
	s.SetPseudoColumns(f.PseudoColumns...)
	for _, fc := range f.Catalogs {
		if fc.Name == "" {
			return nil, fmt.Errorf("catalog entry without name")
		}
		cat := s.AddCatalog(fc.Name)
		for _, fs := range fc.Schemas {
			if fs.Name == "" {
				return nil, fmt.Errorf("schema without name in catalog %q", fc.Name)
			}
			sch := s.AddSchema(cat, fs.Name)
			for _, ft := range fs.Tables {
				kind := KindTable
				switch strings.ToLower(ft.Kind) {
				case "", "table":
				case "view":
					kind = KindView
				default:
					return nil, fmt.Errorf("table %s.%s: unknown kind %q", fs.Name, ft.Name, ft.Kind)
				}
				cols := make([]Column, len(ft.Columns))
				for i, fcol := range ft.Columns {
					cols[i] = Column{Name: fcol.Name, Type: fcol.Type, Nullable: fcol.Nullable == nil || *fcol.Nullable}
				}
				t := s.AddTable(sch, kind, ft.Name, cols...)
				t.Comment = ft.Comment
			}
		}
	}
	return s, nil
}

// LoadFile reads a YAML catalog file.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	s, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// MarshalYAML renders the catalog in the format ParseYAML reads.
func (s *Static) MarshalYAML() (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := fileCatalog{
		DefaultCatalog: s.DefaultCatalog,
		DefaultSchema:  s.DefaultSchema,
		PseudoColumns:  s.pseudo,
	}
	for _, cat := range s.catalogs {
		fc := fileCatalogEntry{Name: cat.Name}
		for _, sch := range s.children[cat] {
			fs := fileSchema{Name: sch.Name}
			for _, t := range s.children[sch] {
				ft := fileTable{Name: t.Name, Comment: t.Comment}
				if t.Kind == KindView {
					ft.Kind = "view"
				}
				for _, c := range s.columns[t] {
					fcol := fileColumn{Name: c.Name, Type: c.Type}
					if !c.Nullable {
						no := false
						fcol.Nullable = &no
					}
					ft.Columns = append(ft.Columns, fcol)
				}
				fs.Tables = append(fs.Tables, ft)
			}
			fc.Schemas = append(fc.Schemas, fs)
		}
		f.Catalogs = append(f.Catalogs, fc)
	}
	return f, nil
}
