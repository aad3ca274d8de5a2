package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Live reads metadata from a database connection on demand.
type Live struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	catalog *Object // sqlite has a single implicit catalog
}

var _ Provider = (*Live)(nil)

// NewLive wraps an open connection.
// If logger is nil, a discard logger is used.
func NewLive(db *sql.DB, d Dialect, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Live{db: db, dialect: d, logger: logger, catalog: &Object{Kind: KindCatalog, Name: "main"}}
}

// OpenLive connects using a registered dialect.
func OpenLive(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Live, error) {
	d, err := LookupDialect(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("catalog driver %s: dsn is required", driver)
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	l := NewLive(db, d, logger)
	l.logger.Debug("catalog connection established", "driver", driver)
	return l, nil
}

// Close closes the connection.
func (l *Live) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Dialect returns the connection's dialect.
func (l *Live) Dialect() Dialect {
	return l.dialect
}

func (l *Live) ph(n int) string {
	return l.dialect.Placeholder(n)
}

// where builds "lower(col) = lower(?)" conditions for non-empty values.
func (l *Live) where(cols []string, vals []string) (string, []any) {
	var conds []string
	var args []any
	for i, c := range cols {
		args = append(args, vals[i])
		conds = append(conds, fmt.Sprintf("lower(%s) = lower(%s)", c, l.ph(len(args))))
	}
	return strings.Join(conds, " AND "), args
}

func relationKind(tableType string) ObjectKind {
	if strings.Contains(strings.ToUpper(tableType), "VIEW") {
		return KindView
	}
	return KindTable
}

// FindObject implements Provider.
func (l *Live) FindObject(ctx context.Context, parts []string) (*Object, error) {
	if l.db == nil {
		return nil, ErrNotConnected
	}
	if l.dialect.SQLiteMaster {
		return l.findSQLite(ctx, parts)
	}

	var cols, vals []string
	switch len(parts) {
	case 1:
		cols, vals = []string{"table_schema", "table_name"}, []string{l.dialect.DefaultSchema, parts[0]}
	case 2:
		cols, vals = []string{"table_schema", "table_name"}, parts
	case 3:
		cols, vals = []string{"table_catalog", "table_schema", "table_name"}, parts
	default:
		return nil, nil
	}
	cond, args := l.where(cols, vals)
	//nolint:gosec // Conditions only contain column names and placeholders
	query := "SELECT table_catalog, table_schema, table_name, table_type FROM information_schema.tables WHERE " + cond
	var catName, schName, name, typ string
	err := l.db.QueryRowContext(ctx, query, args...).Scan(&catName, &schName, &name, &typ)
	switch {
	case err == nil:
		cat := &Object{Kind: KindCatalog, Name: catName}
		sch := &Object{Kind: KindSchema, Name: schName, Parent: cat}
		return &Object{Kind: relationKind(typ), Name: name, Parent: sch}, nil
	case err != sql.ErrNoRows:
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}

	if len(parts) > 2 {
		return nil, nil
	}
	if len(parts) == 1 {
		cols, vals = []string{"schema_name"}, parts
	} else {
		cols, vals = []string{"catalog_name", "schema_name"}, parts
	}
	cond, args = l.where(cols, vals)
	//nolint:gosec // Conditions only contain column names and placeholders
	query = "SELECT catalog_name, schema_name FROM information_schema.schemata WHERE " + cond
	err = l.db.QueryRowContext(ctx, query, args...).Scan(&catName, &schName)
	switch {
	case err == nil:
		return &Object{Kind: KindSchema, Name: schName, Parent: &Object{Kind: KindCatalog, Name: catName}}, nil
	case err == sql.ErrNoRows:
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to query schemata: %w", err)
	}
}

// SearchSchema implements SearchPath.
func (l *Live) SearchSchema(ctx context.Context) (*Object, error) {
	if l.dialect.SQLiteMaster {
		return l.schemaObject(), nil
	}
	return l.FindObject(ctx, []string{l.dialect.DefaultSchema})
}

func (l *Live) schemaObject() *Object {
	return &Object{Kind: KindSchema, Name: l.dialect.DefaultSchema, Parent: l.catalog}
}

func (l *Live) findSQLite(ctx context.Context, parts []string) (*Object, error) {
	name := parts[len(parts)-1]
	if len(parts) > 1 && !strings.EqualFold(parts[len(parts)-2], l.dialect.DefaultSchema) {
		return nil, nil
	}
	var tblName, typ string
	err := l.db.QueryRowContext(ctx,
		"SELECT name, type FROM sqlite_master WHERE type IN ('table', 'view') AND lower(name) = lower(?)",
		name).Scan(&tblName, &typ)
	switch {
	case err == nil:
		return &Object{Kind: relationKind(typ), Name: tblName, Parent: l.schemaObject()}, nil
	case err == sql.ErrNoRows:
		if len(parts) == 1 && strings.EqualFold(name, l.dialect.DefaultSchema) {
			return l.schemaObject(), nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to query sqlite_master: %w", err)
	}
}

// Attributes implements Provider.
func (l *Live) Attributes(ctx context.Context, table *Object) ([]Column, error) {
	if l.db == nil {
		return nil, ErrNotConnected
	}
	if table == nil || !table.Kind.IsRelation() {
		return nil, nil
	}

	var rows *sql.Rows
	var err error
	if l.dialect.SQLiteMaster {
		rows, err = l.db.QueryContext(ctx,
			`SELECT name, type, "notnull" = 0, cid + 1 FROM pragma_table_info(?) ORDER BY cid`, table.Name)
	} else {
		schema := l.dialect.DefaultSchema
		if table.Parent != nil {
			schema = table.Parent.Name
		}
		//nolint:gosec // Placeholders are safe - they come from the dialect
		query := fmt.Sprintf(`
			SELECT
				column_name,
				data_type,
				is_nullable = 'YES',
				ordinal_position
			FROM information_schema.columns
			WHERE table_schema = %s AND table_name = %s
			ORDER BY ordinal_position
		`, l.ph(1), l.ph(2))
		rows, err = l.db.QueryContext(ctx, query, schema, table.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		c := Column{Table: table}
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	return columns, nil
}

// Children implements Provider.
func (l *Live) Children(ctx context.Context, parent *Object) ([]*Object, error) {
	if l.db == nil {
		return nil, ErrNotConnected
	}
	if l.dialect.SQLiteMaster {
		switch {
		case parent == nil:
			return []*Object{l.catalog}, nil
		case parent.Kind == KindCatalog:
			return []*Object{l.schemaObject()}, nil
		case parent.Kind == KindSchema:
			return l.queryObjects(ctx, parent,
				"SELECT name, type FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name")
		}
		return nil, nil
	}

	switch {
	case parent == nil:
		return l.queryObjects(ctx, nil,
			"SELECT DISTINCT catalog_name, '' FROM information_schema.schemata ORDER BY catalog_name")
	case parent.Kind == KindCatalog:
		//nolint:gosec // Placeholders are safe - they come from the dialect
		return l.queryObjects(ctx, parent, fmt.Sprintf(
			"SELECT schema_name, '' FROM information_schema.schemata WHERE catalog_name = %s ORDER BY schema_name",
			l.ph(1)), parent.Name)
	case parent.Kind == KindSchema:
		//nolint:gosec // Placeholders are safe - they come from the dialect
		return l.queryObjects(ctx, parent, fmt.Sprintf(
			"SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = %s ORDER BY table_name",
			l.ph(1)), parent.Name)
	}
	return nil, nil
}

// queryObjects reads (name, type) rows into children of parent. The kind
// follows from the parent: catalogs, then schemas, then relations.
func (l *Live) queryObjects(ctx context.Context, parent *Object, query string, args ...any) ([]*Object, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Object
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		o := &Object{Name: name, Parent: parent}
		switch {
		case parent == nil:
			o.Kind = KindCatalog
		case parent.Kind == KindCatalog:
			o.Kind = KindSchema
		default:
			o.Kind = relationKind(typ)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating objects: %w", err)
	}
	return out, nil
}

// PseudoColumns implements Provider.
func (l *Live) PseudoColumns(_ context.Context, table *Object) ([]string, error) {
	if table == nil || table.Kind != KindTable {
		return nil, nil
	}
	return append([]string(nil), l.dialect.PseudoColumns...), nil
}

// Introspect copies the whole catalog into a Static snapshot. Column
// metadata is fetched with at most concurrency queries in flight.
func (l *Live) Introspect(ctx context.Context, concurrency int) (*Static, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	out := NewStatic("", l.dialect.DefaultSchema)
	out.SetPseudoColumns(l.dialect.PseudoColumns...)

	catalogs, err := l.Children(ctx, nil)
	if err != nil {
		return nil, err
	}
	var relations []*Object
	for _, c := range catalogs {
		schemas, err := l.Children(ctx, c)
		if err != nil {
			return nil, err
		}
		for _, sch := range schemas {
			if isSystemSchema(sch.Name) {
				continue
			}
			rels, err := l.Children(ctx, sch)
			if err != nil {
				return nil, err
			}
			relations = append(relations, rels...)
		}
	}
	if len(catalogs) == 1 {
		out.DefaultCatalog = catalogs[0].Name
	}

	columns := make([][]Column, len(relations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, rel := range relations {
		g.Go(func() error {
			cols, err := l.Attributes(gctx, rel)
			if err != nil {
				return fmt.Errorf("%s: %w", rel.QualifiedName(), err)
			}
			columns[i] = cols
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, rel := range relations {
		sch := rel.Parent
		cat := out.AddCatalog(sch.Parent.Name)
		t := out.AddTable(out.AddSchema(cat, sch.Name), rel.Kind, rel.Name, columns[i]...)
		t.Comment = rel.Comment
	}
	l.logger.Info("catalog introspected", "relations", len(relations))
	return out, nil
}

func isSystemSchema(name string) bool {
	switch strings.ToLower(name) {
	case "information_schema", "pg_catalog", "pg_toast":
		return true
	}
	return strings.HasPrefix(strings.ToLower(name), "pg_temp")
}
