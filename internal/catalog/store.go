package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists catalog snapshots in a SQLite file so that completion works
// offline with the metadata of the last import.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenStore opens (creating if needed) the snapshot database at path and
// runs pending migrations. Use ":memory:" for an in-memory store.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)"
	if path == ":memory:" {
		dsn = ":memory:?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping snapshot database: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Version returns the current migration version.
func (s *Store) Version() (int64, error) {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite"); err != nil {
		return 0, fmt.Errorf("failed to set dialect: %w", err)
	}
	return goose.GetDBVersion(s.db)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save replaces the stored snapshot with cat. Source describes where the
// metadata came from and is kept for display.
func (s *Store) Save(ctx context.Context, cat *Static, source string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{
		"DELETE FROM columns",
		"DELETE FROM objects",
		"DELETE FROM snapshot_meta",
		"DELETE FROM pseudo_columns",
	} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear snapshot: %w", err)
		}
	}

	cat.mu.RLock()
	defer cat.mu.RUnlock()

	meta := map[string]string{
		"default_catalog": cat.DefaultCatalog,
		"default_schema":  cat.DefaultSchema,
		"source":          source,
		"saved_at":        time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err = tx.ExecContext(ctx, "INSERT INTO snapshot_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("failed to save snapshot metadata: %w", err)
		}
	}
	for _, name := range cat.pseudo {
		if _, err = tx.ExecContext(ctx, "INSERT INTO pseudo_columns (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to save pseudo-column %s: %w", name, err)
		}
	}

	var insert func(o *Object, parentID sql.NullInt64) error
	insert = func(o *Object, parentID sql.NullInt64) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO objects (parent_id, kind, name, comment) VALUES (?, ?, ?, ?)",
			parentID, int(o.Kind), o.Name, o.Comment)
		if err != nil {
			return fmt.Errorf("failed to save %s %s: %w", o.Kind, o.QualifiedName(), err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read object id: %w", err)
		}
		for _, c := range cat.columns[o] {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO columns (object_id, position, name, type, nullable) VALUES (?, ?, ?, ?, ?)",
				id, c.Position, c.Name, c.Type, c.Nullable); err != nil {
				return fmt.Errorf("failed to save column %s.%s: %w", o.QualifiedName(), c.Name, err)
			}
		}
		for _, child := range cat.children[o] {
			if err := insert(child, sql.NullInt64{Int64: id, Valid: true}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, c := range cat.catalogs {
		if err = insert(c, sql.NullInt64{}); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	s.logger.Debug("catalog snapshot saved", "path", s.path, "relations", len(cat.columns))
	return nil
}

// Load reads the stored snapshot. An empty store yields an empty catalog.
func (s *Store) Load(ctx context.Context) (*Static, error) {
	meta := map[string]string{}
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM snapshot_meta")
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot metadata: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan snapshot metadata: %w", err)
		}
		meta[k] = v
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	cat := NewStatic(meta["default_catalog"], meta["default_schema"])

	var pseudo []string
	rows, err = s.db.QueryContext(ctx, "SELECT name FROM pseudo_columns ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query pseudo-columns: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan pseudo-column: %w", err)
		}
		pseudo = append(pseudo, name)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	cat.SetPseudoColumns(pseudo...)

	columns := map[int64][]Column{}
	rows, err = s.db.QueryContext(ctx, "SELECT object_id, position, name, type, nullable FROM columns ORDER BY object_id, position")
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	for rows.Next() {
		var id int64
		var c Column
		if err := rows.Scan(&id, &c.Position, &c.Name, &c.Type, &c.Nullable); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns[id] = append(columns[id], c)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	// Parents are always inserted before their children, so id order
	// guarantees a parent exists when its child is read.
	byID := map[int64]*Object{}
	rows, err = s.db.QueryContext(ctx, "SELECT id, parent_id, kind, name, comment FROM objects ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query objects: %w", err)
	}
	for rows.Next() {
		var (
			id       int64
			parentID sql.NullInt64
			kind     int
			name     string
			comment  string
		)
		if err := rows.Scan(&id, &parentID, &kind, &name, &comment); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		var o *Object
		switch {
		case !parentID.Valid:
			o = cat.AddCatalog(name)
		case ObjectKind(kind) == KindSchema:
			o = cat.AddSchema(byID[parentID.Int64], name)
		default:
			o = cat.AddTable(byID[parentID.Int64], ObjectKind(kind), name, columns[id]...)
		}
		o.Comment = comment
		byID[id] = o
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	s.logger.Debug("catalog snapshot loaded", "path", s.path, "objects", len(byID))
	return cat, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return rows.Close()
}
