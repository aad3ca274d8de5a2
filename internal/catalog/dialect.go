package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"  // registers the "pgx" driver
	_ "github.com/marcboeker/go-duckdb" // registers the "duckdb" driver
)

// Dialect describes how to read metadata through one database/sql driver.
type Dialect struct {
	// Name is the value used in configuration (catalog.driver).
	Name string
	// Driver is the database/sql driver name.
	Driver string
	// DefaultSchema is used for one-part table names.
	DefaultSchema string
	// PseudoColumns are exposed by every table.
	PseudoColumns []string
	// SQLiteMaster selects sqlite_master instead of information_schema.
	SQLiteMaster bool
	// NumberedPlaceholders selects $1 style placeholders instead of ?.
	NumberedPlaceholders bool
}

// Placeholder returns the n-th (1-based) bind placeholder.
func (d Dialect) Placeholder(n int) string {
	if d.NumberedPlaceholders {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

var (
	dialectsMu sync.RWMutex
	dialects   = map[string]Dialect{
		"postgres": {
			Name:                 "postgres",
			Driver:               "pgx",
			DefaultSchema:        "public",
			PseudoColumns:        []string{"ctid", "xmin"},
			NumberedPlaceholders: true,
		},
		"duckdb": {
			Name:          "duckdb",
			Driver:        "duckdb",
			DefaultSchema: "main",
			PseudoColumns: []string{"rowid"},
		},
		"sqlite": {
			Name:          "sqlite",
			Driver:        "sqlite",
			DefaultSchema: "main",
			PseudoColumns: []string{"rowid"},
			SQLiteMaster:  true,
		},
	}
)

// RegisterDialect adds or replaces a dialect.
func RegisterDialect(d Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	dialects[d.Name] = d
}

// LookupDialect returns the dialect registered under name.
func LookupDialect(name string) (Dialect, error) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	d, ok := dialects[name]
	if !ok {
		return Dialect{}, &UnknownDialectError{Name: name, Available: dialectNames()}
	}
	return d, nil
}

// Dialects returns the registered dialect names (sorted).
func Dialects() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	return dialectNames()
}

func dialectNames() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownDialectError is returned when an unknown driver is configured.
type UnknownDialectError struct {
	Name      string
	Available []string
}

func (e *UnknownDialectError) Error() string {
	return fmt.Sprintf("unknown catalog driver %q (available: %v)", e.Name, e.Available)
}
