package semantic

import (
	"context"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
)

// lookup wraps the metadata provider for one recognition pass. Provider
// errors are logged at debug level and read as "not found". Results are
// memoized for the duration of the pass.
type lookup struct {
	ctx      context.Context
	provider catalog.Provider
	enabled  bool
	pseudo   []string
	logger   *slog.Logger

	objects map[string]*catalog.Object
	attrs   map[*catalog.Object][]catalog.Column
}

func newLookup(ctx context.Context, opts Options, logger *slog.Logger) *lookup {
	return &lookup{
		ctx:      ctx,
		provider: opts.Catalog,
		enabled:  opts.Catalog != nil && opts.ReadMetadata,
		pseudo:   opts.PseudoColumns,
		logger:   logger,
		objects:  make(map[string]*catalog.Object),
		attrs:    make(map[*catalog.Object][]catalog.Column),
	}
}

func (l *lookup) findObject(parts []string) *catalog.Object {
	if !l.enabled || len(parts) == 0 {
		return nil
	}
	for _, p := range parts {
		if p == "" {
			return nil
		}
	}
	key := strings.ToLower(strings.Join(parts, "\x00"))
	if obj, ok := l.objects[key]; ok {
		return obj
	}
	obj, err := l.provider.FindObject(l.ctx, parts)
	if err != nil {
		l.logger.Debug("metadata lookup failed", "name", strings.Join(parts, "."), "error", err)
		obj = nil
	}
	l.objects[key] = obj
	return obj
}

func (l *lookup) attributes(table *catalog.Object) []catalog.Column {
	if !l.enabled || table == nil {
		return nil
	}
	if cols, ok := l.attrs[table]; ok {
		return cols
	}
	cols, err := l.provider.Attributes(l.ctx, table)
	if err != nil {
		l.logger.Debug("attribute lookup failed", "table", table.QualifiedName(), "error", err)
		cols = nil
	}
	l.attrs[table] = cols
	return cols
}

// attributeFunc returns attributes as an AttributeFunc, or nil when
// metadata is disabled.
func (l *lookup) attributeFunc() AttributeFunc {
	if !l.enabled {
		return nil
	}
	return l.attributes
}

// pseudoColumns returns the configured pseudo-columns followed by those the
// provider reports for table.
func (l *lookup) pseudoColumns(table *catalog.Object) []string {
	out := append([]string(nil), l.pseudo...)
	if !l.enabled || table == nil {
		return out
	}
	names, err := l.provider.PseudoColumns(l.ctx, table)
	if err != nil {
		l.logger.Debug("pseudo-column lookup failed", "table", table.QualifiedName(), "error", err)
		return out
	}
	for _, n := range names {
		dup := false
		for _, o := range out {
			if strings.EqualFold(n, o) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, n)
		}
	}
	return out
}
