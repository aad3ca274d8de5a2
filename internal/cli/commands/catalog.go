package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/internal/cli/output"
)

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and snapshot database metadata",
		Long: `Commands working on the metadata names are resolved against.

A catalog comes from a YAML file (--catalog), a snapshot database written by
"catalog import" (--snapshot), or a live connection (--driver and --dsn).`,
	}
	cmd.AddCommand(newCatalogImportCommand())
	cmd.AddCommand(newCatalogShowCommand())
	cmd.AddCommand(newCatalogDialectsCommand())
	return cmd
}

// CatalogImportOptions holds flags of catalog import.
type CatalogImportOptions struct {
	Out         string
	Concurrency int
}

func newCatalogImportCommand() *cobra.Command {
	opts := &CatalogImportOptions{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy the metadata of a live database into a snapshot",
		Long: `Connect to the database given by --driver and --dsn, read every table and
view with its columns and store them in a snapshot file usable offline with
--snapshot.`,
		Example: `  sqlsense catalog import --driver postgres --dsn "$DATABASE_URL" --out catalog.db
  sqlsense catalog import --driver duckdb --dsn warehouse.duckdb --out catalog.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCatalogImport(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Out, "out", "catalog.db", "Snapshot file to write")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "Column queries run in parallel")
	return cmd
}

func runCatalogImport(cmd *cobra.Command, opts *CatalogImportOptions) error {
	rt := GetRuntime(cmd)
	ctx := commandContext(cmd)
	cc := rt.Config.Catalog
	if cc.Driver == "" || cc.DSN == "" {
		return errors.New("catalog import needs --driver and --dsn")
	}

	live, err := catalog.OpenLive(ctx, cc.Driver, cc.DSN, rt.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = live.Close() }()

	snap, err := live.Introspect(ctx, opts.Concurrency)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}

	store, err := catalog.OpenStore(opts.Out, rt.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.Save(ctx, snap, cc.Driver); err != nil {
		return err
	}

	rt.Renderer.Success(fmt.Sprintf("saved %d relations to %s", len(snap.Relations()), opts.Out))
	return nil
}

// CatalogShowOptions holds flags of catalog show.
type CatalogShowOptions struct {
	Columns bool
	YAML    bool
}

func newCatalogShowCommand() *cobra.Command {
	opts := &CatalogShowOptions{}
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List the relations of the configured catalog",
		Example: `  sqlsense catalog show --catalog catalog.yaml
  sqlsense catalog show --snapshot catalog.db --columns
  sqlsense catalog show --driver sqlite --dsn app.db --yaml > catalog.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCatalogShow(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Columns, "columns", false, "List every column")
	cmd.Flags().BoolVar(&opts.YAML, "yaml", false, "Print the catalog in the YAML file format")
	return cmd
}

// RelationReport is the JSON form of a relation.
type RelationReport struct {
	Name    string         `json:"name"`
	Kind    string         `json:"kind"`
	Comment string         `json:"comment,omitempty"`
	Columns []ColumnReport `json:"columns"`
}

// ColumnReport is the JSON form of a column.
type ColumnReport struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Nullable bool   `json:"nullable"`
}

func runCatalogShow(cmd *cobra.Command, opts *CatalogShowOptions) error {
	rt := GetRuntime(cmd)
	ctx := commandContext(cmd)

	meta, err := openMetadata(ctx, rt.Config, rt.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = meta.Close() }()

	static := meta.static
	if meta.live != nil {
		if static, err = meta.live.Introspect(ctx, 4); err != nil {
			return fmt.Errorf("failed to read catalog: %w", err)
		}
	}

	if opts.YAML {
		data, err := yaml.Marshal(static)
		if err != nil {
			return err
		}
		rt.Renderer.Printf("%s", data)
		return nil
	}

	rels := static.Relations()
	reports := make([]RelationReport, len(rels))
	for i, rel := range rels {
		cols, err := static.Attributes(ctx, rel)
		if err != nil {
			return err
		}
		rep := RelationReport{Name: rel.QualifiedName(), Kind: rel.Kind.String(), Comment: rel.Comment, Columns: make([]ColumnReport, len(cols))}
		for j, c := range cols {
			rep.Columns[j] = ColumnReport{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
		}
		reports[i] = rep
	}

	r := rt.Renderer
	if r.Mode() == output.ModeJSON {
		return r.JSON(reports)
	}
	if len(reports) == 0 {
		r.Muted("catalog is empty")
		return nil
	}

	if opts.Columns {
		t := newTable(r, "Relation", "Column", "Type", "Nullable")
		for _, rep := range reports {
			for _, c := range rep.Columns {
				t.AppendRow([]any{rep.Name, c.Name, c.Type, c.Nullable})
			}
		}
		renderTable(r, t)
		return nil
	}
	t := newTable(r, "Relation", "Kind", "Columns", "Comment")
	for _, rep := range reports {
		names := make([]string, len(rep.Columns))
		for j, c := range rep.Columns {
			names[j] = c.Name
		}
		t.AppendRow([]any{rep.Name, rep.Kind, strings.Join(names, ", "), rep.Comment})
	}
	renderTable(r, t)
	return nil
}

func newCatalogDialectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List the database drivers a live catalog can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := GetRuntime(cmd).Renderer
			if r.Mode() == output.ModeJSON {
				return r.JSON(catalog.Dialects())
			}
			for _, name := range catalog.Dialects() {
				d, err := catalog.LookupDialect(name)
				if err != nil {
					return err
				}
				r.Println(output.FormatKeyValue(name, "driver "+d.Driver))
			}
			return nil
		},
	}
}
