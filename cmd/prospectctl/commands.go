package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/prospects/internal/config"
	"github.com/JonMunkholm/prospects/internal/core"
	"github.com/JonMunkholm/prospects/internal/core/sources"
	"github.com/JonMunkholm/prospects/internal/core/tables"
	"github.com/JonMunkholm/prospects/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the system tables and one table per source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return withCode(exitUsage, err)
			}
			storeCfg := cfg.StoreConfig()
			storeCfg.AutoMigrate = false

			backend, err := store.Open(cmd.Context(), storeCfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			if err := backend.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", storeCfg.Driver)
			return nil
		},
	}
}

func newSourcesCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Validate and print the source registry, most authoritative first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = os.Getenv("SOURCES_FILE")
			}
			reg, err := sources.Load(file)
			if err != nil {
				return err
			}
			if err := reg.CheckTables(core.Get); err != nil {
				return err
			}
			out, err := yaml.Marshal(sources.File{Sources: reg.ByPriority()})
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "registry file (default: $SOURCES_FILE or the built-in registry)")
	return cmd
}

func newMergeCmd() *cobra.Command {
	var showProvenance bool

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Rebuild the unified view and summarize it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			prospects, err := a.service.Prospects(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "prospects\t%d\n", len(prospects))
			bySource := map[string]int{}
			multi := 0
			for _, p := range prospects {
				for name := range p.Sources {
					bySource[name]++
				}
				if p.SourceCount > 1 {
					multi++
				}
			}
			fmt.Fprintf(w, "in more than one source\t%d\n", multi)
			for _, src := range a.service.Sources().ByPriority() {
				fmt.Fprintf(w, "from %s\t%d\n", src.Name, bySource[src.Name])
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if showProvenance {
				for _, p := range prospects {
					fields := make([]string, 0, len(p.Provenance))
					for field := range p.Provenance {
						fields = append(fields, field)
					}
					slices.Sort(fields)
					for _, field := range fields {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", p.Email, field, p.Provenance[field])
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showProvenance, "provenance", false, "print the winning source of every merged field")
	return cmd
}

// viewFlags are the query flags shared by query and export.
type viewFlags struct {
	table    string
	page     int
	pageSize int
	sort     string
	dir      string
	search   string
	filters  []string
	columns  []string
}

func (f *viewFlags) register(cmd *cobra.Command, defaultPageSize int) {
	flags := cmd.Flags()
	flags.StringVar(&f.table, "table", tables.ProspectsTable, "table to read")
	flags.IntVar(&f.page, "page", 1, "page number")
	flags.IntVar(&f.pageSize, "page-size", defaultPageSize, "rows per page, 0 for all")
	flags.StringVar(&f.sort, "sort", "", "sort column")
	flags.StringVar(&f.dir, "dir", "asc", "sort direction: asc or desc")
	flags.StringVar(&f.search, "search", "", "free-text search")
	flags.StringArrayVar(&f.filters, "filter", nil, "column filter col=op:value (repeatable)")
	flags.StringSliceVar(&f.columns, "columns", nil, "visible columns, in order")
}

func (f *viewFlags) state() (core.ViewState, error) {
	state := core.NewViewState(f.table, f.pageSize)
	if f.sort != "" {
		state = state.WithSort(f.sort, core.ParseSortOrder(f.dir))
	}
	if len(f.columns) > 0 {
		state = state.WithVisibleColumns(f.columns)
	}
	for _, raw := range f.filters {
		filter, err := parseFilterFlag(raw)
		if err != nil {
			return state, withCode(exitUsage, err)
		}
		state = state.WithFilter(filter)
	}
	if f.search != "" {
		state = state.WithSearch(f.search)
	}
	if f.page < 1 {
		return state, withCode(exitUsage, fmt.Errorf("--page must be at least 1"))
	}
	return state.WithPage(f.page), nil
}

// parseFilterFlag parses "col=op:value".
func parseFilterFlag(raw string) (core.ColumnFilter, error) {
	column, rest, ok := strings.Cut(raw, "=")
	if !ok || column == "" {
		return core.ColumnFilter{}, fmt.Errorf("invalid --filter %q: want col=op:value", raw)
	}
	op, value, ok := strings.Cut(rest, ":")
	if !ok {
		return core.ColumnFilter{}, fmt.Errorf("invalid --filter %q: want col=op:value", raw)
	}
	return core.ColumnFilter{Column: strings.TrimSpace(column), Operator: core.FilterOperator(op), Value: value}, nil
}

func newQueryCmd() *cobra.Command {
	var vf viewFlags

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print one page of a table as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := vf.state()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.service.Query(cmd.Context(), state)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	vf.register(cmd, core.DefaultPageSize)
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		vf        viewFlags
		out       string
		scope     string
		delimiter string
		encoding  string
		quote     string
		noHeader  bool
		crlf      bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the rows of a table view as CSV or TSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := vf.state()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			opts := a.service.Options().ExportDefaults
			opts.Scope = core.ExportScope(scope)
			if delimiter != "" {
				r := []rune(delimiter)
				if delimiter == `\t` || delimiter == "tab" {
					r = []rune{'\t'}
				}
				if len(r) != 1 {
					return withCode(exitUsage, fmt.Errorf("--delimiter must be a single character"))
				}
				opts.Delimiter = r[0]
			}
			if encoding != "" {
				opts.Encoding = encoding
			}
			if quote != "" {
				opts.Quote = core.QuoteMode(quote)
			}
			if noHeader {
				opts.IncludeHeader = false
			}
			if crlf {
				opts.CRLF = true
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(filepath.Clean(out))
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := a.service.Export(cmd.Context(), state, opts, w)
			if err != nil {
				return err
			}
			if out != "" && out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s\n", n, out)
			}
			return nil
		},
	}
	vf.register(cmd, 0)
	flags := cmd.Flags()
	flags.StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	flags.StringVar(&scope, "scope", string(core.ScopeAll), "page or all")
	flags.StringVar(&delimiter, "delimiter", "", "field delimiter (default from EXPORT_DELIMITER)")
	flags.StringVar(&encoding, "encoding", "", "output encoding (default from EXPORT_ENCODING)")
	flags.StringVar(&quote, "quote", "", "quoting: minimal, all or none")
	flags.BoolVar(&noHeader, "no-header", false, "omit the header row")
	flags.BoolVar(&crlf, "crlf", false, "end lines with CRLF")
	return cmd
}
