package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/prospects/internal/core"
)

type importOptions struct {
	table        string
	file         string
	delimiter    string
	encoding     string
	maps         []string
	saveTemplate string
	apply        bool
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a CSV or TSV file into a source table",
		Long: "Import runs the same job the web flow does: parse, suggest a mapping,\n" +
			"apply --map overrides, then analyze (default) or write (--apply).",
		RunE: func(cmd *cobra.Command, args []string) error {
			mapping, err := parseMapFlags(opts.maps)
			if err != nil {
				return withCode(exitUsage, err)
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return runImport(cmd.Context(), a.service, root.user, opts, mapping, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.table, "table", "", "target source table (required)")
	flags.StringVar(&opts.file, "file", "", "file to import (required)")
	flags.StringVar(&opts.delimiter, "delimiter", "", "field delimiter (default: detect from extension)")
	flags.StringVar(&opts.encoding, "encoding", "", "file encoding (default: detect)")
	flags.StringArrayVar(&opts.maps, "map", nil, "header=field mapping override, field empty to ignore (repeatable)")
	flags.StringVar(&opts.saveTemplate, "save-template", "", "save the final mapping as a template")
	flags.BoolVar(&opts.apply, "apply", false, "write to the store (default is a dry-run analysis)")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// parseMapFlags parses repeated "header=field" overrides.
func parseMapFlags(raw []string) (core.ColumnMapping, error) {
	m := make(core.ColumnMapping, len(raw))
	for _, r := range raw {
		header, field, ok := strings.Cut(r, "=")
		if !ok || strings.TrimSpace(header) == "" {
			return nil, fmt.Errorf("invalid --map %q: want header=field", r)
		}
		field = strings.TrimSpace(field)
		if field == "" {
			field = core.Ignore
		}
		m[header] = field
	}
	return m, nil
}

func runImport(ctx context.Context, svc *core.Service, user string, opts importOptions, overrides core.ColumnMapping, out io.Writer) error {
	f, err := os.Open(filepath.Clean(opts.file))
	if err != nil {
		return withCode(exitUsage, err)
	}
	defer f.Close()

	parse := core.ParseOptions{Encoding: opts.encoding}
	switch {
	case opts.delimiter == "tab" || opts.delimiter == `\t`:
		parse.Delimiter = '\t'
	case opts.delimiter != "":
		r := []rune(opts.delimiter)
		if len(r) != 1 {
			return withCode(exitUsage, fmt.Errorf("--delimiter must be a single character"))
		}
		parse.Delimiter = r[0]
	case strings.EqualFold(filepath.Ext(opts.file), ".tsv"):
		parse.Delimiter = '\t'
	}

	job, err := svc.StartImport(ctx, user, opts.table)
	if err != nil {
		return err
	}
	// The job only lives in this process.
	defer func() { _ = svc.DiscardImport(user, job.ID) }()

	if _, err := svc.UploadFile(ctx, user, job.ID, filepath.Base(opts.file), f, parse); err != nil {
		return err
	}
	view, err := svc.BeginMapping(ctx, user, job.ID)
	if err != nil {
		return err
	}

	mapping := make(core.ColumnMapping, len(view.Mapping)+len(overrides))
	for h, field := range view.Mapping {
		mapping[h] = field
	}
	for h, field := range overrides {
		mapping[h] = field
	}
	if view, err = svc.SetMapping(user, job.ID, mapping); err != nil {
		return err
	}
	printMapping(out, view)

	if opts.saveTemplate != "" {
		if _, err := svc.SaveTemplate(ctx, user, job.ID, opts.saveTemplate); err != nil {
			return err
		}
		fmt.Fprintf(out, "saved template %q\n", opts.saveTemplate)
	}

	if !opts.apply {
		preview, err := svc.AnalyzeImport(ctx, user, job.ID)
		if err != nil {
			return err
		}
		return printJSON(out, preview)
	}

	if _, err := svc.AdvanceToConfirm(user, job.ID); err != nil {
		return err
	}
	if _, err := svc.ConfirmImport(ctx, user, job.ID); err != nil {
		return err
	}
	result, err := svc.CompleteImport(user, job.ID)
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

func printMapping(out io.Writer, view core.ImportJobView) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, h := range view.Headers {
		field := view.Mapping[h]
		if field == "" || field == core.Ignore {
			field = "(ignored)"
		}
		fmt.Fprintf(w, "%s\t-> %s\n", h, field)
	}
	_ = w.Flush()
}
