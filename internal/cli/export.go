package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arpa-simc/provami/internal/exporter"
	"github.com/arpa-simc/provami/internal/log"
	"github.com/arpa-simc/provami/internal/session"
)

// ExportOptions holds options for the export command.
type ExportOptions struct {
	Format  string
	Filters []string
	Output  string
}

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export [db-url]",
		Short: "Export the data matching a filter",
		Long: `Export the messages selected by a filter as BUFR, CREX or CSV.

Filter values are given as key=value. Level and time range take a JSON
array, for example level=[1,null,null,null].`,
		Example: `  # All synop data of one day as CSV on stdout
  provami export sqlite:obs.sqlite -f rep_memo=synop -f "datemin=2020-01-01 00:00:00" -f "datemax=2020-01-01 23:59:59"

  # Temperature at 2m to a BUFR file
  provami export --db sqlite:obs.sqlite --format bufr -f var=B12101 -f level=[103,2000,null,null] -o t2m.bufr`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", string(exporter.FormatCSV), "Output format (bufr|crex|csv)")
	cmd.Flags().StringArrayVarP(&opts.Filters, "filter", "f", nil, "Filter as key=value, repeatable")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Output file (default: stdout)")

	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		names := make([]string, len(exporter.Formats))
		for i, f := range exporter.Formats {
			names[i] = string(f)
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runExport(cmd *cobra.Command, args []string, opts *ExportOptions) error {
	format, err := exporter.ParseFormat(opts.Format)
	if err != nil {
		return err
	}
	display, err := parseFilterArgs(opts.Filters)
	if err != nil {
		return err
	}

	provider, cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	defer provider.Close()
	defer log.Sync()

	s, err := session.Open(cfg.DBURL, session.Config{
		DataLimit: cfg.Session.DataLimit,
		Logger:    log.Named("session"),
	})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if _, err := s.SetFilter(ctx, display); err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	bw := bufio.NewWriter(out)
	if err := s.Export(ctx, format, bw); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	return bw.Flush()
}

// parseFilterArgs turns key=value pairs into the transport form of a filter.
// Values starting with '[' are taken as JSON, everything else as a string.
func parseFilterArgs(pairs []string) (map[string]json.RawMessage, error) {
	display := make(map[string]json.RawMessage, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: expected key=value", p)
		}
		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, "[") {
			if !json.Valid([]byte(value)) {
				return nil, fmt.Errorf("invalid filter %q: malformed JSON array", p)
			}
			display[key] = json.RawMessage(value)
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		display[key] = raw
	}
	return display, nil
}
