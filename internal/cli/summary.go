package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/arpa-simc/provami/internal/explorer"
	"github.com/arpa-simc/provami/internal/log"
	"github.com/arpa-simc/provami/internal/session"
)

// SummaryOptions holds options for the summary command.
type SummaryOptions struct {
	Filters []string
	JSON    bool
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand() *cobra.Command {
	opts := &SummaryOptions{}

	cmd := &cobra.Command{
		Use:   "summary [db-url]",
		Short: "Show what the database contains",
		Long: `Scan the database and print the selectable report types, levels,
time ranges and variables, with the number of stations matching a filter.`,
		Example: `  provami summary sqlite:obs.sqlite
  provami summary sqlite:obs.sqlite -f rep_memo=synop --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummary(cmd, args, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Filters, "filter", "f", nil, "Filter as key=value, repeatable")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the explorer view as JSON")

	return cmd
}

func runSummary(cmd *cobra.Command, args []string, opts *SummaryOptions) error {
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

	s, err := session.Open(cfg.DBURL, session.Config{Logger: log.Named("session")})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	view, err := s.Init(ctx)
	if err != nil {
		return err
	}
	if !view.Initialized {
		return fmt.Errorf("could not scan %s", s.DBURL())
	}
	if len(display) > 0 {
		if view, err = s.SetFilter(ctx, display); err != nil {
			return err
		}
	}

	if opts.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	renderSummary(cmd.OutOrStdout(), view)
	return nil
}

func renderSummary(w io.Writer, view explorer.View) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(view.DBURL)
	t.AppendRow(table.Row{"Values", view.Stats.Count})
	t.AppendRow(table.Row{"First datetime", optString(view.Stats.DatetimeMin)})
	t.AppendRow(table.Row{"Last datetime", optString(view.Stats.DatetimeMax)})
	t.AppendRow(table.Row{"Stations", fmt.Sprintf("%d selected, %d disabled", len(view.Stations), len(view.StationsDisabled))})
	if view.FilterCmdline != "" {
		t.AppendRow(table.Row{"Filter", view.FilterCmdline})
	}
	t.Render()

	d := table.NewWriter()
	d.SetOutputMirror(w)
	d.SetStyle(table.StyleLight)
	d.AppendHeader(table.Row{"Kind", "Value", "Description"})
	for _, r := range view.RepMemo {
		d.AppendRow(table.Row{"report", r, ""})
	}
	for _, l := range view.Level {
		d.AppendRow(table.Row{"level", l.Value.String(), l.Desc})
	}
	for _, tr := range view.Trange {
		d.AppendRow(table.Row{"trange", tr.Value.String(), tr.Desc})
	}
	for _, v := range view.Var {
		d.AppendRow(table.Row{"var", v.Value, v.Desc})
	}
	d.Render()
}

func optString(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
