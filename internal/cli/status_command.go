package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"trackq/internal/discovery"
	"trackq/internal/model"
)

var (
	statusDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusFailedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	statusPendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusMutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	statusCellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var (
		format  string
		only    []string
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the job registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			res, err := discovery.Status(cfg.Registry)
			if err != nil {
				return err
			}
			for _, st := range only {
				if !model.IsKnownStatus(st) {
					return fmt.Errorf("unknown status %q in --only", st)
				}
			}
			if len(only) > 0 {
				res.Rows = slices.DeleteFunc(res.Rows, func(r model.JobRecord) bool {
					return !slices.Contains(only, r.Status)
				})
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "json":
				return printJSON(out, res)
			case "yaml":
				return printYAML(out, res)
			case "", "text":
				if !summary {
					fmt.Fprintln(out, renderStatusTable(res.Rows))
				}
				printStatusTotals(out, res)
				return nil
			default:
				return fmt.Errorf("unknown format %q (use text, json or yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text|json|yaml")
	cmd.Flags().StringSliceVar(&only, "only", nil, "show only records with these statuses (e.g. failed,pending)")
	cmd.Flags().BoolVar(&summary, "summary", false, "print counts only")
	return cmd
}

func renderStatusTable(rows []model.JobRecord) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(statusMutedStyle).
		Headers("SETTINGS", "VIDEO", "DATETIME", "PART", "STATUS", "SESSION", "TIMESTAMP")
	for _, r := range rows {
		t.Row(
			truncateRunes(r.SettingsFile, 48),
			truncateRunes(defaultIfEmpty(r.Video, "-"), 32),
			defaultIfEmpty(r.Datetime, "-"),
			defaultIfEmpty(r.Part, "-"),
			r.Status,
			truncateRunes(defaultIfEmpty(r.SessionFolder, "-"), 40),
			defaultIfEmpty(r.Timestamp, "-"),
		)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return statusHeaderStyle.Padding(0, 1)
		}
		if col != 4 || row < 0 || row >= len(rows) {
			return statusCellStyle
		}
		return statusStyle(rows[row].Status).Padding(0, 1)
	})
	return t.Render()
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case model.StatusDone:
		return statusDoneStyle
	case model.StatusFailed:
		return statusFailedStyle
	case model.StatusPending:
		return statusPendingStyle
	default:
		return statusMutedStyle
	}
}

func printStatusTotals(w io.Writer, res discovery.StatusResult) {
	t := res.Totals
	fmt.Fprintf(w, "registry: %s [%s]\n", res.RegistryPath, res.State)
	fmt.Fprintf(w, "  total: %d\n", t.Total)
	fmt.Fprintf(w, "  pending: %d\n", t.Pending)
	fmt.Fprintf(w, "  done: %d\n", t.Done)
	fmt.Fprintf(w, "  failed: %d\n", t.Failed)
	fmt.Fprintf(w, "  skip: %d\n", t.Skip)
	if t.Other > 0 {
		fmt.Fprintf(w, "  other: %d\n", t.Other)
	}
	if t.Remaining > 0 {
		fmt.Fprintf(w, "next: trackq track (%d jobs remaining)\n", t.Remaining)
	}
}
