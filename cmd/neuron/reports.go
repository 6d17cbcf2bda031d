package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"neuron/internal/app"
	"neuron/internal/burndown"
	"neuron/internal/domain"
	"neuron/internal/export"
	"neuron/internal/period"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot", Short: "Record and list progress snapshots"}
	cmd.AddCommand(snapshotTakeCmd(), snapshotUpsertCmd(), snapshotListCmd())
	return cmd
}

func snapshotTakeCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "take [program-id]",
		Short: "Snapshot a program (or every program with --all) for the current period",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass a program id or --all")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if all {
					snaps, err := a.Engine.TakeAllSnapshots(ctx)
					if perr := printSnapshots(snaps, snaps); perr != nil {
						return perr
					}
					return err
				}
				s, err := a.Engine.TakeSnapshot(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printSnapshots(s, []domain.Snapshot{s})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "snapshot every program")
	return cmd
}

func snapshotUpsertCmd() *cobra.Command {
	var total, completed int
	var dataPath string
	cmd := &cobra.Command{
		Use:   "upsert <program-id> <date-key>",
		Short: "Store explicit totals under a period key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data domain.WorkstreamData
			if dataPath != "" {
				raw, err := os.ReadFile(dataPath)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &data); err != nil {
					return fmt.Errorf("workstream data: %w", err)
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.UpsertSnapshot(ctx, args[0], args[1], total, completed, data, actorID())
				if err != nil {
					return err
				}
				return printSnapshots(s, []domain.Snapshot{s})
			})
		},
	}
	cmd.Flags().IntVar(&total, "total", 0, "total points")
	cmd.Flags().IntVar(&completed, "completed", 0, "completed points")
	cmd.Flags().StringVar(&dataPath, "data", "", "JSON file with the per-workstream breakdown")
	_ = cmd.MarkFlagRequired("total")
	_ = cmd.MarkFlagRequired("completed")
	return cmd
}

func snapshotListCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "list <program-id>",
		Short: "List a program's snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snaps, err := history(ctx, a, args[0], from, to)
				if err != nil {
					return err
				}
				return printSnapshots(snaps, snaps)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date key (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "last date key (inclusive)")
	return cmd
}

func history(ctx context.Context, a *app.App, programID, from, to string) ([]domain.Snapshot, error) {
	if _, err := a.Engine.Repo.GetProgram(ctx, programID); err != nil {
		return nil, err
	}
	return a.Engine.Snapshots.List(ctx, programID, from, to)
}

func printSnapshots(v any, snaps []domain.Snapshot) error {
	rows := make([]table.Row, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, table.Row{
			s.ProgramID, s.DateKey, burndown.Label(s.DateKey),
			s.TotalPoints, s.CompletedPoints, humanize.FtoaWithDigits(s.PercentComplete, 2) + "%",
		})
	}
	return printTable(v, table.Row{"Program", "Date key", "Period", "Total", "Completed", "Complete"}, rows)
}

func periodCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "period", Short: "Resolve biweekly reporting periods"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "current",
			Short: "Show the period containing today (UTC)",
			RunE: func(cmd *cobra.Command, args []string) error {
				p := period.Current(nil)
				return printPeriods(p, []period.Period{p})
			},
		},
		&cobra.Command{
			Use:   "for <date>",
			Short: "Show the period containing a date (YYYY-MM-DD)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				t, err := period.ParseKey(args[0])
				if err != nil {
					return err
				}
				p := period.For(t)
				return printPeriods(p, []period.Period{p})
			},
		},
		&cobra.Command{
			Use:   "range <from> <to>",
			Short: "List the periods touched by a date range",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				from, err := period.ParseKey(args[0])
				if err != nil {
					return err
				}
				to, err := period.ParseKey(args[1])
				if err != nil {
					return err
				}
				items := period.InRange(from, to)
				return printPeriods(items, items)
			},
		},
	)
	return cmd
}

func printPeriods(v any, items []period.Period) error {
	rows := make([]table.Row, 0, len(items))
	for _, p := range items {
		rows = append(rows, table.Row{p.DateKey, p.Label, p.ISOYear, p.PeriodNumber, p.EndDate.Format(period.KeyLayout)})
	}
	return printTable(v, table.Row{"Date key", "Label", "ISO year", "Number", "Ends"}, rows)
}

func burndownCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "burndown <program-id>",
		Short: "Show remaining points per period with scope changes highlighted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snaps, err := history(ctx, a, args[0], from, to)
				if err != nil {
					return err
				}
				points := burndown.Series(snaps)
				changes := burndown.ScopeChangeEvents(snaps)
				if jsonOutput() {
					return printJSON(map[string]any{
						"program_id":    args[0],
						"points":        points,
						"scope_changes": burndown.ScopeChanges(snaps),
						"changes":       changes,
					})
				}
				renderBurndown(os.Stdout, points, changes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date key (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "last date key (inclusive)")
	return cmd
}

func renderBurndown(w io.Writer, points []burndown.Point, changes []burndown.ScopeChange) {
	up := color.New(color.FgRed).SprintFunc()
	down := color.New(color.FgGreen).SprintFunc()
	byKey := make(map[string]burndown.ScopeChange, len(changes))
	for _, c := range changes {
		byKey[c.DateKey] = c
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Period", "Total", "Remaining", "Scope"})
	for _, p := range points {
		scope := ""
		if c, ok := byKey[p.DateKey]; ok {
			scope = fmt.Sprintf("%+d", c.Delta())
			if c.Increased() {
				scope = up(scope)
			} else {
				scope = down(scope)
			}
		}
		tw.AppendRow(table.Row{p.Label, p.Total, p.Remaining, scope})
	}
	tw.Render()
}

func exportCmd() *cobra.Command {
	var format, out, from, to string
	cmd := &cobra.Command{
		Use:   "export <program-id>",
		Short: "Export snapshot history as csv or parquet, or costs as csv",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w := io.Writer(os.Stdout)
				if out != "" && out != "-" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				switch format {
				case "csv", "parquet":
					snaps, err := history(ctx, a, args[0], from, to)
					if err != nil {
						return err
					}
					if format == "csv" {
						return export.WriteSnapshotsCSV(w, snaps)
					}
					return export.WriteSnapshotsParquet(w, snaps)
				case "costs":
					return exportCosts(ctx, a, args[0], w)
				default:
					return fmt.Errorf("--format must be csv, parquet or costs")
				}
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv, parquet or costs")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (stdout when empty)")
	cmd.Flags().StringVar(&from, "from", "", "first date key (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "last date key (inclusive)")
	return cmd
}

func exportCosts(ctx context.Context, a *app.App, programID string, w io.Writer) error {
	if _, err := a.Engine.Repo.GetProgram(ctx, programID); err != nil {
		return err
	}
	costs, err := a.Engine.Repo.ListCostEntries(ctx, programID)
	if err != nil {
		return err
	}
	workstreams, err := a.Engine.Repo.ListWorkstreams(ctx, programID)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(workstreams))
	for _, ws := range workstreams {
		names[ws.ID] = ws.Name
	}
	return export.WriteCostsCSV(w, costs, names)
}
