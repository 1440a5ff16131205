package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// withEngine opens the app for a one-shot command.
func withEngine(ctx context.Context, fn func(ctx context.Context, e *leave.Engine) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.engine)
}

// =============================================================================
// CLOSE-YEAR
// =============================================================================

func closeYearCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "close-year YEAR",
		Short: "Archive every employee's entries for YEAR and freeze it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid year %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *leave.Engine) error {
				res, err := e.Archive.CloseYear(ctx, year, actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "closed %d: %d archived, %d skipped\n",
					res.Year, len(res.Archived), len(res.Skipped))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded in the audit trail")
	return cmd
}

// =============================================================================
// HISTORY
// =============================================================================

func historyCmd() *cobra.Command {
	var employee string
	var year int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print archived yearly summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if employee == "" && year == 0 {
				return fmt.Errorf("--employee or --year is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *leave.Engine) error {
				var rows []leave.Summary
				var err error
				switch {
				case employee != "" && year != 0:
					var row leave.Summary
					row, err = e.Archive.ByEmployeeYear(ctx, generic.EntityID(employee), year)
					rows = []leave.Summary{row}
				case employee != "":
					rows, err = e.Archive.ByEmployee(ctx, generic.EntityID(employee))
				default:
					rows, err = e.Archive.ByYear(ctx, year)
				}
				if err != nil {
					return err
				}
				renderHistory(cmd.OutOrStdout(), rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee ID")
	cmd.Flags().IntVar(&year, "year", 0, "entitlement year")
	return cmd
}

func renderHistory(w io.Writer, rows []leave.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Employee", "Year", "Leave Type", "Total", "Used", "Remaining", "Half Days", "Source"})
	for _, s := range rows {
		for _, e := range s.Entries {
			t.AppendRow(table.Row{
				s.EmployeeID, s.Year, e.Type,
				e.Total.String(), e.Used.String(), e.Remaining.String(),
				e.AccumulatedHalfDays, s.Source,
			})
		}
	}
	t.Render()
}

// =============================================================================
// BALANCES
// =============================================================================

func balancesCmd() *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "balances EMPLOYEE",
		Short: "Print an employee's balances for a year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if year == 0 {
				year = time.Now().Year()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *leave.Engine) error {
				entries, err := e.Ledger.Balances(ctx, generic.EntityID(args[0]), year)
				if err != nil {
					return err
				}
				renderBalances(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "entitlement year (default current)")
	return cmd
}

func renderBalances(w io.Writer, entries []leave.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Leave Type", "Total", "Used", "Remaining", "Half Days", "Capped", "Frozen"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.Type, e.Total.String(), e.Used.String(), e.Remaining.String(),
			e.AccumulatedHalfDays, e.Capped, e.Frozen,
		})
	}
	t.Render()
}
