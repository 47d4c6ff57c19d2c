package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/boxsync/boxsync/pkg/storage"
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded batch runs, or the per-target lines of one run.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("dbpath")
		if dbPath == "" {
			dbPath = "boxsync.sqlite"
		}

		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if len(args) == 1 {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			return printRunTargets(db, runID)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		return printRuns(db, limit)
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().String("dbpath", "", "Path to SQLite ledger file (default: boxsync.sqlite in CWD)")
	runsCmd.Flags().Int("limit", 20, "Maximum number of runs to list")
}

func printRuns(db *storage.DB, limit int) error {
	runs, err := db.ListRuns(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tTARGETS\tFAILED\t")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t\n",
			r.ID,
			r.StartedAt.Format("2006-01-02 15:04"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			r.TotalTargets,
			r.Failed)
	}
	return w.Flush()
}

func printRunTargets(db *storage.DB, runID int64) error {
	targets, err := db.ListRunTargets(context.Background(), runID)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Printf("No targets recorded for run %d.\n", runID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DATE\tGENDER\tDIVISION\tOUTCOME\tROWS\tERROR\t")
	for _, t := range targets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t\n",
			t.GameDate, t.Gender, t.Division, t.Outcome, t.Rows, t.Error)
	}
	return w.Flush()
}
