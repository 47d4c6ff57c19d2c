package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/boxsync/boxsync/internal/utils"
	"github.com/boxsync/boxsync/pkg/artifact"
	"github.com/boxsync/boxsync/pkg/batch"
	"github.com/boxsync/boxsync/pkg/extract"
	"github.com/boxsync/boxsync/pkg/notify"
	"github.com/boxsync/boxsync/pkg/remote"
	"github.com/boxsync/boxsync/pkg/session"
	"github.com/boxsync/boxsync/pkg/storage"
	"github.com/boxsync/boxsync/pkg/target"
)

// scrapeCmd implements: boxsync scrape
//
// A batch that ran to completion exits 0 even when some targets failed;
// the failures are in the report, the log, and the notification. A
// non-zero exit means the batch could not start at all.
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape box scores for a date (or date range) and sync them",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command: '%s'. See 'boxsync scrape --help'", args[0])
		}

		targets, err := resolveTargets(cmd)
		if err != nil {
			return err
		}

		upload, _ := cmd.Flags().GetBool("upload")
		headless, _ := cmd.Flags().GetBool("headless")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		forceScrape, _ := cmd.Flags().GetBool("force-scrape")
		alwaysNotify, _ := cmd.Flags().GetBool("always-notify")
		outputDir, _ := cmd.Flags().GetString("output-dir")

		cfg := batch.Config{
			Sessions:     batch.Sessions{Manager: session.NewManager()},
			Extractor:    extract.NewNCAA(),
			Writer:       artifact.NewWriter(outputDir),
			Upload:       upload,
			ForceScrape:  forceScrape,
			Headless:     headless,
			Concurrency:  concurrency,
			AlwaysNotify: alwaysNotify,
			Log:          utils.Log,
		}

		if upload {
			token := viper.GetString("drive.token")
			rootID := viper.GetString("drive.root_folder_id")
			if token == "" || rootID == "" {
				return fmt.Errorf("upload requires drive.token and drive.root_folder_id in the config (or pass --upload=false)")
			}
			cfg.Reconciler = remote.NewReconciler(remote.NewDriveStore(token), rootID)
		}

		if webhook := viper.GetString("discord.webhook_url"); webhook != "" {
			cfg.Notifier = notify.NewDiscord(webhook)
		} else {
			cfg.Notifier = notify.LogNotifier{}
		}

		// Ctrl-C stops new targets from starting; in-flight ones finish.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		report, err := batch.Run(ctx, cfg, targets)
		if err != nil {
			return err
		}

		recordRun(cmd, report)

		for outcome, n := range report.ByOutcome() {
			fmt.Printf("%s: %d\n", outcome, n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().String("date", "", "Date to scrape as YYYY/MM/DD (default: yesterday)")
	scrapeCmd.Flags().String("from", "", "Backfill start date as YYYY/MM/DD (inclusive)")
	scrapeCmd.Flags().String("to", "", "Backfill end date as YYYY/MM/DD (inclusive)")
	scrapeCmd.Flags().String("divisions", "d1,d2,d3", "Comma-separated divisions to scrape")
	scrapeCmd.Flags().String("genders", "men,women", "Comma-separated genders to scrape")
	scrapeCmd.Flags().String("output-dir", "boxscores", "Base directory for local CSV files")
	scrapeCmd.Flags().Bool("upload", true, "Sync artifacts to Google Drive after scraping")
	scrapeCmd.Flags().Bool("headless", true, "Run the browser headless")
	scrapeCmd.Flags().Int("concurrency", 1, "Number of targets processed in parallel (each holds a browser)")
	scrapeCmd.Flags().Bool("force-scrape", false, "Scrape even when the remote copy is already current")
	scrapeCmd.Flags().Bool("always-notify", false, "Send the run notification even when nothing failed")
	scrapeCmd.Flags().Bool("db", true, "Record the run in the local ledger")
	scrapeCmd.Flags().String("dbpath", "", "Path to SQLite ledger file (default: boxsync.sqlite in CWD)")
}

// resolveTargets turns the date/range and list flags into the ordered
// target set for the run.
func resolveTargets(cmd *cobra.Command) ([]target.Target, error) {
	divisions, err := parseDivisions(flagString(cmd, "divisions"))
	if err != nil {
		return nil, err
	}
	genders, err := parseGenders(flagString(cmd, "genders"))
	if err != nil {
		return nil, err
	}

	fromStr := flagString(cmd, "from")
	toStr := flagString(cmd, "to")
	if (fromStr == "") != (toStr == "") {
		return nil, fmt.Errorf("--from and --to must be given together")
	}
	if fromStr != "" {
		from, err := target.ParseDate(fromStr)
		if err != nil {
			return nil, err
		}
		to, err := target.ParseDate(toStr)
		if err != nil {
			return nil, err
		}
		return target.EnumerateRange(from, to, divisions, genders)
	}

	date := target.Yesterday()
	if dateStr := flagString(cmd, "date"); dateStr != "" {
		if date, err = target.ParseDate(dateStr); err != nil {
			return nil, err
		}
	}
	return target.Enumerate(date, divisions, genders)
}

// recordRun persists the report to the ledger. Best-effort: a ledger
// problem must not turn a finished batch into a failed command.
func recordRun(cmd *cobra.Command, report *batch.Report) {
	useDB, _ := cmd.Flags().GetBool("db")
	if !useDB {
		return
	}
	dbPath, _ := cmd.Flags().GetString("dbpath")
	if dbPath == "" {
		dbPath = "boxsync.sqlite"
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		utils.Log.Warnf("Could not open run ledger: %v", err)
		return
	}
	defer db.Close()

	if _, err := db.RecordRun(context.Background(), report); err != nil {
		utils.Log.Warnf("Could not record run: %v", err)
	}
}

func flagString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	return strings.TrimSpace(s)
}

func parseDivisions(s string) ([]target.Division, error) {
	var divisions []target.Division
	for _, part := range strings.Split(s, ",") {
		d, err := target.ParseDivision(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		divisions = append(divisions, d)
	}
	return divisions, nil
}

func parseGenders(s string) ([]target.Gender, error) {
	var genders []target.Gender
	for _, part := range strings.Split(s, ",") {
		g, err := target.ParseGender(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		genders = append(genders, g)
	}
	return genders, nil
}
