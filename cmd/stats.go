package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/boxsync/boxsync/pkg/remote"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats [folder-path]",
	Short: "Prints file statistics for a remote Drive folder.",
	Long: `Prints file statistics for a remote Drive folder, given as a
slash-separated path below the configured root (for example 2025/02/men/d1).
Without an argument the root folder itself is summarized.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := viper.GetString("drive.token")
		rootID := viper.GetString("drive.root_folder_id")
		if token == "" || rootID == "" {
			return fmt.Errorf("stats requires drive.token and drive.root_folder_id in the config")
		}

		r := remote.NewReconciler(remote.NewDriveStore(token), rootID)
		ctx := context.Background()

		folderID := rootID
		label := "(root)"
		if len(args) == 1 {
			var err error
			if folderID, err = r.ResolveFolder(ctx, args[0]); err != nil {
				return err
			}
			label = args[0]
		}

		stats, err := r.Stats(ctx, folderID)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "FOLDER\tFILES\tCSV\tBYTES\t")
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t\n", label, stats.TotalFiles, stats.CSVFiles, stats.TotalSize)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
