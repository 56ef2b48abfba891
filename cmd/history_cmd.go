package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded launches",
	Long:  `Lists the launches recorded with --history-dsn, most recent first`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "history"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		store, err := OpenHistory(cmd.Context(), cfg.HistoryConfig)
		if err != nil {
			fatal(err)
		}
		defer store.Close()

		entries, err := store.List(cmd.Context(), cfg.HistoryLimit)
		if err != nil {
			fatal(err)
		}

		writeHistory(cmd.OutOrStdout(), entries)
	},
}

func initHistory() {
	rootCmd.AddCommand(historyCmd)
	addHistoryFlags(historyCmd)
	historyCmd.PersistentFlags().IntVarP(&globalConfig.HistoryLimit,
		"limit", "n", 20, "Number of launches to show, 0 for all")
}

func addHistoryFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&globalConfig.HistoryConfig.DSN,
		"history-dsn", "", "History database: a sqlite file or a mysql DSN (user:pass@tcp(host)/db)")
	cmd.PersistentFlags().StringVar(&globalConfig.HistoryConfig.Driver,
		"history-driver", "", "History database driver, one of [sqlite, mysql]. Inferred from the DSN if empty")
	cmd.PersistentFlags().StringVar(&globalConfig.HistoryConfig.Table,
		"history-table", defaultHistoryTable, "History table name")
}

func writeHistory(w io.Writer, entries []HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no launches recorded")
		return
	}

	for _, e := range entries {
		commit := e.GitCommit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		if commit == "" {
			commit = "-"
		}

		fmt.Fprintf(w, "%s  %s  %-10s  %s  %d/%d failed  exit %d  %s\n",
			e.RunID, e.Timestamp, commit, e.Plan, e.Failed, e.Invocations, e.ExitCode,
			time.Duration(e.TookSeconds*float64(time.Second)).Round(time.Second))
	}
}
