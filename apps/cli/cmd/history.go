package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/config"
	"github.com/abdul-hamid-achik/chainspec/packages/history"
	"github.com/spf13/cobra"
)

var (
	historyDBFlag    string
	historyLimitFlag int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs from the history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		path := historyDBFlag
		if path == "" {
			path = cfg.HistoryPath
		}
		if path == "" {
			return fmt.Errorf("no history database configured (use --db or set history in chainspec.yaml)")
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("history database %s does not exist", path)
		}

		store, err := history.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.RecentRuns(historyLimitFlag)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}

		for _, r := range runs {
			status := "pass"
			if r.Failed > 0 {
				status = "FAIL"
			}
			fmt.Printf("%4d  %s  %-4s  %d passed, %d failed, %d skipped  %s  %s\n",
				r.ID, r.StartedAt.Local().Format(time.DateTime), status,
				r.Passed, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond), r.File)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyDBFlag, "db", "", "Path to the history database")
	historyCmd.Flags().IntVarP(&historyLimitFlag, "limit", "n", 20, "Number of runs to list")
}
