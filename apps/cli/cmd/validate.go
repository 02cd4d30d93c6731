package cmd

import (
	"fmt"
	"os"

	"github.com/abdul-hamid-achik/chainspec/packages/core/config"
	"github.com/spf13/cobra"
)

var validateConfigFlag string

var validateCmd = &cobra.Command{
	Use:   "validate <file|directory>...",
	Short: "Resolve references and validate scenario files without running them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(validateConfigFlag)
		if err != nil {
			return err
		}

		files, err := resolveFiles(args, cfg)
		if err != nil {
			return err
		}

		failed := false
		for _, file := range files {
			scenario, err := loadScenarioFile(file, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", file, err)
				failed = true
				continue
			}
			fmt.Printf("✓ %s (%d stages)\n", file, len(scenario.Stages))
		}
		if failed {
			os.Exit(ExitLoadError)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigFlag, "config", "", "Path to config file")
}
