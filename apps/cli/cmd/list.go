package cmd

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/chainspec/packages/core/config"
	"github.com/spf13/cobra"
)

var listConfigFlag string

var listCmd = &cobra.Command{
	Use:   "list <file|directory>...",
	Short: "List the stages of scenario files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(listConfigFlag)
		if err != nil {
			return err
		}

		files, err := resolveFiles(args, cfg)
		if err != nil {
			return err
		}

		for _, file := range files {
			scenario, err := loadScenarioFile(file, cfg)
			if err != nil {
				return err
			}

			fmt.Println(file)
			for _, stage := range scenario.Stages {
				method := "GET"
				if m, ok := stage.RequestRaw["method"].(string); ok {
					method = strings.ToUpper(m)
				}
				url, _ := stage.RequestRaw["url"].(string)
				detail := ""
				if len(stage.Parametrize) > 0 {
					detail = " (parametrized)"
				}
				if stage.Parallel != nil {
					detail = " (parallel)"
				}
				fmt.Printf("  %-20s %-6s %s%s\n", stage.Name, method, url, detail)
			}
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listConfigFlag, "config", "", "Path to config file")
}
