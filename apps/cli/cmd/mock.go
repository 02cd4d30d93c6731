package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/config"
	"github.com/abdul-hamid-achik/chainspec/packages/mock"
	"github.com/spf13/cobra"
)

var (
	mockPortFlag    int
	mockDelayFlag   time.Duration
	mockVerboseFlag bool
)

var mockCmd = &cobra.Command{
	Use:   "mock <file|directory>...",
	Short: "Serve mock responses derived from scenario files",
	Long: `Start a mock HTTP server whose routes are derived from the stages of
the given scenarios: each stage's method and path become a route, its
first verify step's status becomes the response status. Useful for
developing scenarios against endpoints that do not exist yet.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load("")
		if err != nil {
			return err
		}

		files, err := resolveFiles(args, cfg)
		if err != nil {
			return err
		}

		server := mock.NewServer(
			mock.WithPort(mockPortFlag),
			mock.WithDelay(mockDelayFlag),
			mock.WithVerbose(mockVerboseFlag),
		)
		for _, file := range files {
			scenario, err := loadScenarioFile(file, cfg)
			if err != nil {
				return err
			}
			server.LoadScenario(scenario)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.Start(ctx)
	},
}

func init() {
	mockCmd.Flags().IntVarP(&mockPortFlag, "port", "p", 3000, "Port to listen on")
	mockCmd.Flags().DurationVar(&mockDelayFlag, "delay", 0, "Artificial delay per response")
	mockCmd.Flags().BoolVarP(&mockVerboseFlag, "verbose", "v", false, "Log each request")
}
