package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/config"
	"github.com/abdul-hamid-achik/chainspec/packages/core/runner"
	"github.com/abdul-hamid-achik/chainspec/packages/har"
	"github.com/abdul-hamid-achik/chainspec/packages/history"
	"github.com/abdul-hamid-achik/chainspec/packages/output"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// WatchDebounceDelay coalesces bursts of file events in watch mode.
const WatchDebounceDelay = 300 * time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run <file|directory>...",
	Short: "Run scenario files",
	Long: `Run HTTP test scenarios.

Examples:
  chainspec run test_users.http.json
  chainspec run ./scenarios/
  chainspec run ./scenarios/ --fixture base_url=http://localhost:8080
  chainspec run test_api.http.json --output junit --output-file report.xml
  chainspec run ./scenarios/ --watch
  chainspec run test_api.http.json --har out.har --history .chainspec/history.db`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

var (
	runConfigFlag     string
	runOutputFlag     string
	runOutputFileFlag string
	runNoColorFlag    bool
	runVerboseFlag    bool
	runWatchFlag      bool
	runFixtureFlags   []string
	runRootFlag       string
	runHARFlag        string
	runHistoryFlag    string
)

func init() {
	runCmd.Flags().StringVar(&runConfigFlag, "config", os.Getenv("CHAINSPEC_CONFIG"), "Path to config file (env: CHAINSPEC_CONFIG)")
	runCmd.Flags().StringVarP(&runOutputFlag, "output", "o", "", "Output format: console, json, junit")
	runCmd.Flags().StringVar(&runOutputFileFlag, "output-file", "", "Write output to file (default: stdout)")
	runCmd.Flags().BoolVar(&runNoColorFlag, "no-color", os.Getenv("CHAINSPEC_NO_COLOR") != "", "Disable colored output (env: CHAINSPEC_NO_COLOR)")
	runCmd.Flags().BoolVarP(&runVerboseFlag, "verbose", "v", false, "Verbose output")
	runCmd.Flags().BoolVarP(&runWatchFlag, "watch", "w", false, "Watch files for changes and re-run")
	runCmd.Flags().StringArrayVar(&runFixtureFlags, "fixture", nil, "Fixture value as name=value (repeatable)")
	runCmd.Flags().StringVar(&runRootFlag, "root", "", "Constrain file references to this directory")
	runCmd.Flags().StringVar(&runHARFlag, "har", "", "Write an HTTP archive of all calls to this file")
	runCmd.Flags().StringVar(&runHistoryFlag, "history", "", "Record outcomes into this SQLite database")
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigFlag)
	if err != nil {
		return err
	}
	applyRunFlags(cfg)

	fixtures, err := parseFixtureFlags(runFixtureFlags)
	if err != nil {
		return err
	}
	for name, value := range fixtures {
		if cfg.Fixtures == nil {
			cfg.Fixtures = make(map[string]any)
		}
		cfg.Fixtures[name] = value
	}

	files, err := resolveFiles(args, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runWatchFlag {
		return watchAndRun(ctx, files, cfg)
	}

	failed, err := runFiles(ctx, files, cfg)
	if err != nil {
		return err
	}
	if failed {
		os.Exit(ExitFailures)
	}
	return nil
}

func applyRunFlags(cfg *config.Config) {
	if runOutputFlag != "" {
		cfg.Output = runOutputFlag
	}
	if runOutputFileFlag != "" {
		cfg.OutputFile = runOutputFileFlag
	}
	if runNoColorFlag {
		v := true
		cfg.NoColor = &v
	}
	if runRootFlag != "" {
		cfg.RootPath = runRootFlag
	}
	if runHARFlag != "" {
		cfg.HARPath = runHARFlag
	}
	if runHistoryFlag != "" {
		cfg.HistoryPath = runHistoryFlag
	}
}

func runFiles(ctx context.Context, files []string, cfg *config.Config) (bool, error) {
	writer := os.Stdout
	if cfg.OutputFile != "" {
		f, err := os.Create(cfg.OutputFile)
		if err != nil {
			return false, err
		}
		defer f.Close()
		writer = f
	}

	var store *history.Store
	if cfg.HistoryPath != "" {
		var err error
		store, err = history.Open(cfg.HistoryPath)
		if err != nil {
			return false, err
		}
		defer store.Close()
	}

	var archive *har.Writer
	if cfg.HARPath != "" {
		archive = har.NewWriter(version)
	}

	console := output.NewConsoleFormatter(
		output.WithWriter(writer),
		output.WithVerbose(runVerboseFlag),
		output.WithNoColor(cfg.GetNoColor()),
	)
	junit := output.NewJUnitFormatter(writer)

	host := &runner.MapHost{Fixtures: cfg.Fixtures}
	engine := runner.New(&runner.Config{
		Host:                   host,
		RootPath:               cfg.RootPath,
		MaxComprehensionLength: cfg.MaxComprehensionLength,
	})

	anyFailed := false
	for _, file := range files {
		scenario, err := loadScenarioFile(file, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(ExitLoadError)
		}

		if hasMarker(scenario.Marks, "skip") {
			fmt.Fprintf(writer, "skipping %s (marked skip)\n", file)
			continue
		}

		started := time.Now()
		result, err := engine.Run(ctx, scenario)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(ExitLoadError)
		}
		if result.Failed {
			anyFailed = true
		}

		switch cfg.Output {
		case "json":
			if err := output.NewJSONFormatter(writer).FormatResult(result); err != nil {
				return anyFailed, err
			}
		case "junit":
			junit.Add(result)
		default:
			console.FormatResult(result)
		}

		if archive != nil {
			for _, sr := range result.Stages {
				archive.Record(sr.Stage, started, sr.Request, sr.Response)
			}
		}
		if store != nil {
			if _, err := store.RecordRun(result, started); err != nil {
				fmt.Fprintf(os.Stderr, "warning: recording history: %v\n", err)
			}
		}
	}

	if cfg.Output == "junit" {
		if err := junit.Flush(); err != nil {
			return anyFailed, err
		}
	}
	if archive != nil {
		if err := archive.WriteFile(cfg.HARPath); err != nil {
			return anyFailed, err
		}
	}
	return anyFailed, nil
}

func hasMarker(marks []string, name string) bool {
	for _, m := range marks {
		if m == name {
			return true
		}
	}
	return false
}

func watchAndRun(ctx context.Context, files []string, cfg *config.Config) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs := make(map[string]bool)
	for _, file := range files {
		dirs[filepath.Dir(file)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	run := func() {
		if _, err := runFiles(ctx, files, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	run()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(WatchDebounceDelay, run)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}
