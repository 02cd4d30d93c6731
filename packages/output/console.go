package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/runner"
	"github.com/fatih/color"
)

// ConsoleFormatter writes human-readable results.
type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
}

// ConsoleOption configures a ConsoleFormatter.
type ConsoleOption func(*ConsoleFormatter)

// NewConsoleFormatter creates a console formatter writing to stdout.
func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

// WithWriter redirects output.
func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

// WithVerbose enables per-iteration detail.
func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

// WithNoColor disables ANSI colors.
func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

// FormatResult renders one scenario's outcome.
func (f *ConsoleFormatter) FormatResult(result *runner.ScenarioResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(f.writer, "\n%s\n\n", bold("Scenario: "+result.File))

	for _, s := range result.Stages {
		name := s.Stage
		if s.Iteration != "" {
			name += "[" + s.Iteration + "]"
		}

		switch {
		case s.Skipped:
			fmt.Fprintf(f.writer, "  %s %s\n", yellow("-"), name)
		case s.Err != nil:
			fmt.Fprintf(f.writer, "  %s %s %s\n", red("✗"), name, cyan(fmt.Sprintf("(%dms)", s.Duration.Milliseconds())))
			fmt.Fprintf(f.writer, "    %s %v\n", red("→"), s.Err)
		default:
			fmt.Fprintf(f.writer, "  %s %s %s\n", green("✓"), name, cyan(fmt.Sprintf("(%dms)", s.Duration.Milliseconds())))
		}

		if s.Parallel != nil {
			fmt.Fprintf(f.writer, "    parallel: %d done, %d failed, p95 %s, elapsed %s\n",
				s.Parallel.Total, s.Parallel.Failures, s.Parallel.P95, s.Parallel.Elapsed.Round(time.Millisecond))
		}

		if f.verbose && s.Response != nil {
			fmt.Fprintf(f.writer, "    Status: %d\n", s.Response.StatusCode)
		}
		if f.verbose && len(s.Saved) > 0 {
			fmt.Fprintf(f.writer, "    Saved:\n")
			for k, v := range s.Saved {
				fmt.Fprintf(f.writer, "      %s = %s\n", k, formatValue(v, 80))
			}
		}
	}

	passed := result.Passed()
	failed := result.FailedCount()
	skipped := result.SkippedCount()

	fmt.Fprintf(f.writer, "\n  %s", green(fmt.Sprintf("%d passed", passed)))
	if failed > 0 {
		fmt.Fprintf(f.writer, ", %s", red(fmt.Sprintf("%d failed", failed)))
	}
	if skipped > 0 {
		fmt.Fprintf(f.writer, ", %s", yellow(fmt.Sprintf("%d skipped", skipped)))
	}
	fmt.Fprintf(f.writer, " %s\n", cyan(fmt.Sprintf("(%dms)", result.Duration.Milliseconds())))
}

// formatValue truncates or summarizes values for display.
func formatValue(v any, maxLen int) string {
	switch val := v.(type) {
	case []any:
		return fmt.Sprintf("[array with %d items]", len(val))
	case map[string]any:
		return fmt.Sprintf("{object with %d keys}", len(val))
	}
	str := fmt.Sprintf("%v", v)
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}
