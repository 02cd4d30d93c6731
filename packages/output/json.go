package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/runner"
)

// JSONOutput is the machine-readable result document.
type JSONOutput struct {
	Summary  JSONSummary `json:"summary"`
	Stages   []JSONStage `json:"stages"`
	Duration float64     `json:"duration"`
	Time     string      `json:"time"`
}

// JSONSummary counts outcomes.
type JSONSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// JSONStage is one stage iteration.
type JSONStage struct {
	Stage     string         `json:"stage"`
	Iteration string         `json:"iteration,omitempty"`
	File      string         `json:"file"`
	Passed    bool           `json:"passed"`
	Skipped   bool           `json:"skipped,omitempty"`
	Duration  float64        `json:"duration"`
	Error     string         `json:"error,omitempty"`
	Status    int            `json:"status,omitempty"`
	Saved     map[string]any `json:"saved,omitempty"`
	Parallel  *JSONParallel  `json:"parallel,omitempty"`
}

// JSONParallel summarizes a parallel block.
type JSONParallel struct {
	Total    int     `json:"total"`
	Failures int     `json:"failures"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
}

// JSONFormatter writes JSON results.
type JSONFormatter struct {
	writer io.Writer
}

// NewJSONFormatter creates a JSON formatter writing to stdout.
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	if w == nil {
		w = os.Stdout
	}
	return &JSONFormatter{writer: w}
}

// FormatResult renders one scenario's outcome as a JSON document.
func (f *JSONFormatter) FormatResult(result *runner.ScenarioResult) error {
	out := JSONOutput{
		Summary: JSONSummary{
			Total:   len(result.Stages),
			Passed:  result.Passed(),
			Failed:  result.FailedCount(),
			Skipped: result.SkippedCount(),
		},
		Duration: result.Duration.Seconds(),
		Time:     time.Now().UTC().Format(time.RFC3339),
	}

	for _, s := range result.Stages {
		stage := JSONStage{
			Stage:     s.Stage,
			Iteration: s.Iteration,
			File:      result.File,
			Passed:    s.Passed,
			Skipped:   s.Skipped,
			Duration:  s.Duration.Seconds(),
			Saved:     s.Saved,
		}
		if s.Err != nil {
			stage.Error = s.Err.Error()
		}
		if s.Response != nil {
			stage.Status = s.Response.StatusCode
		}
		if s.Parallel != nil {
			stage.Parallel = &JSONParallel{
				Total:    s.Parallel.Total,
				Failures: s.Parallel.Failures,
				P50Ms:    float64(s.Parallel.P50.Microseconds()) / 1000,
				P95Ms:    float64(s.Parallel.P95.Microseconds()) / 1000,
				P99Ms:    float64(s.Parallel.P99.Microseconds()) / 1000,
			}
		}
		out.Stages = append(out.Stages, stage)
	}

	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
