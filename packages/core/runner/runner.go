// Package runner executes scenarios: it layers the scenario context,
// drives the per-stage state machine, expands parametrization and
// dispatches parallel blocks.
package runner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
	"github.com/abdul-hamid-achik/chainspec/packages/core/scope"
	"github.com/abdul-hamid-achik/chainspec/packages/funcs"
	"github.com/abdul-hamid-achik/chainspec/packages/http"
	"github.com/abdul-hamid-achik/chainspec/packages/parallel"
	"github.com/abdul-hamid-achik/chainspec/packages/template"
)

// ParallelMetrics is the aggregate view of one parallel block.
type ParallelMetrics = parallel.Snapshot

// Config configures a Runner.
type Config struct {
	// Registry provides user functions. Nil means an empty registry.
	Registry *funcs.Registry

	// Host integrates fixtures, reporting and markers. Nil means NopHost.
	Host Host

	// RootPath constrains file references (bodies, schemas) when set.
	RootPath string

	// MaxComprehensionLength bounds template comprehensions. Zero means
	// the template default.
	MaxComprehensionLength int
}

// Runner executes scenarios sequentially. All state is per-run; a Runner
// may be reused.
type Runner struct {
	registry         *funcs.Registry
	host             Host
	rootPath         string
	maxComprehension int
}

// New creates a Runner.
func New(cfg *Config) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}
	r := &Runner{
		registry:         cfg.Registry,
		host:             cfg.Host,
		rootPath:         cfg.RootPath,
		maxComprehension: cfg.MaxComprehensionLength,
	}
	if r.registry == nil {
		r.registry = funcs.NewRegistry()
	}
	if r.host == nil {
		r.host = NopHost{}
	}
	return r
}

// ScenarioResult aggregates the outcomes of every stage iteration.
type ScenarioResult struct {
	File     string
	Failed   bool
	Stages   []*StageResult
	Duration time.Duration
}

// Passed counts passing iterations.
func (r *ScenarioResult) Passed() int {
	n := 0
	for _, s := range r.Stages {
		if s.Passed {
			n++
		}
	}
	return n
}

// FailedCount counts failing iterations.
func (r *ScenarioResult) FailedCount() int {
	n := 0
	for _, s := range r.Stages {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// SkippedCount counts skipped iterations.
func (r *ScenarioResult) SkippedCount() int {
	n := 0
	for _, s := range r.Stages {
		if s.Skipped {
			n++
		}
	}
	return n
}

// scenarioEnv is the per-run shared state: the pooled client, the resolved
// default authenticator and the scenario itself.
type scenarioEnv struct {
	scenario *model.Scenario
	client   *http.Client
	auth     http.Authenticator
}

// Run executes a scenario. It returns a ScenarioError for setup failures;
// stage failures land in the result and mark it failed.
func (r *Runner) Run(ctx context.Context, scenario *model.Scenario) (*ScenarioResult, error) {
	start := time.Now()
	result := &ScenarioResult{File: scenario.File}

	r.host.ApplyMarkers("scenario", scenario.Marks)

	client, err := http.NewClient(http.WithTLS(http.TLSOptions{
		InsecureSkipVerify: !scenario.SSL.Verify,
		CAFile:             scenario.SSL.VerifyCA,
		CertFile:           scenario.SSL.Cert,
		KeyFile:            scenario.SSL.Key,
	}))
	if err != nil {
		return nil, &ScenarioError{File: scenario.File, Err: err}
	}
	defer client.CloseIdleConnections()

	// Scenario context, bottom to top: fixtures, substitutions, global
	// saves. The global frame accumulates across stages.
	stack := scope.NewStack()
	if len(scenario.Fixtures) > 0 {
		values := make(map[string]any, len(scenario.Fixtures))
		for _, name := range scenario.Fixtures {
			v, err := r.host.FixtureValue(name)
			if err != nil {
				return nil, &ScenarioError{File: scenario.File, Err: err}
			}
			values[name] = v
		}
		stack.Push(scope.NewReadOnlyFrame("scenario-fixtures", values))
	}

	if _, err := r.buildSubstitutionLayer("scenario-substitutions", scenario.Substitutions, stack); err != nil {
		return nil, &ScenarioError{File: scenario.File, Err: err}
	}

	globalFrame := scope.NewFrame("global", nil)
	stack.Push(globalFrame)

	env := &scenarioEnv{scenario: scenario, client: client}
	if scenario.Auth != nil {
		auth, err := r.resolveAuth(scenario.Auth, r.evaluator(stack))
		if err != nil {
			return nil, &ScenarioError{File: scenario.File, Err: err}
		}
		env.auth = auth
	}

	failed := false
	for _, stage := range scenario.Stages {
		r.host.ApplyMarkers(stage.Name, stage.Marks)

		if failed && !stage.AlwaysRun {
			r.host.ReportSkip(stage.Name, "", "previous stage failed")
			result.Stages = append(result.Stages, &StageResult{
				Stage: stage.Name, State: StageSkipped, Skipped: true,
			})
			continue
		}

		if ctx.Err() != nil {
			r.host.ReportSkip(stage.Name, "", "cancelled")
			result.Stages = append(result.Stages, &StageResult{
				Stage: stage.Name, State: StageSkipped, Skipped: true,
			})
			failed = true
			continue
		}

		stageResults := r.runStage(ctx, env, stage, stack, globalFrame)
		for _, sr := range stageResults {
			if sr.Err != nil {
				failed = true
			}
		}
		result.Stages = append(result.Stages, stageResults...)
	}

	result.Failed = failed
	result.Duration = time.Since(start)
	return result, nil
}

// runStage executes all iterations of one stage and promotes their saves
// into the global layer.
func (r *Runner) runStage(ctx context.Context, env *scenarioEnv, stage *model.Stage, stack *scope.Stack, global *scope.Frame) []*StageResult {
	if stage.Parallel != nil {
		return r.runParallelStage(ctx, env, stage, stack, global)
	}

	iterations := []Iteration{{}}
	if len(stage.Parametrize) > 0 {
		iterations = expandParameters(stage.Parametrize)
	}

	results := make([]*StageResult, 0, len(iterations))
	for _, iter := range iterations {
		if ctx.Err() != nil {
			r.host.ReportSkip(stage.Name, iter.Key, "cancelled")
			results = append(results, &StageResult{
				Stage: stage.Name, Iteration: iter.Key, State: StageSkipped, Skipped: true,
			})
			continue
		}

		sr := r.runIteration(ctx, env, stage, iter, stack.Snapshot())
		results = append(results, sr)

		if sr.Err != nil {
			r.host.ReportFail(stage.Name, iter.Key, sr.Err)
			continue
		}
		for name, value := range sr.Saved {
			if err := global.Set(name, value); err != nil {
				sr.Err = &StageError{Stage: stage.Name, Iteration: iter.Key, State: StageProcessingResponse, Err: err}
				sr.Passed = false
				break
			}
		}
		if sr.Err != nil {
			r.host.ReportFail(stage.Name, iter.Key, sr.Err)
			continue
		}
		r.host.ReportPass(stage.Name, iter.Key)
	}
	return results
}

// runParallelStage dispatches the block through the bounded executor and
// merges iteration saves last-completion-wins.
func (r *Runner) runParallelStage(ctx context.Context, env *scenarioEnv, stage *model.Stage, stack *scope.Stack, global *scope.Frame) []*StageResult {
	cfg := stage.Parallel

	var iterations []Iteration
	if cfg.Kind == model.ParallelRepeat {
		iterations = make([]Iteration, cfg.N)
		for i := range iterations {
			iterations[i] = Iteration{Key: strconv.Itoa(i)}
		}
	} else {
		iterations = expandParameters(cfg.Parameters)
	}

	exec := &parallel.Executor{MaxConcurrency: cfg.MaxConcurrency, CallsPerSec: cfg.CallsPerSec}
	stageResults := make([]*StageResult, len(iterations))

	execResults, metrics := exec.Run(ctx, len(iterations), func(taskCtx context.Context, idx int) (map[string]any, error) {
		sr := r.runIteration(taskCtx, env, stage, iterations[idx], stack.Snapshot())
		stageResults[idx] = sr
		if sr.Err != nil {
			return nil, sr.Err
		}
		return sr.Saved, nil
	})

	for i, er := range execResults {
		if stageResults[i] == nil {
			// never dispatched: cancelled before start
			stageResults[i] = &StageResult{
				Stage:     stage.Name,
				Iteration: iterations[i].Key,
				State:     StageSkipped,
				Skipped:   true,
				Err:       nil,
			}
			r.host.ReportSkip(stage.Name, iterations[i].Key, fmt.Sprintf("cancelled: %v", er.Err))
			continue
		}
		if stageResults[i].Err != nil {
			r.host.ReportFail(stage.Name, iterations[i].Key, stageResults[i].Err)
		} else {
			r.host.ReportPass(stage.Name, iterations[i].Key)
		}
	}

	merged := parallel.MergeSaves(execResults)
	for name, value := range merged {
		_ = global.Set(name, value)
	}

	if len(stageResults) > 0 && stageResults[0] != nil {
		snap := metrics.Snapshot()
		stageResults[0].Parallel = &snap
	}
	return stageResults
}

func (r *Runner) evaluator(stack *scope.Stack) *template.Evaluator {
	opts := []template.Option{}
	if r.maxComprehension > 0 {
		opts = append(opts, template.WithMaxComprehensionLength(r.maxComprehension))
	}
	return template.NewEvaluator(stack, opts...)
}
