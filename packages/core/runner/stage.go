package runner

import (
	"context"
	"path/filepath"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
	"github.com/abdul-hamid-achik/chainspec/packages/core/scope"
	"github.com/abdul-hamid-achik/chainspec/packages/http"
	"github.com/abdul-hamid-achik/chainspec/packages/response"
	"github.com/abdul-hamid-achik/chainspec/packages/template"
)

// StageState tracks the per-stage state machine.
type StageState int

const (
	StagePending StageState = iota
	StageSkipped
	StageBuildingCtx
	StageRendering
	StageSending
	StageProcessingResponse
	StageDone
	StageFailed
)

func (s StageState) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageSkipped:
		return "skipped"
	case StageBuildingCtx:
		return "building-context"
	case StageRendering:
		return "rendering"
	case StageSending:
		return "sending"
	case StageProcessingResponse:
		return "processing-response"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageResult is the outcome of one stage iteration.
type StageResult struct {
	Stage     string
	Iteration string
	State     StageState
	Skipped   bool
	Passed    bool
	Err       error
	Duration  time.Duration

	Request  *http.Request
	Response *http.Response
	Saved    map[string]any

	// Parallel carries the block's aggregate metrics; set on the first
	// iteration result of a parallel stage.
	Parallel *ParallelMetrics
}

// runIteration executes one full stage lifecycle on its own snapshot of
// the scenario stack. It never mutates the global layer; the caller
// promotes the returned saves.
func (r *Runner) runIteration(ctx context.Context, env *scenarioEnv, stage *model.Stage, iter Iteration, stack *scope.Stack) *StageResult {
	sr := &StageResult{Stage: stage.Name, Iteration: iter.Key, State: StagePending}
	start := time.Now()
	defer func() { sr.Duration = time.Since(start) }()

	fail := func(state StageState, err error) *StageResult {
		sr.State = StageFailed
		sr.Err = &StageError{Stage: stage.Name, Iteration: iter.Key, State: state, Err: err}
		return sr
	}

	// BUILDING_CTX: stage fixtures, stage substitutions, current-stage
	// saves, iteration variables, bottom to top.
	sr.State = StageBuildingCtx

	fixtureNames := make(map[string]bool, len(env.scenario.Fixtures)+len(stage.Fixtures))
	for _, name := range env.scenario.Fixtures {
		fixtureNames[name] = true
	}
	if len(stage.Fixtures) > 0 {
		values := make(map[string]any, len(stage.Fixtures))
		for _, name := range stage.Fixtures {
			v, err := r.host.FixtureValue(name)
			if err != nil {
				return fail(StageBuildingCtx, err)
			}
			values[name] = v
			fixtureNames[name] = true
		}
		stack.Push(scope.NewReadOnlyFrame("stage-fixtures", values))
	}

	if _, err := r.buildSubstitutionLayer("stage-substitutions", stage.Substitutions, stack); err != nil {
		return fail(StageBuildingCtx, err)
	}

	stageSaves := scope.NewFrame("stage-saves", nil)
	stack.Push(stageSaves)

	if len(iter.Params) > 0 {
		stack.Push(scope.NewReadOnlyFrame("iteration", iter.Params))
	}

	// RENDERING: substitute the request and revalidate it.
	sr.State = StageRendering
	ev := r.evaluator(stack)
	walked, err := template.Walk(stage.RequestRaw, ev)
	if err != nil {
		return fail(StageRendering, err)
	}
	reqModel, err := model.DecodeRequest(walked.(map[string]any), env.scenario.File)
	if err != nil {
		return fail(StageRendering, err)
	}

	auth := env.auth
	if reqModel.Auth != nil {
		auth, err = r.resolveAuth(reqModel.Auth, ev)
		if err != nil {
			return fail(StageRendering, err)
		}
	}

	httpReq, err := http.BuildRequest(reqModel, http.BuildOptions{
		BaseDir:  filepath.Dir(env.scenario.File),
		RootPath: r.rootPath,
		Auth:     auth,
	})
	if err != nil {
		return fail(StageRendering, err)
	}
	sr.Request = httpReq

	// SENDING
	sr.State = StageSending
	resp, err := env.client.Do(ctx, httpReq)
	if err != nil {
		return fail(StageSending, err)
	}
	sr.Response = resp

	// PROCESSING_RESPONSE: ordered steps; saves become visible to later
	// steps through the stage-saves frame.
	sr.State = StageProcessingResponse
	proc := &response.Processor{
		Registry:         r.registry,
		File:             env.scenario.File,
		BaseDir:          filepath.Dir(env.scenario.File),
		RootPath:         r.rootPath,
		MaxComprehension: r.maxComprehension,
	}

	promoted := make(map[string]any)
	for _, step := range stage.Response {
		saved, err := proc.ProcessStep(step, resp, stack)
		if err != nil {
			return fail(StageProcessingResponse, err)
		}
		for name, value := range saved {
			if fixtureNames[name] {
				return fail(StageProcessingResponse, &FixtureShadowError{Name: name})
			}
			if err := stageSaves.Set(name, value); err != nil {
				return fail(StageProcessingResponse, err)
			}
			promoted[name] = value
		}
	}

	sr.Saved = promoted
	sr.State = StageDone
	sr.Passed = true
	return sr
}

// FixtureShadowError reports a save step trying to redefine a fixture.
// Fixtures are immutable within a scenario.
type FixtureShadowError struct {
	Name string
}

func (e *FixtureShadowError) Error() string {
	return "saved value would shadow fixture " + e.Name
}

// buildSubstitutionLayer evaluates substitution entries in authoring order
// into a new frame on the stack. Each entry sees the ones before it. The
// frame is sealed read-only once built.
func (r *Runner) buildSubstitutionLayer(name string, subs []model.Substitution, stack *scope.Stack) (*scope.Frame, error) {
	if len(subs) == 0 {
		return nil, nil
	}

	values := make(map[string]any)
	frame := scope.NewFrame(name, values)
	stack.Push(frame)
	ev := r.evaluator(stack)

	for _, sub := range subs {
		switch sub.Kind {
		case model.SubstVars:
			for _, binding := range sub.Vars {
				walked, err := template.Walk(binding.Value, ev)
				if err != nil {
					return nil, err
				}
				values[binding.Name] = walked
			}
		case model.SubstFunctions:
			for _, binding := range sub.Functions {
				kwargs, err := r.walkKwargs(binding.Ref.Kwargs, ev)
				if err != nil {
					return nil, err
				}
				value, err := r.registry.Subst(binding.Ref.Name, kwargs)
				if err != nil {
					return nil, err
				}
				values[binding.Name] = value
			}
		}
	}

	frame.ReadOnly = true
	return frame, nil
}

func (r *Runner) walkKwargs(kwargs map[string]any, ev *template.Evaluator) (map[string]any, error) {
	if kwargs == nil {
		return nil, nil
	}
	walked, err := template.Walk(kwargs, ev)
	if err != nil {
		return nil, err
	}
	return walked.(map[string]any), nil
}

func (r *Runner) resolveAuth(ref *model.UserFunctionRef, ev *template.Evaluator) (http.Authenticator, error) {
	kwargs, err := r.walkKwargs(ref.Kwargs, ev)
	if err != nil {
		return nil, err
	}
	return r.registry.Auth(ref.Name, kwargs)
}
