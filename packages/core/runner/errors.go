package runner

import "fmt"

// StageError is the failure surfaced to the host for one stage iteration.
type StageError struct {
	Stage     string
	Iteration string
	State     StageState
	Err       error
}

func (e *StageError) Error() string {
	loc := e.Stage
	if e.Iteration != "" {
		loc += "[" + e.Iteration + "]"
	}
	return fmt.Sprintf("stage %s (%s): %v", loc, e.State, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ScenarioError is fatal at scenario load or setup: validation,
// resolution, SSL or scenario-level substitution failures.
type ScenarioError struct {
	File string
	Err  error
}

func (e *ScenarioError) Error() string {
	return fmt.Sprintf("scenario %s: %v", e.File, e.Err)
}

func (e *ScenarioError) Unwrap() error {
	return e.Err
}
