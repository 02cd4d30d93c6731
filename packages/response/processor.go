// Package response processes a stage's ordered verify and save steps.
//
// Verify steps assert properties of the response and fail on the first
// check that does not hold. Save steps extract values via JMESPath,
// substitutions and user functions; their merged output is promoted into
// the scenario's global context when the stage completes.
package response

import (
	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
	"github.com/abdul-hamid-achik/chainspec/packages/core/scope"
	"github.com/abdul-hamid-achik/chainspec/packages/funcs"
	"github.com/abdul-hamid-achik/chainspec/packages/http"
	"github.com/abdul-hamid-achik/chainspec/packages/template"
)

// Processor runs response steps against a layered context.
type Processor struct {
	Registry *funcs.Registry

	// File locates decode errors; BaseDir and RootPath resolve and
	// constrain schema file paths.
	File     string
	BaseDir  string
	RootPath string

	// MaxComprehension bounds expression comprehensions. Zero means the
	// template default.
	MaxComprehension int
}

func (p *Processor) evaluator(stack *scope.Stack) *template.Evaluator {
	opts := []template.Option{}
	if p.MaxComprehension > 0 {
		opts = append(opts, template.WithMaxComprehensionLength(p.MaxComprehension))
	}
	return template.NewEvaluator(stack, opts...)
}

// ProcessStep dispatches one response step. Save steps return the values
// they produced; verify steps return a nil map.
func (p *Processor) ProcessStep(step model.ResponseStep, resp *http.Response, stack *scope.Stack) (map[string]any, error) {
	switch step.Kind {
	case model.StepSave:
		return p.processSave(step.Raw, resp, stack)
	default:
		return nil, p.processVerify(step.Raw, resp, stack)
	}
}
