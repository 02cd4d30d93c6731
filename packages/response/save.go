package response

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
	"github.com/abdul-hamid-achik/chainspec/packages/core/scope"
	"github.com/abdul-hamid-achik/chainspec/packages/http"
	"github.com/abdul-hamid-achik/chainspec/packages/template"
	"github.com/jmespath/go-jmespath"
)

// processSave runs one save step. Templates inside the step are
// substituted piecewise rather than up front so later entries can
// reference values the step itself just produced. Later entries overwrite
// earlier ones.
func (p *Processor) processSave(raw map[string]any, resp *http.Response, stack *scope.Stack) (map[string]any, error) {
	save, err := model.DecodeSave(raw, p.File)
	if err != nil {
		return nil, err
	}

	// Results accumulate in a frame on top of the stack so each entry
	// sees the ones before it.
	result := make(map[string]any)
	work := stack.Snapshot()
	work.Push(scope.NewFrame("save", result))
	ev := p.evaluator(work)

	if len(save.JMESPath) > 0 {
		projection, err := p.projectionDocument(resp)
		if err != nil {
			return nil, err
		}
		for _, binding := range save.JMESPath {
			exprVal, err := template.Walk(binding.Value, ev)
			if err != nil {
				return nil, &SaveError{Name: binding.Name, Msg: err.Error()}
			}
			expr, ok := exprVal.(string)
			if !ok {
				return nil, &SaveError{Name: binding.Name, Msg: fmt.Sprintf("expression must be a string, got %T", exprVal)}
			}

			value, err := searchJMESPath(expr, projection)
			if err != nil {
				return nil, &SaveError{Name: binding.Name, Msg: err.Error()}
			}
			result[binding.Name] = value
		}
	}

	for _, sub := range save.Substitutions {
		switch sub.Kind {
		case model.SubstVars:
			for _, binding := range sub.Vars {
				value, err := template.Walk(binding.Value, ev)
				if err != nil {
					return nil, &SaveError{Name: binding.Name, Msg: err.Error()}
				}
				result[binding.Name] = value
			}
		case model.SubstFunctions:
			for _, binding := range sub.Functions {
				kwargs, err := walkKwargs(binding.Ref.Kwargs, ev)
				if err != nil {
					return nil, &SaveError{Name: binding.Name, Msg: err.Error()}
				}
				value, err := p.Registry.Subst(binding.Ref.Name, kwargs)
				if err != nil {
					return nil, &SaveError{Name: binding.Name, Msg: err.Error()}
				}
				result[binding.Name] = value
			}
		}
	}

	for _, ref := range save.UserFunctions {
		kwargs, err := walkKwargs(ref.Kwargs, ev)
		if err != nil {
			return nil, &SaveError{Msg: fmt.Sprintf("%s: %v", ref.Name, err)}
		}
		out, err := p.Registry.Save(ref.Name, resp, kwargs)
		if err != nil {
			return nil, &SaveError{Msg: fmt.Sprintf("%s: %v", ref.Name, err)}
		}
		for name, value := range out {
			result[name] = value
		}
	}

	return result, nil
}

// projectionDocument is what JMESPath expressions run over. Plain
// expressions address the body; "status" and header projections are
// reachable under their own keys. Header names are lowercased.
func (p *Processor) projectionDocument(resp *http.Response) (any, error) {
	body, err := resp.JSON()
	if err != nil {
		return nil, &SaveError{Msg: fmt.Sprintf("cannot extract variables: %v", err)}
	}

	headers := make(map[string]any, len(resp.Headers))
	for name := range resp.Headers {
		headers[strings.ToLower(name)] = resp.Headers.Get(name)
	}

	return projection{
		body: body,
		meta: map[string]any{
			"status":  float64(resp.StatusCode),
			"headers": headers,
		},
	}, nil
}

type projection struct {
	body any
	meta map[string]any
}

func searchJMESPath(expr string, doc any) (any, error) {
	proj, ok := doc.(projection)
	if !ok {
		return jmespathSearch(expr, doc)
	}

	root := expr
	if idx := strings.IndexAny(expr, ".[ |"); idx > 0 {
		root = expr[:idx]
	}
	if root == "status" || root == "headers" {
		return jmespathSearch(expr, proj.meta)
	}
	return jmespathSearch(expr, proj.body)
}

func jmespathSearch(expr string, data any) (any, error) {
	value, err := jmespath.Search(expr, data)
	if err != nil {
		return nil, fmt.Errorf("jmespath %q: %v", expr, err)
	}
	return value, nil
}

func walkKwargs(kwargs map[string]any, ev *template.Evaluator) (map[string]any, error) {
	if kwargs == nil {
		return nil, nil
	}
	walked, err := template.Walk(kwargs, ev)
	if err != nil {
		return nil, err
	}
	return walked.(map[string]any), nil
}
