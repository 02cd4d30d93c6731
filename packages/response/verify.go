package response

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
	"github.com/abdul-hamid-achik/chainspec/packages/core/scope"
	"github.com/abdul-hamid-achik/chainspec/packages/http"
	"github.com/abdul-hamid-achik/chainspec/packages/template"
	"github.com/xeipuuv/gojsonschema"
)

// processVerify substitutes the step's templates, revalidates it and runs
// the declared checks in order. The first failing check aborts the step.
func (p *Processor) processVerify(raw map[string]any, resp *http.Response, stack *scope.Stack) error {
	walked, err := template.Walk(raw, p.evaluator(stack))
	if err != nil {
		return err
	}
	verify, err := model.DecodeVerify(walked.(map[string]any), p.File)
	if err != nil {
		return err
	}

	if len(verify.Status) > 0 {
		matched := false
		for _, code := range verify.Status {
			if resp.StatusCode == code {
				matched = true
				break
			}
		}
		if !matched {
			return &VerifyError{
				Check: "status",
				Msg:   fmt.Sprintf("expected %s, got %d", formatStatuses(verify.Status), resp.StatusCode),
			}
		}
	}

	// Header names match case-insensitively, values by exact equality.
	for name, expected := range verify.Headers {
		actual := resp.Header(name)
		if actual != expected {
			return &VerifyError{
				Check: "headers",
				Msg:   fmt.Sprintf("header %q: expected %q, got %q", name, expected, actual),
			}
		}
	}

	for _, binding := range verify.Vars {
		actual, ok := stack.Get(binding.Name)
		if !ok {
			return &VerifyError{Check: "vars", Msg: fmt.Sprintf("name %q is not defined", binding.Name)}
		}
		if !looseEqual(actual, binding.Value) {
			return &VerifyError{
				Check: "vars",
				Msg:   fmt.Sprintf("%s: expected %v, got %v", binding.Name, binding.Value, actual),
			}
		}
	}

	for i, result := range verify.Expressions {
		if !template.Truthy(result) {
			return &VerifyError{
				Check: "expressions",
				Msg:   fmt.Sprintf("expression %d evaluated to %v", i, result),
			}
		}
	}

	for _, ref := range verify.UserFunctions {
		ok, err := p.Registry.Verify(ref.Name, resp, ref.Kwargs)
		if err != nil {
			return &VerifyError{Check: "user_functions", Msg: fmt.Sprintf("%s: %v", ref.Name, err)}
		}
		if !ok {
			return &VerifyError{Check: "user_functions", Msg: fmt.Sprintf("%s returned false", ref.Name)}
		}
	}

	if verify.Body != nil {
		if err := p.verifyBody(verify.Body, resp); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) verifyBody(body *model.VerifyBody, resp *http.Response) error {
	if body.Schema != nil {
		if err := p.verifySchema(body.Schema, resp); err != nil {
			return err
		}
	}

	text := resp.Text()
	for _, substring := range body.Contains {
		if !strings.Contains(text, substring) {
			return &VerifyError{Check: "body.contains", Msg: fmt.Sprintf("body does not contain %q", substring)}
		}
	}
	for _, substring := range body.NotContains {
		if strings.Contains(text, substring) {
			return &VerifyError{Check: "body.not_contains", Msg: fmt.Sprintf("body contains %q", substring)}
		}
	}
	for _, pattern := range body.Matches {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return &VerifyError{Check: "body.matches", Msg: fmt.Sprintf("invalid pattern %q: %v", pattern, err)}
		}
		if !re.MatchString(text) {
			return &VerifyError{Check: "body.matches", Msg: fmt.Sprintf("body does not match %q", pattern)}
		}
	}
	for _, pattern := range body.NotMatches {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return &VerifyError{Check: "body.not_matches", Msg: fmt.Sprintf("invalid pattern %q: %v", pattern, err)}
		}
		if re.MatchString(text) {
			return &VerifyError{Check: "body.not_matches", Msg: fmt.Sprintf("body matches %q", pattern)}
		}
	}
	return nil
}

func (p *Processor) verifySchema(schema any, resp *http.Response) error {
	var schemaLoader gojsonschema.JSONLoader
	switch t := schema.(type) {
	case string:
		path := t
		if !filepath.IsAbs(path) && p.BaseDir != "" {
			path = filepath.Join(p.BaseDir, path)
		}
		if err := p.checkSchemaPath(path); err != nil {
			return &VerifyError{Check: "body.schema", Msg: err.Error()}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return &VerifyError{Check: "body.schema", Msg: fmt.Sprintf("reading schema file: %v", err)}
		}
		schemaLoader = gojsonschema.NewBytesLoader(data)
	default:
		schemaLoader = gojsonschema.NewGoLoader(schema)
	}

	parsed, err := resp.JSON()
	if err != nil {
		return &VerifyError{Check: "body.schema", Msg: err.Error()}
	}

	// Round-trip through bytes so the document loader sees canonical JSON.
	doc, err := json.Marshal(parsed)
	if err != nil {
		return &VerifyError{Check: "body.schema", Msg: fmt.Sprintf("encoding response JSON: %v", err)}
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &VerifyError{Check: "body.schema", Msg: fmt.Sprintf("schema validation error: %v", err)}
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return &VerifyError{Check: "body.schema", Msg: strings.Join(details, "; ")}
	}
	return nil
}

func (p *Processor) checkSchemaPath(path string) error {
	root := p.RootPath
	if root == "" {
		root = p.BaseDir
	}
	if root == "" {
		return nil
	}
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if cleanPath != cleanRoot && !strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator)) {
		return fmt.Errorf("schema path %s is outside allowed directory %s", path, root)
	}
	return nil
}

func formatStatuses(codes []int) string {
	if len(codes) == 1 {
		return fmt.Sprintf("%d", codes[0])
	}
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return "one of [" + strings.Join(parts, ", ") + "]"
}

// looseEqual compares with numeric coercion, so a saved float64 42 equals
// an authored literal 42.
func looseEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
