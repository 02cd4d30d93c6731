package model

import (
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/chainspec/packages/core/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeScenario(t *testing.T, doc string) (*Scenario, error) {
	t.Helper()
	tree, err := loader.Decode(strings.NewReader(doc))
	require.NoError(t, err)
	return DecodeScenario(tree, "test_scenario.http.json")
}

func mustScenario(t *testing.T, doc string) *Scenario {
	t.Helper()
	s, err := decodeScenario(t, doc)
	require.NoError(t, err)
	return s
}

func TestDecodeMinimalScenario(t *testing.T) {
	s := mustScenario(t, `{
		"stages": [
			{"name": "ping", "request": {"url": "http://host/ping"},
			 "response": [{"verify": {"status": 200}}]}
		]
	}`)

	require.Len(t, s.Stages, 1)
	stage := s.Stages[0]
	assert.Equal(t, "ping", stage.Name)
	assert.False(t, stage.AlwaysRun)
	assert.Equal(t, "http://host/ping", stage.RequestRaw["url"])
	require.Len(t, stage.Response, 1)
	assert.Equal(t, StepVerify, stage.Response[0].Kind)
}

func TestDecodeStagesAsMapping(t *testing.T) {
	s := mustScenario(t, `{
		"stages": {
			"login": {"request": {"url": "/login", "method": "POST"}},
			"fetch": {"request": {"url": "/me"}}
		}
	}`)

	require.Len(t, s.Stages, 2)
	assert.Equal(t, "login", s.Stages[0].Name)
	assert.Equal(t, "fetch", s.Stages[1].Name)
}

func TestDecodeResponseAsMapping(t *testing.T) {
	s := mustScenario(t, `{
		"stages": [{"name": "s", "request": {"url": "/x"}, "response": {
			"check status": {"verify": {"status": 200}},
			"grab id": {"save": {"jmespath": {"id": "id"}}}
		}}]
	}`)

	steps := s.Stages[0].Response
	require.Len(t, steps, 2)
	assert.Equal(t, "check status", steps[0].Key)
	assert.Equal(t, StepVerify, steps[0].Kind)
	assert.Equal(t, StepSave, steps[1].Kind)
}

func TestDuplicateStageNamesRejected(t *testing.T) {
	_, err := decodeScenario(t, `{
		"stages": [
			{"name": "a", "request": {"url": "/1"}},
			{"name": "a", "request": {"url": "/2"}}
		]
	}`)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "duplicate stage name")
}

func TestFixtureVarCollisionRejected(t *testing.T) {
	_, err := decodeScenario(t, `{
		"fixtures": ["base_url"],
		"substitutions": [{"vars": {"base_url": "http://x"}}],
		"stages": []
	}`)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "collides with a fixture")
}

func TestStageFixtureVarCollisionRejected(t *testing.T) {
	_, err := decodeScenario(t, `{
		"stages": [{
			"name": "s",
			"fixtures": ["api_key"],
			"substitutions": [{"vars": {"api_key": "shadowed"}}],
			"request": {"url": "/x"}
		}]
	}`)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "collides with a fixture")
}

func TestBodyVariantExclusivity(t *testing.T) {
	_, err := decodeScenario(t, `{
		"stages": [{"name": "s", "request": {
			"url": "/x", "body": {"json": {"a": 1}, "text": "nope"}
		}}]
	}`)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "exactly one of")
}

func TestResponseStepExclusivity(t *testing.T) {
	_, err := decodeScenario(t, `{
		"stages": [{"name": "s", "request": {"url": "/x"},
			"response": [{"verify": {"status": 200}, "save": {"jmespath": {}}}]}]
	}`)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "exactly one of verify or save")

	_, err = decodeScenario(t, `{
		"stages": [{"name": "s", "request": {"url": "/x"}, "response": [{}]}]
	}`)
	require.ErrorAs(t, err, &verr)
}

func TestInvalidStatusRejected(t *testing.T) {
	_, err := decodeScenario(t, `{
		"stages": [{"name": "s", "request": {"url": "/x"},
			"response": [{"verify": {"status": 999}}]}]
	}`)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "invalid HTTP status")
}

func TestTemplatedFieldsTolerated(t *testing.T) {
	s := mustScenario(t, `{
		"stages": [{"name": "s", "request": {
			"url": "{{ base }}/x", "method": "{{ m }}", "timeout": 5
		}, "response": [{"verify": {"status": "{{ code }}"}}]}]
	}`)
	assert.Equal(t, "{{ m }}", s.Stages[0].RequestRaw["method"])
}

func TestSubstitutionDiscrimination(t *testing.T) {
	s := mustScenario(t, `{
		"substitutions": [
			{"vars": {"b": 2, "a": 1}},
			{"functions": {"token": "auth:get_token"}}
		],
		"stages": []
	}`)
	require.Len(t, s.Substitutions, 2)
	assert.Equal(t, SubstVars, s.Substitutions[0].Kind)
	assert.Equal(t, []VarBinding{{Name: "b", Value: int64(2)}, {Name: "a", Value: int64(1)}}, s.Substitutions[0].Vars)
	assert.Equal(t, SubstFunctions, s.Substitutions[1].Kind)
	assert.Equal(t, "auth:get_token", s.Substitutions[1].Functions[0].Ref.Name)

	_, err := decodeScenario(t, `{
		"substitutions": [{"vars": {"a": 1}, "functions": {"f": "m:f"}}],
		"stages": []
	}`)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestParameterValidation(t *testing.T) {
	s := mustScenario(t, `{
		"stages": [{"name": "s", "request": {"url": "/x"}, "parametrize": [
			{"individual": {"env": ["dev", "prod"]}, "ids": ["d", "p"]},
			{"combinations": [{"u": "alice", "r": "admin"}, {"u": "bob", "r": "user"}]}
		]}]
	}`)
	params := s.Stages[0].Parametrize
	require.Len(t, params, 2)
	assert.Equal(t, ParamIndividual, params[0].Kind)
	assert.Equal(t, "env", params[0].Key)
	assert.Equal(t, ParamCombinations, params[1].Kind)
	require.Len(t, params[1].Rows, 2)
	assert.Equal(t, []string{"u", "r"}, params[1].Rows[0].Keys)

	_, err := decodeScenario(t, `{
		"stages": [{"name": "s", "request": {"url": "/x"}, "parametrize": [
			{"individual": {"env": ["dev", "prod"]}, "ids": ["only-one"]}
		]}]
	}`)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "ids count")

	_, err = decodeScenario(t, `{
		"stages": [{"name": "s", "request": {"url": "/x"}, "parametrize": [
			{"combinations": [{"a": 1}, {"b": 2}]}
		]}]
	}`)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "different parameters")
}

func TestParallelValidation(t *testing.T) {
	s := mustScenario(t, `{
		"stages": [{"name": "s", "request": {"url": "/x"}, "parallel": {
			"repeat": {"n": 10, "max_concurrency": 10, "calls_per_sec": 5}
		}}]
	}`)
	cfg := s.Stages[0].Parallel
	require.NotNil(t, cfg)
	assert.Equal(t, ParallelRepeat, cfg.Kind)
	assert.Equal(t, 10, cfg.N)
	assert.Equal(t, 10, cfg.MaxConcurrency)
	assert.Equal(t, 5.0, cfg.CallsPerSec)

	_, err := decodeScenario(t, `{
		"stages": [{"name": "s", "request": {"url": "/x"}, "parallel": {
			"repeat": {"n": 0, "max_concurrency": 1}
		}}]
	}`)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = decodeScenario(t, `{
		"stages": [{"name": "s", "request": {"url": "/x"}, "parallel": {
			"repeat": {"n": 2, "max_concurrency": 2, "calls_per_sec": 0}
		}}]
	}`)
	require.ErrorAs(t, err, &verr)
}

func TestDecodeRequestStrict(t *testing.T) {
	req, err := DecodeRequest(map[string]any{
		"url":     "http://host/items",
		"method":  "post",
		"params":  map[string]any{"q": "x", "tags": []any{"a", "b"}},
		"headers": map[string]any{"X-N": int64(7)},
		"body":    map[string]any{"json": map[string]any{"a": int64(1)}},
		"timeout": 2.5,
	}, "f.json")
	require.NoError(t, err)

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "7", req.Headers["X-N"])
	assert.Equal(t, 2.5, req.Timeout)
	assert.True(t, req.AllowRedirects)
	require.NotNil(t, req.Body)
	assert.Equal(t, BodyJSON, req.Body.Kind)

	_, err = DecodeRequest(map[string]any{"url": "/x", "method": "{{ m }}"}, "f.json")
	require.Error(t, err)

	_, err = DecodeRequest(map[string]any{"url": "/x", "timeout": int64(0)}, "f.json")
	require.Error(t, err)
}

func TestDecodeVerifyStrict(t *testing.T) {
	v, err := DecodeVerify(map[string]any{
		"status":  []any{int64(200), int64(201)},
		"headers": map[string]any{"Content-Type": "application/json"},
		"expressions": []any{true, int64(1)},
		"body": map[string]any{
			"contains": []any{"ok"},
			"matches":  []any{`"id":\s*\d+`},
		},
		"user_functions": []any{"checks:is_valid"},
	}, "f.json")
	require.NoError(t, err)

	assert.Equal(t, []int{200, 201}, v.Status)
	assert.Equal(t, "application/json", v.Headers["Content-Type"])
	require.NotNil(t, v.Body)
	assert.Equal(t, []string{"ok"}, v.Body.Contains)
	require.Len(t, v.UserFunctions, 1)
	assert.Equal(t, "checks:is_valid", v.UserFunctions[0].Name)
}

func TestDecodeSaveStrict(t *testing.T) {
	s, err := DecodeSave(map[string]any{
		"jmespath": map[string]any{"token": "auth.token"},
		"substitutions": []any{
			map[string]any{"vars": map[string]any{"n": int64(1)}},
		},
		"user_functions": []any{
			map[string]any{"function": "extract:ids", "kwargs": map[string]any{"limit": int64(5)}},
		},
	}, "f.json")
	require.NoError(t, err)

	require.Len(t, s.JMESPath, 1)
	assert.Equal(t, "token", s.JMESPath[0].Name)
	require.Len(t, s.Substitutions, 1)
	require.Len(t, s.UserFunctions, 1)
	assert.Equal(t, int64(5), s.UserFunctions[0].Kwargs["limit"])
}

func TestBodyDecodeVariants(t *testing.T) {
	cases := []struct {
		body map[string]any
		kind BodyKind
	}{
		{map[string]any{"form": map[string]any{"a": "1"}}, BodyForm},
		{map[string]any{"xml": "<a/>"}, BodyXML},
		{map[string]any{"text": "hello"}, BodyText},
		{map[string]any{"base64": "aGk="}, BodyBase64},
		{map[string]any{"binary": "data.bin"}, BodyBinary},
		{map[string]any{"files": map[string]any{"f": "a.txt"}}, BodyFiles},
		{map[string]any{"graphql": map[string]any{"query": "query { x }"}}, BodyGraphQL},
	}
	for _, tc := range cases {
		req, err := DecodeRequest(map[string]any{"url": "/x", "body": tc.body}, "f.json")
		require.NoError(t, err)
		assert.Equal(t, tc.kind, req.Body.Kind)
	}
}
