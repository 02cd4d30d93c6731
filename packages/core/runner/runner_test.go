package runner

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/loader"
	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
	"github.com/abdul-hamid-achik/chainspec/packages/funcs"
	"github.com/abdul-hamid-achik/chainspec/packages/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadScenario decodes a scenario document with the server URL templated
// in via %s.
func loadScenario(t *testing.T, doc string, args ...any) *model.Scenario {
	t.Helper()
	rendered := fmt.Sprintf(doc, args...)
	tree, err := loader.Decode(strings.NewReader(rendered))
	require.NoError(t, err)

	dir := t.TempDir()
	file := filepath.Join(dir, "test_scenario.http.json")
	require.NoError(t, os.WriteFile(file, []byte(rendered), 0o644))

	s, err := model.DecodeScenario(tree, file)
	require.NoError(t, err)
	return s
}

func TestSingleStagePass(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, "/ping", r.URL.Path)
		w.WriteHeader(200)
	}))
	defer server.Close()

	scenario := loadScenario(t, `{
		"stages": [{
			"name": "ping",
			"request": {"url": "%s/ping"},
			"response": [{"verify": {"status": 200}}]
		}]
	}`, server.URL)

	host := &MapHost{}
	r := New(&Config{Host: host})
	result, err := r.Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Failed)
	require.Len(t, host.Passes, 1)
	assert.Equal(t, "ping", host.Passes[0].Stage)
	assert.Equal(t, StageDone, result.Stages[0].State)
}

func TestValueThreading(t *testing.T) {
	var mux nethttp.ServeMux
	server := httptest.NewServer(&mux)
	defer server.Close()

	mux.HandleFunc("/login", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		require.Equal(t, "POST", r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token": "T"}`))
	})
	mux.HandleFunc("/me", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, "Bearer T", r.Header.Get("Authorization"))
		w.WriteHeader(200)
	})

	scenario := loadScenario(t, `{
		"stages": [
			{
				"name": "login",
				"request": {"url": "%[1]s/login", "method": "POST"},
				"response": [
					{"verify": {"status": 200}},
					{"save": {"jmespath": {"token": "token"}}}
				]
			},
			{
				"name": "me",
				"request": {
					"url": "%[1]s/me",
					"headers": {"Authorization": "Bearer {{ token }}"}
				},
				"response": [{"verify": {"status": 200}}]
			}
		]
	}`, server.URL)

	host := &MapHost{}
	result, err := New(&Config{Host: host}).Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Failed)
	assert.Len(t, host.Passes, 2)
	assert.Empty(t, host.Fails)
}

func TestCleanupAfterFailure(t *testing.T) {
	var cleanupPath atomic.Value

	var mux nethttp.ServeMux
	server := httptest.NewServer(&mux)
	defer server.Close()

	mux.HandleFunc("/create", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 42}`))
	})
	mux.HandleFunc("/use/", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(500)
	})
	mux.HandleFunc("/cleanup/", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		cleanupPath.Store(r.URL.Path)
		w.WriteHeader(200)
	})

	scenario := loadScenario(t, `{
		"stages": [
			{
				"name": "create",
				"request": {"url": "%[1]s/create", "method": "POST"},
				"response": [{"save": {"jmespath": {"id": "id"}}}]
			},
			{
				"name": "use",
				"request": {"url": "%[1]s/use/{{ id }}"},
				"response": [{"verify": {"status": 200}}]
			},
			{
				"name": "skipped_stage",
				"request": {"url": "%[1]s/never"},
				"response": [{"verify": {"status": 200}}]
			},
			{
				"name": "cleanup",
				"always_run": true,
				"request": {"url": "%[1]s/cleanup/{{ id }}", "method": "DELETE"},
				"response": [{"verify": {"status": 200}}]
			}
		]
	}`, server.URL)

	host := &MapHost{}
	result, err := New(&Config{Host: host}).Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.True(t, result.Failed)

	// use failed, skipped_stage skipped, cleanup ran with id=42
	require.Len(t, host.Fails, 1)
	assert.Equal(t, "use", host.Fails[0].Stage)
	require.Len(t, host.Skips, 1)
	assert.Equal(t, "skipped_stage", host.Skips[0].Stage)
	assert.Equal(t, "/cleanup/42", cleanupPath.Load())

	var serr *StageError
	require.ErrorAs(t, host.Fails[0].Err, &serr)
	assert.Equal(t, StageProcessingResponse, serr.State)
}

func TestParametrizeCrossProduct(t *testing.T) {
	var mu sync.Mutex
	seen := make([]string, 0, 4)

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		mu.Lock()
		seen = append(seen, r.URL.RawQuery)
		mu.Unlock()
		w.WriteHeader(200)
	}))
	defer server.Close()

	scenario := loadScenario(t, `{
		"stages": [{
			"name": "matrix",
			"parametrize": [
				{"individual": {"env": ["dev", "prod"]}},
				{"individual": {"fmt": ["json", "xml"]}}
			],
			"request": {"url": "%s/q", "params": {"env": "{{ env }}", "fmt": "{{ fmt }}"}},
			"response": [{"verify": {"status": 200}}]
		}]
	}`, server.URL)

	host := &MapHost{}
	result, err := New(&Config{Host: host}).Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Failed)
	require.Len(t, host.Passes, 4)
	assert.Equal(t, []string{
		"env=dev&fmt=json", "env=dev&fmt=xml", "env=prod&fmt=json", "env=prod&fmt=xml",
	}, seen)

	keys := make([]string, 0, 4)
	for _, p := range host.Passes {
		keys = append(keys, p.Iteration)
	}
	assert.Equal(t, []string{
		"env=dev-fmt=json", "env=dev-fmt=xml", "env=prod-fmt=json", "env=prod-fmt=xml",
	}, keys)
}

func TestParametrizeIterationFailureDoesNotShortCircuit(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.URL.Query().Get("env") == "dev" {
			w.WriteHeader(500)
			return
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	scenario := loadScenario(t, `{
		"stages": [{
			"name": "matrix",
			"parametrize": [{"individual": {"env": ["dev", "prod"]}}],
			"request": {"url": "%s/q", "params": {"env": "{{ env }}"}},
			"response": [{"verify": {"status": 200}}]
		}]
	}`, server.URL)

	host := &MapHost{}
	result, err := New(&Config{Host: host}).Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.True(t, result.Failed)
	assert.Len(t, host.Fails, 1)
	assert.Len(t, host.Passes, 1)
}

func TestParallelRateLimit(t *testing.T) {
	var count int64
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		atomic.AddInt64(&count, 1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	scenario := loadScenario(t, `{
		"stages": [{
			"name": "burst",
			"parallel": {"repeat": {"n": 10, "max_concurrency": 10, "calls_per_sec": 5}},
			"request": {"url": "%s/hit"},
			"response": [{"verify": {"status": 200}}]
		}]
	}`, server.URL)

	host := &MapHost{}
	start := time.Now()
	result, err := New(&Config{Host: host}).Run(context.Background(), scenario)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.False(t, result.Failed)
	assert.Equal(t, int64(10), atomic.LoadInt64(&count))
	assert.Len(t, host.Passes, 10)
	assert.GreaterOrEqual(t, elapsed, 1800*time.Millisecond)

	require.NotNil(t, result.Stages[0].Parallel)
	assert.Equal(t, 10, result.Stages[0].Parallel.Total)
}

func TestParallelForeach(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		mu.Lock()
		seen[r.URL.Query().Get("region")] = true
		mu.Unlock()
		w.WriteHeader(200)
	}))
	defer server.Close()

	scenario := loadScenario(t, `{
		"stages": [{
			"name": "fanout",
			"parallel": {"foreach": {
				"parameters": [{"individual": {"region": ["us", "eu", "ap"]}}],
				"max_concurrency": 3
			}},
			"request": {"url": "%s/r", "params": {"region": "{{ region }}"}},
			"response": [{"verify": {"status": 200}}]
		}]
	}`, server.URL)

	host := &MapHost{}
	result, err := New(&Config{Host: host}).Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Failed)
	assert.Len(t, host.Passes, 3)
	assert.Equal(t, map[string]bool{"us": true, "eu": true, "ap": true}, seen)
}

func TestFixturesAndSubstitutions(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, "/v2/users", r.URL.Path)
		assert.Equal(t, "token-123", r.Header.Get("X-Api-Key"))
		w.WriteHeader(200)
	}))
	defer server.Close()

	registry := funcs.NewRegistry()
	registry.RegisterSubst("auth:api_key", func(kwargs map[string]any) (any, error) {
		return "token-" + kwargs["tenant"].(string), nil
	})

	scenario := loadScenario(t, `{
		"fixtures": ["base_url"],
		"substitutions": [
			{"vars": {"version": "v2", "tenant": "123"}},
			{"functions": {"api_key": {"function": "auth:api_key", "kwargs": {"tenant": "{{ tenant }}"}}}}
		],
		"stages": [{
			"name": "list",
			"request": {
				"url": "{{ base_url }}/{{ version }}/users",
				"headers": {"X-Api-Key": "{{ api_key }}"}
			},
			"response": [{"verify": {"status": 200}}]
		}]
	}`)

	host := &MapHost{Fixtures: map[string]any{"base_url": server.URL}}
	result, err := New(&Config{Host: host, Registry: registry}).Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Failed)
}

func TestMissingFixtureFailsScenario(t *testing.T) {
	scenario := loadScenario(t, `{
		"fixtures": ["nope"],
		"stages": []
	}`)

	_, err := New(&Config{Host: &MapHost{}}).Run(context.Background(), scenario)
	var serr *ScenarioError
	require.ErrorAs(t, err, &serr)
}

func TestSaveShadowingFixtureFails(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"base_url": "evil"}`))
	}))
	defer server.Close()

	scenario := loadScenario(t, `{
		"fixtures": ["base_url"],
		"stages": [{
			"name": "grab",
			"request": {"url": "{{ base_url }}/x"},
			"response": [{"save": {"jmespath": {"base_url": "base_url"}}}]
		}]
	}`)

	host := &MapHost{Fixtures: map[string]any{"base_url": server.URL}}
	result, err := New(&Config{Host: host}).Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.True(t, result.Failed)
	require.Len(t, host.Fails, 1)
	var serr *StageError
	require.ErrorAs(t, host.Fails[0].Err, &serr)
	var fsErr *FixtureShadowError
	require.ErrorAs(t, serr.Err, &fsErr)
	assert.Equal(t, "base_url", fsErr.Name)
}

func TestStageAuthOverridesScenarioAuth(t *testing.T) {
	var mu sync.Mutex
	auths := map[string]string{}
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		mu.Lock()
		auths[r.URL.Path] = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(200)
	}))
	defer server.Close()

	registry := funcs.NewRegistry()
	registry.RegisterAuth("auth:bearer", func(kwargs map[string]any) (http.Authenticator, error) {
		return &http.BearerAuth{Token: kwargs["token"].(string)}, nil
	})

	scenario := loadScenario(t, `{
		"auth": {"function": "auth:bearer", "kwargs": {"token": "scenario"}},
		"stages": [
			{"name": "default", "request": {"url": "%[1]s/default"}},
			{"name": "override", "request": {
				"url": "%[1]s/override",
				"auth": {"function": "auth:bearer", "kwargs": {"token": "stage"}}
			}}
		]
	}`, server.URL)

	result, err := New(&Config{Host: &MapHost{}, Registry: registry}).Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Failed)
	assert.Equal(t, "Bearer scenario", auths["/default"])
	assert.Equal(t, "Bearer stage", auths["/override"])
}

func TestOrderedResponseStepsStopOnFirstFailure(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(500)
		w.Write([]byte(`{"x": 1}`))
	}))
	defer server.Close()

	scenario := loadScenario(t, `{
		"stages": [{
			"name": "ordered",
			"request": {"url": "%s/x"},
			"response": [
				{"verify": {"status": 200}},
				{"save": {"jmespath": {"x": "x"}}}
			]
		}]
	}`, server.URL)

	host := &MapHost{}
	result, err := New(&Config{Host: host}).Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.True(t, result.Failed)
	// the save step after the failing verify never ran
	assert.Empty(t, result.Stages[0].Saved)
}

func TestResponseStatusCapturedInResult(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	scenario := loadScenario(t, `{
		"stages": [{"name": "s", "request": {"url": "%s/"},
			"response": [{"verify": {"status": 200}}]}]
	}`, server.URL)

	result, err := New(nil).Run(context.Background(), scenario)
	require.NoError(t, err)
	require.NotNil(t, result.Stages[0].Response)
	assert.Equal(t, 200, result.Stages[0].Response.StatusCode)
	assert.NotNil(t, result.Stages[0].Request)
}
