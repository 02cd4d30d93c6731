package mock

import (
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/chainspec/packages/core/loader"
	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteMatchingWithParams(t *testing.T) {
	s := NewServer()
	s.AddRoute(&Route{
		Method:      "GET",
		PathPattern: "/users/{{id}}",
		Response: &MockResponse{
			StatusCode:  200,
			ContentType: "application/json",
			Body:        `{"id": "{{id}}"}`,
		},
	})

	server := httptest.NewServer(s.Handler())
	defer server.Close()

	resp, err := nethttp.Get(server.URL + "/users/42")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"id": "42"}`, string(body))
}

func TestRouteNotFound(t *testing.T) {
	s := NewServer()
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	resp, err := nethttp.Get(server.URL + "/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

func TestBodyMatchRouting(t *testing.T) {
	s := NewServer()
	s.AddRoute(&Route{
		Method:      "POST",
		PathPattern: "/login",
		BodyMatch:   map[string]string{"user": "alice"},
		Response:    &MockResponse{StatusCode: 200, ContentType: "application/json", Body: `{"token": "alice-token"}`},
	})
	s.AddRoute(&Route{
		Method:      "POST",
		PathPattern: "/login",
		Response:    &MockResponse{StatusCode: 401, ContentType: "application/json", Body: `{"error": "unauthorized"}`},
	})

	server := httptest.NewServer(s.Handler())
	defer server.Close()

	resp, err := nethttp.Post(server.URL+"/login", "application/json", strings.NewReader(`{"user": "alice"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = nethttp.Post(server.URL+"/login", "application/json", strings.NewReader(`{"user": "mallory"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 401, resp.StatusCode)
}

func TestLoadScenarioDerivesRoutes(t *testing.T) {
	doc := `{
		"stages": [
			{
				"name": "create",
				"request": {"url": "{{ base_url }}/items", "method": "POST"},
				"response": [{"verify": {"status": 201}}]
			},
			{
				"name": "get",
				"request": {"url": "{{ base_url }}/items/{{ id }}"},
				"response": [{"verify": {"status": 200}}]
			}
		]
	}`
	tree, err := loader.Decode(strings.NewReader(doc))
	require.NoError(t, err)
	scenario, err := model.DecodeScenario(tree, "test_items.http.json")
	require.NoError(t, err)

	s := NewServer()
	s.LoadScenario(scenario)
	require.Len(t, s.Routes(), 2)

	server := httptest.NewServer(s.Handler())
	defer server.Close()

	resp, err := nethttp.Post(server.URL+"/items", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 201, resp.StatusCode)

	resp, err = nethttp.Get(server.URL + "/items/7")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
