package http

import (
	"context"
	"encoding/base64"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient()
	require.NoError(t, err)
	return c
}

func TestDoBasicRequest(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(201)
		w.Write([]byte(`{"id": 42}`))
	}))
	defer server.Close()

	client := newTestClient(t)
	resp, err := client.Do(context.Background(), &Request{
		Method:  "POST",
		URL:     server.URL + "/items",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"a":1}`),
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, 201, resp.StatusCode)
	assert.True(t, resp.IsJSON())
	v, err := resp.JSON()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": 42.0}, v)
}

func TestDoTimeout(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(t)
	_, err := client.Do(context.Background(), &Request{
		Method:  "GET",
		URL:     server.URL,
		Timeout: 50 * time.Millisecond,
	})
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 50*time.Millisecond, terr.Timeout)
}

func TestDoTransportError(t *testing.T) {
	client := newTestClient(t)
	_, err := client.Do(context.Background(), &Request{
		Method:  "GET",
		URL:     "http://127.0.0.1:1/unreachable",
		Timeout: time.Second,
	})
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
}

func TestRedirectPolicy(t *testing.T) {
	var mux nethttp.ServeMux
	server := httptest.NewServer(&mux)
	defer server.Close()
	mux.HandleFunc("/from", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.Redirect(w, r, "/to", nethttp.StatusFound)
	})
	mux.HandleFunc("/to", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(200)
	})

	client := newTestClient(t)

	resp, err := client.Do(context.Background(), &Request{
		Method: "GET", URL: server.URL + "/from", AllowRedirects: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = client.Do(context.Background(), &Request{
		Method: "GET", URL: server.URL + "/from", AllowRedirects: false,
	})
	require.NoError(t, err)
	assert.Equal(t, 302, resp.StatusCode)
}

func TestAuthApplied(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, "Bearer T", r.Header.Get("Authorization"))
		w.WriteHeader(200)
	}))
	defer server.Close()

	client := newTestClient(t)
	resp, err := client.Do(context.Background(), &Request{
		Method: "GET",
		URL:    server.URL,
		Auth:   &BearerAuth{Token: "T"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestBuildRequestParamsAndHeaders(t *testing.T) {
	req, err := BuildRequest(&model.Request{
		URL:            "http://host/search?page=1",
		Method:         "GET",
		Params:         map[string]any{"q": "go", "tags": []any{"a", "b"}},
		Headers:        map[string]string{"X-Trace": "1"},
		Timeout:        30,
		AllowRedirects: true,
	}, BuildOptions{})
	require.NoError(t, err)

	assert.Contains(t, req.URL, "page=1")
	assert.Contains(t, req.URL, "q=go")
	assert.Contains(t, req.URL, "tags=a")
	assert.Contains(t, req.URL, "tags=b")
	assert.Equal(t, "1", req.Headers["X-Trace"])
	assert.Equal(t, 30*time.Second, req.Timeout)
}

func TestBuildRequestBodies(t *testing.T) {
	jsonReq, err := BuildRequest(&model.Request{
		URL: "http://host/x", Method: "POST", Timeout: 30,
		Body: &model.Body{Kind: model.BodyJSON, JSON: map[string]any{"a": int64(1)}},
	}, BuildOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(jsonReq.Body))
	assert.Equal(t, "application/json", jsonReq.Headers["Content-Type"])

	formReq, err := BuildRequest(&model.Request{
		URL: "http://host/x", Method: "POST", Timeout: 30,
		Body: &model.Body{Kind: model.BodyForm, Form: map[string]any{"user": "alice", "n": int64(2)}},
	}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(formReq.Body), "user=alice")
	assert.Contains(t, string(formReq.Body), "n=2")
	assert.Equal(t, "application/x-www-form-urlencoded", formReq.Headers["Content-Type"])

	b64 := base64.StdEncoding.EncodeToString([]byte("raw-bytes"))
	binReq, err := BuildRequest(&model.Request{
		URL: "http://host/x", Method: "POST", Timeout: 30,
		Body: &model.Body{Kind: model.BodyBase64, Base64: b64},
	}, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, "raw-bytes", string(binReq.Body))

	gqlReq, err := BuildRequest(&model.Request{
		URL: "http://host/graphql", Method: "POST", Timeout: 30,
		Body: &model.Body{Kind: model.BodyGraphQL, GraphQL: &model.GraphQLBody{
			Query:     "query { user { id } }",
			Variables: map[string]any{"id": int64(1)},
		}},
	}, BuildOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"query { user { id } }","variables":{"id":1}}`, string(gqlReq.Body))
}

func TestBuildRequestContentTypeNotOverridden(t *testing.T) {
	req, err := BuildRequest(&model.Request{
		URL: "http://host/x", Method: "POST", Timeout: 30,
		Headers: map[string]string{"content-type": "application/vnd.custom+json"},
		Body:    &model.Body{Kind: model.BodyJSON, JSON: map[string]any{}},
	}, BuildOptions{})
	require.NoError(t, err)

	assert.Equal(t, "application/vnd.custom+json", req.Headers["content-type"])
	_, exists := req.Headers["Content-Type"]
	assert.False(t, exists)
}

func TestBuildRequestMultipart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload.txt")
	require.NoError(t, os.WriteFile(path, []byte("file-content"), 0o644))

	req, err := BuildRequest(&model.Request{
		URL: "http://host/upload", Method: "POST", Timeout: 30,
		Body: &model.Body{Kind: model.BodyFiles, Files: map[string]string{"doc": "upload.txt"}},
	}, BuildOptions{BaseDir: dir})
	require.NoError(t, err)

	assert.Contains(t, req.Headers["Content-Type"], "multipart/form-data")
	assert.Contains(t, string(req.Body), "file-content")
	assert.Contains(t, string(req.Body), `filename="upload.txt"`)
}

func TestBuildRequestPathTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	_, err := BuildRequest(&model.Request{
		URL: "http://host/upload", Method: "POST", Timeout: 30,
		Body: &model.Body{Kind: model.BodyFiles, Files: map[string]string{"doc": "../secret.txt"}},
	}, BuildOptions{BaseDir: filepath.Join(dir, "scenarios"), RootPath: filepath.Join(dir, "scenarios")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path traversal")
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("http://example.com/path"))
	assert.NoError(t, ValidateURL("https://example.com"))
	assert.Error(t, ValidateURL("ftp://example.com"))
	assert.Error(t, ValidateURL("/relative/only"))
	assert.Error(t, ValidateURL("http://"))
}

func TestResponseHelpers(t *testing.T) {
	resp := &Response{
		StatusCode: 200,
		Headers:    nethttp.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
		Body:       []byte(`{"ok": true}`),
	}
	assert.Equal(t, "application/json; charset=utf-8", resp.Header("content-type"))
	assert.True(t, resp.IsJSON())
	assert.True(t, resp.IsSuccess())
	assert.True(t, strings.Contains(resp.Text(), "ok"))

	v, err := resp.JSON()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, v)

	bad := &Response{Body: []byte("not-json")}
	_, err = bad.JSON()
	require.Error(t, err)
}
