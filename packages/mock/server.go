// Package mock serves canned responses derived from scenario files, for
// developing scenarios against endpoints that do not exist yet and for
// exercising the engine in tests.
package mock

import (
	"context"
	"fmt"
	"io"
	"log"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
)

// Server is a mock HTTP server whose routes come from scenarios or are
// registered programmatically.
type Server struct {
	router  *Router
	port    int
	delay   time.Duration
	verbose bool
}

// Option configures a Server.
type Option func(*Server)

// WithPort sets the listen port.
func WithPort(port int) Option {
	return func(s *Server) {
		s.port = port
	}
}

// WithDelay delays every response.
func WithDelay(delay time.Duration) Option {
	return func(s *Server) {
		s.delay = delay
	}
}

// WithVerbose logs each request.
func WithVerbose(verbose bool) Option {
	return func(s *Server) {
		s.verbose = verbose
	}
}

// NewServer creates a mock server.
func NewServer(opts ...Option) *Server {
	s := &Server{router: NewRouter(), port: 3000}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRoute registers a route directly.
func (s *Server) AddRoute(route *Route) {
	if route.PathRegex == nil {
		route.PathRegex = compilePathPattern(route.PathPattern)
	}
	s.router.AddRoute(route)
}

// LoadScenario derives one route per stage: the method and path from the
// stage's request, the status from its first verify step.
func (s *Server) LoadScenario(scenario *model.Scenario) {
	for _, stage := range scenario.Stages {
		route := s.routeForStage(stage)
		if route != nil {
			s.router.AddRoute(route)
		}
	}
}

func (s *Server) routeForStage(stage *model.Stage) *Route {
	urlVal, ok := stage.RequestRaw["url"].(string)
	if !ok || urlVal == "" {
		return nil
	}

	method := "GET"
	if m, ok := stage.RequestRaw["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	pattern := extractPathPattern(stripHostTemplate(urlVal))
	route := &Route{
		Method:      method,
		PathPattern: pattern,
		PathRegex:   compilePathPattern(pattern),
		Name:        stage.Name,
		Response:    responseForStage(stage),
	}
	return route
}

// stripHostTemplate drops a leading {{ base_url }}-style template so the
// remaining path can become a pattern.
func stripHostTemplate(url string) string {
	trimmed := strings.TrimSpace(url)
	if !strings.HasPrefix(trimmed, "{{") {
		return url
	}
	end := strings.Index(trimmed, "}}")
	if end < 0 {
		return url
	}
	rest := trimmed[end+2:]
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[idx:]
	}
	return "/"
}

func responseForStage(stage *model.Stage) *MockResponse {
	resp := &MockResponse{
		StatusCode:  200,
		ContentType: "application/json",
		Headers:     make(map[string]string),
		Body:        `{"status": "ok"}`,
	}

	for _, step := range stage.Response {
		if step.Kind != model.StepVerify {
			continue
		}
		switch status := step.Raw["status"].(type) {
		case int64:
			resp.StatusCode = int(status)
		case []any:
			if len(status) > 0 {
				if code, ok := status[0].(int64); ok {
					resp.StatusCode = int(code)
				}
			}
		}
		break
	}
	return resp
}

// Handler returns the server's HTTP handler, usable with httptest.
func (s *Server) Handler() nethttp.Handler {
	return nethttp.HandlerFunc(s.handleRequest)
}

// Routes returns the registered routes.
func (s *Server) Routes() []*Route {
	return s.router.Routes()
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &nethttp.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("mock server listening on http://localhost:%d (%d routes)", s.port, len(s.router.Routes()))
	err := server.ListenAndServe()
	if err == nethttp.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleRequest(w nethttp.ResponseWriter, r *nethttp.Request) {
	start := time.Now()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	body, _ := io.ReadAll(r.Body)
	route, params := s.router.Match(r.Method, r.URL.Path, body)
	if route == nil {
		if s.verbose {
			log.Printf("%s %s -> 404 (%s)", r.Method, r.URL.Path, time.Since(start))
		}
		nethttp.NotFound(w, r)
		return
	}

	resp := route.Response
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", resp.ContentType)

	respBody := resp.Body
	for key, value := range params {
		respBody = strings.ReplaceAll(respBody, "{{"+key+"}}", value)
	}

	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write([]byte(respBody))

	if s.verbose {
		log.Printf("%s %s -> %d (%s)", r.Method, r.URL.Path, resp.StatusCode, time.Since(start))
	}
}
