package mock

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Route matches incoming requests and names the canned response.
type Route struct {
	Method      string
	PathPattern string
	PathRegex   *regexp.Regexp
	Name        string

	// BodyMatch maps gjson paths to expected string values; every pair
	// must match the request's JSON body for the route to apply.
	BodyMatch map[string]string

	Response *MockResponse
}

// MockResponse is a canned HTTP response.
type MockResponse struct {
	StatusCode  int
	ContentType string
	Headers     map[string]string
	Body        string
}

// Router matches requests to routes in registration order.
type Router struct {
	routes []*Route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make([]*Route, 0)}
}

// AddRoute appends a route.
func (r *Router) AddRoute(route *Route) {
	r.routes = append(r.routes, route)
}

// Routes returns the registered routes.
func (r *Router) Routes() []*Route {
	return r.routes
}

// Match finds the first route matching method, path and body, returning
// the captured path parameters.
func (r *Router) Match(method, path string, body []byte) (*Route, map[string]string) {
	path = normalizePath(path)

	for _, route := range r.routes {
		if !strings.EqualFold(route.Method, method) {
			continue
		}
		params := matchPath(route, path)
		if params == nil {
			continue
		}
		if !matchBody(route, body) {
			continue
		}
		return route, params
	}
	return nil, nil
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}

func matchPath(route *Route, path string) map[string]string {
	if route.PathRegex != nil {
		matches := route.PathRegex.FindStringSubmatch(path)
		if matches != nil {
			params := make(map[string]string)
			for i, name := range route.PathRegex.SubexpNames() {
				if i > 0 && name != "" && i < len(matches) {
					params[name] = matches[i]
				}
			}
			return params
		}
		return nil
	}
	if route.PathPattern == path {
		return make(map[string]string)
	}
	return nil
}

func matchBody(route *Route, body []byte) bool {
	if len(route.BodyMatch) == 0 {
		return true
	}
	if len(body) == 0 {
		return false
	}
	for path, expected := range route.BodyMatch {
		if gjson.GetBytes(body, path).String() != expected {
			return false
		}
	}
	return true
}

// templateParam recognizes {{name}} segments in route patterns.
var templateParam = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// compilePathPattern converts a templated path into a regex with named
// capture groups, one per {{param}}.
func compilePathPattern(pattern string) *regexp.Regexp {
	regexPattern := templateParam.ReplaceAllString(pattern, `(?P<$1>[^/]+)`)
	regex, err := regexp.Compile("^" + regexPattern + "$")
	if err != nil {
		return regexp.MustCompile("^" + regexp.QuoteMeta(pattern) + "$")
	}
	return regex
}

// extractPathPattern strips scheme, host and query from a URL template.
func extractPathPattern(url string) string {
	if idx := strings.Index(url, "://"); idx != -1 {
		url = url[idx+3:]
		if idx := strings.Index(url, "/"); idx != -1 {
			url = url[idx:]
		} else {
			url = "/"
		}
	}
	if idx := strings.Index(url, "?"); idx != -1 {
		url = url[:idx]
	}
	if !strings.HasPrefix(url, "/") {
		url = "/" + url
	}
	return url
}
