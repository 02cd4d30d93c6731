// Package funcs binds user function references to host-registered
// callables.
//
// A reference is "module:symbol" or a bare "symbol". Go has no runtime
// import, so the host registers its callables up front and references
// resolve against the registry at call time: an exact match first, then a
// unique "*:symbol" suffix match for bare names. Four arities exist, one
// per use site: save, verify, auth and substitution.
package funcs

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/chainspec/packages/http"
)

// SaveFunc extracts values from a response; the result map merges into the
// stage's saved set.
type SaveFunc func(resp *http.Response, kwargs map[string]any) (map[string]any, error)

// VerifyFunc checks a response; returning false fails the verify step.
type VerifyFunc func(resp *http.Response, kwargs map[string]any) (bool, error)

// AuthFunc builds an authenticator for a request.
type AuthFunc func(kwargs map[string]any) (http.Authenticator, error)

// SubstFunc computes a single value to bind into a context layer.
type SubstFunc func(kwargs map[string]any) (any, error)

// BindError reports a reference that does not resolve to a callable.
type BindError struct {
	Name   string
	Reason string
}

func (e *BindError) Error() string {
	return fmt.Sprintf("cannot bind function %q: %s", e.Name, e.Reason)
}

// Registry holds the callables the host exposes to scenarios.
type Registry struct {
	save   map[string]SaveFunc
	verify map[string]VerifyFunc
	auth   map[string]AuthFunc
	subst  map[string]SubstFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		save:   make(map[string]SaveFunc),
		verify: make(map[string]VerifyFunc),
		auth:   make(map[string]AuthFunc),
		subst:  make(map[string]SubstFunc),
	}
}

// RegisterSave registers a save function under name.
func (r *Registry) RegisterSave(name string, fn SaveFunc) {
	r.save[name] = fn
}

// RegisterVerify registers a verify function under name.
func (r *Registry) RegisterVerify(name string, fn VerifyFunc) {
	r.verify[name] = fn
}

// RegisterAuth registers an auth factory under name.
func (r *Registry) RegisterAuth(name string, fn AuthFunc) {
	r.auth[name] = fn
}

// RegisterSubst registers a substitution function under name.
func (r *Registry) RegisterSubst(name string, fn SubstFunc) {
	r.subst[name] = fn
}

// Save resolves and calls a save function.
func (r *Registry) Save(name string, resp *http.Response, kwargs map[string]any) (map[string]any, error) {
	key, err := resolve(name, keys(r.save))
	if err != nil {
		return nil, err
	}
	return r.save[key](resp, kwargs)
}

// Verify resolves and calls a verify function.
func (r *Registry) Verify(name string, resp *http.Response, kwargs map[string]any) (bool, error) {
	key, err := resolve(name, keys(r.verify))
	if err != nil {
		return false, err
	}
	return r.verify[key](resp, kwargs)
}

// Auth resolves and calls an auth factory.
func (r *Registry) Auth(name string, kwargs map[string]any) (http.Authenticator, error) {
	key, err := resolve(name, keys(r.auth))
	if err != nil {
		return nil, err
	}
	return r.auth[key](kwargs)
}

// Subst resolves and calls a substitution function.
func (r *Registry) Subst(name string, kwargs map[string]any) (any, error) {
	key, err := resolve(name, keys(r.subst))
	if err != nil {
		return nil, err
	}
	return r.subst[key](kwargs)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// resolve maps a reference to a registered key. Qualified names must match
// exactly. Bare names match an identical bare key, or exactly one
// registered "module:name"; more than one is ambiguous.
func resolve(name string, registered []string) (string, error) {
	if name == "" {
		return "", &BindError{Name: name, Reason: "empty function name"}
	}

	for _, key := range registered {
		if key == name {
			return key, nil
		}
	}

	if strings.Contains(name, ":") {
		return "", &BindError{Name: name, Reason: "not registered"}
	}

	var matches []string
	for _, key := range registered {
		if idx := strings.LastIndex(key, ":"); idx >= 0 && key[idx+1:] == name {
			matches = append(matches, key)
		}
	}
	switch len(matches) {
	case 0:
		return "", &BindError{Name: name, Reason: "not registered"}
	case 1:
		return matches[0], nil
	default:
		return "", &BindError{Name: name, Reason: fmt.Sprintf("ambiguous, matches %s", strings.Join(matches, ", "))}
	}
}
