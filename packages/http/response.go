package http

import (
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"strings"
	"time"
)

// Response is the received side of a stage's HTTP call.
type Response struct {
	StatusCode int
	Status     string
	Headers    nethttp.Header
	Body       []byte
	Duration   time.Duration

	jsonValue any
	jsonErr   error
	jsonDone  bool
}

// Text returns the body decoded as text.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON parses the body on first use and memoizes the result. Numbers
// decode as float64, the representation the JMESPath engine operates on.
func (r *Response) JSON() (any, error) {
	if !r.jsonDone {
		r.jsonDone = true
		if len(r.Body) == 0 {
			r.jsonErr = fmt.Errorf("response body is empty")
		} else {
			var v any
			if err := json.Unmarshal(r.Body, &v); err != nil {
				r.jsonErr = fmt.Errorf("response body is not valid JSON: %w", err)
			} else {
				r.jsonValue = v
			}
		}
	}
	return r.jsonValue, r.jsonErr
}

// Header returns a header value by case-insensitive name.
func (r *Response) Header(name string) string {
	return r.Headers.Get(name)
}

// ContentType returns the Content-Type header.
func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

// IsJSON reports whether the response declares a JSON content type.
func (r *Response) IsJSON() bool {
	return strings.Contains(r.ContentType(), "application/json")
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DurationMs returns the elapsed request time in milliseconds.
func (r *Response) DurationMs() int64 {
	return r.Duration.Milliseconds()
}
