package http

import (
	"fmt"
	neturl "net/url"
	"time"
)

// Request is a fully materialized HTTP request, ready to send. The builder
// has already substituted templates, encoded the body and merged headers.
type Request struct {
	Method         string
	URL            string
	Headers        map[string]string
	Body           []byte
	Timeout        time.Duration
	AllowRedirects bool
	Auth           Authenticator
}

// ValidateURL checks that a URL is well-formed, uses http or https and
// names a host.
func ValidateURL(rawURL string) error {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s (only http and https are allowed)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
