package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"time"
)

const (
	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRedirects is the maximum number of redirects to follow.
	DefaultMaxRedirects = 10
	// DefaultMaxIdleConns is the connection pool size.
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the per-host pool size.
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay pooled.
	DefaultIdleConnTimeout = 90 * time.Second
)

// TLSOptions carries the scenario-level SSL policy.
type TLSOptions struct {
	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool
	// CAFile, when set, names a CA bundle to verify against.
	CAFile string
	// CertFile and KeyFile hold a client certificate. KeyFile may be
	// empty when CertFile is a combined PEM.
	CertFile string
	KeyFile  string
}

// Client sends materialized requests. The underlying transport and its
// connection pool are shared across all stages of a scenario and are safe
// for concurrent use by parallel workers.
type Client struct {
	transport    *nethttp.Transport
	maxRedirects int
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig) error

type clientConfig struct {
	tlsOpts      TLSOptions
	maxRedirects int
	proxy        string
}

// WithTLS applies the scenario SSL policy.
func WithTLS(opts TLSOptions) ClientOption {
	return func(c *clientConfig) error {
		c.tlsOpts = opts
		return nil
	}
}

// WithMaxRedirects overrides the redirect limit.
func WithMaxRedirects(n int) ClientOption {
	return func(c *clientConfig) error {
		c.maxRedirects = n
		return nil
	}
}

// NewClient creates a client with a pooled transport.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{maxRedirects: DefaultMaxRedirects}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	transport := &nethttp.Transport{
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
	}

	tlsConfig, err := buildTLSConfig(cfg.tlsOpts)
	if err != nil {
		return nil, err
	}
	transport.TLSClientConfig = tlsConfig

	return &Client{transport: transport, maxRedirects: cfg.maxRedirects}, nil
}

func buildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{}
	configured := false

	if opts.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
		configured = true
	}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s contains no certificates", opts.CAFile)
		}
		cfg.RootCAs = pool
		configured = true
	}
	if opts.CertFile != "" {
		keyFile := opts.KeyFile
		if keyFile == "" {
			keyFile = opts.CertFile
		}
		cert, err := tls.LoadX509KeyPair(opts.CertFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
		configured = true
	}

	if !configured {
		return nil, nil
	}
	return cfg, nil
}

// Do sends a request and reads the full response body. The configured
// timeout covers send plus receive; exceeding it yields a TimeoutError,
// any other failure a TransportError. Cancellation of ctx propagates to
// the in-flight call.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Auth != nil {
		if err := req.Auth.Apply(httpReq); err != nil {
			return nil, &TransportError{URL: req.URL, Err: fmt.Errorf("applying auth: %w", err)}
		}
	}

	client := &nethttp.Client{
		Transport: c.transport,
		CheckRedirect: func(r *nethttp.Request, via []*nethttp.Request) error {
			if !req.AllowRedirects {
				return nethttp.ErrUseLastResponse
			}
			if len(via) >= c.maxRedirects {
				return nethttp.ErrUseLastResponse
			}
			return nil
		},
	}

	start := time.Now()
	httpResp, err := client.Do(httpReq)
	if err != nil {
		if isTimeout(err, ctx) {
			return nil, &TimeoutError{URL: req.URL, Timeout: timeout}
		}
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	duration := time.Since(start)
	if err != nil {
		if isTimeout(err, ctx) {
			return nil, &TimeoutError{URL: req.URL, Timeout: timeout}
		}
		return nil, &TransportError{URL: req.URL, Err: err}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       respBody,
		Duration:   duration,
	}, nil
}

func isTimeout(err error, ctx context.Context) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if ctx.Err() == context.DeadlineExceeded {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// CloseIdleConnections drains the pool, for hosts that want a clean
// shutdown at scenario end.
func (c *Client) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}
