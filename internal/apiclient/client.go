// Package apiclient is the single choke point for calls to the site API:
// it paces requests per signature, attaches credentials, and classifies
// every failure before rejecting to the caller.
package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/auth"
	"github.com/sitewire/sitewire/internal/metrics"
	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/platform"
	"github.com/sitewire/sitewire/internal/throttle"
)

// DefaultTimeout bounds a whole request, including the response body.
const DefaultTimeout = 30 * time.Second

// SessionIDHeader carries the page session id used for view de-duplication.
const SessionIDHeader = "X-Session-Id"

// Config configures the shared transport.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string

	// HTTPClient overrides the underlying transport.
	HTTPClient *http.Client
}

// Deps are the collaborators owned by the composition root.
type Deps struct {
	Platform    platform.Platform
	Ledger      *throttle.Ledger
	Interceptor *auth.Interceptor
	Classifier  *Classifier
	Logger      observability.Logger
}

// Client issues API requests. One instance is shared by every caller.
type Client struct {
	http        *resty.Client
	baseURL     string
	platform    platform.Platform
	ledger      *throttle.Ledger
	interceptor *auth.Interceptor
	classifier  *Classifier
	logger      observability.Logger
}

// RequestDescriptor describes one call.
type RequestDescriptor struct {
	Method    string
	Path      string
	Body      any
	Header    http.Header
	Signature string
}

// Option adjusts a RequestDescriptor.
type Option func(*RequestDescriptor)

// WithHeader sets a caller-supplied header.
func WithHeader(key, value string) Option {
	return func(d *RequestDescriptor) {
		d.Header.Set(key, value)
	}
}

// WithSessionID sets the session id header used for view tracking.
func WithSessionID(id string) Option {
	return WithHeader(SessionIDHeader, id)
}

// NewDescriptor builds the descriptor and its throttle signature.
func NewDescriptor(method, path string, body any, opts ...Option) RequestDescriptor {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	path = strings.TrimSpace(path)
	if path == "" || (!strings.HasPrefix(path, "/") && !strings.Contains(path, "://")) {
		path = "/" + path
	}

	d := RequestDescriptor{
		Method: method,
		Path:   path,
		Body:   body,
		Header: make(http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&d)
		}
	}
	d.Signature = throttle.Signature(d.Method, d.Path)
	return d
}

// New builds the client around one resty transport with the resolved base URL.
func New(cfg Config, deps Deps) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	var transport *resty.Client
	if cfg.HTTPClient != nil {
		transport = resty.NewWithClient(cfg.HTTPClient)
	} else {
		transport = resty.New()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	transport.
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{logger: logger})
	if cfg.UserAgent != "" {
		transport.SetHeader("User-Agent", cfg.UserAgent)
	}

	c := &Client{
		http:        transport,
		baseURL:     baseURL,
		platform:    deps.Platform,
		ledger:      deps.Ledger,
		interceptor: deps.Interceptor,
		classifier:  deps.Classifier,
		logger:      logger,
	}

	transport.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return c.interceptor.Attach(req.Context(), req.Header)
	})

	return c
}

// BaseURL returns the base URL resolved at construction.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...Option) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...Option) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, body, opts...)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...Option) (*Response, error) {
	return c.Request(ctx, http.MethodPut, path, body, opts...)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any, opts ...Option) (*Response, error) {
	return c.Request(ctx, http.MethodPatch, path, body, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...Option) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, nil, opts...)
}

// Request dispatches one call. Any failure is returned as *Error after its
// category's side effect ran; a non-nil Response is only returned on 2xx.
func (c *Client) Request(ctx context.Context, method, path string, body any, opts ...Option) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	desc := NewDescriptor(method, path, body, opts...)
	return c.Do(ctx, desc)
}

// Do dispatches a prepared descriptor.
func (c *Client) Do(ctx context.Context, desc RequestDescriptor) (*Response, error) {
	if c.platform == nil || !c.platform.Browser() {
		return nil, c.fail(ctx, &Error{
			Category: CategoryUnsupported,
			Method:   desc.Method,
			Path:     desc.Path,
			Err:      ErrUnsupportedEnvironment,
		})
	}

	ticket, err := c.ledger.Acquire(ctx, desc.Signature)
	if err != nil {
		return nil, c.fail(ctx, &Error{
			Category: CategoryNetwork,
			Method:   desc.Method,
			Path:     desc.Path,
			Err:      fmt.Errorf("throttle wait: %w", err),
		})
	}
	metrics.RecordThrottleWait(ticket.Waited)

	req := c.http.R().SetContext(ctx)
	for key, values := range desc.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if desc.Body != nil {
		req.SetBody(desc.Body)
	}

	start := time.Now()
	resp, err := req.Execute(desc.Method, desc.Path)
	elapsed := time.Since(start)

	if err != nil {
		c.ledger.Release(ticket, true)
		metrics.RecordRequest(desc.Method, 0, elapsed)
		return nil, c.fail(ctx, &Error{
			Category: Classify(0, err),
			Method:   desc.Method,
			Path:     desc.Path,
			Err:      err,
		})
	}

	out := &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
		Duration:   elapsed,
		Dispatch:   ticket,
	}
	metrics.RecordRequest(desc.Method, out.StatusCode, elapsed)

	if out.StatusCode < 200 || out.StatusCode > 299 {
		c.ledger.Release(ticket, true)
		reqErr := &Error{
			Category:   Classify(out.StatusCode, nil),
			Method:     desc.Method,
			Path:       desc.Path,
			StatusCode: out.StatusCode,
			Response:   out,
		}
		if reqErr.Category == CategoryRateLimited {
			reqErr.RetryAfter = retryAfter(out.Header)
		}
		return nil, c.fail(ctx, reqErr)
	}

	c.ledger.Release(ticket, false)
	return out, nil
}

func (c *Client) fail(ctx context.Context, e *Error) error {
	return c.classifier.Handle(ctx, e)
}

// restyLogger routes transport diagnostics into the structured logger.
type restyLogger struct {
	logger observability.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error("transport", zap.String("detail", strings.TrimSpace(fmt.Sprintf(format, v...))))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn("transport", zap.String("detail", strings.TrimSpace(fmt.Sprintf(format, v...))))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug("transport", zap.String("detail", strings.TrimSpace(fmt.Sprintf(format, v...))))
}
