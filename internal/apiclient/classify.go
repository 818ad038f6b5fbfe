package apiclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/metrics"
	"github.com/sitewire/sitewire/internal/observability"
)

// UnauthorizedHandler recovers from a rejected credential.
type UnauthorizedHandler interface {
	HandleUnauthorized(ctx context.Context) error
}

// Classify maps a failed exchange to its category. statusCode is 0 when no
// response was received; transportErr is nil when one was.
func Classify(statusCode int, transportErr error) Category {
	if errors.Is(transportErr, ErrUnsupportedEnvironment) {
		return CategoryUnsupported
	}
	if transportErr != nil {
		if isTLSError(transportErr) {
			return CategoryTLS
		}
		return CategoryNetwork
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return CategoryUnauthorized
	case http.StatusForbidden:
		return CategoryForbidden
	case http.StatusTooManyRequests:
		return CategoryRateLimited
	case http.StatusNotFound:
		return CategoryNotFound
	default:
		return CategoryHTTP
	}
}

// Classifier applies the side effect of each category. It never swallows
// an error: Handle always returns the error it was given.
type Classifier struct {
	Logger       observability.Logger
	Unauthorized UnauthorizedHandler

	// DevMode enables network diagnostics.
	DevMode bool

	// BaseURL is quoted in network diagnostics.
	BaseURL string
}

// Handle performs the category's side effect and returns e.
func (c *Classifier) Handle(ctx context.Context, e *Error) *Error {
	if e == nil {
		return nil
	}
	if e.Category == "" {
		e.Category = Classify(e.StatusCode, e.Err)
	}
	metrics.RecordRequestError(string(e.Category))

	if c == nil {
		return e
	}
	logger := c.logger()

	switch e.Category {
	case CategoryUnsupported:
		logger.Debug("Request rejected outside browser context",
			zap.String("method", e.Method),
			zap.String("path", e.Path))

	case CategoryTLS:
		logger.Error("TLS certificate error",
			zap.String("method", e.Method),
			zap.String("path", e.Path),
			zap.String("base_url", c.BaseURL),
			zap.Error(e.Err))

	case CategoryNetwork:
		if c.DevMode {
			logger.Warn("API unreachable",
				zap.String("endpoint", c.BaseURL+e.Path),
				zap.String("method", e.Method),
				zap.String("suggestion", "check that the API server is running and reachable at "+c.BaseURL),
				zap.Error(e.Err))
		}

	case CategoryUnauthorized:
		if c.Unauthorized != nil {
			if err := c.Unauthorized.HandleUnauthorized(ctx); err != nil {
				logger.Warn("Failed to reset credential after 401",
					zap.String("path", e.Path),
					zap.Error(err))
			}
		}

	case CategoryRateLimited:
		logger.Warn("Rate limited by API",
			zap.String("method", e.Method),
			zap.String("path", e.Path),
			zap.Duration("retry_after", e.RetryAfter))

	case CategoryNotFound:
		logger.Warn("API endpoint not found",
			zap.String("method", e.Method),
			zap.String("path", e.Path))

	case CategoryForbidden, CategoryHTTP:
		// Left to the caller.
	}

	return e
}

func (c *Classifier) logger() observability.Logger {
	if c.Logger == nil {
		return observability.Nop()
	}
	return c.Logger
}

func isTLSError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalid          x509.CertificateInvalidError
		verification     *tls.CertificateVerificationError
		recordHeader     tls.RecordHeaderError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid) ||
		errors.As(err, &verification) ||
		errors.As(err, &recordHeader)
}
