package apiclient

import (
	"errors"
	"fmt"
	"time"
)

// Category is a failure class of the request layer.
type Category string

const (
	CategoryUnsupported  Category = "unsupported_environment"
	CategoryTLS          Category = "tls"
	CategoryNetwork      Category = "network"
	CategoryUnauthorized Category = "unauthorized"
	CategoryForbidden    Category = "forbidden"
	CategoryRateLimited  Category = "rate_limited"
	CategoryNotFound     Category = "not_found"
	CategoryHTTP         Category = "http"
)

// Categories lists every category in classification order.
var Categories = []Category{
	CategoryUnsupported,
	CategoryTLS,
	CategoryNetwork,
	CategoryUnauthorized,
	CategoryForbidden,
	CategoryRateLimited,
	CategoryNotFound,
	CategoryHTTP,
}

// ErrUnsupportedEnvironment is wrapped by errors raised when the client is
// used without a browser context.
var ErrUnsupportedEnvironment = errors.New("request client requires a browser context")

// Error is the rejection every failed request resolves to.
type Error struct {
	Category   Category
	Method     string
	Path       string
	StatusCode int

	// Response is set when the server answered.
	Response *Response

	// RetryAfter is parsed from the response for rate-limited requests.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "request failed"
	}
	target := e.Method + " " + e.Path
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("%s failed: %s (status %d)", target, e.Category, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %s: %v", target, e.Category, e.Err)
	default:
		return fmt.Sprintf("%s failed: %s", target, e.Category)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CategoryOf returns the category of a request error, or "" when err did not
// come from the request layer.
func CategoryOf(err error) Category {
	var reqErr *Error
	if errors.As(err, &reqErr) && reqErr != nil {
		return reqErr.Category
	}
	return ""
}

// IsCategory reports whether err is a request error of category c.
func IsCategory(err error, c Category) bool {
	return err != nil && CategoryOf(err) == c
}

// Degraded reports whether the caller should render an empty state rather
// than an error: no usable response was received.
func Degraded(err error) bool {
	switch CategoryOf(err) {
	case CategoryUnsupported, CategoryTLS, CategoryNetwork:
		return true
	default:
		return false
	}
}
