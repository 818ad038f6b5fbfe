package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/platform"
	"github.com/sitewire/sitewire/internal/routes"
)

// Interceptor attaches the bearer credential to outgoing requests and
// handles authorization failures.
type Interceptor struct {
	Credentials *Credentials
	Platform    platform.Platform
	Logger      observability.Logger
}

// Attach sets the Authorization header when a token is stored.
func (i *Interceptor) Attach(ctx context.Context, header http.Header) error {
	if i == nil || header == nil {
		return nil
	}
	token, err := i.Credentials.Token(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// HandleUnauthorized clears the stored credential and profile, then sends
// the visitor to the back-office login when the current route is under the
// back office, otherwise to the landing route. The redirect happens once
// and only in a browser context.
func (i *Interceptor) HandleUnauthorized(ctx context.Context) error {
	if i == nil {
		return nil
	}

	var errs []error
	if err := i.Credentials.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear credential: %w", err))
	}

	if i.Platform == nil || !i.Platform.Browser() {
		return errors.Join(errs...)
	}

	nav := i.Platform.Navigator()
	current := nav.CurrentPath()
	target := routes.RedirectTarget(current)

	i.logger().Info("Credential rejected, redirecting",
		zap.String("from", current),
		zap.String("to", target))

	if err := nav.Navigate(ctx, target); err != nil {
		errs = append(errs, fmt.Errorf("redirect to %s: %w", target, err))
	}
	return errors.Join(errs...)
}

func (i *Interceptor) logger() observability.Logger {
	if i.Logger == nil {
		return observability.Nop()
	}
	return i.Logger
}
