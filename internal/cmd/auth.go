package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitewire/sitewire/internal/auth"
	"github.com/sitewire/sitewire/internal/config"
	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/output"
)

var (
	loginToken   string
	loginProfile auth.Profile
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a bearer credential for the session",
	Long: `Store the bearer token (and optional profile) returned by the
authentication endpoint. Subsequent requests carry it until a 401 clears it
or logout is run.

The token may also be given via SITEWIRE_TOKEN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token := strings.TrimSpace(loginToken)
		if token == "" {
			token = strings.TrimSpace(os.Getenv(config.EnvPrefix + "TOKEN"))
		}
		if token == "" {
			return errors.New("--token is required")
		}

		sess, err := openSession(cmd.Context(), currentConfig(), sessionOptions{})
		if err != nil {
			return err
		}
		defer sess.Close() // nolint:errcheck // best-effort cleanup

		var profile *auth.Profile
		if loginProfile != (auth.Profile{}) {
			p := loginProfile
			profile = &p
		}
		if err := sess.Login(cmd.Context(), token, profile); err != nil {
			return err
		}
		observability.CLILogger.Info("Credential stored")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd.Context(), currentConfig(), sessionOptions{})
		if err != nil {
			return err
		}
		defer sess.Close() // nolint:errcheck // best-effort cleanup

		if err := sess.Logout(cmd.Context()); err != nil {
			return err
		}
		observability.CLILogger.Info("Credential cleared")
		return nil
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Inspect the stored credential",
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored credential and token expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}

		sess, err := openSession(cmd.Context(), currentConfig(), sessionOptions{})
		if err != nil {
			return err
		}
		defer sess.Close() // nolint:errcheck // best-effort cleanup

		status, err := credentialStatus(cmd.Context(), sess.Credentials, time.Now())
		if err != nil {
			return err
		}
		rendered, err := output.Render(format, status)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func credentialStatus(ctx context.Context, creds *auth.Credentials, now time.Time) (output.AuthStatus, error) {
	cred, err := creds.Load(ctx)
	switch {
	case errors.Is(err, auth.ErrNoCredential):
		return output.AuthStatus{}, nil
	case err != nil:
		return output.AuthStatus{}, err
	}

	status := output.AuthStatus{Authenticated: true, Profile: cred.Profile}
	claims, err := creds.Claims(ctx)
	if err != nil {
		// Opaque tokens are valid credentials without readable claims.
		status.ClaimsError = "opaque token"
		return status, nil
	}
	status.Subject = claims.Subject
	status.Issuer = claims.Issuer
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		status.ExpiresAt = &exp
	}
	if status.Expired, err = creds.Expired(ctx, now); err != nil {
		return status, err
	}
	return status, nil
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, authCmd)
	authCmd.AddCommand(authStatusCmd)

	loginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token")
	loginCmd.Flags().StringVar(&loginProfile.ID, "id", "", "user id")
	loginCmd.Flags().StringVar(&loginProfile.Email, "email", "", "user email")
	loginCmd.Flags().StringVar(&loginProfile.Name, "name", "", "user display name")
	loginCmd.Flags().StringVar(&loginProfile.Role, "role", "", "user role")
}
