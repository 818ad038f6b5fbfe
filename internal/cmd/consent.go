package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sitewire/sitewire/internal/consent"
	"github.com/sitewire/sitewire/internal/output"
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Show or change the cookie consent decision",
}

var consentShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsent(cmd, func(sess *session) (consent.Decision, error) {
			return sess.Consent.Current(cmd.Context())
		})
	},
}

var consentSetCmd = &cobra.Command{
	Use:       "set <all|essential|declined>",
	Short:     "Record a decision",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(consent.All), string(consent.Essential), string(consent.Declined)},
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := consent.ParseState(args[0])
		if err != nil {
			return err
		}
		return withConsent(cmd, func(sess *session) (consent.Decision, error) {
			return sess.SetConsent(cmd.Context(), state)
		})
	},
}

var consentResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the decision so the banner is shown again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsent(cmd, func(sess *session) (consent.Decision, error) {
			if err := sess.ResetConsent(cmd.Context()); err != nil {
				return consent.Decision{}, err
			}
			return sess.Consent.Current(cmd.Context())
		})
	},
}

func withConsent(cmd *cobra.Command, fn func(*session) (consent.Decision, error)) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	sess, err := openSession(cmd.Context(), currentConfig(), sessionOptions{})
	if err != nil {
		return err
	}
	defer sess.Close() // nolint:errcheck // best-effort cleanup

	decision, err := fn(sess)
	if err != nil {
		return err
	}
	rendered, err := output.Render(format, output.Consent{Decision: decision})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return nil
}

func init() {
	rootCmd.AddCommand(consentCmd)
	consentCmd.AddCommand(consentShowCmd, consentSetCmd, consentResetCmd)
}
