package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/analytics"
	"github.com/sitewire/sitewire/internal/consent"
	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/output"
	"github.com/sitewire/sitewire/internal/platform"
)

// pageViewSettle is added to the configured page view delay before the
// run is reported.
const pageViewSettle = 50 * time.Millisecond

var (
	analyticsPath     string
	analyticsNavigate []string
	analyticsConsent  string
	analyticsEvents   []string
	analyticsFail     []string
	analyticsNoBrowse bool
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Exercise the consent-gated analytics sinks",
}

var analyticsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Load a page in a headless session and report what the sinks did",
	Long: `Load a page in a headless session, optionally record a consent decision,
navigate and send custom events, then report the scripts injected, the
calls made on the sink globals and the page views emitted.

Examples:
  sitewire analytics run --consent all
  sitewire analytics run --consent all --navigate /pricing --navigate /contact
  sitewire analytics run --consent all --fail-script ad-pixel
  sitewire analytics run --consent essential --event signup`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}

		var state consent.State
		if analyticsConsent != "" {
			if state, err = consent.ParseState(analyticsConsent); err != nil {
				return err
			}
		}

		cfg := currentConfig()
		ctx := cmd.Context()
		sess, err := openSession(ctx, cfg, sessionOptions{
			path:     analyticsPath,
			headless: headlessOptions(analyticsFail, analyticsNoBrowse),
		})
		if err != nil {
			return err
		}
		defer sess.Close() // nolint:errcheck // best-effort cleanup

		run, err := runAnalytics(ctx, sess, state, analyticsNavigate, analyticsEvents, cfg.Analytics.PageViewDelay)
		if err != nil {
			return err
		}

		rendered, err := output.Render(format, run)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

// headlessOptions makes the listed script ids fail to load.
func headlessOptions(failing []string, noBrowser bool) []platform.HeadlessOption {
	var opts []platform.HeadlessOption
	if noBrowser {
		opts = append(opts, platform.WithoutBrowser())
	}
	if len(failing) == 0 {
		return opts
	}
	fail := make(map[string]bool, len(failing))
	for _, id := range failing {
		fail[id] = true
	}
	return append(opts, platform.WithLoadResult(func(script platform.Script) error {
		if fail[script.ID] {
			return fmt.Errorf("load %s: blocked", script.Src)
		}
		return nil
	}))
}

func runAnalytics(ctx context.Context, sess *session, state consent.State, navigate, events []string, delay time.Duration) (output.AnalyticsRun, error) {
	logger := observability.Current()

	if err := sess.Start(ctx); err != nil {
		return output.AnalyticsRun{}, err
	}
	if state != "" {
		if _, err := sess.SetConsent(ctx, state); err != nil {
			return output.AnalyticsRun{}, err
		}
	}
	for _, path := range navigate {
		if err := sess.Navigate(ctx, path); err != nil {
			return output.AnalyticsRun{}, err
		}
	}
	if err := sess.Analytics.WaitReady(ctx); err != nil {
		return output.AnalyticsRun{}, err
	}
	for _, name := range events {
		if err := sess.TrackEvent(ctx, name, nil); err != nil {
			logger.Warn("Event dispatch failed", zap.String("event", name), zap.Error(err))
		}
	}

	if delay <= 0 {
		delay = analytics.DefaultPageViewDelay
	}
	timer := time.NewTimer(delay + pageViewSettle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return output.AnalyticsRun{}, ctx.Err()
	}

	decision, err := sess.Consent.Current(ctx)
	if err != nil {
		return output.AnalyticsRun{}, err
	}
	return output.AnalyticsRun{
		Path:      sess.Host.CurrentPath(),
		Consent:   decision.State,
		Sinks:     sess.Analytics.Status(),
		Scripts:   sess.Host.Injected(),
		Calls:     sess.Host.Calls(),
		PageViews: sess.PageViews.Emitted(),
	}, nil
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show the stored session state",
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

		snapshot, err := sess.Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		rendered, err := output.Render(format, output.Session{Session: snapshot})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyticsCmd, sessionCmd)
	analyticsCmd.AddCommand(analyticsRunCmd)

	flags := analyticsRunCmd.Flags()
	flags.StringVar(&analyticsPath, "path", "", "route the page loads on (default session.initial_path)")
	flags.StringArrayVar(&analyticsNavigate, "navigate", nil, "route to navigate to after load (repeatable)")
	flags.StringVar(&analyticsConsent, "consent", "", "consent decision to record: all, essential, declined")
	flags.StringArrayVar(&analyticsEvents, "event", nil, "custom event to send (repeatable)")
	flags.StringArrayVar(&analyticsFail, "fail-script", nil, "script id whose load fails (repeatable)")
	flags.BoolVar(&analyticsNoBrowse, "no-browser", false, "run without a browser environment")
}
