package cmd

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/config"
	errwrap "github.com/sitewire/sitewire/internal/errors"
	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/server"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a headless site session over HTTP",
	Long: `Serve one headless site session over HTTP. The session's throttle ledger,
credential, consent decision and analytics sinks are shared by every
request, so the harness behaves like a single open browser tab.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (log level and request delay are logged; restart to apply)

Set SITEWIRE_ADMIN_TOKEN to expose /admin/signal for remote shutdown and reload.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := currentConfig()
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serverHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, cfg.EffectiveMode(), config.AppName)
		log := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = server.DefaultMetricsPort
		}
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, metricsPort); err != nil {
				log.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
			metricsPort = observability.GetMetricsPort()
		}

		sess, err := openSession(cmd.Context(), cfg, sessionOptions{})
		if err != nil {
			return err
		}
		if err := sess.Start(cmd.Context()); err != nil {
			_ = sess.Close()
			return err
		}

		srv, err := server.New(cfg.Server, sess.Site, versionInfo.Version,
			server.WithAdminToken(strings.TrimSpace(os.Getenv(config.EnvPrefix+"ADMIN_TOKEN"))))
		if err != nil {
			_ = sess.Close()
			return err
		}

		log.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("mode", cfg.EffectiveMode()),
			zap.String("base_url", config.ResolveBaseURL(cfg)),
			zap.String("addr", srv.Addr()),
			zap.Int("metrics_port", metricsPort),
			zap.String("session_id", sess.SessionID))

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// LIFO: the HTTP server stops first, then the session, then the logger.
		signals.OnShutdown(func(ctx context.Context) error {
			log.Info("Flushing logger...")
			if err := log.Sync(); err != nil {
				log.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			log.Info("Closing session...")
			if err := sess.Close(); err != nil {
				return errwrap.WrapStorage(ctx, err, "session close failed")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			log.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			log.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			log.Info("Received SIGHUP: attempting config reload")

			reloaded, err := config.Load(ctx, config.LoadOptions{
				ConfigFile: cfgFile,
				EnvFiles:   envFiles,
				Overrides:  []map[string]any{flagOverrides()},
			})
			if err != nil {
				log.Error("Failed to reload config", zap.Error(err))
				return errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "config reload failed")
			}

			// The running session keeps its ledger and client; only report drift.
			log.Info("Configuration reloaded",
				zap.String("log_level", reloaded.Logging.Level),
				zap.Duration("request_delay", reloaded.API.RequestDelay),
				zap.Bool("restart_required", reloaded.API.RequestDelay != cfg.API.RequestDelay ||
					config.ResolveBaseURL(reloaded) != config.ResolveBaseURL(cfg)))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			log.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			log.Info("Starting HTTP server...", zap.String("addr", srv.Addr()))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				log.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port (overrides server.port)")
}
