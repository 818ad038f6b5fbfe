package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/sitewire/sitewire/internal/errors"
	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/server/handlers"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the configuration is valid and the session store is reachable.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		log.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		log.Debug("Version check passed", zap.String("version", versionInfo.Version))
		log.Info("✅ Version information available")

		cfg := currentConfig()
		if err := cfg.Validate(); err != nil {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		log.Info("✅ Configuration valid")

		storage, release, err := openStorage(cmd.Context(), cfg)
		if err != nil {
			ExitWithCode(log, foundry.ExitFileNotFound, "Session store unavailable", err)
			return
		}
		defer release() // nolint:errcheck // best-effort cleanup

		checker := handlers.StorageChecker{Storage: storage}
		if err := checker.CheckHealth(cmd.Context()); err != nil {
			ExitWithCode(log, foundry.ExitFailure, "Session store probe failed", err)
			return
		}
		log.Info("✅ Session store reachable", zap.String("storage", cfg.Session.Storage))

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
