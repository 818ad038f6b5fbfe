package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/config"
	"github.com/sitewire/sitewire/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()
		log := observability.CLILogger

		log.Info("=== Sitewire Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + config.AppName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info("")

		cfg := currentConfig()
		log.Info("Configuration:")
		log.Info("  Mode:           "+cfg.EffectiveMode(), zap.String("mode", cfg.EffectiveMode()))
		log.Info("  API Base URL:   "+config.ResolveBaseURL(cfg), zap.String("base_url", config.ResolveBaseURL(cfg)))
		log.Info("  Request Delay:  "+cfg.API.RequestDelay.String(), zap.Duration("request_delay", cfg.API.RequestDelay))
		log.Info("  Session Store:  "+cfg.Session.Storage, zap.String("session_storage", cfg.Session.Storage))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  DB URL:         "+cfg.Store.URL, zap.String("db_url", cfg.Store.URL))
		} else {
			log.Info("  DB Path:        "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		log.Info(fmt.Sprintf("  Server:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		log.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		log.Info("")

		log.Info("Analytics:")
		log.Info(fmt.Sprintf("  Enabled:        %t", cfg.Analytics.Enabled), zap.Bool("analytics_enabled", cfg.Analytics.Enabled))
		log.Info("  Measurement ID: "+orUnset(cfg.Analytics.MeasurementID))
		log.Info("  Pixel ID:       "+orUnset(cfg.Analytics.PixelID))
		log.Info("  Page View Delay: "+cfg.Analytics.PageViewDelay.String())
	},
}

func orUnset(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(unset)"
	}
	return value
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
