package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/config"
	"github.com/sitewire/sitewire/internal/observability"
)

var (
	cfgFile      string
	envFiles     []string
	verbose      bool
	modeFlag     string
	apiURLFlag   string
	outputFormat string

	// appConfig is loaded once per invocation by initConfig.
	appConfig *config.Config

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Drive the site network and telemetry layer from the command line",
	Long: `sitewire runs the client-side network and telemetry layer of the site in a
headless session: throttled API requests with bearer credentials, cookie
consent, and consent-gated analytics.

Use the subcommands to perform specific operations.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep gofulmen internals from emitting metrics to stdout until serve
	// installs the Prometheus exporter.
	observability.DisableGlobalTelemetry()

	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", config.AppName))
	flags.StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment (default .env)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	flags.StringVar(&modeFlag, "mode", "", "build mode override: development or production")
	flags.StringVar(&apiURLFlag, "api-url", "", "API base URL override")
	flags.StringVarP(&outputFormat, "output-format", "o", "table", "output format: table, json, markdown")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)

	cfg, err := config.Load(rootCmd.Context(), config.LoadOptions{
		ConfigFile: cfgFile,
		EnvFiles:   envFiles,
		Overrides:  []map[string]any{flagOverrides()},
	})
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
	}
	appConfig = cfg

	if verbose {
		observability.CLILogger.Debug("Configuration loaded",
			zap.String("mode", cfg.EffectiveMode()),
			zap.String("base_url", config.ResolveBaseURL(cfg)),
			zap.String("session_storage", cfg.Session.Storage))
	}
}

func flagOverrides() map[string]any {
	overrides := map[string]any{}
	if mode := strings.TrimSpace(modeFlag); mode != "" {
		overrides["mode"] = mode
	}
	if url := strings.TrimSpace(apiURLFlag); url != "" {
		overrides["api"] = map[string]any{"base_url": url}
	}
	if verbose {
		overrides["debug"] = map[string]any{"enabled": true}
	}
	return overrides
}

func currentConfig() *config.Config {
	if appConfig != nil {
		return appConfig
	}
	if cfg := config.GetConfig(); cfg != nil {
		return cfg
	}
	fmt.Fprintln(os.Stderr, "configuration not loaded")
	os.Exit(int(foundry.ExitConfigInvalid))
	return nil
}
