package cmd

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sitewire/sitewire/internal/config"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := configYAML(currentConfig())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config and store file locations",
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config: %s\n", path)
		fmt.Fprintf(cmd.OutOrStdout(), "store:  %s\n", config.DefaultStorePath())
	},
}

// configYAML renders cfg under its mapstructure keys with secrets masked.
func configYAML(cfg *config.Config) ([]byte, error) {
	settings := map[string]any{}
	if err := mapstructure.Decode(cfg, &settings); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	normalizeSettings(settings)
	if store, ok := settings["store"].(map[string]any); ok {
		if token, _ := store["auth_token"].(string); token != "" {
			store["auth_token"] = redacted
		}
	}
	return yaml.Marshal(settings)
}

func normalizeSettings(m map[string]any) {
	for key, value := range m {
		switch v := value.(type) {
		case time.Duration:
			m[key] = v.String()
		case map[string]any:
			normalizeSettings(v)
		}
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configPathCmd)
}
