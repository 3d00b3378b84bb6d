package main

import (
	"fmt"
	"io"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change CLI settings",
	Long:  "Settings live in ~/.flux/config.toml. FLUX_BASE_URL, FLUX_TOKEN and FLUX_IDENTITY override them for a single run.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the settings in effect, with the token masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := effectiveConfig()
		if err != nil {
			return err
		}
		return renderConfig(cmd.OutOrStdout(), cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the location of the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:     "set <key> <value>",
	Short:   "Store a single setting",
	Example: "  flux config set default.base_url http://localhost:5000\n  flux config set auth.identity u1",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		// Only the file is edited; environment overrides stay out of it.
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}

		shown := value
		if key == "auth.token" {
			shown = maskToken(value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, shown)
		return nil
	},
}

// renderConfig writes cfg as TOML. The token is masked; cfg is not modified.
func renderConfig(w io.Writer, cfg *Config) error {
	out := *cfg
	out.Auth.Token = maskToken(cfg.Auth.Token)
	data, err := toml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("cannot render config: %w", err)
	}
	_, err = w.Write(data)
	return err
}
