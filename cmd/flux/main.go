package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.flux/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds general SDK settings.
type ConfigDefault struct {
	BaseURL string `toml:"base_url"`
}

// ConfigAuth holds the signed-in account.
type ConfigAuth struct {
	Token    string `toml:"token"`
	Identity string `toml:"identity"`
	LoginID  string `toml:"login_id"`
}

// envOverrides are read from FLUX_* variables and take precedence over the file.
type envOverrides struct {
	BaseURL  string `envconfig:"BASE_URL"`
	Token    string `envconfig:"TOKEN"`
	Identity string `envconfig:"IDENTITY"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"warn"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.flux, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".flux")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// readEnv processes the FLUX_* environment.
func readEnv() (envOverrides, error) {
	var env envOverrides
	if err := envconfig.Process("flux", &env); err != nil {
		return env, fmt.Errorf("invalid environment: %w", err)
	}
	return env, nil
}

// applyEnv overlays non-empty environment values onto cfg.
func applyEnv(cfg *Config, env envOverrides) {
	if env.BaseURL != "" {
		cfg.Default.BaseURL = env.BaseURL
	}
	if env.Token != "" {
		cfg.Auth.Token = env.Token
	}
	if env.Identity != "" {
		cfg.Auth.Identity = env.Identity
	}
}

// effectiveConfig is the file config with environment overrides applied.
// It is never written back.
func effectiveConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	env, err := readEnv()
	if err != nil {
		return nil, err
	}
	applyEnv(cfg, env)
	return cfg, nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "identity":
			cfg.Auth.Identity = value
		case "login_id":
			cfg.Auth.LoginID = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth)", section)
	}
	return nil
}

// ============================================================================
// Logging
// ============================================================================

var logLevelFlag string

// setupLogging points the global zerolog logger at stderr. The flag wins over
// FLUX_LOG_LEVEL.
func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().Timestamp().Logger()
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "flux",
	Short: "Flux chat CLI",
	Long:  "Command-line interface for Flux chat.\nManage your account and friends, and chat in the terminal.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logLevelFlag
		if level == "" {
			env, err := readEnv()
			if err != nil {
				return err
			}
			level = env.LogLevel
		}
		return setupLogging(level)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (default from FLUX_LOG_LEVEL, else warn)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
