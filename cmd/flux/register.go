package main

import (
	"fmt"

	flux "github.com/flux-chat/flux/sdk/golang"
	"github.com/spf13/cobra"
)

var (
	registerDisplayName string
	registerPassword    string
	loginPassword       string
)

func init() {
	registerCmd.Flags().StringVar(&registerDisplayName, "display-name", "", "Display name (defaults to the login id)")
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "Password (prompted when omitted)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prompted when omitted)")
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register <login-id>",
	Short: "Create a Flux account",
	Long:  "Create a new Flux account. Run 'flux login' afterwards to sign in.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loginID := args[0]

		cfg, err := effectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		password := registerPassword
		if password == "" {
			if password, err = readSecret(cmd.InOrStdin(), cmd.OutOrStdout(), "Password: "); err != nil {
				return err
			}
		}
		displayName := valueOrDefault(registerDisplayName, loginID)

		ctx, cancel := commandContext()
		defer cancel()

		result, err := newClient(cfg).Register(ctx, &flux.RegisterOptions{
			LoginID:     loginID,
			Password:    password,
			DisplayName: displayName,
		})
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Registration successful!")
		fmt.Fprintf(cmd.OutOrStdout(), "  Identity:     %s\n", result.Identity)
		fmt.Fprintf(cmd.OutOrStdout(), "  Login ID:     %s\n", loginID)
		fmt.Fprintf(cmd.OutOrStdout(), "  Display name: %s\n", displayName)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <login-id>",
	Short: "Sign in and store the session in ~/.flux/config.toml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loginID := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		runtime, err := effectiveConfig()
		if err != nil {
			return err
		}

		password := loginPassword
		if password == "" {
			if password, err = readSecret(cmd.InOrStdin(), cmd.OutOrStdout(), "Password: "); err != nil {
				return err
			}
		}

		ctx, cancel := commandContext()
		defer cancel()

		result, err := newClient(runtime).Login(ctx, loginID, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth.Token = result.Token
		cfg.Auth.Identity = result.Identity
		cfg.Auth.LoginID = loginID
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", loginID, result.Identity)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}
