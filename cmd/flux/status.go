package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the effective configuration and, when signed in, fetch live friend and request counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := effectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()

		client := newClient(cfg)
		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Base URL:   %s\n", client.BaseURL())
		fmt.Fprintf(out, "  Socket URL: %s\n", client.SocketURL())

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Auth:")
		if cfg.Auth.Identity == "" {
			fmt.Fprintln(out, "  Identity:   (not signed in)")
			return nil
		}
		fmt.Fprintf(out, "  Login ID:   %s\n", valueOrDefault(cfg.Auth.LoginID, "(unknown)"))
		fmt.Fprintf(out, "  Identity:   %s\n", cfg.Auth.Identity)
		if cfg.Auth.Token != "" {
			fmt.Fprintf(out, "  Token:      %s\n", maskToken(cfg.Auth.Token))
		} else {
			fmt.Fprintln(out, "  Token:      (none)")
		}

		ctx, cancel := commandContext()
		defer cancel()

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")
		friends, err := client.Friends(ctx, cfg.Auth.Identity)
		if err != nil {
			fmt.Fprintf(out, "  Error fetching friends: %v\n", err)
			return nil
		}
		requests, err := client.PendingRequests(ctx, cfg.Auth.Identity)
		if err != nil {
			fmt.Fprintf(out, "  Error fetching requests: %v\n", err)
			return nil
		}
		fmt.Fprintf(out, "  Friends:          %d\n", len(friends))
		fmt.Fprintf(out, "  Pending requests: %d\n", len(requests))
		return nil
	},
}
