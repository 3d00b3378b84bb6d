package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	flux "github.com/flux-chat/flux/sdk/golang"
	"github.com/spf13/cobra"
)

var jsonOutput bool

func init() {
	for _, c := range []*cobra.Command{friendsCmd, requestsCmd, searchCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
	}
	rootCmd.AddCommand(friendsCmd, requestsCmd, searchCmd, requestCmd, acceptCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ============================================================================
// flux friends
// ============================================================================

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "List your friends",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		friends, err := client.Friends(ctx, cfg.Auth.Identity)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), friends)
		}
		if len(friends) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No friends yet. Use 'flux search' and 'flux request' to add some.")
			return nil
		}
		sort.Slice(friends, func(i, j int) bool { return friends[i].DisplayName < friends[j].DisplayName })
		for _, f := range friends {
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-16s %s\n", f.DisplayName, f.LoginID, f.Identity)
		}
		return nil
	},
}

// ============================================================================
// flux requests
// ============================================================================

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List incoming friend requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		reqs, err := client.PendingRequests(ctx, cfg.Auth.Identity)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), reqs)
		}
		if len(reqs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending requests.")
			return nil
		}
		for _, r := range reqs {
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-16s %s\n", r.DisplayName, r.LoginID, r.SenderIdentity)
		}
		return nil
	},
}

// ============================================================================
// flux search / request / accept
// ============================================================================

var searchCmd = &cobra.Command{
	Use:   "search <identity>",
	Short: "Look up a user by identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		user, err := client.Search(ctx, args[0])
		if flux.IsNotFound(err) {
			fmt.Fprintln(cmd.OutOrStdout(), "User not found (check the identity).")
			return nil
		}
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), user)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) %s\n", user.DisplayName, user.LoginID, user.Identity)
		return nil
	},
}

var requestCmd = &cobra.Command{
	Use:   "request <identity>",
	Short: "Send a friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		user, err := client.Search(ctx, args[0])
		if err != nil {
			return fmt.Errorf("lookup failed: %w", err)
		}
		friends, err := client.Friends(ctx, cfg.Auth.Identity)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		for _, f := range friends {
			if f.Identity == user.Identity {
				return fmt.Errorf("%s: %w", user.DisplayName, flux.ErrAlreadyFriend)
			}
		}

		msg, err := client.SendRequest(ctx, cfg.Auth.Identity, user.Identity)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), valueOrDefault(msg, "Friend request sent to "+user.DisplayName))
		return nil
	},
}

var acceptCmd = &cobra.Command{
	Use:   "accept <sender-identity>",
	Short: "Accept a pending friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		if err := client.Accept(ctx, cfg.Auth.Identity, args[0]); err != nil {
			return fmt.Errorf("accept failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Accepted friend request from %s\n", args[0])
		return nil
	},
}
