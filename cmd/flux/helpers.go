package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	flux "github.com/flux-chat/flux/sdk/golang"
)

const commandTimeout = 30 * time.Second

// newClient creates a Flux client for cfg.
func newClient(cfg *Config) *flux.Client {
	var opts []flux.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, flux.WithBaseURL(cfg.Default.BaseURL))
	}
	return flux.NewClient(cfg.Auth.Token, opts...)
}

// signedIn loads the effective config and fails when no identity is stored.
func signedIn() (*Config, *flux.Client, error) {
	cfg, err := effectiveConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.Identity == "" {
		return nil, nil, fmt.Errorf("not signed in; run 'flux login <login-id>' first")
	}
	return cfg, newClient(cfg), nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

// readSecret prompts on out and reads one line from in.
func readSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("no input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// maskToken shows the first 6 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return strings.Repeat("*", len(token))
	}
	return token[:6] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func presenceMark(p flux.Presence) string {
	if p == flux.PresenceOnline {
		return "●"
	}
	return "○"
}
