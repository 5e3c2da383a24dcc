package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kiosk/internal/config"
	"kiosk/internal/events"
)

func authorizeCmd() *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Authorize the kiosk against the payment platform and wait for the result",
		Long: `Starts an OAuth authorization for the configured organization, opens the
authorization page and polls the backend until the session is authorized,
rejected or the poll timeout expires.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if noBrowser {
				cfg.Auth.OpenBrowser = false
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runAuthorize(cmd, cfg)
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the authorization URL instead of opening it")
	return cmd
}

func runAuthorize(cmd *cobra.Command, cfg *config.Config) error {
	logger := newLogger(cfg.Log, os.Stderr)
	ctx := contextOrBackground(cmd.Context())
	out := cmd.OutOrStdout()

	k, err := wireKiosk(ctx, cfg, logger, wireOptions{
		userAgent: userAgentFor(cfg, logger, out),
	})
	if err != nil {
		return err
	}
	defer k.Close()

	unsubscribe := events.On(k.bus, func(e events.AuthorizationChanged) {
		fmt.Fprintf(out, "authorization: %s\n", e.Status)
	})
	defer unsubscribe()

	if _, err := k.auth.Begin(ctx); err != nil {
		return fmt.Errorf("begin authorization: %w", err)
	}
	if err := k.auth.PollForAuthorization(); err != nil {
		return fmt.Errorf("poll authorization: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Auth.PollTimeout+cfg.Auth.PollInterval)
	defer cancel()
	if err := k.auth.WaitPolling(waitCtx); err != nil {
		return fmt.Errorf("wait for authorization: %w", err)
	}

	session := k.auth.Session()
	if !session.Authorized() {
		return fmt.Errorf("authorization %s: %s", session.Status, session.LastError)
	}
	fmt.Fprintf(out, "kiosk authorized for organization %s\n", session.OrganizationID)
	return nil
}
