package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/activitysync/internal/auth"
	"example.com/activitysync/internal/config"
)

var (
	tokenSubject string
	tokenRole    string
	tokenScopes  []string
	tokenTTL     time.Duration
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the peer API",
		Long: `Mint an HS256 token signed with JWT_SECRET.

Examples:
  syncpeer token --scopes run:control,activities:read,activities:write
  syncpeer token --subject wrist-1 --role wrist --scopes peer:sync`,
		RunE: runToken,
	}
	cmd.Flags().StringVar(&tokenSubject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&tokenRole, "role", "operator", "role claim")
	cmd.Flags().StringSliceVar(&tokenScopes, "scopes", []string{auth.ScopeRunControl, auth.ScopeActivitiesRead}, "granted scopes")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	token, err := auth.Mint(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, tokenSubject, tokenRole, tokenScopes, tokenTTL)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
