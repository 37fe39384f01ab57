package main

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/mcpctx/internal/cli/output"
	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/oauth"
)

func newAuthCommand() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored OAuth credentials",
	}

	authCmd.AddCommand(&cobra.Command{
		Use:   "refresh <id>",
		Short: "Exchange the stored refresh token for a new access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(a *app) error {
				return runAuthRefresh(cmd.Context(), a, args[0])
			})
		},
	})

	return authCmd
}

func runAuthRefresh(ctx context.Context, a *app, id string) error {
	server, err := a.server(ctx, id)
	if err != nil {
		return err
	}
	if server.Kind != config.KindStreamableHTTP {
		return output.OperationFailed("server %s does not use OAuth (kind %s)", id, server.Kind).ForServer(id)
	}

	stored, err := a.manager.RetrieveCredential(ctx, id)
	if errors.Is(err, oauth.ErrNoCredential) {
		return output.AuthRequired(id, "no stored credential for "+id).
			WithGuidance("Authorize the server before refreshing")
	}
	if err != nil {
		return err
	}

	cred, err := a.manager.RefreshCredential(ctx, server, stored)
	if err != nil {
		return err
	}

	expires := "never"
	if !cred.ExpiresAt.IsZero() {
		expires = cred.ExpiresAt.Format(time.RFC3339)
	}
	return printRecord(map[string]string{
		"id":         id,
		"client_id":  stored.ClientID,
		"expires_at": expires,
	})
}
