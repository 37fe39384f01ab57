package main

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/oauth"
)

const connectTimeout = 60 * time.Second

func newServersCommand() *cobra.Command {
	serversCmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect and connect configured servers",
	}

	serversCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(false, func(a *app) error {
				return runServersList(cmd.Context(), a)
			})
		},
	})

	serversCmd.AddCommand(&cobra.Command{
		Use:   "connect <id>",
		Short: "Connect a server and print what it reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(a *app) error {
				return runServersConnect(cmd.Context(), a, args[0])
			})
		},
	})

	serversCmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Disconnect a server and delete its record and credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(a *app) error {
				return runServersRemove(cmd.Context(), a, args[0])
			})
		},
	})

	return serversCmd
}

// withApp wires the app, runs fn and tears everything down
func withApp(serverCommand bool, fn func(a *app) error) error {
	a, err := newApp(serverCommand)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if err := fn(a); err != nil {
		return outputError(err)
	}
	return nil
}

func runServersList(ctx context.Context, a *app) error {
	servers, err := a.store.ListServers(ctx)
	if err != nil {
		return err
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })

	now := time.Now()
	headers := []string{"ID", "NAME", "KIND", "ENABLED", "CREDENTIAL"}
	rows := make([][]string, 0, len(servers))
	for _, server := range servers {
		rows = append(rows, []string{
			server.ID,
			server.DisplayName(),
			server.Kind,
			strconv.FormatBool(server.Enabled),
			credentialStatus(ctx, a, server, now),
		})
	}
	return printTable(headers, rows)
}

func credentialStatus(ctx context.Context, a *app, server *config.ServerConfig, now time.Time) string {
	if server.Kind != config.KindStreamableHTTP {
		return "-"
	}
	cred, err := a.manager.RetrieveCredential(ctx, server.ID)
	switch {
	case errors.Is(err, oauth.ErrNoCredential):
		return "none"
	case err != nil:
		return "unreadable"
	case cred.IsExpired(now):
		return "expired"
	default:
		return "valid"
	}
}

func runServersConnect(ctx context.Context, a *app, id string) error {
	server, err := a.server(ctx, id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := a.manager.Client(ctx, server)
	if err != nil {
		return err
	}

	info := client.ConnectionInfo()
	record := map[string]string{
		"id":             id,
		"kind":           client.Kind(),
		"state":          stateLabel(info.State.String()),
		"server_name":    info.ServerName,
		"server_version": info.ServerVersion,
	}
	if result := client.ServerInfo(); result != nil {
		record["protocol_version"] = result.ProtocolVersion
	}
	return printRecord(record)
}

func runServersRemove(ctx context.Context, a *app, id string) error {
	if _, err := a.server(ctx, id); err != nil {
		return err
	}
	if err := a.manager.RemoveServer(ctx, id); err != nil {
		return err
	}
	return printRecord(map[string]string{"id": id, "removed": "true"})
}
