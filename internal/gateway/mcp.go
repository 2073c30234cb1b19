package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/flemzord/strmsync/internal/metrics"
	"github.com/flemzord/strmsync/internal/security"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type mcpRemoteKey struct{}

// mcpHandler exposes directory listing, job control and logs as MCP tools
// over streamable HTTP.
func (g *Gateway) mcpHandler() http.Handler {
	s := server.NewMCPServer("strmsync", "1.0.0", server.WithToolCapabilities(false))

	keyArg := mcp.WithString("key", mcp.Required(), mcp.Description("Sync directory key"))

	s.AddTool(mcp.NewTool("list_libs",
		mcp.WithDescription("List the sync directories with their run state"),
	), g.toolListLibs)
	s.AddTool(mcp.NewTool("start_sync",
		mcp.WithDescription("Start a sync run of a directory"), keyArg,
	), g.toolStartSync)
	s.AddTool(mcp.NewTool("stop_sync",
		mcp.WithDescription("Stop the running sync of a directory"), keyArg,
	), g.toolStopSync)
	s.AddTool(mcp.NewTool("read_log",
		mcp.WithDescription("Read the log of the last run of a directory"), keyArg,
	), g.toolReadLog)

	return server.NewStreamableHTTPServer(s,
		server.WithStateLess(true),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			ctx = context.WithValue(ctx, ctxKey{}, userFrom(r.Context()))
			return context.WithValue(ctx, mcpRemoteKey{}, clientIP(r))
		}),
	)
}

func (g *Gateway) toolListLibs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dirs, err := g.store.ListDirectories(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	type lib struct {
		Key      string `json:"key"`
		Name     string `json:"name"`
		Path     string `json:"path"`
		SyncType string `json:"sync_type"`
		Status   string `json:"status"`
		PID      int    `json:"pid"`
	}
	out := make([]lib, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, lib{
			Key:      d.Key,
			Name:     d.Name,
			Path:     d.Path,
			SyncType: string(d.SyncType),
			Status:   d.Extra.Status.String(),
			PID:      d.Extra.PID,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (g *Gateway) toolStartSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := g.jobs.Start(metrics.WithTrigger(ctx, metrics.TriggerMCP), key); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	g.auditMCP(ctx, security.EventJobStart, key)
	return mcp.NewToolResultText("job started for " + key), nil
}

func (g *Gateway) toolStopSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := g.jobs.Stop(ctx, key); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	g.auditMCP(ctx, security.EventJobStop, key)
	return mcp.NewToolResultText("job stopped for " + key), nil
}

func (g *Gateway) toolReadLog(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := g.jobs.ReadLog(key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (g *Gateway) auditMCP(ctx context.Context, t security.EventType, key string) {
	remote, _ := ctx.Value(mcpRemoteKey{}).(string)
	g.audit.Log(security.AuditEvent{
		Type:       t,
		User:       userFrom(ctx),
		RemoteAddr: remote,
		Key:        key,
		Detail:     "mcp",
	})
}
