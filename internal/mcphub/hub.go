// File: internal/mcphub/hub.go

// Package mcphub maintains the registry of MCP server connections, forwards
// tool calls under a fixed timeout, and renders the capability catalog that
// gets embedded into every system prompt.
package mcphub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/miraiminds/rouh/internal/config"
	"go.uber.org/zap"
)

// NotFoundError reports a tool call addressed to a server the hub never
// connected.
type NotFoundError struct {
	ServerName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no connection found for server: %s", e.ServerName)
}

// ToolInfo is one catalog entry for a server tool.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ResourceInfo is one catalog entry for a server resource.
type ResourceInfo struct {
	URI         string
	Name        string
	Description string
}

// session is the slice of the MCP client the hub needs after connect.
type session interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

type connection struct {
	name      string
	command   string
	args      []string
	tools     []ToolInfo
	resources []ResourceInfo
	session   session
}

// Hub owns every MCP connection for the process lifetime. Construct it once
// at startup and pass it by reference; connections are stdio subprocesses
// and die with Close.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewHub builds an empty registry. CallTimeout bounds every forwarded tool
// call.
func NewHub(cfg config.MCPConfig, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*connection),
		callTimeout: cfg.CallTimeout,
		logger:      logger.Named("mcphub"),
	}
}

// ConnectAll connects every configured server, logging and skipping the
// ones that fail. A dead tool server degrades the catalog, it does not stop
// the host.
func (h *Hub) ConnectAll(ctx context.Context, servers map[string]config.MCPServerConfig) {
	for name, sc := range servers {
		if err := h.Connect(ctx, name, sc); err != nil {
			h.logger.Error("Failed to connect MCP server", zap.String("server", name), zap.Error(err))
		}
	}
}

// Connect spawns the server subprocess, performs the initialize handshake,
// and fetches the tool and resource catalog. Reconnecting an existing name
// replaces the old connection.
func (h *Hub) Connect(ctx context.Context, name string, sc config.MCPServerConfig) error {
	env := make([]string, 0, len(sc.Env))
	for k, v := range sc.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(sc.Command, env, sc.Args...)
	if err != nil {
		return fmt.Errorf("spawning MCP server %q: %w", name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "rouh", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initializing MCP server %q: %w", name, err)
	}

	conn := &connection{
		name:    name,
		command: sc.Command,
		args:    sc.Args,
		session: c,
	}

	// Catalog fetches are best-effort, like the connection itself: a server
	// with no listable tools is still usable by name.
	if res, err := c.ListTools(ctx, mcp.ListToolsRequest{}); err == nil {
		for _, tool := range res.Tools {
			schema, _ := json.Marshal(tool.InputSchema)
			conn.tools = append(conn.tools, ToolInfo{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: schema,
			})
		}
	}
	if res, err := c.ListResources(ctx, mcp.ListResourcesRequest{}); err == nil {
		for _, r := range res.Resources {
			conn.resources = append(conn.resources, ResourceInfo{
				URI:         r.URI,
				Name:        r.Name,
				Description: r.Description,
			})
		}
	}

	h.mu.Lock()
	if old, ok := h.connections[name]; ok {
		old.session.Close()
	}
	h.connections[name] = conn
	h.mu.Unlock()

	h.logger.Info("Connected MCP server",
		zap.String("server", name),
		zap.Int("tools", len(conn.tools)),
		zap.Int("resources", len(conn.resources)))
	return nil
}

// CallTool forwards one tool call to the named server under the hub's
// timeout. A timeout comes back as a plain error indistinguishable in shape
// from a tool-reported failure; callers fold both into the same failed
// observation.
func (h *Hub) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, error) {
	h.mu.RLock()
	conn, ok := h.connections[serverName]
	h.mu.RUnlock()
	if !ok {
		return "", &NotFoundError{ServerName: serverName}
	}

	callCtx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	result, err := conn.session.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("tool call to %s on %s timed out after %s", toolName, serverName, h.callTimeout)
		}
		return "", fmt.Errorf("calling tool %s on %s: %w", toolName, serverName, err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool %s on %s reported an error: %s", toolName, serverName, text)
	}
	return text, nil
}

// flattenContent joins the textual parts of a tool result. Non-text parts
// are summarized by type so nothing silently disappears.
func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%T content]", c))
		}
	}
	return strings.Join(parts, "\n")
}

// ServerNames returns the connected server names, sorted.
func (h *Hub) ServerNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.connections))
	for name := range h.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FormatServerInfo renders the markdown catalog of connected servers, their
// tools with input schemas, and their resources. The agent embeds this into
// every system prompt so the model knows what it can call.
func (h *Hub) FormatServerInfo() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.connections) == 0 {
		return "(No MCP servers currently connected)"
	}

	names := make([]string, 0, len(h.connections))
	for name := range h.connections {
		names = append(names, name)
	}
	sort.Strings(names)

	var sections []string
	for _, name := range names {
		conn := h.connections[name]

		commandStr := conn.command
		if len(conn.args) > 0 {
			commandStr += " " + strings.Join(conn.args, " ")
		}
		lines := []string{fmt.Sprintf("## %s (`%s`)", conn.name, commandStr)}

		if len(conn.tools) > 0 {
			lines = append(lines, "### Available Tools")
			for _, tool := range conn.tools {
				toolStr := fmt.Sprintf("- %s: %s", tool.Name, tool.Description)
				if len(tool.InputSchema) > 0 && string(tool.InputSchema) != "null" {
					var buf bytes.Buffer
					if err := json.Indent(&buf, tool.InputSchema, "    ", "  "); err == nil {
						toolStr += "\n    Input Schema:\n    " + buf.String()
					}
				}
				lines = append(lines, toolStr)
			}
		}

		if len(conn.resources) > 0 {
			lines = append(lines, "\n### Direct Resources")
			for _, r := range conn.resources {
				resStr := fmt.Sprintf("- %s (%s)", r.URI, r.Name)
				if r.Description != "" {
					resStr += ": " + r.Description
				}
				lines = append(lines, resStr)
			}
		}

		sections = append(sections, strings.Join(lines, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

// Close terminates every server subprocess. Safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, conn := range h.connections {
		if err := conn.session.Close(); err != nil {
			h.logger.Warn("Error closing MCP connection", zap.String("server", name), zap.Error(err))
		}
	}
	h.connections = make(map[string]*connection)
}
