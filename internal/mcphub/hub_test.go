// File: internal/mcphub/hub_test.go
package mcphub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/miraiminds/rouh/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSession struct {
	result   *mcp.CallToolResult
	err      error
	block    bool
	lastName string
	lastArgs any
	closed   bool
}

func (f *fakeSession) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.lastName = req.Params.Name
	f.lastArgs = req.Params.Arguments
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func newTestHub(timeout time.Duration) *Hub {
	return NewHub(config.MCPConfig{CallTimeout: timeout}, zap.NewNop())
}

func (h *Hub) addTestConnection(conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn.name] = conn
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func TestCallTool(t *testing.T) {
	t.Run("unknown server", func(t *testing.T) {
		hub := newTestHub(time.Second)
		_, err := hub.CallTool(context.Background(), "search", "web_search", nil)

		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "search", nf.ServerName)
		assert.Contains(t, err.Error(), "no connection found for server: search")
	})

	t.Run("successful call flattens text content", func(t *testing.T) {
		sess := &fakeSession{result: textResult("42 degrees")}
		hub := newTestHub(time.Second)
		hub.addTestConnection(&connection{name: "weather", session: sess})

		args := map[string]any{"city": "Berlin"}
		out, err := hub.CallTool(context.Background(), "weather", "current", args)
		require.NoError(t, err)
		assert.Equal(t, "42 degrees", out)
		assert.Equal(t, "current", sess.lastName)
		assert.Equal(t, args, sess.lastArgs)
	})

	t.Run("tool-reported error becomes an error", func(t *testing.T) {
		res := textResult("city not found")
		res.IsError = true
		hub := newTestHub(time.Second)
		hub.addTestConnection(&connection{name: "weather", session: &fakeSession{result: res}})

		_, err := hub.CallTool(context.Background(), "weather", "current", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "city not found")
	})

	t.Run("transport error is wrapped", func(t *testing.T) {
		hub := newTestHub(time.Second)
		hub.addTestConnection(&connection{name: "w", session: &fakeSession{err: errors.New("pipe closed")}})

		_, err := hub.CallTool(context.Background(), "w", "t", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pipe closed")
	})

	t.Run("hung tool self-terminates at the timeout", func(t *testing.T) {
		hub := newTestHub(20 * time.Millisecond)
		hub.addTestConnection(&connection{name: "slow", session: &fakeSession{block: true}})

		start := time.Now()
		_, err := hub.CallTool(context.Background(), "slow", "t", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestFormatServerInfo(t *testing.T) {
	t.Run("no servers", func(t *testing.T) {
		hub := newTestHub(time.Second)
		assert.Equal(t, "(No MCP servers currently connected)", hub.FormatServerInfo())
	})

	t.Run("full catalog", func(t *testing.T) {
		schema, err := json.Marshal(map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		})
		require.NoError(t, err)

		hub := newTestHub(time.Second)
		hub.addTestConnection(&connection{
			name:    "search",
			command: "npx",
			args:    []string{"-y", "tavily-mcp"},
			tools: []ToolInfo{
				{Name: "web_search", Description: "Search the web", InputSchema: schema},
			},
			resources: []ResourceInfo{
				{URI: "search://recent", Name: "recent", Description: "Recent queries"},
			},
			session: &fakeSession{},
		})

		info := hub.FormatServerInfo()
		assert.Contains(t, info, "## search (`npx -y tavily-mcp`)")
		assert.Contains(t, info, "### Available Tools")
		assert.Contains(t, info, "- web_search: Search the web")
		assert.Contains(t, info, "Input Schema:")
		assert.Contains(t, info, `"query"`)
		assert.Contains(t, info, "### Direct Resources")
		assert.Contains(t, info, "- search://recent (recent): Recent queries")
	})

	t.Run("servers render in sorted order", func(t *testing.T) {
		hub := newTestHub(time.Second)
		hub.addTestConnection(&connection{name: "zeta", command: "z", session: &fakeSession{}})
		hub.addTestConnection(&connection{name: "alpha", command: "a", session: &fakeSession{}})

		info := hub.FormatServerInfo()
		assert.Less(t, indexOf(info, "## alpha"), indexOf(info, "## zeta"))
	})
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestClose(t *testing.T) {
	sess := &fakeSession{}
	hub := newTestHub(time.Second)
	hub.addTestConnection(&connection{name: "s", session: sess})

	hub.Close()
	assert.True(t, sess.closed)
	assert.Empty(t, hub.ServerNames())

	// Idempotent.
	hub.Close()
}
