// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "127.0.0.1:8008", cfg.Server.ListenAddr)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1440, cfg.Browser.ViewportWidth)
	assert.Equal(t, 960, cfg.Browser.ViewportHeight)
	assert.Equal(t, 80, cfg.Browser.ScreenshotQuality)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.MCP.CallTimeout)
	assert.Equal(t, time.Second, cfg.Cron.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Cron.ErrorBackoff)
	assert.Equal(t, "cron_jobs.json", cfg.Cron.StorePath)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("valid defaults pass", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing listen addr", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Server.ListenAddr = ""
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "server.listen_addr")
	})

	t.Run("bad viewport", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Browser.ViewportHeight = 0
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "viewport")
	})

	t.Run("screenshot quality out of range", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Browser.ScreenshotQuality = 101
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "screenshot_quality")
	})

	t.Run("mcp server without command", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.MCP.Servers = map[string]MCPServerConfig{
			"search": {Args: []string{"serve"}},
		}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "mcp.servers.search.command")
	})

	t.Run("non positive poll interval", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Cron.PollInterval = 0
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "cron.poll_interval")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("successful load from yaml", func(t *testing.T) {
		yamlBytes := []byte(`
server:
  listen_addr: "0.0.0.0:9000"
browser:
  viewport_width: 1280
  viewport_height: 720
mcp:
  servers:
    search:
      command: "npx"
      args: ["-y", "tavily-mcp"]
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		err := v.ReadConfig(bytes.NewBuffer(yamlBytes))
		require.NoError(t, err)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0:9000", cfg.Server.ListenAddr)
		assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
		require.Contains(t, cfg.MCP.Servers, "search")
		assert.Equal(t, "npx", cfg.MCP.Servers["search"].Command)
		assert.Equal(t, []string{"-y", "tavily-mcp"}, cfg.MCP.Servers["search"].Args)
		// Defaults still apply where the YAML is silent.
		assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	})

	t.Run("validation failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("cron.store_path", "")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("api key from environment", func(t *testing.T) {
		t.Setenv("ROUH_LLM_API_KEY", "sk-or-test-123")

		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "sk-or-test-123", cfg.LLM.APIKey)
	})
}
