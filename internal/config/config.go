// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	MCP     MCPConfig     `mapstructure:"mcp" yaml:"mcp"`
	Cron    CronConfig    `mapstructure:"cron" yaml:"cron"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig configures the HTTP front door.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// BrowserConfig holds settings for the headless browser session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ScreenshotQuality int           `mapstructure:"screenshot_quality" yaml:"screenshot_quality"`
}

// LLMConfig defines the model provider boundary. The endpoint must speak the
// OpenAI chat-completions protocol (OpenRouter, vLLM, etc.).
type LLMConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxRetryFor time.Duration `mapstructure:"max_retry_for" yaml:"max_retry_for"`
}

// MCPServerConfig describes how to spawn one MCP tool server subprocess.
type MCPServerConfig struct {
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args"`
	Env     map[string]string `mapstructure:"env" yaml:"env"`
}

// MCPConfig holds the set of MCP servers to connect at startup.
type MCPConfig struct {
	Servers     map[string]MCPServerConfig `mapstructure:"servers" yaml:"servers"`
	CallTimeout time.Duration              `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// CronConfig configures the scheduled-job subsystem.
type CronConfig struct {
	StorePath    string        `mapstructure:"store_path" yaml:"store_path"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff" yaml:"error_backoff"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "rouh")
	v.SetDefault("logger.log_file", "rouh.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8008")
	v.SetDefault("server.request_timeout", "10m")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// -- Browser --
	v.SetDefault("browser.headless", true)
	// 3:2 aspect so the downsampled screenshot maps exactly onto the
	// model's 1200x800 coordinate space.
	v.SetDefault("browser.viewport_width", 1440)
	v.SetDefault("browser.viewport_height", 960)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.screenshot_quality", 80)

	// -- LLM --
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.max_retry_for", "2m")

	// -- MCP --
	v.SetDefault("mcp.call_timeout", "30s")

	// -- Cron --
	v.SetDefault("cron.store_path", "cron_jobs.json")
	v.SetDefault("cron.poll_interval", "1s")
	v.SetDefault("cron.error_backoff", "5s")
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Should not happen with defaults, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "ROUH_LLM_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the key if Unmarshal didn't pick it up.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("ROUH_LLM_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is a required configuration field")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.Browser.ScreenshotQuality < 1 || c.Browser.ScreenshotQuality > 100 {
		return fmt.Errorf("browser.screenshot_quality must be between 1 and 100")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is a required configuration field")
	}
	if c.Cron.StorePath == "" {
		return fmt.Errorf("cron.store_path is a required configuration field")
	}
	if c.Cron.PollInterval <= 0 {
		return fmt.Errorf("cron.poll_interval must be a positive duration")
	}
	for name, srv := range c.MCP.Servers {
		if srv.Command == "" {
			return fmt.Errorf("mcp.servers.%s.command is required", name)
		}
	}
	return nil
}
