package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Config represents the main Atlas configuration
type Config struct {
	// Agent identity and capabilities
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Pipeline timeouts and concurrency
	Pipeline PipelineConfig `json:"pipeline" mapstructure:"pipeline"`

	// Rate limiting middleware
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`

	// Task persistence
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Retention of terminal tasks
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`

	// MCP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Metrics, tracing and audit
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AgentConfig describes the agent built at startup
type AgentConfig struct {
	Name         string                 `json:"name" mapstructure:"name"`
	Description  string                 `json:"description" mapstructure:"description"`
	Capabilities []string               `json:"capabilities" mapstructure:"capabilities"` // exact names or globs
	Settings     map[string]interface{} `json:"settings" mapstructure:"settings"`
}

// PipelineConfig holds execution pipeline settings
type PipelineConfig struct {
	DefaultTimeoutMs int                   `json:"default_timeout_ms" mapstructure:"default_timeout_ms"`
	MaxConcurrent    int                   `json:"max_concurrent" mapstructure:"max_concurrent"` // per tool, 0 = unlimited
	QueueDepth       int                   `json:"queue_depth" mapstructure:"queue_depth"`
	Overflow         string                `json:"overflow" mapstructure:"overflow"` // queue, reject
	Tools            map[string]ToolConfig `json:"tools" mapstructure:"tools"`
}

// ToolConfig overrides pipeline settings for one tool
type ToolConfig struct {
	TimeoutMs     int `json:"timeout_ms" mapstructure:"timeout_ms"`
	MaxConcurrent int `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// DefaultTimeout returns the pipeline default timeout as a duration
func (p PipelineConfig) DefaultTimeout() time.Duration {
	return time.Duration(p.DefaultTimeoutMs) * time.Millisecond
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled     bool `json:"enabled" mapstructure:"enabled"`
	MaxRequests int  `json:"max_requests" mapstructure:"max_requests"`
	WindowMs    int  `json:"window_ms" mapstructure:"window_ms"`
	MaxInFlight int  `json:"max_in_flight" mapstructure:"max_in_flight"`
}

// Window returns the sliding window as a duration
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// StoreConfig selects the task persistence backend
type StoreConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // memory, sqlite
	Path   string `json:"path" mapstructure:"path"`
}

// RetentionConfig holds the retention sweep settings
type RetentionConfig struct {
	Schedule   string `json:"schedule" mapstructure:"schedule"` // cron spec
	TTLMinutes int    `json:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// TTL returns how long terminal tasks are kept
func (r RetentionConfig) TTL() time.Duration {
	return time.Duration(r.TTLMinutes) * time.Minute
}

// ServerConfig holds MCP server settings
type ServerConfig struct {
	Transport string `json:"transport" mapstructure:"transport"` // stdio, http
	Addr      string `json:"addr" mapstructure:"addr"`
}

// TelemetryConfig holds metrics and tracing settings
type TelemetryConfig struct {
	MetricsAddr   string `json:"metrics_addr" mapstructure:"metrics_addr"` // empty disables the endpoint
	Tracing       bool   `json:"tracing" mapstructure:"tracing"`
	TraceExporter string `json:"trace_exporter" mapstructure:"trace_exporter"` // none, stdout
	AuditLog      string `json:"audit_log" mapstructure:"audit_log"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Console    bool   `json:"console" mapstructure:"console"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:         "atlas",
			Description:  "Tool execution agent",
			Capabilities: []string{"*"},
			Settings:     map[string]interface{}{},
		},
		Pipeline: PipelineConfig{
			DefaultTimeoutMs: 30000,
			MaxConcurrent:    8,
			QueueDepth:       64,
			Overflow:         "queue",
			Tools:            map[string]ToolConfig{},
		},
		RateLimit: RateLimitConfig{
			Enabled:     false,
			MaxRequests: 600,
			WindowMs:    60000,
			MaxInFlight: 32,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Retention: RetentionConfig{
			Schedule:   "@every 10m",
			TTLMinutes: 24 * 60,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Addr:      "127.0.0.1:8765",
		},
		Telemetry: TelemetryConfig{
			Tracing:       false,
			TraceExporter: "none",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			Pretty:     true,
			Redaction:  true,
			MaxSizeMB:  100,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return string(data)
}

// Validate checks if the configuration is valid. All problems are reported at once.
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
