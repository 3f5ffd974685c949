package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "atlas", cfg.Agent.Name)
	assert.Equal(t, []string{"*"}, cfg.Agent.Capabilities)
	assert.Equal(t, "queue", cfg.Pipeline.Overflow)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.DefaultTimeout())
	assert.Equal(t, time.Minute, cfg.RateLimit.Window())
	assert.Equal(t, 24*time.Hour, cfg.Retention.TTL())
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty agent name", func(c *Config) { c.Agent.Name = " " }, "agent name is required"},
		{"bad capability glob", func(c *Config) { c.Agent.Capabilities = []string{"math.["} }, "invalid capability pattern"},
		{"unknown overflow", func(c *Config) { c.Pipeline.Overflow = "drop" }, "invalid overflow policy"},
		{"negative concurrency", func(c *Config) { c.Pipeline.MaxConcurrent = -1 }, "pipeline.max_concurrent cannot be negative"},
		{"negative tool timeout", func(c *Config) {
			c.Pipeline.Tools["sleep"] = ToolConfig{TimeoutMs: -5}
		}, "pipeline.tools.sleep.timeout_ms"},
		{"unknown store driver", func(c *Config) { c.Store.Driver = "postgres" }, "invalid store driver"},
		{"unknown transport", func(c *Config) { c.Server.Transport = "grpc" }, "invalid transport"},
		{"http needs address", func(c *Config) {
			c.Server.Transport = "http"
			c.Server.Addr = "nowhere"
		}, "invalid server.addr"},
		{"bad schedule", func(c *Config) { c.Retention.Schedule = "every now and then" }, "invalid retention schedule"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad exporter", func(c *Config) { c.Telemetry.TraceExporter = "jaeger" }, "invalid trace exporter"},
		{"rate limit without window", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.WindowMs = 0
		}, "rate_limit.window_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.Overflow = "drop"
	cfg.Store.Driver = "postgres"

	errs := NewValidator().ValidateConfig(cfg)
	assert.Len(t, errs, 2)
}

func TestValidatorSchedule(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateSchedule("@every 10m"))
	assert.NoError(t, v.ValidateSchedule("*/5 * * * *"))
	assert.Error(t, v.ValidateSchedule("* *"))
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, `"default_timeout_ms": 30000`)
	assert.Contains(t, s, `"transport": "stdio"`)
}
