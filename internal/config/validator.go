package config

import (
	"fmt"
	"net"
	"path"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (must be one of: %s)", field, value, strings.Join(allowed, ", "))
}

// ValidateLogLevel validates a log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf("log level", level, "trace", "debug", "info", "warn", "error")
}

// ValidateOverflow validates the limiter overflow policy
func (v *Validator) ValidateOverflow(policy string) error {
	return oneOf("overflow policy", policy, "queue", "reject")
}

// ValidateStoreDriver validates the task store driver
func (v *Validator) ValidateStoreDriver(driver string) error {
	return oneOf("store driver", driver, "memory", "sqlite")
}

// ValidateTransport validates the MCP transport
func (v *Validator) ValidateTransport(transport string) error {
	return oneOf("transport", transport, "stdio", "http")
}

// ValidateTraceExporter validates the trace exporter
func (v *Validator) ValidateTraceExporter(exporter string) error {
	return oneOf("trace exporter", exporter, "none", "stdout")
}

// ValidateCapability validates a capability name or glob
func (v *Validator) ValidateCapability(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("capability cannot be empty")
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid capability pattern %q: %w", pattern, err)
	}
	return nil
}

// ValidateSchedule validates a cron spec, including descriptors like @every 10m
func (v *Validator) ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateAddr validates a host:port listen address
func (v *Validator) ValidateAddr(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, addr, err)
	}
	return nil
}

// ValidateNonNegative rejects negative limits
func (v *Validator) ValidateNonNegative(field string, value int) error {
	if value < 0 {
		return fmt.Errorf("%s cannot be negative (got %d)", field, value)
	}
	return nil
}

// ValidateConfig validates the entire configuration
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Agent.Name) == "" {
		add(fmt.Errorf("agent name is required"))
	}
	for _, capability := range cfg.Agent.Capabilities {
		add(v.ValidateCapability(capability))
	}

	add(v.ValidateNonNegative("pipeline.default_timeout_ms", cfg.Pipeline.DefaultTimeoutMs))
	add(v.ValidateNonNegative("pipeline.max_concurrent", cfg.Pipeline.MaxConcurrent))
	add(v.ValidateNonNegative("pipeline.queue_depth", cfg.Pipeline.QueueDepth))
	add(v.ValidateOverflow(cfg.Pipeline.Overflow))
	for name, tool := range cfg.Pipeline.Tools {
		add(v.ValidateNonNegative(fmt.Sprintf("pipeline.tools.%s.timeout_ms", name), tool.TimeoutMs))
		add(v.ValidateNonNegative(fmt.Sprintf("pipeline.tools.%s.max_concurrent", name), tool.MaxConcurrent))
	}

	if cfg.RateLimit.Enabled {
		add(v.ValidateNonNegative("rate_limit.max_requests", cfg.RateLimit.MaxRequests))
		add(v.ValidateNonNegative("rate_limit.max_in_flight", cfg.RateLimit.MaxInFlight))
		if cfg.RateLimit.MaxRequests > 0 && cfg.RateLimit.WindowMs <= 0 {
			add(fmt.Errorf("rate_limit.window_ms must be positive when max_requests is set"))
		}
	}

	add(v.ValidateStoreDriver(cfg.Store.Driver))

	if cfg.Retention.Schedule != "" {
		add(v.ValidateSchedule(cfg.Retention.Schedule))
	}
	add(v.ValidateNonNegative("retention.ttl_minutes", cfg.Retention.TTLMinutes))

	add(v.ValidateTransport(cfg.Server.Transport))
	if cfg.Server.Transport == "http" {
		add(v.ValidateAddr("server.addr", cfg.Server.Addr))
	}

	if cfg.Telemetry.MetricsAddr != "" {
		add(v.ValidateAddr("telemetry.metrics_addr", cfg.Telemetry.MetricsAddr))
	}
	add(v.ValidateTraceExporter(cfg.Telemetry.TraceExporter))

	add(v.ValidateLogLevel(cfg.Logging.Level))
	add(v.ValidateNonNegative("logging.max_size_mb", cfg.Logging.MaxSizeMB))
	add(v.ValidateNonNegative("logging.max_age_days", cfg.Logging.MaxAgeDays))

	return errs
}
