package middleware

import (
	"context"
	"time"

	"github.com/harun/atlas/internal/observability"
	"github.com/harun/atlas/pkg/metadata"
)

// Metrics records per-tool execution counters and latency in Prometheus.
type Metrics struct{}

func NewMetrics() *Metrics {
	observability.EnsureRegistered()
	return &Metrics{}
}

func (Metrics) Handle(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error) {
	start := time.Now()
	result, err := next(ctx, call)
	observability.RecordToolExecution(call.Tool, time.Since(start), err == nil)
	return result, err
}
