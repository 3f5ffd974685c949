package middleware

import (
	"context"

	"github.com/harun/atlas/internal/tracing"
	"github.com/harun/atlas/pkg/metadata"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "atlas.middleware"

// Tracing wraps each call in an OpenTelemetry span.
type Tracing struct{}

func NewTracing() *Tracing { return &Tracing{} }

func (Tracing) Handle(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"tool.call",
		attribute.String("tool.name", call.Tool),
		attribute.String("task.id", call.TaskID),
		attribute.Int("tool.params", call.Params.Len()),
	)
	defer span.End()

	result, err := next(ctx, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}
