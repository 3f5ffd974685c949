package middleware

import (
	"context"
	"time"

	"github.com/harun/atlas/internal/tracing"
	"github.com/harun/atlas/pkg/metadata"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logging writes one structured record per call with tool name, duration and outcome.
// It also tags the context with a call id so tool and pipeline logs can be correlated.
type Logging struct {
	logger *zerolog.Logger
}

// NewLogging logs to logger; a nil logger means the global zerolog logger.
func NewLogging(logger *zerolog.Logger) *Logging {
	return &Logging{logger: logger}
}

func (l *Logging) Handle(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error) {
	base := log.Logger
	if l.logger != nil {
		base = *l.logger
	}

	if tracing.GetCallID(ctx) == "" {
		if id, err := gonanoid.New(); err == nil {
			ctx = tracing.WithCallID(ctx, id)
		}
	}
	ctx = tracing.WithTool(ctx, call.Tool)
	logger := tracing.LoggerFromContext(ctx, base)

	logger.Debug().
		Object("params", call.Params).
		Msg("Tool call started")

	start := time.Now()
	result, err := next(ctx, call)
	duration := time.Since(start)

	if err != nil {
		logger.Warn().
			Dur("duration", duration).
			Err(err).
			Msg("Tool call failed")
		return nil, err
	}

	logger.Info().
		Dur("duration", duration).
		Int("result_keys", result.Len()).
		Msg("Tool call completed")
	return result, nil
}
