package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/atlas/internal/observability"
	"github.com/harun/atlas/internal/tracing"
	"github.com/harun/atlas/pkg/metadata"
	"github.com/harun/atlas/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "atlas.toolexecutor"

// Options configures a Pipeline.
type Options struct {
	// DefaultTimeout applies when Execute is called with a zero timeout. Zero means no deadline.
	DefaultTimeout time.Duration
	// ToolTimeouts overrides DefaultTimeout per tool.
	ToolTimeouts map[string]time.Duration
	Limits       LimiterConfig
	// Logger is used by the pipeline and its limiter. It defaults to the global logger.
	Logger *zerolog.Logger
}

// Pipeline executes tool calls: resolve, acquire a slot, run the middleware chain and the tool
// under a deadline.
type Pipeline struct {
	registry *Registry
	chain    *middleware.Chain
	limiter  *Limiter
	logger   zerolog.Logger
	opts     Options
}

func NewPipeline(registry *Registry, chain *middleware.Chain, opts Options) *Pipeline {
	if chain == nil {
		chain = middleware.NewChain()
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	limits := opts.Limits
	if limits.Logger == nil {
		limits.Logger = &logger
	}
	return &Pipeline{
		registry: registry,
		chain:    chain,
		limiter:  NewLimiter(limits),
		logger:   logger,
		opts:     opts,
	}
}

func (p *Pipeline) Registry() *Registry { return p.registry }

func (p *Pipeline) Limiter() *Limiter { return p.limiter }

// ExecuteOption customizes a single Execute call.
type ExecuteOption func(*executeConfig)

type executeConfig struct {
	taskID  string
	onStart func() error
}

// WithTaskID tags the call with the task it serves.
func WithTaskID(id string) ExecuteOption {
	return func(c *executeConfig) { c.taskID = id }
}

// WithOnStart registers fn to run once the call holds its slot, right before the chain runs.
// fn is not called when the call fails before that point. A non-nil error from fn abandons the
// call and is returned unchanged.
func WithOnStart(fn func() error) ExecuteOption {
	return func(c *executeConfig) { c.onStart = fn }
}

type outcome struct {
	result *metadata.Metadata
	err    error
}

// TimeoutFor returns the effective timeout for tool when the caller passes zero.
func (p *Pipeline) TimeoutFor(tool string) time.Duration {
	if d, ok := p.opts.ToolTimeouts[tool]; ok {
		return d
	}
	return p.opts.DefaultTimeout
}

// Execute runs tool name with params. Errors detected by the pipeline are *PipelineError;
// errors raised by middleware are returned unchanged.
func (p *Pipeline) Execute(ctx context.Context, name string, params *metadata.Metadata, timeout time.Duration, opts ...ExecuteOption) (*metadata.Metadata, error) {
	cfg := executeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"pipeline.execute",
		attribute.String("tool", name),
		attribute.String("task_id", cfg.taskID),
	)
	defer span.End()

	result, err := p.execute(ctx, name, params, timeout, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (p *Pipeline) execute(ctx context.Context, name string, params *metadata.Metadata, timeout time.Duration, cfg executeConfig) (*metadata.Metadata, error) {
	logger := tracing.LoggerFromContext(ctx, p.logger).With().Str("tool", name).Logger()

	tool, err := p.registry.Resolve(name)
	if err != nil {
		observability.RecordPipelineRejection(name, string(KindToolNotFound))
		return nil, &PipelineError{Kind: KindToolNotFound, Tool: name, Cause: err}
	}

	if timeout <= 0 {
		timeout = p.TimeoutFor(name)
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	release, err := p.limiter.Acquire(runCtx, name)
	if err != nil {
		if errors.Is(err, ErrOverloaded) {
			observability.RecordPipelineRejection(name, string(KindOverloaded))
			logger.Warn().Msg("Tool call rejected: concurrency limit reached")
			return nil, &PipelineError{Kind: KindOverloaded, Tool: name}
		}
		return nil, p.interrupted(runCtx, name, timeout)
	}

	if cfg.onStart != nil {
		if err := cfg.onStart(); err != nil {
			release()
			return nil, err
		}
	}

	call := &middleware.Call{
		Tool:   name,
		TaskID: cfg.taskID,
		Params: params.Clone(),
	}
	handler := p.chain.Then(p.invoke(tool))
	callCtx := ContextWithCallInfo(runCtx, CallInfo{Tool: name, TaskID: cfg.taskID})

	done := make(chan outcome, 1)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &PipelineError{Kind: KindToolFailed, Tool: name, Cause: fmt.Errorf("panic: %v", r)}}
			}
		}()
		result, err := handler(callCtx, call)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && runCtx.Err() != nil {
			return nil, p.interrupted(runCtx, name, timeout)
		}
		if out.err != nil {
			return nil, out.err
		}
		if out.result == nil {
			out.result = metadata.New()
		}
		return out.result, nil
	case <-runCtx.Done():
		logger.Warn().
			Dur("timeout", timeout).
			Err(runCtx.Err()).
			Msg("Tool call abandoned; late result will be discarded")
		return nil, p.interrupted(runCtx, name, timeout)
	}
}

// invoke is the innermost handler: it calls the tool and wraps its error.
func (p *Pipeline) invoke(tool Tool) middleware.Handler {
	return func(ctx context.Context, call *middleware.Call) (*metadata.Metadata, error) {
		result, err := tool.Execute(ctx, call.Params)
		if err != nil {
			return nil, &PipelineError{Kind: KindToolFailed, Tool: call.Tool, Cause: err}
		}
		return result, nil
	}
}

func (p *Pipeline) interrupted(ctx context.Context, name string, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		observability.RecordPipelineRejection(name, string(KindTimeout))
		cause := ctx.Err()
		if timeout > 0 {
			cause = fmt.Errorf("no result within %s: %w", timeout, ctx.Err())
		}
		return &PipelineError{Kind: KindTimeout, Tool: name, Cause: cause}
	}
	observability.RecordPipelineRejection(name, string(KindCancelled))
	return &PipelineError{Kind: KindCancelled, Tool: name, Cause: ctx.Err()}
}
