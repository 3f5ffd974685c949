package agent

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/harun/atlas/internal/observability"
	"github.com/harun/atlas/pkg/metadata"
	"github.com/harun/atlas/pkg/middleware"
	"github.com/harun/atlas/pkg/task"
	"github.com/harun/atlas/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Builder collects the configuration, tools and middleware of an agent. Errors are accumulated
// and reported by Build.
type Builder struct {
	name         string
	description  string
	capabilities []string
	settings     *metadata.Metadata
	registry     *toolexecutor.Registry
	middlewares  []middleware.Middleware
	pipelineOpts toolexecutor.Options
	store        task.Store
	logger       *zerolog.Logger
	errs         []error
}

func NewBuilder(name string) *Builder {
	return &Builder{
		name:     name,
		settings: metadata.New(),
		registry: toolexecutor.NewRegistry(),
	}
}

func (b *Builder) Description(description string) *Builder {
	b.description = description
	return b
}

// Capabilities adds tool name patterns the agent may call.
func (b *Builder) Capabilities(patterns ...string) *Builder {
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, ""); err != nil {
			b.errs = append(b.errs, fmt.Errorf("capability %q: %w", pattern, err))
			continue
		}
		b.capabilities = append(b.capabilities, pattern)
	}
	return b
}

// Settings merges settings into the agent's free-form configuration.
func (b *Builder) Settings(settings *metadata.Metadata) *Builder {
	b.settings.Merge(settings)
	return b
}

// Tool registers tool under name.
func (b *Builder) Tool(name string, tool toolexecutor.Tool) *Builder {
	if err := b.registry.Register(name, tool); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Middleware appends mw to the chain. Middleware runs in the order it is added.
func (b *Builder) Middleware(mw middleware.Middleware) *Builder {
	if mw != nil {
		b.middlewares = append(b.middlewares, mw)
	}
	return b
}

func (b *Builder) PipelineOptions(opts toolexecutor.Options) *Builder {
	b.pipelineOpts = opts
	return b
}

// Store makes task snapshots durable.
func (b *Builder) Store(store task.Store) *Builder {
	b.store = store
	return b
}

// Logger sets the logger of the agent, its registry and its pipeline.
func (b *Builder) Logger(logger *zerolog.Logger) *Builder {
	b.logger = logger
	if logger != nil {
		b.registry.SetLogger(*logger)
	}
	return b
}

// Registry exposes the registry being filled, so middleware such as validation can be wired to it
// before Build.
func (b *Builder) Registry() *toolexecutor.Registry {
	return b.registry
}

// Build seals the registry and returns the agent.
func (b *Builder) Build() (*Agent, error) {
	if b.name == "" {
		b.errs = append(b.errs, errors.New("agent name is required"))
	}
	if b.registry.Sealed() {
		b.errs = append(b.errs, errors.New("builder was already used"))
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("failed to build agent: %w", err)
	}
	b.registry.Seal()

	logger := log.Logger
	if b.logger != nil {
		logger = *b.logger
	}
	logger = logger.With().Str("agent", b.name).Logger()
	pipelineOpts := b.pipelineOpts
	if pipelineOpts.Logger == nil {
		pipelineOpts.Logger = &logger
	}

	capabilities := make([]string, len(b.capabilities))
	copy(capabilities, b.capabilities)

	tracker := task.NewTracker(task.Options{Store: b.store, Logger: &logger})
	name := b.name
	tracker.Observe(func(ctx context.Context, prev task.Status, t *task.Task) {
		if !t.Status.IsTerminal() {
			return
		}
		fields := map[string]interface{}{
			"from":        string(prev),
			"duration_ms": t.Lifetime().Milliseconds(),
		}
		if tool, err := t.Input.GetString(ToolKey); err == nil {
			fields["tool"] = tool
		}
		if t.Error != nil {
			fields["error_kind"] = t.Error.Kind
		}
		observability.RecordTaskAudit(ctx, name, t.ID, string(t.Status), fields)
	})

	a := &Agent{
		config: Config{
			name:         b.name,
			description:  b.description,
			capabilities: capabilities,
			settings:     b.settings.Clone(),
		},
		registry: b.registry,
		pipeline: toolexecutor.NewPipeline(b.registry, middleware.NewChain(b.middlewares...), pipelineOpts),
		tracker:  tracker,
		logger:   logger,
		active:   make(map[string]*execution),
		state:    metadata.New(),
	}

	logger.Info().
		Int("tools", b.registry.Len()).
		Int("middleware", len(b.middlewares)).
		Strs("capabilities", capabilities).
		Msg("Agent built")
	return a, nil
}
