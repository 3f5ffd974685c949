package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/atlas/internal/tracing"
	"github.com/harun/atlas/pkg/metadata"
	"github.com/harun/atlas/pkg/task"
	"github.com/harun/atlas/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ToolKey is the request key naming the tool to call.
const ToolKey = "tool"

const tracerName = "atlas.agent"

// Agent runs task requests against its own registry, pipeline and tracker.
type Agent struct {
	config   Config
	registry *toolexecutor.Registry
	pipeline *toolexecutor.Pipeline
	tracker  *task.Tracker
	logger   zerolog.Logger

	// Executions in flight, keyed by task id
	mu     sync.Mutex
	active map[string]*execution

	stateMu sync.RWMutex
	state   *metadata.Metadata
}

// execution is the one run that owns a task id. Other deliveries of the same id wait on done
// and share its outcome.
type execution struct {
	done   chan struct{}
	cancel context.CancelFunc
	result *metadata.Metadata
	err    error
}

func (e *execution) wait(ctx context.Context, id, toolName string) (*metadata.Metadata, error) {
	select {
	case <-e.done:
		if e.err != nil {
			return nil, e.err
		}
		return e.result.Clone(), nil
	case <-ctx.Done():
		return nil, &Error{Kind: KindOf(ctx.Err()), TaskID: id, Tool: toolName, Err: ctx.Err()}
	}
}

func (a *Agent) Config() Config { return a.config }

func (a *Agent) Registry() *toolexecutor.Registry { return a.registry }

func (a *Agent) Pipeline() *toolexecutor.Pipeline { return a.pipeline }

func (a *Agent) Tracker() *task.Tracker { return a.tracker }

// Tools lists the registered tools this agent is allowed to call, in registration order.
func (a *Agent) Tools() []toolexecutor.Descriptor {
	var out []toolexecutor.Descriptor
	for _, d := range a.registry.List() {
		if a.config.Allows(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

// ExecuteTask runs the tool named by params["tool"] as a tracked task. idHint, when set, becomes
// the task id: a hint naming a completed task returns its recorded result without running the
// tool again, and a hint naming a pending task runs it. While a task is executing, further
// deliveries of its id wait for that execution and return its outcome.
func (a *Agent) ExecuteTask(ctx context.Context, idHint string, params *metadata.Metadata) (*metadata.Metadata, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	toolName, err := params.GetString(ToolKey)
	if err != nil {
		return nil, &Error{
			Kind:   KindInvalidRequest,
			TaskID: idHint,
			Err:    fmt.Errorf("%w: %w", ErrInvalidRequest, err),
		}
	}
	if !a.config.Allows(toolName) {
		a.logger.Warn().Str("tool", toolName).Msg("Tool call denied by capabilities")
		return nil, &Error{
			Kind:   KindCapabilityDenied,
			TaskID: idHint,
			Tool:   toolName,
			Err:    fmt.Errorf("%w: agent %s may not call %s", ErrCapabilityDenied, a.config.name, toolName),
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	exec := &execution{done: make(chan struct{}), cancel: cancel}

	id := idHint
	if id == "" {
		id, err = a.tracker.Create(ctx, params)
		if err != nil {
			return nil, newError("", toolName, err)
		}
		a.claim(id, exec)
	} else if owner := a.claim(id, exec); owner != exec {
		a.logger.Debug().Str("task_id", id).Msg("Task already executing; waiting for its outcome")
		return owner.wait(ctx, id, toolName)
	}

	result, err := a.execute(ctx, id, idHint != "", toolName, params)
	a.settle(id, exec, result, err)
	return result, err
}

// claim registers exec as the owner of id unless another execution already owns it, and returns
// the owner.
func (a *Agent) claim(id string, exec *execution) *execution {
	a.mu.Lock()
	defer a.mu.Unlock()
	if owner, ok := a.active[id]; ok {
		return owner
	}
	a.active[id] = exec
	return exec
}

// settle publishes the outcome of exec to waiting deliveries and releases id.
func (a *Agent) settle(id string, exec *execution, result *metadata.Metadata, err error) {
	a.mu.Lock()
	if a.active[id] == exec {
		delete(a.active, id)
	}
	a.mu.Unlock()

	if err != nil {
		exec.err = err
	} else {
		exec.result = result.Clone()
	}
	close(exec.done)
}

func (a *Agent) execute(ctx context.Context, id string, hinted bool, toolName string, params *metadata.Metadata) (*metadata.Metadata, error) {
	if hinted {
		replay, err := a.admit(ctx, id, params)
		if err != nil {
			return nil, newError(id, toolName, err)
		}
		if replay != nil {
			a.logger.Debug().Str("task_id", id).Msg("Replaying result of completed task")
			return replay, nil
		}
	}

	ctx = tracing.NewTaskContext(ctx, a.config.name, id)
	ctx = tracing.WithTool(ctx, toolName)
	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"agent.execute_task",
		attribute.String("agent", a.config.name),
		attribute.String("task_id", id),
		attribute.String("tool", toolName),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, a.logger)

	result, err := a.run(ctx, id, toolName, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Str("kind", KindOf(err)).Msg("Task failed")
		return nil, err
	}
	logger.Info().Msg("Task completed")
	return result, nil
}

// admit creates the task under id, or resolves id against an existing one. It returns the
// recorded result when id names a completed task.
func (a *Agent) admit(ctx context.Context, id string, params *metadata.Metadata) (*metadata.Metadata, error) {
	err := a.tracker.CreateWithID(ctx, id, params)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, task.ErrDuplicateTask) {
		return nil, err
	}

	existing, err := a.tracker.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	switch existing.Status {
	case task.StatusCompleted:
		return existing.Result, nil
	case task.StatusPending:
		return nil, nil
	default:
		return nil, &task.TransitionError{ID: id, From: existing.Status, To: task.StatusRunning}
	}
}

func (a *Agent) run(ctx context.Context, id, toolName string, params *metadata.Metadata) (*metadata.Metadata, error) {
	// Task bookkeeping must outlive cancellation of the call itself.
	record := context.WithoutCancel(ctx)

	toolParams := params.Clone()
	toolParams.Delete(ToolKey)

	var startErr error
	start := time.Now()
	result, err := a.pipeline.Execute(
		ctx,
		toolName,
		toolParams,
		0,
		toolexecutor.WithTaskID(id),
		toolexecutor.WithOnStart(func() error {
			startErr = a.tracker.MarkRunning(record, id)
			return startErr
		}),
	)
	if startErr != nil {
		// The task left Pending before its slot came up, normally through Cancel.
		return nil, a.discarded(id, toolName, nil, startErr)
	}
	if err != nil {
		if ferr := a.tracker.Fail(record, id, err); ferr != nil {
			return nil, a.discarded(id, toolName, err, ferr)
		}
		return nil, newError(id, toolName, err)
	}

	if cerr := a.tracker.Complete(record, id, result); cerr != nil {
		return nil, a.discarded(id, toolName, nil, cerr)
	}
	a.logger.Debug().
		Str("task_id", id).
		Str("tool", toolName).
		Dur("duration", time.Since(start)).
		Msg("Task result recorded")
	return result, nil
}

// discarded builds the error for an outcome the tracker refused because the task had already
// reached another terminal state, normally Cancelled.
func (a *Agent) discarded(id, toolName string, outcome, refusal error) error {
	a.logger.Debug().
		Str("task_id", id).
		AnErr("outcome", outcome).
		AnErr("refusal", refusal).
		Msg("Discarding late task outcome")

	if status, ok := a.tracker.Status(id); ok && status == task.StatusCancelled {
		return &Error{Kind: KindCancelled, TaskID: id, Tool: toolName, Err: ErrTaskCancelled}
	}
	if outcome != nil {
		return newError(id, toolName, outcome)
	}
	return newError(id, toolName, refusal)
}

// Cancel records id as Cancelled and cancels its in-flight tool call, if any. The tool is told
// to stop through its context; whatever it returns afterwards is discarded.
func (a *Agent) Cancel(ctx context.Context, id string) error {
	if err := a.tracker.Cancel(ctx, id); err != nil {
		return newError(id, "", err)
	}

	a.mu.Lock()
	exec, ok := a.active[id]
	a.mu.Unlock()
	if ok {
		exec.cancel()
	}
	a.logger.Info().Str("task_id", id).Bool("in_flight", ok).Msg("Task cancelled")
	return nil
}

// Task returns a snapshot of id, consulting the store when the task is no longer in memory.
func (a *Agent) Task(ctx context.Context, id string) (*task.Task, error) {
	t, err := a.tracker.Lookup(ctx, id)
	if err != nil {
		return nil, newError(id, "", err)
	}
	return t, nil
}

// Tasks returns every tracked task ordered by creation time.
func (a *Agent) Tasks() []*task.Task {
	return a.tracker.List()
}
