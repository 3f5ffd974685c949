package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/atlas/internal/observability"
	"github.com/harun/atlas/pkg/metadata"
	"github.com/harun/atlas/pkg/middleware"
	"github.com/harun/atlas/pkg/task"
	"github.com/harun/atlas/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	observability.SetAuditLogger(observability.NewAuditLogger(io.Discard))
}

func calculator() toolexecutor.Tool {
	return toolexecutor.NewTool("calculator", "Adds a and b", func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
		a, err := params.GetNumber("a")
		if err != nil {
			return nil, err
		}
		b, err := params.GetNumber("b")
		if err != nil {
			return nil, err
		}
		return metadata.New().Insert("sum", metadata.Float(a+b)), nil
	},
		toolexecutor.Parameter{Name: "a", Type: "number", Required: true},
		toolexecutor.Parameter{Name: "b", Type: "number", Required: true},
	)
}

func testBuilder(name string) *Builder {
	logger := zerolog.Nop()
	return NewBuilder(name).Logger(&logger)
}

func request(tool string) *metadata.Metadata {
	return metadata.New().Insert(ToolKey, metadata.String(tool))
}

func onlyTask(t *testing.T, a *Agent) *task.Task {
	t.Helper()
	tasks := a.Tasks()
	require.Len(t, tasks, 1)
	return tasks[0]
}

func TestCalculatorScenario(t *testing.T) {
	var seen *metadata.Metadata
	probe := middleware.Func(func(ctx context.Context, call *middleware.Call, next middleware.Handler) (*metadata.Metadata, error) {
		seen = call.Params.Clone()
		return next(ctx, call)
	})
	a, err := testBuilder("math").
		Description("does sums").
		Capabilities("calculator").
		Tool("calculator", calculator()).
		Middleware(probe).
		Build()
	require.NoError(t, err)

	params := request("calculator").Insert("a", metadata.Float(5.0)).Insert("b", metadata.Float(3.0))
	result, err := a.ExecuteTask(context.Background(), "", params)
	require.NoError(t, err)

	sum, err := result.GetFloat("sum")
	require.NoError(t, err)
	assert.Equal(t, 8.0, sum)

	assert.False(t, seen.Has(ToolKey))
	assert.True(t, params.Has(ToolKey))

	snap := onlyTask(t, a)
	assert.Equal(t, task.StatusCompleted, snap.Status)
	assert.True(t, snap.Input.Has(ToolKey))
	assert.True(t, snap.Result.Equal(result))
}

func TestUnregisteredToolFailsTask(t *testing.T) {
	a, err := testBuilder("math").
		Capabilities("calculator", "divide").
		Tool("calculator", calculator()).
		Build()
	require.NoError(t, err)

	var transitions []string
	a.Tracker().Observe(func(ctx context.Context, prev task.Status, snap *task.Task) {
		transitions = append(transitions, string(prev)+"->"+string(snap.Status))
	})

	_, err = a.ExecuteTask(context.Background(), "job-1", request("divide"))

	var agentErr *Error
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "tool_not_found", agentErr.Kind)
	assert.Equal(t, "job-1", agentErr.TaskID)
	var perr *toolexecutor.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, toolexecutor.KindToolNotFound, perr.Kind)

	snap, err := a.Task(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, snap.Status)
	assert.Equal(t, "tool_not_found", snap.Error.Kind)
	assert.Equal(t, []string{"->pending", "pending->failed"}, transitions)
}

func TestTimeoutFailsTaskAndDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	slow := toolexecutor.NewTool("slow", "ignores cancellation", func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
		defer close(finished)
		<-release
		return metadata.New().Insert("late", metadata.Bool(true)), nil
	})
	a, err := testBuilder("slowpoke").
		Capabilities("slow").
		Tool("slow", slow).
		PipelineOptions(toolexecutor.Options{DefaultTimeout: 30 * time.Millisecond}).
		Build()
	require.NoError(t, err)

	_, err = a.ExecuteTask(context.Background(), "", request("slow"))
	assert.ErrorIs(t, err, toolexecutor.ErrTimeout)
	assert.Equal(t, "timeout", KindOf(err))

	close(release)
	<-finished

	snap := onlyTask(t, a)
	assert.Equal(t, task.StatusFailed, snap.Status)
	assert.Equal(t, "timeout", snap.Error.Kind)
	assert.Nil(t, snap.Result)
}

func TestCapabilityDenied(t *testing.T) {
	a, err := testBuilder("math").
		Capabilities("math.*").
		Tool("calculator", calculator()).
		Build()
	require.NoError(t, err)

	_, err = a.ExecuteTask(context.Background(), "", request("calculator"))
	var agentErr *Error
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, KindCapabilityDenied, agentErr.Kind)
	assert.ErrorIs(t, err, ErrCapabilityDenied)
	assert.Empty(t, a.Tasks())
	assert.Empty(t, a.Tools())
}

func TestCapabilityGlobs(t *testing.T) {
	a, err := testBuilder("globs").Capabilities("math.*", "echo").Build()
	require.NoError(t, err)

	cfg := a.Config()
	assert.True(t, cfg.Allows("math.add"))
	assert.True(t, cfg.Allows("echo"))
	assert.False(t, cfg.Allows("math"))
	assert.False(t, cfg.Allows("echo2"))

	caps := cfg.Capabilities()
	caps[0] = "*"
	assert.False(t, a.Config().Allows("anything"))
}

func TestInvalidRequest(t *testing.T) {
	a, err := testBuilder("math").Capabilities("*").Tool("calculator", calculator()).Build()
	require.NoError(t, err)

	_, err = a.ExecuteTask(context.Background(), "", metadata.New())
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	_, err = a.ExecuteTask(context.Background(), "", metadata.New().Insert(ToolKey, metadata.Int(1)))
	assert.ErrorIs(t, err, metadata.ErrTypeMismatch)
	assert.Empty(t, a.Tasks())
}

func TestToolErrorIsWrapped(t *testing.T) {
	a, err := testBuilder("math").Capabilities("*").Tool("calculator", calculator()).Build()
	require.NoError(t, err)

	_, err = a.ExecuteTask(context.Background(), "", request("calculator").Insert("a", metadata.Float(1)))
	assert.Equal(t, "tool_failed", KindOf(err))
	assert.ErrorIs(t, err, toolexecutor.ErrToolFailed)
	var missing *metadata.MissingKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "b", missing.Key)

	snap := onlyTask(t, a)
	assert.Equal(t, task.StatusFailed, snap.Status)
	assert.Equal(t, "tool_failed", snap.Error.Kind)
}

func TestIDHintReplaysCompletedTask(t *testing.T) {
	var calls int32
	counter := toolexecutor.NewTool("count", "counts calls", func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
		n := atomic.AddInt32(&calls, 1)
		return metadata.New().Insert("n", metadata.Int(int64(n))), nil
	})
	a, err := testBuilder("counter").Capabilities("count").Tool("count", counter).Build()
	require.NoError(t, err)

	first, err := a.ExecuteTask(context.Background(), "delivery-1", request("count"))
	require.NoError(t, err)
	second, err := a.ExecuteTask(context.Background(), "delivery-1", request("count"))
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIDHintOnFailedTaskIsInvalidTransition(t *testing.T) {
	a, err := testBuilder("math").Capabilities("*").Tool("calculator", calculator()).Build()
	require.NoError(t, err)

	_, err = a.ExecuteTask(context.Background(), "job", request("missing"))
	require.Error(t, err)

	_, err = a.ExecuteTask(context.Background(), "job", request("calculator"))
	assert.ErrorIs(t, err, task.ErrInvalidTransition)
	assert.Equal(t, "invalid_transition", KindOf(err))
}

func TestIDHintRunsPendingTask(t *testing.T) {
	a, err := testBuilder("math").Capabilities("*").Tool("calculator", calculator()).Build()
	require.NoError(t, err)

	require.NoError(t, a.Tracker().CreateWithID(context.Background(), "queued", metadata.New()))
	result, err := a.ExecuteTask(context.Background(), "queued", request("calculator").Insert("a", metadata.Int(2)).Insert("b", metadata.Int(2)))
	require.NoError(t, err)
	sum, _ := result.GetFloat("sum")
	assert.Equal(t, 4.0, sum)
}

func TestRedeliveredQueuedTaskRunsOnce(t *testing.T) {
	gate := make(chan struct{})
	var runs int32
	tool := toolexecutor.NewTool("single", "one at a time", func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
		n := atomic.AddInt32(&runs, 1)
		<-gate
		return metadata.New().Insert("run", metadata.Int(int64(n))), nil
	})
	a, err := testBuilder("single").
		Capabilities("single").
		Tool("single", tool).
		PipelineOptions(toolexecutor.Options{Limits: toolexecutor.LimiterConfig{MaxConcurrent: 1, QueueDepth: 4}}).
		Build()
	require.NoError(t, err)
	ctx := context.Background()

	blockerErr := make(chan error, 1)
	go func() {
		_, err := a.ExecuteTask(ctx, "blocker", request("single"))
		blockerErr <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, time.Millisecond)

	type delivery struct {
		result *metadata.Metadata
		err    error
	}
	deliveries := make(chan delivery, 2)
	deliver := func() {
		result, err := a.ExecuteTask(ctx, "h", request("single"))
		deliveries <- delivery{result: result, err: err}
	}

	go deliver()
	require.Eventually(t, func() bool {
		return a.Pipeline().Limiter().LaneStats("single").Queued == 1
	}, time.Second, time.Millisecond)
	go deliver()
	assert.Never(t, func() bool {
		return a.Pipeline().Limiter().LaneStats("single").Queued > 1
	}, 50*time.Millisecond, time.Millisecond)

	close(gate)
	require.NoError(t, <-blockerErr)
	for i := 0; i < 2; i++ {
		d := <-deliveries
		require.NoError(t, d.err)
		run, err := d.result.GetInt("run")
		require.NoError(t, err)
		assert.Equal(t, int64(2), run)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))

	snap, ok := a.Tracker().Get("h")
	require.True(t, ok)
	assert.Equal(t, task.StatusCompleted, snap.Status)
	assert.Nil(t, snap.Error)
}

func TestCancelReachesOwnerAfterRedelivery(t *testing.T) {
	entered := make(chan struct{})
	var runs int32
	block := toolexecutor.NewTool("block", "waits for cancellation", func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
		atomic.AddInt32(&runs, 1)
		close(entered)
		<-ctx.Done()
		return metadata.New(), nil
	})
	a, err := testBuilder("blocker").Capabilities("block").Tool("block", block).Build()
	require.NoError(t, err)

	ownerErr := make(chan error, 1)
	go func() {
		_, err := a.ExecuteTask(context.Background(), "c", request("block"))
		ownerErr <- err
	}()
	<-entered

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.ExecuteTask(waitCtx, "c", request("block"))
	assert.Equal(t, "timeout", KindOf(err))

	status, _ := a.Tracker().Status("c")
	assert.Equal(t, task.StatusRunning, status)

	require.NoError(t, a.Cancel(context.Background(), "c"))
	select {
	case err := <-ownerErr:
		assert.Equal(t, KindCancelled, KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("cancel did not reach the running call")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestIDHintReplaysTaskFromStore(t *testing.T) {
	store := task.NewMemoryStore()
	var runs int32
	counter := func() toolexecutor.Tool {
		return toolexecutor.NewTool("count", "counts calls", func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
			n := atomic.AddInt32(&runs, 1)
			return metadata.New().Insert("run", metadata.Int(int64(n))), nil
		})
	}

	first, err := testBuilder("counter").Capabilities("count").Tool("count", counter()).Store(store).Build()
	require.NoError(t, err)
	_, err = first.ExecuteTask(context.Background(), "job-1", request("count"))
	require.NoError(t, err)

	second, err := testBuilder("counter").Capabilities("count").Tool("count", counter()).Store(store).Build()
	require.NoError(t, err)
	replay, err := second.ExecuteTask(context.Background(), "job-1", request("count"))
	require.NoError(t, err)

	run, err := replay.GetInt("run")
	require.NoError(t, err)
	assert.Equal(t, int64(1), run)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	stored, err := store.Load(context.Background(), "job-1")
	require.NoError(t, err)
	run, err = stored.Result.GetInt("run")
	require.NoError(t, err)
	assert.Equal(t, int64(1), run)
}

func TestHandleEventMergesState(t *testing.T) {
	a, err := testBuilder("stateful").Capabilities("*").Build()
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, 0, a.State().Len())

	require.NoError(t, a.HandleEvent(ctx, NewEvent("config.updated", metadata.New().
		Insert("mode", metadata.String("fast")).
		Insert("retries", metadata.Int(1)))))
	require.NoError(t, a.HandleEvent(ctx, NewEvent("config.updated", metadata.New().
		Insert("retries", metadata.Int(3)))))

	state := a.State()
	assert.Equal(t, []string{"mode", "retries"}, state.Keys())
	retries, err := state.GetInt("retries")
	require.NoError(t, err)
	assert.Equal(t, int64(3), retries)

	state.Insert("mode", metadata.String("mutated"))
	mode, _ := a.State().GetString("mode")
	assert.Equal(t, "fast", mode)

	err = a.HandleEvent(ctx, Event{Payload: metadata.New()})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestCancelInFlightTask(t *testing.T) {
	entered := make(chan struct{})
	exited := make(chan struct{})
	block := toolexecutor.NewTool("block", "waits for cancellation", func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
		defer close(exited)
		close(entered)
		<-ctx.Done()
		return metadata.New().Insert("late", metadata.Bool(true)), nil
	})
	a, err := testBuilder("blocker").Capabilities("block").Tool("block", block).Build()
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.ExecuteTask(context.Background(), "cancel-me", request("block"))
		errCh <- err
	}()

	<-entered
	require.NoError(t, a.Cancel(context.Background(), "cancel-me"))

	err = <-errCh
	assert.ErrorIs(t, err, ErrTaskCancelled)
	assert.Equal(t, KindCancelled, KindOf(err))
	<-exited

	snap, err := a.Task(context.Background(), "cancel-me")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, snap.Status)
	assert.Nil(t, snap.Result)
	assert.Nil(t, snap.Error)

	assert.NoError(t, a.Cancel(context.Background(), "cancel-me"))
}

func TestCancelQueuedTask(t *testing.T) {
	gate := make(chan struct{})
	var ran int32
	tool := toolexecutor.NewTool("single", "one at a time", func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
		atomic.AddInt32(&ran, 1)
		<-gate
		return metadata.New(), nil
	})
	a, err := testBuilder("single").
		Capabilities("single").
		Tool("single", tool).
		PipelineOptions(toolexecutor.Options{Limits: toolexecutor.LimiterConfig{MaxConcurrent: 1, QueueDepth: 4}}).
		Build()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = a.ExecuteTask(context.Background(), "first", request("single"))
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 1 }, time.Second, time.Millisecond)

	var queuedErr error
	go func() {
		defer wg.Done()
		_, queuedErr = a.ExecuteTask(context.Background(), "second", request("single"))
	}()
	require.Eventually(t, func() bool {
		return a.Pipeline().Limiter().LaneStats("single").Queued == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, a.Cancel(context.Background(), "second"))
	close(gate)
	wg.Wait()

	assert.Equal(t, KindCancelled, KindOf(queuedErr))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))

	second, _ := a.Tracker().Get("second")
	assert.Equal(t, task.StatusCancelled, second.Status)
	first, _ := a.Tracker().Get("first")
	assert.Equal(t, task.StatusCompleted, first.Status)
}

func TestCancelUnknownAndTerminalTask(t *testing.T) {
	a, err := testBuilder("math").Capabilities("*").Tool("calculator", calculator()).Build()
	require.NoError(t, err)

	err = a.Cancel(context.Background(), "nope")
	assert.ErrorIs(t, err, task.ErrUnknownTask)
	assert.Equal(t, "unknown_task", KindOf(err))

	_, err = a.ExecuteTask(context.Background(), "done", request("calculator").Insert("a", metadata.Int(1)).Insert("b", metadata.Int(1)))
	require.NoError(t, err)
	assert.ErrorIs(t, a.Cancel(context.Background(), "done"), task.ErrInvalidTransition)
}

func TestValidationMiddlewareThroughBuilder(t *testing.T) {
	b := testBuilder("validated").Capabilities("*").Tool("calculator", calculator())
	a, err := b.Middleware(middleware.NewValidation(b.Registry())).Build()
	require.NoError(t, err)

	_, err = a.ExecuteTask(context.Background(), "", request("calculator").Insert("a", metadata.String("five")).Insert("b", metadata.Int(1)))
	assert.ErrorIs(t, err, middleware.ErrInvalidParams)
	assert.Equal(t, "invalid_params", KindOf(err))

	snap := onlyTask(t, a)
	assert.Equal(t, task.StatusFailed, snap.Status)
	assert.Equal(t, "invalid_params", snap.Error.Kind)
}

func TestBuilderErrors(t *testing.T) {
	_, err := testBuilder("").Build()
	assert.Error(t, err)

	_, err = testBuilder("dup").
		Tool("calculator", calculator()).
		Tool("calculator", calculator()).
		Build()
	assert.ErrorIs(t, err, toolexecutor.ErrDuplicateTool)

	_, err = testBuilder("glob").Capabilities("[").Build()
	assert.Error(t, err)

	b := testBuilder("once")
	_, err = b.Build()
	require.NoError(t, err)
	_, err = b.Build()
	assert.Error(t, err)
}

func TestConfigIsImmutable(t *testing.T) {
	settings := metadata.New().Insert("region", metadata.String("eu"))
	a, err := testBuilder("cfg").Description("d").Settings(settings).Build()
	require.NoError(t, err)

	settings.Insert("region", metadata.String("us"))
	a.Config().Settings().Insert("region", metadata.String("ap"))

	region, err := a.Config().Settings().GetString("region")
	require.NoError(t, err)
	assert.Equal(t, "eu", region)
	assert.Equal(t, "cfg", a.Config().Name())
	assert.Equal(t, "d", a.Config().Description())
}

func TestTwoAgentsHaveIndependentTools(t *testing.T) {
	one, err := testBuilder("one").Capabilities("*").Tool("calculator", calculator()).Build()
	require.NoError(t, err)
	two, err := testBuilder("two").Capabilities("*").Build()
	require.NoError(t, err)

	assert.Len(t, one.Tools(), 1)
	assert.Empty(t, two.Tools())
	_, err = two.ExecuteTask(context.Background(), "", request("calculator"))
	assert.Equal(t, "tool_not_found", KindOf(err))
}

func TestEnvelope(t *testing.T) {
	err := &Error{Kind: "timeout", TaskID: "t-1", Tool: "slow", Err: errors.New("no result within 1s")}
	env := EnvelopeFrom(err)
	assert.Equal(t, Envelope{Kind: "timeout", Message: "no result within 1s", TaskID: "t-1"}, env)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.JSON()), &decoded))
	assert.Equal(t, "t-1", decoded["task_id"])

	plain := EnvelopeFrom(errors.New("boom"))
	assert.Equal(t, "internal", plain.Kind)
	assert.Empty(t, plain.TaskID)
	assert.NotContains(t, plain.JSON(), "task_id")

	assert.Equal(t, Envelope{}, EnvelopeFrom(nil))
	assert.Equal(t, "cancelled", KindOf(context.Canceled))
	assert.Equal(t, "timeout", KindOf(context.DeadlineExceeded))
}
