package middleware

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harun/atlas/pkg/metadata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func tracer(name string, rec *recorder) Middleware {
	return Func(func(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error) {
		rec.add(name + ".before")
		result, err := next(ctx, call)
		rec.add(name + ".after")
		return result, err
	})
}

func toolHandler(rec *recorder) Handler {
	return func(ctx context.Context, call *Call) (*metadata.Metadata, error) {
		rec.add("T")
		return metadata.New().Insert("ok", metadata.Bool(true)), nil
	}
}

func TestChainOnionOrder(t *testing.T) {
	rec := &recorder{}
	chain := NewChain(tracer("A", rec), tracer("B", rec))

	result, err := chain.Then(toolHandler(rec))(context.Background(), &Call{Tool: "t", Params: metadata.New()})
	require.NoError(t, err)
	assert.True(t, result.Has("ok"))
	assert.Equal(t, []string{"A.before", "B.before", "T", "B.after", "A.after"}, rec.calls)
}

func TestChainShortCircuit(t *testing.T) {
	rec := &recorder{}
	substitute := metadata.New().Insert("cached", metadata.Bool(true))
	shortA := Func(func(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error) {
		rec.add("A.before")
		return substitute, nil
	})
	chain := NewChain(shortA, tracer("B", rec))

	result, err := chain.Then(toolHandler(rec))(context.Background(), &Call{Tool: "t"})
	require.NoError(t, err)
	assert.Same(t, substitute, result)
	assert.Equal(t, []string{"A.before"}, rec.calls)
}

func TestChainErrorAbortsRemainingMiddleware(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	failing := Func(func(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error) {
		rec.add("B.before")
		return nil, boom
	})
	chain := NewChain(tracer("A", rec), failing, tracer("C", rec))

	_, err := chain.Then(toolHandler(rec))(context.Background(), &Call{Tool: "t"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"A.before", "B.before", "A.after"}, rec.calls)
}

func TestChainTransformsInputAndOutput(t *testing.T) {
	addDefault := Func(func(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error) {
		call.Params = call.Params.Clone().Insert("b", metadata.Int(2))
		result, err := next(ctx, call)
		if err != nil {
			return nil, err
		}
		return result.Insert("wrapped", metadata.Bool(true)), nil
	})
	final := func(ctx context.Context, call *Call) (*metadata.Metadata, error) {
		b, err := call.Params.GetInt("b")
		if err != nil {
			return nil, err
		}
		return metadata.New().Insert("b", metadata.Int(b)), nil
	}

	result, err := NewChain(addDefault).Then(final)(context.Background(), &Call{Tool: "t", Params: metadata.New()})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "wrapped"}, result.Keys())
}

func TestEmptyChainAndNilEntries(t *testing.T) {
	rec := &recorder{}
	chain := NewChain(nil, nil)
	assert.Equal(t, 0, chain.Len())

	_, err := chain.Then(toolHandler(rec))(context.Background(), &Call{Tool: "t"})
	require.NoError(t, err)
	assert.Equal(t, []string{"T"}, rec.calls)

	var nilChain *Chain
	assert.Equal(t, 0, nilChain.Len())
	assert.Nil(t, nilChain.Middlewares())
}

type staticSchemas map[string]*gojsonschema.Schema

func (s staticSchemas) Schema(tool string) (*gojsonschema.Schema, bool) {
	schema, ok := s[tool]
	return schema, ok
}

func calculatorSchema(t *testing.T) *gojsonschema.Schema {
	t.Helper()
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"type": "number"},
			"b": map[string]interface{}{"type": "number"},
		},
		"required": []string{"a", "b"},
	}))
	require.NoError(t, err)
	return schema
}

func TestValidation(t *testing.T) {
	v := NewValidation(staticSchemas{"calculator": calculatorSchema(t)})
	rec := &recorder{}
	handler := NewChain(v).Then(toolHandler(rec))

	tests := []struct {
		name    string
		tool    string
		params  *metadata.Metadata
		wantErr bool
	}{
		{"valid floats", "calculator", metadata.New().Insert("a", metadata.Float(5)).Insert("b", metadata.Float(3)), false},
		{"ints are numbers", "calculator", metadata.New().Insert("a", metadata.Int(5)).Insert("b", metadata.Int(3)), false},
		{"missing required", "calculator", metadata.New().Insert("a", metadata.Float(5)), true},
		{"wrong type", "calculator", metadata.New().Insert("a", metadata.String("5")).Insert("b", metadata.Float(3)), true},
		{"unknown key", "calculator", metadata.New().Insert("a", metadata.Float(5)).Insert("b", metadata.Float(3)).Insert("c", metadata.Int(1)), true},
		{"no schema passes", "echo", metadata.New().Insert("anything", metadata.Bool(true)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler(context.Background(), &Call{Tool: tt.tool, Params: tt.params})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.tool, verr.Tool)
			assert.NotEmpty(t, verr.Problems)
			assert.ErrorIs(t, err, ErrInvalidParams)
			assert.Equal(t, "invalid_params", verr.ErrorKind())
		})
	}
}

func TestValidationShortCircuitsTool(t *testing.T) {
	rec := &recorder{}
	handler := NewChain(NewValidation(staticSchemas{"calculator": calculatorSchema(t)})).Then(toolHandler(rec))

	_, err := handler(context.Background(), &Call{Tool: "calculator", Params: metadata.New()})
	require.Error(t, err)
	assert.Empty(t, rec.calls)
}

func TestRateLimitWindow(t *testing.T) {
	rl := NewRateLimit(RateLimitConfig{MaxRequests: 2, Window: time.Minute})
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	handler := NewChain(rl).Then(toolHandler(&recorder{}))
	call := &Call{Tool: "calculator"}

	_, err := handler(context.Background(), call)
	require.NoError(t, err)
	_, err = handler(context.Background(), call)
	require.NoError(t, err)

	_, err = handler(context.Background(), call)
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "rate limit exceeded", rlErr.Reason)
	assert.ErrorIs(t, err, ErrRateLimited)

	now = now.Add(61 * time.Second)
	_, err = handler(context.Background(), call)
	assert.NoError(t, err)

	requests, inFlight := rl.Stats("*")
	assert.Equal(t, 1, requests)
	assert.Equal(t, 0, inFlight)
}

func TestRateLimitInFlightPerTool(t *testing.T) {
	rl := NewRateLimit(RateLimitConfig{MaxInFlight: 1, PerTool: true})

	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := func(ctx context.Context, call *Call) (*metadata.Metadata, error) {
		close(entered)
		<-release
		return metadata.New(), nil
	}
	handler := NewChain(rl).Then(blocking)

	done := make(chan error, 1)
	go func() {
		_, err := handler(context.Background(), &Call{Tool: "slow"})
		done <- err
	}()
	<-entered

	_, err := handler(context.Background(), &Call{Tool: "slow"})
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "slow", rlErr.Key)
	assert.Equal(t, "too many concurrent requests", rlErr.Reason)

	_, err = NewChain(rl).Then(toolHandler(&recorder{}))(context.Background(), &Call{Tool: "other"})
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
	_, inFlight := rl.Stats("slow")
	assert.Equal(t, 0, inFlight)
}

func TestLoggingRecordsOutcome(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	boom := errors.New("boom")

	chain := NewChain(NewLogging(&logger))
	_, err := chain.Then(toolHandler(&recorder{}))(context.Background(), &Call{Tool: "calculator", Params: metadata.New()})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"tool":"calculator"`)
	assert.Contains(t, buf.String(), `"call_id":`)
	assert.Contains(t, buf.String(), "Tool call completed")

	buf.Reset()
	failing := func(ctx context.Context, call *Call) (*metadata.Metadata, error) { return nil, boom }
	_, err = chain.Then(failing)(context.Background(), &Call{Tool: "calculator"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "Tool call failed")
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestTracingAndMetricsPassThrough(t *testing.T) {
	rec := &recorder{}
	chain := NewChain(NewTracing(), NewMetrics())

	result, err := chain.Then(toolHandler(rec))(context.Background(), &Call{Tool: "calculator", TaskID: "task-1"})
	require.NoError(t, err)
	assert.True(t, result.Has("ok"))
	assert.Equal(t, []string{"T"}, rec.calls)
}
