package coretools

import (
	"context"
	"testing"
	"time"

	"github.com/harun/atlas/pkg/agent"
	"github.com/harun/atlas/pkg/metadata"
	"github.com/harun/atlas/pkg/middleware"
	"github.com/harun/atlas/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculator(t *testing.T) {
	out, err := Calculator().Execute(context.Background(), metadata.New().Insert("a", metadata.Float(5)).Insert("b", metadata.Int(3)))
	require.NoError(t, err)
	sum, err := out.GetFloat("sum")
	require.NoError(t, err)
	assert.Equal(t, 8.0, sum)

	_, err = Calculator().Execute(context.Background(), metadata.New().Insert("a", metadata.String("5")).Insert("b", metadata.Int(3)))
	assert.ErrorIs(t, err, metadata.ErrTypeMismatch)
}

func TestEcho(t *testing.T) {
	out, err := Echo().Execute(context.Background(), metadata.New().Insert("text", metadata.String("hi")).Insert("times", metadata.Int(2)))
	require.NoError(t, err)
	text, _ := out.GetString("text")
	assert.Equal(t, "hi", text)
	repeated, err := out.GetList("repeated")
	require.NoError(t, err)
	assert.Len(t, repeated, 2)

	_, err = Echo().Execute(context.Background(), metadata.New().Insert("text", metadata.String("hi")).Insert("times", metadata.Int(-1)))
	assert.Error(t, err)
	_, err = Echo().Execute(context.Background(), metadata.New())
	assert.ErrorIs(t, err, metadata.ErrMissingKey)
}

func TestSleepHonorsCancellation(t *testing.T) {
	out, err := Sleep().Execute(context.Background(), metadata.New().Insert("ms", metadata.Int(1)))
	require.NoError(t, err)
	assert.True(t, out.Has("slept_ms"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = Sleep().Execute(ctx, metadata.New().Insert("ms", metadata.Int(60000)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	_, err = Sleep().Execute(context.Background(), metadata.New().Insert("ms", metadata.Int(-5)))
	assert.Error(t, err)
}

func TestRegisterCoreToolsWithValidation(t *testing.T) {
	logger := zerolog.Nop()
	b := RegisterCoreTools(agent.NewBuilder("core").Logger(&logger).Capabilities("*"))
	a, err := b.Middleware(middleware.NewValidation(b.Registry())).
		PipelineOptions(toolexecutor.Options{DefaultTimeout: 50 * time.Millisecond}).
		Build()
	require.NoError(t, err)

	var names []string
	for _, d := range a.Tools() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"calculator", "echo", "sleep"}, names)

	_, err = a.ExecuteTask(context.Background(), "", metadata.New().
		Insert("tool", metadata.String("echo")).
		Insert("text", metadata.String("x")).
		Insert("extra", metadata.Bool(true)))
	assert.ErrorIs(t, err, middleware.ErrInvalidParams)

	_, err = a.ExecuteTask(context.Background(), "", metadata.New().
		Insert("tool", metadata.String("sleep")).
		Insert("ms", metadata.Int(5000)))
	assert.ErrorIs(t, err, toolexecutor.ErrTimeout)
}
