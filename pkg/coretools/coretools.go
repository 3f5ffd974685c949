package coretools

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/atlas/pkg/agent"
	"github.com/harun/atlas/pkg/metadata"
	"github.com/harun/atlas/pkg/toolexecutor"
)

// MaxSleep bounds the duration accepted by the sleep tool.
const MaxSleep = 10 * time.Minute

// Tools returns the built-in tools in registration order.
func Tools() []toolexecutor.Tool {
	return []toolexecutor.Tool{
		Calculator(),
		Echo(),
		Sleep(),
	}
}

// RegisterCoreTools adds every built-in tool to b.
func RegisterCoreTools(b *agent.Builder) *agent.Builder {
	for _, tool := range Tools() {
		b.Tool(tool.Name(), tool)
	}
	return b
}

// Calculator adds two numbers.
func Calculator() toolexecutor.Tool {
	return toolexecutor.NewTool(
		"calculator",
		"Add two numbers and return their sum.",
		func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
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
		toolexecutor.Parameter{Name: "a", Type: "number", Description: "First operand", Required: true},
		toolexecutor.Parameter{Name: "b", Type: "number", Description: "Second operand", Required: true},
	)
}

// Echo returns its input unchanged.
func Echo() toolexecutor.Tool {
	return toolexecutor.NewTool(
		"echo",
		"Return the given text, optionally repeated.",
		func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
			text, err := params.GetString("text")
			if err != nil {
				return nil, err
			}
			out := metadata.New().Insert("text", metadata.String(text))
			if params.Has("times") {
				times, err := params.GetInt("times")
				if err != nil {
					return nil, err
				}
				if times < 0 || times > 100 {
					return nil, fmt.Errorf("times must be between 0 and 100, got %d", times)
				}
				items := make([]metadata.Value, times)
				for i := range items {
					items[i] = metadata.String(text)
				}
				out.Insert("repeated", metadata.List(items...))
			}
			return out, nil
		},
		toolexecutor.Parameter{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		toolexecutor.Parameter{Name: "times", Type: "integer", Description: "Number of repetitions"},
	)
}

// Sleep waits for the given number of milliseconds or until the call is cancelled.
func Sleep() toolexecutor.Tool {
	return toolexecutor.NewTool(
		"sleep",
		"Wait for a number of milliseconds. Stops early when the call is cancelled.",
		func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
			ms, err := params.GetNumber("ms")
			if err != nil {
				return nil, err
			}
			d := time.Duration(ms * float64(time.Millisecond))
			if d < 0 || d > MaxSleep {
				return nil, fmt.Errorf("ms must be between 0 and %d", MaxSleep.Milliseconds())
			}

			start := time.Now()
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return metadata.New().Insert("slept_ms", metadata.Int(time.Since(start).Milliseconds())), nil
		},
		toolexecutor.Parameter{Name: "ms", Type: "number", Description: "Milliseconds to wait", Required: true},
	)
}
