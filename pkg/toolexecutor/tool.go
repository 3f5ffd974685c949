package toolexecutor

import (
	"context"
	"fmt"

	"github.com/harun/atlas/pkg/metadata"
)

// Tool is a named capability invoked by the pipeline. Implementations must be safe for concurrent
// calls and should return promptly once ctx is cancelled; cancellation is cooperative.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error)
}

// Parameter declares one expected input key. Type is a JSON Schema type name.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ParameterDescriber is implemented by tools that declare their inputs. The registry turns the
// declaration into a JSON Schema used by the validation middleware and the MCP edge.
type ParameterDescriber interface {
	Parameters() []Parameter
}

// HandlerFunc is the function form of Tool.Execute.
type HandlerFunc func(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error)

// FuncTool builds a Tool from a function.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	Params          []Parameter
	Handler         HandlerFunc
}

func NewTool(name, description string, handler HandlerFunc, params ...Parameter) *FuncTool {
	return &FuncTool{
		ToolName:        name,
		ToolDescription: description,
		Params:          params,
		Handler:         handler,
	}
}

func (t *FuncTool) Name() string { return t.ToolName }
func (t *FuncTool) Description() string { return t.ToolDescription }
func (t *FuncTool) Parameters() []Parameter { return t.Params }

func (t *FuncTool) Execute(ctx context.Context, params *metadata.Metadata) (*metadata.Metadata, error) {
	if t.Handler == nil {
		return nil, fmt.Errorf("tool %s has no handler", t.ToolName)
	}
	return t.Handler(ctx, params)
}

// Descriptor is the listing form of a registered tool.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}
