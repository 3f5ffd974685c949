package toolexecutor

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

var validParameterTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

type registration struct {
	name        string
	tool        Tool
	params      []Parameter
	inputSchema map[string]interface{}
	schema      *gojsonschema.Schema
}

// Registry maps tool names to implementations. Register is only called while an agent is being
// built; after Seal the registry is immutable and lookups take no locks.
type Registry struct {
	tools  map[string]*registration
	order  []string
	sealed atomic.Bool
	logger zerolog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]*registration),
		logger: log.Logger,
	}
}

// SetLogger replaces the logger used for registration events.
func (r *Registry) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// Register adds tool under name. It fails with ErrDuplicateTool if name is taken and with
// ErrRegistrySealed once the registry has been sealed.
func (r *Registry) Register(name string, tool Tool) error {
	if r.sealed.Load() {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, name)
	}
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool == nil {
		return fmt.Errorf("tool %s cannot be nil", name)
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}

	reg := &registration{name: name, tool: tool}
	if describer, ok := tool.(ParameterDescriber); ok {
		params := describer.Parameters()
		if err := validateParameters(params); err != nil {
			return fmt.Errorf("invalid parameters for tool %s: %w", name, err)
		}
		schemaMap := buildInputSchema(params)
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
		if err != nil {
			return fmt.Errorf("failed to compile schema for tool %s: %w", name, err)
		}
		reg.params = params
		reg.inputSchema = schemaMap
		reg.schema = schema
	}

	r.tools[name] = reg
	r.order = append(r.order, name)

	r.logger.Debug().
		Str("tool", name).
		Int("parameters", len(reg.params)).
		Msg("Tool registered")
	return nil
}

// Seal ends the registration phase.
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (Tool, error) {
	reg, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return reg.tool, nil
}

// List returns the registered tools in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		reg := r.tools[name]
		out = append(out, Descriptor{
			Name:        name,
			Description: reg.tool.Description(),
			Parameters:  append([]Parameter(nil), reg.params...),
		})
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.order)
}

// Schema returns the compiled parameter schema of a tool that declared parameters.
func (r *Registry) Schema(name string) (*gojsonschema.Schema, bool) {
	reg, ok := r.tools[name]
	if !ok || reg.schema == nil {
		return nil, false
	}
	return reg.schema, true
}

// InputSchema returns the JSON Schema document for a tool. Tools without declared parameters get
// an open object schema.
func (r *Registry) InputSchema(name string) (map[string]interface{}, bool) {
	reg, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	if reg.inputSchema == nil {
		return map[string]interface{}{"type": "object"}, true
	}
	return reg.inputSchema, true
}

func validateParameters(params []Parameter) error {
	seen := make(map[string]bool, len(params))
	for _, param := range params {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if !validParameterTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}
	return nil
}

func buildInputSchema(params []Parameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		paramSchema := map[string]interface{}{
			"type": param.Type,
		}
		if param.Description != "" {
			paramSchema["description"] = param.Description
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}
