package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/atlas/pkg/metadata"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidParams is matched by every *ValidationError.
var ErrInvalidParams = errors.New("invalid parameters")

// ValidationError lists the schema violations found in a call's parameters.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidParams }

func (e *ValidationError) ErrorKind() string { return "invalid_params" }

// SchemaSource resolves the compiled parameter schema of a tool.
type SchemaSource interface {
	Schema(tool string) (*gojsonschema.Schema, bool)
}

// Validation rejects calls whose parameters do not satisfy the tool's declared schema.
// Tools without a schema pass through.
type Validation struct {
	schemas SchemaSource
}

func NewValidation(schemas SchemaSource) *Validation {
	return &Validation{schemas: schemas}
}

func (v *Validation) Handle(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error) {
	schema, ok := v.schemas.Schema(call.Tool)
	if !ok || schema == nil {
		return next(ctx, call)
	}

	payload, err := call.Params.MarshalJSON()
	if err != nil {
		return nil, &ValidationError{Tool: call.Tool, Problems: []string{err.Error()}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to validate parameters for %s: %w", call.Tool, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, &ValidationError{Tool: call.Tool, Problems: problems}
	}

	return next(ctx, call)
}
