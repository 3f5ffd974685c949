package middleware

import (
	"context"

	"github.com/harun/atlas/pkg/metadata"
)

// Call is one tool invocation travelling through the chain. Middleware may replace Params.
type Call struct {
	Tool   string
	TaskID string
	Params *metadata.Metadata
}

// Handler runs a call and returns the tool result.
type Handler func(ctx context.Context, call *Call) (*metadata.Metadata, error)

// Middleware intercepts a call. It may forward to next, transform the call or the result,
// or return early.
type Middleware interface {
	Handle(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error)
}

// Func adapts a plain function to the Middleware interface.
type Func func(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error)

func (f Func) Handle(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error) {
	return f(ctx, call, next)
}

// Chain is an ordered list of middleware applied by an explicit driver.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a chain; nil entries are skipped.
func NewChain(middlewares ...Middleware) *Chain {
	c := &Chain{}
	for _, mw := range middlewares {
		c.Use(mw)
	}
	return c
}

// Use appends mw to the end of the chain.
func (c *Chain) Use(mw Middleware) *Chain {
	if mw != nil {
		c.middlewares = append(c.middlewares, mw)
	}
	return c
}

func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.middlewares)
}

// Middlewares returns the chain contents in execution order.
func (c *Chain) Middlewares() []Middleware {
	if c == nil {
		return nil
	}
	out := make([]Middleware, len(c.middlewares))
	copy(out, c.middlewares)
	return out
}

// Then returns a handler that drives call through every middleware before final.
func (c *Chain) Then(final Handler) Handler {
	if c.Len() == 0 {
		return final
	}
	return func(ctx context.Context, call *Call) (*metadata.Metadata, error) {
		return c.dispatch(ctx, 0, call, final)
	}
}

func (c *Chain) dispatch(ctx context.Context, index int, call *Call, final Handler) (*metadata.Metadata, error) {
	if index == len(c.middlewares) {
		return final(ctx, call)
	}
	next := func(ctx context.Context, call *Call) (*metadata.Metadata, error) {
		return c.dispatch(ctx, index+1, call, final)
	}
	return c.middlewares[index].Handle(ctx, call, next)
}
