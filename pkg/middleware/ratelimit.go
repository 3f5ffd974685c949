package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/atlas/pkg/metadata"
)

// ErrRateLimited is matched by every *RateLimitError.
var ErrRateLimited = errors.New("rate limited")

// RateLimitError reports a call rejected by the rate limiter.
type RateLimitError struct {
	Key    string
	Reason string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s): %s", e.Key, e.Reason)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

func (e *RateLimitError) ErrorKind() string { return "rate_limited" }

// RateLimitConfig configures a sliding-window limiter with an optional in-flight cap.
// Zero limits disable the corresponding check.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	MaxInFlight int
	// PerTool keeps a separate window per tool; otherwise one window covers the whole agent.
	PerTool bool
}

const agentWideKey = "*"

type slidingWindow struct {
	requests []time.Time
	inFlight int
}

// RateLimit rejects calls that exceed the configured request rate or in-flight count.
type RateLimit struct {
	cfg     RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

func NewRateLimit(cfg RateLimitConfig) *RateLimit {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimit{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*slidingWindow),
	}
}

func (r *RateLimit) key(call *Call) string {
	if r.cfg.PerTool {
		return call.Tool
	}
	return agentWideKey
}

func (r *RateLimit) Handle(ctx context.Context, call *Call, next Handler) (*metadata.Metadata, error) {
	key := r.key(call)
	if err := r.start(key); err != nil {
		return nil, err
	}
	defer r.end(key)
	return next(ctx, call)
}

func (r *RateLimit) start(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[key]
	if !ok {
		w = &slidingWindow{}
		r.windows[key] = w
	}

	if r.cfg.MaxInFlight > 0 && w.inFlight >= r.cfg.MaxInFlight {
		return &RateLimitError{Key: key, Reason: "too many concurrent requests"}
	}

	now := r.now()
	r.prune(w, now)
	if r.cfg.MaxRequests > 0 && len(w.requests) >= r.cfg.MaxRequests {
		return &RateLimitError{Key: key, Reason: "rate limit exceeded"}
	}

	w.requests = append(w.requests, now)
	w.inFlight++
	return nil
}

func (r *RateLimit) end(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.windows[key]; ok && w.inFlight > 0 {
		w.inFlight--
	}
}

func (r *RateLimit) prune(w *slidingWindow, now time.Time) {
	cutoff := now.Add(-r.cfg.Window)
	kept := w.requests[:0]
	for _, at := range w.requests {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	w.requests = kept
}

// Stats returns the requests inside the current window and the calls in flight for key.
// Use the tool name as key when PerTool is set, otherwise "*".
func (r *RateLimit) Stats(key string) (requests, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[key]
	if !ok {
		return 0, 0
	}
	r.prune(w, r.now())
	return len(w.requests), w.inFlight
}
