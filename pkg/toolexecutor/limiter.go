package toolexecutor

import (
	"context"
	"sort"
	"sync"

	"github.com/harun/atlas/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// OverflowPolicy decides what happens to a call that finds every slot of its tool taken.
type OverflowPolicy string

const (
	// OverflowQueue parks the call in a FIFO queue of bounded depth.
	OverflowQueue OverflowPolicy = "queue"
	// OverflowReject fails the call with ErrOverloaded at once.
	OverflowReject OverflowPolicy = "reject"
)

// LimiterConfig sets per-tool concurrency. A limit of zero means unlimited.
type LimiterConfig struct {
	MaxConcurrent int
	QueueDepth    int
	Overflow      OverflowPolicy
	PerTool       map[string]int
	// Logger defaults to the global logger.
	Logger *zerolog.Logger
}

// LaneStats is a point-in-time view of one tool's lane.
type LaneStats struct {
	Tool    string `json:"tool"`
	Limit   int    `json:"limit"`
	Running int    `json:"running"`
	Queued  int    `json:"queued"`
}

// laneState tracks slots and waiters for a single tool
type laneState struct {
	mu      sync.Mutex
	limit   int
	running int
	queue   []chan struct{}
}

// Limiter hands out per-tool execution slots.
type Limiter struct {
	cfg    LimiterConfig
	logger zerolog.Logger
	mu     sync.RWMutex
	lanes  map[string]*laneState
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowQueue
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	observability.EnsureRegistered()
	return &Limiter{
		cfg:    cfg,
		logger: logger,
		lanes:  make(map[string]*laneState),
	}
}

func (l *Limiter) limitFor(tool string) int {
	if limit, ok := l.cfg.PerTool[tool]; ok {
		return limit
	}
	return l.cfg.MaxConcurrent
}

func (l *Limiter) lane(tool string) *laneState {
	l.mu.RLock()
	ls, ok := l.lanes[tool]
	l.mu.RUnlock()
	if ok {
		return ls
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if ls, ok = l.lanes[tool]; !ok {
		ls = &laneState{limit: l.limitFor(tool)}
		l.lanes[tool] = ls
		l.logger.Debug().Str("tool", tool).Int("limit", ls.limit).Msg("Lane initialized")
	}
	return ls
}

// Acquire blocks until tool has a free slot, the queue overflows, or ctx ends. The returned
// release func must be called exactly once when the call finishes; extra calls are ignored.
func (l *Limiter) Acquire(ctx context.Context, tool string) (func(), error) {
	ls := l.lane(tool)

	ls.mu.Lock()
	if ls.limit <= 0 || (ls.running < ls.limit && len(ls.queue) == 0) {
		ls.running++
		l.publish(tool, ls)
		ls.mu.Unlock()
		return l.releaser(tool, ls), nil
	}

	if l.cfg.Overflow == OverflowReject || len(ls.queue) >= l.cfg.QueueDepth {
		ls.mu.Unlock()
		return nil, ErrOverloaded
	}

	ready := make(chan struct{})
	ls.queue = append(ls.queue, ready)
	queuePos := len(ls.queue)
	l.publish(tool, ls)
	ls.mu.Unlock()

	l.logger.Debug().Str("tool", tool).Int("queuePos", queuePos).Msg("Tool call queued")

	select {
	case <-ready:
		return l.releaser(tool, ls), nil
	case <-ctx.Done():
		ls.mu.Lock()
		for i, w := range ls.queue {
			if w == ready {
				ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
				l.publish(tool, ls)
				ls.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		ls.mu.Unlock()
		// The slot was handed over while ctx ended; pass it on.
		l.releaser(tool, ls)()
		return nil, ctx.Err()
	}
}

func (l *Limiter) releaser(tool string, ls *laneState) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ls.mu.Lock()
			defer ls.mu.Unlock()
			if len(ls.queue) > 0 {
				next := ls.queue[0]
				ls.queue = ls.queue[1:]
				close(next)
			} else {
				ls.running--
			}
			l.publish(tool, ls)
		})
	}
}

// publish must be called with ls.mu held.
func (l *Limiter) publish(tool string, ls *laneState) {
	observability.SetLaneState(tool, ls.running, len(ls.queue))
}

// Stats returns the lanes seen so far, sorted by tool name.
func (l *Limiter) Stats() []LaneStats {
	l.mu.RLock()
	tools := make([]string, 0, len(l.lanes))
	for tool := range l.lanes {
		tools = append(tools, tool)
	}
	l.mu.RUnlock()
	sort.Strings(tools)

	out := make([]LaneStats, 0, len(tools))
	for _, tool := range tools {
		out = append(out, l.LaneStats(tool))
	}
	return out
}

// LaneStats returns the current state of one tool's lane.
func (l *Limiter) LaneStats(tool string) LaneStats {
	l.mu.RLock()
	ls, ok := l.lanes[tool]
	l.mu.RUnlock()
	if !ok {
		return LaneStats{Tool: tool, Limit: l.limitFor(tool)}
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return LaneStats{Tool: tool, Limit: ls.limit, Running: ls.running, Queued: len(ls.queue)}
}
