package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRetentionSchedule = "@every 10m"
	DefaultRetentionTTL      = 24 * time.Hour
)

// JanitorConfig configures retention sweeps.
type JanitorConfig struct {
	// Schedule is a standard cron expression or descriptor such as "@every 10m".
	Schedule string
	// TTL is how long a terminal task is kept after its last transition.
	TTL    time.Duration
	Logger *zerolog.Logger
}

// Janitor periodically prunes terminal tasks from a Tracker.
type Janitor struct {
	tracker *Tracker
	ttl     time.Duration
	cron    *cron.Cron
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

func NewJanitor(tracker *Tracker, cfg JanitorConfig) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultRetentionSchedule
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRetentionTTL
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	j := &Janitor{
		tracker: tracker,
		ttl:     cfg.TTL,
		cron:    cron.New(),
		logger:  logger.With().Str("component", "task_janitor").Logger(),
		now:     time.Now,
	}
	if _, err := j.cron.AddFunc(cfg.Schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

// Sweep prunes once and returns the number of tasks removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	removed := j.tracker.Prune(ctx, j.now().Add(-j.ttl))
	if removed > 0 {
		j.logger.Info().
			Int("removed", removed).
			Dur("ttl", j.ttl).
			Msg("Pruned expired tasks")
	}
	return removed
}

func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.cron.Start()
	j.logger.Info().Dur("ttl", j.ttl).Msg("Task janitor started")
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to expire.
func (j *Janitor) Stop(ctx context.Context) {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.mu.Unlock()

	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
	j.logger.Info().Msg("Task janitor stopped")
}
