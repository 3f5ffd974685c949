package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harun/atlas/internal/observability"
	"github.com/harun/atlas/pkg/metadata"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Observer is notified after a transition has been committed. prev is the status the task left;
// for a newly created task prev is empty. Observers run on the goroutine that made the
// transition and must not call back into the tracker for the same task.
type Observer func(ctx context.Context, prev Status, t *Task)

// Options configures a Tracker.
type Options struct {
	// Store persists every committed snapshot. Nil keeps tasks in memory only.
	Store  Store
	Logger *zerolog.Logger
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

type entry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[Task]
}

// Tracker owns the task table. It is safe for concurrent use.
type Tracker struct {
	tasks     sync.Map // id -> *entry
	store     Store
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string
	obsMu     sync.Mutex
	observers atomic.Pointer[[]Observer]
}

func NewTracker(opts Options) *Tracker {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	t := &Tracker{
		store:  opts.Store,
		logger: logger.With().Str("component", "task_tracker").Logger(),
		now:    opts.Now,
		newID:  opts.NewID,
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.newID == nil {
		t.newID = uuid.NewString
	}
	observability.EnsureRegistered()
	return t
}

// Observe registers fn for every subsequent transition.
func (t *Tracker) Observe(fn Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()

	var next []Observer
	if cur := t.observers.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, fn)
	t.observers.Store(&next)
}

// Create registers a new Pending task for input and returns its id.
func (t *Tracker) Create(ctx context.Context, input *metadata.Metadata) (string, error) {
	id := t.newID()
	if err := t.CreateWithID(ctx, id, input); err != nil {
		return "", err
	}
	return id, nil
}

// CreateWithID registers a new Pending task under a caller-chosen id. An id already known to the
// tracker or to its store fails with ErrDuplicateTask; a stored task is loaded back into the
// tracker first.
func (t *Tracker) CreateWithID(ctx context.Context, id string, input *metadata.Metadata) error {
	if id == "" {
		return fmt.Errorf("task id must not be empty")
	}
	if _, ok := t.tasks.Load(id); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	if t.rehydrate(ctx, id) {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	now := t.now()
	snap := &Task{
		ID:        id,
		Status:    StatusPending,
		Input:     input.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	e := &entry{}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot.Store(snap)

	if _, loaded := t.tasks.LoadOrStore(id, e); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}

	t.persist(ctx, snap)
	observability.RecordTaskTransition(string(StatusPending), 0, false)
	t.notify(ctx, "", snap)
	return nil
}

// MarkRunning moves a Pending task to Running.
func (t *Tracker) MarkRunning(ctx context.Context, id string) error {
	return t.transition(ctx, id, StatusRunning, nil)
}

// Complete records result and moves a Running task to Completed.
func (t *Tracker) Complete(ctx context.Context, id string, result *metadata.Metadata) error {
	return t.transition(ctx, id, StatusCompleted, func(next *Task) {
		next.Result = result.Clone()
	})
}

// Fail records cause and moves a Pending or Running task to Failed.
func (t *Tracker) Fail(ctx context.Context, id string, cause error) error {
	failure := FailureFrom(cause)
	if failure == nil {
		failure = &Failure{Kind: "internal", Message: "unknown failure"}
	}
	return t.transition(ctx, id, StatusFailed, func(next *Task) {
		next.Error = failure
	})
}

// Cancel moves a Pending or Running task to Cancelled.
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	return t.transition(ctx, id, StatusCancelled, nil)
}

func (t *Tracker) transition(ctx context.Context, id string, to Status, apply func(next *Task)) error {
	value, ok := t.tasks.Load(id)
	if !ok {
		return &UnknownTaskError{ID: id}
	}
	e := value.(*entry)

	e.mu.Lock()
	cur := e.snapshot.Load()
	if cur.Status == to && to.IsTerminal() {
		e.mu.Unlock()
		t.logger.Debug().
			Str("task_id", id).
			Str("status", string(to)).
			Msg("Duplicate terminal transition ignored")
		return nil
	}
	if !CanTransition(cur.Status, to) {
		e.mu.Unlock()
		return &TransitionError{ID: id, From: cur.Status, To: to}
	}

	next := cur.Clone()
	next.Status = to
	next.UpdatedAt = t.now()
	if apply != nil {
		apply(next)
	}
	t.persist(ctx, next)
	e.snapshot.Store(next)
	e.mu.Unlock()

	observability.RecordTaskTransition(string(to), next.Lifetime(), to.IsTerminal())
	t.logger.Debug().
		Str("task_id", id).
		Str("from", string(cur.Status)).
		Str("to", string(to)).
		Msg("Task transitioned")
	t.notify(ctx, cur.Status, next)
	return nil
}

// persist saves snap to the store. The in-memory table stays authoritative, so a store failure
// is logged rather than failing the transition.
func (t *Tracker) persist(ctx context.Context, snap *Task) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(ctx, snap); err != nil {
		t.logger.Warn().
			Err(err).
			Str("task_id", snap.ID).
			Str("status", string(snap.Status)).
			Msg("Failed to persist task")
	}
}

func (t *Tracker) notify(ctx context.Context, prev Status, snap *Task) {
	observers := t.observers.Load()
	if observers == nil {
		return
	}
	for _, fn := range *observers {
		fn(ctx, prev, snap.Clone())
	}
}

// Get returns a copy of the current snapshot of id.
func (t *Tracker) Get(id string) (*Task, bool) {
	value, ok := t.tasks.Load(id)
	if !ok {
		return nil, false
	}
	return value.(*entry).snapshot.Load().Clone(), true
}

// Status returns just the current status of id.
func (t *Tracker) Status(id string) (Status, bool) {
	value, ok := t.tasks.Load(id)
	if !ok {
		return "", false
	}
	return value.(*entry).snapshot.Load().Status, true
}

// Lookup is Get with a fallback to the store. A task found only in the store is loaded back
// into the tracker.
func (t *Tracker) Lookup(ctx context.Context, id string) (*Task, error) {
	if snap, ok := t.Get(id); ok {
		return snap, nil
	}
	if t.store == nil {
		return nil, &UnknownTaskError{ID: id}
	}
	stored, err := t.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.adopt(stored), nil
}

// rehydrate loads id from the store into the table and reports whether it was found. Store
// errors other than an unknown id are logged and treated as a miss.
func (t *Tracker) rehydrate(ctx context.Context, id string) bool {
	if t.store == nil {
		return false
	}
	stored, err := t.store.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrUnknownTask) {
			t.logger.Warn().Err(err).Str("task_id", id).Msg("Failed to load task from store")
		}
		return false
	}
	t.adopt(stored)
	t.logger.Debug().
		Str("task_id", id).
		Str("status", string(stored.Status)).
		Msg("Task loaded from store")
	return true
}

// adopt puts a stored snapshot into the table unless the id is already tracked, and returns the
// tracked snapshot.
func (t *Tracker) adopt(stored *Task) *Task {
	e := &entry{}
	e.snapshot.Store(stored.Clone())
	actual, _ := t.tasks.LoadOrStore(stored.ID, e)
	return actual.(*entry).snapshot.Load().Clone()
}

// List returns every tracked task ordered by creation time.
func (t *Tracker) List() []*Task {
	var out []*Task
	t.tasks.Range(func(_, value any) bool {
		out = append(out, value.(*entry).snapshot.Load().Clone())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of tracked tasks.
func (t *Tracker) Len() int {
	n := 0
	t.tasks.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Prune forgets terminal tasks last updated before cutoff and removes them from the store.
// It returns the number of tasks removed.
func (t *Tracker) Prune(ctx context.Context, cutoff time.Time) int {
	removed := 0
	t.tasks.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		snap := e.snapshot.Load()
		if snap.Status.IsTerminal() && snap.UpdatedAt.Before(cutoff) {
			t.tasks.Delete(key)
			removed++
			if t.store != nil {
				if err := t.store.Delete(ctx, snap.ID); err != nil {
					t.logger.Warn().Err(err).Str("task_id", snap.ID).Msg("Failed to delete pruned task")
				}
			}
		}
		e.mu.Unlock()
		return true
	})
	return removed
}
