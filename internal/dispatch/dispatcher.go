package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opshub/bridge/internal/heartbeat"
	"github.com/opshub/bridge/internal/slot"
	"github.com/opshub/bridge/internal/task"
	"github.com/opshub/bridge/pkg/cerr"
	"github.com/opshub/bridge/pkg/panicerr"
)

// DefaultInterval is how often the assignment pass runs.
const DefaultInterval = 30 * time.Second

// Dispatcher hands queued tasks to idle slots on a fixed tick. All
// selection rules live here; the task service only enforces the state
// transitions.
type Dispatcher struct {
	tasks      *task.Service
	roster     *slot.Roster
	beats      *heartbeat.Store
	interval   time.Duration
	staleAfter time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func New(tasks *task.Service, roster *slot.Roster, beats *heartbeat.Store) *Dispatcher {
	return &Dispatcher{
		tasks:      tasks,
		roster:     roster,
		beats:      beats,
		interval:   DefaultInterval,
		staleAfter: heartbeat.DefaultStaleAfter,
	}
}

// SetInterval overrides the tick interval. Call before Start.
func (d *Dispatcher) SetInterval(interval time.Duration) {
	if interval > 0 {
		d.interval = interval
	}
}

// SetStaleAfter overrides the heartbeat staleness window. Call before Start.
func (d *Dispatcher) SetStaleAfter(staleAfter time.Duration) {
	if staleAfter > 0 {
		d.staleAfter = staleAfter
	}
}

// Start launches the periodic assignment loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx != nil {
		return fmt.Errorf("dispatcher already running")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	go d.loop(d.ctx)
	slog.Info("dispatcher started", "interval", d.interval)
	return nil
}

// Stop terminates the assignment loop.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.ctx = nil
		d.cancel = nil
	}
	slog.Info("dispatcher stopped")
	return nil
}

func (d *Dispatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A bad pass is logged and skipped; the loop itself must
			// survive until shutdown.
			if err := panicerr.SafeContext(d.RunOnce)(ctx); err != nil {
				slog.Error("dispatcher: assignment pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single assignment pass. Each pass hands at most
// one task to each idle slot; whatever is left waits for the next tick.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	queued, _, err := d.tasks.List(ctx, task.LaneQueued, "", 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list queued tasks: %w", err)
	}
	if len(queued) == 0 {
		return nil
	}
	sortByUrgency(queued)

	active, err := d.tasks.ActiveBySlot(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active tasks: %w", err)
	}
	beats, err := d.beats.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to read heartbeats: %w", err)
	}

	now := time.Now()
	taken := make(map[string]bool, len(queued))
	for _, sl := range d.roster.Slots() {
		if _, busy := active[sl.ID]; busy {
			continue
		}
		rec := beats[sl.ID]
		if heartbeat.Resolve("", rec.LastUpdate, now, d.staleAfter) != heartbeat.StatusIdle {
			// No live worker behind this slot; assigning would strand the task.
			continue
		}

		for _, t := range queued {
			if taken[t.ID] || !sl.Accepts(t.Owner) {
				continue
			}
			if _, err := d.tasks.Assign(ctx, t.ID, sl.ID); err != nil {
				slog.Error("dispatcher: failed to assign task", "task_id", t.ID, "slot", sl.ID, "error", err)
				break
			}
			taken[t.ID] = true
			slog.Info("dispatcher: task assigned", "task_id", t.ID, "slot", sl.ID, "priority", t.Priority)
			break
		}
	}
	return nil
}

// AssignTask assigns one queued task to the first idle slot that accepts
// it. It backs the manual auto-assign endpoint and applies the same
// selection rules as the periodic pass.
func (d *Dispatcher) AssignTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := d.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Lane != task.LaneQueued {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task is not queued", nil)
	}

	active, err := d.tasks.ActiveBySlot(ctx)
	if err != nil {
		return nil, err
	}
	beats, err := d.beats.Snapshot()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, sl := range d.roster.Slots() {
		if _, busy := active[sl.ID]; busy {
			continue
		}
		rec := beats[sl.ID]
		if heartbeat.Resolve("", rec.LastUpdate, now, d.staleAfter) != heartbeat.StatusIdle {
			continue
		}
		if !sl.Accepts(t.Owner) {
			continue
		}
		return d.tasks.Assign(ctx, t.ID, sl.ID)
	}
	return nil, cerr.NewError(cerr.FailedPrecondition, "no idle slot accepts this task", nil)
}

// sortByUrgency orders by priority rank, then first-in-first-out by
// creation time.
func sortByUrgency(tasks []*task.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority.Rank() != tasks[j].Priority.Rank() {
			return tasks[i].Priority.Rank() < tasks[j].Priority.Rank()
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
