package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opshub/bridge/internal/event"
	"github.com/opshub/bridge/internal/eventbus"
	"github.com/opshub/bridge/pkg/cerr"
)

// Service owns every task mutation. Methods that change lane or owner run
// under one process-wide mutex, so concurrent requests can never hand the
// same task to two slots or the same slot two tasks.
type Service struct {
	mu     sync.Mutex
	repo   Repository
	events event.Repository
	bus    *eventbus.Bus
}

func NewService(repo Repository, events event.Repository, bus *eventbus.Bus) *Service {
	return &Service{
		repo:   repo,
		events: events,
		bus:    bus,
	}
}

type CreateParams struct {
	Title    string
	Lane     Lane
	Priority Priority
	Owner    string
	Detail   string
}

func (s *Service) Create(ctx context.Context, params CreateParams) (*Task, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "title is required", nil)
	}
	lane := params.Lane
	if lane == "" {
		lane = LaneQueued
	}
	if lane != LaneProposed && lane != LaneQueued {
		return nil, cerr.NewError(cerr.InvalidArgument, "new tasks must start in proposed or queued", nil)
	}
	priority := params.Priority
	if priority == "" {
		priority = PriorityP2
	}
	if !priority.Valid() {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid priority %q", params.Priority), nil)
	}

	now := time.Now()
	t := &Task{
		ID:        ulid.Make().String(),
		Title:     title,
		Lane:      lane,
		Priority:  priority,
		Owner:     params.Owner,
		Detail:    params.Detail,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.record(ctx, event.New(event.TypeTaskCreated, t.ID, "", t.Title))
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, lane Lane, owner string, limit, offset int) ([]*Task, int, error) {
	return s.repo.List(ctx, lane, owner, limit, offset)
}

type UpdateParams struct {
	Title    *string
	Priority *Priority
	Lane     *Lane
	Owner    *string
	Detail   *string
}

func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		if title == "" {
			return nil, cerr.NewError(cerr.InvalidArgument, "title is required", nil)
		}
		t.Title = title
	}
	if params.Priority != nil {
		if !params.Priority.Valid() {
			return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid priority %q", *params.Priority), nil)
		}
		t.Priority = *params.Priority
	}
	if params.Owner != nil {
		if t.Lane == LaneDevelopment {
			return nil, cerr.NewError(cerr.FailedPrecondition, "cannot change owner of a task in development", nil)
		}
		t.Owner = *params.Owner
	}
	if params.Detail != nil {
		t.Detail = *params.Detail
	}

	laneChanged := false
	if params.Lane != nil && *params.Lane != t.Lane {
		if !params.Lane.Valid() {
			return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid lane %q", *params.Lane), nil)
		}
		if !t.Lane.CanTransitionTo(*params.Lane) {
			return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("cannot move task from %s to %s", t.Lane, *params.Lane), nil)
		}
		t.Lane = *params.Lane
		laneChanged = true
	}

	t.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}

	detail := ""
	if laneChanged {
		detail = string(t.Lane)
	}
	s.record(ctx, event.New(event.TypeTaskUpdated, t.ID, t.Owner, detail))
	return t, nil
}

// Assign hands the task to the slot and moves it into development.
// The task must be queued and the slot must not already own a
// development task.
func (s *Service) Assign(ctx context.Context, taskID, slotID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Lane != LaneQueued {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task is not queued", nil)
	}

	active, _, err := s.repo.List(ctx, LaneDevelopment, slotID, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("slot %s already has an active task", slotID), nil)
	}

	t.Owner = slotID
	t.Lane = LaneDevelopment
	t.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.record(ctx, event.New(event.TypeTaskAssigned, t.ID, slotID, t.Title))
	return t, nil
}

// Complete clears the owner and moves the task out of development.
// The destination defaults to review; done is allowed for work that
// needs no review pass.
func (s *Service) Complete(ctx context.Context, taskID string, dest Lane) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dest == "" {
		dest = LaneReview
	}
	if dest != LaneReview && dest != LaneDone {
		return nil, cerr.NewError(cerr.InvalidArgument, "completion lane must be review or done", nil)
	}

	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Lane != LaneDevelopment {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task is not in development", nil)
	}

	slotID := t.Owner
	t.Owner = ""
	t.Lane = dest
	t.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.record(ctx, event.New(event.TypeTaskCompleted, t.ID, slotID, string(dest)))
	return t, nil
}

// Fail moves a development task to blocked. The owner is kept so the
// board shows which slot hit the failure.
func (s *Service) Fail(ctx context.Context, taskID, reason string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Lane != LaneDevelopment {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task is not in development", nil)
	}

	t.Lane = LaneBlocked
	t.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	slog.Error("task: session failed", "task_id", t.ID, "slot", t.Owner, "reason", reason)
	s.record(ctx, event.New(event.TypeTaskFailed, t.ID, t.Owner, reason))
	return t, nil
}

// Delete moves the task to the trash. Tasks in development must be
// completed or failed first.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Lane == LaneDevelopment {
		return cerr.NewError(cerr.FailedPrecondition, "cannot delete a task in development", nil)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, event.New(event.TypeTaskDeleted, t.ID, t.Owner, t.Title))
	return nil
}

// ActiveBySlot maps each slot ID to the development task it owns.
func (s *Service) ActiveBySlot(ctx context.Context) (map[string]*Task, error) {
	active, _, err := s.repo.List(ctx, LaneDevelopment, "", 0, 0)
	if err != nil {
		return nil, err
	}
	bySlot := make(map[string]*Task, len(active))
	for _, t := range active {
		if t.Owner == "" {
			continue
		}
		if _, ok := bySlot[t.Owner]; !ok {
			bySlot[t.Owner] = t
		}
	}
	return bySlot, nil
}

func (s *Service) record(ctx context.Context, ev *event.Event) {
	if err := s.events.Append(ctx, ev); err != nil {
		slog.Error("task: failed to record event", "type", ev.Type, "task_id", ev.TaskID, "error", err)
	}
	s.bus.Publish(ev)
}
