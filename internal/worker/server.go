package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opshub/bridge/internal/heartbeat"
	"github.com/opshub/bridge/internal/slot"
	"github.com/opshub/bridge/internal/task"
	"github.com/opshub/bridge/pkg/cerr"
)

// View is one row of the worker board.
type View struct {
	Slot        string                `json:"slot"`
	Label       string                `json:"label"`
	Role        string                `json:"role,omitempty"`
	Status      heartbeat.Status      `json:"status"`
	Task        string                `json:"task,omitempty"`
	TaskID      string                `json:"taskId,omitempty"`
	AgentStatus heartbeat.AgentStatus `json:"agentStatus,omitempty"`
	LastBeatAt  *time.Time            `json:"lastBeatAt,omitempty"`
	Beats       int64                 `json:"beats"`
}

type Server struct {
	roster     *slot.Roster
	tasks      *task.Service
	beats      *heartbeat.Store
	staleAfter time.Duration
}

func NewServer(roster *slot.Roster, tasks *task.Service, beats *heartbeat.Store, staleAfter time.Duration) *Server {
	if staleAfter <= 0 {
		staleAfter = heartbeat.DefaultStaleAfter
	}
	return &Server{
		roster:     roster,
		tasks:      tasks,
		beats:      beats,
		staleAfter: staleAfter,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/workers", s.handleList)
}

// Views joins the roster, the task store and the heartbeat file into
// board rows, one per slot, in roster order.
//
// The task columns come from the task store, not from the heartbeat
// file, so the board stays correct when a worker dies mid-task.
func (s *Server) Views(ctx context.Context) ([]View, error) {
	active, err := s.tasks.ActiveBySlot(ctx)
	if err != nil {
		return nil, err
	}
	beats, err := s.beats.Snapshot()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	views := make([]View, 0, s.roster.Len())
	for _, sl := range s.roster.Slots() {
		v := View{
			Slot:  sl.ID,
			Label: sl.Label,
			Role:  sl.Role,
		}
		if t, ok := active[sl.ID]; ok {
			v.TaskID = t.ID
			v.Task = t.Title
		}
		rec := beats[sl.ID]
		if rec.Beats > 0 {
			v.AgentStatus = rec.Status
			v.Beats = rec.Beats
			lastBeat := rec.LastUpdate
			v.LastBeatAt = &lastBeat
		}
		v.Status = heartbeat.Resolve(v.TaskID, rec.LastUpdate, now, s.staleAfter)
		views = append(views, v)
	}
	return views, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	views, err := s.Views(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	// The board endpoint returns a bare array, one element per slot.
	cerr.SetJSONResponse(ctx, views)
}
