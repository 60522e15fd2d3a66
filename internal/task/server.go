package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opshub/bridge/pkg/cerr"
)

const defaultListLimit = 200

// Assigner picks an idle slot for a queued task and assigns it. It is
// implemented by the dispatcher, which owns slot selection.
type Assigner interface {
	AssignTask(ctx context.Context, taskID string) (*Task, error)
}

type Server struct {
	svc      *Service
	assigner Assigner
}

func NewServer(svc *Service, assigner Assigner) *Server {
	return &Server{
		svc:      svc,
		assigner: assigner,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Patch("/", s.handleUpdate)
			r.Delete("/", s.handleDelete)
			r.Post("/auto-assign", s.handleAutoAssign)
			r.Post("/complete", s.handleComplete)
			r.Post("/fail", s.handleFail)
		})
	})
}

type createRequest struct {
	Title    string   `json:"title"`
	Lane     Lane     `json:"lane"`
	Priority Priority `json:"priority"`
	Owner    string   `json:"owner"`
	Detail   string   `json:"detail"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}

	t, err := s.svc.Create(ctx, CreateParams{
		Title:    req.Title,
		Lane:     req.Lane,
		Priority: req.Priority,
		Owner:    req.Owner,
		Detail:   req.Detail,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type listResponse struct {
	Tasks  []*Task `json:"tasks"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// handleList filters by lane and owner only. Any other query key is
// ignored rather than rejected, so stale dashboard links keep working.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	lane := Lane(q.Get("lane"))
	if lane != "" && !lane.Valid() {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, fmt.Sprintf("invalid lane %q", lane), nil)
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid limit", err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid offset", err)
		return
	}

	tasks, total, err := s.svc.List(ctx, lane, q.Get("owner"), limit, offset)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	cerr.SetJSONResponse(ctx, &listResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	t, err := s.svc.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type updateRequest struct {
	Title    *string   `json:"title"`
	Priority *Priority `json:"priority"`
	Lane     *Lane     `json:"lane"`
	Owner    *string   `json:"owner"`
	Detail   *string   `json:"detail"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}

	t, err := s.svc.Update(ctx, chi.URLParam(r, "id"), UpdateParams{
		Title:    req.Title,
		Priority: req.Priority,
		Lane:     req.Lane,
		Owner:    req.Owner,
		Detail:   req.Detail,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type deleteResponse struct {
	ID      string `json:"id"`
	Trashed bool   `json:"trashed"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := s.svc.Delete(ctx, id); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &deleteResponse{ID: id, Trashed: true})
}

func (s *Server) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	t, err := s.assigner.AssignTask(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type completeRequest struct {
	Lane Lane `json:"lane"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}

	t, err := s.svc.Complete(ctx, chi.URLParam(r, "id"), req.Lane)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}

	t, err := s.svc.Fail(ctx, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return v, nil
}
