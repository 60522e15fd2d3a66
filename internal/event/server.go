package event

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opshub/bridge/pkg/cerr"
)

const defaultListLimit = 100

type Server struct {
	repo Repository
}

func NewServer(repo Repository) *Server {
	return &Server{repo: repo}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/events", s.handleList)
}

type listResponse struct {
	Events []*Event `json:"events"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

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

	events, total, err := s.repo.List(ctx, r.URL.Query().Get("task"), limit, offset)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if events == nil {
		events = []*Event{}
	}
	cerr.SetJSONResponse(ctx, &listResponse{
		Events: events,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
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
