package pushnotification

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/opshub/bridge/internal/config"
	"github.com/opshub/bridge/internal/pushsubscription"
	"github.com/opshub/bridge/pkg/cerr"
)

type Server struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	sender   *Sender
}

func NewServer(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, sender *Sender) *Server {
	return &Server{
		vapidEnv: vapidEnv,
		repo:     repo,
		sender:   sender,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/push", func(r chi.Router) {
		r.Get("/vapid-public-key", s.handleVapidPublicKey)
		r.Post("/subscriptions", s.handleRegister)
		r.Delete("/subscriptions", s.handleUnregister)
		r.Post("/test", s.handleTest)
	})
}

type vapidPublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

func (s *Server) handleVapidPublicKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.vapidEnv.VAPIDPublicKey == "" {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "VAPID keys not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, &vapidPublicKeyResponse{PublicKey: s.vapidEnv.VAPIDPublicKey})
}

type registerRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dhKey"`
	AuthKey   string `json:"authKey"`
}

type registerResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	}
	if req.P256dhKey == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "p256dhKey is required", nil)
		return
	}
	if req.AuthKey == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "authKey is required", nil)
		return
	}

	// Re-registering an endpoint replaces its keys instead of erroring,
	// so a browser can refresh its subscription freely.
	if existing, err := s.repo.FindByEndpoint(ctx, req.Endpoint); err == nil && existing != nil {
		existing.P256dhKey = req.P256dhKey
		existing.AuthKey = req.AuthKey
		if err := s.repo.Delete(ctx, existing.ID); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		if err := s.repo.Create(ctx, existing); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		cerr.SetJSONResponse(ctx, &registerResponse{ID: existing.ID})
		return
	}

	sub := &pushsubscription.Subscription{
		ID:        ulid.Make().String(),
		Endpoint:  req.Endpoint,
		P256dhKey: req.P256dhKey,
		AuthKey:   req.AuthKey,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &registerResponse{ID: sub.ID})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	}
	if err := s.repo.DeleteByEndpoint(ctx, endpoint); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.sender.Enabled() {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "VAPID keys not configured", nil)
		return
	}
	s.sender.SendToAll(ctx, &NotificationPayload{
		Title: "Bridge Test",
		Body:  "Push notifications are working!",
	})
	cerr.SetJSONResponse(ctx, struct{}{})
}
