package internal

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/opshub/bridge/internal/config"
	"github.com/opshub/bridge/internal/event"
	"github.com/opshub/bridge/internal/pushnotification"
	"github.com/opshub/bridge/internal/task"
	"github.com/opshub/bridge/internal/worker"
	"github.com/opshub/bridge/pkg/cerr"
	"github.com/opshub/bridge/pkg/clog"
)

type Server struct {
	server *http.Server
	env    *config.Env

	taskServer             *task.Server
	eventServer            *event.Server
	workerServer           *worker.Server
	pushNotificationServer *pushnotification.Server
}

func NewServer(
	env *config.Env,
	taskServer *task.Server,
	eventServer *event.Server,
	workerServer *worker.Server,
	pushNotificationServer *pushnotification.Server,
) *Server {
	return &Server{
		env:                    env,
		taskServer:             taskServer,
		eventServer:            eventServer,
		workerServer:           workerServer,
		pushNotificationServer: pushNotificationServer,
	}
}

// ListenAndServe starts the HTTP server. ctx becomes the base context of
// every request, so a shutdown signal also cancels in-flight handlers.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handler() http.Handler {
	api := chi.NewRouter()
	api.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONResponseChiMiddleware(),
		)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})
		s.taskServer.RegisterRoutes(r)
		s.eventServer.RegisterRoutes(r)
		s.workerServer.RegisterRoutes(r)
		s.pushNotificationServer.RegisterRoutes(r)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/api/", api)

	// The board UI runs on another origin, and h2c serves HTTP/2 to
	// local clients without TLS.
	withCORS := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.requireAPIKey(mux))
	return h2c.NewHandler(withCORS, &http2.Server{})
}

// requireAPIKey guards every route except the health probe. An unset key
// disables the check.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.env.APIKey == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if key != s.env.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
