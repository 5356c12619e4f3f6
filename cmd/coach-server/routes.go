package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stridecoach/server/pkg/bootstrap"
	"github.com/stridecoach/server/pkg/quota"
	"github.com/stridecoach/server/pkg/syncer"
)

// stateReader is the slice of the state store the admin surface needs.
type stateReader interface {
	ReadCache(ctx context.Context) (json.RawMessage, *quota.State, error)
}

type server struct {
	svc    *bootstrap.Service
	engine *syncer.Engine
	store  stateReader
	logger *slog.Logger
}

func newServer(svc *bootstrap.Service, engine *syncer.Engine, store stateReader) *server {
	return &server{
		svc:    svc,
		engine: engine,
		store:  store,
		logger: svc.Logger,
	}
}

func (s *server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/webhook", s.handleWebhookVerify)
	r.Post("/webhook", s.handleWebhookEvent)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/admin/sync", s.handleAdminSync)
		r.Get("/admin/logs", s.handleAdminLogs)
		r.Get("/admin/quota", s.handleAdminQuota)
	})

	return r
}

// requireAdmin authorizes administrative calls with the shared admin secret,
// distinct from the webhook verification token.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.svc.Config.AdminSecret
		got := r.Header.Get("X-Admin-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhookVerify echoes the subscription challenge when the verify token
// matches the configured secret.
func (s *server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	expected := s.svc.Config.WebhookVerifyToken
	if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		s.logger.Warn("Webhook verification rejected")
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

// webhookEvent is the push payload delivered by the upstream API.
type webhookEvent struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	AspectType string `json:"aspect_type"`
	OwnerID    int64  `json:"owner_id"`
}

// handleWebhookEvent acks immediately and analyzes the referenced activity in
// the background; the upstream expects a fast 200.
func (s *server) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	var evt webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	s.logger.Info("Webhook event received",
		"object_type", evt.ObjectType,
		"object_id", evt.ObjectID,
		"aspect_type", evt.AspectType,
	)

	if evt.ObjectType == "activity" && (evt.AspectType == "create" || evt.AspectType == "update") {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.svc.Config.Gemini.Timeout+time.Minute)
			defer cancel()
			if err := s.engine.AnalyzeOne(ctx, evt.ObjectID); err != nil {
				s.logger.Error("Webhook analysis failed", "activity_id", evt.ObjectID, "error", err)
				bootstrap.CaptureException(err, map[string]interface{}{"trigger": "webhook", "activity_id": evt.ObjectID})
			}
		}()
	}

	w.WriteHeader(http.StatusOK)
}

func (s *server) handleAdminSync(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.engine.RunPass(r.Context())
	if err != nil {
		s.logger.Error("Manual pass failed", "error", err)
		bootstrap.CaptureException(err, map[string]interface{}{"trigger": "manual"})
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *server) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(strings.Join(s.svc.LogRing.Lines(), "\n")))
}

func (s *server) handleAdminQuota(w http.ResponseWriter, r *http.Request) {
	_, q, err := s.store.ReadCache(r.Context())
	if err != nil {
		// No remote state yet is a valid observation, not a failure.
		writeJSON(w, http.StatusOK, quota.DefaultState(time.Now()))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
