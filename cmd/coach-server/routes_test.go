package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stridecoach/server/pkg/bootstrap"
	"github.com/stridecoach/server/pkg/logbuf"
	"github.com/stridecoach/server/pkg/quota"
	"github.com/stridecoach/server/pkg/statestore"
)

type stubStore struct {
	quota *quota.State
	err   error
}

func (s *stubStore) ReadCache(context.Context) (json.RawMessage, *quota.State, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return json.RawMessage(`{}`), s.quota, nil
}

func newTestServer(t *testing.T, store stateReader) *server {
	t.Helper()
	ring := logbuf.NewRing(logbuf.DefaultCapacity)
	svc := &bootstrap.Service{
		Config: &bootstrap.Config{
			WebhookVerifyToken: "verify-me",
			AdminSecret:        "hunter2",
		},
		Logger:  slog.New(logbuf.NewHandler(slog.NewTextHandler(io.Discard, nil), ring)),
		LogRing: ring,
	}
	if store == nil {
		store = &stubStore{err: statestore.ErrNotFound}
	}
	return newServer(svc, nil, store)
}

func TestWebhookVerifyEchoesChallenge(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/webhook?hub.verify_token=verify-me&hub.challenge=abc123&hub.mode=subscribe", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "abc123", body["hub.challenge"])
}

func TestWebhookVerifyRejectsBadToken(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/webhook?hub.verify_token=wrong&hub.challenge=abc123", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookVerifyRejectsWhenUnconfigured(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.svc.Config.WebhookVerifyToken = ""

	req := httptest.NewRequest("GET", "/webhook?hub.verify_token=&hub.challenge=abc123", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookEventAcksNonActivityObjects(t *testing.T) {
	srv := newTestServer(t, nil)

	// Athlete events are acked without touching the engine; a nil engine
	// would panic if the handler dispatched anyway.
	body := `{"object_type":"athlete","object_id":5,"aspect_type":"update"}`
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookEventRejectsBadPayload(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("POST", "/webhook", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRequiresSecret(t *testing.T) {
	srv := newTestServer(t, nil)
	router := srv.routes()

	for _, tc := range []struct {
		name   string
		secret string
	}{
		{"missing", ""},
		{"wrong", "nope"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin/logs", nil)
			if tc.secret != "" {
				req.Header.Set("X-Admin-Secret", tc.secret)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
}

func TestAdminRejectsWhenSecretUnset(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.svc.Config.AdminSecret = ""

	req := httptest.NewRequest("GET", "/admin/logs", nil)
	req.Header.Set("X-Admin-Secret", "")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminLogsReturnsRingContents(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.logger.Info("Pass finished", "analyzed", 3)

	req := httptest.NewRequest("GET", "/admin/logs", nil)
	req.Header.Set("X-Admin-Secret", "hunter2")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Pass finished")
}

func TestAdminQuotaReturnsSnapshot(t *testing.T) {
	srv := newTestServer(t, &stubStore{quota: &quota.State{
		DailyUsed:   7,
		DailyLimit:  1500,
		MinuteLimit: 15,
		ResetAt:     time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}})

	req := httptest.NewRequest("GET", "/admin/quota", nil)
	req.Header.Set("X-Admin-Secret", "hunter2")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got quota.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 7, got.DailyUsed)
	assert.Equal(t, 1500, got.DailyLimit)
}

func TestAdminQuotaDefaultsWhenNoRemoteState(t *testing.T) {
	srv := newTestServer(t, &stubStore{err: statestore.ErrNotFound})

	req := httptest.NewRequest("GET", "/admin/quota", nil)
	req.Header.Set("X-Admin-Secret", "hunter2")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got quota.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, quota.DefaultDailyLimit, got.DailyLimit)
	assert.Equal(t, 0, got.DailyUsed)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
