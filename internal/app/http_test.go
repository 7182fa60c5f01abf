package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/api/internal/auth"
	"parley/api/internal/metrics"
	"parley/api/internal/realtime"
	"parley/api/internal/tenant"
)

var testSecret = []byte("test-secret")

type fakeTenantHealth struct {
	cached   []string
	failures map[string]error
}

func (f fakeTenantHealth) Cached() []string { return f.cached }

func (f fakeTenantHealth) Ping(context.Context) map[string]error { return f.failures }

func newTestServer(t *testing.T, f *fixture) *HTTPServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewHTTPServer(ServerOptions{
		Service:    f.service,
		Hub:        realtime.NewHub(8, nil, nil),
		Tenants:    fakeTenantHealth{cached: []string{testConference}},
		JWTSecret:  testSecret,
		CORSOrigin: "*",
		Metrics:    metrics.New(reg),
		Gatherer:   reg,
	})
}

func tokenFor(t *testing.T, email string) string {
	t.Helper()
	token, err := auth.IssueToken(testSecret, email, "", time.Hour)
	require.NoError(t, err)
	return token
}

func do(t *testing.T, server *HTTPServer, method, path, email, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if email != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, email))
	}
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), "body=%s", rr.Body.String())
	}
	return rr, payload
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, newFixture(t))
	rr, payload := do(t, server, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, payload["ok"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReadyEndpoint(t *testing.T) {
	f := newFixture(t)
	server := newTestServer(t, f)
	rr, payload := do(t, server, http.MethodGet, "/api/ready", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", payload["status"])
	assert.Equal(t, []any{testConference}, payload["tenants"])

	server.tenants = fakeTenantHealth{
		cached:   []string{testConference},
		failures: map[string]error{testConference: errors.New("connection refused")},
	}
	rr, payload = do(t, server, http.MethodGet, "/api/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "degraded", payload["status"])
	failures := payload["failures"].(map[string]any)
	assert.Equal(t, "connection refused", failures[testConference])
}

func TestConferenceRoutesRequireToken(t *testing.T) {
	server := newTestServer(t, newFixture(t))
	rr, payload := do(t, server, http.MethodGet, "/api/conferences/CONF/notes", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", payload["code"])

	req := httptest.NewRequest(http.MethodGet, "/api/conferences/CONF/notes", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestModerationOverHTTP(t *testing.T) {
	f := newFixture(t)
	server := newTestServer(t, f)
	base := "/api/conferences/" + testConference

	rr, created := do(t, server, http.MethodPost, base+"/notes", "delegate@example.org",
		`{"recipientId":"`+f.ids["chair@example.org"]+`","body":"Request the floor"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "waiting", created["status"])
	noteID := created["id"].(string)

	rr, pending := do(t, server, http.MethodGet, base+"/notes/pending", "mod1@example.org", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, pending["notes"], 1)

	rr, _ = do(t, server, http.MethodPost, base+"/notes/"+noteID+"/approve", "mod1@example.org", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, _ = do(t, server, http.MethodPost, base+"/notes/"+noteID+"/lock", "mod1@example.org", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr, payload := do(t, server, http.MethodPost, base+"/notes/"+noteID+"/lock", "mod2@example.org", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "NOTE_LOCKED", payload["code"])

	rr, payload = do(t, server, http.MethodPost, base+"/notes/"+noteID+"/reject", "mod1@example.org", `{"reason":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", payload["code"])

	rr, payload = do(t, server, http.MethodPost, base+"/notes/"+noteID+"/reject", "mod1@example.org", `{"reason":"off-topic"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "rejected", payload["status"])
	assert.Equal(t, "off-topic", payload["rejectionReason"])
}

func TestCreateNoteToGodOverHTTP(t *testing.T) {
	f := newFixture(t)
	server := newTestServer(t, f)
	rr, payload := do(t, server, http.MethodPost, "/api/conferences/CONF/notes", "owner@example.org",
		`{"recipientId":"`+f.ids["god@example.org"]+`","body":"hi"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "RECIPIENT_NOT_CONTACTABLE", payload["code"])
}

func TestUnknownConferenceIsTenantNotFound(t *testing.T) {
	server := newTestServer(t, newFixture(t))
	rr, payload := do(t, server, http.MethodGet, "/api/conferences/UNKNOWN-CODE/notes", "owner@example.org", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "TENANT_NOT_FOUND", payload["code"])
}

func TestPendingAllQueryParameter(t *testing.T) {
	f := newFixture(t)
	server := newTestServer(t, f)
	rr, _ := do(t, server, http.MethodGet, "/api/conferences/CONF/notes/pending?all=true", "mod1@example.org", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr, _ = do(t, server, http.MethodGet, "/api/conferences/CONF/notes/pending?all=true", "admin@example.org", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestParticipantRoutes(t *testing.T) {
	f := newFixture(t)
	server := newTestServer(t, f)
	base := "/api/conferences/CONF/participants"

	rr, payload := do(t, server, http.MethodGet, base, "chair@example.org", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, payload["participants"], len(seedParticipants))

	rr, payload = do(t, server, http.MethodPost, base, "delegate@example.org", `{"email":"x@example.org","role":"chair"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, payload = do(t, server, http.MethodPost, base, "admin@example.org", `{"email":"x@example.org","role":"chair","displayName":"X"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := payload["id"].(string)

	rr, payload = do(t, server, http.MethodPatch, base+"/"+id, "admin@example.org", `{"role":"delegate","country":"IT"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "IT", payload["country"])

	rr, _ = do(t, server, http.MethodDelete, base+"/"+id, "admin@example.org", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, payload = do(t, server, http.MethodPost, base, "admin@example.org", `{bad json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_BODY", payload["code"])
}

func TestMetricsEndpointLabelsByRoute(t *testing.T) {
	f := newFixture(t)
	server := newTestServer(t, f)
	do(t, server, http.MethodGet, "/api/conferences/CONF/notes", "delegate@example.org", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `route="/api/conferences/{code}/notes"`)
}

func TestMapErrorTenantKinds(t *testing.T) {
	status, code, _, _ := mapError(tenant.ErrTenantUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "TENANT_UNAVAILABLE", code)

	status, code, _, _ = mapError(tenant.ErrInvalidCode)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_ERROR", code)

	status, _, _, _ = mapError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
}
