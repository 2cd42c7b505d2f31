package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/repository/memory"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

func setupRouter(t *testing.T, auth *Authenticator) (*chi.Mux, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.PutCampaign(domain.Campaign{
		ID: "c1", TenantID: "tenant-1", Kind: domain.KindShot, Status: domain.CampaignDraft,
		Audience: domain.AudienceAllStarted, Text: "Hello",
	})
	store.PutCampaign(domain.Campaign{
		ID: "ds1", TenantID: "tenant-1", Kind: domain.KindDownsell, Status: domain.CampaignActive,
		Trigger: domain.TriggerStart, DelayMinutes: 10, Text: "Offer",
	})
	store.SetAudience("tenant-1", domain.AudienceAllStarted, "101", "102", "103")

	log := logger.Nop()
	enq := broadcast.NewEnqueuer(store, store, store, store, log)
	svc := broadcast.NewService(store, store, enq, log)
	h := NewHandlers(svc, store, log)
	return NewRouter(h, RouterConfig{Auth: auth, Log: log}), store
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEnqueueHandler(t *testing.T) {
	r, store := setupRouter(t, nil)

	w := do(t, r, http.MethodPost, "/api/campaigns/c1/enqueue", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats domain.EnqueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Candidates)
	assert.Equal(t, 3, stats.Inserted)
	assert.Len(t, store.Jobs("c1"), 3)

	w = do(t, r, http.MethodPost, "/api/campaigns/c1/enqueue", nil, "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Inserted)
	assert.Equal(t, 3, stats.Duplicates)
}

func TestEnqueueHandler_NotFound(t *testing.T) {
	r, _ := setupRouter(t, nil)
	w := do(t, r, http.MethodPost, "/api/campaigns/missing/enqueue", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerHandler(t *testing.T) {
	r, store := setupRouter(t, nil)

	w := do(t, r, http.MethodPost, "/api/campaigns/c1/trigger", map[string]string{"mode": "now"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var res broadcast.TriggerResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, broadcast.ModeNow, res.Mode)
	require.NotNil(t, res.Stats)
	assert.Equal(t, 3, res.Stats.Inserted)
	assert.Len(t, store.Jobs("c1"), 3)
}

func TestTriggerHandler_Schedule(t *testing.T) {
	r, _ := setupRouter(t, nil)
	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	w := do(t, r, http.MethodPost, "/api/campaigns/c1/trigger", map[string]interface{}{"mode": "schedule", "scheduled_at": at}, "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, r, http.MethodPost, "/api/campaigns/c1/trigger", map[string]string{"mode": "schedule"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerHandler_Rejections(t *testing.T) {
	r, _ := setupRouter(t, nil)

	tests := []struct {
		name string
		path string
		body interface{}
		want int
	}{
		{"bad mode", "/api/campaigns/c1/trigger", map[string]string{"mode": "later"}, http.StatusBadRequest},
		{"downsell", "/api/campaigns/ds1/trigger", map[string]string{"mode": "now"}, http.StatusConflict},
		{"empty body", "/api/campaigns/c1/trigger", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, tt.path, tt.body, "")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestStatsHandler(t *testing.T) {
	r, _ := setupRouter(t, nil)
	do(t, r, http.MethodPost, "/api/campaigns/c1/enqueue", nil, "")

	w := do(t, r, http.MethodGet, "/api/campaigns/c1/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.QueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, domain.QueueStats{Queued: 3}, stats)
}

func TestEventHandler(t *testing.T) {
	r, store := setupRouter(t, nil)

	w := do(t, r, http.MethodPost, "/api/tenants/tenant-1/events", map[string]string{"event": "start", "recipient_id": "777"}, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var stats domain.EnqueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Inserted)
	assert.Len(t, store.Jobs("ds1"), 1)

	w = do(t, r, http.MethodPost, "/api/tenants/tenant-1/events", map[string]string{"event": "refund", "recipient_id": "777"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuth(t *testing.T) {
	auth := NewAuthenticator("test-secret", "broadcast-engine")
	r, _ := setupRouter(t, auth)

	w := do(t, r, http.MethodGet, "/api/campaigns/c1/stats", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/api/campaigns/c1/stats", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	operator, err := auth.Issue("ops", "", time.Hour)
	require.NoError(t, err)
	w = do(t, r, http.MethodGet, "/api/campaigns/c1/stats", nil, operator)
	assert.Equal(t, http.StatusOK, w.Code)

	other := NewAuthenticator("other-secret", "broadcast-engine")
	forged, err := other.Issue("ops", "", time.Hour)
	require.NoError(t, err)
	w = do(t, r, http.MethodGet, "/api/campaigns/c1/stats", nil, forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_Expired(t *testing.T) {
	auth := NewAuthenticator("test-secret", "broadcast-engine")
	auth.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := auth.Issue("ops", "", time.Hour)
	require.NoError(t, err)

	auth.now = time.Now
	_, err = auth.Parse(token)
	assert.Error(t, err)
}

func TestAuth_TenantScope(t *testing.T) {
	auth := NewAuthenticator("test-secret", "broadcast-engine")
	r, _ := setupRouter(t, auth)

	own, err := auth.Issue("bot", "tenant-1", time.Hour)
	require.NoError(t, err)
	foreign, err := auth.Issue("bot", "tenant-2", time.Hour)
	require.NoError(t, err)

	w := do(t, r, http.MethodGet, "/api/campaigns/c1/stats", nil, own)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/api/campaigns/c1/stats", nil, foreign)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/tenants/tenant-1/events", map[string]string{"event": "start", "recipient_id": "1"}, foreign)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestNewAuthenticator_EmptySecretDisables(t *testing.T) {
	assert.Nil(t, NewAuthenticator("", "x"))
}

func TestHealth(t *testing.T) {
	log := logger.Nop()
	h := NewHandlers(nil, nil, log)
	r := NewRouter(h, RouterConfig{Health: NewHealthChecker(nil, nil), Log: log})

	w := do(t, r, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "not_configured", status.Checks["redis"].Status)

	w = do(t, r, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, r, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := setupRouter(t, nil)
	w := do(t, r, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
