package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fieldops/internal/auth"
	"github.com/ukydev/fieldops/internal/custody"
	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/evidence"
	"github.com/ukydev/fieldops/internal/inventory"
	"github.com/ukydev/fieldops/internal/lifecycle"
	"github.com/ukydev/fieldops/internal/metrics"
)

type apiClient struct {
	t      *testing.T
	server *httptest.Server
	token  string
}

type apiResponse struct {
	OK   bool            `json:"ok"`
	Data json.RawMessage `json:"data"`
}

func (c *apiClient) do(method, path string, body interface{}) (int, apiResponse) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out apiResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(c.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (c *apiClient) data(method, path string, body interface{}, into interface{}) {
	c.t.Helper()
	code, resp := c.do(method, path, body)
	require.Equal(c.t, http.StatusOK, code, "%s %s", method, path)
	require.True(c.t, resp.OK)
	if into != nil {
		require.NoError(c.t, json.Unmarshal(resp.Data, into))
	}
}

func newTestAPI(t *testing.T) (*apiClient, time.Time) {
	quiet := log.New()
	quiet.SetOutput(io.Discard)

	now := time.Now().UTC()
	store := db.NewMemoryStore()
	require.NoError(t, db.Seed(context.Background(), store, now))

	coordinator := custody.New(store, custody.Options{Logger: quiet})
	router := NewRouter(Dependencies{
		Jobs:           lifecycle.New(store, lifecycle.Options{Logger: quiet, Releaser: coordinator}),
		Custody:        coordinator,
		Inventory:      inventory.New(store, inventory.Options{Logger: quiet}),
		Evidence:       evidence.New(store, evidence.Options{Logger: quiet}),
		Tokens:         auth.NewService("router-test", time.Hour),
		Technicians:    store,
		LoginRateLimit: 3,
		Registry:       metrics.NewRegistry(),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &apiClient{t: t, server: server}, now
}

func TestRouter_PublicEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)

	code, resp := api.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.OK)

	code, _ = api.do("GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp = api.do("GET", "/api/jobs", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.OK)
}

func TestRouter_LoginRateLimit(t *testing.T) {
	api, _ := newTestAPI(t)
	wrong := map[string]string{"username": "alex", "pin": "0000"}
	for i := 0; i < 3; i++ {
		code, _ := api.do("POST", "/api/auth/login", wrong)
		assert.Equal(t, http.StatusUnauthorized, code)
	}
	code, _ := api.do("POST", "/api/auth/login", map[string]string{"username": "alex", "pin": "1234"})
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestRouter_TechnicianDay(t *testing.T) {
	api, now := newTestAPI(t)

	var login struct {
		Token string `json:"token"`
	}
	api.data("POST", "/api/auth/login", map[string]string{"username": "alex", "pin": "1234"}, &login)
	require.NotEmpty(t, login.Token)
	api.token = login.Token

	var jobs []lifecycle.View
	api.data("GET", "/api/jobs?day="+now.Format("2006-01-02"), nil, &jobs)
	require.Len(t, jobs, 3)
	assert.Equal(t, "JOB-0001", jobs[0].JobNumber)

	// Sam's job is invisible to Alex.
	code, _ := api.do("GET", "/api/jobs/4", nil)
	assert.Equal(t, http.StatusNotFound, code)

	var view lifecycle.View
	api.data("POST", "/api/jobs/1/start", nil, &view)
	assert.Equal(t, "EN_ROUTE", string(view.Status))
	api.data("POST", "/api/jobs/1/start", nil, &view)
	assert.Equal(t, "BUSY", string(view.Status))

	code, _ = api.do("POST", "/api/jobs/2/start", nil)
	assert.Equal(t, http.StatusConflict, code)

	api.data("GET", "/api/jobs/active", nil, &view)
	assert.Equal(t, int64(1), view.ID)

	code, resp := api.do("POST", "/api/assets/A-100/checkout", map[string]interface{}{
		"job_id": 1, "condition": "Good", "reason": "diagnostics",
	})
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, resp.OK)

	code, _ = api.do("POST", "/api/assets/A-100/checkout", map[string]interface{}{"condition": "Good"})
	assert.Equal(t, http.StatusConflict, code)

	var drawn inventory.DrawResult
	api.data("POST", "/api/consumables/C-10/draw", map[string]interface{}{"job_id": 1, "quantity": 6}, &drawn)
	assert.Equal(t, 4.0, drawn.Consumable.CurrentStock)
	assert.True(t, drawn.Consumable.LowStock)

	code, _ = api.do("POST", "/api/consumables/C-30/draw", map[string]interface{}{"job_id": 1, "quantity": 4})
	assert.Equal(t, http.StatusConflict, code)

	var low []inventory.ConsumableView
	api.data("GET", "/api/consumables?low=true", nil, &low)
	assert.Len(t, low, 2)

	var photos evidence.View
	api.data("POST", "/api/jobs/1/evidence", map[string]string{"category": "before", "uri": "file:///leak.jpg"}, &photos)
	require.Len(t, photos.Before, 1)
	api.data("POST", "/api/jobs/1/evidence/retag", map[string]string{"uri": "file:///leak.jpg", "from": "before", "to": "after"}, &photos)
	assert.Empty(t, photos.Before)
	assert.Len(t, photos.After, 1)

	api.data("POST", "/api/jobs/1/sign", map[string]string{"signed_by": "Harbour Cafe", "signature_uri": "file:///sig.png"}, &view)
	assert.Equal(t, "SIGNED", string(view.Status))
	api.data("POST", "/api/jobs/1/complete", map[string]string{"work_summary": "Replaced group gasket"}, &view)
	assert.Equal(t, "COMPLETED", string(view.Status))
	assert.True(t, view.NeedsSync)

	var asset custody.AssetView
	api.data("GET", "/api/assets/A-100", nil, &asset)
	assert.False(t, asset.CheckedOut)
	assert.True(t, asset.Available)

	var usages []json.RawMessage
	api.data("GET", "/api/jobs/1/usages", nil, &usages)
	assert.Len(t, usages, 1)

	api.data("POST", "/api/jobs/1/synced", nil, &view)
	assert.False(t, view.NeedsSync)

	var unsynced []lifecycle.View
	api.data("GET", "/api/jobs?unsynced=true", nil, &unsynced)
	assert.Empty(t, unsynced)
}
