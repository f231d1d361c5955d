package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/washywashy/wash-engine/api"
	"github.com/washywashy/wash-engine/bay"
	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/loyalty"
	"github.com/washywashy/wash-engine/metrics"
	"github.com/washywashy/wash-engine/notify"
	"github.com/washywashy/wash-engine/queue"
	"github.com/washywashy/wash-engine/store/memory"
	"github.com/washywashy/wash-engine/wash"
)

// =============================================================================
// TEST SERVER
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	clock := core.NewFakeClock(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	ids := core.NewSequenceGenerator("api")
	locks := core.NewKeyedMutex()
	dedup := notify.NewMemoryDedup(clock)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	q := queue.NewManager(store, clock, ids, locks, core.NopNotifier{}, dedup, m)
	bays := bay.NewAllocator(store, clock, ids, locks, m)
	ledger := loyalty.NewLedger(store, clock, ids, locks, m)
	lc := wash.NewLifecycle(store, clock, ids, locks, q, bays, ledger, core.NopNotifier{}, m)

	handler := api.NewHandler(store, q, bays, ledger, lc, ids)
	srv := httptest.NewServer(api.NewRouter(handler, reg))
	t.Cleanup(srv.Close)
	return srv, store
}

func seedBranch(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutBranch(ctx, core.Branch{ID: "br-1", Code: "DT", Name: "Downtown", Active: true}))
	require.NoError(t, store.PutBay(ctx, core.Bay{ID: "bay-1", BranchID: "br-1", Name: "Bay 1", Status: core.BayIdle}))
	require.NoError(t, store.PutPackage(ctx, core.Package{
		ID: "pkg-basic", Name: "Basic", Price: decimal.NewFromInt(30), DurationMinutes: 20, Active: true,
	}))
	require.NoError(t, store.PutCustomer(ctx, core.Customer{ID: "cust-1", Name: "Dana", Registered: true}))
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// =============================================================================
// FLOWS
// =============================================================================

func TestAPI_JoinStartCompleteFlow(t *testing.T) {
	srv, store := newTestServer(t)
	seedBranch(t, store)

	// Join
	resp, entry := doJSON(t, http.MethodPost, srv.URL+"/api/queue/entries", map[string]any{
		"branch_id":    "br-1",
		"customer_id":  "cust-1",
		"package_id":   "pkg-basic",
		"plate_number": "AAA-111",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1), entry["position"])
	entryID := entry["id"].(string)

	// Position
	resp, pos := doJSON(t, http.MethodGet, srv.URL+"/api/queue/entries/"+entryID+"/position", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), pos["position"])
	assert.Equal(t, float64(20), pos["estimated_wait_minutes"])

	// Start
	resp, w := doJSON(t, http.MethodPost, srv.URL+"/api/washes", map[string]any{
		"entry_id": entryID,
		"actor":    "attendant",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "active", w["status"])
	assert.Equal(t, "30.00", w["total_amount"])
	washID := w["id"].(string)

	// Complete
	resp, done := doJSON(t, http.MethodPost, srv.URL+"/api/washes/"+washID+"/complete", map[string]any{"actor": "attendant"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", done["status"])

	// Loyalty account credited 30 points at bronze.
	resp, account := doJSON(t, http.MethodGet, srv.URL+"/api/customers/cust-1/loyalty", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(30), account["points"])
	assert.Equal(t, "bronze", account["tier"])
}

func TestAPI_QueueStatusSnapshot(t *testing.T) {
	srv, store := newTestServer(t)
	seedBranch(t, store)

	_, _ = doJSON(t, http.MethodPost, srv.URL+"/api/queue/entries", map[string]any{
		"branch_id": "br-1", "plate_number": "AAA-111",
	})

	resp, status := doJSON(t, http.MethodGet, srv.URL+"/api/branches/br-1/queue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), status["total_waiting"])
	assert.Equal(t, float64(1), status["available_bays"])
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	srv, store := newTestServer(t)
	seedBranch(t, store)

	// 400: missing plate
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/queue/entries", map[string]any{"branch_id": "br-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// 404: unknown entry
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/queue/entries/ghost/position", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// 409: insufficient points
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/customers/cust-1/loyalty/redeem", map[string]any{"points": 100})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// 409: double-start
	_, entry := doJSON(t, http.MethodPost, srv.URL+"/api/queue/entries", map[string]any{
		"branch_id": "br-1", "plate_number": "BBB-222",
	})
	entryID := entry["id"].(string)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/washes", map[string]any{"entry_id": entryID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/washes", map[string]any{"entry_id": entryID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// =============================================================================
// ADMIN SURFACE
// =============================================================================

func TestAPI_BayStatusAndActivity(t *testing.T) {
	srv, store := newTestServer(t)
	seedBranch(t, store)

	resp, b := doJSON(t, http.MethodPut, srv.URL+"/api/bays/bay-1/status", map[string]any{
		"status": "maintenance", "actor": "tech", "notes": "pump failure",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "maintenance", b["status"])

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/bays/bay-1/activity", nil)
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var log []map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&log))
	require.Len(t, log, 1)
	assert.Equal(t, "tech", log[0]["actor"])
}

func TestAPI_CreateBranchAndAdjustLoyalty(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, branch := doJSON(t, http.MethodPost, srv.URL+"/api/branches", map[string]any{
		"code": "UP", "name": "Uptown",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "UP", branch["code"])
	assert.Equal(t, true, branch["active"])

	resp, account := doJSON(t, http.MethodPost, srv.URL+"/api/admin/loyalty/adjust", map[string]any{
		"customer_id": "cust-9", "delta": 600, "description": "goodwill",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(600), account["points"])
	assert.Equal(t, "silver", account["tier"])
}

func TestAPI_MetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
