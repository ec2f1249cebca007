package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/pulkita2007/meter-system/internal/alerting"
	"github.com/pulkita2007/meter-system/internal/anomaly"
	"github.com/pulkita2007/meter-system/internal/auth"
	"github.com/pulkita2007/meter-system/internal/config"
	"github.com/pulkita2007/meter-system/internal/data"
	"github.com/pulkita2007/meter-system/internal/ingest"
	"github.com/pulkita2007/meter-system/internal/storage"
)

const (
	testJWTSecret = "test-secret"
	testAPIKey    = "device-key-1"
)

type testEnv struct {
	store   *storage.MemoryStore
	alerter *alerting.Alerter
	data    http.Handler
	api     http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	store := storage.NewMemoryStore()
	store.PutUser(&data.User{ID: "user-1", Email: "owner@example.com"})

	cfg := &config.Config{}
	cfg.Spike.Window = 10
	cfg.Spike.MinHistory = 5
	cfg.Spike.Multiplier = 1.5

	alerter := alerting.NewAlerter(store, nil, nil, logger)
	detector := anomaly.NewDetector(store, cfg)
	svc := ingest.NewService(store, detector, alerter, nil, nil, nil, "user-1", 1000, logger)

	handler := NewAPIHandler(store, svc, alerter, nil, nil, nil, nil, logger)
	am := auth.NewManager(auth.Config{JWTSecret: testJWTSecret, APIKeys: []string{testAPIKey}})

	return &testEnv{
		store:   store,
		alerter: alerter,
		data:    SetupDataRouter(handler, am),
		api:     SetupAPIRouter(handler, am),
	}
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestAddReadingRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/energy/add", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	env.data.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/energy/add", bytes.NewBufferString(`{}`))
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	env.data.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad key: status = %d, want 401", rec.Code)
	}
}

func TestAddReadingCreated(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(map[string]any{
		"deviceId":    "meter-1",
		"current":     2.0,
		"voltage":     230.0,
		"temperature": 24.0,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/energy/add", bytes.NewReader(body))
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	env.data.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool         `json:"success"`
		Reading data.Reading `json:"reading"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Reading.Power != 460 {
		t.Errorf("response = %+v", resp)
	}
}

func TestAddReadingValidationFailure(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/energy/add",
		bytes.NewBufferString(`{"deviceId":"meter-1","current":-1}`))
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	env.data.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Success bool              `json:"success"`
		Errors  []data.FieldError `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// current (negative), voltage and temperature (missing) all reported.
	if resp.Success || len(resp.Errors) != 3 {
		t.Errorf("errors = %+v", resp.Errors)
	}
}

func TestReadingsEndpointRequiresJWT(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := doJSON(t, env.api, http.MethodGet, "/api/energy/readings/meter-1", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGetReadingsPaginated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := env.store.InsertReading(ctx, &data.Reading{DeviceID: "meter-1", Power: float64(i)}); err != nil {
			t.Fatal(err)
		}
	}

	token := signToken(t, "user-1")
	rec, resp := doJSON(t, env.api, http.MethodGet, "/api/energy/readings/meter-1?limit=2&page=1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["count"].(float64) != 2 || resp["total"].(float64) != 3 {
		t.Errorf("count=%v total=%v, want 2/3", resp["count"], resp["total"])
	}
}

func TestGetHistoryRequiresDeviceID(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1")
	rec, _ := doJSON(t, env.api, http.MethodGet, "/api/energy/history", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetHistoryAscendingOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		if err := env.store.InsertReading(ctx, &data.Reading{
			DeviceID:   "meter-1",
			Power:      float64(i + 1),
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	token := signToken(t, "user-1")
	rec, _ := doJSON(t, env.api, http.MethodGet, "/api/energy/history?deviceId=meter-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		History []historyPoint `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.History) != 3 {
		t.Fatalf("len = %d", len(resp.History))
	}
	for i, want := range []float64{1, 2, 3} {
		if resp.History[i].Power != want {
			t.Errorf("history[%d].Power = %v, want %v (oldest first)", i, resp.History[i].Power, want)
		}
	}
}

func TestCreateAndListAlerts(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1")

	rec, resp := doJSON(t, env.api, http.MethodPost, "/api/alerts", token, map[string]any{
		"deviceId": "meter-1",
		"message":  "check the breaker",
		"severity": "low",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %v", rec.Code, resp)
	}

	rec, resp = doJSON(t, env.api, http.MethodGet, "/api/alerts", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	if resp["total"].(float64) != 1 {
		t.Errorf("total = %v, want 1", resp["total"])
	}

	// Another user sees nothing.
	otherToken := signToken(t, "user-2")
	rec, resp = doJSON(t, env.api, http.MethodGet, "/api/alerts", otherToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list other: status = %d", rec.Code)
	}
	if resp["total"].(float64) != 0 {
		t.Errorf("other user's total = %v, want 0", resp["total"])
	}
}

func TestCreateAlertRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/alerts", bytes.NewBufferString(
		`{"deviceId":"meter-1","message":"m","severity":"catastrophic","alertType":"made_up_type"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	env.api.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown enums: status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool              `json:"success"`
		Errors  []data.FieldError `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	fields := make(map[string]bool)
	for _, fe := range resp.Errors {
		fields[fe.Field] = true
	}
	if resp.Success || !fields["severity"] || !fields["alertType"] {
		t.Errorf("errors = %+v, want severity and alertType entries", resp.Errors)
	}

	// Nothing persisted for the rejected request.
	listRec, listResp := doJSON(t, env.api, http.MethodGet, "/api/alerts", token, nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", listRec.Code)
	}
	if listResp["total"].(float64) != 0 {
		t.Errorf("total = %v, want 0", listResp["total"])
	}

	rec, _ = doJSON(t, env.api, http.MethodPost, "/api/alerts", token, map[string]any{
		"deviceId": "meter-1",
		"message":  strings.Repeat("x", data.MaxAlertMessageLen+1),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("overlong message: status = %d, want 400", rec.Code)
	}
}

func TestAlertMutationStatusMapping(t *testing.T) {
	env := newTestEnv(t)
	raised, err := env.alerter.Raise(context.Background(), &data.Alert{
		UserID: "user-1", DeviceID: "meter-1", Message: "m",
	})
	if err != nil {
		t.Fatalf("Raise: %v", err)
	}

	ownerToken := signToken(t, "user-1")
	strangerToken := signToken(t, "user-2")

	rec, _ := doJSON(t, env.api, http.MethodPut, "/api/alerts/no-such-id/read", ownerToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing alert: status = %d, want 404", rec.Code)
	}

	rec, _ = doJSON(t, env.api, http.MethodPut, fmt.Sprintf("/api/alerts/%s/resolve", raised.ID), strangerToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("stranger resolve: status = %d, want 401", rec.Code)
	}

	rec, resp := doJSON(t, env.api, http.MethodPut, fmt.Sprintf("/api/alerts/%s/resolve", raised.ID), ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner resolve: status = %d", rec.Code)
	}
	alert := resp["alert"].(map[string]any)
	if alert["isResolved"] != true || alert["resolvedAt"] == nil {
		t.Errorf("resolved alert payload: %v", alert)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		UserID: "user-1",
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(-time.Hour).Unix(),
		},
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}

	rec, _ := doJSON(t, env.api, http.MethodGet, "/api/alerts", signed, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token: status = %d, want 401", rec.Code)
	}
}
