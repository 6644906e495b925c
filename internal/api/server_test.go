package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/evolab/internal/config"
	"github.com/talgya/evolab/internal/persistence"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Seed = 17
	cfg.HawkDove.Generations = 20
	cfg.Jackdaw.Simulations = 5
	cfg.Dominance.Generations = 5
	cfg.Dominance.PopulationSize = 6
	cfg.PredPrey.Steps = 20
	cfg.Server.AdminKey = "admin-secret"
	cfg.Server.MaxGenerations = 500
	return cfg
}

func newTestServer(t *testing.T, withDB bool) *Server {
	t.Helper()
	var db *persistence.DB
	if withDB {
		var err error
		db, err = persistence.Open(filepath.Join(t.TempDir(), "api.db"))
		if err != nil {
			t.Fatalf("persistence.Open failed: %v", err)
		}
		t.Cleanup(func() { db.Close() })
	}
	return NewServer(testConfig(), db, "test")
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusAndModels(t *testing.T) {
	h := newTestServer(t, false).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("status body: %v", err)
	}
	if status["archive"] != false {
		t.Errorf("expected archive disabled, got %v", status["archive"])
	}

	rec = do(t, h, http.MethodGet, "/api/v1/models", "")
	var models []struct {
		Name     string         `json:"name"`
		Defaults map[string]any `json:"defaults"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &models); err != nil {
		t.Fatalf("models body: %v", err)
	}
	if len(models) != 4 || models[0].Name != "hawkdove" {
		t.Fatalf("unexpected models %+v", models)
	}
	if models[0].Defaults["rule"] != "replicator" {
		t.Errorf("expected hawkdove defaults, got %v", models[0].Defaults)
	}
}

func TestRunWithOverrides(t *testing.T) {
	h := newTestServer(t, false).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/run/hawkdove?seed=5", `{"generations": 8, "rule": "pairwise", "population_size": 20}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID      string            `json:"id"`
		Model   string            `json:"model"`
		Seed    int64             `json:"seed"`
		Rule    string            `json:"rule"`
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Seed != 5 || resp.Rule != "pairwise" || len(resp.Entries) != 9 {
		t.Errorf("unexpected response seed=%d rule=%s entries=%d", resp.Seed, resp.Rule, len(resp.Entries))
	}
	if resp.ID != "" {
		t.Error("unsaved run should have no ID")
	}
}

func TestRunUsesConfigSeed(t *testing.T) {
	h := newTestServer(t, false).Handler()
	rec := do(t, h, http.MethodPost, "/api/v1/run/predprey", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Seed int64 `json:"seed"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Seed != 17 {
		t.Errorf("expected configured seed 17, got %d", resp.Seed)
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	h := newTestServer(t, false).Handler()

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown model", "/api/v1/run/bees", "", http.StatusBadRequest},
		{"invalid value", "/api/v1/run/hawkdove", `{"v": -1}`, http.StatusBadRequest},
		{"unknown field", "/api/v1/run/jackdaw", `{"rounds": 3}`, http.StatusBadRequest},
		{"over generation cap", "/api/v1/run/dominance", `{"generations": 501}`, http.StatusBadRequest},
		{"bad seed", "/api/v1/run/predprey?seed=abc", "", http.StatusBadRequest},
		{"malformed json", "/api/v1/run/predprey", `{"alpha":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRunOverridesDoNotLeak(t *testing.T) {
	s := newTestServer(t, false)
	h := s.Handler()
	do(t, h, http.MethodPost, "/api/v1/run/hawkdove", `{"v": 3, "initial_hawk_fraction": 0.2}`)
	if s.Config.HawkDove.V != 10 || s.Config.HawkDove.InitialHawkFraction != nil {
		t.Errorf("request override leaked into server config: %+v", s.Config.HawkDove)
	}
}

func TestArchiveDisabled(t *testing.T) {
	h := newTestServer(t, false).Handler()
	if rec := do(t, h, http.MethodGet, "/api/v1/runs", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a database, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/run/jackdaw?save=1", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 saving without a database, got %d", rec.Code)
	}
}

func TestSaveListShowDelete(t *testing.T) {
	h := newTestServer(t, true).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/run/dominance?save=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("run: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var saved struct {
		ID string `json:"id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &saved)
	if saved.ID == "" {
		t.Fatal("expected a run ID")
	}

	rec = do(t, h, http.MethodGet, "/api/v1/runs?model=dominance", "")
	var runs []persistence.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("runs body: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != saved.ID {
		t.Fatalf("unexpected runs %+v", runs)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/runs/"+saved.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: expected 200, got %d", rec.Code)
	}
	var detail struct {
		Run     persistence.Run   `json:"run"`
		Entries []json.RawMessage `json:"entries"`
	}
	json.Unmarshal(rec.Body.Bytes(), &detail)
	if detail.Run.EntryCount != len(detail.Entries) || len(detail.Entries) == 0 {
		t.Errorf("entry count %d, entries %d", detail.Run.EntryCount, len(detail.Entries))
	}

	if rec := do(t, h, http.MethodDelete, "/api/v1/runs/"+saved.ID, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("delete without token: expected 401, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/v1/runs/"+saved.ID, "", "Authorization", "Bearer admin-secret"); rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/runs/"+saved.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("detail after delete: expected 404, got %d", rec.Code)
	}
}

func TestDeleteDisabledWithoutAdminKey(t *testing.T) {
	s := newTestServer(t, true)
	s.Config.Server.AdminKey = ""
	rec := do(t, s.Handler(), http.MethodDelete, "/api/v1/runs/x", "", "Authorization", "Bearer ")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestRunRateLimited(t *testing.T) {
	s := newTestServer(t, false)
	s.Config.Server.RunsPerHour = 2
	s.limiter = NewRateLimiter(2, time.Hour)
	h := s.Handler()

	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodPost, "/api/v1/run/predprey", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := do(t, h, http.MethodPost, "/api/v1/run/predprey", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, false)
	s.Config.Server.CORSOrigins = []string{"https://lab.example"}
	h := s.Handler()

	rec := do(t, h, http.MethodOptions, "/api/v1/models", "", "Origin", "https://lab.example")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://lab.example" {
		t.Error("expected configured origin to be allowed")
	}

	rec = do(t, h, http.MethodGet, "/api/v1/models", "", "Origin", "https://evil.example")
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unexpected CORS header for unknown origin")
	}
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, false).Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/hawkdove?seed=3&config=" + url.QueryEscape(`{"generations":4}`)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var gens []int
	for {
		var msg struct {
			Type       string         `json:"type"`
			Generation int            `json:"generation"`
			Report     map[string]any `json:"report"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed after %d frames: %v", len(gens), err)
		}
		if msg.Type == "done" {
			if msg.Report["model"] != "hawkdove" {
				t.Errorf("unexpected final report %v", msg.Report)
			}
			break
		}
		gens = append(gens, msg.Generation)
	}

	if len(gens) != 5 {
		t.Fatalf("expected 5 generation frames, got %v", gens)
	}
	for i, g := range gens {
		if g != i {
			t.Errorf("frame %d carried generation %d", i, g)
		}
	}
}

func TestStreamRejectsInvalidConfig(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, false).Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/jackdaw?config=" + url.QueryEscape(`{"iterations":0}`)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 response, got %v", resp)
	}
}
