package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/courtside/volley-live-backend/internal/broadcast"
	"github.com/courtside/volley-live-backend/internal/hub"
	"github.com/courtside/volley-live-backend/internal/matchcode"
	"github.com/courtside/volley-live-backend/internal/store"
)

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	st := store.NewMemStore()
	t.Cleanup(st.Close)
	pub := broadcast.NewPublisher(st, zap.NewNop(), 30)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx, pub, nil, zap.NewNop())

	api := &API{Hub: h, Store: st, Pub: pub, Log: zap.NewNop()}
	return api, SetupRoutes(api, nil, nil, 30*time.Second)
}

func createBody(players int) *bytes.Buffer {
	roster := make([]map[string]any, players)
	for i := range roster {
		roster[i] = map[string]any{"id": fmt.Sprintf("p%d", i+1), "name": fmt.Sprintf("Player %d", i+1), "number": i + 1}
	}
	raw, _ := json.Marshal(map[string]any{
		"team_name":     "Northside",
		"opponent_name": "Ridgeview",
		"roster":        roster,
	})
	return bytes.NewBuffer(raw)
}

func TestCreateMatch_ReturnsCodeAndSeedsDocument(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/matches", createBody(6)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !matchcode.Valid(resp.Code) {
		t.Fatalf("malformed code %q", resp.Code)
	}

	// The document is fetchable immediately, before the first serve.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/matches/"+resp.Code, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup status = %d", rec.Code)
	}
	var doc struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.Fields["status"] != string(broadcast.StatusScheduled) {
		t.Fatalf("status field = %v, want scheduled", doc.Fields["status"])
	}
	if doc.Fields["teamName"] != "Northside" {
		t.Fatalf("creation metadata missing: %v", doc.Fields["teamName"])
	}
}

func TestCreateMatch_RejectsShortRoster(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/matches", createBody(4)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateMatch_RejectsBadSetCount(t *testing.T) {
	_, handler := newTestAPI(t)

	var req map[string]any
	_ = json.Unmarshal(createBody(6).Bytes(), &req)
	req["total_sets"] = 4
	raw, _ := json.Marshal(req)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/matches", bytes.NewBuffer(raw)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetMatch_UnknownCodeIs404(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/matches/ZZZZZ2", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetMatch_MalformedCodeIs400(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/matches/nope", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
