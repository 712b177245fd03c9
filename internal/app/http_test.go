package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"toolforge/api/internal/collab"
	"toolforge/api/internal/config"
	"toolforge/api/internal/history"
	"toolforge/api/internal/search"
	"toolforge/api/internal/store"
)

type fakeToolStore struct {
	pingFn      func(context.Context) error
	listToolsFn func(context.Context) ([]store.ToolInfo, error)
}

func (f *fakeToolStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeToolStore) ListTools(ctx context.Context) ([]store.ToolInfo, error) {
	if f.listToolsFn != nil {
		return f.listToolsFn(ctx)
	}
	return nil, nil
}

type fakeHistory struct {
	historyFn func(documentID string, limit int) ([]history.CommitInfo, error)
}

func (f *fakeHistory) History(documentID string, limit int) ([]history.CommitInfo, error) {
	if f.historyFn != nil {
		return f.historyFn(documentID, limit)
	}
	return nil, nil
}

func newTestService(t *testing.T, ts ToolStore, hist HistoryReader) *Service {
	t.Helper()
	engine := collab.NewEngine(collab.Options{HeartbeatTimeout: time.Minute}, nil, nil, nil)
	t.Cleanup(engine.Close)
	return New(config.Config{}, ts, engine, search.NewService(nil, nil), hist)
}

func doRequest(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(t, &fakeToolStore{}, nil)
	server := NewHTTPServer(svc, nil, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["ok"] != true {
		t.Errorf("expected ok=true, got %v", body["ok"])
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	svc := newTestService(t, &fakeToolStore{}, nil)
	server := NewHTTPServer(svc, nil, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/ready")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", body["status"])
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	svc := newTestService(t, &fakeToolStore{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}, nil)
	server := NewHTTPServer(svc, nil, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/ready")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["ok"] != false {
		t.Errorf("expected ok=false, got %v", body["ok"])
	}
	checks := body["checks"].(map[string]any)
	db := checks["database"].(map[string]any)
	if db["status"] != "error" {
		t.Errorf("expected database error check, got %v", db)
	}
}

func TestListToolsEndpoint(t *testing.T) {
	svc := newTestService(t, &fakeToolStore{
		listToolsFn: func(context.Context) ([]store.ToolInfo, error) {
			return []store.ToolInfo{
				{ID: "tool-1", Name: "Calculator", ToolType: "calculator", Version: 4},
				{ID: "tool-2", Name: "Dashboard", ToolType: "dashboard", Version: 9},
			}, nil
		},
	}, nil)
	server := NewHTTPServer(svc, nil, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/tools")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	tools, ok := body["tools"].([]any)
	if !ok || len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %v", body["tools"])
	}
}

func TestListToolsEndpoint_StoreError(t *testing.T) {
	svc := newTestService(t, &fakeToolStore{
		listToolsFn: func(context.Context) ([]store.ToolInfo, error) {
			return nil, errors.New("boom")
		},
	}, nil)
	server := NewHTTPServer(svc, nil, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/tools")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "INTERNAL" {
		t.Errorf("expected INTERNAL code, got %v", errObj["code"])
	}
}

func TestSnapshotEndpointServesResyncState(t *testing.T) {
	svc := newTestService(t, &fakeToolStore{}, nil)
	server := NewHTTPServer(svc, nil, "*")

	// A document nobody has touched resolves to an empty state at version 0;
	// the resync fallback never 404s for well-formed ids.
	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/tools/tool-1/snapshot")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["version"] != float64(0) {
		t.Errorf("expected version 0, got %v", body["version"])
	}
	doc, ok := body["document"].(map[string]any)
	if !ok {
		t.Fatalf("expected document object, got %v", body["document"])
	}
	if doc["documentId"] != "tool-1" {
		t.Errorf("wrong document id: %v", doc["documentId"])
	}
}

func TestPresenceEndpointEmpty(t *testing.T) {
	svc := newTestService(t, &fakeToolStore{}, nil)
	server := NewHTTPServer(svc, nil, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/tools/tool-1/presence")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	presence, ok := body["presence"].([]any)
	if !ok || len(presence) != 0 {
		t.Errorf("expected empty presence list, got %v", body["presence"])
	}
}

func TestHistoryEndpoint_Disabled(t *testing.T) {
	svc := newTestService(t, &fakeToolStore{}, nil)
	server := NewHTTPServer(svc, nil, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/tools/tool-1/history")
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "HISTORY_DISABLED" {
		t.Errorf("expected HISTORY_DISABLED, got %v", errObj["code"])
	}
}

func TestFeatureDisabledErrorShape(t *testing.T) {
	err := errFeatureDisabled("HISTORY_DISABLED", "snapshot history mirror is not configured")
	if err.Status != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", err.Status)
	}
	if err.Error() != "HISTORY_DISABLED: snapshot history mirror is not configured" {
		t.Errorf("unexpected error string %q", err.Error())
	}
}

func TestHistoryEndpoint_PassesLimit(t *testing.T) {
	var gotLimit int
	svc := newTestService(t, &fakeToolStore{}, &fakeHistory{
		historyFn: func(documentID string, limit int) ([]history.CommitInfo, error) {
			gotLimit = limit
			return []history.CommitInfo{{Hash: "abc", Author: "alice", Message: "Snapshot v1"}}, nil
		},
	})
	server := NewHTTPServer(svc, nil, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/tools/tool-1/history?limit=3")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotLimit != 3 {
		t.Errorf("limit not forwarded, got %d", gotLimit)
	}
	body := decodeBody(t, rr)
	entries, ok := body["history"].([]any)
	if !ok || len(entries) != 1 {
		t.Errorf("unexpected history payload: %v", body["history"])
	}
}

func TestCORSPreflight(t *testing.T) {
	svc := newTestService(t, &fakeToolStore{}, nil)
	server := NewHTTPServer(svc, nil, "https://tools.example.com")

	rr := doRequest(t, server.Handler(), http.MethodOptions, "/api/tools")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://tools.example.com" {
		t.Errorf("wrong CORS origin: %q", got)
	}
}
