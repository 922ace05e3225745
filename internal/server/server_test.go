package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mid "github.com/OFFIS-RIT/maintkg/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/engine"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/graph"

	"github.com/labstack/echo/v4"
)

const standardBody = `{
	"id": "std-1",
	"version": 1,
	"segments": [
		{"text": "Hydraulic pump requires procedure P-7", "section_id": "4.1", "offset": 0},
		{"text": "Control valve requires procedure P-7", "section_id": "4.1", "offset": 38}
	]
}`

func do(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	eng := engine.New(engine.Config{})
	t.Cleanup(func() { _ = eng.Close() })
	return NewServer(&mid.App{Engine: eng})
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)
	rec := do(t, e, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	e := newTestServer(t)

	rec := do(t, e, http.MethodPost, "/api/documents", standardBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report graph.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.Committed || report.Version != 1 {
		t.Fatalf("expected commit of version 1, got %+v", report)
	}

	rec = do(t, e, http.MethodPost, "/api/documents", standardBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected identical re-ingest to succeed, got %d", rec.Code)
	}

	rec = do(t, e, http.MethodGet, "/api/graph", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var g common.Graph
	if err := json.Unmarshal(rec.Body.Bytes(), &g); err != nil {
		t.Fatalf("decode graph: %v", err)
	}
	if g.Version != 1 || len(g.Nodes) != 3 || len(g.Edges) != 2 {
		t.Fatalf("expected version 1 with 3 nodes and 2 edges, got %d, %d, %d", g.Version, len(g.Nodes), len(g.Edges))
	}

	rec = do(t, e, http.MethodGet, "/api/graph/nodes/"+g.Nodes[0].ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected node lookup to succeed, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodGet, "/api/graph/nodes/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing node, got %d", rec.Code)
	}

	rec = do(t, e, http.MethodPost, "/api/questions", `{"question": "Which components require procedure P-7?", "trace": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var answer struct {
		Results []json.RawMessage `json:"results"`
		Trace   *json.RawMessage  `json:"trace"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if len(answer.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(answer.Results))
	}
	if answer.Trace == nil {
		t.Fatalf("expected trace in response")
	}

	rec = do(t, e, http.MethodGet, "/api/documents", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"std-1":1`) {
		t.Fatalf("expected documents listing, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, e, http.MethodDelete, "/api/documents/std-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodGet, "/api/documents", "")
	if strings.Contains(rec.Body.String(), "std-1") {
		t.Fatalf("expected std-1 to be unlisted after removal, got %s", rec.Body.String())
	}

	rec = do(t, e, http.MethodGet, "/api/versions", "")
	var versions []common.VersionEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &versions); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}

	rec = do(t, e, http.MethodGet, "/api/graph?as_of=1", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &g); err != nil {
		t.Fatalf("decode graph: %v", err)
	}
	if g.Version != 1 || len(g.Nodes) != 3 {
		t.Fatalf("expected historical graph with 3 nodes, got version %d with %d", g.Version, len(g.Nodes))
	}
}

func TestErrorResponses(t *testing.T) {
	e := newTestServer(t)
	if rec := do(t, e, http.MethodPost, "/api/documents", standardBody); rec.Code != http.StatusOK {
		t.Fatalf("setup ingest failed: %d", rec.Code)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid document", http.MethodPost, "/api/documents", `{"id": "", "version": 1}`, http.StatusBadRequest},
		{"non-positive version", http.MethodPost, "/api/documents", strings.Replace(standardBody, `"version": 1`, `"version": 0`, 1), http.StatusBadRequest},
		{"future version", http.MethodGet, "/api/graph?as_of=9", "", http.StatusNotFound},
		{"bad as_of", http.MethodGet, "/api/graph?as_of=x", "", http.StatusBadRequest},
		{"empty question", http.MethodPost, "/api/questions", `{"question": ""}`, http.StatusBadRequest},
		{"pattern without seeds", http.MethodPost, "/api/graph/query", `{"seeds": []}`, http.StatusBadRequest},
		{"entity search without text", http.MethodGet, "/api/entities", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, e, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestQueryAndEntities(t *testing.T) {
	e := newTestServer(t)
	if rec := do(t, e, http.MethodPost, "/api/documents", standardBody); rec.Code != http.StatusOK {
		t.Fatalf("setup ingest failed: %d", rec.Code)
	}

	rec := do(t, e, http.MethodGet, "/api/entities?type=procedure&q=P-7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var candidates []struct {
		NodeID string `json:"node_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &candidates); err != nil {
		t.Fatalf("decode candidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates))
	}

	body := `{"seeds": ["` + candidates[0].NodeID + `"], "relations": ["requires"], "direction": "in"}`
	rec = do(t, e, http.MethodPost, "/api/graph/query", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Version int64             `json:"version"`
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Version != 1 || len(res.Results) != 2 {
		t.Fatalf("expected 2 results at version 1, got %d at %d", len(res.Results), res.Version)
	}
}
