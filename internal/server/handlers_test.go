package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/casepilot/internal/config"
	"github.com/hyperjump/casepilot/internal/embedding"
	"github.com/hyperjump/casepilot/internal/extract"
	"github.com/hyperjump/casepilot/internal/generation"
	"github.com/hyperjump/casepilot/internal/indexer"
	"github.com/hyperjump/casepilot/internal/keyword"
	"github.com/hyperjump/casepilot/internal/llm"
	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/internal/retrieval"
	"github.com/hyperjump/casepilot/internal/storage"
	"github.com/hyperjump/casepilot/internal/vector"
	"go.uber.org/zap"
)

type testServer struct {
	srv      *Server
	handler  http.Handler
	importer *indexer.Importer
	orch     *generation.Orchestrator
	gen      *llm.MockGenerator
	dir      string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DatabasePath = filepath.Join(dir, "casepilot.db")
	cfg.Storage.BleveIndexPath = filepath.Join(dir, "bleve")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "vectors", "index")
	cfg.Retrieval.DefaultMinScore = 0
	cfg.Retrieval.RelaxedMinScore = 0
	cfg.Generation.TimeoutSecs = 5
	cfg.Generation.ChatTimeoutSecs = 5

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	embedder := embedding.NewMockEmbedder(64)
	t.Cleanup(func() { _ = embedder.Close() })
	mem, err := vector.NewMemoryStore(64)
	if err != nil {
		t.Fatal(err)
	}
	index := vector.NewEmbeddingIndex(embedder, mem, vector.WithPersistPath(cfg.Storage.VectorIndexPath))
	t.Cleanup(func() { _ = index.Close() })
	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })

	engine, err := retrieval.NewEngine(index, store, cfg.Retrieval)
	if err != nil {
		t.Fatal(err)
	}
	importer := indexer.NewImporter(store, index, kw,
		indexer.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap, cfg.Chunking.MinChunkSize),
		extract.NewExtractor())
	gen := llm.NewMockGenerator()
	orch := generation.NewOrchestrator(store, engine, gen, cfg.Generation)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	srv := NewServer(orch, engine, importer, store, index, cfg, zap.NewNop())
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return &testServer{srv: srv, handler: srv.Routes(), importer: importer, orch: orch, gen: gen, dir: dir}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func writeCaseDir(t *testing.T, root, name, text string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "case.md"), []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestHandleGenerate(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/solutions/generate", map[string]string{
		"method":      "text",
		"title":       "仓储盘点",
		"description": "用无人机做仓库盘点",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var created struct {
		SolutionID string `json:"solution_id"`
		Status     string `json:"status"`
	}
	decode(t, w, &created)
	if created.SolutionID == "" || created.Status != "generating" {
		t.Fatalf("unexpected response %+v", created)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ts.orch.Wait(ctx, created.SolutionID); err != nil {
		t.Fatal(err)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/solutions/"+created.SolutionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status: %d", w.Code)
	}
	var sol models.Solution
	decode(t, w, &sol)
	if sol.Status != models.StatusCompleted || sol.GeneratedContent == "" {
		t.Errorf("solution = %+v", sol)
	}
	if sol.InputMethod != models.InputText || sol.UserInput.Title != "仓储盘点" {
		t.Errorf("input not stored: %+v", sol.UserInput)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/solutions?status=completed", nil)
	var list models.SolutionList
	decode(t, w, &list)
	if list.Pagination.Total != 1 || len(list.Solutions) != 1 {
		t.Errorf("list = %+v", list.Pagination)
	}
}

func TestHandleGenerate_Invalid(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/solutions/generate", map[string]string{"method": "form", "title": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "industry") {
		t.Errorf("error should name the missing field: %s", w.Body.String())
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/solutions/generate", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status: got %d", rec.Code)
	}
}

func TestHandleSolution_NotFound(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, http.MethodGet, "/api/v1/solutions/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("get: got %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/v1/solutions/missing/chat", map[string]string{"message": "hi"}); w.Code != http.StatusNotFound {
		t.Errorf("chat: got %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/v1/solutions/missing/cancel", nil); w.Code != http.StatusNotFound {
		t.Errorf("cancel: got %d", w.Code)
	}
}

func TestHandleChatAndCancel(t *testing.T) {
	ts := newTestServer(t)
	id, err := ts.orch.CreateTask(context.Background(), models.UserInput{Title: "t", Description: "d"}, models.InputText)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ts.orch.Wait(ctx, id); err != nil {
		t.Fatal(err)
	}

	if w := ts.do(t, http.MethodPost, "/api/v1/solutions/"+id+"/chat", map[string]string{"message": "  "}); w.Code != http.StatusBadRequest {
		t.Errorf("empty message: got %d", w.Code)
	}

	ts.gen.Response = "预算可以压缩到80万。"
	w := ts.do(t, http.MethodPost, "/api/v1/solutions/"+id+"/chat", map[string]string{"message": "预算能否降低？"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Reply string `json:"reply"`
	}
	decode(t, w, &out)
	if out.Reply != "预算可以压缩到80万。" {
		t.Errorf("reply = %q", out.Reply)
	}

	if w := ts.do(t, http.MethodPost, "/api/v1/solutions/"+id+"/cancel", nil); w.Code != http.StatusConflict {
		t.Errorf("cancel finished task: got %d, want 409", w.Code)
	}
}

func TestHandleCases(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	root := filepath.Join(ts.dir, "library")
	c, err := ts.importer.ImportCase(ctx, writeCaseDir(t, root, "agv", "仓储AGV导航系统\n\n激光SLAM导航，定位精度±10mm。"))
	if err != nil {
		t.Fatal(err)
	}

	w := ts.do(t, http.MethodGet, "/api/v1/cases?page=1&page_size=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	var list models.CaseList
	decode(t, w, &list)
	if list.Pagination.Total != 1 || len(list.Cases) != 1 || list.Cases[0].ID != c.ID {
		t.Fatalf("list = %+v", list)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/cases/"+c.ID, nil)
	var got models.Case
	decode(t, w, &got)
	if got.ViewCount != 1 {
		t.Errorf("view count = %d, want 1", got.ViewCount)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/cases/search?q="+url.QueryEscape("激光SLAM导航")+"&top_k=3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d %s", w.Code, w.Body.String())
	}
	var search struct {
		Total   int                 `json:"total"`
		Results []*models.CaseMatch `json:"results"`
	}
	decode(t, w, &search)
	if search.Total != 1 || search.Results[0].Case.ID != c.ID || search.Results[0].MatchedChunks < 1 {
		t.Errorf("search = %+v", search)
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/cases/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search without q: got %d", w.Code)
	}

	if w := ts.do(t, http.MethodDelete, "/api/v1/cases/"+c.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/cases/"+c.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted: got %d", w.Code)
	}
	if w := ts.do(t, http.MethodDelete, "/api/v1/cases/"+c.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("delete twice: got %d", w.Code)
	}
}

func TestHandleImport(t *testing.T) {
	ts := newTestServer(t)
	root := filepath.Join(ts.dir, "library")
	writeCaseDir(t, root, "a", "PCB缺陷检测项目\n\n焊点缺失与划痕识别。")
	writeCaseDir(t, root, "b", "仓储盘点方案\n\n无人机盘点。")

	w := ts.do(t, http.MethodPost, "/api/v1/cases/import", map[string]string{"directory": root})
	if w.Code != http.StatusAccepted {
		t.Fatalf("import: got %d, body: %s", w.Code, w.Body.String())
	}
	ts.srv.waitImport()

	w = ts.do(t, http.MethodGet, "/api/v1/status", nil)
	var status struct {
		Cases      int64 `json:"cases"`
		Importing  bool  `json:"importing"`
		LastImport struct {
			Directory string                `json:"directory"`
			Report    *indexer.ImportReport `json:"report"`
		} `json:"last_import"`
	}
	decode(t, w, &status)
	if status.Cases != 2 || status.Importing {
		t.Errorf("status = %+v", status)
	}
	if status.LastImport.Report == nil || status.LastImport.Report.Imported != 2 {
		t.Errorf("last import = %+v", status.LastImport)
	}

	if w := ts.do(t, http.MethodPost, "/api/v1/cases/import", map[string]string{"directory": filepath.Join(ts.dir, "nope")}); w.Code != http.StatusNotFound {
		t.Errorf("missing dir: got %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.importer.ImportCase(context.Background(), writeCaseDir(t, filepath.Join(ts.dir, "library"), "c", "视觉质检系统\n\n表面缺陷检测。")); err != nil {
		t.Fatal(err)
	}
	w := ts.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Cases           int64              `json:"cases"`
		Chunks          int64              `json:"chunks"`
		Solutions       int64              `json:"solutions"`
		VectorIndexSize int                `json:"vector_index_size"`
		VectorStore     string             `json:"vector_store"`
		DiskUsage       *storage.DiskUsage `json:"disk_usage"`
		Config          map[string]interface{}
	}
	decode(t, w, &out)
	if out.Cases != 1 || out.Chunks < 1 || out.Solutions != 0 {
		t.Errorf("counts = %+v", out)
	}
	if out.VectorIndexSize != int(out.Chunks) {
		t.Errorf("vector_index_size = %d, chunks = %d", out.VectorIndexSize, out.Chunks)
	}
	if out.DiskUsage == nil || out.DiskUsage.Database < 1 || out.DiskUsage.Total < out.DiskUsage.Database {
		t.Errorf("disk usage = %+v", out.DiskUsage)
	}
	if out.Config["vector_backend"] != "memory" {
		t.Errorf("config = %v", out.Config)
	}
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}
}
