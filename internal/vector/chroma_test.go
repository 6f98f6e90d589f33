package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeChroma serves the subset of the Chroma v1 API used by ChromaStore, backed by a MemoryStore.
type fakeChroma struct {
	mu          sync.Mutex
	store       *MemoryStore
	creates     int
	lastWhere   map[string]any
	collections map[string]string
}

func newFakeChroma(t *testing.T) (*fakeChroma, *httptest.Server) {
	t.Helper()
	store, _ := NewMemoryStore(3)
	f := &fakeChroma{store: store, collections: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeChroma) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctx := r.Context()
	var body map[string]json.RawMessage
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if r.URL.Path == "/api/v1/collections" {
		var name string
		_ = json.Unmarshal(body["name"], &name)
		f.creates++
		f.collections[name] = "col-" + name
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "col-" + name, "name": name})
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/collections/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	where := Filter{}
	if raw, ok := body["where"]; ok {
		var clause map[string]any
		_ = json.Unmarshal(raw, &clause)
		f.lastWhere = clause
		if and, ok := clause["$and"].([]any); ok {
			for _, c := range and {
				for k, v := range c.(map[string]any) {
					where[k] = v
				}
			}
		} else {
			for k, v := range clause {
				where[k] = v
			}
		}
	}

	switch parts[1] {
	case "upsert":
		var req struct {
			IDs        []string                 `json:"ids"`
			Embeddings [][]float32              `json:"embeddings"`
			Metadatas  []map[string]interface{} `json:"metadatas"`
			Documents  []string                 `json:"documents"`
		}
		raw, _ := json.Marshal(body)
		_ = json.Unmarshal(raw, &req)
		records := make([]Record, len(req.IDs))
		for i := range req.IDs {
			records[i] = Record{ID: req.IDs[i], Embedding: req.Embeddings[i], Metadata: req.Metadatas[i], Document: req.Documents[i]}
		}
		if err := f.store.Add(ctx, records); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("true"))
	case "query":
		var q [][]float32
		var n int
		_ = json.Unmarshal(body["query_embeddings"], &q)
		_ = json.Unmarshal(body["n_results"], &n)
		matches, err := f.store.Query(ctx, q[0], n, where)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ids, dists, metas, docs := []string{}, []float64{}, []map[string]interface{}{}, []string{}
		for _, m := range matches {
			ids = append(ids, m.ID)
			dists = append(dists, m.Distance)
			metas = append(metas, m.Metadata)
			docs = append(docs, m.Document)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ids": [][]string{ids}, "distances": [][]float64{dists},
			"metadatas": [][]map[string]interface{}{metas}, "documents": [][]string{docs},
		})
	case "get":
		matches, _ := f.store.Get(ctx, where)
		ids, metas, docs := []string{}, []map[string]interface{}{}, []string{}
		for _, m := range matches {
			ids = append(ids, m.ID)
			metas = append(metas, m.Metadata)
			docs = append(docs, m.Document)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ids": ids, "metadatas": metas, "documents": docs})
	case "delete":
		var ids []string
		_ = json.Unmarshal(body["ids"], &ids)
		_ = f.store.Delete(ctx, ids)
		_, _ = w.Write([]byte("[]"))
	case "count":
		n, _ := f.store.Count(ctx)
		_ = json.NewEncoder(w).Encode(n)
	default:
		http.NotFound(w, r)
	}
}

func TestChromaStore_RoundTrip(t *testing.T) {
	fake, srv := newFakeChroma(t)
	s, err := NewChromaStore(ChromaConfig{URL: srv.URL + "/", Collection: "cases"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.Add(ctx, testRecords()); err != nil {
		t.Fatal(err)
	}
	if n, err := s.Count(ctx); err != nil || n != 3 {
		t.Fatalf("Count=%d err=%v", n, err)
	}

	matches, err := s.Query(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 || matches[0].ID != "a" || matches[0].Document != "alpha" {
		t.Fatalf("unexpected matches %+v", matches)
	}

	filtered, err := s.Query(ctx, []float32{1, 0, 0}, 3, Filter{"case_id": "c2", "chunk_index": 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].ID != "c" {
		t.Errorf("filter not applied: %+v", filtered)
	}
	if _, ok := fake.lastWhere["$and"]; !ok {
		t.Errorf("multi-key filter should use $and, got %v", fake.lastWhere)
	}

	got, err := s.Get(ctx, Filter{"case_id": "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("Get returned %d", len(got))
	}
	if err := s.Delete(ctx, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count after delete=%d", n)
	}
	if fake.creates != 1 {
		t.Errorf("collection resolved %d times, want 1", fake.creates)
	}
}

func TestChromaStore_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	s, _ := NewChromaStore(ChromaConfig{URL: srv.URL, Collection: "cases"})
	if _, err := s.Count(context.Background()); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected server error, got %v", err)
	}
}

func TestChromaWhere(t *testing.T) {
	if chromaWhere(nil) != nil {
		t.Error("empty filter should be nil")
	}
	w := chromaWhere(Filter{"case_id": "x"})
	if w["case_id"] != "x" {
		t.Errorf("single key filter = %v", w)
	}
	w = chromaWhere(Filter{"case_id": "x", "chunk_index": 1})
	if clauses, ok := w["$and"].([]map[string]any); !ok || len(clauses) != 2 {
		t.Errorf("multi key filter = %v", w)
	}
}
