package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ChromaConfig locates a Chroma server and collection.
type ChromaConfig struct {
	URL        string
	Collection string
	Timeout    time.Duration
}

// ChromaStore is a minimal client for the Chroma REST API (v1). The collection is created
// on first use with the l2 space, so distances are squared Euclidean like the local stores.
type ChromaStore struct {
	url        string
	collection string
	client     *http.Client

	mu           sync.Mutex
	collectionID string
}

// NewChromaStore creates a client; no request is made until the first call.
func NewChromaStore(cfg ChromaConfig) (*ChromaStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("chroma url is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("chroma collection is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ChromaStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// Type returns the store type identifier.
func (s *ChromaStore) Type() string {
	return string(StoreTypeChroma)
}

func (s *ChromaStore) ensureCollection(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collectionID != "" {
		return s.collectionID, nil
	}
	body := map[string]any{
		"name":          s.collection,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "l2"},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.url+"/api/v1/collections", body, &resp); err != nil {
		return "", fmt.Errorf("failed to get or create collection %s: %w", s.collection, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("chroma returned no id for collection %s", s.collection)
	}
	s.collectionID = resp.ID
	return s.collectionID, nil
}

func (s *ChromaStore) collectionURL(ctx context.Context, op string) (string, error) {
	id, err := s.ensureCollection(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/api/v1/collections/%s/%s", s.url, id, op), nil
}

// Add upserts records into the collection.
func (s *ChromaStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	url, err := s.collectionURL(ctx, "upsert")
	if err != nil {
		return err
	}
	ids := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	metadatas := make([]map[string]interface{}, len(records))
	documents := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
		embeddings[i] = r.Embedding
		metadatas[i] = r.Metadata
		documents[i] = r.Document
	}
	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"metadatas":  metadatas,
		"documents":  documents,
	}
	return s.doJSON(ctx, http.MethodPost, url, body, nil)
}

// Query runs a nearest-neighbour query with an optional metadata filter.
func (s *ChromaStore) Query(ctx context.Context, query []float32, k int, where Filter) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	url, err := s.collectionURL(ctx, "query")
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"query_embeddings": [][]float32{query},
		"n_results":        k,
		"include":          []string{"metadatas", "documents", "distances"},
	}
	if w := chromaWhere(where); w != nil {
		body["where"] = w
	}
	var resp struct {
		IDs       [][]string                 `json:"ids"`
		Distances [][]float64                `json:"distances"`
		Metadatas [][]map[string]interface{} `json:"metadatas"`
		Documents [][]*string                `json:"documents"`
	}
	if err := s.doJSON(ctx, http.MethodPost, url, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}
	matches := make([]Match, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		m := Match{ID: id}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			m.Distance = resp.Distances[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			m.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			m.Document = *resp.Documents[0][i]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Get returns every record matching where.
func (s *ChromaStore) Get(ctx context.Context, where Filter) ([]Match, error) {
	url, err := s.collectionURL(ctx, "get")
	if err != nil {
		return nil, err
	}
	body := map[string]any{"include": []string{"metadatas", "documents"}}
	if w := chromaWhere(where); w != nil {
		body["where"] = w
	}
	var resp struct {
		IDs       []string                 `json:"ids"`
		Metadatas []map[string]interface{} `json:"metadatas"`
		Documents []*string                `json:"documents"`
	}
	if err := s.doJSON(ctx, http.MethodPost, url, body, &resp); err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(resp.IDs))
	for i, id := range resp.IDs {
		m := Match{ID: id}
		if i < len(resp.Metadatas) {
			m.Metadata = resp.Metadatas[i]
		}
		if i < len(resp.Documents) && resp.Documents[i] != nil {
			m.Document = *resp.Documents[i]
		}
		out = append(out, m)
	}
	return out, nil
}

// Delete removes records by ID.
func (s *ChromaStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	url, err := s.collectionURL(ctx, "delete")
	if err != nil {
		return err
	}
	return s.doJSON(ctx, http.MethodPost, url, map[string]any{"ids": ids}, nil)
}

// Count returns the number of records in the collection.
func (s *ChromaStore) Count(ctx context.Context) (int, error) {
	url, err := s.collectionURL(ctx, "count")
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.doJSON(ctx, http.MethodGet, url, nil, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Save is a no-op; the server persists the collection.
func (s *ChromaStore) Save(path string) error { return nil }

// Load is a no-op; the server persists the collection.
func (s *ChromaStore) Load(path string) error { return nil }

// Close releases idle connections.
func (s *ChromaStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// chromaWhere converts a Filter to Chroma's where syntax; several keys need an explicit $and.
func chromaWhere(f Filter) map[string]any {
	switch len(f) {
	case 0:
		return nil
	case 1:
		for k, v := range f {
			return map[string]any{k: v}
		}
	}
	clauses := make([]map[string]any, 0, len(f))
	for k, v := range f {
		clauses = append(clauses, map[string]any{k: v})
	}
	return map[string]any{"$and": clauses}
}

func (s *ChromaStore) doJSON(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chroma %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode chroma response: %w", err)
		}
	}
	return nil
}
