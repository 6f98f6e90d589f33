//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"
)

// faissEntry is the side-table row for one FAISS label.
type faissEntry struct {
	ID       string
	Metadata string // JSON
	Document string
}

// FAISSStore keeps vectors in a FAISS IndexFlatL2 and metadata in a side table keyed by label.
// Deleted labels stay in the FAISS index and are skipped at query time.
type FAISSStore struct {
	index      *C.FaissIndex
	dimensions int
	entries    map[int64]*faissEntry
	labels     map[string]int64
	nextLabel  int64
	mu         sync.RWMutex
}

// NewFAISSStore creates a FAISS store with the given dimension.
func NewFAISSStore(dimensions int) (*FAISSStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	var index *C.FaissIndexFlatL2
	if ret := C.faiss_IndexFlatL2_new_with(&index, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return &FAISSStore{
		index:      (*C.FaissIndex)(unsafe.Pointer(index)),
		dimensions: dimensions,
		entries:    make(map[int64]*faissEntry),
		labels:     make(map[string]int64),
	}, nil
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Add appends records. Re-adding an ID hides the previous vector.
func (f *FAISSStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	flat := make([]float32, len(records)*f.dimensions)
	entries := make([]*faissEntry, len(records))
	for i, r := range records {
		if len(r.Embedding) != f.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Embedding), f.dimensions)
		}
		copy(flat[i*f.dimensions:], r.Embedding)
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", r.ID, err)
		}
		entries[i] = &faissEntry{ID: r.ID, Metadata: string(meta), Document: r.Document}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ret := C.faiss_Index_add(f.index, C.idx_t(len(records)), (*C.float)(unsafe.Pointer(&flat[0]))); ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	for _, e := range entries {
		if old, ok := f.labels[e.ID]; ok {
			delete(f.entries, old)
		}
		f.entries[f.nextLabel] = e
		f.labels[e.ID] = f.nextLabel
		f.nextLabel++
	}
	return nil
}

// Query searches the flat index. With a filter or deleted labels present the whole index is
// scanned so filtering never starves the result.
func (f *FAISSStore) Query(ctx context.Context, query []float32, k int, where Filter) ([]Match, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	ntotal := int(C.faiss_Index_ntotal(f.index))
	if ntotal == 0 {
		return nil, nil
	}
	fetch := k
	if len(where) > 0 || len(f.entries) < ntotal {
		fetch = ntotal
	}
	if fetch > ntotal {
		fetch = ntotal
	}

	distances := make([]float32, fetch)
	labels := make([]int64, fetch)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(fetch),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	matches := make([]Match, 0, k)
	for i := 0; i < fetch && len(matches) < k; i++ {
		e, ok := f.entries[labels[i]]
		if !ok {
			continue
		}
		meta := decodeMetadata(e.Metadata)
		if !where.Matches(meta) {
			continue
		}
		matches = append(matches, Match{ID: e.ID, Distance: float64(distances[i]), Metadata: meta, Document: e.Document})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	return matches, nil
}

// Get returns the live records matching where, ordered by insertion.
func (f *FAISSStore) Get(ctx context.Context, where Filter) ([]Match, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	labels := make([]int64, 0, len(f.entries))
	for l := range f.entries {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	var out []Match
	for _, l := range labels {
		e := f.entries[l]
		meta := decodeMetadata(e.Metadata)
		if where.Matches(meta) {
			out = append(out, Match{ID: e.ID, Metadata: meta, Document: e.Document})
		}
	}
	return out, nil
}

// Delete hides records by ID. IndexFlat has no cheap removal, so vectors stay until the index is rebuilt.
func (f *FAISSStore) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if l, ok := f.labels[id]; ok {
			delete(f.entries, l)
			delete(f.labels, id)
		}
	}
	return nil
}

// Count returns the number of live records.
func (f *FAISSStore) Count(ctx context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries), nil
}

type faissSideTable struct {
	Entries   map[int64]*faissEntry
	NextLabel int64
}

// Save writes path.faiss (the index) and path.meta (the side table).
func (f *FAISSStore) Save(path string) error {
	if path == "" {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	cPath := C.CString(path + ".faiss")
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	mf, err := os.Create(path + ".meta")
	if err != nil {
		return fmt.Errorf("create side table: %w", err)
	}
	defer mf.Close()
	if err := gob.NewEncoder(mf).Encode(faissSideTable{Entries: f.entries, NextLabel: f.nextLabel}); err != nil {
		return fmt.Errorf("encode side table: %w", err)
	}
	return nil
}

// Load reads files written by Save. Missing files leave the store unchanged.
func (f *FAISSStore) Load(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path + ".faiss"); os.IsNotExist(err) {
		return nil
	}
	mf, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open side table: %w", err)
	}
	defer mf.Close()
	var table faissSideTable
	if err := gob.NewDecoder(mf).Decode(&table); err != nil {
		return fmt.Errorf("decode side table: %w", err)
	}

	cPath := C.CString(path + ".faiss")
	defer C.free(unsafe.Pointer(cPath))
	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	f.entries = table.Entries
	if f.entries == nil {
		f.entries = make(map[int64]*faissEntry)
	}
	f.nextLabel = table.NextLabel
	f.labels = make(map[string]int64, len(f.entries))
	for l, e := range f.entries {
		f.labels[e.ID] = l
	}
	return nil
}

// Close frees the FAISS index.
func (f *FAISSStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the store type identifier.
func (f *FAISSStore) Type() string {
	return string(StoreTypeFAISS)
}

func decodeMetadata(s string) map[string]interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return map[string]interface{}{}
	}
	return m
}
