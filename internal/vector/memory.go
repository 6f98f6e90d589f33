package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/casepilot/pkg/utils"
)

// MemoryStore is an in-memory vector store using brute-force squared-L2 search.
// Suitable for tests and case libraries up to tens of thousands of chunks.
type MemoryStore struct {
	dimensions int
	records    []Record
	byID       map[string]int
	mu         sync.RWMutex
}

// NewMemoryStore creates an in-memory store for vectors of the given dimension.
func NewMemoryStore(dimensions int) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryStore{
		dimensions: dimensions,
		byID:       make(map[string]int),
	}, nil
}

// Type returns the store type identifier.
func (m *MemoryStore) Type() string {
	return string(StoreTypeMemory)
}

// Add stores records. A record whose ID already exists replaces the old one.
func (m *MemoryStore) Add(ctx context.Context, records []Record) error {
	for _, r := range records {
		if len(r.Embedding) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Embedding), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		rec := Record{
			ID:        r.ID,
			Embedding: append([]float32(nil), r.Embedding...),
			Metadata:  copyMetadata(r.Metadata),
			Document:  r.Document,
		}
		if i, ok := m.byID[r.ID]; ok {
			m.records[i] = rec
			continue
		}
		m.byID[r.ID] = len(m.records)
		m.records = append(m.records, rec)
	}
	return nil
}

// Query returns the k records nearest to query among those matching where.
func (m *MemoryStore) Query(ctx context.Context, query []float32, k int, where Filter) ([]Match, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.records))
	for _, r := range m.records {
		if !where.Matches(r.Metadata) {
			continue
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Distance: utils.SquaredL2(query, r.Embedding),
			Metadata: r.Metadata,
			Document: r.Document,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// Get returns all records matching where, in insertion order.
func (m *MemoryStore) Get(ctx context.Context, where Filter) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Match
	for _, r := range m.records {
		if where.Matches(r.Metadata) {
			out = append(out, Match{ID: r.ID, Metadata: r.Metadata, Document: r.Document})
		}
	}
	return out, nil
}

// Delete removes records by ID. Unknown IDs are ignored.
func (m *MemoryStore) Delete(ctx context.Context, ids []string) error {
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if !remove[r.ID] {
			kept = append(kept, r)
		}
	}
	m.records = kept
	m.reindex()
	return nil
}

func (m *MemoryStore) reindex() {
	m.byID = make(map[string]int, len(m.records))
	for i, r := range m.records {
		m.byID[r.ID] = i
	}
}

// Count returns the number of stored records.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Save persists the store to path. Format: dimension (4), n (4), then per record:
// idLen (4), id, vector (dimension*4), metaLen (4), metadata JSON, docLen (4), document.
func (m *MemoryStore) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.records))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, r := range m.records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", r.ID, err)
		}
		if err := writeBlock(w, []byte(r.ID)); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(r.Embedding)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		if err := writeBlock(w, meta); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
		if err := writeBlock(w, []byte(r.Document)); err != nil {
			return fmt.Errorf("write document: %w", err)
		}
	}
	return w.Flush()
}

// Load replaces the contents with the store saved at path. Dimensions must match.
// A missing file leaves the store unchanged.
func (m *MemoryStore) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}

	records := make([]Record, 0, n)
	vecBuf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		id, err := readBlock(r)
		if err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, vecBuf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		meta, err := readBlock(r)
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		doc, err := readBlock(r)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		var metadata map[string]interface{}
		if err := json.Unmarshal(meta, &metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
		records = append(records, Record{
			ID:        string(id),
			Embedding: bytesToFloat32Slice(vecBuf),
			Metadata:  metadata,
			Document:  string(doc),
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	m.reindex()
	return nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}

func writeBlock(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBlock(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
