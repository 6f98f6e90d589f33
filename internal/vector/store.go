// Package vector stores chunk embeddings with their metadata and answers nearest-neighbour queries.
package vector

import (
	"context"
	"fmt"
)

// Record is one stored vector with its metadata and source text.
type Record struct {
	ID        string
	Embedding []float32
	Metadata  map[string]interface{}
	Document  string
}

// Match is a stored record returned by Query or Get. Distance is only set by Query.
type Match struct {
	ID       string
	Distance float64
	Metadata map[string]interface{}
	Document string
}

// Filter restricts queries to records whose metadata equals every given value.
type Filter map[string]interface{}

// Matches reports whether metadata satisfies the filter.
func (f Filter) Matches(metadata map[string]interface{}) bool {
	for k, want := range f {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Store is a vector store over (id, embedding, metadata, document) tuples.
// Distances are squared Euclidean distances for every backend.
type Store interface {
	Add(ctx context.Context, records []Record) error
	// Query returns up to k nearest records matching where, nearest first.
	Query(ctx context.Context, query []float32, k int, where Filter) ([]Match, error)
	// Get returns every record matching where, without distances.
	Get(ctx context.Context, where Filter) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	Save(path string) error
	Load(path string) error
	Close() error
	Type() string
}
