//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"errors"
)

var errFAISSUnavailable = errors.New("FAISS not available: build with -tags=faiss and install the FAISS library")

// FAISSStore is a stub when the faiss build tag is not set.
type FAISSStore struct{}

// NewFAISSStore returns an error because FAISS is not compiled in.
func NewFAISSStore(dimensions int) (*FAISSStore, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSStore) Add(ctx context.Context, records []Record) error { return errFAISSUnavailable }

func (f *FAISSStore) Query(ctx context.Context, query []float32, k int, where Filter) ([]Match, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSStore) Get(ctx context.Context, where Filter) ([]Match, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSStore) Delete(ctx context.Context, ids []string) error { return errFAISSUnavailable }

func (f *FAISSStore) Count(ctx context.Context) (int, error) { return 0, errFAISSUnavailable }

func (f *FAISSStore) Save(path string) error { return errFAISSUnavailable }

func (f *FAISSStore) Load(path string) error { return errFAISSUnavailable }

func (f *FAISSStore) Close() error { return nil }

func (f *FAISSStore) Type() string { return string(StoreTypeFAISS) }
