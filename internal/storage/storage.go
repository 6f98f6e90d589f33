// Package storage defines the persistence interface for cases, chunks, vector mappings and solution tasks.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/casepilot/internal/models"
)

var (
	// ErrNotFound is returned by keyed lookups when no row exists.
	ErrNotFound = errors.New("not found")
	// ErrTaskFinished is returned when a write targets a solution that already reached a terminal state.
	ErrTaskFinished = errors.New("solution task already finished")
)

// Storage defines case library and solution task persistence operations.
type Storage interface {
	// Case operations
	CreateCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, id string) (*models.Case, error)
	GetCaseBySourceKey(ctx context.Context, sourceKey string) (*models.Case, error)
	// GetCases returns the cases that exist among ids, keyed by id.
	GetCases(ctx context.Context, ids []string) (map[string]*models.Case, error)
	IncrementViewCount(ctx context.Context, id string) error
	// DeleteCase removes the case with its chunks and vector mappings.
	DeleteCase(ctx context.Context, id string) error
	ListCases(ctx context.Context, filter models.CaseFilter) (*models.CaseList, error)

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunksByCaseID(ctx context.Context, caseID string) ([]*models.Chunk, error)

	// Vector mapping operations
	SaveVectorMappings(ctx context.Context, mappings []models.VectorMapping) error
	GetVectorMappings(ctx context.Context, caseID string) ([]models.VectorMapping, error)

	// Solution operations
	CreateSolution(ctx context.Context, s *models.Solution) error
	GetSolution(ctx context.Context, id string) (*models.Solution, error)
	// AttachContext stores the retrieval trace of a generating task.
	AttachContext(ctx context.Context, id string, caseIDs []string, chunks []models.ContextSummary, metrics []models.EvaluationMetric) error
	// FinishSolution moves a generating task to the outcome's terminal status.
	FinishSolution(ctx context.Context, id string, outcome models.Outcome) error
	// FailGenerating marks every task still generating as failed and returns how many were changed.
	FailGenerating(ctx context.Context, kind models.ErrorKind, message string) (int, error)
	ListSolutions(ctx context.Context, filter models.SolutionFilter) (*models.SolutionList, error)

	// Stats
	CountCases(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)
	CountSolutions(ctx context.Context) (int64, error)

	Close() error
}
