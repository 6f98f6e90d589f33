package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/casepilot/internal/models"
)

const solutionColumns = `id, user_input, input_method, status, related_case_ids, related_chunks,
	evaluation_metrics, generated_content, error_kind, error_message, created_at, updated_at`

func scanSolution(row rowScanner) (*models.Solution, error) {
	var sol models.Solution
	var input, caseIDs, chunks, metrics string
	var method, status, kind string
	if err := row.Scan(&sol.ID, &input, &method, &status, &caseIDs, &chunks, &metrics,
		&sol.GeneratedContent, &kind, &sol.ErrorMessage, &sol.CreatedAt, &sol.UpdatedAt); err != nil {
		return nil, err
	}
	sol.InputMethod = models.InputMethod(method)
	sol.Status = models.TaskStatus(status)
	sol.ErrorKind = models.ErrorKind(kind)
	for _, f := range []struct {
		raw string
		dst any
	}{
		{input, &sol.UserInput},
		{caseIDs, &sol.RelatedCaseIDs},
		{chunks, &sol.RelatedChunks},
		{metrics, &sol.EvaluationMetrics},
	} {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal solution %s: %w", sol.ID, err)
		}
	}
	return &sol, nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateSolution inserts a task. The status defaults to generating.
func (s *SQLiteStorage) CreateSolution(ctx context.Context, sol *models.Solution) error {
	input, err := marshalJSON(sol.UserInput)
	if err != nil {
		return fmt.Errorf("failed to marshal user input: %w", err)
	}
	if sol.Status == "" {
		sol.Status = models.StatusGenerating
	}
	if sol.RelatedCaseIDs == nil {
		sol.RelatedCaseIDs = []string{}
	}
	if sol.RelatedChunks == nil {
		sol.RelatedChunks = []models.ContextSummary{}
	}
	if sol.EvaluationMetrics == nil {
		sol.EvaluationMetrics = []models.EvaluationMetric{}
	}
	caseIDs, err := marshalJSON(sol.RelatedCaseIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal related case ids: %w", err)
	}
	chunks, err := marshalJSON(sol.RelatedChunks)
	if err != nil {
		return fmt.Errorf("failed to marshal related chunks: %w", err)
	}
	metrics, err := marshalJSON(sol.EvaluationMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation metrics: %w", err)
	}

	now := time.Now()
	sol.CreatedAt = now
	sol.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO solutions (`+solutionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sol.ID, input, string(sol.InputMethod), string(sol.Status), caseIDs, chunks, metrics,
		sol.GeneratedContent, string(sol.ErrorKind), sol.ErrorMessage, sol.CreatedAt, sol.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert solution %s: %w", sol.ID, err)
	}
	return nil
}

// GetSolution returns a task by ID.
func (s *SQLiteStorage) GetSolution(ctx context.Context, id string) (*models.Solution, error) {
	sol, err := scanSolution(s.db.QueryRowContext(ctx, `SELECT `+solutionColumns+` FROM solutions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("solution %s: %w", id, ErrNotFound)
	}
	return sol, err
}

// AttachContext stores related cases, context summaries and metrics on a generating task.
func (s *SQLiteStorage) AttachContext(ctx context.Context, id string, caseIDs []string, chunks []models.ContextSummary, metrics []models.EvaluationMetric) error {
	if caseIDs == nil {
		caseIDs = []string{}
	}
	if chunks == nil {
		chunks = []models.ContextSummary{}
	}
	if metrics == nil {
		metrics = []models.EvaluationMetric{}
	}
	idsJSON, err := marshalJSON(caseIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal related case ids: %w", err)
	}
	chunksJSON, err := marshalJSON(chunks)
	if err != nil {
		return fmt.Errorf("failed to marshal related chunks: %w", err)
	}
	metricsJSON, err := marshalJSON(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation metrics: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE solutions SET related_case_ids = ?, related_chunks = ?, evaluation_metrics = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		idsJSON, chunksJSON, metricsJSON, time.Now(), id, string(models.StatusGenerating),
	)
	if err != nil {
		return fmt.Errorf("failed to attach context to solution %s: %w", id, err)
	}
	return s.checkGeneratingUpdate(ctx, result, id)
}

// FinishSolution records the terminal outcome. Only a generating task can finish, so a
// finished task never changes again.
func (s *SQLiteStorage) FinishSolution(ctx context.Context, id string, outcome models.Outcome) error {
	if !models.StatusGenerating.CanTransition(outcome.Status) {
		return fmt.Errorf("invalid terminal status %q", outcome.Status)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE solutions SET status = ?, generated_content = ?, error_kind = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(outcome.Status), outcome.Content, string(outcome.ErrorKind), outcome.Message, time.Now(),
		id, string(models.StatusGenerating),
	)
	if err != nil {
		return fmt.Errorf("failed to finish solution %s: %w", id, err)
	}
	return s.checkGeneratingUpdate(ctx, result, id)
}

// checkGeneratingUpdate tells a missing task apart from one that already finished.
func (s *SQLiteStorage) checkGeneratingUpdate(ctx context.Context, result sql.Result, id string) error {
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetSolution(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("solution %s: %w", id, ErrTaskFinished)
}

// FailGenerating fails every task left generating, used on startup after an unclean exit.
func (s *SQLiteStorage) FailGenerating(ctx context.Context, kind models.ErrorKind, message string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE solutions SET status = ?, error_kind = ?, error_message = ?, updated_at = ? WHERE status = ?`,
		string(models.StatusFailed), string(kind), message, time.Now(), string(models.StatusGenerating),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail generating solutions: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// ListSolutions returns one page of tasks, newest first.
func (s *SQLiteStorage) ListSolutions(ctx context.Context, filter models.SolutionFilter) (*models.SolutionList, error) {
	filter.Normalize()
	clause := ""
	var args []any
	if filter.Status != "" {
		clause = " WHERE status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM solutions`+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count solutions: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+solutionColumns+` FROM solutions`+clause+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, filter.PageSize, filter.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("failed to list solutions: %w", err)
	}
	defer rows.Close()

	list := make([]*models.Solution, 0, filter.PageSize)
	for rows.Next() {
		sol, err := scanSolution(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, sol)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &models.SolutionList{
		Solutions:  list,
		Pagination: models.NewPagination(filter.Page, filter.PageSize, total),
	}, nil
}
