package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/casepilot/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		industry TEXT NOT NULL DEFAULT '',
		scenario TEXT NOT NULL DEFAULT '',
		technology TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		metrics TEXT NOT NULL DEFAULT '',
		acceptance_standards TEXT NOT NULL DEFAULT '',
		doc_path TEXT NOT NULL DEFAULT '',
		source_key TEXT NOT NULL DEFAULT '',
		view_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_cases_industry ON cases(industry);
	CREATE INDEX IF NOT EXISTS idx_cases_source_key ON cases(source_key);
	CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at);

	CREATE TABLE IF NOT EXISTS case_chunks (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_case_chunk ON case_chunks(case_id, chunk_index);

	CREATE TABLE IF NOT EXISTS case_vectors (
		chunk_id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		vector_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vectors_case_id ON case_vectors(case_id);

	CREATE TABLE IF NOT EXISTS solutions (
		id TEXT PRIMARY KEY,
		user_input TEXT NOT NULL,
		input_method TEXT NOT NULL,
		status TEXT NOT NULL,
		related_case_ids TEXT NOT NULL DEFAULT '[]',
		related_chunks TEXT NOT NULL DEFAULT '[]',
		evaluation_metrics TEXT NOT NULL DEFAULT '[]',
		generated_content TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_solutions_status ON solutions(status);
	CREATE INDEX IF NOT EXISTS idx_solutions_created_at ON solutions(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const caseColumns = `id, title, industry, scenario, technology, description, summary, metrics,
	acceptance_standards, doc_path, source_key, view_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*models.Case, error) {
	var c models.Case
	var metricsJSON string
	if err := row.Scan(&c.ID, &c.Title, &c.Industry, &c.Scenario, &c.Technology, &c.Description,
		&c.Summary, &metricsJSON, &c.AcceptanceStandards, &c.DocPath, &c.SourceKey, &c.ViewCount,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if metricsJSON != "" {
		if err := json.Unmarshal([]byte(metricsJSON), &c.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics of case %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func marshalOptional(v map[string]interface{}) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateCase inserts a case.
func (s *SQLiteStorage) CreateCase(ctx context.Context, c *models.Case) error {
	metricsJSON, err := marshalOptional(c.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cases (`+caseColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Industry, c.Scenario, c.Technology, c.Description, c.Summary, metricsJSON,
		c.AcceptanceStandards, c.DocPath, c.SourceKey, c.ViewCount, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert case %s: %w", c.ID, err)
	}
	return nil
}

// GetCase returns a case by ID.
func (s *SQLiteStorage) GetCase(ctx context.Context, id string) (*models.Case, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	return c, err
}

// GetCaseBySourceKey returns the most recent case imported from sourceKey.
func (s *SQLiteStorage) GetCaseBySourceKey(ctx context.Context, sourceKey string) (*models.Case, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE source_key = ? ORDER BY created_at DESC LIMIT 1`, sourceKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case with source %s: %w", sourceKey, ErrNotFound)
	}
	return c, err
}

// GetCases returns the cases that exist among ids.
func (s *SQLiteStorage) GetCases(ctx context.Context, ids []string) (map[string]*models.Case, error) {
	out := make(map[string]*models.Case, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// IncrementViewCount adds one to a case's view count.
func (s *SQLiteStorage) IncrementViewCount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE cases SET view_count = view_count + 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteCase removes a case, its chunks and its vector mappings in one transaction.
func (s *SQLiteStorage) DeleteCase(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM case_vectors WHERE case_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete vector mappings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM case_chunks WHERE case_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete case: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// ListCases returns one page of cases matching filter.
func (s *SQLiteStorage) ListCases(ctx context.Context, filter models.CaseFilter) (*models.CaseList, error) {
	filter.Normalize()

	var where []string
	var args []any
	for _, f := range []struct{ column, value string }{
		{"industry", filter.Industry},
		{"scenario", filter.Scenario},
		{"technology", filter.Technology},
	} {
		if f.value != "" {
			where = append(where, f.column+" = ?")
			args = append(args, f.value)
		}
	}
	if filter.Keyword != "" {
		where = append(where, "(title LIKE ? OR description LIKE ?)")
		like := "%" + filter.Keyword + "%"
		args = append(args, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count cases: %w", err)
	}

	// SortBy and SortOrder are whitelisted by Normalize.
	query := `SELECT ` + caseColumns + ` FROM cases` + clause +
		fmt.Sprintf(" ORDER BY %s %s, id LIMIT ? OFFSET ?", filter.SortBy, filter.SortOrder)
	rows, err := s.db.QueryContext(ctx, query, append(args, filter.PageSize, filter.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	cases := make([]*models.Case, 0, filter.PageSize)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &models.CaseList{
		Cases:      cases,
		Pagination: models.NewPagination(filter.Page, filter.PageSize, total),
	}, nil
}

// BatchCreateChunks inserts multiple chunks in a transaction.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO case_chunks (id, case_id, chunk_index, content, token_count, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, chunk := range chunks {
		meta, err := marshalOptional(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}
		chunk.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.CaseID, chunk.Index, chunk.Content,
			chunk.TokenCount, meta, chunk.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}
	return tx.Commit()
}

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var c models.Chunk
	var meta string
	if err := row.Scan(&c.ID, &c.CaseID, &c.Index, &c.Content, &c.TokenCount, &meta, &c.CreatedAt); err != nil {
		return nil, err
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &c.Metadata)
	}
	return &c, nil
}

// GetChunk returns a chunk by ID.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	c, err := scanChunk(s.db.QueryRowContext(ctx,
		`SELECT id, case_id, chunk_index, content, token_count, metadata, created_at
		 FROM case_chunks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	return c, err
}

// GetChunksByCaseID returns all chunks of a case ordered by chunk_index.
func (s *SQLiteStorage) GetChunksByCaseID(ctx context.Context, caseID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, chunk_index, content, token_count, metadata, created_at
		 FROM case_chunks WHERE case_id = ? ORDER BY chunk_index`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SaveVectorMappings stores chunk-to-vector links, replacing existing links of the same chunks.
func (s *SQLiteStorage) SaveVectorMappings(ctx context.Context, mappings []models.VectorMapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO case_vectors (chunk_id, case_id, vector_id) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range mappings {
		if _, err := stmt.ExecContext(ctx, m.ChunkID, m.CaseID, m.VectorID); err != nil {
			return fmt.Errorf("failed to save vector mapping %s: %w", m.ChunkID, err)
		}
	}
	return tx.Commit()
}

// GetVectorMappings returns the vector links of a case.
func (s *SQLiteStorage) GetVectorMappings(ctx context.Context, caseID string) ([]models.VectorMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.case_id, v.chunk_id, v.vector_id FROM case_vectors v
		 LEFT JOIN case_chunks c ON c.id = v.chunk_id
		 WHERE v.case_id = ? ORDER BY c.chunk_index`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.VectorMapping
	for rows.Next() {
		var m models.VectorMapping
		if err := rows.Scan(&m.CaseID, &m.ChunkID, &m.VectorID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	return n, err
}

// CountCases returns the total number of cases.
func (s *SQLiteStorage) CountCases(ctx context.Context) (int64, error) {
	return s.count(ctx, "cases")
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	return s.count(ctx, "case_chunks")
}

// CountSolutions returns the total number of solution tasks.
func (s *SQLiteStorage) CountSolutions(ctx context.Context) (int64, error) {
	return s.count(ctx, "solutions")
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
