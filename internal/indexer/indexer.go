package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/casepilot/internal/extract"
	"github.com/hyperjump/casepilot/internal/fileid"
	"github.com/hyperjump/casepilot/internal/keyword"
	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrNoDocument is returned when a case directory holds no extractable document.
	ErrNoDocument = errors.New("no extractable document")
	// ErrUnchanged is returned when a case directory was already imported and its document has not changed since.
	ErrUnchanged = errors.New("case unchanged since last import")
)

// VectorIndex is the part of the embedding index the importer writes to.
type VectorIndex interface {
	Add(ctx context.Context, chunks []*models.Chunk, caseID string) ([]string, error)
	Remove(ctx context.Context, caseID string) (int, error)
	Persist() error
}

// Enricher completes rule-based case metadata. Failures are handled inside Enrich.
type Enricher interface {
	Enrich(ctx context.Context, text string, base models.CaseMetadata) models.CaseMetadata
}

// ImportReport summarizes a library import.
type ImportReport struct {
	Imported int            `json:"imported"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
	Cases    []*models.Case `json:"cases"`
	Errors   []string       `json:"errors,omitempty"`
}

// Importer turns case directories into stored cases, chunks, vectors and keyword documents.
type Importer struct {
	storage    storage.Storage
	vectors    VectorIndex
	keywords   keyword.KeywordIndex
	chunker    *Chunker
	extractor  *extract.Extractor
	enricher   Enricher
	delay      time.Duration
	extensions []string
	logger     *zap.Logger
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithLogger sets a logger for per-case import events.
func WithLogger(l *zap.Logger) ImporterOption {
	return func(im *Importer) {
		if l != nil {
			im.logger = l
		}
	}
}

// WithEnricher enables LLM metadata enrichment.
func WithEnricher(e Enricher) ImporterOption {
	return func(im *Importer) { im.enricher = e }
}

// WithDelay sets the pause between two sources of a library import.
func WithDelay(d time.Duration) ImporterOption {
	return func(im *Importer) { im.delay = d }
}

// WithExtensions restricts which document types are considered, in preference order.
func WithExtensions(exts []string) ImporterOption {
	return func(im *Importer) {
		if len(exts) > 0 {
			im.extensions = exts
		}
	}
}

// NewImporter creates an importer. keywords may be nil when no keyword index is configured.
func NewImporter(
	store storage.Storage,
	vectors VectorIndex,
	keywords keyword.KeywordIndex,
	chunker *Chunker,
	extractor *extract.Extractor,
	opts ...ImporterOption,
) *Importer {
	im := &Importer{
		storage:    store,
		vectors:    vectors,
		keywords:   keywords,
		chunker:    chunker,
		extractor:  extractor,
		extensions: extract.SupportedExtensions,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(im)
	}
	if im.extractor == nil {
		im.extractor = extract.NewExtractor()
	}
	return im
}

// ImportLibrary imports every immediate subdirectory of root as one case, sequentially,
// pausing between sources. A failing source is recorded and skipped.
func (im *Importer) ImportLibrary(ctx context.Context, root string) (*ImportReport, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	entries, err := os.ReadDir(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read case library: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, filepath.Join(absRoot, e.Name()))
		}
	}
	sort.Strings(dirs)
	im.logger.Info("importing case library", zap.String("root", absRoot), zap.Int("directories", len(dirs)))

	report := &ImportReport{Cases: []*models.Case{}}
	imported := false
	for i, dir := range dirs {
		if i > 0 && imported && im.delay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(im.delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		c, err := im.importCase(ctx, dir)
		imported = err == nil
		name := filepath.Base(dir)
		switch {
		case err == nil:
			report.Imported++
			report.Cases = append(report.Cases, c)
			im.logger.Info("case imported", zap.String("dir", name), zap.String("case_id", c.ID), zap.String("title", c.Title))
		case errors.Is(err, ErrNoDocument), errors.Is(err, ErrUnchanged):
			report.Skipped++
			im.logger.Info("case skipped", zap.String("dir", name), zap.String("reason", err.Error()))
		default:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", name, err))
			im.logger.Warn("case import failed", zap.String("dir", name), zap.Error(err))
		}
	}

	if err := im.vectors.Persist(); err != nil {
		return report, fmt.Errorf("failed to persist vector index: %w", err)
	}
	im.logger.Info("case library imported",
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

// ImportCase imports one case directory and persists the vector index.
func (im *Importer) ImportCase(ctx context.Context, dir string) (*models.Case, error) {
	c, err := im.importCase(ctx, dir)
	if err != nil {
		return nil, err
	}
	if err := im.vectors.Persist(); err != nil {
		return nil, fmt.Errorf("failed to persist vector index: %w", err)
	}
	return c, nil
}

func (im *Importer) importCase(ctx context.Context, dir string) (*models.Case, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	source, info, err := im.pickSource(absDir)
	if err != nil {
		return nil, err
	}

	sourceKey := fileid.SourceKey(absDir)
	previous, err := im.storage.GetCaseBySourceKey(ctx, sourceKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if previous != nil && previous.DocPath == source && !info.ModTime().After(previous.CreatedAt) {
		return previous, ErrUnchanged
	}

	extraction, err := im.extractor.Extract(source)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", filepath.Base(source), err)
	}
	text := Preprocess(extraction.Text)
	if text == "" {
		return nil, fmt.Errorf("%s: %w", filepath.Base(source), ErrNoDocument)
	}

	meta := ExtractMetadata(text, source)
	if im.enricher != nil {
		meta = im.enricher.Enrich(ctx, text, meta)
	}
	if strings.TrimSpace(meta.Title) == "" {
		meta.Title = filepath.Base(absDir)
	}

	c := &models.Case{
		ID:                  uuid.New().String(),
		Title:               meta.Title,
		Industry:            meta.Industry,
		Scenario:            meta.Scenario,
		Technology:          meta.Technology,
		Description:         meta.Description,
		Summary:             Summary(text),
		Metrics:             meta.Metrics,
		AcceptanceStandards: meta.AcceptanceStandards,
		DocPath:             source,
		SourceKey:           sourceKey,
	}
	chunks := im.chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(source), ErrNoDocument)
	}
	for _, ch := range chunks {
		ch.CaseID = c.ID
		ch.Metadata["source_format"] = extraction.Format
	}

	if err := im.store(ctx, c, chunks); err != nil {
		im.rollback(c.ID)
		return nil, err
	}
	if previous != nil {
		if err := im.DeleteCase(ctx, previous.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			im.logger.Warn("failed to remove superseded case", zap.String("case_id", previous.ID), zap.Error(err))
		}
	}
	im.logger.Debug("case stored",
		zap.String("case_id", c.ID),
		zap.String("source", filepath.Base(source)),
		zap.Int("chunks", len(chunks)))
	return c, nil
}

func (im *Importer) store(ctx context.Context, c *models.Case, chunks []*models.Chunk) error {
	if err := im.storage.CreateCase(ctx, c); err != nil {
		return fmt.Errorf("failed to store case: %w", err)
	}
	if err := im.storage.BatchCreateChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	vectorIDs, err := im.vectors.Add(ctx, chunks, c.ID)
	if err != nil {
		return fmt.Errorf("failed to index vectors: %w", err)
	}
	if len(vectorIDs) != len(chunks) {
		return fmt.Errorf("vector index returned %d ids for %d chunks", len(vectorIDs), len(chunks))
	}
	mappings := make([]models.VectorMapping, len(chunks))
	for i, ch := range chunks {
		mappings[i] = models.VectorMapping{CaseID: c.ID, ChunkID: ch.ID, VectorID: vectorIDs[i]}
	}
	if err := im.storage.SaveVectorMappings(ctx, mappings); err != nil {
		return fmt.Errorf("failed to store vector mappings: %w", err)
	}
	if im.keywords != nil {
		if err := im.keywords.IndexChunks(ctx, keywordDocs(c, chunks)); err != nil {
			return fmt.Errorf("failed to index keywords: %w", err)
		}
	}
	return nil
}

// rollback removes whatever part of a failed import was written.
func (im *Importer) rollback(caseID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := im.DeleteCase(ctx, caseID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		im.logger.Warn("failed to roll back partial import", zap.String("case_id", caseID), zap.Error(err))
	}
}

// DeleteCase removes a case from the vector index, the keyword index and storage.
func (im *Importer) DeleteCase(ctx context.Context, caseID string) error {
	if _, err := im.vectors.Remove(ctx, caseID); err != nil {
		return fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if im.keywords != nil {
		if _, err := im.keywords.DeleteCase(ctx, caseID); err != nil {
			return fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	if err := im.storage.DeleteCase(ctx, caseID); err != nil {
		return err
	}
	im.logger.Debug("case deleted", zap.String("case_id", caseID))
	return nil
}

// DeleteCaseDir removes the case imported from dir, if any, and persists the vector index.
func (im *Importer) DeleteCaseDir(ctx context.Context, dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	c, err := im.storage.GetCaseBySourceKey(ctx, fileid.SourceKey(absDir))
	if err != nil {
		return err
	}
	if err := im.DeleteCase(ctx, c.ID); err != nil {
		return err
	}
	return im.vectors.Persist()
}

// pickSource returns the preferred document of a case directory.
func (im *Importer) pickSource(dir string) (string, os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, fmt.Errorf("read case directory: %w", err)
	}
	byExt := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasPrefix(e.Name(), "~$") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if _, seen := byExt[ext]; !seen {
			byExt[ext] = filepath.Join(dir, e.Name())
		}
	}
	for _, ext := range im.extensions {
		path, ok := byExt[normalizeExt(ext)]
		if !ok {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return path, info, nil
	}
	return "", nil, ErrNoDocument
}

func keywordDocs(c *models.Case, chunks []*models.Chunk) []*keyword.ChunkDoc {
	docs := make([]*keyword.ChunkDoc, len(chunks))
	for i, ch := range chunks {
		docs[i] = &keyword.ChunkDoc{
			ChunkID:    ch.ID,
			CaseID:     c.ID,
			ChunkIndex: ch.Index,
			Content:    ch.Content,
			Title:      normalizeTitleForKeywordSearch(c.Title),
			Industry:   c.Industry,
			Technology: c.Technology,
			Scenario:   c.Scenario,
		}
	}
	return docs
}

// normalizeTitleForKeywordSearch replaces underscores with spaces so titles taken from
// file names like "warehouse_agv_navigation" match multi-word queries.
func normalizeTitleForKeywordSearch(title string) string {
	return strings.ReplaceAll(title, "_", " ")
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// SyncCaseDir brings the library in line with one case directory: it imports the directory
// when it exists and removes its case when it does not. Unchanged cases are left alone.
func (im *Importer) SyncCaseDir(ctx context.Context, dir string) error {
	info, err := os.Stat(dir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err == nil && info.IsDir() {
		c, err := im.ImportCase(ctx, dir)
		switch {
		case errors.Is(err, ErrUnchanged), errors.Is(err, ErrNoDocument):
			return nil
		case err != nil:
			return err
		}
		im.logger.Info("case re-imported", zap.String("dir", filepath.Base(dir)), zap.String("case_id", c.ID))
		return nil
	}
	err = im.DeleteCaseDir(ctx, dir)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err == nil {
		im.logger.Info("case removed with its directory", zap.String("dir", filepath.Base(dir)))
	}
	return err
}
