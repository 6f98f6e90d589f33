package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/internal/storage"
	"go.uber.org/zap"
)

// generateRequest is the body of POST /solutions/generate: the requirement fields plus the
// input method.
type generateRequest struct {
	models.UserInput
	Method string `json:"method"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	method := models.ParseInputMethod(req.Method)
	s.logger.Debug("generate request", zap.String("title", req.Title), zap.String("method", string(method)))
	id, err := s.solutions.CreateTask(r.Context(), req.UserInput, method)
	if err != nil {
		s.respondErr(w, "create solution task", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"solution_id": id,
		"status":      string(models.StatusGenerating),
	})
}

func (s *Server) handleListSolutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.SolutionFilter{
		Status:   models.TaskStatus(q.Get("status")),
		Page:     queryInt(q.Get("page"), 1),
		PageSize: queryInt(q.Get("page_size"), 10),
	}
	list, err := s.solutions.ListTasks(r.Context(), filter)
	if err != nil {
		s.respondErr(w, "list solutions", err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSolution(w http.ResponseWriter, r *http.Request) {
	sol, err := s.solutions.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "get solution", err)
		return
	}
	s.respondJSON(w, http.StatusOK, sol)
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	reply, err := s.solutions.Chat(r.Context(), id, req.Message)
	if err != nil {
		s.respondErr(w, "chat", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"solution_id": id, "reply": reply})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.solutions.Cancel(r.Context(), id); err != nil {
		s.respondErr(w, "cancel solution", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"solution_id": id, "status": "canceling"})
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.CaseFilter{
		Industry:   q.Get("industry"),
		Scenario:   q.Get("scenario"),
		Technology: q.Get("technology"),
		Keyword:    q.Get("keyword"),
		Page:       queryInt(q.Get("page"), 1),
		PageSize:   queryInt(q.Get("page_size"), 10),
		SortBy:     q.Get("sort_by"),
		SortOrder:  q.Get("sort_order"),
	}
	list, err := s.storage.ListCases(r.Context(), filter)
	if err != nil {
		s.respondErr(w, "list cases", err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleSearchCases(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	topK := queryInt(r.URL.Query().Get("top_k"), 0)
	matches, err := s.engine.SearchCases(r.Context(), query, topK)
	if err != nil {
		s.respondErr(w, "search cases", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"total":   len(matches),
		"results": matches,
	})
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	c, err := s.storage.GetCase(ctx, id)
	if err != nil {
		s.respondErr(w, "get case", err)
		return
	}
	if err := s.storage.IncrementViewCount(ctx, id); err != nil {
		s.logger.Warn("failed to increment view count", zap.String("case_id", id), zap.Error(err))
	} else {
		c.ViewCount++
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete case request", zap.String("case_id", id))
	if err := s.importer.DeleteCase(r.Context(), id); err != nil {
		s.respondErr(w, "delete case", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"case_id": id, "status": "deleted"})
}

type importRequest struct {
	Directory string `json:"directory"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	dir := req.Directory
	if dir == "" {
		dir = s.config.Import.Directory
	}
	if dir == "" {
		s.respondError(w, http.StatusBadRequest, "directory is required")
		return
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid directory")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}

	st, started := s.startImport(abs)
	if !started {
		s.respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":  "an import is already running",
			"import": st,
		})
		return
	}
	s.logger.Info("library import started", zap.String("directory", abs))
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{"status": "importing", "import": st})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseCount, err := s.storage.CountCases(ctx)
	if err != nil {
		s.respondErr(w, "status: count cases", err)
		return
	}
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.respondErr(w, "status: count chunks", err)
		return
	}
	solutionCount, err := s.storage.CountSolutions(ctx)
	if err != nil {
		s.respondErr(w, "status: count solutions", err)
		return
	}
	resp := map[string]interface{}{
		"cases":         caseCount,
		"chunks":        chunkCount,
		"solutions":     solutionCount,
		"running_tasks": s.solutions.Running(),
	}
	if s.vectors != nil {
		size, err := s.vectors.Size(ctx)
		if err != nil {
			s.logger.Warn("status: vector size failed", zap.Error(err))
		} else {
			resp["vector_index_size"] = size
		}
		resp["vector_store"] = s.vectors.StoreType()
	}
	importing, last := s.importState()
	resp["importing"] = importing
	if last != nil {
		resp["last_import"] = last
	}

	cfg := s.config
	resp["config"] = map[string]interface{}{
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_model":      cfg.Embedding.Model,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"generation_provider":  cfg.Generation.Provider,
		"generation_model":     cfg.Generation.Model,
		"vector_backend":       cfg.Vector.Backend,
		"vector_normalizer":    cfg.Vector.Normalizer,
		"chunk_size":           cfg.Chunking.ChunkSize,
		"chunk_overlap":        cfg.Chunking.Overlap,
		"default_min_score":    cfg.Retrieval.DefaultMinScore,
		"keyword_probe":        cfg.Retrieval.KeywordProbe,
		"fusion_strategy":      cfg.Retrieval.Fusion.Strategy,
		"database_path":        cfg.Storage.DatabasePath,
		"bleve_index_path":     cfg.Storage.BleveIndexPath,
		"vector_index_path":    cfg.Storage.VectorIndexPath,
		"import_directory":     cfg.Import.Directory,
		"watch_enabled":        cfg.Watch.Enabled,
	}
	disk, err := storage.MeasureDisk(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.VectorIndexPath)
	if err == nil {
		resp["disk_usage"] = disk
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func queryInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a service error to its HTTP status.
func (s *Server) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrTaskFinished):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
