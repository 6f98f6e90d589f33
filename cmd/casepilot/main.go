// Package main is the casepilot CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/casepilot/internal/cli"
	"github.com/hyperjump/casepilot/internal/config"
	"github.com/hyperjump/casepilot/internal/embedding"
	"github.com/hyperjump/casepilot/internal/extract"
	"github.com/hyperjump/casepilot/internal/generation"
	"github.com/hyperjump/casepilot/internal/indexer"
	"github.com/hyperjump/casepilot/internal/keyword"
	"github.com/hyperjump/casepilot/internal/llm"
	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/internal/retrieval"
	"github.com/hyperjump/casepilot/internal/server"
	"github.com/hyperjump/casepilot/internal/storage"
	"github.com/hyperjump/casepilot/internal/vector"
	"github.com/hyperjump/casepilot/internal/watcher"
	"github.com/hyperjump/casepilot/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/casepilot/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// resolveConfigPath returns config.yaml in the current directory when path is the default
// and that file exists, so "casepilot server" from a project dir uses the project's config.
func resolveConfigPath(path string) string {
	if path != defaultConfigPath {
		return path
	}
	if cwd, err := os.Getwd(); err == nil {
		fallback := filepath.Join(cwd, "config.yaml")
		if _, err := os.Stat(fallback); err == nil {
			return fallback
		}
	}
	return path
}

// loadConfig loads .env files (next to the config and in the current directory) and then
// the config. It returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	resolved := resolveConfigPath(path)
	if err := config.LoadDotEnv(filepath.Join(filepath.Dir(resolved), ".env"), ".env"); err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "import":
		runImport()
	case "generate":
		runGenerate()
	case "solution", "solutions":
		runSolution()
	case "chat":
		runChat()
	case "cases":
		runCases()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("casepilot version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (retrieval, watcher events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if _, err := components.Orchestrator.RecoverInterrupted(context.Background()); err != nil {
		logger.Warn("failed to recover interrupted solution tasks", zap.Error(err))
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watcher.Watcher
	if cfg.Watch.Enabled && cfg.Import.Directory != "" {
		watchSvc = startWatcher(watchCtx, cfg, components, logger)
	}

	srv := server.NewServer(
		components.Orchestrator,
		components.Engine,
		components.Importer,
		components.Storage,
		components.Index,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	if watchSvc != nil {
		watchSvc.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}
	if err := components.Orchestrator.Shutdown(ctx); err != nil {
		logger.Warn("solution tasks interrupted by shutdown", zap.Error(err))
	}
	if err := components.Index.Persist(); err != nil {
		logger.Warn("vector index save failed", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
	}
}

// startWatcher re-imports case directories of the library as they change.
func startWatcher(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) *watcher.Watcher {
	w := watcher.NewWatcher(
		cfg.Import.Directory,
		cfg.Import.Extensions,
		func(dir string) {
			if err := c.Importer.SyncCaseDir(ctx, dir); err != nil {
				logger.Warn("watch sync case failed", zap.String("dir", dir), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
		watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMs)*time.Millisecond),
	)
	if err := w.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	logger.Info("watching case library", zap.String("directory", w.Root()))
	go w.SyncExisting()
	return w
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at the
// first non-flag argument, so "casepilot chat <id> question -server x" would otherwise
// leave -server unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args with spaces so multi-word text works the same with or
// without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func outputFormat(s string) cli.OutputFormat {
	f, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return f
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = import directly into local storage)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := outputFormat(*output)

	dir := fs.Arg(0)
	if *serverURL != "" {
		if dir == "" {
			fail("Usage: casepilot import [flags] <case-library-dir>")
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			fail("Invalid directory: %v", err)
		}
		if err := cli.NewClient(*serverURL).Import(context.Background(), abs); err != nil {
			fail("Import failed: %v", err)
		}
		fmt.Printf("Import started on server: %s\n", abs)
		fmt.Println("Run \"casepilot status\" to follow progress.")
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	if dir == "" {
		dir = cfg.Import.Directory
	}
	if dir == "" {
		fail("Usage: casepilot import [flags] <case-library-dir> (or set import.directory)")
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fail("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	report, err := components.Importer.ImportLibrary(ctx, dir)
	if report != nil {
		_ = cli.WriteImportReport(os.Stdout, report, format)
	}
	if err != nil {
		fail("Import failed: %v", err)
	}
}

func runGenerate() {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	method := fs.String("method", "", "input method: text or form (default: text when --description is set)")
	var in models.UserInput
	fs.StringVar(&in.Title, "title", "", "project title (required)")
	fs.StringVar(&in.Description, "description", "", "free-text description (text method)")
	fs.StringVar(&in.Industry, "industry", "", "industry (form method)")
	fs.StringVar(&in.Technology, "technology", "", "technology direction (form method)")
	fs.StringVar(&in.Scenario, "scenario", "", "application scenario")
	fs.StringVar(&in.Objectives, "objectives", "", "project objectives (form method)")
	fs.StringVar(&in.Requirements, "requirements", "", "additional requirements")
	fs.StringVar(&in.Budget, "budget", "", "budget")
	fs.StringVar(&in.Timeline, "timeline", "", "timeline")
	wait := fs.Bool("wait", true, "wait for the proposal and print it")
	timeout := fs.Duration("timeout", 5*time.Minute, "how long --wait polls before giving up")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := outputFormat(*output)

	m := *method
	if m == "" {
		m = string(models.InputForm)
		if in.Description != "" {
			m = string(models.InputText)
		}
	}
	inputMethod := models.ParseInputMethod(m)
	if err := in.Validate(inputMethod); err != nil {
		fail("%v", err)
	}

	client := cli.NewClient(*serverURL)
	ctx := context.Background()
	id, err := client.Generate(ctx, in, inputMethod)
	if err != nil {
		fail("Generate failed: %v", err)
	}
	if !*wait {
		fmt.Printf("Solution task started: %s\n", id)
		return
	}
	fmt.Fprintf(os.Stderr, "Generating solution %s ...\n", id)
	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	sol, err := client.WaitSolution(waitCtx, id, 2*time.Second)
	if err != nil {
		fail("Waiting for solution %s failed: %v", id, err)
	}
	if err := cli.WriteSolution(os.Stdout, sol, format); err != nil {
		fail("Output failed: %v", err)
	}
	if sol.Status == models.StatusFailed {
		os.Exit(1)
	}
}

func runSolution() {
	fs := flag.NewFlagSet("solution", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	status := fs.String("status", "", "list filter: generating, completed or failed")
	page := fs.Int("page", 1, "list page")
	pageSize := fs.Int("page-size", 10, "list page size")
	cancelTask := fs.Bool("cancel", false, "cancel the running task")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := outputFormat(*output)

	client := cli.NewClient(*serverURL)
	ctx := context.Background()
	if fs.NArg() == 0 {
		list, err := client.Solutions(ctx, models.SolutionFilter{Status: models.TaskStatus(*status), Page: *page, PageSize: *pageSize})
		if err != nil {
			fail("List solutions failed: %v", err)
		}
		_ = cli.WriteSolutionList(os.Stdout, list, format)
		return
	}
	id := fs.Arg(0)
	if *cancelTask {
		if err := client.Cancel(ctx, id); err != nil {
			fail("Cancel failed: %v", err)
		}
		fmt.Printf("Cancel requested: %s\n", id)
		return
	}
	sol, err := client.Solution(ctx, id)
	if err != nil {
		fail("Get solution failed: %v", err)
	}
	_ = cli.WriteSolution(os.Stdout, sol, format)
}

func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 2 {
		fail("Usage: casepilot chat [flags] <solution-id> <message>")
	}
	reply, err := cli.NewClient(*serverURL).Chat(context.Background(), fs.Arg(0), joinArgs(fs.Args()[1:]))
	if err != nil {
		fail("Chat failed: %v", err)
	}
	fmt.Println(reply)
}

func runCases() {
	fs := flag.NewFlagSet("cases", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	topK := fs.Int("top-k", 5, "number of search results")
	var filter models.CaseFilter
	fs.StringVar(&filter.Industry, "industry", "", "filter by industry")
	fs.StringVar(&filter.Scenario, "scenario", "", "filter by scenario")
	fs.StringVar(&filter.Technology, "technology", "", "filter by technology")
	fs.StringVar(&filter.Keyword, "keyword", "", "filter by title/description substring")
	fs.StringVar(&filter.SortBy, "sort-by", "created_at", "sort column: created_at, title or view_count")
	fs.StringVar(&filter.SortOrder, "sort-order", "DESC", "sort order: ASC or DESC")
	fs.IntVar(&filter.Page, "page", 1, "page")
	fs.IntVar(&filter.PageSize, "page-size", 10, "page size")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := outputFormat(*output)

	client := cli.NewClient(*serverURL)
	ctx := context.Background()
	if query := joinArgs(fs.Args()); query != "" {
		matches, err := client.SearchCases(ctx, query, *topK)
		if err != nil {
			fail("Search failed: %v", err)
		}
		_ = cli.WriteCaseMatches(os.Stdout, query, matches, format)
		return
	}
	list, err := client.Cases(ctx, filter)
	if err != nil {
		fail("List cases failed: %v", err)
	}
	_ = cli.WriteCaseList(os.Stdout, list, format)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := outputFormat(*output)

	var status *cli.Status
	if *serverURL != "" {
		s, err := cli.NewClient(*serverURL).Status(context.Background())
		if err != nil {
			fail("Status failed: %v", err)
		}
		status = s
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fail("Failed to load config: %v", err)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fail("Failed to create logger: %v", err)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fail("Failed to initialize: %v", err)
		}
		defer components.Close()
		status, err = localStatus(context.Background(), cfg, components)
		if err != nil {
			fail("Status failed: %v", err)
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func localStatus(ctx context.Context, cfg *config.Config, c *Components) (*cli.Status, error) {
	s := &cli.Status{VectorStore: c.Index.StoreType()}
	var err error
	if s.Cases, err = c.Storage.CountCases(ctx); err != nil {
		return nil, fmt.Errorf("count cases: %w", err)
	}
	if s.Chunks, err = c.Storage.CountChunks(ctx); err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if s.Solutions, err = c.Storage.CountSolutions(ctx); err != nil {
		return nil, fmt.Errorf("count solutions: %w", err)
	}
	if s.VectorIndexSize, err = c.Index.Size(ctx); err != nil {
		return nil, fmt.Errorf("vector index size: %w", err)
	}
	if disk, err := storage.MeasureDisk(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.VectorIndexPath); err == nil {
		s.DiskUsage = &disk
	}
	s.Config = map[string]interface{}{
		"embedding_provider":  cfg.Embedding.Provider,
		"embedding_model":     cfg.Embedding.Model,
		"generation_provider": cfg.Generation.Provider,
		"generation_model":    cfg.Generation.Model,
		"vector_backend":      cfg.Vector.Backend,
		"chunk_size":          cfg.Chunking.ChunkSize,
		"chunk_overlap":       cfg.Chunking.Overlap,
		"database_path":       cfg.Storage.DatabasePath,
		"bleve_index_path":    cfg.Storage.BleveIndexPath,
		"vector_index_path":   cfg.Storage.VectorIndexPath,
	}
	return s, nil
}

// Components holds initialized services.
type Components struct {
	Storage      *storage.SQLiteStorage
	Embedder     embedding.Embedder
	Index        *vector.EmbeddingIndex
	KeywordIndex *keyword.BleveIndex
	Engine       *retrieval.Engine
	Generator    llm.Generator
	Importer     *indexer.Importer
	Orchestrator *generation.Orchestrator
}

func (c *Components) Close() {
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		// Fall back to the mock embedder if the provider is unavailable (e.g. ONNX not compiled in).
		logger.Warn("embedding provider unavailable, falling back to mock",
			zap.String("provider", cfg.Embedding.Provider), zap.Error(err))
		mockCfg := cfg.Embedding
		mockCfg.Provider = "mock"
		if embedder, err = embedding.New(mockCfg, logger); err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}
	c.Embedder = embedder

	vecStore, err := vector.NewStore(cfg.Vector, embedder.Dimensions(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	normalizer, err := vector.NormalizerFor(cfg.Vector.Normalizer)
	if err != nil {
		_ = vecStore.Close()
		return nil, err
	}
	c.Index = vector.NewEmbeddingIndex(embedder, vecStore,
		vector.WithPersistPath(cfg.Storage.VectorIndexPath),
		vector.WithNormalizer(normalizer),
		vector.WithLogger(logger),
	)
	if err := c.Index.Restore(); err != nil {
		logger.Warn("vector index load skipped (re-import the case library to rebuild)",
			zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
	}
	logger.Info("vector store initialized",
		zap.String("backend", c.Index.StoreType()),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = kw

	engineOpts := []retrieval.EngineOption{retrieval.WithLogger(logger)}
	if cfg.Retrieval.KeywordProbe == retrieval.ProbeBleve {
		engineOpts = append(engineOpts, retrieval.WithKeywordIndex(kw))
	}
	if c.Engine, err = retrieval.NewEngine(c.Index, store, cfg.Retrieval, engineOpts...); err != nil {
		return nil, fmt.Errorf("failed to initialize retrieval: %w", err)
	}

	if c.Generator, err = llm.New(cfg.Generation, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize generation: %w", err)
	}

	importOpts := []indexer.ImporterOption{
		indexer.WithLogger(logger),
		indexer.WithDelay(cfg.Import.Delay()),
	}
	if len(cfg.Import.Extensions) > 0 {
		importOpts = append(importOpts, indexer.WithExtensions(cfg.Import.Extensions))
	}
	if cfg.Import.EnrichOrDefault() && cfg.Generation.Provider != "mock" {
		importOpts = append(importOpts, indexer.WithEnricher(llm.NewMetadataEnricher(c.Generator, cfg.Generation.EnrichModel, logger)))
	}
	c.Importer = indexer.NewImporter(store, c.Index, kw,
		indexer.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap, cfg.Chunking.MinChunkSize),
		extract.NewExtractor(),
		importOpts...,
	)

	c.Orchestrator = generation.NewOrchestrator(store, c.Engine, c.Generator, cfg.Generation,
		generation.WithLogger(logger),
		generation.WithTopK(cfg.Retrieval.GenerationTopK),
	)
	ok = true
	return c, nil
}

func printUsage() {
	fmt.Println(`casepilot - RAG proposal generator over a library of past project cases

Usage:
  casepilot server [flags]                   Start the HTTP server
  casepilot import [flags] <dir>             Import a case library (one case per subdirectory)
  casepilot generate [flags]                 Generate a proposal for a requirement
  casepilot solution [flags] [id]            Show a solution task, or list tasks without id
  casepilot chat [flags] <id> <message>      Ask a follow-up question about a proposal
  casepilot cases [flags] [query]            List cases, or search them semantically with a query
  casepilot status [flags]                   Show library, index and task statistics
  casepilot version                          Show version
  casepilot help                             Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/casepilot/config.yaml,
                     or ./config.yaml when present)
  --server string    Server URL (default: http://localhost:8080). import and status accept
                     --server "" to work directly on local storage.
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Generate Flags:
  --title, --description                      Free-text requirement (text method)
  --title, --industry, --technology, --objectives
                                              Structured requirement (form method)
  --scenario, --requirements, --budget, --timeline
  --wait             Wait and print the proposal (default: true)
  --timeout duration How long to wait (default: 5m)

Solution Flags:
  --status string    List filter: generating, completed or failed
  --cancel           Cancel the running task

Cases Flags:
  --industry, --scenario, --technology, --keyword, --sort-by, --sort-order, --page, --page-size
  --top-k int        Number of search results (default: 5)

Examples:
  casepilot server
  casepilot import ./database
  casepilot import --server "" ./database
  casepilot generate --title "产线质检" --description "用视觉检测PCB焊点缺陷"
  casepilot generate --title "仓储盘点" --industry 物流 --technology 无人机 --objectives "盘点效率提升50%"
  casepilot solution 5f0c...
  casepilot chat 5f0c... 预算能否压缩到100万以内？
  casepilot cases --industry 制造业
  casepilot cases 激光SLAM 导航
  casepilot status --output json`)
}
