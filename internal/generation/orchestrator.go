package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/casepilot/internal/config"
	"github.com/hyperjump/casepilot/internal/llm"
	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/internal/storage"
	"go.uber.org/zap"
)

// ErrTaskNotFound is returned for unknown task IDs. It matches storage.ErrNotFound.
var ErrTaskNotFound = fmt.Errorf("solution task %w", storage.ErrNotFound)

var (
	errCanceledByUser = errors.New("canceled by user")
	errShutdown       = errors.New("orchestrator shut down")
)

const (
	defaultGenerationTopK = 6
	finishTimeout         = 10 * time.Second
	interruptedMessage    = "generation was interrupted by a restart before it finished"
)

// Pipeline step names, used in StepError and logs.
const (
	StepRetrieve = "retrieve"
	StepAttach   = "attach_context"
	StepGenerate = "generate"
)

// StepError records which pipeline step failed and how the failure is classified.
type StepError struct {
	Step string
	Kind models.ErrorKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Store is the task persistence the orchestrator needs.
type Store interface {
	CreateSolution(ctx context.Context, sol *models.Solution) error
	GetSolution(ctx context.Context, id string) (*models.Solution, error)
	AttachContext(ctx context.Context, id string, caseIDs []string, chunks []models.ContextSummary, metrics []models.EvaluationMetric) error
	FinishSolution(ctx context.Context, id string, outcome models.Outcome) error
	FailGenerating(ctx context.Context, kind models.ErrorKind, message string) (int, error)
	ListSolutions(ctx context.Context, filter models.SolutionFilter) (*models.SolutionList, error)
}

// Retriever finds the context a proposal is grounded on.
type Retriever interface {
	EnhancedRetrieve(ctx context.Context, input *models.UserInput, method models.InputMethod, topK int) (*models.RetrievalOutput, error)
}

type task struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Orchestrator creates solution tasks and runs each one in its own goroutine:
// retrieve, attach context and metrics, build the prompt, generate, finish.
// Every step is persisted before the next starts.
type Orchestrator struct {
	store      Store
	retriever  Retriever
	gen        llm.Generator
	benchmarks BenchmarkSource
	cfg        config.GenerationConfig
	topK       int
	timeout    time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	wg      sync.WaitGroup
	closed  bool
	baseCtx context.Context
	stop    context.CancelCauseFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBenchmarks replaces the static benchmark table.
func WithBenchmarks(b BenchmarkSource) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.benchmarks = b
		}
	}
}

// WithTopK sets how many contexts a task retrieves.
func WithTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithTaskTimeout overrides the generation timeout from the config.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewOrchestrator wires the task pipeline.
func NewOrchestrator(store Store, retriever Retriever, gen llm.Generator, cfg config.GenerationConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		retriever:  retriever,
		gen:        gen,
		benchmarks: StaticBenchmarks{},
		cfg:        cfg,
		topK:       defaultGenerationTopK,
		timeout:    cfg.Timeout(),
		logger:     zap.NewNop(),
		tasks:      make(map[string]*task),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.baseCtx, o.stop = context.WithCancelCause(context.Background())
	return o
}

// CreateTask validates the input, stores a generating task and starts its pipeline.
// It returns as soon as the task is persisted.
func (o *Orchestrator) CreateTask(ctx context.Context, input models.UserInput, method models.InputMethod) (string, error) {
	if err := input.Validate(method); err != nil {
		return "", err
	}
	sol := &models.Solution{
		ID:          uuid.NewString(),
		UserInput:   input,
		InputMethod: method,
		Status:      models.StatusGenerating,
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", errors.New("orchestrator is shut down")
	}
	if err := o.store.CreateSolution(ctx, sol); err != nil {
		return "", fmt.Errorf("failed to create solution task: %w", err)
	}

	var taskCtx context.Context
	var cancelTimeout context.CancelFunc
	runCtx, cancel := context.WithCancelCause(o.baseCtx)
	if o.timeout > 0 {
		taskCtx, cancelTimeout = context.WithTimeout(runCtx, o.timeout)
	} else {
		taskCtx, cancelTimeout = context.WithCancel(runCtx)
	}
	t := &task{cancel: cancel, done: make(chan struct{})}
	o.tasks[sol.ID] = t
	o.wg.Add(1)

	o.logger.Info("solution task created",
		zap.String("solution_id", sol.ID),
		zap.String("input_method", string(method)))

	go func() {
		defer o.wg.Done()
		defer close(t.done)
		defer cancel(nil)
		defer cancelTimeout()
		o.run(taskCtx, sol.ID, &sol.UserInput, method)
		o.mu.Lock()
		delete(o.tasks, sol.ID)
		o.mu.Unlock()
	}()
	return sol.ID, nil
}

func (o *Orchestrator) run(ctx context.Context, id string, input *models.UserInput, method models.InputMethod) {
	log := o.logger.With(zap.String("solution_id", id))
	start := time.Now()

	outcome := o.safePipeline(ctx, log, id, input, method)
	if outcome.Status == models.StatusFailed {
		log.Warn("solution generation failed",
			zap.String("error_kind", string(outcome.ErrorKind)),
			zap.String("error", outcome.Message),
			zap.Duration("elapsed", time.Since(start)))
	}

	// The task context may already be done; the terminal write must still land.
	finishCtx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	if err := o.store.FinishSolution(finishCtx, id, outcome); err != nil {
		log.Error("failed to persist task outcome", zap.Error(err))
		return
	}
	if outcome.Status == models.StatusCompleted {
		log.Info("solution generation completed",
			zap.Int("content_chars", len([]rune(outcome.Content))),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// safePipeline runs the pipeline and turns a panic in any step into a failed outcome.
func (o *Orchestrator) safePipeline(ctx context.Context, log *zap.Logger, id string, input *models.UserInput, method models.InputMethod) (outcome models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("solution pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			outcome = models.Failed(models.ErrorKindInternal, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return o.pipeline(ctx, log, id, input, method)
}

func (o *Orchestrator) pipeline(ctx context.Context, log *zap.Logger, id string, input *models.UserInput, method models.InputMethod) models.Outcome {
	log.Info("retrieving related cases", zap.Int("top_k", o.topK))
	retrieved, err := o.retriever.EnhancedRetrieve(ctx, input, method, o.topK)
	if err != nil {
		return o.failure(ctx, &StepError{Step: StepRetrieve, Kind: models.ErrorKindRetrieval, Err: err})
	}
	log.Info("retrieval finished",
		zap.Int("contexts", len(retrieved.Contexts)),
		zap.Int("related_cases", len(retrieved.RelatedCases)))

	metrics := ExtractEvaluationMetrics(retrieved.RelatedCases, retrieved.Contexts)
	caseIDs, chunks := summarize(retrieved)
	if err := o.store.AttachContext(ctx, id, caseIDs, chunks, metrics); err != nil {
		return o.failure(ctx, &StepError{Step: StepAttach, Kind: models.ErrorKindStorage, Err: err})
	}
	log.Debug("context attached", zap.Int("evaluation_metrics", len(metrics)))

	benchmarks, err := o.benchmarks.Benchmarks(ctx, benchmarkKeyword(input))
	if err != nil {
		log.Warn("benchmark lookup failed, continuing without industry benchmarks", zap.Error(err))
		benchmarks = nil
	}
	prompt := BuildPrompt(PromptInput{
		Input:      input,
		Method:     method,
		Benchmarks: benchmarks,
		Cases:      retrieved.RelatedCases,
		Contexts:   retrieved.Contexts,
	})
	log.Info("generating proposal",
		zap.Int("prompt_chars", len([]rune(prompt))),
		zap.Int("benchmarks", len(benchmarks)))

	content, err := o.gen.Generate(ctx, prompt, llm.Options{
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		return o.failure(ctx, &StepError{Step: StepGenerate, Kind: models.ErrorKindGeneration, Err: err})
	}
	if strings.TrimSpace(content) == "" {
		return o.failure(ctx, &StepError{Step: StepGenerate, Kind: models.ErrorKindGeneration, Err: errors.New("provider returned empty content")})
	}
	return models.Completed(content)
}

// failure classifies a step error. Deadline and cancellation of the task context take
// precedence over the step's own kind.
func (o *Orchestrator) failure(ctx context.Context, err *StepError) models.Outcome {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return models.Failed(models.ErrorKindTimeout,
			fmt.Sprintf("%s timed out after %s: %v", err.Step, o.timeout, err.Err))
	case ctx.Err() != nil:
		cause := context.Cause(ctx)
		if errors.Is(cause, errShutdown) {
			return models.Failed(models.ErrorKindInterrupted, fmt.Sprintf("%s interrupted: %v", err.Step, cause))
		}
		return models.Failed(models.ErrorKindCanceled, fmt.Sprintf("%s canceled: %v", err.Step, cause))
	}
	return models.Failed(err.Kind, err.Error())
}

// GetTask returns the current state of a task.
func (o *Orchestrator) GetTask(ctx context.Context, id string) (*models.Solution, error) {
	sol, err := o.store.GetSolution(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return sol, nil
}

// ListTasks returns one page of tasks, newest first.
func (o *Orchestrator) ListTasks(ctx context.Context, filter models.SolutionFilter) (*models.SolutionList, error) {
	return o.store.ListSolutions(ctx, filter)
}

// Chat answers a follow-up question about a task's proposal. It never retrieves and never
// changes the task. A task that is still generating gets NotReadyReply.
func (o *Orchestrator) Chat(ctx context.Context, id, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: message is empty", models.ErrInvalidInput)
	}
	sol, err := o.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	if sol.Status == models.StatusGenerating {
		return NotReadyReply, nil
	}

	if d := o.cfg.ChatTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	prompt := BuildChatPrompt(&sol.UserInput, sol.InputMethod, sol.GeneratedContent, message)
	reply, err := o.gen.Generate(ctx, prompt, llm.Options{
		Model:       o.cfg.ChatModel,
		Temperature: o.cfg.ChatTemperature,
		MaxTokens:   o.cfg.ChatMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate chat reply: %w", err)
	}
	o.logger.Info("chat reply generated", zap.String("solution_id", id), zap.Int("reply_chars", len([]rune(reply))))
	return reply, nil
}

// Cancel stops a running task; it finishes failed with kind canceled.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.Lock()
	t, ok := o.tasks[id]
	o.mu.Unlock()
	if ok {
		t.cancel(errCanceledByUser)
		o.logger.Info("solution task cancel requested", zap.String("solution_id", id))
		return nil
	}
	if _, err := o.GetTask(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("solution %s: %w", id, storage.ErrTaskFinished)
}

// Wait blocks until the task is no longer running in this process or ctx is done, then
// returns its stored state.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*models.Solution, error) {
	o.mu.Lock()
	t, ok := o.tasks[id]
	o.mu.Unlock()
	if ok {
		select {
		case <-t.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.GetTask(ctx, id)
}

// Running returns the number of tasks in flight.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// RecoverInterrupted fails tasks a previous process left generating.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	n, err := o.store.FailGenerating(ctx, models.ErrorKindInterrupted, interruptedMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Warn("failed solution tasks interrupted by a restart", zap.Int("count", n))
	}
	return n, nil
}

// Shutdown stops accepting tasks and waits for running ones until ctx is done. Tasks still
// running then are interrupted and their failure is persisted before Shutdown returns.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.stop(errShutdown)
		return nil
	case <-ctx.Done():
		o.logger.Warn("interrupting running solution tasks", zap.Int("count", o.Running()))
		o.stop(errShutdown)
		<-done
		return ctx.Err()
	}
}
