// Package engine processes conversation turns for the retrieval-augmented
// chat service.
//
// A turn runs a fixed control flow: load the thread's latest checkpoint,
// ask the router model whether the question needs retrieval, optionally
// search the document store, generate the grounded answer, and commit the
// updated message sequence as a new checkpoint. Turns on the same thread
// are serialized; turns on different threads run concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/jfgonzales/fred/internal/checkpoint"
	"github.com/jfgonzales/fred/internal/log"
)

// fallbackAnswer is returned when the generation model produces empty text.
const fallbackAnswer = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

// CheckpointStore is the conversation persistence surface the engine needs.
type CheckpointStore interface {
	Load(ctx context.Context, threadID string) (checkpoint.Thread, error)
	Commit(ctx context.Context, threadID string, messages []*ai.Message) (int64, error)
	History(ctx context.Context, threadID string) ([]checkpoint.Info, error)
}

// Timeouts bounds each category of outbound call during a turn.
// All must be positive; config validation enforces this upstream.
type Timeouts struct {
	Generate time.Duration // router and answer model calls
	Search   time.Duration // vector search (includes query embedding)
	Persist  time.Duration // checkpoint load and commit
}

// Config carries the engine's dependencies and tuning.
type Config struct {
	Genkit      *genkit.Genkit
	Checkpoints CheckpointStore
	Retriever   Retriever
	Logger      log.Logger

	ModelName string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	TopK      int    // chunks per retrieval
	Timeouts  Timeouts

	RetryConfig RetryConfig   // zero value uses defaults
	RateLimiter *rate.Limiter // nil uses the default limiter
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Checkpoints == nil {
		return errors.New("checkpoint store is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	Answer       string `json:"answer"`
	CheckpointID int64  `json:"checkpoint_id"`
	NumMessages  int    `json:"num_messages"`
}

// ThreadState is a thread's committed conversation plus checkpoint metadata.
type ThreadState struct {
	ThreadID     string            `json:"thread_id"`
	CheckpointID int64             `json:"checkpoint_id"`
	Messages     []*ai.Message     `json:"messages"`
	History      []checkpoint.Info `json:"history"`
}

// Engine executes conversation turns. Stateless apart from per-thread
// locks; safe for concurrent use.
type Engine struct {
	g           *genkit.Genkit
	checkpoints CheckpointStore
	retriever   Retriever
	logger      log.Logger

	modelName string
	topK      int
	timeouts  Timeouts

	retryConfig RetryConfig
	rateLimiter *rate.Limiter

	retrieveTool ai.Tool
	locks        *threadLocks
}

// New creates an Engine and registers the retrieve tool with Genkit.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 4
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}

	// Default: 10 requests/sec sustained, burst of 30
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	logger := cfg.Logger.With("component", "engine")

	e := &Engine{
		g:           cfg.Genkit,
		checkpoints: cfg.Checkpoints,
		retriever:   cfg.Retriever,
		logger:      logger,
		modelName:   cfg.ModelName,
		topK:        topK,
		timeouts:    cfg.Timeouts,
		retryConfig: retryConfig,
		rateLimiter: limiter,
		locks:       newThreadLocks(),
	}
	e.retrieveTool = defineRetrieveTool(cfg.Genkit, cfg.Retriever, topK, logger)

	logger.Info("engine initialized", "model", cfg.ModelName, "top_k", topK)
	return e, nil
}

// ProcessTurn runs one conversation turn and commits the result.
//
// The committed sequence grows by exactly two messages per turn: the user
// message and the final assistant answer. Router tool calls and retrieval
// output exist only in the turn's working sequence.
func (e *Engine) ProcessTurn(ctx context.Context, threadID, userText string) (TurnResult, error) {
	if strings.TrimSpace(threadID) == "" {
		return TurnResult{}, fmt.Errorf("%w: thread ID is empty", ErrInvalidInput)
	}
	if strings.TrimSpace(userText) == "" {
		return TurnResult{}, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}

	unlock := e.locks.lock(threadID)
	defer unlock()

	start := time.Now()

	thread, err := e.loadThread(ctx, threadID)
	if err != nil {
		return TurnResult{}, err
	}

	// Working sequence for this turn; committed history stays untouched
	// until the final commit.
	working := deepCopyMessages(thread.Messages)
	working = append(working, ai.NewUserMessage(ai.NewTextPart(userText)))

	answer, err := e.runTurn(ctx, threadID, working)
	if err != nil {
		return TurnResult{}, err
	}

	committed := deepCopyMessages(thread.Messages)
	committed = append(committed,
		ai.NewUserMessage(ai.NewTextPart(userText)),
		ai.NewModelMessage(ai.NewTextPart(answer)))

	checkpointID, err := e.commit(ctx, threadID, committed)
	if err != nil {
		return TurnResult{}, err
	}

	e.logger.Info("turn processed",
		"thread_id", threadID,
		"checkpoint_id", checkpointID,
		"num_messages", len(committed),
		"elapsed", time.Since(start))

	return TurnResult{
		Answer:       answer,
		CheckpointID: checkpointID,
		NumMessages:  len(committed),
	}, nil
}

// runTurn routes the user message and produces the answer text.
// working must end with the new user message.
func (e *Engine) runTurn(ctx context.Context, threadID string, working []*ai.Message) (string, error) {
	dec, routerResp, err := e.route(ctx, working)
	if err != nil {
		return "", err
	}

	if dec.route == routeDirect {
		e.logger.Debug("router answered directly", "thread_id", threadID)
		return dec.answer, nil
	}

	if dec.extraToolCalls > 0 {
		e.logger.Warn("router requested multiple retrievals, using the first",
			"thread_id", threadID, "ignored", dec.extraToolCalls)
	}

	retrieval, err := e.retrieve(ctx, dec.query)
	if err != nil {
		return "", err
	}

	// Extend the working sequence with this retrieval episode: the model's
	// tool-call message, then the tool result. The tool result carries the
	// structured chunks as provenance alongside the serialized text.
	working = append(working, routerResp.Message, &ai.Message{
		Role: ai.RoleTool,
		Content: []*ai.Part{
			ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   RetrieveToolName,
				Ref:    dec.ref,
				Output: retrieval,
			}),
		},
	})

	contextText := toolRunContext(trailingToolRun(working))
	conversation := historyForPrompt(working)

	answer, err := e.generateAnswer(ctx, contextText, conversation)
	if err != nil {
		return "", err
	}

	e.logger.Debug("generated grounded answer",
		"thread_id", threadID,
		"query", dec.query,
		"context_empty", contextText == "")
	return answer, nil
}

// route asks the model whether to retrieve or answer directly.
// Tool requests are returned to the engine, never auto-executed, so the
// router cannot bypass the engine's search timeout and serialization.
func (e *Engine) route(ctx context.Context, working []*ai.Message) (decision, *ai.ModelResponse, error) {
	gctx, cancel := context.WithTimeout(ctx, e.timeouts.Generate)
	defer cancel()

	resp, err := e.generateWithRetry(gctx, []ai.GenerateOption{
		ai.WithModelName(e.modelName),
		ai.WithMessages(working...),
		ai.WithTools(e.retrieveTool),
		ai.WithReturnToolRequests(true),
	})
	if err != nil {
		return decision{}, nil, e.mapTimeout(gctx, err, "router model")
	}

	dec, err := classify(resp)
	if err != nil {
		return decision{}, nil, err
	}
	return dec, resp, nil
}

// retrieve runs the document search under the search timeout and returns
// both renderings: the structured chunks and the serialized prompt text.
func (e *Engine) retrieve(ctx context.Context, query string) (Retrieval, error) {
	sctx, cancel := context.WithTimeout(ctx, e.timeouts.Search)
	defer cancel()

	results, err := e.retriever.Search(sctx, query, e.topK)
	if err != nil {
		return Retrieval{}, e.mapTimeout(sctx, err, "document search")
	}
	return newRetrieval(results), nil
}

// generateAnswer produces the grounded answer from the filtered
// conversation and retrieval context.
func (e *Engine) generateAnswer(ctx context.Context, contextText string, conversation []*ai.Message) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, e.timeouts.Generate)
	defer cancel()

	resp, err := e.generateWithRetry(gctx, []ai.GenerateOption{
		ai.WithModelName(e.modelName),
		ai.WithSystem(groundedSystemPrompt(contextText)),
		ai.WithMessages(conversation...),
	})
	if err != nil {
		return "", e.mapTimeout(gctx, err, "answer model")
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		e.logger.Warn("model returned empty answer, using fallback")
		answer = fallbackAnswer
	}
	return answer, nil
}

func (e *Engine) loadThread(ctx context.Context, threadID string) (checkpoint.Thread, error) {
	pctx, cancel := context.WithTimeout(ctx, e.timeouts.Persist)
	defer cancel()

	thread, err := e.checkpoints.Load(pctx, threadID)
	if err != nil {
		return checkpoint.Thread{}, e.mapTimeout(pctx, err, "checkpoint load")
	}
	return thread, nil
}

func (e *Engine) commit(ctx context.Context, threadID string, messages []*ai.Message) (int64, error) {
	pctx, cancel := context.WithTimeout(ctx, e.timeouts.Persist)
	defer cancel()

	id, err := e.checkpoints.Commit(pctx, threadID, messages)
	if err != nil {
		return 0, e.mapTimeout(pctx, err, "checkpoint commit")
	}
	return id, nil
}

// Inspect returns the committed conversation and checkpoint history for a
// thread. Threads with no commits yield ErrUnknownThread.
func (e *Engine) Inspect(ctx context.Context, threadID string) (ThreadState, error) {
	if strings.TrimSpace(threadID) == "" {
		return ThreadState{}, fmt.Errorf("%w: thread ID is empty", ErrInvalidInput)
	}

	pctx, cancel := context.WithTimeout(ctx, e.timeouts.Persist)
	defer cancel()

	thread, err := e.checkpoints.Load(pctx, threadID)
	if err != nil {
		return ThreadState{}, e.mapTimeout(pctx, err, "checkpoint load")
	}
	if thread.CheckpointID == 0 {
		return ThreadState{}, fmt.Errorf("%w: %q", ErrUnknownThread, threadID)
	}

	history, err := e.checkpoints.History(pctx, threadID)
	if err != nil {
		return ThreadState{}, e.mapTimeout(pctx, err, "checkpoint history")
	}

	return ThreadState{
		ThreadID:     threadID,
		CheckpointID: thread.CheckpointID,
		Messages:     thread.Messages,
		History:      history,
	}, nil
}

// mapTimeout converts deadline expiry into ErrDependencyTimeout, naming the
// dependency. Other errors pass through unchanged.
func (e *Engine) mapTimeout(ctx context.Context, err error, dependency string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrDependencyTimeout, dependency, err)
	}
	return err
}
