package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/log"
	"github.com/koopa0/grounded/internal/provider"
	"github.com/koopa0/grounded/internal/retrieval"
	"github.com/koopa0/grounded/internal/session"
)

// Retriever is the slice of the retrieval engine the orchestrator needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts ...retrieval.Option) ([]core.RetrievalResult, error)
}

// Config tunes turn handling.
type Config struct {
	Budget         Budget
	SystemTemplate string

	// GenerateTimeout bounds one generation call including retries.
	GenerateTimeout time.Duration

	// Generation retry policy. Retries happen only before the first token.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Circuit breaker over the LLM backend.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Rate limit over generation calls.
	RatePerSecond float64
	RateBurst     int

	// IdleTimeout is how long a session may sit inactive before a sweep
	// expires it.
	IdleTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Budget.PromptTokens < 1 {
		c.Budget = Budget{PromptTokens: 8000, ContextTokens: 3000, HistoryTokens: 3000}
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 2 * time.Minute
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.RateBurst < 1 {
		c.RateBurst = 5
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
}

// Orchestrator coordinates sessions, retrieval, and generation.
type Orchestrator struct {
	sessions  *session.Store
	retriever Retriever
	llm       provider.LLMProvider
	breaker   *breaker
	limiter   *rate.Limiter
	retry     retryPolicy
	cfg       Config
	logger    log.Logger
}

// New wires an orchestrator.
func New(sessions *session.Store, retriever Retriever, llm provider.LLMProvider, cfg Config, logger log.Logger) (*Orchestrator, error) {
	if sessions == nil || retriever == nil || llm == nil {
		return nil, fmt.Errorf("sessions, retriever and llm are required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	cfg.applyDefaults()

	return &Orchestrator{
		sessions:  sessions,
		retriever: retriever,
		llm:       llm,
		breaker:   newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		retry: retryPolicy{
			maxAttempts: cfg.MaxAttempts,
			baseDelay:   cfg.RetryBaseDelay,
			maxDelay:    cfg.RetryMaxDelay,
		}.withDefaults(),
		cfg:    cfg,
		logger: logger.With("component", "orchestrator"),
	}, nil
}

// NewSession creates a session and returns its ID.
func (o *Orchestrator) NewSession() uuid.UUID { return o.sessions.Create() }

// Session returns a snapshot of the session.
func (o *Orchestrator) Session(id uuid.UUID) (session.Info, error) {
	return o.sessions.Get(id)
}

// Expire terminates a session.
func (o *Orchestrator) Expire(id uuid.UUID) error { return o.sessions.Expire(id) }

// TurnOption adjusts how a single turn is handled.
type TurnOption func(*turnOptions)

type turnOptions struct {
	retrievalQuery string
}

// WithExpandedQuery retrieves with the given query instead of the raw user
// message. The original message is still what lands in the history and the
// prompt; only the retrieval lookup sees the expansion.
func WithExpandedQuery(query string) TurnOption {
	return func(o *turnOptions) { o.retrievalQuery = query }
}

// HandleTurn runs one conversation turn and streams its events. The turn is
// committed to the session only on success; a canceled or failed turn
// leaves the assistant's side of the history unwritten. The returned channel
// closes after the terminal event.
//
// Errors returned directly (rather than on the channel) mean the turn never
// started: unknown or expired session, empty question, or cancellation while
// waiting for the session slot.
func (o *Orchestrator) HandleTurn(ctx context.Context, id uuid.UUID, question string, opts ...TurnOption) (<-chan AnswerEvent, error) {
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}

	topts := turnOptions{retrievalQuery: question}
	for _, opt := range opts {
		opt(&topts)
	}

	release, err := o.sessions.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}

	// History snapshot excludes the question being asked; the prompt adds
	// it separately.
	info, err := o.sessions.Get(id)
	if err != nil {
		release()
		return nil, err
	}

	if err := o.sessions.AppendTurn(id, session.Turn{
		Role: session.RoleUser, Text: question,
	}); err != nil {
		release()
		return nil, err
	}

	events := make(chan AnswerEvent)
	go func() {
		defer release()
		defer close(events)
		o.runTurn(ctx, id, question, topts, info.Turns, events)
	}()
	return events, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, id uuid.UUID, question string, topts turnOptions, history []session.Turn, events chan<- AnswerEvent) {
	results, ungrounded := o.retrieveContext(ctx, topts.retrievalQuery)
	p := assemblePrompt(o.cfg.SystemTemplate, question, results, history, o.cfg.Budget)

	answer, err := o.generate(ctx, p.messages, events)
	if err != nil {
		if ctx.Err() != nil {
			// Caller walked away; there is nobody to receive an error
			// event and nothing to commit.
			o.logger.Debug("turn canceled", "session_id", id)
			return
		}
		o.logger.Error("generation failed", "session_id", id, "error", err)
		o.send(ctx, events, AnswerEvent{Kind: EventError, Err: err})
		return
	}

	citations := extractCitations(answer, p.context)
	turn := session.Turn{
		Role:      session.RoleAssistant,
		Text:      answer,
		Citations: citations,
	}
	if err := o.sessions.AppendTurn(id, turn); err != nil {
		o.send(ctx, events, AnswerEvent{Kind: EventError, Err: err})
		return
	}

	for _, c := range citations {
		if !o.send(ctx, events, AnswerEvent{Kind: EventCitation, Citation: c}) {
			return
		}
	}
	o.send(ctx, events, AnswerEvent{Kind: EventDone, Turn: turn, Ungrounded: ungrounded})
}

// retrieveContext fetches grounding for the query. Every retrieval failure
// degrades to an ungrounded answer rather than failing the turn; an
// unreachable store should not mute the assistant.
func (o *Orchestrator) retrieveContext(ctx context.Context, query string) ([]core.RetrievalResult, bool) {
	results, err := o.retriever.Retrieve(ctx, query)
	if err != nil {
		var retErr *retrieval.Error
		if errors.As(err, &retErr) {
			o.logger.Warn("retrieval degraded, answering ungrounded",
				"reason", retErr.Reason, "error", err)
		} else {
			o.logger.Warn("retrieval failed, answering ungrounded", "error", err)
		}
		return nil, true
	}
	return results, len(results) == 0
}

// generate streams the answer, retrying transient failures that happen
// before any token was delivered. Once a token reached the caller the
// stream is partially consumed and a failure is terminal.
func (o *Orchestrator) generate(ctx context.Context, messages []provider.Message, events chan<- AnswerEvent) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= o.retry.maxAttempts; attempt++ {
		if err := o.breaker.allow(); err != nil {
			return "", err
		}
		if err := o.limiter.Wait(genCtx); err != nil {
			return "", err
		}

		tokenSent := false
		answer, err := o.llm.GenerateStream(genCtx, messages, func(token string) error {
			if !o.send(ctx, events, AnswerEvent{Kind: EventToken, Token: token}) {
				return ctx.Err()
			}
			tokenSent = true
			return nil
		})
		if err == nil {
			o.breaker.recordSuccess()
			return answer, nil
		}

		o.breaker.recordFailure()
		lastErr = err
		if tokenSent || genCtx.Err() != nil {
			break
		}
		o.logger.Warn("generation attempt failed, retrying",
			"attempt", attempt, "error", err)
		if attempt < o.retry.maxAttempts {
			if err := o.retry.wait(genCtx, attempt); err != nil {
				break
			}
		}
	}
	return "", lastErr
}

// send delivers an event unless the caller is gone. Returns false when the
// context ended first.
func (o *Orchestrator) send(ctx context.Context, events chan<- AnswerEvent, ev AnswerEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// RunSweeper expires idle sessions every interval until ctx ends. Meant to
// run in its own goroutine for the life of the process.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.sessions.SweepIdle(now.Add(-o.cfg.IdleTimeout))
		}
	}
}
