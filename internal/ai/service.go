// Package ai orchestrates the writing-assist operations. Every operation
// runs the same skeleton - rate-limit admission, cache probe, provider
// call under bounded retry, usage accounting, normalization, cache write -
// parameterized only by prompt, cache policy and response mapping. The
// service owns no persistent state; it coordinates the limiter, cache and
// monitor, which each own a prefix-scoped slice of the key-value store.
package ai

import (
	"context"
	"errors"
	"log"
	"time"

	"paperai/api/internal/aicache"
	"paperai/api/internal/llm"
	"paperai/api/internal/monitor"
	"paperai/api/internal/ratelimit"
)

// ErrOperationFailed is what callers see when the provider call exhausted
// its retry budget. The underlying cause is recorded in the monitor, not
// exposed to end users.
var ErrOperationFailed = errors.New("ai operation failed")

// Provider issues one chat-completion call. *llm.Client satisfies it;
// tests substitute fakes.
type Provider interface {
	ChatCompletion(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
}

// Config carries the provider defaults and the retry budget.
type Config struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	MaxAttempts    int           // total attempts, including the first
	RetryBaseDelay time.Duration // doubled after each failed attempt
}

// Result is the normalized outcome of one operation.
type Result struct {
	Content    string              `json:"content"`
	Structured *StructuredResponse `json:"structuredResponse,omitempty"`
	Cached     bool                `json:"cached"`
}

// operation parameterizes the shared skeleton. Only grammar and style
// results are cached; summaries, expansions, templates and suggestions
// always compute fresh.
type operation struct {
	name      string
	cacheable bool
	messages  func(input string, rctx Context) []llm.Message
	parse     func(content, input string) *StructuredResponse
}

var (
	opGrammar     = operation{name: "grammar-check", cacheable: true, messages: grammarMessages, parse: mapGrammar}
	opStyle       = operation{name: "style-improve", cacheable: true, messages: styleMessages, parse: mapStyle}
	opSummarize   = operation{name: "summarize", messages: summaryMessages, parse: mapSummary}
	opExpand      = operation{name: "expand", messages: expandMessages, parse: mapExpand}
	opTemplate    = operation{name: "template-generate", messages: templateMessages, parse: mapTemplate}
	opSuggestions = operation{name: "suggestions", messages: suggestionsMessages, parse: mapSuggestions}
)

type Service struct {
	limiter  *ratelimit.Limiter
	cache    *aicache.Cache
	mon      *monitor.Monitor
	provider Provider
	cfg      Config
	now      func() time.Time
}

func New(limiter *ratelimit.Limiter, cache *aicache.Cache, mon *monitor.Monitor, provider Provider, cfg Config) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	return &Service{
		limiter:  limiter,
		cache:    cache,
		mon:      mon,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// Limiter exposes the rate limiter for the usage-inspection endpoint.
func (s *Service) Limiter() *ratelimit.Limiter { return s.limiter }

// Monitor exposes the usage monitor for the metrics-inspection endpoint.
func (s *Service) Monitor() *monitor.Monitor { return s.mon }

func (s *Service) CheckGrammar(ctx context.Context, userID, text string, rctx Context) (Result, error) {
	return s.run(ctx, opGrammar, userID, text, rctx)
}

func (s *Service) ImproveStyle(ctx context.Context, userID, text string, rctx Context) (Result, error) {
	return s.run(ctx, opStyle, userID, text, rctx)
}

func (s *Service) Summarize(ctx context.Context, userID, text string, rctx Context) (Result, error) {
	return s.run(ctx, opSummarize, userID, text, rctx)
}

func (s *Service) Expand(ctx context.Context, userID, text string, rctx Context) (Result, error) {
	return s.run(ctx, opExpand, userID, text, rctx)
}

// GenerateTemplate takes a document type ("meeting-notes", "proposal", ...)
// instead of free text.
func (s *Service) GenerateTemplate(ctx context.Context, userID, documentType string, rctx Context) (Result, error) {
	return s.run(ctx, opTemplate, userID, documentType, rctx)
}

func (s *Service) Suggest(ctx context.Context, userID, text string, rctx Context) (Result, error) {
	return s.run(ctx, opSuggestions, userID, text, rctx)
}

// run executes the shared skeleton. Step order is load-bearing: admission
// before anything else, token accounting only after a successful call,
// cache write only after normalization.
func (s *Service) run(ctx context.Context, op operation, userID, input string, rctx Context) (Result, error) {
	// Admission. A limiter failure (quota breached or store unreachable)
	// aborts the request; there is no safe way to proceed without a
	// quota decision.
	if _, err := s.limiter.Check(ctx, userID); err != nil {
		return Result{}, err
	}

	// Cache probe. Hits bypass the provider entirely and consume no
	// token budget, so no usage is tracked for them. Cache trouble is
	// best-effort: log and compute fresh.
	if op.cacheable {
		var cached StructuredResponse
		found, err := s.cache.Get(ctx, op.name, input, &cached)
		if err != nil {
			log.Printf("ai: cache probe failed for %s: %v", op.name, err)
		}
		if found {
			return Result{Content: cached.ImprovedText, Structured: &cached, Cached: true}, nil
		}
	}

	req := s.buildRequest(op, input, rctx)

	started := s.now()
	resp, err := s.completeWithRetry(ctx, op.name, req)
	elapsed := s.now().Sub(started)
	if err != nil {
		s.trackPerformance(ctx, monitor.Sample{
			Endpoint:     op.name,
			ResponseTime: elapsed,
			Success:      false,
		})
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		return Result{}, ErrOperationFailed
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		// Provider reported no usage; account with the configured cap.
		tokens = int64(req.MaxTokens)
	}
	s.trackPerformance(ctx, monitor.Sample{
		Endpoint:     op.name,
		ResponseTime: elapsed,
		Tokens:       tokens,
		Success:      true,
	})
	if resp.Usage.TotalTokens > 0 {
		if err := s.limiter.TrackTokenUsage(ctx, userID, resp.Usage.TotalTokens); err != nil {
			log.Printf("ai: token accounting failed for %s: %v", op.name, err)
		}
	}

	structured := op.parse(resp.Content(), input)

	if op.cacheable {
		if err := s.cache.Set(ctx, op.name, input, structured); err != nil {
			log.Printf("ai: cache write failed for %s: %v", op.name, err)
		}
	}

	return Result{Content: structured.ImprovedText, Structured: structured}, nil
}

func (s *Service) buildRequest(op operation, input string, rctx Context) llm.ChatRequest {
	model := s.cfg.Model
	if rctx.Model.Name != "" {
		model = rctx.Model.Name
	}
	temperature := s.cfg.Temperature
	if rctx.Model.Temperature != nil {
		temperature = *rctx.Model.Temperature
	}
	maxTokens := s.cfg.MaxTokens
	if rctx.Model.MaxTokens > 0 {
		maxTokens = rctx.Model.MaxTokens
	}
	return llm.ChatRequest{
		Model:          model,
		Messages:       op.messages(input, rctx),
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	}
}

// completeWithRetry attempts the provider call up to MaxAttempts times,
// doubling the delay after each failure (base, 2*base, ...). Every failed
// attempt is recorded in the monitor. The sleep is a per-request timer,
// cancellable through ctx - it never blocks other requests.
func (s *Service) completeWithRetry(ctx context.Context, endpoint string, req llm.ChatRequest) (llm.ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.cfg.RetryBaseDelay << (attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return llm.ChatResponse{}, ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := s.provider.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if trackErr := s.mon.TrackError(ctx, endpoint, err); trackErr != nil {
			log.Printf("ai: error tracking failed for %s: %v", endpoint, trackErr)
		}
	}
	return llm.ChatResponse{}, lastErr
}

// trackPerformance is best-effort instrumentation; failures never affect
// the operation's outcome.
func (s *Service) trackPerformance(ctx context.Context, sample monitor.Sample) {
	if err := s.mon.TrackPerformance(ctx, sample); err != nil {
		log.Printf("ai: performance tracking failed for %s: %v", sample.Endpoint, err)
	}
}
