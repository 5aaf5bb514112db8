// Package analysis turns email content into AI analysis results.
//
// Every entry point consults the analysis cache first, then the chat model,
// and degrades to deterministic fallbacks when the model reply is unusable
// (confidence 0.5) or the call itself fails (confidence 0.3).
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"insight_server/core/domain"
	"insight_server/core/port/in"
	"insight_server/core/port/out"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

// ErrExternalService wraps any failure of the chat model call.
var ErrExternalService = errors.New("external AI service failure")

const (
	errorConfidence     = 0.3
	heuristicConfidence = 0.5

	// Parsed model confidence is kept above the heuristic tier.
	defaultParsedConfidence = 0.8
	minParsedConfidence     = 0.55

	unavailableSummary = "AI analysis unavailable"
	fallbackModel      = "fallback"

	AnalysisTypeContextual = "contextual"
)

// Config tunes the model call and cache lifetime.
type Config struct {
	Temperature float32
	MaxTokens   int
	CacheTTL    time.Duration
	CallTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Temperature: 0.3,
		MaxTokens:   800,
		CacheTTL:    time.Hour,
		CallTimeout: 30 * time.Second,
	}
}

// Analyzer implements in.AnalysisService.
type Analyzer struct {
	llm   out.ChatCompleter
	cache out.AnalysisCache
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time

	// collapses concurrent misses for the same key
	flight singleflight.Group
}

var _ in.AnalysisService = (*Analyzer)(nil)

// NewAnalyzer creates an analyzer. Zero config fields take DefaultConfig values.
func NewAnalyzer(llm out.ChatCompleter, cache out.AnalysisCache, cfg Config, log zerolog.Logger) *Analyzer {
	def := DefaultConfig()
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	return &Analyzer{
		llm:   llm,
		cache: cache,
		cfg:   cfg,
		log:   log.With().Str("component", "analyzer").Logger(),
		now:   time.Now,
	}
}

// WithClock overrides the clock used to stamp analyzedAt.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// =============================================================================
// Single message
// =============================================================================

// Analyze returns the analysis of one message.
func (a *Analyzer) Analyze(ctx context.Context, input in.AnalyzeInput) *domain.AnalysisResult {
	key := SimpleKey(input.Subject, input.Body, input.Sender.Address)
	if cached, ok := a.cache.GetAnalysis(ctx, key); ok {
		return cached
	}

	v, _, _ := a.flight.Do(key, func() (any, error) {
		return a.analyzeMiss(context.WithoutCancel(ctx), key, input), nil
	})
	return v.(*domain.AnalysisResult)
}

func (a *Analyzer) analyzeMiss(ctx context.Context, key string, input in.AnalyzeInput) *domain.AnalysisResult {
	reply, err := a.complete(ctx, analysisSystemPrompt, buildAnalysisPrompt(input))
	if err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("analysis call failed, using error fallback")
		// Transient failures are not cached.
		return a.errorFallback(input, err)
	}

	parsed := parseReply(reply, (*aiAnalysis).valid)
	if !parsed.OK {
		a.log.Debug().Str("key", key).Int("reply_len", len(reply)).Msg("analysis reply unparseable, using heuristic fallback")
		result := a.heuristicFallback(input)
		a.cache.PutAnalysis(ctx, key, result, a.cfg.CacheTTL)
		return result
	}

	result := parsed.Value.toResult(input.Subject + " " + input.Body)
	result.AnalyzedAt = a.now()
	result.Model = a.llm.Model()
	a.cache.PutAnalysis(ctx, key, result, a.cfg.CacheTTL)
	return result
}

// =============================================================================
// Message in conversation context
// =============================================================================

// AnalyzeWithContext analyzes current against the earlier messages of its conversation.
func (a *Analyzer) AnalyzeWithContext(ctx context.Context, current *domain.EmailMessage, history []*domain.EmailMessage) *domain.AnalysisResult {
	key := ContextKey(current.ID, history)
	if cached, ok := a.cache.GetAnalysis(ctx, key); ok {
		return cached
	}

	v, _, _ := a.flight.Do(key, func() (any, error) {
		return a.analyzeContextMiss(context.WithoutCancel(ctx), key, current, history), nil
	})
	return v.(*domain.AnalysisResult)
}

func (a *Analyzer) analyzeContextMiss(ctx context.Context, key string, current *domain.EmailMessage, history []*domain.EmailMessage) *domain.AnalysisResult {
	input := inputFromMessage(current)

	reply, err := a.complete(ctx, contextSystemPrompt, buildContextPrompt(current, history))
	if err != nil {
		a.log.Warn().Err(err).Str("key", key).Int("history", len(history)).Msg("contextual call failed, falling back to single analysis")
		return a.Analyze(ctx, input)
	}

	parsed := parseReply(reply, (*aiAnalysis).valid)
	if !parsed.OK {
		a.log.Debug().Str("key", key).Msg("contextual reply unparseable, using heuristic fallback")
		result := a.heuristicFallback(input)
		result.ConversationContext = fallbackContext(history)
		// Cached here, unlike the simple error fallback.
		a.cache.PutAnalysis(ctx, key, result, a.cfg.CacheTTL)
		return result
	}

	result := parsed.Value.toResult(input.Subject + " " + input.Body)
	result.ConversationContext = parsed.Value.ConversationContext.normalize(history)
	result.AnalysisType = AnalysisTypeContextual
	result.ContextSize = len(history)
	result.AnalyzedAt = a.now()
	result.Model = a.llm.Model()
	a.cache.PutAnalysis(ctx, key, result, a.cfg.CacheTTL)
	return result
}

// =============================================================================
// Shared helpers
// =============================================================================

func (a *Analyzer) complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	reply, err := a.llm.Complete(ctx, out.ChatRequest{
		Model:       a.llm.Model(),
		System:      system,
		User:        user,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExternalService, err)
	}

	a.log.Debug().Dur("took", time.Since(start)).Int("reply_len", len(reply)).Msg("chat completion")
	return reply, nil
}

func (a *Analyzer) errorFallback(input in.AnalyzeInput, err error) *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Sentiment:        domain.SentimentNeutral,
		Urgency:          domain.UrgencyFromImportance(input.Importance),
		Category:         domain.DefaultCategory,
		Keywords:         ExtractKeywords(input.Subject),
		Summary:          unavailableSummary,
		SuggestedActions: []string{},
		Confidence:       errorConfidence,
		AnalyzedAt:       a.now(),
		Model:            fallbackModel,
		Error:            err.Error(),
	}
}

func (a *Analyzer) heuristicFallback(input in.AnalyzeInput) *domain.AnalysisResult {
	summary := truncateRunes(strings.TrimSpace(input.Body), maxSummaryRunes)
	if summary == "" {
		summary = input.Subject
	}

	return &domain.AnalysisResult{
		Sentiment:        domain.SentimentNeutral,
		Urgency:          domain.UrgencyFromImportance(input.Importance),
		Category:         domain.DefaultCategory,
		Keywords:         ExtractKeywords(input.Subject + " " + input.Body),
		Summary:          summary,
		SuggestedActions: []string{},
		Confidence:       heuristicConfidence,
		AnalyzedAt:       a.now(),
		Model:            fallbackModel,
	}
}

func fallbackContext(history []*domain.EmailMessage) *domain.ConversationContext {
	stage := domain.StageInitial
	if len(history) > 0 {
		stage = domain.StageOngoing
	}
	return &domain.ConversationContext{
		IsResponse:          len(history) > 0,
		ConversationStage:   stage,
		RelationshipContext: "unknown",
		HistoricalSentiment: domain.SentimentNeutral,
		EscalationLevel:     "none",
	}
}

func inputFromMessage(m *domain.EmailMessage) in.AnalyzeInput {
	return in.AnalyzeInput{
		Subject:    m.Subject,
		Body:       m.Content(),
		Sender:     m.Sender,
		Importance: m.Importance,
	}
}

// =============================================================================
// Model reply shapes
// =============================================================================

type aiAnalysis struct {
	Sentiment           string                 `json:"sentiment"`
	Urgency             string                 `json:"urgency"`
	Category            string                 `json:"category"`
	Keywords            []string               `json:"keywords"`
	Summary             string                 `json:"summary"`
	ActionRequired      bool                   `json:"actionRequired"`
	SuggestedActions    []string               `json:"suggestedActions"`
	Confidence          *float64               `json:"confidence"`
	ConversationContext *aiConversationContext `json:"conversationContext"`
}

func (r *aiAnalysis) valid() bool {
	return r.Sentiment != "" || r.Summary != ""
}

func (r *aiAnalysis) toResult(keywordSource string) *domain.AnalysisResult {
	keywords := cleanList(r.Keywords, maxKeywords)
	if len(keywords) == 0 {
		keywords = ExtractKeywords(keywordSource)
	}

	return &domain.AnalysisResult{
		Sentiment:        domain.ParseSentiment(r.Sentiment),
		Urgency:          domain.ParseUrgency(r.Urgency),
		Category:         domain.ParseCategory(r.Category),
		Keywords:         keywords,
		Summary:          strings.TrimSpace(r.Summary),
		ActionRequired:   r.ActionRequired,
		SuggestedActions: cleanList(r.SuggestedActions, 0),
		Confidence:       clampConfidence(r.Confidence),
	}
}

type aiConversationContext struct {
	IsResponse          bool   `json:"isResponse"`
	ResponseToWhom      string `json:"responseToWhom"`
	ConversationStage   string `json:"conversationStage"`
	RelationshipContext string `json:"relationshipContext"`
	HistoricalSentiment string `json:"historicalSentiment"`
	EscalationLevel     string `json:"escalationLevel"`
}

func (c *aiConversationContext) normalize(history []*domain.EmailMessage) *domain.ConversationContext {
	if c == nil {
		return fallbackContext(history)
	}

	stage := strings.ToLower(strings.TrimSpace(c.ConversationStage))
	switch stage {
	case domain.StageInitial, domain.StageOngoing, domain.StageClosing, domain.StageFollowUp:
	default:
		stage = fallbackContext(history).ConversationStage
	}

	escalation := strings.ToLower(strings.TrimSpace(c.EscalationLevel))
	if escalation == "" {
		escalation = "none"
	}

	return &domain.ConversationContext{
		IsResponse:          c.IsResponse,
		ResponseToWhom:      strings.TrimSpace(c.ResponseToWhom),
		ConversationStage:   stage,
		RelationshipContext: strings.TrimSpace(c.RelationshipContext),
		HistoricalSentiment: domain.ParseSentiment(c.HistoricalSentiment),
		EscalationLevel:     escalation,
	}
}

// clampConfidence keeps parsed confidence within (0.5, 1].
func clampConfidence(c *float64) float64 {
	if c == nil || *c <= 0 || *c > 1 {
		return defaultParsedConfidence
	}
	if *c <= heuristicConfidence {
		return minParsedConfidence
	}
	return *c
}

// cleanList trims, drops empty and duplicate entries and caps at limit (0 = no cap).
func cleanList(items []string, limit int) []string {
	cleaned := lo.Uniq(lo.FilterMap(items, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	}))
	if limit > 0 && len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return cleaned
}
