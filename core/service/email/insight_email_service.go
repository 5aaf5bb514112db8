// Package mail serves mailbox pages: provider listing, threading and analysis.
package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"insight_server/core/domain"
	"insight_server/core/port/in"
	"insight_server/core/port/out"
	"insight_server/core/service/conversation"
	"insight_server/core/service/query"
	"insight_server/pkg/apperr"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
)

const (
	DefaultAIConcurrency = 5
	DefaultHistoryLimit  = 10
)

// Config bounds the per-request work.
type Config struct {
	AIConcurrency int
	HistoryLimit  int
}

// Service implements in.EmailService.
type Service struct {
	provider out.MailProvider
	analysis in.AnalysisService
	builder  *query.Builder
	cfg      Config
	log      zerolog.Logger
}

var (
	_ in.EmailService  = (*Service)(nil)
	_ in.BatchAnalyzer = (*Service)(nil)
)

// NewService creates the page service.
func NewService(provider out.MailProvider, analysis in.AnalysisService, builder *query.Builder, cfg Config, log zerolog.Logger) *Service {
	if cfg.AIConcurrency <= 0 {
		cfg.AIConcurrency = DefaultAIConcurrency
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if builder == nil {
		builder = query.NewBuilder(query.MaxPageSize, domain.SearchFilter)
	}
	return &Service{
		provider: provider,
		analysis: analysis,
		builder:  builder,
		cfg:      cfg,
		log:      log.With().Str("component", "email_service").Str("provider", provider.GetProviderType()).Logger(),
	}
}

// ListPage fetches one page, optionally analyses each message and thread,
// and groups the page into conversations.
func (s *Service) ListPage(ctx context.Context, token *oauth2.Token, req domain.PageRequest) (*domain.EmailPage, error) {
	plan := s.builder.Build(req)

	start := time.Now()
	page, err := s.provider.ListMessages(ctx, token, plan.Query)
	if err != nil {
		return nil, s.providerError(err)
	}
	s.log.Debug().
		Int("count", len(page.Messages)).
		Int64("total", page.TotalCount).
		Dur("took", time.Since(start)).
		Msg("listed messages")

	messages := lo.Filter(page.Messages, func(m *domain.EmailMessage, _ int) bool { return m != nil })

	if req.Analyze {
		err := fanOut(ctx, s.cfg.AIConcurrency, messages, func(ctx context.Context, m *domain.EmailMessage) {
			m.Analysis = s.analysis.Analyze(ctx, inputFromMessage(m))
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("message analysis fan-out incomplete")
		}
	}

	convs := conversation.Group(messages)

	if req.Threads {
		err := fanOut(ctx, s.cfg.AIConcurrency, convs, func(ctx context.Context, c *domain.Conversation) {
			c.ThreadAnalysis = s.analysis.AnalyzeThread(ctx, c)
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("thread analysis fan-out incomplete")
		}
	}

	return &domain.EmailPage{
		Emails:        messages,
		Conversations: convs,
		Pagination:    query.DerivePagination(page.TotalCount, plan.Page, plan.PageSize),
	}, nil
}

// AnalyzeBatch runs single-message analysis over inputs with the page
// concurrency bound. Inputs the fan-out did not reach are analysed inline,
// so every slot is filled.
func (s *Service) AnalyzeBatch(ctx context.Context, inputs []in.AnalyzeInput) []*domain.AnalysisResult {
	var mu sync.Mutex
	results := make([]*domain.AnalysisResult, len(inputs))
	idx := make([]int, len(inputs))
	for i := range idx {
		idx[i] = i
	}

	err := fanOut(ctx, s.cfg.AIConcurrency, idx, func(ctx context.Context, i int) {
		r := s.analysis.Analyze(ctx, inputs[i])
		mu.Lock()
		results[i] = r
		mu.Unlock()
	})
	if err != nil {
		s.log.Warn().Err(err).Int("batch", len(inputs)).Msg("batch analysis fan-out incomplete")
	}

	// Copy under the lock: a straggling worker may still write after a cancelled Close.
	mu.Lock()
	filled := make([]*domain.AnalysisResult, len(results))
	copy(filled, results)
	mu.Unlock()

	for i, r := range filled {
		if r == nil {
			filled[i] = s.analysis.Analyze(context.WithoutCancel(ctx), inputs[i])
		}
	}
	return filled
}

// GetMessage returns one message with its body.
func (s *Service) GetMessage(ctx context.Context, token *oauth2.Token, id string) (*domain.EmailMessage, error) {
	if id == "" {
		return nil, apperr.MissingField("id")
	}
	msg, err := s.provider.GetMessage(ctx, token, id)
	if err != nil {
		return nil, s.providerError(err)
	}
	return msg, nil
}

// AnalyzeMessage runs contextual analysis of a message against the other
// messages of its conversation.
func (s *Service) AnalyzeMessage(ctx context.Context, token *oauth2.Token, id string) (*domain.AnalysisResult, error) {
	msg, err := s.GetMessage(ctx, token, id)
	if err != nil {
		return nil, err
	}

	history, err := s.history(ctx, token, msg)
	if err != nil {
		return nil, err
	}

	return s.analysis.AnalyzeWithContext(ctx, msg, history), nil
}

func (s *Service) history(ctx context.Context, token *oauth2.Token, msg *domain.EmailMessage) ([]*domain.EmailMessage, error) {
	if msg.ConversationID == "" {
		return nil, nil
	}

	thread, err := s.provider.ListConversation(ctx, token, msg.ConversationID, s.cfg.HistoryLimit+1)
	if err != nil {
		var pe *out.ProviderError
		if errors.As(err, &pe) && pe.RequiresReauth() {
			return nil, s.providerError(err)
		}
		s.log.Warn().Err(err).Str("conversation_id", msg.ConversationID).Msg("conversation history unavailable, analysing without context")
		return nil, nil
	}

	history := lo.Filter(thread, func(m *domain.EmailMessage, _ int) bool {
		return m != nil && m.ID != msg.ID
	})
	if len(history) > s.cfg.HistoryLimit {
		history = history[len(history)-s.cfg.HistoryLimit:]
	}
	return history, nil
}

// providerError maps provider failures: an expired session asks the client
// to sign in again, everything else is a generic fetch failure.
func (s *Service) providerError(err error) error {
	name := s.provider.GetProviderType()

	var pe *out.ProviderError
	if errors.As(err, &pe) {
		if pe.RequiresReauth() {
			return apperr.ReauthRequired(name, err)
		}
		return apperr.ProviderFetchFailed(name, err).
			WithDetail("provider_code", string(pe.Code)).
			WithDetail("status", pe.StatusCode)
	}
	return apperr.ProviderFetchFailed(name, err)
}

func inputFromMessage(m *domain.EmailMessage) in.AnalyzeInput {
	return in.AnalyzeInput{
		Subject:    m.Subject,
		Body:       m.Content(),
		Sender:     m.Sender,
		Importance: m.Importance,
	}
}
