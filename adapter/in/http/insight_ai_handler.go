package http

import (
	"strconv"
	"strings"

	"insight_server/core/domain"
	"insight_server/core/port/in"
	"insight_server/core/port/out"
	"insight_server/pkg/apperr"
	"insight_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// CacheStatsProvider reports analysis cache counters.
type CacheStatsProvider interface {
	Stats() out.CacheStats
}

// MaxBatchSize caps the messages accepted by one batch request.
const MaxBatchSize = 50

// AIHandler exposes the analysis pipeline directly.
type AIHandler struct {
	analysis in.AnalysisService
	batch    in.BatchAnalyzer
	cache    CacheStatsProvider
}

func NewAIHandler(analysis in.AnalysisService, batch in.BatchAnalyzer, cache CacheStatsProvider) *AIHandler {
	return &AIHandler{analysis: analysis, batch: batch, cache: cache}
}

func (h *AIHandler) Register(app fiber.Router) {
	ai := app.Group("/ai")
	ai.Post("/analyze", h.Analyze)
	ai.Post("/analyze/context", h.AnalyzeWithContext)
	ai.Post("/analyze/thread", h.AnalyzeThread)
	ai.Post("/analyze/batch", h.AnalyzeBatch)
	ai.Get("/cache/stats", h.CacheStats)
}

func (h *AIHandler) Analyze(c *fiber.Ctx) error {
	var req in.AnalyzeInput
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if err := normalizeInput(&req, "subject"); err != nil {
		return err
	}

	return response.OK(c, h.analysis.Analyze(c.UserContext(), req))
}

func normalizeInput(req *in.AnalyzeInput, field string) error {
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Body) == "" {
		return apperr.InvalidInput(field, "subject or body is required")
	}
	req.Importance = domain.ParseImportance(strings.ToLower(strings.TrimSpace(string(req.Importance))))
	return nil
}

type analyzeBatchRequest struct {
	Emails []in.AnalyzeInput `json:"emails"`
}

type batchItem struct {
	Analysis *domain.AnalysisResult `json:"analysis"`
}

// AnalyzeBatch analyses up to MaxBatchSize messages; results keep input order.
func (h *AIHandler) AnalyzeBatch(c *fiber.Ctx) error {
	var req analyzeBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if len(req.Emails) == 0 {
		return apperr.MissingField("emails")
	}
	if len(req.Emails) > MaxBatchSize {
		return apperr.InvalidInput("emails", "at most "+strconv.Itoa(MaxBatchSize)+" emails per batch")
	}
	for i := range req.Emails {
		if err := normalizeInput(&req.Emails[i], "emails["+strconv.Itoa(i)+"]"); err != nil {
			return err
		}
	}

	analyses := h.batch.AnalyzeBatch(c.UserContext(), req.Emails)
	results := make([]batchItem, len(analyses))
	for i, a := range analyses {
		results[i] = batchItem{Analysis: a}
	}
	return response.OK(c, fiber.Map{"results": results})
}

type analyzeContextRequest struct {
	Current *domain.EmailMessage   `json:"current"`
	History []*domain.EmailMessage `json:"history"`
}

func (h *AIHandler) AnalyzeWithContext(c *fiber.Ctx) error {
	var req analyzeContextRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.Current == nil {
		return apperr.MissingField("current")
	}
	// Contextual results are cached by message id.
	if strings.TrimSpace(req.Current.ID) == "" {
		return apperr.MissingField("current.id")
	}
	req.History = compactMessages(req.History)

	return response.OK(c, h.analysis.AnalyzeWithContext(c.UserContext(), req.Current, req.History))
}

type analyzeThreadRequest struct {
	Conversation *domain.Conversation `json:"conversation"`
}

func (h *AIHandler) AnalyzeThread(c *fiber.Ctx) error {
	var req analyzeThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.Conversation == nil {
		return apperr.MissingField("conversation")
	}
	conv := req.Conversation
	if strings.TrimSpace(conv.ConversationID) == "" {
		return apperr.MissingField("conversation.conversationId")
	}
	conv.Emails = compactMessages(conv.Emails)
	if len(conv.Emails) == 0 {
		return apperr.InvalidInput("conversation.emails", "at least one email is required")
	}
	if conv.TotalEmails == 0 {
		conv.TotalEmails = len(conv.Emails)
	}
	if conv.LatestDate.IsZero() {
		for _, m := range conv.Emails {
			if m.ReceivedAt.After(conv.LatestDate) {
				conv.LatestDate = m.ReceivedAt
			}
		}
	}

	return response.OK(c, h.analysis.AnalyzeThread(c.UserContext(), conv))
}

func (h *AIHandler) CacheStats(c *fiber.Ctx) error {
	if h.cache == nil {
		return response.ServiceUnavailable(c, "cache not configured")
	}
	return response.OK(c, h.cache.Stats())
}

func compactMessages(msgs []*domain.EmailMessage) []*domain.EmailMessage {
	kept := make([]*domain.EmailMessage, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			kept = append(kept, m)
		}
	}
	return kept
}
