package http

import (
	"insight_server/core/domain"
	"insight_server/core/service/conversation"
	"insight_server/core/service/query"
	"insight_server/pkg/apperr"
	"insight_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ConversationHandler exposes the stateless grouping and query building steps.
type ConversationHandler struct {
	builder *query.Builder
}

func NewConversationHandler(builder *query.Builder) *ConversationHandler {
	return &ConversationHandler{builder: builder}
}

func (h *ConversationHandler) Register(app fiber.Router) {
	app.Post("/conversations/group", h.Group)
	app.Get("/query", h.PreviewQuery)
}

type groupRequest struct {
	Messages []*domain.EmailMessage `json:"messages"`
}

// Group groups the posted messages into conversations.
func (h *ConversationHandler) Group(c *fiber.Ctx) error {
	var req groupRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	conversations := conversation.Group(compactMessages(req.Messages))
	return response.OKWithMeta(c, conversations, &response.Meta{Total: int64(len(conversations))})
}

type queryPreview struct {
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	Folder     string            `json:"folder"`
	Top        int               `json:"top"`
	Skip       int               `json:"skip"`
	OrderBy    string            `json:"orderBy,omitempty"`
	Select     []string          `json:"select"`
	Filter     string            `json:"filter,omitempty"`
	Search     string            `json:"search,omitempty"`
	Pagination domain.Pagination `json:"pagination"`
}

// PreviewQuery shows the provider query for a page request and, given a
// total, the pagination that would be reported.
// GET /query?page&pageSize&search&folder&strategy&total
func (h *ConversationHandler) PreviewQuery(c *fiber.Ctx) error {
	total := int64(c.QueryInt("total", 0))
	if total < 0 {
		return apperr.InvalidInput("total", "must not be negative")
	}

	req := domain.PageRequest{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("pageSize", 0),
		Search:   c.Query("search"),
		Folder:   c.Query("folder"),
	}
	if s := c.Query("strategy"); s != "" {
		req.Strategy = domain.ParseSearchStrategy(s)
	}

	plan := h.builder.Build(req)
	return response.OK(c, queryPreview{
		Page:       plan.Page,
		PageSize:   plan.PageSize,
		Folder:     plan.Query.Folder,
		Top:        plan.Query.Top,
		Skip:       plan.Query.Skip,
		OrderBy:    plan.Query.OrderBy,
		Select:     plan.Query.Select,
		Filter:     plan.Query.Filter,
		Search:     plan.Query.Search,
		Pagination: query.DerivePagination(total, plan.Page, plan.PageSize),
	})
}
