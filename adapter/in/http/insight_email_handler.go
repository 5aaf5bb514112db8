package http

import (
	"strings"

	"insight_server/core/domain"
	"insight_server/core/port/in"
	"insight_server/infra/middleware"
	"insight_server/pkg/apperr"
	"insight_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"
)

// EmailHandler serves mailbox pages with conversations and analysis.
type EmailHandler struct {
	emailService in.EmailService
}

func NewEmailHandler(emailService in.EmailService) *EmailHandler {
	return &EmailHandler{emailService: emailService}
}

func (h *EmailHandler) Register(app fiber.Router) {
	emails := app.Group("/emails", middleware.ProviderToken())
	emails.Get("/", h.ListEmails)
	emails.Get("/:id", h.GetEmail)
	emails.Post("/:id/analyze", h.AnalyzeEmail)
}

// ListEmails returns one page with per-message analysis and conversations.
// GET /emails?page&pageSize&search&folder&strategy&analyze&threads
func (h *EmailHandler) ListEmails(c *fiber.Ctx) error {
	token, err := providerToken(c)
	if err != nil {
		return err
	}

	req := domain.PageRequest{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("pageSize", 0),
		Search:   c.Query("search"),
		Folder:   c.Query("folder"),
		Analyze:  c.QueryBool("analyze", true),
		Threads:  c.QueryBool("threads", false),
	}
	if s := c.Query("strategy"); s != "" {
		req.Strategy = domain.ParseSearchStrategy(strings.ToLower(s))
	}

	page, err := h.emailService.ListPage(c.UserContext(), token, req)
	if err != nil {
		return err
	}

	return response.OKWithMeta(c, page, &response.Meta{
		Total:    page.Pagination.TotalCount,
		Page:     page.Pagination.Page,
		PageSize: page.Pagination.PageSize,
		HasMore:  page.Pagination.HasMore,
	})
}

// GetEmail returns one message with its body.
func (h *EmailHandler) GetEmail(c *fiber.Ctx) error {
	token, err := providerToken(c)
	if err != nil {
		return err
	}

	msg, err := h.emailService.GetMessage(c.UserContext(), token, c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, msg)
}

// AnalyzeEmail runs contextual analysis of one message against its conversation.
func (h *EmailHandler) AnalyzeEmail(c *fiber.Ctx) error {
	token, err := providerToken(c)
	if err != nil {
		return err
	}

	result, err := h.emailService.AnalyzeMessage(c.UserContext(), token, c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, result)
}

func providerToken(c *fiber.Ctx) (*oauth2.Token, error) {
	token, ok := middleware.GetProviderToken(c)
	if !ok {
		return nil, apperr.Unauthorized("missing authorization")
	}
	return token, nil
}
