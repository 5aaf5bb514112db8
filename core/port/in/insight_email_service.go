package in

import (
	"context"

	"insight_server/core/domain"

	"golang.org/x/oauth2"
)

// EmailService serves mailbox pages with conversations and analysis attached.
// Provider failures surface as *apperr.AppError.
type EmailService interface {
	ListPage(ctx context.Context, token *oauth2.Token, req domain.PageRequest) (*domain.EmailPage, error)
	GetMessage(ctx context.Context, token *oauth2.Token, id string) (*domain.EmailMessage, error)
	AnalyzeMessage(ctx context.Context, token *oauth2.Token, id string) (*domain.AnalysisResult, error)
}
