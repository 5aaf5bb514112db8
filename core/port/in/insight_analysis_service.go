package in

import (
	"context"

	"insight_server/core/domain"
)

// AnalyzeInput is the single-message analysis request.
type AnalyzeInput struct {
	Subject    string              `json:"subject"`
	Body       string              `json:"body"`
	Sender     domain.EmailAddress `json:"sender"`
	Importance domain.Importance   `json:"importance"`
}

// AnalysisService never returns an error: every failure degrades to a
// lower-confidence result.
type AnalysisService interface {
	Analyze(ctx context.Context, input AnalyzeInput) *domain.AnalysisResult
	AnalyzeWithContext(ctx context.Context, current *domain.EmailMessage, history []*domain.EmailMessage) *domain.AnalysisResult
	AnalyzeThread(ctx context.Context, conv *domain.Conversation) *domain.ThreadAnalysis
}

// BatchAnalyzer analyses many messages with bounded concurrency.
// Results are returned in input order.
type BatchAnalyzer interface {
	AnalyzeBatch(ctx context.Context, inputs []AnalyzeInput) []*domain.AnalysisResult
}
