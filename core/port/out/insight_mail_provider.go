// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"insight_server/core/domain"

	"golang.org/x/oauth2"
)

// =============================================================================
// Mail Provider Port (Outlook, Gmail)
// =============================================================================

// MailProvider is the outbound port for the external mail store.
type MailProvider interface {
	GetProviderType() string

	// ListMessages returns one page plus the provider's total count.
	ListMessages(ctx context.Context, token *oauth2.Token, q *ProviderQuery) (*MessagePage, error)

	// GetMessage returns a message with its body.
	GetMessage(ctx context.Context, token *oauth2.Token, id string) (*domain.EmailMessage, error)

	// ListConversation returns the messages of one conversation, oldest first.
	ListConversation(ctx context.Context, token *oauth2.Token, conversationID string, limit int) ([]*domain.EmailMessage, error)
}

// MessageFields are the message properties requested on listing.
var MessageFields = []string{
	"id", "subject", "from", "receivedDateTime", "bodyPreview",
	"isRead", "hasAttachments", "importance", "conversationId", "webLink",
}

// ProviderQuery is the provider-neutral listing query produced by the query builder.
// Only one of Filter or Search is set for a search term.
type ProviderQuery struct {
	Folder  string
	Top     int
	Skip    int
	OrderBy string
	Select  []string
	Filter  string
	Search  string

	// Term is the raw search term, for providers that build their own syntax.
	Term string
}

// MessagePage is one page of messages plus the total matching count.
type MessagePage struct {
	Messages   []*domain.EmailMessage
	TotalCount int64
}

// =============================================================================
// Provider Error
// =============================================================================

// ProviderErrorCode represents error codes.
type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrTokenExpired ProviderErrorCode = "token_expired"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrNetwork      ProviderErrorCode = "network_error"
	ProviderErrServer       ProviderErrorCode = "server_error"
	ProviderErrInvalidInput ProviderErrorCode = "invalid_input"
)

// ProviderError represents a provider error.
type ProviderError struct {
	Provider   string
	Code       ProviderErrorCode
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RequiresReauth reports whether the user must sign in again.
func (e *ProviderError) RequiresReauth() bool {
	return e.Code == ProviderErrTokenExpired
}

// NewProviderError creates a new provider error.
func NewProviderError(provider string, code ProviderErrorCode, status int, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		StatusCode: status,
		Message:    message,
		Err:        err,
	}
}
