package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"sort"
	"strings"
	"time"

	"insight_server/core/domain"
	"insight_server/core/port/out"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// gmailMetadataHeaders are the headers needed to build a listing row.
var gmailMetadataHeaders = []string{
	"From", "Subject", "Date", "Importance", "X-Priority",
}

const (
	gmailMaxPageSize       = 500
	gmailMaxConcurrency    = 10
	gmailPerMessageTimeout = 15 * time.Second
	gmailWebLinkPrefix     = "https://mail.google.com/mail/u/0/#all/"
)

// GmailConfig holds Gmail configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides the Gmail API base URL.
	Endpoint string
}

// GmailAdapter implements out.MailProvider for the Gmail API.
type GmailAdapter struct {
	config   *oauth2.Config
	endpoint string
	cb       *gobreaker.CircuitBreaker
	log      zerolog.Logger
}

var _ out.MailProvider = (*GmailAdapter)(nil)

// NewGmailAdapter creates a new Gmail adapter.
func NewGmailAdapter(cfg *GmailConfig, log zerolog.Logger) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
		},
		Endpoint: google.Endpoint,
	}

	log = log.With().Str("component", "gmail").Logger()

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// more than 5 consecutive failures, or >=60% of at least 10 requests
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &GmailAdapter{
		config:   config,
		endpoint: cfg.Endpoint,
		cb:       gobreaker.NewCircuitBreaker(cbSettings),
		log:      log,
	}
}

// GetProviderType returns the provider type.
func (a *GmailAdapter) GetProviderType() string {
	return string(domain.MailProviderGmail)
}

// =============================================================================
// Messages
// =============================================================================

// ListMessages lists one page. Gmail has no offset, so Skip is honoured by
// walking page tokens; the total is Gmail's result size estimate.
func (a *GmailAdapter) ListMessages(ctx context.Context, token *oauth2.Token, q *out.ProviderQuery) (*out.MessagePage, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail service")
	}

	labels, search, includeSpamTrash := gmailFolderQuery(q.Folder)
	if q.Term != "" {
		search = strings.TrimSpace(search + " " + q.Term)
	}

	newCall := func(max int64, pageToken string) *gmail.UsersMessagesListCall {
		call := svc.Users.Messages.List("me").MaxResults(max).IncludeSpamTrash(includeSpamTrash).Context(ctx)
		if len(labels) > 0 {
			call = call.LabelIds(labels...)
		}
		if search != "" {
			call = call.Q(search)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		return call
	}

	pageToken := ""
	var total int64
	for skipped := 0; skipped < q.Skip; {
		n := q.Skip - skipped
		if n > gmailMaxPageSize {
			n = gmailMaxPageSize
		}

		var resp *gmail.ListMessagesResponse
		err := a.executeWithCircuitBreaker(ctx, "ListMessages.skip", func() error {
			var callErr error
			resp, callErr = newCall(int64(n), pageToken).Fields("messages/id", "nextPageToken", "resultSizeEstimate").Do()
			return callErr
		})
		if err != nil {
			return nil, a.wrapError(err, "failed to list messages")
		}

		total = resp.ResultSizeEstimate
		skipped += len(resp.Messages)
		pageToken = resp.NextPageToken
		if pageToken == "" || len(resp.Messages) == 0 {
			// Requested page lies past the end.
			return &out.MessagePage{Messages: []*domain.EmailMessage{}, TotalCount: int64(skipped)}, nil
		}
	}

	var resp *gmail.ListMessagesResponse
	err = a.executeWithCircuitBreaker(ctx, "ListMessages", func() error {
		var callErr error
		resp, callErr = newCall(int64(q.Top), pageToken).Do()
		return callErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to list messages")
	}

	if resp.ResultSizeEstimate > total {
		total = resp.ResultSizeEstimate
	}
	if seen := int64(q.Skip + len(resp.Messages)); total < seen {
		total = seen
	}

	return &out.MessagePage{
		Messages:   a.fetchMessagesParallel(ctx, svc, resp.Messages),
		TotalCount: total,
	}, nil
}

// GetMessage retrieves a message with its body as plain text.
func (a *GmailAdapter) GetMessage(ctx context.Context, token *oauth2.Token, id string) (*domain.EmailMessage, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail service")
	}

	var msg *gmail.Message
	err = a.executeWithCircuitBreaker(ctx, "GetMessage", func() error {
		var callErr error
		msg, callErr = svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to get message")
	}

	result := a.convertMessage(msg)
	var text, htmlBody string
	extractBody(msg.Payload, &text, &htmlBody)
	switch {
	case strings.TrimSpace(text) != "":
		result.Body = strings.TrimSpace(text)
	case htmlBody != "":
		result.Body = bodyText(graphBody{ContentType: "html", Content: htmlBody})
	}

	return result, nil
}

// ListConversation returns the last limit messages of a thread, oldest first.
func (a *GmailAdapter) ListConversation(ctx context.Context, token *oauth2.Token, conversationID string, limit int) ([]*domain.EmailMessage, error) {
	if conversationID == "" {
		return nil, nil
	}
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail service")
	}

	var thread *gmail.Thread
	err = a.executeWithCircuitBreaker(ctx, "GetThread", func() error {
		var callErr error
		thread, callErr = svc.Users.Threads.Get("me", conversationID).
			Format("metadata").
			MetadataHeaders(gmailMetadataHeaders...).
			Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to get thread")
	}

	messages := make([]*domain.EmailMessage, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		messages = append(messages, a.convertMessage(m))
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return messages, nil
}

// =============================================================================
// Circuit Breaker
// =============================================================================

// IsCircuitOpen returns true if Gmail calls currently fail fast.
func (a *GmailAdapter) IsCircuitOpen() bool {
	return a.cb.State() == gobreaker.StateOpen
}

// CircuitState returns the current state of the circuit breaker.
func (a *GmailAdapter) CircuitState() string {
	return a.cb.State().String()
}

func (a *GmailAdapter) executeWithCircuitBreaker(ctx context.Context, operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 400, 401, 403, 404:
					// Client errors must not open the circuit.
					return nil, &nonCircuitError{err: err}
				}
			}
			if errors.Is(err, context.Canceled) {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}

	if err != nil {
		a.log.Debug().Err(err).Str("operation", operation).Str("state", a.cb.State().String()).Msg("gmail call failed")
	}

	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// =============================================================================
// Helpers
// =============================================================================

func (a *GmailAdapter) getService(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(a.config.TokenSource(ctx, token)),
	}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	return gmail.NewService(ctx, opts...)
}

// fetchMessagesParallel fetches metadata for each ref, bounded by
// gmailMaxConcurrency. Failed fetches are dropped; order is preserved.
func (a *GmailAdapter) fetchMessagesParallel(ctx context.Context, svc *gmail.Service, refs []*gmail.Message) []*domain.EmailMessage {
	if len(refs) == 0 {
		return []*domain.EmailMessage{}
	}

	type result struct {
		index int
		msg   *domain.EmailMessage
	}

	results := make(chan result, len(refs))
	sem := make(chan struct{}, gmailMaxConcurrency)

	for i, ref := range refs {
		go func(idx int, id string) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- result{index: idx}
				return
			}

			msgCtx, cancel := context.WithTimeout(ctx, gmailPerMessageTimeout)
			defer cancel()

			var meta *gmail.Message
			err := a.executeWithCircuitBreaker(msgCtx, "GetMessage.metadata", func() error {
				var callErr error
				meta, callErr = svc.Users.Messages.Get("me", id).
					Format("metadata").
					MetadataHeaders(gmailMetadataHeaders...).
					Context(msgCtx).Do()
				return callErr
			})
			if err != nil {
				a.log.Warn().Err(err).Str("message_id", id).Msg("failed to fetch message metadata")
				results <- result{index: idx}
				return
			}
			results <- result{index: idx, msg: a.convertMessage(meta)}
		}(i, ref.Id)
	}

	messages := make([]*domain.EmailMessage, len(refs))
	for range refs {
		r := <-results
		messages[r.index] = r.msg
	}

	filtered := make([]*domain.EmailMessage, 0, len(messages))
	for _, m := range messages {
		if m != nil {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

func (a *GmailAdapter) convertMessage(msg *gmail.Message) *domain.EmailMessage {
	result := &domain.EmailMessage{
		ID:             msg.Id,
		ConversationID: msg.ThreadId,
		Preview:        html.UnescapeString(msg.Snippet),
		IsRead:         !lo.Contains(msg.LabelIds, "UNREAD"),
		Importance:     domain.ImportanceNormal,
		WebLink:        gmailWebLinkPrefix + msg.Id,
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				result.Subject = h.Value
			case "From":
				result.Sender = parseEmailAddress(h.Value)
			case "Date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					result.ReceivedAt = t.UTC()
				}
			case "Importance":
				result.Importance = domain.ParseImportance(strings.ToLower(strings.TrimSpace(h.Value)))
			case "X-Priority":
				if result.Importance == domain.ImportanceNormal {
					result.Importance = importanceFromPriority(h.Value)
				}
			}
		}
		result.HasAttachments = hasAttachment(msg.Payload)
	}

	if result.ReceivedAt.IsZero() && msg.InternalDate > 0 {
		result.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}

	return result
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400:
			return out.NewProviderError("gmail", out.ProviderErrInvalidInput, apiErr.Code, "Bad request", err)
		case 401:
			return out.NewProviderError("gmail", out.ProviderErrTokenExpired, apiErr.Code, "Token expired", err)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return out.NewProviderError("gmail", out.ProviderErrRateLimit, apiErr.Code, "Rate limit exceeded", err)
			}
			return out.NewProviderError("gmail", out.ProviderErrAuth, apiErr.Code, "Access denied", err)
		case 404:
			return out.NewProviderError("gmail", out.ProviderErrNotFound, apiErr.Code, "Not found", err)
		case 429:
			return out.NewProviderError("gmail", out.ProviderErrRateLimit, apiErr.Code, "Too many requests", err)
		}
		return out.NewProviderError("gmail", out.ProviderErrServer, apiErr.Code, fmt.Sprintf("%s: HTTP %d", defaultMsg, apiErr.Code), err)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return out.NewProviderError("gmail", out.ProviderErrTokenExpired, 401, "Token refresh failed", err)
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out.NewProviderError("gmail", out.ProviderErrServer, 503, "Gmail temporarily unavailable", err)
	}

	return out.NewProviderError("gmail", out.ProviderErrNetwork, 0, defaultMsg, err)
}

// gmailFolderQuery maps a folder to label ids and an extra search clause.
func gmailFolderQuery(folder string) (labels []string, search string, includeSpamTrash bool) {
	switch folder {
	case domain.FolderSent:
		return []string{"SENT"}, "", false
	case domain.FolderDrafts:
		return []string{"DRAFT"}, "", false
	case domain.FolderDeleted:
		return []string{"TRASH"}, "", true
	case domain.FolderJunk:
		return []string{"SPAM"}, "", true
	case domain.FolderArchive:
		return nil, "-in:inbox -in:sent -in:drafts", false
	default:
		return []string{"INBOX"}, "", false
	}
}

func extractBody(part *gmail.MessagePart, text, htmlBody *string) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				if *text == "" {
					*text = string(data)
				}
			case "text/html":
				if *htmlBody == "" {
					*htmlBody = string(data)
				}
			}
		}
	}

	for _, p := range part.Parts {
		extractBody(p, text, htmlBody)
	}
}

func hasAttachment(part *gmail.MessagePart) bool {
	if part == nil {
		return false
	}
	if part.Filename != "" {
		return true
	}
	for _, p := range part.Parts {
		if hasAttachment(p) {
			return true
		}
	}
	return false
}

func parseEmailAddress(s string) domain.EmailAddress {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return domain.EmailAddress{Address: s}
	}
	return domain.EmailAddress{
		Name:    addr.Name,
		Address: addr.Address,
	}
}

// importanceFromPriority maps X-Priority (1 highest, 5 lowest), e.g. "2 (High)".
func importanceFromPriority(v string) domain.Importance {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return domain.ImportanceNormal
	}
	switch fields[0] {
	case "1", "2":
		return domain.ImportanceHigh
	case "4", "5":
		return domain.ImportanceLow
	default:
		return domain.ImportanceNormal
	}
}
