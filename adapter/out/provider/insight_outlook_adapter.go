// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jaytaylor/html2text"

	"insight_server/core/domain"
	"insight_server/core/port/out"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// OutlookConfig holds Outlook/Microsoft configuration.
type OutlookConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TenantID     string // "common" for multi-tenant

	// BaseURL overrides the Graph endpoint.
	BaseURL string

	// HTTPClient is the transport under the oauth2 client. Optional.
	HTTPClient *http.Client
}

// =============================================================================
// Outlook Adapter
// =============================================================================

// OutlookAdapter implements out.MailProvider for Microsoft Graph.
type OutlookAdapter struct {
	config     *oauth2.Config
	baseURL    string
	httpClient *http.Client
}

var _ out.MailProvider = (*OutlookAdapter)(nil)

// NewOutlookAdapter creates a new Outlook adapter.
func NewOutlookAdapter(cfg *OutlookConfig) *OutlookAdapter {
	tenantID := cfg.TenantID
	if tenantID == "" {
		tenantID = "common"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = graphBaseURL
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			"https://graph.microsoft.com/Mail.Read",
			"https://graph.microsoft.com/User.Read",
			"offline_access",
		},
		Endpoint: microsoft.AzureADEndpoint(tenantID),
	}

	return &OutlookAdapter{
		config:     config,
		baseURL:    baseURL,
		httpClient: cfg.HTTPClient,
	}
}

// client returns an authorised Graph client over the configured transport.
func (a *OutlookAdapter) client(ctx context.Context, token *oauth2.Token) *http.Client {
	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}
	return a.config.Client(ctx, token)
}

// GetProviderType returns the provider type.
func (a *OutlookAdapter) GetProviderType() string {
	return string(domain.MailProviderOutlook)
}

// =============================================================================
// Messages
// =============================================================================

// ListMessages lists one page of a folder with the total match count.
func (a *OutlookAdapter) ListMessages(ctx context.Context, token *oauth2.Token, q *out.ProviderQuery) (*out.MessagePage, error) {
	client := a.client(ctx, token)

	params := url.Values{}
	params.Set("$top", strconv.Itoa(q.Top))
	if q.Skip > 0 {
		params.Set("$skip", strconv.Itoa(q.Skip))
	}
	if q.OrderBy != "" {
		params.Set("$orderby", q.OrderBy)
	}
	if len(q.Select) > 0 {
		params.Set("$select", strings.Join(q.Select, ","))
	}
	if q.Filter != "" {
		params.Set("$filter", q.Filter)
	}
	if q.Search != "" {
		params.Set("$search", q.Search)
	}
	params.Set("$count", "true")

	var resp struct {
		Value []graphMessage `json:"value"`
		Count int64          `json:"@odata.count"`
	}

	endpoint := a.baseURL + "/me/mailFolders/" + graphFolder(q.Folder) + "/messages?" + params.Encode()
	if err := a.doGet(ctx, client, endpoint, &resp); err != nil {
		return nil, err
	}

	messages := make([]*domain.EmailMessage, len(resp.Value))
	for i := range resp.Value {
		messages[i] = a.convertMessage(&resp.Value[i])
	}

	return &out.MessagePage{
		Messages:   messages,
		TotalCount: resp.Count,
	}, nil
}

// GetMessage retrieves a message with its body as plain text.
func (a *OutlookAdapter) GetMessage(ctx context.Context, token *oauth2.Token, id string) (*domain.EmailMessage, error) {
	client := a.client(ctx, token)

	params := url.Values{}
	params.Set("$select", strings.Join(out.MessageFields, ",")+",body")

	var msg graphMessage
	if err := a.doGet(ctx, client, a.baseURL+"/me/messages/"+url.PathEscape(id)+"?"+params.Encode(), &msg); err != nil {
		return nil, err
	}

	result := a.convertMessage(&msg)
	result.Body = bodyText(msg.Body)
	return result, nil
}

// ListConversation returns up to limit messages of a conversation, oldest first.
func (a *OutlookAdapter) ListConversation(ctx context.Context, token *oauth2.Token, conversationID string, limit int) ([]*domain.EmailMessage, error) {
	if conversationID == "" {
		return nil, nil
	}
	client := a.client(ctx, token)

	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("conversationId eq '%s'", strings.ReplaceAll(conversationID, "'", "''")))
	params.Set("$select", strings.Join(out.MessageFields, ","))
	if limit > 0 {
		params.Set("$top", strconv.Itoa(limit))
	}

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	if err := a.doGet(ctx, client, a.baseURL+"/me/messages?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	messages := make([]*domain.EmailMessage, len(resp.Value))
	for i := range resp.Value {
		messages[i] = a.convertMessage(&resp.Value[i])
	}
	// Graph rejects $orderby together with a conversationId filter.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
	})

	return messages, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (a *OutlookAdapter) doGet(ctx context.Context, client *http.Client, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return a.wrapError(err, "failed to build request")
	}
	// Required by Graph for $count and $search on messages.
	req.Header.Set("ConsistencyLevel", "eventual")

	resp, err := client.Do(req)
	if err != nil {
		return a.wrapNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return a.wrapHTTPError(resp.StatusCode, string(body))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return a.wrapError(err, "failed to decode response")
		}
	}

	return nil
}

func (a *OutlookAdapter) convertMessage(msg *graphMessage) *domain.EmailMessage {
	result := &domain.EmailMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Subject:        msg.Subject,
		Preview:        msg.BodyPreview,
		IsRead:         msg.IsRead,
		HasAttachments: msg.HasAttachments,
		Importance:     domain.ParseImportance(strings.ToLower(msg.Importance)),
		WebLink:        msg.WebLink,
		Sender: domain.EmailAddress{
			Name:    msg.From.EmailAddress.Name,
			Address: msg.From.EmailAddress.Address,
		},
	}

	if msg.ReceivedDateTime != "" {
		result.ReceivedAt, _ = time.Parse(time.RFC3339, msg.ReceivedDateTime)
	}

	return result
}

func (a *OutlookAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	return out.NewProviderError("outlook", out.ProviderErrServer, 0, defaultMsg, err)
}

func (a *OutlookAdapter) wrapNetworkError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return out.NewProviderError("outlook", out.ProviderErrNetwork, 0, "request cancelled", err)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return out.NewProviderError("outlook", out.ProviderErrTokenExpired, http.StatusUnauthorized, "Token refresh failed", err)
	}

	return out.NewProviderError("outlook", out.ProviderErrNetwork, 0, "request failed", err)
}

func (a *OutlookAdapter) wrapHTTPError(statusCode int, body string) error {
	switch statusCode {
	case 400:
		return out.NewProviderError("outlook", out.ProviderErrInvalidInput, statusCode, graphErrorMessage(body, "Bad request"), nil)
	case 401:
		return out.NewProviderError("outlook", out.ProviderErrTokenExpired, statusCode, "Token expired", nil)
	case 403:
		return out.NewProviderError("outlook", out.ProviderErrAuth, statusCode, "Access denied", nil)
	case 404:
		return out.NewProviderError("outlook", out.ProviderErrNotFound, statusCode, "Not found", nil)
	case 429:
		return out.NewProviderError("outlook", out.ProviderErrRateLimit, statusCode, "Too many requests", nil)
	default:
		return out.NewProviderError("outlook", out.ProviderErrServer, statusCode, fmt.Sprintf("HTTP %d: %s", statusCode, graphErrorMessage(body, "")), nil)
	}
}

// graphErrorMessage pulls error.message out of a Graph error body.
func graphErrorMessage(body, fallback string) string {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	if fallback != "" {
		return fallback
	}
	return body
}

// graphFolder maps a normalised folder name to its Graph well-known name.
func graphFolder(folder string) string {
	switch folder {
	case domain.FolderSent:
		return "sentitems"
	case domain.FolderDrafts:
		return "drafts"
	case domain.FolderDeleted:
		return "deleteditems"
	case domain.FolderJunk:
		return "junkemail"
	case domain.FolderArchive:
		return "archive"
	default:
		return "inbox"
	}
}

// bodyText returns the body as plain text, converting HTML.
func bodyText(b graphBody) string {
	if !strings.EqualFold(b.ContentType, "html") {
		return strings.TrimSpace(b.Content)
	}
	text, err := html2text.FromString(b.Content, html2text.Options{OmitLinks: true})
	if err != nil {
		return strings.TrimSpace(b.Content)
	}
	return text
}

// Graph API types

type graphMessage struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversationId"`
	Subject          string         `json:"subject"`
	BodyPreview      string         `json:"bodyPreview"`
	Body             graphBody      `json:"body"`
	From             graphRecipient `json:"from"`
	IsRead           bool           `json:"isRead"`
	HasAttachments   bool           `json:"hasAttachments"`
	Importance       string         `json:"importance"`
	WebLink          string         `json:"webLink"`
	ReceivedDateTime string         `json:"receivedDateTime"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}
