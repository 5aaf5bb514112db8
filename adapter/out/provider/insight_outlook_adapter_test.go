package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"insight_server/core/domain"
	"insight_server/core/port/out"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testToken = &oauth2.Token{AccessToken: "access-token", TokenType: "Bearer"}

func newOutlookTestAdapter(t *testing.T, handler http.HandlerFunc) *OutlookAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOutlookAdapter(&OutlookConfig{ClientID: "client", BaseURL: srv.URL})
}

func TestOutlookListMessages(t *testing.T) {
	adapter := newOutlookTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/mailFolders/sentitems/messages", r.URL.Path)
		assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		assert.Equal(t, "eventual", r.Header.Get("ConsistencyLevel"))

		q := r.URL.Query()
		assert.Equal(t, "50", q.Get("$top"))
		assert.Equal(t, "50", q.Get("$skip"))
		assert.Equal(t, "receivedDateTime desc", q.Get("$orderby"))
		assert.Equal(t, "id,subject", q.Get("$select"))
		assert.Equal(t, "contains(subject,'O''Brien')", q.Get("$filter"))
		assert.Equal(t, "true", q.Get("$count"))
		assert.Empty(t, q.Get("$search"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"@odata.count": 95,
			"value": [{
				"id": "m1",
				"conversationId": "c1",
				"subject": "Budget",
				"bodyPreview": "Numbers attached",
				"from": {"emailAddress": {"name": "Ann", "address": "ann@example.com"}},
				"isRead": true,
				"hasAttachments": true,
				"importance": "high",
				"webLink": "https://outlook/m1",
				"receivedDateTime": "2024-03-01T10:00:00Z"
			}]
		}`))
	})

	page, err := adapter.ListMessages(context.Background(), testToken, &out.ProviderQuery{
		Folder:  domain.FolderSent,
		Top:     50,
		Skip:    50,
		OrderBy: "receivedDateTime desc",
		Select:  []string{"id", "subject"},
		Filter:  "contains(subject,'O''Brien')",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(95), page.TotalCount)
	require.Len(t, page.Messages, 1)

	m := page.Messages[0]
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "c1", m.ConversationID)
	assert.Equal(t, "Ann", m.Sender.Name)
	assert.Equal(t, "ann@example.com", m.Sender.Address)
	assert.Equal(t, domain.ImportanceHigh, m.Importance)
	assert.True(t, m.IsRead)
	assert.True(t, m.HasAttachments)
	assert.True(t, m.ReceivedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestOutlookListMessagesNativeSearch(t *testing.T) {
	adapter := newOutlookTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/mailFolders/inbox/messages", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, `"invoice"`, q.Get("$search"))
		assert.Empty(t, q.Get("$orderby"))
		assert.Empty(t, q.Get("$skip"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value": []}`))
	})

	page, err := adapter.ListMessages(context.Background(), testToken, &out.ProviderQuery{
		Top:    20,
		Search: `"invoice"`,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Zero(t, page.TotalCount)
}

func TestOutlookErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   out.ProviderErrorCode
		reauth bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, code: out.ProviderErrTokenExpired, reauth: true},
		{name: "forbidden", status: http.StatusForbidden, code: out.ProviderErrAuth},
		{name: "not found", status: http.StatusNotFound, code: out.ProviderErrNotFound},
		{name: "throttled", status: http.StatusTooManyRequests, code: out.ProviderErrRateLimit},
		{name: "bad request", status: http.StatusBadRequest, code: out.ProviderErrInvalidInput},
		{name: "server", status: http.StatusBadGateway, code: out.ProviderErrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newOutlookTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"code":"x","message":"graph said no"}}`))
			})

			_, err := adapter.ListMessages(context.Background(), testToken, &out.ProviderQuery{Top: 10})
			require.Error(t, err)

			var perr *out.ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.code, perr.Code)
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.Equal(t, tt.reauth, perr.RequiresReauth())
		})
	}
}

func TestOutlookNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	adapter := NewOutlookAdapter(&OutlookConfig{BaseURL: srv.URL})
	srv.Close()

	_, err := adapter.GetMessage(context.Background(), testToken, "m1")
	var perr *out.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, out.ProviderErrNetwork, perr.Code)
	assert.False(t, perr.RequiresReauth())
}

func TestOutlookGetMessageConvertsHTML(t *testing.T) {
	adapter := newOutlookTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/messages/m 1", r.URL.Path)
		assert.Equal(t, strings.Join(out.MessageFields, ",")+",body", r.URL.Query().Get("$select"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "m 1",
			"subject": "Hello",
			"body": {"contentType": "html", "content": "<html><body><p>Hi <b>team</b></p><a href=\"https://x\">link</a></body></html>"}
		}`))
	})

	msg, err := adapter.GetMessage(context.Background(), testToken, "m 1")
	require.NoError(t, err)
	assert.NotContains(t, out.MessageFields, "body")
	assert.Equal(t, "Hello", msg.Subject)
	assert.Contains(t, msg.Body, "Hi")
	assert.Contains(t, msg.Body, "team")
	assert.NotContains(t, msg.Body, "<p>")
	assert.NotContains(t, msg.Body, "https://x")
}

func TestOutlookListConversationOldestFirst(t *testing.T) {
	adapter := newOutlookTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/messages", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "conversationId eq 'c''1'", q.Get("$filter"))
		assert.Equal(t, "11", q.Get("$top"))
		assert.Equal(t, strings.Join(out.MessageFields, ","), q.Get("$select"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value": [
			{"id": "m3", "receivedDateTime": "2024-03-03T00:00:00Z"},
			{"id": "m1", "receivedDateTime": "2024-03-01T00:00:00Z"},
			{"id": "m2", "receivedDateTime": "2024-03-02T00:00:00Z"}
		]}`))
	})

	msgs, err := adapter.ListConversation(context.Background(), testToken, "c'1", 11)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "m3", msgs[2].ID)
}

func TestOutlookListConversationEmptyID(t *testing.T) {
	adapter := newOutlookTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	msgs, err := adapter.ListConversation(context.Background(), testToken, "", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestGraphFolder(t *testing.T) {
	tests := map[string]string{
		domain.FolderInbox:   "inbox",
		domain.FolderSent:    "sentitems",
		domain.FolderDrafts:  "drafts",
		domain.FolderDeleted: "deleteditems",
		domain.FolderJunk:    "junkemail",
		domain.FolderArchive: "archive",
		"":                   "inbox",
	}
	for in, want := range tests {
		if got := graphFolder(in); got != want {
			t.Errorf("graphFolder(%q): expected %q, got %q", in, want, got)
		}
	}
}
