package domain

import "time"

// Conversation is a view over the messages of one page that share a thread.
// It is rebuilt on every grouping call and never persisted.
type Conversation struct {
	ConversationID string          `json:"conversationId"`
	Subject        string          `json:"subject"`
	Emails         []*EmailMessage `json:"emails"`
	LatestDate     time.Time       `json:"latestDate"`
	TotalEmails    int             `json:"totalEmails"`
	UnreadCount    int             `json:"unreadCount"`
	HasAIAnalysis  bool            `json:"hasAiAnalysis"`
	ThreadAnalysis *ThreadAnalysis `json:"threadAnalysis,omitempty"`
}
