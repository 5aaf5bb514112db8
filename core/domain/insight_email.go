package domain

import "time"

type Provider string

const (
	MailProviderGmail   Provider = "gmail"
	MailProviderOutlook Provider = "outlook"
)

// Importance is the sender-assigned importance flag carried by the provider.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// ParseImportance maps a provider value to an Importance, defaulting to normal.
func ParseImportance(s string) Importance {
	switch Importance(s) {
	case ImportanceLow, ImportanceHigh:
		return Importance(s)
	default:
		return ImportanceNormal
	}
}

// EmailAddress is a display name plus address pair.
type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// String renders the address the way it is shown in prompts.
func (a EmailAddress) String() string {
	if a.Name == "" {
		return a.Address
	}
	if a.Address == "" {
		return a.Name
	}
	return a.Name + " <" + a.Address + ">"
}

// EmailMessage is one message as fetched from the mail provider.
// Analysis is attached after the pipeline runs.
type EmailMessage struct {
	ID             string          `json:"id"`
	Subject        string          `json:"subject"`
	Sender         EmailAddress    `json:"sender"`
	ReceivedAt     time.Time       `json:"receivedAt"`
	Preview        string          `json:"preview"`
	Body           string          `json:"body,omitempty"`
	IsRead         bool            `json:"isRead"`
	HasAttachments bool            `json:"hasAttachments"`
	Importance     Importance      `json:"importance"`
	ConversationID string          `json:"conversationId,omitempty"`
	WebLink        string          `json:"webLink,omitempty"`
	Analysis       *AnalysisResult `json:"analysis,omitempty"`
}

// Content returns the body when it was fetched, otherwise the preview.
func (m *EmailMessage) Content() string {
	if m.Body != "" {
		return m.Body
	}
	return m.Preview
}
