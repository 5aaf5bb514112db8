package domain

import (
	"strings"
	"time"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment normalises a model-provided label; unknown labels map to neutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// IsValid checks if the urgency level is one of the known values.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// ParseUrgency normalises a model-provided label; unknown labels map to medium.
func ParseUrgency(s string) Urgency {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	if u.IsValid() {
		return u
	}
	return UrgencyMedium
}

// UrgencyFromImportance maps provider importance to urgency for fallbacks.
// Only high is promoted; low and normal both become medium.
func UrgencyFromImportance(imp Importance) Urgency {
	if imp == ImportanceHigh {
		return UrgencyHigh
	}
	return UrgencyMedium
}

// Categories is the bounded label set the dashboard understands.
var Categories = []string{
	"Work", "Personal", "Finance", "Marketing", "Notification", "Support", "Project", "General",
}

const DefaultCategory = "General"

// ParseCategory matches a label case-insensitively against Categories.
func ParseCategory(s string) string {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(c, s) {
			return c
		}
	}
	return DefaultCategory
}

// Conversation stages reported by contextual analysis.
const (
	StageInitial  = "initial"
	StageOngoing  = "ongoing"
	StageClosing  = "closing"
	StageFollowUp = "follow_up"
)

// ConversationContext describes where a message sits in its thread.
type ConversationContext struct {
	IsResponse          bool      `json:"isResponse"`
	ResponseToWhom      string    `json:"responseToWhom,omitempty"`
	ConversationStage   string    `json:"conversationStage"`
	RelationshipContext string    `json:"relationshipContext,omitempty"`
	HistoricalSentiment Sentiment `json:"historicalSentiment,omitempty"`
	EscalationLevel     string    `json:"escalationLevel,omitempty"`
}

// AnalysisResult is the normalised per-message analysis served to the UI.
type AnalysisResult struct {
	Sentiment           Sentiment            `json:"sentiment"`
	Urgency             Urgency              `json:"urgency"`
	Category            string               `json:"category"`
	Keywords            []string             `json:"keywords"`
	Summary             string               `json:"summary"`
	ActionRequired      bool                 `json:"actionRequired"`
	SuggestedActions    []string             `json:"suggestedActions"`
	Confidence          float64              `json:"confidence"`
	AnalyzedAt          time.Time            `json:"analyzedAt"`
	Model               string               `json:"model"`
	Error               string               `json:"error,omitempty"`
	ConversationContext *ConversationContext `json:"conversationContext,omitempty"`
	AnalysisType        string               `json:"analysisType,omitempty"`
	ContextSize         int                  `json:"contextSize,omitempty"`
}

// Degraded reports whether the result came from a fallback tier.
func (r *AnalysisResult) Degraded() bool {
	return r.Error != "" || r.Confidence <= 0.5
}

// ThreadAnalysis is the conversation-level analysis.
type ThreadAnalysis struct {
	Summary          string    `json:"summary"`
	Priority         Urgency   `json:"priority"`
	Category         string    `json:"category"`
	ActionRequired   bool      `json:"action_required"`
	Sentiment        Sentiment `json:"sentiment"`
	Confidence       float64   `json:"confidence"`
	ThreadSummary    string    `json:"thread_summary"`
	KeyParticipants  []string  `json:"key_participants"`
	TimelineAnalysis string    `json:"timeline_analysis"`
	BusinessImpact   string    `json:"business_impact"`
	NextSteps        []string  `json:"next_steps"`
	AnalyzedAt       time.Time `json:"analyzed_at"`
	Model            string    `json:"model"`
	Error            string    `json:"error,omitempty"`
}
