package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"insight_server/core/domain"
	"insight_server/core/port/in"
)

const (
	maxBodyRunes    = 1500
	maxPreviewRunes = 200
	maxSummaryRunes = 100
)

// truncateRunes cuts s to max runes and appends "..." when it had to cut.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

var categoryList = strings.Join(domain.Categories, "|")

var analysisSystemPrompt = `You are an email analysis assistant for a business inbox. Analyze the email and respond with JSON only.

Respond with this exact JSON format:
{
  "sentiment": "positive|neutral|negative",
  "urgency": "low|medium|high|critical",
  "category": "` + categoryList + `",
  "keywords": ["up to 5 keywords"],
  "summary": "one sentence summary",
  "actionRequired": true|false,
  "suggestedActions": ["short imperative actions"],
  "confidence": 0.0-1.0
}`

var contextSystemPrompt = `You are an email analysis assistant that reads a message in the context of its conversation. Use the earlier messages to judge whether the current message is a response, how the conversation is progressing and whether tone is escalating. Respond with JSON only.

Respond with this exact JSON format:
{
  "sentiment": "positive|neutral|negative",
  "urgency": "low|medium|high|critical",
  "category": "` + categoryList + `",
  "keywords": ["up to 5 keywords"],
  "summary": "one sentence summary of the current message in context",
  "actionRequired": true|false,
  "suggestedActions": ["short imperative actions"],
  "confidence": 0.0-1.0,
  "conversationContext": {
    "isResponse": true|false,
    "responseToWhom": "name or address the message answers",
    "conversationStage": "initial|ongoing|closing|follow_up",
    "relationshipContext": "short description of the relationship",
    "historicalSentiment": "positive|neutral|negative",
    "escalationLevel": "none|low|medium|high"
  }
}`

var threadSystemPrompt = `You are an email thread analyst. Read the whole conversation in chronological order and respond with JSON only.

Respond with this exact JSON format:
{
  "summary": "one sentence summary",
  "priority": "low|medium|high|critical",
  "category": "` + categoryList + `",
  "action_required": true|false,
  "sentiment": "positive|neutral|negative",
  "confidence": 0.0-1.0,
  "thread_summary": "2-3 sentences covering how the thread developed",
  "key_participants": ["names or addresses"],
  "timeline_analysis": "how the conversation progressed over time",
  "business_impact": "expected impact on the business",
  "next_steps": ["short imperative next steps"]
}`

func buildAnalysisPrompt(input in.AnalyzeInput) string {
	return fmt.Sprintf("From: %s\nSubject: %s\nImportance: %s\n\nBody:\n%s",
		input.Sender.String(),
		input.Subject,
		importanceLabel(input.Importance),
		truncateRunes(input.Body, maxBodyRunes),
	)
}

func buildContextPrompt(current *domain.EmailMessage, history []*domain.EmailMessage) string {
	var sb strings.Builder

	timeline := chronological(history)
	if len(timeline) == 0 {
		sb.WriteString("Conversation history: none, this is the first message.\n\n")
	} else {
		sb.WriteString(fmt.Sprintf("Conversation history (%d earlier messages, oldest first):\n", len(timeline)))
		for i, m := range timeline {
			sb.WriteString(fmt.Sprintf("%d. [%s] %s | %s\n   %s\n",
				i+1,
				formatDate(m.ReceivedAt),
				m.Sender.String(),
				m.Subject,
				truncateRunes(m.Content(), maxPreviewRunes),
			))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Current message:\n")
	sb.WriteString(fmt.Sprintf("Date: %s\nFrom: %s\nSubject: %s\nImportance: %s\n\nBody:\n%s",
		formatDate(current.ReceivedAt),
		current.Sender.String(),
		current.Subject,
		importanceLabel(current.Importance),
		truncateRunes(current.Content(), maxBodyRunes),
	))
	return sb.String()
}

func buildThreadPrompt(conv *domain.Conversation) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Subject: %s\nMessages: %d (unread %d)\n\n", conv.Subject, conv.TotalEmails, conv.UnreadCount))

	for i, m := range chronological(conv.Emails) {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s | %s\n   %s\n",
			i+1,
			formatDate(m.ReceivedAt),
			m.Sender.String(),
			m.Subject,
			truncateRunes(m.Content(), maxPreviewRunes),
		))
	}
	return sb.String()
}

// chronological returns a copy of msgs ordered oldest first.
func chronological(msgs []*domain.EmailMessage) []*domain.EmailMessage {
	sorted := make([]*domain.EmailMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReceivedAt.Before(sorted[j].ReceivedAt)
	})
	return sorted
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown date"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func importanceLabel(imp domain.Importance) string {
	if imp == "" {
		return string(domain.ImportanceNormal)
	}
	return string(imp)
}
