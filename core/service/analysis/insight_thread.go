package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"insight_server/core/domain"

	"github.com/samber/lo"
)

var (
	urgencyPattern = regexp.MustCompile(`(?i)\b(urgent|asap|emergency|critical|immediately|deadline)\b`)
	projectPattern = regexp.MustCompile(`(?i)\b(project|proposal|meeting|review|plan)\b`)
	supportPattern = regexp.MustCompile(`(?i)\b(support|help|issue|problem|bug|error)\b`)
)

// AnalyzeThread analyzes a whole conversation.
func (a *Analyzer) AnalyzeThread(ctx context.Context, conv *domain.Conversation) *domain.ThreadAnalysis {
	key := ThreadKey(conv)
	if cached, ok := a.cache.GetThread(ctx, key); ok {
		return cached
	}

	v, _, _ := a.flight.Do(key, func() (any, error) {
		return a.analyzeThreadMiss(context.WithoutCancel(ctx), key, conv), nil
	})
	return v.(*domain.ThreadAnalysis)
}

func (a *Analyzer) analyzeThreadMiss(ctx context.Context, key string, conv *domain.Conversation) *domain.ThreadAnalysis {
	reply, err := a.complete(ctx, threadSystemPrompt, buildThreadPrompt(conv))
	if err != nil {
		a.log.Warn().Err(err).Str("conversation_id", conv.ConversationID).Msg("thread call failed, using heuristics")
		result := a.threadHeuristics(conv, errorConfidence)
		result.Error = err.Error()
		// Heuristic thread results are cached even on call failure.
		a.cache.PutThread(ctx, key, result, a.cfg.CacheTTL)
		return result
	}

	parsed := parseReply(reply, (*aiThread).valid)
	if !parsed.OK {
		a.log.Debug().Str("conversation_id", conv.ConversationID).Msg("thread reply unparseable, using heuristics")
		result := a.threadHeuristics(conv, heuristicConfidence)
		a.cache.PutThread(ctx, key, result, a.cfg.CacheTTL)
		return result
	}

	result := parsed.Value.toThread(conv)
	result.AnalyzedAt = a.now()
	result.Model = a.llm.Model()
	a.cache.PutThread(ctx, key, result, a.cfg.CacheTTL)
	return result
}

// threadHeuristics classifies a conversation from its subject and first preview.
func (a *Analyzer) threadHeuristics(conv *domain.Conversation, confidence float64) *domain.ThreadAnalysis {
	var preview string
	if len(conv.Emails) > 0 {
		preview = conv.Emails[0].Preview
	}
	text := conv.Subject + " " + preview

	result := &domain.ThreadAnalysis{
		Priority:         domain.UrgencyMedium,
		Category:         domain.DefaultCategory,
		Sentiment:        domain.SentimentNeutral,
		Confidence:       confidence,
		KeyParticipants:  participants(conv.Emails),
		TimelineAnalysis: timelineSummary(conv),
		BusinessImpact:   "unknown",
		NextSteps:        []string{},
		AnalyzedAt:       a.now(),
		Model:            fallbackModel,
	}

	if urgencyPattern.MatchString(text) {
		result.Priority = domain.UrgencyHigh
		result.ActionRequired = true
		result.BusinessImpact = "time-sensitive"
		result.NextSteps = append(result.NextSteps, "Respond promptly")
	}

	switch {
	case projectPattern.MatchString(text):
		result.Category = "Project"
		result.NextSteps = append(result.NextSteps, "Review project details")
	case supportPattern.MatchString(text):
		result.Category = "Support"
		result.ActionRequired = true
		result.NextSteps = append(result.NextSteps, "Follow up on the reported issue")
	}

	result.Summary = fmt.Sprintf("Conversation \"%s\" with %d message(s)", conv.Subject, conv.TotalEmails)
	result.ThreadSummary = result.Summary
	return result
}

func participants(emails []*domain.EmailMessage) []string {
	return lo.Uniq(lo.FilterMap(emails, func(m *domain.EmailMessage, _ int) (string, bool) {
		p := m.Sender.Name
		if p == "" {
			p = m.Sender.Address
		}
		return p, p != ""
	}))
}

func timelineSummary(conv *domain.Conversation) string {
	sorted := chronological(conv.Emails)
	if len(sorted) == 0 {
		return "no messages"
	}
	first, last := sorted[0].ReceivedAt, sorted[len(sorted)-1].ReceivedAt
	return fmt.Sprintf("%d message(s) between %s and %s", len(sorted), formatDate(first), formatDate(last))
}

type aiThread struct {
	Summary          string   `json:"summary"`
	Priority         string   `json:"priority"`
	Category         string   `json:"category"`
	ActionRequired   bool     `json:"action_required"`
	Sentiment        string   `json:"sentiment"`
	Confidence       *float64 `json:"confidence"`
	ThreadSummary    string   `json:"thread_summary"`
	KeyParticipants  []string `json:"key_participants"`
	TimelineAnalysis string   `json:"timeline_analysis"`
	BusinessImpact   string   `json:"business_impact"`
	NextSteps        []string `json:"next_steps"`
}

func (t *aiThread) valid() bool {
	return t.Summary != "" || t.ThreadSummary != ""
}

func (t *aiThread) toThread(conv *domain.Conversation) *domain.ThreadAnalysis {
	keyParticipants := cleanList(t.KeyParticipants, 0)
	if len(keyParticipants) == 0 {
		keyParticipants = participants(conv.Emails)
	}

	summary := strings.TrimSpace(t.Summary)
	threadSummary := strings.TrimSpace(t.ThreadSummary)
	if summary == "" {
		summary = threadSummary
	}
	if threadSummary == "" {
		threadSummary = summary
	}

	return &domain.ThreadAnalysis{
		Summary:          summary,
		Priority:         domain.ParseUrgency(t.Priority),
		Category:         domain.ParseCategory(t.Category),
		ActionRequired:   t.ActionRequired,
		Sentiment:        domain.ParseSentiment(t.Sentiment),
		Confidence:       clampConfidence(t.Confidence),
		ThreadSummary:    threadSummary,
		KeyParticipants:  keyParticipants,
		TimelineAnalysis: strings.TrimSpace(t.TimelineAnalysis),
		BusinessImpact:   strings.TrimSpace(t.BusinessImpact),
		NextSteps:        cleanList(t.NextSteps, 0),
	}
}
