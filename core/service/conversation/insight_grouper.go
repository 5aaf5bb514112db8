// Package conversation threads a flat page of messages into conversations.
package conversation

import (
	"regexp"
	"sort"
	"strings"

	"insight_server/core/domain"
)

// NoSubject is the group key for messages whose subject normalises to nothing.
const NoSubject = "(no subject)"

var replyPrefix = regexp.MustCompile(`(?i)^\s*((re|fwd?)\s*:\s*)+`)

// NormalizeSubject strips repeated leading Re:/Fw:/Fwd: prefixes, trims and lowercases.
func NormalizeSubject(subject string) string {
	s := replyPrefix.ReplaceAllString(subject, "")
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return NoSubject
	}
	return s
}

// GroupKey is the provider conversation id, or the normalised subject when absent.
func GroupKey(m *domain.EmailMessage) string {
	if m.ConversationID != "" {
		return m.ConversationID
	}
	return NormalizeSubject(m.Subject)
}

type groupID struct {
	byID bool
	key  string
}

// Group threads messages into conversations sorted by latest activity, newest first.
// Every message lands in exactly one conversation.
func Group(messages []*domain.EmailMessage) []*domain.Conversation {
	index := make(map[groupID]*domain.Conversation, len(messages))
	convs := make([]*domain.Conversation, 0, len(messages))

	for _, m := range messages {
		if m == nil {
			continue
		}
		id := groupID{byID: m.ConversationID != "", key: GroupKey(m)}

		conv, ok := index[id]
		if !ok {
			conv = &domain.Conversation{
				ConversationID: id.key,
				Subject:        m.Subject,
				LatestDate:     m.ReceivedAt,
			}
			index[id] = conv
			convs = append(convs, conv)
		}

		conv.Emails = append(conv.Emails, m)
		conv.TotalEmails++
		if !m.IsRead {
			conv.UnreadCount++
		}
		if m.Analysis != nil {
			conv.HasAIAnalysis = true
		}
		if m.ReceivedAt.After(conv.LatestDate) {
			conv.LatestDate = m.ReceivedAt
			conv.Subject = m.Subject
		}
	}

	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].LatestDate.Equal(convs[j].LatestDate) {
			return convs[i].LatestDate.After(convs[j].LatestDate)
		}
		return convs[i].ConversationID < convs[j].ConversationID
	})

	return convs
}
