package conversation

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"insight_server/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC)

func msg(id, convID, subject string, offset time.Duration, read bool) *domain.EmailMessage {
	return &domain.EmailMessage{
		ID:             id,
		ConversationID: convID,
		Subject:        subject,
		ReceivedAt:     t0.Add(offset),
		IsRead:         read,
	}
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"Proposal", "proposal"},
		{"Re: Proposal", "proposal"},
		{"RE: Proposal", "proposal"},
		{"Fwd: Re: FW: proposal ", "proposal"},
		{"re:re:Proposal", "proposal"},
		{"Review notes", "review notes"},
		{"Re:", NoSubject},
		{"", NoSubject},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeSubject(tt.in); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestGroupSharedConversationID(t *testing.T) {
	messages := []*domain.EmailMessage{
		msg("a", "T1", "Proposal", 0, true),
		msg("b", "T1", "Re: Proposal", time.Hour, false),
		msg("c", "T1", "RE: Proposal", 2*time.Hour, false),
	}

	convs := Group(messages)

	require.Len(t, convs, 1)
	c := convs[0]
	assert.Equal(t, "T1", c.ConversationID)
	assert.Equal(t, 3, c.TotalEmails)
	assert.Equal(t, "RE: Proposal", c.Subject)
	assert.Equal(t, 2, c.UnreadCount)
	assert.Equal(t, t0.Add(2*time.Hour), c.LatestDate)
	assert.False(t, c.HasAIAnalysis)
}

func TestGroupFallsBackToSubject(t *testing.T) {
	messages := []*domain.EmailMessage{
		msg("a", "", "Budget", 0, true),
		msg("b", "", "Re: budget", time.Hour, true),
		msg("c", "", "Lunch", 30*time.Minute, true),
	}
	messages[0].Analysis = &domain.AnalysisResult{Confidence: 0.9}

	convs := Group(messages)

	require.Len(t, convs, 2)
	assert.Equal(t, "budget", convs[0].ConversationID)
	assert.Equal(t, 2, convs[0].TotalEmails)
	assert.Equal(t, "Re: budget", convs[0].Subject)
	assert.True(t, convs[0].HasAIAnalysis)
	assert.Equal(t, "lunch", convs[1].ConversationID)
}

func TestGroupSubjectWinsOnlyWhenStrictlyNewer(t *testing.T) {
	messages := []*domain.EmailMessage{
		msg("a", "X", "First", time.Hour, true),
		msg("b", "X", "Same time", time.Hour, true),
		msg("c", "X", "Older", 0, true),
	}

	convs := Group(messages)

	require.Len(t, convs, 1)
	assert.Equal(t, "First", convs[0].Subject)
}

func TestGroupSortsNewestFirst(t *testing.T) {
	messages := []*domain.EmailMessage{
		msg("a", "old", "Old", 0, true),
		msg("b", "new", "New", 3*time.Hour, true),
		msg("c", "mid", "Mid", time.Hour, true),
	}

	convs := Group(messages)

	ids := []string{convs[0].ConversationID, convs[1].ConversationID, convs[2].ConversationID}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
}

func TestGroupEmpty(t *testing.T) {
	convs := Group(nil)
	assert.NotNil(t, convs)
	assert.Empty(t, convs)
}

func randomMessages(r *rand.Rand, n int) []*domain.EmailMessage {
	subjects := []string{"Plan", "Re: Plan", "Invoice", "FW: Invoice", "", "Hello"}
	convIDs := []string{"", "", "C1", "C2", "C3"}
	out := make([]*domain.EmailMessage, n)
	for i := range out {
		out[i] = msg(
			fmt.Sprintf("m%d", i),
			convIDs[r.Intn(len(convIDs))],
			subjects[r.Intn(len(subjects))],
			time.Duration(r.Intn(1000))*time.Minute,
			r.Intn(2) == 0,
		)
	}
	return out
}

func TestGroupInvariantHolds(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		messages := randomMessages(r, r.Intn(40))
		convs := Group(messages)

		total := 0
		seen := make(map[string]int)
		for _, c := range convs {
			total += c.TotalEmails
			assert.Len(t, c.Emails, c.TotalEmails)
			for _, m := range c.Emails {
				seen[m.ID]++
			}
		}

		assert.Equal(t, len(messages), total)
		for _, m := range messages {
			assert.Equal(t, 1, seen[m.ID], "message %s must appear exactly once", m.ID)
		}
	}
}

type convSummary struct {
	ID     string
	Total  int
	Unread int
	Latest time.Time
	IDs    string
}

func summarize(convs []*domain.Conversation) []convSummary {
	out := make([]convSummary, 0, len(convs))
	for _, c := range convs {
		ids := make([]string, 0, len(c.Emails))
		for _, m := range c.Emails {
			ids = append(ids, m.ID)
		}
		sort.Strings(ids)
		out = append(out, convSummary{ID: c.ConversationID, Total: c.TotalEmails, Unread: c.UnreadCount, Latest: c.LatestDate, IDs: fmt.Sprint(ids)})
	}
	return out
}

func TestGroupIsOrderIndependent(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	messages := randomMessages(r, 30)
	expected := summarize(Group(messages))

	for i := 0; i < 10; i++ {
		shuffled := make([]*domain.EmailMessage, len(messages))
		copy(shuffled, messages)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		assert.Equal(t, expected, summarize(Group(shuffled)))
	}
}
