package analysis

import (
	"strings"
	"testing"
	"time"

	"insight_server/core/domain"
)

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{name: "bare object", in: `{"a":1}`, want: `{"a":1}`, wantOK: true},
		{name: "chatty prefix", in: `Sure, here you go: {"a":1} hope it helps`, want: `{"a":1}`, wantOK: true},
		{name: "code fence", in: "```json\n{\"a\":{\"b\":2}}\n```", want: `{"a":{"b":2}}`, wantOK: true},
		{name: "brace in string", in: `{"s":"a } b { c"}`, want: `{"s":"a } b { c"}`, wantOK: true},
		{name: "escaped quote", in: `{"s":"say \"}\" now"}`, want: `{"s":"say \"}\" now"}`, wantOK: true},
		{name: "first of two", in: `{"a":1} and {"b":2}`, want: `{"a":1}`, wantOK: true},
		{name: "no object", in: "I cannot analyze this email.", wantOK: false},
		{name: "unbalanced", in: `{"a":1`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstJSONObject(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseReply(t *testing.T) {
	parsed := parseReply(`noise {"sentiment":"negative","summary":"x"}`, (*aiAnalysis).valid)
	if !parsed.OK {
		t.Fatal("expected parsed reply")
	}
	if parsed.Value.Sentiment != "negative" {
		t.Errorf("expected negative, got %s", parsed.Value.Sentiment)
	}

	if parseReply(`{"unrelated":true}`, (*aiAnalysis).valid).OK {
		t.Error("expected object without analysis fields to be unparseable")
	}
	if parseReply(`{"sentiment": }`, (*aiAnalysis).valid).OK {
		t.Error("expected malformed JSON to be unparseable")
	}
}

func TestClampConfidence(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		in   *float64
		want float64
	}{
		{name: "missing", in: nil, want: defaultParsedConfidence},
		{name: "zero", in: f(0), want: defaultParsedConfidence},
		{name: "above one", in: f(7), want: defaultParsedConfidence},
		{name: "at heuristic tier", in: f(0.5), want: minParsedConfidence},
		{name: "low", in: f(0.2), want: minParsedConfidence},
		{name: "in range", in: f(0.9), want: 0.9},
		{name: "one", in: f(1), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampConfidence(tt.in); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCacheKeys(t *testing.T) {
	a := SimpleKey("Hello", "Body", "a@example.com")
	if a != SimpleKey("Hello", "Body", "a@example.com") {
		t.Error("expected simple key to be deterministic")
	}
	if !strings.HasPrefix(a, simpleKeyPrefix) {
		t.Errorf("expected prefix %s, got %s", simpleKeyPrefix, a)
	}
	// Field boundaries matter.
	if SimpleKey("ab", "c", "") == SimpleKey("a", "bc", "") {
		t.Error("expected different keys for shifted field boundaries")
	}

	h1 := []*domain.EmailMessage{{ID: "1"}, {ID: "2"}}
	h2 := []*domain.EmailMessage{{ID: "2"}, {ID: "1"}}
	if ContextKey("c", h1) == ContextKey("c", h2) {
		t.Error("expected history order to change the contextual key")
	}
	if ContextKey("c", nil) == SimpleKey("c", "", "") {
		t.Error("expected schemes not to collide")
	}

	latest := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	conv := &domain.Conversation{ConversationID: "conv", TotalEmails: 2, LatestDate: latest}
	k1 := ThreadKey(conv)
	conv.TotalEmails = 3
	if k1 == ThreadKey(conv) {
		t.Error("expected new message count to change the thread key")
	}
}
