package analysis

import (
	"reflect"
	"testing"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "simple subject",
			text:     "Quarterly Budget Review",
			expected: []string{"quarterly", "budget", "review"},
		},
		{
			name:     "short tokens dropped",
			text:     "Re: Q3 is ok by me",
			expected: []string{"email"},
		},
		{
			name:     "punctuation splits tokens",
			text:     "invoice#42/payment-due",
			expected: []string{"invoice", "payment", "due"},
		},
		{
			name:     "capped at five",
			text:     "alpha bravo charlie delta echo foxtrot golf",
			expected: []string{"alpha", "bravo", "charlie", "delta", "echo"},
		},
		{
			name:     "cjk kept, other scripts split",
			text:     "会议安排 für Montag",
			expected: []string{"会议安排", "montag"},
		},
		{
			name:     "empty text",
			text:     "",
			expected: []string{"email"},
		},
		{
			name:     "digits kept",
			text:     "order 12345 shipped",
			expected: []string{"order", "12345", "shipped"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractKeywords(tt.text)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestExtractKeywordsIsPure(t *testing.T) {
	text := "Project kickoff meeting agenda attached for review"
	first := ExtractKeywords(text)
	for i := 0; i < 10; i++ {
		if got := ExtractKeywords(text); !reflect.DeepEqual(got, first) {
			t.Fatalf("expected stable output %v, got %v", first, got)
		}
	}
	if len(first) > 5 {
		t.Errorf("expected at most 5 keywords, got %d", len(first))
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		max      int
		expected string
	}{
		{name: "short", in: "Hello", max: 10, expected: "Hello"},
		{name: "exact", in: "Hello", max: 5, expected: "Hello"},
		{name: "truncated", in: "Hello world", max: 5, expected: "Hello..."},
		{name: "multibyte", in: "안녕하세요 여러분", max: 5, expected: "안녕하세요..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateRunes(tt.in, tt.max); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
