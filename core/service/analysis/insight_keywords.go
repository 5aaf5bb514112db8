package analysis

import (
	"strings"
	"unicode/utf8"
)

const (
	maxKeywords     = 5
	minKeywordRunes = 3
	defaultKeyword  = "email"
)

// ExtractKeywords derives up to five keywords from free text without the AI service.
// ASCII letters and digits and CJK unified ideographs are kept; every other rune
// splits tokens. Tokens shorter than three runes are dropped. When nothing
// survives the result is ["email"].
func ExtractKeywords(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if keepKeywordRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	keywords := make([]string, 0, maxKeywords)
	for _, tok := range strings.Fields(b.String()) {
		if utf8.RuneCountInString(tok) < minKeywordRunes {
			continue
		}
		keywords = append(keywords, tok)
		if len(keywords) == maxKeywords {
			break
		}
	}

	if len(keywords) == 0 {
		return []string{defaultKeyword}
	}
	return keywords
}

func keepKeywordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r >= 0x4E00 && r <= 0x9FFF:
		return true
	}
	return false
}
