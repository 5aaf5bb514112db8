package analysis

import (
	"strings"

	"github.com/goccy/go-json"
)

// ParsedResponse is the outcome of reading a model reply.
// Unparseable replies are a normal result, not an error.
type ParsedResponse[T any] struct {
	Value T
	OK    bool
}

// Parsed wraps a successfully decoded value.
func Parsed[T any](v T) ParsedResponse[T] {
	return ParsedResponse[T]{Value: v, OK: true}
}

// Unparseable marks a reply that held no usable JSON object.
func Unparseable[T any]() ParsedResponse[T] {
	return ParsedResponse[T]{}
}

// parseReply decodes the first balanced JSON object found in reply.
// valid rejects objects that decoded but carry none of the expected fields.
func parseReply[T any](reply string, valid func(*T) bool) ParsedResponse[T] {
	block, ok := firstJSONObject(reply)
	if !ok {
		return Unparseable[T]()
	}

	var v T
	if err := json.Unmarshal([]byte(block), &v); err != nil {
		return Unparseable[T]()
	}
	if valid != nil && !valid(&v) {
		return Unparseable[T]()
	}
	return Parsed(v)
}

// firstJSONObject returns the first balanced {...} block in s. Braces inside
// JSON string literals are not counted. Code fences and chatter around the
// object are ignored.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if end, ok := matchBrace(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
