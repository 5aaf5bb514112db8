package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"insight_server/core/domain"
)

// Cache key prefixes, one per analysis scheme.
const (
	simpleKeyPrefix  = "ai:simple:"
	contextKeyPrefix = "ai:ctx:"
	threadKeyPrefix  = "ai:thread:"
)

const keySep = "\x1f"

func hashParts(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte(keySep))
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SimpleKey addresses a single-message analysis by its content.
func SimpleKey(subject, body, senderAddress string) string {
	return simpleKeyPrefix + hashParts(subject, body, senderAddress)
}

// ContextKey addresses a contextual analysis by the current message id and
// the history ids in the order they were fetched.
func ContextKey(currentID string, history []*domain.EmailMessage) string {
	parts := make([]string, 0, len(history)+1)
	parts = append(parts, currentID)
	for _, m := range history {
		parts = append(parts, m.ID)
	}
	return contextKeyPrefix + hashParts(parts...)
}

// ThreadKey addresses a thread analysis. A new message changes the count or
// the latest date and therefore the key.
func ThreadKey(conv *domain.Conversation) string {
	return threadKeyPrefix + hashParts(
		conv.ConversationID,
		strconv.Itoa(conv.TotalEmails),
		conv.LatestDate.UTC().Format(time.RFC3339Nano),
	)
}
