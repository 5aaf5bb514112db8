package out

import "context"

// ChatRequest is a single system/user exchange sent to a chat-completion model.
type ChatRequest struct {
	Model       string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// ChatCompleter is the outbound port for the AI chat-completion service.
// Any error (non-success status, network failure, open circuit, timeout)
// is treated by callers as an external service failure.
type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
	Model() string
}
