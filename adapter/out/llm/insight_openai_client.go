// Package llm adapts the OpenAI chat-completion API to out.ChatCompleter.
package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"insight_server/core/port/out"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

const DefaultModel = "gpt-4o-mini"

// ClientConfig holds OpenAI client settings.
type ClientConfig struct {
	APIKey  string
	BaseURL string // optional, for OpenAI-compatible gateways
	Model   string

	HTTPClient *http.Client

	// Latency receives the duration of every call that reached the API.
	Latency LatencyRecorder
}

// LatencyRecorder collects call durations by name.
type LatencyRecorder interface {
	Record(name string, d time.Duration)
}

const latencyName = "llm.complete"

// Client implements out.ChatCompleter.
type Client struct {
	client *openai.Client
	model  string
	cb     *gobreaker.CircuitBreaker
	rec    LatencyRecorder
	log    zerolog.Logger
}

var _ out.ChatCompleter = (*Client)(nil)

// NewClient creates a chat client guarded by a circuit breaker.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	log = log.With().Str("component", "openai").Logger()

	cbSettings := gobreaker.Settings{
		Name:        "openai-chat",
		MaxRequests: 3,                // requests allowed while half-open
		Interval:    60 * time.Second, // closed-state counter reset
		Timeout:     30 * time.Second, // open duration before half-open
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
		rec:    cfg.Latency,
		log:    log,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends one system/user exchange and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, req out.ChatRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	result, err := c.cb.Execute(func() (interface{}, error) {
		if c.rec != nil {
			defer func(start time.Time) { c.rec.Record(latencyName, time.Since(start)) }(time.Now())
		}
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: req.System,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: req.User,
				},
			},
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			return nil, err
		}

		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		c.log.Debug().Err(err).Str("state", c.cb.State().String()).Msg("chat completion failed")
		return "", err
	}

	return result.(string), nil
}

// CircuitState reports the breaker state for readiness checks.
func (c *Client) CircuitState() string {
	return c.cb.State().String()
}

// IsCircuitOpen returns true if calls currently fail fast.
func (c *Client) IsCircuitOpen() bool {
	return c.cb.State() == gobreaker.StateOpen
}

// tripsBreaker reports whether err indicates the provider itself is unhealthy.
// Client errors (bad request, auth) and caller cancellation do not count.
func tripsBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}

	return true
}
