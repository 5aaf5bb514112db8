package bootstrap

import (
	"errors"
	"net/http/httptest"
	"testing"

	"insight_server/config"
	"insight_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Environment:         "test",
		OpenAIAPIKey:        "sk-test",
		LLMModel:            "gpt-test",
		LLMMaxTokens:        800,
		LLMTemperature:      0.3,
		LLMTimeoutSec:       30,
		AICacheTTLMin:       60,
		CacheJanitorSec:     60,
		AIConcurrency:       5,
		HistoryLimit:        10,
		MailProvider:        config.ProviderOutlook,
		ProviderMaxPageSize: 50,
		SearchStrategy:      "filter",
		AllowedOrigins:      []string{"http://localhost:3000"},
	}
}

func TestNewDependenciesMemoryOnly(t *testing.T) {
	defer goleak.VerifyNone(t)

	deps, cleanup, err := NewDependencies(testConfig())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Redis)
	assert.Same(t, deps.MemoryCache, deps.AnalysisCache)
	assert.Equal(t, "outlook", deps.MailProvider.GetProviderType())
	assert.Contains(t, deps.Circuits, "openai")
	assert.Nil(t, deps.redisPinger())
}

func TestNewDependenciesGmailCircuit(t *testing.T) {
	cfg := testConfig()
	cfg.MailProvider = config.ProviderGmail

	deps, cleanup, err := NewDependencies(cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.Contains(t, deps.Circuits, "gmail")
}

func TestNewDependenciesBadRedisURL(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "not-a-url"

	_, _, err := NewDependencies(cfg)
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeConfigError, appErr.Code)
	assert.Error(t, errors.Unwrap(err))
}

func TestRoutesWired(t *testing.T) {
	deps, cleanup, err := NewDependencies(testConfig())
	require.NoError(t, err)
	defer cleanup()

	app := newApp(deps.Config)
	registerRoutes(app, deps)

	tests := []struct {
		method string
		target string
		status int
	}{
		{method: "GET", target: "/health", status: 200},
		{method: "GET", target: "/ready", status: 200},
		{method: "GET", target: "/metrics/latency", status: 200},
		{method: "GET", target: "/api/v1/ai/cache/stats", status: 200},
		{method: "POST", target: "/api/v1/ai/analyze/batch", status: 400},
		{method: "GET", target: "/api/v1/query?page=2&pageSize=50&total=95", status: 200},
		{method: "GET", target: "/api/v1/emails", status: 401},
		{method: "GET", target: "/api/v1/unknown", status: 404},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(tt.method, tt.target, nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
			assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		})
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	deps, cleanup, err := NewDependencies(testConfig())
	require.NoError(t, err)
	defer cleanup()

	app := newApp(deps.Config)
	registerRoutes(app, deps)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/unknown", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, apperr.CodeNotFound, body.Error.Code)
	assert.Equal(t, "route /api/v1/unknown not found", body.Error.Message)
}

func TestRateLimitOnAPIGroup(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMin = 2

	deps, cleanup, err := NewDependencies(cfg)
	require.NoError(t, err)
	defer cleanup()

	app := newApp(cfg)
	registerRoutes(app, deps)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/ai/cache/stats", nil), -1)
		require.NoError(t, err)
		statuses = append(statuses, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, []int{200, 200, 429}, statuses)

	// Health probes are outside the limited group.
	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	assert.Positive(t, deps.Latency.Stats("GET /api/v1/ai/cache/stats").Count)
}
