package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"insight_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(), JSONEncoder: json.Marshal})
	app.Use(RequestID())
	for _, h := range handlers {
		app.Use(h)
	}
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	app.Get("/fail", func(c *fiber.Ctx) error { return errors.New("boom") })
	app.Get("/panic", func(c *fiber.Ctx) error { panic("kaboom") })
	app.Get("/token", ProviderToken(), func(c *fiber.Ctx) error {
		tok, ok := GetProviderToken(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(tok.AccessToken)
	})
	return app
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func TestErrorHandler_AppError(t *testing.T) {
	app := newApp()
	app.Get("/missing", func(c *fiber.Ctx) error { return apperr.MissingField("current") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	body := decodeError(t, resp.Body)
	assert.False(t, body.Success)
	assert.Equal(t, apperr.CodeMissingField, body.Error.Code)
	assert.NotEmpty(t, body.RequestID)
}

func TestErrorHandler_UnknownErrorIsInternal(t *testing.T) {
	resp, err := newApp().Test(httptest.NewRequest(fiber.MethodGet, "/fail", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, apperr.CodeInternalError, decodeError(t, resp.Body).Error.Code)
}

func TestErrorHandler_WrappedAppError(t *testing.T) {
	app := newApp()
	app.Get("/wrapped", func(c *fiber.Ctx) error {
		return fmt.Errorf("loading: %w", apperr.InvalidInput("page", "must be positive"))
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/wrapped", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	body := decodeError(t, resp.Body)
	assert.Equal(t, apperr.CodeInvalidInput, body.Error.Code)
	assert.Equal(t, "page", body.Error.Details["field"])
}

func TestErrorHandler_FiberError(t *testing.T) {
	resp, err := newApp().Test(httptest.NewRequest(fiber.MethodGet, "/nowhere", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apperr.CodeNotFound, decodeError(t, resp.Body).Error.Code)
}

func TestRecover(t *testing.T) {
	resp, err := newApp(Recover()).Test(httptest.NewRequest(fiber.MethodGet, "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	body := decodeError(t, resp.Body)
	assert.Equal(t, apperr.CodeInternalError, body.Error.Code)
	assert.Equal(t, "internal server error", body.Error.Message)
	assert.NotContains(t, body.Error.Message, "kaboom")
	assert.NotEmpty(t, body.RequestID)
}

func TestRequestID_PropagatesHeader(t *testing.T) {
	req := httptest.NewRequest(fiber.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-123")

	resp, err := newApp().Test(req)
	require.NoError(t, err)
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestProviderToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"bearer", "Bearer abc", fiber.StatusOK},
		{"lowercase scheme", "bearer abc", fiber.StatusOK},
		{"missing", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic abc", fiber.StatusUnauthorized},
		{"empty token", "Bearer   ", fiber.StatusUnauthorized},
	}

	app := newApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/token", nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == fiber.StatusOK {
				b, _ := io.ReadAll(resp.Body)
				assert.Equal(t, "abc", string(b))
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	resp, err := newApp(SecurityHeaders()).Test(httptest.NewRequest(fiber.MethodGet, "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }
	app := newApp(rl.Handler())

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ping", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{"1", "0"}[i], resp.Header.Get("X-RateLimit-Remaining"))
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "61", resp.Header.Get(fiber.HeaderRetryAfter))
	body := decodeError(t, resp.Body)
	assert.Equal(t, apperr.CodeRateLimited, body.Error.Code)
	assert.EqualValues(t, 61, body.Error.Details["retry_after"])

	// A new window resets the count.
	now = now.Add(time.Minute + time.Second)
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) Record(name string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func TestRouteLatency(t *testing.T) {
	rec := &recorder{}
	resp, err := newApp(RouteLatency(rec)).Test(httptest.NewRequest(fiber.MethodGet, "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"GET /ping"}, rec.names)
}
