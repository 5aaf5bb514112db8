package middleware

import (
	"strings"

	"insight_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"
)

const providerTokenKey = "provider_token"

// ProviderToken extracts the caller's mail provider access token.
// The token is passed through to the provider untouched; its validity
// is established by the provider answering (or rejecting with 401).
func ProviderToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		var raw string
		if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				raw = strings.TrimSpace(parts[1])
			}
		}

		if raw == "" {
			return apperr.Unauthorized("missing authorization")
		}

		c.Locals(providerTokenKey, &oauth2.Token{AccessToken: raw, TokenType: "Bearer"})
		return c.Next()
	}
}

// GetProviderToken returns the token stored by ProviderToken.
func GetProviderToken(c *fiber.Ctx) (*oauth2.Token, bool) {
	tok, ok := c.Locals(providerTokenKey).(*oauth2.Token)
	return tok, ok && tok != nil
}
