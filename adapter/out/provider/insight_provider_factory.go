package provider

import (
	"fmt"

	"insight_server/core/port/out"

	"github.com/rs/zerolog"
)

// FactoryConfig holds all provider configurations.
type FactoryConfig struct {
	Gmail   *GmailConfig
	Outlook *OutlookConfig
}

// NewMailProvider creates the provider adapter named by providerType.
func NewMailProvider(providerType string, cfg *FactoryConfig, log zerolog.Logger) (out.MailProvider, error) {
	switch providerType {
	case "google", "gmail":
		if cfg.Gmail == nil {
			return nil, fmt.Errorf("gmail config not set")
		}
		return NewGmailAdapter(cfg.Gmail, log), nil
	case "outlook", "microsoft":
		if cfg.Outlook == nil {
			return nil, fmt.Errorf("outlook config not set")
		}
		return NewOutlookAdapter(cfg.Outlook), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}
