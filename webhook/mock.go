package webhook

import (
	"context"
	"log/slog"
)

// MockProvider logs messages instead of sending them, for local
// development.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a mock webhook provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the message instead of posting it.
func (m *MockProvider) Send(_ context.Context, webhookURL string, msg *Message) error {
	title := ""
	if len(msg.Embeds) > 0 {
		title = msg.Embeds[0].Title
	}
	m.logger.Info("MOCK WEBHOOK",
		"url", webhookURL,
		"title", title,
		"embeds", len(msg.Embeds))
	return nil
}
