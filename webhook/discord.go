package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// DiscordProvider posts messages to Discord-compatible incoming webhooks.
type DiscordProvider struct {
	client *http.Client
	logger *slog.Logger
}

// NewDiscordProvider creates a Discord webhook provider.
func NewDiscordProvider(client *http.Client, logger *slog.Logger) *DiscordProvider {
	return &DiscordProvider{
		client: client,
		logger: logger,
	}
}

type discordPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type discordRateLimit struct {
	RetryAfter float64 `json:"retry_after"` // seconds
}

// Send posts one message. A 429 response is surfaced as *RateLimitError
// carrying the delay the destination imposed; retrying is the caller's
// decision.
func (d *DiscordProvider) Send(ctx context.Context, webhookURL string, msg *Message) error {
	payload := discordPayload{
		Content: msg.Content,
		Embeds:  msg.Embeds,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := d.client.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		d.logger.Warn("Webhook request failed",
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: retryAfter(resp)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Warn("Webhook returned non-2xx status",
			"status_code", resp.StatusCode,
			"duration_ms", duration.Milliseconds())
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	d.logger.Debug("Webhook request completed",
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())
	return nil
}

// retryAfter reads the imposed delay from a 429 response, preferring the
// JSON body over the header. Falls back to a flat five seconds.
func retryAfter(resp *http.Response) time.Duration {
	var body discordRateLimit
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second))
	}
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.ParseFloat(h, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 5 * time.Second
}
