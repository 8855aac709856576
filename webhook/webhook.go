// Package webhook delivers new-item notifications and operational alerts
// to chat channels through incoming webhooks.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ebay-scanner/pkg/scanner"
)

// RateLimitError indicates the destination rejected a dispatch for rate
// limiting and told us how long to wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Provider posts a single message to a webhook URL.
type Provider interface {
	Send(ctx context.Context, webhookURL string, msg *Message) error
}

// Message is one outbound webhook payload.
type Message struct {
	Content string
	Embeds  []Embed
}

// Embed is a rich message block (Discord-compatible shape).
type Embed struct {
	Title       string       `json:"title,omitempty"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Thumbnail   *EmbedImage  `json:"thumbnail,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField is one labelled value inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedImage references an image by URL.
type EmbedImage struct {
	URL string `json:"url"`
}

// EmbedFooter is the small print under an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

const (
	colorNewItem = 0x2ecc71
	colorAlert   = 0xe74c3c
)

// Sender formats and dispatches notifications through a pluggable
// provider. Dispatches are paced: every call sleeps the pacing delay
// after the attempt, so one target's notifications never burst.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	pacing   time.Duration
}

// New creates a sender.
func New(provider Provider, pacing time.Duration, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
		pacing:   pacing,
	}
}

// NotifyItem sends one new-item message. On a rate-limited rejection it
// waits the imposed delay and retries exactly once; a second failure is
// returned to the caller, which marks the item seen regardless.
func (s *Sender) NotifyItem(ctx context.Context, hook scanner.Webhook, target *scanner.Target, item *scanner.Item) error {
	msg := formatItem(target, item)

	err := s.provider.Send(ctx, hook.URL, msg)

	var limited *RateLimitError
	if errors.As(err, &limited) {
		s.logger.Warn("Webhook rate limited, retrying once",
			"webhook", hook.ID,
			"target", target.Name(),
			"retry_after", limited.RetryAfter.String())
		select {
		case <-time.After(limited.RetryAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
		err = s.provider.Send(ctx, hook.URL, msg)
	}

	s.pace(ctx)

	if err != nil {
		return fmt.Errorf("notify item %s: %w", item.ID, err)
	}

	s.logger.Info("Item notification sent",
		"webhook", hook.ID,
		"target", target.Name(),
		"item_id", item.ID,
		"title", item.Title)
	return nil
}

// NotifyAlert sends an operational alert (fetch failures and the like)
// through the same destination, visually distinct from item messages.
func (s *Sender) NotifyAlert(ctx context.Context, hook scanner.Webhook, target *scanner.Target, text string) error {
	msg := &Message{
		Embeds: []Embed{{
			Title:       "Scanner alert: " + target.Name(),
			Description: text,
			Color:       colorAlert,
			Footer:      &EmbedFooter{Text: target.Key()},
		}},
	}

	err := s.provider.Send(ctx, hook.URL, msg)
	s.pace(ctx)
	if err != nil {
		return fmt.Errorf("notify alert: %w", err)
	}
	return nil
}

func (s *Sender) pace(ctx context.Context) {
	if s.pacing <= 0 {
		return
	}
	select {
	case <-time.After(s.pacing):
	case <-ctx.Done():
	}
}

func formatItem(target *scanner.Target, item *scanner.Item) *Message {
	embed := Embed{
		Title: item.Title,
		URL:   item.URL,
		Color: colorNewItem,
		Footer: &EmbedFooter{
			Text: target.Name(),
		},
	}
	if item.ImageURL != "" {
		embed.Thumbnail = &EmbedImage{URL: item.ImageURL}
	}

	addField := func(name, value string, inline bool) {
		if value != "" {
			embed.Fields = append(embed.Fields, EmbedField{Name: name, Value: value, Inline: inline})
		}
	}
	addField("Price", item.Price, true)
	addField("Condition", item.Condition, true)
	addField("Location", item.Location, true)
	addField("Shipping", item.Shipping, true)
	addField("Type", item.ListingType, true)
	if item.BidCount > 0 {
		addField("Bids", fmt.Sprintf("%d", item.BidCount), true)
	}
	addField("Ends", item.TimeRemaining, true)

	return &Message{Embeds: []Embed{embed}}
}
