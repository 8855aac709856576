package webhook

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebay-scanner/pkg/scanner"
)

type scriptedProvider struct {
	mu      sync.Mutex
	replies []error
	sent    []*Message
	urls    []string
}

func (p *scriptedProvider) Send(_ context.Context, webhookURL string, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	p.urls = append(p.urls, webhookURL)
	if len(p.replies) == 0 {
		return nil
	}
	err := p.replies[0]
	p.replies = p.replies[1:]
	return err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testTarget() *scanner.Target {
	return &scanner.Target{Kind: scanner.KindStore, Identifier: "acme-surplus", Label: "Acme"}
}

func testItem() *scanner.Item {
	return &scanner.Item{
		ID:        "203456789011",
		Title:     "ThinkPad X220 i5 8GB",
		Price:     "$129.99",
		URL:       "https://www.ebay.com/itm/203456789011",
		ImageURL:  "https://i.ebayimg.com/thumbs/x220.jpg",
		Condition: "Pre-Owned",
		BidCount:  3,
	}
}

func TestNotifyItem(t *testing.T) {
	provider := &scriptedProvider{}
	sender := New(provider, 0, quietLogger())
	hook := scanner.Webhook{ID: "deals", URL: "https://hooks.example/abc", Enabled: true}

	err := sender.NotifyItem(context.Background(), hook, testTarget(), testItem())
	require.NoError(t, err)
	require.Len(t, provider.sent, 1)
	assert.Equal(t, "https://hooks.example/abc", provider.urls[0])

	require.Len(t, provider.sent[0].Embeds, 1)
	embed := provider.sent[0].Embeds[0]
	assert.Equal(t, "ThinkPad X220 i5 8GB", embed.Title)
	assert.Equal(t, "https://www.ebay.com/itm/203456789011", embed.URL)
	assert.Equal(t, colorNewItem, embed.Color)
	require.NotNil(t, embed.Thumbnail)
	assert.Equal(t, "https://i.ebayimg.com/thumbs/x220.jpg", embed.Thumbnail.URL)
	assert.Equal(t, "Acme", embed.Footer.Text)
}

func TestNotifyItemRetriesOnceOnRateLimit(t *testing.T) {
	provider := &scriptedProvider{
		replies: []error{&RateLimitError{RetryAfter: time.Millisecond}},
	}
	sender := New(provider, 0, quietLogger())
	hook := scanner.Webhook{ID: "deals", URL: "https://hooks.example/abc", Enabled: true}

	err := sender.NotifyItem(context.Background(), hook, testTarget(), testItem())
	require.NoError(t, err)
	assert.Len(t, provider.sent, 2)
}

func TestNotifyItemSecondRateLimitIsReturned(t *testing.T) {
	provider := &scriptedProvider{
		replies: []error{
			&RateLimitError{RetryAfter: time.Millisecond},
			&RateLimitError{RetryAfter: time.Millisecond},
		},
	}
	sender := New(provider, 0, quietLogger())
	hook := scanner.Webhook{ID: "deals", URL: "https://hooks.example/abc", Enabled: true}

	err := sender.NotifyItem(context.Background(), hook, testTarget(), testItem())
	require.Error(t, err)
	assert.Len(t, provider.sent, 2, "exactly one retry, never more")
}

func TestNotifyItemPermanentFailureNotRetried(t *testing.T) {
	provider := &scriptedProvider{
		replies: []error{errors.New("HTTP 500")},
	}
	sender := New(provider, 0, quietLogger())
	hook := scanner.Webhook{ID: "deals", URL: "https://hooks.example/abc", Enabled: true}

	err := sender.NotifyItem(context.Background(), hook, testTarget(), testItem())
	require.Error(t, err)
	assert.Len(t, provider.sent, 1)
}

func TestNotifyAlert(t *testing.T) {
	provider := &scriptedProvider{}
	sender := New(provider, 0, quietLogger())
	hook := scanner.Webhook{ID: "deals", URL: "https://hooks.example/abc", Enabled: true}

	err := sender.NotifyAlert(context.Background(), hook, testTarget(), "3 consecutive fetch failures")
	require.NoError(t, err)
	require.Len(t, provider.sent, 1)

	embed := provider.sent[0].Embeds[0]
	assert.Equal(t, "Scanner alert: Acme", embed.Title)
	assert.Equal(t, "3 consecutive fetch failures", embed.Description)
	assert.Equal(t, colorAlert, embed.Color)
}

func TestFormatItemFields(t *testing.T) {
	msg := formatItem(testTarget(), testItem())
	require.Len(t, msg.Embeds, 1)

	names := make([]string, 0, len(msg.Embeds[0].Fields))
	for _, f := range msg.Embeds[0].Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Price", "Condition", "Bids"}, names, "empty fields must be omitted")
}
