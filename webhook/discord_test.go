package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordSend(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordProvider(srv.Client(), quietLogger())
	err := d.Send(context.Background(), srv.URL, &Message{
		Embeds: []Embed{{Title: "ThinkPad X220", Color: colorNewItem}},
	})
	require.NoError(t, err)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "ThinkPad X220", got.Embeds[0].Title)
}

func TestDiscordSendRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after": 1.5}`))
	}))
	defer srv.Close()

	d := NewDiscordProvider(srv.Client(), quietLogger())
	err := d.Send(context.Background(), srv.URL, &Message{Content: "hi"})

	var limited *RateLimitError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 1500*time.Millisecond, limited.RetryAfter)
}

func TestDiscordSendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDiscordProvider(srv.Client(), quietLogger())
	err := d.Send(context.Background(), srv.URL, &Message{Content: "hi"})
	require.Error(t, err)

	var limited *RateLimitError
	assert.False(t, errors.As(err, &limited), "a plain 5xx is not a rate limit")
}

func TestRetryAfterFallbacks(t *testing.T) {
	// Header only, no JSON body.
	resp := &http.Response{
		Header: http.Header{"Retry-After": []string{"2"}},
		Body:   http.NoBody,
	}
	assert.Equal(t, 2*time.Second, retryAfter(resp))

	// Neither body nor header.
	resp = &http.Response{Header: http.Header{}, Body: http.NoBody}
	assert.Equal(t, 5*time.Second, retryAfter(resp))
}
