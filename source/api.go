package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"ebay-scanner/pkg/scanner"
)

const (
	ebayTokenURL  = "https://api.ebay.com/identity/v1/oauth2/token"
	ebayBrowseURL = "https://api.ebay.com/buy/browse/v1/item_summary/search"
	ebayScope     = "https://api.ebay.com/oauth/api_scope"
)

// APIClient fetches listings through the eBay Browse API instead of
// scraping. Same Result contract as the Scraper.
type APIClient struct {
	client       *http.Client
	logger       *slog.Logger
	clientID     string
	clientSecret string
	tokenURL     string
	searchURL    string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewAPIClient creates an API-backed source.
func NewAPIClient(client *http.Client, clientID, clientSecret string, logger *slog.Logger) *APIClient {
	return &APIClient{
		client:       client,
		logger:       logger,
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     ebayTokenURL,
		searchURL:    ebayBrowseURL,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached application token, refreshing it via the
// client-credentials grant when it is within a minute of expiry.
func (a *APIClient) accessToken(ctx context.Context) (string, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && time.Until(a.tokenExpiry) > time.Minute {
		return a.token, 0, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", ebayScope)
	body := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("create token request: %w", err)
	}
	creds := base64.StdEncoding.EncodeToString([]byte(a.clientID + ":" + a.clientSecret))
	req.Header.Set("Authorization", "Basic "+creds)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token exchange: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			a.logger.Warn("Failed to close token response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", int64(len(respBody)), fmt.Errorf("token exchange: HTTP %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return "", int64(len(respBody)), fmt.Errorf("parse token response: %w", err)
	}

	a.token = tok.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	a.logger.Info("eBay API token refreshed", "expires_in_s", tok.ExpiresIn)
	return a.token, int64(len(respBody)), nil
}

type browseResponse struct {
	ItemSummaries []struct {
		ItemID string `json:"itemId"`
		Title  string `json:"title"`
		Price  struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"price"`
		ItemWebURL string `json:"itemWebUrl"`
		Image      struct {
			ImageURL string `json:"imageUrl"`
		} `json:"image"`
		Condition    string `json:"condition"`
		ItemLocation struct {
			City    string `json:"city"`
			Country string `json:"country"`
		} `json:"itemLocation"`
		BuyingOptions []string `json:"buyingOptions"`
		BidCount      int      `json:"bidCount"`
		ItemEndDate   string   `json:"itemEndDate"`
	} `json:"itemSummaries"`
}

// Fetch implements the same contract as Scraper.Fetch.
func (a *APIClient) Fetch(ctx context.Context, target *scanner.Target) (*Result, error) {
	token, tokenBytes, err := a.accessToken(ctx)
	if err != nil {
		return nil, &FetchError{URL: a.tokenURL, Err: err}
	}

	reqURL := a.searchURL + "?" + browseQuery(target).Encode()
	res := &Result{Bytes: tokenBytes}
	var body []byte

	fetchErr := retry.Do(
		func() error {
			res.Requests++

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("X-EBAY-C-MARKETPLACE-ID", "EBAY_US")

			startTime := time.Now()
			resp, err := a.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				a.logger.Warn("Browse API request failed, will retry",
					"target", target.Name(),
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					a.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}
			res.Bytes += int64(len(body))

			if resp.StatusCode == http.StatusUnauthorized {
				// Token revoked early; next cycle re-exchanges.
				a.mu.Lock()
				a.token = ""
				a.mu.Unlock()
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Info("Retrying Browse API fetch after error", "attempt", n, "target", target.Name(), "error", err)
		}),
	)
	if fetchErr != nil {
		return nil, &FetchError{URL: reqURL, Err: fetchErr}
	}

	var parsed browseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &FetchError{URL: reqURL, Err: fmt.Errorf("parse response: %w", err)}
	}

	for _, s := range parsed.ItemSummaries {
		price := s.Price.Value
		if price != "" && s.Price.Currency != "" {
			price = s.Price.Currency + " " + price
		}
		location := s.ItemLocation.City
		if s.ItemLocation.Country != "" {
			if location != "" {
				location += ", "
			}
			location += s.ItemLocation.Country
		}

		res.Items = append(res.Items, &scanner.Item{
			ID:            s.ItemID,
			Title:         s.Title,
			Price:         price,
			URL:           s.ItemWebURL,
			ImageURL:      s.Image.ImageURL,
			Condition:     s.Condition,
			Location:      location,
			ListingType:   strings.Join(s.BuyingOptions, "/"),
			BidCount:      s.BidCount,
			TimeRemaining: s.ItemEndDate,
		})
	}

	if len(res.Items) == 0 {
		return res, &DriftError{URL: reqURL}
	}

	a.logger.Debug("Browse API fetch completed",
		"target", target.Name(),
		"items", len(res.Items),
		"bytes", res.Bytes)
	return res, nil
}

// browseQuery builds the Browse API query for a target, newest first.
func browseQuery(target *scanner.Target) url.Values {
	q := url.Values{}
	q.Set("limit", "50")
	q.Set("sort", "newlyListed")

	var filters []string
	if target.Kind == scanner.KindStore {
		q.Set("q", "*")
		filters = append(filters, "sellers:{"+target.Identifier+"}")
	} else {
		q.Set("q", target.Identifier)
	}

	f := target.Filters
	if f.Category != "" {
		q.Set("category_ids", f.Category)
	}
	if f.MinPrice > 0 || f.MaxPrice > 0 {
		lo, hi := "", ""
		if f.MinPrice > 0 {
			lo = strconv.FormatFloat(f.MinPrice, 'f', 2, 64)
		}
		if f.MaxPrice > 0 {
			hi = strconv.FormatFloat(f.MaxPrice, 'f', 2, 64)
		}
		filters = append(filters, fmt.Sprintf("price:[%s..%s]", lo, hi), "priceCurrency:USD")
	}
	switch strings.ToLower(f.Condition) {
	case "new":
		filters = append(filters, "conditions:{NEW}")
	case "used":
		filters = append(filters, "conditions:{USED}")
	}
	switch strings.ToLower(f.ListingType) {
	case "auction":
		filters = append(filters, "buyingOptions:{AUCTION}")
	case "fixed":
		filters = append(filters, "buyingOptions:{FIXED_PRICE}")
	}
	if len(filters) > 0 {
		q.Set("filter", strings.Join(filters, ","))
	}

	return q
}
