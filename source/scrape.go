package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"ebay-scanner/pkg/scanner"
)

const ebaySearchURL = "https://www.ebay.com/sch/i.html"

// Scraper fetches listings by parsing eBay search result pages.
type Scraper struct {
	client *http.Client
	logger *slog.Logger
}

// NewScraper creates a scraping source.
func NewScraper(client *http.Client, logger *slog.Logger) *Scraper {
	return &Scraper{
		client: client,
		logger: logger,
	}
}

// Fetch retrieves the newest listings for the target. On layout drift the
// returned Result still carries the transfer volume alongside a DriftError.
func (s *Scraper) Fetch(ctx context.Context, target *scanner.Target) (*Result, error) {
	pageURL := listingURL(target)

	var body []byte
	requests := 0

	err := retry.Do(
		func() error {
			requests++

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			// Set essential Chrome-like headers to avoid getting blocked
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")
			// Note: Don't set Accept-Encoding - let Go's http.Client handle compression automatically
			req.Header.Set("Sec-Ch-Ua", `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`)
			req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
			req.Header.Set("Sec-Ch-Ua-Platform", `"macOS"`)
			req.Header.Set("Sec-Fetch-Dest", "document")
			req.Header.Set("Sec-Fetch-Mode", "navigate")
			req.Header.Set("Sec-Fetch-Site", "none")
			req.Header.Set("Upgrade-Insecure-Requests", "1")

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Debug("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying listing fetch after error", "attempt", n, "target", target.Name(), "error", err)
		}),
	)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}

	items, err := parseListings(bytes.NewReader(body))
	res := &Result{
		Items:    items,
		Bytes:    int64(len(body)),
		Requests: requests,
	}
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	if len(items) == 0 {
		// Page came back fine but no listing cards matched. Either the
		// result set is genuinely empty or eBay changed its markup.
		return res, &DriftError{URL: pageURL}
	}

	s.logger.Debug("Listings parsed",
		"target", target.Name(),
		"url", pageURL,
		"items", len(items),
		"bytes", res.Bytes)
	return res, nil
}

// listingURL builds the search URL for a target, newest listings first.
func listingURL(target *scanner.Target) string {
	q := url.Values{}
	if target.Kind == scanner.KindStore {
		q.Set("_ssn", target.Identifier)
	} else {
		q.Set("_nkw", target.Identifier)
	}
	q.Set("_sop", "10") // newly listed first

	f := target.Filters
	if f.Category != "" {
		q.Set("_sacat", f.Category)
	}
	if f.MinPrice > 0 {
		q.Set("_udlo", strconv.FormatFloat(f.MinPrice, 'f', -1, 64))
	}
	if f.MaxPrice > 0 {
		q.Set("_udhi", strconv.FormatFloat(f.MaxPrice, 'f', -1, 64))
	}
	switch strings.ToLower(f.Condition) {
	case "new":
		q.Set("LH_ItemCondition", "1000")
	case "used":
		q.Set("LH_ItemCondition", "3000")
	}
	switch strings.ToLower(f.ListingType) {
	case "auction":
		q.Set("LH_Auction", "1")
	case "fixed":
		q.Set("LH_BIN", "1")
	}

	return ebaySearchURL + "?" + q.Encode()
}

func parseListings(body io.Reader) ([]*scanner.Item, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var items []*scanner.Item
	doc.Find("li.s-item, div.s-item").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find(".s-item__title").First().Text())
		// eBay pads result lists with a template card.
		if title == "" || strings.EqualFold(title, "Shop on eBay") {
			return
		}

		link, _ := sel.Find("a.s-item__link").First().Attr("href")
		id := itemIDFromURL(link)
		if id == "" {
			return
		}

		bids := 0
		if bidText := strings.TrimSpace(sel.Find(".s-item__bids").First().Text()); bidText != "" {
			// "12 bids" -> 12
			if n, convErr := strconv.Atoi(strings.Fields(bidText)[0]); convErr == nil {
				bids = n
			}
		}

		imageURL, _ := sel.Find(".s-item__image img").First().Attr("src")

		items = append(items, &scanner.Item{
			ID:            id,
			Title:         title,
			Price:         strings.TrimSpace(sel.Find(".s-item__price").First().Text()),
			URL:           stripTracking(link),
			ImageURL:      imageURL,
			Condition:     strings.TrimSpace(sel.Find(".s-item__subtitle .SECONDARY_INFO").First().Text()),
			Location:      strings.TrimSpace(strings.TrimPrefix(sel.Find(".s-item__location").First().Text(), "from ")),
			Shipping:      strings.TrimSpace(sel.Find(".s-item__shipping").First().Text()),
			ListingType:   strings.TrimSpace(sel.Find(".s-item__purchase-options").First().Text()),
			BidCount:      bids,
			TimeRemaining: strings.TrimSpace(sel.Find(".s-item__time-left").First().Text()),
		})
	})

	return items, nil
}

// itemIDFromURL extracts the listing ID from an item URL such as
// https://www.ebay.com/itm/123456789012?hash=....
func itemIDFromURL(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "itm" && i+1 < len(parts) {
			id := parts[i+1]
			// Some URL variants are /itm/<slug>/<id>.
			if _, convErr := strconv.ParseUint(id, 10, 64); convErr != nil && i+2 < len(parts) {
				id = parts[i+2]
			}
			return id
		}
	}
	return ""
}

// stripTracking drops the query string from a listing URL; everything in
// it is click tracking.
func stripTracking(link string) string {
	if idx := strings.IndexByte(link, '?'); idx > 0 {
		return link[:idx]
	}
	return link
}
