// Package source fetches raw listings for a target, either by scraping
// eBay's listing pages or through the eBay Browse API. Both adapters
// produce the same Result shape; the scanning core does not care which
// one is behind it.
package source

import (
	"fmt"

	"ebay-scanner/pkg/scanner"
)

// Result is one fetch of a target's listings, with the transfer volume
// used for usage accounting.
type Result struct {
	Items    []*scanner.Item
	Bytes    int64
	Requests int
}

// FetchError indicates a network or HTTP failure retrieving listings.
// The scan for this cycle is aborted; the next cycle is unaffected.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DriftError indicates the page was retrieved but the expected structure
// yielded zero items. Logged as a layout-drift warning, distinct from an
// unreachable site.
type DriftError struct {
	URL string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("no items extracted from %s (layout drift?)", e.URL)
}
