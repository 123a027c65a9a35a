// Package fetcher retrieves supplier product pages over HTTP with bounded
// timeouts and per-host politeness limits.
package fetcher

import "context"

// Page is a fetched supplier page.
type Page struct {
	Status int
	Body   string
}

// Fetcher retrieves a single URL. The reconciliation worker depends only on
// this interface.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}
