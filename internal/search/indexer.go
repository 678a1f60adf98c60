package search

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Indexer receives projected documents for the external search index.
type Indexer interface {
	Index(ctx context.Context, doc Document) error
	Remove(ctx context.Context, productID int64) error
}

// HTTPIndexer pushes documents to a search index over plain HTTP:
// PUT <base>/<id> with the JSON document, DELETE <base>/<id> on removal.
type HTTPIndexer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPIndexer creates an indexer targeting baseURL.
func NewHTTPIndexer(baseURL string) *HTTPIndexer {
	return &HTTPIndexer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (i *HTTPIndexer) Index(ctx context.Context, doc Document) error {
	body, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("search: failed to marshal document %d: %w", doc.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/%d", i.baseURL, doc.ID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("search: failed to build index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return i.do(req)
}

func (i *HTTPIndexer) Remove(ctx context.Context, productID int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/%d", i.baseURL, productID), nil)
	if err != nil {
		return fmt.Errorf("search: failed to build remove request: %w", err)
	}
	return i.do(req)
}

func (i *HTTPIndexer) do(req *http.Request) error {
	res, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("search: index request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("search: index responded with status %d", res.StatusCode)
	}
	return nil
}

// NoopIndexer satisfies Indexer when no search index is configured.
type NoopIndexer struct{}

func (NoopIndexer) Index(ctx context.Context, doc Document) error     { return nil }
func (NoopIndexer) Remove(ctx context.Context, productID int64) error { return nil }
