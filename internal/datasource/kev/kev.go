// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package kev

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bonial-oss/vuln-risk/internal/types"
)

const maxResponseSize = 50 * 1024 * 1024 // 50 MB

// Fetcher retrieves the current KEV catalog from upstream.
type Fetcher interface {
	Fetch(ctx context.Context) (types.KEVCatalog, error)
}

// Client downloads the CISA KEV catalog, falling back to the GitHub mirror
// when the primary URL fails.
type Client struct {
	httpClient  *http.Client
	primaryURL  string
	fallbackURL string
}

// NewClient creates a client. fallbackURL may be empty.
func NewClient(primaryURL, fallbackURL string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
	}
}

// Fetch downloads and parses the catalog.
func (c *Client) Fetch(ctx context.Context) (types.KEVCatalog, error) {
	data, err := c.download(ctx)
	if err != nil {
		return types.KEVCatalog{}, err
	}
	return parseJSON(data)
}

// download fetches the catalog JSON from the primary URL, then from the
// fallback mirror.
func (c *Client) download(ctx context.Context) ([]byte, error) {
	data, err := c.downloadFrom(ctx, c.primaryURL)
	if err == nil {
		return data, nil
	}
	if c.fallbackURL == "" {
		return nil, fmt.Errorf("%w: primary (%s): %w", types.ErrUpstream, c.primaryURL, err)
	}

	data, err2 := c.downloadFrom(ctx, c.fallbackURL)
	if err2 == nil {
		return data, nil
	}

	return nil, fmt.Errorf("%w: primary (%s): %w; fallback (%s): %v", types.ErrUpstream, c.primaryURL, err, c.fallbackURL, err2)
}

func (c *Client) downloadFrom(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return data, nil
}

// parseJSON decodes the feed document. A feed without a count field gets
// the number of listed entries.
func parseJSON(data []byte) (types.KEVCatalog, error) {
	var catalog types.KEVCatalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return types.KEVCatalog{}, fmt.Errorf("unmarshaling KEV catalog: %w", err)
	}
	if catalog.Count == 0 {
		catalog.Count = len(catalog.Vulnerabilities)
	}
	if catalog.Vulnerabilities == nil {
		catalog.Vulnerabilities = []types.KEVVulnerability{}
	}
	return catalog, nil
}
