// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package epss

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bonial-oss/vuln-risk/internal/types"
)

const maxResponseSize = 10 * 1024 * 1024 // 10 MB

// Fetcher retrieves scores for a batch of CVEs from upstream.
type Fetcher interface {
	Fetch(ctx context.Context, cves []string) ([]types.EPSSScore, error)
}

// Offline is a Fetcher that never reaches upstream. Services built on it
// answer from stored rows only.
type Offline struct{}

func (Offline) Fetch(context.Context, []string) ([]types.EPSSScore, error) {
	return nil, fmt.Errorf("%w: offline mode", types.ErrUpstream)
}

// Client queries the FIRST EPSS API. Requests are paced by a token bucket
// shared by all callers.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a client for baseURL (e.g. https://api.first.org/data/v1)
// allowing requestsPerSecond requests.
func NewClient(baseURL string, requestsPerSecond float64) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// apiResponse mirrors the EPSS API envelope. Numbers arrive as strings.
type apiResponse struct {
	Status string `json:"status"`
	Total  int    `json:"total"`
	Data   []struct {
		CVE        string `json:"cve"`
		EPSS       string `json:"epss"`
		Percentile string `json:"percentile"`
		Date       string `json:"date"`
	} `json:"data"`
}

// Fetch requests scores for cves in a single call. CVEs unknown to EPSS are
// absent from the result. A 429 answer yields ErrUpstreamRateLimited, any
// other failure ErrUpstream.
func (c *Client) Fetch(ctx context.Context, cves []string) ([]types.EPSSScore, error) {
	if len(cves) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	// Validated CVE ids need no escaping.
	endpoint := c.baseURL + "/epss?cve=" + strings.Join(cves, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: HTTP 429 from EPSS API", types.ErrUpstreamRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: HTTP %d from EPSS API", types.ErrUpstream, resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding EPSS response: %w", types.ErrUpstream, err)
	}

	scores := make([]types.EPSSScore, 0, len(body.Data))
	for _, d := range body.Data {
		score, err := strconv.ParseFloat(d.EPSS, 64)
		if err != nil {
			continue
		}
		percentile, err := strconv.ParseFloat(d.Percentile, 64)
		if err != nil {
			continue
		}
		scores = append(scores, types.EPSSScore{CVE: d.CVE, EPSS: score, Percentile: percentile, Date: d.Date})
	}
	return scores, nil
}

// chunkCVEs packs cves greedily into groups whose comma-joined form is at
// most maxLen characters. Order is preserved. An id longer than maxLen on
// its own still gets a group.
func chunkCVEs(cves []string, maxLen int) [][]string {
	var chunks [][]string
	var current []string
	length := 0
	for _, cve := range cves {
		add := len(cve)
		if len(current) > 0 {
			add++ // separator
		}
		if len(current) > 0 && length+add > maxLen {
			chunks = append(chunks, current)
			current, length, add = nil, 0, len(cve)
		}
		current = append(current, cve)
		length += add
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
