// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package types

import "errors"

// Failure classes shared by the enrichment pipeline. They are wrapped with
// context and matched with errors.Is; none of them escapes a service
// boundary under degraded upstream conditions.
var (
	// ErrValidationSkip marks malformed input that is filtered out.
	ErrValidationSkip = errors.New("invalid identifier skipped")
	// ErrUpstreamRateLimited is returned when an upstream answers 429.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	// ErrUpstream is returned for any other upstream failure.
	ErrUpstream = errors.New("upstream request failed")
	// ErrCacheUnavailable wraps storage failures of the durable cache.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrNoDataAvailable means neither fresh nor stale data exists.
	ErrNoDataAvailable = errors.New("no data available")
)
