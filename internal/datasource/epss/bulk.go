// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package epss

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bonial-oss/vuln-risk/internal/store"
	"github.com/bonial-oss/vuln-risk/internal/types"
)

const (
	maxDecompressedSize = 100 * 1024 * 1024 // 100 MB
	importBatchSize     = 5000
)

// Snapshot describes one daily EPSS CSV.
type Snapshot struct {
	ModelVersion string
	ScoreDate    string
	Scores       []types.EPSSScore
}

// Importer seeds the record store from the daily gzip CSV published at
// {bulkURL}/epss_scores-{date}.csv.gz.
type Importer struct {
	httpClient *http.Client
	bulkURL    string
	repo       store.Repository
	now        func() time.Time
}

func NewImporter(bulkURL string, repo store.Repository) *Importer {
	return &Importer{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		bulkURL:    strings.TrimSuffix(bulkURL, "/"),
		repo:       repo,
		now:        time.Now,
	}
}

// Import downloads today's CSV, or yesterday's when today's is not yet
// published, and upserts every row.
func (im *Importer) Import(ctx context.Context) (Snapshot, error) {
	snap, err := im.download(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return snap, im.store(ctx, snap)
}

// ImportFile imports an already downloaded CSV, gzip-compressed or not.
func (im *Importer) ImportFile(ctx context.Context, r io.Reader) (Snapshot, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return Snapshot{}, fmt.Errorf("reading EPSS file: %w", err)
	}
	var src io.Reader = br
	if len(head) == 2 && head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return Snapshot{}, fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gz.Close()
		src = io.LimitReader(gz, maxDecompressedSize)
	}
	snap, err := parseCSV(src)
	if err != nil {
		return Snapshot{}, err
	}
	return snap, im.store(ctx, snap)
}

func (im *Importer) store(ctx context.Context, snap Snapshot) error {
	fetchedAt := im.now()
	for start := 0; start < len(snap.Scores); start += importBatchSize {
		end := min(start+importBatchSize, len(snap.Scores))
		if err := im.repo.UpsertEPSSScores(ctx, snap.Scores[start:end], fetchedAt); err != nil {
			return fmt.Errorf("storing EPSS scores: %w", err)
		}
	}
	slog.Info("EPSS scores imported", "count", len(snap.Scores), "model", snap.ModelVersion, "scoreDate", snap.ScoreDate)
	return nil
}

// download fetches the gzip-compressed EPSS CSV for today's date.
// If today's file is not available, it falls back to yesterday's date.
func (im *Importer) download(ctx context.Context) (Snapshot, error) {
	now := im.now().UTC()
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")

	snap, err := im.downloadForDate(ctx, today)
	if err == nil {
		return snap, nil
	}

	snap, err2 := im.downloadForDate(ctx, yesterday)
	if err2 == nil {
		return snap, nil
	}

	return Snapshot{}, fmt.Errorf("%w: today (%s): %w; yesterday (%s): %v", types.ErrUpstream, today, err, yesterday, err2)
}

func (im *Importer) downloadForDate(ctx context.Context, date string) (Snapshot, error) {
	url := fmt.Sprintf("%s/epss_scores-%s.csv.gz", im.bulkURL, date)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("building request: %w", err)
	}
	resp, err := im.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Snapshot{}, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gz.Close()

	return parseCSV(io.LimitReader(gz, maxDecompressedSize))
}

// parseCSV parses the EPSS CSV. Leading comment lines carry model_version
// and score_date.
func parseCSV(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	br := bufio.NewReader(r)

	for {
		b, err := br.Peek(1)
		if err != nil || b[0] != '#' {
			break
		}
		line, err := br.ReadString('\n')
		snap.parseCommentLine(strings.TrimRight(line, "\r\n"))
		if err != nil {
			break
		}
	}

	reader := csv.NewReader(br)
	reader.ReuseRecord = true

	// Read and discard the CSV header line.
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return snap, nil
		}
		return Snapshot{}, fmt.Errorf("reading CSV header: %w", err)
	}

	date := snap.ScoreDate
	if len(date) >= len("2006-01-02") {
		date = date[:len("2006-01-02")]
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("reading CSV record: %w", err)
		}

		if len(record) < 3 {
			continue
		}

		score, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parsing EPSS score for %s: %w", record[0], err)
		}

		percentile, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parsing EPSS percentile for %s: %w", record[0], err)
		}

		snap.Scores = append(snap.Scores, types.EPSSScore{
			CVE:        record[0],
			EPSS:       score,
			Percentile: percentile,
			Date:       date,
		})
	}

	return snap, nil
}

// parseCommentLine extracts metadata from a comment line like:
// #model_version:v2025.03.14,score_date:2026-02-12T00:00:00+0000
func (s *Snapshot) parseCommentLine(line string) {
	line = strings.TrimPrefix(line, "#")
	for _, part := range strings.Split(line, ",") {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "model_version":
			s.ModelVersion = strings.TrimSpace(value)
		case "score_date":
			s.ScoreDate = strings.TrimSpace(value)
		}
	}
}
