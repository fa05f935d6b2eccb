// Package telemetry is the batched, retrying HTTP fetcher for upstream
// per-participant trading statistics. It normalizes records into
// domain.TelemetrySnapshot, reports partial failure per batch to the
// fallback resolver, and writes every successfully parsed record to the
// store before the final usability filter runs.
package telemetry

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgryski/go-rendezvous"
	"golang.org/x/time/rate"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
	"github.com/wahoo-predict/wahoot-sub000/internal/logging"
	"github.com/wahoo-predict/wahoot-sub000/internal/metrics"
	"github.com/wahoo-predict/wahoot-sub000/internal/store"
)

// retryableStatusCodes are retried with exponential backoff; everything
// else is treated as a permanent failure for the chunk.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

const maxBackoff = 30 * time.Second

// Client fetches telemetry for a set of identities in bounded batches, with
// retry on transient HTTP failure and a small worker pool for the
// per-batch fan-out.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	BatchSize  int
	MaxRetries int
	Fanout     int
	Limiter    *rate.Limiter
	Store      store.Store
	Fallback   *FallbackResolver
	Metrics    *metrics.Registry // optional; nil disables batch success/failure counters

	workers []string // synthetic worker names for rendezvous assignment
}

// NewClient builds a Client with the given deployment tunables. fanout must
// be >= 1.
func NewClient(baseURL string, httpClient *http.Client, batchSize, maxRetries, fanout int, ratePerSec float64, st store.Store) *Client {
	if fanout < 1 {
		fanout = 1
	}
	workers := make([]string, fanout)
	for i := range workers {
		workers[i] = fmt.Sprintf("worker-%d", i)
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
		BatchSize:  batchSize,
		MaxRetries: maxRetries,
		Fanout:     fanout,
		Limiter:    rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1),
		Store:      st,
		Fallback:   &FallbackResolver{Store: st},
		workers:    workers,
	}
}

// FetchAll deduplicates and trims identities, splits them into batches,
// fetches each batch (optionally falling back to cache on failure), writes
// every parsed record to the store, and returns only the snapshots that
// carry at least one usable metric.
func (c *Client) FetchAll(ctx context.Context, identities []string, start, end *time.Time) ([]domain.TelemetrySnapshot, error) {
	log := logging.From(ctx)

	clean := dedupeTrim(identities)
	if len(clean) == 0 {
		return nil, nil
	}

	batches := chunk(clean, c.BatchSize)

	assign := rendezvous.New(c.workers, fnvHash)
	buckets := make(map[string][][]string, len(c.workers))
	for _, batch := range batches {
		worker := assign.Get(strings.Join(batch, ","))
		buckets[worker] = append(buckets[worker], batch)
	}

	var mu sync.Mutex
	var all []domain.TelemetrySnapshot
	var wg sync.WaitGroup

	for _, batchList := range buckets {
		wg.Add(1)
		go func(batches [][]string) {
			defer wg.Done()
			for _, batch := range batches {
				snaps := c.fetchBatch(ctx, batch, start, end)
				mu.Lock()
				all = append(all, snaps...)
				mu.Unlock()
			}
		}(batchList)
	}
	wg.Wait()

	usable := make([]domain.TelemetrySnapshot, 0, len(all))
	for _, snap := range all {
		if snap.Usable() {
			usable = append(usable, snap)
		}
	}
	log.Info().Int("requested", len(clean)).Int("fetched", len(all)).Int("usable", len(usable)).
		Msg("telemetry fetch complete")
	return usable, nil
}

// fetchBatch fetches one batch, retrying on transient failure, falling back
// to cache when the request fails (a permanent failure or exhausted
// retries), and writing every successfully parsed
// record to the store. It always returns a slice whose identities match the
// requested batch (missing-from-response identities are materialized
// empty), unless the fallback resolver also comes up empty.
func (c *Client) fetchBatch(ctx context.Context, batch []string, start, end *time.Time) []domain.TelemetrySnapshot {
	log := logging.From(ctx)

	records, err := c.requestWithRetry(ctx, batch, start, end)
	if err != nil {
		if c.Metrics != nil {
			c.Metrics.TelemetryBatchFail.Inc()
		}
		log.Warn().Err(err).Int("batch_size", len(batch)).Msg("telemetry batch failed, falling back to cache")
		cached := c.Fallback.Resolve(ctx, batch)
		out := make([]domain.TelemetrySnapshot, 0, len(cached))
		for _, snap := range cached {
			out = append(out, snap)
		}
		return out
	}
	if c.Metrics != nil {
		c.Metrics.TelemetryBatchOK.Inc()
	}

	byIdentity := make(map[string]domain.TelemetrySnapshot, len(records))
	requested := make(map[string]bool, len(batch))
	for _, id := range batch {
		requested[id] = true
	}

	now := time.Now()
	for _, r := range records {
		if !requested[r.Hotkey] {
			continue // ignore records for identities outside this request
		}
		byIdentity[r.Hotkey] = toSnapshot(r, now)
	}
	for _, id := range batch {
		if _, ok := byIdentity[id]; !ok {
			byIdentity[id] = emptySnapshot(id, now)
		}
	}

	out := make([]domain.TelemetrySnapshot, 0, len(byIdentity))
	for _, snap := range byIdentity {
		if err := c.Store.UpsertSnapshot(ctx, snap); err != nil {
			log.Warn().Err(err).Str("identity", snap.Identity).Msg("failed to cache telemetry snapshot")
		}
		out = append(out, snap)
	}
	return out
}

// requestWithRetry performs the HTTP GET for one batch, retrying on 429/5xx
// with exponential backoff capped at 30s, up to MaxRetries additional
// attempts. Any other 4xx, repeated timeout, or malformed JSON is a
// permanent failure for this batch.
func (c *Client) requestWithRetry(ctx context.Context, batch []string, start, end *time.Time) ([]wireRecord, error) {
	log := logging.From(ctx)

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("telemetry: rate limiter: %w", err)
		}

		req, err := c.buildRequest(ctx, batch, start, end)
		if err != nil {
			return nil, err
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("telemetry: request: %w", err)
			if attempt < c.MaxRetries {
				sleepBackoff(ctx, attempt)
				continue
			}
			return nil, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("telemetry: read body: %w", readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			records, err := decodeResponse(body)
			if err != nil {
				return nil, fmt.Errorf("telemetry: malformed response: %w", err)
			}
			return records, nil
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("telemetry: upstream status %d", resp.StatusCode)
			if attempt < c.MaxRetries {
				log.Debug().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("retrying telemetry batch")
				sleepBackoff(ctx, attempt)
				continue
			}
			return nil, lastErr
		}

		return nil, fmt.Errorf("telemetry: non-retryable upstream status %d", resp.StatusCode)
	}
	return nil, lastErr
}

func (c *Client) buildRequest(ctx context.Context, batch []string, start, end *time.Time) (*http.Request, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("hotkeys", strings.Join(batch, ","))
	if start != nil {
		q.Set("start_date", start.Format(time.RFC3339))
	}
	if end != nil {
		q.Set("end_date", end.Format(time.RFC3339))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build request: %w", err)
	}
	return req, nil
}

// sleepBackoff sleeps min(30s, 1s * 2^attempt), respecting ctx cancellation.
func sleepBackoff(ctx context.Context, attempt int) {
	delay := time.Second * time.Duration(1<<uint(attempt))
	if delay > maxBackoff {
		delay = maxBackoff
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func dedupeTrim(identities []string) []string {
	seen := make(map[string]bool, len(identities))
	out := make([]string, 0, len(identities))
	for _, id := range identities {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func chunk(identities []string, size int) [][]string {
	if size <= 0 {
		size = 64
	}
	var out [][]string
	for i := 0; i < len(identities); i += size {
		end := i + size
		if end > len(identities) {
			end = len(identities)
		}
		out = append(out, identities[i:end])
	}
	return out
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
