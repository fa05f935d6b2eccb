package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
)

func newTestClient(t *testing.T, baseURL string, st *fakeStore, maxRetries int) *Client {
	t.Helper()
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
		BatchSize:  64,
		MaxRetries: maxRetries,
		Fanout:     1,
		Limiter:    rate.NewLimiter(rate.Inf, 1),
		Store:      st,
		Fallback:   &FallbackResolver{Store: st},
		workers:    []string{"worker-0"},
	}
}

func TestFetchBatch_RetryExhaustionFallsBackToCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	st := &fakeStore{snapshots: map[string]domain.TelemetrySnapshot{
		"alice": {Identity: "alice", WeightedVolume: ptrFallback(42)},
	}}
	c := newTestClient(t, srv.URL, st, 2)

	snaps := c.fetchBatch(context.Background(), []string{"alice"}, nil, nil)

	require.Len(t, snaps, 1)
	require.Equal(t, "alice", snaps[0].Identity)
	require.Equal(t, 3, hits, "expected initial attempt plus MaxRetries retries")
}

func TestFetchBatch_MissingFromResponseIsMaterializedEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"hotkey": "alice", "performance": {"weighted_volume": 10}}]`))
	}))
	defer srv.Close()

	st := &fakeStore{snapshots: map[string]domain.TelemetrySnapshot{}}
	c := newTestClient(t, srv.URL, st, 0)

	snaps := c.fetchBatch(context.Background(), []string{"alice", "bob"}, nil, nil)

	byIdentity := make(map[string]domain.TelemetrySnapshot, len(snaps))
	for _, s := range snaps {
		byIdentity[s.Identity] = s
	}
	require.Contains(t, byIdentity, "alice")
	require.NotNil(t, byIdentity["alice"].WeightedVolume)
	require.Contains(t, byIdentity, "bob", "expected identity missing from response to be materialized")
	require.Nil(t, byIdentity["bob"].WeightedVolume)
}

func TestFetchBatch_NonRetryableStatusFallsBackImmediately(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	st := &fakeStore{snapshots: map[string]domain.TelemetrySnapshot{}}
	c := newTestClient(t, srv.URL, st, 3)

	snaps := c.fetchBatch(context.Background(), []string{"alice"}, nil, nil)

	require.Empty(t, snaps, "expected no cached fallback to yield an empty result")
	require.Equal(t, 1, hits, "expected a 4xx non-retryable status to fail fast without retrying")
}

func TestFetchAll_FiltersUnusableSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"hotkey": "alice", "performance": {"weighted_volume": 10}}]`))
	}))
	defer srv.Close()

	st := &fakeStore{snapshots: map[string]domain.TelemetrySnapshot{}}
	c := newTestClient(t, srv.URL, st, 0)

	got, err := c.FetchAll(context.Background(), []string{"alice", "bob"}, nil, nil)
	require.NoError(t, err)

	var identities []string
	for _, s := range got {
		identities = append(identities, s.Identity)
	}
	require.Contains(t, identities, "alice")
	require.NotContains(t, identities, "bob", "expected bob's all-zero materialized snapshot to be filtered as unusable")
}
