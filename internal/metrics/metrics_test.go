package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllMetricsWithoutPanicking(t *testing.T) {
	r := New()
	require.NotNil(t, r)

	// New panics through MustRegister if any metric fails to register on the
	// isolated registry; incrementing every counter/gauge/histogram afterwards
	// checks that each field was constructed and must not panic either.
	r.EpochDuration.Observe(0.5)
	r.CommitOutcomes.WithLabelValues("committed").Inc()
	r.ScoringBootstraps.Inc()
	r.ScoringCliffResets.Inc()
	r.ScoringActive.Set(3)
	r.TelemetryBatchOK.Inc()
	r.TelemetryBatchFail.Inc()
}

func TestServe_ExposesMetricsEndpointAndShutsDownOnCancel(t *testing.T) {
	r := New()
	r.TelemetryBatchOK.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Serve(ctx, "127.0.0.1:19876") }()

	// Give the listener a moment to come up.
	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get("http://127.0.0.1:19876/metrics")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "validator_telemetry_batches_succeeded_total")

	cancel()
	require.NoError(t, <-errCh)
}
