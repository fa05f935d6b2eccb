// Command validator runs the prediction-market subnet validator: it syncs
// the network view, scores participants on telemetry, builds the weight
// vector, and commits it on a loop paced by the subnet's tempo.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wahoo-predict/wahoot-sub000/internal/audit"
	"github.com/wahoo-predict/wahoot-sub000/internal/chain"
	"github.com/wahoo-predict/wahoot-sub000/internal/commit"
	"github.com/wahoo-predict/wahoot-sub000/internal/config"
	"github.com/wahoo-predict/wahoot-sub000/internal/epoch"
	"github.com/wahoo-predict/wahoot-sub000/internal/logging"
	"github.com/wahoo-predict/wahoot-sub000/internal/metrics"
	"github.com/wahoo-predict/wahoot-sub000/internal/reward"
	"github.com/wahoo-predict/wahoot-sub000/internal/scoring"
	"github.com/wahoo-predict/wahoot-sub000/internal/store"
	"github.com/wahoo-predict/wahoot-sub000/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "validator: config error:", err)
		os.Exit(2)
	}

	log := logging.New(cfg.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logging.WithLogger(ctx, log)

	log.Info().Str("wallet", cfg.WalletName).Str("hotkey", cfg.HotkeyName).
		Uint64("netuid", cfg.NetUID).Str("network", cfg.Network).
		Msg("starting validator")

	baseStore, err := store.Build(cfg.StoreBackend, cfg.StorePath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		os.Exit(1)
	}
	st := store.NewCachedStore(baseStore, cfg.RedisAddr, cfg.SnapshotTTL)
	defer st.Close()

	chainClient, err := buildChainClient(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to build chain client")
		os.Exit(1)
	}

	var metricsReg *metrics.Registry
	if cfg.MetricsEnabled {
		metricsReg = metrics.New()
		go func() {
			if err := metricsReg.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	httpClient := &http.Client{Timeout: cfg.TelemetryTimeout}
	telemetryClient := telemetry.NewClient(
		cfg.TelemetryBaseURL, httpClient,
		cfg.TelemetryBatchSize, cfg.TelemetryMaxRetries, cfg.TelemetryFanout,
		cfg.TelemetryRatePerSec, st,
	)
	telemetryClient.Metrics = metricsReg
	eventClient := &telemetry.EventIDClient{BaseURL: cfg.EventListBaseURL, HTTPClient: httpClient}

	commitManager := commit.NewManager(chainClient, cfg.CommitMaxRetries, cfg.CommitPeriod)

	rewardBuilder := &reward.Builder{
		Thresholds: reward.Thresholds{MinVolumeUSD: cfg.MinVolumeUSD, MinWinRate: cfg.MinWinRate},
	}

	auditSink, err := buildAuditSink(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to build audit sink, falling back to noop")
		auditSink = audit.NoopSink{}
	}
	defer auditSink.Close()

	driver := &epoch.Driver{
		Chain:                chainClient,
		Store:                st,
		Telemetry:            telemetryClient,
		EventID:              eventClient,
		Scoring:              scoring.New(),
		Reward:               rewardBuilder,
		Commit:               commitManager,
		Audit:                auditSink,
		Metrics:              metricsReg,
		NetUID:               cfg.NetUID,
		SnapshotTTL:          cfg.SnapshotTTL,
		ScoreTTL:             cfg.ScoreTTL,
		LoopIntervalOverride: cfg.LoopIntervalOverride,
	}

	runLoop(ctx, driver)
	log.Info().Msg("validator shut down cleanly")
}

// runLoop drives the epoch loop until ctx is canceled, sleeping between
// ticks for the driver's own recommended interval.
func runLoop(ctx context.Context, driver *epoch.Driver) {
	log := logging.From(ctx)
	for {
		outcome, sleep := driver.RunOnce(ctx)
		log.Info().Str("outcome", string(outcome)).Dur("sleep", sleep).Msg("epoch tick complete")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// buildChainClient constructs the chain adapter. The real signing/RPC stack
// behind the chain.Client interface is out of scope (see SPEC_FULL.md §1);
// CHAIN_SIMULATED opts into the in-process fake for local dry runs.
func buildChainClient(cfg *config.Config) (chain.Client, error) {
	if os.Getenv("CHAIN_SIMULATED") != "true" {
		return nil, fmt.Errorf("no production chain client wired yet; set CHAIN_SIMULATED=true for a local dry run")
	}
	sim := chain.NewSimulated(chain.NetworkView{}, cfg.CommitPeriod)
	return sim, nil
}

func buildAuditSink(cfg *config.Config) (audit.Sink, error) {
	if len(cfg.AuditKafkaBrokers) == 0 {
		return audit.NoopSink{}, nil
	}
	return audit.NewKafkaSink(cfg.AuditKafkaBrokers, cfg.AuditKafkaTopic)
}
