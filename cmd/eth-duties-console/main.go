// Command eth-duties-console monitors upcoming Ethereum consensus-layer
// validator duties for a configured validator set and logs/exposes them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/chuckpreslar/emission"
	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/ethduties/duty-console/internal/beaconapi"
	"github.com/ethduties/duty-console/internal/cicd"
	"github.com/ethduties/duty-console/internal/config"
	"github.com/ethduties/duty-console/internal/duty"
	"github.com/ethduties/duty-console/internal/logging"
	"github.com/ethduties/duty-console/internal/metrics"
	"github.com/ethduties/duty-console/internal/nodepool"
	"github.com/ethduties/duty-console/internal/registry"
	"github.com/ethduties/duty-console/internal/restapi"
	"github.com/ethduties/duty-console/internal/slotclock"
)

const requestTimeout = 10 * time.Second

func main() {
	app := config.App(run)

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := newLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	installSignalHandler(cancel, log)

	broker := emission.NewEmitter()

	beaconPool := nodepool.NewBeaconPoolWithBroker(log, cfg.BeaconNodes, requestTimeout, broker)

	keyManagerEndpoints := make([]nodepool.KeyManagerEndpoint, 0, len(cfg.ValidatorNodes))
	for _, n := range cfg.ValidatorNodes {
		keyManagerEndpoints = append(keyManagerEndpoints, nodepool.KeyManagerEndpoint{URL: n.URL, BearerToken: n.BearerToken})
	}

	keyManagerPool := nodepool.NewKeyManagerPool(log, keyManagerEndpoints, broker, requestTimeout)

	client := beaconapi.NewClient(log, beaconPool, requestTimeout)

	clock, err := slotclock.New(ctx, log, client)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	reg := registry.New(log, client, broker)

	if err := keyManagerPool.Start(ctx, cfg.ValidatorUpdateInterval); err != nil {
		return fmt.Errorf("startup: key manager pool: %w", err)
	}

	if err := reg.Refresh(ctx, resolveRawTokens(ctx, log, cfg.Validators, keyManagerPool)); err != nil {
		return fmt.Errorf("startup: resolve validator identifiers: %w", err)
	}

	store := duty.NewStore(clock)

	fetcher := duty.New(log, reg, clock, client, client, client, duty.Options{
		DisableAttestationDuties: cfg.OmitAttestationDuties,
		MaxAttestationDutyLogs:   cfg.MaxAttestationDutyLogs,
	})

	renderer := logging.New(log, clock, cfg.Thresholds, cfg.LogPubkeys)

	terminator := cicd.New(log, cicd.Options{
		Mode:                   cfg.Mode,
		MaxWaitingIterations:   cfg.MaxWaitingIterations(),
		AttestationTimeSeconds: cfg.ModeCICDAttestationTime,
		AttestationProportion:  cfg.ModeCICDAttestationProp,
	})

	m := metrics.New(log)

	broker.On(registry.TopicIdentifiersUpdated, func() {
		store.MarkIdentifiersUpdated()
	})

	broker.On(nodepool.TopicBeaconNodeHealthChanged, func(node string, healthy bool) {
		value := 0.0
		if healthy {
			value = 1.0
		} else if node == beaconPool.Primary() {
			m.NodePool.BeaconFailoverEvents.Inc()
		}

		m.NodePool.BeaconNodeHealthy.WithLabelValues(node).Set(value)
	})

	broker.On(nodepool.TopicKeyManagerHealthChanged, func(endpoint string, healthy bool) {
		value := 0.0
		if healthy {
			value = 1.0
		}

		m.NodePool.KeyManagerHealthy.WithLabelValues(endpoint).Set(value)
	})

	switch {
	case cfg.RESTRequested && isCICDModeActive(cfg):
		log.Info("rest flag ignored")
	case cfg.RESTEnabled:
		server := restapi.New(log, store, reg, cfg.RESTHost+":"+strconv.Itoa(cfg.RESTPort))
		if err := server.Start(ctx); err != nil {
			log.WithError(err).Warn("port in use, starting without rest server")
		}
	}

	scheduler := gocron.NewScheduler(time.Local)

	if _, err := scheduler.Every(cfg.ValidatorUpdateInterval.String()).Do(func() {
		refreshIdentifiers(ctx, log, reg, cfg, keyManagerPool)
	}); err != nil {
		return fmt.Errorf("startup: schedule identifier refresh: %w", err)
	}

	if _, err := scheduler.Every(cfg.Interval.String()).Do(func() {
		runCycle(ctx, log, fetcher, store, renderer, terminator, reg, m)
	}); err != nil {
		return fmt.Errorf("startup: schedule main loop: %w", err)
	}

	scheduler.StartAsync()

	<-ctx.Done()

	scheduler.Stop()

	return nil
}

func runCycle(
	ctx context.Context,
	log logrus.FieldLogger,
	fetcher *duty.Fetcher,
	store *duty.Store,
	renderer *logging.Renderer,
	terminator *cicd.Terminator,
	reg *registry.Registry,
	m *metrics.Metrics,
) {
	start := time.Now()

	cached := store.Get()
	if store.IsFresh(cached) {
		m.Fetcher.CacheFreshHitTotal.Inc()
		annotateSecondsToDuty(cached, fetcher.Clock())

		renderer.Render(cached, reg.Snapshot())
		terminator.Check(cached)

		return
	}

	m.Fetcher.CacheMissTotal.Inc()

	if store.ConsumeUpdateFlag() {
		log.Debug("identifier registry changed, rebuilding duty cache")
	}

	duties, err := fetcher.FetchAll(ctx)
	if err != nil {
		log.WithError(err).Error("duty fetch cycle failed")
		m.Fetcher.FetchCyclesTotal.WithLabelValues("error").Inc()

		return
	}

	m.Fetcher.FetchCyclesTotal.WithLabelValues("ok").Inc()
	m.Fetcher.FetchDuration.Observe(time.Since(start).Seconds())
	m.Registry.ActiveValidators.Set(float64(reg.Size()))

	store.Set(duties)
	annotateSecondsToDuty(duties, fetcher.Clock())

	renderer.Render(duties, reg.Snapshot())
	terminator.Check(duties)
}

// annotateSecondsToDuty refreshes each duty's transient SecondsToDuty field
// so the cicd terminator's relevance check reflects the current wall clock
// even when duties are served from the store's cache.
func annotateSecondsToDuty(duties []*duty.Duty, clock *slotclock.Clock) {
	for _, d := range duties {
		d.SecondsToDuty = duty.SecondsToDuty(d, clock)
	}
}

// refreshIdentifiers implements the interval refresh: re-parse the CLI/file
// tokens captured at startup (the validators file is not read again) and
// re-fetch keystores from every healthy key-manager endpoint, then republish
// the union against the beacon node's validator state.
func refreshIdentifiers(ctx context.Context, log logrus.FieldLogger, reg *registry.Registry, cfg *config.Config, keyManagerPool *nodepool.KeyManagerPool) {
	if err := reg.Refresh(ctx, resolveRawTokens(ctx, log, cfg.Validators, keyManagerPool)); err != nil {
		log.WithError(err).Warn("identifier refresh failed")
	}
}

// resolveRawTokens unions the static CLI/file validator tokens with the
// pubkeys currently managed by every healthy key-manager endpoint
// (spec.md §4.4), so --validator-nodes alone is a sufficient identifier
// source.
func resolveRawTokens(ctx context.Context, log logrus.FieldLogger, validators []string, keyManagerPool *nodepool.KeyManagerPool) []registry.RawIdentifier {
	raws, _ := registry.ParseTokens(log, validators)

	for _, pubkey := range keyManagerPool.FetchKeystores(ctx) {
		if raw, ok := registry.ParseRaw(log, pubkey, true); ok {
			raws = append(raws, raw)
		}
	}

	return raws
}

func isCICDModeActive(cfg *config.Config) bool {
	return cfg.Mode != cicd.ModeLog && cfg.Mode != cicd.ModeNoLog
}

func newLogger(level string) logrus.FieldLogger {
	log := logrus.New()

	if level == "DEBUG" {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func installSignalHandler(cancel context.CancelFunc, log logrus.FieldLogger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		log.Info("shutting down")
		cancel()
	}()
}
