// Package runtime assembles the daemon: bus, store, synthesis, playback,
// and dispatch, plus the HTTP surface for health and metrics.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pagevoice-labs/pagevoice-core/internal/bus"
	"github.com/pagevoice-labs/pagevoice-core/internal/config"
	"github.com/pagevoice-labs/pagevoice-core/internal/coordinator"
	"github.com/pagevoice-labs/pagevoice-core/internal/dispatch"
	"github.com/pagevoice-labs/pagevoice-core/internal/download"
	"github.com/pagevoice-labs/pagevoice-core/internal/natsserver"
	"github.com/pagevoice-labs/pagevoice-core/internal/player"
	"github.com/pagevoice-labs/pagevoice-core/internal/store"
	"github.com/pagevoice-labs/pagevoice-core/internal/synth"
	"github.com/pagevoice-labs/pagevoice-core/internal/text"
	"github.com/pagevoice-labs/pagevoice-core/internal/voices"
)

type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	healthChecks   []func() bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, then blocks until ctx is cancelled and
// the runtime has shut down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	if r.cfg.Bus.Embedded {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		defer embedded.Shutdown()
	}

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()
	r.healthChecks = append(r.healthChecks, busClient.Healthy)

	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.Seed(ctx, r.cfg.Settings); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}

	normalizer, err := text.NewNormalizer()
	if err != nil {
		return fmt.Errorf("failed to build text normalizer: %w", err)
	}

	notifier := dispatch.NewBusNotifier(busClient, r.logger)

	var synthesizer synth.Synthesizer
	switch r.cfg.Synth.Mode {
	case "mock":
		synthesizer = synth.NewMockSynth()
	default:
		synthesizer = synth.NewPollyClient(notifier, r.logger)
	}

	var sink player.Sink
	switch r.cfg.Player.Sink {
	case "mock":
		sink = player.NewMockSink()
	default:
		sink = player.NewBeepSink()
	}
	playerSvc := player.NewService(ctx, busClient, sink, r.logger)
	if err := playerSvc.Start(); err != nil {
		return fmt.Errorf("failed to start player service: %w", err)
	}
	defer playerSvc.Close()
	r.healthChecks = append(r.healthChecks, playerSvc.Healthy)

	playerClient := player.NewClient(busClient, r.cfg.Player, r.logger)
	menu := dispatch.NewMenuPublisher(busClient, r.logger)
	downloads := download.NewDirSink(r.cfg.Download.Directory, r.logger)
	coord := coordinator.New(normalizer, synthesizer, playerClient, st, st, menu, downloads, r.logger)

	dispatchSvc := dispatch.NewService(ctx, busClient, coord, normalizer, r.logger)
	if err := dispatchSvc.Start(); err != nil {
		return fmt.Errorf("failed to start dispatch service: %w", err)
	}
	defer dispatchSvc.Close()
	r.healthChecks = append(r.healthChecks, dispatchSvc.Healthy)

	catalog := voices.NewCatalog(synthesizer, st, st, r.logger)
	if _, ok := catalog.Refresh(ctx); !ok {
		r.logger.Warn("initial voice refresh failed, falling back to cached catalog")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	// Halt any in-flight session before the player service drains.
	if err := coord.Stop(context.Background()); err != nil {
		r.logger.Warn("failed to stop playback on shutdown", slog.String("error", err.Error()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) healthy() bool {
	for _, check := range r.healthChecks {
		if !check() {
			return false
		}
	}
	return true
}
