package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/narratelabs/narrate-core/internal/bus"
	"github.com/narratelabs/narrate-core/internal/config"
	"github.com/narratelabs/narrate-core/internal/engine"
	"github.com/narratelabs/narrate-core/internal/jobstore"
	"github.com/narratelabs/narrate-core/internal/model"
	"github.com/narratelabs/narrate-core/internal/natsserver"
	"github.com/narratelabs/narrate-core/internal/worker"
)

// Runtime owns the worker process lifecycle: telemetry, the optional
// embedded broker, the bus connection, the job store, model residency and
// the worker service, plus the health endpoints.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	worker        *worker.Service
	busClient     *bus.Client
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up all components in dependency order and blocks until the
// context is cancelled, then shuts them down in reverse.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.cfg.Storage.Path, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	r.busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer r.busClient.Close()

	store, err := jobstore.Open(ctx, r.cfg.JobStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer store.Close()

	r.logger.Info("inference backend selected",
		slog.String("device", string(engine.DetectBackend())),
		slog.String("engine_mode", r.cfg.Engine.Mode))

	manager := model.NewManager(engineLoader(r.cfg.Engine), r.logger)
	defer manager.Unload()

	r.worker = worker.NewService(ctx, r.cfg, r.busClient, store, manager, r.logger)
	if err := r.worker.Start(); err != nil {
		return fmt.Errorf("failed to start worker service: %w", err)
	}
	defer r.worker.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

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

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("worker", r.cfg.WorkerName))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// engineLoader builds the residency loader for the configured backend. The
// variant profile decides the model id; config decides mock versus subprocess.
func engineLoader(cfg config.EngineConfig) model.Loader {
	return func(_ context.Context, profile model.Profile) (engine.Engine, error) {
		switch cfg.Mode {
		case "exec":
			return engine.NewExec(cfg.Command, profile.ModelID, cfg.SampleRate)
		default:
			return engine.NewMock(cfg.SampleRate), nil
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.worker.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
