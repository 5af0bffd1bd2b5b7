// Package fastloop is a runtime for durable, event-driven loops:
// long-lived per-session handlers that suspend awaiting named events,
// mutate a persisted context, and resume across process restarts.
package fastloop

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fastloop/fastloop/export"
	"github.com/fastloop/fastloop/metrics"
	"github.com/fastloop/fastloop/notify"
	"github.com/fastloop/fastloop/schema"
	"github.com/fastloop/fastloop/state"
)

// Runtime wires together the StateManager, LoopManager, LoopMonitor, and
// Dispatcher from a Config, and exposes the registration/serving surface
// embedding applications use.
type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	store      state.Store
	manager    *LoopManager
	monitor    *LoopMonitor
	dispatcher *Dispatcher
	schemas    *schema.Registry
	exporter   export.Exporter

	httpServer *http.Server
}

// NewRuntime constructs a Runtime from cfg. Redis clients (state and
// notify) connect lazily, and Run's /healthz route surfaces their
// reachability; a NATS notify bus or a Kafka exporter connects during
// NewRuntime, which fails if that backend is unreachable.
func NewRuntime(cfg Config) (*Runtime, error) {
	logger := newLogger(cfg)

	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}

	schemas := schema.NewRegistry()
	manager := NewLoopManager(store, exporter, logger)
	monitor := NewLoopMonitor(store, time.Duration(cfg.LoopDelaySeconds*float64(time.Second)), logger)
	dispatcher := NewDispatcher(manager, store, schemas, "fastloop")

	if cfg.Metrics.Enabled {
		dispatcher.AddRoute(cfg.Metrics.Path, metricsHandler())
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		manager:    manager,
		monitor:    monitor,
		dispatcher: dispatcher,
		schemas:    schemas,
		exporter:   exporter,
	}, nil
}

func newLogger(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newStore(cfg Config) (state.Store, error) {
	switch cfg.State.Type {
	case "redis":
		redisStore := state.NewRedisStore(cfg.State.Redis)
		if cfg.Notify.Type == "nats" {
			conn, err := nats.Connect(nats.DefaultURL)
			if err != nil {
				return nil, fmt.Errorf("fastloop: connect nats: %w", err)
			}
			redisStore.WithNotifyBus(notify.NewNATSBus(conn, ""))
		}
		return redisStore, nil
	case "memory", "":
		return state.NewMemoryStore()
	default:
		return nil, fmt.Errorf("fastloop: unknown state.type %q", cfg.State.Type)
	}
}

func newExporter(cfg Config) (export.Exporter, error) {
	switch cfg.Export.Type {
	case "kafka":
		return export.NewKafkaExporter(cfg.Export.Kafka)
	case "none", "":
		return export.Noop{}, nil
	default:
		return nil, fmt.Errorf("fastloop: unknown export.type %q", cfg.Export.Type)
	}
}

// RegisterLoop associates loopName with handler, the event type required
// to start a fresh instance, the idle timeout (seconds) the monitor
// applies, and an optional on-loop-start hook. It mounts the loop's
// ingress route on the Dispatcher.
func (rt *Runtime) RegisterLoop(loopName, startEventType string, idleTimeout float64, handler Handler, onLoopStart OnLoopStart) {
	rt.manager.Register(loopName, handler, idleTimeout, onLoopStart)
	rt.dispatcher.RegisterLoopRoute(loopName, startEventType)
}

// RegisterSchema registers a JSON Schema for (loopName, eventType)
// payload validation at the Dispatcher's ingress step.
func (rt *Runtime) RegisterSchema(loopName, eventType string, schemaJSON []byte) error {
	return rt.schemas.Register(loopName, eventType, schemaJSON)
}

// AddRoute exposes the Dispatcher's add_route hook for integrations.
func (rt *Runtime) AddRoute(pattern string, h http.Handler) {
	rt.dispatcher.AddRoute(pattern, h)
}

// Run starts the idle monitor and HTTP server and blocks until ctx is
// cancelled, then drains in-flight handler invocations via StopAll
// before returning.
func (rt *Runtime) Run(ctx context.Context) error {
	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	go rt.monitor.Run(monitorCtx)

	rt.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", rt.cfg.Host, rt.cfg.Port),
		Handler: rt.dispatcher,
	}

	serveErr := make(chan error, 1)
	go func() {
		rt.logger.Info("fastloop listening", "addr", rt.httpServer.Addr)
		if err := rt.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.httpServer.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error("http server shutdown error", "error", err)
	}

	return rt.manager.StopAll(shutdownCtx)
}

func metricsHandler() http.Handler {
	return metrics.Handler()
}
