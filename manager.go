package fastloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fastloop/fastloop/export"
	"github.com/fastloop/fastloop/metrics"
	"github.com/fastloop/fastloop/state"
)

// Handler is the user-supplied coroutine body for a registered loop. It
// receives a context.Context bound to the invocation's lifetime and the
// LoopContext handle for wait_for/emit/get/set/stop/pause. Returning nil
// transitions the loop to IDLE; returning a non-nil error (or panicking)
// is recorded and transitions the loop to STOPPED unless the error is
// ErrLoopStopped or ErrLoopPaused raised internally by WaitFor, in which
// case the requested transition is honored instead.
type Handler func(ctx context.Context, lc *LoopContext) error

// OnLoopStart, if supplied at registration, runs once before the handler
// on every invocation (start and resume alike), with state-manager
// visible side effects the handler can later observe via Get.
type OnLoopStart func(ctx context.Context, lc *LoopContext) error

type registeredLoop struct {
	name        string
	handler     Handler
	onLoopStart OnLoopStart
	idleTimeout float64
}

// LoopManager owns claim acquisition and handler invocation for every
// registered loop name. Exactly one handler invocation executes for a
// given loop_id at any moment, anywhere in the fleet, enforced by the
// backing Store's claim rather than any process-local lock (spec §4.3
// concurrency invariant).
type LoopManager struct {
	store    state.Store
	exporter export.Exporter
	logger   *slog.Logger

	mu    sync.Mutex
	loops map[string]*registeredLoop

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewLoopManager constructs a LoopManager over store. exporter may be
// export.Noop{} if no external event mirror is configured.
func NewLoopManager(store state.Store, exporter export.Exporter, logger *slog.Logger) *LoopManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoopManager{
		store:    store,
		exporter: exporter,
		logger:   logger,
		loops:    make(map[string]*registeredLoop),
		shutdown: make(chan struct{}),
	}
}

// Register associates a loop name with its handler, registered start
// event's idle timeout, and optional on-loop-start hook.
func (m *LoopManager) Register(name string, handler Handler, idleTimeout float64, onLoopStart OnLoopStart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loops[name] = &registeredLoop{name: name, handler: handler, onLoopStart: onLoopStart, idleTimeout: idleTimeout}
}

func (m *LoopManager) lookup(name string) (*registeredLoop, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rl, ok := m.loops[name]
	return rl, ok
}

// Start resolves a loop instance for loopName/loopID (creating one if
// loopID is empty) and, unless it is STOPPED, dispatches the registered
// handler invocation asynchronously — it returns as soon as the loop
// record is resolved, without waiting for the claim to be acquired or
// the handler to run. It is a convenience for callers with no event to
// persist; the Dispatcher itself uses ResolveLoop followed by Wake, and
// Start enqueues nothing. Returns the resolved loop record's ID and
// whether a new loop was created. If the claim cannot be acquired within
// its timeout, the dispatched invocation returns without running the
// handler; this is not reported to the caller as an error.
func (m *LoopManager) Start(ctx context.Context, loopName, loopID string) (string, bool, error) {
	rl, rec, created, err := m.resolve(ctx, loopName, loopID)
	if err != nil {
		return rec.ID, created, err
	}
	m.wake(rl, rec)
	return rec.ID, created, nil
}

// ResolveLoop resolves a loop instance for loopName/loopID (creating one
// if loopID is empty) without dispatching a handler invocation. Callers
// that must persist an inbound event against the resolved loop_id before
// waking the handler (spec §4.5: get_or_create_loop, then push_event,
// then start/wake) use ResolveLoop followed by Wake.
func (m *LoopManager) ResolveLoop(ctx context.Context, loopName, loopID string) (state.Record, bool, error) {
	_, rec, created, err := m.resolve(ctx, loopName, loopID)
	return rec, created, err
}

// Wake dispatches the registered handler invocation for an already
// resolved loop record, asynchronously. rec.Status must not be STOPPED;
// callers that obtained rec via ResolveLoop have already had that
// checked.
func (m *LoopManager) Wake(loopName string, rec state.Record) error {
	rl, ok := m.lookup(loopName)
	if !ok {
		return fmt.Errorf("%w: loop %q is not registered", ErrValidation, loopName)
	}
	m.wake(rl, rec)
	return nil
}

func (m *LoopManager) resolve(ctx context.Context, loopName, loopID string) (*registeredLoop, state.Record, bool, error) {
	rl, ok := m.lookup(loopName)
	if !ok {
		return nil, state.Record{}, false, fmt.Errorf("%w: loop %q is not registered", ErrValidation, loopName)
	}

	rec, created, err := m.store.GetOrCreateLoop(ctx, loopName, loopID, rl.idleTimeout)
	if err != nil {
		return nil, state.Record{}, false, fmt.Errorf("fastloop: get_or_create_loop: %w: %w", ErrBackend, err)
	}
	if Status(rec.Status) == StatusStopped {
		return rl, rec, created, ErrLoopStopped
	}
	return rl, rec, created, nil
}

func (m *LoopManager) wake(rl *registeredLoop, rec state.Record) {
	m.wg.Add(1)
	go m.runInvocation(rl, rec)
}

func (m *LoopManager) runInvocation(rl *registeredLoop, rec state.Record) {
	defer m.wg.Done()

	waitStart := time.Now()
	release, err := m.store.WithClaim(context.Background(), rec.ID)
	metrics.ClaimWaitSeconds.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		if errors.Is(err, state.ErrClaimTimeout) {
			metrics.ClaimFailuresTotal.WithLabelValues(rl.name).Inc()
			m.logger.Debug("claim unavailable, deferring to in-progress holder", "loop_name", rl.name, "loop_id", rec.ID)
			return
		}
		m.logger.Error("claim acquisition failed", "loop_name", rl.name, "loop_id", rec.ID, "error", err)
		return
	}
	metrics.ActiveClaims.Inc()
	defer func() {
		metrics.ActiveClaims.Dec()
		release()
	}()

	invocationCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.shutdown:
			cancel()
		case <-invocationCtx.Done():
		}
	}()

	lc := newLoopContext(invocationCtx, m.store, m.exporter, rl.name, rec.ID)

	if rl.onLoopStart != nil {
		if err := rl.onLoopStart(invocationCtx, lc); err != nil {
			m.logger.Error("on_loop_start failed", "loop_name", rl.name, "loop_id", rec.ID, "error", err)
		}
	}

	start := time.Now()
	handlerErr := runHandlerSafely(rl.handler, invocationCtx, lc)
	metrics.HandlerDurationSeconds.WithLabelValues(rl.name).Observe(time.Since(start).Seconds())

	m.finalize(rl, rec.ID, lc, handlerErr)
}

// runHandlerSafely recovers a panicking handler, converting it into an
// error so a single misbehaving handler invocation cannot take down the
// process hosting every loop's claim-holding goroutines.
func runHandlerSafely(h Handler, ctx context.Context, lc *LoopContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fastloop: handler panic: %v", r)
		}
	}()
	return h(ctx, lc)
}

func (m *LoopManager) finalize(rl *registeredLoop, loopID string, lc *LoopContext, handlerErr error) {
	rec, err := m.store.GetLoop(context.Background(), loopID)
	if err != nil {
		m.logger.Error("finalize: get loop failed", "loop_name", rl.name, "loop_id", loopID, "error", err)
		return
	}

	switch {
	case errors.Is(handlerErr, ErrLoopStopped), lc.ShouldStop():
		rec.Status = string(StatusStopped)
	case errors.Is(handlerErr, ErrLoopPaused), lc.ShouldPause():
		rec.Status = string(StatusPaused)
	case handlerErr != nil:
		metrics.HandlerExceptionsTotal.WithLabelValues(rl.name).Inc()
		m.logger.Error("handler returned error", "loop_name", rl.name, "loop_id", loopID, "error", handlerErr)
		rec.Status = string(StatusStopped)
	default:
		rec.Status = string(StatusIdle)
	}

	if err := m.store.UpdateLoop(context.Background(), rec); err != nil {
		m.logger.Error("finalize: update loop failed", "loop_name", rl.name, "loop_id", loopID, "error", err)
	}
}

// StopAll cooperatively signals every in-flight handler invocation to
// stop and waits for them to exit, used on process shutdown (spec §4.3).
func (m *LoopManager) StopAll(ctx context.Context) error {
	close(m.shutdown)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
