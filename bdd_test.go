package fastloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/fastloop/fastloop/export"
	"github.com/fastloop/fastloop/schema"
	"github.com/fastloop/fastloop/state"
)

// FastLoopBDDTestContext carries per-scenario state across step
// definitions, following the teacher's *BDDTestContext convention (see
// e.g. modules/scheduler's SchedulerBDDTestContext).
type FastLoopBDDTestContext struct {
	store      state.Store
	manager    *LoopManager
	dispatcher *Dispatcher

	rec1, rec2 *httptest.ResponseRecorder
	loopID     string

	monitor *LoopMonitor

	recoveredValue any
}

func (c *FastLoopBDDTestContext) reset() {
	store, _ := state.NewMemoryStore()
	c.store = store
	c.manager = NewLoopManager(store, export.Noop{}, nil)
	c.dispatcher = NewDispatcher(c.manager, store, schema.NewRegistry(), "fastloop-bdd")
	c.rec1, c.rec2 = nil, nil
	c.loopID = ""
	c.monitor = nil
	c.recoveredValue = nil
}

func (c *FastLoopBDDTestContext) post(loopName string, payload map[string]any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/"+loopName, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	c.dispatcher.ServeHTTP(rec, req)
	return rec
}

func (c *FastLoopBDDTestContext) loopIDFrom(rec *httptest.ResponseRecorder) (string, error) {
	var loop Loop
	if err := json.Unmarshal(rec.Body.Bytes(), &loop); err != nil {
		return "", err
	}
	return loop.ID, nil
}

func (c *FastLoopBDDTestContext) waitForStatus(status string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, err := c.store.GetLoop(context.Background(), c.loopID)
		if err == nil && rec.Status == status {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, err := c.store.GetLoop(context.Background(), c.loopID)
	if err != nil {
		return fmt.Errorf("loop %s never reached status %s: %w", c.loopID, status, err)
	}
	return fmt.Errorf("loop %s reached status %s, expected %s", c.loopID, rec.Status, status)
}

func (c *FastLoopBDDTestContext) aRegisteredLoopWhoseHandler(loopName, startEvent, behavior string) error {
	c.dispatcher.RegisterLoopRoute(loopName, startEvent)

	switch behavior {
	case `waits for "ChangesApproved" without raising`:
		c.manager.Register(loopName, func(ctx context.Context, lc *LoopContext) error {
			ev, err := lc.WaitFor("ChangesApproved", 50*time.Millisecond, false)
			if err != nil {
				return err
			}
			if ev == nil {
				lc.Pause()
			}
			return nil
		}, 30, nil)
	case `waits for "ChangesApproved" and raises on timeout`:
		c.manager.Register(loopName, func(ctx context.Context, lc *LoopContext) error {
			ev, err := lc.WaitFor("ChangesApproved", 2*time.Second, true)
			if err != nil {
				return err
			}
			return lc.Set("reviewer", ev.Payload["reviewer"], false)
		}, 30, nil)
	case "stops the loop":
		c.manager.Register(loopName, func(ctx context.Context, lc *LoopContext) error {
			lc.Stop()
			return nil
		}, 30, nil)
	case `emits three "Progress" events`:
		c.manager.Register(loopName, func(ctx context.Context, lc *LoopContext) error {
			for i := 1; i <= 3; i++ {
				if err := lc.Emit("Progress", map[string]any{"i": i}); err != nil {
					return err
				}
			}
			return nil
		}, 30, nil)
	default:
		return fmt.Errorf("unrecognized handler behavior %q", behavior)
	}
	return nil
}

func (c *FastLoopBDDTestContext) iPostAStartEvent(eventType, loopName, repoURL, sha1 string) error {
	c.rec1 = c.post(loopName, map[string]any{"type": eventType, "repo_url": repoURL, "sha1": sha1})
	if c.rec1.Code == http.StatusOK {
		id, err := c.loopIDFrom(c.rec1)
		if err != nil {
			return err
		}
		c.loopID = id
	}
	return nil
}

func (c *FastLoopBDDTestContext) iPostAFollowUpEvent(eventType, reviewer string) error {
	// Give the handler goroutine spawned by the first post a moment to
	// reach its wait_for suspension point before the follow-up event
	// lands, mirroring the real race the spec's resume scenario exercises.
	time.Sleep(20 * time.Millisecond)
	c.rec2 = c.post("pr-review", map[string]any{"type": eventType, "loop_id": c.loopID, "reviewer": reviewer})
	return nil
}

func (c *FastLoopBDDTestContext) theResponseShouldContainANewLoopID() error {
	if c.rec1.Code != http.StatusOK {
		return fmt.Errorf("expected 200, got %d: %s", c.rec1.Code, c.rec1.Body.String())
	}
	if c.loopID == "" {
		return fmt.Errorf("expected a non-empty loop id")
	}
	return nil
}

func (c *FastLoopBDDTestContext) theEventHistoryShouldContain(eventType string) error {
	hist, err := c.store.GetEventHistory(context.Background(), c.loopID)
	if err != nil {
		return err
	}
	for _, ev := range hist {
		if ev.Type == eventType {
			return nil
		}
	}
	return fmt.Errorf("history for loop %s does not contain event %q", c.loopID, eventType)
}

func (c *FastLoopBDDTestContext) theLoopShouldEventuallyReachStatus(status string) error {
	return c.waitForStatus(status, time.Second)
}

func (c *FastLoopBDDTestContext) theSecondResponseShouldReuseTheSameLoopID() error {
	id, err := c.loopIDFrom(c.rec2)
	if err != nil {
		return err
	}
	if id != c.loopID {
		return fmt.Errorf("expected reused loop id %s, got %s", c.loopID, id)
	}
	return nil
}

func (c *FastLoopBDDTestContext) theResponseStatusShouldBe(code int) error {
	if c.rec2.Code != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, c.rec2.Code, c.rec2.Body.String())
	}
	return nil
}

func (c *FastLoopBDDTestContext) theEventHistoryShouldShowNoncesInOrder() error {
	hist, err := c.store.GetEventHistory(context.Background(), c.loopID)
	if err != nil {
		return err
	}
	var progress []state.Event
	for _, ev := range hist {
		if ev.Type == "Progress" {
			progress = append(progress, ev)
		}
	}
	if len(progress) != 3 {
		return fmt.Errorf("expected 3 Progress events, got %d", len(progress))
	}
	for i, ev := range progress {
		if ev.Nonce != int64(i+1) {
			return fmt.Errorf("expected nonce %d at position %d, got %d", i+1, i, ev.Nonce)
		}
	}
	return nil
}

func (c *FastLoopBDDTestContext) aLoopThatSetAContextValueBeforeItsProcessCrashed() error {
	c.manager.Register("pr-review", func(ctx context.Context, lc *LoopContext) error {
		return lc.Set("precrash_marker", "alpha", false)
	}, 30, nil)

	loopID, _, err := c.manager.Start(context.Background(), "pr-review", "")
	if err != nil {
		return err
	}
	c.loopID = loopID
	return c.waitForStatus(string(StatusIdle), time.Second)
}

func (c *FastLoopBDDTestContext) theProcessRestartsAndAFreshHandlerIsEntered() error {
	restarted := NewLoopManager(c.store, export.Noop{}, nil)
	restarted.Register("pr-review", func(ctx context.Context, lc *LoopContext) error {
		v, ok, err := lc.Get("precrash_marker", false)
		if err != nil {
			return err
		}
		if ok {
			c.recoveredValue = v
		}
		return nil
	}, 30, nil)

	if _, _, err := restarted.Start(context.Background(), "pr-review", c.loopID); err != nil {
		return err
	}
	c.manager = restarted
	return c.waitForStatus(string(StatusIdle), time.Second)
}

func (c *FastLoopBDDTestContext) theRecoveredHandlerShouldReadThePreviouslyStoredContextValue() error {
	if c.recoveredValue != "alpha" {
		return fmt.Errorf("expected recovered value %q, got %v", "alpha", c.recoveredValue)
	}
	return nil
}

func (c *FastLoopBDDTestContext) aLoopWithIdleTimeout(seconds float64) error {
	rec, _, err := c.store.GetOrCreateLoop(context.Background(), "pr-review", "", seconds)
	if err != nil {
		return err
	}
	c.loopID = rec.ID
	c.monitor = NewLoopMonitor(c.store, time.Hour, nil)
	return nil
}

func (c *FastLoopBDDTestContext) secondsPassWithNoFurtherEvents(seconds int) error {
	time.Sleep(time.Duration(seconds) * time.Second)
	return nil
}

func (c *FastLoopBDDTestContext) theIdleMonitorShouldMarkTheLoopWithoutInvokingTheHandler(status string) error {
	c.monitor.sweep(context.Background())
	rec, err := c.store.GetLoop(context.Background(), c.loopID)
	if err != nil {
		return err
	}
	if rec.Status != status {
		return fmt.Errorf("expected status %s, got %s", status, rec.Status)
	}
	return nil
}

func InitializeFastLoopScenario(s *godog.ScenarioContext) {
	ctx := &FastLoopBDDTestContext{}

	s.Before(func(stdCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		ctx.reset()
		return stdCtx, nil
	})

	s.Given(`^a registered "([^"]*)" loop with start event "([^"]*)" whose handler (.*)$`, ctx.aRegisteredLoopWhoseHandler)
	s.When(`^I post a "([^"]*)" event with payload repo_url "([^"]*)" and sha1 "([^"]*)" to loop "pr-review"$`, ctx.iPostAStartEvent)
	s.When(`^I post a "([^"]*)" event with payload reviewer "([^"]*)" to the same loop id$`, ctx.iPostAFollowUpEvent)
	s.Then(`^the response should contain a new loop id$`, ctx.theResponseShouldContainANewLoopID)
	s.Then(`^the event history for that loop should contain a "([^"]*)" event$`, ctx.theEventHistoryShouldContain)
	s.Then(`^the loop should eventually reach status "([^"]*)"$`, ctx.theLoopShouldEventuallyReachStatus)
	s.Then(`^the second response should reuse the same loop id$`, ctx.theSecondResponseShouldReuseTheSameLoopID)
	s.Then(`^the response status should be (\d+)$`, ctx.theResponseStatusShouldBe)
	s.Then(`^the event history for that loop should show nonces 1, 2, 3 in order$`, ctx.theEventHistoryShouldShowNoncesInOrder)

	s.Given(`^a loop that set a context value before its process crashed mid-wait$`, ctx.aLoopThatSetAContextValueBeforeItsProcessCrashed)
	s.When(`^the process restarts and a fresh handler is entered on the same loop id$`, ctx.theProcessRestartsAndAFreshHandlerIsEntered)
	s.Then(`^the recovered handler should read the previously stored context value$`, ctx.theRecoveredHandlerShouldReadThePreviouslyStoredContextValue)

	s.Given(`^a loop with an idle timeout of (\d+) second and no handler invoked$`, ctx.aLoopWithIdleTimeout)
	s.When(`^(\d+) seconds pass with no further events$`, ctx.secondsPassWithNoFurtherEvents)
	s.Then(`^the idle monitor should mark the loop "([^"]*)" without invoking the handler$`, ctx.theIdleMonitorShouldMarkTheLoopWithoutInvokingTheHandler)
}

// TestFastLoopBDD runs the end-to-end scenarios from spec section 8
// against an in-memory store, matching the teacher's godog.TestSuite
// convention (see e.g. modules/scheduler/bdd_main_test.go).
func TestFastLoopBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeFastLoopScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/fastloop.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
