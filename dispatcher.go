package fastloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/fastloop/fastloop/metrics"
	"github.com/fastloop/fastloop/schema"
	"github.com/fastloop/fastloop/state"
)

// Dispatcher is the HTTP ingress surface: one POST route per registered
// loop name, plus the fixed /events/... routes and operational endpoints.
// Routing is built on github.com/go-chi/chi/v5, matching the teacher's
// chimux module's router choice.
type Dispatcher struct {
	router  chi.Router
	manager *LoopManager
	store   state.Store
	schemas *schema.Registry
	source  string

	mu         sync.Mutex
	startEvent map[string]string // loop name -> declared start event type
}

// NewDispatcher wires a Dispatcher over manager/store/schemas. source is
// the CloudEvents source attribute stamped on events leaving the SSE
// endpoint.
func NewDispatcher(manager *LoopManager, store state.Store, schemas *schema.Registry, source string) *Dispatcher {
	d := &Dispatcher{
		manager:    manager,
		store:      store,
		schemas:    schemas,
		source:     source,
		startEvent: make(map[string]string),
	}
	r := chi.NewRouter()
	r.Get("/events/{loop_id}/history", d.handleHistory)
	r.Get("/events/{loop_id}/{event_type}", d.handleSSE)
	r.Get("/healthz", d.handleHealthz)
	d.router = r
	return d
}

// ServeHTTP satisfies http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.router.ServeHTTP(w, r)
}

// RegisterLoopRoute mounts POST /{loopName}, to be called once per loop
// registered with the Runtime. startEventType is the type required when
// no loop_id is present on the inbound request.
func (d *Dispatcher) RegisterLoopRoute(loopName, startEventType string) {
	d.mu.Lock()
	d.startEvent[loopName] = startEventType
	d.mu.Unlock()
	d.router.Post("/"+loopName, d.handleIngress(loopName))
}

// AddRoute exposes the underlying chi router's Mount for integrations
// (spec §4.5 add_route hook), without giving them access to the
// Dispatcher's internals.
func (d *Dispatcher) AddRoute(pattern string, h http.Handler) {
	d.router.Mount(pattern, h)
}

type ingressRequest struct {
	Type   string `json:"type"`
	LoopID string `json:"loop_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func (d *Dispatcher) handleIngress(loopName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		eventType, _ := body["type"].(string)
		if eventType == "" {
			writeError(w, http.StatusBadRequest, "field 'type' is required")
			return
		}
		loopID, _ := body["loop_id"].(string)

		d.mu.Lock()
		declaredStart := d.startEvent[loopName]
		d.mu.Unlock()
		if loopID == "" && eventType != declaredStart {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("loop %q requires start event %q", loopName, declaredStart))
			return
		}

		payload := make(map[string]any, len(body))
		for k, v := range body {
			if k == "type" || k == "loop_id" {
				continue
			}
			payload[k] = v
		}

		if err := d.schemas.Validate(loopName, eventType, payload); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		rec, _, err := d.manager.ResolveLoop(r.Context(), loopName, loopID)
		if errors.Is(err, ErrLoopStopped) {
			writeError(w, http.StatusBadRequest, "loop is stopped")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		loopID = rec.ID

		if err := d.store.PushEvent(r.Context(), state.Event{
			Type: eventType, LoopID: loopID, Sender: state.KindClient,
			Payload: payload, CreatedAt: time.Now().Unix(),
		}); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to enqueue event")
			return
		}
		metrics.QueueDepth.WithLabelValues(loopName, eventType, "CLIENT").Inc()

		if err := d.manager.Wake(loopName, rec); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		rec, err = d.store.GetLoop(r.Context(), loopID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load loop record")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)
	}
}

func (d *Dispatcher) handleHistory(w http.ResponseWriter, r *http.Request) {
	loopID := chi.URLParam(r, "loop_id")
	hist, err := d.store.GetEventHistory(r.Context(), loopID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(hist)
}

// handleSSE streams SERVER events of event_type for loop_id as they land
// in history, closing when the loop reaches STOPPED (spec §4.2 events()).
func (d *Dispatcher) handleSSE(w http.ResponseWriter, r *http.Request) {
	loopID := chi.URLParam(r, "loop_id")
	eventType := chi.URLParam(r, "event_type")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	sub, err := d.store.SubscribeToEvents(ctx, loopID)
	if err != nil {
		return
	}
	defer sub.Close()

	seen := 0
	for {
		hist, err := d.store.GetEventHistory(ctx, loopID)
		if err == nil {
			for _, ev := range hist[min(seen, len(hist)):] {
				seen++
				if ev.Sender != state.KindServer || ev.Type != eventType {
					continue
				}
				d.writeSSEEvent(w, flusher, ev)
			}
		}

		rec, err := d.store.GetLoop(ctx, loopID)
		if err == nil && Status(rec.Status) == StatusStopped {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
		d.store.WaitForEventNotification(ctx, sub, pollFallback)
	}
}

func (d *Dispatcher) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev state.Event) {
	out := Event{
		Type: ev.Type, LoopID: ev.LoopID, Sender: Sender(ev.Sender),
		Nonce: ev.Nonce, Payload: ev.Payload, CreatedAt: time.Unix(ev.CreatedAt, 0),
	}
	ce := out.ToCloudEvent(d.source)
	data, err := cloudEventToSSE(ce)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	flusher.Flush()
}

func cloudEventToSSE(ce cloudevents.Event) ([]byte, error) {
	return json.Marshal(ce)
}

func (d *Dispatcher) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := d.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "backend unreachable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
