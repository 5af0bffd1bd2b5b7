package fastloop

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Sender identifies which side of the conversation produced an event.
type Sender string

const (
	// SenderClient marks events that arrived through the dispatcher.
	SenderClient Sender = "CLIENT"
	// SenderServer marks events emitted by a handler via LoopContext.Emit.
	SenderServer Sender = "SERVER"
)

// Event is a tagged record routed to a loop. Every event on a loop's SERVER
// queue carries a nonce strictly greater than all prior SERVER events for
// that loop_id; CLIENT events carry no nonce and are ordered only within
// their (loop_id, type) queue.
type Event struct {
	Type      string         `json:"type"`
	LoopID    string         `json:"loop_id,omitempty"`
	Sender    Sender         `json:"sender"`
	Nonce     int64          `json:"nonce,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent builds a CLIENT event ready for dispatcher ingress. LoopID and
// Nonce are assigned later (LoopID by get_or_create_loop, Nonce only for
// SERVER events at emit time).
func NewEvent(eventType string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Sender:    SenderClient,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// ToCloudEvent converts an Event to a CloudEvents 1.0 envelope for external
// consumption (SSE payloads; the history endpoint returns plain event
// JSON instead). loop_id, sender, and
// nonce — fields with no CloudEvents spec equivalent — travel as extension
// attributes, mirroring how the example pack's Observer/CloudEvent bridge
// carries arbitrary metadata through SetExtension.
func (e Event) ToCloudEvent(source string) cloudevents.Event {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.New().String())
	ce.SetSource(source)
	ce.SetType(e.Type)
	ce.SetTime(e.CreatedAt)
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetExtension("loopid", e.LoopID)
	ce.SetExtension("sender", string(e.Sender))
	if e.Nonce != 0 {
		ce.SetExtension("nonce", e.Nonce)
	}
	if e.Payload != nil {
		_ = ce.SetData(cloudevents.ApplicationJSON, e.Payload)
	}
	return ce
}

// EventFromCloudEvent reconstructs an Event from its CloudEvents envelope.
// It is the inverse of ToCloudEvent and is exercised by the round-trip
// property LoopEvent.from_json(event.to_json()) == event for every
// registered event schema (spec §8).
func EventFromCloudEvent(ce cloudevents.Event) (Event, error) {
	ev := Event{
		Type:      ce.Type(),
		CreatedAt: ce.Time(),
	}
	if v, ok := ce.Extensions()["loopid"]; ok {
		ev.LoopID = fmt.Sprint(v)
	}
	if v, ok := ce.Extensions()["sender"]; ok {
		ev.Sender = Sender(fmt.Sprint(v))
	}
	if v, ok := ce.Extensions()["nonce"]; ok {
		switch n := v.(type) {
		case int32:
			ev.Nonce = int64(n)
		case int64:
			ev.Nonce = n
		case float64:
			ev.Nonce = int64(n)
		case string:
			var parsed int64
			if _, err := fmt.Sscanf(n, "%d", &parsed); err == nil {
				ev.Nonce = parsed
			}
		}
	}
	if len(ce.Data()) > 0 {
		var payload map[string]any
		if err := ce.DataAs(&payload); err != nil {
			return Event{}, fmt.Errorf("fastloop: decode cloudevent payload: %w", err)
		}
		ev.Payload = payload
	}
	return ev, nil
}

// toJSON and eventFromJSON give Event its native encoding/json form,
// independent of the CloudEvents bridge used at the SSE boundary. The
// Redis store and the history endpoint do not use them; they encode
// state.Event directly.
func (e Event) toJSON() ([]byte, error) {
	return json.Marshal(e)
}

func eventFromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("fastloop: decode event: %w", err)
	}
	return e, nil
}
