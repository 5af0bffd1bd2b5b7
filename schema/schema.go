// Package schema validates event payloads against JSON Schemas registered
// per (loop name, event type), grounded in the teacher's jsonschema module
// service (CompileSchema/ValidateBytes/ValidateInterface) but narrowed to
// FastLoop's per-event-type registry instead of a general-purpose service.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrValidation-wrapping is intentionally left to callers (dispatcher,
// context.go) so this package stays independent of the root package and
// avoids an import cycle; Registry.Validate returns a plain error whose
// text identifies the failing event type and schema violation.

// key identifies one registered schema by loop name and event type.
type key struct {
	loopName  string
	eventType string
}

// Registry holds compiled JSON Schemas for event payload validation.
// Schemas are registered once, typically at RegisterLoop time, and
// Validate is called on every inbound event before it reaches a queue.
type Registry struct {
	mu      sync.RWMutex
	schemas map[key]*jsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[key]*jsonschema.Schema)}
}

// Register compiles schemaJSON and associates it with (loopName,
// eventType). An empty schemaJSON is rejected; loops that accept any
// payload shape simply never call Register for that event type.
func (r *Registry) Register(loopName, eventType string, schemaJSON []byte) error {
	if len(schemaJSON) == 0 {
		return fmt.Errorf("schema: empty schema for %s/%s", loopName, eventType)
	}
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return fmt.Errorf("schema: decode %s/%s: %w", loopName, eventType, err)
	}

	url := fmt.Sprintf("mem://fastloop/%s/%s.json", loopName, eventType)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return fmt.Errorf("schema: add resource %s/%s: %w", loopName, eventType, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("schema: compile %s/%s: %w", loopName, eventType, err)
	}

	r.mu.Lock()
	r.schemas[key{loopName, eventType}] = compiled
	r.mu.Unlock()
	return nil
}

// Has reports whether a schema is registered for (loopName, eventType).
func (r *Registry) Has(loopName, eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[key{loopName, eventType}]
	return ok
}

// Validate checks payload against the schema registered for (loopName,
// eventType). If no schema is registered, validation passes — payload
// validation is opt-in per event type (spec §3 event validation note).
// payload is re-marshaled through encoding/json so validation sees
// exactly the types a wire-level consumer would.
func (r *Registry) Validate(loopName, eventType string, payload map[string]any) error {
	r.mu.RLock()
	compiled, ok := r.schemas[key{loopName, eventType}]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	// jsonschema/v6 validates decoded JSON values (map[string]any with
	// float64 numbers), so round-trip payload through encoding/json
	// rather than passing Go-native int types directly.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("schema: encode payload for %s/%s: %w", loopName, eventType, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("schema: decode payload for %s/%s: %w", loopName, eventType, err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("schema: %s/%s: %w", loopName, eventType, err)
	}
	return nil
}
