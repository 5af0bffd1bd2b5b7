// Package export mirrors SERVER-direction events onto an external bus for
// downstream consumers (analytics, audit, cross-service fan-out) after
// they are durably queued. Export is best-effort: emit() calls the
// exporter synchronously under a short deadline, and a failure here is
// logged and counted but never fails the emit() call that produced the
// event.
package export

import (
	"context"

	"github.com/fastloop/fastloop/codec"
)

// Exporter mirrors one event onto an external bus. Implementations must
// not block the caller for more than a bounded, short period; Export is
// called synchronously from the event emission path but with a short
// per-call context deadline imposed by the caller.
type Exporter interface {
	Export(ctx context.Context, event codec.Event) error
	Close() error
}

// Noop is the default Exporter (export.type: none), used when no external
// bus is configured.
type Noop struct{}

func (Noop) Export(context.Context, codec.Event) error { return nil }
func (Noop) Close() error                              { return nil }
