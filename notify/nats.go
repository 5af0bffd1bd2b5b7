package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus is an alternate Bus realization for deployments that already run
// a NATS core for other services and would rather not add Redis pub/sub
// traffic for notifications alone. It carries no persistence guarantee
// beyond NATS core semantics, which is acceptable because notification
// delivery is best-effort by contract (spec §3 Event Notification).
type NATSBus struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewNATSBus wraps an already-connected *nats.Conn.
func NewNATSBus(conn *nats.Conn, subjectPrefix string) *NATSBus {
	if subjectPrefix == "" {
		subjectPrefix = "fastloop.notify"
	}
	return &NATSBus{conn: conn, subjectPrefix: subjectPrefix}
}

func (b *NATSBus) subject(loopID string) string {
	return fmt.Sprintf("%s.%s", b.subjectPrefix, loopID)
}

func (b *NATSBus) Publish(ctx context.Context, loopID string) error {
	if err := b.conn.Publish(b.subject(loopID), []byte("1")); err != nil {
		return fmt.Errorf("notify: nats publish: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, loopID string) (Subscription, error) {
	ch := make(chan *nats.Msg, 8)
	sub, err := b.conn.ChanSubscribe(b.subject(loopID), ch)
	if err != nil {
		return nil, fmt.Errorf("notify: nats subscribe: %w", err)
	}
	return &natsSubscription{sub: sub, ch: ch}, nil
}

func (b *NATSBus) Close() error { return nil }

type natsSubscription struct {
	sub *nats.Subscription
	ch  chan *nats.Msg
}

func (s *natsSubscription) Wait(ctx context.Context, timeout time.Duration) bool {
	select {
	case _, ok := <-s.ch:
		return ok
	case <-time.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *natsSubscription) Close() error {
	return s.sub.Unsubscribe()
}
