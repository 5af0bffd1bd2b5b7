package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fastloop/fastloop/notify"
)

// RedisConfig configures the authoritative RedisStore realization.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     int    `yaml:"port" env:"REDIS_PORT"`
	Database int    `yaml:"database" env:"REDIS_DATABASE"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	SSL      bool   `yaml:"ssl" env:"REDIS_SSL"`

	// Prefix namespaces every key this store touches. Defaults to
	// "fastloop" per the spec's bit-exact key layout.
	Prefix string `yaml:"prefix" env:"REDIS_PREFIX"`
}

// releaseScript atomically deletes a claim key only if it is still held by
// the owner that is releasing it, closing the race where a claim's TTL
// expires and a different holder acquires it before the original holder's
// deferred release runs.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisStore is the authoritative Store realization, implementing the
// spec's bit-exact key layout on top of github.com/redis/go-redis/v9.
// Change notification is delegated to a notify.Bus, defaulting to Redis
// pub/sub on the same client but swappable for NATS via WithNotifyBus.
type RedisStore struct {
	client *redis.Client
	prefix string
	bus    notify.Bus
}

// NewRedisStore dials Redis and returns a ready RedisStore. It does not
// verify connectivity; call Ping for that.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "fastloop"
	}
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.Database,
	}
	client := redis.NewClient(opts)
	return &RedisStore{
		client: client,
		prefix: prefix,
		bus:    notify.NewRedisBus(client, prefix),
	}
}

// NewRedisStoreFromClient wraps an already-configured client, used by
// tests against miniredis and by callers that need custom TLS/dialer
// options beyond RedisConfig.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fastloop"
	}
	return &RedisStore{client: client, prefix: prefix, bus: notify.NewRedisBus(client, prefix)}
}

// WithNotifyBus swaps the notification transport, e.g. for a NATS
// deployment (notify.type: nats) that would rather not add Redis pub/sub
// traffic. Storage semantics are unaffected since notification is
// best-effort and callers always re-check their queues on wakeup.
func (s *RedisStore) WithNotifyBus(bus notify.Bus) *RedisStore {
	s.bus = bus
	return s
}

func (s *RedisStore) keyIndex() string { return s.prefix + ":index" }
func (s *RedisStore) keyState(loopID string) string {
	return fmt.Sprintf("%s:state:%s", s.prefix, loopID)
}
func (s *RedisStore) keyQueue(loopID, eventType string, sender EventKind) string {
	direction := "client"
	if sender == KindServer {
		direction = "server"
	}
	return fmt.Sprintf("%s:events:%s:%s:%s", s.prefix, loopID, eventType, direction)
}
func (s *RedisStore) keyHistory(loopID string) string {
	return fmt.Sprintf("%s:event_history:%s", s.prefix, loopID)
}
func (s *RedisStore) keyContext(loopID, key string) string {
	return fmt.Sprintf("%s:context:%s:%s", s.prefix, loopID, key)
}
func (s *RedisStore) keyClaim(loopID string) string {
	return fmt.Sprintf("%s:claim:%s", s.prefix, loopID)
}
func (s *RedisStore) keyNonce(loopID string) string {
	return fmt.Sprintf("%s:nonce:%s", s.prefix, loopID)
}
func (s *RedisStore) keyMapping(externalKey string) string {
	return fmt.Sprintf("%s:mapping:%s", s.prefix, externalKey)
}

func (s *RedisStore) GetOrCreateLoop(ctx context.Context, loopName, loopID string, idleTimeout float64) (Record, bool, error) {
	if loopID != "" {
		raw, err := s.client.Get(ctx, s.keyState(loopID)).Bytes()
		if err == nil {
			var rec Record
			if jerr := json.Unmarshal(raw, &rec); jerr != nil {
				return Record{}, false, fmt.Errorf("state: decode loop %s: %w", loopID, jerr)
			}
			return rec, false, nil
		}
		if !errors.Is(err, redis.Nil) {
			return Record{}, false, fmt.Errorf("state: get loop %s: %w: %w", loopID, ErrUnreachable, err)
		}
	}
	loopID = uuid.New().String()

	rec := Record{
		ID:          loopID,
		Name:        loopName,
		Status:      "RUNNING",
		IdleTimeout: idleTimeout,
		LastEventAt: time.Now().Unix(),
		CreatedAt:   time.Now().Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("state: encode loop: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyState(loopID), data, 0)
	pipe.SAdd(ctx, s.keyIndex(), loopID)
	if _, err := pipe.Exec(ctx); err != nil {
		return Record{}, false, fmt.Errorf("state: create loop %s: %w: %w", loopID, ErrUnreachable, err)
	}
	return rec, true, nil
}

func (s *RedisStore) UpdateLoop(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state: encode loop: %w", err)
	}
	if err := s.client.Set(ctx, s.keyState(rec.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("state: update loop %s: %w: %w", rec.ID, ErrUnreachable, err)
	}
	return nil
}

func (s *RedisStore) GetLoop(ctx context.Context, loopID string) (Record, error) {
	raw, err := s.client.Get(ctx, s.keyState(loopID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("state: loop %s: %w", loopID, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("state: get loop %s: %w: %w", loopID, ErrUnreachable, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("state: decode loop %s: %w", loopID, err)
	}
	return rec, nil
}

func (s *RedisStore) GetAllLoops(ctx context.Context, status string) ([]Record, error) {
	ids, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("state: scan index: %w: %w", ErrUnreachable, err)
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetLoop(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Stale index member with no backing record; drop it.
			s.client.SRem(ctx, s.keyIndex(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) WithClaim(ctx context.Context, loopID string) (Release, error) {
	const ttl = 60 * time.Second
	const acquireTimeout = 5 * time.Second
	owner := uuid.New().String()
	key := s.keyClaim(loopID)
	deadline := time.Now().Add(acquireTimeout)

	for {
		var ok bool
		err := withBackoffRetry(ctx, func() error {
			var setErr error
			ok, setErr = s.client.SetNX(ctx, key, owner, ttl).Result()
			return setErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("state: loop %s: %w: %w", loopID, ErrClaimTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("state: acquire claim %s: %w: %w", loopID, ErrUnreachable, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				s.client.Eval(releaseCtx, releaseScript, []string{key}, owner)
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("state: loop %s: %w", loopID, ErrClaimTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("state: loop %s: %w: %w", loopID, ErrClaimTimeout, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (s *RedisStore) PushEvent(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("state: encode event: %w", err)
	}

	rec, err := s.GetLoop(ctx, event.LoopID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	rec.LastEventAt = time.Now().Unix()
	recData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state: encode loop: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.keyQueue(event.LoopID, event.Type, event.Sender), data)
	pipe.LPush(ctx, s.keyHistory(event.LoopID), data)
	if rec.ID != "" {
		pipe.Set(ctx, s.keyState(event.LoopID), recData, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("state: push event for loop %s: %w: %w", event.LoopID, ErrUnreachable, err)
	}

	// Notification is published last, after queues/history are durably
	// written, so a waiter that wakes re-checking its queue always finds
	// what triggered the wakeup (spec §4.1 atomicity note).
	if err := s.bus.Publish(ctx, event.LoopID); err != nil {
		return fmt.Errorf("state: publish notification for loop %s: %w: %w", event.LoopID, ErrUnreachable, err)
	}
	return nil
}

func (s *RedisStore) PopEvent(ctx context.Context, loopID, eventType string, sender EventKind) (Event, error) {
	raw, err := s.client.RPop(ctx, s.keyQueue(loopID, eventType, sender)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("state: pop event: %w: %w", ErrUnreachable, err)
	}
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, fmt.Errorf("state: decode event: %w", err)
	}
	return event, nil
}

func (s *RedisStore) GetEventHistory(ctx context.Context, loopID string) ([]Event, error) {
	// Stored newest-first via LPUSH; LRANGE 0 -1 returns the same order,
	// so reverse to recover append order.
	raw, err := s.client.LRange(ctx, s.keyHistory(loopID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("state: get history: %w: %w", ErrUnreachable, err)
	}
	out := make([]Event, len(raw))
	for i, item := range raw {
		var event Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("state: decode history entry: %w", err)
		}
		out[len(raw)-1-i] = event
	}
	return out, nil
}

func (s *RedisStore) GetNextNonce(ctx context.Context, loopID string) (int64, error) {
	n, err := s.client.Incr(ctx, s.keyNonce(loopID)).Result()
	if err != nil {
		return 0, fmt.Errorf("state: next nonce: %w: %w", ErrUnreachable, err)
	}
	return n, nil
}

func (s *RedisStore) GetContextValue(ctx context.Context, loopID, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.keyContext(loopID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: get context value: %w: %w", ErrUnreachable, err)
	}
	return v, true, nil
}

func (s *RedisStore) SetContextValue(ctx context.Context, loopID, key string, value []byte) error {
	if err := s.client.Set(ctx, s.keyContext(loopID, key), value, 0).Err(); err != nil {
		return fmt.Errorf("state: set context value: %w: %w", ErrUnreachable, err)
	}
	return nil
}

func (s *RedisStore) DeleteContextValue(ctx context.Context, loopID, key string) error {
	if err := s.client.Del(ctx, s.keyContext(loopID, key)).Err(); err != nil {
		return fmt.Errorf("state: delete context value: %w: %w", ErrUnreachable, err)
	}
	return nil
}

// busSubscription adapts a notify.Subscription to the Store-level
// Subscription interface, which carries no Wait method of its own since
// WaitForEventNotification takes the timeout as a separate argument.
type busSubscription struct {
	inner notify.Subscription
}

func (b *busSubscription) Close() error { return b.inner.Close() }

func (s *RedisStore) SubscribeToEvents(ctx context.Context, loopID string) (Subscription, error) {
	sub, err := s.bus.Subscribe(ctx, loopID)
	if err != nil {
		return nil, fmt.Errorf("state: subscribe loop %s: %w: %w", loopID, ErrUnreachable, err)
	}
	return &busSubscription{inner: sub}, nil
}

func (s *RedisStore) WaitForEventNotification(ctx context.Context, sub Subscription, timeout time.Duration) bool {
	bs, ok := sub.(*busSubscription)
	if !ok {
		return false
	}
	return bs.inner.Wait(ctx, timeout)
}

func (s *RedisStore) SetLoopMapping(ctx context.Context, externalKey, loopID string) error {
	if err := s.client.Set(ctx, s.keyMapping(externalKey), loopID, 0).Err(); err != nil {
		return fmt.Errorf("state: set mapping: %w: %w", ErrUnreachable, err)
	}
	return nil
}

func (s *RedisStore) GetLoopMapping(ctx context.Context, externalKey string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.keyMapping(externalKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("state: get mapping: %w: %w", ErrUnreachable, err)
	}
	return v, true, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := withBackoffRetry(ctx, func() error { return s.client.Ping(ctx).Err() }); err != nil {
		return fmt.Errorf("state: ping: %w: %w", ErrUnreachable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
