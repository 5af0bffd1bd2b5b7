package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
)

// loopSchema backs the loop-record table with a go-memdb indexed store,
// giving GetAllLoops(status) an indexed scan instead of a linear filter —
// the same trade the example pack's jsonschema/eventbus modules make by
// pulling in go-memdb for small indexed in-process tables.
var loopSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"loops": {
			Name: "loops",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"status": {
					Name:    "status",
					Indexer: &memdb.StringFieldIndex{Field: "Status"},
				},
			},
		},
	},
}

type claimState struct {
	owner   string
	expires time.Time
}

// MemoryStore is a process-local Store realization backed by go-memdb for
// loop records and concurrent maps plus buffered notification channels for
// everything else. It satisfies the full Store contract and is suitable
// for development and unit tests; it is not shared across processes.
type MemoryStore struct {
	db *memdb.MemDB

	mu        sync.Mutex
	queues    map[string]map[string]map[EventKind][]Event
	history   map[string][]Event
	contextKV map[string]map[string][]byte
	nonces    map[string]int64
	claims    map[string]*claimState
	mapping   map[string]string
	subs      map[string][]chan struct{}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(loopSchema)
	if err != nil {
		return nil, fmt.Errorf("state: init memdb: %w", err)
	}
	return &MemoryStore{
		db:        db,
		queues:    make(map[string]map[string]map[EventKind][]Event),
		history:   make(map[string][]Event),
		contextKV: make(map[string]map[string][]byte),
		nonces:    make(map[string]int64),
		claims:    make(map[string]*claimState),
		mapping:   make(map[string]string),
		subs:      make(map[string][]chan struct{}),
	}, nil
}

func (m *MemoryStore) GetOrCreateLoop(ctx context.Context, loopName, loopID string, idleTimeout float64) (Record, bool, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	if loopID != "" {
		raw, err := txn.First("loops", "id", loopID)
		if err != nil {
			return Record{}, false, fmt.Errorf("state: lookup loop: %w", err)
		}
		if raw != nil {
			return *raw.(*Record), false, nil
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
	if err := txn.Insert("loops", &rec); err != nil {
		return Record{}, false, fmt.Errorf("state: insert loop: %w", err)
	}
	txn.Commit()
	return rec, true, nil
}

func (m *MemoryStore) UpdateLoop(ctx context.Context, rec Record) error {
	txn := m.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert("loops", &rec); err != nil {
		return fmt.Errorf("state: update loop: %w", err)
	}
	txn.Commit()
	return nil
}

func (m *MemoryStore) GetLoop(ctx context.Context, loopID string) (Record, error) {
	txn := m.db.Txn(false)
	raw, err := txn.First("loops", "id", loopID)
	if err != nil {
		return Record{}, fmt.Errorf("state: lookup loop: %w", err)
	}
	if raw == nil {
		return Record{}, fmt.Errorf("state: loop %s: %w", loopID, ErrNotFound)
	}
	return *raw.(*Record), nil
}

func (m *MemoryStore) GetAllLoops(ctx context.Context, status string) ([]Record, error) {
	txn := m.db.Txn(false)
	var it memdb.ResultIterator
	var err error
	if status == "" {
		it, err = txn.Get("loops", "id")
	} else {
		it, err = txn.Get("loops", "status", status)
	}
	if err != nil {
		return nil, fmt.Errorf("state: scan loops: %w", err)
	}
	var out []Record
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*Record))
	}
	return out, nil
}

func (m *MemoryStore) WithClaim(ctx context.Context, loopID string) (Release, error) {
	const ttl = 60 * time.Second
	const acquireTimeout = 5 * time.Second
	owner := uuid.New().String()
	deadline := time.Now().Add(acquireTimeout)

	for {
		m.mu.Lock()
		existing, held := m.claims[loopID]
		if !held || time.Now().After(existing.expires) {
			m.claims[loopID] = &claimState{owner: owner, expires: time.Now().Add(ttl)}
			m.mu.Unlock()
			released := false
			return func() {
				m.mu.Lock()
				defer m.mu.Unlock()
				if released {
					return
				}
				released = true
				if cur, ok := m.claims[loopID]; ok && cur.owner == owner {
					delete(m.claims, loopID)
				}
			}, nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("state: loop %s: %w", loopID, ErrClaimTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("state: loop %s: %w: %w", loopID, ErrClaimTimeout, ctx.Err())
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (m *MemoryStore) PushEvent(ctx context.Context, event Event) error {
	// Round-trip through JSON, as RedisStore does, so readers see the same
	// payload value types (e.g. float64 numbers) from either realization.
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("state: encode event: %w", err)
	}
	event = Event{}
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("state: decode event: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[event.LoopID]; !ok {
		m.queues[event.LoopID] = make(map[string]map[EventKind][]Event)
	}
	if _, ok := m.queues[event.LoopID][event.Type]; !ok {
		m.queues[event.LoopID][event.Type] = make(map[EventKind][]Event)
	}
	m.queues[event.LoopID][event.Type][event.Sender] = append(m.queues[event.LoopID][event.Type][event.Sender], event)
	m.history[event.LoopID] = append(m.history[event.LoopID], event)

	txn := m.db.Txn(true)
	if raw, err := txn.First("loops", "id", event.LoopID); err == nil && raw != nil {
		rec := *raw.(*Record)
		rec.LastEventAt = time.Now().Unix()
		_ = txn.Insert("loops", &rec)
		txn.Commit()
	} else {
		txn.Abort()
	}

	m.notifyLocked(event.LoopID)
	return nil
}

func (m *MemoryStore) notifyLocked(loopID string) {
	for _, ch := range m.subs[loopID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *MemoryStore) PopEvent(ctx context.Context, loopID, eventType string, sender EventKind) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType, ok := m.queues[loopID]
	if !ok {
		return Event{}, ErrNotFound
	}
	bySender, ok := byType[eventType]
	if !ok {
		return Event{}, ErrNotFound
	}
	queue := bySender[sender]
	if len(queue) == 0 {
		return Event{}, ErrNotFound
	}
	head := queue[0]
	bySender[sender] = queue[1:]
	return head, nil
}

func (m *MemoryStore) GetEventHistory(ctx context.Context, loopID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.history[loopID]))
	copy(out, m.history[loopID])
	return out, nil
}

func (m *MemoryStore) GetNextNonce(ctx context.Context, loopID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[loopID]++
	return m.nonces[loopID], nil
}

func (m *MemoryStore) GetContextValue(ctx context.Context, loopID, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv, ok := m.contextKV[loopID]
	if !ok {
		return nil, false, nil
	}
	v, ok := kv[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryStore) SetContextValue(ctx context.Context, loopID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contextKV[loopID]; !ok {
		m.contextKV[loopID] = make(map[string][]byte)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.contextKV[loopID][key] = stored
	return nil
}

func (m *MemoryStore) DeleteContextValue(ctx context.Context, loopID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contextKV[loopID], key)
	return nil
}

type memorySubscription struct {
	loopID string
	ch     chan struct{}
	store  *MemoryStore
}

func (s *memorySubscription) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	subs := s.store.subs[s.loopID]
	for i, ch := range subs {
		if ch == s.ch {
			s.store.subs[s.loopID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) SubscribeToEvents(ctx context.Context, loopID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{}, 1)
	m.subs[loopID] = append(m.subs[loopID], ch)
	return &memorySubscription{loopID: loopID, ch: ch, store: m}, nil
}

func (m *MemoryStore) WaitForEventNotification(ctx context.Context, sub Subscription, timeout time.Duration) bool {
	ms, ok := sub.(*memorySubscription)
	if !ok {
		return false
	}
	select {
	case <-ms.ch:
		return true
	case <-time.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *MemoryStore) SetLoopMapping(ctx context.Context, externalKey, loopID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapping[externalKey] = loopID
	return nil
}

func (m *MemoryStore) GetLoopMapping(ctx context.Context, externalKey string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loopID, ok := m.mapping[externalKey]
	return loopID, ok, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
