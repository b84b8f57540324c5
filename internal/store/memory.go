package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It backs development mode and tests.
type Memory struct {
	mu    sync.RWMutex
	docs  map[string]map[string]json.RawMessage
	feed  ChangeFeed
	clock func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the server timestamp source.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) { m.clock = clock }
}

// WithFeed replaces the default in-process change feed.
func WithFeed(feed ChangeFeed) MemoryOption {
	return func(m *Memory) { m.feed = feed }
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		docs:  make(map[string]map[string]json.RawMessage),
		feed:  NewLocalFeed(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Subscribe(ctx context.Context, ns Namespace, c Collection, order []OrderBy) (*Subscription, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	key := feedKey(ns, c)
	return watch(ctx, m.feed, key, c, func(context.Context) ([]Document, error) {
		return m.list(key, order)
	}, m.clock)
}

func (m *Memory) Create(ctx context.Context, ns Namespace, c Collection, fields Fields) (string, error) {
	if err := ns.Validate(); err != nil {
		return "", writeErr("create", c, "", err)
	}
	id := uuid.NewString()
	data, err := json.Marshal(fields.resolve(m.clock()))
	if err != nil {
		return "", writeErr("create", c, "", err)
	}
	key := feedKey(ns, c)

	m.mu.Lock()
	m.collection(key)[id] = data
	m.mu.Unlock()

	return id, writeErr("create", c, id, m.feed.Notify(ctx, key))
}

func (m *Memory) Update(ctx context.Context, ns Namespace, c Collection, id string, fields Fields) error {
	if err := ns.Validate(); err != nil {
		return writeErr("update", c, id, err)
	}
	key := feedKey(ns, c)

	m.mu.Lock()
	current, ok := m.docs[key][id]
	if !ok {
		m.mu.Unlock()
		return writeErr("update", c, id, ErrNotFound)
	}
	merged, err := merge(current, fields.resolve(m.clock()))
	if err != nil {
		m.mu.Unlock()
		return writeErr("update", c, id, err)
	}
	m.docs[key][id] = merged
	m.mu.Unlock()

	return writeErr("update", c, id, m.feed.Notify(ctx, key))
}

// Upsert creates or fully replaces the document stored under id.
func (m *Memory) Upsert(ctx context.Context, ns Namespace, c Collection, id string, fields Fields) error {
	if err := ns.Validate(); err != nil {
		return writeErr("upsert", c, id, err)
	}
	if id == "" {
		return writeErr("upsert", c, id, fmt.Errorf("empty document id"))
	}
	data, err := json.Marshal(fields.resolve(m.clock()))
	if err != nil {
		return writeErr("upsert", c, id, err)
	}
	key := feedKey(ns, c)

	m.mu.Lock()
	m.collection(key)[id] = data
	m.mu.Unlock()

	return writeErr("upsert", c, id, m.feed.Notify(ctx, key))
}

// Delete removes the document. Deleting a missing id is not an error.
func (m *Memory) Delete(ctx context.Context, ns Namespace, c Collection, id string) error {
	if err := ns.Validate(); err != nil {
		return writeErr("delete", c, id, err)
	}
	key := feedKey(ns, c)

	m.mu.Lock()
	delete(m.docs[key], id)
	m.mu.Unlock()

	return writeErr("delete", c, id, m.feed.Notify(ctx, key))
}

// collection must be called with mu held.
func (m *Memory) collection(key string) map[string]json.RawMessage {
	coll, ok := m.docs[key]
	if !ok {
		coll = make(map[string]json.RawMessage)
		m.docs[key] = coll
	}
	return coll
}

func (m *Memory) list(key string, order []OrderBy) ([]Document, error) {
	m.mu.RLock()
	docs := make([]Document, 0, len(m.docs[key]))
	for id, data := range m.docs[key] {
		docs = append(docs, Document{ID: id, Data: data})
	}
	m.mu.RUnlock()

	keys := make([]map[string]any, len(docs))
	for i, d := range docs {
		var fields map[string]any
		if err := json.Unmarshal(d.Data, &fields); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.ID, err)
		}
		keys[i] = fields
	}

	idx := make([]int, len(docs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return lessByOrder(keys[idx[a]], keys[idx[b]], docs[idx[a]].ID, docs[idx[b]].ID, order)
	})

	out := make([]Document, len(docs))
	for i, j := range idx {
		out[i] = docs[j]
	}
	return out, nil
}

func merge(current json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(current, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// lessByOrder compares two documents key by key. A missing or null field
// sorts after any present value regardless of direction; ties fall back to id.
func lessByOrder(a, b map[string]any, aID, bID string, order []OrderBy) bool {
	for _, o := range order {
		av, aok := a[o.Field]
		bv, bok := b[o.Field]
		aok = aok && av != nil
		bok = bok && bv != nil
		switch {
		case !aok && !bok:
			continue
		case !aok:
			return false
		case !bok:
			return true
		}
		cmp := compareValues(av, bv)
		if cmp == 0 {
			continue
		}
		if o.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return aID < bID
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}
	return typeRank(a) - typeRank(b)
}

func typeRank(v any) int {
	switch v.(type) {
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case []any:
		return 4
	case map[string]any:
		return 5
	}
	return 6
}
