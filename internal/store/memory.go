package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/otnpmon/internal/clock"
)

type tableRef struct {
	partition int
	namespace Namespace
	table     string
}

type memoryEntry struct {
	fields    Fields
	expiresAt time.Time
}

// memoryStore keeps everything in process memory. Used by tests and by
// deployments that do not need records to survive a restart.
type memoryStore struct {
	mu     sync.Mutex
	clock  clock.Clock
	tables map[tableRef]map[string]*memoryEntry
}

// NewMemory returns an empty in-memory Store whose TTLs follow clk.
func NewMemory(clk clock.Clock) Store {
	return &memoryStore{
		clock:  clk,
		tables: make(map[tableRef]map[string]*memoryEntry),
	}
}

func (s *memoryStore) Client(partition int, ns Namespace) Client {
	return &memoryClient{store: s, partition: partition, namespace: ns}
}

func (s *memoryStore) Purge(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	purged := 0
	for _, entries := range s.tables {
		for key, entry := range entries {
			if entry.expired(now) {
				delete(entries, key)
				purged++
			}
		}
	}
	return purged, nil
}

func (*memoryStore) Close() error {
	return nil
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type memoryClient struct {
	store     *memoryStore
	partition int
	namespace Namespace
}

func (c *memoryClient) ref(table string) tableRef {
	return tableRef{partition: c.partition, namespace: c.namespace, table: table}
}

// entry returns the live record; the caller holds the store lock.
func (c *memoryClient) entry(table, key string) *memoryEntry {
	entries := c.store.tables[c.ref(table)]
	if entries == nil {
		return nil
	}
	entry := entries[key]
	if entry == nil {
		return nil
	}
	if entry.expired(c.store.clock.Now()) {
		delete(entries, key)
		return nil
	}
	return entry
}

func (c *memoryClient) Exists(_ context.Context, table, key string) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.entry(table, key) != nil, nil
}

func (c *memoryClient) GetEntry(_ context.Context, table, key string) (Fields, bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	entry := c.entry(table, key)
	if entry == nil {
		return nil, false, nil
	}
	out := make(Fields, len(entry.fields))
	for field, value := range entry.fields {
		out[field] = value
	}
	return out, true, nil
}

func (c *memoryClient) GetKeys(_ context.Context, table string) ([]string, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	entries := c.store.tables[c.ref(table)]
	keys := make([]string, 0, len(entries))
	for key := range entries {
		if c.entry(table, key) != nil {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *memoryClient) GetField(_ context.Context, table, key, field string) (string, bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	entry := c.entry(table, key)
	if entry == nil {
		return "", false, nil
	}
	value, ok := entry.fields[field]
	return value, ok, nil
}

func (c *memoryClient) Set(_ context.Context, table, key string, fields Fields) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	entry := c.entry(table, key)
	if entry == nil {
		ref := c.ref(table)
		if c.store.tables[ref] == nil {
			c.store.tables[ref] = make(map[string]*memoryEntry)
		}
		entry = &memoryEntry{fields: make(Fields, len(fields))}
		c.store.tables[ref][key] = entry
	}
	for field, value := range fields {
		entry.fields[field] = value
	}
	return nil
}

func (c *memoryClient) SetField(ctx context.Context, table, key, field, value string) error {
	return c.Set(ctx, table, key, Fields{field: value})
}

func (c *memoryClient) DeleteEntry(_ context.Context, table, key string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if entries := c.store.tables[c.ref(table)]; entries != nil {
		delete(entries, key)
	}
	return nil
}

func (c *memoryClient) Expire(_ context.Context, table, key string, ttl time.Duration) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if entry := c.entry(table, key); entry != nil {
		entry.expiresAt = c.store.clock.Now().Add(ttl)
	}
	return nil
}
