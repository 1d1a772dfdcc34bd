package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process MetricsStore.
type Memory struct {
	mu        sync.RWMutex
	records   map[string]Record
	live      LiveSnapshot
	snapshots []Snapshot
	now       func() time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record), now: time.Now}
}

func (m *Memory) Increment(_ context.Context, key string, delta Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[key]
	r.Key = key
	r.Counters = r.Counters.Add(delta)
	r.UpdatedAt = m.now().UTC()
	m.records[key] = r
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for k, r := range m.records {
		if strings.HasPrefix(k, prefix) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) UpsertLive(_ context.Context, live LiveSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	live.Tokens = append([]string(nil), live.Tokens...)
	m.live = live
	return nil
}

func (m *Memory) Live(_ context.Context) (LiveSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	live := m.live
	live.Tokens = append([]string(nil), live.Tokens...)
	return live, nil
}

func (m *Memory) SaveSnapshot(_ context.Context, c Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, Snapshot{Counters: c, Time: m.now().UTC()})
	return nil
}

func (m *Memory) Snapshots(_ context.Context, limit int) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.snapshots)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Snapshot, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.snapshots[i])
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
