package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shuttle-tracker/internal/tracking"
)

// Memory is an in-process store with the same semantics as Store. It is
// used when no database is configured and in tests.
type Memory struct {
	mu            sync.RWMutex
	stops         []tracking.Stop
	states        map[string]tracking.BusState
	locations     map[string]map[string]tracking.Report // bus -> user -> report
	confirmations map[string][]tracking.Confirmation
	clusters      map[string][]tracking.Cluster

	// Fail, when set, is returned by every mutating call.
	Fail error
}

func NewMemory() *Memory {
	return &Memory{
		states:        make(map[string]tracking.BusState),
		locations:     make(map[string]map[string]tracking.Report),
		confirmations: make(map[string][]tracking.Confirmation),
		clusters:      make(map[string][]tracking.Cluster),
	}
}

func (m *Memory) ReplaceStops(ctx context.Context, list []tracking.Stop) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.stops = append([]tracking.Stop(nil), list...)
	return nil
}

func (m *Memory) ListStops(ctx context.Context) ([]tracking.Stop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]tracking.Stop(nil), m.stops...), nil
}

func (m *Memory) GetBusState(ctx context.Context, busID string) (tracking.BusState, error) {
	if err := ctx.Err(); err != nil {
		return tracking.BusState{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[busID]
	if !ok {
		return tracking.BusState{}, fmt.Errorf("bus %q: %w", busID, tracking.ErrNotFound)
	}
	return st, nil
}

func (m *Memory) SaveBusState(ctx context.Context, st tracking.BusState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.states[st.BusID] = st
	return nil
}

func (m *Memory) ListBusStates(ctx context.Context) ([]tracking.BusState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]tracking.BusState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusID < out[j].BusID })
	return out, nil
}

func (m *Memory) ApplyReport(ctx context.Context, r tracking.Report, next *tracking.BusState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	users, ok := m.locations[r.BusID]
	if !ok {
		users = make(map[string]tracking.Report)
		m.locations[r.BusID] = users
	}
	users[r.UserID] = r
	if next != nil {
		m.states[next.BusID] = *next
	}
	return nil
}

func (m *Memory) RecentLocations(ctx context.Context, busID string, since time.Time) ([]tracking.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tracking.Report
	for _, r := range m.locations[busID] {
		if r.Timestamp.After(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (m *Memory) AddConfirmation(ctx context.Context, c tracking.Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.confirmations[c.BusID] = append(m.confirmations[c.BusID], c)
	return nil
}

func (m *Memory) CountConfirmations(ctx context.Context, busID string, stopID int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.confirmations[busID] {
		if c.StopID == stopID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) HasConfirmed(ctx context.Context, busID string, stopID int, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.confirmations[busID] {
		if c.StopID == stopID && c.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ResetBus(ctx context.Context, st tracking.BusState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.states[st.BusID] = st
	delete(m.confirmations, st.BusID)
	return nil
}

func (m *Memory) SaveClusters(ctx context.Context, busID string, clusters []tracking.Cluster, total int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.clusters[busID] = append([]tracking.Cluster(nil), clusters...)
	return nil
}

func (m *Memory) CachedClusterCount(ctx context.Context, busID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clusters[busID]), nil
}

func (m *Memory) Close() error { return nil }
