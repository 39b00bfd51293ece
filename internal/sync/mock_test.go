package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/njoerd114/daydial/internal/cloud"
	"github.com/njoerd114/daydial/internal/model"
)

// --- Mock Remote --------------------------------------------------------------

type mockRemote struct {
	mu     sync.Mutex
	events map[string]model.Event // CloudID → Event
	nextID int
	clock  time.Time

	fetchErr  error
	createErr map[string]error // event ID → error
	updateErr map[string]error // CloudID → error
	batchErr  error

	fetches, creates, updates, deletes int
	lastBatch                          []model.Event
	lastClear                          bool
}

func newMockRemote(events ...model.Event) *mockRemote {
	m := &mockRemote{
		events:    make(map[string]model.Event),
		createErr: make(map[string]error),
		updateErr: make(map[string]error),
		clock:     time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
	}
	for _, e := range events {
		m.events[e.CloudID] = e
	}
	return m
}

// stamp returns a server-side timestamp later than any fixture.
func (m *mockRemote) stamp() *time.Time {
	m.clock = m.clock.Add(time.Second)
	ts := m.clock
	return &ts
}

func (m *mockRemote) FetchEvents(_ context.Context, _ cloud.Range) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	out := make([]model.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CloudID < out[j].CloudID })
	return out, nil
}

func (m *mockRemote) CreateEvent(_ context.Context, e model.Event) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.createErr[e.ID]; err != nil {
		return model.Event{}, err
	}
	m.creates++
	m.nextID++
	stored := e.Clone()
	stored.CloudID = fmt.Sprintf("srv-%d", m.nextID)
	stored.SyncStatus = model.StatusSynced
	stored.LastModified = m.stamp()
	m.events[stored.CloudID] = stored
	return stored.Clone(), nil
}

func (m *mockRemote) UpdateEvent(_ context.Context, e model.Event) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.updateErr[e.CloudID]; err != nil {
		return model.Event{}, err
	}
	if _, ok := m.events[e.CloudID]; !ok {
		return model.Event{}, cloud.ErrNotFound
	}
	m.updates++
	stored := e.Clone()
	stored.SyncStatus = model.StatusSynced
	stored.LastModified = m.stamp()
	m.events[e.CloudID] = stored
	return stored.Clone(), nil
}

func (m *mockRemote) DeleteEvent(_ context.Context, cloudID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[cloudID]; !ok {
		return cloud.ErrNotFound
	}
	m.deletes++
	delete(m.events, cloudID)
	return nil
}

func (m *mockRemote) DeleteAllEvents(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string]model.Event)
	return nil
}

func (m *mockRemote) BatchCreateEvents(_ context.Context, events []model.Event, clearExisting bool) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.batchErr != nil {
		return nil, m.batchErr
	}
	m.lastBatch = events
	m.lastClear = clearExisting
	if clearExisting {
		m.events = make(map[string]model.Event)
	}
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		m.nextID++
		stored := e.Clone()
		stored.CloudID = fmt.Sprintf("srv-%d", m.nextID)
		stored.SyncStatus = model.StatusSynced
		stored.LastModified = m.stamp()
		m.events[stored.CloudID] = stored
		out = append(out, stored.Clone())
	}
	return out, nil
}

func (m *mockRemote) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRemote) get(cloudID string) (model.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[cloudID]
	return e, ok
}

func (m *mockRemote) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// --- Mock Local Store ---------------------------------------------------------

type mockStore struct {
	mu        sync.Mutex
	events    []model.Event
	saves     int
	saveErr   error
	lastSync  time.Time
	lastError string
}

func newMockStore(events ...model.Event) *mockStore {
	return &mockStore{events: events}
}

func (m *mockStore) LoadAll(_ context.Context) []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Clone())
	}
	return out
}

func (m *mockStore) SaveAll(_ context.Context, events []model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.events = make([]model.Event, 0, len(events))
	for _, e := range events {
		m.events = append(m.events, e.Clone())
	}
	return nil
}

func (m *mockStore) SetLastSync(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync = t
	return nil
}

func (m *mockStore) SetLastSyncError(_ context.Context, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = msg
	return nil
}

func (m *mockStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// --- Mock Session -------------------------------------------------------------

type mockSession struct {
	err error
}

func (m *mockSession) Token(_ context.Context) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "test-token", nil
}
