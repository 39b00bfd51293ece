// Package planner implements the local event lifecycle: create, edit,
// complete and delete. Every mutation is persisted to the local store before
// it returns; the remote copy is updated in the background and a failure
// there only leaves the record pending for the next full sync.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/njoerd114/daydial/internal/model"
)

// propagateTimeout bounds a single background remote call.
const propagateTimeout = 30 * time.Second

// ErrNotFound is returned when no local event has the requested ID.
var ErrNotFound = errors.New("event not found")

// Store is the subset of the local store the service needs.
type Store interface {
	LoadAll(ctx context.Context) []model.Event
	SaveAll(ctx context.Context, events []model.Event) error
}

// Remote propagates single-record changes to the cloud. It is satisfied by
// *sync.Orchestrator.
type Remote interface {
	CreateRemote(ctx context.Context, e model.Event) (model.Event, error)
	UpdateRemote(ctx context.Context, e model.Event) (model.Event, error)
	DeleteRemote(ctx context.Context, e model.Event) error
}

// Draft holds the user-supplied fields of a new event.
type Draft struct {
	Title         string
	Description   string
	Category      string
	Emoji         string
	Color         string
	DateKey       string
	StartHour     float64
	EndHour       float64
	Participants  []string
	Notifications model.NotificationSettings
}

// Service applies user actions to the event collection.
type Service struct {
	store  Store
	remote Remote // nil when cloud sync is off
	log    *slog.Logger
	now    func() time.Time
	loc    *time.Location

	mu       sync.Mutex // serialises load-modify-save
	inflight sync.WaitGroup
}

// Option configures a [Service].
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone used to resolve "today".
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// NewService creates a Service. Pass a nil remote to keep every new record
// local.
func NewService(store Store, remote Remote, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		remote: remote,
		log:    logger,
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CloudSync reports whether changes are propagated to the cloud.
func (s *Service) CloudSync() bool { return s.remote != nil }

// Add creates an event from d and persists it.
func (s *Service) Add(ctx context.Context, d Draft) (model.Event, error) {
	e := model.NewEvent(d.Title, d.DateKey, d.StartHour, d.EndHour, s.CloudSync(), s.now())
	e.Description = d.Description
	e.Category = d.Category
	e.Emoji = d.Emoji
	e.Color = d.Color
	e.Participants = slices.Clone(d.Participants)
	e.Notifications = d.Notifications
	if err := e.Validate(); err != nil {
		return model.Event{}, fmt.Errorf("invalid event: %w", err)
	}

	s.mu.Lock()
	events := s.store.LoadAll(ctx)
	events = append(events, e)
	err := s.store.SaveAll(ctx, events)
	s.mu.Unlock()
	if err != nil {
		return model.Event{}, fmt.Errorf("saving event: %w", err)
	}

	s.log.Info("event added", "id", e.ID, "title", e.Title, "date", e.DateKey)
	if s.remote != nil {
		s.push(ctx, e, s.remote.CreateRemote)
	}
	return e, nil
}

// Edit applies fn to the event with the given ID, bumps its modification
// time and persists it.
func (s *Service) Edit(ctx context.Context, id string, fn func(*model.Event)) (model.Event, error) {
	s.mu.Lock()
	events := s.store.LoadAll(ctx)
	i := indexOf(events, id)
	if i < 0 {
		s.mu.Unlock()
		return model.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e := events[i].Clone()
	fn(&e)
	e.ID = events[i].ID
	e.CloudID = events[i].CloudID
	e.Touch(s.now(), s.CloudSync())
	if err := e.Validate(); err != nil {
		s.mu.Unlock()
		return model.Event{}, fmt.Errorf("invalid event: %w", err)
	}
	events[i] = e
	err := s.store.SaveAll(ctx, events)
	s.mu.Unlock()
	if err != nil {
		return model.Event{}, fmt.Errorf("saving event: %w", err)
	}

	s.log.Info("event updated", "id", e.ID, "title", e.Title)
	if s.remote != nil {
		s.push(ctx, e, s.remote.UpdateRemote)
	}
	return e, nil
}

// Complete marks the event done.
func (s *Service) Complete(ctx context.Context, id string) (model.Event, error) {
	return s.Edit(ctx, id, func(e *model.Event) { e.IsCompleted = true })
}

// Remove deletes the event locally. The remote copy is deleted in the
// background.
func (s *Service) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	events := s.store.LoadAll(ctx)
	i := indexOf(events, id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := events[i]
	events = slices.Delete(events, i, i+1)
	err := s.store.SaveAll(ctx, events)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("saving events: %w", err)
	}

	s.log.Info("event removed", "id", removed.ID, "title", removed.Title)
	if s.remote != nil && removed.CloudID != "" {
		s.background(ctx, func(ctx context.Context) {
			if err := s.remote.DeleteRemote(ctx, removed); err != nil {
				s.log.Warn("remote delete failed", "id", removed.ID, "cloud_id", removed.CloudID, "error", err)
			}
		})
	}
	return nil
}

// Day returns the events of one day ordered by start hour.
func (s *Service) Day(ctx context.Context, dateKey string) []model.Event {
	var out []model.Event
	for _, e := range s.store.LoadAll(ctx) {
		if e.DateKey == dateKey {
			out = append(out, e)
		}
	}
	model.SortEvents(out)
	return out
}

// Today returns the events of the current day.
func (s *Service) Today(ctx context.Context) []model.Event {
	return s.Day(ctx, model.DateKeyFor(s.now(), s.loc))
}

// All returns every event ordered by day and start hour.
func (s *Service) All(ctx context.Context) []model.Event {
	events := s.store.LoadAll(ctx)
	model.SortEvents(events)
	return events
}

// Wait blocks until every background remote call has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// push uploads e in the background and records the outcome locally.
func (s *Service) push(ctx context.Context, e model.Event, fn func(context.Context, model.Event) (model.Event, error)) {
	s.background(ctx, func(ctx context.Context) {
		out, err := fn(ctx, e)
		if err != nil {
			s.log.Warn("remote update failed, event stays pending", "id", e.ID, "title", e.Title, "error", err)
			return
		}
		s.applyUploaded(ctx, e, out)
	})
}

func (s *Service) background(ctx context.Context, fn func(context.Context)) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), propagateTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// applyUploaded stores the CloudID the server assigned. The record only
// becomes synced if it was not edited again while the upload ran.
func (s *Service) applyUploaded(ctx context.Context, sent, out model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.store.LoadAll(ctx)
	i := indexOf(events, sent.ID)
	if i < 0 {
		s.log.Debug("uploaded event was removed locally", "id", sent.ID)
		return
	}
	cur := &events[i]
	cur.CloudID = out.CloudID
	if sameTime(cur.LastModified, sent.LastModified) {
		cur.SyncStatus = model.StatusSynced
	}
	if err := s.store.SaveAll(ctx, events); err != nil {
		s.log.Error("saving upload result", "id", sent.ID, "error", err)
	}
}

func indexOf(events []model.Event, id string) int {
	return slices.IndexFunc(events, func(e model.Event) bool { return e.ID == id })
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
