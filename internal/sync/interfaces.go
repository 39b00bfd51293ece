// Package sync implements local/cloud event reconciliation for daydial. It
// merges the device's event collection with the remote listing, uploads
// pending records, and persists the canonical result.
//
// The package contains four main components:
//
//   - [Reconcile] and [Reconciler] are the pure merge. They never touch
//     the network or the store.
//   - [Orchestrator] sequences fetch, reconcile, upload and persist, and
//     propagates single-record creates, updates and deletes.
//   - [Engine] runs [Orchestrator.FullSync] on a schedule or on demand.
//   - [Migration] performs the one-time local to cloud batch upload.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/njoerd114/daydial/internal/cloud"
	"github.com/njoerd114/daydial/internal/model"
)

var (
	// ErrNotAuthenticated is returned when no valid session exists for a
	// remote call. The whole sync attempt is abandoned.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrFetch is returned when the remote listing cannot be fetched or
	// decoded. A corrupt listing is never reconciled against.
	ErrFetch = errors.New("fetching remote events")
)

// RemoteEvents is the remote event API. Implemented by [cloud.Client].
type RemoteEvents interface {
	FetchEvents(ctx context.Context, r cloud.Range) ([]model.Event, error)
	CreateEvent(ctx context.Context, e model.Event) (model.Event, error)
	UpdateEvent(ctx context.Context, e model.Event) (model.Event, error)
	DeleteEvent(ctx context.Context, cloudID string) error
	DeleteAllEvents(ctx context.Context) error
	BatchCreateEvents(ctx context.Context, events []model.Event, clearExisting bool) ([]model.Event, error)
}

// LocalStore persists the event collection and sync metadata.
// Implemented by [state.Store].
type LocalStore interface {
	LoadAll(ctx context.Context) []model.Event
	SaveAll(ctx context.Context, events []model.Event) error
	SetLastSync(ctx context.Context, t time.Time) error
	SetLastSyncError(ctx context.Context, msg string) error
}

// SessionSource yields the bearer token of the signed-in user.
// Implemented by [auth.Session].
type SessionSource interface {
	Token(ctx context.Context) (string, error)
}
