package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/daydial/internal/cloud"
	"github.com/njoerd114/daydial/internal/model"
)

// SyncStats summarises a single [Orchestrator.FullSync].
type SyncStats struct {
	Fetched int
	Merge   MergeStats
	Created int
	Updated int
	Failed  int
	Total   int
}

// Orchestrator is the only component that calls the remote event API. It
// holds no lock across a sync: overlapping calls each reconcile against what
// they fetched, and the last one to save wins.
type Orchestrator struct {
	remote  RemoteEvents
	store   LocalStore
	session SessionSource
	log     *slog.Logger
	window  cloud.Range
	now     func() time.Time
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithRange limits the remote listing fetched by [Orchestrator.FullSync].
// The zero Range fetches everything.
func WithRange(r cloud.Range) Option {
	return func(o *Orchestrator) { o.window = r }
}

// NewOrchestrator creates an Orchestrator wired to the remote API, the local
// store and the session source.
func NewOrchestrator(remote RemoteEvents, store LocalStore, session SessionSource, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		remote:  remote,
		store:   store,
		session: session,
		log:     logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FullSync fetches the remote listing, reconciles it with local, uploads
// every pending or never-uploaded record, and saves the result.
//
// It fails only when there is no session ([ErrNotAuthenticated]) or the
// listing cannot be fetched ([ErrFetch]); the store is left untouched in
// both cases. A failed upload leaves that record with its prior status.
func (o *Orchestrator) FullSync(ctx context.Context, local []model.Event) ([]model.Event, SyncStats, error) {
	var stats SyncStats
	merged, err := o.fullSync(ctx, local, &stats)
	if err != nil {
		o.recordFailure(ctx, err)
		return nil, stats, err
	}
	return merged, stats, nil
}

func (o *Orchestrator) fullSync(ctx context.Context, local []model.Event, stats *SyncStats) ([]model.Event, error) {
	if err := o.ensureSession(ctx); err != nil {
		return nil, err
	}

	// 1. Fetch.
	remote, err := o.remote.FetchEvents(ctx, o.window)
	if err != nil {
		if isAuthError(err) {
			return nil, notAuthenticated(err)
		}
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	stats.Fetched = len(remote)

	// 2. Reconcile.
	merged, ms := Reconciler{}.Merge(local, remote)
	stats.Merge = ms
	o.log.Debug("reconciled",
		"local", len(local),
		"remote", len(remote),
		"remote_wins", ms.RemoteWins,
		"local_wins", ms.LocalWins,
		"conflicts", ms.Conflicts,
	)

	// 3. Upload.
	for i := range merged {
		e := &merged[i]
		if e.SyncStatus != model.StatusPending && e.CloudID != "" {
			continue
		}

		creating := e.CloudID == ""
		uploaded, err := o.upload(ctx, *e)
		if err != nil {
			if isAuthError(err) {
				return nil, notAuthenticated(err)
			}
			o.log.Warn("upload failed, record stays pending",
				"id", e.ID,
				"title", e.Title,
				"error", err,
			)
			stats.Failed++
			continue
		}
		if creating || uploaded.CloudID != e.CloudID {
			stats.Created++
		} else {
			stats.Updated++
		}
		*e = uploaded
	}
	stats.Total = len(merged)

	// 4. Persist.
	if err := o.store.SaveAll(ctx, merged); err != nil {
		o.log.Error("saving merged events", "error", err)
	}
	if err := o.store.SetLastSync(ctx, o.now()); err != nil {
		o.log.Warn("recording last sync time", "error", err)
	}
	if err := o.store.SetLastSyncError(ctx, ""); err != nil {
		o.log.Warn("clearing last sync error", "error", err)
	}

	o.log.Info("sync complete",
		"fetched", stats.Fetched,
		"created", stats.Created,
		"updated", stats.Updated,
		"failed", stats.Failed,
		"total", stats.Total,
	)
	return merged, nil
}

// CreateRemote uploads e as a new remote record and returns it with its
// CloudID set and status synced.
func (o *Orchestrator) CreateRemote(ctx context.Context, e model.Event) (model.Event, error) {
	if err := o.ensureSession(ctx); err != nil {
		return e, err
	}
	out, err := o.create(ctx, e)
	if err != nil {
		return e, o.classify(err)
	}
	return out, nil
}

// UpdateRemote pushes e to the remote record it is linked to. A record
// without a CloudID, or whose remote copy no longer exists, is created.
func (o *Orchestrator) UpdateRemote(ctx context.Context, e model.Event) (model.Event, error) {
	if e.CloudID == "" {
		return o.CreateRemote(ctx, e)
	}
	if err := o.ensureSession(ctx); err != nil {
		return e, err
	}
	out, err := o.upload(ctx, e)
	if err != nil {
		return e, o.classify(err)
	}
	return out, nil
}

// DeleteRemote removes the remote copy of e. It is a no-op for a record that
// was never uploaded or whose remote copy is already gone.
func (o *Orchestrator) DeleteRemote(ctx context.Context, e model.Event) error {
	if e.CloudID == "" {
		return nil
	}
	if err := o.ensureSession(ctx); err != nil {
		return err
	}
	err := o.remote.DeleteEvent(ctx, e.CloudID)
	if errors.Is(err, cloud.ErrNotFound) {
		o.log.Debug("remote event already deleted", "cloud_id", e.CloudID)
		return nil
	}
	if err != nil {
		return o.classify(fmt.Errorf("deleting %q: %w", e.Title, err))
	}
	return nil
}

// DeleteAllRemote discards every remote event of the signed-in account.
func (o *Orchestrator) DeleteAllRemote(ctx context.Context) error {
	if err := o.ensureSession(ctx); err != nil {
		return err
	}
	if err := o.remote.DeleteAllEvents(ctx); err != nil {
		return o.classify(fmt.Errorf("deleting all remote events: %w", err))
	}
	o.log.Info("all remote events deleted")
	return nil
}

// BatchUpload uploads events in one request and saves the result. With
// clearExisting the remote first discards the account's prior events and
// every record is sent; otherwise only records without a CloudID are. It is
// meant for the explicit switch-to-cloud migration only.
//
// Records the server acknowledges become synced with their new CloudID.
// With clearExisting, records it does not acknowledge lose their stale
// CloudID and become pending. All records are returned and saved.
func (o *Orchestrator) BatchUpload(ctx context.Context, events []model.Event, clearExisting bool) ([]model.Event, error) {
	if err := o.ensureSession(ctx); err != nil {
		return nil, err
	}

	send := events
	if !clearExisting {
		send = make([]model.Event, 0, len(events))
		for _, e := range events {
			if e.CloudID == "" {
				send = append(send, e)
			}
		}
	}

	created, err := o.remote.BatchCreateEvents(ctx, send, clearExisting)
	if err != nil {
		return nil, o.classify(fmt.Errorf("batch upload of %d events: %w", len(send), err))
	}

	byID := make(map[string]string, len(created))
	byContent := make(map[model.ContentKey]string, len(created))
	for i := range created {
		c := &created[i]
		if c.CloudID == "" {
			continue
		}
		byID[c.ID] = c.CloudID
		byContent[c.ContentKey()] = c.CloudID
	}

	out := make([]model.Event, 0, len(events))
	acked := 0
	for _, e := range events {
		e = e.Clone()
		if !clearExisting && e.CloudID != "" {
			out = append(out, e)
			continue
		}
		cloudID, ok := byID[e.ID]
		if !ok {
			cloudID, ok = byContent[e.ContentKey()]
			if ok {
				delete(byContent, e.ContentKey())
			}
		}
		switch {
		case ok:
			e.CloudID = cloudID
			e.SyncStatus = model.StatusSynced
			acked++
		case clearExisting:
			e.CloudID = ""
			e.SyncStatus = model.StatusPending
		}
		out = append(out, e)
	}

	if err := o.store.SaveAll(ctx, out); err != nil {
		o.log.Error("saving uploaded events", "error", err)
	}
	if err := o.store.SetLastSync(ctx, o.now()); err != nil {
		o.log.Warn("recording last sync time", "error", err)
	}

	o.log.Info("batch upload complete",
		"sent", len(send),
		"acknowledged", acked,
		"clear_existing", clearExisting,
	)
	return out, nil
}

// --- helpers -----------------------------------------------------------------

// upload creates or updates e depending on whether it has a CloudID.
func (o *Orchestrator) upload(ctx context.Context, e model.Event) (model.Event, error) {
	if e.CloudID == "" {
		return o.create(ctx, e)
	}

	_, err := o.remote.UpdateEvent(ctx, e)
	if errors.Is(err, cloud.ErrNotFound) {
		o.log.Info("remote copy gone, re-creating", "id", e.ID, "cloud_id", e.CloudID)
		e.CloudID = ""
		return o.create(ctx, e)
	}
	if err != nil {
		return e, fmt.Errorf("updating %q: %w", e.Title, err)
	}

	out := e.Clone()
	out.SyncStatus = model.StatusSynced
	return out, nil
}

func (o *Orchestrator) create(ctx context.Context, e model.Event) (model.Event, error) {
	created, err := o.remote.CreateEvent(ctx, e)
	if err != nil {
		return e, fmt.Errorf("creating %q: %w", e.Title, err)
	}
	if created.CloudID == "" {
		return e, fmt.Errorf("creating %q: server returned no id", e.Title)
	}

	out := e.Clone()
	out.CloudID = created.CloudID
	out.SyncStatus = model.StatusSynced
	return out, nil
}

func (o *Orchestrator) ensureSession(ctx context.Context) error {
	if o.session == nil {
		return ErrNotAuthenticated
	}
	if _, err := o.session.Token(ctx); err != nil {
		return notAuthenticated(err)
	}
	return nil
}

func (o *Orchestrator) classify(err error) error {
	if isAuthError(err) {
		return notAuthenticated(err)
	}
	return err
}

// recordFailure stores the message shown as "last sync failed". It must
// outlive a cancelled sync context.
func (o *Orchestrator) recordFailure(ctx context.Context, err error) {
	o.log.Error("sync failed", "error", err)
	if serr := o.store.SetLastSyncError(context.WithoutCancel(ctx), err.Error()); serr != nil {
		o.log.Warn("recording sync failure", "error", serr)
	}
}

func isAuthError(err error) bool {
	return errors.Is(err, cloud.ErrUnauthorized) || errors.Is(err, ErrNotAuthenticated)
}

func notAuthenticated(err error) error {
	if errors.Is(err, ErrNotAuthenticated) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
}
