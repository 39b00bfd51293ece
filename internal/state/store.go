// Package state persists the device's event collection in a local SQLite
// database and derives the day-indexed view the planner works with.
//
// The collection is stored as a single serialized value and always replaced
// wholesale; there are no row-level writes. Only this package may open or
// query the database. All other packages receive a [*Store] and call its
// methods.
package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pressly/goose/v3"

	"github.com/njoerd114/daydial/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	keyEvents        = "events"
	keyLastSyncAt    = "sync.last_at"
	keyLastSyncError = "sync.last_error"
)

// Publisher receives today's events after every successful save. Implemented
// by [widget.FilePublisher].
type Publisher interface {
	Publish(ctx context.Context, dateKey string, events []model.Event) error
}

// Store is the SQLite-backed local event store.
type Store struct {
	db     *sql.DB
	log    *slog.Logger
	widget Publisher
	loc    *time.Location
	now    func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithPublisher attaches the widget side channel.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.widget = p }
}

// WithLocation sets the time zone that defines "today" for the widget.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// DefaultDBPath returns the default path for the event database:
// ~/.local/share/daydial/events.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "daydial", "events.db"), nil
}

// Open opens (or creates) the SQLite database at path and applies pending
// schema migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer; the collection is always replaced in one statement.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return newStore(db, opts...), nil
}

func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		log: slog.Default(),
		loc: time.Local,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	_, err = provider.Up(ctx)
	return err
}

// SaveAll replaces the persisted collection with events. Records sharing an
// ID collapse to the last occurrence. Today's subset is then handed to the
// widget publisher; a publish failure is logged and never returned.
func (s *Store) SaveAll(ctx context.Context, events []model.Event) error {
	events = dedupeByID(events, s.log)

	data, err := encodeCollection(events)
	if err != nil {
		return fmt.Errorf("encoding events: %w", err)
	}
	if err := s.put(ctx, keyEvents, data); err != nil {
		return fmt.Errorf("saving %d events: %w", len(events), err)
	}
	s.log.Debug("events saved", "count", len(events), "bytes", len(data))

	s.publish(ctx, events)
	return nil
}

// LoadAll returns the persisted collection. A missing or undecodable value
// yields an empty collection; the failure is logged, not returned.
func (s *Store) LoadAll(ctx context.Context) []model.Event {
	data, err := s.get(ctx, keyEvents)
	if err != nil {
		s.log.Warn("loading events failed, using empty collection", "error", err)
		return []model.Event{}
	}
	if data == nil {
		return []model.Event{}
	}

	events, err := decodeCollection(data)
	if err != nil {
		s.log.Warn("decoding events failed, using empty collection", "error", err, "bytes", len(data))
		return []model.Event{}
	}
	if events == nil {
		events = []model.Event{}
	}
	return events
}

// LoadByDate groups the collection by date key. Each bucket is sorted by
// start hour.
func (s *Store) LoadByDate(ctx context.Context) map[string][]model.Event {
	return GroupByDate(s.LoadAll(ctx))
}

// SaveByDate flattens the day index and saves it with [Store.SaveAll].
func (s *Store) SaveByDate(ctx context.Context, byDate map[string][]model.Event) error {
	return s.SaveAll(ctx, Flatten(byDate))
}

// Size returns the number of bytes the persisted collection occupies.
func (s *Store) Size(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT LENGTH(value) FROM kv WHERE key = ?`, keyEvents).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("measuring collection size: %w", err)
	}
	return n.Int64, nil
}

// Clear removes the collection and all sync metadata.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}
	return nil
}

// LastSync returns the time of the last completed full sync, or the zero
// time if none was recorded.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	data, err := s.get(ctx, keyLastSyncAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last sync time: %w", err)
	}
	return parseTime(string(data))
}

// SetLastSync records the completion time of a full sync.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	if err := s.put(ctx, keyLastSyncAt, []byte(formatTime(t))); err != nil {
		return fmt.Errorf("writing last sync time: %w", err)
	}
	return nil
}

// LastSyncError returns the message of the last failed sync, or "" if the
// last sync succeeded.
func (s *Store) LastSyncError(ctx context.Context) (string, error) {
	data, err := s.get(ctx, keyLastSyncError)
	if err != nil {
		return "", fmt.Errorf("reading last sync error: %w", err)
	}
	return string(data), nil
}

// SetLastSyncError records msg as the last sync failure. An empty msg clears it.
func (s *Store) SetLastSyncError(ctx context.Context, msg string) error {
	if msg == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, keyLastSyncError); err != nil {
			return fmt.Errorf("clearing last sync error: %w", err)
		}
		return nil
	}
	if err := s.put(ctx, keyLastSyncError, []byte(msg)); err != nil {
		return fmt.Errorf("writing last sync error: %w", err)
	}
	return nil
}

// GroupByDate builds the day index over a flat collection.
func GroupByDate(events []model.Event) map[string][]model.Event {
	byDate := make(map[string][]model.Event)
	for _, e := range events {
		byDate[e.DateKey] = append(byDate[e.DateKey], e)
	}
	for key := range byDate {
		model.SortEvents(byDate[key])
	}
	return byDate
}

// Flatten turns a day index back into a flat, ordered collection.
func Flatten(byDate map[string][]model.Event) []model.Event {
	var events []model.Event
	for _, bucket := range byDate {
		events = append(events, bucket...)
	}
	model.SortEvents(events)
	return events
}

// --- helpers -----------------------------------------------------------------

func (s *Store) publish(ctx context.Context, events []model.Event) {
	if s.widget == nil {
		return
	}
	today := model.DateKeyFor(s.now(), s.loc)
	if err := s.widget.Publish(ctx, today, events); err != nil {
		s.log.Warn("widget publish failed", "date", today, "error", err)
	}
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}
	return data, nil
}

func (s *Store) put(ctx context.Context, key string, value []byte) error {
	const q = `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		    value      = excluded.value,
		    updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, key, value, formatTime(s.now())); err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

// dedupeByID keeps one record per ID, the last one wins, first position kept.
func dedupeByID(events []model.Event, log *slog.Logger) []model.Event {
	pos := make(map[string]int, len(events))
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		if i, ok := pos[e.ID]; ok {
			log.Warn("duplicate event id in collection, keeping last", "id", e.ID, "title", e.Title)
			out[i] = e
			continue
		}
		pos[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
