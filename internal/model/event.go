// Package model defines the event record shared by the local store, the
// reconciler, the sync orchestrator, and the cloud transport.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateKeyLayout is the layout of [Event.DateKey]: a calendar day in the
// device's local time zone.
const DateKeyLayout = "2006-01-02"

// OffsetAtEnd is the reserved notification offset meaning "at the end of the
// event" rather than N minutes before its start.
const OffsetAtEnd = -1

// SyncStatus tracks where a record stands relative to the remote copy.
type SyncStatus string

const (
	// StatusLocal marks a record that was never intended for the cloud.
	StatusLocal SyncStatus = "local"
	// StatusPending marks a record created or modified locally and not yet
	// confirmed by the remote.
	StatusPending SyncStatus = "pending"
	// StatusSynced marks a record confirmed present on the remote with
	// matching content.
	StatusSynced SyncStatus = "synced"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusLocal, StatusPending, StatusSynced:
		return true
	default:
		return false
	}
}

// NotificationSettings is owned by the notification scheduler. The sync core
// carries it through merges verbatim.
type NotificationSettings struct {
	Enabled bool `json:"enabled"`

	// Offsets are minutes before start; [OffsetAtEnd] means "at end".
	Offsets []int `json:"offsets,omitempty"`

	// ScheduledIDs are the handles of notifications already scheduled.
	ScheduledIDs []string `json:"scheduledIds,omitempty"`
}

// Event is one scheduled item on the user's day: the unit of synchronization.
type Event struct {
	// ID is client-assigned and immutable for the record's local lifetime.
	ID string `json:"id"`

	// CloudID is assigned by the server on first successful upload and is the
	// authoritative key for remote update and delete.
	CloudID string `json:"cloudId,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
	Color       string `json:"color,omitempty"`

	// StartHour and EndHour are fractional hours from midnight of DateKey.
	// EndHour may exceed 24 for events that run past midnight.
	StartHour float64 `json:"startHour"`
	EndHour   float64 `json:"endHour"`

	// DateKey is the YYYY-MM-DD bucket this event belongs to.
	DateKey string `json:"dateKey"`

	Participants  []string             `json:"participants,omitempty"`
	IsCompleted   bool                 `json:"isCompleted"`
	Notifications NotificationSettings `json:"notificationSettings"`

	SyncStatus SyncStatus `json:"syncStatus"`

	// LastModified is the time of the last local mutation. A nil value loses
	// every conflict against a record that has one.
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// ContentKey is the fallback identity of a record that shares no CloudID with
// its counterpart.
type ContentKey struct {
	Title     string
	StartHour float64
	EndHour   float64
	DateKey   string
}

// NewEvent creates a record with a fresh ID. With cloud sync enabled the
// record starts pending; otherwise it stays local.
func NewEvent(title, dateKey string, startHour, endHour float64, cloudSync bool, now time.Time) Event {
	ts := now.UTC()
	status := StatusLocal
	if cloudSync {
		status = StatusPending
	}
	return Event{
		ID:           uuid.NewString(),
		Title:        title,
		DateKey:      dateKey,
		StartHour:    startHour,
		EndHour:      endHour,
		SyncStatus:   status,
		LastModified: &ts,
	}
}

// ContentKey returns the record's content tuple.
func (e *Event) ContentKey() ContentKey {
	return ContentKey{
		Title:     e.Title,
		StartHour: e.StartHour,
		EndHour:   e.EndHour,
		DateKey:   e.DateKey,
	}
}

// ContentHash returns a SHA-256 hex digest of the user-visible content. IDs,
// sync status, timestamps and notification handles are excluded: they change
// without the event itself changing.
func (e *Event) ContentHash() string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%s|%s|", e.Title, e.Description, e.Category, e.Emoji, e.Color)
	_, _ = fmt.Fprintf(h, "%g|%g|%s|", e.StartHour, e.EndHour, e.DateKey)
	h.Write([]byte(strings.Join(e.Participants, "\x1f")))
	_, _ = fmt.Fprintf(h, "|%t", e.IsCompleted)
	return hex.EncodeToString(h.Sum(nil))
}

// Touch records a local mutation at now. A synced record goes back to
// pending when cloud sync is on; a local record is promoted to pending too.
func (e *Event) Touch(now time.Time, cloudSync bool) {
	ts := now.UTC()
	e.LastModified = &ts
	if cloudSync {
		e.SyncStatus = StatusPending
	}
}

// NewerThan reports whether e was modified after other. A record without a
// timestamp is never newer.
func (e *Event) NewerThan(other *Event) bool {
	if e.LastModified == nil {
		return false
	}
	if other.LastModified == nil {
		return true
	}
	return e.LastModified.After(*other.LastModified)
}

// Clone returns a deep copy so callers can modify the result without touching
// the original's slices or timestamp.
func (e Event) Clone() Event {
	e.Participants = slices.Clone(e.Participants)
	e.Notifications.Offsets = slices.Clone(e.Notifications.Offsets)
	e.Notifications.ScheduledIDs = slices.Clone(e.Notifications.ScheduledIDs)
	if e.LastModified != nil {
		ts := *e.LastModified
		e.LastModified = &ts
	}
	return e
}

// Validate checks the record's well-formedness invariants.
func (e *Event) Validate() error {
	var errs []error
	if e.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(e.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if _, err := time.Parse(DateKeyLayout, e.DateKey); err != nil {
		errs = append(errs, fmt.Errorf("date key %q is not YYYY-MM-DD", e.DateKey))
	}
	if e.StartHour < 0 || e.StartHour >= 24 {
		errs = append(errs, fmt.Errorf("start hour %g out of range [0,24)", e.StartHour))
	}
	if e.EndHour > 48 {
		errs = append(errs, fmt.Errorf("end hour %g exceeds 48", e.EndHour))
	}
	if e.StartHour >= e.EndHour {
		errs = append(errs, fmt.Errorf("start hour %g must be before end hour %g", e.StartHour, e.EndHour))
	}
	if !e.SyncStatus.Valid() {
		errs = append(errs, fmt.Errorf("unknown sync status %q", e.SyncStatus))
	}
	if e.SyncStatus == StatusSynced && e.CloudID == "" {
		errs = append(errs, errors.New("synced record has no cloud id"))
	}
	return errors.Join(errs...)
}

// serverIdentityNS scopes IDs derived from server identifiers.
var serverIdentityNS = uuid.MustParse("9b5c3f0e-2d6a-4c1e-8f47-3a8d2e6b1c90")

// IDForCloudID derives the record ID of a server record that carries no
// usable client ID. The mapping is deterministic: the same CloudID always
// yields the same ID.
func IDForCloudID(cloudID string) string {
	return uuid.NewSHA1(serverIdentityNS, []byte(cloudID)).String()
}

// DateKeyFor returns the day bucket of t in loc.
func DateKeyFor(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateKeyLayout)
}

// ParseDateKey parses a YYYY-MM-DD key as midnight in loc.
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateKeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date key %q: %w", key, err)
	}
	return t, nil
}

// SortEvents orders events by day, then start hour, then ID.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := &events[i], &events[j]
		if a.DateKey != b.DateKey {
			return a.DateKey < b.DateKey
		}
		if a.StartHour != b.StartHour {
			return a.StartHour < b.StartHour
		}
		return a.ID < b.ID
	})
}

// FormatHour renders a fractional hour as HH:MM; hours past 24 wrap with a
// "+1" day marker.
func FormatHour(h float64) string {
	total := int(h*60 + 0.5)
	day := total / (24 * 60)
	total %= 24 * 60
	s := fmt.Sprintf("%02d:%02d", total/60, total%60)
	if day > 0 {
		s += fmt.Sprintf("+%d", day)
	}
	return s
}
