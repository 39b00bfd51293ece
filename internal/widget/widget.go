// Package widget publishes a simplified projection of today's events for the
// home-screen widget and reads it back.
//
// The on-disk payload is a versioned snapshot. [Decode] also understands the
// legacy dictionary layout (date key → event list) written by older builds,
// so a widget extension can be upgraded independently of the app.
package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/njoerd114/daydial/internal/model"
)

// SchemaV1 is the current snapshot version.
const SchemaV1 = 1

// ErrUnknownFormat is returned by [Decode] when data matches neither the v1
// schema nor the legacy dictionary.
var ErrUnknownFormat = errors.New("widget: unknown snapshot format")

// Event is the widget's view of one event.
type Event struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	StartHour float64 `json:"startHour"`
	EndHour   float64 `json:"endHour"`
	Color     string  `json:"color,omitempty"`
	Emoji     string  `json:"emoji,omitempty"`
}

// Snapshot is what the widget renders.
type Snapshot struct {
	Version     int       `json:"version"`
	Date        string    `json:"date"`
	GeneratedAt time.Time `json:"generatedAt"`
	Events      []Event   `json:"events"`
}

// Project converts the events of one day into widget events, sorted by start.
func Project(dateKey string, events []model.Event) []Event {
	day := make([]model.Event, 0, len(events))
	for _, e := range events {
		if e.DateKey == dateKey {
			day = append(day, e)
		}
	}
	model.SortEvents(day)

	out := make([]Event, 0, len(day))
	for _, e := range day {
		out = append(out, Event{
			ID:        e.ID,
			Title:     e.Title,
			StartHour: e.StartHour,
			EndHour:   e.EndHour,
			Color:     e.Color,
			Emoji:     e.Emoji,
		})
	}
	return out
}

// FilePublisher writes snapshots to a single file shared with the widget.
type FilePublisher struct {
	path string
	now  func() time.Time
}

// NewFilePublisher returns a publisher writing to path.
func NewFilePublisher(path string) *FilePublisher {
	return &FilePublisher{path: path, now: time.Now}
}

// Publish writes the dateKey subset of events. The file is replaced
// atomically so the widget never reads a half-written snapshot.
func (p *FilePublisher) Publish(ctx context.Context, dateKey string, events []model.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish widget snapshot: %w", err)
	}

	snap := Snapshot{
		Version:     SchemaV1,
		Date:        dateKey,
		GeneratedAt: p.now().UTC(),
		Events:      Project(dateKey, events),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding widget snapshot: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating widget directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".widget-*.json")
	if err != nil {
		return fmt.Errorf("creating widget temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing widget snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing widget snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replacing widget snapshot %q: %w", p.path, err)
	}
	return nil
}

// ReadFile loads and decodes the snapshot at path.
func ReadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading widget snapshot: %w", err)
	}
	return Decode(data)
}

// Decode parses a snapshot in either the v1 schema or the legacy dictionary
// layout. Legacy payloads carry several days; the earliest one is returned.
func Decode(data []byte) (Snapshot, error) {
	data = bytes.TrimSpace(data)

	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}

	if probe.Version != nil {
		if *probe.Version != SchemaV1 {
			return Snapshot{}, fmt.Errorf("%w: version %d", ErrUnknownFormat, *probe.Version)
		}
		var snap Snapshot
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&snap); err != nil {
			return Snapshot{}, fmt.Errorf("decoding v1 widget snapshot: %w", err)
		}
		return snap, nil
	}

	return decodeLegacy(data)
}

// legacyEvent is the per-event layout of the dictionary format: times were
// stored as "start"/"end" and the colour under "colorHex".
type legacyEvent struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	ColorHex string  `json:"colorHex"`
	Emoji    string  `json:"emoji"`
}

func decodeLegacy(data []byte) (Snapshot, error) {
	var days map[string][]legacyEvent
	if err := json.Unmarshal(data, &days); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	if len(days) == 0 {
		return Snapshot{}, fmt.Errorf("%w: empty legacy payload", ErrUnknownFormat)
	}

	var first string
	for k := range days {
		if _, err := time.Parse(model.DateKeyLayout, k); err != nil {
			return Snapshot{}, fmt.Errorf("%w: legacy key %q is not a date", ErrUnknownFormat, k)
		}
		if first == "" || k < first {
			first = k
		}
	}

	snap := Snapshot{Version: SchemaV1, Date: first}
	for _, le := range days[first] {
		snap.Events = append(snap.Events, Event{
			ID:        le.ID,
			Title:     le.Title,
			StartHour: le.Start,
			EndHour:   le.End,
			Color:     le.ColorHex,
			Emoji:     le.Emoji,
		})
	}
	return snap, nil
}
