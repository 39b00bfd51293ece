package cloud

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/daydial/internal/model"
)

// eventFields are the content fields the API stores for an event.
// Notification settings stay on the device.
type eventFields struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Category     string   `json:"category,omitempty"`
	Emoji        string   `json:"emoji,omitempty"`
	Color        string   `json:"color,omitempty"`
	StartHour    float64  `json:"startHour"`
	EndHour      float64  `json:"endHour"`
	DateKey      string   `json:"dateKey"`
	Participants []string `json:"participants,omitempty"`
	IsCompleted  bool     `json:"isCompleted"`
}

// eventInput is the body of POST /events and PUT /events/{id}, and one entry
// of a batch. LocalID echoes the client ID back on later listings.
type eventInput struct {
	LocalID string `json:"localId"`
	eventFields
}

// remoteEvent is one record of the listing returned by GET /events.
type remoteEvent struct {
	ID      string `json:"id"`
	UserID  string `json:"userId,omitempty"`
	LocalID string `json:"localId,omitempty"`
	eventFields
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// batchRequest is the body of POST /events/batch.
type batchRequest struct {
	Events        []eventInput `json:"events"`
	ClearExisting bool         `json:"clearExisting"`
}

var errNoServerID = errors.New("remote event has no id")

// toModel converts a listing record. The client ID is recovered from the
// localId echo when it is a UUID; otherwise the record is keyed by its
// server identity alone.
func toModel(r remoteEvent) (model.Event, error) {
	if r.ID == "" {
		return model.Event{}, errNoServerID
	}

	id := model.IDForCloudID(r.ID)
	if r.LocalID != "" {
		if _, err := uuid.Parse(r.LocalID); err == nil {
			id = r.LocalID
		}
	}

	e := model.Event{
		ID:           id,
		CloudID:      r.ID,
		Title:        r.Title,
		Description:  r.Description,
		Category:     r.Category,
		Emoji:        r.Emoji,
		Color:        r.Color,
		StartHour:    r.StartHour,
		EndHour:      r.EndHour,
		DateKey:      r.DateKey,
		Participants: r.Participants,
		IsCompleted:  r.IsCompleted,
		SyncStatus:   model.StatusSynced,
	}

	stamp := r.UpdatedAt
	if stamp == "" {
		stamp = r.CreatedAt
	}
	if stamp != "" {
		t, err := parseTimestamp(stamp)
		if err != nil {
			return model.Event{}, fmt.Errorf("event %s: %w", r.ID, err)
		}
		e.LastModified = &t
	}
	return e, nil
}

func toInput(e model.Event) eventInput {
	return eventInput{
		LocalID: e.ID,
		eventFields: eventFields{
			Title:        e.Title,
			Description:  e.Description,
			Category:     e.Category,
			Emoji:        e.Emoji,
			Color:        e.Color,
			StartHour:    e.StartHour,
			EndHour:      e.EndHour,
			DateKey:      e.DateKey,
			Participants: e.Participants,
			IsCompleted:  e.IsCompleted,
		},
	}
}

// timestampLayouts are the ISO-8601 forms the API has been seen to emit.
// Timestamps without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}
