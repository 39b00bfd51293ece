package widget

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njoerd114/daydial/internal/model"
)

func TestProject_FiltersAndSorts(t *testing.T) {
	events := []model.Event{
		{ID: "b", Title: "Lunch", DateKey: "2025-01-10", StartHour: 12, EndHour: 13, Emoji: "🥗"},
		{ID: "x", Title: "Tomorrow", DateKey: "2025-01-11", StartHour: 8, EndHour: 9},
		{ID: "a", Title: "Gym", DateKey: "2025-01-10", StartHour: 7, EndHour: 8, Color: "#ff0000"},
	}

	got := Project("2025-01-10", events)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "#ff0000", got[0].Color)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "🥗", got[1].Emoji)
}

func TestFilePublisher_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared", "widget.json")
	p := NewFilePublisher(path)
	fixed := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	events := []model.Event{
		{ID: "a", Title: "Gym", DateKey: "2025-01-10", StartHour: 18, EndHour: 19},
	}
	require.NoError(t, p.Publish(context.Background(), "2025-01-10", events))

	snap, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, SchemaV1, snap.Version)
	assert.Equal(t, "2025-01-10", snap.Date)
	assert.True(t, snap.GeneratedAt.Equal(fixed))
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "Gym", snap.Events[0].Title)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".widget-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files should be cleaned up")
}

func TestFilePublisher_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewFilePublisher(path).Publish(ctx, "2025-01-10", nil)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDecode_Legacy(t *testing.T) {
	data := []byte(`{
		"2025-01-11": [{"id":"z","title":"Later","start":9,"end":10}],
		"2025-01-10": [{"id":"a","title":"Gym","start":18,"end":19,"colorHex":"#00f","emoji":"💪"}]
	}`)

	snap, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-10", snap.Date)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, Event{ID: "a", Title: "Gym", StartHour: 18, EndHour: 19, Color: "#00f", Emoji: "💪"}, snap.Events[0])
}

func TestDecode_Rejects(t *testing.T) {
	tests := map[string]string{
		"not json":        `nope`,
		"future version":  `{"version":2,"date":"2025-01-10","events":[]}`,
		"unknown v1 key":  `{"version":1,"date":"2025-01-10","events":[],"extra":true}`,
		"empty legacy":    `{}`,
		"legacy bad date": `{"monday":[]}`,
		"array":           `[1,2,3]`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestDecode_UnknownFormatSentinel(t *testing.T) {
	_, err := Decode([]byte(`{"version":7}`))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
