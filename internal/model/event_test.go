package model

import (
	"strings"
	"testing"
	"time"
)

func sampleEvent() Event {
	ts := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	return Event{
		ID:           "evt-1",
		Title:        "Gym",
		StartHour:    18,
		EndHour:      19,
		DateKey:      "2025-01-10",
		Participants: []string{"Ana"},
		Notifications: NotificationSettings{
			Enabled:      true,
			Offsets:      []int{10, OffsetAtEnd},
			ScheduledIDs: []string{"n-1"},
		},
		SyncStatus:   StatusPending,
		LastModified: &ts,
	}
}

// ---------------------------------------------------------------------------
// NewEvent
// ---------------------------------------------------------------------------

func TestNewEvent_StatusFollowsCloudSync(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	on := NewEvent("Standup", "2025-03-01", 9, 9.25, true, now)
	if on.SyncStatus != StatusPending {
		t.Errorf("cloud sync on: SyncStatus = %q, want %q", on.SyncStatus, StatusPending)
	}
	off := NewEvent("Standup", "2025-03-01", 9, 9.25, false, now)
	if off.SyncStatus != StatusLocal {
		t.Errorf("cloud sync off: SyncStatus = %q, want %q", off.SyncStatus, StatusLocal)
	}
	if on.ID == "" || on.ID == off.ID {
		t.Errorf("expected fresh distinct IDs, got %q and %q", on.ID, off.ID)
	}
	if on.LastModified == nil || !on.LastModified.Equal(now) {
		t.Errorf("LastModified = %v, want %v", on.LastModified, now)
	}
}

// ---------------------------------------------------------------------------
// ContentHash / ContentKey
// ---------------------------------------------------------------------------

func TestContentHash_IgnoresSyncMetadata(t *testing.T) {
	a := sampleEvent()
	b := a.Clone()
	b.ID = "other"
	b.CloudID = "c-9"
	b.SyncStatus = StatusSynced
	later := a.LastModified.Add(time.Hour)
	b.LastModified = &later
	b.Notifications.ScheduledIDs = nil

	if a.ContentHash() != b.ContentHash() {
		t.Error("hash changed with sync metadata only")
	}
}

func TestContentHash_ChangesWithContent(t *testing.T) {
	a := sampleEvent()
	b := a.Clone()
	b.IsCompleted = true
	if a.ContentHash() == b.ContentHash() {
		t.Error("hash did not change when IsCompleted flipped")
	}
	c := a.Clone()
	c.Participants = append(c.Participants, "Ben")
	if a.ContentHash() == c.ContentHash() {
		t.Error("hash did not change when a participant was added")
	}
}

func TestContentKey(t *testing.T) {
	e := sampleEvent()
	want := ContentKey{Title: "Gym", StartHour: 18, EndHour: 19, DateKey: "2025-01-10"}
	if got := e.ContentKey(); got != want {
		t.Errorf("ContentKey = %+v, want %+v", got, want)
	}
}

// ---------------------------------------------------------------------------
// Touch / NewerThan / Clone
// ---------------------------------------------------------------------------

func TestTouch(t *testing.T) {
	e := sampleEvent()
	e.SyncStatus = StatusSynced
	e.CloudID = "c-1"
	now := time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)

	e.Touch(now, true)
	if e.SyncStatus != StatusPending {
		t.Errorf("SyncStatus = %q, want pending", e.SyncStatus)
	}
	if !e.LastModified.Equal(now) {
		t.Errorf("LastModified = %v, want %v", e.LastModified, now)
	}

	l := sampleEvent()
	l.SyncStatus = StatusLocal
	l.Touch(now, false)
	if l.SyncStatus != StatusLocal {
		t.Errorf("cloud sync off: SyncStatus = %q, want local", l.SyncStatus)
	}
}

func TestNewerThan(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	tests := []struct {
		name string
		a, b *time.Time
		want bool
	}{
		{"newer", &t2, &t1, true},
		{"older", &t1, &t2, false},
		{"equal", &t1, &t1, false},
		{"nil vs set", nil, &t1, false},
		{"set vs nil", &t1, nil, true},
		{"both nil", nil, nil, false},
	}
	for _, tt := range tests {
		a, b := Event{LastModified: tt.a}, Event{LastModified: tt.b}
		if got := a.NewerThan(&b); got != tt.want {
			t.Errorf("%s: NewerThan = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestClone_IsDeep(t *testing.T) {
	a := sampleEvent()
	b := a.Clone()
	b.Participants[0] = "Zoe"
	b.Notifications.Offsets[0] = 99
	*b.LastModified = b.LastModified.Add(time.Hour)

	if a.Participants[0] != "Ana" {
		t.Error("Clone shares Participants")
	}
	if a.Notifications.Offsets[0] != 10 {
		t.Error("Clone shares notification offsets")
	}
	if a.LastModified.Hour() != 9 {
		t.Error("Clone shares LastModified")
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr string
	}{
		{"valid", func(*Event) {}, ""},
		{"cross midnight", func(e *Event) { e.StartHour, e.EndHour = 23, 25.5 }, ""},
		{"missing id", func(e *Event) { e.ID = "" }, "id is required"},
		{"blank title", func(e *Event) { e.Title = "  " }, "title is required"},
		{"bad date", func(e *Event) { e.DateKey = "10/01/2025" }, "not YYYY-MM-DD"},
		{"inverted", func(e *Event) { e.StartHour, e.EndHour = 19, 18 }, "must be before"},
		{"start out of range", func(e *Event) { e.StartHour = 24 }, "out of range"},
		{"synced without cloud id", func(e *Event) { e.SyncStatus = StatusSynced }, "no cloud id"},
		{"unknown status", func(e *Event) { e.SyncStatus = "draft" }, "unknown sync status"},
	}
	for _, tt := range tests {
		e := sampleEvent()
		tt.mutate(&e)
		err := e.Validate()
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("%s: unexpected error: %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: error = %v, want containing %q", tt.name, err, tt.wantErr)
		}
	}
}

// ---------------------------------------------------------------------------
// Date keys and ordering
// ---------------------------------------------------------------------------

func TestDateKeyFor_UsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	ts := time.Date(2025, 1, 10, 20, 0, 0, 0, time.UTC)
	if got := DateKeyFor(ts, tokyo); got != "2025-01-11" {
		t.Errorf("DateKeyFor = %q, want 2025-01-11", got)
	}
	if got := DateKeyFor(ts, time.UTC); got != "2025-01-10" {
		t.Errorf("DateKeyFor(UTC) = %q, want 2025-01-10", got)
	}
}

func TestParseDateKey(t *testing.T) {
	got, err := ParseDateKey("2025-02-28", time.UTC)
	if err != nil {
		t.Fatalf("ParseDateKey: %v", err)
	}
	if got.Day() != 28 || got.Month() != time.February {
		t.Errorf("ParseDateKey = %v", got)
	}
	if _, err := ParseDateKey("2025-13-01", time.UTC); err == nil {
		t.Error("expected error for month 13")
	}
}

func TestSortEvents(t *testing.T) {
	events := []Event{
		{ID: "c", DateKey: "2025-01-11", StartHour: 8},
		{ID: "b", DateKey: "2025-01-10", StartHour: 12},
		{ID: "a", DateKey: "2025-01-10", StartHour: 12},
		{ID: "d", DateKey: "2025-01-10", StartHour: 7},
	}
	SortEvents(events)
	var got []string
	for _, e := range events {
		got = append(got, e.ID)
	}
	if strings.Join(got, ",") != "d,a,b,c" {
		t.Errorf("order = %v, want d,a,b,c", got)
	}
}

func TestFormatHour(t *testing.T) {
	tests := map[float64]string{
		0:     "00:00",
		9.5:   "09:30",
		18.25: "18:15",
		25:    "01:00+1",
	}
	for h, want := range tests {
		if got := FormatHour(h); got != want {
			t.Errorf("FormatHour(%g) = %q, want %q", h, got, want)
		}
	}
}

func TestIDForCloudID_Deterministic(t *testing.T) {
	a := IDForCloudID("c-42")
	if a != IDForCloudID("c-42") {
		t.Error("same cloud id produced different IDs")
	}
	if a == IDForCloudID("c-43") {
		t.Error("different cloud ids produced the same ID")
	}
	if len(a) != 36 {
		t.Errorf("ID %q is not a UUID string", a)
	}
}
