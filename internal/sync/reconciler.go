package sync

import (
	"github.com/njoerd114/daydial/internal/model"
)

// matchKind records how a remote record found its local counterpart.
type matchKind int

const (
	matchNone    matchKind = iota
	matchCloudID           // same server identifier
	matchID                // server echoed our client ID
	matchContent           // same (title, start, end, day) tuple
)

// MergeStats counts the decisions of a single merge.
type MergeStats struct {
	ByCloudID  int
	ByID       int
	ByContent  int
	RemoteWins int
	LocalWins  int
	RemoteOnly int
	LocalOnly  int
	Conflicts  int // matched pairs whose content differed
	Collapsed  int // records dropped for sharing an identifier
}

// Matched returns the number of remote records paired with a local record.
func (s MergeStats) Matched() int {
	return s.ByCloudID + s.ByID + s.ByContent
}

// Reconciler merges a local and a remote event collection. It has no state;
// the zero value is ready to use.
type Reconciler struct{}

// Reconcile returns the canonical collection for local and remote. See
// [Reconciler.Merge].
func Reconcile(local, remote []model.Event) []model.Event {
	out, _ := Reconciler{}.Merge(local, remote)
	return out
}

// Merge produces one canonical collection from local and remote without
// modifying either input.
//
// Each remote record is paired with at most one local record, looked up by
// CloudID first, then by client ID, then by content tuple. Of a pair the
// record with the later LastModified survives; when either timestamp is
// missing, or both are equal, the remote record wins. A remote winner keeps
// the local record's ID and notification settings. A local winner matched
// without a shared CloudID adopts the remote CloudID and becomes pending.
// Unpaired records from either side are kept.
//
// The output is sorted with [model.SortEvents] and holds at most one record
// per ID and per CloudID.
func (Reconciler) Merge(local, remote []model.Event) ([]model.Event, MergeStats) {
	var stats MergeStats

	local, n := collapse(local, func(e *model.Event) string { return e.ID })
	stats.Collapsed += n
	local, n = collapse(local, func(e *model.Event) string { return e.CloudID })
	stats.Collapsed += n
	remote, n = collapse(remote, func(e *model.Event) string { return e.CloudID })
	stats.Collapsed += n

	remoteCloudIDs := make(map[string]bool, len(remote))
	for i := range remote {
		if remote[i].CloudID != "" {
			remoteCloudIDs[remote[i].CloudID] = true
		}
	}

	// A local record is eligible for the ID and content fallbacks only if it
	// has no CloudID or its CloudID no longer exists remotely.
	byCloudID := make(map[string]int)
	byID := make(map[string]int)
	byContent := make(map[model.ContentKey][]int)
	localIDs := make(map[string]bool, len(local))
	for i := range local {
		e := &local[i]
		localIDs[e.ID] = true
		if e.CloudID != "" {
			byCloudID[e.CloudID] = i
		}
		if e.CloudID == "" || !remoteCloudIDs[e.CloudID] {
			byID[e.ID] = i
			k := e.ContentKey()
			byContent[k] = append(byContent[k], i)
		}
	}

	consumed := make([]bool, len(local))
	lookup := func(r *model.Event) (int, matchKind) {
		if r.CloudID != "" {
			if i, ok := byCloudID[r.CloudID]; ok && !consumed[i] {
				return i, matchCloudID
			}
		}
		if i, ok := byID[r.ID]; ok && r.ID != "" && !consumed[i] {
			return i, matchID
		}
		for _, i := range byContent[r.ContentKey()] {
			if !consumed[i] {
				return i, matchContent
			}
		}
		return -1, matchNone
	}

	out := make([]model.Event, 0, len(local)+len(remote))
	emitted := make(map[string]bool, len(local)+len(remote))

	for ri := range remote {
		r := &remote[ri]
		li, kind := lookup(r)

		if kind == matchNone {
			kept := fromRemote(r)
			// A server ID echo can collide with an unrelated local record.
			if localIDs[kept.ID] || emitted[kept.ID] || kept.ID == "" {
				kept.ID = model.IDForCloudID(kept.CloudID)
			}
			stats.RemoteOnly++
			emitted[kept.ID] = true
			out = append(out, kept)
			continue
		}

		consumed[li] = true
		l := &local[li]
		switch kind {
		case matchCloudID:
			stats.ByCloudID++
		case matchID:
			stats.ByID++
		case matchContent:
			stats.ByContent++
		}
		if l.ContentHash() != r.ContentHash() {
			stats.Conflicts++
		}

		var winner model.Event
		if remoteWins(l, r) {
			stats.RemoteWins++
			winner = fromRemote(r)
			winner.ID = l.ID
			winner.Notifications = l.Clone().Notifications
		} else {
			stats.LocalWins++
			winner = l.Clone()
			if r.CloudID != "" && winner.CloudID != r.CloudID {
				winner.CloudID = r.CloudID
				winner.SyncStatus = model.StatusPending
			}
		}
		emitted[winner.ID] = true
		out = append(out, winner)
	}

	for i := range local {
		if consumed[i] {
			continue
		}
		stats.LocalOnly++
		out = append(out, local[i].Clone())
	}

	model.SortEvents(out)
	return out, stats
}

// remoteWins applies last-write-wins with ties and unknown provenance going
// to the remote record.
func remoteWins(l, r *model.Event) bool {
	if l.LastModified == nil || r.LastModified == nil {
		return true
	}
	return !l.LastModified.After(*r.LastModified)
}

// fromRemote copies a remote record into the local collection. A record the
// server knows by CloudID is synced by definition.
func fromRemote(r *model.Event) model.Event {
	e := r.Clone()
	if e.CloudID != "" {
		e.SyncStatus = model.StatusSynced
	} else if !e.SyncStatus.Valid() {
		e.SyncStatus = model.StatusPending
	}
	return e
}

// collapse keeps one record per non-empty key: the newest, at the position
// of the first occurrence. It returns a new slice and the number of records
// dropped.
func collapse(events []model.Event, key func(*model.Event) string) ([]model.Event, int) {
	pos := make(map[string]int, len(events))
	out := make([]model.Event, 0, len(events))
	dropped := 0
	for i := range events {
		e := &events[i]
		k := key(e)
		if k == "" {
			out = append(out, *e)
			continue
		}
		if j, ok := pos[k]; ok {
			dropped++
			if e.NewerThan(&out[j]) {
				out[j] = *e
			}
			continue
		}
		pos[k] = len(out)
		out = append(out, *e)
	}
	return out, dropped
}
