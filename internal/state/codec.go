package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/njoerd114/daydial/internal/model"
)

// collectionVersion is the schema version written by encodeCollection.
const collectionVersion = 1

var errUnsupportedFormat = errors.New("unsupported collection format")

// collection is the persisted envelope of the flat event list.
type collection struct {
	Version int           `json:"version"`
	Events  []model.Event `json:"events"`
}

func encodeCollection(events []model.Event) ([]byte, error) {
	if events == nil {
		events = []model.Event{}
	}
	return json.Marshal(collection{Version: collectionVersion, Events: events})
}

// decodeCollection accepts the versioned envelope or the legacy bare array
// written before the envelope existed.
func decodeCollection(data []byte) ([]model.Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case '{':
		var c collection
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decoding collection: %w", err)
		}
		if c.Version != collectionVersion {
			return nil, fmt.Errorf("%w: version %d", errUnsupportedFormat, c.Version)
		}
		return c.Events, nil

	case '[':
		var events []model.Event
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("decoding legacy collection: %w", err)
		}
		// Legacy records predate sync status.
		for i := range events {
			if events[i].SyncStatus == "" {
				if events[i].CloudID != "" {
					events[i].SyncStatus = model.StatusSynced
				} else {
					events[i].SyncStatus = model.StatusLocal
				}
			}
		}
		return events, nil

	default:
		return nil, errUnsupportedFormat
	}
}
