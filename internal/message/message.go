// Package message defines the clipstash wire envelopes.
//
// Capture, history and edit calls travel as JSON over HTTP (or multipart
// when files are attached). Real-time events travel as JSON text frames on
// the websocket feed and as JSON-coded messages on the gRPC Watch stream;
// both carry the same Event value.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"go.klb.dev/clipstash/internal/item"
)

// Request headers and gRPC metadata keys.
const (
	HeaderSource   = "X-Clipstash-Source"
	MetadataSource = "x-clipstash-source"
	MetadataAuth   = "authorization"
)

// Multipart field names of the capture endpoint.
const (
	FieldFiles       = "files"
	FieldItems       = "items"
	FieldSource      = "source"
	FieldDescription = "description"
)

// CaptureRequest is the JSON body of a capture.
type CaptureRequest struct {
	Items       []item.Item `json:"items"`
	Meta        item.Meta   `json:"meta"`
	Description string      `json:"description,omitempty"`
}

// CaptureResponse acknowledges a capture.
type CaptureResponse struct {
	OK    bool   `json:"ok"`
	ID    uint64 `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// DeleteRequest names the entries to remove.
type DeleteRequest struct {
	IDs []uint64 `json:"ids"`
}

// DescriptionRequest carries the replacement description text.
type DescriptionRequest struct {
	Text string `json:"text"`
}

// EventKind identifies a real-time event.
type EventKind string

const (
	// EventNew carries one freshly stored entry.
	EventNew EventKind = "clip:new"
	// EventUpdate carries the full store after a delete or edit.
	EventUpdate EventKind = "clip:update"
)

// Event is pushed to every connected client. Delivery is best effort.
type Event struct {
	Event EventKind    `json:"event"`
	Entry *item.Entry  `json:"entry,omitempty"`
	Store []item.Entry `json:"store,omitempty"`
}

// NewEntryEvent wraps a single stored entry.
func NewEntryEvent(e item.Entry) Event {
	return Event{Event: EventNew, Entry: &e}
}

// SnapshotEvent wraps the full store.
func SnapshotEvent(store []item.Entry) Event {
	return Event{Event: EventUpdate, Store: store}
}

// Encode serialises the event to JSON.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent deserialises an event and checks that its payload matches its kind.
func DecodeEvent(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("event decode: %w", err)
	}
	switch e.Event {
	case EventNew:
		if e.Entry == nil {
			return Event{}, fmt.Errorf("event decode: %s without entry", e.Event)
		}
	case EventUpdate:
	default:
		return Event{}, fmt.Errorf("event decode: unknown event %q", e.Event)
	}
	return e, nil
}

// WatchRequest opens a real-time stream.
type WatchRequest struct {
	Source string `json:"source,omitempty"`
}

// StatusRequest asks a server for its connected peers.
type StatusRequest struct{}

// PeerInfo describes one real-time subscriber.
type PeerInfo struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Addr        string    `json:"addr"`
	Transport   string    `json:"transport"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// StatusResponse lists connected subscribers and store size.
type StatusResponse struct {
	Peers   []PeerInfo `json:"peers"`
	Entries int        `json:"entries"`
}
