// Package hub fans stored-entry events out to real-time subscribers.
// It is transport-agnostic: websocket and gRPC peers register, receive
// events via a channel, and unregister when their connection ends.
package hub

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/message"
)

// Peer is anything that can receive events from the hub.
type Peer interface {
	ID() string
	Info() message.PeerInfo
	// Send delivers an event to the peer. Must be non-blocking.
	Send(message.Event)
}

// SnapshotFunc returns the current store, oldest entry first.
type SnapshotFunc func(ctx context.Context) ([]item.Entry, error)

// Hub routes events to all registered peers.
type Hub struct {
	mu       sync.RWMutex
	peers    map[string]Peer
	snapshot SnapshotFunc
	log      *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithSnapshot makes Register greet each new peer with a clip:update
// carrying the whole store.
func WithSnapshot(fn SnapshotFunc) Option {
	return func(h *Hub) { h.snapshot = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// New returns an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{peers: make(map[string]Peer), log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds a peer and immediately delivers the store snapshot.
func (h *Hub) Register(ctx context.Context, p Peer) {
	h.mu.Lock()
	h.peers[p.ID()] = p
	total := len(h.peers)
	h.mu.Unlock()

	info := p.Info()
	h.log.Info("peer registered",
		"peer", p.ID(),
		"source", info.Source,
		"transport", info.Transport,
		"total", total,
	)

	if h.snapshot == nil {
		return
	}
	store, err := h.snapshot(ctx)
	if err != nil {
		h.log.Warn("snapshot for new peer failed", "peer", p.ID(), "err", err)
		return
	}
	p.Send(message.SnapshotEvent(store))
}

// Unregister removes a peer from the hub.
func (h *Hub) Unregister(p Peer) {
	h.mu.Lock()
	delete(h.peers, p.ID())
	total := len(h.peers)
	h.mu.Unlock()

	h.log.Info("peer unregistered",
		"peer", p.ID(),
		"source", p.Info().Source,
		"total", total,
	)
}

// Publish fans ev out to every peer. Slow peers drop it.
func (h *Hub) Publish(ev message.Event) {
	h.mu.RLock()
	targets := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	for _, p := range targets {
		p.Send(ev)
	}
}

// Peers returns a snapshot of all current peer metadata, oldest first.
func (h *Hub) Peers() []message.PeerInfo {
	h.mu.RLock()
	out := make([]message.PeerInfo, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p.Info())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Len returns the number of registered peers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}
