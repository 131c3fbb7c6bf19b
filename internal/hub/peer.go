package hub

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.klb.dev/clipstash/internal/message"
)

// DefaultBuffer is the per-peer event queue length.
const DefaultBuffer = 16

var peerSeq atomic.Uint64

// StreamPeer is a transient Peer backed by one long-lived connection. The
// connection's writer drains Events.
type StreamPeer struct {
	id          string
	source      string
	addr        string
	transport   string
	ch          chan message.Event
	connectedAt time.Time
	lastSeen    atomic.Int64
	dropped     atomic.Uint64
}

// NewStreamPeer returns a peer with a buffered queue. The id is unique per
// process.
func NewStreamPeer(transport, addr, source string) *StreamPeer {
	return &StreamPeer{
		id:          fmt.Sprintf("%s/%s/%d", addr, transport, peerSeq.Add(1)),
		source:      source,
		addr:        addr,
		transport:   transport,
		ch:          make(chan message.Event, DefaultBuffer),
		connectedAt: time.Now(),
	}
}

func (p *StreamPeer) ID() string { return p.id }

func (p *StreamPeer) Info() message.PeerInfo {
	info := message.PeerInfo{
		ID:          p.id,
		Source:      p.source,
		Addr:        p.addr,
		Transport:   p.transport,
		ConnectedAt: p.connectedAt,
	}
	if ls := p.lastSeen.Load(); ls > 0 {
		info.LastSeen = time.Unix(0, ls)
	}
	return info
}

// Send queues ev, dropping it when the queue is full.
func (p *StreamPeer) Send(ev message.Event) {
	p.lastSeen.Store(time.Now().UnixNano())
	select {
	case p.ch <- ev:
	default:
		p.dropped.Add(1)
		slog.Warn("peer queue full, dropping event", "peer", p.id, "event", ev.Event)
	}
}

// Events is the queue the connection writer drains.
func (p *StreamPeer) Events() <-chan message.Event { return p.ch }

// Dropped returns how many events were discarded.
func (p *StreamPeer) Dropped() uint64 { return p.dropped.Load() }
