package grpcservice

import (
	"context"

	"google.golang.org/grpc"

	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/wire"
)

// Client calls EntryService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Status returns the server's connected peers and store size.
func (c *Client) Status(ctx context.Context) (*message.StatusResponse, error) {
	out := new(message.StatusResponse)
	if err := c.cc.Invoke(ctx, StatusMethod, &message.StatusRequest{}, out, wire.CallOptions()...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchStream receives events of one Watch call.
type WatchStream struct {
	s grpc.ClientStream
}

// Recv blocks for the next event.
func (w *WatchStream) Recv() (message.Event, error) {
	var ev message.Event
	if err := w.s.RecvMsg(&ev); err != nil {
		return message.Event{}, err
	}
	return ev, nil
}

// Watch opens the event stream. Cancel ctx to end it.
func (c *Client) Watch(ctx context.Context, req *message.WatchRequest) (*WatchStream, error) {
	s, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod, wire.CallOptions()...)
	if err != nil {
		return nil, err
	}
	if err := s.SendMsg(req); err != nil {
		return nil, err
	}
	if err := s.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{s: s}, nil
}
