// Package grpcservice implements the EntryService gRPC server and client.
//
// The service has no generated stubs: its descriptor is declared here and
// envelopes travel through the JSON codec of package wire.
package grpcservice

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/message"
)

// Service and method names.
const (
	ServiceName  = "clipstash.v1.EntryService"
	StatusMethod = "/" + ServiceName + "/Status"
	WatchMethod  = "/" + ServiceName + "/Watch"
)

// EntryServer is the server API of EntryService.
type EntryServer interface {
	Status(context.Context, *message.StatusRequest) (*message.StatusResponse, error)
	Watch(*message.WatchRequest, grpc.ServerStream) error
}

// ServiceDesc describes EntryService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EntryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "clipstash/v1/entry.proto",
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(message.StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EntryServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EntryServer).Status(ctx, req.(*message.StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(message.WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(EntryServer).Watch(in, stream)
}

// Counter reports the store size.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Service implements EntryServer.
type Service struct {
	h       *hub.Hub
	entries Counter
	token   string // empty = no auth
}

// New returns a Service backed by h. token may be empty to disable auth.
func New(h *hub.Hub, entries Counter, token string) *Service {
	return &Service{h: h, entries: entries, token: token}
}

// Register adds the service to srv.
func (s *Service) Register(srv grpc.ServiceRegistrar) {
	srv.RegisterService(&ServiceDesc, s)
}

// Status implements EntryService.Status.
func (s *Service) Status(ctx context.Context, _ *message.StatusRequest) (*message.StatusResponse, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	resp := &message.StatusResponse{Peers: s.h.Peers()}
	if s.entries != nil {
		n, err := s.entries.Count(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "count entries: %v", err)
		}
		resp.Entries = int(n)
	}
	return resp, nil
}

// Watch implements EntryService.Watch. The first event is the store
// snapshot; the stream ends when the client goes away.
func (s *Service) Watch(req *message.WatchRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	if err := s.auth(ctx); err != nil {
		return err
	}

	p := hub.NewStreamPeer("grpc", addrFromCtx(ctx), sourceFromCtx(ctx, req.Source))
	s.h.Register(ctx, p)
	defer s.h.Unregister(p)

	slog.Info("watch started", "peer", p.ID())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.Events():
			if err := stream.SendMsg(&ev); err != nil {
				return err
			}
		}
	}
}

// auth validates the bearer token in ctx metadata. Skipped when s.token is empty.
func (s *Service) auth(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(message.MetadataAuth)
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	if strings.TrimPrefix(vals[0], "Bearer ") != s.token {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

func sourceFromCtx(ctx context.Context, fallback string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(message.MetadataSource); len(vals) > 0 {
			return vals[0]
		}
	}
	if fallback != "" {
		return fallback
	}
	return addrFromCtx(ctx)
}

func addrFromCtx(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}
	return "unknown"
}
