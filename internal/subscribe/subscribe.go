// Package subscribe follows a clipstash server's real-time event stream.
//
// A Subscriber keeps one Watch stream open to the server and hands every
// event to a callback. When the stream breaks it reconnects with
// exponential back-off; the server opens each new stream with a full
// snapshot, so nothing is replayed and nothing needs acknowledging.
package subscribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipstash/internal/grpcservice"
	"go.klb.dev/clipstash/internal/ipc"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/tlsconf"
)

const (
	reconnectDelay = time.Second
	maxReconnect   = 30 * time.Second
)

// Config holds the server connection settings.
type Config struct {
	// Server is "ipc", an http:// or https:// URL, or host:port (TLS).
	Server string
	// Token is the shared secret (may be empty).
	Token string
	// Source is the identifier sent to the server.
	Source string
}

// Dial returns a gRPC connection to cfg.Server. Plain http:// addresses and
// the IPC socket carry no TLS; everything else uses the pinned certificate
// derived from the token.
func Dial(cfg Config) (*grpc.ClientConn, error) {
	target, mode, err := resolve(cfg.Server)
	if err != nil {
		return nil, err
	}

	opts := []grpc.DialOption{
		// Keepalive: send HTTP/2 PINGs on idle connections so NAT gateways
		// don't silently drop Watch streams.
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	switch mode {
	case modeIPC:
		opts = append(opts,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return ipc.Dial(ctx)
			}),
		)
		target = "passthrough:///clipstash"
	case modeTLS:
		creds, err := tlsconf.ClientCredentials(tlsconf.Passphrase(cfg.Token))
		if err != nil {
			return nil, fmt.Errorf("tls credentials: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	default:
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if cfg.Token != "" || cfg.Source != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&rpcCreds{
			token:  cfg.Token,
			source: cfg.Source,
			secure: mode == modeTLS,
		}))
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Server, err)
	}
	return conn, nil
}

type transportMode uint8

const (
	modeIPC transportMode = iota
	modeTLS
	modePlain
)

// resolve maps a server address to a gRPC target.
func resolve(server string) (string, transportMode, error) {
	if server == "" || server == "ipc" {
		return "", modeIPC, nil
	}
	if !strings.Contains(server, "://") {
		return server, modeTLS, nil
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", 0, fmt.Errorf("server address %q: %w", server, err)
	}
	if u.Host == "" {
		return "", 0, fmt.Errorf("server address %q: missing host", server)
	}
	switch u.Scheme {
	case "https":
		return u.Host, modeTLS, nil
	case "http":
		return u.Host, modePlain, nil
	default:
		return "", 0, fmt.Errorf("server address %q: unsupported scheme %q", server, u.Scheme)
	}
}

type rpcCreds struct {
	token  string
	source string
	secure bool
}

func (c *rpcCreds) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	md := make(map[string]string, 2)
	if c.token != "" {
		md[message.MetadataAuth] = "Bearer " + c.token
	}
	if c.source != "" {
		md[message.MetadataSource] = c.source
	}
	return md, nil
}

func (c *rpcCreds) RequireTransportSecurity() bool { return c.secure }

// Handler receives events in stream order.
type Handler func(message.Event)

// State is a snapshot of the subscription.
type State struct {
	Connected   bool
	ConnectedAt time.Time
	LastSeen    time.Time
	Reconnects  int
}

// Subscriber maintains a Watch stream.
type Subscriber struct {
	client *grpcservice.Client
	source string
	log    *slog.Logger

	mu    sync.RWMutex
	state State
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) { s.log = l }
}

// New returns a Subscriber using cc.
func New(cc grpc.ClientConnInterface, source string, opts ...Option) *Subscriber {
	s := &Subscriber{client: grpcservice.NewClient(cc), source: source, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current subscription state.
func (s *Subscriber) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Run delivers events to fn until ctx is cancelled, reconnecting with
// exponential back-off. It returns nil on cancellation and the error of an
// Unauthenticated stream, which retrying cannot fix.
func (s *Subscriber) Run(ctx context.Context, fn Handler) error {
	delay := reconnectDelay
	for {
		err := s.runStream(ctx, fn, func() { delay = reconnectDelay })
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
			return nil
		}
		if status.Code(err) == codes.Unauthenticated {
			return err
		}
		s.mu.Lock()
		s.state.Connected = false
		s.state.Reconnects++
		s.mu.Unlock()

		s.log.Warn("watch stream ended, reconnecting", "err", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay < maxReconnect {
			delay *= 2
		}
	}
}

// runStream opens one Watch stream and runs until it errors or ctx is done.
// connected is called after the first event arrives.
func (s *Subscriber) runStream(ctx context.Context, fn Handler, connected func()) error {
	stream, err := s.client.Watch(ctx, &message.WatchRequest{Source: s.source})
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	first := true
	for {
		ev, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("server closed stream")
			}
			return err
		}

		now := time.Now()
		s.mu.Lock()
		if first {
			s.state.Connected = true
			s.state.ConnectedAt = now
		}
		s.state.LastSeen = now
		s.mu.Unlock()
		if first {
			first = false
			connected()
			s.log.Info("watch stream connected")
		}
		fn(ev)
	}
}
