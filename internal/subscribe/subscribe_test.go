package subscribe

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"go.klb.dev/clipstash/internal/grpcservice"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/wire"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		in     string
		target string
		mode   transportMode
	}{
		{"", "", modeIPC},
		{"ipc", "", modeIPC},
		{"host:8750", "host:8750", modeTLS},
		{"https://host:8750", "host:8750", modeTLS},
		{"http://127.0.0.1:8750/", "127.0.0.1:8750", modePlain},
	}
	for _, tc := range cases {
		target, mode, err := resolve(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.target, target, tc.in)
		assert.Equal(t, tc.mode, mode, tc.in)
	}

	_, _, err := resolve("ftp://host")
	assert.Error(t, err)
	_, _, err = resolve("http://")
	assert.Error(t, err)
}

func TestRPCCreds(t *testing.T) {
	c := &rpcCreds{token: "t", source: "s", secure: true}
	md, err := c.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer t", md[message.MetadataAuth])
	assert.Equal(t, "s", md[message.MetadataSource])
	assert.True(t, c.RequireTransportSecurity())
}

type events struct {
	mu  sync.Mutex
	evs []message.Event
}

func (e *events) add(ev message.Event) {
	e.mu.Lock()
	e.evs = append(e.evs, ev)
	e.mu.Unlock()
}

func (e *events) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.evs)
}

func bufServer(t *testing.T, h *hub.Hub, token string) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	grpcservice.New(h, nil, token).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func TestRunDeliversEvents(t *testing.T) {
	h := hub.New(hub.WithSnapshot(func(context.Context) ([]item.Entry, error) { return nil, nil }))
	cc := bufServer(t, h, "")
	sub := New(cc, "follower")

	ctx, cancel := context.WithCancel(context.Background())
	got := &events{}
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx, got.add) }()

	require.Eventually(t, func() bool { return got.len() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, sub.State().Connected)
	assert.Equal(t, "follower", h.Peers()[0].Source)

	h.Publish(message.NewEntryEvent(item.Entry{ID: 4}))
	require.Eventually(t, func() bool { return got.len() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunStopsOnAuthFailure(t *testing.T) {
	cc := bufServer(t, hub.New(), "secret")
	sub := New(cc, "")

	ctx, cancel := context.WithTimeout(wire.OutgoingContext(context.Background(), "wrong", ""), 5*time.Second)
	defer cancel()
	err := sub.Run(ctx, func(message.Event) {})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
