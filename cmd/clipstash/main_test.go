package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.klb.dev/clipstash/internal/blobstore"
	"go.klb.dev/clipstash/internal/client"
	"go.klb.dev/clipstash/internal/grpcservice"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/service"
	"go.klb.dev/clipstash/internal/store"
	"go.klb.dev/clipstash/internal/subscribe"
)

func TestIsContainerID(t *testing.T) {
	assert.True(t, isContainerID("0123456789ab"))
	assert.False(t, isContainerID("laptop"))
	assert.False(t, isContainerID("0123456789AB"))
}

func TestClientCommandsShareConnectionFlags(t *testing.T) {
	t.Setenv("CLIPSTASH_SOURCE", "desk")
	for _, cmd := range []*cobra.Command{
		newSendCmd(), newRestoreCmd(), newHistoryCmd(), newDeleteCmd(),
		newDescribeCmd(), newWatchCmd(), newStatusCmd(), newAgentCmd(),
	} {
		for _, name := range []string{"server", "token", "source", "config"} {
			assert.NotNil(t, cmd.Flags().Lookup(name), "%s --%s", cmd.Name(), name)
		}
		assert.Equal(t, "desk", cmd.Flags().Lookup("source").DefValue, cmd.Name())
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3", "10"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 10}, ids)

	_, err = parseIDs([]string{"latest"})
	assert.Error(t, err)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b", oneLine("a\n  b", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, []item.Entry{{
		ID:        7,
		Timestamp: time.Now().Add(-time.Hour).UnixMilli(),
		Items: []item.Item{
			item.NewText(item.TypeText, "hello"),
			item.NewText(item.TypeDescription, "note\nto self"),
		},
		Meta: item.Meta{Source: "laptop"},
	}}))
	out := buf.String()
	assert.Contains(t, out, "laptop")
	assert.Contains(t, out, "note to self")
	assert.Contains(t, out, "1 hour ago")
}

// TestSurfaceMultiplexesProtocols checks that one listener serves both the
// HTTP API and gRPC.
func TestSurfaceMultiplexesProtocols(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "clipstash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	blobs, err := blobstore.Open(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })
	h := hub.New(hub.WithSnapshot(st.List))
	svc := service.New(st, blobs, h)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := newSurface(svc, h, st, "", 1<<20)
	done := make(chan error, 1)
	go func() { done <- s.serve(ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	c, err := client.New(client.Config{Server: base, Source: "test"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Send(ctx, []item.Item{item.NewText(item.TypeText, "hi")}, "")
	require.NoError(t, err)

	cc, err := subscribe.Dial(subscribe.Config{Server: base, Source: "test"})
	require.NoError(t, err)
	defer cc.Close()

	hr, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcservice.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hr.GetStatus())

	status, err := grpcservice.NewClient(cc).Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Entries)

	s.shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestIgnoreClosed(t *testing.T) {
	assert.NoError(t, ignoreClosed(http.ErrServerClosed))
	assert.NoError(t, ignoreClosed(net.ErrClosed))
	assert.Error(t, ignoreClosed(assert.AnError))
	assert.True(t, strings.HasPrefix(defaultServer, "localhost:"))
}
