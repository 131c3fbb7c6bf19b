package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipstash/internal/blobstore"
	"go.klb.dev/clipstash/internal/client"
	"go.klb.dev/clipstash/internal/collect"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/service"
	"go.klb.dev/clipstash/internal/store"
)

type stack struct {
	srv *httptest.Server
	hub *hub.Hub
}

func newStack(t *testing.T, opts ...Option) stack {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "clipstash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	bs, err := blobstore.Open(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	h := hub.New(hub.WithSnapshot(st.List))
	svc := service.New(st, bs, h)
	srv := httptest.NewServer(New(svc, h, opts...).Handler())
	t.Cleanup(srv.Close)
	return stack{srv: srv, hub: h}
}

func newClient(t *testing.T, url, token string) *client.Client {
	t.Helper()
	c, err := client.New(client.Config{Server: url, Token: token, Source: "test-host"})
	require.NoError(t, err)
	return c
}

func TestCaptureJSONRoundTrip(t *testing.T) {
	s := newStack(t)
	c := newClient(t, s.srv.URL, "")
	ctx := context.Background()

	items := collect.New().FromDrag(ctx, collect.NewDrop(
		[]*collect.File{collect.BytesFile("dot.png", item.TypePNG, []byte{0x89, 'P', 'N', 'G'})},
		"hello",
	))
	out, err := c.Send(ctx, items, "my note")
	require.NoError(t, err)
	require.NotZero(t, out.ID)

	e, ok, err := c.Entry(ctx, out.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{item.TypeText, item.TypePNG, item.TypeDescription}, e.Types())
	assert.Equal(t, "test-host", e.Meta.Source)
	require.True(t, e.Items[1].IsReferenced())

	p, _ := e.Items[1].Path()
	b, err := c.Fetch(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, b)
}

func TestCaptureMultipart(t *testing.T) {
	s := newStack(t)
	c := newClient(t, s.srv.URL, "")
	ctx := context.Background()

	items := collect.New(collect.WithKeepFiles()).FromDrag(ctx, collect.NewDrop(
		[]*collect.File{collect.BytesFile("report.pdf", "application/pdf", []byte("%PDF-1.7"))},
		"see attached",
	))
	out, err := c.Send(ctx, items, "")
	require.NoError(t, err)

	e, ok, err := c.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, out.ID, e.ID)
	assert.Equal(t, []string{item.TypeText, "application/pdf"}, e.Types())
	assert.Equal(t, "report.pdf", e.Items[1].Name)

	p, _ := e.Items[1].Path()
	resp, err := http.Get(c.DataURL(p))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "report.pdf")
}

func TestEmptyAndMissing(t *testing.T) {
	s := newStack(t)
	c := newClient(t, s.srv.URL, "")
	ctx := context.Background()

	_, ok, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Entry(ctx, 77)
	require.NoError(t, err)
	assert.False(t, ok)

	hist, err := c.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, hist)

	_, err = c.Fetch(ctx, "7f1c7bb6-62a4-4a1e-9d8c-2c0f4c1b3a10")
	assert.ErrorIs(t, err, client.ErrNotFound)

	resp, err := http.Post(s.srv.URL+"/api/clip", "application/json", strings.NewReader(`{"items":[]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteAndDescribe(t *testing.T) {
	s := newStack(t)
	c := newClient(t, s.srv.URL, "")
	ctx := context.Background()

	a, err := c.Send(ctx, []item.Item{item.NewText(item.TypeText, "a")}, "first")
	require.NoError(t, err)
	b, err := c.Send(ctx, []item.Item{item.NewText(item.TypeText, "b")}, "")
	require.NoError(t, err)

	require.NoError(t, c.UpdateDescription(ctx, a.ID, "renamed"))
	e, _, err := c.Entry(ctx, a.ID)
	require.NoError(t, err)
	d, _, _ := e.Description()
	text, _ := d.Data()
	assert.Equal(t, "renamed", text)

	err = c.UpdateDescription(ctx, b.ID, "x")
	assert.ErrorIs(t, err, client.ErrNotFound)

	require.NoError(t, c.Delete(ctx, []uint64{a.ID}))
	hist, err := c.History(ctx)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, b.ID, hist[0].ID)
}

func TestAuth(t *testing.T) {
	s := newStack(t, WithToken("s3cret"))
	ctx := context.Background()

	_, err := newClient(t, s.srv.URL, "wrong").History(ctx)
	assert.ErrorIs(t, err, client.ErrRejected)

	_, err = newClient(t, s.srv.URL, "s3cret").History(ctx)
	assert.NoError(t, err)

	resp, err := http.Get(s.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketFeed(t *testing.T) {
	s := newStack(t)
	c := newClient(t, s.srv.URL, "")
	ctx := context.Background()

	_, err := c.Send(ctx, []item.Item{item.NewText(item.TypeText, "before")}, "")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?source=viewer"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() message.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, b, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, err := message.DecodeEvent(b)
		require.NoError(t, err)
		return ev
	}

	snap := read()
	assert.Equal(t, message.EventUpdate, snap.Event)
	require.Len(t, snap.Store, 1)

	require.Eventually(t, func() bool { return s.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "viewer", s.hub.Peers()[0].Source)

	out, err := c.Send(ctx, []item.Item{item.NewText(item.TypeText, "after")}, "")
	require.NoError(t, err)
	ev := read()
	assert.Equal(t, message.EventNew, ev.Event)
	assert.Equal(t, out.ID, ev.Entry.ID)

	require.NoError(t, c.Delete(ctx, []uint64{out.ID}))
	ev = read()
	assert.Equal(t, message.EventUpdate, ev.Event)
	assert.Len(t, ev.Store, 1)
}
