package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/textenc"
)

type fetchFunc func(ctx context.Context, path string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, path string) ([]byte, error) { return f(ctx, path) }

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestRender_BlockPerItem(t *testing.T) {
	img := pngBytes(t, 3, 2)
	e := item.Entry{ID: 9, Timestamp: 1700000000000, Meta: item.Meta{Source: "desk"}, Items: []item.Item{
		item.NewText(item.TypeHTML, "<p>Hello <b>world</b></p><p>again</p>"),
		item.NewText("text/markdown", "# title"),
		item.NewInline(item.TypePNG, textenc.Encode(img), "dot.png"),
		item.NewReferenced("application/zip", "abc.zip", "files.zip"),
		item.NewText(item.TypeDescription, "what this is"),
	}}
	r := New(nil, WithDataURL(func(p string) string { return "https://h/data/" + p }))
	v := r.Render(context.Background(), e)

	assert.Equal(t, uint64(9), v.ID)
	assert.Equal(t, "desk", v.Source)
	assert.True(t, v.Copyable)
	require.Len(t, v.Blocks, 5)

	assert.Equal(t, BlockRichText, v.Blocks[0].Kind)
	assert.Equal(t, "Hello world\nagain", v.Blocks[0].Text)

	assert.Equal(t, BlockText, v.Blocks[1].Kind)
	assert.Equal(t, "# title", v.Blocks[1].Text)

	assert.Equal(t, BlockImage, v.Blocks[2].Kind)
	require.NotNil(t, v.Blocks[2].Image)
	assert.Equal(t, ImageInfo{Format: "png", Width: 3, Height: 2}, *v.Blocks[2].Image)
	assert.Equal(t, int64(len(img)), v.Blocks[2].Size)

	assert.Equal(t, BlockBinary, v.Blocks[3].Kind)
	assert.Equal(t, "[application/zip], files.zip (binary content)", v.Blocks[3].Text)
	assert.Equal(t, "https://h/data/abc.zip", v.Blocks[3].URL)
	assert.False(t, v.Blocks[3].Unavailable)

	assert.Equal(t, BlockDescription, v.Blocks[4].Kind)
	assert.Equal(t, "what this is", v.Blocks[4].Text)
}

func TestRender_FetchFailureDegradesOneBlock(t *testing.T) {
	fetch := fetchFunc(func(_ context.Context, p string) ([]byte, error) {
		switch p {
		case "ok.txt":
			return []byte("fetched"), nil
		default:
			return nil, errors.New("gone")
		}
	})
	e := item.Entry{ID: 1, Items: []item.Item{
		item.NewReferenced(item.TypeText, "ok.txt", ""),
		item.NewReferenced(item.TypePNG, "bad.png", ""),
		item.NewReferenced(item.TypeDescription, "bad.txt", ""),
		item.NewText(item.TypeText, "inline"),
	}}
	v := New(fetch).Render(context.Background(), e)

	assert.Equal(t, "fetched", v.Blocks[0].Text)
	assert.True(t, v.Blocks[1].Unavailable)
	assert.Equal(t, ContentUnavailable, v.Blocks[1].Text)
	assert.Equal(t, DescriptionUnavailable, v.Blocks[2].Text)
	assert.Equal(t, "inline", v.Blocks[3].Text)
}

func TestRender_FetchesConcurrently(t *testing.T) {
	started := make(chan struct{})
	fetch := fetchFunc(func(_ context.Context, p string) ([]byte, error) {
		if p == "b" {
			close(started)
			return []byte("b"), nil
		}
		// a only completes once b has started.
		select {
		case <-started:
			return []byte("a"), nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("fetches were serialised")
		}
	})
	e := item.Entry{Items: []item.Item{
		item.NewReferenced(item.TypeText, "a", ""),
		item.NewReferenced(item.TypeText, "b", ""),
	}}
	v := New(fetch).Render(context.Background(), e)
	assert.Equal(t, "a", v.Blocks[0].Text)
	assert.Equal(t, "b", v.Blocks[1].Text)
}

func TestRender_Copyable(t *testing.T) {
	v := New(nil).Render(context.Background(), item.Entry{Items: []item.Item{
		item.NewInline(item.TypeOctetStream, "AAE=", "x"),
		item.NewText(item.TypeDescription, "d"),
		item.NewText("text/csv", "a,b"),
	}})
	assert.False(t, v.Copyable)
}

func TestHTMLText(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"plain", "plain"},
		{"<ul><li>one</li><li>two</li></ul>", "one\ntwo"},
		{"a<br>b", "a\nb"},
		{"<p>  lots   of\n space </p>", "lots of space"},
		{"<style>p{}</style><script>x()</script>hi", "hi"},
		{"<pre>  keep\n  this</pre>", "keep\n  this"},
		{"<span>a</span> <span>b</span>", "a b"},
		{"<div><p>x</p><p></p><p></p><p>y</p></div>", "x\ny"},
	} {
		assert.Equal(t, tc.want, HTMLText(tc.in), tc.in)
	}
}

func TestPrint(t *testing.T) {
	v := View{ID: 4, Time: time.UnixMilli(0), Source: "desk", Copyable: true, Blocks: []Block{
		{Kind: BlockText, Type: item.TypeText, Text: "hello"},
		{Kind: BlockBinary, Type: "application/zip", Name: "f.zip", Text: "[application/zip], f.zip (binary content)", URL: "/data/f.zip"},
		{Kind: BlockImage, Type: item.TypePNG, Text: ContentUnavailable, Unavailable: true},
		{Kind: BlockDescription, Type: item.TypeDescription, Text: "note"},
	}}
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, v, v))
	out := buf.String()

	assert.Equal(t, 2, strings.Count(out, "ID 4"))
	assert.Contains(t, out, "desk")
	assert.Contains(t, out, "[copyable]")
	assert.Contains(t, out, "  hello")
	assert.Contains(t, out, "/data/f.zip")
	assert.Contains(t, out, ContentUnavailable)
	assert.Contains(t, out, "note")
	assert.NotContains(t, out, "\x1b[", "no escapes for a non-terminal writer")
}
