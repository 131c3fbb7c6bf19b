package collect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/textenc"
)

// slowString completes after delay, so later entries can finish first.
type slowString struct {
	typ   string
	value string
	delay time.Duration
	err   error
}

func (s slowString) Kind() Kind   { return KindString }
func (s slowString) Type() string { return s.typ }
func (s slowString) ReadString(ctx context.Context) (string, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.value, s.err
}
func (s slowString) ReadFile(context.Context) (*File, error) { return nil, nil }

type nilFile struct{}

func (nilFile) Kind() Kind                                 { return KindFile }
func (nilFile) Type() string                               { return "image/png" }
func (nilFile) ReadString(context.Context) (string, error) { return "", nil }
func (nilFile) ReadFile(context.Context) (*File, error)    { return nil, nil }

func data(t *testing.T, it item.Item) string {
	t.Helper()
	d, ok := it.Data()
	require.True(t, ok, "item %s is not inline", it.Type)
	return d
}

func TestFromClipboard_StringsKeepSourceOrder(t *testing.T) {
	src := &Snapshot{Entries: []DataItem{
		slowString{typ: "text/plain", value: "first", delay: 40 * time.Millisecond},
		slowString{typ: "", value: "second", delay: 20 * time.Millisecond},
		slowString{typ: "text/html", value: "<b>third</b>", delay: 0},
	}}

	got := New().FromClipboard(context.Background(), src)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"text/plain", "text/plain", "text/html"},
		[]string{got[0].Type, got[1].Type, got[2].Type})
	assert.Equal(t, "first", data(t, got[0]))
	assert.Equal(t, "second", data(t, got[1]))
	assert.Equal(t, "<b>third</b>", data(t, got[2]))
}

func TestFromClipboard_InterleavesFilesBySourceOrder(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	src := &Snapshot{Entries: []DataItem{
		StringItem("text/plain", "caption"),
		FileItem(BytesFile("shot.png", "image/png", png)),
		FileItem(BytesFile("blob", "", []byte{1, 2, 3})),
		StringItem("text/html", "<p>x</p>"),
	}}

	got := New().FromClipboard(context.Background(), src)
	require.Len(t, got, 4)
	assert.Equal(t, "text/plain", got[0].Type)
	assert.Equal(t, "image/png", got[1].Type)
	assert.Equal(t, "shot.png", got[1].Name)
	assert.Equal(t, textenc.Encode(png), data(t, got[1]))
	assert.Equal(t, item.TypeOctetStream, got[2].Type)
	assert.Equal(t, "blob", got[2].Name)
	assert.Equal(t, "text/html", got[3].Type)
}

func TestFromClipboard_SkipsUnreadableEntries(t *testing.T) {
	src := &Snapshot{Entries: []DataItem{
		slowString{typ: "text/plain", err: errors.New("gone")},
		nilFile{},
		StringItem("text/plain", "ok"),
	}}
	got := New().FromClipboard(context.Background(), src)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", data(t, got[0]))
}

func TestFromClipboard_PlainTextFallback(t *testing.T) {
	got := New().FromClipboard(context.Background(), &Snapshot{Text: "fallback"})
	require.Len(t, got, 1)
	assert.Equal(t, item.TypeText, got[0].Type)
	assert.Equal(t, "fallback", data(t, got[0]))

	assert.Empty(t, New().FromClipboard(context.Background(), &Snapshot{}))
	assert.Empty(t, New().FromClipboard(context.Background(), nil))
}

func TestFromDrag_StringsThenFiles(t *testing.T) {
	src := &Drop{
		Strings: []DataItem{
			StringItem("text/plain", "a"),
			FileItem(BytesFile("ignored.txt", "text/plain", []byte("dup"))),
			StringItem("text/uri-list", "https://example.com"),
		},
		FileList: []*File{
			BytesFile("one.bin", "", []byte{1}),
			BytesFile("two.jpg", "image/jpeg", []byte{2}),
		},
		Text: "never read",
	}

	got := New().FromDrag(context.Background(), src)
	require.Len(t, got, 4, "two string entries plus two files")
	assert.Equal(t, []string{"text/plain", "text/uri-list", item.TypeOctetStream, "image/jpeg"},
		[]string{got[0].Type, got[1].Type, got[2].Type, got[3].Type})
	assert.Equal(t, "one.bin", got[2].Name)
	assert.Equal(t, "two.jpg", got[3].Name)
}

func TestFromDrag_PlainTextOnlyWhenEmpty(t *testing.T) {
	got := New().FromDrag(context.Background(), &Drop{Text: "last resort"})
	require.Len(t, got, 1)
	assert.Equal(t, "last resort", data(t, got[0]))

	got = New().FromDrag(context.Background(), NewDrop(nil))
	assert.Empty(t, got)
}

func TestFromDrag_KeepFiles(t *testing.T) {
	src := NewDrop([]*File{BytesFile("big.bin", "application/zip", make([]byte, 10))}, "note")
	got := New(WithKeepFiles()).FromDrag(context.Background(), src)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsInline())
	assert.True(t, got[1].IsFile())
	f, _ := got[1].File()
	assert.Equal(t, int64(10), f.Size)
	assert.Equal(t, "big.bin", got[1].Name)
}

func TestFromDrag_TextFilesStayText(t *testing.T) {
	got := New().FromDrag(context.Background(), NewDrop([]*File{
		BytesFile("notes.txt", "text/plain", []byte("hello")),
		BytesFile("page.html", "text/html", []byte("<p>hi</p>")),
		BytesFile("latin1.txt", "text/plain", []byte{'c', 'a', 'f', 0xe9}),
	}))
	require.Len(t, got, 3)

	assert.Equal(t, "text/plain", got[0].Type)
	assert.Equal(t, "notes.txt", got[0].Name)
	assert.Equal(t, "hello", data(t, got[0]))
	raw, err := got[0].InlineBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), raw)

	assert.Equal(t, "<p>hi</p>", data(t, got[1]))

	assert.Equal(t, item.TypeOctetStream, got[2].Type, "invalid UTF-8 is carried as binary")
	raw, err = got[2].InlineBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, raw)
}

func TestFileFromPath(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o600))
	f, err := FileFromPath(txt)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", f.Name)
	assert.Equal(t, "text/plain", f.Type)
	assert.Equal(t, int64(5), f.Size)

	noext := filepath.Join(dir, "picture")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.NoError(t, os.WriteFile(noext, png, 0o600))
	f, err = FileFromPath(noext)
	require.NoError(t, err)
	assert.Equal(t, "image/png", f.Type)

	items := New().FromDrag(context.Background(), NewDrop([]*File{f}))
	require.Len(t, items, 1)
	assert.Equal(t, textenc.Encode(png), data(t, items[0]))

	_, err = FileFromPath(dir)
	assert.Error(t, err)
	_, err = FileFromPath(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
