package item

import (
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_Kinds(t *testing.T) {
	in := NewInline(TypePNG, "AAE=", "a.png")
	ref := NewReferenced(TypePNG, "blobs/1", "a.png")
	f := NewFile(TypePNG, &File{Name: "a.png", Open: func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("x")), nil
	}})

	assert.True(t, in.IsInline())
	assert.True(t, ref.IsReferenced())
	assert.True(t, f.IsFile())
	assert.Equal(t, "a.png", f.Name)

	_, ok := in.Path()
	assert.False(t, ok)
	_, ok = ref.Data()
	assert.False(t, ok)

	for _, it := range []Item{in, ref, f} {
		assert.NoError(t, it.Validate())
	}
	assert.ErrorIs(t, Item{Type: TypeText}.Validate(), ErrInvalidItem)
	assert.ErrorIs(t, NewText("", "x").Validate(), ErrInvalidItem)
}

func TestItem_JSONShape(t *testing.T) {
	b, err := json.Marshal(NewText(TypeText, "hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text/plain","data":"hi"}`, string(b))

	b, err = json.Marshal(NewReferenced(TypePNG, "p1", "shot.png"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"image/png","path":"p1","name":"shot.png"}`, string(b))

	// An empty inline payload is still inline.
	b, err = json.Marshal(NewText(TypeText, ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text/plain","data":""}`, string(b))
}

func TestItem_MarshalFileRejected(t *testing.T) {
	f := NewFile(TypeOctetStream, &File{Name: "x.bin", Open: func() (io.ReadCloser, error) { return nil, nil }})
	_, err := json.Marshal(f)
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestItem_Unmarshal(t *testing.T) {
	var it Item
	require.NoError(t, json.Unmarshal([]byte(`{"type":"text/html","data":"<b>x</b>"}`), &it))
	d, ok := it.Data()
	assert.True(t, ok)
	assert.Equal(t, "<b>x</b>", d)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"image/png","path":"abc"}`), &it))
	p, ok := it.Path()
	assert.True(t, ok)
	assert.Equal(t, "abc", p)

	err := json.Unmarshal([]byte(`{"type":"image/png","path":"abc","data":"x"}`), &it)
	assert.ErrorIs(t, err, ErrInvalidItem)

	err = json.Unmarshal([]byte(`{"type":"image/png"}`), &it)
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestItem_InlineBytes(t *testing.T) {
	b, err := NewText(TypeText, "héllo").InlineBytes()
	require.NoError(t, err)
	assert.Equal(t, "héllo", string(b))

	b, err = NewInline(TypePNG, "AAEC", "").InlineBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, b)

	_, err = NewReferenced(TypePNG, "p", "").InlineBytes()
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestEntry_WithDescription(t *testing.T) {
	e := Entry{
		ID:        7,
		Timestamp: 1700000000000,
		Items: []Item{
			NewText(TypeText, "hi"),
			NewText(TypeDescription, "old"),
			NewReferenced(TypePNG, "p", ""),
		},
	}

	got, ok := e.WithDescription("new")
	require.True(t, ok)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Timestamp, got.Timestamp)
	assert.Equal(t, e.Types(), got.Types())
	d, _, _ := got.Description()
	data, _ := d.Data()
	assert.Equal(t, "new", data)

	// The original entry is untouched.
	d, _, _ = e.Description()
	data, _ = d.Data()
	assert.Equal(t, "old", data)

	_, ok = Entry{Items: []Item{NewText(TypeText, "x")}}.WithDescription("y")
	assert.False(t, ok)
}

func TestEntry_JSONRoundTrip(t *testing.T) {
	raw := `{"id":3,"timestamp":1700000000123,"items":[{"type":"text/plain","data":"a"},{"type":"image/png","path":"p"}],"meta":{"source":"laptop"}}`
	var e Entry
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, uint64(3), e.ID)
	assert.Equal(t, "laptop", e.Meta.Source)
	assert.Equal(t, []string{TypeText, TypePNG}, e.Types())
	assert.Equal(t, int64(1700000000123), e.Time().UnixMilli())
}

func TestIsCopyable(t *testing.T) {
	for _, typ := range CopyableTypes() {
		assert.True(t, IsCopyable(typ), typ)
	}
	for _, typ := range []string{TypeDescription, TypeOctetStream, "image/gif", "text/csv", ""} {
		assert.False(t, IsCopyable(typ), typ)
	}
}
