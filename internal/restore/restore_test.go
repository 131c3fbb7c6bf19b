package restore

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipstash/internal/collect"
	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/textenc"
)

type fakeRich struct {
	calls   int
	formats map[string][]byte
	err     error
}

func (f *fakeRich) WriteFormats(_ context.Context, formats map[string][]byte) error {
	f.calls++
	f.formats = formats
	return f.err
}

type fakeCopier struct {
	calls      int
	sel        Selection
	helper     string
	helperBody string
	err        error
}

func (f *fakeCopier) Copy(_ context.Context, sel Selection, helper string) error {
	f.calls++
	f.sel = sel
	f.helper = helper
	b, _ := os.ReadFile(helper)
	f.helperBody = string(b)
	return f.err
}

type fetchMap map[string][]byte

func (m fetchMap) Fetch(_ context.Context, p string) ([]byte, error) {
	b, ok := m[p]
	if !ok {
		return nil, errors.New("404")
	}
	return b, nil
}

func entry(items ...item.Item) item.Entry {
	return item.Entry{ID: 1, Timestamp: 1, Items: items}
}

func TestRich_FiltersToAllowList(t *testing.T) {
	rich := &fakeRich{}
	cp := &fakeCopier{}
	r := Default(nil, rich, cp)

	e := entry(
		item.NewText(item.TypeText, "hi"),
		item.NewInline(item.TypeOctetStream, textenc.Encode([]byte{0, 1}), "blob"),
		item.NewText(item.TypeDescription, "note"),
	)
	require.NoError(t, r.Restore(context.Background(), e))
	assert.Equal(t, map[string][]byte{item.TypeText: []byte("hi")}, rich.formats)
	assert.Zero(t, cp.calls, "tier 2 must not run after tier 1 succeeded")
}

func TestRich_ResolvesInlineAndReferenced(t *testing.T) {
	rich := &fakeRich{}
	png := []byte{0x89, 'P', 'N', 'G'}
	fetch := fetchMap{"p/1.html": []byte("<b>x</b>")}
	r := Default(fetch, rich, nil)

	e := entry(
		item.NewInline(item.TypePNG, textenc.Encode(png), "a.png"),
		item.NewReferenced(item.TypeHTML, "p/1.html", ""),
		item.NewText(item.TypeText, "first"),
		item.NewText(item.TypeText, "second"),
	)
	require.NoError(t, r.Restore(context.Background(), e))
	assert.Equal(t, map[string][]byte{
		item.TypePNG:  png,
		item.TypeHTML: []byte("<b>x</b>"),
		item.TypeText: []byte("first"),
	}, rich.formats)
}

func TestFallback_Tier2ExactlyOnceAfterTier1Failure(t *testing.T) {
	rich := &fakeRich{err: errors.New("unsupported combination")}
	cp := &fakeCopier{}
	r := Default(nil, rich, cp)

	e := entry(
		item.NewText(item.TypeHTML, "<p>hi</p>"),
		item.NewText(item.TypeText, "hi"),
		item.NewInline(item.TypeOctetStream, "AAE=", "bin"),
	)
	require.NoError(t, r.Restore(context.Background(), e))
	assert.Equal(t, 1, rich.calls)
	assert.Equal(t, 1, cp.calls)
	assert.Equal(t, Selection{HTML: "<p>hi</p>", Text: "hi"}, cp.sel)
	assert.Equal(t, "<p>hi</p>", cp.helperBody)

	_, err := os.Stat(cp.helper)
	assert.True(t, os.IsNotExist(err), "helper must be removed")
}

func TestLegacy_HelperRemovedOnFailure(t *testing.T) {
	cp := &fakeCopier{err: errors.New("copy command failed")}
	r := Default(nil, nil, cp)

	err := r.Restore(context.Background(), entry(item.NewText(item.TypeText, "hi")))
	require.ErrorIs(t, err, ErrRestoreFailed)
	assert.Contains(t, err.Error(), "copy command failed")
	assert.Equal(t, "hi", cp.helperBody)
	_, statErr := os.Stat(cp.helper)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLegacy_NeverOffersBinaryOrDescription(t *testing.T) {
	cp := &fakeCopier{}
	r := Default(nil, nil, cp)

	err := r.Restore(context.Background(), entry(
		item.NewInline(item.TypeOctetStream, "AAE=", "bin"),
		item.NewText(item.TypeDescription, "note"),
		item.NewInline(item.TypePNG, "AAE=", "a.png"),
	))
	assert.ErrorIs(t, err, ErrNothingToCopy)
	assert.Zero(t, cp.calls)
}

func TestLegacy_TextFallsBackToOtherAllowListedText(t *testing.T) {
	cp := &fakeCopier{}
	r := Default(nil, nil, cp)

	require.NoError(t, r.Restore(context.Background(), entry(
		item.NewText("text/uri-list", "https://example.com"),
		item.NewText(item.TypeRTF, `{\rtf1 hi}`),
	)))
	assert.Equal(t, Selection{Text: `{\rtf1 hi}`}, cp.sel)
}

func TestRestore_Tier1FailureThenNothingForTier2(t *testing.T) {
	rich := &fakeRich{err: errors.New("boom")}
	cp := &fakeCopier{}
	r := Default(nil, rich, cp)

	err := r.Restore(context.Background(), entry(item.NewInline(item.TypePNG, "AAE=", "")))
	require.ErrorIs(t, err, ErrRestoreFailed)
	assert.Contains(t, err.Error(), "boom")
	assert.Zero(t, cp.calls)
}

func TestRestore_ReferencedFetchFailureFallsBack(t *testing.T) {
	rich := &fakeRich{}
	cp := &fakeCopier{}
	r := Default(fetchMap{}, rich, cp)

	require.NoError(t, r.Restore(context.Background(), entry(
		item.NewReferenced(item.TypePNG, "gone.png", ""),
		item.NewText(item.TypeText, "alt"),
	)))
	assert.Zero(t, rich.calls, "resolve failure happens before the write")
	assert.Equal(t, 1, cp.calls)
	assert.Equal(t, "alt", cp.sel.Text)
}

func TestRestore_CollectedTextFileIsRawText(t *testing.T) {
	items := collect.New().FromDrag(context.Background(),
		collect.NewDrop([]*collect.File{collect.BytesFile("notes.txt", item.TypeText, []byte("hello"))}))
	require.Len(t, items, 1)

	rich := &fakeRich{}
	require.NoError(t, Default(nil, rich, nil).Restore(context.Background(), entry(items...)))
	assert.Equal(t, map[string][]byte{item.TypeText: []byte("hello")}, rich.formats)
}

func TestRestore_StrategyOrder(t *testing.T) {
	var trace []string
	tier := func(name string, res Result) Strategy {
		return func(context.Context, item.Entry) Result {
			trace = append(trace, name)
			return res
		}
	}
	r := New([]Strategy{
		tier("a", Skip()),
		tier("b", Fail(errors.New("x"))),
		tier("c", Success()),
		tier("d", Success()),
	})
	require.NoError(t, r.Restore(context.Background(), entry()))
	assert.Equal(t, []string{"a", "b", "c"}, trace)

	assert.ErrorIs(t, New(nil).Restore(context.Background(), entry()), ErrNothingToCopy)
}

func TestCommandCopier(t *testing.T) {
	var ran []string
	var text string
	c := &CommandCopier{
		htmlCommand: func() []string { return []string{"xclip", "-t", "text/html"} },
		writeText:   func(s string) error { text = s; return nil },
		run: func(_ context.Context, argv []string, _ string) error {
			ran = argv
			return nil
		},
	}
	require.NoError(t, c.Copy(context.Background(), Selection{HTML: "<b>x</b>", Text: "x"}, "/tmp/h"))
	assert.Equal(t, "xclip", ran[0])
	assert.Empty(t, text)

	c.run = func(context.Context, []string, string) error { return errors.New("no display") }
	require.NoError(t, c.Copy(context.Background(), Selection{HTML: "<b>x</b>", Text: "x"}, "/tmp/h"))
	assert.Equal(t, "x", text)

	err := c.Copy(context.Background(), Selection{HTML: "<b>x</b>"}, "/tmp/h")
	assert.Error(t, err)

	c.htmlCommand = func() []string { return nil }
	assert.ErrorIs(t, c.Copy(context.Background(), Selection{HTML: "<b>x</b>"}, "/tmp/h"), ErrNoHTMLTool)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func TestRunCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	helper := filepath.Join(dir, "helper.html")
	require.NoError(t, os.WriteFile(helper, []byte("<b>x</b>"), 0o600))
	ctx := context.Background()

	t.Run("stdin is the helper file", func(t *testing.T) {
		out := filepath.Join(dir, "copied")
		copyTo := writeScript(t, dir, "copy-to", `cat > "$1"`)
		require.NoError(t, runCommand(ctx, []string{copyTo, out}, helper))
		got, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "<b>x</b>", string(got))
	})

	t.Run("exit status is an error", func(t *testing.T) {
		fail := writeScript(t, dir, "fail", "cat >/dev/null\necho 'cannot open display' >&2\nexit 3")
		err := runCommand(ctx, []string{fail}, helper)
		var exit *exec.ExitError
		require.ErrorAs(t, err, &exit)
		assert.Equal(t, 3, exit.ExitCode())
		assert.Contains(t, err.Error(), "cannot open display")
	})

	t.Run("forked child does not block", func(t *testing.T) {
		forks := writeScript(t, dir, "forks", "cat >/dev/null\n(sleep 8) &\nexit 0")
		start := time.Now()
		require.NoError(t, runCommand(ctx, []string{forks}, helper))
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("missing helper file", func(t *testing.T) {
		assert.Error(t, runCommand(ctx, []string{"true"}, filepath.Join(dir, "gone")))
	})
}

func TestCommandCopierWithForkingTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	helper := filepath.Join(dir, "helper.html")
	require.NoError(t, os.WriteFile(helper, []byte("<b>x</b>"), 0o600))
	fakeXclip := writeScript(t, dir, "xclip", "cat >/dev/null\n(sleep 8) &\nexit 0")

	c := NewCommandCopier()
	c.htmlCommand = func() []string { return []string{fakeXclip, "-selection", "clipboard", "-t", "text/html", "-i"} }
	start := time.Now()
	require.NoError(t, c.Copy(context.Background(), Selection{HTML: "<b>x</b>"}, helper))
	assert.Less(t, time.Since(start), 3*time.Second)
}
