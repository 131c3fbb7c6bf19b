// Package render turns stored entries into terminal views.
//
// Each item becomes one block chosen by its type. Referenced payloads are
// fetched concurrently; a failed fetch only degrades its own block to a
// placeholder.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"log/slog"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder
	"golang.org/x/sync/errgroup"

	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/textenc"
)

// Placeholders shown for payloads that could not be fetched.
const (
	ContentUnavailable     = "[content unavailable]"
	DescriptionUnavailable = "[description unavailable]"
)

// BlockKind selects how a block is drawn.
type BlockKind uint8

const (
	BlockText BlockKind = iota + 1
	BlockRichText
	BlockDescription
	BlockImage
	BlockBinary
)

func (k BlockKind) String() string {
	switch k {
	case BlockText:
		return "text"
	case BlockRichText:
		return "rich"
	case BlockDescription:
		return "description"
	case BlockImage:
		return "image"
	case BlockBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ImageInfo is what was learned from an image header.
type ImageInfo struct {
	Format string
	Width  int
	Height int
}

// Block is the rendering of one item.
type Block struct {
	Kind BlockKind
	Type string
	Name string
	// Text is the displayed text: content, stripped HTML, a label or a
	// placeholder.
	Text string
	// Size is the payload size in bytes, when it was loaded.
	Size int64
	// Image is set for decodable images.
	Image *ImageInfo
	// URL is the download location of a referenced payload.
	URL string
	// Unavailable is set when the payload could not be loaded.
	Unavailable bool
}

// View is a rendered entry.
type View struct {
	ID       uint64
	Time     time.Time
	Source   string
	Blocks   []Block
	Copyable bool
}

// Fetcher downloads referenced payloads.
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// Renderer builds views.
type Renderer struct {
	fetch   Fetcher
	dataURL func(path string) string
	log     *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithDataURL sets how download URLs are built from stored paths.
func WithDataURL(fn func(path string) string) Option {
	return func(r *Renderer) { r.dataURL = fn }
}

// WithLogger sets the logger used for failed fetches.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) { r.log = l }
}

// New returns a Renderer. A nil fetcher leaves every referenced text or
// image payload unavailable.
func New(fetch Fetcher, opts ...Option) *Renderer {
	r := &Renderer{
		fetch:   fetch,
		dataURL: func(p string) string { return "/data/" + p },
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Render builds the view of e. It never fails.
func (r *Renderer) Render(ctx context.Context, e item.Entry) View {
	v := View{
		ID:     e.ID,
		Time:   e.Time(),
		Source: e.Meta.Source,
		Blocks: make([]Block, len(e.Items)),
	}
	var g errgroup.Group
	for i, it := range e.Items {
		if item.IsCopyable(it.Type) {
			v.Copyable = true
		}
		g.Go(func() error {
			v.Blocks[i] = r.block(ctx, e.ID, it)
			return nil
		})
	}
	_ = g.Wait()
	return v
}

// RenderAll renders entries in order.
func (r *Renderer) RenderAll(ctx context.Context, entries []item.Entry) []View {
	out := make([]View, len(entries))
	for i, e := range entries {
		out[i] = r.Render(ctx, e)
	}
	return out
}

func (r *Renderer) block(ctx context.Context, id uint64, it item.Item) Block {
	b := Block{Type: it.Type, Name: it.Name}
	if p, ok := it.Path(); ok {
		b.URL = r.dataURL(p)
	}

	switch {
	case it.Type == item.TypeDescription:
		b.Kind = BlockDescription
	case it.Type == item.TypeHTML:
		b.Kind = BlockRichText
	case item.IsTextType(it.Type):
		b.Kind = BlockText
	case strings.HasPrefix(it.Type, "image/"):
		b.Kind = BlockImage
	default:
		b.Kind = BlockBinary
		b.Text = fmt.Sprintf("[%s], %s (binary content)", it.Type, it.Name)
		return b
	}

	data, err := r.load(ctx, it)
	if err != nil {
		r.log.Debug("render: payload unavailable", "entry", id, "type", it.Type, "err", err)
		b.Unavailable = true
		b.Text = ContentUnavailable
		if b.Kind == BlockDescription {
			b.Text = DescriptionUnavailable
		}
		return b
	}
	b.Size = int64(len(data))

	switch b.Kind {
	case BlockRichText:
		b.Text = HTMLText(string(data))
	case BlockImage:
		b.Text = fmt.Sprintf("[%s] %s", it.Type, textenc.FormatBytes(b.Size))
		if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			b.Image = &ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}
			b.Text = fmt.Sprintf("[%s] %d×%d, %s", it.Type, cfg.Width, cfg.Height, textenc.FormatBytes(b.Size))
		}
	default:
		b.Text = string(data)
	}
	return b
}

func (r *Renderer) load(ctx context.Context, it item.Item) ([]byte, error) {
	switch it.Kind() {
	case item.KindInline:
		return it.InlineBytes()
	case item.KindReferenced:
		if r.fetch == nil {
			return nil, fmt.Errorf("no fetcher")
		}
		p, _ := it.Path()
		return r.fetch.Fetch(ctx, p)
	default:
		return nil, fmt.Errorf("%s item has no payload", it.Kind())
	}
}
