// Package collect turns raw clipboard and drag-and-drop sources into an
// ordered list of canonical items.
//
// Sources are loosely specified: entries may lack a type, reads may fail,
// and drag sources usually expose the same content twice (as structured
// entries and as a flat file list). The Collector resolves all of that once,
// at collection time, and never returns an error: unreadable entries are
// skipped and an unusable source yields an empty list.
package collect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/textenc"
)

// Kind distinguishes the two entry shapes a source can expose.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindFile
)

// DataItem is one entry of a source's structured entry list.
type DataItem interface {
	Kind() Kind
	// Type is the MIME type reported by the source; it may be empty.
	Type() string
	// ReadString returns the text of a KindString entry.
	ReadString(ctx context.Context) (string, error)
	// ReadFile returns the file of a KindFile entry. A nil file means the
	// entry has nothing to offer.
	ReadFile(ctx context.Context) (*File, error)
}

// File is a readable file exposed by a source.
type File struct {
	Name string
	Type string
	Size int64
	Open func() (io.ReadCloser, error)
}

// ClipboardData is a clipboard-paste source.
type ClipboardData interface {
	Items() []DataItem
	// PlainText is the last-resort plain-text read.
	PlainText(ctx context.Context) (string, error)
}

// DragData is a drag-and-drop source. Files is a flat list that is
// processed in addition to the structured entries.
type DragData interface {
	ClipboardData
	Files() []*File
}

// Collector normalises sources into items.
type Collector struct {
	keepFiles bool
	log       *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithKeepFiles makes file entries produce file-backed items that keep the
// handle instead of embedding base64 data.
func WithKeepFiles() Option {
	return func(c *Collector) { c.keepFiles = true }
}

// WithLogger sets the logger used for skipped entries.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.log = l }
}

// New returns a Collector.
func New(opts ...Option) *Collector {
	c := &Collector{log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// job reads one source entry into at most one item.
type job func(ctx context.Context) (item.Item, bool)

// FromClipboard collects a clipboard-paste source. String and file entries
// are emitted in source order; when the source has no structured entries a
// single text/plain item is read directly.
func (c *Collector) FromClipboard(ctx context.Context, src ClipboardData) []item.Item {
	if src == nil {
		return nil
	}
	entries := src.Items()
	if len(entries) == 0 {
		return c.plainText(ctx, src)
	}
	jobs := make([]job, 0, len(entries))
	for _, e := range entries {
		switch e.Kind() {
		case KindString:
			jobs = append(jobs, c.stringJob(e))
		case KindFile:
			jobs = append(jobs, c.fileEntryJob(e))
		}
	}
	return c.run(ctx, jobs)
}

// FromDrag collects a drag-and-drop source: string entries first, then every
// file of the flat file list. Plain text is read only if both paths came up
// empty.
func (c *Collector) FromDrag(ctx context.Context, src DragData) []item.Item {
	if src == nil {
		return nil
	}
	var jobs []job
	for _, e := range src.Items() {
		if e.Kind() == KindString {
			jobs = append(jobs, c.stringJob(e))
		}
	}
	for _, f := range src.Files() {
		if f != nil {
			jobs = append(jobs, c.fileJob(f))
		}
	}
	out := c.run(ctx, jobs)
	if len(out) == 0 {
		return c.plainText(ctx, src)
	}
	return out
}

// run issues every read concurrently and joins the results in job order,
// independent of completion order.
func (c *Collector) run(ctx context.Context, jobs []job) []item.Item {
	slots := make([]item.Item, len(jobs))
	filled := make([]bool, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		g.Go(func() error {
			slots[i], filled[i] = j(ctx)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]item.Item, 0, len(jobs))
	for i, ok := range filled {
		if ok {
			out = append(out, slots[i])
		}
	}
	return out
}

func (c *Collector) stringJob(e DataItem) job {
	return func(ctx context.Context) (item.Item, bool) {
		s, err := e.ReadString(ctx)
		if err != nil {
			c.log.Debug("collect: string entry skipped", "type", e.Type(), "err", err)
			return item.Item{}, false
		}
		typ := e.Type()
		if typ == "" {
			typ = item.TypeText
		}
		return item.NewText(typ, s), true
	}
}

func (c *Collector) fileEntryJob(e DataItem) job {
	return func(ctx context.Context) (item.Item, bool) {
		f, err := e.ReadFile(ctx)
		if err != nil {
			c.log.Debug("collect: file entry skipped", "type", e.Type(), "err", err)
			return item.Item{}, false
		}
		if f == nil {
			return item.Item{}, false
		}
		ff := *f
		if ff.Type == "" {
			ff.Type = e.Type()
		}
		return c.fileJob(&ff)(ctx)
	}
}

func (c *Collector) fileJob(f *File) job {
	return func(ctx context.Context) (item.Item, bool) {
		it, err := c.fileItem(ctx, f)
		if err != nil {
			c.log.Debug("collect: file skipped", "name", f.Name, "err", err)
			return item.Item{}, false
		}
		return it, true
	}
}

func (c *Collector) fileItem(ctx context.Context, f *File) (item.Item, error) {
	typ := f.Type
	if typ == "" {
		typ = item.TypeOctetStream
	}
	if f.Open == nil {
		return item.Item{}, fmt.Errorf("file %q has no opener", f.Name)
	}
	if c.keepFiles {
		return item.NewFile(typ, &item.File{Name: f.Name, Size: f.Size, Open: f.Open}), nil
	}
	if err := ctx.Err(); err != nil {
		return item.Item{}, err
	}
	rc, err := f.Open()
	if err != nil {
		return item.Item{}, fmt.Errorf("open: %w", err)
	}
	defer rc.Close()
	if item.IsTextType(typ) {
		return textFileItem(typ, f.Name, rc)
	}
	data, _, err := textenc.EncodeReader(rc)
	if err != nil {
		return item.Item{}, err
	}
	return item.NewInline(typ, data, f.Name), nil
}

// textFileItem keeps text file contents as raw text, the way inline text
// items are carried. Contents that are not UTF-8 are sent as binary.
func textFileItem(typ, name string, r io.Reader) (item.Item, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return item.Item{}, fmt.Errorf("read: %w", err)
	}
	if !utf8.Valid(b) {
		return item.NewInline(item.TypeOctetStream, textenc.Encode(b), name), nil
	}
	return item.NewInline(typ, string(b), name), nil
}

func (c *Collector) plainText(ctx context.Context, src ClipboardData) []item.Item {
	txt, err := src.PlainText(ctx)
	if err != nil {
		c.log.Debug("collect: plain text unavailable", "err", err)
		return nil
	}
	if txt == "" {
		return nil
	}
	return []item.Item{item.NewText(item.TypeText, txt)}
}
