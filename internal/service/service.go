// Package service implements the server side of capture, history and
// edit calls, independent of transport.
//
// Captures are normalised before they are stored: inline text stays
// inline, every binary payload moves into the blob store and is replaced
// by a referenced item, and a non-empty description is appended as an
// inline text/description item.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.klb.dev/clipstash/internal/blobstore"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/store"
)

var (
	// ErrNotFound is returned for a missing entry, description or payload.
	ErrNotFound = errors.New("not found")
	// ErrEmptyCapture is returned for a capture without any item.
	ErrEmptyCapture = errors.New("empty capture")
)

// Entries persists entries.
type Entries interface {
	Add(ctx context.Context, items []item.Item, meta item.Meta) (item.Entry, error)
	List(ctx context.Context) ([]item.Entry, error)
	Get(ctx context.Context, id uint64) (item.Entry, error)
	Latest(ctx context.Context) (item.Entry, error)
	Delete(ctx context.Context, ids []uint64) ([]item.Entry, error)
	SetDescription(ctx context.Context, id uint64, text string) (item.Entry, error)
	ItemByPath(ctx context.Context, path string) (item.Item, error)
	Count(ctx context.Context) (int64, error)
}

// Blobs persists referenced payloads.
type Blobs interface {
	Put(ctx context.Context, r io.Reader) (string, int64, error)
	Overwrite(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(names ...string) error
}

// Publisher receives every change.
type Publisher interface {
	Publish(message.Event)
}

// Upload is one file part of a multipart capture.
type Upload struct {
	Type string
	Name string
	Body io.Reader
}

// Capture is a normalised-to-be capture request.
type Capture struct {
	Items       []item.Item
	Uploads     []Upload
	Source      string
	Description string
}

// Service ties the entry store, blob store and publisher together.
type Service struct {
	entries Entries
	blobs   Blobs
	pub     Publisher
	log     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New returns a Service. pub may be nil.
func New(entries Entries, blobs Blobs, pub Publisher, opts ...Option) *Service {
	s := &Service{entries: entries, blobs: blobs, pub: pub, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Capture stores c as a new entry and broadcasts it as clip:new. Blobs
// written for a capture that then fails are removed again.
func (s *Service) Capture(ctx context.Context, c Capture) (item.Entry, error) {
	items := make([]item.Item, 0, len(c.Items)+len(c.Uploads)+1)
	var written []string
	fail := func(err error) (item.Entry, error) {
		if len(written) > 0 {
			_ = s.blobs.Delete(written...)
		}
		return item.Entry{}, err
	}

	for i, it := range c.Items {
		if err := it.Validate(); err != nil {
			return fail(fmt.Errorf("item %d: %w", i, err))
		}
		if !it.IsInline() {
			return fail(fmt.Errorf("item %d: %w: %s items cannot be captured", i, item.ErrInvalidItem, it.Kind()))
		}
		if it.Type == item.TypeDescription {
			continue
		}
		if it.IsText() {
			items = append(items, it)
			continue
		}
		raw, err := it.InlineBytes()
		if err != nil {
			return fail(fmt.Errorf("item %d: %w", i, err))
		}
		name, _, err := s.blobs.Put(ctx, bytes.NewReader(raw))
		if err != nil {
			return fail(fmt.Errorf("item %d: %w", i, err))
		}
		written = append(written, name)
		items = append(items, item.NewReferenced(it.Type, name, it.Name))
	}

	for _, u := range c.Uploads {
		typ := u.Type
		if typ == "" {
			typ = item.TypeOctetStream
		}
		name, _, err := s.blobs.Put(ctx, u.Body)
		if err != nil {
			return fail(fmt.Errorf("file %q: %w", u.Name, err))
		}
		written = append(written, name)
		items = append(items, item.NewReferenced(typ, name, u.Name))
	}

	if len(items) == 0 {
		return fail(ErrEmptyCapture)
	}
	if d := strings.TrimSpace(c.Description); d != "" {
		items = append(items, item.NewText(item.TypeDescription, c.Description))
	}

	e, err := s.entries.Add(ctx, items, item.Meta{Source: c.Source})
	if err != nil {
		return fail(err)
	}
	hub.LogEntry(s.log, "clip captured", e)
	s.publish(message.NewEntryEvent(e))
	return e, nil
}

// List returns every entry, oldest first.
func (s *Service) List(ctx context.Context) ([]item.Entry, error) {
	return s.entries.List(ctx)
}

// Get returns entry id.
func (s *Service) Get(ctx context.Context, id uint64) (item.Entry, error) {
	e, err := s.entries.Get(ctx, id)
	return e, s.mapErr(err)
}

// Latest returns the newest entry.
func (s *Service) Latest(ctx context.Context) (item.Entry, error) {
	e, err := s.entries.Latest(ctx)
	return e, s.mapErr(err)
}

// Count returns the number of stored entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.entries.Count(ctx)
}

// Delete removes entries and their blobs, then broadcasts the store. It
// returns the number of entries removed.
func (s *Service) Delete(ctx context.Context, ids []uint64) (int, error) {
	removed, err := s.entries.Delete(ctx, ids)
	if err != nil {
		return 0, err
	}
	var paths []string
	for _, e := range removed {
		for _, it := range e.Items {
			if p, ok := it.Path(); ok {
				paths = append(paths, p)
			}
		}
	}
	if err := s.blobs.Delete(paths...); err != nil {
		s.log.Warn("blob cleanup incomplete", "err", err)
	}
	s.log.Info("entries deleted", "requested", len(ids), "deleted", len(removed))
	s.publishSnapshot(ctx)
	return len(removed), nil
}

// Describe replaces the description payload of entry id in place and
// broadcasts the store. A referenced description is rewritten in its blob.
func (s *Service) Describe(ctx context.Context, id uint64, text string) (item.Entry, error) {
	e, err := s.entries.Get(ctx, id)
	if err != nil {
		return item.Entry{}, s.mapErr(err)
	}
	d, _, ok := e.Description()
	if !ok {
		return item.Entry{}, fmt.Errorf("%w: entry %d has no description", ErrNotFound, id)
	}
	if p, ok := d.Path(); ok {
		if err := s.blobs.Overwrite(ctx, p, []byte(text)); err != nil {
			return item.Entry{}, s.mapErr(err)
		}
	} else if e, err = s.entries.SetDescription(ctx, id, text); err != nil {
		return item.Entry{}, s.mapErr(err)
	}
	s.log.Info("description updated", "entry", id)
	s.publishSnapshot(ctx)
	return e, nil
}

// Data returns a referenced payload with the item it belongs to.
func (s *Service) Data(ctx context.Context, path string) (item.Item, []byte, error) {
	it, err := s.entries.ItemByPath(ctx, path)
	if err != nil {
		return item.Item{}, nil, s.mapErr(err)
	}
	b, err := s.blobs.Get(ctx, path)
	if err != nil {
		return item.Item{}, nil, s.mapErr(err)
	}
	return it, b, nil
}

func (s *Service) publish(ev message.Event) {
	if s.pub != nil {
		s.pub.Publish(ev)
	}
}

func (s *Service) publishSnapshot(ctx context.Context) {
	if s.pub == nil {
		return
	}
	all, err := s.entries.List(ctx)
	if err != nil {
		s.log.Warn("snapshot broadcast skipped", "err", err)
		return
	}
	s.pub.Publish(message.SnapshotEvent(all))
}

func (s *Service) mapErr(err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
