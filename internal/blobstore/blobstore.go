// Package blobstore keeps referenced payloads on disk.
//
// Each blob is one file named by a random UUID. Payloads are compressed
// with zstd and, when a key is configured, sealed with secretbox after
// compression.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"go.klb.dev/clipstash/internal/crypto"
)

// ErrNotFound is returned for an unknown or malformed blob name.
var ErrNotFound = errors.New("blob not found")

// Store is a directory of blobs. It is safe for concurrent use.
type Store struct {
	dir string
	key *crypto.Key
	enc *zstd.Encoder
	dec *zstd.Decoder
	log *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithKey seals blobs with key.
func WithKey(key *crypto.Key) Option {
	return func(s *Store) { s.key = key }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open returns a Store rooted at dir, creating it if needed.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	s := &Store{dir: dir, enc: enc, dec: dec, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the codecs.
func (s *Store) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

// Put stores the bytes read from r under a fresh name and returns the name
// and the uncompressed size.
func (s *Store) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, fmt.Errorf("read blob: %w", err)
	}
	name := uuid.NewString()
	if err := s.write(ctx, name, data); err != nil {
		return "", 0, err
	}
	s.log.Debug("blob stored", "blob", name, "size", len(data))
	return name, int64(len(data)), nil
}

// Overwrite replaces the content of an existing blob.
func (s *Store) Overwrite(ctx context.Context, name string, data []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.write(ctx, name, data)
}

// Get returns the content of blob name.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", name, err)
	}
	if s.key != nil {
		if raw, err = crypto.Open(raw, s.key); err != nil {
			return nil, fmt.Errorf("open blob %s: %w", name, err)
		}
	}
	data, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress blob %s: %w", name, err)
	}
	return data, nil
}

// Delete removes the named blobs. Missing blobs are ignored; the first
// other error is returned after every name was tried.
func (s *Store) Delete(names ...string) error {
	var first error
	for _, name := range names {
		p, err := s.path(name)
		if err != nil {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("blob delete failed", "blob", name, "err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (s *Store) write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}
	out := s.enc.EncodeAll(data, nil)
	if s.key != nil {
		if out, err = crypto.Seal(out, s.key); err != nil {
			return fmt.Errorf("seal blob: %w", err)
		}
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

// path maps a blob name to its file. Only canonical UUIDs are accepted, so
// a name can never escape the directory.
func (s *Store) path(name string) (string, error) {
	id, err := uuid.Parse(name)
	if err != nil || id.String() != name {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return filepath.Join(s.dir, name), nil
}
