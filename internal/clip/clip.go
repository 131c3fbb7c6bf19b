// Package clip connects the system clipboard to capture and restore.
//
// A Backend exposes the two representations every platform clipboard
// library agrees on, text and PNG image. On top of it this package builds
// the clipboard-paste source read by the collector (Source) and the rich
// writer used by the first restore tier (Writer).
package clip

import (
	"context"
	"crypto/sha256"
)

// Format is a clipboard representation.
type Format uint8

const (
	FormatText Format = iota + 1
	FormatImage
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatImage:
		return "image"
	default:
		return "unknown"
	}
}

// Backend is the interface that all clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current content in format f, or nil when the
	// clipboard holds nothing in that format.
	Read(f Format) []byte

	// Write replaces the clipboard content with data in format f.
	Write(f Format, data []byte) error

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. The channel is closed when ctx is done. The caller should
	// Read when it receives from the channel.
	Watch(ctx context.Context) <-chan struct{}
}

// Fingerprint identifies clipboard content independently of the backend.
type Fingerprint [sha256.Size]byte

// Sum fingerprints the current content of b.
func Sum(b Backend) Fingerprint {
	return SumFormats(b.Read(FormatText), b.Read(FormatImage))
}

// SumFormats fingerprints a text and an image payload.
func SumFormats(text, image []byte) Fingerprint {
	h := sha256.New()
	h.Write([]byte{byte(FormatText)})
	h.Write(text)
	h.Write([]byte{byte(FormatImage)})
	h.Write(image)
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}
