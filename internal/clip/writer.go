package clip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"sort"
	"strings"

	"go.klb.dev/clipstash/internal/item"
)

var (
	// ErrUnsupported is returned for a representation the backend cannot hold.
	ErrUnsupported = errors.New("clipboard format not supported")
	// ErrAmbiguous is returned when more than one representation was offered.
	ErrAmbiguous = errors.New("backend holds one representation per write")
)

// Writer is the rich multi-format writer over a Backend. The backend can
// hold exactly one of text/plain, image/png and image/jpeg (transcoded to
// PNG), so any other offer is rejected before anything is written.
type Writer struct {
	b Backend
}

// NewWriter returns a Writer for b.
func NewWriter(b Backend) *Writer { return &Writer{b: b} }

// WriteFormats writes the single representation in formats.
func (w *Writer) WriteFormats(ctx context.Context, formats map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(formats) != 1 {
		types := make([]string, 0, len(formats))
		for t := range formats {
			types = append(types, t)
		}
		sort.Strings(types)
		return fmt.Errorf("%w: %s", ErrAmbiguous, strings.Join(types, ", "))
	}
	for typ, data := range formats {
		switch typ {
		case item.TypeText:
			return w.b.Write(FormatText, data)
		case item.TypePNG:
			return w.b.Write(FormatImage, data)
		case item.TypeJPEG:
			p, err := jpegToPNG(data)
			if err != nil {
				return err
			}
			return w.b.Write(FormatImage, p)
		default:
			return fmt.Errorf("%w: %s", ErrUnsupported, typ)
		}
	}
	return nil
}

func jpegToPNG(data []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
