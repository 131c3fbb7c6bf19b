package clip

import (
	"context"

	"go.klb.dev/clipstash/internal/collect"
	"go.klb.dev/clipstash/internal/item"
)

// Source returns a clipboard-paste snapshot of b: a text/plain string
// entry and an image/png file entry, for whichever is present.
func Source(b Backend) *collect.Snapshot {
	s := &collect.Snapshot{}
	text := b.Read(FormatText)
	if len(text) > 0 {
		s.Entries = append(s.Entries, collect.StringItem(item.TypeText, string(text)))
	}
	if img := b.Read(FormatImage); len(img) > 0 {
		s.Entries = append(s.Entries, collect.FileItem(collect.BytesFile("clipboard.png", item.TypePNG, img)))
	}
	s.Text = string(text)
	return s
}

// Read collects the current clipboard content of b.
func Read(ctx context.Context, c *collect.Collector, b Backend) []item.Item {
	return c.FromClipboard(ctx, Source(b))
}
