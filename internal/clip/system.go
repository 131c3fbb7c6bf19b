package clip

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"golang.design/x/clipboard"
)

const pollInterval = 250 * time.Millisecond

type systemBackend struct{}

// New returns the system clipboard backend, or an in-memory backend if the
// display environment is unavailable (e.g. a headless server without X11
// or Wayland). clipboard.Init is called here rather than in init() so that
// sub-commands that never touch the clipboard don't trigger the warning.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return NewMemory()
	}
	return systemBackend{}
}

func (systemBackend) Name() string { return "system clipboard" }

func (systemBackend) Read(f Format) []byte {
	switch f {
	case FormatText:
		return clipboard.Read(clipboard.FmtText)
	case FormatImage:
		return clipboard.Read(clipboard.FmtImage)
	default:
		return nil
	}
}

func (systemBackend) Write(f Format, data []byte) error {
	switch f {
	case FormatText:
		clipboard.Write(clipboard.FmtText, data)
	case FormatImage:
		clipboard.Write(clipboard.FmtImage, data)
	default:
		return ErrUnsupported
	}
	return nil
}

// Watch polls both formats. Not every platform offers change
// notification, so polling is used everywhere.
func (b systemBackend) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		t := time.NewTicker(pollInterval)
		defer t.Stop()
		lastText := b.Read(FormatText)
		lastImg := b.Read(FormatImage)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				text := b.Read(FormatText)
				img := b.Read(FormatImage)
				if bytes.Equal(text, lastText) && bytes.Equal(img, lastImg) {
					continue
				}
				lastText, lastImg = text, img
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch
}
