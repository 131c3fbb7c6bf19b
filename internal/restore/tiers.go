package restore

import (
	"context"
	"fmt"
	"os"

	"go.klb.dev/clipstash/internal/item"
)

// RichWriter performs one atomic multi-representation clipboard write. The
// map is keyed by MIME type.
type RichWriter interface {
	WriteFormats(ctx context.Context, formats map[string][]byte) error
}

// RichTier writes every allow-listed item of the entry in one call. The
// first item of each type wins.
func RichTier(fetch Fetcher, w RichWriter) Strategy {
	return func(ctx context.Context, e item.Entry) Result {
		if w == nil {
			return Skip()
		}
		formats := make(map[string][]byte)
		for _, it := range e.Items {
			if !item.IsCopyable(it.Type) {
				continue
			}
			if _, seen := formats[it.Type]; seen {
				continue
			}
			b, err := payload(ctx, fetch, it)
			if err != nil {
				return Fail(fmt.Errorf("resolve %s: %w", it.Type, err))
			}
			formats[it.Type] = b
		}
		if len(formats) == 0 {
			return Skip()
		}
		if err := w.WriteFormats(ctx, formats); err != nil {
			return Fail(err)
		}
		return Success()
	}
}

// Selection is the single representation handed to the legacy copier.
type Selection struct {
	HTML string
	Text string
}

// Empty reports whether there is nothing to copy.
func (s Selection) Empty() bool { return s.HTML == "" && s.Text == "" }

// Copier issues the platform copy command for a selection. helper names a
// private file holding the selection's primary representation.
type Copier interface {
	Copy(ctx context.Context, sel Selection, helper string) error
}

// LegacyTier copies one HTML and one text candidate. Binary items and the
// description are never offered.
func LegacyTier(fetch Fetcher, c Copier) Strategy {
	return func(ctx context.Context, e item.Entry) Result {
		htmlIt, textIt, ok := candidates(e)
		if !ok || c == nil {
			return Skip()
		}
		var sel Selection
		if htmlIt != nil {
			b, err := payload(ctx, fetch, *htmlIt)
			if err != nil {
				return Fail(fmt.Errorf("resolve %s: %w", htmlIt.Type, err))
			}
			sel.HTML = string(b)
		}
		if textIt != nil {
			b, err := payload(ctx, fetch, *textIt)
			if err != nil {
				return Fail(fmt.Errorf("resolve %s: %w", textIt.Type, err))
			}
			sel.Text = string(b)
		}
		if sel.Empty() {
			return Skip()
		}
		if err := copyWithHelper(ctx, c, sel); err != nil {
			return Fail(err)
		}
		return Success()
	}
}

// candidates picks the first text/html item and the first text/plain item,
// falling back to the first other allow-listed text type.
func candidates(e item.Entry) (htmlIt, textIt *item.Item, ok bool) {
	var other *item.Item
	for i := range e.Items {
		it := &e.Items[i]
		if !item.IsCopyable(it.Type) || !it.IsText() {
			continue
		}
		switch it.Type {
		case item.TypeHTML:
			if htmlIt == nil {
				htmlIt = it
			}
		case item.TypeText:
			if textIt == nil {
				textIt = it
			}
		default:
			if other == nil {
				other = it
			}
		}
	}
	if textIt == nil {
		textIt = other
	}
	return htmlIt, textIt, htmlIt != nil || textIt != nil
}

// copyWithHelper stages the selection in a private temp file for the
// duration of the copy. The file is removed on every path.
func copyWithHelper(ctx context.Context, c Copier, sel Selection) (err error) {
	f, err := os.CreateTemp("", "clipstash-selection-*")
	if err != nil {
		return fmt.Errorf("helper: %w", err)
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && err == nil {
			err = fmt.Errorf("helper cleanup: %w", rmErr)
		}
	}()

	content := sel.Text
	if sel.HTML != "" {
		content = sel.HTML
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("helper: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("helper: %w", err)
	}
	return c.Copy(ctx, sel, path)
}
