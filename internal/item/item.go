// Package item defines the canonical clipboard data model shared by the
// collector, the transmission client, the server store and the restorer.
//
// An Item carries exactly one payload form, fixed when it is constructed:
//
//	inline      data embedded in the transport (raw text for text/*, base64 otherwise)
//	referenced  data stored by the server under a path, fetched on demand
//	file        a local file handle that has not been sent yet
//
// Only inline and referenced items have a JSON form.
package item

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.klb.dev/clipstash/internal/textenc"
)

// Well-known MIME types.
const (
	TypeText        = "text/plain"
	TypeHTML        = "text/html"
	TypeRTF         = "text/rtf"
	TypePNG         = "image/png"
	TypeJPEG        = "image/jpeg"
	TypeOctetStream = "application/octet-stream"

	// TypeDescription marks the free-text annotation attached to an entry.
	// It is never part of the captured clipboard content.
	TypeDescription = "text/description"
)

// ErrInvalidItem is returned when an item violates the payload invariant.
var ErrInvalidItem = errors.New("invalid clip item")

// Kind is the payload form of an Item.
type Kind uint8

const (
	KindInline Kind = iota + 1
	KindReferenced
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindInline:
		return "inline"
	case KindReferenced:
		return "referenced"
	case KindFile:
		return "file"
	default:
		return "invalid"
	}
}

// File is a local file handle carried by a file-backed item.
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// Item is one typed payload unit.
type Item struct {
	Type string
	Name string

	kind Kind
	data string
	path string
	file *File
}

// NewInline returns an item whose payload is embedded in the transport.
func NewInline(typ, data, name string) Item {
	return Item{Type: typ, Name: name, kind: KindInline, data: data}
}

// NewText returns an inline item holding raw text.
func NewText(typ, text string) Item {
	return NewInline(typ, text, "")
}

// NewReferenced returns an item whose payload lives in the store under path.
func NewReferenced(typ, path, name string) Item {
	return Item{Type: typ, Name: name, kind: KindReferenced, path: path}
}

// NewFile returns a file-backed item. The file is opened only when sent.
func NewFile(typ string, f *File) Item {
	return Item{Type: typ, Name: f.Name, kind: KindFile, file: f}
}

// Kind reports the payload form. The zero Item has no valid kind.
func (it Item) Kind() Kind { return it.kind }

// IsInline reports whether the payload is embedded.
func (it Item) IsInline() bool { return it.kind == KindInline }

// IsReferenced reports whether the payload is stored by the server.
func (it Item) IsReferenced() bool { return it.kind == KindReferenced }

// IsFile reports whether the item carries a local file handle.
func (it Item) IsFile() bool { return it.kind == KindFile }

// Data returns the inline payload; ok is false for other kinds.
func (it Item) Data() (data string, ok bool) { return it.data, it.kind == KindInline }

// Path returns the storage path; ok is false for other kinds.
func (it Item) Path() (path string, ok bool) { return it.path, it.kind == KindReferenced }

// File returns the local file handle; ok is false for other kinds.
func (it Item) File() (f *File, ok bool) { return it.file, it.kind == KindFile }

// InlineBytes returns the raw bytes of an inline payload, decoding the
// transport encoding for non-text types.
func (it Item) InlineBytes() ([]byte, error) {
	if it.kind != KindInline {
		return nil, fmt.Errorf("%w: %s item has no inline payload", ErrInvalidItem, it.kind)
	}
	if it.IsText() {
		return []byte(it.data), nil
	}
	return textenc.Decode(it.data)
}

// IsText reports whether the inline payload is raw text rather than base64.
func (it Item) IsText() bool { return IsTextType(it.Type) }

// IsTextType reports whether typ is carried as raw text when inline.
func IsTextType(typ string) bool { return strings.HasPrefix(typ, "text/") }

// Validate checks the payload invariant.
func (it Item) Validate() error {
	if it.Type == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidItem)
	}
	switch it.kind {
	case KindInline:
	case KindReferenced:
		if it.path == "" {
			return fmt.Errorf("%w: empty path", ErrInvalidItem)
		}
	case KindFile:
		if it.file == nil || it.file.Open == nil {
			return fmt.Errorf("%w: file item without handle", ErrInvalidItem)
		}
	default:
		return fmt.Errorf("%w: no payload", ErrInvalidItem)
	}
	return nil
}

type jsonItem struct {
	Type string  `json:"type"`
	Data *string `json:"data,omitempty"`
	Path *string `json:"path,omitempty"`
	Name string  `json:"name,omitempty"`
}

// MarshalJSON encodes inline and referenced items. File-backed items have
// no JSON form.
func (it Item) MarshalJSON() ([]byte, error) {
	j := jsonItem{Type: it.Type, Name: it.Name}
	switch it.kind {
	case KindInline:
		d := it.data
		j.Data = &d
	case KindReferenced:
		p := it.path
		j.Path = &p
	case KindFile:
		return nil, fmt.Errorf("%w: file-backed item %q cannot be encoded as JSON", ErrInvalidItem, it.Name)
	default:
		return nil, fmt.Errorf("%w: no payload", ErrInvalidItem)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an item, rejecting payloads that are both inline and
// referenced, or neither.
func (it *Item) UnmarshalJSON(b []byte) error {
	var j jsonItem
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	switch {
	case j.Data != nil && j.Path != nil:
		return fmt.Errorf("%w: both data and path set", ErrInvalidItem)
	case j.Data != nil:
		*it = NewInline(j.Type, *j.Data, j.Name)
	case j.Path != nil:
		*it = NewReferenced(j.Type, *j.Path, j.Name)
	default:
		return fmt.Errorf("%w: neither data nor path set", ErrInvalidItem)
	}
	return nil
}

// Meta carries sender metadata for an entry.
type Meta struct {
	Source string `json:"source,omitempty"`
}

// Entry is one synchronised capture. IDs are assigned by the store.
type Entry struct {
	ID        uint64 `json:"id"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	Items     []Item `json:"items"`
	Meta      Meta   `json:"meta"`
}

// Time returns the capture instant.
func (e Entry) Time() time.Time { return time.UnixMilli(e.Timestamp) }

// Description returns the entry's description item, if any.
func (e Entry) Description() (Item, int, bool) {
	for i, it := range e.Items {
		if it.Type == TypeDescription {
			return it, i, true
		}
	}
	return Item{}, -1, false
}

// WithDescription returns a copy of e whose description payload is replaced
// by text. The item keeps its position, name and kind; a referenced
// description cannot be rewritten here and is reported as not found.
func (e Entry) WithDescription(text string) (Entry, bool) {
	d, i, ok := e.Description()
	if !ok || !d.IsInline() {
		return e, false
	}
	items := make([]Item, len(e.Items))
	copy(items, e.Items)
	items[i] = NewInline(TypeDescription, text, d.Name)
	e.Items = items
	return e, true
}

// Types lists the item types in order.
func (e Entry) Types() []string {
	out := make([]string, len(e.Items))
	for i, it := range e.Items {
		out[i] = it.Type
	}
	return out
}

// copyable is the fixed set of types that may be written back to a system
// clipboard. Other captured types (raw binaries, descriptions) are never
// copied.
var copyable = map[string]struct{}{
	TypeText: {},
	TypeHTML: {},
	TypeRTF:  {},
	TypePNG:  {},
	TypeJPEG: {},
}

// IsCopyable reports whether typ is on the clipboard allow-list.
func IsCopyable(typ string) bool {
	_, ok := copyable[typ]
	return ok
}

// CopyableTypes returns the allow-list in a stable order.
func CopyableTypes() []string {
	return []string{TypeText, TypeHTML, TypeRTF, TypePNG, TypeJPEG}
}
