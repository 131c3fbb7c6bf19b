package collect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

type stringItem struct {
	typ   string
	value string
}

// StringItem returns a KindString entry with a fixed value.
func StringItem(typ, value string) DataItem { return stringItem{typ: typ, value: value} }

func (s stringItem) Kind() Kind                                 { return KindString }
func (s stringItem) Type() string                               { return s.typ }
func (s stringItem) ReadString(context.Context) (string, error) { return s.value, nil }
func (s stringItem) ReadFile(context.Context) (*File, error)    { return nil, nil }

type fileItem struct {
	f *File
}

// FileItem returns a KindFile entry for f.
func FileItem(f *File) DataItem { return fileItem{f: f} }

func (e fileItem) Kind() Kind                              { return KindFile }
func (e fileItem) Type() string                            { return e.f.Type }
func (e fileItem) ReadFile(context.Context) (*File, error) { return e.f, nil }

func (e fileItem) ReadString(context.Context) (string, error) {
	return "", errors.New("file entry has no string")
}

// Snapshot is a clipboard-paste source whose entries were read ahead of time.
type Snapshot struct {
	Entries []DataItem
	Text    string
}

func (s *Snapshot) Items() []DataItem                         { return s.Entries }
func (s *Snapshot) PlainText(context.Context) (string, error) { return s.Text, nil }

// Drop is a drag-and-drop source made of dropped files and text.
type Drop struct {
	Strings  []DataItem
	FileList []*File
	Text     string
}

// NewDrop builds a drop source. Texts become text/plain string entries.
func NewDrop(files []*File, texts ...string) *Drop {
	d := &Drop{FileList: files}
	for _, t := range texts {
		d.Strings = append(d.Strings, StringItem("text/plain", t))
	}
	return d
}

func (d *Drop) Items() []DataItem                         { return d.Strings }
func (d *Drop) Files() []*File                            { return d.FileList }
func (d *Drop) PlainText(context.Context) (string, error) { return d.Text, nil }

// BytesFile wraps an in-memory payload as a File.
func BytesFile(name, typ string, b []byte) *File {
	return &File{
		Name: name,
		Type: typ,
		Size: int64(len(b)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(b)), nil },
	}
}

// FileFromPath describes a file on disk. The type comes from the extension
// when known, otherwise from the content; MIME parameters are dropped.
func FileFromPath(path string) (*File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	typ := mime.TypeByExtension(filepath.Ext(path))
	if typ == "" {
		m, err := mimetype.DetectFile(path)
		if err != nil {
			return nil, fmt.Errorf("detect type of %s: %w", path, err)
		}
		typ = m.String()
	}
	if mt, _, err := mime.ParseMediaType(typ); err == nil {
		typ = mt
	}
	return &File{
		Name: filepath.Base(path),
		Type: typ,
		Size: st.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}
