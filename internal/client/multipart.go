package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/message"
)

// multipartRequest streams files as repeated "files" parts next to the
// source, description and inline items fields. The body is produced while
// the request is being sent, so file contents are never held in memory.
func (c *Client) multipartRequest(ctx context.Context, inline, files []item.Item, description string) (*http.Request, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	req, err := c.request(ctx, http.MethodPost, "/api/clip", pr)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	go func() {
		pw.CloseWithError(writeParts(mw, inline, files, c.source, description))
	}()
	return req, nil
}

func writeParts(mw *multipart.Writer, inline, files []item.Item, source, description string) error {
	if err := mw.WriteField(message.FieldSource, source); err != nil {
		return err
	}
	if description != "" {
		if err := mw.WriteField(message.FieldDescription, description); err != nil {
			return err
		}
	}
	if len(inline) > 0 {
		b, err := json.Marshal(inline)
		if err != nil {
			return fmt.Errorf("encode items: %w", err)
		}
		if err := mw.WriteField(message.FieldItems, string(b)); err != nil {
			return err
		}
	}
	for _, it := range files {
		if err := writeFile(mw, it); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFile(mw *multipart.Writer, it item.Item) error {
	f, _ := it.File()
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     message.FieldFiles,
		"filename": f.Name,
	}))
	h.Set("Content-Type", it.Type)
	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}
	return nil
}
