package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/service"
)

// multipartMemory is how much of a multipart body is kept in memory before
// file parts spill to disk.
const multipartMemory = 32 << 20

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var c service.Capture
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, http.StatusBadRequest, "bad multipart body: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()
		files, err := captureFromForm(r.MultipartForm, &c)
		defer closeAll(files)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		var req message.CaptureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json body: "+err.Error())
			return
		}
		c = service.Capture{Items: req.Items, Source: req.Meta.Source, Description: req.Description}
	}
	c.Source = source(r, c.Source)

	e, err := s.svc.Capture(r.Context(), c)
	switch {
	case errors.Is(err, service.ErrEmptyCapture), errors.Is(err, item.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Error("capture failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, message.CaptureResponse{OK: true, ID: e.ID})
}

// captureFromForm fills c from a parsed multipart form and returns the
// opened file parts, which the caller closes.
func captureFromForm(form *multipart.Form, c *service.Capture) ([]multipart.File, error) {
	c.Source = formValue(form, message.FieldSource)
	c.Description = formValue(form, message.FieldDescription)
	if raw := formValue(form, message.FieldItems); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Items); err != nil {
			return nil, fmt.Errorf("bad %s field: %w", message.FieldItems, err)
		}
	}

	var opened []multipart.File
	for _, fh := range form.File[message.FieldFiles] {
		f, err := fh.Open()
		if err != nil {
			return opened, fmt.Errorf("open part %q: %w", fh.Filename, err)
		}
		opened = append(opened, f)
		typ, _, err := mime.ParseMediaType(fh.Header.Get("Content-Type"))
		if err != nil {
			typ = ""
		}
		c.Uploads = append(c.Uploads, service.Upload{Type: typ, Name: fh.Filename, Body: f})
	}
	return opened, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func closeAll(files []multipart.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	all, err := s.svc.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if all == nil {
		all = []item.Entry{}
	}
	writeJSON(w, http.StatusOK, all)
}

// handleLatest and handleGet answer a JSON null for a missing entry.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.Latest(r.Context())
	s.writeEntry(w, e, err)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	e, err := s.svc.Get(r.Context(), id)
	s.writeEntry(w, e, err)
}

func (s *Server) writeEntry(w http.ResponseWriter, e item.Entry, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusOK, nil)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, e)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req message.DeleteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json body: "+err.Error())
		return
	}
	if _, err := s.svc.Delete(r.Context(), req.IDs); err != nil {
		s.log.Error("delete failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, message.CaptureResponse{OK: true})
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req message.DescriptionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json body: "+err.Error())
		return
	}
	if _, err := s.svc.Describe(r.Context(), id, req.Text); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, message.CaptureResponse{OK: true, ID: id})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	it, b, err := s.svc.Data(r.Context(), chi.URLParam(r, "path"))
	switch {
	case errors.Is(err, service.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		s.log.Error("data read failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", it.Type)
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	if it.Name != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": it.Name}))
	}
	_, _ = w.Write(b)
}
