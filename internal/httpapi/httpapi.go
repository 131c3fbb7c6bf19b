// Package httpapi serves the clipstash HTTP API and websocket feed.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/service"
)

// DefaultMaxBody caps capture request bodies.
const DefaultMaxBody = 256 << 20

// Server holds the HTTP handlers.
type Server struct {
	svc     *service.Service
	hub     *hub.Hub
	token   string
	maxBody int64
	log     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every API route.
// An empty token disables auth.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithMaxBody caps request bodies at n bytes.
func WithMaxBody(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New returns a Server over svc. h feeds the websocket endpoint.
func New(svc *service.Service, h *hub.Hub, opts ...Option) *Server {
	s := &Server{svc: svc, hub: h, maxBody: DefaultMaxBody, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Route("/api/clip", func(r chi.Router) {
			r.Post("/", s.handleCapture)
			r.Get("/", s.handleList)
			r.Delete("/", s.handleDelete)
			r.Get("/latest", s.handleLatest)
			r.Get("/{id}", s.handleGet)
			r.Put("/{id}/description", s.handleDescribe)
		})
		r.Get("/data/{path}", s.handleData)
		r.Get("/ws", s.handleWatch)
	})
	return r
}

// auth validates the bearer token. Browsers cannot set headers on a
// websocket upgrade, so a token query parameter is accepted too.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		tok := r.URL.Query().Get("token")
		if h := r.Header.Get("Authorization"); h != "" {
			tok = strings.TrimPrefix(h, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(tok), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"entries": n,
		"peers":   s.hub.Len(),
	})
}

func source(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if h := r.Header.Get(message.HeaderSource); h != "" {
		return h
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, message.CaptureResponse{OK: false, Error: msg})
}
