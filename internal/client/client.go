// Package client talks to a clipstash server over its HTTP API.
//
// Send is the transmission path of a capture: it ships one collected item
// list as a single request, JSON when every payload is inline and multipart
// when local files are attached. A Client sends at most one capture at a
// time; a capture that arrives while another is in flight is dropped, not
// queued.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"go.klb.dev/clipstash/internal/ipc"
	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/tlsconf"
)

// HeaderSource names the sender on every request.
const HeaderSource = message.HeaderSource

// IPC selects the local IPC socket as the server address.
const IPC = "ipc"

// ipcBase is the URL used for requests over the IPC socket; the host part
// is never resolved.
const ipcBase = "http://clipstash"

var (
	// ErrNothingCaptured is returned by Send for an empty item list.
	ErrNothingCaptured = errors.New("nothing captured")
	// ErrRejected wraps non-2xx responses and {ok:false} acknowledgements.
	ErrRejected = errors.New("server rejected request")
	// ErrNotFound is returned when the server reports a missing entry.
	ErrNotFound = errors.New("not found")
)

// State is the transmission state of a Client.
type State int32

const (
	StateIdle State = iota
	StateSending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	default:
		return "unknown"
	}
}

// Outcome reports what happened to a capture.
type Outcome struct {
	// ID is the store id of the new entry.
	ID uint64
	// Dropped is set when another send was in flight and nothing was sent.
	Dropped bool
}

// Config configures a Client.
type Config struct {
	// Server is "ipc", an http:// or https:// URL, or host:port (https).
	Server string
	// Token is sent as a bearer token and seeds the pinned TLS key.
	Token string
	// Source identifies this sender to the server.
	Source string
	// HTTPClient replaces the transport derived from Server.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a clipstash API client. It is safe for concurrent use.
type Client struct {
	base   string
	hc     *http.Client
	token  string
	source string
	log    *slog.Logger

	state atomic.Int32
}

// New returns a Client for cfg.Server.
func New(cfg Config) (*Client, error) {
	c := &Client{
		token:  cfg.Token,
		source: cfg.Source,
		hc:     cfg.HTTPClient,
		log:    cfg.Logger,
	}
	if c.log == nil {
		c.log = slog.Default()
	}

	base, tr, err := resolve(cfg.Server, cfg.Token)
	if err != nil {
		return nil, err
	}
	c.base = base
	if c.hc == nil {
		c.hc = &http.Client{Transport: tr}
	}
	return c, nil
}

// resolve maps a server address to a base URL and a transport.
func resolve(server, token string) (string, http.RoundTripper, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if server == "" || server == IPC {
		tr.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			return ipc.Dial(ctx)
		}
		return ipcBase, tr, nil
	}
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", nil, fmt.Errorf("server address %q: %w", server, err)
	}
	switch u.Scheme {
	case "http":
	case "https":
		cfg, err := tlsconf.HTTPClientConfig(tlsconf.Passphrase(token))
		if err != nil {
			return "", nil, err
		}
		tr.TLSClientConfig = cfg
		tr.ForceAttemptHTTP2 = false
	default:
		return "", nil, fmt.Errorf("server address %q: unsupported scheme %q", server, u.Scheme)
	}
	if u.Host == "" {
		return "", nil, fmt.Errorf("server address %q: missing host", server)
	}
	return strings.TrimRight(u.Scheme+"://"+u.Host+u.Path, "/"), tr, nil
}

// Base returns the server base URL.
func (c *Client) Base() string { return c.base }

// State reports whether a send is in flight.
func (c *Client) State() State { return State(c.state.Load()) }

// Send transmits items, plus an optional description, as one new entry.
//
// Exactly one request is made and it is never retried. If another Send is
// in flight the call returns Outcome{Dropped: true} without touching the
// network.
func (c *Client) Send(ctx context.Context, items []item.Item, description string) (Outcome, error) {
	if len(items) == 0 {
		return Outcome{}, ErrNothingCaptured
	}
	var inline, files []item.Item
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return Outcome{}, fmt.Errorf("send: %w", err)
		}
		switch it.Kind() {
		case item.KindFile:
			files = append(files, it)
		case item.KindInline:
			inline = append(inline, it)
		default:
			return Outcome{}, fmt.Errorf("send: %w: %s item %q cannot be sent", item.ErrInvalidItem, it.Kind(), it.Type)
		}
	}

	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateSending)) {
		c.log.Debug("send dropped, another send in flight", "items", len(items))
		return Outcome{Dropped: true}, nil
	}
	defer c.state.Store(int32(StateIdle))

	var (
		req *http.Request
		err error
	)
	if len(files) > 0 {
		req, err = c.multipartRequest(ctx, inline, files, description)
	} else {
		req, err = c.jsonRequest(ctx, http.MethodPost, "/api/clip", message.CaptureRequest{
			Items:       inline,
			Meta:        item.Meta{Source: c.source},
			Description: description,
		})
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("send: %w", err)
	}

	c.log.Debug("sending capture", "items", len(items), "files", len(files))
	var ack message.CaptureResponse
	if err := c.do(req, &ack); err != nil {
		return Outcome{}, fmt.Errorf("send: %w", err)
	}
	if !ack.OK {
		return Outcome{}, fmt.Errorf("send: %w: %s", ErrRejected, ack.Error)
	}
	return Outcome{ID: ack.ID}, nil
}

// History returns every stored entry in ascending id order.
func (c *Client) History(ctx context.Context) ([]item.Entry, error) {
	req, err := c.request(ctx, http.MethodGet, "/api/clip", nil)
	if err != nil {
		return nil, err
	}
	var out []item.Entry
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return out, nil
}

// Entry returns one entry; ok is false when the server has no such id.
func (c *Client) Entry(ctx context.Context, id uint64) (item.Entry, bool, error) {
	return c.entry(ctx, "/api/clip/"+strconv.FormatUint(id, 10))
}

// Latest returns the newest entry; ok is false when the store is empty.
func (c *Client) Latest(ctx context.Context) (item.Entry, bool, error) {
	return c.entry(ctx, "/api/clip/latest")
}

func (c *Client) entry(ctx context.Context, path string) (item.Entry, bool, error) {
	req, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return item.Entry{}, false, err
	}
	var e *item.Entry
	if err := c.do(req, &e); err != nil {
		return item.Entry{}, false, fmt.Errorf("get %s: %w", path, err)
	}
	if e == nil {
		return item.Entry{}, false, nil
	}
	return *e, true, nil
}

// Delete removes entries by id.
func (c *Client) Delete(ctx context.Context, ids []uint64) error {
	req, err := c.jsonRequest(ctx, http.MethodDelete, "/api/clip", message.DeleteRequest{IDs: ids})
	if err != nil {
		return err
	}
	var ack message.CaptureResponse
	if err := c.do(req, &ack); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("delete: %w: %s", ErrRejected, ack.Error)
	}
	return nil
}

// UpdateDescription replaces the description text of entry id.
func (c *Client) UpdateDescription(ctx context.Context, id uint64, text string) error {
	path := "/api/clip/" + strconv.FormatUint(id, 10) + "/description"
	req, err := c.jsonRequest(ctx, http.MethodPut, path, message.DescriptionRequest{Text: text})
	if err != nil {
		return err
	}
	var ack message.CaptureResponse
	if err := c.do(req, &ack); err != nil {
		return fmt.Errorf("describe %d: %w", id, err)
	}
	if !ack.OK {
		return fmt.Errorf("describe %d: %w: %s", id, ErrRejected, ack.Error)
	}
	return nil
}

// DataURL returns the download URL of a referenced payload.
func (c *Client) DataURL(path string) string {
	return c.base + "/data/" + url.PathEscape(path)
}

// Fetch downloads a referenced payload.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DataURL(path), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	return b, nil
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	return req, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, v any) (*http.Request, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	req, err := c.request(ctx, method, path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.source != "" {
		req.Header.Set(HeaderSource, c.source)
	}
}

// do runs req and decodes a JSON response into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkStatus turns a non-2xx response into ErrNotFound or ErrRejected,
// carrying the server's error text when it sent one.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	var ack message.CaptureResponse
	if json.Unmarshal(b, &ack) == nil && ack.Error != "" {
		msg = ack.Error
	}
	sentinel := ErrRejected
	if resp.StatusCode == http.StatusNotFound {
		sentinel = ErrNotFound
	}
	if msg == "" {
		return fmt.Errorf("%w: %s", sentinel, resp.Status)
	}
	return fmt.Errorf("%w: %s: %s", sentinel, resp.Status, msg)
}
