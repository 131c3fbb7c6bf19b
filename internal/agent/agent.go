// Package agent is the desktop side of clipstash. It captures clipboard
// changes and files dropped into a watched directory, and can follow the
// server's feed to restore entries captured elsewhere.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"go.klb.dev/clipstash/internal/client"
	"go.klb.dev/clipstash/internal/clip"
	"go.klb.dev/clipstash/internal/collect"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/subscribe"
)

// DefaultSettle is how long a dropped file must stay unmodified before it
// is captured.
const DefaultSettle = 500 * time.Millisecond

// Sender transmits a capture. *client.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, items []item.Item, description string) (client.Outcome, error)
}

// Restorer puts a stored entry on the local clipboard.
type Restorer interface {
	Restore(ctx context.Context, e item.Entry) error
}

// Feed delivers real-time events. *subscribe.Subscriber satisfies it.
type Feed interface {
	Run(ctx context.Context, fn subscribe.Handler) error
}

// Config configures an Agent. Backend and Sender are required.
type Config struct {
	Backend clip.Backend
	Sender  Sender
	// Source is this agent's sender name; followed entries from the same
	// source are not restored.
	Source string

	// DropDir, when set, is watched for new files.
	DropDir string
	// RemoveDropped deletes a dropped file once it has been stored.
	RemoveDropped bool
	// Settle overrides DefaultSettle.
	Settle time.Duration

	// Feed and Restorer together enable follow mode.
	Feed     Feed
	Restorer Restorer

	Logger *slog.Logger
}

// Agent watches the local clipboard and an optional drop directory.
type Agent struct {
	cfg  Config
	log  *slog.Logger
	clip *collect.Collector
	drop *collect.Collector

	// mu serialises clipboard reads against restores so a restored entry
	// is never captured again.
	mu   sync.Mutex
	last clip.Fingerprint

	sends sync.WaitGroup
}

// New validates cfg and returns an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Backend == nil {
		return nil, errors.New("agent: no clipboard backend")
	}
	if cfg.Sender == nil {
		return nil, errors.New("agent: no sender")
	}
	if (cfg.Feed == nil) != (cfg.Restorer == nil) {
		return nil, errors.New("agent: follow mode needs both a feed and a restorer")
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		cfg:  cfg,
		log:  log,
		clip: collect.New(collect.WithLogger(log)),
		drop: collect.New(collect.WithKeepFiles(), collect.WithLogger(log)),
	}, nil
}

// Run blocks until ctx is cancelled or a loop fails. In-flight sends are
// waited for before it returns.
func (a *Agent) Run(ctx context.Context) error {
	var w *fsnotify.Watcher
	if a.cfg.DropDir != "" {
		var err error
		if w, err = a.openDropDir(); err != nil {
			return err
		}
	}

	a.log.Info("agent started",
		"backend", a.cfg.Backend.Name(),
		"source", a.cfg.Source,
		"drop_dir", a.cfg.DropDir,
		"follow", a.cfg.Feed != nil,
	)

	g, ctx := errgroup.WithContext(ctx)
	changes := a.cfg.Backend.Watch(ctx)
	a.seed()
	g.Go(func() error {
		a.watchClipboard(ctx, changes)
		return nil
	})
	if w != nil {
		g.Go(func() error { return a.watchDrops(ctx, w) })
	}
	if a.cfg.Feed != nil {
		g.Go(func() error { return a.follow(ctx) })
	}
	err := g.Wait()
	a.sends.Wait()
	a.log.Info("agent stopped")
	return err
}

func (a *Agent) openDropDir() (*fsnotify.Watcher, error) {
	if err := os.MkdirAll(a.cfg.DropDir, 0o755); err != nil {
		return nil, fmt.Errorf("agent: drop dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("agent: watcher: %w", err)
	}
	if err := w.Add(a.cfg.DropDir); err != nil {
		w.Close()
		return nil, fmt.Errorf("agent: watch %s: %w", a.cfg.DropDir, err)
	}
	return w, nil
}

// seed records the clipboard content present at start-up so it is not sent.
func (a *Agent) seed() {
	a.mu.Lock()
	a.last = clip.Sum(a.cfg.Backend)
	a.mu.Unlock()
}

// watchClipboard captures every clipboard change signalled on changes.
func (a *Agent) watchClipboard(ctx context.Context, changes <-chan struct{}) {
	for range changes {
		items, ok := a.readChange(ctx)
		if !ok || len(items) == 0 {
			continue
		}
		a.send(ctx, "clipboard", items, nil)
	}
}

// readChange collects the clipboard if it differs from the last content
// seen or restored.
func (a *Agent) readChange(ctx context.Context) ([]item.Item, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fp := clip.Sum(a.cfg.Backend)
	if fp == a.last {
		return nil, false
	}
	a.last = fp
	return clip.Read(ctx, a.clip, a.cfg.Backend), true
}

// send transmits items in the background so the clipboard loop never
// blocks on the network; the client drops captures that overlap.
func (a *Agent) send(ctx context.Context, origin string, items []item.Item, done func()) {
	a.sends.Add(1)
	go func() {
		defer a.sends.Done()
		out, err := a.cfg.Sender.Send(ctx, items, "")
		switch {
		case err != nil:
			a.log.Warn("capture failed", "origin", origin, "err", err)
		case out.Dropped:
			a.log.Info("capture dropped, send in flight", "origin", origin, "items", len(items))
		default:
			a.log.Info("captured", "origin", origin, "id", out.ID, "items", len(items))
			if done != nil {
				done()
			}
		}
	}()
}

// watchDrops captures files created in the drop directory once they have
// settled. Hidden files are ignored.
func (a *Agent) watchDrops(ctx context.Context, w *fsnotify.Watcher) error {
	defer w.Close()

	pending := make(map[string]*time.Timer)
	ready := make(chan string)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if t, ok := pending[ev.Name]; ok {
				t.Reset(a.cfg.Settle)
				continue
			}
			name := ev.Name
			pending[name] = time.AfterFunc(a.cfg.Settle, func() {
				select {
				case ready <- name:
				case <-ctx.Done():
				}
			})

		case name := <-ready:
			if _, ok := pending[name]; !ok {
				continue
			}
			delete(pending, name)
			a.captureDrop(ctx, name)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.log.Warn("drop dir watch error", "err", err)
		}
	}
}

func (a *Agent) captureDrop(ctx context.Context, path string) {
	f, err := collect.FileFromPath(path)
	if err != nil {
		a.log.Debug("drop skipped", "path", path, "err", err)
		return
	}
	items := a.drop.FromDrag(ctx, collect.NewDrop([]*collect.File{f}))
	if len(items) == 0 {
		return
	}
	var done func()
	if a.cfg.RemoveDropped {
		done = func() {
			if err := os.Remove(path); err != nil {
				a.log.Warn("remove dropped file", "path", path, "err", err)
			}
		}
	}
	a.send(ctx, "drop", items, done)
}

// follow restores entries captured by other sources as they arrive.
func (a *Agent) follow(ctx context.Context) error {
	return a.cfg.Feed.Run(ctx, func(ev message.Event) {
		if ev.Event != message.EventNew || ev.Entry == nil {
			return
		}
		a.restore(ctx, *ev.Entry)
	})
}

func (a *Agent) restore(ctx context.Context, e item.Entry) {
	if a.cfg.Source != "" && e.Meta.Source == a.cfg.Source {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.cfg.Restorer.Restore(ctx, e); err != nil {
		a.log.Warn("follow restore failed", "id", e.ID, "err", err)
		return
	}
	a.last = clip.Sum(a.cfg.Backend)
	hub.LogEntry(a.log, "restored", e)
}
