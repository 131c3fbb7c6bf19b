// Package restore writes a stored entry back to the system clipboard.
//
// A Restorer runs an ordered list of strategies until one succeeds. The
// default list is the rich multi-format write followed by the legacy
// single-representation write; a failure of the rich tier is logged and
// swallowed, a failure of the last tier is the definitive result.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.klb.dev/clipstash/internal/item"
)

var (
	// ErrRestoreFailed wraps the error of the tier that ended the run.
	ErrRestoreFailed = errors.New("restore failed")
	// ErrNothingToCopy is returned when every tier was skipped.
	ErrNothingToCopy = errors.New("nothing to copy")
)

// Status is the outcome of one strategy.
type Status uint8

const (
	Skipped Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Skipped:
		return "skipped"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is what a strategy reports.
type Result struct {
	Status Status
	Err    error
}

// Success reports a completed write.
func Success() Result { return Result{Status: Succeeded} }

// Skip reports that the strategy had nothing to do.
func Skip() Result { return Result{Status: Skipped} }

// Fail reports a failed attempt.
func Fail(err error) Result { return Result{Status: Failed, Err: err} }

// Strategy is one restoration tier.
type Strategy func(ctx context.Context, e item.Entry) Result

// Fetcher downloads referenced payloads.
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// Restorer runs strategies in order.
type Restorer struct {
	strategies []Strategy
	log        *slog.Logger
}

// Option configures a Restorer.
type Option func(*Restorer)

// WithLogger sets the logger used for swallowed tier failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Restorer) { r.log = l }
}

// New returns a Restorer running strategies in the given order.
func New(strategies []Strategy, opts ...Option) *Restorer {
	r := &Restorer{strategies: strategies, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Default returns the standard two-tier Restorer. A nil rich writer skips
// the first tier.
func Default(fetch Fetcher, rich RichWriter, copier Copier, opts ...Option) *Restorer {
	return New([]Strategy{RichTier(fetch, rich), LegacyTier(fetch, copier)}, opts...)
}

// Restore runs the strategies against e. It stops at the first success and
// never runs a tier twice.
func (r *Restorer) Restore(ctx context.Context, e item.Entry) error {
	var swallowed error
	for i, s := range r.strategies {
		res := s(ctx, e)
		switch res.Status {
		case Succeeded:
			r.log.Debug("entry restored", "entry", e.ID, "tier", i+1)
			return nil
		case Failed:
			if i == len(r.strategies)-1 {
				return fmt.Errorf("%w: entry %d: %w", ErrRestoreFailed, e.ID, res.Err)
			}
			r.log.Warn("restore tier failed, falling back", "entry", e.ID, "tier", i+1, "err", res.Err)
			swallowed = res.Err
		}
	}
	if swallowed != nil {
		return fmt.Errorf("%w: entry %d: %w", ErrRestoreFailed, e.ID, swallowed)
	}
	return ErrNothingToCopy
}

// payload returns the raw bytes of an inline or referenced item.
func payload(ctx context.Context, fetch Fetcher, it item.Item) ([]byte, error) {
	switch it.Kind() {
	case item.KindInline:
		return it.InlineBytes()
	case item.KindReferenced:
		if fetch == nil {
			return nil, fmt.Errorf("no fetcher for referenced %s", it.Type)
		}
		p, _ := it.Path()
		return fetch.Fetch(ctx, p)
	default:
		return nil, fmt.Errorf("%w: %s item has no stored payload", item.ErrInvalidItem, it.Kind())
	}
}
