package hub

import (
	"context"
	"log/slog"

	"go.klb.dev/clipstash/internal/item"
)

// LogEntry logs an entry at INFO (id, source, types) and DEBUG (text
// preview up to 120 chars, or the stored path for referenced items).
func LogEntry(l *slog.Logger, event string, e item.Entry) {
	l.Info(event, "entry", e.ID, "source", e.Meta.Source, "types", e.Types())

	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, it := range e.Items {
		if data, ok := it.Data(); ok && it.IsText() {
			preview := data
			if len(preview) > 120 {
				preview = preview[:120] + "…"
			}
			l.Debug("clip item", "type", it.Type, "preview", preview)
			continue
		}
		if p, ok := it.Path(); ok {
			l.Debug("clip item", "type", it.Type, "name", it.Name, "path", p)
			continue
		}
		l.Debug("clip item", "type", it.Type, "name", it.Name)
	}
}
