package observability

import (
	"log/slog"

	"gaslane/core/events"
	"gaslane/core/types"
)

// renderable is satisfied by events that can produce their structured form.
type renderable interface {
	Event() *types.Event
}

// LogEmitter forwards engine events to structured logs so operators get an
// audit trail without a dedicated indexer.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter wraps the supplied logger; nil falls back to the default.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements events.Emitter.
func (e *LogEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	attrs := []any{slog.String("event", evt.EventType())}
	if r, ok := evt.(renderable); ok {
		if rendered := r.Event(); rendered != nil {
			for k, v := range rendered.Attributes {
				attrs = append(attrs, slog.String(k, v))
			}
		}
	}
	e.logger.Info("engine event", attrs...)
}

// MultiEmitter fans an event out to several sinks.
type MultiEmitter []events.Emitter

// Emit implements events.Emitter.
func (m MultiEmitter) Emit(evt events.Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
