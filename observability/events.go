package observability

import (
	"log/slog"

	"escrowd/core/events"
	"escrowd/core/types"
)

// EventRecorder is an events.Emitter that logs every engine event as a
// structured line and counts it in the metrics registry.
type EventRecorder struct {
	logger  *slog.Logger
	metrics *EscrowMetrics
}

// NewEventRecorder wires an emitter into the supplied logger and the shared
// metrics registry. A nil logger falls back to the process default.
func NewEventRecorder(logger *slog.Logger) *EventRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRecorder{logger: logger, metrics: Escrow()}
}

// Emit implements events.Emitter.
func (r *EventRecorder) Emit(evt events.Event) {
	if r == nil || evt == nil {
		return
	}
	r.metrics.CountEvent(evt.EventType())
	attrs := []any{slog.String("event", evt.EventType())}
	if withPayload, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := withPayload.Event(); payload != nil {
			for key, value := range payload.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	r.logger.Info("escrow event", attrs...)
}
