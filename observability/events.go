package observability

import (
	"context"
	"log/slog"

	"p2pescrow/core/events"
)

// EventCounter is an events.Emitter that counts committed events and keeps
// the pending payout gauge in step with failed and settled payouts.
type EventCounter struct {
	metrics *EscrowMetrics
}

// NewEventCounter returns an emitter recording into the escrow metrics.
func NewEventCounter() *EventCounter {
	return &EventCounter{metrics: Escrow()}
}

// Emit implements events.Emitter.
func (c *EventCounter) Emit(evt events.Event) {
	if c == nil || c.metrics == nil || evt == nil {
		return
	}
	c.metrics.events.WithLabelValues(evt.EventType()).Inc()
	switch e := evt.(type) {
	case events.PayoutFailed:
		// Retries of an already pending payout emit PayoutFailed again.
		if e.Attempt > 1 {
			return
		}
		c.metrics.pending.Inc()
	case events.PayoutSettled:
		c.metrics.pending.Dec()
	}
}

// EventLogger writes one structured line per committed event.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger returns an emitter logging through logger.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger}
}

// Emit implements events.Emitter.
func (l *EventLogger) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := []any{"type", evt.EventType()}
	if scoped, ok := evt.(events.OrderEvent); ok {
		attrs = append(attrs, "orderId", scoped.OrderRef())
	}
	if payload, ok := evt.(events.Payload); ok {
		if rendered := payload.Event(); rendered != nil {
			attrs = append(attrs, "attributes", rendered.Attributes)
		}
	}
	level := slog.LevelInfo
	if _, failed := evt.(events.PayoutFailed); failed {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "escrow event", attrs...)
}

var (
	_ events.Emitter = (*EventCounter)(nil)
	_ events.Emitter = (*EventLogger)(nil)
)
