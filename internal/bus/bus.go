// Package bus provides the in-process event bus mutations broadcast on.
// Delivery is synchronous per listener, at-most-once, best-effort: listener
// errors and panics are logged and swallowed, never propagated to the emitter.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/costwatch/internal/model"
)

// Event names broadcast by the engine.
const (
	EnvelopeUpdated       = "envelope.updated"
	VarianceUpdated       = "variance.updated"
	VarianceConfigUpdated = "variance.config.updated"
)

// EnvelopePayload accompanies EnvelopeUpdated events.
type EnvelopePayload struct {
	ProjectID string       `json:"project_id"`
	Version   int64        `json:"version"`
	Totals    model.Totals `json:"totals"`
}

// VariancePayload accompanies VarianceUpdated events.
type VariancePayload struct {
	ProjectID string                `json:"project_id"`
	Alerts    []model.VarianceAlert `json:"alerts"`
	Stats     model.VarianceStats   `json:"stats"`
}

// ConfigPayload accompanies VarianceConfigUpdated events.
type ConfigPayload struct {
	ProjectID string `json:"project_id"`
}

// Emitter is the producer-side interface services depend on.
type Emitter interface {
	Emit(name string, payload any)
}

// Handler consumes one event. Returned errors are logged, not retried.
type Handler func(name string, payload any) error

// Bus is a minimal topic-keyed listener registry.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *zap.Logger
}

// New creates an empty bus. A nil logger falls back to the global one.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.L()
	}
	return &Bus{handlers: make(map[string][]Handler), log: log}
}

// Subscribe registers a handler for one event name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Emit delivers the event to every subscriber of name. Fire-and-forget from
// the caller's perspective: failures never reach it.
func (b *Bus) Emit(name string, payload any) {
	b.mu.RLock()
	handlers := b.handlers[name]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(name, payload, h)
	}
}

func (b *Bus) deliver(name string, payload any, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bus: listener panicked",
				zap.String("event", name),
				zap.Any("panic", r),
			)
		}
	}()
	if err := h(name, payload); err != nil {
		b.log.Warn("bus: listener failed",
			zap.String("event", name),
			zap.Error(err),
		)
	}
}
