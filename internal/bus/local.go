// Package bus implements the hub's event dispatch: an in-process
// Local bus and a broker-federated bus built on top of it
// (SPEC_FULL.md §4.1/§4.2).
package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hyphahub/msghub/internal/logger"
)

// Handler receives an event payload. A non-nil error is logged and
// does not stop dispatch to other handlers.
type Handler func(payload any) error

// registration is one On/Once call, kept in a registration-ordered
// slice so Emit can dispatch in the order subscribers signed up
// (spec §4.1), rather than Go's randomized map iteration order.
type registration struct {
	id      string
	pattern string
	handler Handler
	once    bool
}

// Local is an in-process publish/subscribe bus supporting exact event
// names and trailing-component wildcards ("ws/client:*" matches
// "ws/client:msg", "ws/client:disconnected", ...). Each Emit runs its
// matching handlers synchronously, one at a time, on the emitting
// goroutine; the mutex guards only the registration list, so handlers
// of concurrent Emit calls are not serialized against each other.
type Local struct {
	mu   sync.Mutex
	regs []*registration
}

// NewLocal constructs an empty Local bus.
func NewLocal() *Local {
	return &Local{}
}

// On registers handler for event, returning an id usable with Off.
func (b *Local) On(event string, handler Handler) string {
	return b.register(event, handler, false)
}

// Once registers handler for event; it is automatically removed after
// its first invocation.
func (b *Local) Once(event string, handler Handler) string {
	return b.register(event, handler, true)
}

func (b *Local) register(event string, handler Handler, once bool) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs = append(b.regs, &registration{id: id, pattern: event, handler: handler, once: once})
	return id
}

// Off removes a previously registered handler by id. It is a no-op if
// the handler is not found.
func (b *Local) Off(event, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.regs {
		if r.id == id && r.pattern == event {
			b.regs = append(b.regs[:i], b.regs[i+1:]...)
			return
		}
	}
}

// Emit dispatches payload, in registration order, to every handler
// registered for event and every handler registered under a wildcard
// pattern matching event.
func (b *Local) Emit(event string, payload any) {
	log := logger.Bus()

	b.mu.Lock()
	var matched []*registration
	remaining := b.regs[:0:0]
	for _, r := range b.regs {
		if matches(r.pattern, event) {
			matched = append(matched, r)
			if r.once {
				continue
			}
		}
		remaining = append(remaining, r)
	}
	b.regs = remaining
	b.mu.Unlock()

	for _, r := range matched {
		if err := r.handler(payload); err != nil {
			log.Error().Err(err).Str("event", event).Msg("handler error")
		}
	}
}

// WaitFor blocks until an event matching pattern arrives for which
// predicate returns true, or ctx is done.
func (b *Local) WaitFor(ctx context.Context, pattern string, predicate func(payload any) bool) (any, error) {
	result := make(chan any, 1)
	var id string
	id = b.On(pattern, func(payload any) error {
		if predicate == nil || predicate(payload) {
			select {
			case result <- payload:
			default:
			}
		}
		return nil
	})
	defer b.Off(pattern, id)

	select {
	case payload := <-result:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// matches reports whether event satisfies pattern. A pattern ending in
// "*" matches any event sharing its prefix up to the last remaining
// path component; any other pattern must equal event exactly.
func matches(pattern, event string) bool {
	if pattern == event {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(event, prefix)
	}
	return false
}
