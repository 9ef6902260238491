// Package msgbus is the request/response channel between detection contexts
// and privileged services (byte fetch, similarity lookup). It stands in for
// the browser's runtime messaging: every message is a typed, validated
// envelope; requests are correlated to responses by envelope ID and guarded
// by an explicit per-request timeout, so a requester can always distinguish
// "the responder failed" from "nobody answered in time".
package msgbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ecostyle/scout/idgen"
)

// Type tags a message envelope. The set is closed: unknown types are
// rejected at the bus boundary, not passed through.
type Type string

const (
	TypeCaptureProductImage  Type = "CAPTURE_PRODUCT_IMAGE"
	TypeFetchImageAsDataURL  Type = "FETCH_IMAGE_AS_DATA_URL"
	TypeProductImageDetected Type = "PRODUCT_IMAGE_DETECTED"
)

func knownType(t Type) bool {
	switch t {
	case TypeCaptureProductImage, TypeFetchImageAsDataURL, TypeProductImageDetected:
		return true
	}
	return false
}

// Envelope is one message on the bus.
type Envelope struct {
	ID      string          `json:"id"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler answers a request: payload in, payload out. Handlers convert their
// own failures into typed response payloads where the protocol defines them;
// a returned error means the handler could not produce a response at all.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// NotifyFunc receives fire-and-forget notifications.
type NotifyFunc func(ctx context.Context, payload json.RawMessage)

// DefaultRequestTimeout bounds how long a requester waits for a response
// before giving up with ErrTimeout.
const DefaultRequestTimeout = 12 * time.Second

// Bus routes envelopes to handlers. One responder per request type; any
// number of notification subscribers.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[Type]Handler
	subscribers map[Type][]NotifyFunc
	pending     map[string]chan result

	timeout time.Duration
	logger  *slog.Logger
	ids     idgen.Generator
}

type result struct {
	payload json.RawMessage
	err     error
}

// Option configures a Bus.
type Option func(*Bus)

// WithTimeout sets the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Bus) { b.timeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithIDs sets the envelope ID generator.
func WithIDs(gen idgen.Generator) Option {
	return func(b *Bus) { b.ids = gen }
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers:    make(map[Type]Handler),
		subscribers: make(map[Type][]NotifyFunc),
		pending:     make(map[string]chan result),
		timeout:     DefaultRequestTimeout,
		logger:      slog.Default(),
		ids:         idgen.Default,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Handle registers the responder for a request type. Registering twice
// replaces the previous responder; the protocol requires exactly one
// response per request, so there is never more than one handler per type.
func (b *Bus) Handle(t Type, h Handler) {
	b.mu.Lock()
	if _, exists := b.handlers[t]; exists {
		b.logger.Warn("msgbus: replacing handler", "type", t)
	}
	b.handlers[t] = h
	b.mu.Unlock()
}

// Subscribe adds a notification subscriber for a type.
func (b *Bus) Subscribe(t Type, f NotifyFunc) {
	b.mu.Lock()
	b.subscribers[t] = append(b.subscribers[t], f)
	b.mu.Unlock()
}

// Request sends a request and waits for the correlated response. The wait is
// bounded by the bus timeout (or the context, whichever ends first); on
// expiry the caller gets ErrTimeout even if the handler later finishes.
func (b *Bus) Request(ctx context.Context, t Type, payload any) (json.RawMessage, error) {
	if !knownType(t) {
		return nil, &UnknownTypeError{Type: t}
	}

	b.mu.RLock()
	h, ok := b.handlers[t]
	b.mu.RUnlock()
	if !ok {
		return nil, &NoResponderError{Type: t}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &InvalidPayloadError{Type: t, Cause: err}
	}

	env := Envelope{ID: b.ids(), Type: t, Payload: raw}

	ch := make(chan result, 1)
	b.mu.Lock()
	b.pending[env.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, env.ID)
		b.mu.Unlock()
	}()

	go func() {
		resp, err := h(ctx, env.Payload)
		b.resolve(env.ID, result{payload: resp, err: err})
	}()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-timer.C:
		return nil, &TimeoutError{Type: t, ID: env.ID, After: b.timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve delivers a handler result to the pending requester, if any is
// still waiting. Late results after timeout are dropped.
func (b *Bus) resolve(id string, res result) {
	b.mu.RLock()
	ch, ok := b.pending[id]
	b.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

// Notify broadcasts a fire-and-forget message to all subscribers of the
// type. Subscribers run synchronously in registration order; there is no
// response and no error surface, matching the one-way protocol messages.
func (b *Bus) Notify(ctx context.Context, t Type, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("msgbus: notify marshal failed", "type", t, "error", err)
		return
	}

	b.mu.RLock()
	subs := make([]NotifyFunc, len(b.subscribers[t]))
	copy(subs, b.subscribers[t])
	b.mu.RUnlock()

	for _, f := range subs {
		f(ctx, raw)
	}
}
