// Package catsevents implements the application-wide event bus, grounded
// on cats/events.py's Event name constants and cats/app.py's
// add_event_listener/remove_event_listener/trigger.
package catsevents

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Event names, matching cats/events.py plus the BEFORE/AFTER request and
// response hooks the spec adds around handler dispatch.
const (
	ServerStart   = "server_start"
	ServerClose   = "server_close"
	ConnStart     = "conn_start"
	ConnClose     = "conn_close"
	HandshakePass = "handshake_pass"
	HandshakeFail = "handshake_fail"
	BeforeRequest = "before_request"
	AfterRequest  = "after_request"
	BeforeResponse = "before_response"
	AfterResponse  = "after_response"
	HandleError    = "handle_error"

	// PingObserved fires whenever a Ping frame is received, carrying the
	// round trip so listeners can record latency metrics (SPEC_FULL §10.7).
	// It has no Python-side equivalent; cats/server/conn.py swallows Ping
	// silently after replying with Pong.
	PingObserved = "ping_observed"
)

// Listener handles one event firing. A non-nil return value replaces the
// event payload seen by subsequently-registered listeners of the same
// event, matching the spec's BEFORE_* listener-replacement semantics; AFTER_*
// and lifecycle events ignore the return value.
type Listener func(payload any) (replacement any, err error)

// ListenerID identifies a registered listener for later removal.
type ListenerID uint64

type registration struct {
	id ListenerID
	fn Listener
}

// Bus is a concurrency-safe, per-name listener registry.
type Bus struct {
	mu       sync.RWMutex
	nextID   ListenerID
	byEvent  map[string][]registration
}

func NewBus() *Bus {
	return &Bus{byEvent: make(map[string][]registration)}
}

// On registers fn against event and returns an id usable with Off.
func (b *Bus) On(event string, fn Listener) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.byEvent[event] = append(b.byEvent[event], registration{id: id, fn: fn})
	return id
}

// Off removes a previously registered listener. A no-op if id is unknown.
func (b *Bus) Off(event string, id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.byEvent[event]
	for i, r := range regs {
		if r.id == id {
			b.byEvent[event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Trigger runs every listener registered for event in registration order.
// For BEFORE_* events, a listener's non-nil replacement becomes the payload
// passed to the next listener and is ultimately returned to the caller.
// A listener error is logged and swallowed so one bad listener cannot break
// dispatch for the rest, matching cats/app.py's fire-and-forget trigger.
func (b *Bus) Trigger(event string, payload any) any {
	b.mu.RLock()
	regs := append([]registration(nil), b.byEvent[event]...)
	b.mu.RUnlock()

	for _, r := range regs {
		replacement, err := r.fn(payload)
		if err != nil {
			log.Error().Err(err).Str("event", event).Msg("event listener failed")
			continue
		}
		if replacement != nil && (event == BeforeRequest || event == BeforeResponse) {
			payload = replacement
		}
	}
	return payload
}
