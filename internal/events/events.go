// Package events defines the typed event surface of the client.
// Events form a closed union; subscribers receive concrete event values and
// switch on type rather than on dynamic event names.
package events

import (
	"sync"

	"github.com/postalsys/wirelink/internal/session"
	"github.com/postalsys/wirelink/internal/state"
)

// Event is one notification from the client core. The union is closed:
// only types in this package implement it.
type Event interface {
	event()
}

// StateChange reports an applied connection state transition.
type StateChange struct {
	From state.State
	To   state.State
}

// VisualCode carries the payload an external renderer displays as a
// scannable code.
type VisualCode struct {
	Ref              string
	ClientID         string
	PublicKey        string // base64
	ExpiresInSeconds int
}

// VisualCodeExpired fires when a visual code lapses and a retry begins.
type VisualCodeExpired struct {
	Attempt int
}

// VisualCodeMaxRetries fires once when the retry budget is exhausted.
type VisualCodeMaxRetries struct{}

// PairingCodeRequested reports that a short-code request was sent.
type PairingCodeRequested struct {
	Phone string
}

// PairingCode carries the short code the user enters on their device.
type PairingCode struct {
	Code string
}

// PairingCodeError reports a rejected short-code request.
// Reason "missing" means the phone is not registered with the service.
type PairingCodeError struct {
	Reason string
}

// Authenticated fires on handshake success, before the settle delay.
type Authenticated struct {
	User    session.Identity
	Session *session.Session
}

// Ready fires after the settle delay, when the session accepts traffic.
type Ready struct{}

// Connected fires when the transport socket opens.
type Connected struct{}

// Disconnected fires when the transport closes.
type Disconnected struct {
	Code   int
	Reason string
}

// ConnectionError reports a transport or protocol level error that did not
// tear down the connection by itself.
type ConnectionError struct {
	Err error
}

// ReconnectFailed fires once when the reconnect budget is exhausted.
type ReconnectFailed struct{}

func (StateChange) event()          {}
func (VisualCode) event()           {}
func (VisualCodeExpired) event()    {}
func (VisualCodeMaxRetries) event() {}
func (PairingCodeRequested) event() {}
func (PairingCode) event()          {}
func (PairingCodeError) event()     {}
func (Authenticated) event()        {}
func (Ready) event()                {}
func (Connected) event()            {}
func (Disconnected) event()         {}
func (ConnectionError) event()      {}
func (ReconnectFailed) event()      {}

// Handler receives events. Handlers run on the emitting goroutine and must
// not block.
type Handler func(Event)

// Bus dispatches events to a typed subscriber list. It is safe for
// concurrent use.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all events.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Emit delivers the event to every subscriber in registration order.
// The subscriber list is snapshotted so handlers may subscribe reentrantly.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	snapshot := make([]Handler, len(b.handlers))
	copy(snapshot, b.handlers)
	b.mu.Unlock()

	for _, h := range snapshot {
		h(e)
	}
}
