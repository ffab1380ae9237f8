// Package registry correlates outgoing tagged requests with their
// asynchronous replies.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/postalsys/wirelink/internal/wire"
)

var (
	// ErrRequestTimeout is returned when a reply does not arrive within the
	// request deadline.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrConnectionReset is the default rejection reason used when the
	// connection is torn down with requests still in flight.
	ErrConnectionReset = errors.New("connection reset")

	// ErrDuplicateTag is returned when a tag is registered twice.
	ErrDuplicateTag = errors.New("duplicate request tag")
)

// result is the terminal outcome of a pending request.
type result struct {
	frame *wire.Frame
	err   error
}

// Pending is a registered request awaiting its reply.
type Pending struct {
	tag  string
	done chan result
}

// Tag returns the request's correlation tag.
func (p *Pending) Tag() string {
	return p.tag
}

// Wait blocks until the reply arrives, the request deadline passes, the
// registry rejects the request, or ctx is cancelled.
func (p *Pending) Wait(ctx context.Context) (*wire.Frame, error) {
	select {
	case r := <-p.done:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Registry assigns unique tags and tracks in-flight tagged requests.
// Tags combine a timestamp with a monotonic counter so they remain unique
// across reconnect epochs. Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	counter uint64
	pending map[string]*entry
}

type entry struct {
	p     *Pending
	timer *time.Timer
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{pending: make(map[string]*entry)}
}

// NextTag returns a fresh correlation tag.
func (r *Registry) NextTag() string {
	r.mu.Lock()
	r.counter++
	n := r.counter
	r.mu.Unlock()
	return fmt.Sprintf("%d.%d", time.Now().UnixMilli(), n)
}

// Register installs a pending request with a deadline. When the deadline
// passes the entry is removed and the waiter completes with
// ErrRequestTimeout.
func (r *Registry) Register(tag string, timeout time.Duration) (*Pending, error) {
	p := &Pending{tag: tag, done: make(chan result, 1)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[tag]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
	}

	e := &entry{p: p}
	e.timer = time.AfterFunc(timeout, func() {
		r.complete(tag, result{err: ErrRequestTimeout})
	})
	r.pending[tag] = e
	return p, nil
}

// Resolve delivers a reply to the request with the matching tag. It returns
// false if no such request is pending; late and duplicate replies are the
// caller's to log, not errors.
func (r *Registry) Resolve(tag string, f *wire.Frame) bool {
	return r.complete(tag, result{frame: f})
}

// RejectAll completes every pending request with the given reason. It must
// be called before any reconnect attempt so no waiter outlives its
// connection epoch. A nil reason rejects with ErrConnectionReset.
func (r *Registry) RejectAll(reason error) {
	if reason == nil {
		reason = ErrConnectionReset
	}

	r.mu.Lock()
	entries := make([]*entry, 0, len(r.pending))
	for _, e := range r.pending {
		entries = append(entries, e)
	}
	r.pending = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		e.p.done <- result{err: reason}
	}
}

// Len returns the number of in-flight requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// complete removes the entry and delivers the outcome exactly once.
func (r *Registry) complete(tag string, res result) bool {
	r.mu.Lock()
	e, ok := r.pending[tag]
	if ok {
		delete(r.pending, tag)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.timer.Stop()
	e.p.done <- res
	return true
}
