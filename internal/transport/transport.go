// Package transport owns the socket to the messaging service.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WebSocket close codes the client cares about.
const (
	StatusNormalClosure = 1000
	StatusGoingAway     = 1001
	StatusAbnormal      = 1006
)

// Conn is the minimal connection surface the client core needs. The real
// implementation wraps a WebSocket; tests inject in-memory fakes.
type Conn interface {
	// Read returns the next complete message from the socket.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one complete message. Writes are serialized internally;
	// frames are never interleaved.
	Write(ctx context.Context, data []byte) error

	// Close closes the socket with a status code and reason.
	Close(code int, reason string) error
}

// Dialer opens connections to the service endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, opts Options) (Conn, error)
}

// Options contains dial settings.
type Options struct {
	// Origin is sent as the Origin header; the service rejects the
	// upgrade without it.
	Origin string

	// Timeout bounds the dial, including the HTTP upgrade.
	Timeout time.Duration

	// ProxyURL routes the connection through an HTTP proxy.
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string

	// SOCKSProxy routes the connection through a SOCKS5 proxy
	// (host:port). Takes precedence over ProxyURL.
	SOCKSProxy string

	// InsecureSkipVerify disables TLS verification (development only).
	InsecureSkipVerify bool
}

// CloseError reports a closed connection with its status code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code=%d reason=%q", e.Code, e.Reason)
}

// CloseCode extracts the close status code from an error, if present.
func CloseCode(err error) (int, bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

// IsNormalClosure reports whether the error is a normal or going-away close.
func IsNormalClosure(err error) bool {
	code, ok := CloseCode(err)
	return ok && (code == StatusNormalClosure || code == StatusGoingAway)
}
