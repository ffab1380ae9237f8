package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"
	"nhooyr.io/websocket"
)

const (
	wsReadLimit   = 2 * 1024 * 1024 // generous headroom over the frame size cap
	wsDialTimeout = 30 * time.Second
)

// WebSocketDialer implements Dialer over nhooyr.io/websocket.
type WebSocketDialer struct{}

// NewWebSocketDialer creates the production dialer.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{}
}

// Dial connects to the service endpoint and completes the WebSocket upgrade.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, opts Options) (Conn, error) {
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = wsDialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpClient, err := buildHTTPClient(opts)
	if err != nil {
		return nil, err
	}

	dialOpts := &websocket.DialOptions{
		HTTPClient: httpClient,
	}
	if opts.Origin != "" {
		dialOpts.HTTPHeader = http.Header{"Origin": []string{opts.Origin}}
	}

	conn, _, err := websocket.Dial(ctx, endpoint, dialOpts)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	return &wsConn{conn: conn}, nil
}

// wsConn adapts a websocket connection to the Conn interface.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if code := websocket.CloseStatus(err); code != -1 {
			return nil, &CloseError{Code: int(code), Reason: err.Error()}
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("connection closed")
	}
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

func (c *wsConn) Close(code int, reason string) error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close(websocket.StatusCode(code), reason)
}

// buildHTTPClient creates the HTTP client used for the upgrade request,
// applying TLS and proxy settings.
func buildHTTPClient(opts Options) (*http.Client, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
	}

	switch {
	case opts.SOCKSProxy != "":
		var auth *proxy.Auth
		if opts.ProxyUsername != "" {
			auth = &proxy.Auth{User: opts.ProxyUsername, Password: opts.ProxyPassword}
		}
		socksDialer, err := proxy.SOCKS5("tcp", opts.SOCKSProxy, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks proxy: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := socksDialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return socksDialer.Dial(network, addr)
		}

	case opts.ProxyURL != "":
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		if opts.ProxyUsername != "" {
			proxyURL.User = url.UserPassword(opts.ProxyUsername, opts.ProxyPassword)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{Transport: transport}, nil
}
