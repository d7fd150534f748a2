// Package websocket implements [channel.Channel] over a WebSocket connection
// carrying one JSON-encoded wire event per text message.
//
// The dial presents the API key as a bearer token and the model as a query
// parameter; a background pinger keeps long-lived sessions alive across
// idle-connection middleboxes.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/switchboard/pkg/channel"
	"github.com/MrWong99/switchboard/pkg/wire"
)

// Compile-time interface assertions.
var _ channel.Dialer = (*Dialer)(nil)
var _ channel.Channel = (*Conn)(nil)

const (
	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// Dialer implements [channel.Dialer] for WebSocket endpoints.
type Dialer struct {
	// HTTPClient optionally overrides the client used for the handshake.
	HTTPClient *http.Client
}

// Dial connects to cfg.Endpoint and returns the open channel.
func (d *Dialer) Dial(ctx context.Context, cfg channel.Config) (channel.Channel, error) {
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("websocket: parse endpoint %q: %w", cfg.Endpoint, err)
	}
	if cfg.Model != "" {
		q := endpoint.Query()
		q.Set("model", cfg.Model)
		endpoint.RawQuery = q.Encode()
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = channel.DefaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hdr := http.Header{"Content-Type": []string{"application/json"}}
	if cfg.APIKey != "" {
		hdr.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	ws, _, err := websocket.Dial(dialCtx, endpoint.String(), &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: hdr,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", endpoint.Host, err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:     ws,
		ctx:    connCtx,
		cancel: connCancel,
	}
	go c.keepaliveLoop()
	return c, nil
}

// Conn is one open WebSocket channel.
type Conn struct {
	ws *websocket.Conn

	// ctx outlives the dial context; it is cancelled by Close and bounds
	// every transport operation so shutdown is always reachable.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Send implements [channel.Channel]. Events are validated before they leave
// the process so a local framing bug surfaces here, not at the remote side.
func (c *Conn) Send(ctx context.Context, ev wire.Event) error {
	if c.isClosed() {
		return channel.ErrClosed
	}
	data, err := wire.Encode(ev)
	if err != nil {
		return err
	}

	ctx, cancel := c.joinContext(ctx)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		if c.isClosed() {
			return channel.ErrClosed
		}
		return fmt.Errorf("websocket: send %s: %w", ev.Kind, err)
	}
	return nil
}

// Receive implements [channel.Channel].
func (c *Conn) Receive(ctx context.Context) (wire.Event, error) {
	if c.isClosed() {
		return wire.Event{}, channel.ErrClosed
	}

	ctx, cancel := c.joinContext(ctx)
	defer cancel()
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		if c.isClosed() {
			return wire.Event{}, channel.ErrClosed
		}
		if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure {
			return wire.Event{}, channel.ErrClosed
		}
		return wire.Event{}, fmt.Errorf("websocket: receive: %w", err)
	}
	ev, err := wire.Decode(data)
	if err != nil {
		return wire.Event{}, err
	}
	return ev, nil
}

// Close implements [channel.Channel]. Idempotent. The close handshake is
// best-effort: cancelling an in-flight Read already tears the connection
// down, so a handshake error here carries no information.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// joinContext derives a context cancelled by either the caller's ctx or the
// connection's lifetime.
func (c *Conn) joinContext(ctx context.Context) (context.Context, context.CancelFunc) {
	joined, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return joined, func() {
		stop()
		cancel()
	}
}

// keepaliveLoop pings the remote side so idle sessions are not reaped.
func (c *Conn) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			_ = c.ws.Ping(pingCtx)
			cancel()
		}
	}
}
