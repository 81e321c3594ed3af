package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/gorilla/websocket"

	"github.com/joshklop/cryptoapi/pkg/logging"
	"github.com/joshklop/cryptoapi/pkg/ratelimit"
)

// DialOptions configures the physical websocket transport.
type DialOptions struct {
	HandshakeTimeout time.Duration
	// Attempts is the number of dial attempts before the error is surfaced.
	Attempts int
	// Delay is the base backoff between dial attempts.
	Delay time.Duration
	// PingInterval is the keepalive ping frequency. Zero disables pings.
	PingInterval time.Duration
	// SendRate paces outbound frames. The zero Rate disables pacing.
	SendRate ratelimit.Rate
}

// Conn is one physical websocket session: a gorilla connection plus a write
// mutex and optional outbound pacing. Reads are single-consumer (the owning
// reader goroutine); writes may come from any goroutine.
type Conn struct {
	ws   *websocket.Conn
	pace ratelimit.Limiter
	log  logging.Logger

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

// Dial opens a websocket connection to url, retrying failed attempts with
// backoff before giving up.
func Dial(ctx context.Context, url string, opts DialOptions, log logging.Logger) (*Conn, error) {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	handshake := opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}

	var ws *websocket.Conn
	err := retry.Do(
		func() error {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			dialer := websocket.Dialer{HandshakeTimeout: handshake}
			conn, _, err := dialer.DialContext(ctx, url, nil)
			if err != nil {
				return err
			}
			ws = conn
			return nil
		},
		retry.Attempts(uint(attempts)),
		retry.Delay(opts.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("connection attempt failed",
				logging.String("url", url),
				logging.Int("attempt", int(n+1)),
				logging.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Conn{
		ws:   ws,
		pace: ratelimit.NewTokenBucketLimiter(opts.SendRate),
		log:  log,
		done: make(chan struct{}),
	}
	if opts.PingInterval > 0 {
		go c.keepalive(opts.PingInterval)
	}
	return c, nil
}

// Send marshals v to a JSON text frame and writes it, honoring the send
// pacing limit.
func (c *Conn) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := c.pace.Wait(ctx); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Read blocks until the next inbound frame. It is only safe to call from a
// single goroutine.
func (c *Conn) Read() ([]byte, error) {
	_, message, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return message, nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close sends a close frame and tears the transport down. Safe to call more
// than once.
func (c *Conn) Close() error {
	var alreadyClosed = true
	c.doneOnce.Do(func() {
		alreadyClosed = false
		close(c.done)
	})
	if alreadyClosed {
		return nil
	}

	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed connection"))
	c.writeMu.Unlock()

	err := c.ws.Close()
	if err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
		return err
	}
	return nil
}

func (c *Conn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
