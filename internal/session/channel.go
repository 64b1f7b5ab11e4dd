package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/kravishan/neuroclimabot-docker-sub001/internal/api"
)

// ConnectionState describes the push channel lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateClosedFinal  ConnectionState = "closed_final"
)

const (
	writeTimeout = 5 * time.Second
	dialTimeout  = 10 * time.Second
)

// wireConn is the minimal connection surface the channel needs. The
// production implementation wraps coder/websocket; tests substitute scripted
// fakes.
type wireConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

type dialFunc func(ctx context.Context, url string) (wireConn, error)

// websocketConn adapts *websocket.Conn to wireConn.
type websocketConn struct {
	conn *websocket.Conn
}

func (w *websocketConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *websocketConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *websocketConn) Close(reason string) error {
	return w.conn.Close(websocket.StatusNormalClosure, reason)
}

func dialWebSocket(ctx context.Context, url string) (wireConn, error) {
	//nolint:bodyclose // coder/websocket owns the hijacked response body.
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}

// channelHooks are the callbacks a connectionChannel drives. All hooks are
// invoked from the channel's own goroutine.
type channelHooks struct {
	onStatus    func(remainingMS int64, lastActivity time.Time)
	onExpired   func()
	onExhausted func()
}

// connectionChannel owns one persistent push connection for an active
// session. It reconnects on unexpected closes, up to maxAttempts with a fixed
// delay between attempts, strictly one attempt at a time. Explicit Close
// bypasses retry entirely.
type connectionChannel struct {
	url         string
	maxAttempts int
	retryDelay  time.Duration
	dial        dialFunc
	hooks       channelHooks

	mu       sync.Mutex
	state    ConnectionState
	conn     wireConn
	attempts int
	closed   bool
	closedCh chan struct{}
	done     chan struct{}
}

func newConnectionChannel(url string, maxAttempts int, retryDelay time.Duration, dial dialFunc, hooks channelHooks) *connectionChannel {
	if dial == nil {
		dial = dialWebSocket
	}
	return &connectionChannel{
		url:         url,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		dial:        dial,
		hooks:       hooks,
		state:       StateDisconnected,
		closedCh:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Open starts the connection loop in the background. It may only be called
// once per channel; a fresh channel is created for every session.
func (c *connectionChannel) Open(ctx context.Context) {
	go c.run(ctx)
}

// State returns the current connection state.
func (c *connectionChannel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendActivity writes an activity message if the channel is connected.
// A disconnected channel drops the message silently: the server timer will
// resync from the next conversation call instead.
func (c *connectionChannel) SendActivity() {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	data, _ := json.Marshal(api.PushMessage{Type: api.MessageActivity})
	if err := conn.Write(ctx, data); err != nil {
		slog.Debug("Failed to send activity message", "error", err)
	}
}

// Close shuts the channel down and suppresses any further reconnection.
// Idempotent.
func (c *connectionChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	close(c.closedCh)
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close("session ended"); err != nil {
			slog.Debug("Failed to close push channel", "error", err)
		}
	}
}

// Done is closed when the connection loop has fully exited.
func (c *connectionChannel) Done() <-chan struct{} {
	return c.done
}

func (c *connectionChannel) run(ctx context.Context) {
	defer close(c.done)

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := c.dial(dialCtx, c.url)
		cancel()
		if err != nil {
			slog.Warn("Push channel dial failed", "error", err)
			if !c.waitRetry(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close("session ended")
			return
		}
		c.conn = conn
		c.attempts = 0
		c.state = StateConnected
		c.mu.Unlock()
		slog.Info("Push channel connected", "url", c.url)

		c.readLoop(ctx, conn)

		c.mu.Lock()
		wasClosed := c.closed
		c.conn = nil
		if !wasClosed {
			c.state = StateDisconnected
		}
		c.mu.Unlock()

		if wasClosed || ctx.Err() != nil {
			return
		}
		slog.Warn("Push channel lost, attempting to reconnect")
		if !c.waitRetry(ctx) {
			return
		}
	}
}

// waitRetry accounts one failed attempt and sleeps the fixed retry delay.
// It returns false when the budget is spent, the channel was explicitly
// closed, or the context ended.
func (c *connectionChannel) waitRetry(ctx context.Context) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.attempts++
	if c.attempts > c.maxAttempts {
		c.state = StateClosedFinal
		c.mu.Unlock()
		slog.Warn("Push channel reconnection budget exhausted, falling back to request/response only",
			"attempts", c.maxAttempts)
		if c.hooks.onExhausted != nil {
			c.hooks.onExhausted()
		}
		return false
	}
	attempt := c.attempts
	c.mu.Unlock()

	slog.Info("Scheduling push channel reconnect", "attempt", attempt, "delay", c.retryDelay)

	timer := time.NewTimer(c.retryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.closedCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *connectionChannel) readLoop(ctx context.Context, conn wireConn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("Push channel closed", "error", err)
			} else {
				slog.Warn("Push channel read error", "error", err)
			}
			return
		}

		var msg api.PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Malformed push message ignored", "error", err)
			continue
		}

		switch msg.Type {
		case api.MessageConnected:
			slog.Debug("Push channel confirmed by server")
		case api.MessageStatus:
			if c.hooks.onStatus != nil {
				c.hooks.onStatus(msg.RemainingMS, time.UnixMilli(msg.LastActivity))
			}
		case api.MessageSessionExpired:
			slog.Info("Server reported session expiry")
			if c.hooks.onExpired != nil {
				c.hooks.onExpired()
			}
			return
		case api.MessageActivityAck:
			slog.Debug("Activity acknowledged by server")
		case api.MessageError:
			slog.Warn("Server pushed error message", "message", msg.Message)
		default:
			// Unknown types are tolerated for forward compatibility.
			slog.Debug("Ignoring unknown push message type", "type", msg.Type)
		}
	}
}
