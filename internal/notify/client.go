package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ms-groupbuy/internal/logger"
	"ms-groupbuy/internal/models"
)

type ChannelState string

const (
	StateIdle         ChannelState = "idle"
	StateConnecting   ChannelState = "connecting"
	StateConnected    ChannelState = "connected"
	StateDisconnected ChannelState = "disconnected"
)

// ChannelOptions configures a client-side notification channel.
type ChannelOptions struct {
	// URL of the stream endpoint (ws:// or wss://).
	URL string
	// Token supplies the session token. An empty token makes Connect a
	// no-op: the channel never dials without a valid session.
	Token func() string
	// ConnectTimeout bounds the dial handshake.
	ConnectTimeout time.Duration
	// ReconnectDelay is the fixed wait before the single reconnection
	// attempt after an abnormal disconnect.
	ReconnectDelay time.Duration
	// OnNotification fires for each new_notification event, after the
	// invalidation hook.
	OnNotification func(models.StreamEvent)
	// OnInvalidate busts cached notification views so dependent reads
	// refetch.
	OnInvalidate func()
	Logger       *logger.Logger
}

// Channel maintains the client end of the realtime notification stream:
// IDLE -> CONNECTING -> CONNECTED -> DISCONNECTED -> CONNECTING (retry).
// One retry timer exists at a time and is always cancelled before a new
// one is armed, so duplicate reconnection attempts cannot race.
type Channel struct {
	opts ChannelOptions

	mu         sync.Mutex
	state      ChannelState
	lastError  string
	conn       *websocket.Conn
	retryTimer *time.Timer
	closed     bool
	generation int
	lastBeat   time.Time
}

func NewChannel(opts ChannelOptions) *Channel {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	return &Channel{
		opts:  opts,
		state: StateIdle,
	}
}

func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the human-readable reason for the most recent disconnect,
// empty while connected.
func (c *Channel) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// LastHeartbeat is the time of the most recent liveness frame.
func (c *Channel) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBeat
}

// Connect dials the stream endpoint. Without a session token it returns
// without side effects. Dial failures are recoverable: the channel records
// the reason and arms the retry timer, it never panics the caller.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	token := ""
	if c.opts.Token != nil {
		token = c.opts.Token()
	}
	if token == "" {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.generation++
	generation := c.generation
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.ConnectTimeout}
	conn, resp, err := dialer.Dial(c.opts.URL+"?token="+token, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.handleDisconnect(generation, fmt.Sprintf("connection failed: %v", err))
		return
	}

	c.mu.Lock()
	if c.closed || generation != c.generation {
		// A Close or Reconnect superseded this dial while it was in
		// flight; its connection must not replace the current one.
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.lastError = ""
	c.mu.Unlock()

	go c.readLoop(conn, generation)
}

// Reconnect force-closes any existing transport and dials again
// immediately, cancelling a pending retry first.
func (c *Channel) Reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopRetryTimerLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	// Invalidate the old read loop so its error does not double-schedule.
	c.generation++
	c.state = StateIdle
	c.mu.Unlock()

	c.Connect()
}

// Close tears the channel down for good: the transport is closed with a
// normal closure code and no reconnection fires afterwards. No timers
// survive a closed channel.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopRetryTimerLocked()
	if c.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateIdle
}

func (c *Channel) readLoop(conn *websocket.Conn, generation int) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// Intentional close from the server: do not reconnect.
				c.mu.Lock()
				if !c.closed && generation == c.generation {
					c.conn = nil
					c.state = StateIdle
				}
				c.mu.Unlock()
				return
			}
			c.handleDisconnect(generation, fmt.Sprintf("connection lost: %v", err))
			return
		}
		c.handleMessage(payload)
	}
}

// handleMessage parses one frame. Malformed or unrecognized payloads are
// logged and dropped; they never change connection state.
func (c *Channel) handleMessage(payload []byte) {
	var event models.StreamEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logWarn(fmt.Sprintf("discarding malformed stream payload: %v", err))
		return
	}

	switch event.Type {
	case models.EventConnected:
		// Handshake acknowledgment, nothing beyond the state we already set.
	case models.EventNewNotification:
		if c.opts.OnInvalidate != nil {
			c.opts.OnInvalidate()
		}
		if c.opts.OnNotification != nil {
			c.opts.OnNotification(event)
		}
	case models.EventHeartbeat, models.EventPong:
		c.mu.Lock()
		c.lastBeat = time.Now()
		c.mu.Unlock()
	default:
		c.logWarn(fmt.Sprintf("discarding unrecognized stream event type %q", event.Type))
	}
}

// handleDisconnect records the failure and arms exactly one reconnection
// attempt. A stale generation means a newer connection already took over.
func (c *Channel) handleDisconnect(generation int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || generation != c.generation {
		return
	}

	c.conn = nil
	c.state = StateDisconnected
	c.lastError = reason
	c.logWarn(reason)

	c.stopRetryTimerLocked()
	c.retryTimer = time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.mu.Lock()
		c.retryTimer = nil
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.Connect()
	})
}

// RetryPending reports whether a reconnection attempt is currently armed.
func (c *Channel) RetryPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryTimer != nil
}

func (c *Channel) stopRetryTimerLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Channel) logWarn(message string) {
	if c.opts.Logger != nil {
		c.opts.Logger.Warn("STREAM", message)
	}
}
