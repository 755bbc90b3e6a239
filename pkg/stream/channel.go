package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens one WebSocket connection. Injectable so tests can fail or
// fake the transport without a listener.
type Dialer func(ctx context.Context, url string) (*websocket.Conn, error)

// ChannelConfig configures one logical always-reconnecting connection.
// Zero values fall back to defaults at Open.
type ChannelConfig struct {
	URL    string
	Dialer Dialer
	Logger *slog.Logger

	HeartbeatSeconds        int // keep-alive ping period, default 20
	RetryFloorSeconds       int // reconnect delay floor, default 1
	RetryCapSeconds         int // reconnect delay ceiling, default 15
	HandshakeTimeoutSeconds int // dial handshake bound, default 10

	// OnMessage receives every inbound frame verbatim. A panicking handler
	// is recovered and logged; it never takes the channel down.
	OnMessage func(raw []byte)
	// OnOpen/OnClose fire on every transition so health accounting stays
	// accurate without polling socket state.
	OnOpen  func()
	OnClose func()
}

var heartbeatFrame = []byte(`{"type":"ping"}`)

const writeWait = 10 * time.Second

// Channel is a logical WebSocket connection that reconnects with
// exponential backoff until stopped. The only terminal state is an
// explicit Stop.
type Channel struct {
	cfg       ChannelConfig
	dial      Dialer
	log       *slog.Logger
	heartbeat time.Duration
	floor     time.Duration
	ceiling   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	done     chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// Open starts the channel's connect loop and returns immediately.
func Open(cfg ChannelConfig) *Channel {
	dial := cfg.Dialer
	if dial == nil {
		handshake := Dsec(cfg.HandshakeTimeoutSeconds, 10)
		dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
			d := websocket.Dialer{HandshakeTimeout: handshake}
			conn, _, err := d.DialContext(ctx, url, nil)
			return conn, err
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:       cfg,
		dial:      dial,
		log:       log.With(slog.String("url", cfg.URL)),
		heartbeat: Dsec(cfg.HeartbeatSeconds, 20),
		floor:     Dsec(cfg.RetryFloorSeconds, 1),
		ceiling:   Dsec(cfg.RetryCapSeconds, 15),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

// Stop tears the channel down: cancels timers, closes the socket exactly
// once, and prevents further reconnects. Safe to call multiple times.
func (c *Channel) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.closeConn()
	})
	<-c.done
}

func (c *Channel) run() {
	defer close(c.done)

	delay := c.floor
	for {
		conn, err := c.dial(c.ctx, c.cfg.URL)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("dial failed", slog.Duration("retry_in", delay), slog.Any("error", err))
			if !c.sleep(delay) {
				return
			}
			delay = NextDelay(delay, c.floor, c.ceiling)
			continue
		}

		delay = c.floor
		c.setConn(conn)
		c.notifyOpen()
		c.serve(conn)
		c.closeConn()
		c.notifyClose()

		if c.ctx.Err() != nil {
			return
		}
		c.log.Info("connection lost, reconnecting", slog.Duration("retry_in", delay))
		if !c.sleep(delay) {
			return
		}
		delay = NextDelay(delay, c.floor, c.ceiling)
	}
}

// serve pumps one open connection: forwards frames and sends the periodic
// keep-alive. Returns when the connection dies or the channel stops.
func (c *Channel) serve(conn *websocket.Conn) {
	frames := make(chan []byte, 16)
	readDone := make(chan struct{})
	serveDone := make(chan struct{})
	defer close(serveDone)
	go func() {
		defer close(readDone)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case frames <- raw:
			case <-serveDone:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()

	pings := time.NewTicker(c.heartbeat)
	defer pings.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-readDone:
			// drain anything the reader queued before it died
			for {
				select {
				case raw := <-frames:
					c.deliver(raw)
				default:
					return
				}
			}

		case raw := <-frames:
			c.deliver(raw)

		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, heartbeatFrame); err != nil {
				c.log.Warn("keep-alive write failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (c *Channel) deliver(raw []byte) {
	if c.cfg.OnMessage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("message handler panic", slog.Any("panic", r))
		}
	}()
	c.cfg.OnMessage(raw)
}

func (c *Channel) notifyOpen() {
	if c.cfg.OnOpen != nil {
		c.cfg.OnOpen()
	}
}

func (c *Channel) notifyClose() {
	if c.cfg.OnClose != nil {
		c.cfg.OnClose()
	}
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// closeConn closes the current socket at most once: whoever nils the field
// under the lock owns the close.
func (c *Channel) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
}

func (c *Channel) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// NextDelay is one step of the reconnect backoff: double, never above the
// ceiling, never below the floor.
func NextDelay(cur, floor, ceiling time.Duration) time.Duration {
	if cur < floor {
		cur = floor
	}
	next := cur * 2
	if next > ceiling {
		next = ceiling
	}
	return next
}

// Dsec converts a seconds count to a duration, substituting a default for
// zero or negative values.
func Dsec(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(v) * time.Second
}
