// Package websocket maintains the live connection to the activity stream
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"riskstream/internal/metrics"
	"riskstream/pkg/errors"
	"riskstream/pkg/logger"
	"riskstream/pkg/reconnect"
)

const closeGracePeriod = time.Second

// Handler receives inbound frames and connection state changes.
// OnConnectionChange(true) is always delivered before the first frame of a connection.
type Handler interface {
	HandleFrame(frame []byte)
	OnConnectionChange(connected bool)
}

// ClientConfig configures the stream client
type ClientConfig struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Client is a single websocket connection with fixed-delay, unbounded reconnection.
// Reconnection stops only on an explicit Disconnect.
type Client struct {
	cfg       ClientConfig
	handler   Handler
	scheduler *reconnect.Scheduler
	log       *logger.Logger

	// notifyMu serializes connection state transitions with their notifications
	notifyMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	session    string
	inflight   *dialAttempt
	generation uint64 // bumped by Disconnect; work started under an older value is discarded

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// dialAttempt is shared by every Connect call that arrives while the dial is running
type dialAttempt struct {
	gen  uint64
	done chan struct{}
	err  error
}

// NewClient creates a stream client. Nothing is dialed until Connect.
func NewClient(cfg ClientConfig, handler Handler, log *logger.Logger) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Get()
	}
	log = log.Component("stream_ws")

	return &Client{
		cfg:       cfg,
		handler:   handler,
		scheduler: reconnect.NewScheduler(reconnect.Config{Delay: cfg.ReconnectDelay}, log),
		log:       log,
	}
}

// Connect opens the connection. It returns nil right away only when a connection is
// already open; callers arriving while a dial is running get that dial's result.
// On failure a reconnect is scheduled unless Disconnect was called while dialing.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	return c.connect(ctx, gen)
}

func (c *Client) connect(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return errors.ErrWSDisconnected
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if d := c.inflight; d != nil && d.gen == gen {
		c.mu.Unlock()
		select {
		case <-d.done:
			return d.err
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for activity stream dial")
		}
	}
	d := &dialAttempt{gen: gen, done: make(chan struct{})}
	c.inflight = d
	url := c.cfg.URL
	c.mu.Unlock()

	d.err = c.dial(ctx, url, gen)

	c.mu.Lock()
	if c.inflight == d {
		c.inflight = nil
	}
	c.mu.Unlock()
	close(d.done)

	return d.err
}

func (c *Client) dial(ctx context.Context, url string, gen uint64) error {
	c.log.Infof("Connecting to activity stream: %s", url)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	stale := gen != c.generation
	if err != nil {
		c.mu.Unlock()
		if stale {
			return errors.Wrap(errors.ErrWSDisconnected, err.Error())
		}
		c.log.Warnf("Failed to connect to activity stream: %v", err)
		c.scheduleReconnect(gen)
		return errors.Wrapf(err, "failed to connect to activity stream")
	}
	if stale {
		c.mu.Unlock()
		conn.Close()
		c.log.Info("Discarding connection opened after disconnect")
		return errors.ErrWSDisconnected
	}

	session := uuid.New().String()
	c.conn = conn
	c.session = session
	c.mu.Unlock()

	c.handler.OnConnectionChange(true)

	c.wg.Add(1)
	go c.readMessages(conn, session, gen)

	c.log.Infow("Activity stream connected", "session", session)
	return nil
}

// Disconnect closes the connection with a normal close and cancels any pending or
// in-flight reconnect. A dial that resolves afterwards is torn down immediately.
func (c *Client) Disconnect() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.generation++
	conn := c.conn
	session := c.session
	c.conn = nil
	c.session = ""
	c.mu.Unlock()

	// after the bump, so nothing scheduled under the old generation survives
	c.scheduler.Cancel()

	if conn == nil {
		return
	}

	c.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod),
	)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warnf("Error sending close message: %v", err)
	}
	conn.Close()

	c.handler.OnConnectionChange(false)
	c.log.Infow("Activity stream disconnected", "session", session)
}

// Close disconnects and waits for the read loop to exit
func (c *Client) Close() {
	c.Disconnect()
	c.wg.Wait()
}

// IsConnected reports whether a connection is open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one JSON message. Byte slices are sent as they are.
// Nothing is queued: while closed the message is dropped with ErrWSNotConnected.
func (c *Client) Send(msg interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		metrics.StreamSendDropped.Inc()
		c.log.Warn("Cannot send, activity stream not connected")
		return errors.ErrWSNotConnected
	}

	data, ok := msg.([]byte)
	if !ok {
		var err error
		if data, err = json.Marshal(msg); err != nil {
			return errors.Wrap(err, "failed to encode message")
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to send message")
	}
	return nil
}

// ReconnectStats exposes the reconnect scheduler counters
func (c *Client) ReconnectStats() reconnect.Stats {
	return c.scheduler.GetStats()
}

func (c *Client) readMessages(conn *websocket.Conn, session string, gen uint64) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(conn, session, gen, err)
			return
		}
		c.handler.HandleFrame(data)
	}
}

func (c *Client) connectionLost(conn *websocket.Conn, session string, gen uint64, err error) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.conn != conn {
		// closed by Disconnect
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.session = ""
	c.mu.Unlock()
	conn.Close()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Warnw("Activity stream closed unexpectedly", "session", session, "error", err)
	} else {
		c.log.Infow("Activity stream closed by server", "session", session, "error", err)
	}

	c.handler.OnConnectionChange(false)
	c.scheduleReconnect(gen)
}

// scheduleReconnect must be called with notifyMu held. The attempt is dropped when
// Disconnect has moved the generation on by the time it fires.
func (c *Client) scheduleReconnect(gen uint64) {
	c.scheduler.Schedule(func(ctx context.Context) {
		err := c.connect(ctx, gen)
		if !errors.Is(err, errors.ErrWSDisconnected) {
			metrics.RecordReconnect(err)
		}
	})
}
