package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
)

var (
	ErrNotConnected = errors.New("websocket not connected")
	ErrClosed       = errors.New("websocket client closed")
)

// Handler receives each text or binary frame. The slice is only valid for the
// duration of the call.
type Handler func(data []byte)

type Config struct {
	// URL is read again on every reconnect, so a caller can rotate it.
	URL               func() string
	ReconnectEnabled  bool
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	// PingInterval is how often the client pings; the read deadline is
	// PingInterval + PongWait.
	PingInterval time.Duration
	PongWait     time.Duration
}

// Client is a single-stream websocket connection with automatic reconnect.
type Client struct {
	config  Config
	state   *State
	handler Handler
	logger  zerolog.Logger

	mu                sync.RWMutex
	conn              *gws.Conn
	connected         chan struct{}
	stop              chan struct{}
	wg                sync.WaitGroup
	reconnectAttempts int
}

type eventHandler struct {
	client *Client
}

func NewClient(config Config, handler Handler) *Client {
	if config.ReconnectBaseWait == 0 {
		config.ReconnectBaseWait = 1 * time.Second
	}
	if config.ReconnectMaxWait == 0 {
		config.ReconnectMaxWait = 30 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 3 * time.Minute
	}
	if config.PongWait == 0 {
		config.PongWait = 10 * time.Minute
	}

	c := &Client{
		config:    config,
		state:     &State{},
		handler:   handler,
		logger:    zerolog.Nop(),
		connected: make(chan struct{}),
		stop:      make(chan struct{}),
	}
	c.state.Store(StateDisconnected)
	return c
}

func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

func (c *Client) deadline() time.Time {
	return time.Now().Add(c.config.PingInterval + c.config.PongWait)
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	c := h.client
	c.state.Store(StateConnected)

	c.mu.Lock()
	c.reconnectAttempts = 0
	select {
	case <-c.connected:
	default:
		close(c.connected)
	}
	c.mu.Unlock()

	c.logger.Info().Msg("websocket connected")
	_ = socket.SetDeadline(c.deadline())
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	c := h.client
	if c.state.Load() == StateClosed {
		return
	}
	c.state.Store(StateDisconnected)

	c.mu.Lock()
	c.connected = make(chan struct{})
	c.mu.Unlock()

	c.logger.Warn().Err(err).Msg("websocket disconnected")

	if !c.config.ReconnectEnabled {
		return
	}
	select {
	case <-c.stop:
	default:
		c.wg.Go(c.reconnect)
	}
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(h.client.deadline())
	_ = socket.WritePong(payload)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(h.client.deadline())
}

func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	_ = socket.SetDeadline(h.client.deadline())
	data := message.Bytes()
	if len(data) == 0 || h.client.handler == nil {
		return
	}
	h.client.handler(data)
}

// Connect dials the current URL and blocks until the handshake completes.
func (c *Client) Connect(ctx context.Context) error {
	if !c.state.Transition(StateConnecting, StateDisconnected, StateReconnecting) {
		current := c.state.Load()
		if current == StateConnected {
			return nil
		}
		if current == StateClosed {
			return ErrClosed
		}
		return fmt.Errorf("invalid state for connect: %s", current)
	}

	socket, _, err := gws.NewClient(&eventHandler{client: c}, &gws.ClientOption{
		Addr: c.config.URL(),
	})
	if err != nil {
		c.state.Store(StateDisconnected)
		return fmt.Errorf("connect websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = socket
	connected := c.connected
	c.mu.Unlock()

	c.wg.Go(socket.ReadLoop)

	select {
	case <-connected:
		c.wg.Go(func() { c.pingLoop(socket) })
		return nil
	case <-ctx.Done():
		_ = socket.NetConn().Close()
		c.state.Store(StateDisconnected)
		return ctx.Err()
	case <-c.stop:
		_ = socket.NetConn().Close()
		return ErrClosed
	}
}

func (c *Client) pingLoop(socket *gws.Conn) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.RLock()
			current := c.conn
			c.mu.RUnlock()
			if current != socket {
				return
			}
			if err := socket.WritePing(nil); err != nil {
				c.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case <-c.stop:
			return
		}
	}
}

// Close stops reconnecting and closes the connection. It is idempotent.
func (c *Client) Close() error {
	for {
		current := c.state.Load()
		if current == StateClosed {
			return nil
		}
		if c.state.CompareAndSwap(current, StateClosed) {
			break
		}
	}

	close(c.stop)

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.NetConn().Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Client) State() ConnState {
	return c.state.Load()
}

func (c *Client) IsConnected() bool {
	return c.state.Load() == StateConnected
}

// Reconnect drops the current connection; the read loop's close event then
// dials again when reconnect is enabled.
func (c *Client) Reconnect() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.state.Load() != StateConnected {
		return ErrNotConnected
	}
	return c.conn.NetConn().Close()
}

func (c *Client) reconnect() {
	if !c.state.CompareAndSwap(StateDisconnected, StateReconnecting) {
		return
	}

	for {
		c.mu.Lock()
		attempts := c.reconnectAttempts
		c.reconnectAttempts++
		c.mu.Unlock()

		wait := c.backoff(attempts)
		c.logger.Info().
			Dur("wait", wait).
			Int("attempt", attempts+1).
			Msg("attempting reconnect")

		select {
		case <-time.After(wait):
		case <-c.stop:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info().Msg("reconnected")
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		c.logger.Error().Err(err).Int("attempt", attempts+1).Msg("reconnect failed")
		c.state.CompareAndSwap(StateDisconnected, StateReconnecting)
	}
}

func (c *Client) backoff(attempts int) time.Duration {
	if attempts > 16 {
		return c.config.ReconnectMaxWait
	}
	return min(c.config.ReconnectBaseWait*time.Duration(1<<uint(attempts)), c.config.ReconnectMaxWait)
}
