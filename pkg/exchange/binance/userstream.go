package binance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perpgate/internal/ws"
	"perpgate/pkg/core"
)

const (
	eventOrderTradeUpdate = "ORDER_TRADE_UPDATE"
	eventListenKeyExpired = "listenKeyExpired"

	defaultKeepAlive = 30 * time.Minute
)

var ErrStreamNotStarted = errors.New("user stream not started")

// listenKeys is the part of the REST client the stream needs.
type listenKeys interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

// UserStream follows the account's user data stream. Order updates are
// normalized with the client's Normalizer; every other event is passed raw to
// the event handler.
type UserStream struct {
	keys       listenKeys
	normalizer *Normalizer
	onOrder    func(*core.Order)
	onEvent    func(event string, payload core.Payload)
	observe    func(event string)
	baseURL    string
	keepAlive  time.Duration
	logger     zerolog.Logger

	mu        sync.RWMutex
	listenKey string
	conn      *ws.Client
	stop      chan struct{}
	renewals  chan struct{}
	wg        sync.WaitGroup
}

type UserStreamOption func(*UserStream)

// WithStreamURL overrides the websocket base URL.
func WithStreamURL(base string) UserStreamOption {
	return func(s *UserStream) {
		s.baseURL = base
	}
}

// WithKeepAlive sets the listen key refresh interval.
func WithKeepAlive(interval time.Duration) UserStreamOption {
	return func(s *UserStream) {
		s.keepAlive = interval
	}
}

// WithEventHandler receives every event that is not an order update.
func WithEventHandler(fn func(event string, payload core.Payload)) UserStreamOption {
	return func(s *UserStream) {
		s.onEvent = fn
	}
}

// NewUserStream creates a stream bound to this client's credentials.
func (e *Exchange) NewUserStream(onOrder func(*core.Order), opts ...UserStreamOption) *UserStream {
	s := &UserStream{
		keys:       e,
		normalizer: e.normalizer,
		onOrder:    onOrder,
		observe:    func(event string) { e.metrics.ObserveStreamEvent(exchangeName, event) },
		baseURL:    userStreamURL(e.config.Sandbox),
		keepAlive:  defaultKeepAlive,
		logger:     e.logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a listen key, connects and begins the keep-alive loop.
func (s *UserStream) Start(ctx context.Context) error {
	key, err := s.keys.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}

	conn := ws.NewClient(ws.Config{
		URL:              s.streamURL,
		ReconnectEnabled: true,
	}, s.handle)
	conn.SetLogger(s.logger)

	stop := make(chan struct{})
	renewals := make(chan struct{}, 1)

	s.mu.Lock()
	s.listenKey = key
	s.conn = conn
	s.stop = stop
	s.renewals = renewals
	s.mu.Unlock()

	if err := conn.Connect(ctx); err != nil {
		s.mu.Lock()
		s.conn, s.listenKey, s.stop, s.renewals = nil, "", nil, nil
		s.mu.Unlock()
		return fmt.Errorf("connect user stream: %w", err)
	}

	s.wg.Go(func() { s.keepAliveLoop(stop, renewals) })
	s.logger.Info().Msg("user stream started")
	return nil
}

// Close stops the stream and deletes the listen key.
func (s *UserStream) Close(ctx context.Context) error {
	s.mu.Lock()
	conn, key, stop := s.conn, s.listenKey, s.stop
	s.conn, s.listenKey, s.stop, s.renewals = nil, "", nil, nil
	s.mu.Unlock()

	if conn == nil {
		return ErrStreamNotStarted
	}
	close(stop)
	s.wg.Wait()

	err := conn.Close()
	if closeErr := s.keys.CloseListenKey(ctx, key); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close listen key: %w", closeErr))
	}
	s.logger.Info().Msg("user stream closed")
	return err
}

// ListenKey returns the key currently in use.
func (s *UserStream) ListenKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenKey
}

func (s *UserStream) streamURL() string {
	return s.baseURL + "/" + s.ListenKey()
}

// keepAliveLoop refreshes the listen key and runs renewals requested by
// the event handler.
func (s *UserStream) keepAliveLoop(stop, renewals <-chan struct{}) {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := s.keys.KeepAliveListenKey(ctx, s.ListenKey())
			cancel()
			if err != nil {
				s.logger.Warn().Err(err).Msg("listen key keep-alive failed")
				s.renew()
			}
		case <-renewals:
			s.renew()
		case <-stop:
			return
		}
	}
}

// renew replaces an expired listen key and reconnects to it.
func (s *UserStream) renew() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := s.keys.CreateListenKey(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("renew listen key")
		return
	}

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		if err := s.keys.CloseListenKey(ctx, key); err != nil {
			s.logger.Debug().Err(err).Msg("close renewed listen key")
		}
		return
	}
	changed := key != s.listenKey
	s.listenKey = key
	s.mu.Unlock()

	if changed {
		if err := conn.Reconnect(); err != nil {
			s.logger.Debug().Err(err).Msg("reconnect user stream")
		}
	}
}

// requestRenewal asks the keep-alive loop for a new key. Requests made while
// one is pending are merged.
func (s *UserStream) requestRenewal() {
	s.mu.RLock()
	renewals := s.renewals
	s.mu.RUnlock()
	if renewals == nil {
		return
	}
	select {
	case renewals <- struct{}{}:
	default:
	}
}

func (s *UserStream) handle(data []byte) {
	var v map[string]any
	if err := wireJSON.Unmarshal(data, &v); err != nil {
		s.logger.Warn().Err(err).Msg("decode user stream event")
		return
	}
	payload := core.Payload(v)
	event := payload.String("e")
	if s.observe != nil {
		s.observe(event)
	}

	switch event {
	case eventOrderTradeUpdate:
		if s.onOrder != nil {
			s.onOrder(s.normalizer.ParseOrderUpdate(payload.Map("o")))
		}
		return
	case eventListenKeyExpired:
		s.logger.Info().Msg("listen key expired")
		s.requestRenewal()
	}

	if s.onEvent != nil {
		s.onEvent(event, payload)
	}
}
