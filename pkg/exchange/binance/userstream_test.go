package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpgate/pkg/core"
)

const orderTradeUpdate = `{"e":"ORDER_TRADE_UPDATE","E":1600000000001,"T":1600000000000,"o":{
	"s":"BTCUSDT","c":"cid-1","S":"BUY","o":"LIMIT","f":"GTC","q":"0.010","p":"30000","ap":"30000",
	"x":"TRADE","X":"FILLED","i":42,"l":"0.010","z":"0.010","L":"30000","T":1600000000000,"t":7,"m":false}}`

// fakeListenKeys hands out keys in order and records every call.
type fakeListenKeys struct {
	mu        sync.Mutex
	keys      []string
	createErr error
	created   int
	kept      []string
	closed    []string
}

func (f *fakeListenKeys) CreateListenKey(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	key := f.keys[min(f.created, len(f.keys)-1)]
	f.created++
	return key, nil
}

func (f *fakeListenKeys) KeepAliveListenKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kept = append(f.kept, key)
	return nil
}

func (f *fakeListenKeys) CloseListenKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, key)
	return nil
}

func (f *fakeListenKeys) snapshot() (created int, kept, closed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, append([]string(nil), f.kept...), append([]string(nil), f.closed...)
}

type streamServer struct {
	gws.BuiltinEventHandler
}

// newStreamServer pushes the events registered for a listen key to every
// connection opened on that key's path.
func newStreamServer(t *testing.T, events map[string][]string) (string, func() []string) {
	t.Helper()

	var (
		mu    sync.Mutex
		paths []string
	)
	upgrader := gws.NewUpgrader(&streamServer{}, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		go func() {
			for _, event := range events[strings.TrimPrefix(r.URL.Path, "/")] {
				_ = socket.WriteString(event)
			}
			socket.ReadLoop()
		}()
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), paths...)
	}
}

func newTestStream(keys listenKeys, base string, onOrder func(*core.Order), opts ...UserStreamOption) *UserStream {
	s := &UserStream{
		keys:       keys,
		normalizer: testNormalizer(),
		onOrder:    onOrder,
		baseURL:    base,
		keepAlive:  time.Hour,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func TestUserStream_DeliversEvents(t *testing.T) {
	base, _ := newStreamServer(t, map[string][]string{
		"lk-1": {orderTradeUpdate, `{"e":"ACCOUNT_UPDATE","E":1600000000002,"a":{"m":"ORDER"}}`},
	})
	keys := &fakeListenKeys{keys: []string{"lk-1"}}

	orders := make(chan *core.Order, 1)
	events := make(chan string, 1)
	stream := newTestStream(keys, base,
		func(o *core.Order) { orders <- o },
		WithEventHandler(func(event string, _ core.Payload) { events <- event }))

	require.NoError(t, stream.Start(context.Background()))
	assert.Equal(t, "lk-1", stream.ListenKey())

	select {
	case order := <-orders:
		assert.Equal(t, "42", order.ID)
		assert.Equal(t, "BTC/USDT", order.Symbol)
		assert.Equal(t, core.StatusClosed, order.Status)
		require.Len(t, order.Trades, 1)
		assertDecimal(t, "300", order.Cost)
	case <-time.After(5 * time.Second):
		t.Fatal("no order update received")
	}

	select {
	case event := <-events:
		assert.Equal(t, "ACCOUNT_UPDATE", event)
	case <-time.After(5 * time.Second):
		t.Fatal("no account update received")
	}

	require.NoError(t, stream.Close(context.Background()))
	_, _, closed := keys.snapshot()
	assert.Equal(t, []string{"lk-1"}, closed)
	assert.Empty(t, stream.ListenKey())

	assert.ErrorIs(t, stream.Close(context.Background()), ErrStreamNotStarted)
}

func TestUserStream_RenewsExpiredKey(t *testing.T) {
	base, paths := newStreamServer(t, map[string][]string{
		"lk-1": {`{"e":"listenKeyExpired","E":1600000000000}`},
	})
	keys := &fakeListenKeys{keys: []string{"lk-1", "lk-2"}}

	stream := newTestStream(keys, base, nil)
	require.NoError(t, stream.Start(context.Background()))
	t.Cleanup(func() { _ = stream.Close(context.Background()) })

	require.Eventually(t, func() bool {
		return stream.ListenKey() == "lk-2"
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		got := paths()
		return len(got) >= 2 && got[len(got)-1] == "/lk-2"
	}, 10*time.Second, 20*time.Millisecond)
}

func TestUserStream_CloseRightAfterStart(t *testing.T) {
	base, _ := newStreamServer(t, nil)

	for i := range 20 {
		keys := &fakeListenKeys{keys: []string{"lk-1"}}
		stream := newTestStream(keys, base, nil)
		require.NoError(t, stream.Start(context.Background()), "attempt %d", i)

		done := make(chan error, 1)
		go func() { done <- stream.Close(context.Background()) }()

		select {
		case err := <-done:
			require.NoError(t, err, "attempt %d", i)
		case <-time.After(3 * time.Second):
			t.Fatalf("close did not return on attempt %d", i)
		}
	}
}

func TestUserStream_NoRenewalAfterClose(t *testing.T) {
	base, _ := newStreamServer(t, nil)
	keys := &fakeListenKeys{keys: []string{"lk-1", "lk-2"}}

	stream := newTestStream(keys, base, nil)
	require.NoError(t, stream.Start(context.Background()))
	require.NoError(t, stream.Close(context.Background()))

	stream.handle([]byte(`{"e":"listenKeyExpired","E":1600000000000}`))
	created, _, closed := keys.snapshot()
	assert.Equal(t, 1, created)
	assert.Equal(t, []string{"lk-1"}, closed)

	// A renewal already in flight when the stream closed releases its key.
	stream.renew()
	created, _, closed = keys.snapshot()
	assert.Equal(t, 2, created)
	assert.Equal(t, []string{"lk-1", "lk-2"}, closed)
}

func TestUserStream_KeepAlive(t *testing.T) {
	base, _ := newStreamServer(t, nil)
	keys := &fakeListenKeys{keys: []string{"lk-1"}}

	stream := newTestStream(keys, base, nil, WithKeepAlive(20*time.Millisecond))
	require.NoError(t, stream.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, kept, _ := keys.snapshot()
		return len(kept) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, stream.Close(context.Background()))
	_, kept, _ := keys.snapshot()
	for _, key := range kept {
		assert.Equal(t, "lk-1", key)
	}
}

func TestUserStream_StartErrors(t *testing.T) {
	t.Run("create_listen_key", func(t *testing.T) {
		keys := &fakeListenKeys{createErr: errors.New("unauthorized")}
		stream := newTestStream(keys, "ws://127.0.0.1:1", nil)

		err := stream.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create listen key")
	})

	t.Run("connect", func(t *testing.T) {
		keys := &fakeListenKeys{keys: []string{"lk-1"}}
		stream := newTestStream(keys, "ws://127.0.0.1:1", nil)

		err := stream.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connect user stream")
		assert.Empty(t, stream.ListenKey())
		assert.ErrorIs(t, stream.Close(context.Background()), ErrStreamNotStarted)
	})
}

func TestExchange_NewUserStream(t *testing.T) {
	ex, _ := newTestExchange(t, nil)

	stream := ex.NewUserStream(nil, WithStreamURL("ws://localhost/ws"), WithKeepAlive(time.Minute))
	assert.Equal(t, "ws://localhost/ws", stream.baseURL)
	assert.Equal(t, time.Minute, stream.keepAlive)
	assert.Same(t, ex.normalizer, stream.normalizer)

	assert.Equal(t, "wss://fstream.binance.com/ws", ex.NewUserStream(nil).baseURL)
}
