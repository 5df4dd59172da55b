package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"perpgate/pkg/core"
	"perpgate/pkg/exchange"
)

var ErrOrderNotFound = errors.New("order not tracked")

// ManagerConfig holds configuration options for the order manager.
type ManagerConfig struct {
	// MaxOrders caps the number of tracked orders. Terminal orders are evicted
	// oldest first once the cap is reached. Defaults to 10000.
	MaxOrders int `json:"max_orders"`
	// SubscriberBuffer is the channel size handed to each subscriber.
	SubscriberBuffer int `json:"subscriber_buffer"`
}

// Manager tracks orders placed through a Swap client and keeps them current
// from REST results and user stream updates.
type Manager struct {
	exchange exchange.Swap
	config   ManagerConfig
	logger   zerolog.Logger

	mu       sync.RWMutex
	orders   map[string]*core.Order
	byClient map[string]string
	sequence []string

	subscribersMu sync.RWMutex
	subscribers   []chan *core.Order
}

// NewManager creates a manager over ex.
func NewManager(ex exchange.Swap, config ManagerConfig) *Manager {
	if config.MaxOrders <= 0 {
		config.MaxOrders = 10000
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = 100
	}

	return &Manager{
		exchange: ex,
		config:   config,
		logger:   zerolog.Nop(),
		orders:   make(map[string]*core.Order),
		byClient: make(map[string]string),
	}
}

func (m *Manager) SetLogger(logger zerolog.Logger) {
	m.logger = logger
}

// Place submits req and starts tracking the resulting order.
func (m *Manager) Place(ctx context.Context, req *core.CreateOrderRequest) (*core.Order, error) {
	if req == nil {
		return nil, errors.New("order request is required")
	}

	placed, err := m.exchange.CreateOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	return m.Apply(placed), nil
}

// Cancel requests cancellation of a tracked order. The order is marked
// canceling until the exchange reports its final state.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	tracked, ok := m.Order(id)
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, ErrOrderNotFound)
	}
	if tracked.Status.IsTerminal() {
		return fmt.Errorf("cannot cancel order in terminal state: %s", tracked.Status)
	}

	if _, err := m.exchange.CancelOrder(ctx, id, tracked.Symbol); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}

	m.mu.Lock()
	current := m.orders[id]
	changed := current != nil && isValidTransition(current.Status, core.StatusCanceling)
	var out core.Order
	if changed {
		current.Status = core.StatusCanceling
		out = *current
	}
	m.mu.Unlock()

	if changed {
		m.notify(&out)
	}
	return nil
}

// CancelAll cancels every open tracked order, optionally for one symbol.
// Failures are logged and joined into the returned error.
func (m *Manager) CancelAll(ctx context.Context, symbol string) error {
	var errs []error
	for _, o := range m.Orders(Filter{Symbol: symbol}) {
		if o.Status.IsTerminal() || o.Status == core.StatusCanceling {
			continue
		}
		if err := m.Cancel(ctx, o.ID); err != nil {
			m.logger.Warn().Err(err).Str("order_id", o.ID).Msg("failed to cancel order")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sync fetches the order from the exchange and applies it.
func (m *Manager) Sync(ctx context.Context, id string) (*core.Order, error) {
	tracked, ok := m.Order(id)
	if !ok {
		return nil, fmt.Errorf("sync %s: %w", id, ErrOrderNotFound)
	}

	fetched, err := m.exchange.FetchOrder(ctx, id, tracked.Symbol)
	if err != nil {
		return nil, fmt.Errorf("sync order: %w", err)
	}
	return m.Apply(fetched), nil
}

// Apply merges an order snapshot, typically from a user stream update, into
// the tracked state and returns the tracked copy. Updates that would move a
// terminal order back to a live state are ignored.
func (m *Manager) Apply(update *core.Order) *core.Order {
	if update == nil || update.ID == "" {
		return update
	}

	m.mu.Lock()
	current, ok := m.orders[update.ID]
	if ok && !isValidTransition(current.Status, update.Status) {
		stale := *current
		m.mu.Unlock()
		m.logger.Debug().
			Str("order_id", update.ID).
			Str("from", string(stale.Status)).
			Str("to", string(update.Status)).
			Msg("ignored stale order update")
		return &stale
	}

	merged := merge(current, update)
	m.orders[merged.ID] = merged
	if merged.ClientOrderID != "" {
		m.byClient[merged.ClientOrderID] = merged.ID
	}
	if !ok {
		m.sequence = append(m.sequence, merged.ID)
		m.evictLocked()
	}
	out := *merged
	m.mu.Unlock()

	m.notify(&out)
	return &out
}

// merge overlays the fields update reports on a copy of current.
func merge(current, update *core.Order) *core.Order {
	if current == nil {
		c := *update
		return &c
	}
	merged := *current
	if update.Status != "" {
		merged.Status = update.Status
	}
	if update.ClientOrderID != "" {
		merged.ClientOrderID = update.ClientOrderID
	}
	if update.Price != nil {
		merged.Price = update.Price
	}
	if update.Amount != nil {
		merged.Amount = update.Amount
	}
	if update.Filled != nil {
		merged.Filled = update.Filled
	}
	if update.Remaining != nil {
		merged.Remaining = update.Remaining
	}
	if update.Cost != nil {
		merged.Cost = update.Cost
	}
	if update.Average != nil {
		merged.Average = update.Average
	}
	if update.Fee != nil {
		merged.Fee = update.Fee
	}
	if !update.LastTradeTimestamp.IsZero() {
		merged.LastTradeTimestamp = update.LastTradeTimestamp
	}
	merged.Trades = append(slices.Clone(current.Trades), update.Trades...)
	merged.Info = update.Info
	return &merged
}

func (m *Manager) evictLocked() {
	for len(m.orders) > m.config.MaxOrders {
		idx := slices.IndexFunc(m.sequence, func(id string) bool {
			return m.orders[id].Status.IsTerminal()
		})
		if idx < 0 {
			return
		}
		id := m.sequence[idx]
		m.sequence = slices.Delete(m.sequence, idx, idx+1)
		if cid := m.orders[id].ClientOrderID; cid != "" {
			delete(m.byClient, cid)
		}
		delete(m.orders, id)
	}
}

// Order returns a copy of the tracked order with the exchange id.
func (m *Manager) Order(id string) (*core.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	c := *o
	return &c, true
}

// OrderByClientID looks an order up by its client order id.
func (m *Manager) OrderByClientID(clientOrderID string) (*core.Order, bool) {
	m.mu.RLock()
	id, ok := m.byClient[clientOrderID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return m.Order(id)
}

// Orders returns the tracked orders matching filter in placement order.
func (m *Manager) Orders(filter Filter) []*core.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*core.Order
	for _, id := range m.sequence {
		o := m.orders[id]
		if filter.Matches(o) {
			c := *o
			out = append(out, &c)
		}
	}
	return out
}

// OpenOrders returns every tracked order that is not terminal.
func (m *Manager) OpenOrders() []*core.Order {
	return slices.DeleteFunc(m.Orders(Filter{}), func(o *core.Order) bool {
		return o.Status.IsTerminal()
	})
}

// Subscribe returns a channel receiving every tracked order change. The
// channel is closed when ctx is done. Updates are dropped for a full channel.
func (m *Manager) Subscribe(ctx context.Context) <-chan *core.Order {
	ch := make(chan *core.Order, m.config.SubscriberBuffer)

	m.subscribersMu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.subscribersMu.Unlock()

	go func() {
		<-ctx.Done()
		m.unsubscribe(ch)
	}()
	return ch
}

func (m *Manager) unsubscribe(ch chan *core.Order) {
	m.subscribersMu.Lock()
	defer m.subscribersMu.Unlock()

	if i := slices.Index(m.subscribers, ch); i >= 0 {
		m.subscribers = slices.Delete(m.subscribers, i, i+1)
		close(ch)
	}
}

func (m *Manager) notify(o *core.Order) {
	m.subscribersMu.RLock()
	defer m.subscribersMu.RUnlock()

	for _, ch := range m.subscribers {
		c := *o
		select {
		case ch <- &c:
		default:
			m.logger.Warn().Str("order_id", o.ID).Msg("order subscriber channel full, update dropped")
		}
	}
}

// Filter selects tracked orders. Zero fields match everything.
type Filter struct {
	Symbol string           `json:"symbol,omitempty"`
	Side   core.OrderSide   `json:"side,omitempty"`
	Status core.OrderStatus `json:"status,omitempty"`
	Type   core.OrderType   `json:"type,omitempty"`
}

// Matches returns true if the order satisfies all non-zero filter criteria.
func (f Filter) Matches(o *core.Order) bool {
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Type != "" && o.Type != f.Type {
		return false
	}
	return true
}

// isValidTransition rejects any move out of a terminal state. An open order
// may also be reported after a cancel request when the cancel lost a race
// with a fill.
func isValidTransition(from, to core.OrderStatus) bool {
	if from == to || to == "" {
		return true
	}
	return !from.IsTerminal()
}
