package core

import (
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// OrderSide represents the direction of an order or fill.
type OrderSide string

// Order side constants.
const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Wire returns the exchange representation ("BUY" or "SELL").
func (s OrderSide) Wire() string {
	return strings.ToUpper(string(s))
}

// OrderType is the canonical, lower-case order type. Unknown exchange types
// are carried through unchanged.
type OrderType string

// Order type constants.
const (
	TypeMarket          OrderType = "market"
	TypeLimit           OrderType = "limit"
	TypeLimitMaker      OrderType = "limit_maker"
	TypeStop            OrderType = "stop"
	TypeStopMarket      OrderType = "stop_market"
	TypeStopLoss        OrderType = "stop_loss"
	TypeStopLossLimit   OrderType = "stop_loss_limit"
	TypeTakeProfit      OrderType = "take_profit"
	TypeTakeProfitLimit OrderType = "take_profit_limit"
	TypeTakeProfitMkt   OrderType = "take_profit_market"
)

// Wire returns the exchange representation of the type, e.g. "STOP_LOSS_LIMIT".
func (t OrderType) Wire() string {
	return strings.ToUpper(string(t))
}

// OrderStatus is the canonical order lifecycle state.
type OrderStatus string

// Order status constants.
const (
	StatusOpen      OrderStatus = "open"
	StatusClosed    OrderStatus = "closed"
	StatusCanceled  OrderStatus = "canceled"
	StatusCanceling OrderStatus = "canceling"
	StatusRejected  OrderStatus = "rejected"
)

// IsTerminal returns true if the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusCanceled || s == StatusRejected
}

// TakerOrMaker tags the liquidity role of a fill.
type TakerOrMaker string

const (
	Taker TakerOrMaker = "taker"
	Maker TakerOrMaker = "maker"
)

// PositionMode is the account-wide position accounting mode.
type PositionMode string

const (
	// PositionModeSingle is one-way mode: one net position per symbol.
	PositionModeSingle PositionMode = "single"
	// PositionModeDual is hedge mode: separate long and short positions.
	PositionModeDual PositionMode = "dual"
)

// Fee is a charged commission.
type Fee struct {
	Cost     *apd.Decimal `json:"cost"`
	Currency string       `json:"currency"`
}

// Order is a normalized order. Decimal fields are nil when the exchange did
// not report them.
type Order struct {
	ID                 string       `json:"id"`
	ClientOrderID      string       `json:"client_order_id"`
	Symbol             string       `json:"symbol"`
	Type               OrderType    `json:"type"`
	Side               OrderSide    `json:"side"`
	Status             OrderStatus  `json:"status"`
	TimeInForce        string       `json:"time_in_force,omitempty"`
	Price              *apd.Decimal `json:"price"`
	StopPrice          *apd.Decimal `json:"stop_price,omitempty"`
	Amount             *apd.Decimal `json:"amount"`
	Filled             *apd.Decimal `json:"filled"`
	Remaining          *apd.Decimal `json:"remaining"`
	Cost               *apd.Decimal `json:"cost"`
	Average            *apd.Decimal `json:"average"`
	Fee                *Fee         `json:"fee,omitempty"`
	Trades             []Trade      `json:"trades,omitempty"`
	PositionSide       string       `json:"position_side,omitempty"`
	ReduceOnly         bool         `json:"reduce_only,omitempty"`
	RealizedPnl        *apd.Decimal `json:"realized_pnl,omitempty"`
	Timestamp          time.Time    `json:"timestamp"`
	LastTradeTimestamp time.Time    `json:"last_trade_timestamp"`
	Extra              Params       `json:"extra,omitempty"`
	Info               Payload      `json:"info"`
}

// Trade is a normalized fill.
type Trade struct {
	ID           string       `json:"id"`
	Order        string       `json:"order"`
	Symbol       string       `json:"symbol"`
	Type         OrderType    `json:"type,omitempty"`
	Side         OrderSide    `json:"side"`
	Price        *apd.Decimal `json:"price"`
	Amount       *apd.Decimal `json:"amount"`
	Cost         *apd.Decimal `json:"cost"`
	Fee          *Fee         `json:"fee,omitempty"`
	TakerOrMaker TakerOrMaker `json:"taker_or_maker,omitempty"`
	PositionSide string       `json:"position_side,omitempty"`
	RealizedPnl  *apd.Decimal `json:"realized_pnl,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	Extra        Params       `json:"extra,omitempty"`
	Info         Payload      `json:"info"`
}

// Position is a normalized derivatives position.
type Position struct {
	Symbol           string       `json:"symbol"`
	Position         *apd.Decimal `json:"position"`
	OpenPrice        *apd.Decimal `json:"open_price"`
	MarkPrice        *apd.Decimal `json:"mark_price"`
	UnrealizedProfit *apd.Decimal `json:"unrealized_profit"`
	LiquidatePrice   *apd.Decimal `json:"liquidate_price"`
	Leverage         int64        `json:"leverage"`
	MarginType       string       `json:"margin_type"`
	// InitMargin is isolated margin minus unrealized profit, truncated to 8 places.
	InitMargin   *apd.Decimal `json:"init_margin"`
	PositionSide string       `json:"position_side"`
	Extra        Params       `json:"extra,omitempty"`
	Info         Payload      `json:"info"`
}

// Balance is the per-currency balance.
type Balance struct {
	Asset string       `json:"asset"`
	Free  *apd.Decimal `json:"free"`
	Used  *apd.Decimal `json:"used"`
	Total *apd.Decimal `json:"total"`
}

// Account is the futures account snapshot.
type Account struct {
	Balances                    map[string]Balance `json:"balances"`
	FeeTier                     int64              `json:"fee_tier"`
	TotalInitialMargin          *apd.Decimal       `json:"total_initial_margin"`
	TotalMaintMargin            *apd.Decimal       `json:"total_maint_margin"`
	TotalWalletBalance          *apd.Decimal       `json:"total_wallet_balance"`
	TotalUnrealizedProfit       *apd.Decimal       `json:"total_unrealized_profit"`
	TotalMarginBalance          *apd.Decimal       `json:"total_margin_balance"`
	TotalPositionInitialMargin  *apd.Decimal       `json:"total_position_initial_margin"`
	TotalOpenOrderInitialMargin *apd.Decimal       `json:"total_open_order_initial_margin"`
	MaxWithdrawAmount           *apd.Decimal       `json:"max_withdraw_amount"`
	Info                        Payload            `json:"info"`
}

// Free returns free amounts keyed by currency.
func (a *Account) Free() map[string]*apd.Decimal {
	return a.view(func(b Balance) *apd.Decimal { return b.Free })
}

// Used returns used amounts keyed by currency.
func (a *Account) Used() map[string]*apd.Decimal {
	return a.view(func(b Balance) *apd.Decimal { return b.Used })
}

// Total returns total amounts keyed by currency.
func (a *Account) Total() map[string]*apd.Decimal {
	return a.view(func(b Balance) *apd.Decimal { return b.Total })
}

func (a *Account) view(pick func(Balance) *apd.Decimal) map[string]*apd.Decimal {
	out := make(map[string]*apd.Decimal, len(a.Balances))
	for asset, b := range a.Balances {
		out[asset] = pick(b)
	}
	return out
}

// FundingRecord is a funding fee payment or charge.
type FundingRecord struct {
	ID            string       `json:"id"`
	Symbol        string       `json:"symbol"`
	Asset         string       `json:"asset"`
	FundingFee    *apd.Decimal `json:"funding_fee"`
	Position      *apd.Decimal `json:"position"`
	PositionValue *apd.Decimal `json:"position_value"`
	FundingRate   *apd.Decimal `json:"funding_rate"`
	Timestamp     time.Time    `json:"timestamp"`
	Extra         Params       `json:"extra,omitempty"`
	Info          Payload      `json:"info"`
}

// FeeRate is the maker/taker commission for a symbol.
type FeeRate struct {
	Symbol string       `json:"symbol"`
	Maker  *apd.Decimal `json:"maker"`
	Taker  *apd.Decimal `json:"taker"`
}

// PriceLevel represents a single price level in an order book.
type PriceLevel struct {
	Price    *apd.Decimal `json:"price"`
	Quantity *apd.Decimal `json:"quantity"`
}

// OrderBook is a depth snapshot. Bids are sorted descending, asks ascending.
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Nonce     int64        `json:"nonce"`
	Timestamp time.Time    `json:"timestamp"`
	Info      Payload      `json:"info"`
}

// BestBid returns the best bid, or nil if the book has no bids.
func (ob *OrderBook) BestBid() *PriceLevel {
	if len(ob.Bids) == 0 {
		return nil
	}
	return &ob.Bids[0]
}

// BestAsk returns the best ask, or nil if the book has no asks.
func (ob *OrderBook) BestAsk() *PriceLevel {
	if len(ob.Asks) == 0 {
		return nil
	}
	return &ob.Asks[0]
}

// ActionResult wraps the raw response of calls with no canonical shape
// (cancel, leverage, margin changes).
type ActionResult struct {
	Info Payload `json:"info"`
}
