package exchange

import (
	"context"
	"time"

	"github.com/cockroachdb/apd/v3"

	"perpgate/pkg/core"
)

// Swap is a perpetual futures venue. Symbols are unified ("BTC/USDT"); every
// call that needs market metadata loads it on first use.
type Swap interface {
	Name() string

	LoadMarkets(ctx context.Context, reload bool) ([]*core.Market, error)
	FetchMarkets(ctx context.Context) ([]*core.Market, error)
	FetchTime(ctx context.Context) (time.Time, error)
	FetchOrderBook(ctx context.Context, symbol string, opts ...Option) (*core.OrderBook, error)

	FetchBalance(ctx context.Context, opts ...Option) (*core.Account, error)
	FetchPositions(ctx context.Context, symbol string, opts ...Option) ([]*core.Position, error)
	FetchFundingRecords(ctx context.Context, symbol string, opts ...Option) ([]*core.FundingRecord, error)
	FetchTradingFeeRates(ctx context.Context, opts ...Option) ([]core.FeeRate, error)

	CreateOrder(ctx context.Context, req *core.CreateOrderRequest) (*core.Order, error)
	CancelOrder(ctx context.Context, id, symbol string, opts ...Option) (*core.ActionResult, error)
	FetchOrder(ctx context.Context, id, symbol string, opts ...Option) (*core.Order, error)
	FetchOrders(ctx context.Context, symbol string, opts ...Option) ([]*core.Order, error)
	FetchOpenOrders(ctx context.Context, symbol string, opts ...Option) ([]*core.Order, error)
	FetchClosedOrders(ctx context.Context, symbol string, opts ...Option) ([]*core.Order, error)
	FetchMyTrades(ctx context.Context, symbol string, opts ...Option) ([]*core.Trade, error)

	ChangeLeverage(ctx context.Context, symbol string, leverage int, opts ...Option) (*core.ActionResult, error)
	ChangeMarginType(ctx context.Context, symbol, marginType string, opts ...Option) (*core.ActionResult, error)
	ChangeIsolatedMargin(ctx context.Context, symbol, direction string, amount *apd.Decimal, opts ...Option) (*core.ActionResult, error)
	ChangePositionSide(ctx context.Context, mode core.PositionMode, opts ...Option) (*core.ActionResult, error)
	FetchPositionSide(ctx context.Context, opts ...Option) (core.PositionMode, error)

	Close() error
}
