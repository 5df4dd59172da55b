package order

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"perpgate/pkg/core"
)

// Builder provides a fluent interface for constructing order requests.
// The first parse error is kept and reported by Build.
//
// Example:
//
//	req, err := order.NewBuilder("BTC/USDT").
//	    Buy().
//	    Limit().
//	    Price("50000").
//	    Amount("0.001").
//	    Build()
type Builder struct {
	req *core.CreateOrderRequest
	err error
}

// NewBuilder creates a builder for the given unified symbol.
func NewBuilder(symbol string) *Builder {
	return &Builder{
		req: &core.CreateOrderRequest{
			Symbol: symbol,
			Params: core.Params{},
		},
	}
}

// Side sets the order side.
func (b *Builder) Side(side core.OrderSide) *Builder {
	b.req.Side = side
	return b
}

func (b *Builder) Buy() *Builder {
	return b.Side(core.SideBuy)
}

func (b *Builder) Sell() *Builder {
	return b.Side(core.SideSell)
}

// Type sets the order type.
func (b *Builder) Type(orderType core.OrderType) *Builder {
	b.req.Type = orderType
	return b
}

func (b *Builder) Market() *Builder {
	return b.Type(core.TypeMarket)
}

func (b *Builder) Limit() *Builder {
	return b.Type(core.TypeLimit)
}

// StopMarket sets a STOP_MARKET order triggered at stop.
func (b *Builder) StopMarket(stop string) *Builder {
	return b.Type(core.TypeStopMarket).StopPrice(stop)
}

// TakeProfitMarket sets a TAKE_PROFIT_MARKET order triggered at stop.
func (b *Builder) TakeProfitMarket(stop string) *Builder {
	return b.Type(core.TypeTakeProfitMkt).StopPrice(stop)
}

// Price sets the limit price from a decimal string.
func (b *Builder) Price(price string) *Builder {
	b.req.Price = b.parse("price", price)
	return b
}

// PriceDecimal sets the limit price.
func (b *Builder) PriceDecimal(price *apd.Decimal) *Builder {
	b.req.Price = price
	return b
}

// Amount sets the base quantity from a decimal string.
func (b *Builder) Amount(amount string) *Builder {
	b.req.Amount = b.parse("amount", amount)
	return b
}

// AmountDecimal sets the base quantity.
func (b *Builder) AmountDecimal(amount *apd.Decimal) *Builder {
	b.req.Amount = amount
	return b
}

// StopPrice sets the trigger price. It is sent as given, without rounding.
func (b *Builder) StopPrice(stop string) *Builder {
	if d := b.parse("stop price", stop); d != nil {
		b.req.Params["stopPrice"] = d
	}
	return b
}

// TimeInForce overrides the client's default time in force.
func (b *Builder) TimeInForce(tif string) *Builder {
	b.req.Params["timeInForce"] = tif
	return b
}

func (b *Builder) GTC() *Builder { return b.TimeInForce("GTC") }
func (b *Builder) IOC() *Builder { return b.TimeInForce("IOC") }
func (b *Builder) FOK() *Builder { return b.TimeInForce("FOK") }

// PostOnly sets GTX, which rejects the order instead of taking liquidity.
func (b *Builder) PostOnly() *Builder { return b.TimeInForce("GTX") }

// ClientOrderID sets the client id sent as newClientOrderId.
func (b *Builder) ClientOrderID(id string) *Builder {
	b.req.ClientOrderID = id
	return b
}

// PositionSide sets BOTH, LONG or SHORT for hedge mode accounts.
func (b *Builder) PositionSide(side string) *Builder {
	b.req.PositionSide = side
	return b
}

// ReduceOnly marks the order as reduce-only.
func (b *Builder) ReduceOnly() *Builder {
	reduce := true
	b.req.ReduceOnly = &reduce
	return b
}

// Param sets an exchange-specific parameter passed through unchanged.
func (b *Builder) Param(key string, value any) *Builder {
	b.req.Params[key] = value
	return b
}

func (b *Builder) parse(field, s string) *apd.Decimal {
	if b.err != nil {
		return nil
	}
	d, err := core.ParseDecimal(s)
	if err != nil {
		b.err = fmt.Errorf("parse %s: %w", field, err)
		return nil
	}
	return d
}

// Build validates and returns the request. Checks that depend on market
// metadata are left to the exchange client.
func (b *Builder) Build() (*core.CreateOrderRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := validate(b.req); err != nil {
		return nil, err
	}
	if len(b.req.Params) == 0 {
		b.req.Params = nil
	}
	return b.req, nil
}

func validate(req *core.CreateOrderRequest) error {
	if req.Symbol == "" {
		return errors.New("symbol is required")
	}
	if req.Side != core.SideBuy && req.Side != core.SideSell {
		return fmt.Errorf("invalid order side %q", req.Side)
	}
	if req.Type == "" {
		return errors.New("order type is required")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return errors.New("amount must be positive")
	}
	if req.Price != nil && req.Price.Sign() <= 0 {
		return errors.New("price must be positive")
	}
	return nil
}
