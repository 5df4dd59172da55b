package binance

import (
	"maps"
	"strings"

	"perpgate/pkg/core"
)

// orderRule lists the fields an order type cannot be placed without.
type orderRule struct {
	Price       bool
	TimeInForce bool
	StopPrice   bool
}

// orderRules is keyed by the uppercased wire type. Types not listed have no
// required fields beyond quantity.
var orderRules = map[string]orderRule{
	"LIMIT":             {Price: true, TimeInForce: true},
	"MARKET":            {},
	"STOP_LOSS":         {Price: true, StopPrice: true},
	"TAKE_PROFIT":       {Price: true, StopPrice: true},
	"STOP_LOSS_LIMIT":   {Price: true, TimeInForce: true, StopPrice: true},
	"TAKE_PROFIT_LIMIT": {Price: true, TimeInForce: true, StopPrice: true},
	"LIMIT_MAKER":       {Price: true},
	"STOP":              {Price: true, StopPrice: true},
}

// OrderRequestBuilder converts canonical create-order input into the
// parameters of POST fapi/v1/order.
type OrderRequestBuilder struct {
	ids                *ClientOrderIDGenerator
	defaultTimeInForce string
	clientOrderPrefix  string
}

func NewOrderRequestBuilder(ids *ClientOrderIDGenerator, defaultTimeInForce, clientOrderPrefix string) *OrderRequestBuilder {
	return &OrderRequestBuilder{
		ids:                ids,
		defaultTimeInForce: defaultTimeInForce,
		clientOrderPrefix:  clientOrderPrefix,
	}
}

// Build validates req against the order type matrix and returns the wire
// parameters for market, which the caller has already resolved from
// req.Symbol. Nothing is sent on failure.
func (b *OrderRequestBuilder) Build(req *core.CreateOrderRequest, market *core.Market) (core.Params, error) {
	if req.Symbol == "" {
		return nil, core.NewValidationError(exchangeName, core.ErrorTypeArgumentsRequired,
			"createOrder requires a symbol argument").WithCode(core.ErrCodeMissingArgument)
	}
	if market == nil {
		return nil, core.NewValidationError(exchangeName, core.ErrorTypeBadRequest,
			"unknown market %s", req.Symbol).WithCode(core.ErrCodeUnknownMarket)
	}

	extra := req.Params.Clone()
	amount := market.AmountToPrecision(req.Amount)
	price := market.PriceToPrecision(req.Price)
	wireType := req.Type.Wire()

	clientOrderID, err := b.ids.Generate(req.ClientOrderID, b.clientOrderPrefix)
	if err != nil {
		return nil, err
	}

	params := core.Params{
		"symbol":           market.ID,
		"type":             wireType,
		"side":             req.Side.Wire(),
		"newClientOrderId": clientOrderID,
	}

	if wireType == "MARKET" {
		if qty := extra.TakeDecimal("quoteOrderQty"); qty != nil {
			params["quoteOrderQty"] = qty
		}
	}
	if _, ok := params["quoteOrderQty"]; !ok {
		if amount == nil {
			return nil, core.NewValidationError(exchangeName, core.ErrorTypeInvalidOrder,
				"createOrder requires an amount for a %s order", wireType).WithCode(core.ErrCodeMissingAmount)
		}
		params["quantity"] = amount
	}

	rule := orderRules[wireType]
	if rule.Price {
		if price == nil {
			return nil, core.NewValidationError(exchangeName, core.ErrorTypeInvalidOrder,
				"createOrder requires a price argument for a %s order", wireType).WithCode(core.ErrCodeMissingPrice)
		}
		params["price"] = price
	}
	if rule.TimeInForce {
		params["timeInForce"] = b.defaultTimeInForce
	}
	if rule.StopPrice {
		stop := extra.TakeDecimal("stopPrice")
		if stop == nil {
			return nil, core.NewValidationError(exchangeName, core.ErrorTypeInvalidOrder,
				"createOrder requires a stopPrice extra param for a %s order", wireType).WithCode(core.ErrCodeMissingStop)
		}
		params["stopPrice"] = stop
	}

	if req.PositionSide != "" {
		params["positionSide"] = strings.ToUpper(req.PositionSide)
	}
	if req.ReduceOnly != nil {
		params["reduceOnly"] = *req.ReduceOnly
	}

	maps.Copy(params, extra)
	return params, nil
}
