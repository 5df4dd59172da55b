package binance

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpgate/pkg/core"
)

func testMarkets() *core.MarketIndex {
	return core.NewMarketIndex([]*core.Market{
		{
			ID:        "BTCUSDT",
			Symbol:    "BTC/USDT",
			Base:      "BTC",
			Quote:     "USDT",
			BaseID:    "BTC",
			QuoteID:   "USDT",
			Active:    true,
			Precision: core.Precision{Amount: 3, Price: 2},
		},
		{
			ID:        "ETHUSDT",
			Symbol:    "ETH/USDT",
			Base:      "ETH",
			Quote:     "USDT",
			Active:    true,
			Precision: core.Precision{Amount: 3, Price: 2},
		},
	})
}

func testBuilder() *OrderRequestBuilder {
	ids := &ClientOrderIDGenerator{newUUID: func() (uuid.UUID, error) {
		return uuid.FromStringOrNil("00000000-0000-0000-ffff-ffffffffffff"), nil
	}}
	return NewOrderRequestBuilder(ids, "GTC", "x-")
}

// buildOrder resolves the request's market from testMarkets and builds it.
func buildOrder(req *core.CreateOrderRequest) (core.Params, error) {
	market, _ := testMarkets().Market(req.Symbol)
	return testBuilder().Build(req, market)
}

func TestOrderRequestBuilder_Matrix(t *testing.T) {
	stop := core.Params{"stopPrice": "8900"}

	tests := []struct {
		name      string
		orderType core.OrderType
		price     string
		params    core.Params
		wantPrice bool
		wantTIF   bool
		wantStop  bool
		errCode   core.ErrorCode
	}{
		{"limit", core.TypeLimit, "9000", nil, true, true, false, ""},
		{"limit_missing_price", core.TypeLimit, "", nil, false, false, false, core.ErrCodeMissingPrice},
		{"market", core.TypeMarket, "", nil, false, false, false, ""},
		{"stop_loss", core.TypeStopLoss, "9000", stop, true, false, true, ""},
		{"stop_loss_missing_stop", core.TypeStopLoss, "9000", nil, false, false, false, core.ErrCodeMissingStop},
		{"take_profit", core.TypeTakeProfit, "9000", stop, true, false, true, ""},
		{"stop_loss_limit", core.TypeStopLossLimit, "9000", stop, true, true, true, ""},
		{"stop_loss_limit_missing_price", core.TypeStopLossLimit, "", stop, false, false, false, core.ErrCodeMissingPrice},
		{"take_profit_limit", core.TypeTakeProfitLimit, "9000", stop, true, true, true, ""},
		{"limit_maker", core.TypeLimitMaker, "9000", nil, true, false, false, ""},
		{"limit_maker_missing_price", core.TypeLimitMaker, "", nil, false, false, false, core.ErrCodeMissingPrice},
		{"stop", core.TypeStop, "9000", stop, true, false, true, ""},
		{"stop_missing_stop", core.TypeStop, "9000", core.Params{"stopPrice": "junk"}, false, false, false, core.ErrCodeMissingStop},
		{"unlisted_type", core.TypeStopMarket, "", stop, false, false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &core.CreateOrderRequest{
				Symbol: "BTC/USDT",
				Type:   tt.orderType,
				Side:   core.SideBuy,
				Amount: core.MustDecimal("0.01"),
				Params: tt.params.Clone(),
			}
			if tt.price != "" {
				req.Price = core.MustDecimal(tt.price)
			}

			params, err := buildOrder(req)
			if tt.errCode != "" {
				require.Error(t, err)
				assert.True(t, core.IsInvalidOrderError(err))
				assert.True(t, core.IsErrorCode(err, tt.errCode))
				assert.Contains(t, err.Error(), tt.orderType.Wire())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "BTCUSDT", params["symbol"])
			assert.Equal(t, tt.orderType.Wire(), params["type"])
			assert.Equal(t, tt.wantPrice, params["price"] != nil, "price")
			assert.Equal(t, tt.wantTIF, params["timeInForce"] != nil, "timeInForce")
			if tt.wantStop {
				assert.Equal(t, "8900", core.FormatDecimal(params["stopPrice"].(*apd.Decimal)))
			}
		})
	}
}

func TestOrderRequestBuilder_StopLossLimitWithoutPrice(t *testing.T) {
	_, err := buildOrder(&core.CreateOrderRequest{
		Symbol: "BTC/USDT",
		Type:   core.OrderType("STOP_LOSS_LIMIT"),
		Side:   core.SideBuy,
		Amount: core.MustDecimal("0.01"),
	})

	require.Error(t, err)
	assert.True(t, core.IsInvalidOrderError(err))
	assert.Contains(t, err.Error(), "requires a price argument for a STOP_LOSS_LIMIT order")
}

func TestOrderRequestBuilder_Fields(t *testing.T) {
	reduce := true
	params, err := buildOrder(&core.CreateOrderRequest{
		Symbol:       "BTC/USDT",
		Type:         core.TypeLimit,
		Side:         core.SideSell,
		Amount:       core.MustDecimal("0.01239"),
		Price:        core.MustDecimal("9000.126"),
		PositionSide: "short",
		ReduceOnly:   &reduce,
		Params:       core.Params{"timeInForce": "IOC", "workingType": "MARK_PRICE"},
	})
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", params["symbol"])
	assert.Equal(t, "SELL", params["side"])
	assert.Equal(t, "0.012", core.FormatDecimal(params["quantity"].(*apd.Decimal)))
	assert.Equal(t, "9000.13", core.FormatDecimal(params["price"].(*apd.Decimal)))
	assert.Equal(t, "IOC", params["timeInForce"])
	assert.Equal(t, "SHORT", params["positionSide"])
	assert.Equal(t, true, params["reduceOnly"])
	assert.Equal(t, "MARK_PRICE", params["workingType"])
	assert.Equal(t, "x-56565656565656565656565656565656", params["newClientOrderId"])
}

func TestOrderRequestBuilder_SuppliedClientOrderID(t *testing.T) {
	params, err := buildOrder(&core.CreateOrderRequest{
		Symbol:        "BTC/USDT",
		Type:          core.TypeMarket,
		Side:          core.SideBuy,
		Amount:        core.MustDecimal("1"),
		ClientOrderID: "x-mine",
	})
	require.NoError(t, err)
	assert.Equal(t, "x-mine", params["newClientOrderId"])
}

func TestOrderRequestBuilder_QuoteOrderQty(t *testing.T) {
	extra := core.Params{"quoteOrderQty": "100.5"}
	params, err := buildOrder(&core.CreateOrderRequest{
		Symbol: "BTC/USDT",
		Type:   core.TypeMarket,
		Side:   core.SideBuy,
		Params: extra,
	})
	require.NoError(t, err)

	assert.Equal(t, "100.5", core.FormatDecimal(params["quoteOrderQty"].(*apd.Decimal)))
	assert.NotContains(t, params, "quantity")
	assert.Contains(t, extra, "quoteOrderQty", "caller params are not mutated")

	// Quote size only replaces quantity on market orders.
	params, err = buildOrder(&core.CreateOrderRequest{
		Symbol: "BTC/USDT",
		Type:   core.TypeLimit,
		Side:   core.SideBuy,
		Amount: core.MustDecimal("1"),
		Price:  core.MustDecimal("9000"),
		Params: core.Params{"quoteOrderQty": "100"},
	})
	require.NoError(t, err)
	assert.Contains(t, params, "quantity")
}

func TestOrderRequestBuilder_UsesSuppliedMarket(t *testing.T) {
	market, ok := testMarkets().MarketByID("ETHUSDT")
	require.True(t, ok)

	params, err := testBuilder().Build(&core.CreateOrderRequest{
		Symbol: "ETHUSDT",
		Type:   core.TypeMarket,
		Side:   core.SideBuy,
		Amount: core.MustDecimal("1.23456"),
	}, market)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", params["symbol"])
	assert.Equal(t, "1.234", core.FormatDecimal(params["quantity"].(*apd.Decimal)))
}

func TestOrderRequestBuilder_Validation(t *testing.T) {
	_, err := buildOrder(&core.CreateOrderRequest{Type: core.TypeMarket, Side: core.SideBuy})
	assert.True(t, core.IsArgumentsRequiredError(err))

	_, err = buildOrder(&core.CreateOrderRequest{Symbol: "DOGE/USDT", Type: core.TypeMarket})
	assert.True(t, core.IsBadRequestError(err))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeUnknownMarket))

	_, err = buildOrder(&core.CreateOrderRequest{Symbol: "BTC/USDT", Type: core.TypeMarket, Side: core.SideBuy})
	assert.True(t, core.IsInvalidOrderError(err))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeMissingAmount))
}
