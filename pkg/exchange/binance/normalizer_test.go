package binance

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpgate/pkg/core"
)

var decodeNumbers = sonic.Config{UseNumber: true}.Froze()

// payload decodes a JSON literal the same way the client decodes responses.
func payload(t *testing.T, body string) core.Payload {
	t.Helper()
	var v map[string]any
	require.NoError(t, decodeNumbers.UnmarshalFromString(body, &v))
	return core.Payload(v)
}

func payloads(t *testing.T, body string) []any {
	t.Helper()
	var v []any
	require.NoError(t, decodeNumbers.UnmarshalFromString(body, &v))
	return v
}

func assertDecimal(t *testing.T, want string, got *apd.Decimal) {
	t.Helper()
	require.NotNil(t, got, "expected %s, got nil", want)
	assert.Zero(t, core.MustDecimal(want).Cmp(got), "expected %s, got %s", want, got.Text('f'))
}

func testNormalizer() *Normalizer {
	return NewNormalizer(testMarkets(), false)
}

func TestNormalizer_ParseOrderStatus(t *testing.T) {
	tests := []struct {
		wire string
		want core.OrderStatus
	}{
		{"NEW", core.StatusOpen},
		{"PARTIALLY_FILLED", core.StatusOpen},
		{"FILLED", core.StatusClosed},
		{"CANCELED", core.StatusCanceled},
		{"PENDING_CANCEL", core.StatusCanceling},
		{"REJECTED", core.StatusRejected},
		{"EXPIRED", core.StatusCanceled},
		{"NEW_INSURANCE", core.OrderStatus("NEW_INSURANCE")},
	}

	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOrderStatus(tt.wire))
		})
	}
}

func TestNormalizer_ParseOrder_Futures(t *testing.T) {
	raw := payload(t, `{
		"symbol": "BTCUSDT", "orderId": 22542179, "clientOrderId": "x-abc",
		"price": "9000.5", "origQty": "0.010", "executedQty": "0.004", "cumQuote": "36.002",
		"status": "PARTIALLY_FILLED", "timeInForce": "GTC", "type": "LIMIT", "side": "BUY",
		"stopPrice": "0", "positionSide": "LONG", "reduceOnly": false, "updateTime": 1569514978020
	}`)

	o := testNormalizer().ParseOrder(raw, nil)

	assert.Equal(t, "22542179", o.ID)
	assert.Equal(t, "x-abc", o.ClientOrderID)
	assert.Equal(t, "BTC/USDT", o.Symbol)
	assert.Equal(t, core.TypeLimit, o.Type)
	assert.Equal(t, core.SideBuy, o.Side)
	assert.Equal(t, core.StatusOpen, o.Status)
	assertDecimal(t, "0.006", o.Remaining)
	assertDecimal(t, "36.002", o.Cost)
	assertDecimal(t, "9000.5", o.Average)
	assert.Equal(t, "LONG", o.PositionSide)
	assert.Equal(t, time.UnixMilli(1569514978020), o.LastTradeTimestamp)
	assert.Equal(t, o.LastTradeTimestamp, o.Timestamp)
	assert.Equal(t, raw, o.Info)
}

func TestNormalizer_ParseOrder_CostSynthesized(t *testing.T) {
	raw := payload(t, `{"symbol":"BTCUSDT","price":"9000.5","origQty":"0.01","executedQty":"0.01","type":"LIMIT","side":"SELL","time":1}`)

	o := testNormalizer().ParseOrder(raw, nil)

	assertDecimal(t, "90.005", o.Cost)
	assertDecimal(t, "0", o.Remaining)
	assert.Equal(t, core.SideSell, o.Side)
	assert.Equal(t, time.UnixMilli(1), o.Timestamp)
}

func TestNormalizer_ParseOrder_RemainingClamped(t *testing.T) {
	raw := payload(t, `{"origQty":"1","executedQty":"1.5","type":"LIMIT"}`)

	o := testNormalizer().ParseOrder(raw, nil)

	assertDecimal(t, "0", o.Remaining)
	assert.False(t, o.Remaining.Negative)
	assert.Nil(t, o.Cost)
	assert.Empty(t, o.Symbol)
}

func TestNormalizer_ParseOrder_MissingFields(t *testing.T) {
	o := testNormalizer().ParseOrder(payload(t, `{"price":"abc","origQty":null,"type":"MARKET"}`), nil)

	assert.Nil(t, o.Price)
	assert.Nil(t, o.Amount)
	assert.Nil(t, o.Remaining)
	assert.Nil(t, o.Average)
	assert.True(t, o.Timestamp.IsZero())
}

func TestNormalizer_ParseOrder_MarketZeroPrice(t *testing.T) {
	raw := payload(t, `{"symbol":"BTCUSDT","price":"0","origQty":"0.02","executedQty":"0.02","cumQuote":"180.01","type":"MARKET","side":"BUY","status":"FILLED","transactTime":1600000000000}`)

	o := testNormalizer().ParseOrder(raw, nil)

	assertDecimal(t, "9000.5", o.Price)
	assertDecimal(t, "9000.5", o.Average)
	assert.Equal(t, "9000.5", o.Price.String())
	assert.Equal(t, "9000.5", o.Average.String())
	assert.Equal(t, core.StatusClosed, o.Status)
	assert.Equal(t, time.UnixMilli(1600000000000), o.Timestamp)
}

func TestNormalizer_ParseOrder_DerivedPriceHasNoPadding(t *testing.T) {
	raw := payload(t, `{"symbol":"BTCUSDT","price":"0","origQty":"2","executedQty":"2","cumQuote":"1","type":"MARKET","side":"SELL","status":"FILLED"}`)

	o := testNormalizer().ParseOrder(raw, nil)

	assert.Equal(t, "0.5", o.Price.String())
	assert.Equal(t, "0.5", o.Average.String())
}

func TestNormalizer_ParseOrder_LimitMakerReportedAsLimit(t *testing.T) {
	o := testNormalizer().ParseOrder(payload(t, `{"type":"LIMIT_MAKER"}`), nil)
	assert.Equal(t, core.TypeLimit, o.Type)

	o = testNormalizer().ParseOrder(payload(t, `{"type":"STOP_MARKET"}`), nil)
	assert.Equal(t, core.TypeStopMarket, o.Type)
}

func TestNormalizer_ParseOrder_Fills(t *testing.T) {
	raw := payload(t, `{
		"symbol": "BTCUSDT", "price": "0", "origQty": "0.003", "executedQty": "0.003",
		"cummulativeQuoteQty": "1", "type": "MARKET", "side": "BUY", "status": "FILLED",
		"fills": [
			{"price": "9000", "qty": "0.001", "commission": "0.01", "commissionAsset": "USDT"},
			{"price": "9003", "qty": "0.002", "commission": "0.02", "commissionAsset": "USDT"}
		]
	}`)

	o := testNormalizer().ParseOrder(raw, nil)

	require.Len(t, o.Trades, 2)
	assert.Equal(t, "BTC/USDT", o.Trades[0].Symbol)
	assertDecimal(t, "27.006", o.Cost)
	require.NotNil(t, o.Fee)
	assertDecimal(t, "0.03", o.Fee.Cost)
	assert.Equal(t, "USDT", o.Fee.Currency)
	assertDecimal(t, "9002", o.Average)
}

func TestNormalizer_ParseOrder_ToPrecision(t *testing.T) {
	n := NewNormalizer(testMarkets(), true)
	raw := payload(t, `{"symbol":"BTCUSDT","price":"0","origQty":"0.0109","executedQty":"0.003","cumQuote":"27.0071","type":"MARKET"}`)

	o := n.ParseOrder(raw, nil)

	assert.Equal(t, "0.007", o.Remaining.Text('f'))
	assert.Equal(t, "9002.37", o.Price.Text('f'))
	assert.Equal(t, "9002.37", o.Average.Text('f'))
	assert.Equal(t, "27.01", o.Cost.Text('f'))
}

func TestNormalizer_ParseOrder_SuppliedMarketFallback(t *testing.T) {
	market := &core.Market{ID: "XRPUSDT", Symbol: "XRP/USDT"}

	o := NewNormalizer(core.NewMarketIndex(nil), false).ParseOrder(payload(t, `{"symbol":"XRPUSDT"}`), market)
	assert.Equal(t, "XRP/USDT", o.Symbol)

	o = NewNormalizer(nil, false).ParseOrder(payload(t, `{"symbol":"XRPUSDT"}`), nil)
	assert.Empty(t, o.Symbol)
}

func TestNormalizer_ParseTrade_Side(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want core.OrderSide
	}{
		{"maker_is_buyer", `{"m": true}`, core.SideSell},
		{"maker_is_seller", `{"m": false}`, core.SideBuy},
		{"buyer_maker_false", `{"isBuyerMaker": false}`, core.SideBuy},
		{"buyer_maker_true", `{"isBuyerMaker": true}`, core.SideSell},
		{"explicit_side", `{"side": "SELL"}`, core.SideSell},
		{"is_buyer", `{"isBuyer": true}`, core.SideBuy},
		{"is_buyer_false", `{"isBuyer": false}`, core.SideSell},
		{"m_wins_over_side", `{"m": true, "side": "BUY"}`, core.SideSell},
		{"side_wins_over_is_buyer", `{"side": "BUY", "isBuyer": false}`, core.SideBuy},
		{"none", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testNormalizer().ParseTrade(payload(t, tt.raw), nil).Side)
		})
	}
}

func TestNormalizer_ParseTrade_UserTrade(t *testing.T) {
	raw := payload(t, `{
		"buyer": false, "commission": "-0.07819010", "commissionAsset": "USDT", "id": 698759,
		"maker": false, "orderId": 25851813, "price": "7819.01", "qty": "0.002",
		"quoteQty": "99", "realizedPnl": "-0.91539999", "side": "SELL",
		"positionSide": "SHORT", "symbol": "BTCUSDT", "time": 1569514978020
	}`)

	tr := testNormalizer().ParseTrade(raw, nil)

	assert.Equal(t, "698759", tr.ID)
	assert.Equal(t, "25851813", tr.Order)
	assert.Equal(t, "BTC/USDT", tr.Symbol)
	assert.Equal(t, core.SideSell, tr.Side)
	assertDecimal(t, "15.63802", tr.Cost)
	assertDecimal(t, "-0.0781901", tr.Fee.Cost)
	assert.Equal(t, "USDT", tr.Fee.Currency)
	assert.Equal(t, core.Taker, tr.TakerOrMaker)
	assert.Equal(t, "SHORT", tr.PositionSide)
	assertDecimal(t, "-0.91539999", tr.RealizedPnl)
	assert.Equal(t, time.UnixMilli(1569514978020), tr.Timestamp)
}

func TestNormalizer_ParseTrade_AggregateShape(t *testing.T) {
	raw := payload(t, `{"a": 26129, "p": "0.01633102", "q": "4.70443515", "T": 1498793709153, "m": true, "isMaker": false, "maker": true}`)

	market := &core.Market{Symbol: "LTC/BTC"}
	tr := testNormalizer().ParseTrade(raw, market)

	assert.Equal(t, "26129", tr.ID)
	assert.Equal(t, "LTC/BTC", tr.Symbol)
	assert.Equal(t, core.Maker, tr.TakerOrMaker)
	assert.Nil(t, tr.Fee)
	assertDecimal(t, "0.0768282245233530", tr.Cost)
}

func TestNormalizer_ParsePosition(t *testing.T) {
	tests := []struct {
		name       string
		isolated   string
		unrealized string
		want       string
	}{
		{"negative_unrealized", "1.23456789", "-24.2386515299", "25.47321941"},
		{"positive_unrealized", "30.123456789", "5.1", "25.02345678"},
		{"flat", "0", "0", "0.00000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := payload(t, `{
				"symbol": "BTCUSDT", "positionAmt": "-0.010", "entryPrice": "9000.5",
				"markPrice": "9010", "unRealizedProfit": "`+tt.unrealized+`",
				"liquidationPrice": "12000", "leverage": "20", "marginType": "isolated",
				"isolatedMargin": "`+tt.isolated+`", "positionSide": "SHORT"
			}`)

			p := testNormalizer().ParsePosition(raw)

			assert.Equal(t, tt.want, p.InitMargin.Text('f'))
			assert.Equal(t, "BTC/USDT", p.Symbol)
			assert.Equal(t, int64(20), p.Leverage)
			assert.Equal(t, "isolated", p.MarginType)
			assertDecimal(t, "-0.01", p.Position)
		})
	}

	p := testNormalizer().ParsePosition(payload(t, `{"symbol":"BTCUSDT","unRealizedProfit":"1"}`))
	assert.Nil(t, p.InitMargin)
}

func TestNormalizer_ParseOrders_SortFilterLimit(t *testing.T) {
	raw := payloads(t, `[
		{"symbol":"BTCUSDT","orderId":3,"time":3000},
		{"symbol":"ETHUSDT","orderId":9,"time":500},
		{"symbol":"BTCUSDT","orderId":1,"time":1000},
		{"symbol":"BTCUSDT","orderId":2,"time":2000},
		"not an object"
	]`)

	btc, _ := testMarkets().Market("BTC/USDT")
	got := testNormalizer().ParseOrders(raw, btc, ListFilter{
		Since: time.UnixMilli(2000),
		Limit: 1,
		Extra: core.Params{"source": "history"},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "history", got[0].Extra["source"])

	all := testNormalizer().ParseOrders(raw, nil, ListFilter{})
	require.Len(t, all, 4)
	assert.Equal(t, []string{"9", "1", "2", "3"}, []string{all[0].ID, all[1].ID, all[2].ID, all[3].ID})
	assert.Nil(t, all[0].Extra)
}

func TestNormalizer_ParseTrades_Filter(t *testing.T) {
	raw := payloads(t, `[
		{"symbol":"BTCUSDT","id":2,"time":2000,"price":"1","qty":"1"},
		{"symbol":"BTCUSDT","id":1,"time":1000,"price":"1","qty":"1"}
	]`)

	got := testNormalizer().ParseTrades(raw, nil, ListFilter{Since: time.UnixMilli(1000)})
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "2", got[1].ID)
}

func TestNormalizer_ParsePositions(t *testing.T) {
	raw := payloads(t, `[
		{"symbol":"BTCUSDT","positionAmt":"1"},
		{"symbol":"ETHUSDT","positionAmt":"2"}
	]`)

	assert.Len(t, testNormalizer().ParsePositions(raw, "", nil), 2)

	eth := testNormalizer().ParsePositions(raw, "ETH/USDT", core.Params{"k": "v"})
	require.Len(t, eth, 1)
	assert.Equal(t, "ETH/USDT", eth[0].Symbol)
	assert.Equal(t, "v", eth[0].Extra["k"])
}

func TestNormalizer_ParseFundingRecords(t *testing.T) {
	raw := payloads(t, `[
		{"symbol":"BTCUSDT","incomeType":"FUNDING_FEE","income":"-0.37500000","asset":"USDT","time":1570636800000,"tranId":"2"},
		{"symbol":"","incomeType":"FUNDING_FEE","income":"0.1","asset":"USDT","time":1570608000000,"tranId":"1"}
	]`)

	got := testNormalizer().ParseFundingRecords(raw, nil)

	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Empty(t, got[0].Symbol)
	assert.Equal(t, "BTC/USDT", got[1].Symbol)
	assertDecimal(t, "-0.375", got[1].FundingFee)
	assert.Equal(t, "USDT", got[1].Asset)
	assert.Equal(t, time.UnixMilli(1570636800000), got[1].Timestamp)
	assert.NotNil(t, got[1].Info)
}

func TestNormalizer_ParseMarkets(t *testing.T) {
	raw := payload(t, `{"symbols":[{
		"symbol":"BTCUSDT","status":"TRADING","maintMarginPercent":"2.5000","requiredMarginPercent":"5.0000",
		"baseAsset":"BTC","quoteAsset":"USDT","pricePrecision":2,"quantityPrecision":3,
		"filters":[
			{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"100000","tickSize":"0.01"},
			{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"},
			{"filterType":"MAX_NUM_ORDERS","limit":200}
		]
	},{"symbol":"ETHUSDT","status":"PENDING_TRADING","baseAsset":"ETH","quoteAsset":"USDT"}]}`)

	markets := testNormalizer().ParseMarkets(raw)

	require.Len(t, markets, 2)
	btc := markets[0]
	assert.Equal(t, "BTCUSDT", btc.ID)
	assert.Equal(t, "BTC/USDT", btc.Symbol)
	assert.True(t, btc.Active)
	assert.Equal(t, core.Precision{Amount: 3, Price: 2}, btc.Precision)
	assertDecimal(t, "0.01", btc.Limits.Price.StepSize)
	assertDecimal(t, "1000", btc.Limits.Amount.Max)
	assertDecimal(t, "2.5", btc.MaintMarginPercent)
	assert.Nil(t, btc.Limits.Cost.Min)
	assert.False(t, markets[1].Active)
}

func TestNormalizer_ParseAccount(t *testing.T) {
	raw := payload(t, `{
		"feeTier": 2, "totalInitialMargin": "1.5", "totalMaintMargin": "0.5",
		"totalWalletBalance": "100", "totalUnrealizedProfit": "-2", "totalMarginBalance": "98",
		"maxWithdrawAmount": "96.5",
		"assets": [
			{"asset":"USDT","walletBalance":"100","maxWithdrawAmount":"96.5"},
			{"asset":"BNB","walletBalance":"0","maxWithdrawAmount":"0"}
		]
	}`)

	acct := testNormalizer().ParseAccount(raw)

	assert.Equal(t, int64(2), acct.FeeTier)
	assertDecimal(t, "1.5", acct.TotalInitialMargin)
	assertDecimal(t, "98", acct.TotalMarginBalance)
	require.Contains(t, acct.Balances, "USDT")
	assertDecimal(t, "96.5", acct.Balances["USDT"].Free)
	assertDecimal(t, "3.5", acct.Balances["USDT"].Used)
	assertDecimal(t, "100", acct.Total()["USDT"])
	assert.Len(t, acct.Balances, 2)
}

func TestNormalizer_ParseOrderBook(t *testing.T) {
	raw := payload(t, `{"lastUpdateId":1027024,"E":1589436922972,"T":1589436922959,
		"bids":[["4.00000000","431.00000000"],["4.10000000","1"],["bad"]],
		"asks":[["4.00000300","12.00000000"],["4.00000200","3"]]}`)

	ob := testNormalizer().ParseOrderBook(raw, "BTC/USDT")

	assert.Equal(t, int64(1027024), ob.Nonce)
	assert.Equal(t, time.UnixMilli(1589436922959), ob.Timestamp)
	require.Len(t, ob.Bids, 2)
	assertDecimal(t, "4.1", ob.BestBid().Price)
	assertDecimal(t, "4.000002", ob.BestAsk().Price)
}

func TestNormalizer_ParseFeeRate(t *testing.T) {
	rate := testNormalizer().ParseFeeRate(payload(t, `{"feeTier":3}`), "BTC/USDT")
	assert.Equal(t, "BTC/USDT", rate.Symbol)
	assertDecimal(t, "0.00012", rate.Maker)
	assertDecimal(t, "0.00032", rate.Taker)

	fallback := testNormalizer().ParseFeeRate(payload(t, `{"feeTier":42}`), "")
	assertDecimal(t, "0.0002", fallback.Maker)
}

func TestNormalizer_ParsePositionMode(t *testing.T) {
	assert.Equal(t, core.PositionModeDual, testNormalizer().ParsePositionMode(payload(t, `{"dualSidePosition":true}`)))
	assert.Equal(t, core.PositionModeSingle, testNormalizer().ParsePositionMode(payload(t, `{"dualSidePosition":false}`)))
	assert.Equal(t, core.PositionModeSingle, testNormalizer().ParsePositionMode(payload(t, `{}`)))
}

func TestNormalizer_ParseOrderUpdate(t *testing.T) {
	raw := payload(t, `{
		"s":"BTCUSDT","c":"cid-1","S":"SELL","o":"LIMIT","f":"GTC","q":"0.010","p":"30000",
		"ap":"30000.5","sp":"0","x":"TRADE","X":"PARTIALLY_FILLED","i":8886774,"l":"0.004",
		"z":"0.004","L":"30000.5","N":"USDT","n":"0.048","T":1600000000000,"t":555,
		"m":true,"R":false,"ps":"BOTH","rp":"0"}`)

	order := testNormalizer().ParseOrderUpdate(raw)

	assert.Equal(t, "8886774", order.ID)
	assert.Equal(t, "cid-1", order.ClientOrderID)
	assert.Equal(t, "BTC/USDT", order.Symbol)
	assert.Equal(t, core.SideSell, order.Side)
	assert.Equal(t, core.TypeLimit, order.Type)
	assert.Equal(t, core.StatusOpen, order.Status)
	assertDecimal(t, "0.006", order.Remaining)
	assertDecimal(t, "120.002", order.Cost)
	assertDecimal(t, "30000.5", order.Average)
	assert.Equal(t, int64(1600000000000), order.LastTradeTimestamp.UnixMilli())
	assert.Equal(t, raw, order.Info)

	require.Len(t, order.Trades, 1)
	fill := order.Trades[0]
	assert.Equal(t, "555", fill.ID)
	assert.Equal(t, "8886774", fill.Order)
	assert.Equal(t, core.SideSell, fill.Side)
	assert.Equal(t, core.Maker, fill.TakerOrMaker)
	assertDecimal(t, "30000.5", fill.Price)
	assertDecimal(t, "0.004", fill.Amount)
	require.NotNil(t, fill.Fee)
	assertDecimal(t, "0.048", fill.Fee.Cost)
	assert.Equal(t, "USDT", fill.Fee.Currency)
}

func TestNormalizer_ParseOrderUpdate_NewOrder(t *testing.T) {
	order := testNormalizer().ParseOrderUpdate(payload(t, `{
		"s":"BTCUSDT","S":"BUY","o":"MARKET","q":"1","p":"0","ap":"0","x":"NEW","X":"NEW","i":1,"z":"0"}`))

	assert.Empty(t, order.Trades)
	assert.Equal(t, core.TypeMarket, order.Type)
	assertDecimal(t, "1", order.Remaining)
	assert.Nil(t, order.Average)
}
