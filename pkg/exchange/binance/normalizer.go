package binance

import (
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"perpgate/pkg/core"
)

// orderStatuses maps wire order states to canonical ones. Unlisted states are
// passed through verbatim.
var orderStatuses = map[string]core.OrderStatus{
	"NEW":              core.StatusOpen,
	"PARTIALLY_FILLED": core.StatusOpen,
	"FILLED":           core.StatusClosed,
	"CANCELED":         core.StatusCanceled,
	"PENDING_CANCEL":   core.StatusCanceling,
	"REJECTED":         core.StatusRejected,
	"EXPIRED":          core.StatusCanceled,
}

func parseOrderStatus(status string) core.OrderStatus {
	if s, ok := orderStatuses[status]; ok {
		return s
	}
	return core.OrderStatus(status)
}

// ListFilter narrows batch parse results. Zero values disable each filter.
type ListFilter struct {
	Since time.Time
	Limit int
	// Extra is attached to every parsed record.
	Extra core.Params
}

// Normalizer converts raw payloads into canonical entities. It only reads the
// market source, so a stale or partially loaded index yields empty symbols.
type Normalizer struct {
	markets          core.MarketSource
	parseToPrecision bool
}

func NewNormalizer(markets core.MarketSource, parseToPrecision bool) *Normalizer {
	return &Normalizer{
		markets:          markets,
		parseToPrecision: parseToPrecision,
	}
}

func (n *Normalizer) marketByID(id string) *core.Market {
	if n.markets == nil || id == "" {
		return nil
	}
	m, ok := n.markets.MarketByID(id)
	if !ok {
		return nil
	}
	return m
}

// ParseOrder normalizes an order payload. A market found by the payload's
// symbol id takes precedence over the supplied one.
func (n *Normalizer) ParseOrder(raw core.Payload, market *core.Market) *core.Order {
	if m := n.marketByID(raw.String("symbol")); m != nil {
		market = m
	}

	price := raw.Decimal("price")
	amount := raw.Decimal("origQty")
	filled := raw.Decimal("executedQty")
	cost := raw.DecimalEither("cummulativeQuoteQty", "cumQuote")

	var remaining *apd.Decimal
	if filled != nil {
		if amount != nil {
			remaining = core.SubDecimal(amount, filled)
			if n.parseToPrecision {
				remaining = market.AmountToPrecision(remaining)
			}
			remaining = core.MaxZero(remaining)
		}
		if price != nil && cost == nil {
			cost = core.MulDecimal(price, filled)
		}
	}

	orderType := core.OrderType(strings.ToLower(raw.String("type")))
	switch orderType {
	case core.TypeMarket:
		if price != nil && price.IsZero() && cost != nil && filled != nil &&
			cost.Sign() > 0 && filled.Sign() > 0 {
			price = core.QuoDecimal(cost, filled)
			if n.parseToPrecision {
				price = market.PriceToPrecision(price)
			}
		}
	case core.TypeLimitMaker:
		orderType = core.TypeLimit
	}

	var (
		fee    *core.Fee
		trades []core.Trade
	)
	if raw.Has("fills") {
		fills := core.AsPayloads(raw["fills"])
		trades = make([]core.Trade, 0, len(fills))
		for _, f := range fills {
			trades = append(trades, *n.ParseTrade(f, market))
		}
		if len(trades) > 0 {
			cost, fee = sumFills(trades)
		}
	}

	var average *apd.Decimal
	if cost != nil {
		if filled != nil && !filled.IsZero() {
			average = core.QuoDecimal(cost, filled)
			if n.parseToPrecision {
				average = market.PriceToPrecision(average)
			}
		}
		if n.parseToPrecision {
			cost = market.CostToPrecision(cost)
		}
	}

	lastTrade := raw.Millis("updateTime")
	timestamp := raw.MillisEither("time", "transactTime")
	if timestamp.IsZero() {
		timestamp = lastTrade
	}
	reduceOnly, _ := raw.Bool("reduceOnly")

	return &core.Order{
		ID:                 raw.String("orderId"),
		ClientOrderID:      raw.String("clientOrderId"),
		Symbol:             market.SymbolOrEmpty(),
		Type:               orderType,
		Side:               core.OrderSide(strings.ToLower(raw.String("side"))),
		Status:             parseOrderStatus(raw.String("status")),
		TimeInForce:        raw.String("timeInForce"),
		Price:              price,
		StopPrice:          raw.Decimal("stopPrice"),
		Amount:             amount,
		Filled:             filled,
		Remaining:          remaining,
		Cost:               cost,
		Average:            average,
		Fee:                fee,
		Trades:             trades,
		PositionSide:       raw.String("positionSide"),
		ReduceOnly:         reduceOnly,
		RealizedPnl:        raw.Decimal("realizedPnl"),
		Timestamp:          timestamp,
		LastTradeTimestamp: lastTrade,
		Info:               raw,
	}
}

// sumFills totals cost and fee across fills. Missing values are skipped.
func sumFills(trades []core.Trade) (*apd.Decimal, *core.Fee) {
	var (
		cost *apd.Decimal
		fee  *core.Fee
	)
	for _, t := range trades {
		cost = sumDecimal(cost, t.Cost)
		if t.Fee == nil {
			continue
		}
		if fee == nil {
			fee = &core.Fee{Currency: t.Fee.Currency}
		}
		fee.Cost = sumDecimal(fee.Cost, t.Fee.Cost)
	}
	return cost, fee
}

func sumDecimal(acc, v *apd.Decimal) *apd.Decimal {
	switch {
	case v == nil:
		return acc
	case acc == nil:
		return new(apd.Decimal).Set(v)
	}
	return core.AddDecimal(acc, v)
}

// ParseTrade normalizes a fill from the REST or stream payload shapes.
func (n *Normalizer) ParseTrade(raw core.Payload, market *core.Market) *core.Trade {
	price := raw.DecimalEither("p", "price")
	amount := raw.DecimalEither("q", "qty")

	var fee *core.Fee
	if raw.Has("commission") {
		fee = &core.Fee{
			Cost:     raw.Decimal("commission"),
			Currency: raw.String("commissionAsset"),
		}
	}

	var takerOrMaker core.TakerOrMaker
	if isMaker, ok := raw.Bool("isMaker"); ok {
		takerOrMaker = makerFlag(isMaker)
	}
	if maker, ok := raw.Bool("maker"); ok {
		takerOrMaker = makerFlag(maker)
	}

	if market == nil {
		market = n.marketByID(raw.String("symbol"))
	}

	return &core.Trade{
		ID:           raw.StringEither("a", "id"),
		Order:        raw.String("orderId"),
		Symbol:       market.SymbolOrEmpty(),
		Side:         tradeSide(raw),
		Price:        price,
		Amount:       amount,
		Cost:         core.MulDecimal(price, amount),
		Fee:          fee,
		TakerOrMaker: takerOrMaker,
		PositionSide: raw.String("positionSide"),
		RealizedPnl:  raw.Decimal("realizedPnl"),
		Timestamp:    raw.MillisEither("T", "time"),
		Info:         raw,
	}
}

// tradeSide resolves the taker side. The buyer-maker flags are inverted: a
// maker buy means the taker sold.
func tradeSide(raw core.Payload) core.OrderSide {
	if m, ok := raw.Bool("m"); ok {
		return invertedSide(m)
	}
	if m, ok := raw.Bool("isBuyerMaker"); ok {
		return invertedSide(m)
	}
	if raw.Has("side") {
		return core.OrderSide(strings.ToLower(raw.String("side")))
	}
	if buyer, ok := raw.Bool("isBuyer"); ok {
		if buyer {
			return core.SideBuy
		}
		return core.SideSell
	}
	return ""
}

func invertedSide(buyerIsMaker bool) core.OrderSide {
	if buyerIsMaker {
		return core.SideSell
	}
	return core.SideBuy
}

func makerFlag(maker bool) core.TakerOrMaker {
	if maker {
		return core.Maker
	}
	return core.Taker
}

// ParsePosition normalizes a v2 positionRisk entry.
func (n *Normalizer) ParsePosition(raw core.Payload) *core.Position {
	market := n.marketByID(raw.String("symbol"))
	unrealized := raw.Decimal("unRealizedProfit")
	leverage, _ := raw.Int64("leverage")

	return &core.Position{
		Symbol:           market.SymbolOrEmpty(),
		Position:         raw.Decimal("positionAmt"),
		OpenPrice:        raw.Decimal("entryPrice"),
		MarkPrice:        raw.Decimal("markPrice"),
		UnrealizedProfit: unrealized,
		LiquidatePrice:   raw.Decimal("liquidationPrice"),
		Leverage:         leverage,
		MarginType:       raw.String("marginType"),
		InitMargin:       core.TruncateDecimal(core.SubDecimal(raw.Decimal("isolatedMargin"), unrealized), 8),
		PositionSide:     raw.String("positionSide"),
		Info:             raw,
	}
}

// ParseFundingRecord normalizes an income history entry.
func (n *Normalizer) ParseFundingRecord(raw core.Payload) *core.FundingRecord {
	return &core.FundingRecord{
		ID:         raw.String("tranId"),
		Symbol:     n.marketByID(raw.String("symbol")).SymbolOrEmpty(),
		Asset:      raw.String("asset"),
		FundingFee: raw.Decimal("income"),
		Timestamp:  raw.Millis("time"),
		Info:       raw,
	}
}

// ParseOrders parses every order in raw, sorts ascending by timestamp and
// applies the market, since and limit filters.
func (n *Normalizer) ParseOrders(raw any, market *core.Market, filter ListFilter) []*core.Order {
	items := core.AsPayloads(raw)
	out := make([]*core.Order, 0, len(items))
	for _, item := range items {
		o := n.ParseOrder(item, market)
		o.Extra = attachExtra(filter.Extra)
		out = append(out, o)
	}
	slices.SortStableFunc(out, func(a, b *core.Order) int { return a.Timestamp.Compare(b.Timestamp) })
	return filterBySymbolSinceLimit(out, market.SymbolOrEmpty(), filter,
		func(o *core.Order) (string, time.Time) { return o.Symbol, o.Timestamp })
}

// ParseTrades is the trade counterpart of ParseOrders.
func (n *Normalizer) ParseTrades(raw any, market *core.Market, filter ListFilter) []*core.Trade {
	items := core.AsPayloads(raw)
	out := make([]*core.Trade, 0, len(items))
	for _, item := range items {
		t := n.ParseTrade(item, market)
		t.Extra = attachExtra(filter.Extra)
		out = append(out, t)
	}
	slices.SortStableFunc(out, func(a, b *core.Trade) int { return a.Timestamp.Compare(b.Timestamp) })
	return filterBySymbolSinceLimit(out, market.SymbolOrEmpty(), filter,
		func(t *core.Trade) (string, time.Time) { return t.Symbol, t.Timestamp })
}

// ParseFundingRecords parses and sorts income entries. No filtering is
// applied; the request already carries symbol and time bounds.
func (n *Normalizer) ParseFundingRecords(raw any, extra core.Params) []*core.FundingRecord {
	items := core.AsPayloads(raw)
	out := make([]*core.FundingRecord, 0, len(items))
	for _, item := range items {
		r := n.ParseFundingRecord(item)
		r.Extra = attachExtra(extra)
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b *core.FundingRecord) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

// ParsePositions parses every position and keeps those matching symbol.
// An empty symbol keeps all.
func (n *Normalizer) ParsePositions(raw any, symbol string, extra core.Params) []*core.Position {
	items := core.AsPayloads(raw)
	out := make([]*core.Position, 0, len(items))
	for _, item := range items {
		p := n.ParsePosition(item)
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		p.Extra = attachExtra(extra)
		out = append(out, p)
	}
	return out
}

func attachExtra(extra core.Params) core.Params {
	if len(extra) == 0 {
		return nil
	}
	return extra.Clone()
}

func filterBySymbolSinceLimit[T any](items []T, symbol string, filter ListFilter, key func(T) (string, time.Time)) []T {
	out := items[:0]
	for _, item := range items {
		s, ts := key(item)
		if symbol != "" && s != symbol {
			continue
		}
		if !filter.Since.IsZero() && ts.Before(filter.Since) {
			continue
		}
		out = append(out, item)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// ParseMarkets normalizes the exchangeInfo response.
func (n *Normalizer) ParseMarkets(raw core.Payload) []*core.Market {
	symbols := core.AsPayloads(raw["symbols"])
	out := make([]*core.Market, 0, len(symbols))
	for _, s := range symbols {
		baseID := s.String("baseAsset")
		quoteID := s.String("quoteAsset")
		amountPrecision, _ := s.Int64("quantityPrecision")
		pricePrecision, _ := s.Int64("pricePrecision")

		m := &core.Market{
			ID:      s.String("symbol"),
			Symbol:  baseID + "/" + quoteID,
			Base:    baseID,
			Quote:   quoteID,
			BaseID:  baseID,
			QuoteID: quoteID,
			Active:  s.String("status") == "TRADING",
			Precision: core.Precision{
				Amount: int32(amountPrecision),
				Price:  int32(pricePrecision),
			},
			MaintMarginPercent:    s.Decimal("maintMarginPercent"),
			RequiredMarginPercent: s.Decimal("requiredMarginPercent"),
			Info:                  s,
		}
		for _, f := range core.AsPayloads(s["filters"]) {
			switch f.String("filterType") {
			case "PRICE_FILTER":
				m.Limits.Price = core.MinMax{
					Min:      f.Decimal("minPrice"),
					Max:      f.Decimal("maxPrice"),
					StepSize: f.Decimal("tickSize"),
				}
			case "LOT_SIZE":
				m.Limits.Amount = core.MinMax{
					Min:      f.Decimal("minQty"),
					Max:      f.Decimal("maxQty"),
					StepSize: f.Decimal("stepSize"),
				}
			}
		}
		out = append(out, m)
	}
	return out
}

// ParseAccount normalizes the v2 account response. Free is the withdrawable
// amount, total the wallet balance.
func (n *Normalizer) ParseAccount(raw core.Payload) *core.Account {
	feeTier, _ := raw.Int64("feeTier")
	acct := &core.Account{
		Balances:                    make(map[string]core.Balance),
		FeeTier:                     feeTier,
		TotalInitialMargin:          raw.Decimal("totalInitialMargin"),
		TotalMaintMargin:            raw.Decimal("totalMaintMargin"),
		TotalWalletBalance:          raw.Decimal("totalWalletBalance"),
		TotalUnrealizedProfit:       raw.Decimal("totalUnrealizedProfit"),
		TotalMarginBalance:          raw.Decimal("totalMarginBalance"),
		TotalPositionInitialMargin:  raw.Decimal("totalPositionInitialMargin"),
		TotalOpenOrderInitialMargin: raw.Decimal("totalOpenOrderInitialMargin"),
		MaxWithdrawAmount:           raw.Decimal("maxWithdrawAmount"),
		Info:                        raw,
	}
	for _, a := range core.AsPayloads(raw["assets"]) {
		asset := a.String("asset")
		if asset == "" {
			continue
		}
		free := a.Decimal("maxWithdrawAmount")
		total := a.Decimal("walletBalance")
		acct.Balances[asset] = core.Balance{
			Asset: asset,
			Free:  free,
			Used:  core.SubDecimal(total, free),
			Total: total,
		}
	}
	return acct
}

// ParseOrderBook normalizes a depth snapshot. Bids are sorted descending and
// asks ascending.
func (n *Normalizer) ParseOrderBook(raw core.Payload, symbol string) *core.OrderBook {
	ob := &core.OrderBook{
		Symbol:    symbol,
		Bids:      parseLevels(raw.Slice("bids")),
		Asks:      parseLevels(raw.Slice("asks")),
		Timestamp: raw.MillisEither("T", "E"),
		Info:      raw,
	}
	ob.Nonce, _ = raw.Int64("lastUpdateId")
	slices.SortStableFunc(ob.Bids, func(a, b core.PriceLevel) int { return b.Price.Cmp(a.Price) })
	slices.SortStableFunc(ob.Asks, func(a, b core.PriceLevel) int { return a.Price.Cmp(b.Price) })
	return ob
}

func parseLevels(rows []any) []core.PriceLevel {
	out := make([]core.PriceLevel, 0, len(rows))
	for _, row := range rows {
		pair, ok := row.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		price, ok := core.ToDecimal(pair[0])
		if !ok {
			continue
		}
		qty, ok := core.ToDecimal(pair[1])
		if !ok {
			continue
		}
		out = append(out, core.PriceLevel{Price: price, Quantity: qty})
	}
	return out
}

// ParseFeeRate looks up the commission schedule for the account's fee tier.
// Unknown tiers fall back to the base tier.
func (n *Normalizer) ParseFeeRate(raw core.Payload, symbol string) core.FeeRate {
	level, _ := raw.Int64("feeTier")
	tier := feeTiers[0]
	if level >= 0 && int(level) < len(feeTiers) {
		tier = feeTiers[level]
	}
	return core.FeeRate{
		Symbol: symbol,
		Maker:  core.MustDecimal(tier.Maker),
		Taker:  core.MustDecimal(tier.Taker),
	}
}

// ParsePositionMode reads dualSidePosition.
func (n *Normalizer) ParsePositionMode(raw core.Payload) core.PositionMode {
	if dual, _ := raw.Bool("dualSidePosition"); dual {
		return core.PositionModeDual
	}
	return core.PositionModeSingle
}

// orderUpdateKeys maps ORDER_TRADE_UPDATE short keys to REST order keys.
var orderUpdateKeys = map[string]string{
	"s":  "symbol",
	"c":  "clientOrderId",
	"S":  "side",
	"o":  "type",
	"f":  "timeInForce",
	"q":  "origQty",
	"p":  "price",
	"sp": "stopPrice",
	"X":  "status",
	"i":  "orderId",
	"z":  "executedQty",
	"T":  "updateTime",
	"R":  "reduceOnly",
	"ps": "positionSide",
	"rp": "realizedPnl",
}

// ParseOrderUpdate normalizes the "o" object of an ORDER_TRADE_UPDATE event.
// Cost is average price times filled quantity; a TRADE execution carries its
// fill as the single entry of Trades.
func (n *Normalizer) ParseOrderUpdate(raw core.Payload) *core.Order {
	rest := make(core.Payload, len(orderUpdateKeys)+1)
	for short, long := range orderUpdateKeys {
		if v, ok := raw[short]; ok {
			rest[long] = v
		}
	}
	if avg := raw.Decimal("ap"); avg != nil && !avg.IsZero() {
		if cost := core.MulDecimal(avg, raw.Decimal("z")); cost != nil {
			rest["cumQuote"] = cost
		}
	}

	order := n.ParseOrder(rest, nil)
	order.Info = raw

	if raw.String("x") == "TRADE" {
		fill := core.Payload{
			"id":           raw["t"],
			"orderId":      raw["i"],
			"symbol":       raw["s"],
			"side":         raw["S"],
			"price":        raw["L"],
			"qty":          raw["l"],
			"time":         raw["T"],
			"positionSide": raw["ps"],
			"realizedPnl":  raw["rp"],
		}
		if m, ok := raw.Bool("m"); ok {
			fill["maker"] = m
		}
		if raw.Has("n") {
			fill["commission"] = raw["n"]
			fill["commissionAsset"] = raw["N"]
		}
		trade := n.ParseTrade(fill, nil)
		trade.Info = raw
		order.Trades = []core.Trade{*trade}
	}
	return order
}
