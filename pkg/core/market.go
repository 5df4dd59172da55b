package core

import (
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// MinMax bounds a market quantity. StepSize is the increment (tick or lot).
type MinMax struct {
	Min      *apd.Decimal `json:"min"`
	Max      *apd.Decimal `json:"max"`
	StepSize *apd.Decimal `json:"step_size"`
}

// Limits groups the trading constraints of a market.
type Limits struct {
	Amount MinMax `json:"amount"`
	Price  MinMax `json:"price"`
	Cost   MinMax `json:"cost"`
}

// Precision holds the number of fractional digits accepted for amounts and prices.
type Precision struct {
	Amount int32 `json:"amount"`
	Price  int32 `json:"price"`
}

// Market describes a tradeable symbol. Markets are immutable once loaded.
type Market struct {
	ID                    string       `json:"id"`
	Symbol                string       `json:"symbol"`
	Base                  string       `json:"base"`
	Quote                 string       `json:"quote"`
	BaseID                string       `json:"base_id"`
	QuoteID               string       `json:"quote_id"`
	Active                bool         `json:"active"`
	Precision             Precision    `json:"precision"`
	Limits                Limits       `json:"limits"`
	MaintMarginPercent    *apd.Decimal `json:"maint_margin_percent,omitempty"`
	RequiredMarginPercent *apd.Decimal `json:"required_margin_percent,omitempty"`
	Info                  Payload      `json:"info"`
}

// AmountToPrecision truncates an amount to the market's amount precision.
// A nil market returns the amount unchanged.
func (m *Market) AmountToPrecision(amount *apd.Decimal) *apd.Decimal {
	if m == nil || amount == nil {
		return amount
	}
	return TruncateDecimal(amount, m.Precision.Amount)
}

// PriceToPrecision rounds a price half-up to the market's price precision.
func (m *Market) PriceToPrecision(price *apd.Decimal) *apd.Decimal {
	if m == nil || price == nil {
		return price
	}
	return RoundDecimal(price, m.Precision.Price)
}

// CostToPrecision rounds a quote amount to the market's price precision.
func (m *Market) CostToPrecision(cost *apd.Decimal) *apd.Decimal {
	return m.PriceToPrecision(cost)
}

// SymbolOrEmpty returns the market symbol, or "" for a nil market.
func (m *Market) SymbolOrEmpty() string {
	if m == nil {
		return ""
	}
	return m.Symbol
}

// MarketSource resolves markets by exchange id or unified symbol.
type MarketSource interface {
	MarketByID(id string) (*Market, bool)
	Market(symbol string) (*Market, bool)
}

// MarketIndex is a concurrency-safe MarketSource that is replaced wholesale on reload.
type MarketIndex struct {
	mu       sync.RWMutex
	byID     map[string]*Market
	bySymbol map[string]*Market
	loadedAt time.Time
}

// NewMarketIndex builds an index over the given markets.
func NewMarketIndex(markets []*Market) *MarketIndex {
	idx := &MarketIndex{}
	idx.Replace(markets)
	return idx
}

// Replace swaps the indexed markets.
func (i *MarketIndex) Replace(markets []*Market) {
	byID := make(map[string]*Market, len(markets))
	bySymbol := make(map[string]*Market, len(markets))
	for _, m := range markets {
		if m == nil {
			continue
		}
		byID[m.ID] = m
		bySymbol[m.Symbol] = m
	}

	i.mu.Lock()
	i.byID = byID
	i.bySymbol = bySymbol
	i.loadedAt = time.Now()
	i.mu.Unlock()
}

// MarketByID implements MarketSource.
func (i *MarketIndex) MarketByID(id string) (*Market, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	m, ok := i.byID[id]
	return m, ok
}

// Market implements MarketSource.
func (i *MarketIndex) Market(symbol string) (*Market, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	m, ok := i.bySymbol[symbol]
	return m, ok
}

// Markets returns a snapshot of all markets.
func (i *MarketIndex) Markets() []*Market {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*Market, 0, len(i.byID))
	for _, m := range i.byID {
		out = append(out, m)
	}
	return out
}

// Len returns the number of indexed markets.
func (i *MarketIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byID)
}

// LoadedAt returns when the index was last replaced.
func (i *MarketIndex) LoadedAt() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loadedAt
}
