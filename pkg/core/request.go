package core

import (
	"maps"

	"github.com/cockroachdb/apd/v3"
)

// Params is a loosely typed parameter bag. It is only used at the boundary:
// recognized keys are taken out with the typed Take* helpers before the rest
// is passed through to the exchange.
type Params map[string]any

// Clone returns a shallow copy. A nil bag clones to an empty one.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	maps.Copy(out, p)
	return out
}

// Take removes key and returns its value.
func (p Params) Take(key string) (any, bool) {
	v, ok := p[key]
	if ok {
		delete(p, key)
	}
	return v, ok
}

// TakeDecimal removes key and returns it as a decimal. The key is removed even
// when the value is malformed, in which case nil is returned.
func (p Params) TakeDecimal(key string) *apd.Decimal {
	v, ok := p.Take(key)
	if !ok {
		return nil
	}
	d, _ := ToDecimal(v)
	return d
}

// TakeString removes key and returns it as a string.
func (p Params) TakeString(key string) string {
	v, ok := p.Take(key)
	if !ok {
		return ""
	}
	return toString(v)
}

// TakeInt64 removes key and returns it as an integer.
func (p Params) TakeInt64(key string) (int64, bool) {
	v, ok := p.Take(key)
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// Request is an endpoint call before signing.
type Request struct {
	API    string `json:"api"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Params Params `json:"params,omitempty"`
	Weight int    `json:"weight"`
}

func NewRequest(api, method, path string) *Request {
	return &Request{
		API:    api,
		Method: method,
		Path:   path,
		Params: make(Params),
		Weight: 1,
	}
}

func (r *Request) SetParam(key string, value any) *Request {
	if r.Params == nil {
		r.Params = make(Params)
	}
	r.Params[key] = value
	return r
}

func (r *Request) SetParams(params Params) *Request {
	if r.Params == nil {
		r.Params = make(Params)
	}
	maps.Copy(r.Params, params)
	return r
}

func (r *Request) SetWeight(weight int) *Request {
	r.Weight = weight
	return r
}

// SignedRequest is the wire-ready form of a Request.
type SignedRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// CreateOrderRequest is the canonical input for placing an order.
type CreateOrderRequest struct {
	Symbol        string
	Type          OrderType
	Side          OrderSide
	Amount        *apd.Decimal
	Price         *apd.Decimal
	ClientOrderID string
	// PositionSide is BOTH, LONG or SHORT; sent uppercased when set.
	PositionSide string
	// ReduceOnly is sent when non-nil.
	ReduceOnly *bool
	// Params carries exchange-specific extras such as stopPrice or quoteOrderQty.
	Params Params
}
