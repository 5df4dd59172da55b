package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Payload is a decoded JSON object as returned by the exchange.
// Accessors never fail: absent or malformed values yield the zero value
// (or nil for decimals) so partial data survives.
type Payload map[string]any

// Has reports whether key is present, even when its value is null.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Decimal returns the value at key as a decimal, or nil.
func (p Payload) Decimal(key string) *apd.Decimal {
	return p.DecimalOr(key, nil)
}

// DecimalOr returns the value at key as a decimal, or def when the key is
// absent or the value cannot be parsed.
func (p Payload) DecimalOr(key string, def *apd.Decimal) *apd.Decimal {
	v, ok := p[key]
	if !ok {
		return def
	}
	d, ok := ToDecimal(v)
	if !ok {
		return def
	}
	return d
}

// DecimalEither tries key1 then key2.
func (p Payload) DecimalEither(key1, key2 string) *apd.Decimal {
	return p.DecimalEitherOr(key1, key2, nil)
}

// DecimalEitherOr tries key1 then key2 and falls back to def.
func (p Payload) DecimalEitherOr(key1, key2 string, def *apd.Decimal) *apd.Decimal {
	if d := p.Decimal(key1); d != nil {
		return d
	}
	return p.DecimalOr(key2, def)
}

// String returns the value at key rendered as a string, or "".
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	return toString(v)
}

// StringEither tries key1 then key2.
func (p Payload) StringEither(key1, key2 string) string {
	if s := p.String(key1); s != "" {
		return s
	}
	return p.String(key2)
}

// Int64 returns the value at key as an integer and whether it was usable.
func (p Payload) Int64(key string) (int64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// Int64Either tries key1 then key2.
func (p Payload) Int64Either(key1, key2 string) (int64, bool) {
	if i, ok := p.Int64(key1); ok {
		return i, true
	}
	return p.Int64(key2)
}

// Bool returns the value at key as a boolean and whether it was usable.
// The strings "true" and "false" are accepted.
func (p Payload) Bool(key string) (value bool, ok bool) {
	v, present := p[key]
	if !present {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, false
		}
		return parsed, true
	}
	return false, false
}

// Millis reads an epoch-milliseconds field as a time. The zero time means absent.
func (p Payload) Millis(key string) time.Time {
	ms, ok := p.Int64(key)
	if !ok || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// MillisEither tries key1 then key2.
func (p Payload) MillisEither(key1, key2 string) time.Time {
	if t := p.Millis(key1); !t.IsZero() {
		return t
	}
	return p.Millis(key2)
}

// Slice returns the array at key, or nil.
func (p Payload) Slice(key string) []any {
	s, _ := p[key].([]any)
	return s
}

// Map returns the object at key, or nil.
func (p Payload) Map(key string) Payload {
	return AsPayload(p[key])
}

// AsPayload converts a decoded JSON value into a Payload when it is an object.
func AsPayload(v any) Payload {
	switch m := v.(type) {
	case Payload:
		return m
	case map[string]any:
		return Payload(m)
	}
	return nil
}

// AsPayloads converts a decoded JSON array into payloads, skipping non-objects.
func AsPayloads(v any) []Payload {
	items, ok := v.([]any)
	if !ok {
		if ps, ok := v.([]Payload); ok {
			return ps
		}
		return nil
	}
	out := make([]Payload, 0, len(items))
	for _, item := range items {
		if p := AsPayload(item); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// ToDecimal converts a loosely typed wire value into a decimal. Floats are
// formatted with the shortest representation first so no binary arithmetic
// touches the value.
func ToDecimal(v any) (*apd.Decimal, bool) {
	var s string
	switch n := v.(type) {
	case nil:
		return nil, false
	case string:
		s = strings.TrimSpace(n)
	case json.Number:
		s = n.String()
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, false
		}
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		s = strconv.FormatFloat(f, 'f', -1, 32)
	case int:
		return apd.New(int64(n), 0), true
	case int32:
		return apd.New(int64(n), 0), true
	case int64:
		return apd.New(n, 0), true
	case uint32:
		return apd.New(int64(n), 0), true
	case apd.Decimal:
		return new(apd.Decimal).Set(&n), true
	case *apd.Decimal:
		if n == nil {
			return nil, false
		}
		return new(apd.Decimal).Set(n), true
	default:
		return nil, false
	}

	if s == "" {
		return nil, false
	}
	d, _, err := apd.NewFromString(s)
	if err != nil || d.Form != apd.Finite {
		return nil, false
	}
	return d, true
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case *apd.Decimal:
		if s == nil {
			return ""
		}
		return s.Text('f')
	}
	return ""
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		return decimalToInt64(n.String())
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
		return decimalToInt64(n)
	}
	return 0, false
}

// decimalToInt64 accepts integral values written in decimal or exponent form ("5.0", "1e3").
func decimalToInt64(s string) (int64, bool) {
	d, ok := ToDecimal(s)
	if !ok {
		return 0, false
	}
	i, err := d.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}
