package binance

import (
	"maps"

	"perpgate/pkg/core"
)

// ExceptionTable maps exact wire messages and error codes to error kinds.
// It is read-only after construction and may be shared between clients.
type ExceptionTable struct {
	exact  map[string]core.ErrorType
	ignore map[string]struct{}
}

// NewExceptionTable copies exact and ignore into a new table.
func NewExceptionTable(exact map[string]core.ErrorType, ignore []string) ExceptionTable {
	t := ExceptionTable{
		exact:  maps.Clone(exact),
		ignore: make(map[string]struct{}, len(ignore)),
	}
	if t.exact == nil {
		t.exact = make(map[string]core.ErrorType)
	}
	for _, code := range ignore {
		t.ignore[code] = struct{}{}
	}
	return t
}

// DefaultExceptions returns the USDⓈ-M futures table.
func DefaultExceptions() ExceptionTable {
	return NewExceptionTable(map[string]core.ErrorType{
		"API key does not exist":                                core.ErrorTypeAuthentication,
		"Order would trigger immediately.":                      core.ErrorTypeInvalidOrder,
		"Account has insufficient balance for requested action.": core.ErrorTypeInsufficientFunds,
		"Rest API trading is not enabled.":                      core.ErrorTypeExchangeNotAvailable,
		"You don't have permission.":                            core.ErrorTypePermissionDenied,
		"Market is closed.":                                     core.ErrorTypeExchangeNotAvailable,

		"-1000": core.ErrorTypeExchangeNotAvailable, // UNKNOWN
		"-1013": core.ErrorTypeInvalidOrder,         // filter failure
		"-1021": core.ErrorTypeInvalidNonce,         // timestamp outside recvWindow
		"-1022": core.ErrorTypeAuthentication,       // invalid signature
		"-1100": core.ErrorTypeInvalidOrder,         // illegal characters in parameter
		"-1104": core.ErrorTypeExchange,             // not all parameters read
		"-1128": core.ErrorTypeExchange,             // invalid optional parameter combination
		"-2010": core.ErrorTypeExchange,             // new order rejected
		"-2011": core.ErrorTypeNotFound,             // cancel rejected
		"-2013": core.ErrorTypeNotFound,             // order does not exist
		"-2014": core.ErrorTypeAuthentication,       // bad api key format
		"-2015": core.ErrorTypeAuthentication,       // invalid key, IP or permissions
		"-2019": core.ErrorTypeInsufficientFunds,    // margin is insufficient
		"-4047": core.ErrorTypeMarginModeChange,     // open orders block margin type change
		"-4050": core.ErrorTypeInsufficientFunds,    // cross balance insufficient
		"-4061": core.ErrorTypePositionModeChange,   // position side mismatch
		"-4067": core.ErrorTypePositionModeChange,   // open orders block position side change
		"-4068": core.ErrorTypePositionModeChange,   // open positions block position side change
	}, []string{
		"-4046", // no need to change margin type
		"-4059", // no need to change position side
	})
}

// Lookup returns the kind registered for an exact message or code.
func (t ExceptionTable) Lookup(key string) (core.ErrorType, bool) {
	kind, ok := t.exact[key]
	return kind, ok
}

// Ignored reports whether code is a benign no-op.
func (t ExceptionTable) Ignored(code string) bool {
	_, ok := t.ignore[code]
	return ok
}
