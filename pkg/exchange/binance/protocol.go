package binance

import (
	"fmt"
	"net/http"
	"strings"
)

const exchangeName = "binance"

// API families. Each family has its own base URL and authentication rule.
const (
	APIPublic        = "public"
	APIPrivate       = "private"
	APISapi          = "sapi"
	APIWapi          = "wapi"
	APIWeb           = "web"
	APIFapiPublic    = "fapiPublic"
	APIFapiPrivate   = "fapiPrivate"
	APIFapiPrivateV2 = "fapiPrivateV2"
)

// ProductionURLs maps API families to production base URLs.
func ProductionURLs() map[string]string {
	return map[string]string{
		APIWeb:           "https://www.binance.com",
		APIWapi:          "https://api.binance.com/wapi/v3",
		APISapi:          "https://api.binance.com/sapi/v1",
		APIFapiPublic:    "https://fapi.binance.com/fapi/v1",
		APIFapiPrivate:   "https://fapi.binance.com/fapi/v1",
		APIFapiPrivateV2: "https://fapi.binance.com/fapi/v2",
		APIPublic:        "https://api.binance.com/api/v3",
		APIPrivate:       "https://api.binance.com/api/v3",
	}
}

// SandboxURLs returns the production table with the futures families pointed
// at the futures testnet.
func SandboxURLs() map[string]string {
	urls := ProductionURLs()
	urls[APIFapiPublic] = "https://testnet.binancefuture.com/fapi/v1"
	urls[APIFapiPrivate] = "https://testnet.binancefuture.com/fapi/v1"
	urls[APIFapiPrivateV2] = "https://testnet.binancefuture.com/fapi/v2"
	return urls
}

// userStreamURL returns the websocket base for user data streams.
func userStreamURL(sandbox bool) string {
	if sandbox {
		return "wss://stream.binancefuture.com/ws"
	}
	return "wss://fstream.binance.com/ws"
}

// isPrivateAPI reports whether calls on the family are signed.
func isPrivateAPI(api, path string) bool {
	switch api {
	case APIPrivate, APISapi, APIFapiPrivate, APIFapiPrivateV2:
		return true
	case APIWapi:
		return path != "systemStatus"
	}
	return false
}

// isUserDataStream reports whether path is a listen key endpoint. Those need
// the API key header but are never signed.
func isUserDataStream(path string) bool {
	return path == "userDataStream" || path == "listenKey"
}

// Endpoint is one entry of the REST catalogue.
type Endpoint struct {
	API    string
	Method string
	Path   string
	Weight int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s %s %s", e.API, e.Method, e.Path)
}

// catalogue lists every endpoint the client may call, keyed by family,
// method and path. Weights follow the futures API documentation.
var catalogue = buildCatalogue(map[string]map[string][]string{
	APIFapiPublic: {
		http.MethodGet: {
			"ping", "time", "exchangeInfo", "depth", "trades", "historicalTrades",
			"aggTrades", "klines", "fundingRate", "premiumIndex", "ticker/24hr",
			"ticker/price", "ticker/bookTicker", "allForceOrders", "openInterest",
			"leverageBracket",
		},
	},
	APIFapiPrivate: {
		http.MethodGet: {
			"allOrders", "openOrder", "openOrders", "order", "account", "balance",
			"positionSide/dual", "positionMargin/history", "positionRisk",
			"userTrades", "income",
		},
		http.MethodPost: {
			"batchOrders", "positionSide/dual", "positionMargin", "marginType",
			"order", "leverage", "listenKey",
		},
		http.MethodPut:    {"listenKey"},
		http.MethodDelete: {"batchOrders", "order", "allOpenOrders", "listenKey"},
	},
	APIFapiPrivateV2: {
		http.MethodGet: {"positionRisk", "account", "balance"},
	},
	APIPublic: {
		http.MethodGet: {
			"ping", "time", "depth", "trades", "aggTrades", "historicalTrades",
			"klines", "ticker/24hr", "ticker/price", "ticker/bookTicker", "exchangeInfo",
		},
		http.MethodPut:    {"userDataStream"},
		http.MethodPost:   {"userDataStream"},
		http.MethodDelete: {"userDataStream"},
	},
	APIPrivate: {
		http.MethodGet: {
			"allOrderList", "openOrderList", "orderList", "order", "openOrders",
			"allOrders", "account", "myTrades",
		},
		http.MethodPost:   {"order/oco", "order", "order/test"},
		http.MethodDelete: {"orderList", "order"},
	},
})

var weights = map[string]int{
	"exchangeInfo":      1,
	"depth":             10,
	"historicalTrades":  20,
	"klines":            5,
	"ticker/24hr":       40,
	"allOrders":         5,
	"openOrders":        40,
	"account":           5,
	"balance":           5,
	"positionRisk":      5,
	"userTrades":        5,
	"income":            30,
	"allForceOrders":    20,
	"leverageBracket":   1,
	"batchOrders":       5,
	"allOpenOrders":     1,
	"positionSide/dual": 30,
}

func buildCatalogue(table map[string]map[string][]string) map[string]Endpoint {
	out := make(map[string]Endpoint)
	for api, methods := range table {
		for method, paths := range methods {
			for _, path := range paths {
				w, ok := weights[path]
				if !ok {
					w = 1
				}
				out[endpointKey(api, method, path)] = Endpoint{API: api, Method: method, Path: path, Weight: w}
			}
		}
	}
	return out
}

func endpointKey(api, method, path string) string {
	return api + " " + strings.ToUpper(method) + " " + path
}

// LookupEndpoint returns the catalogue entry for the call.
func LookupEndpoint(api, method, path string) (Endpoint, bool) {
	e, ok := catalogue[endpointKey(api, method, path)]
	return e, ok
}

// formatSymbol converts a unified symbol into a market id when the market is
// not loaded.
func formatSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// feeTier is a VIP level commission schedule.
type feeTier struct {
	Level int
	Maker string
	Taker string
}

// feeTiers is the USDⓈ-M futures commission table indexed by account feeTier.
var feeTiers = []feeTier{
	{0, "0.00020", "0.00040"},
	{1, "0.00016", "0.00040"},
	{2, "0.00014", "0.00035"},
	{3, "0.00012", "0.00032"},
	{4, "0.00010", "0.00030"},
	{5, "0.00008", "0.00027"},
	{6, "0.00006", "0.00025"},
	{7, "0.00004", "0.00022"},
	{8, "0.00002", "0.00020"},
	{9, "0.00000", "0.00017"},
}
