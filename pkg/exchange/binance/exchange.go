package binance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"perpgate/internal/circuitbreaker"
	httpClient "perpgate/internal/http"
	"perpgate/internal/keyring"
	"perpgate/internal/metrics"
	"perpgate/internal/ratelimit"
	"perpgate/pkg/core"
	"perpgate/pkg/exchange"
)

// wireJSON decodes response bodies with numbers kept as json.Number so no
// decimal ever passes through a float64.
var wireJSON = sonic.Config{UseNumber: true}.Froze()

const (
	maxOrderBookLimit = 5000
	maxOrdersLimit    = 1000

	// ordersBucket meters order placement separately from request weight.
	ordersBucket = "orders"
)

var incomeTypes = []string{
	"TRANSFER", "WELCOME_BONUS", "REALIZED_PNL", "FUNDING_FEE", "COMMISSION", "INSURANCE_CLEAR",
}

// Exchange is the Binance USDⓈ-M perpetual futures client.
type Exchange struct {
	config      *core.Config
	keyRing     *keyring.KeyRing
	http        *httpClient.Client
	rateLimiter *ratelimit.RateLimiter
	breaker     *circuitbreaker.Breaker
	metrics     *metrics.Collector
	logger      zerolog.Logger

	signer     *Signer
	markets    *core.MarketIndex
	builder    *OrderRequestBuilder
	normalizer *Normalizer
	classifier *ErrorClassifier

	authenticated atomic.Bool
	closed        atomic.Bool
	loadMu        sync.Mutex
}

var _ exchange.Swap = (*Exchange)(nil)

type Option func(*Options)

type Options struct {
	KeyRing    *keyring.KeyRing
	Logger     zerolog.Logger
	URLs       map[string]string
	Registerer prometheus.Registerer
	Exceptions *ExceptionTable
	Clock      func() time.Time
}

// WithKeyRing rotates credentials from kr instead of Config.Credentials.
func WithKeyRing(kr *keyring.KeyRing) Option {
	return func(o *Options) {
		o.KeyRing = kr
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithURLs overrides the per-family base URLs.
func WithURLs(urls map[string]string) Option {
	return func(o *Options) {
		o.URLs = urls
	}
}

// WithRegisterer registers the client's prometheus collectors on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = reg
	}
}

// WithExceptions replaces the default error table.
func WithExceptions(table ExceptionTable) Option {
	return func(o *Options) {
		o.Exceptions = &table
	}
}

// WithClock sets the time source used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Clock = now
	}
}

func New(config *core.Config, opts ...Option) (*Exchange, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	options := &Options{
		Logger: zerolog.Nop(),
		Clock:  time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.URLs == nil {
		options.URLs = ProductionURLs()
		if config.Sandbox {
			options.URLs = SandboxURLs()
		}
	}
	exceptions := DefaultExceptions()
	if options.Exceptions != nil {
		exceptions = *options.Exceptions
	}
	if level, err := zerolog.ParseLevel(config.LogLevel); err == nil && config.LogLevel != "" {
		options.Logger = options.Logger.Level(level)
	}
	logger := options.Logger.With().Str("exchange", exchangeName).Logger()

	client, err := httpClient.NewClient(&httpClient.Config{
		Timeout:      config.Timeout,
		MaxRetries:   config.MaxRetries,
		RetryWaitMin: config.RetryWaitMin,
		RetryWaitMax: config.RetryWaitMax,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	e := &Exchange{
		config:  config,
		keyRing: options.KeyRing,
		http:    client,
		metrics: metrics.New(options.Registerer),
		logger:  logger,
		signer:  NewSigner(options.URLs, config.RecvWindow).WithClock(options.Clock),
		markets: core.NewMarketIndex(nil),
	}

	if config.RateLimitRequests > 0 {
		e.rateLimiter = ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod)
		// 300 orders per 10s per account.
		e.rateLimiter.SetBucketLimit(ordersBucket, 300, 10*time.Second)
	}

	if config.CircuitBreakerEnabled {
		e.breaker = circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    config.CircuitBreakerFailThreshold,
			SuccessThreshold: config.CircuitBreakerSuccessThreshold,
			Timeout:          config.CircuitBreakerTimeout,
			IsFailure: func(err error) bool {
				return err != nil && !core.IsRejection(err)
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				e.metrics.SetBreakerState(exchangeName, int(to))
				e.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		})
	}

	e.builder = NewOrderRequestBuilder(NewClientOrderIDGenerator(), config.DefaultTimeInForce, config.ClientOrderIDPrefix)
	e.normalizer = NewNormalizer(e.markets, config.ParseOrderToPrecision)
	e.classifier = NewErrorClassifier(exceptions, e.authenticated.Load)

	return e, nil
}

func (e *Exchange) Name() string {
	return exchangeName
}

// Close releases the HTTP client. Later calls fail with core.ErrClientClosed.
func (e *Exchange) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.http.Close()
}

// Markets exposes the loaded market index.
func (e *Exchange) Markets() core.MarketSource {
	return e.markets
}

// LoadMarkets returns the cached markets, fetching them when the cache is
// empty, expired, disabled or reload is set.
func (e *Exchange) LoadMarkets(ctx context.Context, reload bool) ([]*core.Market, error) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if !reload && e.marketsFresh() {
		return e.markets.Markets(), nil
	}

	markets, err := e.FetchMarkets(ctx)
	if err != nil {
		return nil, err
	}
	e.markets.Replace(markets)
	e.logger.Debug().Int("markets", len(markets)).Msg("markets loaded")
	return markets, nil
}

func (e *Exchange) marketsFresh() bool {
	if e.markets.Len() == 0 {
		return false
	}
	if !e.config.CacheEnabled {
		return false
	}
	return e.config.CacheTTL == 0 || time.Since(e.markets.LoadedAt()) < e.config.CacheTTL
}

func (e *Exchange) FetchMarkets(ctx context.Context) ([]*core.Market, error) {
	resp, err := e.request(ctx, APIFapiPublic, http.MethodGet, "exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	return e.normalizer.ParseMarkets(core.AsPayload(resp)), nil
}

// market resolves a unified symbol, or a market id, after loading markets.
func (e *Exchange) market(ctx context.Context, symbol string) (*core.Market, error) {
	if _, err := e.LoadMarkets(ctx, false); err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	if m, ok := e.markets.Market(symbol); ok {
		return m, nil
	}
	if m, ok := e.markets.MarketByID(formatSymbol(symbol)); ok {
		return m, nil
	}
	return nil, core.NewValidationError(exchangeName, core.ErrorTypeBadRequest,
		"unknown market %s", symbol).WithCode(core.ErrCodeUnknownMarket)
}

func requireSymbol(method, symbol string) error {
	if symbol != "" {
		return nil
	}
	return core.NewValidationError(exchangeName, core.ErrorTypeArgumentsRequired,
		"%s requires a symbol argument", method).WithCode(core.ErrCodeMissingArgument)
}

func (e *Exchange) FetchTime(ctx context.Context) (time.Time, error) {
	resp, err := e.request(ctx, APIFapiPublic, http.MethodGet, "time", nil)
	if err != nil {
		return time.Time{}, err
	}
	return core.AsPayload(resp).Millis("serverTime"), nil
}

func (e *Exchange) FetchOrderBook(ctx context.Context, symbol string, opts ...exchange.Option) (*core.OrderBook, error) {
	options := exchange.ApplyOptions(opts...)
	market, err := e.market(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"symbol": market.ID}
	if options.Limit > 0 {
		params["limit"] = min(options.Limit, maxOrderBookLimit)
	}
	resp, err := e.request(ctx, APIFapiPublic, http.MethodGet, "depth", merge(params, options.Params))
	if err != nil {
		return nil, err
	}
	return e.normalizer.ParseOrderBook(core.AsPayload(resp), market.Symbol), nil
}

func (e *Exchange) FetchBalance(ctx context.Context, opts ...exchange.Option) (*core.Account, error) {
	options := exchange.ApplyOptions(opts...)
	resp, err := e.request(ctx, APIFapiPrivateV2, http.MethodGet, "account", options.Params)
	if err != nil {
		return nil, err
	}
	return e.normalizer.ParseAccount(core.AsPayload(resp)), nil
}

func (e *Exchange) CreateOrder(ctx context.Context, req *core.CreateOrderRequest) (*core.Order, error) {
	if err := requireSymbol("createOrder", req.Symbol); err != nil {
		return nil, err
	}
	market, err := e.market(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	params, err := e.builder.Build(req, market)
	if err != nil {
		return nil, err
	}
	resp, err := e.request(ctx, APIFapiPrivate, http.MethodPost, "order", params)
	if err != nil {
		return nil, err
	}
	return e.normalizer.ParseOrder(core.AsPayload(resp), market), nil
}

// orderRef sets origClientOrderId when a client id is given, orderId otherwise.
func orderRef(params core.Params, method, id string, options *exchange.Options) error {
	if options.ClientOrderID != "" {
		params["origClientOrderId"] = options.ClientOrderID
		return nil
	}
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return core.NewValidationError(exchangeName, core.ErrorTypeBadRequest,
			"%s invalid order id: %q", method, id)
	}
	params["orderId"] = orderID
	return nil
}

func (e *Exchange) CancelOrder(ctx context.Context, id, symbol string, opts ...exchange.Option) (*core.ActionResult, error) {
	if err := requireSymbol("cancelOrder", symbol); err != nil {
		return nil, err
	}
	options := exchange.ApplyOptions(opts...)
	market, err := e.market(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"symbol": market.ID}
	if err := orderRef(params, "cancelOrder", id, options); err != nil {
		return nil, err
	}
	resp, err := e.request(ctx, APIFapiPrivate, http.MethodDelete, "order", merge(params, options.Params))
	if err != nil {
		return nil, err
	}
	return &core.ActionResult{Info: core.AsPayload(resp)}, nil
}

func (e *Exchange) FetchOrder(ctx context.Context, id, symbol string, opts ...exchange.Option) (*core.Order, error) {
	if err := requireSymbol("fetchOrder", symbol); err != nil {
		return nil, err
	}
	options := exchange.ApplyOptions(opts...)
	market, err := e.market(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"symbol": market.ID}
	if err := orderRef(params, "fetchOrder", id, options); err != nil {
		return nil, err
	}
	resp, err := e.request(ctx, APIFapiPrivate, http.MethodGet, "order", merge(params, options.Params))
	if err != nil {
		return nil, err
	}
	return e.normalizer.ParseOrder(core.AsPayload(resp), market), nil
}

func (e *Exchange) FetchOrders(ctx context.Context, symbol string, opts ...exchange.Option) ([]*core.Order, error) {
	if err := requireSymbol("fetchOrders", symbol); err != nil {
		return nil, err
	}
	options := exchange.ApplyOptions(opts...)
	market, err := e.market(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"symbol": market.ID}
	if since := options.SinceMillis(); since > 0 {
		params["startTime"] = since
	}
	if options.Limit > 0 {
		params["limit"] = min(options.Limit, maxOrdersLimit)
	}
	if options.FromID != "" {
		params["orderId"] = options.FromID
	}
	resp, err := e.request(ctx, APIFapiPrivate, http.MethodGet, "allOrders", merge(params, options.Params))
	if err != nil {
		return nil, err
	}
	return e.normalizer.ParseOrders(resp, market, ListFilter{Since: options.Since, Limit: options.Limit}), nil
}

// FetchOpenOrders lists open orders. An empty symbol lists every market.
func (e *Exchange) FetchOpenOrders(ctx context.Context, symbol string, opts ...exchange.Option) ([]*core.Order, error) {
	options := exchange.ApplyOptions(opts...)
	params := core.Params{}

	var market *core.Market
	if symbol != "" {
		m, err := e.market(ctx, symbol)
		if err != nil {
			return nil, err
		}
		market = m
		params["symbol"] = m.ID
	} else if _, err := e.LoadMarkets(ctx, false); err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	if options.FromID != "" {
		params["orderId"] = options.FromID
	}

	resp, err := e.request(ctx, APIFapiPrivate, http.MethodGet, "openOrders", merge(params, options.Params))
	if err != nil {
		return nil, err
	}
	return e.normalizer.ParseOrders(resp, market, ListFilter{Since: options.Since, Limit: options.Limit}), nil
}

// FetchClosedOrders is FetchOrders restricted to closed, canceled and
// canceling orders.
func (e *Exchange) FetchClosedOrders(ctx context.Context, symbol string, opts ...exchange.Option) ([]*core.Order, error) {
	orders, err := e.FetchOrders(ctx, symbol, opts...)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(orders, func(o *core.Order) bool {
		switch o.Status {
		case core.StatusClosed, core.StatusCanceled, core.StatusCanceling:
			return false
		}
		return true
	}), nil
}

func (e *Exchange) FetchMyTrades(ctx context.Context, symbol string, opts ...exchange.Option) ([]*core.Trade, error) {
	if err := requireSymbol("fetchMyTrades", symbol); err != nil {
		return nil, err
	}
	options := exchange.ApplyOptions(opts...)
	market, err := e.market(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"symbol": market.ID}
	if since := options.SinceMillis(); since > 0 {
		params["startTime"] = since
	}
	if options.Limit > 0 {
		params["limit"] = options.Limit
	}
	if options.FromID != "" {
		fromID, err := strconv.ParseInt(options.FromID, 10, 64)
		if err != nil {
			return nil, core.NewValidationError(exchangeName, core.ErrorTypeBadRequest,
				"fetchMyTrades invalid fromId: %s", options.FromID)
		}
		params["fromId"] = fromID
	}
	resp, err := e.request(ctx, APIFapiPrivate, http.MethodGet, "userTrades", merge(params, options.Params))
	if err != nil {
		return nil, err
	}
	return e.normalizer.ParseTrades(resp, market, ListFilter{}), nil
}

func (e *Exchange) ChangeLeverage(ctx context.Context, symbol string, leverage int, opts ...exchange.Option) (*core.ActionResult, error) {
	if err := requireSymbol("changeLeverage", symbol); err != nil {
		return nil, err
	}
	if leverage < 1 {
		return nil, core.NewValidationError(exchangeName, core.ErrorTypeBadRequest,
			"changeLeverage invalid leverage: %d", leverage)
	}
	options := exchange.ApplyOptions(opts...)
	market, err := e.market(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"symbol": market.ID, "leverage": leverage}
	return e.action(ctx, http.MethodPost, "leverage", merge(params, options.Params))
}

func (e *Exchange) ChangeMarginType(ctx context.Context, symbol, marginType string, opts ...exchange.Option) (*core.ActionResult, error) {
	if err := requireSymbol("changeMarginType", symbol); err != nil {
		return nil, err
	}
	marginType = strings.ToUpper(marginType)
	if marginType != "ISOLATED" && marginType != "CROSSED" {
		return nil, core.NewValidationError(exchangeName, core.ErrorTypeBadRequest,
			"changeMarginType invalid type: %s", marginType)
	}
	options := exchange.ApplyOptions(opts...)
	market, err := e.market(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"symbol": market.ID, "marginType": marginType}
	return e.action(ctx, http.MethodPost, "marginType", merge(params, options.Params))
}

// ChangeIsolatedMargin adds (ASC) or removes (DESC) isolated margin.
func (e *Exchange) ChangeIsolatedMargin(ctx context.Context, symbol, direction string, amount *apd.Decimal, opts ...exchange.Option) (*core.ActionResult, error) {
	if err := requireSymbol("changeIsolatedMargin", symbol); err != nil {
		return nil, err
	}
	var marginType int
	switch strings.ToUpper(direction) {
	case "ASC":
		marginType = 1
	case "DESC":
		marginType = 2
	default:
		return nil, core.NewValidationError(exchangeName, core.ErrorTypeBadRequest,
			"changeIsolatedMargin invalid direction: %s", direction)
	}
	if amount == nil {
		return nil, core.NewValidationError(exchangeName, core.ErrorTypeBadRequest,
			"changeIsolatedMargin requires an amount")
	}
	options := exchange.ApplyOptions(opts...)
	market, err := e.market(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := core.Params{"symbol": market.ID, "amount": amount, "type": marginType}
	if options.PositionSide != "" {
		params["positionSide"] = strings.ToUpper(options.PositionSide)
	}
	return e.action(ctx, http.MethodPost, "positionMargin", merge(params, options.Params))
}

func (e *Exchange) ChangePositionSide(ctx context.Context, mode core.PositionMode, opts ...exchange.Option) (*core.ActionResult, error) {
	options := exchange.ApplyOptions(opts...)
	params := core.Params{"dualSidePosition": strconv.FormatBool(mode == core.PositionModeDual)}
	return e.action(ctx, http.MethodPost, "positionSide/dual", merge(params, options.Params))
}

func (e *Exchange) FetchPositionSide(ctx context.Context, opts ...exchange.Option) (core.PositionMode, error) {
	options := exchange.ApplyOptions(opts...)
	resp, err := e.request(ctx, APIFapiPrivate, http.MethodGet, "positionSide/dual", options.Params)
	if err != nil {
		return "", err
	}
	return e.normalizer.ParsePositionMode(core.AsPayload(resp)), nil
}

// FetchTradingFeeRates reports the account's commission tier. The rate is
// account wide, so the returned entry has no symbol.
func (e *Exchange) FetchTradingFeeRates(ctx context.Context, opts ...exchange.Option) ([]core.FeeRate, error) {
	options := exchange.ApplyOptions(opts...)
	resp, err := e.request(ctx, APIFapiPrivate, http.MethodGet, "account", options.Params)
	if err != nil {
		return nil, err
	}
	return []core.FeeRate{e.normalizer.ParseFeeRate(core.AsPayload(resp), "")}, nil
}

// FetchFundingRecords lists income history, FUNDING_FEE entries unless the
// params carry another incomeType.
func (e *Exchange) FetchFundingRecords(ctx context.Context, symbol string, opts ...exchange.Option) ([]*core.FundingRecord, error) {
	options := exchange.ApplyOptions(opts...)
	params := core.Params{"incomeType": "FUNDING_FEE"}

	if symbol != "" {
		market, err := e.market(ctx, symbol)
		if err != nil {
			return nil, err
		}
		params["symbol"] = market.ID
	}
	if since := options.SinceMillis(); since > 0 {
		params["startTime"] = since
	}
	if options.Limit > 0 {
		params["limit"] = options.Limit
	}

	params = merge(params, options.Params)
	if incomeType := fmt.Sprint(params["incomeType"]); !slices.Contains(incomeTypes, incomeType) {
		return nil, core.NewValidationError(exchangeName, core.ErrorTypeBadRequest,
			"fetchFundingRecords invalid incomeType: %s", incomeType)
	}

	resp, err := e.request(ctx, APIFapiPrivate, http.MethodGet, "income", params)
	if err != nil {
		return nil, err
	}
	return e.normalizer.ParseFundingRecords(resp, nil), nil
}

// FetchPositions lists positions, all of them when symbol is empty.
func (e *Exchange) FetchPositions(ctx context.Context, symbol string, opts ...exchange.Option) ([]*core.Position, error) {
	options := exchange.ApplyOptions(opts...)
	unified := ""
	if symbol != "" {
		market, err := e.market(ctx, symbol)
		if err != nil {
			return nil, err
		}
		unified = market.Symbol
	} else if _, err := e.LoadMarkets(ctx, false); err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}

	resp, err := e.request(ctx, APIFapiPrivateV2, http.MethodGet, "positionRisk", options.Params)
	if err != nil {
		return nil, err
	}
	return e.normalizer.ParsePositions(resp, unified, nil), nil
}

// CreateListenKey starts a user data stream and returns its key.
func (e *Exchange) CreateListenKey(ctx context.Context) (string, error) {
	resp, err := e.request(ctx, APIFapiPrivate, http.MethodPost, "listenKey", nil)
	if err != nil {
		return "", err
	}
	key := core.AsPayload(resp).String("listenKey")
	if key == "" {
		return "", core.NewExchangeError(exchangeName, core.ErrorTypeExchange, http.StatusOK, "listenKey missing from response")
	}
	return key, nil
}

// KeepAliveListenKey extends the key's validity by 60 minutes.
func (e *Exchange) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	_, err := e.request(ctx, APIFapiPrivate, http.MethodPut, "listenKey", core.Params{"listenKey": listenKey})
	return err
}

func (e *Exchange) CloseListenKey(ctx context.Context, listenKey string) error {
	_, err := e.request(ctx, APIFapiPrivate, http.MethodDelete, "listenKey", core.Params{"listenKey": listenKey})
	return err
}

// Request calls any endpoint and returns the decoded body. Objects decode to
// map[string]any and numbers to json.Number.
func (e *Exchange) Request(ctx context.Context, api, method, path string, params core.Params) (any, error) {
	return e.request(ctx, api, method, path, params)
}

func (e *Exchange) action(ctx context.Context, method, path string, params core.Params) (*core.ActionResult, error) {
	resp, err := e.request(ctx, APIFapiPrivate, method, path, params)
	if err != nil {
		return nil, err
	}
	return &core.ActionResult{Info: core.AsPayload(resp)}, nil
}

func (e *Exchange) credentials() *core.Credentials {
	if e.keyRing != nil {
		return e.keyRing.Credentials()
	}
	return e.config.Credentials
}

// request runs the call pipeline: rate limit, sign, breaker, transport,
// classification and decoding.
func (e *Exchange) request(ctx context.Context, api, method, path string, params core.Params) (any, error) {
	if e.closed.Load() {
		return nil, core.ErrClientClosed
	}

	weight := 1
	if endpoint, ok := LookupEndpoint(api, method, path); ok {
		weight = endpoint.Weight
	}
	label := method + " " + api + "/" + path

	if e.rateLimiter != nil {
		start := time.Now()
		if err := e.rateLimiter.WaitN(ctx, weight); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		if api == APIFapiPrivate && path == "order" && method == http.MethodPost {
			if err := e.rateLimiter.WaitBucket(ctx, ordersBucket); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
		}
		e.metrics.ObserveRateLimitWait(exchangeName, time.Since(start))
	}

	signed, err := e.signer.Sign(core.NewRequest(api, method, path).SetParams(params).SetWeight(weight), e.credentials())
	if err != nil {
		return nil, err
	}

	var body []byte
	call := func() error {
		resp, err := e.http.Do(ctx, signed)
		if err != nil {
			e.metrics.ObserveRequest(exchangeName, label, 0, 0)
			return transportError(err)
		}
		e.metrics.ObserveRequest(exchangeName, label, resp.StatusCode, resp.Duration)
		if err := e.classify(resp); err != nil {
			return err
		}
		body = resp.Body
		return nil
	}

	if e.breaker != nil {
		err = e.breaker.Do(call)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = core.NewExchangeError(exchangeName, core.ErrorTypeExchangeNotAvailable, 0,
				"circuit breaker open").WithCode(core.ErrCodeCircuitBreaker)
		}
	} else {
		err = call()
	}
	if err != nil {
		e.metrics.ObserveError(exchangeName, core.ErrorTypeOf(err).String())
		if e.keyRing != nil {
			e.keyRing.OnError(err)
		}
		e.logger.Warn().Err(err).Str("endpoint", label).Msg("request failed")
		return nil, err
	}

	if isPrivateAPI(api, path) {
		// Listen key calls carry only the API key, never a signature.
		if !isUserDataStream(path) {
			e.authenticated.Store(true)
		}
		if e.keyRing != nil {
			e.keyRing.MarkUsed()
		}
	}

	if len(body) == 0 {
		return nil, nil
	}
	var out any
	if err := wireJSON.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// classify maps a response to an error. Bodies the classifier accepts still
// fail on an error status unless they carry an ignored code.
func (e *Exchange) classify(resp *httpClient.Response) error {
	if err := e.classifier.Classify(resp.StatusCode, resp.Body); err != nil {
		return err
	}
	if code, ok := wireCode(bytes.TrimSpace(resp.Body)); ok && e.classifier.exceptions.Ignored(code) {
		return nil
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return core.NewExchangeError(exchangeName, core.ErrorTypeServerError, resp.StatusCode,
			strconv.Itoa(resp.StatusCode)+" "+http.StatusText(resp.StatusCode)).WithRaw(string(resp.Body))
	case resp.StatusCode >= http.StatusBadRequest:
		return core.NewExchangeError(exchangeName, core.ErrorTypeExchange, resp.StatusCode,
			strconv.Itoa(resp.StatusCode)+" "+http.StatusText(resp.StatusCode)).WithRaw(string(resp.Body))
	}
	return nil
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewExchangeError(exchangeName, core.ErrorTypeTimeout, 0, err.Error()).
			WithCode(core.ErrCodeTimeout).WithRaw(err)
	}
	if errors.Is(err, httpClient.ErrClosed) {
		return core.ErrClientClosed
	}
	return core.NewExchangeError(exchangeName, core.ErrorTypeNetwork, 0, err.Error()).
		WithCode(core.ErrCodeNetwork).WithRaw(err)
}

// merge copies extra over params. Caller supplied params win.
func merge(params, extra core.Params) core.Params {
	maps.Copy(params, extra)
	return params
}
