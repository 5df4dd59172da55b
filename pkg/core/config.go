package core

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// Credentials holds API authentication credentials for an exchange.
type Credentials struct {
	// APIKey is the public API key identifier, sent in a header.
	APIKey string `json:"api_key"`
	// SecretKey is the private key used for HMAC signing.
	SecretKey string `json:"secret_key"`
}

// Config contains all configuration options for an exchange client.
// It includes authentication, networking, rate limiting, market caching,
// circuit breaker and request-shaping settings.
type Config struct {
	Exchange    string       `json:"exchange" validate:"required"`
	Sandbox     bool         `json:"sandbox"`
	Credentials *Credentials `json:"credentials,omitempty"`

	// Timeout is the maximum duration for HTTP requests.
	Timeout      time.Duration `json:"timeout" validate:"min=1ms"`
	MaxRetries   int           `json:"max_retries" validate:"min=0"`
	RetryWaitMin time.Duration `json:"retry_wait_min" validate:"min=0"`
	RetryWaitMax time.Duration `json:"retry_wait_max" validate:"min=0"`

	// RateLimitRequests is the request weight budget per RateLimitPeriod.
	RateLimitRequests int           `json:"rate_limit_requests" validate:"min=1"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" validate:"min=1ms"`

	// CacheEnabled keeps loaded markets for CacheTTL before reloading.
	CacheEnabled bool          `json:"cache_enabled"`
	CacheTTL     time.Duration `json:"cache_ttl" validate:"min=0"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout"`

	// RecvWindow is the accepted clock skew for signed requests.
	RecvWindow time.Duration `json:"recv_window" validate:"min=1ms,max=60s"`
	// DefaultTimeInForce is applied to order types that require one.
	DefaultTimeInForce string `json:"default_time_in_force" validate:"oneof=GTC IOC FOK GTX"`
	// ParseOrderToPrecision re-rounds parsed order fields to market precision.
	ParseOrderToPrecision bool `json:"parse_order_to_precision"`
	// ClientOrderIDPrefix is prepended to every client order id.
	ClientOrderIDPrefix string `json:"client_order_id_prefix" validate:"max=16"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config initialized with sensible defaults for the specified exchange.
// Default values: 10s timeout, 3 retries, 100ms-1s retry wait, 2400 weight/min rate limit,
// 1h market cache, circuit breaker with 5 failures/2 successes/30s timeout, 5s recv window, GTC.
func DefaultConfig(exchange string) *Config {
	return &Config{
		Exchange:     exchange,
		Sandbox:      false,
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 1 * time.Second,

		RateLimitRequests: 2400,
		RateLimitPeriod:   time.Minute,

		CacheEnabled: true,
		CacheTTL:     time.Hour,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,

		RecvWindow:          5 * time.Second,
		DefaultTimeInForce:  "GTC",
		ClientOrderIDPrefix: "x-",

		LogLevel: "info",
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.CircuitBreakerEnabled {
		if c.CircuitBreakerFailThreshold <= 0 {
			return errors.New("CircuitBreakerFailThreshold must be positive when enabled")
		}
		if c.CircuitBreakerSuccessThreshold <= 0 {
			return errors.New("CircuitBreakerSuccessThreshold must be positive when enabled")
		}
		if c.CircuitBreakerTimeout <= 0 {
			return errors.New("CircuitBreakerTimeout must be positive when enabled")
		}
	}
	return nil
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(creds *Credentials) *Config {
	c.Credentials = creds
	return c
}

// WithSandbox enables or disables sandbox mode and returns the config for chaining.
func (c *Config) WithSandbox(sandbox bool) *Config {
	c.Sandbox = sandbox
	return c
}

// WithTimeout sets the request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRateLimit sets the rate limiting parameters and returns the config for chaining.
func (c *Config) WithRateLimit(requests int, period time.Duration) *Config {
	c.RateLimitRequests = requests
	c.RateLimitPeriod = period
	return c
}

// WithCache enables or disables market caching with the specified TTL and returns the config for chaining.
func (c *Config) WithCache(enabled bool, ttl time.Duration) *Config {
	c.CacheEnabled = enabled
	c.CacheTTL = ttl
	return c
}

// WithRecvWindow sets the signed request receive window.
func (c *Config) WithRecvWindow(window time.Duration) *Config {
	c.RecvWindow = window
	return c
}

// WithDefaultTimeInForce sets the time in force used when an order type requires one.
func (c *Config) WithDefaultTimeInForce(tif string) *Config {
	c.DefaultTimeInForce = tif
	return c
}

// WithParseOrderToPrecision toggles precision re-rounding of parsed orders.
func (c *Config) WithParseOrderToPrecision(enabled bool) *Config {
	c.ParseOrderToPrecision = enabled
	return c
}

// WithClientOrderIDPrefix sets the prefix applied to client order ids.
func (c *Config) WithClientOrderIDPrefix(prefix string) *Config {
	c.ClientOrderIDPrefix = prefix
	return c
}
