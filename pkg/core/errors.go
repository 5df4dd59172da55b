package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of an exchange error.
type ErrorType int

// Error type constants categorize errors for proper handling and retry logic.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork indicates a network connectivity issue.
	ErrorTypeNetwork
	// ErrorTypeTimeout indicates the request exceeded its deadline.
	ErrorTypeTimeout
	// ErrorTypeRateLimit indicates rate limiting or a temporary ban (DDoS protection).
	ErrorTypeRateLimit
	// ErrorTypeAuthentication indicates missing, invalid or expired credentials.
	ErrorTypeAuthentication
	// ErrorTypeBadRequest indicates malformed caller parameters.
	ErrorTypeBadRequest
	// ErrorTypeNotFound indicates the referenced order does not exist.
	ErrorTypeNotFound
	// ErrorTypeServerError indicates a server-side error.
	ErrorTypeServerError
	// ErrorTypeInsufficientFunds indicates account lacks required balance or margin.
	ErrorTypeInsufficientFunds
	// ErrorTypeInvalidOrder indicates the order violates exchange rules.
	ErrorTypeInvalidOrder
	// ErrorTypeInvalidNonce is an authentication failure caused by the request timestamp.
	ErrorTypeInvalidNonce
	// ErrorTypePermissionDenied indicates the key lacks the required permission.
	ErrorTypePermissionDenied
	// ErrorTypeArgumentsRequired indicates a correlating argument such as symbol is missing.
	ErrorTypeArgumentsRequired
	// ErrorTypeExchangeNotAvailable indicates the venue or endpoint is not accepting requests.
	ErrorTypeExchangeNotAvailable
	// ErrorTypeExchange is the catch-all for recognized but uncategorized exchange errors.
	ErrorTypeExchange
	// ErrorTypeMarginModeChange indicates a margin type change was refused.
	ErrorTypeMarginModeChange
	// ErrorTypePositionModeChange indicates a position side mode change was refused.
	ErrorTypePositionModeChange
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"NETWORK",
		"TIMEOUT",
		"RATE_LIMIT",
		"AUTHENTICATION",
		"BAD_REQUEST",
		"NOT_FOUND",
		"SERVER_ERROR",
		"INSUFFICIENT_FUNDS",
		"INVALID_ORDER",
		"INVALID_NONCE",
		"PERMISSION_DENIED",
		"ARGUMENTS_REQUIRED",
		"EXCHANGE_NOT_AVAILABLE",
		"EXCHANGE_ERROR",
		"MARGIN_MODE_CHANGE",
		"POSITION_MODE_CHANGE",
	}[t]
}

// Sentinel errors for common error conditions.
var (
	// ErrClientClosed is returned when attempting to use a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrStreamClosed is returned when attempting to use a closed stream.
	ErrStreamClosed = errors.New("stream is closed")
	// ErrNotConnected is returned when WebSocket is not connected.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrCircuitBreakerOpen is returned when circuit breaker is open.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrNoCredentials is returned when no API credentials are configured.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrNoAPIKey is returned when no API key is available.
	ErrNoAPIKey = errors.New("no available API key")
)

// ExchangeError represents a structured error returned from an exchange.
// It provides detailed context for debugging and error handling.
type ExchangeError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// StatusCode is the HTTP status code from the response, 0 for local validation.
	StatusCode int `json:"status_code"`
	// Code is the exchange-specific error code.
	Code string `json:"code"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// RawError contains the original error response for debugging.
	RawError any `json:"raw_error,omitempty"`
	// Exchange identifies which exchange returned this error.
	Exchange string `json:"exchange"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface for ExchangeError.
// It returns a formatted string with exchange name, error type, status code, and message.
func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s (%d/%s): %s",
			e.Exchange, e.Type, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s (%d): %s",
		e.Exchange, e.Type, e.StatusCode, e.Message)
}

// WithCode returns the ExchangeError with the specified error code.
func (e *ExchangeError) WithCode(code ErrorCode) *ExchangeError {
	e.Code = string(code)
	return e
}

// WithRaw attaches the raw response body or payload.
func (e *ExchangeError) WithRaw(raw any) *ExchangeError {
	e.RawError = raw
	return e
}

// NewExchangeError creates a new ExchangeError with the specified details.
// The timestamp is automatically set to the current time.
func NewExchangeError(exchange string, errorType ErrorType, statusCode int, message string) *ExchangeError {
	return &ExchangeError{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
		Exchange:   exchange,
		Timestamp:  time.Now(),
	}
}

// NewExchangeErrorWithCode creates a new ExchangeError including an exchange-specific error code.
// The timestamp is automatically set to the current time.
func NewExchangeErrorWithCode(exchange string, errorType ErrorType, statusCode int, code, message string) *ExchangeError {
	return &ExchangeError{
		Type:       errorType,
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Exchange:   exchange,
		Timestamp:  time.Now(),
	}
}

// NewValidationError builds an error raised before any request is sent.
func NewValidationError(exchange string, errorType ErrorType, format string, args ...any) *ExchangeError {
	return NewExchangeError(exchange, errorType, 0, fmt.Sprintf(format, args...))
}

// ErrorTypeOf returns the category of err, or ErrorTypeUnknown when err does
// not wrap an *ExchangeError.
func ErrorTypeOf(err error) ErrorType {
	var e *ExchangeError
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

func hasType(err error, types ...ErrorType) bool {
	var e *ExchangeError
	if !errors.As(err, &e) {
		return false
	}
	for _, t := range types {
		if e.Type == t {
			return true
		}
	}
	return false
}

// IsNetworkError returns true if the error is a network connectivity issue.
// Network errors are typically retryable.
func IsNetworkError(err error) bool {
	return hasType(err, ErrorTypeNetwork)
}

// IsTimeoutError returns true if the error is a timeout.
func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

// IsRateLimitError returns true if the error is a rate limit violation or a temporary ban.
// Rate limit errors should be retried after a delay.
func IsRateLimitError(err error) bool {
	return hasType(err, ErrorTypeRateLimit)
}

// IsAuthenticationError returns true if the error is an authentication failure,
// including invalid nonce (timestamp outside the receive window).
func IsAuthenticationError(err error) bool {
	return hasType(err, ErrorTypeAuthentication, ErrorTypeInvalidNonce)
}

// IsInvalidNonceError returns true if the request timestamp was rejected.
func IsInvalidNonceError(err error) bool {
	return hasType(err, ErrorTypeInvalidNonce)
}

// IsPermissionDeniedError returns true if the key lacks permission.
func IsPermissionDeniedError(err error) bool {
	return hasType(err, ErrorTypePermissionDenied)
}

// IsInvalidOrderError returns true if the order was rejected for its parameters.
func IsInvalidOrderError(err error) bool {
	return hasType(err, ErrorTypeInvalidOrder)
}

// IsInsufficientFundsError returns true if balance or margin was insufficient.
func IsInsufficientFundsError(err error) bool {
	return hasType(err, ErrorTypeInsufficientFunds)
}

// IsOrderNotFoundError returns true if the referenced order is unknown.
func IsOrderNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsBadRequestError returns true if caller parameters were malformed.
func IsBadRequestError(err error) bool {
	return hasType(err, ErrorTypeBadRequest)
}

// IsArgumentsRequiredError returns true if a required argument was missing.
func IsArgumentsRequiredError(err error) bool {
	return hasType(err, ErrorTypeArgumentsRequired)
}

// IsExchangeNotAvailableError returns true if the venue refused service.
func IsExchangeNotAvailableError(err error) bool {
	return hasType(err, ErrorTypeExchangeNotAvailable)
}

// IsTerminalError returns true if the error indicates a terminal condition.
// Terminal errors should not be retried as they will not succeed.
func IsTerminalError(err error) bool {
	return hasType(err,
		ErrorTypeInsufficientFunds,
		ErrorTypeInvalidOrder,
		ErrorTypeNotFound,
		ErrorTypeBadRequest,
		ErrorTypeArgumentsRequired,
		ErrorTypePermissionDenied,
	)
}

// IsRejection reports whether err is a definitive answer from the exchange
// rather than a transport or availability failure.
func IsRejection(err error) bool {
	switch ErrorTypeOf(err) {
	case ErrorTypeUnknown, ErrorTypeNetwork, ErrorTypeTimeout,
		ErrorTypeServerError, ErrorTypeExchangeNotAvailable:
		return false
	}
	return true
}
