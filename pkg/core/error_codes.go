package core

import "errors"

// ErrorCode represents a library-level error identifier, set on errors that
// originate locally rather than from an exchange error code.
type ErrorCode string

const (
	ErrCodeNetwork    ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeout    ErrorCode = "TIMEOUT"
	ErrCodeRateLimit  ErrorCode = "RATE_LIMIT"
	ErrCodeBadRequest ErrorCode = "BAD_REQUEST"

	// ErrCodeTemporaryBan marks a credential rejection seen after the session
	// had already authenticated successfully.
	ErrCodeTemporaryBan ErrorCode = "TEMPORARY_BAN"

	// ErrCodeBodyPattern marks an order rejection recognized from the raw body text.
	ErrCodeBodyPattern ErrorCode = "BODY_PATTERN"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Client state errors
	ErrCodeClientClosed ErrorCode = "CLIENT_CLOSED"

	// Circuit breaker errors
	ErrCodeCircuitBreaker ErrorCode = "CIRCUIT_BREAKER_OPEN"

	// Authentication errors
	ErrCodeNoCredentials ErrorCode = "NO_CREDENTIALS"
	ErrCodeNoAPIKey      ErrorCode = "NO_API_KEY"

	// Request validation errors
	ErrCodeMissingArgument ErrorCode = "MISSING_ARGUMENT"
	ErrCodeMissingPrice    ErrorCode = "MISSING_PRICE"
	ErrCodeMissingStop     ErrorCode = "MISSING_STOP_PRICE"
	ErrCodeMissingAmount   ErrorCode = "MISSING_AMOUNT"
	ErrCodeUnknownMarket   ErrorCode = "UNKNOWN_MARKET"
)

// IsErrorCode checks if the error matches the specified error code.
// It extracts the exchange error and compares its code field against the provided ErrorCode.
func IsErrorCode(err error, code ErrorCode) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return ErrorCode(exErr.Code) == code
	}
	return false
}
