package interfaces

import (
	"errors"
	"fmt"
)

// Common error variables that exchange connectors may return
var (
	// ErrNotConnected is returned when an operation is attempted on a
	// connector that hasn't been connected yet or lost connection
	ErrNotConnected = errors.New("exchange connector not connected")

	// ErrInvalidSymbol is returned when a symbol is missing from the
	// loaded market table
	ErrInvalidSymbol = errors.New("invalid trading pair symbol")

	// ErrInvalidTimeframe is returned when an unsupported candle timeframe
	// is requested
	ErrInvalidTimeframe = errors.New("invalid candle timeframe")

	// ErrNotSupported is returned when an exchange does not offer the
	// requested channel kind
	ErrNotSupported = errors.New("channel kind not supported by exchange")

	// ErrUnknownResponse is returned when a frame's correlation key matches
	// no registered channel or its shape is unrecognized. This is a protocol
	// violation and fatal to the connection's processing of that frame.
	ErrUnknownResponse = errors.New("unknown websocket response")

	// ErrSubscribe is returned when the exchange rejected a subscribe
	// request (already subscribed, unknown channel, unknown pair)
	ErrSubscribe = errors.New("subscribe rejected by exchange")

	// ErrUnsubscribe is returned when the exchange rejected an unsubscribe
	// request
	ErrUnsubscribe = errors.New("unsubscribe rejected by exchange")

	// ErrChannelLimitExceeded is returned when the exchange itself throttles
	// channel registration, distinct from local connection rate limiting
	ErrChannelLimitExceeded = errors.New("exchange channel limit exceeded")

	// ErrReconnect is returned when the exchange signals that all of a
	// connection's subscriptions must be rebuilt. The core never reconnects
	// by itself; the caller owns reconnect policy.
	ErrReconnect = errors.New("exchange requested resubscription of all channels")

	// ErrOnMaintenance is returned when the exchange is undergoing
	// maintenance and activity should pause before resubscribing
	ErrOnMaintenance = errors.New("exchange is on maintenance")
)

// ExchangeError wraps an exchange-reported failure with the native code and
// message, classified under one of the sentinel errors above.
type ExchangeError struct {
	Code    int
	Message string
	Err     error
}

// Error implements the error interface
func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%v: %s (code %d)", e.Err, e.Message, e.Code)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Message)
}

// Unwrap returns the sentinel this error is classified under
func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// NewExchangeError classifies an exchange-reported failure under sentinel.
func NewExchangeError(sentinel error, code int, message string) error {
	return &ExchangeError{Code: code, Message: message, Err: sentinel}
}
