package interfaces

import "time"

// Options defines tunables shared by all exchange connectors. The zero
// value is usable; NewOptions fills in reasonable defaults.
type Options struct {
	// PublicURL overrides the exchange's public websocket endpoint.
	// Intended for tests pointing at a local mock server.
	PublicURL string

	// PrivateURL overrides the exchange's private websocket endpoint.
	PrivateURL string

	// HandshakeTimeout bounds the websocket dial handshake.
	HandshakeTimeout time.Duration

	// DialAttempts is the number of connection attempts before a dial
	// error is surfaced to the caller.
	DialAttempts int

	// DialDelay is the base backoff between dial attempts.
	DialDelay time.Duration

	// PingInterval is the frequency of keepalive pings on each physical
	// connection. Zero disables pings.
	PingInterval time.Duration

	// LogLevel controls connector logging verbosity: "debug", "info",
	// "warn" or "error".
	LogLevel string
}

// NewOptions returns default connector options.
//
// Defaults:
//   - handshake timeout: 10 seconds
//   - dial attempts: 3, base delay 1 second
//   - ping interval: 20 seconds
//   - log level: "info"
func NewOptions() *Options {
	return &Options{
		HandshakeTimeout: 10 * time.Second,
		DialAttempts:     3,
		DialDelay:        time.Second,
		PingInterval:     20 * time.Second,
		LogLevel:         "info",
	}
}
