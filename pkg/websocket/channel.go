package websocket

import (
	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
)

// Request is one exchange-native subscribe (or unsubscribe) frame, tagged
// with the logical channel it will create so acknowledgements can be
// matched back to pending requests.
type Request struct {
	Kind   interfaces.Kind
	Symbol string
	// Body is the exchange-native frame, marshaled to JSON on send.
	Body any
}

// Channel is one logical subscription registered on a physical connection.
type Channel struct {
	// ID is assigned by the hub on registration: strictly increasing per
	// exchange instance, never reused while the instance lives.
	ID int

	// Key is the exchange-native correlation key in normalized string form:
	// a numeric id, "channel:market" composite, or an encoded key such as
	// Bitfinex's "trade:1m:tBTCUSD". Unique among channels registered on
	// one connection; connections may repeat keys.
	Key string

	Kind   interfaces.Kind
	Symbol string

	// Request is the original subscribe request, kept so a matching
	// unsubscribe request can be built later.
	Request Request

	// Kind-specific parameters.
	Depth     int
	Timeframe string
}

// registry is one connection's partition of the channel registry. It is
// only mutated under the hub's lock.
type registry struct {
	// pending holds requests sent but not yet acknowledged, in send order.
	pending []Request
	// registered holds acknowledged channels, in registration order.
	registered []*Channel
}

// lookup linearly scans the registered channels for a correlation key.
// Per-connection channel counts are bounded by the exchange's
// max-channels-per-connection, so a scan is fine.
func (r *registry) lookup(key string) *Channel {
	for _, ch := range r.registered {
		if ch.Key == key {
			return ch
		}
	}
	return nil
}

// remove deletes and returns the registered channel with the given key,
// or nil.
func (r *registry) remove(key string) *Channel {
	for i, ch := range r.registered {
		if ch.Key == key {
			r.registered = append(r.registered[:i], r.registered[i+1:]...)
			return ch
		}
	}
	return nil
}

// settlePending drops the first pending request matching the newly
// registered channel's kind and symbol.
func (r *registry) settlePending(ch *Channel) {
	for i, req := range r.pending {
		if req.Kind == ch.Kind && req.Symbol == ch.Symbol {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

// size is the number of registered plus pending channels; it never exceeds
// the exchange's max-channels-per-connection.
func (r *registry) size() int {
	return len(r.registered) + len(r.pending)
}
