package websocket

import (
	"fmt"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/orderbook"
	"github.com/joshklop/cryptoapi/pkg/ratelimit"
)

// ReplyClass is the outcome of inspecting an inbound frame's shape before
// any channel resolution happens.
type ReplyClass int

const (
	// ReplyData is a market-data frame resolved through the channel
	// registry by correlation key.
	ReplyData ReplyClass = iota
	// ReplySubscribed is a subscribe acknowledgement.
	ReplySubscribed
	// ReplyUnsubscribed is an unsubscribe acknowledgement.
	ReplyUnsubscribed
	// ReplyError is an exchange-reported error or advisory notice.
	ReplyError
	// ReplyInfo is administrative noise (heartbeats, status, pongs) that
	// produces no event.
	ReplyInfo
)

// SubscribeParams carries kind-specific subscription parameters.
type SubscribeParams struct {
	// Depth is the order book depth (order_book only).
	Depth int
	// Timeframe is the canonical candle timeframe, e.g. "1m" (ohlcv only).
	Timeframe string
}

// Protocol is the fixed capability set each exchange implements: request
// construction, reply classification, correlation-key extraction, and the
// four kind parsers. Implementations are pure with respect to connection
// state; all registry bookkeeping lives in the Hub.
type Protocol interface {
	// Name identifies the exchange in logs.
	Name() string

	// BuildSubscribeRequests constructs one exchange-native subscribe
	// request per symbol.
	BuildSubscribeRequests(symbols []string, kind interfaces.Kind, params SubscribeParams) ([]Request, error)

	// BuildUnsubscribeRequest constructs the unsubscribe request matching a
	// registered channel's original subscribe request.
	BuildUnsubscribeRequest(ch *Channel) (Request, error)

	// Classify inspects a decoded frame's shape (designated event field, or
	// object vs. array) and routes it to an administrative class or to
	// market data.
	Classify(raw []byte) ReplyClass

	// CorrelationKey derives the normalized correlation key from a
	// market-data frame.
	CorrelationKey(raw []byte) (string, error)

	// ParseSubscription builds the Channel described by a subscribe ack:
	// correlation key, kind, symbol, kind-specific parameters and the
	// reconstructed subscribe request. The channel ID is left unassigned.
	// Returns (nil, nil) when the ack references a market id missing from
	// the loaded market table; such acks are dropped silently. registered
	// is the owning connection's current channel list, for exchanges whose
	// acks enumerate every active subscription.
	ParseSubscription(raw []byte, registered []*Channel) (*Channel, error)

	// ParseUnsubscription extracts the correlation key of the channel an
	// unsubscribe ack refers to.
	ParseUnsubscription(raw []byte) (string, error)

	// ParseError maps an exchange error frame onto the unified error
	// taxonomy. A nil return means the frame is a known benign advisory
	// and must be swallowed without an event or error.
	ParseError(raw []byte) error

	// Kind parsers. Each returns (nil, nil) for frames that produce no
	// event, such as in-band heartbeats.
	ParseTicker(raw []byte, market *interfaces.Market) (*interfaces.Ticker, error)
	ParseTrades(raw []byte, market *interfaces.Market) ([]interfaces.Trade, error)
	ParseOrderBook(raw []byte, market *interfaces.Market) (*orderbook.Update, error)
	ParseCandles(raw []byte, market *interfaces.Market) (*interfaces.CandleBatch, error)
}

// Config is the static per-exchange engine configuration. It is immutable
// after Validate.
type Config struct {
	// PublicURL and PrivateURL are the websocket endpoints per audience.
	// An empty URL disables that audience.
	PublicURL  string
	PrivateURL string

	// MaxChannelsPerConn caps registered+pending channels per physical
	// connection. Zero or negative means unlimited.
	MaxChannelsPerConn int

	// PublicConns and PrivateConns throttle how fast new connections may
	// be opened per audience.
	PublicConns  ratelimit.Rate
	PrivateConns ratelimit.Rate

	// Names maps each supported kind to the exchange-native channel name.
	// Kinds absent from the map are unsupported.
	Names map[interfaces.Kind]string

	Dial DialOptions
}

// Validate checks the configuration is internally consistent: a public
// endpoint exists and every supported kind has a non-empty native name.
func (c Config) Validate() error {
	if c.PublicURL == "" {
		return fmt.Errorf("websocket config: missing public endpoint")
	}
	if len(c.Names) == 0 {
		return fmt.Errorf("websocket config: no supported channel kinds")
	}
	for kind, name := range c.Names {
		if name == "" {
			return fmt.Errorf("websocket config: kind %q marked supported with empty native name", kind)
		}
	}
	return nil
}

// Supports reports whether the exchange offers the kind.
func (c Config) Supports(kind interfaces.Kind) bool {
	return c.Names[kind] != ""
}
