// Package bitfinex streams unified market data from the Bitfinex v2
// websocket API.
//
// Bitfinex multiplexes up to 25 channels per connection, assigns integer
// channel ids in subscribe acknowledgements, and rate-limits connection
// attempts to 20 per minute.
package bitfinex

import (
	"time"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/exchanges/internal/stream"
	"github.com/joshklop/cryptoapi/pkg/ratelimit"
	"github.com/joshklop/cryptoapi/pkg/websocket"
)

const (
	publicURL  = "wss://api-pub.bitfinex.com/ws/2"
	privateURL = "wss://api.bitfinex.com/ws/2"

	maxChannelsPerConn = 25
)

// connRate is the documented cap on new websocket connections.
var connRate = ratelimit.Rate{Limit: 20, Interval: time.Minute}

// Connector implements interfaces.Connector for Bitfinex.
type Connector struct {
	*stream.Connector
}

var _ interfaces.Connector = (*Connector)(nil)

// NewConnector builds a Bitfinex connector over the given market table.
func NewConnector(markets *interfaces.MarketTable, opts *interfaces.Options) (*Connector, error) {
	cfg := websocket.Config{
		PublicURL:          publicURL,
		PrivateURL:         privateURL,
		MaxChannelsPerConn: maxChannelsPerConn,
		PublicConns:        connRate,
		PrivateConns:       connRate,
		Names: map[interfaces.Kind]string{
			interfaces.KindTicker:    channelNames[interfaces.KindTicker],
			interfaces.KindTrades:    channelNames[interfaces.KindTrades],
			interfaces.KindOrderBook: channelNames[interfaces.KindOrderBook],
			interfaces.KindOHLCV:     channelNames[interfaces.KindOHLCV],
		},
		Dial: websocket.DialOptions{PingInterval: 20 * time.Second},
	}

	core, err := stream.New(cfg, newProtocol(markets), markets, opts)
	if err != nil {
		return nil, err
	}
	return &Connector{Connector: core}, nil
}
