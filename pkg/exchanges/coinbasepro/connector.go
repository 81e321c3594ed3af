// Package coinbasepro streams unified market data from the Coinbase Pro
// websocket feed.
//
// Coinbase Pro places no cap on channels per connection but throttles
// connection attempts to one per four seconds. Data frames correlate to
// channels by message type and product id rather than numeric channel ids,
// and the feed offers no candle channel.
package coinbasepro

import (
	"time"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/exchanges/internal/stream"
	"github.com/joshklop/cryptoapi/pkg/ratelimit"
	"github.com/joshklop/cryptoapi/pkg/websocket"
)

const publicURL = "wss://ws-feed.pro.coinbase.com"

// Connector implements interfaces.Connector for Coinbase Pro.
type Connector struct {
	*stream.Connector
}

var _ interfaces.Connector = (*Connector)(nil)

// NewConnector builds a Coinbase Pro connector over the given market table.
func NewConnector(markets *interfaces.MarketTable, opts *interfaces.Options) (*Connector, error) {
	cfg := websocket.Config{
		PublicURL:   publicURL,
		PublicConns: ratelimit.Rate{Limit: 1, Interval: 4 * time.Second},
		Names: map[interfaces.Kind]string{
			interfaces.KindTicker:    channelNames[interfaces.KindTicker],
			interfaces.KindTrades:    channelNames[interfaces.KindTrades],
			interfaces.KindOrderBook: channelNames[interfaces.KindOrderBook],
		},
		Dial: websocket.DialOptions{PingInterval: 20 * time.Second},
	}

	core, err := stream.New(cfg, newProtocol(markets), markets, opts)
	if err != nil {
		return nil, err
	}
	return &Connector{Connector: core}, nil
}
