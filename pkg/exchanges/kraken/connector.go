// Package kraken streams unified market data from the Kraken websocket API.
//
// Kraken multiplexes up to 45 channels per connection and correlates data
// frames to subscriptions through integer channel ids assigned in the
// subscriptionStatus acknowledgement.
package kraken

import (
	"time"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/exchanges/internal/stream"
	"github.com/joshklop/cryptoapi/pkg/ratelimit"
	"github.com/joshklop/cryptoapi/pkg/websocket"
)

const (
	publicURL  = "wss://ws.kraken.com"
	privateURL = "wss://ws-auth.kraken.com"

	maxChannelsPerConn = 45
)

// Connector implements interfaces.Connector for Kraken.
type Connector struct {
	*stream.Connector
}

var _ interfaces.Connector = (*Connector)(nil)

// NewConnector builds a Kraken connector over the given market table.
func NewConnector(markets *interfaces.MarketTable, opts *interfaces.Options) (*Connector, error) {
	cfg := websocket.Config{
		PublicURL:          publicURL,
		PrivateURL:         privateURL,
		MaxChannelsPerConn: maxChannelsPerConn,
		// Kraken does not rate-limit websocket connection attempts; the
		// zero Rate is unlimited.
		PublicConns:  ratelimit.Rate{},
		PrivateConns: ratelimit.Rate{},
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
