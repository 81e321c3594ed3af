// Package bitvavo streams unified market data from the Bitvavo v2
// websocket API.
//
// Bitvavo places no cap on channels per connection and correlates data
// frames by event name plus market id. Its book channel delivers complete
// nonce-stamped snapshots rather than incremental deltas, and its
// unsubscribe reply does not identify the removed channel, so per-channel
// teardown is unsupported.
package bitvavo

import (
	"time"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/exchanges/internal/stream"
	"github.com/joshklop/cryptoapi/pkg/ratelimit"
	"github.com/joshklop/cryptoapi/pkg/websocket"
)

const publicURL = "wss://ws.bitvavo.com/v2/"

// Connector implements interfaces.Connector for Bitvavo.
type Connector struct {
	*stream.Connector
}

var _ interfaces.Connector = (*Connector)(nil)

// NewConnector builds a Bitvavo connector over the given market table.
func NewConnector(markets *interfaces.MarketTable, opts *interfaces.Options) (*Connector, error) {
	cfg := websocket.Config{
		PublicURL:   publicURL,
		PublicConns: ratelimit.Rate{Limit: 1, Interval: 1000 * time.Second},
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
