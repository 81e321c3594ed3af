// Package stream holds the connector core shared by every exchange package:
// a Hub paired with a Protocol, exposed through the unified subscribe
// methods. Exchange packages only contribute their Protocol and endpoint
// configuration.
package stream

import (
	"context"
	"fmt"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/logging"
	"github.com/joshklop/cryptoapi/pkg/websocket"
)

// Connector adapts a Hub to the interfaces.Connector surface.
type Connector struct {
	hub   *websocket.Hub
	proto websocket.Protocol
	cfg   websocket.Config
	log   logging.Logger
}

// New builds the shared connector core. opts overrides endpoints and
// transport tunables; nil opts uses the exchange defaults.
func New(cfg websocket.Config, proto websocket.Protocol, markets *interfaces.MarketTable, opts *interfaces.Options) (*Connector, error) {
	if opts == nil {
		opts = interfaces.NewOptions()
	}
	if opts.PublicURL != "" {
		cfg.PublicURL = opts.PublicURL
	}
	if opts.PrivateURL != "" {
		cfg.PrivateURL = opts.PrivateURL
	}
	if opts.HandshakeTimeout > 0 {
		cfg.Dial.HandshakeTimeout = opts.HandshakeTimeout
	}
	if opts.DialAttempts > 0 {
		cfg.Dial.Attempts = opts.DialAttempts
	}
	if opts.DialDelay > 0 {
		cfg.Dial.Delay = opts.DialDelay
	}
	if opts.PingInterval > 0 {
		cfg.Dial.PingInterval = opts.PingInterval
	}

	// The Hub attaches the exchange name to every entry.
	log := logging.NewZapLogger(
		logging.WithLogLevel(logging.ParseLevel(opts.LogLevel)),
	)

	hub, err := websocket.NewHub(cfg, proto, markets, log)
	if err != nil {
		return nil, err
	}
	return &Connector{hub: hub, proto: proto, cfg: cfg, log: log}, nil
}

func (c *Connector) subscribe(ctx context.Context, symbols []string, kind interfaces.Kind, params websocket.SubscribeParams) error {
	if !c.cfg.Supports(kind) {
		return fmt.Errorf("%s %s: %w", c.proto.Name(), kind, interfaces.ErrNotSupported)
	}
	requests, err := c.proto.BuildSubscribeRequests(symbols, kind, params)
	if err != nil {
		return err
	}
	return c.hub.Subscribe(ctx, requests, websocket.Public)
}

func (c *Connector) SubscribeTicker(ctx context.Context, symbols []string) error {
	return c.subscribe(ctx, symbols, interfaces.KindTicker, websocket.SubscribeParams{})
}

func (c *Connector) SubscribeTrades(ctx context.Context, symbols []string) error {
	return c.subscribe(ctx, symbols, interfaces.KindTrades, websocket.SubscribeParams{})
}

func (c *Connector) SubscribeOrderBook(ctx context.Context, symbols []string, depth int) error {
	if depth <= 0 {
		depth = 100
	}
	return c.subscribe(ctx, symbols, interfaces.KindOrderBook, websocket.SubscribeParams{Depth: depth})
}

func (c *Connector) SubscribeCandles(ctx context.Context, symbols []string, timeframe string) error {
	if timeframe == "" {
		timeframe = "1m"
	}
	return c.subscribe(ctx, symbols, interfaces.KindOHLCV, websocket.SubscribeParams{Timeframe: timeframe})
}

func (c *Connector) Unsubscribe(ctx context.Context, channelID int) error {
	return c.hub.Unsubscribe(ctx, channelID)
}

func (c *Connector) Next(ctx context.Context) (interfaces.Event, error) {
	return c.hub.Next(ctx)
}

func (c *Connector) OrderBook(symbol string) *interfaces.OrderBook {
	return c.hub.Books().Book(symbol)
}

// Channels lists the currently registered channels, ordered by id.
func (c *Connector) Channels() []websocket.Channel {
	return c.hub.Channels()
}

// ConnCount reports the number of open physical connections.
func (c *Connector) ConnCount() int {
	return c.hub.ConnCount()
}

func (c *Connector) Close() error {
	return c.hub.Close()
}
