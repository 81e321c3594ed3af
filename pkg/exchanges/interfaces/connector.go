package interfaces

import "context"

// Connector is the unified streaming surface every exchange implements.
// Subscribe calls may be invoked concurrently and repeatedly; each call adds
// channels without disturbing existing ones. Events from every channel are
// multiplexed into the single Next stream.
type Connector interface {
	// SubscribeTicker opens a 24h ticker channel per symbol.
	SubscribeTicker(ctx context.Context, symbols []string) error

	// SubscribeTrades opens a public trades channel per symbol.
	SubscribeTrades(ctx context.Context, symbols []string) error

	// SubscribeOrderBook opens an incremental order book channel per symbol.
	// depth <= 0 selects the exchange default of 100 levels where the
	// exchange takes a depth parameter.
	SubscribeOrderBook(ctx context.Context, symbols []string, depth int) error

	// SubscribeCandles opens an OHLCV channel per symbol. An empty timeframe
	// selects "1m".
	SubscribeCandles(ctx context.Context, symbols []string, timeframe string) error

	// Unsubscribe requests teardown of one channel by its id. The channel
	// stays registered until the exchange acknowledges, at which point a
	// KindUnsubscribed event is emitted.
	Unsubscribe(ctx context.Context, channelID int) error

	// Next blocks for the next unified event.
	Next(ctx context.Context) (Event, error)

	// OrderBook returns the current reconstructed book for symbol, or nil
	// when no book channel has delivered data for it.
	OrderBook(symbol string) *OrderBook

	// Close tears down every connection.
	Close() error
}
