// Package cryptoapi provides unified websocket market-data streaming for
// cryptocurrency exchanges.
//
// The library abstracts away exchange-specific websocket protocols behind a
// single streaming interface: subscriptions to tickers, public trades,
// incremental order books and OHLCV candles all arrive as one unified event
// stream regardless of the source exchange.
//
// Core Features:
//
//   - Unified event stream for tickers, trades, order books and candles
//   - Per-exchange channel multiplexing across rate-limited connections
//   - Incremental order book reconstruction from snapshots and deltas
//   - Market metadata loading over each exchange's public REST API
//   - Connection keepalive and retried dialing
//
// Supported exchanges: Kraken, Bitfinex, Coinbase Pro and Bitvavo. Each
// lives in its own package under pkg/exchanges and implements the
// interfaces.Connector surface.
//
// # Standard Errors
//
// The interfaces package defines sentinel errors shared by every connector:
//
//   - ErrNotConnected: the event stream has been closed
//
//   - ErrInvalidSymbol: a symbol is missing from the loaded market table
//
//   - ErrInvalidTimeframe: the exchange does not offer the candle timeframe
//
//   - ErrNotSupported: the exchange does not offer the requested channel or
//     operation
//
//   - ErrUnknownResponse: an inbound frame could not be correlated to a
//     registered channel
//
//   - ErrSubscribe, ErrUnsubscribe: the exchange rejected a subscription
//     request
//
//   - ErrChannelLimitExceeded: the exchange refused further channels
//
//   - ErrReconnect, ErrOnMaintenance: the exchange asked clients to
//     reconnect or entered maintenance
//
// Exchange-reported failures carry their native code and message through the
// ExchangeError type, which unwraps to one of the sentinels above.
//
// # Example
//
// Streaming trades from Kraken:
//
//	ctx := context.Background()
//
//	// Load market metadata over REST; the table maps canonical symbols
//	// like "BTC/USD" onto Kraken's native identifiers.
//	table, err := markets.NewLoader().Kraken(ctx)
//	if err != nil {
//	    log.Fatalf("load markets: %v", err)
//	}
//
//	conn, err := kraken.NewConnector(table, interfaces.NewOptions())
//	if err != nil {
//	    log.Fatalf("connector: %v", err)
//	}
//	defer conn.Close()
//
//	if err := conn.SubscribeTrades(ctx, []string{"BTC/USD"}); err != nil {
//	    log.Fatalf("subscribe: %v", err)
//	}
//
//	for {
//	    ev, err := conn.Next(ctx)
//	    if err != nil {
//	        log.Fatalf("stream: %v", err)
//	    }
//	    if trades, ok := ev.Payload.([]interfaces.Trade); ok {
//	        for _, t := range trades {
//	            fmt.Printf("%s %s %.8f @ %.2f\n", t.Symbol, t.Side, t.Amount, t.Price)
//	        }
//	    }
//	}
//
// Order book subscriptions deliver the full reconstructed book after every
// update; the current book for any symbol is also available through
// OrderBook(symbol):
//
//	if err := conn.SubscribeOrderBook(ctx, []string{"BTC/USD"}, 100); err != nil {
//	    log.Fatalf("subscribe: %v", err)
//	}
//	book := conn.OrderBook("BTC/USD")
//	fmt.Printf("best bid: %f, best ask: %f\n", book.Bids[0].Price, book.Asks[0].Price)
package cryptoapi
