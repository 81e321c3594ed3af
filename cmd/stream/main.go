// Command stream subscribes to an exchange's public market-data channels and
// prints the unified event stream as structured log entries.
//
// Usage:
//
//	stream -config stream.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshklop/cryptoapi/pkg/config"
	"github.com/joshklop/cryptoapi/pkg/exchanges/bitfinex"
	"github.com/joshklop/cryptoapi/pkg/exchanges/bitvavo"
	"github.com/joshklop/cryptoapi/pkg/exchanges/coinbasepro"
	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/exchanges/kraken"
	"github.com/joshklop/cryptoapi/pkg/logging"
	"github.com/joshklop/cryptoapi/pkg/markets"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "stream:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log := logging.NewZapLogger(
		logging.WithLogLevel(logging.ParseLevel(cfg.LogLevel)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("loading markets", logging.String("exchange", cfg.Exchange))
	table, err := markets.NewLoader().ByExchange(ctx, cfg.Exchange)
	if err != nil {
		return err
	}

	conn, err := newConnector(cfg.Exchange, table, cfg.Options())
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, channel := range cfg.Channels {
		switch interfaces.Kind(channel) {
		case interfaces.KindTicker:
			err = conn.SubscribeTicker(ctx, cfg.Symbols)
		case interfaces.KindTrades:
			err = conn.SubscribeTrades(ctx, cfg.Symbols)
		case interfaces.KindOrderBook:
			err = conn.SubscribeOrderBook(ctx, cfg.Symbols, cfg.Depth)
		case interfaces.KindOHLCV:
			err = conn.SubscribeCandles(ctx, cfg.Symbols, cfg.Timeframe)
		}
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	log.Info("subscribed",
		logging.Int("symbols", len(cfg.Symbols)),
		logging.Int("channels", len(cfg.Channels)),
	)

	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		printEvent(log, ev)
	}
}

func newConnector(exchange string, table *interfaces.MarketTable, opts *interfaces.Options) (interfaces.Connector, error) {
	switch exchange {
	case "kraken":
		return kraken.NewConnector(table, opts)
	case "bitfinex":
		return bitfinex.NewConnector(table, opts)
	case "coinbasepro":
		return coinbasepro.NewConnector(table, opts)
	case "bitvavo":
		return bitvavo.NewConnector(table, opts)
	default:
		return nil, fmt.Errorf("unknown exchange %q", exchange)
	}
}

func printEvent(log logging.Logger, ev interfaces.Event) {
	switch payload := ev.Payload.(type) {
	case *interfaces.Ticker:
		log.Info("ticker",
			logging.String("symbol", payload.Symbol),
			logging.Float64("last", payload.Last),
			logging.Float64("bid", payload.Bid),
			logging.Float64("ask", payload.Ask),
			logging.Float64("volume", payload.BaseVolume),
		)
	case []interfaces.Trade:
		for _, trade := range payload {
			log.Info("trade",
				logging.String("symbol", trade.Symbol),
				logging.String("side", trade.Side),
				logging.Float64("price", trade.Price),
				logging.Float64("amount", trade.Amount),
			)
		}
	case *interfaces.OrderBook:
		var bestBid, bestAsk float64
		if len(payload.Bids) > 0 {
			bestBid = payload.Bids[0].Price
		}
		if len(payload.Asks) > 0 {
			bestAsk = payload.Asks[0].Price
		}
		log.Info("order_book",
			logging.String("symbol", payload.Symbol),
			logging.Int("bids", len(payload.Bids)),
			logging.Int("asks", len(payload.Asks)),
			logging.Float64("best_bid", bestBid),
			logging.Float64("best_ask", bestAsk),
		)
	case *interfaces.CandleBatch:
		for _, candle := range payload.Candles {
			log.Info("candle",
				logging.String("symbol", payload.Symbol),
				logging.String("timeframe", payload.Timeframe),
				logging.Float64("open", candle.Open),
				logging.Float64("close", candle.Close),
				logging.Float64("volume", candle.Volume),
			)
		}
	case interfaces.Unsubscription:
		log.Info("unsubscribed",
			logging.Int("channel_id", payload.ChannelID),
			logging.String("symbol", payload.Symbol),
			logging.String("kind", string(payload.Kind)),
		)
	default:
		log.Warn("unhandled event", logging.String("kind", string(ev.Kind)))
	}
}
