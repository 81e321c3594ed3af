package interfaces

import "time"

// Kind identifies one of the unified market-data channels. Every exchange
// maps its native channel names onto exactly these four kinds.
type Kind string

const (
	KindTicker    Kind = "ticker"
	KindTrades    Kind = "trades"
	KindOrderBook Kind = "order_book"
	KindOHLCV     Kind = "ohlcv"

	// KindUnsubscribed marks the deregistration event emitted when an
	// exchange acknowledges an unsubscribe request.
	KindUnsubscribed Kind = "unsubscribed"
)

// Event is the unified output tuple delivered to the caller. Payload holds
// *Ticker, []Trade, *OrderBook, *CandleBatch or Unsubscription depending on
// Kind; the shape is fixed per kind regardless of the source exchange.
type Event struct {
	Kind    Kind
	Payload any
}

// Ticker is a unified 24h market ticker.
type Ticker struct {
	Symbol     string
	Timestamp  time.Time
	High       float64
	Low        float64
	Bid        float64
	BidVolume  float64
	Ask        float64
	AskVolume  float64
	VWAP       float64
	Open       float64
	Close      float64
	Last       float64
	Change     float64
	Percentage float64
	Average    float64
	BaseVolume float64
	// QuoteVolume is derived as BaseVolume*VWAP when the exchange does not
	// report it directly.
	QuoteVolume float64
}

// Trade is a single unified public trade.
type Trade struct {
	ID           string
	Symbol       string
	Timestamp    time.Time
	Side         string // "buy" or "sell"
	Type         string // "limit" or "market" when known
	TakerOrMaker string
	Price        float64
	Amount       float64
	Cost         float64
}

// BookLevel is one resting price level. Timestamp is the exchange-reported
// level timestamp in seconds where provided (Kraken), zero otherwise.
type BookLevel struct {
	Price     float64
	Amount    float64
	Timestamp float64
}

// OrderBook is the unified book payload: the full reconstructed book for one
// symbol after a snapshot or delta has been applied.
type OrderBook struct {
	Symbol    string
	Bids      []BookLevel // descending by price
	Asks      []BookLevel // ascending by price
	Timestamp time.Time
	Nonce     int64
}

// Candle is one OHLCV row.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// CandleBatch is the unified ohlcv payload. Exchanges that deliver single
// rows are normalized into a one-element batch.
type CandleBatch struct {
	Symbol    string
	Timeframe string
	Candles   []Candle
}

// Unsubscription is emitted when a channel has been deregistered following
// an unsubscribe acknowledgement.
type Unsubscription struct {
	ChannelID int
	Symbol    string
	Kind      Kind
}
