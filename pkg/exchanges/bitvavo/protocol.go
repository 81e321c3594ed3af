package bitvavo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/exchanges/internal/wire"
	"github.com/joshklop/cryptoapi/pkg/orderbook"
	"github.com/joshklop/cryptoapi/pkg/websocket"
)

var channelNames = map[interfaces.Kind]string{
	interfaces.KindTicker:    "ticker24h",
	interfaces.KindTrades:    "trades",
	interfaces.KindOrderBook: "book",
	interfaces.KindOHLCV:     "candles",
}

// eventChannels maps inbound event names onto the owning channel name; data
// events are named in the singular while subscriptions use the plural.
var eventChannels = map[string]string{
	"ticker24h": "ticker24h",
	"trade":     "trades",
	"book":      "book",
	"candle":    "candles",
}

var validTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true,
}

type protocol struct {
	markets     *interfaces.MarketTable
	kindsByName map[string]interfaces.Kind
}

func newProtocol(markets *interfaces.MarketTable) *protocol {
	p := &protocol{
		markets:     markets,
		kindsByName: make(map[string]interfaces.Kind, len(channelNames)),
	}
	for kind, name := range channelNames {
		p.kindsByName[name] = kind
	}
	return p
}

func (p *protocol) Name() string { return "bitvavo" }

type channelSpec struct {
	Name     string   `json:"name"`
	Markets  []string `json:"markets"`
	Interval []string `json:"interval,omitempty"`
}

type subscribeRequest struct {
	Action   string        `json:"action"`
	Channels []channelSpec `json:"channels"`
}

// frame is the superset of Bitvavo's object shapes: acks carry the full
// subscription state, data frames carry the event name plus payload fields.
type frame struct {
	Event  string `json:"event"`
	Market string `json:"market"`
	// Subscriptions maps channel name to its market list, except candles
	// which nest interval -> market list.
	Subscriptions map[string]json.RawMessage `json:"subscriptions"`
	ErrorCode     int                        `json:"errorCode"`
	Error         string                     `json:"error"`
	Data          []json.RawMessage          `json:"data"`
	Interval      string                     `json:"interval"`
}

func candleKey(interval, marketID string) string {
	return "candles:" + interval + ":" + marketID
}

func (p *protocol) BuildSubscribeRequests(symbols []string, kind interfaces.Kind, params websocket.SubscribeParams) ([]websocket.Request, error) {
	name := channelNames[kind]
	if name == "" {
		return nil, fmt.Errorf("bitvavo %q: %w", kind, interfaces.ErrNotSupported)
	}

	var interval []string
	if kind == interfaces.KindOHLCV {
		tf := params.Timeframe
		if tf == "" {
			tf = "1m"
		}
		if !validTimeframes[tf] {
			return nil, fmt.Errorf("bitvavo timeframe %q: %w", tf, interfaces.ErrInvalidTimeframe)
		}
		interval = []string{tf}
	}

	reqs := make([]websocket.Request, 0, len(symbols))
	for _, symbol := range symbols {
		market := p.markets.BySymbol(symbol)
		if market == nil {
			return nil, fmt.Errorf("bitvavo %q: %w", symbol, interfaces.ErrInvalidSymbol)
		}
		reqs = append(reqs, websocket.Request{
			Kind:   kind,
			Symbol: symbol,
			Body: subscribeRequest{
				Action:   "subscribe",
				Channels: []channelSpec{{Name: name, Markets: []string{market.ID}, Interval: interval}},
			},
		})
	}
	return reqs, nil
}

// BuildUnsubscribeRequest is not offered: Bitvavo's unsubscribe reply does
// not identify the removed channel, so teardown is per connection via Close.
func (p *protocol) BuildUnsubscribeRequest(ch *websocket.Channel) (websocket.Request, error) {
	return websocket.Request{}, fmt.Errorf("bitvavo unsubscribe: %w", interfaces.ErrNotSupported)
}

func (p *protocol) Classify(raw []byte) websocket.ReplyClass {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return websocket.ReplyData
	}
	if f.Error != "" || f.ErrorCode != 0 {
		return websocket.ReplyError
	}
	switch f.Event {
	case "subscribed":
		return websocket.ReplySubscribed
	case "unsubscribed":
		return websocket.ReplyUnsubscribed
	case "pong":
		return websocket.ReplyInfo
	default:
		return websocket.ReplyData
	}
}

func (p *protocol) CorrelationKey(raw []byte) (string, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrUnknownResponse, err)
	}
	channel, ok := eventChannels[f.Event]
	if !ok {
		return "", fmt.Errorf("%w: unknown bitvavo event %q", interfaces.ErrUnknownResponse, f.Event)
	}

	if f.Event == "ticker24h" {
		// Ticker frames carry the market inside their data rows.
		if len(f.Data) == 0 {
			return "", fmt.Errorf("%w: empty ticker24h frame", interfaces.ErrUnknownResponse)
		}
		var row struct {
			Market string `json:"market"`
		}
		if err := json.Unmarshal(f.Data[0], &row); err != nil || row.Market == "" {
			return "", fmt.Errorf("%w: ticker24h row without market", interfaces.ErrUnknownResponse)
		}
		return channel + ":" + row.Market, nil
	}

	if f.Market == "" {
		return "", fmt.Errorf("%w: bitvavo frame without market", interfaces.ErrUnknownResponse)
	}
	if f.Event == "candle" {
		return candleKey(f.Interval, f.Market), nil
	}
	return channel + ":" + f.Market, nil
}

// ParseSubscription handles Bitvavo's cumulative ack: the reply lists every
// active subscription per channel (candles nest by interval), so the newly
// confirmed one is the first entry not yet registered on this connection.
func (p *protocol) ParseSubscription(raw []byte, registered []*websocket.Channel) (*websocket.Channel, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode subscription ack: %w", err)
	}

	known := make(map[string]bool, len(registered))
	for _, ch := range registered {
		known[ch.Key] = true
	}

	for name, rawSubs := range f.Subscriptions {
		kind, ok := p.kindsByName[name]
		if !ok {
			continue
		}
		if kind == interfaces.KindOHLCV {
			var byInterval map[string][]string
			if err := json.Unmarshal(rawSubs, &byInterval); err != nil {
				return nil, fmt.Errorf("decode candle subscriptions: %w", err)
			}
			for interval, ids := range byInterval {
				for _, id := range ids {
					if ch := p.newChannel(kind, name, id, interval, known); ch != nil {
						return ch, nil
					}
				}
			}
			continue
		}

		var ids []string
		if err := json.Unmarshal(rawSubs, &ids); err != nil {
			return nil, fmt.Errorf("decode %s subscriptions: %w", name, err)
		}
		for _, id := range ids {
			if ch := p.newChannel(kind, name, id, "", known); ch != nil {
				return ch, nil
			}
		}
	}
	return nil, nil
}

func (p *protocol) newChannel(kind interfaces.Kind, name, marketID, interval string, known map[string]bool) *websocket.Channel {
	key := name + ":" + marketID
	if kind == interfaces.KindOHLCV {
		key = candleKey(interval, marketID)
	}
	if known[key] {
		return nil
	}
	market := p.markets.ByID(marketID)
	if market == nil {
		return nil
	}

	spec := channelSpec{Name: name, Markets: []string{marketID}}
	if interval != "" {
		spec.Interval = []string{interval}
	}
	return &websocket.Channel{
		Key:       key,
		Kind:      kind,
		Symbol:    market.Symbol,
		Timeframe: interval,
		Request: websocket.Request{
			Kind:   kind,
			Symbol: market.Symbol,
			Body:   subscribeRequest{Action: "subscribe", Channels: []channelSpec{spec}},
		},
	}
}

func (p *protocol) ParseUnsubscription(raw []byte) (string, error) {
	return "", fmt.Errorf("bitvavo unsubscribe: %w", interfaces.ErrNotSupported)
}

func (p *protocol) ParseError(raw []byte) error {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("decode error frame: %w", err)
	}
	return interfaces.NewExchangeError(interfaces.ErrSubscribe, f.ErrorCode, f.Error)
}

type tickerRow struct {
	Market      string `json:"market"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Last        string `json:"last"`
	Volume      string `json:"volume"`
	VolumeQuote string `json:"volumeQuote"`
	BestBid     string `json:"bestBid"`
	BestBidSize string `json:"bestBidSize"`
	BestAsk     string `json:"bestAsk"`
	BestAskSize string `json:"bestAskSize"`
	Timestamp   int64  `json:"timestamp"`
}

func (p *protocol) ParseTicker(raw []byte, market *interfaces.Market) (*interfaces.Ticker, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil || len(f.Data) == 0 {
		return nil, fmt.Errorf("%w: bitvavo ticker frame", interfaces.ErrUnknownResponse)
	}
	var row tickerRow
	if err := json.Unmarshal(f.Data[0], &row); err != nil {
		return nil, fmt.Errorf("decode bitvavo ticker: %w", err)
	}

	var convErr error
	num := func(s string) float64 {
		v, err := wire.Float(s)
		if err != nil && convErr == nil {
			convErr = err
		}
		return v
	}
	open := num(row.Open)
	high := num(row.High)
	low := num(row.Low)
	last := num(row.Last)
	volume := num(row.Volume)
	volumeQuote := num(row.VolumeQuote)
	bid := num(row.BestBid)
	bidSize := num(row.BestBidSize)
	ask := num(row.BestAsk)
	askSize := num(row.BestAskSize)
	if convErr != nil {
		return nil, fmt.Errorf("decode bitvavo ticker: %w", convErr)
	}

	change := last - open
	ticker := &interfaces.Ticker{
		Symbol:      market.Symbol,
		Timestamp:   wire.TimeFromMilli(row.Timestamp),
		High:        high,
		Low:         low,
		Bid:         bid,
		BidVolume:   bidSize,
		Ask:         ask,
		AskVolume:   askSize,
		Open:        open,
		Close:       last,
		Last:        last,
		Change:      change,
		Average:     (last + open) / 2,
		BaseVolume:  volume,
		QuoteVolume: volumeQuote,
	}
	if open != 0 {
		ticker.Percentage = change / open * 100
	}
	return ticker, nil
}

type tradeFrame struct {
	ID        string `json:"id"`
	Market    string `json:"market"`
	Timestamp int64  `json:"timestamp"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	Side      string `json:"side"`
}

func (p *protocol) ParseTrades(raw []byte, market *interfaces.Market) ([]interfaces.Trade, error) {
	var tf tradeFrame
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("decode bitvavo trade: %w", err)
	}
	price, err := wire.Float(tf.Price)
	if err != nil {
		return nil, err
	}
	amount, err := wire.Float(tf.Amount)
	if err != nil {
		return nil, err
	}
	return []interfaces.Trade{{
		ID:        tf.ID,
		Symbol:    market.Symbol,
		Timestamp: wire.TimeFromMilli(tf.Timestamp),
		Side:      tf.Side,
		Price:     price,
		Amount:    amount,
		Cost:      price * amount,
	}}, nil
}

type bookFrame struct {
	Market string      `json:"market"`
	Nonce  int64       `json:"nonce"`
	Bids   [][2]string `json:"bids"`
	Asks   [][2]string `json:"asks"`
}

// ParseOrderBook treats every book frame as a full snapshot: Bitvavo's book
// channel delivers the complete aggregated book per update.
func (p *protocol) ParseOrderBook(raw []byte, market *interfaces.Market) (*orderbook.Update, error) {
	var bf bookFrame
	if err := json.Unmarshal(raw, &bf); err != nil {
		return nil, fmt.Errorf("decode bitvavo book: %w", err)
	}

	update := &orderbook.Update{
		Snapshot:  true,
		Timestamp: time.Now().UTC(),
		Nonce:     bf.Nonce,
	}
	var err error
	if update.Bids, err = parseSide(bf.Bids); err != nil {
		return nil, err
	}
	if update.Asks, err = parseSide(bf.Asks); err != nil {
		return nil, err
	}
	return update, nil
}

func parseSide(rows [][2]string) ([]interfaces.BookLevel, error) {
	levels := make([]interfaces.BookLevel, 0, len(rows))
	for _, row := range rows {
		price, err := wire.Float(row[0])
		if err != nil {
			return nil, err
		}
		amount, err := wire.Float(row[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, interfaces.BookLevel{Price: price, Amount: amount})
	}
	return levels, nil
}

type candleFrame struct {
	Market   string  `json:"market"`
	Interval string  `json:"interval"`
	Candle   [][]any `json:"candle"`
}

func (p *protocol) ParseCandles(raw []byte, market *interfaces.Market) (*interfaces.CandleBatch, error) {
	var cf candleFrame
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("decode bitvavo candle: %w", err)
	}

	batch := &interfaces.CandleBatch{Symbol: market.Symbol, Timeframe: cf.Interval}
	for _, row := range cf.Candle {
		// [timestamp ms, open, high, low, close, volume]
		if len(row) < 6 {
			return nil, fmt.Errorf("bitvavo candle row too short")
		}
		ms, err := wire.Float(row[0])
		if err != nil {
			return nil, err
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			if vals[i], err = wire.Float(row[1+i]); err != nil {
				return nil, err
			}
		}
		batch.Candles = append(batch.Candles, interfaces.Candle{
			Timestamp: wire.TimeFromMilli(int64(ms)),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return batch, nil
}
