package kraken

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/exchanges/internal/wire"
	"github.com/joshklop/cryptoapi/pkg/orderbook"
	"github.com/joshklop/cryptoapi/pkg/websocket"
)

// Native channel names. Kraken's websocket API addresses markets by
// "wsname" (e.g. "XBT/USD"), a different id scheme than its REST API.
var channelNames = map[interfaces.Kind]string{
	interfaces.KindTicker:    "ticker",
	interfaces.KindTrades:    "trade",
	interfaces.KindOrderBook: "book",
	interfaces.KindOHLCV:     "ohlc",
}

// timeframes maps canonical timeframes to Kraken's interval minutes.
var timeframes = map[string]int{
	"1m":  1,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"4h":  240,
	"1d":  1440,
	"1w":  10080,
	"2w":  21600,
}

// isoFormatAdvisory is a known benign notice Kraken sends for pairs given
// in a non-ISO 4217-A3 form. It must be swallowed, not surfaced.
const isoFormatAdvisory = "Currency pair not in ISO 4217-A3 format"

type protocol struct {
	markets     *interfaces.MarketTable
	kindsByName map[string]interfaces.Kind
	intervals   map[int]string // Kraken interval -> canonical timeframe
}

func newProtocol(markets *interfaces.MarketTable) *protocol {
	p := &protocol{
		markets:     markets,
		kindsByName: make(map[string]interfaces.Kind, len(channelNames)),
		intervals:   make(map[int]string, len(timeframes)),
	}
	for kind, name := range channelNames {
		p.kindsByName[name] = kind
	}
	for tf, minutes := range timeframes {
		p.intervals[minutes] = tf
	}
	return p
}

func (p *protocol) Name() string { return "kraken" }

type subscribeRequest struct {
	Event        string         `json:"event"`
	Pair         []string       `json:"pair"`
	Subscription map[string]any `json:"subscription"`
}

// status is the administrative object shape shared by subscriptionStatus,
// systemStatus and heartbeat messages.
type status struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	ChannelID    int    `json:"channelID"`
	Pair         string `json:"pair"`
	ErrorMessage string `json:"errorMessage"`
	Subscription struct {
		Name     string `json:"name"`
		Interval int    `json:"interval"`
		Depth    int    `json:"depth"`
	} `json:"subscription"`
}

func (p *protocol) BuildSubscribeRequests(symbols []string, kind interfaces.Kind, params websocket.SubscribeParams) ([]websocket.Request, error) {
	name := channelNames[kind]
	if name == "" {
		return nil, fmt.Errorf("kraken %q: %w", kind, interfaces.ErrNotSupported)
	}

	sub := map[string]any{"name": name}
	switch kind {
	case interfaces.KindOrderBook:
		depth := params.Depth
		if depth <= 0 {
			depth = 100
		}
		sub["depth"] = depth
	case interfaces.KindOHLCV:
		tf := params.Timeframe
		if tf == "" {
			tf = "1m"
		}
		interval, ok := timeframes[tf]
		if !ok {
			return nil, fmt.Errorf("kraken timeframe %q: %w", tf, interfaces.ErrInvalidTimeframe)
		}
		sub["interval"] = interval
	}

	reqs := make([]websocket.Request, 0, len(symbols))
	for _, symbol := range symbols {
		market := p.markets.BySymbol(symbol)
		if market == nil {
			return nil, fmt.Errorf("kraken %q: %w", symbol, interfaces.ErrInvalidSymbol)
		}
		reqs = append(reqs, websocket.Request{
			Kind:   kind,
			Symbol: symbol,
			Body: subscribeRequest{
				Event:        "subscribe",
				Pair:         []string{market.WebsocketID()},
				Subscription: sub,
			},
		})
	}
	return reqs, nil
}

func (p *protocol) BuildUnsubscribeRequest(ch *websocket.Channel) (websocket.Request, error) {
	body, ok := ch.Request.Body.(subscribeRequest)
	if !ok {
		return websocket.Request{}, fmt.Errorf("kraken channel %d: malformed stored request", ch.ID)
	}
	body.Event = "unsubscribe"
	return websocket.Request{Kind: ch.Kind, Symbol: ch.Symbol, Body: body}, nil
}

func (p *protocol) Classify(raw []byte) websocket.ReplyClass {
	if wire.IsArray(raw) {
		return websocket.ReplyData
	}
	var s status
	if err := json.Unmarshal(raw, &s); err != nil {
		return websocket.ReplyData
	}
	switch s.Event {
	case "subscriptionStatus":
		switch s.Status {
		case "subscribed":
			return websocket.ReplySubscribed
		case "unsubscribed":
			return websocket.ReplyUnsubscribed
		default:
			return websocket.ReplyError
		}
	case "heartbeat", "systemStatus", "pong":
		return websocket.ReplyInfo
	default:
		// Unrecognized object shape; correlation-key extraction will
		// surface it as an unknown response.
		return websocket.ReplyData
	}
}

func (p *protocol) CorrelationKey(raw []byte) (string, error) {
	elems, err := wire.Elements(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrUnknownResponse, err)
	}
	if len(elems) < 4 {
		return "", fmt.Errorf("%w: short kraken frame", interfaces.ErrUnknownResponse)
	}
	var id int
	if err := json.Unmarshal(elems[0], &id); err != nil {
		return "", fmt.Errorf("%w: non-numeric channel id", interfaces.ErrUnknownResponse)
	}
	return strconv.Itoa(id), nil
}

func (p *protocol) ParseSubscription(raw []byte, registered []*websocket.Channel) (*websocket.Channel, error) {
	var s status
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode subscription ack: %w", err)
	}
	kind, ok := p.kindsByName[s.Subscription.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kraken channel %q", interfaces.ErrUnknownResponse, s.Subscription.Name)
	}
	market := p.markets.ByID(s.Pair)
	if market == nil {
		// Ack for a pair outside the loaded market set.
		return nil, nil
	}

	sub := map[string]any{"name": s.Subscription.Name}
	ch := &websocket.Channel{
		Key:    strconv.Itoa(s.ChannelID),
		Kind:   kind,
		Symbol: market.Symbol,
	}
	switch kind {
	case interfaces.KindOrderBook:
		ch.Depth = s.Subscription.Depth
		sub["depth"] = s.Subscription.Depth
	case interfaces.KindOHLCV:
		ch.Timeframe = p.intervals[s.Subscription.Interval]
		sub["interval"] = s.Subscription.Interval
	}
	ch.Request = websocket.Request{
		Kind:   kind,
		Symbol: market.Symbol,
		Body: subscribeRequest{
			Event:        "subscribe",
			Pair:         []string{s.Pair},
			Subscription: sub,
		},
	}
	return ch, nil
}

func (p *protocol) ParseUnsubscription(raw []byte) (string, error) {
	var s status
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("decode unsubscription ack: %w", err)
	}
	return strconv.Itoa(s.ChannelID), nil
}

func (p *protocol) ParseError(raw []byte) error {
	var s status
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("decode error frame: %w", err)
	}
	if strings.Contains(s.ErrorMessage, isoFormatAdvisory) {
		return nil
	}
	if strings.Contains(s.ErrorMessage, "limit exceeded") {
		return interfaces.NewExchangeError(interfaces.ErrChannelLimitExceeded, 0, s.ErrorMessage)
	}
	return interfaces.NewExchangeError(interfaces.ErrSubscribe, 0, s.ErrorMessage)
}

// tickerPayload is Kraken's ticker object: each field is an array mixing
// strings and integers, e.g. "a":["5525.40000",1,"1.000"].
type tickerPayload struct {
	Ask    []any `json:"a"`
	Bid    []any `json:"b"`
	Close  []any `json:"c"`
	Volume []any `json:"v"`
	VWAP   []any `json:"p"`
	Low    []any `json:"l"`
	High   []any `json:"h"`
	Open   []any `json:"o"`
}

func (p *protocol) ParseTicker(raw []byte, market *interfaces.Market) (*interfaces.Ticker, error) {
	elems, err := wire.Elements(raw)
	if err != nil || len(elems) < 2 {
		return nil, fmt.Errorf("%w: kraken ticker frame", interfaces.ErrUnknownResponse)
	}
	var tk tickerPayload
	if err := json.Unmarshal(elems[1], &tk); err != nil {
		return nil, fmt.Errorf("decode kraken ticker: %w", err)
	}

	get := func(arr []any, i int) (float64, error) {
		if i >= len(arr) {
			return 0, fmt.Errorf("kraken ticker: short field")
		}
		return wire.Float(arr[i])
	}

	open, err := get(tk.Open, 0)
	if err != nil {
		return nil, err
	}
	last, err := get(tk.Close, 0)
	if err != nil {
		return nil, err
	}
	high, err := get(tk.High, 0)
	if err != nil {
		return nil, err
	}
	low, err := get(tk.Low, 0)
	if err != nil {
		return nil, err
	}
	bid, err := get(tk.Bid, 0)
	if err != nil {
		return nil, err
	}
	bidVol, err := get(tk.Bid, 2)
	if err != nil {
		return nil, err
	}
	ask, err := get(tk.Ask, 0)
	if err != nil {
		return nil, err
	}
	askVol, err := get(tk.Ask, 2)
	if err != nil {
		return nil, err
	}
	baseVolume, err := get(tk.Volume, 1)
	if err != nil {
		return nil, err
	}
	vwap, err := get(tk.VWAP, 1)
	if err != nil {
		return nil, err
	}

	change := last - open
	ticker := &interfaces.Ticker{
		Symbol:      market.Symbol,
		Timestamp:   time.Now().UTC(),
		High:        high,
		Low:         low,
		Bid:         bid,
		BidVolume:   bidVol,
		Ask:         ask,
		AskVolume:   askVol,
		VWAP:        vwap,
		Open:        open,
		Close:       last,
		Last:        last,
		Change:      change,
		Average:     (last + open) / 2,
		BaseVolume:  baseVolume,
		QuoteVolume: baseVolume * vwap,
	}
	if open != 0 {
		ticker.Percentage = change / open * 100
	}
	return ticker, nil
}

func (p *protocol) ParseTrades(raw []byte, market *interfaces.Market) ([]interfaces.Trade, error) {
	elems, err := wire.Elements(raw)
	if err != nil || len(elems) < 2 {
		return nil, fmt.Errorf("%w: kraken trades frame", interfaces.ErrUnknownResponse)
	}
	var rows [][]any
	if err := json.Unmarshal(elems[1], &rows); err != nil {
		return nil, fmt.Errorf("decode kraken trades: %w", err)
	}

	trades := make([]interfaces.Trade, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("kraken trade row too short")
		}
		price, err := wire.Float(row[0])
		if err != nil {
			return nil, err
		}
		amount, err := wire.Float(row[1])
		if err != nil {
			return nil, err
		}
		ts, err := wire.Float(row[2])
		if err != nil {
			return nil, err
		}
		side := "sell"
		if row[3] == "b" {
			side = "buy"
		}
		orderType := "market"
		takerOrMaker := "taker"
		if row[4] == "l" {
			orderType = "limit"
			takerOrMaker = "maker"
		}
		trades = append(trades, interfaces.Trade{
			Symbol:       market.Symbol,
			Timestamp:    wire.TimeFromSec(ts),
			Side:         side,
			Type:         orderType,
			TakerOrMaker: takerOrMaker,
			Price:        price,
			Amount:       amount,
			Cost:         price * amount,
		})
	}
	return trades, nil
}

// bookPayload covers both the snapshot ("bs"/"as") and delta ("b"/"a")
// shapes. Each level is a [price, volume, timestamp] triple of strings.
type bookPayload struct {
	SnapshotBids [][]string `json:"bs"`
	SnapshotAsks [][]string `json:"as"`
	DeltaBids    [][]string `json:"b"`
	DeltaAsks    [][]string `json:"a"`
	Checksum     string     `json:"c"`
}

func (p *protocol) ParseOrderBook(raw []byte, market *interfaces.Market) (*orderbook.Update, error) {
	elems, err := wire.Elements(raw)
	if err != nil || len(elems) < 4 {
		return nil, fmt.Errorf("%w: kraken book frame", interfaces.ErrUnknownResponse)
	}

	// Deltas touching both sides arrive as two payload objects in one
	// frame; the trailing two elements are always channel name and pair.
	update := &orderbook.Update{Timestamp: time.Now().UTC()}
	for _, elem := range elems[1 : len(elems)-2] {
		var book bookPayload
		if err := json.Unmarshal(elem, &book); err != nil {
			return nil, fmt.Errorf("decode kraken book: %w", err)
		}

		if book.SnapshotBids != nil || book.SnapshotAsks != nil {
			update.Snapshot = true
			if update.Bids, err = parseLevels(book.SnapshotBids); err != nil {
				return nil, err
			}
			if update.Asks, err = parseLevels(book.SnapshotAsks); err != nil {
				return nil, err
			}
			continue
		}

		bids, err := parseLevels(book.DeltaBids)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(book.DeltaAsks)
		if err != nil {
			return nil, err
		}
		update.Bids = append(update.Bids, bids...)
		update.Asks = append(update.Asks, asks...)
	}
	return update, nil
}

func parseLevels(rows [][]string) ([]interfaces.BookLevel, error) {
	levels := make([]interfaces.BookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("kraken book level too short")
		}
		price, err := wire.Float(row[0])
		if err != nil {
			return nil, err
		}
		amount, err := wire.Float(row[1])
		if err != nil {
			return nil, err
		}
		ts, err := wire.Float(row[2])
		if err != nil {
			return nil, err
		}
		levels = append(levels, interfaces.BookLevel{Price: price, Amount: amount, Timestamp: ts})
	}
	return levels, nil
}

func (p *protocol) ParseCandles(raw []byte, market *interfaces.Market) (*interfaces.CandleBatch, error) {
	elems, err := wire.Elements(raw)
	if err != nil || len(elems) < 2 {
		return nil, fmt.Errorf("%w: kraken ohlc frame", interfaces.ErrUnknownResponse)
	}

	// Kraken sends a single row; a batch of rows is normalized too.
	var rows [][]any
	if err := json.Unmarshal(elems[1], &rows); err != nil {
		var row []any
		if err := json.Unmarshal(elems[1], &row); err != nil {
			return nil, fmt.Errorf("decode kraken ohlc: %w", err)
		}
		rows = [][]any{row}
	}

	batch := &interfaces.CandleBatch{Symbol: market.Symbol}
	for _, row := range rows {
		// [time, etime, open, high, low, close, vwap, volume, count]
		if len(row) < 8 {
			return nil, fmt.Errorf("kraken ohlc row too short")
		}
		etime, err := wire.Float(row[1])
		if err != nil {
			return nil, err
		}
		vals := make([]float64, 4)
		for i := 0; i < 4; i++ {
			if vals[i], err = wire.Float(row[2+i]); err != nil {
				return nil, err
			}
		}
		volume, err := wire.Float(row[7])
		if err != nil {
			return nil, err
		}
		batch.Candles = append(batch.Candles, interfaces.Candle{
			Timestamp: wire.TimeFromSec(etime),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    volume,
		})
	}
	return batch, nil
}
