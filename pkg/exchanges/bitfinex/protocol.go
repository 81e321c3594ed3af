package bitfinex

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/exchanges/internal/wire"
	"github.com/joshklop/cryptoapi/pkg/orderbook"
	"github.com/joshklop/cryptoapi/pkg/websocket"
)

var channelNames = map[interfaces.Kind]string{
	interfaces.KindTicker:    "ticker",
	interfaces.KindTrades:    "trades",
	interfaces.KindOrderBook: "book",
	interfaces.KindOHLCV:     "candles",
}

// timeframes maps canonical timeframes onto Bitfinex candle keys.
var timeframes = map[string]string{
	"1m":  "1m",
	"5m":  "5m",
	"15m": "15m",
	"30m": "30m",
	"1h":  "1h",
	"3h":  "3h",
	"6h":  "6h",
	"12h": "12h",
	"1d":  "1D",
	"1w":  "7D",
	"2w":  "14D",
	"1M":  "1M",
}

// Error codes documented for the v2 websocket API.
const (
	codeUnknownEvent    = 10000
	codeUnknownPair     = 10001
	codeSubscribeFailed = 10300
	codeAlreadySub      = 10301
	codeUnknownChannel  = 10302
	codeChannelLimit    = 10305
	codeUnsubFailed     = 10400
	codeNotSubscribed   = 10401
	codeRestart         = 20051
	codeMaintenance     = 20060
	codeMaintenanceEnd  = 20061
)

type protocol struct {
	markets      *interfaces.MarketTable
	kindsByName  map[string]interfaces.Kind
	canonicalTFs map[string]string // Bitfinex candle interval -> canonical
}

func newProtocol(markets *interfaces.MarketTable) *protocol {
	p := &protocol{
		markets:      markets,
		kindsByName:  make(map[string]interfaces.Kind, len(channelNames)),
		canonicalTFs: make(map[string]string, len(timeframes)),
	}
	for kind, name := range channelNames {
		p.kindsByName[name] = kind
	}
	for tf, native := range timeframes {
		p.canonicalTFs[native] = tf
	}
	return p
}

func (p *protocol) Name() string { return "bitfinex" }

type subscribeRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol,omitempty"`
	Key     string `json:"key,omitempty"`
	Prec    string `json:"prec,omitempty"`
	Freq    string `json:"freq,omitempty"`
	Len     string `json:"len,omitempty"`
}

type unsubscribeRequest struct {
	Event  string `json:"event"`
	ChanID int    `json:"chanId"`
}

// event is the administrative object shape shared by subscribed,
// unsubscribed, info and error frames.
type event struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int    `json:"chanId"`
	Symbol  string `json:"symbol"`
	Key     string `json:"key"`
	Prec    string `json:"prec"`
	Freq    string `json:"freq"`
	Len     string `json:"len"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Version int    `json:"version"`
}

func (p *protocol) BuildSubscribeRequests(symbols []string, kind interfaces.Kind, params websocket.SubscribeParams) ([]websocket.Request, error) {
	name := channelNames[kind]
	if name == "" {
		return nil, fmt.Errorf("bitfinex %q: %w", kind, interfaces.ErrNotSupported)
	}

	var native string
	if kind == interfaces.KindOHLCV {
		tf := params.Timeframe
		if tf == "" {
			tf = "1m"
		}
		var ok bool
		if native, ok = timeframes[tf]; !ok {
			return nil, fmt.Errorf("bitfinex timeframe %q: %w", tf, interfaces.ErrInvalidTimeframe)
		}
	}

	reqs := make([]websocket.Request, 0, len(symbols))
	for _, symbol := range symbols {
		market := p.markets.BySymbol(symbol)
		if market == nil {
			return nil, fmt.Errorf("bitfinex %q: %w", symbol, interfaces.ErrInvalidSymbol)
		}

		body := subscribeRequest{Event: "subscribe", Channel: name}
		switch kind {
		case interfaces.KindOrderBook:
			depth := params.Depth
			if depth <= 0 {
				depth = 100
			}
			body.Symbol = market.ID
			body.Prec = "P0"
			body.Freq = "F0"
			body.Len = strconv.Itoa(depth)
		case interfaces.KindOHLCV:
			body.Key = "trade:" + native + ":" + market.ID
		default:
			body.Symbol = market.ID
		}
		reqs = append(reqs, websocket.Request{Kind: kind, Symbol: symbol, Body: body})
	}
	return reqs, nil
}

func (p *protocol) BuildUnsubscribeRequest(ch *websocket.Channel) (websocket.Request, error) {
	id, err := strconv.Atoi(ch.Key)
	if err != nil {
		return websocket.Request{}, fmt.Errorf("bitfinex channel %d: malformed key %q", ch.ID, ch.Key)
	}
	return websocket.Request{
		Kind:   ch.Kind,
		Symbol: ch.Symbol,
		Body:   unsubscribeRequest{Event: "unsubscribe", ChanID: id},
	}, nil
}

func (p *protocol) Classify(raw []byte) websocket.ReplyClass {
	if wire.IsArray(raw) {
		return websocket.ReplyData
	}
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return websocket.ReplyData
	}
	switch ev.Event {
	case "subscribed":
		return websocket.ReplySubscribed
	case "unsubscribed":
		return websocket.ReplyUnsubscribed
	case "error":
		return websocket.ReplyError
	case "info":
		// A bare info frame announces the protocol version; coded info
		// frames signal restarts and maintenance windows.
		if ev.Code != 0 || (ev.Version != 0 && ev.Version != 2) {
			return websocket.ReplyError
		}
		return websocket.ReplyInfo
	case "pong", "conf":
		return websocket.ReplyInfo
	default:
		return websocket.ReplyData
	}
}

func (p *protocol) CorrelationKey(raw []byte) (string, error) {
	elems, err := wire.Elements(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrUnknownResponse, err)
	}
	if len(elems) < 2 {
		return "", fmt.Errorf("%w: short bitfinex frame", interfaces.ErrUnknownResponse)
	}
	var id int
	if err := json.Unmarshal(elems[0], &id); err != nil {
		return "", fmt.Errorf("%w: non-numeric channel id", interfaces.ErrUnknownResponse)
	}
	return strconv.Itoa(id), nil
}

func (p *protocol) ParseSubscription(raw []byte, registered []*websocket.Channel) (*websocket.Channel, error) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode subscription ack: %w", err)
	}
	kind, ok := p.kindsByName[ev.Channel]
	if !ok {
		return nil, fmt.Errorf("%w: unknown bitfinex channel %q", interfaces.ErrUnknownResponse, ev.Channel)
	}

	ch := &websocket.Channel{Key: strconv.Itoa(ev.ChanID), Kind: kind}
	body := subscribeRequest{Event: "subscribe", Channel: ev.Channel}

	if kind == interfaces.KindOHLCV {
		// Candle acks identify the market through the key
		// "trade:<interval>:<symbol>".
		parts := strings.Split(ev.Key, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: malformed candle key %q", interfaces.ErrUnknownResponse, ev.Key)
		}
		market := p.markets.ByID(parts[2])
		if market == nil {
			return nil, nil
		}
		ch.Symbol = market.Symbol
		ch.Timeframe = p.canonicalTFs[parts[1]]
		body.Key = ev.Key
	} else {
		market := p.markets.ByID(ev.Symbol)
		if market == nil {
			return nil, nil
		}
		ch.Symbol = market.Symbol
		body.Symbol = ev.Symbol
		if kind == interfaces.KindOrderBook {
			ch.Depth, _ = strconv.Atoi(ev.Len)
			body.Prec = ev.Prec
			body.Freq = ev.Freq
			body.Len = ev.Len
		}
	}

	ch.Request = websocket.Request{Kind: kind, Symbol: ch.Symbol, Body: body}
	return ch, nil
}

func (p *protocol) ParseUnsubscription(raw []byte) (string, error) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return "", fmt.Errorf("decode unsubscription ack: %w", err)
	}
	return strconv.Itoa(ev.ChanID), nil
}

func (p *protocol) ParseError(raw []byte) error {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("decode error frame: %w", err)
	}
	if ev.Event == "info" && ev.Version != 0 && ev.Version != 2 {
		return interfaces.NewExchangeError(interfaces.ErrReconnect, ev.Version,
			fmt.Sprintf("unsupported websocket protocol version %d", ev.Version))
	}
	switch ev.Code {
	case codeRestart:
		return interfaces.NewExchangeError(interfaces.ErrReconnect, ev.Code, "server restart, resubscribe required")
	case codeMaintenance:
		return interfaces.NewExchangeError(interfaces.ErrOnMaintenance, ev.Code, "entering maintenance mode")
	case codeMaintenanceEnd:
		// Maintenance over; data flow resumes on its own.
		return nil
	case codeChannelLimit:
		return interfaces.NewExchangeError(interfaces.ErrChannelLimitExceeded, ev.Code, ev.Msg)
	case codeSubscribeFailed, codeAlreadySub, codeUnknownChannel, codeUnknownEvent, codeUnknownPair:
		return interfaces.NewExchangeError(interfaces.ErrSubscribe, ev.Code, ev.Msg)
	case codeUnsubFailed, codeNotSubscribed:
		return interfaces.NewExchangeError(interfaces.ErrUnsubscribe, ev.Code, ev.Msg)
	default:
		return interfaces.NewExchangeError(interfaces.ErrUnknownResponse, ev.Code, ev.Msg)
	}
}

// isHeartbeat reports whether the frame is an in-band [chanId,"hb"] beat.
func isHeartbeat(elems []json.RawMessage) bool {
	return len(elems) == 2 && string(elems[1]) == `"hb"`
}

func (p *protocol) ParseTicker(raw []byte, market *interfaces.Market) (*interfaces.Ticker, error) {
	elems, err := wire.Elements(raw)
	if err != nil || len(elems) < 2 {
		return nil, fmt.Errorf("%w: bitfinex ticker frame", interfaces.ErrUnknownResponse)
	}
	if isHeartbeat(elems) {
		return nil, nil
	}

	// [BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE, DAILY_CHANGE_RELATIVE,
	//  LAST_PRICE, VOLUME, HIGH, LOW]
	var row []float64
	if err := json.Unmarshal(elems[1], &row); err != nil {
		return nil, fmt.Errorf("decode bitfinex ticker: %w", err)
	}
	if len(row) < 10 {
		return nil, fmt.Errorf("bitfinex ticker row too short")
	}

	last := row[6]
	change := row[4]
	return &interfaces.Ticker{
		Symbol:      market.Symbol,
		Timestamp:   time.Now().UTC(),
		Bid:         row[0],
		BidVolume:   row[1],
		Ask:         row[2],
		AskVolume:   row[3],
		Change:      change,
		Percentage:  row[5] * 100,
		Last:        last,
		Close:       last,
		Open:        last - change,
		Average:     (last + last - change) / 2,
		BaseVolume:  row[7],
		High:        row[8],
		Low:         row[9],
	}, nil
}

func (p *protocol) ParseTrades(raw []byte, market *interfaces.Market) ([]interfaces.Trade, error) {
	elems, err := wire.Elements(raw)
	if err != nil || len(elems) < 2 {
		return nil, fmt.Errorf("%w: bitfinex trades frame", interfaces.ErrUnknownResponse)
	}
	if isHeartbeat(elems) {
		return nil, nil
	}

	var rows [][]float64
	if len(elems) >= 3 {
		// [chanId, "te"|"tu", [ID, MTS, AMOUNT, PRICE]]. "tu" repeats an
		// earlier "te" with the trade id finalized; only "te" is emitted.
		var typ string
		if err := json.Unmarshal(elems[1], &typ); err != nil {
			return nil, fmt.Errorf("decode bitfinex trade type: %w", err)
		}
		if typ != "te" {
			return nil, nil
		}
		var row []float64
		if err := json.Unmarshal(elems[2], &row); err != nil {
			return nil, fmt.Errorf("decode bitfinex trade: %w", err)
		}
		rows = [][]float64{row}
	} else if err := json.Unmarshal(elems[1], &rows); err != nil {
		return nil, fmt.Errorf("decode bitfinex trade snapshot: %w", err)
	}

	trades := make([]interfaces.Trade, 0, len(rows))
	for _, row := range rows {
		if len(row) < 4 {
			return nil, fmt.Errorf("bitfinex trade row too short")
		}
		amount := row[2]
		side := "buy"
		if amount < 0 {
			side = "sell"
		}
		price := row[3]
		trades = append(trades, interfaces.Trade{
			ID:        strconv.FormatInt(int64(row[0]), 10),
			Symbol:    market.Symbol,
			Timestamp: wire.TimeFromMilli(int64(row[1])),
			Side:      side,
			Price:     price,
			Amount:    math.Abs(amount),
			Cost:      price * math.Abs(amount),
		})
	}
	return trades, nil
}

func (p *protocol) ParseOrderBook(raw []byte, market *interfaces.Market) (*orderbook.Update, error) {
	elems, err := wire.Elements(raw)
	if err != nil || len(elems) < 2 {
		return nil, fmt.Errorf("%w: bitfinex book frame", interfaces.ErrUnknownResponse)
	}
	if isHeartbeat(elems) {
		return nil, nil
	}

	// Snapshot: [chanId, [[PRICE, COUNT, AMOUNT], ...]]
	// Update:   [chanId, [PRICE, COUNT, AMOUNT]]
	var rows [][]float64
	snapshot := true
	if err := json.Unmarshal(elems[1], &rows); err != nil {
		var row []float64
		if err := json.Unmarshal(elems[1], &row); err != nil {
			return nil, fmt.Errorf("decode bitfinex book: %w", err)
		}
		rows = [][]float64{row}
		snapshot = false
	}

	update := &orderbook.Update{Snapshot: snapshot, Timestamp: time.Now().UTC()}
	for _, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("bitfinex book row too short")
		}
		price, count, amount := row[0], row[1], row[2]
		// A zeroed count removes the level; the amount's sign still tells
		// which side it sat on.
		level := interfaces.BookLevel{Price: price}
		if count > 0 {
			level.Amount = math.Abs(amount)
		}
		if amount > 0 {
			update.Bids = append(update.Bids, level)
		} else {
			update.Asks = append(update.Asks, level)
		}
	}
	return update, nil
}

func (p *protocol) ParseCandles(raw []byte, market *interfaces.Market) (*interfaces.CandleBatch, error) {
	elems, err := wire.Elements(raw)
	if err != nil || len(elems) < 2 {
		return nil, fmt.Errorf("%w: bitfinex candles frame", interfaces.ErrUnknownResponse)
	}
	if isHeartbeat(elems) {
		return nil, nil
	}

	// Snapshot: [chanId, [[MTS, OPEN, CLOSE, HIGH, LOW, VOLUME], ...]]
	// Update:   [chanId, [MTS, OPEN, CLOSE, HIGH, LOW, VOLUME]]
	var rows [][]float64
	if err := json.Unmarshal(elems[1], &rows); err != nil {
		var row []float64
		if err := json.Unmarshal(elems[1], &row); err != nil {
			return nil, fmt.Errorf("decode bitfinex candles: %w", err)
		}
		rows = [][]float64{row}
	}

	batch := &interfaces.CandleBatch{Symbol: market.Symbol}
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("bitfinex candle row too short")
		}
		batch.Candles = append(batch.Candles, interfaces.Candle{
			Timestamp: wire.TimeFromMilli(int64(row[0])),
			Open:      row[1],
			Close:     row[2],
			High:      row[3],
			Low:       row[4],
			Volume:    row[5],
		})
	}
	return batch, nil
}
