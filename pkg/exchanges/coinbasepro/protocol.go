package coinbasepro

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/exchanges/internal/wire"
	"github.com/joshklop/cryptoapi/pkg/orderbook"
	"github.com/joshklop/cryptoapi/pkg/websocket"
)

// Native channel names. Coinbase Pro has no candle channel.
var channelNames = map[interfaces.Kind]string{
	interfaces.KindTicker:    "ticker",
	interfaces.KindTrades:    "matches",
	interfaces.KindOrderBook: "level2",
}

// typeChannels maps inbound frame types onto the owning channel name.
// Unlike the id-correlated exchanges, Coinbase Pro tags every frame with a
// type and a product id.
var typeChannels = map[string]string{
	"ticker":     "ticker",
	"match":      "matches",
	"last_match": "matches",
	"snapshot":   "level2",
	"l2update":   "level2",
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

func (p *protocol) Name() string { return "coinbasepro" }

type channelSpec struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

type subscribeRequest struct {
	Type     string        `json:"type"`
	Channels []channelSpec `json:"channels"`
}

// frame is the superset of the administrative object shapes: subscription
// acks, errors, and the per-type market-data envelope.
type frame struct {
	Type      string        `json:"type"`
	Channels  []channelSpec `json:"channels"`
	ProductID string        `json:"product_id"`
	Message   string        `json:"message"`
	Reason    string        `json:"reason"`
}

func correlationKey(channel, productID string) string {
	return channel + ":" + productID
}

func (p *protocol) BuildSubscribeRequests(symbols []string, kind interfaces.Kind, params websocket.SubscribeParams) ([]websocket.Request, error) {
	name := channelNames[kind]
	if name == "" {
		return nil, fmt.Errorf("coinbasepro %q: %w", kind, interfaces.ErrNotSupported)
	}

	reqs := make([]websocket.Request, 0, len(symbols))
	for _, symbol := range symbols {
		market := p.markets.BySymbol(symbol)
		if market == nil {
			return nil, fmt.Errorf("coinbasepro %q: %w", symbol, interfaces.ErrInvalidSymbol)
		}
		reqs = append(reqs, websocket.Request{
			Kind:   kind,
			Symbol: symbol,
			Body: subscribeRequest{
				Type:     "subscribe",
				Channels: []channelSpec{{Name: name, ProductIDs: []string{market.ID}}},
			},
		})
	}
	return reqs, nil
}

func (p *protocol) BuildUnsubscribeRequest(ch *websocket.Channel) (websocket.Request, error) {
	market := p.markets.BySymbol(ch.Symbol)
	if market == nil {
		return websocket.Request{}, fmt.Errorf("coinbasepro %q: %w", ch.Symbol, interfaces.ErrInvalidSymbol)
	}
	return websocket.Request{
		Kind:   ch.Kind,
		Symbol: ch.Symbol,
		Body: subscribeRequest{
			Type:     "unsubscribe",
			Channels: []channelSpec{{Name: channelNames[ch.Kind], ProductIDs: []string{market.ID}}},
		},
	}, nil
}

func (p *protocol) Classify(raw []byte) websocket.ReplyClass {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return websocket.ReplyData
	}
	switch f.Type {
	case "subscriptions":
		return websocket.ReplySubscribed
	case "unsubscribed":
		return websocket.ReplyUnsubscribed
	case "error":
		return websocket.ReplyError
	case "heartbeat", "status":
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
	channel, ok := typeChannels[f.Type]
	if !ok {
		return "", fmt.Errorf("%w: unknown coinbasepro frame type %q", interfaces.ErrUnknownResponse, f.Type)
	}
	if f.ProductID == "" {
		return "", fmt.Errorf("%w: coinbasepro frame without product id", interfaces.ErrUnknownResponse)
	}
	return correlationKey(channel, f.ProductID), nil
}

// ParseSubscription handles Coinbase Pro's cumulative subscriptions ack: the
// reply enumerates every active channel, so the newly confirmed one is the
// first (channel, product) pair not yet registered on this connection.
func (p *protocol) ParseSubscription(raw []byte, registered []*websocket.Channel) (*websocket.Channel, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode subscription ack: %w", err)
	}

	known := make(map[string]bool, len(registered))
	for _, ch := range registered {
		known[ch.Key] = true
	}

	for _, spec := range f.Channels {
		kind, ok := p.kindsByName[spec.Name]
		if !ok {
			continue
		}
		for _, id := range spec.ProductIDs {
			key := correlationKey(spec.Name, id)
			if known[key] {
				continue
			}
			market := p.markets.ByID(id)
			if market == nil {
				continue
			}
			return &websocket.Channel{
				Key:    key,
				Kind:   kind,
				Symbol: market.Symbol,
				Request: websocket.Request{
					Kind:   kind,
					Symbol: market.Symbol,
					Body: subscribeRequest{
						Type:     "subscribe",
						Channels: []channelSpec{{Name: spec.Name, ProductIDs: []string{id}}},
					},
				},
			}, nil
		}
	}
	// Every listed pair is already registered (or outside the loaded
	// market set); nothing new to record.
	return nil, nil
}

func (p *protocol) ParseUnsubscription(raw []byte) (string, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("decode unsubscription ack: %w", err)
	}
	if len(f.Channels) == 0 || len(f.Channels[0].ProductIDs) == 0 {
		return "", fmt.Errorf("%w: empty coinbasepro unsubscription", interfaces.ErrUnknownResponse)
	}
	return correlationKey(f.Channels[0].Name, f.Channels[0].ProductIDs[0]), nil
}

func (p *protocol) ParseError(raw []byte) error {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("decode error frame: %w", err)
	}
	msg := f.Message
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	return interfaces.NewExchangeError(interfaces.ErrSubscribe, 0, msg)
}

type tickerFrame struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Open      string `json:"open_24h"`
	High      string `json:"high_24h"`
	Low       string `json:"low_24h"`
	Volume    string `json:"volume_24h"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Time      string `json:"time"`
}

func (p *protocol) ParseTicker(raw []byte, market *interfaces.Market) (*interfaces.Ticker, error) {
	var tf tickerFrame
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("decode coinbasepro ticker: %w", err)
	}
	if tf.Price == "" {
		// The first ticker frame after subscribing may omit trade fields.
		return nil, nil
	}

	last, err := wire.Float(tf.Price)
	if err != nil {
		return nil, err
	}
	open, err := wire.Float(tf.Open)
	if err != nil {
		return nil, err
	}
	high, err := wire.Float(tf.High)
	if err != nil {
		return nil, err
	}
	low, err := wire.Float(tf.Low)
	if err != nil {
		return nil, err
	}
	volume, err := wire.Float(tf.Volume)
	if err != nil {
		return nil, err
	}
	bid, err := wire.Float(tf.BestBid)
	if err != nil {
		return nil, err
	}
	ask, err := wire.Float(tf.BestAsk)
	if err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	if tf.Time != "" {
		if parsed, err := time.Parse(time.RFC3339, tf.Time); err == nil {
			ts = parsed
		}
	}

	change := last - open
	ticker := &interfaces.Ticker{
		Symbol:     market.Symbol,
		Timestamp:  ts,
		High:       high,
		Low:        low,
		Bid:        bid,
		Ask:        ask,
		Open:       open,
		Close:      last,
		Last:       last,
		Change:     change,
		Average:    (last + open) / 2,
		BaseVolume: volume,
	}
	if open != 0 {
		ticker.Percentage = change / open * 100
	}
	return ticker, nil
}

type matchFrame struct {
	Type    string `json:"type"`
	TradeID int64  `json:"trade_id"`
	Side    string `json:"side"`
	Size    string `json:"size"`
	Price   string `json:"price"`
	Time    string `json:"time"`
}

func (p *protocol) ParseTrades(raw []byte, market *interfaces.Market) ([]interfaces.Trade, error) {
	var mf matchFrame
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("decode coinbasepro match: %w", err)
	}

	price, err := wire.Float(mf.Price)
	if err != nil {
		return nil, err
	}
	amount, err := wire.Float(mf.Size)
	if err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	if mf.Time != "" {
		if parsed, err := time.Parse(time.RFC3339, mf.Time); err == nil {
			ts = parsed
		}
	}

	// The reported side is the maker's; the trade direction follows the
	// taker, so it flips.
	side := "sell"
	if mf.Side == "sell" {
		side = "buy"
	}

	return []interfaces.Trade{{
		ID:           fmt.Sprintf("%d", mf.TradeID),
		Symbol:       market.Symbol,
		Timestamp:    ts,
		Side:         side,
		TakerOrMaker: "taker",
		Price:        price,
		Amount:       amount,
		Cost:         price * amount,
	}}, nil
}

type bookFrame struct {
	Type    string      `json:"type"`
	Bids    [][2]string `json:"bids"`
	Asks    [][2]string `json:"asks"`
	Changes [][3]string `json:"changes"`
	Time    string      `json:"time"`
}

func (p *protocol) ParseOrderBook(raw []byte, market *interfaces.Market) (*orderbook.Update, error) {
	var bf bookFrame
	if err := json.Unmarshal(raw, &bf); err != nil {
		return nil, fmt.Errorf("decode coinbasepro book: %w", err)
	}

	ts := time.Now().UTC()
	if bf.Time != "" {
		if parsed, err := time.Parse(time.RFC3339, bf.Time); err == nil {
			ts = parsed
		}
	}
	update := &orderbook.Update{Timestamp: ts}

	if bf.Type == "snapshot" {
		update.Snapshot = true
		var err error
		if update.Bids, err = parseSnapshotSide(bf.Bids); err != nil {
			return nil, err
		}
		if update.Asks, err = parseSnapshotSide(bf.Asks); err != nil {
			return nil, err
		}
		return update, nil
	}

	for _, change := range bf.Changes {
		price, err := wire.Float(change[1])
		if err != nil {
			return nil, err
		}
		amount, err := wire.Float(change[2])
		if err != nil {
			return nil, err
		}
		level := interfaces.BookLevel{Price: price, Amount: amount}
		if change[0] == "buy" {
			update.Bids = append(update.Bids, level)
		} else {
			update.Asks = append(update.Asks, level)
		}
	}
	return update, nil
}

func parseSnapshotSide(rows [][2]string) ([]interfaces.BookLevel, error) {
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

func (p *protocol) ParseCandles(raw []byte, market *interfaces.Market) (*interfaces.CandleBatch, error) {
	return nil, fmt.Errorf("coinbasepro ohlcv: %w", interfaces.ErrNotSupported)
}
