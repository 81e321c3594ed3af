package kraken

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/websocket"
)

func testMarkets() *interfaces.MarketTable {
	return interfaces.NewMarketTable(
		interfaces.Market{Symbol: "BTC/USD", ID: "XXBTZUSD", WSName: "XBT/USD", Base: "BTC", Quote: "USD"},
		interfaces.Market{Symbol: "ETH/USD", ID: "XETHZUSD", WSName: "ETH/USD", Base: "ETH", Quote: "USD"},
	)
}

func TestBuildSubscribeRequests(t *testing.T) {
	p := newProtocol(testMarkets())

	t.Run("order book default depth", func(t *testing.T) {
		reqs, err := p.BuildSubscribeRequests([]string{"BTC/USD"}, interfaces.KindOrderBook, websocket.SubscribeParams{})
		require.NoError(t, err)
		require.Len(t, reqs, 1)

		body := reqs[0].Body.(subscribeRequest)
		assert.Equal(t, "subscribe", body.Event)
		assert.Equal(t, []string{"XBT/USD"}, body.Pair)
		assert.Equal(t, "book", body.Subscription["name"])
		assert.Equal(t, 100, body.Subscription["depth"])
	})

	t.Run("candles timeframe mapped to interval minutes", func(t *testing.T) {
		reqs, err := p.BuildSubscribeRequests([]string{"ETH/USD"}, interfaces.KindOHLCV, websocket.SubscribeParams{Timeframe: "1h"})
		require.NoError(t, err)

		body := reqs[0].Body.(subscribeRequest)
		assert.Equal(t, "ohlc", body.Subscription["name"])
		assert.Equal(t, 60, body.Subscription["interval"])
	})

	t.Run("unknown timeframe", func(t *testing.T) {
		_, err := p.BuildSubscribeRequests([]string{"BTC/USD"}, interfaces.KindOHLCV, websocket.SubscribeParams{Timeframe: "7m"})
		assert.ErrorIs(t, err, interfaces.ErrInvalidTimeframe)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := p.BuildSubscribeRequests([]string{"DOGE/USD"}, interfaces.KindTicker, websocket.SubscribeParams{})
		assert.ErrorIs(t, err, interfaces.ErrInvalidSymbol)
	})
}

func TestClassify(t *testing.T) {
	p := newProtocol(testMarkets())

	cases := []struct {
		name string
		raw  string
		want websocket.ReplyClass
	}{
		{"subscribe ack", `{"event":"subscriptionStatus","status":"subscribed","channelID":10,"pair":"XBT/USD","subscription":{"name":"ticker"}}`, websocket.ReplySubscribed},
		{"unsubscribe ack", `{"event":"subscriptionStatus","status":"unsubscribed","channelID":10,"pair":"XBT/USD","subscription":{"name":"ticker"}}`, websocket.ReplyUnsubscribed},
		{"subscription error", `{"event":"subscriptionStatus","status":"error","errorMessage":"Subscription depth not supported"}`, websocket.ReplyError},
		{"heartbeat", `{"event":"heartbeat"}`, websocket.ReplyInfo},
		{"system status", `{"event":"systemStatus","status":"online","version":"1.0.0"}`, websocket.ReplyInfo},
		{"data frame", `[42,{"a":["5525.40000",1,"1.000"]},"ticker","XBT/USD"]`, websocket.ReplyData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.Classify([]byte(tc.raw)))
		})
	}
}

func TestCorrelationKey(t *testing.T) {
	p := newProtocol(testMarkets())

	key, err := p.CorrelationKey([]byte(`[42,[["5541.20000","0.15850568","1534614057.321597","s","l",""]],"trade","XBT/USD"]`))
	require.NoError(t, err)
	assert.Equal(t, "42", key)

	_, err = p.CorrelationKey([]byte(`[42,{}]`))
	assert.ErrorIs(t, err, interfaces.ErrUnknownResponse)
}

func TestParseSubscription(t *testing.T) {
	p := newProtocol(testMarkets())

	t.Run("ohlc ack carries interval and pair", func(t *testing.T) {
		raw := `{"event":"subscriptionStatus","status":"subscribed","channelID":216,"pair":"XBT/USD","subscription":{"name":"ohlc","interval":5}}`
		ch, err := p.ParseSubscription([]byte(raw), nil)
		require.NoError(t, err)
		require.NotNil(t, ch)
		assert.Equal(t, "216", ch.Key)
		assert.Equal(t, interfaces.KindOHLCV, ch.Kind)
		assert.Equal(t, "BTC/USD", ch.Symbol)
		assert.Equal(t, "5m", ch.Timeframe)
	})

	t.Run("book ack carries depth", func(t *testing.T) {
		raw := `{"event":"subscriptionStatus","status":"subscribed","channelID":7,"pair":"ETH/USD","subscription":{"name":"book","depth":25}}`
		ch, err := p.ParseSubscription([]byte(raw), nil)
		require.NoError(t, err)
		require.NotNil(t, ch)
		assert.Equal(t, interfaces.KindOrderBook, ch.Kind)
		assert.Equal(t, 25, ch.Depth)
	})

	t.Run("ack for unloaded pair dropped", func(t *testing.T) {
		raw := `{"event":"subscriptionStatus","status":"subscribed","channelID":3,"pair":"ADA/EUR","subscription":{"name":"ticker"}}`
		ch, err := p.ParseSubscription([]byte(raw), nil)
		require.NoError(t, err)
		assert.Nil(t, ch)
	})
}

func TestBuildUnsubscribeRequest(t *testing.T) {
	p := newProtocol(testMarkets())

	reqs, err := p.BuildSubscribeRequests([]string{"BTC/USD"}, interfaces.KindTicker, websocket.SubscribeParams{})
	require.NoError(t, err)

	req, err := p.BuildUnsubscribeRequest(&websocket.Channel{ID: 4, Kind: interfaces.KindTicker, Symbol: "BTC/USD", Request: reqs[0]})
	require.NoError(t, err)

	body := req.Body.(subscribeRequest)
	assert.Equal(t, "unsubscribe", body.Event)
	assert.Equal(t, []string{"XBT/USD"}, body.Pair)
	assert.Equal(t, "ticker", body.Subscription["name"])
}

func TestParseError(t *testing.T) {
	p := newProtocol(testMarkets())

	t.Run("ISO 4217 advisory swallowed", func(t *testing.T) {
		raw := `{"event":"subscriptionStatus","status":"error","errorMessage":"Currency pair not in ISO 4217-A3 format XBT/USD"}`
		assert.NoError(t, p.ParseError([]byte(raw)))
	})

	t.Run("subscription failure surfaced", func(t *testing.T) {
		raw := `{"event":"subscriptionStatus","status":"error","errorMessage":"Subscription depth not supported"}`
		err := p.ParseError([]byte(raw))
		assert.ErrorIs(t, err, interfaces.ErrSubscribe)
		assert.Contains(t, err.Error(), "depth not supported")
	})
}

func TestParseTicker(t *testing.T) {
	p := newProtocol(testMarkets())
	market := testMarkets().BySymbol("BTC/USD")

	raw := `[42,{
		"a":["5525.40000",1,"1.000"],
		"b":["5525.10000",1,"1.000"],
		"c":["5525.10000","0.00398963"],
		"v":["2634.11501494","3591.17907851"],
		"p":["5631.44067","5653.78939"],
		"t":[11493,16267],
		"l":["5505.00000","5505.00000"],
		"h":["5783.00000","5783.00000"],
		"o":["5760.70000","5763.40000"]
	},"ticker","XBT/USD"]`

	ticker, err := p.ParseTicker([]byte(raw), market)
	require.NoError(t, err)

	assert.Equal(t, "BTC/USD", ticker.Symbol)
	assert.Equal(t, 5525.4, ticker.Ask)
	assert.Equal(t, 1.0, ticker.AskVolume)
	assert.Equal(t, 5525.1, ticker.Bid)
	assert.Equal(t, 5525.1, ticker.Last)
	assert.Equal(t, 5783.0, ticker.High)
	assert.Equal(t, 5505.0, ticker.Low)
	assert.Equal(t, 5760.7, ticker.Open)
	assert.Equal(t, 5653.78939, ticker.VWAP)
	assert.Equal(t, 3591.17907851, ticker.BaseVolume)
	assert.InDelta(t, 5525.1-5760.7, ticker.Change, 1e-9)
	assert.InDelta(t, (5525.1-5760.7)/5760.7*100, ticker.Percentage, 1e-9)
}

func TestParseTrades(t *testing.T) {
	p := newProtocol(testMarkets())
	market := testMarkets().BySymbol("BTC/USD")

	raw := `[0,[
		["5541.20000","0.15850568","1534614057.321597","s","l",""],
		["6060.00000","0.02455000","1534614057.324998","b","m",""]
	],"trade","XBT/USD"]`

	trades, err := p.ParseTrades([]byte(raw), market)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, "sell", trades[0].Side)
	assert.Equal(t, "limit", trades[0].Type)
	assert.Equal(t, "maker", trades[0].TakerOrMaker)
	assert.Equal(t, 5541.2, trades[0].Price)
	assert.Equal(t, 0.15850568, trades[0].Amount)
	assert.InDelta(t, 5541.2*0.15850568, trades[0].Cost, 1e-9)
	assert.Equal(t, int64(1534614057), trades[0].Timestamp.Unix())

	assert.Equal(t, "buy", trades[1].Side)
	assert.Equal(t, "market", trades[1].Type)
	assert.Equal(t, "taker", trades[1].TakerOrMaker)
}

func TestParseOrderBook(t *testing.T) {
	p := newProtocol(testMarkets())
	market := testMarkets().BySymbol("BTC/USD")

	t.Run("snapshot", func(t *testing.T) {
		raw := `[0,{
			"bs":[["5541.20000","1.52900000","1534614248.765567"],["5541.10000","0.50000000","1534614248.999998"]],
			"as":[["5541.30000","2.50700000","1534614248.123678"],["5541.50000","0.40100000","1534614248.456738"]]
		},"book-100","XBT/USD"]`

		update, err := p.ParseOrderBook([]byte(raw), market)
		require.NoError(t, err)
		assert.True(t, update.Snapshot)
		require.Len(t, update.Bids, 2)
		require.Len(t, update.Asks, 2)
		assert.Equal(t, interfaces.BookLevel{Price: 5541.2, Amount: 1.529, Timestamp: 1534614248.765567}, update.Bids[0])
		assert.Equal(t, interfaces.BookLevel{Price: 5541.3, Amount: 2.507, Timestamp: 1534614248.123678}, update.Asks[0])
	})

	t.Run("delta touching both sides", func(t *testing.T) {
		raw := `[1234,{"b":[["5541.30000","1.00000000","1534614335.345903"]]},{"a":[["5541.50000","0.40100000","1534614335.345903"]]},"book-10","XBT/USD"]`

		update, err := p.ParseOrderBook([]byte(raw), market)
		require.NoError(t, err)
		assert.False(t, update.Snapshot)
		require.Len(t, update.Bids, 1)
		require.Len(t, update.Asks, 1)
		assert.Equal(t, 5541.3, update.Bids[0].Price)
		assert.Equal(t, 5541.5, update.Asks[0].Price)
	})

	t.Run("delta", func(t *testing.T) {
		raw := `[1234,{"b":[["5541.30000","0.00000000","1534614335.345903"]]},"book-10","XBT/USD"]`

		update, err := p.ParseOrderBook([]byte(raw), market)
		require.NoError(t, err)
		assert.False(t, update.Snapshot)
		require.Len(t, update.Bids, 1)
		assert.Empty(t, update.Asks)
		assert.Equal(t, 5541.3, update.Bids[0].Price)
		assert.Zero(t, update.Bids[0].Amount)
	})
}

func TestParseCandles(t *testing.T) {
	p := newProtocol(testMarkets())
	market := testMarkets().BySymbol("BTC/USD")

	raw := `[42,["1542057314.748456","1542057360.435743","3586.70000","3586.70000","3586.60000","3586.60000","3586.68894","0.03373000",2],"ohlc-5","XBT/USD"]`

	batch, err := p.ParseCandles([]byte(raw), market)
	require.NoError(t, err)
	require.Len(t, batch.Candles, 1)

	c := batch.Candles[0]
	assert.Equal(t, int64(1542057360), c.Timestamp.Unix())
	assert.Equal(t, 3586.7, c.Open)
	assert.Equal(t, 3586.7, c.High)
	assert.Equal(t, 3586.6, c.Low)
	assert.Equal(t, 3586.6, c.Close)
	assert.Equal(t, 0.03373, c.Volume)
}

// TestConnectorStream drives a full subscribe/ack/data round trip against a
// local server speaking Kraken's wire protocol.
func TestConnectorStream(t *testing.T) {
	srv := websocket.NewMockServer()
	defer srv.Close()

	srv.OnMessage(func(conn *gws.Conn, msg []byte) {
		var req subscribeRequest
		if err := json.Unmarshal(msg, &req); err != nil || req.Event != "subscribe" {
			return
		}
		ack := map[string]any{
			"event":        "subscriptionStatus",
			"status":       "subscribed",
			"channelID":    914,
			"pair":         req.Pair[0],
			"subscription": req.Subscription,
		}
		payload, _ := json.Marshal(ack)
		_ = conn.WriteMessage(gws.TextMessage, payload)
		_ = conn.WriteMessage(gws.TextMessage, []byte(
			`[914,[["5541.20000","0.15850568","1534614057.321597","s","l",""]],"trade","XBT/USD"]`,
		))
	})

	opts := interfaces.NewOptions()
	opts.PublicURL = srv.URL()
	opts.LogLevel = "error"

	conn, err := NewConnector(testMarkets(), opts)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.SubscribeTrades(ctx, []string{"BTC/USD"}))

	ev, err := conn.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, interfaces.KindTrades, ev.Kind)

	trades := ev.Payload.([]interfaces.Trade)
	require.Len(t, trades, 1)
	assert.Equal(t, "BTC/USD", trades[0].Symbol)
	assert.Equal(t, 5541.2, trades[0].Price)
}
