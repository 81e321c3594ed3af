package bitvavo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/websocket"
)

func testMarkets() *interfaces.MarketTable {
	return interfaces.NewMarketTable(
		interfaces.Market{Symbol: "BTC/EUR", ID: "BTC-EUR", Base: "BTC", Quote: "EUR"},
		interfaces.Market{Symbol: "ETH/EUR", ID: "ETH-EUR", Base: "ETH", Quote: "EUR"},
	)
}

func TestBuildSubscribeRequests(t *testing.T) {
	p := newProtocol(testMarkets())

	t.Run("trades", func(t *testing.T) {
		reqs, err := p.BuildSubscribeRequests([]string{"BTC/EUR"}, interfaces.KindTrades, websocket.SubscribeParams{})
		require.NoError(t, err)
		require.Len(t, reqs, 1)

		body := reqs[0].Body.(subscribeRequest)
		assert.Equal(t, "subscribe", body.Action)
		require.Len(t, body.Channels, 1)
		assert.Equal(t, "trades", body.Channels[0].Name)
		assert.Equal(t, []string{"BTC-EUR"}, body.Channels[0].Markets)
		assert.Empty(t, body.Channels[0].Interval)
	})

	t.Run("candles carry interval", func(t *testing.T) {
		reqs, err := p.BuildSubscribeRequests([]string{"ETH/EUR"}, interfaces.KindOHLCV, websocket.SubscribeParams{Timeframe: "1h"})
		require.NoError(t, err)

		body := reqs[0].Body.(subscribeRequest)
		assert.Equal(t, "candles", body.Channels[0].Name)
		assert.Equal(t, []string{"1h"}, body.Channels[0].Interval)
	})

	t.Run("unknown timeframe", func(t *testing.T) {
		_, err := p.BuildSubscribeRequests([]string{"BTC/EUR"}, interfaces.KindOHLCV, websocket.SubscribeParams{Timeframe: "3m"})
		assert.ErrorIs(t, err, interfaces.ErrInvalidTimeframe)
	})
}

func TestUnsubscribeUnsupported(t *testing.T) {
	p := newProtocol(testMarkets())
	_, err := p.BuildUnsubscribeRequest(&websocket.Channel{ID: 1})
	assert.ErrorIs(t, err, interfaces.ErrNotSupported)
}

func TestClassify(t *testing.T) {
	p := newProtocol(testMarkets())

	cases := []struct {
		name string
		raw  string
		want websocket.ReplyClass
	}{
		{"subscribed ack", `{"event":"subscribed","subscriptions":{"trades":["BTC-EUR"]}}`, websocket.ReplySubscribed},
		{"error", `{"event":"subscribed","errorCode":400,"error":"Unknown market"}`, websocket.ReplyError},
		{"trade frame", `{"event":"trade","market":"BTC-EUR","price":"5012.3"}`, websocket.ReplyData},
		{"book frame", `{"event":"book","market":"BTC-EUR","nonce":1}`, websocket.ReplyData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.Classify([]byte(tc.raw)))
		})
	}
}

func TestCorrelationKey(t *testing.T) {
	p := newProtocol(testMarkets())

	cases := []struct {
		raw  string
		want string
	}{
		{`{"event":"trade","market":"BTC-EUR"}`, "trades:BTC-EUR"},
		{`{"event":"book","market":"ETH-EUR"}`, "book:ETH-EUR"},
		{`{"event":"candle","market":"BTC-EUR","interval":"1m","candle":[]}`, "candles:1m:BTC-EUR"},
		{`{"event":"ticker24h","data":[{"market":"BTC-EUR"}]}`, "ticker24h:BTC-EUR"},
	}
	for _, tc := range cases {
		key, err := p.CorrelationKey([]byte(tc.raw))
		require.NoError(t, err)
		assert.Equal(t, tc.want, key)
	}

	_, err := p.CorrelationKey([]byte(`{"event":"mystery","market":"BTC-EUR"}`))
	assert.ErrorIs(t, err, interfaces.ErrUnknownResponse)
}

func TestParseSubscription(t *testing.T) {
	p := newProtocol(testMarkets())

	t.Run("plain channel", func(t *testing.T) {
		raw := `{"event":"subscribed","subscriptions":{"trades":["BTC-EUR"]}}`
		ch, err := p.ParseSubscription([]byte(raw), nil)
		require.NoError(t, err)
		require.NotNil(t, ch)
		assert.Equal(t, "trades:BTC-EUR", ch.Key)
		assert.Equal(t, interfaces.KindTrades, ch.Kind)
		assert.Equal(t, "BTC/EUR", ch.Symbol)
	})

	t.Run("candles nest by interval", func(t *testing.T) {
		raw := `{"event":"subscribed","subscriptions":{"candles":{"1h":["ETH-EUR"]}}}`
		ch, err := p.ParseSubscription([]byte(raw), nil)
		require.NoError(t, err)
		require.NotNil(t, ch)
		assert.Equal(t, "candles:1h:ETH-EUR", ch.Key)
		assert.Equal(t, interfaces.KindOHLCV, ch.Kind)
		assert.Equal(t, "1h", ch.Timeframe)
	})

	t.Run("cumulative ack picks the unregistered market", func(t *testing.T) {
		registered := []*websocket.Channel{{Key: "trades:BTC-EUR", Kind: interfaces.KindTrades, Symbol: "BTC/EUR"}}
		raw := `{"event":"subscribed","subscriptions":{"trades":["BTC-EUR","ETH-EUR"]}}`
		ch, err := p.ParseSubscription([]byte(raw), registered)
		require.NoError(t, err)
		require.NotNil(t, ch)
		assert.Equal(t, "trades:ETH-EUR", ch.Key)
	})

	t.Run("fully registered ack yields nothing", func(t *testing.T) {
		registered := []*websocket.Channel{{Key: "trades:BTC-EUR", Kind: interfaces.KindTrades, Symbol: "BTC/EUR"}}
		raw := `{"event":"subscribed","subscriptions":{"trades":["BTC-EUR"]}}`
		ch, err := p.ParseSubscription([]byte(raw), registered)
		require.NoError(t, err)
		assert.Nil(t, ch)
	})
}

func TestParseTicker(t *testing.T) {
	p := newProtocol(testMarkets())
	market := testMarkets().BySymbol("BTC/EUR")

	raw := `{"event":"ticker24h","data":[{
		"market":"BTC-EUR","open":"4999.8","high":"5041.3","low":"4921.0",
		"last":"5015.2","volume":"23.123","volumeQuote":"115987.3",
		"bestBid":"5015.1","bestBidSize":"0.42","bestAsk":"5015.3","bestAskSize":"0.31",
		"timestamp":1565684571367
	}]}`

	ticker, err := p.ParseTicker([]byte(raw), market)
	require.NoError(t, err)

	assert.Equal(t, "BTC/EUR", ticker.Symbol)
	assert.Equal(t, 5015.2, ticker.Last)
	assert.Equal(t, 4999.8, ticker.Open)
	assert.Equal(t, 5041.3, ticker.High)
	assert.Equal(t, 4921.0, ticker.Low)
	assert.Equal(t, 5015.1, ticker.Bid)
	assert.Equal(t, 0.42, ticker.BidVolume)
	assert.Equal(t, 5015.3, ticker.Ask)
	assert.Equal(t, 23.123, ticker.BaseVolume)
	assert.Equal(t, 115987.3, ticker.QuoteVolume)
	assert.Equal(t, int64(1565684571367), ticker.Timestamp.UnixMilli())
}

func TestParseTrades(t *testing.T) {
	p := newProtocol(testMarkets())
	market := testMarkets().BySymbol("BTC/EUR")

	raw := `{"event":"trade","timestamp":1566817150050,"market":"BTC-EUR","id":"391f4d94-485f-4fb2-b11b-85cba8b929b3","amount":"0.00628784","price":"9036.9","side":"buy"}`

	trades, err := p.ParseTrades([]byte(raw), market)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.Equal(t, "391f4d94-485f-4fb2-b11b-85cba8b929b3", trades[0].ID)
	assert.Equal(t, "buy", trades[0].Side)
	assert.Equal(t, 9036.9, trades[0].Price)
	assert.Equal(t, 0.00628784, trades[0].Amount)
	assert.Equal(t, int64(1566817150050), trades[0].Timestamp.UnixMilli())
}

func TestParseOrderBook(t *testing.T) {
	p := newProtocol(testMarkets())
	market := testMarkets().BySymbol("BTC/EUR")

	raw := `{"event":"book","market":"BTC-EUR","nonce":5,
		"bids":[["9035.9","0.25"],["9035.1","1.02"]],
		"asks":[["9036.2","0.61"]]}`

	update, err := p.ParseOrderBook([]byte(raw), market)
	require.NoError(t, err)

	assert.True(t, update.Snapshot)
	assert.Equal(t, int64(5), update.Nonce)
	require.Len(t, update.Bids, 2)
	assert.Equal(t, interfaces.BookLevel{Price: 9035.9, Amount: 0.25}, update.Bids[0])
	require.Len(t, update.Asks, 1)
}

func TestParseCandles(t *testing.T) {
	p := newProtocol(testMarkets())
	market := testMarkets().BySymbol("BTC/EUR")

	raw := `{"event":"candle","market":"BTC-EUR","interval":"1h","candle":[[1538784000000,"4999.8","5012.3","4999.1","5011.6","23.123"]]}`

	batch, err := p.ParseCandles([]byte(raw), market)
	require.NoError(t, err)

	assert.Equal(t, "1h", batch.Timeframe)
	require.Len(t, batch.Candles, 1)

	c := batch.Candles[0]
	assert.Equal(t, int64(1538784000000), c.Timestamp.UnixMilli())
	assert.Equal(t, 4999.8, c.Open)
	assert.Equal(t, 5012.3, c.High)
	assert.Equal(t, 4999.1, c.Low)
	assert.Equal(t, 5011.6, c.Close)
	assert.Equal(t, 23.123, c.Volume)
}
