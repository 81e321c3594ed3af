package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
	"github.com/joshklop/cryptoapi/pkg/exchanges/kraken"
	"github.com/joshklop/cryptoapi/pkg/markets"
)

// TestKrakenConnectorE2E exercises the Kraken connector against the live
// exchange: market metadata over REST, then a ticker and trades subscription
// over the public websocket.
//
// To run: CRYPTOAPI_E2E=1 go test -v ./test/e2e
func TestKrakenConnectorE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	if os.Getenv("CRYPTOAPI_E2E") == "" {
		t.Skip("set CRYPTOAPI_E2E=1 to run live exchange tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	table, err := markets.NewLoader().Kraken(ctx)
	require.NoError(t, err, "failed to load kraken markets")
	require.NotNil(t, table.BySymbol("BTC/USD"))

	opts := interfaces.NewOptions()
	opts.LogLevel = "debug"

	conn, err := kraken.NewConnector(table, opts)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SubscribeTicker(ctx, []string{"BTC/USD"}))
	require.NoError(t, conn.SubscribeTrades(ctx, []string{"BTC/USD"}))

	// Tickers arrive on every trade or best-quote change; one of the two
	// channels should produce data well within the deadline.
	var sawTicker, sawTrades bool
	for !sawTicker || !sawTrades {
		ev, err := conn.Next(ctx)
		require.NoError(t, err, "event stream failed")

		switch payload := ev.Payload.(type) {
		case *interfaces.Ticker:
			require.Equal(t, "BTC/USD", payload.Symbol)
			require.Greater(t, payload.Last, 0.0)
			sawTicker = true
		case []interfaces.Trade:
			require.NotEmpty(t, payload)
			require.Equal(t, "BTC/USD", payload[0].Symbol)
			require.Greater(t, payload[0].Price, 0.0)
			sawTrades = true
		}
	}
}
