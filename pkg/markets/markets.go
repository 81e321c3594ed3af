// Package markets loads tradeable market metadata over each exchange's
// public REST API and builds the lookup tables the websocket connectors
// subscribe through.
package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
)

// Loader fetches market metadata for one exchange.
type Loader struct {
	http *httpClient

	// baseURL overrides the exchange REST endpoint, for tests.
	baseURL string
}

// Option configures a Loader.
type Option func(*Loader)

// WithBaseURL points the loader at an alternate REST endpoint.
func WithBaseURL(url string) Option {
	return func(l *Loader) { l.baseURL = strings.TrimRight(url, "/") }
}

// WithClientConfig replaces the default HTTP client configuration.
func WithClientConfig(cfg *ClientConfig) Option {
	return func(l *Loader) { l.http = newHTTPClient(cfg) }
}

// NewLoader builds a metadata loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{http: newHTTPClient(nil)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) endpoint(def string) string {
	if l.baseURL != "" {
		return l.baseURL
	}
	return def
}

// krakenAssets maps Kraken's legacy asset codes to their canonical names.
var krakenAssets = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

func krakenAsset(code string) string {
	if canonical, ok := krakenAssets[code]; ok {
		return canonical
	}
	return code
}

// Kraken loads the AssetPairs table. Pair ids are Kraken's REST ids; the
// websocket API addresses pairs by wsname instead.
func (l *Loader) Kraken(ctx context.Context) (*interfaces.MarketTable, error) {
	body, err := l.http.getJSON(ctx, l.endpoint("https://api.kraken.com")+"/0/public/AssetPairs")
	if err != nil {
		return nil, err
	}

	var reply struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			WSName       string  `json:"wsname"`
			Base         string  `json:"base"`
			Quote        string  `json:"quote"`
			PairDecimals int     `json:"pair_decimals"`
			LotDecimals  int     `json:"lot_decimals"`
			MakerFee     [][]any `json:"fees_maker"`
			TakerFee     [][]any `json:"fees"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode kraken asset pairs: %w", err)
	}
	if len(reply.Error) > 0 {
		return nil, fmt.Errorf("kraken asset pairs: %s", strings.Join(reply.Error, "; "))
	}

	list := make([]interfaces.Market, 0, len(reply.Result))
	for id, pair := range reply.Result {
		if pair.WSName == "" {
			// Dark pool pairs have no websocket presence.
			continue
		}
		parts := strings.Split(pair.WSName, "/")
		if len(parts) != 2 {
			continue
		}
		base := krakenAsset(parts[0])
		quote := krakenAsset(parts[1])
		list = append(list, interfaces.Market{
			Symbol:          base + "/" + quote,
			ID:              id,
			WSName:          pair.WSName,
			Base:            base,
			Quote:           quote,
			PricePrecision:  pair.PairDecimals,
			AmountPrecision: pair.LotDecimals,
		})
	}
	return interfaces.NewMarketTable(list...), nil
}

// Bitfinex loads the v1 symbol details table; websocket symbols carry the
// "t" prefix.
func (l *Loader) Bitfinex(ctx context.Context) (*interfaces.MarketTable, error) {
	body, err := l.http.getJSON(ctx, l.endpoint("https://api.bitfinex.com")+"/v1/symbols_details")
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Pair           string `json:"pair"`
		PricePrecision int    `json:"price_precision"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode bitfinex symbols: %w", err)
	}

	list := make([]interfaces.Market, 0, len(rows))
	for _, row := range rows {
		pair := strings.ToUpper(row.Pair)
		var base, quote string
		if idx := strings.Index(pair, ":"); idx >= 0 {
			base, quote = pair[:idx], pair[idx+1:]
			pair = strings.ReplaceAll(pair, ":", "")
		} else {
			if len(pair) != 6 {
				continue
			}
			base, quote = pair[:3], pair[3:]
		}
		list = append(list, interfaces.Market{
			Symbol:         base + "/" + quote,
			ID:             "t" + pair,
			Base:           base,
			Quote:          quote,
			PricePrecision: row.PricePrecision,
		})
	}
	return interfaces.NewMarketTable(list...), nil
}

// CoinbasePro loads the products table.
func (l *Loader) CoinbasePro(ctx context.Context) (*interfaces.MarketTable, error) {
	body, err := l.http.getJSON(ctx, l.endpoint("https://api.pro.coinbase.com")+"/products")
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID            string `json:"id"`
		BaseCurrency  string `json:"base_currency"`
		QuoteCurrency string `json:"quote_currency"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode coinbasepro products: %w", err)
	}

	list := make([]interfaces.Market, 0, len(rows))
	for _, row := range rows {
		list = append(list, interfaces.Market{
			Symbol: row.BaseCurrency + "/" + row.QuoteCurrency,
			ID:     row.ID,
			Base:   row.BaseCurrency,
			Quote:  row.QuoteCurrency,
		})
	}
	return interfaces.NewMarketTable(list...), nil
}

// Bitvavo loads the markets table.
func (l *Loader) Bitvavo(ctx context.Context) (*interfaces.MarketTable, error) {
	body, err := l.http.getJSON(ctx, l.endpoint("https://api.bitvavo.com")+"/v2/markets")
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Market string `json:"market"`
		Base   string `json:"base"`
		Quote  string `json:"quote"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode bitvavo markets: %w", err)
	}

	list := make([]interfaces.Market, 0, len(rows))
	for _, row := range rows {
		list = append(list, interfaces.Market{
			Symbol: row.Base + "/" + row.Quote,
			ID:     row.Market,
			Base:   row.Base,
			Quote:  row.Quote,
		})
	}
	return interfaces.NewMarketTable(list...), nil
}

// ByExchange dispatches to the loader for a named exchange.
func (l *Loader) ByExchange(ctx context.Context, exchange string) (*interfaces.MarketTable, error) {
	switch exchange {
	case "kraken":
		return l.Kraken(ctx)
	case "bitfinex":
		return l.Bitfinex(ctx)
	case "coinbasepro":
		return l.CoinbasePro(ctx)
	case "bitvavo":
		return l.Bitvavo(ctx)
	default:
		return nil, fmt.Errorf("markets: unknown exchange %q", exchange)
	}
}
