package interfaces

// Market describes one tradeable symbol in both canonical and
// exchange-native terms. Market metadata is loaded by an external
// collaborator (REST metadata endpoints) before subscribing; this package
// only defines the lookup table shape.
type Market struct {
	// Symbol is the canonical identifier, e.g. "BTC/USD".
	Symbol string

	// ID is the exchange-native identifier used by REST and, for most
	// exchanges, the websocket API, e.g. "tBTCUSD" or "BTC-USD".
	ID string

	// WSName is an alternate websocket-only identifier where the exchange
	// uses a distinct scheme (Kraken's "wsname", e.g. "XBT/USD"). Empty when
	// the websocket API shares ID.
	WSName string

	Base  string
	Quote string

	PricePrecision  int
	AmountPrecision int
	Maker           float64
	Taker           float64
}

// WebsocketID returns the identifier this market is known by on the
// websocket API.
func (m *Market) WebsocketID() string {
	if m.WSName != "" {
		return m.WSName
	}
	return m.ID
}

// MarketTable resolves markets by canonical symbol and by exchange-native
// id. Both id schemes (ID and WSName) are indexed. The table is immutable
// after construction.
type MarketTable struct {
	bySymbol map[string]*Market
	byID     map[string]*Market
}

// NewMarketTable builds a table from pre-loaded market metadata.
func NewMarketTable(markets ...Market) *MarketTable {
	t := &MarketTable{
		bySymbol: make(map[string]*Market, len(markets)),
		byID:     make(map[string]*Market, len(markets)),
	}
	for i := range markets {
		m := &markets[i]
		t.bySymbol[m.Symbol] = m
		t.byID[m.ID] = m
		if m.WSName != "" {
			t.byID[m.WSName] = m
		}
	}
	return t
}

// BySymbol returns the market for a canonical symbol, or nil.
func (t *MarketTable) BySymbol(symbol string) *Market {
	return t.bySymbol[symbol]
}

// ByID returns the market for an exchange-native id (either id scheme),
// or nil.
func (t *MarketTable) ByID(id string) *Market {
	return t.byID[id]
}

// Symbols lists the canonical symbols in the table.
func (t *MarketTable) Symbols() []string {
	symbols := make([]string, 0, len(t.bySymbol))
	for s := range t.bySymbol {
		symbols = append(symbols, s)
	}
	return symbols
}
