// Package orderbook maintains per-symbol order book state reconstructed
// from websocket snapshot and delta messages.
//
// Books are built from float64 price levels parsed from exchange strings.
// Price matching is exact: exchanges quote at fixed precision, so no
// tolerance is applied when locating a resting level.
package orderbook

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
)

// Update is a parsed order book message: either a full snapshot or an
// incremental delta. A delta entry with Amount == 0 removes the resting
// level at that price.
type Update struct {
	Bids      []interfaces.BookLevel
	Asks      []interfaces.BookLevel
	Snapshot  bool
	Timestamp time.Time
	Nonce     int64
}

// Store holds one mutable book per symbol. A book is created by the first
// update for its symbol and lives for the duration of the subscription.
type Store struct {
	mu    sync.Mutex
	books map[string]*book
}

type book struct {
	bids      []interfaces.BookLevel
	asks      []interfaces.BookLevel
	timestamp time.Time
	nonce     int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{books: make(map[string]*book)}
}

// Apply merges an update into the symbol's book and returns a copy of the
// resulting book suitable for publishing. Snapshots replace the book
// wholesale; deltas add, replace or remove individual price levels. After
// every apply, bids are sorted descending and asks ascending by price, and
// no side holds a zero-amount level or a duplicate price.
//
// Apply either fully succeeds or leaves the book untouched; a failed parse
// upstream must never reach this method with partial data.
func (s *Store) Apply(symbol string, u *Update) (*interfaces.OrderBook, error) {
	if u == nil {
		return nil, fmt.Errorf("orderbook: nil update for %s", symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.books[symbol]
	if b == nil {
		b = &book{}
		s.books[symbol] = b
	}

	if u.Snapshot {
		b.bids = dropZeroAmounts(u.Bids)
		b.asks = dropZeroAmounts(u.Asks)
	} else {
		b.bids = mergeSide(b.bids, u.Bids)
		b.asks = mergeSide(b.asks, u.Asks)
	}

	sort.Slice(b.bids, func(i, j int) bool { return b.bids[i].Price > b.bids[j].Price })
	sort.Slice(b.asks, func(i, j int) bool { return b.asks[i].Price < b.asks[j].Price })

	b.timestamp = u.Timestamp
	b.nonce = u.Nonce

	return b.snapshot(symbol), nil
}

// Book returns a copy of the current book for symbol, or nil if no update
// has been applied yet.
func (s *Store) Book(symbol string) *interfaces.OrderBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.books[symbol]
	if b == nil {
		return nil
	}
	return b.snapshot(symbol)
}

// Drop discards the book for symbol.
func (s *Store) Drop(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, symbol)
}

func (b *book) snapshot(symbol string) *interfaces.OrderBook {
	out := &interfaces.OrderBook{
		Symbol:    symbol,
		Bids:      make([]interfaces.BookLevel, len(b.bids)),
		Asks:      make([]interfaces.BookLevel, len(b.asks)),
		Timestamp: b.timestamp,
		Nonce:     b.nonce,
	}
	copy(out.Bids, b.bids)
	copy(out.Asks, b.asks)
	return out
}

// mergeSide applies delta entries to one side. Matching is a linear scan by
// exact price; fine for typical depths.
func mergeSide(side, entries []interfaces.BookLevel) []interfaces.BookLevel {
	for _, e := range entries {
		idx := -1
		for i := range side {
			if side[i].Price == e.Price {
				idx = i
				break
			}
		}
		switch {
		case idx >= 0 && e.Amount == 0:
			side = append(side[:idx], side[idx+1:]...)
		case idx >= 0:
			side[idx] = e
		case e.Amount != 0:
			side = append(side, e)
		}
	}
	return side
}

func dropZeroAmounts(entries []interfaces.BookLevel) []interfaces.BookLevel {
	out := make([]interfaces.BookLevel, 0, len(entries))
	for _, e := range entries {
		if e.Amount != 0 {
			out = append(out, e)
		}
	}
	return out
}
