package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
)

const symbol = "BTC/USD"

func level(price, amount float64) interfaces.BookLevel {
	return interfaces.BookLevel{Price: price, Amount: amount}
}

func TestApplySnapshotReplacesBook(t *testing.T) {
	store := NewStore()

	_, err := store.Apply(symbol, &Update{
		Bids:     []interfaces.BookLevel{level(1, 1)},
		Asks:     []interfaces.BookLevel{level(2, 1)},
		Snapshot: true,
	})
	require.NoError(t, err)

	book, err := store.Apply(symbol, &Update{
		Bids:     []interfaces.BookLevel{level(3, 5)},
		Asks:     []interfaces.BookLevel{level(4, 5)},
		Snapshot: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []interfaces.BookLevel{level(3, 5)}, book.Bids)
	assert.Equal(t, []interfaces.BookLevel{level(4, 5)}, book.Asks)
}

func TestApplyDeltaAddReplaceRemove(t *testing.T) {
	store := NewStore()
	_, err := store.Apply(symbol, &Update{
		Bids:     []interfaces.BookLevel{level(1, 1)},
		Asks:     []interfaces.BookLevel{level(2, 1)},
		Snapshot: true,
	})
	require.NoError(t, err)

	t.Run("add", func(t *testing.T) {
		book, err := store.Apply(symbol, &Update{
			Bids: []interfaces.BookLevel{level(1.3, 1)},
			Asks: []interfaces.BookLevel{level(1.7, 1)},
		})
		require.NoError(t, err)
		assert.Equal(t, []interfaces.BookLevel{level(1.3, 1), level(1, 1)}, book.Bids)
		assert.Equal(t, []interfaces.BookLevel{level(1.7, 1), level(2, 1)}, book.Asks)
	})

	t.Run("replace", func(t *testing.T) {
		book, err := store.Apply(symbol, &Update{
			Bids: []interfaces.BookLevel{level(1, 0.7)},
			Asks: []interfaces.BookLevel{level(2, 0.7)},
		})
		require.NoError(t, err)
		assert.Contains(t, book.Bids, level(1, 0.7))
		assert.Contains(t, book.Asks, level(2, 0.7))
	})

	t.Run("remove", func(t *testing.T) {
		book, err := store.Apply(symbol, &Update{
			Bids: []interfaces.BookLevel{level(1, 0), level(1.3, 0)},
			Asks: []interfaces.BookLevel{level(1.7, 0), level(2, 0)},
		})
		require.NoError(t, err)
		assert.Empty(t, book.Bids)
		assert.Empty(t, book.Asks)
	})
}

// Removing an absent price is a no-op, so applying the same zero-amount
// delta twice leaves the book unchanged after the first removal.
func TestApplyZeroAmountIdempotent(t *testing.T) {
	store := NewStore()
	_, err := store.Apply(symbol, &Update{
		Bids:     []interfaces.BookLevel{level(10, 1), level(9, 2)},
		Snapshot: true,
	})
	require.NoError(t, err)

	removal := &Update{Bids: []interfaces.BookLevel{level(10, 0)}}

	first, err := store.Apply(symbol, removal)
	require.NoError(t, err)
	second, err := store.Apply(symbol, removal)
	require.NoError(t, err)

	assert.Equal(t, first.Bids, second.Bids)
	assert.Equal(t, []interfaces.BookLevel{level(9, 2)}, second.Bids)
}

func TestSnapshotThenRemovalRoundTrip(t *testing.T) {
	store := NewStore()
	_, err := store.Apply(symbol, &Update{
		Bids:     []interfaces.BookLevel{level(101.5, 2), level(100.5, 3)},
		Snapshot: true,
	})
	require.NoError(t, err)

	book, err := store.Apply(symbol, &Update{
		Bids: []interfaces.BookLevel{level(101.5, 0)},
	})
	require.NoError(t, err)

	assert.Equal(t, []interfaces.BookLevel{level(100.5, 3)}, book.Bids)
}

func TestApplyKeepsSidesSortedAndDeduped(t *testing.T) {
	store := NewStore()
	_, err := store.Apply(symbol, &Update{
		Bids:     []interfaces.BookLevel{level(5, 1), level(7, 1), level(6, 1)},
		Asks:     []interfaces.BookLevel{level(9, 1), level(8, 1)},
		Snapshot: true,
	})
	require.NoError(t, err)

	book, err := store.Apply(symbol, &Update{
		Bids: []interfaces.BookLevel{level(6.5, 1), level(7, 2)},
		Asks: []interfaces.BookLevel{level(8.5, 1), level(9, 0)},
	})
	require.NoError(t, err)

	requireSorted(t, book)
	assert.Equal(t, []interfaces.BookLevel{
		level(7, 2), level(6.5, 1), level(6, 1), level(5, 1),
	}, book.Bids)
	assert.Equal(t, []interfaces.BookLevel{level(8, 1), level(8.5, 1)}, book.Asks)
}

func TestSnapshotDropsZeroAmountLevels(t *testing.T) {
	store := NewStore()
	book, err := store.Apply(symbol, &Update{
		Bids:     []interfaces.BookLevel{level(10, 0), level(9, 1)},
		Snapshot: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []interfaces.BookLevel{level(9, 1)}, book.Bids)
}

// Some exchanges (Coinbase l2update) can deliver a delta that inserts into
// a book no snapshot has seeded yet; the store starts from an empty book.
func TestDeltaIntoEmptyBook(t *testing.T) {
	store := NewStore()
	book, err := store.Apply(symbol, &Update{
		Bids: []interfaces.BookLevel{level(10101.8, 0.162567)},
	})
	require.NoError(t, err)
	assert.Equal(t, []interfaces.BookLevel{level(10101.8, 0.162567)}, book.Bids)
	assert.Empty(t, book.Asks)
}

func TestApplyRefreshesMetadata(t *testing.T) {
	store := NewStore()
	ts := time.UnixMilli(1534614248123)
	book, err := store.Apply(symbol, &Update{
		Bids:      []interfaces.BookLevel{level(1, 1)},
		Snapshot:  true,
		Timestamp: ts,
		Nonce:     974942666,
	})
	require.NoError(t, err)
	assert.Equal(t, ts, book.Timestamp)
	assert.Equal(t, int64(974942666), book.Nonce)

	assert.Nil(t, store.Book("ETH/USD"))
	store.Drop(symbol)
	assert.Nil(t, store.Book(symbol))
}

func requireSorted(t *testing.T, book *interfaces.OrderBook) {
	t.Helper()
	for i := 1; i < len(book.Bids); i++ {
		require.Greater(t, book.Bids[i-1].Price, book.Bids[i].Price)
	}
	for i := 1; i < len(book.Asks); i++ {
		require.Less(t, book.Asks[i-1].Price, book.Asks[i].Price)
	}
}
