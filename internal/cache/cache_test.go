package cache_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketdata/internal/cache"
	"marketdata/internal/quote"
)

func TestMemorySetGet(t *testing.T) {
	t.Parallel()

	m := cache.NewMemory(0)
	require.NoError(t, m.Set(t.Context(), "k", []byte("v"), time.Minute))

	got, err := m.Get(t.Context(), "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestMemoryMissIsNil(t *testing.T) {
	t.Parallel()

	m := cache.NewMemory(0)
	got, err := m.Get(t.Context(), "absent")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryExpiry(t *testing.T) {
	t.Parallel()

	m := cache.NewMemory(0)
	require.NoError(t, m.Set(t.Context(), "k", []byte("v"), 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	got, err := m.Get(t.Context(), "k")
	require.NoError(t, err)
	require.Nil(t, got, "expired entry must read as a miss")
}

func TestMemoryNonPositiveTTLIsNoop(t *testing.T) {
	t.Parallel()

	m := cache.NewMemory(0)
	require.NoError(t, m.Set(t.Context(), "k", []byte("v"), 0))

	got, err := m.Get(t.Context(), "k")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryGetManyReturnsPresentSubset(t *testing.T) {
	t.Parallel()

	m := cache.NewMemory(0)
	require.NoError(t, m.SetMany(t.Context(), map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}, time.Minute))

	got, err := m.GetMany(t.Context(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []byte("1"), got["a"])
	require.Equal(t, []byte("2"), got["b"])
	require.NotContains(t, got, "c")
}

func TestMemoryEviction(t *testing.T) {
	t.Parallel()

	m := cache.NewMemory(2)
	require.NoError(t, m.Set(t.Context(), "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(t.Context(), "b", []byte("2"), time.Minute))
	require.NoError(t, m.Set(t.Context(), "c", []byte("3"), time.Minute))

	got, err := m.GetMany(t.Context(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.LessOrEqual(t, len(got), 2)
}

func TestQuoteCodecRoundTrip(t *testing.T) {
	t.Parallel()

	last := decimal.RequireFromString("67421.55")
	bid := decimal.RequireFromString("67421.50")
	q := quote.Quote{
		Symbol:     "BTC",
		Last:       &last,
		Bid:        &bid,
		Currency:   "USD",
		Source:     "coingecko",
		ReceivedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	b, err := cache.EncodeQuote(q)
	require.NoError(t, err)

	got, err := cache.DecodeQuote(b)
	require.NoError(t, err)
	require.Equal(t, q.Symbol, got.Symbol)
	require.True(t, q.Last.Equal(*got.Last))
	require.True(t, q.Bid.Equal(*got.Bid))
	require.Nil(t, got.Ask)
	require.Equal(t, q.Currency, got.Currency)
	require.Equal(t, q.Source, got.Source)
	require.True(t, q.ReceivedAt.Equal(got.ReceivedAt))
}

func TestDecodeQuoteCorrupt(t *testing.T) {
	t.Parallel()

	_, err := cache.DecodeQuote([]byte("not msgpack"))
	require.Error(t, err)
}
