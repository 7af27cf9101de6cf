package router_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketdata/internal/cache"
	"marketdata/internal/provider/moex"
	"marketdata/internal/quote"
	"marketdata/internal/resolve"
	"marketdata/internal/router"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// stubCrypto prices from a fixed table; prices come back in the vs currency.
type stubCrypto struct {
	prices map[string]string
	err    error

	mu   sync.Mutex
	seen [][]string
}

func (s *stubCrypto) Quotes(_ context.Context, symbols []string, vs string) ([]quote.Quote, error) {
	s.mu.Lock()
	s.seen = append(s.seen, symbols)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []quote.Quote
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			out = append(out, quote.Quote{Symbol: sym, Last: dec(p), Currency: quote.NormalizeCurrency(vs), Source: "coingecko"})
		}
	}
	return out, nil
}

type stubUS struct {
	stocks  map[string]string
	indices map[string]string
	err     error
}

func (s *stubUS) Quotes(_ context.Context, symbols []string) ([]quote.Quote, error) {
	return s.serve(symbols, s.stocks)
}

func (s *stubUS) IndexQuotes(_ context.Context, symbols []string) ([]quote.Quote, error) {
	return s.serve(symbols, s.indices)
}

func (s *stubUS) serve(symbols []string, table map[string]string) ([]quote.Quote, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []quote.Quote
	for _, sym := range symbols {
		if p, ok := table[sym]; ok {
			out = append(out, quote.Quote{Symbol: sym, Last: dec(p), Currency: "USD", Source: "usequity"})
		}
	}
	return out, nil
}

// stubRU records batch sizes to verify chunking.
type stubRU struct {
	prices map[string]string
	err    error

	mu      sync.Mutex
	batches []int
	boards  []moex.Board
}

func (s *stubRU) Quotes(_ context.Context, board moex.Board, symbols []string) ([]quote.Quote, error) {
	s.mu.Lock()
	s.batches = append(s.batches, len(symbols))
	s.boards = append(s.boards, board)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []quote.Quote
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			out = append(out, quote.Quote{Symbol: sym, Last: dec(p), Currency: "RUB", Source: "moex:" + board.Board})
		}
	}
	return out, nil
}

func newRouter(crypto *stubCrypto, us *stubUS, ru *stubRU) *router.Router {
	return router.New(
		resolve.New(nil, zerolog.Nop()),
		crypto, us, ru,
		cache.NewMemory(0),
		zerolog.Nop(),
	)
}

func defaultStubs() (*stubCrypto, *stubUS, *stubRU) {
	crypto := &stubCrypto{prices: map[string]string{"BTC": "67421.55", "ETH": "3512.01"}}
	us := &stubUS{
		stocks:  map[string]string{"AAPL": "227.52"},
		indices: map[string]string{"SPX": "5431.12"},
	}
	ru := &stubRU{prices: map[string]string{"SBER": "312.55", "IMOEX": "3214.77"}}
	return crypto, us, ru
}

func TestGetPricesMixedBatch(t *testing.T) {
	t.Parallel()

	crypto, us, ru := defaultStubs()
	rt := newRouter(crypto, us, ru)

	reqs := []quote.PriceRequest{
		{AssetType: "crypto", Symbol: "btc"},
		{AssetType: "stock_us", Symbol: "AAPL"},
		{AssetType: "stock_ru", Symbol: "sber"},
		{AssetType: "collectible", Symbol: "STAMP"},
		{AssetType: "index_us", Symbol: "SPX"},
		{AssetType: "index", Symbol: "IMOEX"},
	}
	results, err := rt.GetPrices(t.Context(), reqs)
	require.NoError(t, err)
	require.Len(t, results, len(reqs), "exactly one result per request")

	require.Equal(t, "BTC", results[0].Symbol)
	require.Equal(t, "crypto", results[0].AssetType)
	require.Equal(t, "67421.55", results[0].Price.String())
	require.Equal(t, "USD", results[0].Currency)

	require.Equal(t, "227.52", results[1].Price.String())
	require.Equal(t, "312.55", results[2].Price.String())
	require.Equal(t, "RUB", results[2].Currency)

	// Unroutable asset types degrade to a nil price, in place.
	require.Equal(t, "collectible", results[3].AssetType)
	require.Nil(t, results[3].Price)

	require.Equal(t, "5431.12", results[4].Price.String())
	require.Equal(t, "3214.77", results[5].Price.String())
}

func TestGetPricesOneFailedGroupDoesNotTouchOthers(t *testing.T) {
	t.Parallel()

	crypto, us, ru := defaultStubs()
	us.err = errors.New("upstream down")
	rt := newRouter(crypto, us, ru)

	results, err := rt.GetPrices(t.Context(), []quote.PriceRequest{
		{AssetType: "crypto", Symbol: "BTC"},
		{AssetType: "stock_us", Symbol: "AAPL"},
		{AssetType: "stock_ru", Symbol: "SBER"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NotNil(t, results[0].Price)
	require.Nil(t, results[1].Price, "failed group degrades to nil")
	require.NotNil(t, results[2].Price)
}

func TestGetPricesUnknownSymbolIsNil(t *testing.T) {
	t.Parallel()

	crypto, us, ru := defaultStubs()
	rt := newRouter(crypto, us, ru)

	results, err := rt.GetPrices(t.Context(), []quote.PriceRequest{
		{AssetType: "crypto", Symbol: "NOCOIN"},
	})
	require.NoError(t, err)
	require.Nil(t, results[0].Price)
	require.Equal(t, "NOCOIN", results[0].Symbol)
}

func TestGetPricesNormalizesAliasesAndCase(t *testing.T) {
	t.Parallel()

	crypto, us, ru := defaultStubs()
	rt := newRouter(crypto, us, ru)

	results, err := rt.GetPrices(t.Context(), []quote.PriceRequest{
		{AssetType: "Crypto Currency", Symbol: " btc ", Currency: "usd"},
		{AssetType: "bonds", Symbol: "sber"},
	})
	require.NoError(t, err)
	require.Equal(t, "crypto", results[0].AssetType)
	require.Equal(t, "BTC", results[0].Symbol)
	require.NotNil(t, results[0].Price)
	require.Equal(t, "bond", results[1].AssetType)
}

func TestGetPricesDuplicateRequestsEachGetResult(t *testing.T) {
	t.Parallel()

	crypto, us, ru := defaultStubs()
	rt := newRouter(crypto, us, ru)

	results, err := rt.GetPrices(t.Context(), []quote.PriceRequest{
		{AssetType: "crypto", Symbol: "BTC"},
		{AssetType: "crypto", Symbol: "btc"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, results[0].Price.String(), results[1].Price.String())

	// The duplicate collapses into one upstream symbol.
	require.Len(t, crypto.seen, 1)
	require.Equal(t, []string{"BTC"}, crypto.seen[0])
}

func TestGetPricesCryptoGroupedByVSCurrency(t *testing.T) {
	t.Parallel()

	crypto, us, ru := defaultStubs()
	rt := newRouter(crypto, us, ru)

	results, err := rt.GetPrices(t.Context(), []quote.PriceRequest{
		{AssetType: "crypto", Symbol: "BTC", Currency: "EUR"},
		{AssetType: "crypto", Symbol: "ETH"},
	})
	require.NoError(t, err)
	require.Equal(t, "EUR", results[0].Currency)
	require.Equal(t, "USD", results[1].Currency, "empty currency falls back to the default vs")
	require.Len(t, crypto.seen, 2, "one upstream group per vs currency")
}

func TestGetPricesRUChunking(t *testing.T) {
	t.Parallel()

	crypto, us, _ := defaultStubs()
	ru := &stubRU{prices: map[string]string{}}
	rt := newRouter(crypto, us, ru)

	// 23 index symbols against SNDX's batch limit of 10 make 3 calls.
	var reqs []quote.PriceRequest
	for i := 0; i < 23; i++ {
		reqs = append(reqs, quote.PriceRequest{AssetType: "index", Symbol: fmt.Sprintf("IDX%02d", i)})
	}
	results, err := rt.GetPrices(t.Context(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 23)
	require.Equal(t, []int{10, 10, 3}, ru.batches)
	for _, b := range ru.boards {
		require.Equal(t, moex.IndexSNDX, b)
	}
}

func TestGetPricesRUFailedChunkDegradesOnlyItself(t *testing.T) {
	t.Parallel()

	// The stub fails every call, so all RU results degrade while the crypto
	// request in the same batch still resolves.
	crypto, us, _ := defaultStubs()
	ru := &stubRU{err: errors.New("iss down")}
	rt := newRouter(crypto, us, ru)

	results, err := rt.GetPrices(t.Context(), []quote.PriceRequest{
		{AssetType: "stock_ru", Symbol: "SBER"},
		{AssetType: "crypto", Symbol: "BTC"},
	})
	require.NoError(t, err)
	require.Nil(t, results[0].Price)
	require.NotNil(t, results[1].Price)
}

func TestGetPricesEmptySymbolIsNil(t *testing.T) {
	t.Parallel()

	crypto, us, ru := defaultStubs()
	rt := newRouter(crypto, us, ru)

	results, err := rt.GetPrices(t.Context(), []quote.PriceRequest{
		{AssetType: "crypto", Symbol: "   "},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Nil(t, results[0].Price)
	require.Empty(t, crypto.seen)
}

func TestGetPricesEmptyBatch(t *testing.T) {
	t.Parallel()

	crypto, us, ru := defaultStubs()
	rt := newRouter(crypto, us, ru)

	results, err := rt.GetPrices(t.Context(), nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestGetPrice(t *testing.T) {
	t.Parallel()

	crypto, us, ru := defaultStubs()
	rt := newRouter(crypto, us, ru)

	res, err := rt.GetPrice(t.Context(), quote.PriceRequest{AssetType: "crypto", Symbol: "BTC"})
	require.NoError(t, err)
	require.Equal(t, "67421.55", res.Price.String())
}

func TestSetDefaultVSCurrency(t *testing.T) {
	t.Parallel()

	crypto, us, ru := defaultStubs()
	rt := newRouter(crypto, us, ru)
	rt.SetDefaultVSCurrency("rub")

	results, err := rt.GetPrices(t.Context(), []quote.PriceRequest{
		{AssetType: "crypto", Symbol: "BTC"},
	})
	require.NoError(t, err)
	require.Equal(t, "RUB", results[0].Currency)
}

func TestGetPricesCancelledContext(t *testing.T) {
	t.Parallel()

	crypto, us, ru := defaultStubs()
	rt := newRouter(crypto, us, ru)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := rt.GetPrices(ctx, []quote.PriceRequest{
		{AssetType: "crypto", Symbol: "BTC"},
	})
	require.ErrorIs(t, err, context.Canceled)
}
