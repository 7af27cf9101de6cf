// Package router fans price requests out to the provider responsible for each
// asset type and merges the answers back in request order.
package router

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketdata/internal/cache"
	"marketdata/internal/provider/moex"
	"marketdata/internal/quote"
	"marketdata/internal/resolve"
)

// CryptoSource prices crypto symbols against one quote currency.
type CryptoSource interface {
	Quotes(ctx context.Context, symbols []string, vs string) ([]quote.Quote, error)
}

// USSource prices US stocks and indices.
type USSource interface {
	Quotes(ctx context.Context, symbols []string) ([]quote.Quote, error)
	IndexQuotes(ctx context.Context, symbols []string) ([]quote.Quote, error)
}

// RUSource prices securities on one MOEX board per call.
type RUSource interface {
	Quotes(ctx context.Context, board moex.Board, symbols []string) ([]quote.Quote, error)
}

// Router groups requests by provider, fetches the groups concurrently and
// fills one result per request. A failed group degrades its own requests to a
// nil price; it never fails the call or touches other groups.
type Router struct {
	resolver *resolve.Resolver
	crypto   CryptoSource
	us       USSource
	ru       RUSource
	cache    cache.Cache
	log      zerolog.Logger

	// defaultVS is the quote currency used for crypto requests that carry none.
	defaultVS string
}

func New(resolver *resolve.Resolver, crypto CryptoSource, us USSource, ru RUSource, store cache.Cache, log zerolog.Logger) *Router {
	return &Router{
		resolver:  resolver,
		crypto:    crypto,
		us:        us,
		ru:        ru,
		cache:     store,
		log:       log.With().Str("component", "router").Logger(),
		defaultVS: "usd",
	}
}

// SetDefaultVSCurrency overrides the crypto fallback quote currency.
func (r *Router) SetDefaultVSCurrency(vs string) {
	if vs != "" {
		r.defaultVS = quote.NormalizeCurrency(vs)
	}
}

// GetPrice prices a single request.
func (r *Router) GetPrice(ctx context.Context, req quote.PriceRequest) (quote.PriceResult, error) {
	results, err := r.GetPrices(ctx, []quote.PriceRequest{req})
	if err != nil {
		return quote.PriceResult{}, err
	}
	return results[0], nil
}

// GetPrices prices a batch of requests. The returned slice always has exactly
// one result per request, in request order; requests that could not be priced
// (unknown asset type, unknown symbol, provider failure) come back with a nil
// price. The only error returned is context cancellation.
func (r *Router) GetPrices(ctx context.Context, reqs []quote.PriceRequest) ([]quote.PriceResult, error) {
	results := make([]quote.PriceResult, len(reqs))

	// Group request indices by provider. Groups are disjoint index sets, so
	// the fill tasks below never write the same result slot.
	cryptoGroups := make(map[string][]int)
	var usStocks, usIndices []int
	ruGroups := make(map[moex.Board][]int)

	for i, req := range reqs {
		key, canonical := r.resolver.Resolve(ctx, req.AssetType)
		results[i] = quote.PriceResult{
			AssetType: canonical,
			Symbol:    quote.NormalizeSymbol(req.Symbol),
			Currency:  quote.NormalizeCurrency(req.Currency),
		}
		if results[i].Symbol == "" {
			continue
		}
		switch key {
		case resolve.KeyCrypto:
			vs := results[i].Currency
			if vs == "" {
				vs = r.defaultVS
			}
			cryptoGroups[vs] = append(cryptoGroups[vs], i)
		case resolve.KeyStockUS:
			usStocks = append(usStocks, i)
		case resolve.KeyIndexUS:
			usIndices = append(usIndices, i)
		case resolve.KeyStockRU:
			if board, ok := moex.BoardForAssetType(canonical); ok {
				ruGroups[board] = append(ruGroups[board], i)
			}
		default:
			r.log.Debug().Str("asset_type", req.AssetType).Str("symbol", req.Symbol).Msg("unroutable request")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for vs, indices := range cryptoGroups {
		g.Go(func() error {
			r.fillCrypto(gctx, results, indices, vs)
			return nil
		})
	}
	if len(usStocks) > 0 {
		g.Go(func() error {
			r.fillUS(gctx, results, usStocks, r.us.Quotes)
			return nil
		})
	}
	if len(usIndices) > 0 {
		g.Go(func() error {
			r.fillUS(gctx, results, usIndices, r.us.IndexQuotes)
			return nil
		})
	}
	for board, indices := range ruGroups {
		g.Go(func() error {
			r.fillRU(gctx, results, indices, board)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Router) fillCrypto(ctx context.Context, results []quote.PriceResult, indices []int, vs string) {
	qs, err := r.crypto.Quotes(ctx, symbolsOf(results, indices), vs)
	if err != nil {
		r.log.Error().Err(err).Str("vs", vs).Int("symbols", len(indices)).Msg("crypto group failed")
		return
	}
	apply(results, indices, qs)
}

func (r *Router) fillUS(ctx context.Context, results []quote.PriceResult, indices []int, fetch func(context.Context, []string) ([]quote.Quote, error)) {
	qs, err := fetch(ctx, symbolsOf(results, indices))
	if err != nil {
		r.log.Error().Err(err).Int("symbols", len(indices)).Msg("us group failed")
		return
	}
	apply(results, indices, qs)
}

// fillRU walks the board's symbol list in board-sized chunks, one upstream
// call per chunk. A failed chunk degrades only its own symbols.
func (r *Router) fillRU(ctx context.Context, results []quote.PriceResult, indices []int, board moex.Board) {
	symbols := symbolsOf(results, indices)
	bySymbol := make(map[string]quote.Quote, len(symbols))
	for _, chunk := range moex.Chunk(symbols, board.MaxBatch) {
		qs, err := r.ru.Quotes(ctx, board, chunk)
		if err != nil {
			r.log.Error().Err(err).Str("board", board.Board).Int("symbols", len(chunk)).Msg("moex chunk failed")
			continue
		}
		for _, q := range qs {
			if _, dup := bySymbol[q.Symbol]; !dup {
				bySymbol[q.Symbol] = q
			}
		}
	}
	applyMap(results, indices, bySymbol)
}

// symbolsOf collects the distinct symbols behind a group's indices, in first
// occurrence order.
func symbolsOf(results []quote.PriceResult, indices []int) []string {
	seen := make(map[string]struct{}, len(indices))
	out := make([]string, 0, len(indices))
	for _, i := range indices {
		sym := results[i].Symbol
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

func apply(results []quote.PriceResult, indices []int, qs []quote.Quote) {
	bySymbol := make(map[string]quote.Quote, len(qs))
	for _, q := range qs {
		if _, dup := bySymbol[q.Symbol]; !dup {
			bySymbol[q.Symbol] = q
		}
	}
	applyMap(results, indices, bySymbol)
}

func applyMap(results []quote.PriceResult, indices []int, bySymbol map[string]quote.Quote) {
	for _, i := range indices {
		q, ok := bySymbol[results[i].Symbol]
		if !ok {
			continue
		}
		results[i].Price = q.Last
		if q.Currency != "" {
			results[i].Currency = q.Currency
		}
	}
}

// Health reports whether the quote cache is reachable.
func (r *Router) Health(ctx context.Context) error {
	return r.cache.Ping(ctx)
}
