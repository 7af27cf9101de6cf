// Package coingecko prices crypto assets through the CoinGecko simple-price
// endpoint, resolving ticker symbols to coin ids via the cached coin
// directory first.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"marketdata/internal/cache"
	"marketdata/internal/quote"
)

// api is the slice of the Client used by the adapter.
type api interface {
	CoinsList(ctx context.Context) ([]Coin, error)
	SimplePrice(ctx context.Context, ids []string, vsCurrencies []string) (map[string]map[string]json.Number, error)
}

// Adapter turns CoinGecko responses into normalized quotes, caching both the
// symbol->id directory and per-symbol quotes.
type Adapter struct {
	api      api
	cache    cache.Cache
	log      zerolog.Logger
	quoteTTL time.Duration

	// sf coalesces concurrent coin-directory refreshes.
	sf singleflight.Group
}

func NewAdapter(client *Client, store cache.Cache, log zerolog.Logger) *Adapter {
	return &Adapter{
		api:      client,
		cache:    store,
		log:      log.With().Str("component", "coingecko").Logger(),
		quoteTTL: TTLQuote,
	}
}

// SetQuoteTTL overrides the default quote TTL; non-positive values are ignored.
func (a *Adapter) SetQuoteTTL(ttl time.Duration) {
	if ttl > 0 {
		a.quoteTTL = ttl
	}
}

// Quote returns the quote for one symbol, or nil when it cannot be priced.
func (a *Adapter) Quote(ctx context.Context, symbol, vs string) (*quote.Quote, error) {
	qs, err := a.Quotes(ctx, []string{symbol}, vs)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, nil
	}
	return &qs[0], nil
}

// Quotes prices a batch of crypto symbols against one quote currency. Cached
// quotes are consulted first; a single upstream batch call covers the rest.
// Symbols with no entry in the coin directory are dropped. The returned slice
// preserves the order of symbols and omits unresolved entries.
func (a *Adapter) Quotes(ctx context.Context, symbols []string, vs string) ([]quote.Quote, error) {
	vs = normalizeVS(vs)
	normalized := quote.NormalizeSymbols(symbols)
	if len(normalized) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(normalized))
	for _, sym := range normalized {
		keys = append(keys, quoteKey(sym, vs))
	}
	cached, err := a.cache.GetMany(ctx, keys)
	if err != nil {
		a.log.Warn().Err(err).Msg("cache read failed")
		cached = nil
	}

	have := make(map[string]quote.Quote, len(normalized))
	missing := make([]string, 0, len(normalized))
	for _, sym := range normalized {
		if b, ok := cached[quoteKey(sym, vs)]; ok {
			if q, derr := cache.DecodeQuote(b); derr == nil {
				have[sym] = *q
				continue
			}
		}
		missing = append(missing, sym)
	}

	if len(missing) > 0 {
		fresh, ferr := a.fetch(ctx, missing, vs)
		if ferr != nil {
			// Serve what the cache had rather than failing the group outright.
			if len(have) == 0 {
				return nil, ferr
			}
			a.log.Warn().Err(ferr).Int("cached", len(have)).Msg("partial result from cache after fetch failure")
		}
		for sym, q := range fresh {
			have[sym] = q
		}
	}

	out := make([]quote.Quote, 0, len(have))
	for _, sym := range normalized {
		if q, ok := have[sym]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (a *Adapter) fetch(ctx context.Context, symbols []string, vs string) (map[string]quote.Quote, error) {
	ids, err := a.coinIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("coin directory: %w", err)
	}

	idBySymbol := make(map[string]string, len(symbols))
	idList := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if id, ok := ids[sym]; ok {
			idBySymbol[sym] = id
			idList = append(idList, id)
		}
	}
	if len(idList) == 0 {
		return nil, nil
	}

	prices, err := a.api.SimplePrice(ctx, idList, []string{vs})
	if err != nil {
		return nil, fmt.Errorf("simple price: %w", err)
	}

	now := time.Now().UTC()
	fresh := make(map[string]quote.Quote, len(idBySymbol))
	toStore := make(map[string][]byte, len(idBySymbol))
	for sym, id := range idBySymbol {
		entry, ok := prices[id]
		if !ok {
			continue
		}
		raw, ok := entry[vs]
		if !ok {
			continue
		}
		d, derr := decimal.NewFromString(raw.String())
		if derr != nil {
			continue
		}
		q := quote.Quote{
			Symbol:     sym,
			Last:       &d,
			Currency:   quote.NormalizeCurrency(vs),
			Source:     "coingecko",
			ReceivedAt: now,
		}
		fresh[sym] = q
		if b, eerr := cache.EncodeQuote(q); eerr == nil {
			toStore[quoteKey(sym, vs)] = b
		}
	}
	if len(toStore) > 0 {
		if err := a.cache.SetMany(ctx, toStore, a.quoteTTL); err != nil {
			a.log.Warn().Err(err).Msg("cache write failed")
		}
	}
	return fresh, nil
}

// coinIDs returns the symbol->coin-id directory, served from cache when warm
// and refreshed at most once at a time across concurrent callers. Duplicate
// tickers in the upstream directory keep the first occurrence.
func (a *Adapter) coinIDs(ctx context.Context) (map[string]string, error) {
	if b, err := a.cache.Get(ctx, coinsListKey()); err == nil && b != nil {
		var m map[string]string
		if err := msgpack.Unmarshal(b, &m); err == nil {
			return m, nil
		}
	}

	v, err, _ := a.sf.Do("coins-list", func() (any, error) {
		coins, err := a.api.CoinsList(ctx)
		if err != nil {
			return nil, err
		}
		m := make(map[string]string, len(coins))
		for _, c := range coins {
			sym := quote.NormalizeSymbol(c.Symbol)
			if sym == "" || c.ID == "" {
				continue
			}
			if _, dup := m[sym]; dup {
				continue
			}
			m[sym] = c.ID
		}
		if b, merr := msgpack.Marshal(m); merr == nil {
			if cerr := a.cache.Set(ctx, coinsListKey(), b, TTLCoinsList); cerr != nil {
				a.log.Warn().Err(cerr).Msg("coin directory cache write failed")
			}
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

func normalizeVS(vs string) string {
	vs = strings.ToLower(quote.NormalizeCurrency(vs))
	if vs == "" {
		return "usd"
	}
	return vs
}
