// Package usequity prices US stocks and indices through a batched quote
// endpoint that accepts a comma-joined ticker list.
package usequity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketdata/internal/cache"
	"marketdata/internal/httpx"
	"marketdata/internal/quote"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Adapter turns upstream quote objects into normalized quotes, caching per
// symbol. Stock and index quotes share the upstream call shape but keep
// distinct cache key spaces.
type Adapter struct {
	client   *httpx.Client
	cache    cache.Cache
	log      zerolog.Logger
	baseURL  string
	currency string
	quoteTTL time.Duration
}

func New(client *httpx.Client, store cache.Cache, log zerolog.Logger) *Adapter {
	return &Adapter{
		client:   client,
		cache:    store,
		log:      log.With().Str("component", "usequity").Logger(),
		baseURL:  defaultBaseURL,
		currency: "USD",
		quoteTTL: TTLQuote,
	}
}

// SetBaseURL overrides the upstream base URL (tests, proxies).
func (a *Adapter) SetBaseURL(u string) {
	if u != "" {
		a.baseURL = strings.TrimRight(u, "/")
	}
}

// SetQuoteTTL overrides the default quote TTL; non-positive values are ignored.
func (a *Adapter) SetQuoteTTL(ttl time.Duration) {
	if ttl > 0 {
		a.quoteTTL = ttl
	}
}

// Quote returns the quote for one stock symbol, or nil when it cannot be priced.
func (a *Adapter) Quote(ctx context.Context, symbol string) (*quote.Quote, error) {
	qs, err := a.Quotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, nil
	}
	return &qs[0], nil
}

// Quotes prices a batch of stock tickers.
func (a *Adapter) Quotes(ctx context.Context, symbols []string) ([]quote.Quote, error) {
	return a.quotes(ctx, symbols, stockKey)
}

// IndexQuotes prices a batch of index tickers.
func (a *Adapter) IndexQuotes(ctx context.Context, symbols []string) ([]quote.Quote, error) {
	return a.quotes(ctx, symbols, indexKey)
}

func (a *Adapter) quotes(ctx context.Context, symbols []string, keyFn func(symbol, currency string) string) ([]quote.Quote, error) {
	normalized := quote.NormalizeSymbols(symbols)
	if len(normalized) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(normalized))
	for _, sym := range normalized {
		keys = append(keys, keyFn(sym, a.currency))
	}
	cached, err := a.cache.GetMany(ctx, keys)
	if err != nil {
		a.log.Warn().Err(err).Msg("cache read failed")
		cached = nil
	}

	have := make(map[string]quote.Quote, len(normalized))
	missing := make([]string, 0, len(normalized))
	for _, sym := range normalized {
		if b, ok := cached[keyFn(sym, a.currency)]; ok {
			if q, derr := cache.DecodeQuote(b); derr == nil {
				have[sym] = *q
				continue
			}
		}
		missing = append(missing, sym)
	}

	if len(missing) > 0 {
		fresh, ferr := a.fetch(ctx, missing)
		if ferr != nil {
			if len(have) == 0 {
				return nil, ferr
			}
			a.log.Warn().Err(ferr).Int("cached", len(have)).Msg("partial result from cache after fetch failure")
		}
		toStore := make(map[string][]byte, len(fresh))
		for sym, q := range fresh {
			have[sym] = q
			if b, eerr := cache.EncodeQuote(q); eerr == nil {
				toStore[keyFn(sym, a.currency)] = b
			}
		}
		if len(toStore) > 0 {
			if err := a.cache.SetMany(ctx, toStore, a.quoteTTL); err != nil {
				a.log.Warn().Err(err).Msg("cache write failed")
			}
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

type quoteEntry struct {
	Symbol             string      `json:"symbol"`
	Currency           string      `json:"currency"`
	RegularMarketPrice json.Number `json:"regularMarketPrice"`
	Bid                json.Number `json:"bid"`
	Ask                json.Number `json:"ask"`
	RegularMarketTime  int64       `json:"regularMarketTime"`
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []quoteEntry `json:"result"`
	} `json:"quoteResponse"`
}

// fetch issues exactly one upstream batch call for the given symbols and
// returns the quotes it could parse, keyed by normalized symbol. A symbol
// absent from the response simply stays missing. Duplicate symbols in the
// response keep the first occurrence.
func (a *Adapter) fetch(ctx context.Context, symbols []string) (map[string]quote.Quote, error) {
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))

	var resp quoteResponse
	if err := a.client.GetJSON(ctx, a.baseURL+"/v7/finance/quote", params, &resp); err != nil {
		return nil, fmt.Errorf("quote batch: %w", err)
	}

	now := time.Now().UTC()
	out := make(map[string]quote.Quote, len(resp.QuoteResponse.Result))
	for _, e := range resp.QuoteResponse.Result {
		sym := quote.NormalizeSymbol(e.Symbol)
		if sym == "" {
			continue
		}
		if _, dup := out[sym]; dup {
			continue
		}
		currency := quote.NormalizeCurrency(e.Currency)
		if currency == "" {
			currency = a.currency
		}
		ts := now
		if e.RegularMarketTime > 0 {
			ts = time.Unix(e.RegularMarketTime, 0).UTC()
		}
		out[sym] = quote.Quote{
			Symbol:     sym,
			Last:       decimalFromNumber(e.RegularMarketPrice),
			Bid:        decimalFromNumber(e.Bid),
			Ask:        decimalFromNumber(e.Ask),
			Currency:   currency,
			Source:     "usequity",
			ReceivedAt: ts,
		}
	}
	return out, nil
}

func decimalFromNumber(n json.Number) *decimal.Decimal {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}
