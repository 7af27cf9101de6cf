// Package moex prices Russian exchange securities through the ISS API. ISS
// responses are tabular: each block carries a columns array and data rows
// that must be indexed by column name.
package moex

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

const defaultBaseURL = "https://iss.moex.com/iss"

// Field ladders for extracting a price and a currency from ISS rows. Boards
// disagree on which column carries the tradable price (shares use LAST,
// indices CURRENTVALUE, bonds often only WAPRICE or CLOSEPRICE); the first
// non-empty column wins.
var (
	priceColumns    = []string{"LAST", "CURRENTVALUE", "LASTVALUE", "MARKETPRICE", "MARKETPRICETODAY", "MARKETPRICE2", "CLOSEPRICE", "WAPRICE", "OPEN"}
	currencyColumns = []string{"CURRENCYID", "CURRENCY", "FACEUNIT", "UNIT"}
)

// Adapter turns ISS tabular responses into normalized quotes, caching per
// (board, symbol).
type Adapter struct {
	client   *httpx.Client
	cache    cache.Cache
	log      zerolog.Logger
	baseURL  string
	quoteTTL time.Duration
}

func New(client *httpx.Client, store cache.Cache, log zerolog.Logger) *Adapter {
	return &Adapter{
		client:   client,
		cache:    store,
		log:      log.With().Str("component", "moex").Logger(),
		baseURL:  defaultBaseURL,
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

// Quote returns the quote for one security, or nil when it cannot be priced.
func (a *Adapter) Quote(ctx context.Context, board Board, symbol string) (*quote.Quote, error) {
	qs, err := a.Quotes(ctx, board, []string{symbol})
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, nil
	}
	return &qs[0], nil
}

// Quotes prices a batch of securities on one board. Callers are responsible
// for keeping batches within board.MaxBatch; the cache is consulted first and
// a single upstream call covers the misses.
func (a *Adapter) Quotes(ctx context.Context, board Board, symbols []string) ([]quote.Quote, error) {
	normalized := quote.NormalizeSymbols(symbols)
	if len(normalized) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(normalized))
	for _, sym := range normalized {
		keys = append(keys, quoteKey(board, sym))
	}
	cached, err := a.cache.GetMany(ctx, keys)
	if err != nil {
		a.log.Warn().Err(err).Msg("cache read failed")
		cached = nil
	}

	have := make(map[string]quote.Quote, len(normalized))
	missing := make([]string, 0, len(normalized))
	for _, sym := range normalized {
		if b, ok := cached[quoteKey(board, sym)]; ok {
			if q, derr := cache.DecodeQuote(b); derr == nil {
				have[sym] = *q
				continue
			}
		}
		missing = append(missing, sym)
	}

	if len(missing) > 0 {
		fresh, ferr := a.fetch(ctx, board, missing)
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
				toStore[quoteKey(board, sym)] = b
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

// table is one ISS response block: column names plus untyped rows.
type table struct {
	Columns []string          `json:"columns"`
	Data    [][]json.RawMessage `json:"data"`
}

type issResponse struct {
	Securities table `json:"securities"`
	MarketData table `json:"marketdata"`
	Boards     table `json:"boards"`
}

func (a *Adapter) fetch(ctx context.Context, board Board, symbols []string) (map[string]quote.Quote, error) {
	params := url.Values{}
	params.Set("securities", strings.Join(symbols, ","))
	params.Set("iss.only", "securities,marketdata")
	params.Set("iss.meta", "off")

	endpoint := fmt.Sprintf("%s/engines/%s/markets/%s/boards/%s/securities.json",
		a.baseURL, board.Engine, board.Market, board.Board)

	var resp issResponse
	if err := a.client.GetJSON(ctx, endpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("board %s: %w", board.Board, err)
	}

	securities := resp.Securities
	if len(securities.Data) == 0 {
		securities = resp.Boards
	}

	currencies := make(map[string]string)
	for _, row := range securities.rows() {
		sym := row.symbol()
		if sym == "" {
			continue
		}
		if _, dup := currencies[sym]; dup {
			continue
		}
		if cur := row.firstString(currencyColumns); cur != "" {
			currencies[sym] = quote.NormalizeCurrency(cur)
		}
	}

	bids := make(map[string]*decimal.Decimal)
	asks := make(map[string]*decimal.Decimal)
	prices := make(map[string]*decimal.Decimal)
	for _, row := range resp.MarketData.rows() {
		sym := row.symbol()
		if sym == "" {
			continue
		}
		if _, dup := prices[sym]; dup {
			continue
		}
		prices[sym] = row.firstDecimal(priceColumns)
		bids[sym] = row.firstDecimal([]string{"BID"})
		asks[sym] = row.firstDecimal([]string{"OFFER"})
	}

	now := time.Now().UTC()
	out := make(map[string]quote.Quote, len(symbols))
	for _, sym := range symbols {
		price, priced := prices[sym]
		currency, hasCurrency := currencies[sym]
		if !priced && !hasCurrency {
			continue
		}
		out[sym] = quote.Quote{
			Symbol:     sym,
			Last:       price,
			Bid:        bids[sym],
			Ask:        asks[sym],
			Currency:   currency,
			Source:     "moex:" + board.Board,
			ReceivedAt: now,
		}
	}
	return out, nil
}

// row gives column-name access to one data row.
type row struct {
	index map[string]int
	cells []json.RawMessage
}

func (t table) rows() []row {
	if len(t.Columns) == 0 || len(t.Data) == 0 {
		return nil
	}
	index := make(map[string]int, len(t.Columns))
	for i, name := range t.Columns {
		index[strings.ToUpper(name)] = i
	}
	out := make([]row, 0, len(t.Data))
	for _, cells := range t.Data {
		out = append(out, row{index: index, cells: cells})
	}
	return out
}

func (r row) symbol() string {
	for _, col := range []string{"SECID", "SYMBOL"} {
		if s := r.str(col); s != "" {
			return quote.NormalizeSymbol(s)
		}
	}
	return ""
}

func (r row) firstString(columns []string) string {
	for _, col := range columns {
		if s := r.str(col); s != "" {
			return s
		}
	}
	return ""
}

func (r row) firstDecimal(columns []string) *decimal.Decimal {
	for _, col := range columns {
		raw, ok := r.cell(col)
		if !ok {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			continue
		}
		s := strings.TrimSpace(n.String())
		if s == "" {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			continue
		}
		return &d
	}
	return nil
}

func (r row) str(column string) string {
	raw, ok := r.cell(column)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func (r row) cell(column string) (json.RawMessage, bool) {
	i, ok := r.index[column]
	if !ok || i >= len(r.cells) {
		return nil, false
	}
	raw := r.cells[i]
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

// Chunk splits symbols into board-sized batches for one call each.
func Chunk(symbols []string, size int) [][]string {
	if size <= 0 || len(symbols) <= size {
		return [][]string{symbols}
	}
	out := make([][]string, 0, (len(symbols)+size-1)/size)
	for i := 0; i < len(symbols); i += size {
		j := i + size
		if j > len(symbols) {
			j = len(symbols)
		}
		out = append(out, symbols[i:j])
	}
	return out
}
