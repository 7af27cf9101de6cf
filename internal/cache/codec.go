package cache

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"marketdata/internal/quote"
)

// cachedQuote is the serialized form of a quote. Decimals travel as strings
// so the wire format stays independent of the decimal implementation.
type cachedQuote struct {
	Symbol     string    `msgpack:"symbol"`
	Last       string    `msgpack:"last,omitempty"`
	Bid        string    `msgpack:"bid,omitempty"`
	Ask        string    `msgpack:"ask,omitempty"`
	Currency   string    `msgpack:"currency,omitempty"`
	Source     string    `msgpack:"source"`
	ReceivedAt time.Time `msgpack:"received_at"`
}

// EncodeQuote serializes a quote for storage.
func EncodeQuote(q quote.Quote) ([]byte, error) {
	c := cachedQuote{
		Symbol:     q.Symbol,
		Currency:   q.Currency,
		Source:     q.Source,
		ReceivedAt: q.ReceivedAt,
	}
	if q.Last != nil {
		c.Last = q.Last.String()
	}
	if q.Bid != nil {
		c.Bid = q.Bid.String()
	}
	if q.Ask != nil {
		c.Ask = q.Ask.String()
	}
	b, err := msgpack.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode quote %s: %w", q.Symbol, err)
	}
	return b, nil
}

// DecodeQuote deserializes a stored quote. A corrupt entry returns an error
// and should be treated by callers as a cache miss.
func DecodeQuote(b []byte) (*quote.Quote, error) {
	var c cachedQuote
	if err := msgpack.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	q := &quote.Quote{
		Symbol:     c.Symbol,
		Currency:   c.Currency,
		Source:     c.Source,
		ReceivedAt: c.ReceivedAt,
	}
	var err error
	if q.Last, err = parseDecimal(c.Last); err != nil {
		return nil, err
	}
	if q.Bid, err = parseDecimal(c.Bid); err != nil {
		return nil, err
	}
	if q.Ask, err = parseDecimal(c.Ask); err != nil {
		return nil, err
	}
	return q, nil
}

func parseDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("decode quote price %q: %w", s, err)
	}
	return &d, nil
}
