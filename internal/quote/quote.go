package quote

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceRequest asks for the current price of one asset.
// Currency is the desired quote currency; empty means provider default.
type PriceRequest struct {
	AssetType string `json:"asset_type"`
	Symbol    string `json:"symbol"`
	Currency  string `json:"currency,omitempty"`
}

// PriceResult is the answer for one PriceRequest. AssetType and Symbol echo
// the request in normalized form. Price is nil when the request could not be
// priced.
type PriceResult struct {
	AssetType string           `json:"asset_type"`
	Symbol    string           `json:"symbol"`
	Price     *decimal.Decimal `json:"price"`
	Currency  string           `json:"currency,omitempty"`
}

// Quote is the normalized shape every provider produces from its own
// upstream schema. Prices are decimals to avoid float rounding.
type Quote struct {
	Symbol     string           `json:"symbol"`
	Last       *decimal.Decimal `json:"last"`
	Bid        *decimal.Decimal `json:"bid,omitempty"`
	Ask        *decimal.Decimal `json:"ask,omitempty"`
	Currency   string           `json:"currency,omitempty"`
	Source     string           `json:"source"`
	ReceivedAt time.Time        `json:"received_at"`
}

// NormalizeSymbol upper-cases and trims a symbol. Two requests differing only
// by case or padding must hit the same cache entry and the same result slot.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// NormalizeSymbols normalizes and de-duplicates, preserving first-seen order.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n := NormalizeSymbol(s)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// NormalizeCurrency upper-cases and trims a currency code; empty stays empty.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
