package coingecko

import (
	"strings"
	"time"
)

// Cache keys and TTLs for CoinGecko data. Spot prices move fast; the coin
// directory changes rarely.
const (
	keyPrefix = "v1:md:crypto:coingecko"

	TTLQuote     = 30 * time.Second
	TTLCoinsList = 72 * time.Hour
)

func quoteKey(symbol, vs string) string {
	return keyPrefix + ":quote:" + strings.ToUpper(symbol) + ":" + strings.ToLower(vs)
}

func coinsListKey() string {
	return keyPrefix + ":coins:list"
}
