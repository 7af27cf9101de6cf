package usequity

import (
	"strings"
	"time"
)

// Cache keys and TTLs for US equity data. Index quotes live in their own key
// space even though the upstream endpoint is shared with stock snapshots.
const (
	keyPrefix = "v1:md:stock:us"

	TTLQuote = 15 * time.Second
)

func stockKey(symbol, currency string) string {
	return keyPrefix + ":quote:" + strings.ToUpper(symbol) + ":" + strings.ToUpper(currency)
}

func indexKey(symbol, currency string) string {
	return keyPrefix + ":index:" + strings.ToUpper(symbol) + ":" + strings.ToUpper(currency)
}
