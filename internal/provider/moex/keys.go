package moex

import (
	"strings"
	"time"
)

const (
	keyPrefix = "v1:md:stock:ru:moex"

	TTLQuote = 60 * time.Second
)

func quoteKey(b Board, symbol string) string {
	return keyPrefix + ":" + b.Engine + ":" + b.Market + ":" + b.Board + ":quote:" + strings.ToUpper(symbol)
}
