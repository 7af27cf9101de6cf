package quote_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"marketdata/internal/quote"
)

func TestNormalizeSymbol(t *testing.T) {
	t.Parallel()

	require.Equal(t, "BTC", quote.NormalizeSymbol("  btc "))
	require.Equal(t, "SBER", quote.NormalizeSymbol("Sber"))
	require.Equal(t, "", quote.NormalizeSymbol("   "))
}

func TestNormalizeSymbols(t *testing.T) {
	t.Parallel()

	// De-duplication is case-insensitive and keeps first-seen order.
	got := quote.NormalizeSymbols([]string{"btc", "ETH", " BTC ", "", "eth", "sol"})
	require.Equal(t, []string{"BTC", "ETH", "SOL"}, got)
}

func TestNormalizeSymbolsEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, quote.NormalizeSymbols(nil))
	require.Empty(t, quote.NormalizeSymbols([]string{"", "  "}))
}

func TestNormalizeCurrency(t *testing.T) {
	t.Parallel()

	require.Equal(t, "USD", quote.NormalizeCurrency(" usd "))
	require.Equal(t, "", quote.NormalizeCurrency(""))
}
