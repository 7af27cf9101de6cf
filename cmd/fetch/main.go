// Command fetch prices a list of symbols once and prints the results as JSON.
// Useful for poking providers without running the server.
//
//	fetch -asset-type crypto -symbols BTC,ETH -currency usd
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketdata/internal/cache"
	"marketdata/internal/config"
	"marketdata/internal/httpx"
	"marketdata/internal/provider/coingecko"
	"marketdata/internal/provider/moex"
	"marketdata/internal/provider/usequity"
	"marketdata/internal/quote"
	"marketdata/internal/resolve"
	"marketdata/internal/router"
)

func main() {
	assetType := flag.String("asset-type", "crypto", "asset type to price (crypto, stock_us, index_us, stock_ru, bond, currency, index, ...)")
	symbols := flag.String("symbols", "", "comma-separated symbols")
	currency := flag.String("currency", "", "desired quote currency (crypto only; empty means default)")
	timeout := flag.Duration("timeout", 15*time.Second, "overall timeout")
	flag.Parse()

	log := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	if *symbols == "" {
		log.Fatal().Msg("-symbols is required")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	store := cache.NewMemory(cfg.Cache.MaxItems)
	resolver := resolve.New(resolve.StaticDirectory(nil), log)

	httpClient := httpx.New(*timeout)
	crypto := coingecko.NewAdapter(coingecko.NewClient(cfg.CoinGecko.APIKey, coingecko.WithHTTPClient(httpClient)), store, log)
	us := usequity.New(httpClient, store, log)
	us.SetBaseURL(cfg.USEquity.BaseURL)
	ru := moex.New(httpClient, store, log)
	ru.SetBaseURL(cfg.MOEX.BaseURL)

	rt := router.New(resolver, crypto, us, ru, store, log)
	rt.SetDefaultVSCurrency(cfg.CoinGecko.VSCurrency)

	var reqs []quote.PriceRequest
	for _, sym := range strings.Split(*symbols, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			reqs = append(reqs, quote.PriceRequest{AssetType: *assetType, Symbol: sym, Currency: *currency})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	results, err := rt.GetPrices(ctx, reqs)
	if err != nil {
		log.Fatal().Err(err).Msg("get prices")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Fatal().Err(err).Msg("encode")
	}
}
