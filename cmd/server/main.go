package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"marketdata/internal/api"
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
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config")
	}

	level, lerr := zerolog.ParseLevel(cfg.LogLevel)
	if lerr != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	store := cache.NewMemory(cfg.Cache.MaxItems)

	resolver := resolve.New(resolve.StaticDirectory(nil), log)
	rt := buildRouter(cfg, timeout, store, resolver, log)
	srv := api.NewServer(rt, resolver, log)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("serve")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

// buildRouter wires one rate-limited HTTP client per upstream so a throttled
// provider cannot starve the others.
func buildRouter(cfg config.Config, timeout time.Duration, store cache.Cache, resolver *resolve.Resolver, log zerolog.Logger) *router.Router {
	cgHTTP := httpx.New(timeout)
	cgHTTP.SetRateLimit(float64(cfg.CoinGecko.MaxRequestsPerMinute), cfg.CoinGecko.Burst)
	cgOpts := []coingecko.ClientOption{coingecko.WithHTTPClient(cgHTTP)}
	if cfg.CoinGecko.BaseURL != "" {
		cgOpts = append(cgOpts, coingecko.WithBaseURL(cfg.CoinGecko.BaseURL))
	}
	crypto := coingecko.NewAdapter(coingecko.NewClient(cfg.CoinGecko.APIKey, cgOpts...), store, log)
	crypto.SetQuoteTTL(time.Duration(cfg.CoinGecko.QuoteTTLSeconds) * time.Second)

	usHTTP := httpx.New(timeout)
	usHTTP.SetRateLimit(float64(cfg.USEquity.MaxRequestsPerMinute), cfg.USEquity.Burst)
	us := usequity.New(usHTTP, store, log)
	us.SetBaseURL(cfg.USEquity.BaseURL)
	us.SetQuoteTTL(time.Duration(cfg.USEquity.QuoteTTLSeconds) * time.Second)

	ruHTTP := httpx.New(timeout)
	ruHTTP.SetRateLimit(float64(cfg.MOEX.MaxRequestsPerMinute), cfg.MOEX.Burst)
	ru := moex.New(ruHTTP, store, log)
	ru.SetBaseURL(cfg.MOEX.BaseURL)
	ru.SetQuoteTTL(time.Duration(cfg.MOEX.QuoteTTLSeconds) * time.Second)

	rt := router.New(resolver, crypto, us, ru, store, log)
	rt.SetDefaultVSCurrency(quote.NormalizeCurrency(cfg.CoinGecko.VSCurrency))
	return rt
}
