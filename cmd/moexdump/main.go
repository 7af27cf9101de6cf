// Command moexdump fetches one raw ISS board response and prints it. It is a
// debugging aid for checking which columns a board actually populates.
//
//	moexdump -engine stock -market shares -board TQBR -symbols SBER,GAZP
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"

	"marketdata/internal/httpx"
)

func main() {
	base := flag.String("base", "https://iss.moex.com/iss", "ISS base URL")
	engine := flag.String("engine", "stock", "ISS engine")
	market := flag.String("market", "shares", "ISS market")
	board := flag.String("board", "TQBR", "ISS board")
	symbols := flag.String("symbols", "", "comma-separated SECIDs; empty dumps the whole board")
	timeout := flag.Duration("timeout", 15*time.Second, "request timeout")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	params := url.Values{}
	params.Set("iss.meta", "off")
	params.Set("iss.only", "securities,marketdata")
	if *symbols != "" {
		params.Set("securities", *symbols)
	}
	endpoint := fmt.Sprintf("%s/engines/%s/markets/%s/boards/%s/securities.json",
		*base, *engine, *market, *board)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var raw json.RawMessage
	client := httpx.New(*timeout)
	if err := client.GetJSON(ctx, endpoint, params, &raw); err != nil {
		log.Fatal().Err(err).Str("endpoint", endpoint).Msg("fetch")
	}

	var pretty map[string]json.RawMessage
	if err := json.Unmarshal(raw, &pretty); err != nil {
		os.Stdout.Write(raw)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pretty); err != nil {
		log.Fatal().Err(err).Msg("encode")
	}
}
