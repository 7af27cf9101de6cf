// Package resolve classifies asset types into the provider responsible for
// pricing them.
package resolve

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Key identifies one pricing provider. The set is closed: routing switches
// over these constants instead of matching asset-type strings.
type Key int

const (
	KeyNone Key = iota
	KeyCrypto
	KeyStockUS
	KeyIndexUS
	KeyStockRU
)

func (k Key) String() string {
	switch k {
	case KeyCrypto:
		return "crypto"
	case KeyStockUS:
		return "stock-us"
	case KeyIndexUS:
		return "index-us"
	case KeyStockRU:
		return "stock-ru"
	default:
		return "none"
	}
}

// KeyFromString maps a provider code from the asset-type directory to a Key.
func KeyFromString(s string) Key {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crypto":
		return KeyCrypto
	case "stock-us", "stock_us":
		return KeyStockUS
	case "index-us", "index_us":
		return KeyIndexUS
	case "stock-ru", "stock_ru":
		return KeyStockRU
	default:
		return KeyNone
	}
}

// aliases folds spelling variants onto canonical asset-type codes before the
// provider table is consulted.
var aliases = map[string]string{
	"crypto_currency": "crypto",
	"cryptocurrency":  "crypto",
	"stockus":         "stock_us",
	"us_stock":        "stock_us",
	"indexusa":        "index_us",
	"indexus":         "index_us",
	"us_index":        "index_us",
	"bonds":           "bond",
	"bond_rf":         "bond_ru",
	"currency_ru":     "currency",
	"moex_index":      "index",
}

// staticTable maps canonical asset-type codes to provider keys. Types coming
// from the asset-type directory are layered on top at load time.
var staticTable = map[string]Key{
	"crypto":   KeyCrypto,
	"stock_us": KeyStockUS,
	"index_us": KeyIndexUS,
	"stock_ru": KeyStockRU,
	"etf_ru":   KeyStockRU,
	"bond":     KeyStockRU,
	"bond_ru":  KeyStockRU,
	"currency": KeyStockRU,
	"index":    KeyStockRU,
	"metal":    KeyStockRU,
}

// Directory is the external asset-type directory owned by the CRUD layer.
// It returns asset-type code -> provider code (see KeyFromString).
type Directory interface {
	AssetTypes(ctx context.Context) (map[string]string, error)
}

// StaticDirectory serves a fixed table; the zero value serves nothing.
type StaticDirectory map[string]string

func (d StaticDirectory) AssetTypes(context.Context) (map[string]string, error) {
	return d, nil
}

// Resolver owns the asset-type -> provider table. The table is built lazily
// on first use from the static table plus the directory, then read-only until
// Invalidate.
type Resolver struct {
	dir Directory
	log zerolog.Logger

	mu     sync.Mutex
	loaded bool
	table  map[string]Key
}

func New(dir Directory, log zerolog.Logger) *Resolver {
	if dir == nil {
		dir = StaticDirectory(nil)
	}
	return &Resolver{dir: dir, log: log.With().Str("component", "resolver").Logger()}
}

// Resolve classifies an asset type. It returns the provider key and the
// canonical (normalized, de-aliased) asset-type code. Unknown or unmapped
// types return KeyNone; callers skip those requests silently.
func (r *Resolver) Resolve(ctx context.Context, assetType string) (Key, string) {
	canonical := NormalizeAssetType(assetType)
	if canonical == "" {
		return KeyNone, ""
	}
	return r.load(ctx)[canonical], canonical
}

// Invalidate drops the memoized table so the next Resolve rebuilds it. Call
// when the set of known asset types changes.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	r.table = nil
}

func (r *Resolver) load(ctx context.Context) map[string]Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.table
	}

	table := make(map[string]Key, len(staticTable))
	for t, k := range staticTable {
		table[t] = k
	}
	dynamic, err := r.dir.AssetTypes(ctx)
	if err != nil {
		// Serve the static table but do not memoize, so a transient
		// directory failure heals on the next call.
		r.log.Warn().Err(err).Msg("asset-type directory unavailable, using static table")
		return table
	}
	for t, code := range dynamic {
		canonical := NormalizeAssetType(t)
		if canonical == "" {
			continue
		}
		if key := KeyFromString(code); key != KeyNone {
			table[canonical] = key
		}
	}

	r.table = table
	r.loaded = true
	return r.table
}

// NormalizeAssetType lower-cases, underscores and de-aliases an asset type.
func NormalizeAssetType(assetType string) string {
	t := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(assetType)), " ", "_")
	if alias, ok := aliases[t]; ok {
		return alias
	}
	return t
}
