package moex

// Board identifies one ISS (engine, market, board) tuple. Each security
// subtype trades on its own board with its own call shape.
type Board struct {
	Engine string
	Market string
	Board  string
	// MaxBatch is the upstream's maximum securities per call; index queries
	// accept far fewer than securities queries.
	MaxBatch int
}

var (
	SharesTQBR   = Board{Engine: "stock", Market: "shares", Board: "TQBR", MaxBatch: 50}
	SharesTQTF   = Board{Engine: "stock", Market: "shares", Board: "TQTF", MaxBatch: 50}
	BondsTQCB    = Board{Engine: "stock", Market: "bonds", Board: "TQCB", MaxBatch: 50}
	BondsTQOB    = Board{Engine: "stock", Market: "bonds", Board: "TQOB", MaxBatch: 50}
	CurrencyCETS = Board{Engine: "currency", Market: "selt", Board: "CETS", MaxBatch: 50}
	IndexSNDX    = Board{Engine: "stock", Market: "index", Board: "SNDX", MaxBatch: 10}
)

// boardByAssetType maps canonical RU asset-type codes to their board.
var boardByAssetType = map[string]Board{
	"stock_ru": SharesTQBR,
	"etf_ru":   SharesTQTF,
	"bond":     BondsTQCB,
	"bond_ru":  BondsTQOB,
	"currency": CurrencyCETS,
	"metal":    CurrencyCETS,
	"index":    IndexSNDX,
}

// BoardForAssetType returns the board an RU asset type trades on.
func BoardForAssetType(assetType string) (Board, bool) {
	b, ok := boardByAssetType[assetType]
	return b, ok
}
