package orderbook

import (
	"math"
	"sort"

	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

// Row is one displayed price level
type Row struct {
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	Total       float64 `json:"total"`
	SizePercent float64 `json:"size_percent"`
}

// Snapshot is the rendered order book: asks ascending, bids descending
type Snapshot struct {
	Symbol        string  `json:"symbol"`
	LastUpdateID  int64   `json:"last_update_id"`
	Asks          []Row   `json:"asks"`
	Bids          []Row   `json:"bids"`
	BestBid       float64 `json:"best_bid"`
	BestAsk       float64 `json:"best_ask"`
	Spread        float64 `json:"spread"`
	SpreadPercent float64 `json:"spread_percent"`
	Crossed       bool    `json:"crossed"`
}

// Options controls how depth is turned into rows
type Options struct {
	Levels   int     // rows per side, default 10
	TickSize float64 // price grouping step, 0 disables grouping
}

// DefaultOptions shows ten ungrouped levels per side
func DefaultOptions() Options {
	return Options{Levels: 10}
}

// BuildSnapshot sorts, groups and truncates depth, then sizes every row
// against the largest notional displayed on either side. It is pure: equal
// depth and options give equal snapshots.
func BuildSnapshot(depth types.Depth, opts Options) Snapshot {
	if opts.Levels <= 0 {
		opts.Levels = DefaultOptions().Levels
	}

	asks := aggregate(depth.Asks, opts.TickSize, true)
	bids := aggregate(depth.Bids, opts.TickSize, false)

	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })

	if len(asks) > opts.Levels {
		asks = asks[:opts.Levels]
	}
	if len(bids) > opts.Levels {
		bids = bids[:opts.Levels]
	}

	maxNotional := 0.0
	for _, r := range asks {
		maxNotional = math.Max(maxNotional, r.Total)
	}
	for _, r := range bids {
		maxNotional = math.Max(maxNotional, r.Total)
	}
	for i := range asks {
		asks[i].SizePercent = sizePercent(asks[i].Total, maxNotional)
	}
	for i := range bids {
		bids[i].SizePercent = sizePercent(bids[i].Total, maxNotional)
	}

	snap := Snapshot{
		Symbol:       depth.Symbol,
		LastUpdateID: depth.LastUpdateID,
		Asks:         asks,
		Bids:         bids,
	}
	if len(bids) > 0 {
		snap.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Price
	}
	if len(bids) > 0 && len(asks) > 0 {
		snap.Spread = snap.BestAsk - snap.BestBid
		if mid := (snap.BestAsk + snap.BestBid) / 2; mid > 0 {
			snap.SpreadPercent = snap.Spread / mid * 100
		}
		snap.Crossed = snap.BestAsk < snap.BestBid
	}
	return snap
}

// aggregate drops empty levels and merges levels that fall in the same
// tick. Asks round up and bids round down so grouping never narrows the
// spread.
func aggregate(levels []types.OrderBookLevel, tick float64, roundUp bool) []Row {
	rows := make([]Row, 0, len(levels))
	index := make(map[float64]int, len(levels))

	for _, lv := range levels {
		if lv.Price <= 0 || lv.Quantity <= 0 || math.IsNaN(lv.Price) || math.IsNaN(lv.Quantity) {
			continue
		}
		price := lv.Price
		if tick > 0 {
			price = groupPrice(price, tick, roundUp)
		}
		if i, ok := index[price]; ok {
			rows[i].Quantity += lv.Quantity
			rows[i].Total += lv.Price * lv.Quantity
			continue
		}
		index[price] = len(rows)
		rows = append(rows, Row{
			Price:    price,
			Quantity: lv.Quantity,
			Total:    lv.Price * lv.Quantity,
		})
	}
	return rows
}

func groupPrice(price, tick float64, roundUp bool) float64 {
	steps := price / tick
	if roundUp {
		steps = math.Ceil(steps - 1e-9)
	} else {
		steps = math.Floor(steps + 1e-9)
	}
	return math.Round(steps*tick*1e10) / 1e10
}

func sizePercent(notional, maxNotional float64) float64 {
	if maxNotional <= 0 {
		return 0
	}
	p := notional / maxNotional * 100
	return math.Max(0, math.Min(100, p))
}
