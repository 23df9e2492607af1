package analytics

import (
	"optionflow/config"
	"optionflow/models"
)

// WallResult reports the strongest persistent resting level, or all-nil when
// no level qualifies. The three fields are always all-set or all-nil.
type WallResult struct {
	Price *float64
	Qty   *float64
	Side  *models.BookSide
}

type wallCandidate struct {
	hits   int
	maxQty float64
}

// DetectWall scans the minute's book snapshots for a price level whose
// resting quantity exceeds a multiple of average depth and persists across a
// fraction of snapshots. A single transient spike never qualifies.
func DetectWall(books []models.BookSnapshot, cfg config.WallConfig) WallResult {
	if len(books) < cfg.MinSnapshots {
		return WallResult{}
	}

	var depthSum float64
	var depthCount int
	for _, b := range books {
		for _, lv := range b.Bids {
			depthSum += lv.Quantity
			depthCount++
		}
		for _, lv := range b.Asks {
			depthSum += lv.Quantity
			depthCount++
		}
	}
	if depthCount == 0 {
		return WallResult{}
	}
	avgDepth := depthSum / float64(depthCount)
	if avgDepth <= 0 {
		return WallResult{}
	}
	qualQty := cfg.DepthMultiple * avgDepth

	type key struct {
		price float64
		side  models.BookSide
	}
	candidates := make(map[key]*wallCandidate)

	observe := func(price, qty float64, side models.BookSide) {
		if qty < qualQty {
			return
		}
		k := key{price: price, side: side}
		c, ok := candidates[k]
		if !ok {
			c = &wallCandidate{}
			candidates[k] = c
		}
		c.hits++
		if qty > c.maxQty {
			c.maxQty = qty
		}
	}

	for _, b := range books {
		for _, lv := range b.Bids {
			observe(lv.Price, lv.Quantity, models.BidSide)
		}
		for _, lv := range b.Asks {
			observe(lv.Price, lv.Quantity, models.AskSide)
		}
	}

	needed := int(cfg.PersistenceFraction * float64(len(books)))
	if needed < 1 {
		needed = 1
	}

	var best *wallCandidate
	var bestKey key
	for k, c := range candidates {
		if c.hits < needed {
			continue
		}
		if best == nil || c.maxQty > best.maxQty {
			best = c
			bestKey = k
		}
	}
	if best == nil {
		return WallResult{}
	}

	side := bestKey.side
	return WallResult{
		Price: models.Float64Ptr(bestKey.price),
		Qty:   models.Float64Ptr(best.maxQty),
		Side:  &side,
	}
}
