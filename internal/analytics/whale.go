package analytics

import (
	"math"

	"optionflow/config"
	"optionflow/internal/window"
	"optionflow/models"
)

// WhaleResult is the order-flow classification for one minute.
type WhaleResult struct {
	WhaleVol             float64
	Side                 *models.WhaleSide
	AbsorptionStrength   float64
	DistributionStrength float64
	ImpactScore          *float64
}

// DetectWhales classifies large aggressive flow within the minute. A trade is
// a whale when its quantity exceeds threshold; threshold comes from the
// rolling median tracker (k * median), falling back to the current window's
// own median during cold start.
func DetectWhales(prints []window.Print, cfg config.WhaleConfig, median *RollingMedian) WhaleResult {
	if len(prints) == 0 {
		return WhaleResult{}
	}

	med := 0.0
	if median != nil && median.Len() >= cfg.MinWhaleTrades {
		med = median.Median()
	} else {
		tmp := NewRollingMedian(len(prints))
		for _, p := range prints {
			tmp.Observe(p.Quantity)
		}
		med = tmp.Median()
	}
	if med <= 0 {
		return WhaleResult{ImpactScore: models.Float64Ptr(0)}
	}
	threshold := cfg.KFactor * med

	var whaleVol, bidVol, askVol, absorption, distribution float64
	for _, p := range prints {
		if p.Quantity <= threshold {
			continue
		}
		whaleVol += p.Quantity
		if p.Side == models.SideSell {
			// Sell-initiated: flow executed against resting bids.
			bidVol += p.Quantity
		} else {
			askVol += p.Quantity
		}

		move := 0.0
		if p.PrevPrice > 0 {
			move = math.Abs(p.Price-p.PrevPrice) / p.PrevPrice
		}
		if move <= cfg.ImpactTicks {
			absorption += p.Quantity
		} else {
			distribution += p.Quantity
		}
	}

	res := WhaleResult{
		WhaleVol:             whaleVol,
		AbsorptionStrength:   absorption,
		DistributionStrength: distribution,
	}

	if whaleVol > 0 {
		side := models.WhaleNeutral
		if diff := math.Abs(bidVol-askVol) / whaleVol; diff > cfg.TieEpsilon {
			if bidVol > askVol {
				side = models.WhaleBid
			} else {
				side = models.WhaleAsk
			}
		}
		res.Side = &side
	}

	// Impact: log1p(whale_vol) * price_impact_ratio, scaled to [0,100]. The
	// scaling divisor is configuration, not a law.
	ratio := 0.0
	if whaleVol > 0 {
		ratio = distribution / whaleVol
	}
	score := clamp(100*math.Log1p(whaleVol)*ratio/cfg.ImpactScale, 0, 100)
	res.ImpactScore = models.Float64Ptr(score)

	return res
}
