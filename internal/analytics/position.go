package analytics

import (
	"math"
	"time"

	"optionflow/internal/window"
	"optionflow/models"
)

// Prior is the PriorMinuteState snapshot the position analyzer needs: the
// last finalized candle's OI, close and VWAP. Overwritten atomically by the
// owning worker after each finalize.
type Prior struct {
	WindowStart time.Time
	Price       float64
	VWAP        float64
	Volume      float64
	High        float64
	OI          int64
	HasOI       bool
	IV          *float64
	Delta       *float64
}

// PositionResult is the OI-dynamics classification for one minute.
type PositionResult struct {
	OIVelocity     *float64
	PriceChangePct *float64
	OIPriceCorr    *float64
	OIChange       *int64
	PositionType   *models.PositionType
}

// AnalyzePosition computes OI velocity, price change and the position-type
// classification. elapsedMinutes accounts for gaps such as market closures
// rather than assuming exactly one minute between candles. Both signals must
// clear their noise floors or position_type stays null.
func AnalyzePosition(bar window.Bar, prior *Prior, elapsedMinutes float64, corr *SignAgreement, noisePricePct, noiseOI float64) PositionResult {
	var res PositionResult

	if corr != nil {
		if c, ok := corr.Corr(); ok {
			res.OIPriceCorr = models.Float64Ptr(c)
		}
	}

	if prior == nil {
		return res
	}

	if prior.Price > 0 {
		pct := (bar.Close - prior.Price) / prior.Price * 100
		res.PriceChangePct = models.Float64Ptr(pct)
	}

	if bar.HasOI && prior.HasOI && elapsedMinutes > 0 {
		change := bar.OI - prior.OI
		res.OIChange = models.Int64Ptr(change)
		res.OIVelocity = models.Float64Ptr(float64(change) / elapsedMinutes)
	}

	if res.PriceChangePct == nil || res.OIVelocity == nil {
		return res
	}

	pricePct := *res.PriceChangePct
	oiChange := float64(*res.OIChange)
	if math.Abs(pricePct) <= noisePricePct || math.Abs(oiChange) <= noiseOI {
		return res
	}

	var pt models.PositionType
	switch {
	case pricePct > 0 && oiChange > 0:
		pt = models.LongBuildup
	case pricePct < 0 && oiChange > 0:
		pt = models.ShortBuildup
	case pricePct > 0 && oiChange < 0:
		// Shorts buying back: price rises while OI contracts.
		pt = models.ShortCovering
	default: // price down, OI down
		pt = models.LongUnwind
	}
	res.PositionType = &pt

	return res
}
