package analytics

import (
	"optionflow/models"
)

// GreeksResult carries the point-in-time Greeks join for one candle. All
// fields stay nil when no chain snapshot is available: zero is a valid Greek
// value and must not stand in for "unknown".
type GreeksResult struct {
	Delta        *float64
	Gamma        *float64
	Theta        *float64
	Vega         *float64
	IV           *float64
	IVChange     *float64
	IVPercentile *float64
}

// JoinGreeks attaches the latest chain snapshot to the minute. prevIV is the
// finalized previous minute's IV (nil when unknown); ivWindow is the trailing
// percentile window, ranked before the current value is added to it.
func JoinGreeks(chain *models.ChainSnapshot, prevIV *float64, ivWindow *IVWindow) GreeksResult {
	if chain == nil {
		return GreeksResult{}
	}

	res := GreeksResult{
		Delta: models.Float64Ptr(chain.Delta),
		Gamma: models.Float64Ptr(chain.Gamma),
		Theta: models.Float64Ptr(chain.Theta),
		Vega:  models.Float64Ptr(chain.Vega),
		IV:    models.Float64Ptr(chain.IV),
	}

	if prevIV != nil {
		res.IVChange = models.Float64Ptr(chain.IV - *prevIV)
	}

	if ivWindow != nil {
		if pct, ok := ivWindow.Percentile(chain.IV); ok {
			res.IVPercentile = models.Float64Ptr(pct)
		}
	}

	return res
}
