package analytics

import (
	"math"

	"optionflow/internal/window"
	"optionflow/models"
)

// ValuationResult carries sentiment, valuation and book-imbalance fields.
type ValuationResult struct {
	PCR            *float64
	MSV            *float64
	ImbalanceRatio *float64
	IntrinsicValue *float64
	ExtrinsicValue *float64
	Sentiment      *models.Sentiment
}

// imbalanceBand is the book-imbalance magnitude beyond which standing
// pressure counts as sentiment evidence on its own.
const imbalanceBand = 0.2

// AnalyzeSentiment computes the put/call ratio, market sentiment value,
// intrinsic/extrinsic split and the coarse sentiment label.
//
// PCR is populated only for underlying-level instruments; the valuation split
// only for option legs with a chain snapshot. When PCR is unavailable the
// sentiment label falls back to the sign of MSV alone. A book imbalance
// beyond the band breaks an otherwise neutral read as long as neither MSV
// nor PCR points the other way.
func AnalyzeSentiment(inst models.Instrument, bar window.Bar, books []models.BookSnapshot, chain *models.ChainSnapshot, bullBelow, bearAbove float64) ValuationResult {
	var res ValuationResult

	msv := bar.Close - bar.VWAP
	res.MSV = models.Float64Ptr(msv)

	if len(books) > 0 {
		last := books[len(books)-1]
		total := last.TotalBidQty + last.TotalAskQty
		if total > 0 {
			res.ImbalanceRatio = models.Float64Ptr((last.TotalBidQty - last.TotalAskQty) / total)
		}
	}

	if chain != nil {
		if !inst.IsOption() {
			if chain.CallVolume > 0 {
				res.PCR = models.Float64Ptr(chain.PutVolume / chain.CallVolume)
			}
		} else {
			var intrinsic float64
			if inst.OptionType == models.OptionCall {
				intrinsic = math.Max(0, chain.UnderlyingSpot-inst.Strike)
			} else {
				intrinsic = math.Max(0, inst.Strike-chain.UnderlyingSpot)
			}
			res.IntrinsicValue = models.Float64Ptr(intrinsic)
			res.ExtrinsicValue = models.Float64Ptr(chain.Premium - intrinsic)
		}
	}

	imb := 0.0
	if res.ImbalanceRatio != nil {
		imb = *res.ImbalanceRatio
	}

	sentiment := models.SentimentNeutral
	switch {
	case msv > 0 && (res.PCR == nil || *res.PCR < bullBelow):
		sentiment = models.SentimentBull
	case msv < 0 && (res.PCR == nil || *res.PCR > bearAbove):
		sentiment = models.SentimentBear
	case imb > imbalanceBand && msv >= 0 && (res.PCR == nil || *res.PCR <= bearAbove):
		sentiment = models.SentimentBull
	case imb < -imbalanceBand && msv <= 0 && (res.PCR == nil || *res.PCR >= bullBelow):
		sentiment = models.SentimentBear
	}
	res.Sentiment = &sentiment

	return res
}
