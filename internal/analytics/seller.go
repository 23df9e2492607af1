package analytics

import (
	"optionflow/config"
	"optionflow/internal/window"
	"optionflow/models"
)

// SellerResult carries the seller-behavior scores, each bounded to [0,100].
type SellerResult struct {
	PanicScore         *float64
	ProfitBookingScore *float64
	Exhaustion         *float64
}

// ScoreSeller derives panic, profit-booking and exhaustion scores. It is a
// monotone combination of already-computed fields: whale side and strengths,
// price change, OI change and IV change. No raw-data access.
func ScoreSeller(bar window.Bar, whale WhaleResult, pos PositionResult, ivChange *float64, cfg config.SellerConfig) SellerResult {
	if bar.Volume <= 0 {
		return SellerResult{}
	}

	sellShare := bar.SellVolume / bar.Volume
	whaleSell := 0.0
	if whale.Side != nil && *whale.Side == models.WhaleBid && bar.Volume > 0 {
		whaleSell = whale.WhaleVol / bar.Volume
	}

	// Only a falling close feeds the panic leg; jumps are handled by squeeze().
	priceDropPct := 0.0
	if pos.PriceChangePct != nil && *pos.PriceChangePct < 0 {
		priceDropPct = -*pos.PriceChangePct
	}

	// Panic selling: heavy sell-side whale flow into a falling market with
	// volatility expanding.
	panic := 40*whaleSell + 25*clamp(priceDropPct/cfg.PanicPriceJumpPct, 0, 1) + 20*clamp(sellShare*2-1, 0, 1)
	if ivChange != nil && *ivChange > 0 {
		panic += 15
	}

	// Profit booking: selling near the minute high while OI contracts.
	nearHigh := 0.0
	if bar.High > 0 {
		proximity := (bar.High - bar.Close) / bar.High * 100
		if proximity <= cfg.HighProximityPct {
			nearHigh = 1 - proximity/cfg.HighProximityPct
		}
	}
	oiFalling := 0.0
	if pos.OIChange != nil && *pos.OIChange < 0 {
		oiFalling = clamp(float64(-*pos.OIChange)/cfg.PanicOIDrop, 0, 1)
	}
	booking := 40*clamp(sellShare*2-1, 0, 1) + 35*nearHigh + 25*oiFalling

	// Exhaustion: heavy sell-side whale flow that the book absorbed; price
	// decline decelerates because liquidity ate the flow.
	exhaustion := 0.0
	if whale.WhaleVol > 0 && whale.Side != nil && *whale.Side == models.WhaleBid {
		absorbed := whale.AbsorptionStrength / whale.WhaleVol
		exhaustion = 60*absorbed + 40*whaleSell
	}

	return SellerResult{
		PanicScore:         models.Float64Ptr(clamp(panic, 0, 100)),
		ProfitBookingScore: models.Float64Ptr(clamp(booking, 0, 100)),
		Exhaustion:         models.Float64Ptr(clamp(exhaustion, 0, 100)),
	}
}

// squeeze reports the original short-covering panic condition: rapid OI drop
// with a sharp price jump on surging volume. Used by the signal reason.
func squeeze(bar window.Bar, pos PositionResult, priorVolume float64, cfg config.SellerConfig) bool {
	if pos.OIChange == nil || pos.PriceChangePct == nil {
		return false
	}
	return float64(*pos.OIChange) < -cfg.PanicOIDrop &&
		*pos.PriceChangePct > cfg.PanicPriceJumpPct &&
		priorVolume > 0 && bar.Volume > priorVolume*cfg.PanicVolumeMult
}
