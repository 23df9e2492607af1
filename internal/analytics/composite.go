package analytics

import (
	"math"
	"sort"
	"strings"

	"optionflow/config"
	"optionflow/internal/window"
	"optionflow/models"
)

// CompositeInput gathers all per-minute analytics for fusion.
type CompositeInput struct {
	Bar         window.Bar
	Whale       WhaleResult
	Seller      SellerResult
	Position    PositionResult
	Wall        WallResult
	Valuation   ValuationResult
	Greeks      GreeksResult
	PriorDelta  *float64
	PriorVolume float64
}

// CompositeResult is the fused scoring output plus the signal decision.
type CompositeResult struct {
	MomentumScore *float64
	BreakoutProb  *float64
	Signal        *SignalDecision
}

// SignalDecision is an emission-ready trade call with its rationale.
type SignalDecision struct {
	Type       models.SignalType
	Confidence float64
	Reason     string
	Metrics    models.SignalMetrics
}

type contribution struct {
	name   string
	value  float64 // signed leg in [-1,1]
	weight float64
}

// Fuse combines whale, seller, position, Greeks, wall and imbalance legs into
// momentum_score [0,100] and breakout_prob [0,1], then thresholds them into
// an optional BUY/SELL decision. Weights are the named configuration set.
func Fuse(in CompositeInput, cfg config.CompositeConfig, seller config.SellerConfig) CompositeResult {
	legs := make([]contribution, 0, 6)

	// Whale leg: flow hitting asks is aggressive buying, flow into bids is
	// aggressive selling; magnitude from the impact score.
	whaleLeg := 0.0
	whaleName := "whale flow"
	if in.Whale.Side != nil && in.Whale.ImpactScore != nil {
		mag := *in.Whale.ImpactScore / 100
		switch *in.Whale.Side {
		case models.WhaleAsk:
			whaleLeg = mag
			whaleName = "whale buying"
		case models.WhaleBid:
			whaleLeg = -mag
			whaleName = "whale selling"
			if in.Whale.WhaleVol > 0 && in.Whale.AbsorptionStrength/in.Whale.WhaleVol > 0.5 {
				// Mostly absorbed: bearish flow failed to move price.
				whaleLeg = mag * 0.5
				whaleName = "whale absorption"
			}
		}
	}
	legs = append(legs, contribution{whaleName, whaleLeg, cfg.WhaleWeight})

	// Seller leg: panic and booking push down, exhaustion pushes up.
	sellerLeg := 0.0
	sellerName := "seller pressure"
	if in.Seller.PanicScore != nil {
		sellerLeg -= *in.Seller.PanicScore / 200
		sellerLeg -= *in.Seller.ProfitBookingScore / 200
		sellerLeg += *in.Seller.Exhaustion / 200
		if *in.Seller.Exhaustion > *in.Seller.PanicScore && *in.Seller.Exhaustion > *in.Seller.ProfitBookingScore {
			sellerName = "seller exhaustion"
		} else if *in.Seller.PanicScore >= *in.Seller.ProfitBookingScore {
			sellerName = "panic selling"
		} else {
			sellerName = "profit booking"
		}
	}
	legs = append(legs, contribution{sellerName, clamp(sellerLeg, -1, 1), cfg.SellerWeight})

	// Position leg: behavioral read of the OI/price interaction.
	oiLeg := 0.0
	oiName := "oi flat"
	if in.Position.PositionType != nil {
		switch *in.Position.PositionType {
		case models.LongBuildup:
			oiLeg = 1
			oiName = "LB position"
		case models.ShortCovering:
			oiLeg = 0.5
			oiName = "SC squeeze"
		case models.LongUnwind:
			oiLeg = -0.5
			oiName = "LU position"
		case models.ShortBuildup:
			oiLeg = -1
			oiName = "SB position"
		}
	}
	legs = append(legs, contribution{oiName, oiLeg, cfg.OIWeight})

	// Greeks leg: per-minute delta/gamma/IV velocity around a neutral
	// baseline, shaped by the configured gains and velocity scales.
	greeksLeg := 0.0
	if in.Greeks.Delta != nil && in.PriorDelta != nil {
		dv := *in.Greeks.Delta - *in.PriorDelta
		greeksLeg += clamp(dv/cfg.DeltaVelocityScale, -1, 1) * cfg.GreeksDeltaGain
	}
	if in.Greeks.Gamma != nil {
		greeksLeg += clamp(*in.Greeks.Gamma/cfg.GammaSpikeScale, -1, 1) * cfg.GreeksGammaGain * sign(greeksLeg)
	}
	if in.Greeks.IVChange != nil {
		greeksLeg += clamp(*in.Greeks.IVChange/cfg.IVVelocityScale, -1, 1) * cfg.GreeksIVGain
	}
	legs = append(legs, contribution{"greeks momentum", clamp(greeksLeg/(cfg.GreeksDeltaGain+cfg.GreeksGammaGain+cfg.GreeksIVGain), -1, 1), cfg.GreeksWeight})

	// Wall leg: a bid wall close under price supports, an ask wall close
	// above resists. Breaching the wall flips the read.
	wallLeg := 0.0
	wallName := "no wall"
	wallBreached := false
	if in.Wall.Price != nil && in.Bar.Close > 0 {
		dist := math.Abs(in.Bar.Close-*in.Wall.Price) / in.Bar.Close
		proximity := clamp(1-dist/cfg.WallProximityBand, 0, 1)
		if *in.Wall.Side == models.BidSide {
			if in.Bar.Close >= *in.Wall.Price {
				wallLeg = proximity
				wallName = "wall support"
			} else {
				wallLeg = -proximity
				wallName = "wall breach"
				wallBreached = true
			}
		} else {
			if in.Bar.Close <= *in.Wall.Price {
				wallLeg = -proximity
				wallName = "wall resistance"
			} else {
				wallLeg = proximity
				wallName = "wall breach"
				wallBreached = true
			}
		}
	}
	legs = append(legs, contribution{wallName, wallLeg, cfg.WallWeight})

	// Imbalance leg: the book's standing pressure, already in [-1,1].
	imbLeg := 0.0
	if in.Valuation.ImbalanceRatio != nil {
		imbLeg = *in.Valuation.ImbalanceRatio
	}
	legs = append(legs, contribution{"book imbalance", imbLeg, cfg.ImbalanceWeight})

	var weightSum, acc float64
	for _, l := range legs {
		weightSum += l.weight
		acc += l.weight * l.value
	}
	if weightSum <= 0 {
		return CompositeResult{}
	}

	momentum := clamp(50+50*acc/weightSum, 0, 100)

	// Breakout probability: momentum conviction, distribution share of whale
	// flow, wall breach and a volume surge against the prior minute.
	momDev := math.Abs(momentum-50) / 50
	distShare := 0.0
	if in.Whale.WhaleVol > 0 {
		distShare = in.Whale.DistributionStrength / in.Whale.WhaleVol
	}
	breach := 0.0
	if wallBreached {
		breach = 1
	}
	volSurge := 0.0
	if in.PriorVolume > 0 {
		volSurge = clamp(in.Bar.Volume/in.PriorVolume-1, 0, 1)
	}
	breakout := clamp(cfg.BreakoutMomentumWeight*momDev+cfg.BreakoutDistributionWeight*distShare+
		cfg.BreakoutBreachWeight*breach+cfg.BreakoutVolumeWeight*volSurge, 0, 1)

	res := CompositeResult{
		MomentumScore: models.Float64Ptr(momentum),
		BreakoutProb:  models.Float64Ptr(breakout),
	}

	res.Signal = decide(in, legs, momentum, breakout, cfg, seller)
	return res
}

// decide thresholds the composite outputs into at most one signal.
func decide(in CompositeInput, legs []contribution, momentum, breakout float64, cfg config.CompositeConfig, seller config.SellerConfig) *SignalDecision {
	if breakout < cfg.BreakoutFloor {
		return nil
	}

	var sigType models.SignalType
	var exceed float64
	switch {
	case momentum >= cfg.BuyThreshold:
		sigType = models.SignalBuy
		if cfg.BuyThreshold < 100 {
			exceed = (momentum - cfg.BuyThreshold) / (100 - cfg.BuyThreshold)
		} else {
			exceed = 1
		}
	case momentum <= cfg.SellThreshold:
		sigType = models.SignalSell
		if cfg.SellThreshold > 0 {
			exceed = (cfg.SellThreshold - momentum) / cfg.SellThreshold
		} else {
			exceed = 1
		}
	default:
		return nil
	}

	breakoutMargin := 1.0
	if cfg.BreakoutFloor < 1 {
		breakoutMargin = (breakout - cfg.BreakoutFloor) / (1 - cfg.BreakoutFloor)
	}
	confidence := clamp(cfg.ConfidenceExceedWeight*exceed+cfg.ConfidenceBreakoutWeight*breakoutMargin, 0, 1)

	// Reason: the dominant contributing factors, strongest first.
	ranked := make([]contribution, len(legs))
	copy(ranked, legs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].value*ranked[i].weight) > math.Abs(ranked[j].value*ranked[j].weight)
	})
	parts := make([]string, 0, 3)
	for _, l := range ranked {
		if len(parts) == 3 {
			break
		}
		if l.value == 0 {
			continue
		}
		parts = append(parts, l.name)
	}
	if squeeze(in.Bar, in.Position, in.PriorVolume, seller) {
		parts = append([]string{"short-covering squeeze"}, parts...)
		if len(parts) > 3 {
			parts = parts[:3]
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "composite momentum")
	}

	support, resistance := supportResistance(in)
	metrics := models.SignalMetrics{
		MomentumScore: momentum,
		BreakoutProb:  breakout,
		PositionType:  in.Position.PositionType,
		Support:       support,
		Resistance:    resistance,
	}
	if in.Whale.ImpactScore != nil {
		metrics.WhaleImpactScore = *in.Whale.ImpactScore
	}
	if in.Position.OIVelocity != nil {
		metrics.OIVelocity = *in.Position.OIVelocity
	}
	if in.Position.PriceChangePct != nil {
		metrics.PriceChangePct = *in.Position.PriceChangePct
	}

	entry := in.Bar.Close
	if sigType == models.SignalBuy {
		metrics.StopLoss = support - entry*0.001
		metrics.Target = resistance + entry*0.002
		if risk := entry - metrics.StopLoss; risk > 0 {
			metrics.RRRatio = (metrics.Target - entry) / risk
		}
	} else {
		metrics.StopLoss = resistance + entry*0.001
		metrics.Target = support - entry*0.002
		if risk := metrics.StopLoss - entry; risk > 0 {
			metrics.RRRatio = (entry - metrics.Target) / risk
		}
	}

	return &SignalDecision{
		Type:       sigType,
		Confidence: confidence,
		Reason:     strings.Join(parts, " + "),
		Metrics:    metrics,
	}
}

// supportResistance derives the nearest structural band from the wall and
// the minute's range.
func supportResistance(in CompositeInput) (support, resistance float64) {
	support = in.Bar.Low
	resistance = in.Bar.High
	if in.Wall.Price != nil {
		if *in.Wall.Side == models.BidSide && *in.Wall.Price < in.Bar.Close {
			support = *in.Wall.Price
		}
		if *in.Wall.Side == models.AskSide && *in.Wall.Price > in.Bar.Close {
			resistance = *in.Wall.Price
		}
	}
	if resistance-support < in.Bar.Close*0.001 {
		support = in.Bar.Close * 0.995
		resistance = in.Bar.Close * 1.005
	}
	return support, resistance
}
