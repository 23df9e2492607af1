package analytics

import (
	"testing"

	"optionflow/config"
	"optionflow/internal/window"
	"optionflow/models"
)

func sellerCfg() config.SellerConfig {
	return config.Default().Analytics.Seller
}

func TestScoreSellerEmptyWindow(t *testing.T) {
	res := ScoreSeller(window.Bar{}, WhaleResult{}, PositionResult{}, nil, sellerCfg())
	if res.PanicScore != nil || res.ProfitBookingScore != nil || res.Exhaustion != nil {
		t.Fatalf("no volume must yield null scores: %+v", res)
	}
}

func TestScoreSellerPanicRisesWithSellPressure(t *testing.T) {
	bid := models.WhaleBid
	calm := ScoreSeller(
		window.Bar{Close: 100, High: 100, Volume: 1000, SellVolume: 400},
		WhaleResult{},
		PositionResult{},
		nil, sellerCfg(),
	)
	heavy := ScoreSeller(
		window.Bar{Close: 98, High: 100, Volume: 1000, SellVolume: 900},
		WhaleResult{WhaleVol: 500, Side: &bid, DistributionStrength: 500},
		PositionResult{PriceChangePct: models.Float64Ptr(-2.0)},
		models.Float64Ptr(1.5),
		sellerCfg(),
	)

	if calm.PanicScore == nil || heavy.PanicScore == nil {
		t.Fatal("expected scores")
	}
	if *heavy.PanicScore <= *calm.PanicScore {
		t.Fatalf("heavier selling must score higher: calm=%v heavy=%v", *calm.PanicScore, *heavy.PanicScore)
	}
	if *heavy.PanicScore < 0 || *heavy.PanicScore > 100 {
		t.Fatalf("score out of bounds: %v", *heavy.PanicScore)
	}
}

func TestScoreSellerRisingPriceAddsNoPanic(t *testing.T) {
	bar := window.Bar{Close: 102, High: 103, Volume: 1000, SellVolume: 700}
	rising := ScoreSeller(bar, WhaleResult{}, PositionResult{PriceChangePct: models.Float64Ptr(2.0)}, nil, sellerCfg())
	flat := ScoreSeller(bar, WhaleResult{}, PositionResult{}, nil, sellerCfg())

	if rising.PanicScore == nil || flat.PanicScore == nil {
		t.Fatal("expected scores")
	}
	if *rising.PanicScore != *flat.PanicScore {
		t.Fatalf("price jump must not feed the panic leg: rising=%v flat=%v", *rising.PanicScore, *flat.PanicScore)
	}
}

func TestScoreSellerProfitBookingNearHigh(t *testing.T) {
	// Close pinned to the high with OI contracting on majority selling.
	res := ScoreSeller(
		window.Bar{Close: 100, High: 100, Volume: 1000, SellVolume: 800},
		WhaleResult{},
		PositionResult{OIChange: models.Int64Ptr(-6000), PriceChangePct: models.Float64Ptr(0.2)},
		nil, sellerCfg(),
	)
	if res.ProfitBookingScore == nil {
		t.Fatal("expected profit booking score")
	}
	// 40*0.6 + 35*1.0 + 25*1.0 = 84.
	if *res.ProfitBookingScore < 80 {
		t.Fatalf("near-high selling with OI drop must score high, got %v", *res.ProfitBookingScore)
	}
}

func TestScoreSellerExhaustionNeedsAbsorption(t *testing.T) {
	bid := models.WhaleBid
	absorbed := ScoreSeller(
		window.Bar{Close: 100, High: 100, Volume: 1000, SellVolume: 600},
		WhaleResult{WhaleVol: 500, Side: &bid, AbsorptionStrength: 500},
		PositionResult{},
		nil, sellerCfg(),
	)
	ask := models.WhaleAsk
	buying := ScoreSeller(
		window.Bar{Close: 100, High: 100, Volume: 1000, SellVolume: 600},
		WhaleResult{WhaleVol: 500, Side: &ask, DistributionStrength: 500},
		PositionResult{},
		nil, sellerCfg(),
	)

	if absorbed.Exhaustion == nil || *absorbed.Exhaustion <= 0 {
		t.Fatalf("absorbed sell whale must register exhaustion, got %v", absorbed.Exhaustion)
	}
	if buying.Exhaustion == nil || *buying.Exhaustion != 0 {
		t.Fatalf("ask-side whale cannot exhaust sellers, got %v", buying.Exhaustion)
	}
}

func TestSqueezeCondition(t *testing.T) {
	cfg := sellerCfg()
	bar := window.Bar{Volume: 5000}
	pos := PositionResult{
		OIChange:       models.Int64Ptr(-6000),
		PriceChangePct: models.Float64Ptr(1.5),
	}
	if !squeeze(bar, pos, 2000, cfg) {
		t.Fatal("rapid OI drop + price jump + volume surge must flag a squeeze")
	}

	// Volume below the surge multiple fails the condition.
	if squeeze(window.Bar{Volume: 3000}, pos, 2000, cfg) {
		t.Fatal("no volume surge means no squeeze")
	}

	// Null OI change can never flag.
	if squeeze(bar, PositionResult{PriceChangePct: models.Float64Ptr(2)}, 2000, cfg) {
		t.Fatal("missing OI change must not flag a squeeze")
	}
}
