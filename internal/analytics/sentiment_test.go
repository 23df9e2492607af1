package analytics

import (
	"math"
	"testing"
	"time"

	"optionflow/internal/window"
	"optionflow/models"
)

var (
	underlying = models.Instrument{Key: "NSE_INDEX|Nifty", Class: models.ClassIndex}
	callLeg    = models.Instrument{Key: "NSE_FO|C25000", Class: models.ClassOption, OptionType: models.OptionCall, Strike: 25000}
	putLeg     = models.Instrument{Key: "NSE_FO|P25000", Class: models.ClassOption, OptionType: models.OptionPut, Strike: 25000}
)

func chainWith(spot, premium, putVol, callVol float64) *models.ChainSnapshot {
	return &models.ChainSnapshot{
		InstrumentKey:  "NSE_INDEX|Nifty",
		Timestamp:      time.Date(2026, 1, 5, 9, 15, 30, 0, time.UTC),
		UnderlyingSpot: spot,
		Premium:        premium,
		IV:             14.2,
		PutVolume:      putVol,
		CallVolume:     callVol,
	}
}

func TestAnalyzeSentimentPCRUnderlyingOnly(t *testing.T) {
	bar := window.Bar{Close: 101, VWAP: 100, High: 101, Volume: 10}

	res := AnalyzeSentiment(underlying, bar, nil, chainWith(25000, 0, 90, 100), 0.9, 1.1)
	if res.PCR == nil || *res.PCR != 0.9 {
		t.Fatalf("expected PCR 0.9, got %v", res.PCR)
	}

	res = AnalyzeSentiment(callLeg, bar, nil, chainWith(25000, 120, 90, 100), 0.9, 1.1)
	if res.PCR != nil {
		t.Fatalf("option legs must not get a PCR, got %v", *res.PCR)
	}
}

func TestAnalyzeSentimentZeroCallVolume(t *testing.T) {
	bar := window.Bar{Close: 101, VWAP: 100, High: 101, Volume: 10}
	res := AnalyzeSentiment(underlying, bar, nil, chainWith(25000, 0, 90, 0), 0.9, 1.1)
	if res.PCR != nil {
		t.Fatalf("zero call volume must leave PCR null, got %v", *res.PCR)
	}
	// With PCR unavailable the label follows MSV alone.
	if res.Sentiment == nil || *res.Sentiment != models.SentimentBull {
		t.Fatalf("positive MSV without PCR must be Bull, got %v", res.Sentiment)
	}
}

func TestAnalyzeSentimentValuationSplit(t *testing.T) {
	bar := window.Bar{Close: 180, VWAP: 178, High: 181, Volume: 10}

	res := AnalyzeSentiment(callLeg, bar, nil, chainWith(25150, 180, 0, 0), 0.9, 1.1)
	if res.IntrinsicValue == nil || *res.IntrinsicValue != 150 {
		t.Fatalf("call intrinsic should be spot-strike=150, got %v", res.IntrinsicValue)
	}
	if res.ExtrinsicValue == nil || *res.ExtrinsicValue != 30 {
		t.Fatalf("extrinsic should be premium-intrinsic=30, got %v", res.ExtrinsicValue)
	}

	// Out-of-the-money put: intrinsic clamps at zero.
	res = AnalyzeSentiment(putLeg, bar, nil, chainWith(25150, 40, 0, 0), 0.9, 1.1)
	if res.IntrinsicValue == nil || *res.IntrinsicValue != 0 {
		t.Fatalf("OTM put intrinsic must be 0, got %v", res.IntrinsicValue)
	}
	if res.ExtrinsicValue == nil || *res.ExtrinsicValue != 40 {
		t.Fatalf("OTM put extrinsic is the full premium, got %v", res.ExtrinsicValue)
	}
}

func TestAnalyzeSentimentLabels(t *testing.T) {
	bullBar := window.Bar{Close: 102, VWAP: 100, High: 102, Volume: 10}
	bearBar := window.Bar{Close: 98, VWAP: 100, High: 100, Volume: 10}

	res := AnalyzeSentiment(underlying, bullBar, nil, chainWith(25000, 0, 80, 100), 0.9, 1.1)
	if *res.Sentiment != models.SentimentBull {
		t.Fatalf("MSV>0 and PCR<0.9 must be Bull, got %v", *res.Sentiment)
	}

	res = AnalyzeSentiment(underlying, bearBar, nil, chainWith(25000, 0, 120, 100), 0.9, 1.1)
	if *res.Sentiment != models.SentimentBear {
		t.Fatalf("MSV<0 and PCR>1.1 must be Bear, got %v", *res.Sentiment)
	}

	// Conflicting evidence stays neutral.
	res = AnalyzeSentiment(underlying, bullBar, nil, chainWith(25000, 0, 120, 100), 0.9, 1.1)
	if *res.Sentiment != models.SentimentNeutral {
		t.Fatalf("MSV>0 with bearish PCR must be Neutral, got %v", *res.Sentiment)
	}
}

func TestAnalyzeSentimentImbalanceBands(t *testing.T) {
	flat := window.Bar{Close: 100, VWAP: 100, High: 100, Volume: 10}

	res := AnalyzeSentiment(underlying, flat, []models.BookSnapshot{{TotalBidQty: 700, TotalAskQty: 300}}, nil, 0.9, 1.1)
	if *res.Sentiment != models.SentimentBull {
		t.Fatalf("imbalance above +0.2 on a flat bar must be Bull, got %v", *res.Sentiment)
	}

	res = AnalyzeSentiment(underlying, flat, []models.BookSnapshot{{TotalBidQty: 300, TotalAskQty: 700}}, nil, 0.9, 1.1)
	if *res.Sentiment != models.SentimentBear {
		t.Fatalf("imbalance below -0.2 on a flat bar must be Bear, got %v", *res.Sentiment)
	}

	// Inside the band the book carries no sentiment weight.
	res = AnalyzeSentiment(underlying, flat, []models.BookSnapshot{{TotalBidQty: 550, TotalAskQty: 450}}, nil, 0.9, 1.1)
	if *res.Sentiment != models.SentimentNeutral {
		t.Fatalf("mild imbalance must stay Neutral, got %v", *res.Sentiment)
	}

	// A falling close vetoes the bullish book read.
	bearBar := window.Bar{Close: 99, VWAP: 100, High: 100, Volume: 10}
	res = AnalyzeSentiment(underlying, bearBar, []models.BookSnapshot{{TotalBidQty: 700, TotalAskQty: 300}}, nil, 0.9, 1.1)
	if *res.Sentiment != models.SentimentBear {
		t.Fatalf("negative MSV must dominate a bid-heavy book, got %v", *res.Sentiment)
	}
}

func TestAnalyzeSentimentImbalance(t *testing.T) {
	bar := window.Bar{Close: 100, VWAP: 100, High: 100, Volume: 10}
	books := []models.BookSnapshot{
		{TotalBidQty: 300, TotalAskQty: 100},
		{TotalBidQty: 600, TotalAskQty: 200},
	}

	res := AnalyzeSentiment(underlying, bar, books, nil, 0.9, 1.1)
	if res.ImbalanceRatio == nil {
		t.Fatal("expected imbalance ratio")
	}
	// Latest snapshot: (600-200)/(600+200) = 0.5.
	if math.Abs(*res.ImbalanceRatio-0.5) > 1e-9 {
		t.Fatalf("expected 0.5, got %v", *res.ImbalanceRatio)
	}
	if res.PCR != nil || res.IntrinsicValue != nil {
		t.Fatal("no chain means no PCR or valuation split")
	}
}
