package analytics

import (
	"testing"
	"time"

	"optionflow/config"
	"optionflow/models"
)

func bookAt(sec int, bids, asks []models.QuoteLevel) models.BookSnapshot {
	b := models.BookSnapshot{
		InstrumentKey: "NSE_FO|12345",
		Timestamp:     time.Date(2026, 1, 5, 9, 15, sec, 0, time.UTC),
		Bids:          bids,
		Asks:          asks,
	}
	for _, lv := range bids {
		b.TotalBidQty += lv.Quantity
	}
	for _, lv := range asks {
		b.TotalAskQty += lv.Quantity
	}
	return b
}

// fillerAsks builds n ordinary resting levels of qty each above 100.
func fillerAsks(n int, qty float64) []models.QuoteLevel {
	out := make([]models.QuoteLevel, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.QuoteLevel{Price: 100.10 + float64(i)*0.10, Quantity: qty})
	}
	return out
}

func wallCfg() config.WallConfig {
	return config.Default().Analytics.Wall
}

func TestDetectWallAllNilOrAllSet(t *testing.T) {
	res := DetectWall(nil, wallCfg())
	if res.Price != nil || res.Qty != nil || res.Side != nil {
		t.Fatalf("no books must give all-nil wall: %+v", res)
	}
}

func TestDetectWallPersistentLevel(t *testing.T) {
	// 100-lot baseline depth with a persistent 1000-lot bid at 99.50.
	var books []models.BookSnapshot
	for i := 0; i < 5; i++ {
		bids := []models.QuoteLevel{{Price: 99.50, Quantity: 1000}}
		books = append(books, bookAt(i*10, bids, fillerAsks(9, 100)))
	}

	res := DetectWall(books, wallCfg())
	if res.Price == nil || res.Qty == nil || res.Side == nil {
		t.Fatalf("expected wall, got all-nil")
	}
	if *res.Price != 99.50 || *res.Qty != 1000 || *res.Side != models.BidSide {
		t.Fatalf("unexpected wall: price=%v qty=%v side=%v", *res.Price, *res.Qty, *res.Side)
	}
}

func TestDetectWallIgnoresTransientSpike(t *testing.T) {
	var books []models.BookSnapshot
	for i := 0; i < 5; i++ {
		bids := []models.QuoteLevel{{Price: 99.50, Quantity: 95}}
		if i == 2 {
			// One snapshot with a large level must not qualify.
			bids = []models.QuoteLevel{{Price: 99.50, Quantity: 1000}}
		}
		books = append(books, bookAt(i*10, bids, fillerAsks(9, 100)))
	}

	res := DetectWall(books, wallCfg())
	if res.Price != nil {
		t.Fatalf("transient spike must not be a wall, got price %v", *res.Price)
	}
}

func TestDetectWallNeedsMinSnapshots(t *testing.T) {
	bids := []models.QuoteLevel{{Price: 99.50, Quantity: 1000}}
	books := []models.BookSnapshot{bookAt(0, bids, fillerAsks(9, 100))}

	res := DetectWall(books, wallCfg())
	if res.Price != nil {
		t.Fatal("a single snapshot can never establish a wall")
	}
}

func TestDetectWallStrongestWins(t *testing.T) {
	var books []models.BookSnapshot
	for i := 0; i < 5; i++ {
		bids := []models.QuoteLevel{
			{Price: 99.50, Quantity: 900},
			{Price: 99.00, Quantity: 1500},
		}
		books = append(books, bookAt(i*10, bids, fillerAsks(18, 100)))
	}

	res := DetectWall(books, wallCfg())
	if res.Price == nil || *res.Price != 99.00 {
		t.Fatalf("largest persistent level must win, got %+v", res.Price)
	}
	if *res.Side != models.BidSide || *res.Qty != 1500 {
		t.Fatalf("unexpected wall: qty=%v side=%v", *res.Qty, *res.Side)
	}
}
