package window

import (
	"errors"
	"testing"
	"time"

	"optionflow/models"
)

var testInst = models.Instrument{Key: "NSE_FO|12345", Class: models.ClassOption, OptionType: models.OptionCall, Strike: 25000}

func windowAt(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}

func tickAt(ts time.Time, price, qty float64, side models.TradeSide) models.TickEvent {
	return models.TickEvent{
		InstrumentKey: testInst.Key,
		Timestamp:     ts,
		Price:         price,
		Quantity:      qty,
		Side:          side,
	}
}

func TestStartTruncatesToMinute(t *testing.T) {
	ts := windowAt(t, "2026-01-05T09:15:42Z")
	start := Start(ts)
	if !start.Equal(windowAt(t, "2026-01-05T09:15:00Z")) {
		t.Fatalf("expected window start 09:15:00, got %v", start)
	}
	// A tick exactly on the boundary belongs to the window it opens.
	boundary := windowAt(t, "2026-01-05T09:16:00Z")
	if !Start(boundary).Equal(boundary) {
		t.Fatalf("boundary tick must open its own window, got %v", Start(boundary))
	}
}

func TestApplyAccumulatesOHLCV(t *testing.T) {
	start := windowAt(t, "2026-01-05T09:15:00Z")
	st := NewState(testInst, start)

	prices := []float64{100, 104, 98, 101}
	for i, p := range prices {
		tick := tickAt(start.Add(time.Duration(i*10)*time.Second), p, 10, models.SideBuy)
		if err := st.Apply(tick); err != nil {
			t.Fatalf("apply tick %d: %v", i, err)
		}
	}

	bar, err := st.Bar()
	if err != nil {
		t.Fatalf("bar: %v", err)
	}
	if bar.Open != 100 || bar.High != 104 || bar.Low != 98 || bar.Close != 101 {
		t.Fatalf("unexpected OHLC: %+v", bar)
	}
	if bar.Volume != 40 || bar.TradeCount != 4 {
		t.Fatalf("unexpected volume/count: %+v", bar)
	}
	want := (100.0*10 + 104*10 + 98*10 + 101*10) / 40
	if bar.VWAP != want {
		t.Fatalf("expected vwap %v, got %v", want, bar.VWAP)
	}
	if bar.High < bar.Low || bar.High < bar.Open || bar.High < bar.Close || bar.Low > bar.Open || bar.Low > bar.Close {
		t.Fatalf("OHLC invariant violated: %+v", bar)
	}
}

func TestApplyOutOfOrderWithinWindow(t *testing.T) {
	start := windowAt(t, "2026-01-05T09:15:00Z")
	st := NewState(testInst, start)

	// Arrival order differs from event-time order.
	if err := st.Apply(tickAt(start.Add(30*time.Second), 105, 5, models.SideBuy)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := st.Apply(tickAt(start.Add(5*time.Second), 99, 5, models.SideSell)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := st.Apply(tickAt(start.Add(50*time.Second), 102, 5, models.SideBuy)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	bar, err := st.Bar()
	if err != nil {
		t.Fatalf("bar: %v", err)
	}
	if bar.Open != 99 {
		t.Fatalf("open must follow earliest event time, got %v", bar.Open)
	}
	if bar.Close != 102 {
		t.Fatalf("close must follow latest event time, got %v", bar.Close)
	}
	if bar.High != 105 || bar.Low != 99 {
		t.Fatalf("high/low must be order-insensitive: %+v", bar)
	}
}

func TestApplyRejectsWrongWindow(t *testing.T) {
	start := windowAt(t, "2026-01-05T09:15:00Z")
	st := NewState(testInst, start)

	err := st.Apply(tickAt(start.Add(61*time.Second), 100, 1, models.SideBuy))
	if !errors.Is(err, ErrWrongWindow) {
		t.Fatalf("expected ErrWrongWindow, got %v", err)
	}
}

func TestApplyAfterFinalizeIsLate(t *testing.T) {
	start := windowAt(t, "2026-01-05T09:15:00Z")
	st := NewState(testInst, start)
	if err := st.Apply(tickAt(start, 100, 1, models.SideBuy)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	st.BeginFinalize()
	err := st.Apply(tickAt(start.Add(10*time.Second), 101, 1, models.SideBuy))
	if !errors.Is(err, ErrLateData) {
		t.Fatalf("expected ErrLateData during finalize, got %v", err)
	}

	st.Close(&models.CandleRecord{InstrumentKey: testInst.Key, Timestamp: start})
	err = st.Apply(tickAt(start.Add(20*time.Second), 102, 1, models.SideBuy))
	if !errors.Is(err, ErrLateData) {
		t.Fatalf("expected ErrLateData after close, got %v", err)
	}
}

func TestCloseIsIdempotentCache(t *testing.T) {
	start := windowAt(t, "2026-01-05T09:15:00Z")
	st := NewState(testInst, start)

	rec := &models.CandleRecord{InstrumentKey: testInst.Key, Timestamp: start, Close: 123}
	st.BeginFinalize()
	st.Close(rec)

	if st.Phase() != PhaseClosed {
		t.Fatalf("expected closed phase, got %v", st.Phase())
	}
	if got := st.Record(); got != rec {
		t.Fatalf("record must return the cached row")
	}
}

func TestBarEmptyWindow(t *testing.T) {
	st := NewState(testInst, windowAt(t, "2026-01-05T09:15:00Z"))
	if _, err := st.Bar(); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestOIFollowsLatestTimestamp(t *testing.T) {
	start := windowAt(t, "2026-01-05T09:15:00Z")
	st := NewState(testInst, start)

	late := tickAt(start.Add(40*time.Second), 100, 1, models.SideBuy)
	late.OpenInterest = 5000
	early := tickAt(start.Add(10*time.Second), 100, 1, models.SideBuy)
	early.OpenInterest = 4000

	if err := st.Apply(late); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := st.Apply(early); err != nil {
		t.Fatalf("apply: %v", err)
	}

	bar, err := st.Bar()
	if err != nil {
		t.Fatalf("bar: %v", err)
	}
	if !bar.HasOI || bar.OI != 5000 {
		t.Fatalf("OI must follow the latest event time, got %+v", bar)
	}
}

func TestPrintsCarryPrevPrice(t *testing.T) {
	start := windowAt(t, "2026-01-05T09:15:00Z")
	st := NewState(testInst, start)

	if err := st.Apply(tickAt(start, 100, 1, models.SideBuy)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := st.Apply(tickAt(start.Add(10*time.Second), 102, 1, models.SideSell)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	prints := st.Prints()
	if len(prints) != 2 {
		t.Fatalf("expected 2 prints, got %d", len(prints))
	}
	if prints[0].PrevPrice != 100 {
		t.Fatalf("first print prev must be its own price, got %v", prints[0].PrevPrice)
	}
	if prints[1].PrevPrice != 100 {
		t.Fatalf("second print prev must be prior close, got %v", prints[1].PrevPrice)
	}
}

func TestUntilNext(t *testing.T) {
	now := windowAt(t, "2026-01-05T09:15:42Z")
	if d := UntilNext(now); d != 18*time.Second {
		t.Fatalf("expected 18s until next minute, got %v", d)
	}
}
