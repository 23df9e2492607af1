package channel

import (
	"context"
	"testing"
	"time"

	"optionflow/models"
)

func testTick(key string) models.TickEvent {
	return models.TickEvent{
		InstrumentKey: key,
		Timestamp:     time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC),
		Price:         100,
		Quantity:      10,
	}
}

func TestSendTickCountsAndDelivers(t *testing.T) {
	c := NewChannels(4, 4, 4, 4, 4)
	ctx := context.Background()

	if !c.SendTick(ctx, testTick("NSE_FO|1")) {
		t.Fatal("send into empty buffer must succeed")
	}
	got := <-c.Ticks
	if got.InstrumentKey != "NSE_FO|1" {
		t.Fatalf("unexpected tick %q", got.InstrumentKey)
	}
	stats := c.Stats()
	if stats.TicksSent != 1 || stats.TicksDropped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSendTickDropsWhenFull(t *testing.T) {
	c := NewChannels(1, 1, 1, 1, 1)
	ctx := context.Background()

	if !c.SendTick(ctx, testTick("a")) {
		t.Fatal("first send must succeed")
	}
	if c.SendTick(ctx, testTick("b")) {
		t.Fatal("send into full buffer must drop, not block")
	}
	stats := c.Stats()
	if stats.TicksSent != 1 || stats.TicksDropped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSendBookDropsWhenFull(t *testing.T) {
	c := NewChannels(1, 1, 1, 1, 1)
	ctx := context.Background()

	book := models.BookSnapshot{InstrumentKey: "a", Timestamp: time.Now()}
	if !c.SendBook(ctx, book) {
		t.Fatal("first book must land")
	}
	if c.SendBook(ctx, book) {
		t.Fatal("full book buffer must drop")
	}
	if c.Stats().BooksDropped != 1 {
		t.Fatalf("expected one drop, got %+v", c.Stats())
	}
}

func TestSendCandleTeesToArchive(t *testing.T) {
	c := NewChannels(1, 1, 2, 1, 1)
	ctx := context.Background()

	rec := models.CandleRecord{InstrumentKey: "NSE_FO|1", Timestamp: time.Now().UTC()}
	if !c.SendCandle(ctx, rec) {
		t.Fatal("send must succeed")
	}
	select {
	case got := <-c.Archive:
		if got.InstrumentKey != rec.InstrumentKey {
			t.Fatalf("archive copy mismatch: %q", got.InstrumentKey)
		}
	default:
		t.Fatal("expected an archive copy of the candle")
	}
	if got := <-c.Candles; got.InstrumentKey != rec.InstrumentKey {
		t.Fatalf("persistence copy mismatch: %q", got.InstrumentKey)
	}
}

func TestSendCandleArchiveFullIsNotAnError(t *testing.T) {
	c := NewChannels(1, 1, 2, 1, 1)
	ctx := context.Background()

	rec := models.CandleRecord{InstrumentKey: "a", Timestamp: time.Now().UTC()}
	// Fill the archive buffer directly; the tee must silently skip it.
	c.Archive <- rec
	c.Archive <- rec
	if !c.SendCandle(ctx, rec) {
		t.Fatal("full archive buffer must not fail the persistence send")
	}
	if len(c.Candles) != 1 {
		t.Fatalf("candle must still be queued, backlog %d", len(c.Candles))
	}
}

func TestSendCandleHonorsContext(t *testing.T) {
	c := NewChannels(1, 1, 1, 1, 1)
	rec := models.CandleRecord{InstrumentKey: "a", Timestamp: time.Now().UTC()}

	ctx := context.Background()
	if !c.SendCandle(ctx, rec) {
		t.Fatal("first send must succeed")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan bool, 1)
	go func() { done <- c.SendCandle(cancelled, rec) }()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("cancelled send must report failure")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled send must not block")
	}
	if c.Stats().CandlesDropped != 1 {
		t.Fatalf("expected one candle drop, got %+v", c.Stats())
	}
}

func TestSendLateCounts(t *testing.T) {
	c := NewChannels(1, 1, 1, 1, 1)
	ctx := context.Background()

	if !c.SendLate(ctx, testTick("a")) {
		t.Fatal("late send must succeed")
	}
	if c.SendLate(ctx, testTick("b")) {
		t.Fatal("full late buffer must drop")
	}
	stats := c.Stats()
	if stats.LateSent != 1 || stats.LateDropped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
