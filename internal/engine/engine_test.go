package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"optionflow/config"
	"optionflow/internal/channel"
	"optionflow/models"
)

type fakeStore struct {
	rec *models.CandleRecord
	err error
}

func (f *fakeStore) LatestCandle(ctx context.Context, key string) (*models.CandleRecord, error) {
	return f.rec, f.err
}

func testUniverse() *config.InstrumentUniverse {
	return &config.InstrumentUniverse{
		Instruments: []models.Instrument{workerInst},
	}
}

func TestEngineLifecycleDrainsOpenWindows(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.ShutdownTimeout = 2 * time.Second
	ch := channel.NewChannels(16, 16, 16, 16, 16)
	eng := NewEngine(cfg, testUniverse(), ch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := eng.Start(ctx); err == nil {
		t.Fatal("second start must fail")
	}

	tick := workerTick(time.Now().UTC(), 100, 10, models.SideBuy)
	if !ch.SendTick(ctx, tick) {
		t.Fatal("tick send failed")
	}

	// Let dispatch hand the tick to the worker before shutting down.
	deadline := time.After(2 * time.Second)
	for len(ch.Ticks) > 0 {
		select {
		case <-deadline:
			t.Fatal("tick never left the inbound channel")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond)

	eng.Stop()

	// Shutdown drain must flush the still-open window as partial.
	select {
	case rec := <-ch.Candles:
		if !rec.Partial {
			t.Fatal("drained candle must be partial")
		}
		if rec.InstrumentKey != workerInst.Key {
			t.Fatalf("unexpected instrument %q", rec.InstrumentKey)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected a drained candle after stop")
	}
}

func TestEngineIgnoresUnknownInstrument(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.ShutdownTimeout = time.Second
	ch := channel.NewChannels(16, 16, 16, 16, 16)
	eng := NewEngine(cfg, testUniverse(), ch, nil)

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer eng.Stop()

	stray := models.TickEvent{InstrumentKey: "NSE_FO|unknown", Timestamp: time.Now().UTC(), Price: 1, Quantity: 1}
	ch.SendTick(ctx, stray)

	deadline := time.After(2 * time.Second)
	for {
		eng.mu.Lock()
		n := eng.unknownDrops
		eng.mu.Unlock()
		if n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("unknown-instrument tick was not dropped")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRehydrateSeedsPrior(t *testing.T) {
	cfg := config.Default()
	ch := channel.NewChannels(1, 1, 1, 1, 1)
	ts := time.Now().UTC().Add(-2 * time.Minute).Truncate(time.Minute)
	store := &fakeStore{rec: &models.CandleRecord{
		InstrumentKey: workerInst.Key,
		Timestamp:     ts,
		Close:         101.5,
		High:          102,
		VWAP:          101,
		Volume:        500,
		OI:            models.Int64Ptr(12000),
		IV:            models.Float64Ptr(18.0),
	}}
	eng := NewEngine(cfg, testUniverse(), ch, store)

	prior := eng.rehydrate(context.Background(), workerInst)
	if prior == nil {
		t.Fatal("expected a rehydrated prior")
	}
	if prior.Price != 101.5 || !prior.WindowStart.Equal(ts) {
		t.Fatalf("unexpected prior %+v", prior)
	}
	if !prior.HasOI || prior.OI != 12000 {
		t.Fatalf("prior must carry OI: %+v", prior)
	}
	if prior.IV == nil || *prior.IV != 18.0 {
		t.Fatalf("prior must carry IV: %+v", prior)
	}
}

func TestRehydrateSkipsStaleCandle(t *testing.T) {
	cfg := config.Default()
	ch := channel.NewChannels(1, 1, 1, 1, 1)
	store := &fakeStore{rec: &models.CandleRecord{
		InstrumentKey: workerInst.Key,
		Timestamp:     time.Now().UTC().Add(-2 * time.Hour),
		Close:         101.5,
	}}
	eng := NewEngine(cfg, testUniverse(), ch, store)

	if prior := eng.rehydrate(context.Background(), workerInst); prior != nil {
		t.Fatalf("stale row must not seed a prior, got %+v", prior)
	}
}

func TestRehydrateToleratesStoreFailure(t *testing.T) {
	cfg := config.Default()
	ch := channel.NewChannels(1, 1, 1, 1, 1)
	store := &fakeStore{err: errors.New("connection refused")}
	eng := NewEngine(cfg, testUniverse(), ch, store)

	if prior := eng.rehydrate(context.Background(), workerInst); prior != nil {
		t.Fatal("store failure must start the worker cold")
	}
}
