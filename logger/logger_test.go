package logger

import (
	"os"
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("engine")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "engine" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestPipelineCounters(t *testing.T) {
	beforeTicks := atomic.LoadInt64(&ticksIngested)
	beforeCandles := atomic.LoadInt64(&candlesFinalized)
	beforeLate := atomic.LoadInt64(&lateTicks)

	IncrementTickIngested()
	IncrementTickIngested()
	IncrementCandleFinalized()
	IncrementLateTick()

	if got := atomic.LoadInt64(&ticksIngested) - beforeTicks; got != 2 {
		t.Fatalf("expected 2 ticks counted, got %d", got)
	}
	if got := atomic.LoadInt64(&candlesFinalized) - beforeCandles; got != 1 {
		t.Fatalf("expected 1 candle counted, got %d", got)
	}
	if got := atomic.LoadInt64(&lateTicks) - beforeLate; got != 1 {
		t.Fatalf("expected 1 late tick counted, got %d", got)
	}
}

func TestPersistWriteCountsRows(t *testing.T) {
	IncrementPersistWrite(42)

	v, ok := channels.Load("persist")
	if !ok {
		t.Fatal("persist channel stat missing")
	}
	cs := v.(*channelStat)
	if atomic.LoadInt64(&cs.bytes) < 42 {
		t.Fatalf("row count not accumulated: %d", atomic.LoadInt64(&cs.bytes))
	}
}

func TestErrorCountedByComponent(t *testing.T) {
	before := atomic.LoadInt64(&errorsPersist)
	Logger().WithComponent("storage").Error("write failed")
	if got := atomic.LoadInt64(&errorsPersist) - before; got != 1 {
		t.Fatalf("storage error not counted, delta %d", got)
	}
}
