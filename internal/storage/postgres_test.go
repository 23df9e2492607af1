package storage

import (
	"strings"
	"testing"
)

func TestWriteStatementsTargetHistoryTables(t *testing.T) {
	if !strings.Contains(upsertCandleSQL, "INSERT INTO market_history_1m") {
		t.Fatalf("candle upsert must target market_history_1m:\n%s", upsertCandleSQL)
	}
	if !strings.Contains(upsertCandleSQL, "ON CONFLICT (instrument_key, ts) DO UPDATE") {
		t.Fatal("candle upsert must keep the (instrument_key, ts) conflict key")
	}
	if !strings.Contains(insertSignalSQL, "INSERT INTO trade_signals") {
		t.Fatalf("signal insert must target trade_signals:\n%s", insertSignalSQL)
	}
	if !strings.Contains(insertSignalSQL, "ON CONFLICT (id) DO NOTHING") {
		t.Fatal("signal insert must stay idempotent on id")
	}
}

func TestSchemaCreatesHistoryTables(t *testing.T) {
	ddl := strings.Join(schemaStatements, "\n")
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS market_history_1m",
		"CREATE TABLE IF NOT EXISTS trade_signals",
		"PRIMARY KEY (instrument_key, ts)",
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("schema missing %q", want)
		}
	}
	for _, stale := range []string{"candles", "INTO signals", "EXISTS signals"} {
		if strings.Contains(ddl, stale) {
			t.Fatalf("schema still references %q", stale)
		}
	}
}
