package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"optionflow/logger"
	"optionflow/models"
)

// Spill is the durable overflow buffer for rows the database refused after
// all retries. Rows are appended as JSON lines and replayed in order once
// the database recovers; the upsert keyed on (instrument_key, timestamp)
// makes replay after a partial failure safe.
type Spill struct {
	dir string
	log *logger.Entry
	mu  sync.Mutex
}

type spillEntry struct {
	Kind   string               `json:"kind"` // "candle" or "signal"
	Candle *models.CandleRecord `json:"candle,omitempty"`
	Signal *models.SignalRecord `json:"signal,omitempty"`
}

const (
	spillCandle = "candle"
	spillSignal = "signal"
)

func NewSpill(dir string) (*Spill, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spill dir: %w", err)
	}
	return &Spill{
		dir: dir,
		log: logger.GetLogger().WithComponent("spill"),
	}, nil
}

func (s *Spill) path() string {
	return filepath.Join(s.dir, "pending.jsonl")
}

// AppendCandles persists candles that could not be written.
func (s *Spill) AppendCandles(recs []models.CandleRecord) error {
	entries := make([]spillEntry, 0, len(recs))
	for i := range recs {
		entries = append(entries, spillEntry{Kind: spillCandle, Candle: &recs[i]})
	}
	return s.append(entries)
}

// AppendSignals persists signals that could not be written.
func (s *Spill) AppendSignals(sigs []models.SignalRecord) error {
	entries := make([]spillEntry, 0, len(sigs))
	for i := range sigs {
		entries = append(entries, spillEntry{Kind: spillSignal, Signal: &sigs[i]})
	}
	return s.append(entries)
}

func (s *Spill) append(entries []spillEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open spill file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode spill entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush spill file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync spill file: %w", err)
	}

	s.log.WithFields(logger.Fields{"entries": len(entries)}).Warn("rows spilled to disk")
	return nil
}

// Pending reports whether spilled rows are waiting for replay.
func (s *Spill) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := os.Stat(s.path())
	return err == nil && info.Size() > 0
}

// Drain reads and removes all spilled rows. The caller must re-spill anything
// it fails to write; rows are not lost on a partial replay because replay
// happens through the same idempotent upsert.
func (s *Spill) Drain() ([]models.CandleRecord, []models.SignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("open spill file: %w", err)
	}

	var candles []models.CandleRecord
	var signals []models.SignalRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e spillEntry
		if err := json.Unmarshal(line, &e); err != nil {
			s.log.WithError(err).Warn("corrupt spill line skipped")
			continue
		}
		switch {
		case e.Kind == spillCandle && e.Candle != nil:
			candles = append(candles, *e.Candle)
		case e.Kind == spillSignal && e.Signal != nil:
			signals = append(signals, *e.Signal)
		}
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return nil, nil, fmt.Errorf("read spill file: %w", scanErr)
	}

	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("remove spill file: %w", err)
	}

	if len(candles)+len(signals) > 0 {
		s.log.WithFields(logger.Fields{
			"candles": len(candles),
			"signals": len(signals),
		}).Info("spill drained for replay")
	}
	return candles, signals, nil
}

// Age returns how long the oldest spilled row has been waiting.
func (s *Spill) Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := os.Stat(s.path())
	if err != nil {
		return 0
	}
	return time.Since(info.ModTime())
}
