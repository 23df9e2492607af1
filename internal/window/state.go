package window

import (
	"time"

	"optionflow/models"
)

// Print is one trade print retained for whale analysis. PrevPrice is the
// price of the chronologically preceding print in the same window, or the
// print's own price when it is the first.
type Print struct {
	Timestamp time.Time
	Price     float64
	Quantity  float64
	Side      models.TradeSide
	PrevPrice float64
}

// Bar is the core OHLCV reduction of one window.
type Bar struct {
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	VWAP       float64
	TradeCount int64
	BuyVolume  float64
	SellVolume float64
	OI         int64
	HasOI      bool
}

// State is the mutable CandleState for one (instrument, window). It is owned
// exclusively by the instrument's worker; no external reader may observe it
// before finalization.
type State struct {
	Instrument models.Instrument
	WindowStart time.Time

	phase Phase

	// OHLCV accumulators. Open/close track the earliest and latest tick
	// timestamps so out-of-order arrival within the window is harmless.
	firstTS  time.Time
	lastTS   time.Time
	open     float64
	high     float64
	low      float64
	close    float64
	volume   float64
	notional float64
	count    int64
	buyVol   float64
	sellVol  float64

	oi    int64
	hasOI bool
	oiTS  time.Time

	prints []Print
	books  []models.BookSnapshot

	record *models.CandleRecord
}

// NewState opens the CandleState for one instrument and window start.
func NewState(inst models.Instrument, start time.Time) *State {
	return &State{
		Instrument:  inst,
		WindowStart: start,
		phase:       PhaseOpen,
	}
}

// Phase reports the window lifecycle tag.
func (s *State) Phase() Phase { return s.phase }

// Apply folds one tick into the accumulators. Ticks for another minute return
// ErrWrongWindow; ticks after finalization return ErrLateData.
func (s *State) Apply(tick models.TickEvent) error {
	if s.phase != PhaseOpen {
		return ErrLateData
	}
	if !Start(tick.Timestamp).Equal(s.WindowStart) {
		return ErrWrongWindow
	}

	prev := tick.Price
	if s.count > 0 {
		prev = s.close
		if tick.Timestamp.Before(s.firstTS) {
			prev = s.open
		}
	}

	if s.count == 0 {
		s.firstTS = tick.Timestamp
		s.lastTS = tick.Timestamp
		s.open = tick.Price
		s.close = tick.Price
		s.high = tick.Price
		s.low = tick.Price
	} else {
		if tick.Timestamp.Before(s.firstTS) {
			s.firstTS = tick.Timestamp
			s.open = tick.Price
		}
		if !tick.Timestamp.Before(s.lastTS) {
			s.lastTS = tick.Timestamp
			s.close = tick.Price
		}
		if tick.Price > s.high {
			s.high = tick.Price
		}
		if tick.Price < s.low {
			s.low = tick.Price
		}
	}

	s.count++
	s.volume += tick.Quantity
	s.notional += tick.Price * tick.Quantity
	if tick.Side == models.SideBuy {
		s.buyVol += tick.Quantity
	} else {
		s.sellVol += tick.Quantity
	}

	if tick.OpenInterest > 0 && (!s.hasOI || !tick.Timestamp.Before(s.oiTS)) {
		s.oi = tick.OpenInterest
		s.hasOI = true
		s.oiTS = tick.Timestamp
	}

	s.prints = append(s.prints, Print{
		Timestamp: tick.Timestamp,
		Price:     tick.Price,
		Quantity:  tick.Quantity,
		Side:      tick.Side,
		PrevPrice: prev,
	})

	if tick.BidQty > 0 || tick.AskQty > 0 {
		s.books = append(s.books, models.BookSnapshot{
			InstrumentKey: tick.InstrumentKey,
			Timestamp:     tick.Timestamp,
			Bids:          []models.QuoteLevel{{Price: tick.BestBid, Quantity: tick.BidQty}},
			Asks:          []models.QuoteLevel{{Price: tick.BestAsk, Quantity: tick.AskQty}},
			TotalBidQty:   tick.BidQty,
			TotalAskQty:   tick.AskQty,
		})
	}

	return nil
}

// ApplyBook folds a full-depth book snapshot into the wall-detection buffer.
func (s *State) ApplyBook(book models.BookSnapshot) error {
	if s.phase != PhaseOpen {
		return ErrLateData
	}
	s.books = append(s.books, book)
	return nil
}

// BeginFinalize transitions the window out of the accepting phase. It is safe
// to call repeatedly; only the first call has an effect.
func (s *State) BeginFinalize() {
	if s.phase == PhaseOpen {
		s.phase = PhaseFinalizing
	}
}

// Close stores the finalized record and seals the window. Subsequent data is
// rejected with ErrLateData and Record returns the cached row unchanged.
func (s *State) Close(rec *models.CandleRecord) {
	s.record = rec
	s.phase = PhaseClosed
}

// Record returns the finalized record, or nil while the window is open.
func (s *State) Record() *models.CandleRecord { return s.record }

// Bar reduces the accumulators into the core OHLCV aggregate. Returns
// ErrNoData when the window saw no trade print.
func (s *State) Bar() (Bar, error) {
	if s.count == 0 {
		return Bar{}, ErrNoData
	}
	vwap := s.close
	if s.volume > 0 {
		vwap = s.notional / s.volume
	}
	return Bar{
		Open:       s.open,
		High:       s.high,
		Low:        s.low,
		Close:      s.close,
		Volume:     s.volume,
		VWAP:       vwap,
		TradeCount: s.count,
		BuyVolume:  s.buyVol,
		SellVolume: s.sellVol,
		OI:         s.oi,
		HasOI:      s.hasOI,
	}, nil
}

// Prints exposes the retained trade prints for whale analysis.
func (s *State) Prints() []Print { return s.prints }

// Books exposes the retained book snapshots for wall detection.
func (s *State) Books() []models.BookSnapshot { return s.books }
