package models

import (
	"time"
)

// TradeSide identifies which side initiated an execution.
type TradeSide string

const (
	// SideBuy marks a buyer-initiated trade (executed against resting asks).
	SideBuy TradeSide = "buy"
	// SideSell marks a seller-initiated trade (executed against resting bids).
	SideSell TradeSide = "sell"
)

// InstrumentClass groups instruments that share analytics thresholds.
type InstrumentClass string

const (
	ClassEquity InstrumentClass = "equity"
	ClassIndex  InstrumentClass = "index"
	ClassOption InstrumentClass = "option"
)

// OptionType distinguishes calls from puts for option instruments.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// Instrument describes one tradeable the engine tracks. Key is opaque and
// used as the partition key for all per-minute state.
type Instrument struct {
	Key        string          `yaml:"key" json:"key"`
	Class      InstrumentClass `yaml:"class" json:"class"`
	OptionType OptionType      `yaml:"option_type,omitempty" json:"option_type,omitempty"`
	Strike     float64         `yaml:"strike,omitempty" json:"strike,omitempty"`
}

// IsOption reports whether the instrument is a single option leg.
func (i Instrument) IsOption() bool {
	return i.Class == ClassOption
}

// TickEvent is one raw trade print enriched with the top-of-book quote and
// open interest at print time. Immutable once received.
type TickEvent struct {
	InstrumentKey string    `json:"instrument_key"`
	Timestamp     time.Time `json:"timestamp"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	Side          TradeSide `json:"side"`
	BestBid       float64   `json:"best_bid"`
	BestAsk       float64   `json:"best_ask"`
	BidQty        float64   `json:"bid_qty"`
	AskQty        float64   `json:"ask_qty"`
	OpenInterest  int64     `json:"open_interest"`
}

// QuoteLevel is one resting price level observed in a book snapshot.
type QuoteLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// BookSnapshot is a point-in-time view of resting depth used by the wall
// detector. TotalBidQty/TotalAskQty feed the order book imbalance ratio.
type BookSnapshot struct {
	InstrumentKey string       `json:"instrument_key"`
	Timestamp     time.Time    `json:"timestamp"`
	Bids          []QuoteLevel `json:"bids"`
	Asks          []QuoteLevel `json:"asks"`
	TotalBidQty   float64      `json:"total_bid_qty"`
	TotalAskQty   float64      `json:"total_ask_qty"`
}
