package models

import "time"

// ChainSnapshot is the latest options-chain view for an instrument at or near
// finalize time. Greeks and IV are model outputs supplied upstream; a missing
// snapshot leaves the corresponding candle fields null, never zero.
type ChainSnapshot struct {
	InstrumentKey  string    `json:"instrument_key"`
	Timestamp      time.Time `json:"timestamp"`
	UnderlyingSpot float64   `json:"underlying_spot"`
	Premium        float64   `json:"premium"`
	IV             float64   `json:"iv"`
	Delta          float64   `json:"delta"`
	Gamma          float64   `json:"gamma"`
	Theta          float64   `json:"theta"`
	Vega           float64   `json:"vega"`

	// Aggregate chain volumes, populated for underlying-level instruments
	// and used for the put/call ratio.
	PutVolume  float64 `json:"put_volume"`
	CallVolume float64 `json:"call_volume"`
}
