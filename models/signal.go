package models

import (
	"time"

	"github.com/google/uuid"
)

// SignalType is the direction of an emitted trade signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// SignalMetrics snapshots the inputs that produced a signal so the audit
// trail is self-contained.
type SignalMetrics struct {
	MomentumScore    float64       `json:"momentum_score"`
	BreakoutProb     float64       `json:"breakout_prob"`
	WhaleImpactScore float64       `json:"whale_impact_score"`
	OIVelocity       float64       `json:"oi_velocity"`
	PriceChangePct   float64       `json:"price_change_pct"`
	PositionType     *PositionType `json:"position_type,omitempty"`
	Support          float64       `json:"support"`
	Resistance       float64       `json:"resistance"`
	Target           float64       `json:"target"`
	StopLoss         float64       `json:"stop_loss"`
	RRRatio          float64       `json:"rr_ratio"`
}

// SignalRecord is one row of trade_signals. Created only at emission time and
// never updated or deleted.
type SignalRecord struct {
	ID            uuid.UUID     `json:"id"`
	InstrumentKey string        `json:"instrument_key"`
	Timestamp     time.Time     `json:"timestamp"`
	SignalType    SignalType    `json:"signal_type"`
	Price         float64       `json:"price"`
	Confidence    float64       `json:"confidence"` // [0,1]
	Reason        string        `json:"reason"`
	Metrics       SignalMetrics `json:"metrics"`
}
