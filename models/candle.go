package models

import "time"

// PositionType classifies the price/OI interaction of one minute.
type PositionType string

const (
	LongBuildup   PositionType = "LB"
	ShortBuildup  PositionType = "SB"
	ShortCovering PositionType = "SC"
	LongUnwind    PositionType = "LU"
)

// Sentiment is the coarse directional read for one minute.
type Sentiment string

const (
	SentimentBull    Sentiment = "Bull"
	SentimentBear    Sentiment = "Bear"
	SentimentNeutral Sentiment = "Neutral"
)

// WhaleSide reports which side of the book dominant whale flow hit.
type WhaleSide string

const (
	WhaleBid     WhaleSide = "BID"
	WhaleAsk     WhaleSide = "ASK"
	WhaleNeutral WhaleSide = "NEUTRAL"
)

// BookSide identifies a side of the order book for wall reporting.
type BookSide string

const (
	BidSide BookSide = "bid"
	AskSide BookSide = "ask"
)

// CandleRecord is one finalized row of market_history_1m. Core OHLCV fields
// are always set; every derived field is nullable and degrades independently.
// Records are immutable after finalization.
type CandleRecord struct {
	InstrumentKey string    `json:"instrument_key"`
	Timestamp     time.Time `json:"timestamp"` // window start
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume"`
	VWAP          float64   `json:"vwap"`
	TradeCount    int64     `json:"trade_count"`

	OI       *int64 `json:"oi,omitempty"`
	OIChange *int64 `json:"oi_change,omitempty"`

	// Greeks and volatility, joined from the latest chain snapshot.
	Delta        *float64 `json:"delta,omitempty"`
	Gamma        *float64 `json:"gamma,omitempty"`
	Theta        *float64 `json:"theta,omitempty"`
	Vega         *float64 `json:"vega,omitempty"`
	IV           *float64 `json:"iv,omitempty"`
	IVChange     *float64 `json:"iv_change,omitempty"`
	IVPercentile *float64 `json:"iv_percentile,omitempty"`

	// Whale detection.
	WhaleVol             float64    `json:"whale_vol"`
	WhaleSide            *WhaleSide `json:"whale_side,omitempty"`
	AbsorptionStrength   float64    `json:"absorption_strength"`
	DistributionStrength float64    `json:"distribution_strength"`
	WhaleImpactScore     *float64   `json:"whale_impact_score,omitempty"`

	// Seller behavior, each bounded to [0,100].
	SellerPanicScore   *float64 `json:"seller_panic_score,omitempty"`
	ProfitBookingScore *float64 `json:"profit_booking_score,omitempty"`
	SellerExhaustion   *float64 `json:"seller_exhaustion,omitempty"`

	// Position analysis.
	OIVelocity     *float64      `json:"oi_velocity,omitempty"`
	PriceChangePct *float64      `json:"price_change_pct,omitempty"`
	OIPriceCorr    *float64      `json:"oi_price_corr,omitempty"`
	PositionType   *PositionType `json:"position_type,omitempty"`

	// Wall detection, all-null or all-set.
	WallPrice *float64  `json:"wall_price,omitempty"`
	WallQty   *float64  `json:"wall_qty,omitempty"`
	WallSide  *BookSide `json:"wall_side,omitempty"`

	// Sentiment and valuation.
	PCR            *float64   `json:"pcr,omitempty"`
	MSV            *float64   `json:"msv,omitempty"`
	ImbalanceRatio *float64   `json:"imbalance_ratio,omitempty"`
	IntrinsicValue *float64   `json:"intrinsic_value,omitempty"`
	ExtrinsicValue *float64   `json:"extrinsic_value,omitempty"`
	Sentiment      *Sentiment `json:"sentiment,omitempty"`

	// Composite outputs.
	MomentumScore *float64 `json:"momentum_score,omitempty"`
	BreakoutProb  *float64 `json:"breakout_prob,omitempty"`

	// Partial marks a record finalized by shutdown or timeout with
	// incomplete window data.
	Partial bool `json:"partial"`
}

// Float64Ptr returns a pointer to v. Null candle fields stay nil; zero is a
// valid value and must survive the round trip.
func Float64Ptr(v float64) *float64 { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }
