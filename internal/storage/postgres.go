package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "optionflow/config"
	"optionflow/internal/channel"
	"optionflow/logger"
	"optionflow/models"
)

// Connect builds a pgx pool from the configuration and verifies it.
func Connect(ctx context.Context, cfg appconfig.PostgresConfig) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Writer consumes finalized candles and signals from the pipeline and
// persists them in batches. Delivery is at-least-once: a write that fails
// after all retries goes to the spill buffer and is replayed later through
// the same idempotent upsert.
type Writer struct {
	cfg      appconfig.PostgresConfig
	pool     *pgxpool.Pool
	channels *channel.Channels
	spill    *Spill
	log      *logger.Entry

	candleBatch []models.CandleRecord
	signalBatch []models.SignalRecord
	batchMu     sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	replayInterval time.Duration
}

func NewWriter(cfg appconfig.PostgresConfig, spillCfg appconfig.SpillConfig, pool *pgxpool.Pool, channels *channel.Channels) (*Writer, error) {
	spill, err := NewSpill(spillCfg.Dir)
	if err != nil {
		return nil, err
	}
	return &Writer{
		cfg:            cfg,
		pool:           pool,
		channels:       channels,
		spill:          spill,
		log:            logger.GetLogger().WithComponent("storage"),
		candleBatch:    make([]models.CandleRecord, 0, cfg.BatchSize),
		signalBatch:    make([]models.SignalRecord, 0, 64),
		replayInterval: spillCfg.ReplayInterval,
	}, nil
}

func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("storage writer already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	if err := w.EnsureSchema(w.ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	w.wg.Add(1)
	go w.consumeLoop()
	w.wg.Add(1)
	go w.flushLoop()
	w.wg.Add(1)
	go w.replayLoop()

	w.running = true
	w.log.WithFields(logger.Fields{
		"batch_size":     w.cfg.BatchSize,
		"flush_interval": w.cfg.FlushInterval,
	}).Info("storage writer started")
	return nil
}

// Stop drains the channels and flushes whatever is batched.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()

	// Final drain: the engine has already stopped producing by now.
	for {
		select {
		case rec := <-w.channels.Candles:
			w.addCandle(rec)
			continue
		case sig := <-w.channels.Signals:
			w.addSignal(sig)
			continue
		default:
		}
		break
	}
	w.flush(context.Background())
	w.log.Info("storage writer stopped")
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case rec := <-w.channels.Candles:
			w.addCandle(rec)
		case sig := <-w.channels.Signals:
			w.addSignal(sig)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// replayLoop retries spilled rows whenever any are pending.
func (w *Writer) replayLoop() {
	defer w.wg.Done()
	interval := w.replayInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.replay(w.ctx)
		}
	}
}

func (w *Writer) addCandle(rec models.CandleRecord) {
	w.batchMu.Lock()
	w.candleBatch = append(w.candleBatch, rec)
	full := len(w.candleBatch) >= w.cfg.BatchSize
	w.batchMu.Unlock()
	if full {
		w.flush(w.ctx)
	}
}

func (w *Writer) addSignal(sig models.SignalRecord) {
	w.batchMu.Lock()
	w.signalBatch = append(w.signalBatch, sig)
	w.batchMu.Unlock()
}

// flush takes ownership of the current batches and writes them with bounded
// retries. Exhausted batches are spilled, never dropped.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	candles := w.candleBatch
	signals := w.signalBatch
	w.candleBatch = make([]models.CandleRecord, 0, w.cfg.BatchSize)
	w.signalBatch = make([]models.SignalRecord, 0, 64)
	w.batchMu.Unlock()

	if len(candles) > 0 {
		if err := w.withRetry(ctx, func() error { return w.writeCandles(ctx, candles) }); err != nil {
			w.log.WithError(err).WithFields(logger.Fields{"count": len(candles)}).Error("candle batch failed, spilling")
			if serr := w.spill.AppendCandles(candles); serr != nil {
				w.log.WithError(serr).Error("candle spill failed, rows lost")
			}
		} else {
			logger.IncrementPersistWrite(len(candles))
		}
	}

	if len(signals) > 0 {
		if err := w.withRetry(ctx, func() error { return w.writeSignals(ctx, signals) }); err != nil {
			w.log.WithError(err).WithFields(logger.Fields{"count": len(signals)}).Error("signal batch failed, spilling")
			if serr := w.spill.AppendSignals(signals); serr != nil {
				w.log.WithError(serr).Error("signal spill failed, rows lost")
			}
		}
	}
}

// replay drains the spill file and pushes the rows back through the normal
// write path.
func (w *Writer) replay(ctx context.Context) {
	if !w.spill.Pending() {
		return
	}
	candles, signals, err := w.spill.Drain()
	if err != nil {
		w.log.WithError(err).Error("spill drain failed")
		return
	}
	if len(candles) > 0 {
		if err := w.withRetry(ctx, func() error { return w.writeCandles(ctx, candles) }); err != nil {
			w.log.WithError(err).Warn("spill replay failed, re-spilling candles")
			_ = w.spill.AppendCandles(candles)
		} else {
			w.log.WithFields(logger.Fields{"count": len(candles)}).Info("spilled candles replayed")
		}
	}
	if len(signals) > 0 {
		if err := w.withRetry(ctx, func() error { return w.writeSignals(ctx, signals) }); err != nil {
			w.log.WithError(err).Warn("spill replay failed, re-spilling signals")
			_ = w.spill.AppendSignals(signals)
		}
	}
}

// withRetry runs op with bounded exponential backoff per the retry config.
func (w *Writer) withRetry(ctx context.Context, op func() error) error {
	r := w.cfg.Retry
	delay := r.BaseDelay
	var err error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == r.MaxAttempts {
			break
		}
		w.log.WithError(err).WithFields(logger.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("database write failed, retrying")
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * r.BackoffMultiplier)
		if delay > r.MaxDelay {
			delay = r.MaxDelay
		}
	}
	return err
}

const upsertCandleSQL = `
INSERT INTO market_history_1m (
	instrument_key, ts, open, high, low, close, volume, vwap, trade_count,
	oi, oi_change,
	delta, gamma, theta, vega, iv, iv_change, iv_percentile,
	whale_vol, whale_side, absorption_strength, distribution_strength, whale_impact_score,
	seller_panic_score, profit_booking_score, seller_exhaustion,
	oi_velocity, price_change_pct, oi_price_corr, position_type,
	wall_price, wall_qty, wall_side,
	pcr, msv, imbalance_ratio, intrinsic_value, extrinsic_value, sentiment,
	momentum_score, breakout_prob, partial
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,
	$10,$11,
	$12,$13,$14,$15,$16,$17,$18,
	$19,$20,$21,$22,$23,
	$24,$25,$26,
	$27,$28,$29,$30,
	$31,$32,$33,
	$34,$35,$36,$37,$38,$39,
	$40,$41,$42
)
ON CONFLICT (instrument_key, ts) DO UPDATE SET
	open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
	close = EXCLUDED.close, volume = EXCLUDED.volume, vwap = EXCLUDED.vwap,
	trade_count = EXCLUDED.trade_count, oi = EXCLUDED.oi, oi_change = EXCLUDED.oi_change,
	delta = EXCLUDED.delta, gamma = EXCLUDED.gamma, theta = EXCLUDED.theta,
	vega = EXCLUDED.vega, iv = EXCLUDED.iv, iv_change = EXCLUDED.iv_change,
	iv_percentile = EXCLUDED.iv_percentile, whale_vol = EXCLUDED.whale_vol,
	whale_side = EXCLUDED.whale_side, absorption_strength = EXCLUDED.absorption_strength,
	distribution_strength = EXCLUDED.distribution_strength,
	whale_impact_score = EXCLUDED.whale_impact_score,
	seller_panic_score = EXCLUDED.seller_panic_score,
	profit_booking_score = EXCLUDED.profit_booking_score,
	seller_exhaustion = EXCLUDED.seller_exhaustion,
	oi_velocity = EXCLUDED.oi_velocity, price_change_pct = EXCLUDED.price_change_pct,
	oi_price_corr = EXCLUDED.oi_price_corr, position_type = EXCLUDED.position_type,
	wall_price = EXCLUDED.wall_price, wall_qty = EXCLUDED.wall_qty,
	wall_side = EXCLUDED.wall_side, pcr = EXCLUDED.pcr, msv = EXCLUDED.msv,
	imbalance_ratio = EXCLUDED.imbalance_ratio, intrinsic_value = EXCLUDED.intrinsic_value,
	extrinsic_value = EXCLUDED.extrinsic_value, sentiment = EXCLUDED.sentiment,
	momentum_score = EXCLUDED.momentum_score, breakout_prob = EXCLUDED.breakout_prob,
	partial = EXCLUDED.partial`

const insertSignalSQL = `
INSERT INTO trade_signals (
	id, instrument_key, ts, signal_type, price, confidence, reason,
	momentum_score, breakout_prob, whale_impact_score, oi_velocity,
	price_change_pct, position_type, support, resistance, target, stop_loss, rr_ratio
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)
ON CONFLICT (id) DO NOTHING`

func (w *Writer) writeCandles(ctx context.Context, recs []models.CandleRecord) error {
	batch := &pgx.Batch{}
	for i := range recs {
		r := &recs[i]
		batch.Queue(upsertCandleSQL,
			r.InstrumentKey, r.Timestamp, r.Open, r.High, r.Low, r.Close, r.Volume, r.VWAP, r.TradeCount,
			r.OI, r.OIChange,
			r.Delta, r.Gamma, r.Theta, r.Vega, r.IV, r.IVChange, r.IVPercentile,
			r.WhaleVol, r.WhaleSide, r.AbsorptionStrength, r.DistributionStrength, r.WhaleImpactScore,
			r.SellerPanicScore, r.ProfitBookingScore, r.SellerExhaustion,
			r.OIVelocity, r.PriceChangePct, r.OIPriceCorr, r.PositionType,
			r.WallPrice, r.WallQty, r.WallSide,
			r.PCR, r.MSV, r.ImbalanceRatio, r.IntrinsicValue, r.ExtrinsicValue, r.Sentiment,
			r.MomentumScore, r.BreakoutProb, r.Partial,
		)
	}
	return w.sendBatch(ctx, batch)
}

func (w *Writer) writeSignals(ctx context.Context, sigs []models.SignalRecord) error {
	batch := &pgx.Batch{}
	for i := range sigs {
		s := &sigs[i]
		batch.Queue(insertSignalSQL,
			s.ID, s.InstrumentKey, s.Timestamp, s.SignalType, s.Price, s.Confidence, s.Reason,
			s.Metrics.MomentumScore, s.Metrics.BreakoutProb, s.Metrics.WhaleImpactScore,
			s.Metrics.OIVelocity, s.Metrics.PriceChangePct, s.Metrics.PositionType,
			s.Metrics.Support, s.Metrics.Resistance, s.Metrics.Target, s.Metrics.StopLoss, s.Metrics.RRRatio,
		)
	}
	return w.sendBatch(ctx, batch)
}

func (w *Writer) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := w.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec %d: %w", i, err)
		}
	}
	return nil
}

// LatestCandle returns the most recent finalized row for one instrument, or
// nil when none exists.
func (w *Writer) LatestCandle(ctx context.Context, instrumentKey string) (*models.CandleRecord, error) {
	const q = `
SELECT instrument_key, ts, open, high, low, close, volume, vwap, trade_count,
       oi, oi_change, delta, gamma, theta, vega, iv, iv_change, iv_percentile, partial
FROM market_history_1m
WHERE instrument_key = $1
ORDER BY ts DESC
LIMIT 1`

	var rec models.CandleRecord
	err := w.pool.QueryRow(ctx, q, instrumentKey).Scan(
		&rec.InstrumentKey, &rec.Timestamp, &rec.Open, &rec.High, &rec.Low, &rec.Close,
		&rec.Volume, &rec.VWAP, &rec.TradeCount,
		&rec.OI, &rec.OIChange, &rec.Delta, &rec.Gamma, &rec.Theta, &rec.Vega,
		&rec.IV, &rec.IVChange, &rec.IVPercentile, &rec.Partial,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest candle: %w", err)
	}
	return &rec, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS market_history_1m (
			instrument_key        TEXT             NOT NULL,
			ts                    TIMESTAMPTZ      NOT NULL,
			open                  DOUBLE PRECISION NOT NULL,
			high                  DOUBLE PRECISION NOT NULL,
			low                   DOUBLE PRECISION NOT NULL,
			close                 DOUBLE PRECISION NOT NULL,
			volume                DOUBLE PRECISION NOT NULL,
			vwap                  DOUBLE PRECISION NOT NULL,
			trade_count           BIGINT           NOT NULL,
			oi                    BIGINT,
			oi_change             BIGINT,
			delta                 DOUBLE PRECISION,
			gamma                 DOUBLE PRECISION,
			theta                 DOUBLE PRECISION,
			vega                  DOUBLE PRECISION,
			iv                    DOUBLE PRECISION,
			iv_change             DOUBLE PRECISION,
			iv_percentile         DOUBLE PRECISION,
			whale_vol             DOUBLE PRECISION NOT NULL DEFAULT 0,
			whale_side            TEXT,
			absorption_strength   DOUBLE PRECISION NOT NULL DEFAULT 0,
			distribution_strength DOUBLE PRECISION NOT NULL DEFAULT 0,
			whale_impact_score    DOUBLE PRECISION,
			seller_panic_score    DOUBLE PRECISION,
			profit_booking_score  DOUBLE PRECISION,
			seller_exhaustion     DOUBLE PRECISION,
			oi_velocity           DOUBLE PRECISION,
			price_change_pct      DOUBLE PRECISION,
			oi_price_corr         DOUBLE PRECISION,
			position_type         TEXT,
			wall_price            DOUBLE PRECISION,
			wall_qty              DOUBLE PRECISION,
			wall_side             TEXT,
			pcr                   DOUBLE PRECISION,
			msv                   DOUBLE PRECISION,
			imbalance_ratio       DOUBLE PRECISION,
			intrinsic_value       DOUBLE PRECISION,
			extrinsic_value       DOUBLE PRECISION,
			sentiment             TEXT,
			momentum_score        DOUBLE PRECISION,
			breakout_prob         DOUBLE PRECISION,
			partial               BOOLEAN          NOT NULL DEFAULT FALSE,
			PRIMARY KEY (instrument_key, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS market_history_1m_instrument_ts_idx ON market_history_1m (instrument_key, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS market_history_1m_ts_idx ON market_history_1m (ts DESC)`,
	`CREATE TABLE IF NOT EXISTS trade_signals (
			id                 UUID             PRIMARY KEY,
			instrument_key     TEXT             NOT NULL,
			ts                 TIMESTAMPTZ      NOT NULL,
			signal_type        TEXT             NOT NULL,
			price              DOUBLE PRECISION NOT NULL,
			confidence         DOUBLE PRECISION NOT NULL,
			reason             TEXT             NOT NULL,
			momentum_score     DOUBLE PRECISION NOT NULL,
			breakout_prob      DOUBLE PRECISION NOT NULL,
			whale_impact_score DOUBLE PRECISION NOT NULL,
			oi_velocity        DOUBLE PRECISION NOT NULL,
			price_change_pct   DOUBLE PRECISION NOT NULL,
			position_type      TEXT,
			support            DOUBLE PRECISION NOT NULL,
			resistance         DOUBLE PRECISION NOT NULL,
			target             DOUBLE PRECISION NOT NULL,
			stop_loss          DOUBLE PRECISION NOT NULL,
			rr_ratio           DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS trade_signals_instrument_ts_idx ON trade_signals (instrument_key, ts DESC)`,
}

// EnsureSchema creates the history and signal tables and their query indexes.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := w.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement: %w", err)
		}
	}
	return nil
}
