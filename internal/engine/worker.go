package engine

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	appconfig "optionflow/config"
	"optionflow/internal/analytics"
	"optionflow/internal/channel"
	"optionflow/internal/window"
	"optionflow/logger"
	"optionflow/models"
)

type event struct {
	tick  *models.TickEvent
	chain *models.ChainSnapshot
	book  *models.BookSnapshot
}

// worker owns all per-minute state for one instrument. Processing is
// single-threaded: ticks are consumed from the inbound queue, finalization
// fires from the deadline check, and PriorMinuteState is mutated only here.
type worker struct {
	inst     models.Instrument
	cfg      *appconfig.Config
	channels *channel.Channels
	queue    chan event
	log      *logger.Entry

	states     map[int64]*window.State
	closedUpTo int64 // unix second of the latest closed window start

	prior       *analytics.Prior
	latestChain *models.ChainSnapshot
	median      *analytics.RollingMedian
	ivWindow    *analytics.IVWindow
	corr        *analytics.SignAgreement

	now func() time.Time
}

func newWorker(inst models.Instrument, cfg *appconfig.Config, channels *channel.Channels, prior *analytics.Prior) *worker {
	return &worker{
		inst:       inst,
		cfg:        cfg,
		channels:   channels,
		queue:      make(chan event, cfg.Engine.QueueSize),
		log:        logger.GetLogger().WithComponent("worker").WithFields(logger.Fields{"instrument": inst.Key}),
		states:     make(map[int64]*window.State),
		closedUpTo: -1,
		prior:      prior,
		median:     analytics.NewRollingMedian(cfg.Analytics.Whale.MedianWindow),
		ivWindow:   analytics.NewIVWindow(cfg.Engine.IVLookback),
		corr:       analytics.NewSignAgreement(cfg.Engine.CorrWindow),
		now:        time.Now,
	}
}

// enqueue offers an event to the worker without blocking; a full queue drops
// the event and reports how it went.
func (w *worker) enqueue(ev event) bool {
	select {
	case w.queue <- ev:
		return true
	default:
		return false
	}
}

func (w *worker) run(ctx context.Context) {
	// First check lands just past the next minute boundary plus grace, then
	// the ticker takes over at a finer cadence.
	align := time.NewTimer(window.UntilNext(w.now()) + w.cfg.Engine.GracePeriod)
	defer align.Stop()
	deadlines := time.NewTicker(500 * time.Millisecond)
	defer deadlines.Stop()

	w.log.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.log.Debug("worker stopped")
			return
		case ev := <-w.queue:
			w.handle(ctx, ev)
		case <-align.C:
			w.checkDeadlines(ctx)
		case <-deadlines.C:
			// Timer-driven finalization takes precedence so a feed
			// stall never holds a window open past its grace.
			w.checkDeadlines(ctx)
		}
	}
}

func (w *worker) handle(ctx context.Context, ev event) {
	switch {
	case ev.tick != nil:
		w.handleTick(ctx, *ev.tick)
	case ev.chain != nil:
		c := *ev.chain
		w.latestChain = &c
	case ev.book != nil:
		w.handleBook(ctx, *ev.book)
	}
}

func (w *worker) handleTick(ctx context.Context, tick models.TickEvent) {
	start := window.Start(tick.Timestamp)
	key := start.Unix()

	if key <= w.closedUpTo {
		// Window already finalized: never fold late data in.
		w.channels.SendLate(ctx, tick)
		return
	}

	st, ok := w.states[key]
	if !ok {
		st = window.NewState(w.inst, start)
		w.states[key] = st
	}

	if err := st.Apply(tick); err != nil {
		if errors.Is(err, window.ErrLateData) {
			w.channels.SendLate(ctx, tick)
			return
		}
		w.log.WithError(err).Warn("tick rejected")
	}
}

func (w *worker) handleBook(ctx context.Context, book models.BookSnapshot) {
	start := window.Start(book.Timestamp)
	key := start.Unix()
	if key <= w.closedUpTo {
		return
	}
	st, ok := w.states[key]
	if !ok {
		st = window.NewState(w.inst, start)
		w.states[key] = st
	}
	_ = st.ApplyBook(book)
}

// checkDeadlines finalizes every window whose end plus grace has passed.
// Windows close oldest-first so each finalize sees the true prior minute.
func (w *worker) checkDeadlines(ctx context.Context) {
	cutoff := w.now().Add(-w.cfg.Engine.GracePeriod)
	var due []int64
	for key, st := range w.states {
		if st.Phase() == window.PhaseClosed {
			delete(w.states, key)
			continue
		}
		if window.End(st.WindowStart).After(cutoff) {
			continue
		}
		due = append(due, key)
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	for _, key := range due {
		w.finalize(ctx, w.states[key], false)
		delete(w.states, key)
	}
}

// drain finalizes whatever windows remain on shutdown, flagging them partial.
func (w *worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Engine.ShutdownTimeout)
	defer cancel()

	for {
		select {
		case ev := <-w.queue:
			w.handle(ctx, ev)
			continue
		default:
		}
		break
	}

	keys := make([]int64, 0, len(w.states))
	for key := range w.states {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		if st := w.states[key]; st.Phase() != window.PhaseClosed {
			w.finalize(ctx, st, true)
		}
		delete(w.states, key)
	}
}

// finalize closes one window: reduces accumulators, runs every analytics
// component (each degrading to nulls on its own), emits the candle and at
// most one signal. A second call for an already-closed window returns the
// cached record untouched.
func (w *worker) finalize(ctx context.Context, st *window.State, partial bool) *models.CandleRecord {
	if st.Phase() == window.PhaseClosed {
		return st.Record()
	}
	st.BeginFinalize()

	if key := st.WindowStart.Unix(); key > w.closedUpTo {
		w.closedUpTo = key
	}

	bar, err := st.Bar()
	if err != nil {
		// No trade print in the window: nothing to persist.
		st.Close(nil)
		return nil
	}

	chain := w.freshChain(st.WindowStart)

	elapsed := 0.0
	var priorIV, priorDelta *float64
	priorVolume := 0.0
	if w.prior != nil {
		elapsed = st.WindowStart.Sub(w.prior.WindowStart).Minutes()
		priorIV = w.prior.IV
		priorDelta = w.prior.Delta
		priorVolume = w.prior.Volume
	}

	noisePrice, noiseOI := w.cfg.PositionFloors(string(w.inst.Class))
	bullBelow, bearAbove := w.cfg.SentimentBands(string(w.inst.Class))

	pos := analytics.AnalyzePosition(bar, w.prior, elapsed, w.corr, noisePrice, noiseOI)
	whale := analytics.DetectWhales(st.Prints(), w.cfg.Analytics.Whale, w.median)
	greeks := analytics.JoinGreeks(chain, priorIV, w.ivWindow)
	seller := analytics.ScoreSeller(bar, whale, pos, greeks.IVChange, w.cfg.Analytics.Seller)
	wall := analytics.DetectWall(st.Books(), w.cfg.Analytics.Wall)
	val := analytics.AnalyzeSentiment(w.inst, bar, st.Books(), chain, bullBelow, bearAbove)

	comp := analytics.Fuse(analytics.CompositeInput{
		Bar:         bar,
		Whale:       whale,
		Seller:      seller,
		Position:    pos,
		Wall:        wall,
		Valuation:   val,
		Greeks:      greeks,
		PriorDelta:  priorDelta,
		PriorVolume: priorVolume,
	}, w.cfg.Analytics.Composite, w.cfg.Analytics.Seller)

	rec := models.CandleRecord{
		InstrumentKey: w.inst.Key,
		Timestamp:     st.WindowStart,
		Open:          bar.Open,
		High:          bar.High,
		Low:           bar.Low,
		Close:         bar.Close,
		Volume:        bar.Volume,
		VWAP:          bar.VWAP,
		TradeCount:    bar.TradeCount,

		Delta:        greeks.Delta,
		Gamma:        greeks.Gamma,
		Theta:        greeks.Theta,
		Vega:         greeks.Vega,
		IV:           greeks.IV,
		IVChange:     greeks.IVChange,
		IVPercentile: greeks.IVPercentile,

		WhaleVol:             whale.WhaleVol,
		WhaleSide:            whale.Side,
		AbsorptionStrength:   whale.AbsorptionStrength,
		DistributionStrength: whale.DistributionStrength,
		WhaleImpactScore:     whale.ImpactScore,

		SellerPanicScore:   seller.PanicScore,
		ProfitBookingScore: seller.ProfitBookingScore,
		SellerExhaustion:   seller.Exhaustion,

		OIVelocity:     pos.OIVelocity,
		PriceChangePct: pos.PriceChangePct,
		OIPriceCorr:    pos.OIPriceCorr,
		OIChange:       pos.OIChange,
		PositionType:   pos.PositionType,

		WallPrice: wall.Price,
		WallQty:   wall.Qty,
		WallSide:  wall.Side,

		PCR:            val.PCR,
		MSV:            val.MSV,
		ImbalanceRatio: val.ImbalanceRatio,
		IntrinsicValue: val.IntrinsicValue,
		ExtrinsicValue: val.ExtrinsicValue,
		Sentiment:      val.Sentiment,

		MomentumScore: comp.MomentumScore,
		BreakoutProb:  comp.BreakoutProb,

		Partial: partial,
	}
	if bar.HasOI {
		rec.OI = models.Int64Ptr(bar.OI)
	}

	st.Close(&rec)
	w.updateTrackers(st, chain, pos)
	w.updatePrior(st.WindowStart, bar, greeks)

	w.channels.SendCandle(ctx, rec)

	if comp.Signal != nil {
		sig := models.SignalRecord{
			ID:            uuid.New(),
			InstrumentKey: w.inst.Key,
			Timestamp:     w.now().UTC(),
			SignalType:    comp.Signal.Type,
			Price:         bar.Close,
			Confidence:    comp.Signal.Confidence,
			Reason:        comp.Signal.Reason,
			Metrics:       comp.Signal.Metrics,
		}
		w.channels.SendSignal(ctx, sig)
		w.log.WithFields(logger.Fields{
			"signal":     sig.SignalType,
			"confidence": sig.Confidence,
			"reason":     sig.Reason,
		}).Info("trade signal emitted")
	}

	return &rec
}

// freshChain returns the latest chain snapshot when it is recent enough to
// describe this window; stale snapshots degrade the Greeks fields to null.
func (w *worker) freshChain(start time.Time) *models.ChainSnapshot {
	if w.latestChain == nil {
		return nil
	}
	age := window.End(start).Sub(w.latestChain.Timestamp)
	if age > 5*time.Minute || age < -time.Minute {
		return nil
	}
	return w.latestChain
}

func (w *worker) updateTrackers(st *window.State, chain *models.ChainSnapshot, pos analytics.PositionResult) {
	for _, p := range st.Prints() {
		w.median.Observe(p.Quantity)
	}
	if chain != nil {
		w.ivWindow.Observe(chain.IV)
	}
	if pos.PriceChangePct != nil && pos.OIChange != nil {
		if math.Abs(*pos.PriceChangePct) > 0 || *pos.OIChange != 0 {
			w.corr.Observe(*pos.PriceChangePct, float64(*pos.OIChange))
		}
	}
}

func (w *worker) updatePrior(start time.Time, bar window.Bar, greeks analytics.GreeksResult) {
	w.prior = &analytics.Prior{
		WindowStart: start,
		Price:       bar.Close,
		VWAP:        bar.VWAP,
		Volume:      bar.Volume,
		High:        bar.High,
		OI:          bar.OI,
		HasOI:       bar.HasOI,
		IV:          greeks.IV,
		Delta:       greeks.Delta,
	}
}
