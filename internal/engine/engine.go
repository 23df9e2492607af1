package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "optionflow/config"
	"optionflow/internal/analytics"
	"optionflow/internal/channel"
	"optionflow/internal/window"
	"optionflow/logger"
	"optionflow/models"
)

// CandleStore is the slice of the persistence layer the engine needs at
// startup: the last finalized row per instrument, used to seed the
// prior-minute state across restarts.
type CandleStore interface {
	LatestCandle(ctx context.Context, instrumentKey string) (*models.CandleRecord, error)
}

// Engine fans inbound market data out to one worker per instrument and
// drives the per-minute finalize cycle. Each instrument's state is touched
// by exactly one goroutine.
type Engine struct {
	cfg      *appconfig.Config
	universe *appconfig.InstrumentUniverse
	channels *channel.Channels
	store    CandleStore
	log      *logger.Entry

	workers map[string]*worker

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	unknownDrops int64
	queueDrops   int64
}

// NewEngine builds the engine. store may be nil, in which case every worker
// starts cold with no prior-minute context.
func NewEngine(cfg *appconfig.Config, universe *appconfig.InstrumentUniverse, channels *channel.Channels, store CandleStore) *Engine {
	return &Engine{
		cfg:      cfg,
		universe: universe,
		channels: channels,
		store:    store,
		log:      logger.GetLogger().WithComponent("engine"),
		workers:  make(map[string]*worker),
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine already running")
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	for _, inst := range e.universe.Instruments {
		prior := e.rehydrate(e.ctx, inst)
		w := newWorker(inst, e.cfg, e.channels, prior)
		e.workers[inst.Key] = w
		e.wg.Add(1)
		go func(w *worker) {
			defer e.wg.Done()
			w.run(e.ctx)
		}(w)
	}

	e.wg.Add(1)
	go e.dispatch()

	e.running = true
	e.log.WithFields(logger.Fields{"instruments": len(e.workers)}).Info("engine started")
	return nil
}

// Stop cancels the workers and waits for their shutdown drain, in which open
// windows are finalized as partial candles.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.Engine.ShutdownTimeout + 5*time.Second):
		e.log.Warn("engine shutdown timed out waiting for workers")
	}
	e.log.Info("engine stopped")
}

// dispatch routes inbound events to the owning worker's queue.
func (e *Engine) dispatch() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case tick := <-e.channels.Ticks:
			w, ok := e.workers[tick.InstrumentKey]
			if !ok {
				e.dropUnknown(tick.InstrumentKey)
				continue
			}
			if !w.enqueue(event{tick: &tick}) {
				e.dropQueue(tick.InstrumentKey)
			}
		case chain := <-e.channels.Chains:
			if w, ok := e.workers[chain.InstrumentKey]; ok {
				if !w.enqueue(event{chain: &chain}) {
					e.dropQueue(chain.InstrumentKey)
				}
			}
		case book := <-e.channels.Books:
			if w, ok := e.workers[book.InstrumentKey]; ok {
				// Depth snapshots are advisory; a full queue skips them.
				w.enqueue(event{book: &book})
			}
		}
	}
}

func (e *Engine) dropUnknown(key string) {
	e.mu.Lock()
	e.unknownDrops++
	n := e.unknownDrops
	e.mu.Unlock()
	if n == 1 || n%1000 == 0 {
		e.log.WithFields(logger.Fields{"instrument": key, "total": n}).Warn("tick for untracked instrument dropped")
	}
}

func (e *Engine) dropQueue(key string) {
	e.mu.Lock()
	e.queueDrops++
	n := e.queueDrops
	e.mu.Unlock()
	if n == 1 || n%1000 == 0 {
		e.log.WithFields(logger.Fields{"instrument": key, "total": n}).Warn("worker queue full, event dropped")
	}
}

// rehydrate loads the last finalized candle so the first live minute gets a
// real prior instead of starting from nothing.
func (e *Engine) rehydrate(ctx context.Context, inst models.Instrument) *analytics.Prior {
	if e.store == nil {
		return nil
	}
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rec, err := e.store.LatestCandle(loadCtx, inst.Key)
	if err != nil {
		e.log.WithError(err).WithFields(logger.Fields{"instrument": inst.Key}).Warn("prior candle load failed, starting cold")
		return nil
	}
	if rec == nil {
		return nil
	}
	// Stale rows would poison velocity math with huge elapsed gaps; they
	// still work because velocity divides by elapsed minutes, but a very
	// old prior is no longer representative.
	if time.Since(rec.Timestamp) > 30*time.Minute {
		return nil
	}

	prior := &analytics.Prior{
		WindowStart: window.Start(rec.Timestamp),
		Price:       rec.Close,
		VWAP:        rec.VWAP,
		Volume:      rec.Volume,
		High:        rec.High,
		IV:          rec.IV,
		Delta:       rec.Delta,
	}
	if rec.OI != nil {
		prior.OI = *rec.OI
		prior.HasOI = true
	}
	e.log.WithFields(logger.Fields{"instrument": inst.Key, "window": rec.Timestamp}).Info("prior minute state rehydrated")
	return prior
}

// Worker queue depths, exposed for the periodic runtime report.
func (e *Engine) QueueDepths() map[string]int {
	depths := make(map[string]int, len(e.workers))
	for key, w := range e.workers {
		depths[key] = len(w.queue)
	}
	return depths
}
