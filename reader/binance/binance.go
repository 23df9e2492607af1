package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	appconfig "optionflow/config"
	"optionflow/internal/channel"
	"optionflow/logger"
	"optionflow/models"
)

const depthLevels = 20

// Reader streams aggregated trades, top-of-book quotes and partial depth for
// the configured perpetual symbols, and polls open interest over REST. Each
// trade print is folded together with the latest quote and OI into one
// TickEvent before it enters the pipeline.
type Reader struct {
	cfg      appconfig.BinanceReaderConfig
	channels *channel.Channels
	client   *futures.Client
	log      *logger.Entry
	limiter  *rate.Limiter

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	quoteMu sync.RWMutex
	quotes  map[string]quote
	oi      map[string]int64
}

type quote struct {
	bid, ask       float64
	bidQty, askQty float64
}

func NewReader(cfg appconfig.BinanceReaderConfig, channels *channel.Channels) *Reader {
	rps := cfg.OIRatePerSec
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.OIBurst
	if burst <= 0 {
		burst = 1
	}
	return &Reader{
		cfg:      cfg,
		channels: channels,
		client:   futures.NewClient("", ""),
		log:      logger.GetLogger().WithComponent("binance_reader"),
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		quotes:   make(map[string]quote),
		oi:       make(map[string]int64),
	}
}

func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance reader already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	if !r.cfg.Enabled {
		return fmt.Errorf("binance reader is disabled")
	}
	if len(r.cfg.Symbols) == 0 {
		return fmt.Errorf("no binance symbols configured")
	}

	r.log.WithFields(logger.Fields{"symbols": r.cfg.Symbols}).Info("starting binance reader")

	for _, sym := range r.cfg.Symbols {
		symbol := strings.ToUpper(sym)

		r.wg.Add(1)
		go r.serveLoop(symbol+" trades", func() (chan struct{}, chan struct{}, error) {
			return futures.WsAggTradeServe(symbol, r.tradeHandler(symbol), r.wsErrHandler(symbol))
		})

		r.wg.Add(1)
		go r.serveLoop(symbol+" book ticker", func() (chan struct{}, chan struct{}, error) {
			return futures.WsBookTickerServe(symbol, r.bookTickerHandler(symbol), r.wsErrHandler(symbol))
		})

		r.wg.Add(1)
		go r.serveLoop(symbol+" depth", func() (chan struct{}, chan struct{}, error) {
			return futures.WsPartialDepthServeWithRate(symbol, depthLevels, 500*time.Millisecond, r.depthHandler(symbol), r.wsErrHandler(symbol))
		})

		r.wg.Add(1)
		go r.pollOpenInterest(symbol)
	}

	r.log.Info("binance reader started successfully")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.log.Info("binance reader stopped")
}

// serveLoop keeps one websocket subscription alive, reconnecting with a
// fixed delay after the library closes the done channel.
func (r *Reader) serveLoop(name string, serve func() (chan struct{}, chan struct{}, error)) {
	defer r.wg.Done()
	log := r.log.WithFields(logger.Fields{"stream": name})

	for {
		if r.ctx.Err() != nil {
			return
		}
		doneC, stopC, err := serve()
		if err != nil {
			log.WithError(err).Warn("stream connect failed, retrying")
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}

		select {
		case <-r.ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
			log.Warn("stream disconnected, reconnecting")
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (r *Reader) tradeHandler(symbol string) futures.WsAggTradeHandler {
	return func(event *futures.WsAggTradeEvent) {
		price, err1 := strconv.ParseFloat(event.Price, 64)
		qty, err2 := strconv.ParseFloat(event.Quantity, 64)
		if err1 != nil || err2 != nil {
			return
		}

		// Maker=true means the buyer rested, so the aggressor sold.
		side := models.SideBuy
		if event.Maker {
			side = models.SideSell
		}

		r.quoteMu.RLock()
		q := r.quotes[symbol]
		oi := r.oi[symbol]
		r.quoteMu.RUnlock()

		r.channels.SendTick(r.ctx, models.TickEvent{
			InstrumentKey: symbol,
			Timestamp:     time.UnixMilli(event.TradeTime).UTC(),
			Price:         price,
			Quantity:      qty,
			Side:          side,
			BestBid:       q.bid,
			BestAsk:       q.ask,
			BidQty:        q.bidQty,
			AskQty:        q.askQty,
			OpenInterest:  oi,
		})
	}
}

func (r *Reader) bookTickerHandler(symbol string) futures.WsBookTickerHandler {
	return func(event *futures.WsBookTickerEvent) {
		bid, _ := strconv.ParseFloat(event.BestBidPrice, 64)
		ask, _ := strconv.ParseFloat(event.BestAskPrice, 64)
		bidQty, _ := strconv.ParseFloat(event.BestBidQty, 64)
		askQty, _ := strconv.ParseFloat(event.BestAskQty, 64)

		r.quoteMu.Lock()
		r.quotes[symbol] = quote{bid: bid, ask: ask, bidQty: bidQty, askQty: askQty}
		r.quoteMu.Unlock()
	}
}

func (r *Reader) depthHandler(symbol string) futures.WsDepthHandler {
	return func(event *futures.WsDepthEvent) {
		book := models.BookSnapshot{
			InstrumentKey: symbol,
			Timestamp:     time.UnixMilli(event.Time).UTC(),
		}
		for _, lvl := range event.Bids {
			price, err1 := strconv.ParseFloat(lvl.Price, 64)
			qty, err2 := strconv.ParseFloat(lvl.Quantity, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			book.Bids = append(book.Bids, models.QuoteLevel{Price: price, Quantity: qty})
			book.TotalBidQty += qty
		}
		for _, lvl := range event.Asks {
			price, err1 := strconv.ParseFloat(lvl.Price, 64)
			qty, err2 := strconv.ParseFloat(lvl.Quantity, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			book.Asks = append(book.Asks, models.QuoteLevel{Price: price, Quantity: qty})
			book.TotalAskQty += qty
		}
		r.channels.SendBook(r.ctx, book)
	}
}

func (r *Reader) wsErrHandler(symbol string) futures.ErrHandler {
	return func(err error) {
		r.log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("websocket error")
	}
}

// pollOpenInterest refreshes the OI cache for one symbol over REST. The
// shared limiter keeps the aggregate request rate under the venue cap no
// matter how many symbols are configured.
func (r *Reader) pollOpenInterest(symbol string) {
	defer r.wg.Done()
	log := r.log.WithFields(logger.Fields{"symbol": symbol, "worker": "oi_poller"})

	interval := r.cfg.OIPollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.limiter.Wait(r.ctx); err != nil {
				return
			}
			res, err := r.client.NewGetOpenInterestService().Symbol(symbol).Do(r.ctx)
			if err != nil {
				log.WithError(err).Warn("open interest fetch failed")
				continue
			}
			oi, err := strconv.ParseFloat(res.OpenInterest, 64)
			if err != nil {
				log.WithError(err).Warn("open interest parse failed")
				continue
			}
			r.quoteMu.Lock()
			r.oi[symbol] = int64(oi)
			r.quoteMu.Unlock()
		}
	}
}
