package channel

import (
	"context"
	"sync"
	"time"

	"optionflow/logger"
	"optionflow/models"
)

// ChannelStats counts sends and drops per stream.
type ChannelStats struct {
	TicksSent      int64
	TicksDropped   int64
	ChainsSent     int64
	ChainsDropped  int64
	BooksSent      int64
	BooksDropped   int64
	CandlesSent    int64
	CandlesDropped int64
	SignalsSent    int64
	SignalsDropped int64
	LateSent       int64
	LateDropped    int64
}

// Channels wires the pipeline: feed readers push ticks and chain snapshots
// in, the engine pushes finalized candles and signals out, and rejected late
// ticks land on their own side channel.
type Channels struct {
	Ticks   chan models.TickEvent
	Chains  chan models.ChainSnapshot
	Books   chan models.BookSnapshot
	Candles chan models.CandleRecord
	Archive chan models.CandleRecord
	Signals chan models.SignalRecord
	Late    chan models.TickEvent

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

// NewChannels builds all pipeline channels with the configured buffers.
func NewChannels(tickBuffer, chainBuffer, candleBuffer, signalBuffer, lateBuffer int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Ticks:   make(chan models.TickEvent, tickBuffer),
		Chains:  make(chan models.ChainSnapshot, chainBuffer),
		Books:   make(chan models.BookSnapshot, tickBuffer),
		Candles: make(chan models.CandleRecord, candleBuffer),
		Archive: make(chan models.CandleRecord, candleBuffer),
		Signals: make(chan models.SignalRecord, signalBuffer),
		Late:    make(chan models.TickEvent, lateBuffer),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"tick_buffer":   tickBuffer,
		"chain_buffer":  chainBuffer,
		"candle_buffer": candleBuffer,
		"signal_buffer": signalBuffer,
		"late_buffer":   lateBuffer,
	}).Info("pipeline channels initialized")

	return c
}

// Close closes all channels. Call only after producers have stopped.
func (c *Channels) Close() {
	close(c.Ticks)
	close(c.Chains)
	close(c.Books)
	close(c.Candles)
	close(c.Archive)
	close(c.Signals)
	close(c.Late)
	c.log.WithComponent("channels").Info("pipeline channels closed")
}

// SendTick enqueues a tick without blocking; full buffers drop and count.
func (c *Channels) SendTick(ctx context.Context, tick models.TickEvent) bool {
	select {
	case c.Ticks <- tick:
		c.bump(func(s *ChannelStats) { s.TicksSent++ })
		logger.IncrementTickIngested()
		return true
	case <-ctx.Done():
		return false
	default:
		c.bump(func(s *ChannelStats) { s.TicksDropped++ })
		return false
	}
}

// SendChain enqueues an options-chain snapshot without blocking.
func (c *Channels) SendChain(ctx context.Context, chain models.ChainSnapshot) bool {
	select {
	case c.Chains <- chain:
		c.bump(func(s *ChannelStats) { s.ChainsSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.bump(func(s *ChannelStats) { s.ChainsDropped++ })
		return false
	}
}

// SendBook enqueues a depth snapshot without blocking. Depth is advisory
// input for wall detection, so a drop under load is acceptable.
func (c *Channels) SendBook(ctx context.Context, book models.BookSnapshot) bool {
	select {
	case c.Books <- book:
		c.bump(func(s *ChannelStats) { s.BooksSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.bump(func(s *ChannelStats) { s.BooksDropped++ })
		return false
	}
}

// SendCandle hands a finalized record to the persistence consumer. Blocks
// until delivered or the context is cancelled: finalized rows must not be
// dropped here, backpressure belongs to the writer's spill path.
func (c *Channels) SendCandle(ctx context.Context, rec models.CandleRecord) bool {
	select {
	case c.Candles <- rec:
		c.bump(func(s *ChannelStats) { s.CandlesSent++ })
		logger.IncrementCandleFinalized()
		// Archival is best effort; the durable copy is the database row.
		select {
		case c.Archive <- rec:
		default:
		}
		return true
	case <-ctx.Done():
		c.bump(func(s *ChannelStats) { s.CandlesDropped++ })
		return false
	}
}

// SendSignal hands an emitted signal to the signal consumer.
func (c *Channels) SendSignal(ctx context.Context, sig models.SignalRecord) bool {
	select {
	case c.Signals <- sig:
		c.bump(func(s *ChannelStats) { s.SignalsSent++ })
		logger.IncrementSignalEmitted()
		return true
	case <-ctx.Done():
		c.bump(func(s *ChannelStats) { s.SignalsDropped++ })
		return false
	}
}

// SendLate routes a rejected tick to the late-data side channel.
func (c *Channels) SendLate(ctx context.Context, tick models.TickEvent) bool {
	select {
	case c.Late <- tick:
		c.bump(func(s *ChannelStats) { s.LateSent++ })
		logger.IncrementLateTick()
		return true
	case <-ctx.Done():
		return false
	default:
		c.bump(func(s *ChannelStats) { s.LateDropped++ })
		return false
	}
}

func (c *Channels) bump(f func(*ChannelStats)) {
	c.statsMutex.Lock()
	f(&c.stats)
	c.statsMutex.Unlock()
}

// Stats returns a copy of the current counters.
func (c *Channels) Stats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting periodically logs channel depth and counters.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.Stats()
			c.log.WithComponent("channels").WithFields(logger.Fields{
				"ticks_sent":     stats.TicksSent,
				"ticks_dropped":  stats.TicksDropped,
				"chains_sent":    stats.ChainsSent,
				"books_sent":     stats.BooksSent,
				"candles_sent":   stats.CandlesSent,
				"signals_sent":   stats.SignalsSent,
				"late_sent":      stats.LateSent,
				"tick_backlog":   len(c.Ticks),
				"candle_backlog": len(c.Candles),
				"signal_backlog": len(c.Signals),
			}).Info("channel metrics")
		}
	}
}
