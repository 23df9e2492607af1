package feedws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "optionflow/config"
	"optionflow/internal/channel"
	"optionflow/logger"
	"optionflow/models"
)

// Reader consumes a JSON market-data feed over a websocket. It is the
// venue-neutral adapter: any upstream that speaks the envelope below can
// drive the pipeline, which is how option chains and their Greeks arrive.
type Reader struct {
	cfg      appconfig.FeedWSConfig
	channels *channel.Channels
	log      *logger.Entry

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// envelope wraps every feed message with a type discriminator.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	msgTick  = "tick"
	msgChain = "chain"
	msgBook  = "book"
)

func NewReader(cfg appconfig.FeedWSConfig, channels *channel.Channels) *Reader {
	return &Reader{
		cfg:      cfg,
		channels: channels,
		log:      logger.GetLogger().WithComponent("feedws_reader"),
	}
}

func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("feed reader already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	if !r.cfg.Enabled {
		return fmt.Errorf("feed reader is disabled")
	}
	if r.cfg.URL == "" {
		return fmt.Errorf("feed url not configured")
	}

	r.wg.Add(1)
	go r.connectLoop()

	r.log.WithFields(logger.Fields{"url": r.cfg.URL}).Info("feed reader started")
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
	r.log.Info("feed reader stopped")
}

// connectLoop dials the feed and reads until failure, backing off between
// attempts up to the configured ceiling.
func (r *Reader) connectLoop() {
	defer r.wg.Done()

	delay := r.cfg.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := r.cfg.MaxReconnect
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}
	backoff := delay

	for {
		if r.ctx.Err() != nil {
			return
		}

		if err := r.readSession(); err != nil {
			r.log.WithError(err).WithFields(logger.Fields{"backoff": backoff}).Warn("feed session ended, reconnecting")
		}

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxDelay {
			backoff = maxDelay
		}
	}
}

func (r *Reader) readSession() error {
	dialCtx, cancel := context.WithTimeout(r.ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, r.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	r.log.Info("feed connected")

	// Close the socket on shutdown so the blocked ReadMessage returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	pingInterval := r.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	go r.pingLoop(conn, done, pingInterval)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read feed: %w", err)
		}
		r.dispatch(data)
	}
}

func (r *Reader) pingLoop(conn *websocket.Conn, done chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (r *Reader) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.log.WithError(err).Warn("malformed feed message")
		return
	}

	switch env.Type {
	case msgTick:
		var tick models.TickEvent
		if err := json.Unmarshal(env.Payload, &tick); err != nil {
			r.log.WithError(err).Warn("malformed tick payload")
			return
		}
		if tick.InstrumentKey == "" || tick.Timestamp.IsZero() {
			return
		}
		r.channels.SendTick(r.ctx, tick)
	case msgChain:
		var chain models.ChainSnapshot
		if err := json.Unmarshal(env.Payload, &chain); err != nil {
			r.log.WithError(err).Warn("malformed chain payload")
			return
		}
		if chain.InstrumentKey == "" {
			return
		}
		if chain.Timestamp.IsZero() {
			chain.Timestamp = time.Now().UTC()
		}
		r.channels.SendChain(r.ctx, chain)
	case msgBook:
		var book models.BookSnapshot
		if err := json.Unmarshal(env.Payload, &book); err != nil {
			r.log.WithError(err).Warn("malformed book payload")
			return
		}
		if book.InstrumentKey == "" {
			return
		}
		r.channels.SendBook(r.ctx, book)
	default:
		r.log.WithFields(logger.Fields{"type": env.Type}).Debug("unknown feed message type")
	}
}
