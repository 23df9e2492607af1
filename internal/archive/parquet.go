package archive

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "optionflow/config"
	"optionflow/internal/channel"
	"optionflow/logger"
	"optionflow/models"
)

// candleParquetRecord is the flattened archive row. Nullable analytics
// fields use OPTIONAL parquet columns so a null survives the round trip.
type candleParquetRecord struct {
	InstrumentKey string  `parquet:"name=instrument_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp     int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Open          float64 `parquet:"name=open, type=DOUBLE"`
	High          float64 `parquet:"name=high, type=DOUBLE"`
	Low           float64 `parquet:"name=low, type=DOUBLE"`
	Close         float64 `parquet:"name=close, type=DOUBLE"`
	Volume        float64 `parquet:"name=volume, type=DOUBLE"`
	VWAP          float64 `parquet:"name=vwap, type=DOUBLE"`
	TradeCount    int64   `parquet:"name=trade_count, type=INT64"`

	OI       *int64 `parquet:"name=oi, type=INT64, repetitiontype=OPTIONAL"`
	OIChange *int64 `parquet:"name=oi_change, type=INT64, repetitiontype=OPTIONAL"`

	Delta        *float64 `parquet:"name=delta, type=DOUBLE, repetitiontype=OPTIONAL"`
	Gamma        *float64 `parquet:"name=gamma, type=DOUBLE, repetitiontype=OPTIONAL"`
	Theta        *float64 `parquet:"name=theta, type=DOUBLE, repetitiontype=OPTIONAL"`
	Vega         *float64 `parquet:"name=vega, type=DOUBLE, repetitiontype=OPTIONAL"`
	IV           *float64 `parquet:"name=iv, type=DOUBLE, repetitiontype=OPTIONAL"`
	IVChange     *float64 `parquet:"name=iv_change, type=DOUBLE, repetitiontype=OPTIONAL"`
	IVPercentile *float64 `parquet:"name=iv_percentile, type=DOUBLE, repetitiontype=OPTIONAL"`

	WhaleVol             float64  `parquet:"name=whale_vol, type=DOUBLE"`
	WhaleSide            *string  `parquet:"name=whale_side, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	AbsorptionStrength   float64  `parquet:"name=absorption_strength, type=DOUBLE"`
	DistributionStrength float64  `parquet:"name=distribution_strength, type=DOUBLE"`
	WhaleImpactScore     *float64 `parquet:"name=whale_impact_score, type=DOUBLE, repetitiontype=OPTIONAL"`

	SellerPanicScore   *float64 `parquet:"name=seller_panic_score, type=DOUBLE, repetitiontype=OPTIONAL"`
	ProfitBookingScore *float64 `parquet:"name=profit_booking_score, type=DOUBLE, repetitiontype=OPTIONAL"`
	SellerExhaustion   *float64 `parquet:"name=seller_exhaustion, type=DOUBLE, repetitiontype=OPTIONAL"`

	OIVelocity     *float64 `parquet:"name=oi_velocity, type=DOUBLE, repetitiontype=OPTIONAL"`
	PriceChangePct *float64 `parquet:"name=price_change_pct, type=DOUBLE, repetitiontype=OPTIONAL"`
	OIPriceCorr    *float64 `parquet:"name=oi_price_corr, type=DOUBLE, repetitiontype=OPTIONAL"`
	PositionType   *string  `parquet:"name=position_type, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`

	WallPrice *float64 `parquet:"name=wall_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	WallQty   *float64 `parquet:"name=wall_qty, type=DOUBLE, repetitiontype=OPTIONAL"`
	WallSide  *string  `parquet:"name=wall_side, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`

	PCR            *float64 `parquet:"name=pcr, type=DOUBLE, repetitiontype=OPTIONAL"`
	MSV            *float64 `parquet:"name=msv, type=DOUBLE, repetitiontype=OPTIONAL"`
	ImbalanceRatio *float64 `parquet:"name=imbalance_ratio, type=DOUBLE, repetitiontype=OPTIONAL"`
	IntrinsicValue *float64 `parquet:"name=intrinsic_value, type=DOUBLE, repetitiontype=OPTIONAL"`
	ExtrinsicValue *float64 `parquet:"name=extrinsic_value, type=DOUBLE, repetitiontype=OPTIONAL"`
	Sentiment      *string  `parquet:"name=sentiment, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`

	MomentumScore *float64 `parquet:"name=momentum_score, type=DOUBLE, repetitiontype=OPTIONAL"`
	BreakoutProb  *float64 `parquet:"name=breakout_prob, type=DOUBLE, repetitiontype=OPTIONAL"`
	Partial       bool     `parquet:"name=partial, type=BOOLEAN"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// Archiver copies finalized candles to S3 as date-partitioned Parquet files.
// It is a secondary sink: the database row is the durable copy and a failed
// upload only loses the archive of that batch.
type Archiver struct {
	cfg      appconfig.ArchiveConfig
	channels *channel.Channels
	s3Client *s3.Client
	log      *logger.Entry

	mu     sync.Mutex
	buffer map[string][]models.CandleRecord

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewArchiver(ctx context.Context, cfg appconfig.ArchiveConfig, channels *channel.Channels) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("archive disabled")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Archiver{
		cfg:      cfg,
		channels: channels,
		s3Client: s3.NewFromConfig(awsCfg),
		log:      logger.GetLogger().WithComponent("archiver"),
		buffer:   make(map[string][]models.CandleRecord),
	}, nil
}

func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(1)
	go a.ingest()
	a.wg.Add(1)
	go a.flushLoop()

	a.log.WithFields(logger.Fields{
		"bucket":         a.cfg.Bucket,
		"flush_interval": a.cfg.FlushInterval,
	}).Info("candle archiver started")
	return nil
}

func (a *Archiver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
	a.flushBuffers()
	a.log.Info("candle archiver stopped")
}

func (a *Archiver) ingest() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case rec, ok := <-a.channels.Archive:
			if !ok {
				return
			}
			a.mu.Lock()
			a.buffer[rec.InstrumentKey] = append(a.buffer[rec.InstrumentKey], rec)
			a.mu.Unlock()
		}
	}
}

func (a *Archiver) flushLoop() {
	defer a.wg.Done()
	interval := a.cfg.FlushInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.flushBuffers()
		}
	}
}

func (a *Archiver) flushBuffers() {
	a.mu.Lock()
	buffers := a.buffer
	a.buffer = make(map[string][]models.CandleRecord)
	a.mu.Unlock()

	for key, recs := range buffers {
		if len(recs) == 0 {
			continue
		}
		a.uploadBatch(key, recs)
	}
}

func (a *Archiver) uploadBatch(instrumentKey string, recs []models.CandleRecord) {
	entryLog := a.log.WithFields(logger.Fields{
		"instrument":   instrumentKey,
		"record_count": len(recs),
	})

	data, err := a.createParquet(recs)
	if err != nil {
		entryLog.WithError(err).Error("failed to encode candle parquet")
		return
	}

	key := a.objectKey(instrumentKey, recs[len(recs)-1].Timestamp)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		entryLog.WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to upload candle parquet")
		return
	}

	entryLog.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	}).Info("candle batch archived")
}

func (a *Archiver) createParquet(recs []models.CandleRecord) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(candleParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range recs {
		if err := pw.Write(toParquet(&recs[i])); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}

func (a *Archiver) objectKey(instrumentKey string, ts time.Time) string {
	filename := fmt.Sprintf("%s_candles.parquet",
		time.Now().UTC().Format("20060102150405")+"_"+uuid.NewString())
	key := filepath.Join(
		a.cfg.Prefix,
		fmt.Sprintf("instrument=%s", sanitize(instrumentKey)),
		fmt.Sprintf("date=%s", ts.UTC().Format("2006-01-02")),
		filename,
	)
	return filepath.ToSlash(key)
}

func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}

func toParquet(r *models.CandleRecord) candleParquetRecord {
	return candleParquetRecord{
		InstrumentKey: r.InstrumentKey,
		Timestamp:     r.Timestamp.UnixMilli(),
		Open:          r.Open,
		High:          r.High,
		Low:           r.Low,
		Close:         r.Close,
		Volume:        r.Volume,
		VWAP:          r.VWAP,
		TradeCount:    r.TradeCount,

		OI:       r.OI,
		OIChange: r.OIChange,

		Delta:        r.Delta,
		Gamma:        r.Gamma,
		Theta:        r.Theta,
		Vega:         r.Vega,
		IV:           r.IV,
		IVChange:     r.IVChange,
		IVPercentile: r.IVPercentile,

		WhaleVol:             r.WhaleVol,
		WhaleSide:            whaleSideStr(r.WhaleSide),
		AbsorptionStrength:   r.AbsorptionStrength,
		DistributionStrength: r.DistributionStrength,
		WhaleImpactScore:     r.WhaleImpactScore,

		SellerPanicScore:   r.SellerPanicScore,
		ProfitBookingScore: r.ProfitBookingScore,
		SellerExhaustion:   r.SellerExhaustion,

		OIVelocity:     r.OIVelocity,
		PriceChangePct: r.PriceChangePct,
		OIPriceCorr:    r.OIPriceCorr,
		PositionType:   positionTypeStr(r.PositionType),

		WallPrice: r.WallPrice,
		WallQty:   r.WallQty,
		WallSide:  bookSideStr(r.WallSide),

		PCR:            r.PCR,
		MSV:            r.MSV,
		ImbalanceRatio: r.ImbalanceRatio,
		IntrinsicValue: r.IntrinsicValue,
		ExtrinsicValue: r.ExtrinsicValue,
		Sentiment:      sentimentStr(r.Sentiment),

		MomentumScore: r.MomentumScore,
		BreakoutProb:  r.BreakoutProb,
		Partial:       r.Partial,
	}
}

func whaleSideStr(s *models.WhaleSide) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func positionTypeStr(p *models.PositionType) *string {
	if p == nil {
		return nil
	}
	v := string(*p)
	return &v
}

func bookSideStr(b *models.BookSide) *string {
	if b == nil {
		return nil
	}
	v := string(*b)
	return &v
}

func sentimentStr(s *models.Sentiment) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
