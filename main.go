package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appconfig "optionflow/config"
	"optionflow/internal/archive"
	"optionflow/internal/channel"
	"optionflow/internal/engine"
	"optionflow/internal/storage"
	"optionflow/logger"
	"optionflow/reader/binance"
	"optionflow/reader/feedws"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	instrumentsPath := flag.String("instruments", "config/instruments.yml", "Path to instrument universe file")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	universe, err := appconfig.LoadInstruments(*instrumentsPath)
	if err != nil {
		log.WithError(err).Error("Failed to load instrument universe")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Optionflow.Name,
		"version":     cfg.Optionflow.Version,
		"instruments": len(universe.Instruments),
	}).Info("starting optionflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.DashboardName != "" {
		region := cfg.Archive.Region
		if region == "" {
			region = "us-east-1"
		}
		logger.InitCloudWatch(region, "OptionFlow", cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(
		cfg.Channels.TickBuffer,
		cfg.Channels.ChainBuffer,
		cfg.Channels.CandleBuffer,
		cfg.Channels.SignalBuffer,
		cfg.Channels.LateBuffer,
	)
	go channels.StartMetricsReporting(ctx)
	go consumeLate(ctx, channels, log)

	var writer *storage.Writer
	if cfg.Storage.Postgres.Enabled {
		pool, err := storage.Connect(ctx, cfg.Storage.Postgres)
		if err != nil {
			log.WithError(err).Error("failed to connect to postgres")
			os.Exit(1)
		}
		defer pool.Close()

		writer, err = storage.NewWriter(cfg.Storage.Postgres, cfg.Storage.Spill, pool, channels)
		if err != nil {
			log.WithError(err).Error("failed to create storage writer")
			os.Exit(1)
		}
		if err := writer.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start storage writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("postgres disabled; candles will not be persisted")
	}

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.NewArchiver(ctx, cfg.Archive, channels)
		if err != nil {
			log.WithError(err).Error("failed to create archiver")
			os.Exit(1)
		}
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archiver")
			os.Exit(1)
		}
	}

	var store engine.CandleStore
	if writer != nil {
		store = writer
	}
	eng := engine.NewEngine(cfg, universe, channels, store)
	if err := eng.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start engine")
		os.Exit(1)
	}

	var binanceReader *binance.Reader
	if cfg.Reader.Binance.Enabled {
		binanceReader = binance.NewReader(cfg.Reader.Binance, channels)
		if err := binanceReader.Start(ctx); err != nil {
			log.WithError(err).Warn("binance reader failed to start")
		}
	}

	var feedReader *feedws.Reader
	if cfg.Reader.FeedWS.Enabled {
		feedReader = feedws.NewReader(cfg.Reader.FeedWS, channels)
		if err := feedReader.Start(ctx); err != nil {
			log.WithError(err).Warn("feed reader failed to start")
		}
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	// Readers stop first so no new data enters, then the engine drains its
	// open windows into the pipeline, then the sinks flush.
	if binanceReader != nil {
		binanceReader.Stop()
	}
	if feedReader != nil {
		feedReader.Stop()
	}

	eng.Stop()

	if writer != nil {
		writer.Stop()
	}
	if archiver != nil {
		archiver.Stop()
	}

	cancel()
	log.Info("optionflow shutdown complete")
}

// consumeLate drains the late-data side channel. Late ticks are counted and
// logged for audit, never folded into a closed candle.
func consumeLate(ctx context.Context, channels *channel.Channels, log *logger.Log) {
	entry := log.WithComponent("late_sink")
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-channels.Late:
			entry.WithFields(logger.Fields{
				"instrument": tick.InstrumentKey,
				"tick_time":  tick.Timestamp,
			}).Debug("late tick discarded")
		}
	}
}
