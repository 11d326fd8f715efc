package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"depthwatch/config"
	"depthwatch/internal/metrics"
	"depthwatch/internal/orderbook"
	"depthwatch/internal/report"
	"depthwatch/internal/status"
	"depthwatch/internal/tracker"
	"depthwatch/logger"
	"depthwatch/reader/binance"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (default config/config.yml, optional)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("failed to configure logger")
		os.Exit(1)
	}

	log.WithEnv("APP_ENV", "LOG_LEVEL", "AWS_REGION").WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
		"env":     config.AppEnvironment(),
		"symbols": cfg.Symbols,
	}).Info("starting depthwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	metrics.Init()
	metrics.Configure(cfg.Metrics)
	if err := metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch); err != nil {
		log.WithComponent("main").WithError(err).Warn("CloudWatch metrics disabled")
	}

	fetcher := binance.NewSnapshotFetcher(cfg.Binance)
	subscriber := binance.NewDepthSubscriber(cfg.Binance)

	if cfg.Binance.ExchangeInfo {
		client := binance.NewExchangeClient(cfg.Binance, fetcher.HTTPClient())
		fetcher.SetWeightLimit(binance.CheckSymbols(ctx, client, cfg.Symbols))
	}

	trackers := make([]*tracker.Tracker, 0, len(cfg.Symbols))
	books := make([]*orderbook.Book, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		t := tracker.New(symbol, fetcher, subscriber, cfg.Channels.UpdateBuffer)
		trackers = append(trackers, t)
		books = append(books, t.Book())
	}

	var startWG sync.WaitGroup
	for _, t := range trackers {
		startWG.Add(1)
		go func(t *tracker.Tracker) {
			defer startWG.Done()
			if err := t.Start(ctx); err != nil {
				log.WithComponent("main").WithError(err).Warn("tracker failed to start")
			}
		}(t)
	}
	startWG.Wait()

	var wg sync.WaitGroup

	var observers []report.VolumeObserver
	statusServer := status.NewServer(cfg.Status, cfg.Report.History, books, log)
	if statusServer != nil {
		observers = append(observers, statusServer.Observer())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := statusServer.Run(ctx, cfg.App.Name); err != nil {
				log.WithComponent("main").WithError(err).Error("status server failed")
			}
		}()
	}

	reporter := report.NewReporter(books, report.IntervalScheduler{Interval: cfg.Report.Interval}, observers...)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := reporter.Run(ctx); err != nil {
			log.WithComponent("main").WithError(err).Warn("reporter stopped with error")
		}
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		for _, t := range trackers {
			t.Wait()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("depthwatch stopped")
}
