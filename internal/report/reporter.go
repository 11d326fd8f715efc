// Package report periodically logs every tracked book and the change in its
// notional volume.
package report

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"depthwatch/internal/metrics"
	"depthwatch/internal/orderbook"
	"depthwatch/logger"
	"depthwatch/models"
)

const component = "reporter"

// Sample is one report of one book.
type Sample struct {
	Symbol       string
	Time         time.Time
	Bids         []models.PriceLevel
	Asks         []models.PriceLevel
	VolumeChange decimal.Decimal
	Stats        orderbook.Stats
}

// VolumeObserver receives every sample after it has been logged.
type VolumeObserver interface {
	ObserveVolume(sample Sample)
}

// Reporter is the only caller of the volume change computation of the books
// it reports on.
type Reporter struct {
	books     []*orderbook.Book
	scheduler Scheduler
	observers []VolumeObserver
	log       *logger.Log
}

func NewReporter(books []*orderbook.Book, scheduler Scheduler, observers ...VolumeObserver) *Reporter {
	return &Reporter{
		books:     books,
		scheduler: scheduler,
		observers: observers,
		log:       logger.GetLogger(),
	}
}

// Run reports once immediately and then every time the scheduler fires,
// until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	r.log.WithComponent(component).WithFields(logger.Fields{"books": len(r.books)}).Info("reporter started")

	for {
		r.ReportOnce()

		if err := r.scheduler.Wait(ctx); err != nil {
			r.log.WithComponent(component).Info("reporter stopped")
			return nil
		}
	}
}

// ReportOnce reports every book in order.
func (r *Reporter) ReportOnce() {
	for _, book := range r.books {
		r.reportBook(book)
	}
}

func (r *Reporter) reportBook(book *orderbook.Book) {
	now := time.Now()
	obs := book.Observe()
	stats, bids, asks, change := obs.Stats, obs.Bids, obs.Asks, obs.VolumeChange

	log := r.log.WithComponent(component).WithFields(logger.Fields{"symbol": book.Symbol()})

	header := logger.Fields{
		"bids":    len(bids),
		"asks":    len(asks),
		"updates": stats.Updates,
		"stale":   stats.Stale,
	}
	if !stats.LastUpdate.IsZero() {
		header["age_ms"] = now.Sub(stats.LastUpdate).Milliseconds()
	}
	if stats.Stale {
		header["stale_reason"] = stats.StaleReason
		log.WithFields(header).Warn("order book is stale")
	} else {
		log.WithFields(header).Info("order book")
	}

	logLevels(log, "bid", bids)
	logLevels(log, "ask", asks)

	volumeChange, _ := change.Float64()
	log.WithFields(logger.Fields{"volume_change": change.String()}).Info("volume change")

	metrics.SetVolumeChange(book.Symbol(), volumeChange)
	metrics.SetBookLevels(book.Symbol(), len(bids), len(asks))
	metrics.SetStale(book.Symbol(), stats.Stale)
	metrics.EmitMetric(r.log, component, "volume_change", volumeChange, "gauge", logger.Fields{"symbol": book.Symbol()})

	sample := Sample{
		Symbol:       book.Symbol(),
		Time:         now,
		Bids:         bids,
		Asks:         asks,
		VolumeChange: change,
		Stats:        stats,
	}
	for _, o := range r.observers {
		o.ObserveVolume(sample)
	}
}

func logLevels(log *logger.Entry, side string, levels []models.PriceLevel) {
	for i, l := range levels {
		log.WithFields(logger.Fields{
			"side":     side,
			"index":    i,
			"price":    l.Price,
			"quantity": l.Quantity,
		}).Info(side)
	}
}
