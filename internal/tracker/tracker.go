// Package tracker wires the snapshot fetcher, the depth stream and the book
// updater for one symbol.
package tracker

import (
	"context"
	"fmt"
	"sync"

	"depthwatch/internal/metrics"
	"depthwatch/internal/orderbook"
	"depthwatch/logger"
	"depthwatch/models"
	"depthwatch/processor"
	"depthwatch/reader/binance"
)

// SnapshotSource returns the initial levels of a book.
type SnapshotSource interface {
	Fetch(ctx context.Context, symbol string) models.DepthSnapshot
}

// StreamSource opens a depth stream that writes to out.
type StreamSource interface {
	Subscribe(ctx context.Context, symbol string, out chan<- models.DepthUpdate) *binance.Subscription
}

// Tracker keeps one book current: it seeds it from a snapshot and only then
// subscribes to the stream, so the stream always overwrites the snapshot.
type Tracker struct {
	book     *orderbook.Book
	snapshot SnapshotSource
	stream   StreamSource
	updates  chan models.DepthUpdate
	updater  *processor.Updater
	wg       sync.WaitGroup
	mu       sync.Mutex
	sub      *binance.Subscription
	log      *logger.Log
}

func New(symbol string, snapshot SnapshotSource, stream StreamSource, buffer int) *Tracker {
	if buffer < 0 {
		buffer = 0
	}
	book := orderbook.New(symbol)
	updates := make(chan models.DepthUpdate, buffer)
	return &Tracker{
		book:     book,
		snapshot: snapshot,
		stream:   stream,
		updates:  updates,
		updater:  processor.NewUpdater(book, updates),
		log:      logger.GetLogger(),
	}
}

func (t *Tracker) Book() *orderbook.Book {
	return t.book
}

// Subscription is nil until Start has subscribed.
func (t *Tracker) Subscription() *binance.Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sub
}

// Start seeds the book, starts the updater and opens the stream. A failed
// snapshot leaves the book empty and the stream is opened anyway.
func (t *Tracker) Start(ctx context.Context) error {
	symbol := t.book.Symbol()
	log := t.log.WithComponent("tracker").WithFields(logger.Fields{"symbol": symbol})

	snap := t.snapshot.Fetch(ctx, symbol)
	t.book.Replace(snap.Bids, snap.Asks)
	if snap.IsEmpty() {
		log.Warn("book seeded without levels")
	} else {
		log.WithFields(logger.Fields{
			"bids":           len(snap.Bids),
			"asks":           len(snap.Asks),
			"last_update_id": snap.LastUpdateID,
		}).Info("book seeded from snapshot")
	}

	if err := t.updater.Start(ctx); err != nil {
		return fmt.Errorf("start updater: %w", err)
	}

	sub := t.stream.Subscribe(ctx, symbol, t.updates)
	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()

	t.wg.Add(1)
	go t.watch(ctx, sub)
	return nil
}

// watch closes the update channel once the stream ends and marks the book
// stale when that happened before shutdown.
func (t *Tracker) watch(ctx context.Context, sub *binance.Subscription) {
	defer t.wg.Done()

	<-sub.Done()
	close(t.updates)
	<-t.updater.Done()

	if ctx.Err() != nil {
		return
	}

	reason := "stream closed"
	if err := sub.Err(); err != nil {
		reason = err.Error()
	}
	t.book.MarkStale(reason)
	metrics.SetStale(t.book.Symbol(), true)

	t.log.WithComponent("tracker").WithFields(logger.Fields{
		"symbol":        t.book.Symbol(),
		"connection_id": sub.ID,
		"reason":        reason,
		"applied":       t.updater.Applied(),
	}).Warn("book no longer receives updates")
}

// Wait blocks until the stream and the updater have both finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
	t.updater.Stop()
}
