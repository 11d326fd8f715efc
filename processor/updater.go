package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"depthwatch/internal/metrics"
	"depthwatch/internal/orderbook"
	"depthwatch/logger"
	"depthwatch/models"
)

// Updater is the only writer of a book once it has been seeded. It drains
// the update channel and replaces the book levels with each update.
type Updater struct {
	book    *orderbook.Book
	updates <-chan models.DepthUpdate
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	done    chan struct{}
	log     *logger.Log

	applied      atomic.Int64
	lastUpdateID atomic.Int64
}

func NewUpdater(book *orderbook.Book, updates <-chan models.DepthUpdate) *Updater {
	return &Updater{
		book:    book,
		updates: updates,
		wg:      &sync.WaitGroup{},
		done:    make(chan struct{}),
		log:     logger.GetLogger(),
	}
}

// Start launches the worker. It stops when ctx is cancelled or the update
// channel is closed, after applying whatever was buffered.
func (u *Updater) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return fmt.Errorf("updater for %s already running", u.book.Symbol())
	}
	u.running = true
	u.ctx = ctx
	u.mu.Unlock()

	u.wg.Add(1)
	go u.worker()
	return nil
}

// Stop waits for the worker to exit. The caller must cancel the context or
// close the update channel first.
func (u *Updater) Stop() {
	u.mu.Lock()
	u.running = false
	u.mu.Unlock()

	u.wg.Wait()
}

// Done is closed when the worker has exited.
func (u *Updater) Done() <-chan struct{} {
	return u.done
}

// Applied is the number of updates written to the book.
func (u *Updater) Applied() int64 {
	return u.applied.Load()
}

// LastUpdateID is the final update id of the last applied update.
func (u *Updater) LastUpdateID() int64 {
	return u.lastUpdateID.Load()
}

func (u *Updater) worker() {
	defer u.wg.Done()
	defer close(u.done)

	log := u.log.WithComponent("book_updater").WithFields(logger.Fields{
		"symbol": u.book.Symbol(),
	})
	log.Debug("updater started")

	for {
		select {
		case <-u.ctx.Done():
			log.WithFields(logger.Fields{"applied": u.Applied()}).Info("updater stopped due to context cancellation")
			return
		case update, ok := <-u.updates:
			if !ok {
				log.WithFields(logger.Fields{"applied": u.Applied()}).Info("update channel closed, updater stopping")
				return
			}
			u.apply(log, update)
		}
	}
}

// UpdateChannelName is the channel name under which applied updates appear
// in the runtime report. Sizes are counted in levels.
const UpdateChannelName = "depth_updates"

func (u *Updater) apply(log *logger.Entry, update models.DepthUpdate) {
	start := time.Now()
	u.book.Replace(update.Bids, update.Asks)

	u.applied.Add(1)
	u.lastUpdateID.Store(update.FinalUpdateID)
	metrics.IncrementBookUpdate(u.book.Symbol())
	logger.RecordChannelMessage(UpdateChannelName, len(update.Bids)+len(update.Asks))

	fields := logger.Fields{
		"symbol":          u.book.Symbol(),
		"final_update_id": update.FinalUpdateID,
		"bids":            len(update.Bids),
		"asks":            len(update.Asks),
	}
	if !update.ReceivedAt.IsZero() {
		fields["latency_ms"] = float64(start.Sub(update.ReceivedAt).Microseconds()) / 1e3
	}
	logger.LogPerformanceEntry(log, "book_updater", "replace_levels", time.Since(start), fields)
}
