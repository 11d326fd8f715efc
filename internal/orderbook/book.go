// Package orderbook holds the per-symbol book state shared between the
// stream updater and the reporter.
package orderbook

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"depthwatch/models"
)

// Book is the current bid/ask view of one symbol. Every method takes the
// same lock so readers never see one side from a previous update.
type Book struct {
	symbol string

	mu             sync.Mutex
	bids           []models.PriceLevel
	asks           []models.PriceLevel
	previousVolume decimal.Decimal
	lastUpdate     time.Time
	updates        int64
	stale          bool
	staleReason    string
}

// Stats is a read-only view of a book. Taking it never changes the volume
// baseline.
type Stats struct {
	Symbol      string    `json:"symbol"`
	Bids        int       `json:"bids"`
	Asks        int       `json:"asks"`
	LastUpdate  time.Time `json:"last_update"`
	Updates     int64     `json:"updates"`
	Stale       bool      `json:"stale"`
	StaleReason string    `json:"stale_reason,omitempty"`
}

func New(symbol string) *Book {
	return &Book{
		symbol:         symbol,
		bids:           []models.PriceLevel{},
		asks:           []models.PriceLevel{},
		previousVolume: decimal.Zero,
	}
}

func (b *Book) Symbol() string {
	return b.symbol
}

// Replace swaps both sides of the book in one step. The slices are copied
// so callers may reuse them.
func (b *Book) Replace(bids, asks []models.PriceLevel) {
	nb := copyLevels(bids)
	na := copyLevels(asks)

	b.mu.Lock()
	b.bids = nb
	b.asks = na
	b.lastUpdate = time.Now()
	b.updates++
	b.mu.Unlock()
}

// ComputeVolumeChange returns the notional volume of the current levels
// minus the value returned as current by the previous call, then stores the
// current value as the new baseline.
func (b *Book) ComputeVolumeChange() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volumeChangeLocked()
}

// Observation is one consistent read of a book: the levels, the volume
// change computed on them and the stats at that moment.
type Observation struct {
	Bids         []models.PriceLevel
	Asks         []models.PriceLevel
	VolumeChange decimal.Decimal
	Stats        Stats
}

// Observe returns copies of both sides together with the volume change
// computed on exactly those levels. It moves the baseline like
// ComputeVolumeChange.
func (b *Book) Observe() Observation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Observation{
		Bids:         copyLevels(b.bids),
		Asks:         copyLevels(b.asks),
		VolumeChange: b.volumeChangeLocked(),
		Stats:        b.statsLocked(),
	}
}

func (b *Book) volumeChangeLocked() decimal.Decimal {
	current := notional(b.bids).Add(notional(b.asks))
	delta := current.Sub(b.previousVolume)
	b.previousVolume = current
	return delta
}

// NotionalVolume is the sum of price*quantity over both sides.
func (b *Book) NotionalVolume() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return notional(b.bids).Add(notional(b.asks))
}

// Levels returns copies of the bid and ask lists in stored order.
func (b *Book) Levels() (bids, asks []models.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyLevels(b.bids), copyLevels(b.asks)
}

// MarkStale flags the book as no longer receiving updates.
func (b *Book) MarkStale(reason string) {
	b.mu.Lock()
	b.stale = true
	b.staleReason = reason
	b.mu.Unlock()
}

func (b *Book) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

func (b *Book) statsLocked() Stats {
	return Stats{
		Symbol:      b.symbol,
		Bids:        len(b.bids),
		Asks:        len(b.asks),
		LastUpdate:  b.lastUpdate,
		Updates:     b.updates,
		Stale:       b.stale,
		StaleReason: b.staleReason,
	}
}

func notional(levels []models.PriceLevel) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range levels {
		sum = sum.Add(decimal.NewFromFloat(l.Price).Mul(decimal.NewFromFloat(l.Quantity)))
	}
	return sum
}

func copyLevels(levels []models.PriceLevel) []models.PriceLevel {
	out := make([]models.PriceLevel, len(levels))
	copy(out, levels)
	return out
}
