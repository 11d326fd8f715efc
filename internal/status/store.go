package status

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"

	"depthwatch/internal/metrics"
	"depthwatch/internal/orderbook"
	"depthwatch/internal/report"
)

// VolumePoint is one reported volume change.
type VolumePoint struct {
	Time         time.Time `json:"time"`
	VolumeChange string    `json:"volume_change"`
	Bids         int       `json:"bids"`
	Asks         int       `json:"asks"`
}

// BookStatus is the read-only view served for one symbol.
type BookStatus struct {
	orderbook.Stats
	History []VolumePoint `json:"history"`
}

// bookStore keeps the last limit volume changes of every book. It is fed by
// the reporter and never computes a volume change itself.
type bookStore struct {
	mu      sync.RWMutex
	books   []*orderbook.Book
	history map[string]*deque.Deque[VolumePoint]
	limit   int
}

func newBookStore(books []*orderbook.Book, limit int) *bookStore {
	if limit <= 0 {
		limit = 60
	}
	s := &bookStore{
		books:   books,
		history: make(map[string]*deque.Deque[VolumePoint], len(books)),
		limit:   limit,
	}
	for _, b := range books {
		s.history[b.Symbol()] = &deque.Deque[VolumePoint]{}
	}
	return s
}

func (s *bookStore) ObserveVolume(sample report.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.history[sample.Symbol]
	if !ok {
		q = &deque.Deque[VolumePoint]{}
		s.history[sample.Symbol] = q
	}
	q.PushBack(VolumePoint{
		Time:         sample.Time,
		VolumeChange: sample.VolumeChange.String(),
		Bids:         len(sample.Bids),
		Asks:         len(sample.Asks),
	})
	for q.Len() > s.limit {
		q.PopFront()
	}
}

func (s *bookStore) status(book *orderbook.Book) BookStatus {
	st := BookStatus{Stats: book.Stats(), History: []VolumePoint{}}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if q, ok := s.history[book.Symbol()]; ok {
		st.History = make([]VolumePoint, q.Len())
		for i := 0; i < q.Len(); i++ {
			st.History[i] = q.At(i)
		}
	}
	return st
}

func (s *bookStore) snapshot() []BookStatus {
	out := make([]BookStatus, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, s.status(b))
	}
	return out
}

func (s *bookStore) find(symbol string) (BookStatus, bool) {
	for _, b := range s.books {
		if b.Symbol() == symbol {
			return s.status(b), true
		}
	}
	return BookStatus{}, false
}

// metricStore retains the most recent metric events.
type metricStore struct {
	mu    sync.RWMutex
	items deque.Deque[metrics.Metric]
	limit int
}

func newMetricStore(limit int) *metricStore {
	if limit <= 0 {
		limit = 200
	}
	return &metricStore{limit: limit}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items.PushBack(metric)
	for s.items.Len() > s.limit {
		s.items.PopFront()
	}
}

func (s *metricStore) snapshot() []metrics.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.Metric, s.items.Len())
	for i := range out {
		out[i] = s.items.At(i)
	}
	return out
}

type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// problemStore is a logrus hook that keeps recent warnings and errors.
type problemStore struct {
	mu      sync.RWMutex
	items   deque.Deque[logRecord]
	limit   int
	enabled atomic.Bool
}

func newProblemStore(limit int) *problemStore {
	if limit <= 0 {
		limit = 200
	}
	s := &problemStore{limit: limit}
	s.enabled.Store(true)
	return s
}

func (s *problemStore) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (s *problemStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}
	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}
			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	s.mu.Lock()
	s.items.PushBack(record)
	for s.items.Len() > s.limit {
		s.items.PopFront()
	}
	s.mu.Unlock()
	return nil
}

func (s *problemStore) snapshot() []logRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]logRecord, s.items.Len())
	for i := range out {
		out[i] = s.items.At(i)
	}
	return out
}

func (s *problemStore) close() {
	s.enabled.Store(false)
}
