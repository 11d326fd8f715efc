// Registers:
//
//	#depthwatch_snapshot_success_total
//	#depthwatch_snapshot_errors_total
//	#depthwatch_stream_messages_total
//	#depthwatch_stream_decode_errors_total
//	#depthwatch_book_updates_total
//	#depthwatch_volume_change
//	#depthwatch_book_levels
//	#depthwatch_book_stale
//	#depthwatch_used_weight
//	#go_* and process_* system metrics
//
// on a private registry exposed through Handler.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"depthwatch/config"
)

const namespace = "depthwatch"

var (
	once     sync.Once
	registry *prometheus.Registry

	snapshotSuccess    *prometheus.CounterVec
	snapshotErrors     *prometheus.CounterVec
	streamMessages     *prometheus.CounterVec
	streamDecodeErrors *prometheus.CounterVec
	bookUpdates        *prometheus.CounterVec
	volumeChange       *prometheus.GaugeVec
	bookLevels         *prometheus.GaugeVec
	bookStale          *prometheus.GaugeVec
	usedWeight         *prometheus.GaugeVec

	usedWeightEnabled atomic.Bool
)

func init() {
	usedWeightEnabled.Store(true)
}

// Init builds the collectors once. Calling the Increment/Set helpers before
// Init is a no-op.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		snapshotSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_success_total",
			Help:      "Number of depth snapshots fetched successfully",
		}, []string{"symbol"})
		snapshotErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_errors_total",
			Help:      "Number of failed depth snapshot fetches",
		}, []string{"symbol"})
		streamMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_total",
			Help:      "Number of depth stream messages received",
		}, []string{"symbol"})
		streamDecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_decode_errors_total",
			Help:      "Number of depth stream messages skipped because they could not be decoded",
		}, []string{"symbol"})
		bookUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_updates_total",
			Help:      "Number of level replacements applied to the book",
		}, []string{"symbol"})
		volumeChange = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "volume_change",
			Help:      "Last reported change in notional volume",
		}, []string{"symbol"})
		bookLevels = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_levels",
			Help:      "Number of levels held per side",
		}, []string{"symbol", "side"})
		bookStale = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_stale",
			Help:      "1 when the book no longer receives stream updates",
		}, []string{"symbol"})
		usedWeight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "used_weight",
			Help:      "Binance request weight used in the current window",
		}, []string{"window"})

		registry.MustRegister(
			snapshotSuccess,
			snapshotErrors,
			streamMessages,
			streamDecodeErrors,
			bookUpdates,
			volumeChange,
			bookLevels,
			bookStale,
			usedWeight,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Configure applies the feature toggles of the metrics section.
func Configure(cfg config.MetricsConfig) {
	usedWeightEnabled.Store(cfg.UsedWeight)
}

// UsedWeightEnabled reports whether used-weight headers should be reported.
func UsedWeightEnabled() bool {
	return usedWeightEnabled.Load()
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncrementSuccess increases the snapshot success counter for a given symbol.
func IncrementSuccess(symbol string) {
	if snapshotSuccess != nil {
		snapshotSuccess.WithLabelValues(symbol).Inc()
	}
}

// IncrementError increases the snapshot error counter for a given symbol.
func IncrementError(symbol string) {
	if snapshotErrors != nil {
		snapshotErrors.WithLabelValues(symbol).Inc()
	}
}

func IncrementStreamMessage(symbol string) {
	if streamMessages != nil {
		streamMessages.WithLabelValues(symbol).Inc()
	}
}

func IncrementDecodeError(symbol string) {
	if streamDecodeErrors != nil {
		streamDecodeErrors.WithLabelValues(symbol).Inc()
	}
}

func IncrementBookUpdate(symbol string) {
	if bookUpdates != nil {
		bookUpdates.WithLabelValues(symbol).Inc()
	}
}

func SetVolumeChange(symbol string, value float64) {
	if volumeChange != nil {
		volumeChange.WithLabelValues(symbol).Set(value)
	}
}

func SetBookLevels(symbol string, bids, asks int) {
	if bookLevels != nil {
		bookLevels.WithLabelValues(symbol, "bid").Set(float64(bids))
		bookLevels.WithLabelValues(symbol, "ask").Set(float64(asks))
	}
}

func SetStale(symbol string, stale bool) {
	if bookStale == nil {
		return
	}
	v := 0.0
	if stale {
		v = 1
	}
	bookStale.WithLabelValues(symbol).Set(v)
}

func SetUsedWeight(window string, value float64) {
	if usedWeight != nil {
		usedWeight.WithLabelValues(window).Set(value)
	}
}
