package binancemetrics

import (
	"net/http"
	"strconv"

	"depthwatch/internal/metrics"
	"depthwatch/logger"
)

var usedWeightHeaders = []struct {
	key    string
	window string
}{
	{"X-MBX-USED-WEIGHT-1M", "1m"},
	{"X-MBX-USED-WEIGHT", "1m"},
	{"X-MBX-USED-WEIGHT-1S", "1s"},
}

// ReportUsedWeight reads the first numeric Binance used-weight header of resp
// and emits it as a gauge. limit, when known, is attached so the log line
// shows the remaining headroom.
func ReportUsedWeight(log *logger.Log, resp *http.Response, component, symbol string, limit int64) (float64, bool) {
	if log == nil || resp == nil || !metrics.UsedWeightEnabled() {
		return 0, false
	}

	for _, h := range usedWeightHeaders {
		value := resp.Header.Get(h.key)
		if value == "" {
			continue
		}

		used, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.WithComponent(component).WithFields(logger.Fields{
				"symbol": symbol,
				"header": h.key,
				"value":  value,
			}).WithError(err).Debug("failed to parse used weight header")
			continue
		}

		fields := logger.Fields{
			"symbol": symbol,
			"window": h.window,
		}
		if limit > 0 {
			fields["limit"] = limit
			fields["remaining"] = float64(limit) - used
		}

		metrics.SetUsedWeight(h.window, used)
		metrics.EmitMetric(log, component, "used_weight", used, "gauge", fields)
		return used, true
	}

	return 0, false
}
