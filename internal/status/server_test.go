package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthwatch/config"
	"depthwatch/internal/metrics"
	"depthwatch/internal/orderbook"
	"depthwatch/internal/report"
	"depthwatch/logger"
	"depthwatch/models"
)

func quietLogger() *logger.Log {
	log := logger.Logger()
	log.SetOutput(io.Discard)
	return log
}

func testServer(t *testing.T, books ...*orderbook.Book) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(config.StatusConfig{Enabled: true, Address: ":0"}, 2, books, quietLogger())
	require.NotNil(t, srv)
	t.Cleanup(srv.cleanup)

	router, err := srv.buildRouter("depthwatch")
	require.NoError(t, err)
	hs := httptest.NewServer(router)
	t.Cleanup(hs.Close)
	return srv, hs
}

func getJSON(t *testing.T, url string, into interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	return resp.StatusCode
}

func TestNewServerDisabled(t *testing.T) {
	assert.Nil(t, NewServer(config.StatusConfig{Enabled: false}, 10, nil, quietLogger()))

	var s *Server
	assert.Equal(t, "", s.Address())
	assert.NoError(t, s.Run(context.Background(), "depthwatch"))
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                      "127.0.0.1:2112",
		"  :9090  ":             ":9090",
		"localhost":             "localhost:2112",
		"0.0.0.0:80":            "0.0.0.0:80",
		"[::1]:443":             "[::1]:443",
		"::1":                   "[::1]:2112",
		"*:8080":                ":8080",
		"http://10.0.0.1:8080":  "10.0.0.1:8080",
		"http://status.example": "status.example:2112",
	}
	for input, want := range cases {
		assert.Equal(t, want, normalizeAddress(input), "normalizeAddress(%q)", input)
	}
}

func TestBooksEndpointServesHistory(t *testing.T) {
	book := orderbook.New("BTCUSDT")
	book.Replace([]models.PriceLevel{{Price: 1, Quantity: 1}}, nil)
	srv, hs := testServer(t, book)

	obs := srv.Observer()
	for i := 1; i <= 3; i++ {
		obs.ObserveVolume(report.Sample{
			Symbol:       "BTCUSDT",
			Time:         time.Unix(int64(i), 0),
			Bids:         []models.PriceLevel{{Price: 1, Quantity: 1}},
			VolumeChange: decimal.NewFromInt(int64(i)),
		})
	}

	var body struct {
		Books []BookStatus `json:"books"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, hs.URL+"/books", &body))
	require.Len(t, body.Books, 1)
	got := body.Books[0]
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, 1, got.Bids)
	assert.Equal(t, int64(1), got.Updates)
	require.Len(t, got.History, 2, "history is bounded")
	assert.Equal(t, "2", got.History[0].VolumeChange)
	assert.Equal(t, "3", got.History[1].VolumeChange)

	// Serving the books must not move the volume baseline.
	assert.True(t, book.ComputeVolumeChange().Equal(decimal.NewFromInt(1)))
}

func TestBookBySymbol(t *testing.T) {
	book := orderbook.New("ETHUSDT")
	book.MarkStale("stream closed")
	_, hs := testServer(t, book)

	var st BookStatus
	assert.Equal(t, http.StatusOK, getJSON(t, hs.URL+"/books/ethusdt", &st))
	assert.True(t, st.Stale)
	assert.Equal(t, "stream closed", st.StaleReason)
	assert.NotNil(t, st.History)

	var missing map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, hs.URL+"/books/XRPUSDT", &missing))
}

func TestHealthz(t *testing.T) {
	stale := orderbook.New("ETHUSDT")
	stale.MarkStale("eof")
	_, hs := testServer(t, orderbook.New("BTCUSDT"), stale)

	var body map[string]interface{}
	assert.Equal(t, http.StatusOK, getJSON(t, hs.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["books"])
	assert.Equal(t, float64(1), body["stale_books"])
}

func TestEventsCapturesMetricsAndWarnings(t *testing.T) {
	srv, hs := testServer(t, orderbook.New("BTCUSDT"))

	metrics.EmitMetric(quietLogger(), "reporter", "volume_change", 1.5, "gauge", logger.Fields{"symbol": "BTCUSDT"})
	srv.log.WithComponent("binance_stream").Warn("depth stream closed by server")
	srv.log.WithComponent("reporter").Info("not captured")

	var body struct {
		Metrics  []map[string]interface{} `json:"metrics"`
		Problems []logRecord              `json:"problems"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, hs.URL+"/events", &body))

	require.NotEmpty(t, body.Metrics)
	assert.Equal(t, "volume_change", body.Metrics[len(body.Metrics)-1]["name"])
	require.Len(t, body.Problems, 1)
	assert.Equal(t, "binance_stream", body.Problems[0].Component)
	assert.Equal(t, "warning", body.Problems[0].Level)
}

func TestMetricsEndpoint(t *testing.T) {
	_, hs := testServer(t)

	resp, err := http.Get(hs.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestResourceSamplerRecords(t *testing.T) {
	s := newResourceSampler(2, time.Millisecond, quietLogger())
	origCPU := cpuPercentFn
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return []float64{12.5}, nil
	}
	t.Cleanup(func() { cpuPercentFn = origCPU })

	for i := 0; i < 3; i++ {
		snap, ok := s.sample(context.Background())
		require.True(t, ok)
		s.append(snap)
	}

	snaps := s.snapshot()
	require.Len(t, snaps, 2)
	assert.Equal(t, 12.5, snaps[0].CPUPercent)
	assert.Greater(t, snaps[0].Goroutines, 0)
}
