package tracker

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthwatch/config"
	"depthwatch/models"
	"depthwatch/reader/binance"
)

type fakeExchange struct {
	mu       sync.Mutex
	calls    []string
	release  chan struct{}
	upgrader websocket.Upgrader
}

func (f *fakeExchange) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeExchange) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v3/depth":
		f.record("snapshot")
		_, _ = w.Write([]byte(`{"lastUpdateId":10,"bids":[["100","2"],["99","1"]],"asks":[["101","3"]]}`))
	case strings.HasPrefix(r.URL.Path, "/ws/"):
		f.record("stream")
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":11,"u":12,"b":[["200","1"]],"a":[["201","1"]]}`))
		<-f.release
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"))
		time.Sleep(50 * time.Millisecond)
	default:
		http.NotFound(w, r)
	}
}

func testConfig(srvURL string) config.BinanceConfig {
	return config.BinanceConfig{
		RestURL:          srvURL,
		WsURL:            "ws" + strings.TrimPrefix(srvURL, "http"),
		DepthLimit:       50,
		Timeout:          2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		ConnectionPool:   config.ConnectionPoolConfig{MaxIdleConns: 1, MaxConnsPerHost: 2, IdleConnTimeout: time.Second},
	}
}

func TestTrackerSeedsThenStreams(t *testing.T) {
	ex := &fakeExchange{release: make(chan struct{})}
	srv := httptest.NewServer(ex)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	tr := New("BTCUSDT", binance.NewSnapshotFetcher(cfg), binance.NewDepthSubscriber(cfg), 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tr.Start(ctx))

	require.Eventually(t, func() bool {
		bids, _ := tr.Book().Levels()
		return len(bids) == 1 && bids[0].Price == 200
	}, 5*time.Second, 10*time.Millisecond, "stream update should replace the snapshot")

	assert.Equal(t, []string{"snapshot", "stream"}, ex.Calls())
	assert.False(t, tr.Book().Stats().Stale)
	assert.Equal(t, int64(2), tr.Book().Stats().Updates)

	close(ex.release)
	require.Eventually(t, func() bool { return tr.Book().Stats().Stale }, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, tr.Book().Stats().StaleReason, "1001")

	tr.Wait()
	assert.Equal(t, binance.StateClosed, tr.Subscription().State())

	_, asks := tr.Book().Levels()
	assert.Equal(t, []models.PriceLevel{{Price: 201, Quantity: 1}}, asks)
}

func TestTrackerSurvivesUnreachableExchange(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := testConfig("http://" + addr)
	tr := New("BTCUSDT", binance.NewSnapshotFetcher(cfg), binance.NewDepthSubscriber(cfg), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tr.Start(ctx))

	require.Eventually(t, func() bool { return tr.Book().Stats().Stale }, 5*time.Second, 10*time.Millisecond)
	tr.Wait()

	bids, asks := tr.Book().Levels()
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

func TestTrackerCancelIsNotStale(t *testing.T) {
	ex := &fakeExchange{release: make(chan struct{})}
	srv := httptest.NewServer(ex)
	defer srv.Close()
	defer close(ex.release)

	cfg := testConfig(srv.URL)
	tr := New("BTCUSDT", binance.NewSnapshotFetcher(cfg), binance.NewDepthSubscriber(cfg), 4)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tr.Start(ctx))
	require.Eventually(t, func() bool { return tr.Subscription().State() == binance.StateOpen }, 5*time.Second, 10*time.Millisecond)

	cancel()
	tr.Wait()
	assert.False(t, tr.Book().Stats().Stale)
}
