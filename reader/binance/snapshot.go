package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"depthwatch/config"
	"depthwatch/internal/metrics"
	binancemetrics "depthwatch/internal/metrics/binance"
	"depthwatch/logger"
	"depthwatch/models"
)

// ErrUnexpectedStatus is returned when the depth endpoint answers with a
// non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected status")

const snapshotComponent = "binance_snapshot"

// SnapshotFetcher requests the top levels of a spot order book over REST.
type SnapshotFetcher struct {
	cfg         config.BinanceConfig
	client      *http.Client
	log         *logger.Log
	weightLimit atomic.Int64
}

// NewSnapshotFetcher builds a fetcher with a pooled transport sized from cfg.
func NewSnapshotFetcher(cfg config.BinanceConfig) *SnapshotFetcher {
	log := logger.GetLogger()

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.ConnectionPool.IdleConnTimeout,
	}

	f := &SnapshotFetcher{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		log: log,
	}

	log.WithComponent(snapshotComponent).WithFields(logger.Fields{
		"rest_url":           cfg.RestURL,
		"limit":              cfg.DepthLimit,
		"max_idle_conns":     cfg.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": cfg.ConnectionPool.MaxConnsPerHost,
		"timeout":            cfg.Timeout,
	}).Info("snapshot fetcher initialized")

	return f
}

// HTTPClient exposes the pooled client so other REST calls share it.
func (f *SnapshotFetcher) HTTPClient() *http.Client {
	return f.client
}

// SetWeightLimit records the REQUEST_WEIGHT limit reported by exchangeInfo.
func (f *SnapshotFetcher) SetWeightLimit(limit int64) {
	f.weightLimit.Store(limit)
}

// Fetch returns the current depth snapshot for symbol. Any failure is logged
// and yields an empty snapshot, so callers always get a usable value.
func (f *SnapshotFetcher) Fetch(ctx context.Context, symbol string) models.DepthSnapshot {
	snapshot, err := f.FetchSnapshot(ctx, symbol)
	if err != nil {
		metrics.IncrementError(symbol)
		f.log.WithComponent(snapshotComponent).WithFields(logger.Fields{
			"symbol": symbol,
		}).WithError(err).Error("failed to fetch depth snapshot")
		return models.DepthSnapshot{
			Symbol: symbol,
			Bids:   []models.PriceLevel{},
			Asks:   []models.PriceLevel{},
		}
	}
	metrics.IncrementSuccess(symbol)
	return *snapshot
}

// FetchSnapshot performs one GET of /api/v3/depth.
func (f *SnapshotFetcher) FetchSnapshot(ctx context.Context, symbol string) (*models.DepthSnapshot, error) {
	log := f.log.WithComponent(snapshotComponent).WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_snapshot",
	})

	reqURL, err := f.depthURL(symbol)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request depth: %w", err)
	}
	defer resp.Body.Close()

	logger.LogPerformanceEntry(log, snapshotComponent, "api_request", time.Since(start), logger.Fields{
		"symbol": symbol,
		"status": resp.StatusCode,
	})
	binancemetrics.ReportUsedWeight(f.log, resp, snapshotComponent, symbol, f.weightLimit.Load())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read depth body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, apiErrorMessage(body))
	}

	var depth models.BinanceDepthResp
	if err := json.Unmarshal(body, &depth); err != nil {
		return nil, fmt.Errorf("decode depth: %w", err)
	}

	snapshot := &models.DepthSnapshot{
		Symbol:       symbol,
		LastUpdateID: depth.LastUpdateID,
		Bids:         models.LevelsOrEmpty(depth.Bids),
		Asks:         models.LevelsOrEmpty(depth.Asks),
	}

	logger.IncrementSnapshotRead(len(body))
	logger.LogDataFlowEntry(log, "binance_api", "orderbook", len(snapshot.Bids)+len(snapshot.Asks), "depth_levels")
	log.WithFields(logger.Fields{
		"last_update_id": snapshot.LastUpdateID,
		"bids":           len(snapshot.Bids),
		"asks":           len(snapshot.Asks),
		"bytes":          len(body),
	}).Debug("depth snapshot fetched")

	return snapshot, nil
}

func (f *SnapshotFetcher) depthURL(symbol string) (string, error) {
	if strings.TrimSpace(symbol) == "" {
		return "", fmt.Errorf("symbol is required")
	}

	base, err := url.Parse(strings.TrimRight(f.cfg.RestURL, "/") + "/api/v3/depth")
	if err != nil {
		return "", fmt.Errorf("parse rest url: %w", err)
	}

	q := base.Query()
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("limit", fmt.Sprint(f.cfg.DepthLimit))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// apiErrorMessage extracts msg from a Binance error body, falling back to the
// raw (truncated) body.
func apiErrorMessage(body []byte) string {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Sprintf("code %d: %s", apiErr.Code, apiErr.Msg)
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return strings.TrimSpace(string(body))
}
