package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	binance "github.com/adshao/go-binance/v2"

	"depthwatch/config"
	"depthwatch/logger"
)

const exchangeInfoComponent = "binance_exchange_info"

// SymbolStatus is the trading status of a symbol as reported by exchangeInfo.
type SymbolStatus struct {
	Symbol string
	Status string
}

// ExchangeInfo is the subset of /api/v3/exchangeInfo the client uses.
type ExchangeInfo struct {
	WeightLimit int64
	Symbols     []SymbolStatus
}

// NewExchangeClient returns an unauthenticated spot client that talks to
// cfg.RestURL over httpClient.
func NewExchangeClient(cfg config.BinanceConfig, httpClient *http.Client) *binance.Client {
	client := binance.NewClient("", "")
	client.BaseURL = strings.TrimRight(cfg.RestURL, "/")
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	return client
}

// FetchExchangeInfo reads the REQUEST_WEIGHT per minute limit and the status
// of the given symbols.
func FetchExchangeInfo(ctx context.Context, client *binance.Client, symbols []string) (*ExchangeInfo, error) {
	svc := client.NewExchangeInfoService()
	if len(symbols) > 0 {
		svc = svc.Symbols(symbols...)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	info := &ExchangeInfo{}
	for _, rl := range res.RateLimits {
		if rl.RateLimitType == "REQUEST_WEIGHT" && rl.Interval == "MINUTE" {
			info.WeightLimit = rl.Limit
			break
		}
	}
	for _, s := range res.Symbols {
		info.Symbols = append(info.Symbols, SymbolStatus{Symbol: s.Symbol, Status: s.Status})
	}
	return info, nil
}

// CheckSymbols logs the weight limit and warns about symbols that are not
// trading or unknown. Failures are logged only; the returned limit is zero
// when it could not be determined.
func CheckSymbols(ctx context.Context, client *binance.Client, symbols []string) int64 {
	log := logger.GetLogger().WithComponent(exchangeInfoComponent)

	info, err := FetchExchangeInfo(ctx, client, symbols)
	if err != nil {
		log.WithError(err).Warn("failed to fetch exchange info")
		return 0
	}

	log.WithFields(logger.Fields{"request_weight_limit": info.WeightLimit}).Info("exchange info loaded")

	known := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		known[s.Symbol] = s.Status
	}
	for _, symbol := range symbols {
		status, ok := known[symbol]
		switch {
		case !ok:
			log.WithFields(logger.Fields{"symbol": symbol}).Warn("symbol not listed by exchange")
		case status != "TRADING":
			log.WithFields(logger.Fields{"symbol": symbol, "status": status}).Warn("symbol is not trading")
		}
	}
	return info.WeightLimit
}
