package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"depthwatch/config"
	"depthwatch/internal/metrics"
	"depthwatch/logger"
	"depthwatch/models"
)

const (
	streamComponent = "binance_stream"
	depthEventType  = "depthUpdate"
)

// State is the lifecycle of a Subscription. It only moves forward.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Subscription is one depth stream connection.
type Subscription struct {
	Symbol string
	ID     string

	state atomic.Int32
	done  chan struct{}

	mu  sync.Mutex
	err error
}

func newSubscription(symbol string) *Subscription {
	s := &Subscription{
		Symbol: symbol,
		ID:     uuid.NewString(),
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Done is closed once the subscription reaches StateClosed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription closed. It is nil while it is running.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.setState(StateClosed)
	close(s.done)
}

// DepthSubscriber opens <symbol>@depth streams and forwards parsed updates.
type DepthSubscriber struct {
	cfg    config.BinanceConfig
	dialer *websocket.Dialer
	log    *logger.Log
}

func NewDepthSubscriber(cfg config.BinanceConfig) *DepthSubscriber {
	return &DepthSubscriber{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: logger.GetLogger(),
	}
}

// StreamURL builds {ws_url}/ws/{symbol}@depth with a lower-case symbol.
func (d *DepthSubscriber) StreamURL(symbol string) (string, error) {
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", fmt.Errorf("symbol is required")
	}

	u, err := url.Parse(strings.TrimRight(d.cfg.WsURL, "/") + "/ws/" + symbol + "@depth")
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported ws scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Subscribe starts streaming symbol in the background. Every decoded message
// is sent to out; sends block until received or ctx is cancelled. The
// returned Subscription closes when the stream ends for any reason and is
// never reopened.
func (d *DepthSubscriber) Subscribe(ctx context.Context, symbol string, out chan<- models.DepthUpdate) *Subscription {
	sub := newSubscription(symbol)
	go d.run(ctx, sub, out)
	return sub
}

func (d *DepthSubscriber) run(ctx context.Context, sub *Subscription, out chan<- models.DepthUpdate) {
	log := d.log.WithComponent(streamComponent).WithFields(logger.Fields{
		"symbol":        sub.Symbol,
		"connection_id": sub.ID,
	})

	sub.setState(StateConnecting)

	endpoint, err := d.StreamURL(sub.Symbol)
	if err != nil {
		log.WithError(err).Error("failed to build depth stream url")
		sub.finish(err)
		return
	}
	log = log.WithFields(logger.Fields{"endpoint": endpoint})

	conn, _, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		log.WithError(err).Error("failed to connect to depth stream")
		sub.finish(fmt.Errorf("dial depth stream: %w", err))
		return
	}

	sub.setState(StateOpen)
	log.Info("depth stream connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
		case <-stop:
		}
	}()

	err = d.readLoop(ctx, conn, sub, out, log)
	conn.Close()

	switch {
	case ctx.Err() != nil:
		log.Info("depth stream stopped")
		err = ctx.Err()
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		log.WithError(err).Warn("depth stream closed by server")
	default:
		log.WithError(err).Error("depth stream failed")
	}
	sub.finish(err)
}

func (d *DepthSubscriber) readLoop(ctx context.Context, conn *websocket.Conn, sub *Subscription, out chan<- models.DepthUpdate, log *logger.Entry) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		received := time.Now()

		logger.IncrementStreamRead(len(data))
		metrics.IncrementStreamMessage(sub.Symbol)

		update, err := decodeDepthEvent(data, sub.Symbol, received)
		if err != nil {
			metrics.IncrementDecodeError(sub.Symbol)
			log.WithError(err).Warn("skipping malformed depth message")
			continue
		}

		select {
		case out <- update:
			logger.LogDataFlowEntry(log, "binance_ws", "depth_updates", len(update.Bids)+len(update.Asks), "depth_levels")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var errUnexpectedEvent = errors.New("unexpected event type")

func decodeDepthEvent(data []byte, symbol string, received time.Time) (models.DepthUpdate, error) {
	var event models.BinanceDepthEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return models.DepthUpdate{}, fmt.Errorf("decode depth event: %w", err)
	}
	// Plain {"b":...,"a":...} payloads carry no event type.
	if event.Event != "" && event.Event != depthEventType {
		return models.DepthUpdate{}, fmt.Errorf("%w %q", errUnexpectedEvent, event.Event)
	}
	return event.ToUpdate(symbol, received), nil
}
