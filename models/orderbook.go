package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// PriceLevel represents a single (price, quantity) level of an order book.
// On the wire it is a two element array of decimal strings.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// LevelDecodeError reports a price level that does not match the
// ["price","quantity"] schema.
type LevelDecodeError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *LevelDecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode price level %s: %s: %v", e.Raw, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode price level %s: %s", e.Raw, e.Reason)
}

func (e *LevelDecodeError) Unwrap() error {
	return e.Err
}

func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return &LevelDecodeError{Raw: string(data), Reason: "not a string pair", Err: err}
	}
	if len(pair) != 2 {
		return &LevelDecodeError{Raw: string(data), Reason: fmt.Sprintf("expected 2 elements, got %d", len(pair))}
	}

	price, err := parseAmount(pair[0])
	if err != nil {
		return &LevelDecodeError{Raw: string(data), Reason: "invalid price", Err: err}
	}
	quantity, err := parseAmount(pair[1])
	if err != nil {
		return &LevelDecodeError{Raw: string(data), Reason: "invalid quantity", Err: err}
	}

	l.Price = price
	l.Quantity = quantity
	return nil
}

func (l PriceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{
		strconv.FormatFloat(l.Price, 'f', -1, 64),
		strconv.FormatFloat(l.Quantity, 'f', -1, 64),
	})
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return v, nil
}

// DepthSnapshot is the parsed result of a REST depth request.
type DepthSnapshot struct {
	Symbol       string       `json:"symbol"`
	LastUpdateID int64        `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// IsEmpty reports whether the snapshot carries no levels at all.
func (s DepthSnapshot) IsEmpty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}

// DepthUpdate is one parsed message of the depth stream. Bids and Asks
// are full replacement lists for the book.
type DepthUpdate struct {
	Symbol        string
	EventTime     int64
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          []PriceLevel
	Asks          []PriceLevel
	ReceivedAt    time.Time
}

// BinanceDepthResp mirrors the body of GET /api/v3/depth.
type BinanceDepthResp struct {
	LastUpdateID int64        `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// BinanceDepthEvent mirrors a message of the <symbol>@depth stream.
type BinanceDepthEvent struct {
	Event         string       `json:"e"`
	EventTime     int64        `json:"E"`
	Symbol        string       `json:"s"`
	FirstUpdateID int64        `json:"U"`
	FinalUpdateID int64        `json:"u"`
	Bids          []PriceLevel `json:"b"`
	Asks          []PriceLevel `json:"a"`
}

// ToUpdate converts the wire event into a DepthUpdate. symbol is used when
// the event does not name one.
func (e BinanceDepthEvent) ToUpdate(symbol string, receivedAt time.Time) DepthUpdate {
	if e.Symbol != "" {
		symbol = e.Symbol
	}
	return DepthUpdate{
		Symbol:        symbol,
		EventTime:     e.EventTime,
		FirstUpdateID: e.FirstUpdateID,
		FinalUpdateID: e.FinalUpdateID,
		Bids:          LevelsOrEmpty(e.Bids),
		Asks:          LevelsOrEmpty(e.Asks),
		ReceivedAt:    receivedAt,
	}
}

// LevelsOrEmpty returns levels, or an empty non-nil list for an absent side.
func LevelsOrEmpty(levels []PriceLevel) []PriceLevel {
	if levels == nil {
		return []PriceLevel{}
	}
	return levels
}
