package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the order types the engine submits.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// OrderStatus normalizes broker status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Terminal reports whether the broker will not change the order any further.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// AssetKind distinguishes the underlying stock from an option contract.
type AssetKind string

const (
	AssetEquity AssetKind = "EQUITY"
	AssetOption AssetKind = "OPTION"
)

// OptionRight is put or call.
type OptionRight string

const (
	RightPut  OptionRight = "PUT"
	RightCall OptionRight = "CALL"
)

// Instrument is a qualified, tradable contract.
type Instrument struct {
	Symbol     string      `json:"symbol"`
	Underlying string      `json:"underlying,omitempty"`
	Kind       AssetKind   `json:"kind"`
	TickSize   float64     `json:"tick_size"`
	Strike     float64     `json:"strike,omitempty"`
	Expiry     time.Time   `json:"expiry,omitempty"`
	Right      OptionRight `json:"right,omitempty"`
}

// OrderRequest captures an order intent to be sent to the broker.
type OrderRequest struct {
	Instrument Instrument
	Side       Side
	Type       OrderType
	Qty        float64
	Price      float64 // limit price for LIMIT, trigger for STOP
	ClientID   string
}

// OrderResult returns the broker ack.
type OrderResult struct {
	OrderID  string
	Status   OrderStatus
	ClientID string
}

// Fill is the aggregated execution of one order.
type Fill struct {
	OrderID string
	Qty     float64
	Price   float64 // volume weighted average
}

// OptionChain lists what the broker currently lists for an underlying.
type OptionChain struct {
	Underlying string
	Expiries   []time.Time
	Strikes    []float64
}
