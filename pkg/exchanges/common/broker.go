package common

import "context"

// Broker is the narrow surface the engine consumes from a brokerage client.
type Broker interface {
	// Qualify resolves a stock symbol to a tradable instrument with its tick size.
	Qualify(ctx context.Context, symbol string) (Instrument, error)
	// QualifyOption resolves one option contract; an error means the contract is not listed.
	QualifyOption(ctx context.Context, contract Instrument) (Instrument, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	// ModifyOrderPrice changes the live price of a working order and returns the
	// id the order is known by afterwards (brokers that replace orders issue a new id).
	ModifyOrderPrice(ctx context.Context, orderID string, price float64) (string, error)
	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	GetFills(ctx context.Context, orderID string) (Fill, error)
	GetOptionChain(ctx context.Context, symbol string) (OptionChain, error)
	CheckSufficientCash(ctx context.Context, amount float64) (bool, error)
}

// PriceSource returns the last traded price of a symbol.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// Pinger is implemented by brokers that expose a cheap liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}
