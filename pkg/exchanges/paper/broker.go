package paper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"trendline-core/pkg/exchanges/common"
)

const optionMultiplier = 100

// Order is the simulated broker's view of one order.
type Order struct {
	ID        string
	Request   common.OrderRequest
	Status    common.OrderStatus
	Price     float64
	FilledQty float64
	FillPrice float64
	CreatedAt time.Time
}

// Broker is an in-memory brokerage. Market orders fill at the last price,
// resting limit and stop orders fill when SetPrice moves through them.
type Broker struct {
	mu       sync.Mutex
	cash     float64
	prices   map[string]float64
	chains   map[string]common.OptionChain
	orders   map[string]*Order
	sequence []string
	nextID   int
	failNext map[string]error
	now      func() time.Time

	// HoldMarketOrders keeps market orders NEW until Settle is called.
	HoldMarketOrders bool
}

// New creates a paper broker with the given starting cash.
func New(cash float64) *Broker {
	return &Broker{
		cash:     cash,
		prices:   make(map[string]float64),
		chains:   make(map[string]common.OptionChain),
		orders:   make(map[string]*Order),
		failNext: make(map[string]error),
		now:      time.Now,
	}
}

// SetPrice updates the last price of a symbol and matches resting orders.
func (b *Broker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[strings.ToUpper(symbol)] = price
	for _, id := range b.sequence {
		o := b.orders[id]
		if o.Status != common.StatusNew {
			continue
		}
		if o.Request.Type == common.OrderTypeMarket && b.HoldMarketOrders {
			continue
		}
		b.match(o)
	}
}

// SetOptionChain lists expiries and strikes for an underlying.
func (b *Broker) SetOptionChain(chain common.OptionChain) {
	strikes := append([]float64(nil), chain.Strikes...)
	sort.Float64s(strikes)
	chain.Strikes = strikes
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chains[strings.ToUpper(chain.Underlying)] = chain
}

// FailNext makes the next call of op ("place", "cancel", "modify", "status", "fills", "qualify_option") return err.
func (b *Broker) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext[op] = err
}

// Settle fills held market orders at the current price.
func (b *Broker) Settle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.sequence {
		o := b.orders[id]
		if o.Status == common.StatusNew && o.Request.Type == common.OrderTypeMarket {
			b.match(o)
		}
	}
}

// Orders returns copies of all orders in submission order.
func (b *Broker) Orders() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Order, 0, len(b.sequence))
	for _, id := range b.sequence {
		out = append(out, *b.orders[id])
	}
	return out
}

// Cash returns the remaining simulated cash.
func (b *Broker) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

func (b *Broker) takeFailure(op string) error {
	if err, ok := b.failNext[op]; ok {
		delete(b.failNext, op)
		return err
	}
	return nil
}

func (b *Broker) Ping(context.Context) error { return nil }

func (b *Broker) LastPrice(_ context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, common.ErrPriceUnavailable)
	}
	return p, nil
}

func (b *Broker) Qualify(_ context.Context, symbol string) (common.Instrument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sym := strings.ToUpper(symbol)
	tick := 0.01
	if p, ok := b.prices[sym]; ok && p > 0 && p < 1 {
		tick = 0.0001
	}
	return common.Instrument{Symbol: sym, Kind: common.AssetEquity, TickSize: tick}, nil
}

func (b *Broker) QualifyOption(_ context.Context, c common.Instrument) (common.Instrument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("qualify_option"); err != nil {
		return common.Instrument{}, err
	}
	chain, ok := b.chains[strings.ToUpper(c.Underlying)]
	if !ok {
		return common.Instrument{}, fmt.Errorf("%s: %w", c.Underlying, common.ErrNoContract)
	}
	if !hasExpiry(chain.Expiries, c.Expiry) || !hasStrike(chain.Strikes, c.Strike) {
		return common.Instrument{}, fmt.Errorf("%s %s %.2f: %w", c.Underlying, c.Expiry.Format("2006-01-02"), c.Strike, common.ErrNoContract)
	}
	c.Kind = common.AssetOption
	c.Underlying = strings.ToUpper(c.Underlying)
	if c.Right == "" {
		c.Right = common.RightPut
	}
	c.Symbol = OCCSymbol(c.Underlying, c.Expiry, c.Right, c.Strike)
	c.TickSize = 0.01
	return c, nil
}

func (b *Broker) PlaceOrder(_ context.Context, req common.OrderRequest) (common.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("place"); err != nil {
		return common.OrderResult{}, err
	}
	if req.Qty <= 0 {
		return common.OrderResult{}, fmt.Errorf("invalid quantity %v", req.Qty)
	}
	if req.Type != common.OrderTypeMarket && req.Price <= 0 {
		return common.OrderResult{}, fmt.Errorf("%s order requires a price", req.Type)
	}
	if req.Side == common.SideBuy {
		px, err := b.priceOf(req.Instrument)
		if err == nil && px*req.Qty*multiplier(req.Instrument) > b.cash {
			return common.OrderResult{}, fmt.Errorf("insufficient buying power: %w", common.ErrInsufficientCash)
		}
	}

	b.nextID++
	o := &Order{
		ID:        fmt.Sprintf("paper-%d", b.nextID),
		Request:   req,
		Status:    common.StatusNew,
		Price:     req.Price,
		CreatedAt: b.now(),
	}
	b.orders[o.ID] = o
	b.sequence = append(b.sequence, o.ID)
	if req.Type != common.OrderTypeMarket || !b.HoldMarketOrders {
		b.match(o)
	}
	return common.OrderResult{OrderID: o.ID, Status: o.Status, ClientID: req.ClientID}, nil
}

func (b *Broker) CancelOrder(_ context.Context, orderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("cancel"); err != nil {
		return false, err
	}
	o, ok := b.orders[orderID]
	if !ok {
		return false, common.ErrOrderNotFound
	}
	if o.Status != common.StatusNew {
		return false, nil
	}
	o.Status = common.StatusCanceled
	return true, nil
}

func (b *Broker) ModifyOrderPrice(_ context.Context, orderID string, price float64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("modify"); err != nil {
		return "", err
	}
	o, ok := b.orders[orderID]
	if !ok {
		return "", common.ErrOrderNotFound
	}
	if o.Status != common.StatusNew {
		return "", fmt.Errorf("order %s is %s", orderID, o.Status)
	}
	o.Price = price
	b.match(o)
	return o.ID, nil
}

func (b *Broker) GetOrderStatus(_ context.Context, orderID string) (common.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("status"); err != nil {
		return common.StatusUnknown, err
	}
	o, ok := b.orders[orderID]
	if !ok {
		return common.StatusUnknown, common.ErrOrderNotFound
	}
	return o.Status, nil
}

func (b *Broker) GetFills(_ context.Context, orderID string) (common.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("fills"); err != nil {
		return common.Fill{}, err
	}
	o, ok := b.orders[orderID]
	if !ok {
		return common.Fill{}, common.ErrOrderNotFound
	}
	return common.Fill{OrderID: o.ID, Qty: o.FilledQty, Price: o.FillPrice}, nil
}

func (b *Broker) GetOptionChain(_ context.Context, symbol string) (common.OptionChain, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chain, ok := b.chains[strings.ToUpper(symbol)]
	if !ok {
		return common.OptionChain{}, fmt.Errorf("%s: %w", symbol, common.ErrNoContract)
	}
	return chain, nil
}

func (b *Broker) CheckSufficientCash(_ context.Context, amount float64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash >= amount, nil
}

// match fills o if the current price allows it. Caller holds mu.
func (b *Broker) match(o *Order) {
	px, err := b.priceOf(o.Request.Instrument)
	if err != nil {
		return
	}
	fill := false
	switch o.Request.Type {
	case common.OrderTypeMarket:
		fill = true
	case common.OrderTypeLimit:
		if o.Request.Side == common.SideSell {
			fill = px >= o.Price
		} else {
			fill = px <= o.Price
		}
		if fill {
			px = o.Price
		}
	case common.OrderTypeStop:
		if o.Request.Side == common.SideSell {
			fill = px <= o.Price
		} else {
			fill = px >= o.Price
		}
	}
	if !fill {
		return
	}
	notional := px * o.Request.Qty * multiplier(o.Request.Instrument)
	if o.Request.Side == common.SideBuy {
		if notional > b.cash {
			o.Status = common.StatusRejected
			return
		}
		b.cash -= notional
	} else {
		b.cash += notional
	}
	o.Status = common.StatusFilled
	o.FilledQty = o.Request.Qty
	o.FillPrice = px
}

// priceOf returns the equity price or a synthetic put premium. Caller holds mu.
func (b *Broker) priceOf(inst common.Instrument) (float64, error) {
	if inst.Kind != common.AssetOption {
		p, ok := b.prices[strings.ToUpper(inst.Symbol)]
		if !ok {
			return 0, common.ErrPriceUnavailable
		}
		return p, nil
	}
	spot, ok := b.prices[strings.ToUpper(inst.Underlying)]
	if !ok {
		return 0, common.ErrPriceUnavailable
	}
	intrinsic := math.Max(inst.Strike-spot, 0)
	if inst.Right == common.RightCall {
		intrinsic = math.Max(spot-inst.Strike, 0)
	}
	return math.Round((intrinsic+0.5)*100) / 100, nil
}

func multiplier(inst common.Instrument) float64 {
	if inst.Kind == common.AssetOption {
		return optionMultiplier
	}
	return 1
}

func hasExpiry(expiries []time.Time, want time.Time) bool {
	for _, e := range expiries {
		if sameDay(e, want) {
			return true
		}
	}
	return false
}

func hasStrike(strikes []float64, want float64) bool {
	i := sort.SearchFloat64s(strikes, want-1e-6)
	return i < len(strikes) && math.Abs(strikes[i]-want) < 1e-6
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// OCCSymbol formats an OCC option symbol, e.g. SPY250117P00450000.
func OCCSymbol(underlying string, expiry time.Time, right common.OptionRight, strike float64) string {
	r := "P"
	if right == common.RightCall {
		r = "C"
	}
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(underlying), expiry.Format("060102"), r, int64(math.Round(strike*1000)))
}

var (
	_ common.Broker      = (*Broker)(nil)
	_ common.PriceSource = (*Broker)(nil)
	_ common.Pinger      = (*Broker)(nil)
)
