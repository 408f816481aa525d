package alpaca

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"trendline-core/pkg/exchanges/common"
)

// Config holds Alpaca credentials.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	// ChainHorizon bounds how far ahead option expiries are listed.
	ChainHorizon time.Duration
}

// Broker adapts the Alpaca trading and market data clients to common.Broker.
// The SDK is synchronous; callers bound each call with the context deadline
// enforced by common.Guarded.
type Broker struct {
	trade   *alpaca.Client
	md      *marketdata.Client
	horizon time.Duration
}

// New creates an Alpaca broker.
func New(cfg Config) *Broker {
	horizon := cfg.ChainHorizon
	if horizon <= 0 {
		horizon = 90 * 24 * time.Hour
	}
	return &Broker{
		trade: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		md: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		horizon: horizon,
	}
}

// run executes a blocking SDK call and abandons it when ctx expires.
func run[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func (b *Broker) Ping(ctx context.Context) error {
	_, err := run(ctx, b.trade.GetClock)
	return err
}

func (b *Broker) LastPrice(ctx context.Context, symbol string) (float64, error) {
	trade, err := run(ctx, func() (*marketdata.Trade, error) {
		return b.md.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	})
	if err != nil {
		return 0, err
	}
	if trade == nil || trade.Price <= 0 {
		return 0, fmt.Errorf("%s: %w", symbol, common.ErrPriceUnavailable)
	}
	return trade.Price, nil
}

func (b *Broker) Qualify(ctx context.Context, symbol string) (common.Instrument, error) {
	sym := strings.ToUpper(symbol)
	asset, err := run(ctx, func() (*alpaca.Asset, error) { return b.trade.GetAsset(sym) })
	if err != nil {
		return common.Instrument{}, err
	}
	if !asset.Tradable {
		return common.Instrument{}, fmt.Errorf("asset %s not tradable: %w", sym, common.ErrNoContract)
	}
	tick := 0.01
	if px, err := b.LastPrice(ctx, sym); err == nil && px < 1 {
		tick = 0.0001
	}
	return common.Instrument{Symbol: sym, Kind: common.AssetEquity, TickSize: tick}, nil
}

func (b *Broker) QualifyOption(ctx context.Context, c common.Instrument) (common.Instrument, error) {
	occ := OCCSymbol(c.Underlying, c.Expiry, c.Right, c.Strike)
	contract, err := run(ctx, func() (*alpaca.OptionContract, error) { return b.trade.GetOptionContract(occ) })
	if err != nil {
		return common.Instrument{}, fmt.Errorf("%s: %v: %w", occ, err, common.ErrNoContract)
	}
	if !contract.Tradable {
		return common.Instrument{}, fmt.Errorf("%s not tradable: %w", occ, common.ErrNoContract)
	}
	strike, _ := contract.StrikePrice.Float64()
	return common.Instrument{
		Symbol:     contract.Symbol,
		Underlying: strings.ToUpper(c.Underlying),
		Kind:       common.AssetOption,
		TickSize:   0.01,
		Strike:     strike,
		Expiry:     contract.ExpirationDate.In(time.UTC),
		Right:      c.Right,
	}, nil
}

func (b *Broker) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	qty := decimal.NewFromFloat(req.Qty)
	r := alpaca.PlaceOrderRequest{
		Symbol:        req.Instrument.Symbol,
		Qty:           &qty,
		Side:          alpaca.Buy,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientID,
	}
	if req.Side == common.SideSell {
		r.Side = alpaca.Sell
	}
	price := decimal.NewFromFloat(req.Price)
	switch req.Type {
	case common.OrderTypeLimit:
		r.Type = alpaca.Limit
		r.LimitPrice = &price
		r.TimeInForce = alpaca.GTC
	case common.OrderTypeStop:
		r.Type = alpaca.Stop
		r.StopPrice = &price
		r.TimeInForce = alpaca.GTC
	}
	if req.Instrument.Kind == common.AssetOption {
		// options only accept day orders
		r.TimeInForce = alpaca.Day
	}

	o, err := run(ctx, func() (*alpaca.Order, error) { return b.trade.PlaceOrder(r) })
	if err != nil {
		return common.OrderResult{}, err
	}
	return common.OrderResult{OrderID: o.ID, Status: mapStatus(o.Status), ClientID: o.ClientOrderID}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	_, err := run(ctx, func() (struct{}, error) { return struct{}{}, b.trade.CancelOrder(orderID) })
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "422") {
			// order is no longer cancelable
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Broker) ModifyOrderPrice(ctx context.Context, orderID string, price float64) (string, error) {
	current, err := run(ctx, func() (*alpaca.Order, error) { return b.trade.GetOrder(orderID) })
	if err != nil {
		return "", err
	}
	p := decimal.NewFromFloat(price)
	req := alpaca.ReplaceOrderRequest{}
	if current.Type == alpaca.Stop {
		req.StopPrice = &p
	} else {
		req.LimitPrice = &p
	}
	o, err := run(ctx, func() (*alpaca.Order, error) { return b.trade.ReplaceOrder(orderID, req) })
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

func (b *Broker) GetOrderStatus(ctx context.Context, orderID string) (common.OrderStatus, error) {
	o, err := run(ctx, func() (*alpaca.Order, error) { return b.trade.GetOrder(orderID) })
	if err != nil {
		return common.StatusUnknown, err
	}
	return mapStatus(o.Status), nil
}

func (b *Broker) GetFills(ctx context.Context, orderID string) (common.Fill, error) {
	o, err := run(ctx, func() (*alpaca.Order, error) { return b.trade.GetOrder(orderID) })
	if err != nil {
		return common.Fill{}, err
	}
	fill := common.Fill{OrderID: o.ID}
	fill.Qty, _ = o.FilledQty.Float64()
	if o.FilledAvgPrice != nil {
		fill.Price, _ = o.FilledAvgPrice.Float64()
	}
	return fill, nil
}

func (b *Broker) GetOptionChain(ctx context.Context, symbol string) (common.OptionChain, error) {
	today := time.Now().UTC()
	contracts, err := run(ctx, func() ([]alpaca.OptionContract, error) {
		return b.trade.GetOptionContracts(alpaca.GetOptionContractsRequest{
			UnderlyingSymbols: strings.ToUpper(symbol),
			Type:              alpaca.OptionTypePut,
			ExpirationDateGTE: civil.DateOf(today),
			ExpirationDateLTE: civil.DateOf(today.Add(b.horizon)),
			TotalLimit:        10000,
		})
	})
	if err != nil {
		return common.OptionChain{}, err
	}
	if len(contracts) == 0 {
		return common.OptionChain{}, fmt.Errorf("%s: %w", symbol, common.ErrNoContract)
	}

	expSeen := make(map[civil.Date]bool)
	strikeSeen := make(map[string]bool)
	chain := common.OptionChain{Underlying: strings.ToUpper(symbol)}
	for _, c := range contracts {
		if !c.Tradable {
			continue
		}
		if !expSeen[c.ExpirationDate] {
			expSeen[c.ExpirationDate] = true
			chain.Expiries = append(chain.Expiries, c.ExpirationDate.In(time.UTC))
		}
		if key := c.StrikePrice.String(); !strikeSeen[key] {
			strikeSeen[key] = true
			f, _ := c.StrikePrice.Float64()
			chain.Strikes = append(chain.Strikes, f)
		}
	}
	sort.Slice(chain.Expiries, func(i, j int) bool { return chain.Expiries[i].Before(chain.Expiries[j]) })
	sort.Float64s(chain.Strikes)
	return chain, nil
}

func (b *Broker) CheckSufficientCash(ctx context.Context, amount float64) (bool, error) {
	acct, err := run(ctx, b.trade.GetAccount)
	if err != nil {
		return false, err
	}
	return acct.Cash.GreaterThanOrEqual(decimal.NewFromFloat(amount)), nil
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "new", "accepted", "pending_new", "accepted_for_bidding", "pending_replace", "pending_cancel", "calculated", "held":
		return common.StatusNew
	case "partially_filled":
		return common.StatusPartial
	case "filled":
		return common.StatusFilled
	case "canceled", "replaced", "done_for_day", "stopped":
		return common.StatusCanceled
	case "rejected", "suspended":
		return common.StatusRejected
	case "expired":
		return common.StatusExpired
	}
	return common.StatusUnknown
}

// OCCSymbol formats an OCC option symbol, e.g. SPY250117P00450000.
func OCCSymbol(underlying string, expiry time.Time, right common.OptionRight, strike float64) string {
	r := "P"
	if right == common.RightCall {
		r = "C"
	}
	milli := decimal.NewFromFloat(strike).Mul(decimal.NewFromInt(1000)).Round(0).IntPart()
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(underlying), expiry.Format("060102"), r, milli)
}

var (
	_ common.Broker      = (*Broker)(nil)
	_ common.PriceSource = (*Broker)(nil)
	_ common.Pinger      = (*Broker)(nil)
)
