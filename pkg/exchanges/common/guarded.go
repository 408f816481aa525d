package common

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// CallObserver receives the latency and outcome of every broker call.
type CallObserver func(op string, latency time.Duration, err error)

// Guarded wraps a Broker with a request rate limiter, a per-call timeout,
// error classification and health reporting to a Supervisor.
type Guarded struct {
	inner    Broker
	sup      *Supervisor
	limiter  *rate.Limiter
	timeout  time.Duration
	observer CallObserver
}

// NewGuarded creates a guarded broker. rps <= 0 disables rate limiting.
func NewGuarded(inner Broker, sup *Supervisor, rps float64, timeout time.Duration) *Guarded {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps) + 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Guarded{
		inner:   inner,
		sup:     sup,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

// SetObserver installs a latency/outcome hook.
func (g *Guarded) SetObserver(o CallObserver) { g.observer = o }

// Supervisor exposes the health signal.
func (g *Guarded) Supervisor() *Supervisor { return g.sup }

func (g *Guarded) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if g.sup != nil && !g.sup.Healthy() {
		return &BrokerError{Op: op, Kind: KindUnavailable, Err: ErrBrokerUnavailable}
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return &BrokerError{Op: op, Kind: KindRateLimited, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := Classify(op, fn(callCtx))
	if g.observer != nil {
		g.observer(op, time.Since(start), err)
	}
	if g.sup != nil {
		if err == nil {
			g.sup.ReportSuccess()
		} else {
			g.sup.ReportFailure(err)
		}
	}
	return err
}

func (g *Guarded) Qualify(ctx context.Context, symbol string) (inst Instrument, err error) {
	err = g.call(ctx, "qualify", func(ctx context.Context) error {
		inst, err = g.inner.Qualify(ctx, symbol)
		return err
	})
	return inst, err
}

func (g *Guarded) QualifyOption(ctx context.Context, contract Instrument) (inst Instrument, err error) {
	err = g.call(ctx, "qualify_option", func(ctx context.Context) error {
		inst, err = g.inner.QualifyOption(ctx, contract)
		return err
	})
	return inst, err
}

func (g *Guarded) PlaceOrder(ctx context.Context, req OrderRequest) (res OrderResult, err error) {
	err = g.call(ctx, "place_order", func(ctx context.Context) error {
		res, err = g.inner.PlaceOrder(ctx, req)
		return err
	})
	return res, err
}

func (g *Guarded) CancelOrder(ctx context.Context, orderID string) (ok bool, err error) {
	err = g.call(ctx, "cancel_order", func(ctx context.Context) error {
		ok, err = g.inner.CancelOrder(ctx, orderID)
		return err
	})
	return ok, err
}

func (g *Guarded) ModifyOrderPrice(ctx context.Context, orderID string, price float64) (id string, err error) {
	err = g.call(ctx, "modify_order", func(ctx context.Context) error {
		id, err = g.inner.ModifyOrderPrice(ctx, orderID, price)
		return err
	})
	return id, err
}

func (g *Guarded) GetOrderStatus(ctx context.Context, orderID string) (st OrderStatus, err error) {
	err = g.call(ctx, "order_status", func(ctx context.Context) error {
		st, err = g.inner.GetOrderStatus(ctx, orderID)
		return err
	})
	return st, err
}

func (g *Guarded) GetFills(ctx context.Context, orderID string) (fill Fill, err error) {
	err = g.call(ctx, "get_fills", func(ctx context.Context) error {
		fill, err = g.inner.GetFills(ctx, orderID)
		return err
	})
	return fill, err
}

func (g *Guarded) GetOptionChain(ctx context.Context, symbol string) (chain OptionChain, err error) {
	err = g.call(ctx, "option_chain", func(ctx context.Context) error {
		chain, err = g.inner.GetOptionChain(ctx, symbol)
		return err
	})
	return chain, err
}

func (g *Guarded) CheckSufficientCash(ctx context.Context, amount float64) (ok bool, err error) {
	err = g.call(ctx, "check_cash", func(ctx context.Context) error {
		ok, err = g.inner.CheckSufficientCash(ctx, amount)
		return err
	})
	return ok, err
}

// LastPrice forwards to the inner broker when it can quote prices.
func (g *Guarded) LastPrice(ctx context.Context, symbol string) (price float64, err error) {
	src, ok := g.inner.(PriceSource)
	if !ok {
		return 0, ErrPriceUnavailable
	}
	err = g.call(ctx, "last_price", func(ctx context.Context) error {
		price, err = src.LastPrice(ctx, symbol)
		return err
	})
	return price, err
}

var _ Broker = (*Guarded)(nil)
