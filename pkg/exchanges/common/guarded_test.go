package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubBroker struct {
	placeErr error
	calls    int
}

func (s *stubBroker) Qualify(_ context.Context, symbol string) (Instrument, error) {
	s.calls++
	return Instrument{Symbol: symbol, Kind: AssetEquity, TickSize: 0.01}, nil
}
func (s *stubBroker) QualifyOption(_ context.Context, c Instrument) (Instrument, error) {
	s.calls++
	return c, nil
}
func (s *stubBroker) PlaceOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	s.calls++
	if s.placeErr != nil {
		return OrderResult{}, s.placeErr
	}
	return OrderResult{OrderID: "o-1", Status: StatusNew, ClientID: req.ClientID}, nil
}
func (s *stubBroker) CancelOrder(context.Context, string) (bool, error) { s.calls++; return true, nil }
func (s *stubBroker) ModifyOrderPrice(_ context.Context, id string, _ float64) (string, error) {
	s.calls++
	return id, nil
}
func (s *stubBroker) GetOrderStatus(context.Context, string) (OrderStatus, error) {
	s.calls++
	return StatusNew, nil
}
func (s *stubBroker) GetFills(context.Context, string) (Fill, error) { s.calls++; return Fill{}, nil }
func (s *stubBroker) GetOptionChain(context.Context, string) (OptionChain, error) {
	s.calls++
	return OptionChain{}, nil
}
func (s *stubBroker) CheckSufficientCash(context.Context, float64) (bool, error) {
	s.calls++
	return true, nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{errors.New("insufficient buying power"), KindRejected},
		{errors.New("HTTP 429: too many requests"), KindRateLimited},
		{errors.New("dial tcp: connection refused"), KindUnavailable},
		{context.DeadlineExceeded, KindUnavailable},
		{ErrNoContract, KindInvalidContract},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.kind, KindOf(Classify("op", tc.err)))
		})
	}
	assert.Nil(t, Classify("op", nil))
}

func TestGuardedReportsToSupervisor(t *testing.T) {
	inner := &stubBroker{placeErr: errors.New("connection reset by peer")}
	sup := NewSupervisor(func(context.Context) error { return nil }, Backoff{Base: time.Millisecond}, 2, zap.NewNop())
	g := NewGuarded(inner, sup, 0, time.Second)

	var observed []string
	g.SetObserver(func(op string, _ time.Duration, _ error) { observed = append(observed, op) })

	_, err := g.PlaceOrder(context.Background(), OrderRequest{ClientID: "c"})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, StateDegraded, sup.Health().State)

	_, err = g.PlaceOrder(context.Background(), OrderRequest{ClientID: "c"})
	require.Error(t, err)
	assert.Equal(t, StateReconnecting, sup.Health().State)

	callsBefore := inner.calls
	_, err = g.Qualify(context.Background(), "SPY")
	require.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.Equal(t, callsBefore, inner.calls, "unhealthy broker is not called")
	assert.Equal(t, []string{"place_order", "place_order"}, observed)
}

func TestGuardedLastPriceWithoutSource(t *testing.T) {
	g := NewGuarded(&stubBroker{}, nil, 5, time.Second)
	_, err := g.LastPrice(context.Background(), "SPY")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}
