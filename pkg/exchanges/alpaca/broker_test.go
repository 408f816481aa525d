package alpaca

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"trendline-core/pkg/exchanges/common"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]common.OrderStatus{
		"new":              common.StatusNew,
		"pending_replace":  common.StatusNew,
		"partially_filled": common.StatusPartial,
		"filled":           common.StatusFilled,
		"replaced":         common.StatusCanceled,
		"canceled":         common.StatusCanceled,
		"rejected":         common.StatusRejected,
		"expired":          common.StatusExpired,
		"weird":            common.StatusUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapStatus(in), in)
	}
}

func TestOCCSymbol(t *testing.T) {
	exp := time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "SPY250117P00450000", OCCSymbol("spy", exp, common.RightPut, 450))
	assert.Equal(t, "AAPL250117C00187500", OCCSymbol("AAPL", exp, common.RightCall, 187.5))
}

func TestRunHonoursDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)

	_, err := run(ctx, func() (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
