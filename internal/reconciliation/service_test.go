package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendline-core/internal/state"
	"trendline-core/internal/strategy"
	"trendline-core/pkg/db"
)

type memStore struct {
	mu    sync.Mutex
	saved map[string]db.BotInstance
	fail  map[string]error
}

func (m *memStore) SaveBotState(_ context.Context, b db.BotInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[b.ID]; err != nil {
		return err
	}
	m.saved[b.ID] = b
	return nil
}

type memCheckpoints struct {
	saved map[string]state.Checkpoint
}

func (m *memCheckpoints) Save(cp state.Checkpoint) error {
	m.saved[cp.BotID] = cp
	return nil
}

func newBot(id string, openShares float64) *state.Bot {
	rec := db.BotInstance{ID: id, Symbol: "AAPL", Strategy: "spot", Active: true, Bought: openShares > 0, SharesEntered: openShares, OpenShares: openShares}
	return state.NewBot(rec, strategy.Spot, db.RiskConfiguration{Bucket: "15m"}, strategy.Classification{})
}

func TestSyncFlushesActiveBots(t *testing.T) {
	reg := state.NewRegistry()
	reg.Add(newBot("a", 10))
	reg.Add(newBot("b", 0))
	done := newBot("c", 0)
	done.Finish(db.BotCompleted, time.Now())
	reg.Add(done)

	store := &memStore{saved: map[string]db.BotInstance{}}
	cps := &memCheckpoints{saved: map[string]state.Checkpoint{}}
	svc := NewService(reg, store, cps, time.Second, nil)

	report := svc.Sync(context.Background())
	assert.Equal(t, 2, report.Flushed)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 10.0, store.saved["a"].OpenShares)
	assert.NotContains(t, store.saved, "c", "finished bots are persisted by the engine")
	assert.Contains(t, cps.saved, "b")
	assert.Same(t, report, svc.LastReport())
}

func TestSyncSwallowsStoreErrors(t *testing.T) {
	reg := state.NewRegistry()
	reg.Add(newBot("a", 10))
	reg.Add(newBot("b", 5))

	store := &memStore{
		saved: map[string]db.BotInstance{},
		fail:  map[string]error{"a": errors.New("database is locked")},
	}
	svc := NewService(reg, store, nil, time.Second, nil)

	report := svc.Sync(context.Background())
	require.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Flushed)
	assert.Equal(t, "database is locked", report.Errors["a"])
	assert.Contains(t, store.saved, "b")

	store.fail = nil
	report = svc.Sync(context.Background())
	assert.Equal(t, 2, report.Flushed)
}
