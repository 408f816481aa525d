package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trendline-core/internal/events"
	"trendline-core/internal/state"
	"trendline-core/pkg/db"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	d, err := db.Open(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	d := newTestDB(t)
	bw := NewBatchWriter(d.DB, 3, time.Hour, zap.NewNop().Sugar())
	defer bw.Close()

	log := NewAuditLog(bw, nil)
	at := time.Date(2026, 10, 12, 15, 0, 0, 0, time.UTC)
	log.Record(events.Audit{BotID: "bot-1", Type: events.EntryFired, Payload: map[string]any{"line_id": "e1"}, At: at})
	log.Record(events.Audit{BotID: "bot-1", Type: events.OrderSubmitted, At: at})
	assert.Equal(t, 2, bw.Pending())

	log.Record(events.Audit{BotID: "bot-1", Type: events.OrderFilled, Payload: map[string]any{"fill_qty": 100}, At: at})
	assert.Zero(t, bw.Pending())

	got, err := d.ListBotEvents(context.Background(), "bot-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "entry_fired", got[0].Type)
	assert.JSONEq(t, `{"line_id":"e1"}`, string(got[0].Payload))
	assert.JSONEq(t, `{}`, string(got[1].Payload))
	assert.JSONEq(t, `{"fill_qty":100}`, string(got[2].Payload))

	m := bw.Metrics()
	assert.Equal(t, uint64(3), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
	assert.Equal(t, 3, m.LastBatchSize)
}

func TestBatchWriterCloseFlushes(t *testing.T) {
	d := newTestDB(t)
	bw := NewBatchWriter(d.DB, 100, time.Hour, nil)
	NewAuditLog(bw, nil).Record(events.Audit{BotID: "bot-2", Type: events.BotCreated, At: time.Now()})
	require.NoError(t, bw.Close())
	require.NoError(t, bw.Close())

	got, err := d.ListBotEvents(context.Background(), "bot-2", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBatchWriterRollsBackFailedBatch(t *testing.T) {
	d := newTestDB(t)
	bw := NewBatchWriter(d.DB, 100, time.Hour, nil)
	defer bw.Close()

	query, args := db.BotEventInsert(db.BotEvent{BotID: "bot-3", Type: "bot_created"})
	bw.WriteQuery(query, args...)
	bw.WriteQuery("INSERT INTO missing_table VALUES (1)")
	require.Error(t, bw.Flush())

	got, err := d.ListBotEvents(context.Background(), "bot-3", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, uint64(1), bw.Metrics().TotalErrors)
}

func TestCheckpointStore(t *testing.T) {
	s, err := NewMemoryCheckpointStore()
	require.NoError(t, err)
	defer s.Close()

	cp, err := s.Load("bot-1")
	require.NoError(t, err)
	assert.Nil(t, cp)

	now := time.Date(2026, 10, 12, 15, 0, 0, 0, time.UTC)
	stop := state.NewSlot(state.SlotStopLoss, "")
	stop.MarkSubmitted("ord-9", "tl-x", "STOP", 99.75, 50, now)
	in := state.Checkpoint{
		BotID:           "bot-1",
		FilledExitLines: []string{"x1"},
		ExitSlots:       map[string]state.Slot{"x2": {Kind: state.SlotExit, LineID: "x2", OrderID: "ord-2", Status: state.SlotSubmitted, Quantity: 50}},
		StopLoss:        stop,
		SoftStop:        state.SoftStopTimer{Active: true, StartedAt: now},
		MultiBuy:        state.MultiBuyTracker{Enabled: true, Lines: [2]string{"e1", "e2"}, Fired: [2]bool{true, false}},
		Allocation:      state.Allocation{Shares: 100, Lines: []string{"x1", "x2"}},
		SavedAt:         now,
	}
	require.NoError(t, s.Save(in))
	require.NoError(t, s.Save(state.Checkpoint{BotID: "bot-2", SavedAt: now}))

	out, err := s.Load("bot-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, []string{"x1"}, out.FilledExitLines)
	assert.Equal(t, "ord-2", out.ExitSlots["x2"].OrderID)
	assert.Equal(t, 99.75, out.StopLoss.Price)
	assert.True(t, out.SoftStop.StartedAt.Equal(now))
	assert.True(t, out.MultiBuy.Fired[0])
	assert.Equal(t, 100.0, out.Allocation.Shares)

	ids, err := s.IDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bot-1", "bot-2"}, ids)

	require.NoError(t, s.Delete("bot-1"))
	require.NoError(t, s.Delete("bot-1"))
	out, err = s.Load("bot-1")
	require.NoError(t, err)
	assert.Nil(t, out)

	assert.Error(t, s.Save(state.Checkpoint{}))
}
