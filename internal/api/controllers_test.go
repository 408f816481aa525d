package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendline-core/internal/engine"
	"trendline-core/internal/events"
	"trendline-core/internal/monitor"
	"trendline-core/internal/persistence"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/common"
)

type fakeEngine struct {
	bots      map[string]db.BotInstance
	started   []string
	stopped   []string
	cancelled int
	cancelErr error
}

func (f *fakeEngine) CreateBot(_ context.Context, req engine.CreateBotRequest) (*engine.BotStatus, error) {
	if req.ChartID != "chart-1" {
		return nil, fmt.Errorf("%s: %w", req.ChartID, engine.ErrChartNotFound)
	}
	b := db.BotInstance{ID: "bot-new", ChartID: req.ChartID, TradeSize: req.TradeSize, Status: db.BotActive, Active: true}
	f.bots[b.ID] = b
	return &engine.BotStatus{Bot: b, Registered: true}, nil
}

func (f *fakeEngine) StartBot(_ context.Context, id string) error {
	b, ok := f.bots[id]
	if !ok {
		return engine.ErrBotNotFound
	}
	if b.Status == db.BotCompleted {
		return engine.ErrBotFinished
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeEngine) StopBot(_ context.Context, id string) error {
	if _, ok := f.bots[id]; !ok {
		return engine.ErrBotNotFound
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeEngine) CancelOrders(context.Context, string) (int, error) {
	return f.cancelled, f.cancelErr
}

func (f *fakeEngine) GetBotStatus(_ context.Context, id string) (*engine.BotStatus, error) {
	b, ok := f.bots[id]
	if !ok {
		return nil, engine.ErrBotNotFound
	}
	return &engine.BotStatus{Bot: b}, nil
}

func (f *fakeEngine) ListBots(context.Context) ([]db.BotInstance, error) {
	out := make([]db.BotInstance, 0, len(f.bots))
	for _, b := range f.bots {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeEngine) ListBotEvents(_ context.Context, id string, limit int) ([]db.BotEvent, error) {
	if _, ok := f.bots[id]; !ok {
		return nil, engine.ErrBotNotFound
	}
	return []db.BotEvent{{ID: 1, BotID: id, Type: string(events.BotCreated), Payload: json.RawMessage(`{}`)}}, nil
}

func (f *fakeEngine) GetSystemStatus(context.Context) *engine.SystemStatus {
	return &engine.SystemStatus{Venue: "paper", Broker: common.Health{State: common.StateConnected}, ActiveBots: len(f.bots)}
}

type fakeWriter struct{}

func (fakeWriter) Metrics() persistence.BatchWriterMetrics {
	return persistence.BatchWriterMetrics{TotalWrites: 3}
}

func newTestServer(t *testing.T) (*Server, *fakeEngine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	eng := &fakeEngine{bots: map[string]db.BotInstance{
		"bot-1":  {ID: "bot-1", Status: db.BotActive, Active: true},
		"bot-ok": {ID: "bot-ok", Status: db.BotCompleted},
	}}
	s := NewServer(eng, events.NewBus(), monitor.NewSystemMetrics(), fakeWriter{}, Options{RatePerSecond: 1000, RateBurst: 1000}, nil)
	return s, eng
}

func do(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateBotEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/api/bots", map[string]any{"chart_id": "chart-1", "trade_size": 25})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "bot-new", body["bot"].(map[string]any)["id"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(s, http.MethodPost, "/api/bots", map[string]any{"chart_id": "gone"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "CHART_NOT_FOUND", decode(t, w)["code"])

	w = do(s, http.MethodPost, "/api/bots", map[string]any{"trade_size": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBotActions(t *testing.T) {
	s, eng := newTestServer(t)

	w := do(s, http.MethodPost, "/api/bots/bot-1/start", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(s, http.MethodPost, "/api/bots/bot-1/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"bot-1"}, eng.started)
	assert.Equal(t, []string{"bot-1"}, eng.stopped)

	w = do(s, http.MethodPost, "/api/bots/bot-ok/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(s, http.MethodPost, "/api/bots/nope/stop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	eng.cancelled = 3
	w = do(s, http.MethodPost, "/api/bots/bot-1/cancel-orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["cancelled"])

	eng.cancelled, eng.cancelErr = 1, fmt.Errorf("cancel paper-9: %w", common.ErrBrokerUnavailable)
	w = do(s, http.MethodPost, "/api/bots/bot-1/cancel-orders", nil)
	assert.Equal(t, http.StatusMultiStatus, w.Code)
}

func TestBotQueries(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/api/bots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	w = do(s, http.MethodGet, "/api/bots?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = do(s, http.MethodGet, "/api/bots/bot-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bot-1", decode(t, w)["bot"].(map[string]any)["id"])

	w = do(s, http.MethodGet, "/api/bots/bot-1/events?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = do(s, http.MethodGet, "/api/bots/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CONNECTED", decode(t, w)["broker"])

	do(s, http.MethodGet, "/api/bots/missing", nil)
	w = do(s, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 3, body["audit_writer"].(map[string]any)["total_writes"])
	engineStats := body["engine"].(map[string]any)
	assert.GreaterOrEqual(t, engineStats["api_errors"].(float64), 1.0)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	eng := &fakeEngine{bots: map[string]db.BotInstance{}}
	s := NewServer(eng, nil, nil, nil, Options{RatePerSecond: 1, RateBurst: 2}, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(s, http.MethodGet, "/api/bots", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestWebsocketStreamsAudit(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?bot_id=bot-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Bus.Subscribers(events.EventBotAudit) == 1 }, time.Second, 10*time.Millisecond)
	s.Bus.Publish(events.EventBotAudit, events.Audit{BotID: "bot-2", Type: events.EntryFired})
	s.Bus.Publish(events.EventBotAudit, events.Audit{BotID: "bot-1", Type: events.OrderFilled})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Audit
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "bot-1", got.BotID)
	assert.Equal(t, events.OrderFilled, got.Type)
}
