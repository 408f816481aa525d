package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trendline-core/internal/engine"
	"trendline-core/internal/events"
	"trendline-core/internal/monitor"
	"trendline-core/internal/persistence"
	"trendline-core/pkg/exchanges/common"
)

// WriterStats exposes the audit batch writer counters.
type WriterStats interface {
	Metrics() persistence.BatchWriterMetrics
}

// Server wires HTTP endpoints around the bot engine.
type Server struct {
	Router  *gin.Engine
	Engine  engine.Service
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	Writer  WriterStats
	Log     *zap.SugaredLogger
}

// Options tunes the middleware stack.
type Options struct {
	RatePerSecond float64
	RateBurst     int
	Timeout       time.Duration
}

func NewServer(svc engine.Service, bus *events.Bus, metrics *monitor.SystemMetrics, writer WriterStats, opts Options, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics, log))
	r.Use(RateLimitMiddleware(NewIPLimiter(opts.RatePerSecond, opts.RateBurst), log))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:  r,
		Engine:  svc,
		Bus:     bus,
		Metrics: metrics,
		Writer:  writer,
		Log:     log,
	}
	s.routes(opts.Timeout)
	return s
}

func (s *Server) routes(timeout time.Duration) {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(timeout, s.Log))
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		api.POST("/bots", s.createBot)
		api.GET("/bots", s.listBots)
		api.GET("/bots/:id", s.getBot)
		api.GET("/bots/:id/events", s.listBotEvents)

		// Bot actions
		api.POST("/bots/:id/start", s.startBot)
		api.POST("/bots/:id/stop", s.stopBot)
		api.POST("/bots/:id/cancel-orders", s.cancelOrders)
	}
}

func (s *Server) health(c *gin.Context) {
	st := s.Engine.GetSystemStatus(c.Request.Context())
	code, status := http.StatusOK, "ok"
	if st.Broker.State == common.StateFailed {
		code, status = http.StatusServiceUnavailable, "broker_failed"
	}
	c.JSON(code, gin.H{"status": status, "broker": st.Broker.State, "active_bots": st.ActiveBots})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
