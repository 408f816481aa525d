package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"trendline-core/internal/engine"
)

type createBotRequest struct {
	ChartID   string  `json:"chart_id" binding:"required,min=1"`
	TradeSize float64 `json:"trade_size" binding:"gte=0"`
}

type listEventsQuery struct {
	Limit int `form:"limit"`
}

func (q *listEventsQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine errors onto HTTP statuses.
func respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrBotNotFound):
		respondError(c, http.StatusNotFound, "BOT_NOT_FOUND", err.Error())
	case errors.Is(err, engine.ErrChartNotFound):
		respondError(c, http.StatusNotFound, "CHART_NOT_FOUND", err.Error())
	case errors.Is(err, engine.ErrBotFinished):
		respondError(c, http.StatusConflict, "BOT_FINISHED", err.Error())
	case errors.Is(err, engine.ErrInvalidBot):
		respondError(c, http.StatusUnprocessableEntity, "INVALID_BOT", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "ENGINE_ERROR", err.Error())
	}
}

func (s *Server) createBot(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	st, err := s.Engine.CreateBot(c.Request.Context(), engine.CreateBotRequest{
		ChartID:   strings.TrimSpace(req.ChartID),
		TradeSize: req.TradeSize,
	})
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (s *Server) listBots(c *gin.Context) {
	bots, err := s.Engine.ListBots(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	status := strings.ToUpper(c.Query("status"))
	if status != "" {
		filtered := bots[:0]
		for _, b := range bots {
			if b.Status == status {
				filtered = append(filtered, b)
			}
		}
		bots = filtered
	}
	c.JSON(http.StatusOK, gin.H{"bots": bots, "count": len(bots)})
}

func (s *Server) getBot(c *gin.Context) {
	st, err := s.Engine.GetBotStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) listBotEvents(c *gin.Context) {
	var q listEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()
	evs, err := s.Engine.ListBotEvents(c.Request.Context(), c.Param("id"), q.Limit)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs, "count": len(evs)})
}

func (s *Server) startBot(c *gin.Context) {
	id := c.Param("id")
	if err := s.Engine.StartBot(c.Request.Context(), id); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "started"})
}

// stopBot deactivates a bot. Working broker orders are left in place;
// cancel-orders removes them.
func (s *Server) stopBot(c *gin.Context) {
	id := c.Param("id")
	if err := s.Engine.StopBot(c.Request.Context(), id); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "stopped"})
}

func (s *Server) cancelOrders(c *gin.Context) {
	id := c.Param("id")
	n, err := s.Engine.CancelOrders(c.Request.Context(), id)
	if err != nil {
		if n == 0 {
			respondEngineError(c, err)
			return
		}
		c.JSON(http.StatusMultiStatus, gin.H{"id": id, "cancelled": n, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "cancelled": n})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	out := gin.H{}
	if s.Metrics != nil {
		out["engine"] = s.Metrics.GetSnapshot()
	}
	if s.Writer != nil {
		out["audit_writer"] = s.Writer.Metrics()
	}
	if s.Bus != nil {
		out["bus_dropped"] = s.Bus.Dropped()
	}
	c.JSON(http.StatusOK, out)
}
