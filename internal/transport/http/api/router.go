package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"autotrader/internal/config"
	"autotrader/internal/decision"
	"autotrader/internal/engine"
	"autotrader/internal/orders"
	"autotrader/internal/queue"
	"autotrader/internal/quota"

	"github.com/gin-gonic/gin"
)

// Controller is the slice of the orchestrator the API drives.
type Controller interface {
	Start() error
	Stop(reason string) error
	Pause(reason string) error
	Resume() error
	Config() config.BotConfig
	UpdateConfig(ctx context.Context, cfg config.BotConfig) error
	RunScan(ctx context.Context) (engine.ScanReport, error)
	PublishPrice(symbol string, price float64) error
	CancelOrder(ctx context.Context, id string) bool
	CancelTrade(ctx context.Context, id string) bool
	Status() engine.Status
	QuotaUsage() []quota.Info
	Orders(activeOnly bool) []orders.Order
	Queue() []queue.Trade
	History(limit int) []queue.Trade
	Decisions(limit int) []decision.Decision
}

const maxListLimit = 500

type Router struct {
	ctrl Controller
}

func NewRouter(ctrl Controller) *Router {
	return &Router{ctrl: ctrl}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.POST("/bot/start", r.handleStart)
	group.POST("/bot/stop", r.handleStop)
	group.POST("/bot/pause", r.handlePause)
	group.POST("/bot/resume", r.handleResume)
	group.GET("/config", r.handleGetConfig)
	group.PUT("/config", r.handlePutConfig)
	group.POST("/scan", r.handleScan)
	group.POST("/prices", r.handlePrice)
	group.GET("/quota", r.handleQuota)
	group.GET("/orders", r.handleOrders)
	group.DELETE("/orders/:id", r.handleCancelOrder)
	group.GET("/queue", r.handleQueue)
	group.DELETE("/queue/:id", r.handleCancelTrade)
	group.GET("/history", r.handleHistory)
	group.GET("/decisions", r.handleDecisions)
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctrl.Status())
}

func (r *Router) handleStart(c *gin.Context) {
	r.transition(c, func(string) error { return r.ctrl.Start() })
}

func (r *Router) handleStop(c *gin.Context) {
	r.transition(c, r.ctrl.Stop)
}

func (r *Router) handlePause(c *gin.Context) {
	r.transition(c, r.ctrl.Pause)
}

func (r *Router) handleResume(c *gin.Context) {
	r.transition(c, func(string) error { return r.ctrl.Resume() })
}

func (r *Router) transition(c *gin.Context, fn func(reason string) error) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := fn(req.Reason); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r.ctrl.Status())
}

func (r *Router) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, toDTO(r.ctrl.Config()))
}

// handlePutConfig accepts a partial document; absent fields keep their
// current values.
func (r *Router) handlePutConfig(c *gin.Context) {
	dto := toDTO(r.ctrl.Config())
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := json.Unmarshal(body, &dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config json: " + err.Error()})
		return
	}
	cfg, err := dto.toConfig()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.ctrl.UpdateConfig(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toDTO(r.ctrl.Config()))
}

func (r *Router) handleScan(c *gin.Context) {
	report, err := r.ctrl.RunScan(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, report)
	case errors.Is(err, engine.ErrMarketClosed), errors.Is(err, engine.ErrDrawdownBreached):
		c.JSON(http.StatusOK, gin.H{"gate": err.Error(), "report": report})
	default:
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "report": report})
	}
}

func (r *Router) handlePrice(c *gin.Context) {
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.ctrl.PublishPrice(req.Symbol, req.Price); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (r *Router) handleQuota(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": r.ctrl.QuotaUsage()})
}

func (r *Router) handleOrders(c *gin.Context) {
	active, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))
	c.JSON(http.StatusOK, gin.H{"orders": r.ctrl.Orders(active)})
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	if !r.ctrl.CancelOrder(c.Request.Context(), c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found or not open"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (r *Router) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": r.ctrl.Queue()})
}

func (r *Router) handleCancelTrade(c *gin.Context) {
	if !r.ctrl.CancelTrade(c.Request.Context(), c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trade not found or not pending"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (r *Router) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": r.ctrl.History(listLimit(c))})
}

func (r *Router) handleDecisions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"decisions": r.ctrl.Decisions(listLimit(c))})
}

func listLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, engine.ErrEmergencyStop):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
