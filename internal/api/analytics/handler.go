package analytics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
	usagesvc "github.com/emirks/tercihify-chat/internal/services/usage"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

const (
	defaultHours   = 24
	maxHours       = 24 * 31
	defaultMinutes = 60
	maxMinutes     = 24 * 60
	defaultDays    = 7
	maxDays        = 366
)

// Service is the analytics read side served over HTTP
type Service interface {
	TokenUsageSummary(ctx context.Context, filter usage.Filter) (*usage.TokenUsageSummary, error)
	HighUsageSessions(ctx context.Context, filter usage.Filter, limit int, minTokens int64) ([]usage.SessionUsage, error)
	ModelUsageSummary(ctx context.Context, filter usage.Filter) ([]usage.ModelUsage, error)
	HourlyUsage(ctx context.Context, filter usage.Filter) ([]usage.UsageBucket, error)
	MinuteUsage(ctx context.Context, filter usage.Filter) ([]usage.UsageBucket, error)
	SessionAnalytics(ctx context.Context, sessionID string) (*usage.SessionAnalytics, error)
	DailyRollups(ctx context.Context, days int) ([]usage.DailyModelRollup, error)
	WarehouseModelTotals(ctx context.Context, days int) ([]usage.ModelUsage, error)
	WarehouseDailyTotals(ctx context.Context, userID string, days int) ([]usage.UsageBucket, error)
}

// Handler serves /api/usage
type Handler struct {
	service Service
	log     *logger.Logger
	now     func() time.Time
}

// NewHandler creates the analytics handler
func NewHandler(service Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With("component", "analytics_api"),
		now:     time.Now,
	}
}

// RegisterRoutes mounts the analytics routes under /api/usage
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/api/usage")
	g.GET("/summary", h.Summary)
	g.GET("/sessions/top", h.TopSessions)
	g.GET("/sessions/:sessionId", h.Session)
	g.GET("/models", h.Models)
	g.GET("/hourly", h.Hourly)
	g.GET("/minutes", h.Minutes)
	g.GET("/rollups", h.Rollups)
	g.GET("/warehouse/models", h.WarehouseModels)
	g.GET("/warehouse/daily", h.WarehouseDaily)
}

// Summary godoc: GET /api/usage/summary?window&start&end&userId&sessionId
func (h *Handler) Summary(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	summary, err := h.service.TokenUsageSummary(c.Request.Context(), filter)
	h.respond(c, summary, err)
}

// TopSessions godoc: GET /api/usage/sessions/top?limit&minTokens
func (h *Handler) TopSessions(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	limit, err := intQuery(c, "limit", usagesvc.DefaultHighUsageLimit, usagesvc.MaxHighUsageLimit)
	if err != nil {
		h.fail(c, err)
		return
	}
	minTokens := int64(0)
	if raw := c.Query("minTokens"); raw != "" {
		minTokens, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || minTokens < 0 {
			h.fail(c, invalidParam("minTokens", "a non-negative integer", raw))
			return
		}
	}

	sessions, err := h.service.HighUsageSessions(c.Request.Context(), filter, limit, minTokens)
	h.respond(c, sessions, err)
}

// Models godoc: GET /api/usage/models
func (h *Handler) Models(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	models, err := h.service.ModelUsageSummary(c.Request.Context(), filter)
	h.respond(c, models, err)
}

// Hourly godoc: GET /api/usage/hourly?hours. Without hours the common window applies.
func (h *Handler) Hourly(c *gin.Context) {
	filter, err := h.trailingFilter(c, "hours", defaultHours, maxHours, usage.TrailingHours)
	if err != nil {
		h.fail(c, err)
		return
	}
	buckets, err := h.service.HourlyUsage(c.Request.Context(), filter)
	h.respond(c, buckets, err)
}

// Minutes godoc: GET /api/usage/minutes?minutes
func (h *Handler) Minutes(c *gin.Context) {
	filter, err := h.trailingFilter(c, "minutes", defaultMinutes, maxMinutes, usage.TrailingMinutes)
	if err != nil {
		h.fail(c, err)
		return
	}
	buckets, err := h.service.MinuteUsage(c.Request.Context(), filter)
	h.respond(c, buckets, err)
}

// Session godoc: GET /api/usage/sessions/:sessionId
func (h *Handler) Session(c *gin.Context) {
	analytics, err := h.service.SessionAnalytics(c.Request.Context(), c.Param("sessionId"))
	h.respond(c, analytics, err)
}

// Rollups godoc: GET /api/usage/rollups?days
func (h *Handler) Rollups(c *gin.Context) {
	days, err := intQuery(c, "days", defaultDays, maxDays)
	if err != nil {
		h.fail(c, err)
		return
	}
	rollups, err := h.service.DailyRollups(c.Request.Context(), days)
	h.respond(c, rollups, err)
}

// WarehouseModels godoc: GET /api/usage/warehouse/models?days
func (h *Handler) WarehouseModels(c *gin.Context) {
	days, err := intQuery(c, "days", defaultDays, maxDays)
	if err != nil {
		h.fail(c, err)
		return
	}
	models, err := h.service.WarehouseModelTotals(c.Request.Context(), days)
	h.respond(c, models, err)
}

// WarehouseDaily godoc: GET /api/usage/warehouse/daily?days&userId
func (h *Handler) WarehouseDaily(c *gin.Context) {
	days, err := intQuery(c, "days", defaultDays, maxDays)
	if err != nil {
		h.fail(c, err)
		return
	}
	buckets, err := h.service.WarehouseDailyTotals(c.Request.Context(), c.Query("userId"), days)
	h.respond(c, buckets, err)
}

func (h *Handler) trailingFilter(
	c *gin.Context,
	param string,
	def, max int,
	trailing func(int, time.Time) usage.Filter,
) (usage.Filter, error) {
	if c.Query(param) == "" && (c.Query("window") != "" || c.Query("start") != "" || c.Query("end") != "") {
		return parseFilter(c)
	}

	n, err := intQuery(c, param, def, max)
	if err != nil {
		return usage.Filter{}, err
	}
	filter := trailing(n, h.now())
	filter.UserID = c.Query("userId")
	filter.SessionID = c.Query("sessionId")
	return filter, nil
}

func (h *Handler) respond(c *gin.Context, data interface{}, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	var domainErr *errors.DomainError
	switch {
	case errors.As(err, &domainErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": domainErr.Message, "code": domainErr.Code})
	case errors.Is(err, errors.ErrInvalidTimeWindow):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_time_window"})
	case errors.Is(err, errors.ErrInvalidInput):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
	default:
		h.log.Errorw("Analytics request failed", "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func invalidParam(name, want, got string) error {
	return errors.NewDomainError("invalid_parameter", fmt.Sprintf("%s must be %s, got %q", name, want, got), errors.ErrInvalidInput)
}

// parseFilter reads window, start, end (RFC3339), userId and sessionId.
// start/end without a window select a custom window.
func parseFilter(c *gin.Context) (usage.Filter, error) {
	filter := usage.Filter{
		Window:    usage.TimeWindow(c.Query("window")),
		UserID:    c.Query("userId"),
		SessionID: c.Query("sessionId"),
	}

	for _, p := range []struct {
		name string
		dest *time.Time
	}{{"start", &filter.Start}, {"end", &filter.End}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return usage.Filter{}, invalidParam(p.name, "an RFC3339 timestamp", raw)
		}
		*p.dest = t
	}

	if filter.Window == "" && (!filter.Start.IsZero() || !filter.End.IsZero()) {
		filter.Window = usage.WindowCustom
	}
	if err := filter.Validate(); err != nil {
		return usage.Filter{}, err
	}
	return filter, nil
}

func intQuery(c *gin.Context, name string, def, max int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, invalidParam(name, "a positive integer", raw)
	}
	if n > max {
		n = max
	}
	return n, nil
}
