package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
	"github.com/kurihiro0119/issue-watch-bots/internal/logging"
	"github.com/kurihiro0119/issue-watch-bots/internal/status"
)

// Handler handles API requests
type Handler struct {
	reporter status.Reporter
	logger   logging.Logger
}

// NewHandler creates a new API handler
func NewHandler(reporter status.Reporter, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		reporter: reporter,
		logger:   logger,
	}
}

// GetBots returns the status of every bot
// GET /api/v1/bots
func (h *Handler) GetBots(c *gin.Context) {
	bots, err := h.reporter.Bots(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": bots,
	})
}

// GetBotRuns returns the recent runs of one bot
// GET /api/v1/bots/:bot/runs?limit=
func (h *Handler) GetBotRuns(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	runs, err := h.reporter.BotRuns(c.Request.Context(), c.Param("bot"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetWorkUnits returns recently emitted work units
// GET /api/v1/work?bot=&kind=&since=&limit=
func (h *Handler) GetWorkUnits(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	filter := domain.WorkUnitFilter{
		Bot:   c.Query("bot"),
		Kind:  domain.WorkKind(c.Query("kind")),
		Limit: limit,
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			h.respondError(c, apperrors.NewBadRequestError("since must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = t
	}

	units, err := h.reporter.WorkUnits(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": units,
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// parseLimit parses the optional limit query parameter
func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, apperrors.NewBadRequestError("limit must be a non-negative integer")
	}
	return limit, nil
}

// statusFor maps an error code to an HTTP status
func statusFor(code apperrors.ErrCode) int {
	switch code {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	case apperrors.ErrCodeBadRequest:
		return http.StatusBadRequest
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError sends an error response
func (h *Handler) respondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	httpStatus := statusFor(code)
	if httpStatus >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}

	c.JSON(httpStatus, gin.H{
		"error": gin.H{
			"code":    code,
			"message": err.Error(),
		},
	})
}
