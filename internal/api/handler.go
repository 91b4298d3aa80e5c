// Package api exposes the candle service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"qxGateway/internal/app"
	"qxGateway/internal/auth"
	"qxGateway/internal/ports"
)

// CandleService is what the handlers need from the application layer.
type CandleService interface {
	LastCandles(ctx context.Context, asset string, count, period int) (*app.CandleBatch, error)
	RangeCandles(ctx context.Context, asset string, period, offset int) (*app.CandleBatch, error)
	Status() app.SessionStatus
}

// CodeSink accepts two-factor codes for a login waiting on one.
type CodeSink interface {
	Pending() (string, bool)
	Submit(code string) error
}

// Handler serves the HTTP routes.
type Handler struct {
	svc    CandleService
	codes  CodeSink // nil when codes are read from the terminal
	logger ports.Logger
}

// NewHandler creates a Handler. codes may be nil.
func NewHandler(svc CandleService, codes CodeSink, logger ports.Logger) (*Handler, error) {
	if svc == nil || logger == nil {
		return nil, errors.New("candle service and logger are required for API handler")
	}
	return &Handler{svc: svc, codes: codes, logger: logger}, nil
}

// RegisterRoutes mounts the handler's routes on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/candles/last", h.LastCandles)
	r.GET("/candles/range", h.RangeCandles)
	r.GET("/session", h.Session)
	if h.codes != nil {
		r.POST("/auth/code", h.SubmitCode)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) LastCandles(c *gin.Context) {
	count, ok := intQuery(c, "count", app.DefaultCount)
	if !ok {
		return
	}
	period, ok := intQuery(c, "period", app.DefaultPeriod)
	if !ok {
		return
	}
	batch, err := h.svc.LastCandles(c.Request.Context(), c.Query("asset"), count, period)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (h *Handler) RangeCandles(c *gin.Context) {
	period, ok := intQuery(c, "period", app.DefaultPeriod)
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset", app.DefaultOffset)
	if !ok {
		return
	}
	batch, err := h.svc.RangeCandles(c.Request.Context(), c.Query("asset"), period, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (h *Handler) Session(c *gin.Context) {
	status := h.svc.Status()
	body := gin.H{"state": status.State, "has_token": status.HasToken}
	if h.codes != nil {
		if prompt, waiting := h.codes.Pending(); waiting {
			body["code_prompt"] = prompt
		}
	}
	c.JSON(http.StatusOK, body)
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) SubmitCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "code is required"})
		return
	}
	if err := h.codes.Submit(strings.TrimSpace(req.Code)); err != nil {
		if errors.Is(err, auth.ErrNoPendingCode) {
			c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	h.logger.Info(c.Request.Context(), "Two-factor code accepted", map[string]interface{}{"requestID": c.GetString(requestIDKey)})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, ports.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	h.logger.Error(c.Request.Context(), err, "Request failed", map[string]interface{}{
		"path":      c.FullPath(),
		"requestID": c.GetString(requestIDKey),
	})
	c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
}

// intQuery reads an integer query parameter, answering 400 itself when it is malformed.
func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": key + " must be an integer"})
		return 0, false
	}
	return v, true
}
