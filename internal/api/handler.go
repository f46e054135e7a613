// Package api exposes check records, archives and the engine entry points
// over HTTP for operators.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/amartya2002/uptime-monitor/checks"
	"github.com/amartya2002/uptime-monitor/logstore"
	"github.com/amartya2002/uptime-monitor/store"
	"github.com/amartya2002/uptime-monitor/uptime"
)

// Engine is the part of the monitor the API can trigger.
type Engine interface {
	RunAllChecksOnce(ctx context.Context) uptime.CycleReport
	RotateLogsOnce(ctx context.Context) (uptime.RotationReport, error)
}

// Archives gives read access to rotated logs.
type Archives interface {
	Archives(id string) ([]string, error)
	Decompress(archiveID string) ([]byte, error)
}

type Handler struct {
	checks   *checks.Repository
	engine   Engine
	archives Archives
	logger   *zap.Logger
}

func NewHandler(repo *checks.Repository, engine Engine, archives Archives, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{checks: repo, engine: engine, archives: archives, logger: logger}
}

// RegisterRoutes mounts every endpoint on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.health)

	r.GET("/checks", h.listChecks)
	r.POST("/checks", h.createCheck)
	r.GET("/checks/:id", h.getCheck)
	r.PUT("/checks/:id", h.updateCheck)
	r.DELETE("/checks/:id", h.deleteCheck)
	r.GET("/checks/:id/archives", h.listArchives)

	r.GET("/archives/:archiveId", h.getArchive)

	r.POST("/admin/run", h.runChecks)
	r.POST("/admin/rotate", h.rotateLogs)
}

// NewRouter returns a gin engine with recovery, request logging and every
// route registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))
	h.RegisterRoutes(r)
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createCheckRequest struct {
	OwnerID        string `json:"ownerId" binding:"required"`
	Protocol       string `json:"protocol" binding:"required"`
	URL            string `json:"url" binding:"required"`
	Method         string `json:"method" binding:"required"`
	SuccessCodes   []int  `json:"successCodes" binding:"required"`
	TimeoutSeconds int    `json:"timeoutSeconds" binding:"required"`
}

// updateCheckRequest edits user-owned fields only; state and lastCheckedAt
// belong to the engine.
type updateCheckRequest struct {
	Protocol       *string `json:"protocol"`
	URL            *string `json:"url"`
	Method         *string `json:"method"`
	SuccessCodes   []int   `json:"successCodes"`
	TimeoutSeconds *int    `json:"timeoutSeconds"`
}

func (r updateCheckRequest) empty() bool {
	return r.Protocol == nil && r.URL == nil && r.Method == nil && r.SuccessCodes == nil && r.TimeoutSeconds == nil
}

func (h *Handler) listChecks(c *gin.Context) {
	ids, err := h.checks.IDs(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]checks.Check, 0, len(ids))
	var invalid []string
	for _, id := range ids {
		chk, err := h.checks.Get(c.Request.Context(), id)
		var verr *checks.ValidationError
		switch {
		case errors.As(err, &verr):
			invalid = append(invalid, id)
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			h.fail(c, err)
			return
		default:
			out = append(out, chk)
		}
	}
	c.JSON(http.StatusOK, gin.H{"checks": out, "invalid": invalid})
}

func (h *Handler) createCheck(c *gin.Context) {
	var req createCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := h.checks.Create(c.Request.Context(), checks.Check{
		OwnerID:        req.OwnerID,
		Protocol:       checks.Protocol(req.Protocol),
		URL:            req.URL,
		Method:         checks.Method(req.Method),
		SuccessCodes:   req.SuccessCodes,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("Check created", zap.String("check_id", created.ID), zap.String("url", created.Target()))
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) getCheck(c *gin.Context) {
	chk, err := h.checks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chk)
}

func (h *Handler) updateCheck(c *gin.Context) {
	var req updateCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing fields to update"})
		return
	}
	updated, err := h.checks.Modify(c.Request.Context(), c.Param("id"), func(chk *checks.Check) error {
		if req.Protocol != nil {
			chk.Protocol = checks.Protocol(*req.Protocol)
		}
		if req.URL != nil {
			chk.URL = *req.URL
		}
		if req.Method != nil {
			chk.Method = checks.Method(*req.Method)
		}
		if req.SuccessCodes != nil {
			chk.SuccessCodes = req.SuccessCodes
		}
		if req.TimeoutSeconds != nil {
			chk.TimeoutSeconds = *req.TimeoutSeconds
		}
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) deleteCheck(c *gin.Context) {
	id := c.Param("id")
	if err := h.checks.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("Check deleted", zap.String("check_id", id))
	c.Status(http.StatusNoContent)
}

type archiveInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Age       string    `json:"age"`
}

func (h *Handler) listArchives(c *gin.Context) {
	ids, err := h.archives.Archives(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]archiveInfo, 0, len(ids))
	for _, id := range ids {
		_, at, ok := logstore.ParseArchiveID(id)
		if !ok {
			continue
		}
		out = append(out, archiveInfo{ID: id, CreatedAt: at.UTC(), Age: humanize.Time(at)})
	}
	c.JSON(http.StatusOK, gin.H{"archives": out})
}

func (h *Handler) getArchive(c *gin.Context) {
	content, err := h.archives.Decompress(c.Param("archiveId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/x-ndjson", content)
}

func (h *Handler) runChecks(c *gin.Context) {
	// A client that hangs up must not abort checks that are already running.
	report := h.engine.RunAllChecksOnce(context.WithoutCancel(c.Request.Context()))
	if report.Err != nil {
		h.fail(c, report.Err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) rotateLogs(c *gin.Context) {
	report, err := h.engine.RotateLogsOnce(c.Request.Context())
	if err != nil {
		var msgs []string
		for _, e := range multierr.Errors(err) {
			msgs = append(msgs, e.Error())
		}
		h.logger.Error("Rotation finished with errors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"report": report, "errors": msgs})
		return
	}
	c.JSON(http.StatusOK, report)
}

// fail maps store and validation errors to status codes. Anything unexpected
// is logged and reported as a 500 without details.
func (h *Handler) fail(c *gin.Context, err error) {
	var verr *checks.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := gin.H{}
		for _, f := range verr.Fields() {
			fields[f.Field] = f.Reason
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid check", "fields": fields})
	case errors.Is(err, store.ErrInvalidKey), errors.Is(err, logstore.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, logstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
