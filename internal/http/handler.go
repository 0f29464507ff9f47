// Package http serves the operations API of the daily pipeline.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/store/catalog"
	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
	"github.com/alberthnahas/sentinel-no2-daily/internal/usecase"
)

const dateLayout = "2006-01-02"

// RunCatalog is the read side of the run catalog.
type RunCatalog interface {
	GetRun(ctx context.Context, id string) (*catalog.Run, error)
	ListRuns(ctx context.Context, limit int) ([]catalog.Run, error)
	Artifacts(ctx context.Context, date time.Time) ([]domain.GridArtifact, error)
}

// Handler handles HTTP requests for pipeline runs and artifacts.
type Handler struct {
	pipeline *usecase.Pipeline
	runner   *usecase.Runner
	catalog  RunCatalog
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a new HTTP handler. runs may be nil when the catalog is disabled.
func NewHandler(pipeline *usecase.Pipeline, runner *usecase.Runner, runs RunCatalog, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pipeline: pipeline,
		runner:   runner,
		catalog:  runs,
		logger:   logger,
		now:      time.Now,
	}
}

// GetTiles handles GET /v1/tiles.
func (h *Handler) GetTiles(c *gin.Context) {
	tiles, err := h.pipeline.Tiles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	opts := h.pipeline.Options()
	c.JSON(http.StatusOK, gin.H{
		"extent":    opts.Extent,
		"divisions": opts.Divisions,
		"tiles":     tiles,
		"count":     len(tiles),
	})
}

// StartRunRequest is the body of POST /v1/runs.
type StartRunRequest struct {
	Date string `json:"date"`
}

// StartRun handles POST /v1/runs.
func (h *Handler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
			return
		}
	}

	date := h.now().UTC()
	if req.Date != "" {
		d, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid date (expected YYYY-MM-DD): %v", err)})
			return
		}
		date = d
	}

	state, err := h.runner.Start(date)
	switch {
	case errors.Is(err, usecase.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "run_id": state.RunID})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("run accepted", zap.String("run_id", state.RunID), zap.String("date", state.Date.Format(dateLayout)))
	c.Header("Location", "/v1/runs/"+state.RunID)
	c.JSON(http.StatusAccepted, state)
}

// ListRuns handles GET /v1/runs.
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	if h.catalog == nil {
		runs := h.runner.List()
		if len(runs) > limit {
			runs = runs[:limit]
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
		return
	}

	runs, err := h.catalog.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []catalog.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetRun handles GET /v1/runs/:id.
func (h *Handler) GetRun(c *gin.Context) {
	id := c.Param("id")

	if state, ok := h.runner.Get(id); ok {
		c.JSON(http.StatusOK, state)
		return
	}
	if h.catalog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("run %s not found", id)})
		return
	}

	run, err := h.catalog.GetRun(c.Request.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("run %s not found", id)})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetArtifacts handles GET /v1/artifacts?date=YYYY-MM-DD.
func (h *Handler) GetArtifacts(c *gin.Context) {
	if h.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run catalog is disabled"})
		return
	}
	dateStr := c.Query("date")
	if dateStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date parameter is required"})
		return
	}
	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid date (expected YYYY-MM-DD): %v", err)})
		return
	}

	arts, err := h.catalog.Artifacts(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":      dateStr,
		"artifacts": arts,
		"count":     len(arts),
	})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
