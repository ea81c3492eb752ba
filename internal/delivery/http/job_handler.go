package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/domain"
)

// JobQueue is the part of the job queue exposed over HTTP.
type JobQueue interface {
	Enqueue(ctx context.Context, spec domain.JobSpec, opts domain.EnqueueOptions) (uuid.UUID, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*domain.JobStatus, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// EnqueueRequest is the body of POST /api/v1/jobs.
type EnqueueRequest struct {
	Code      string `json:"code" binding:"required"`
	Language  string `json:"language" binding:"required"`
	Input     string `json:"input"`
	UserID    string `json:"userId,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	ID        string `json:"id,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty" binding:"gte=0"`
}

// EnqueueResponse acknowledges an accepted job.
type EnqueueResponse struct {
	JobID  uuid.UUID           `json:"jobId"`
	Status domain.PublicStatus `json:"status"`
}

// JobHandler handles single-job requests.
type JobHandler struct {
	queue   JobQueue
	catalog Catalog
	logger  *zap.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(queue JobQueue, catalog Catalog, logger *zap.Logger) *JobHandler {
	return &JobHandler{queue: queue, catalog: catalog, logger: logger}
}

// Enqueue handles POST /api/v1/jobs
func (h *JobHandler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if !bindJSON(c, &req) {
		return
	}
	if _, ok := h.catalog.Lookup(req.Language); !ok {
		err := &domain.UnsupportedLanguageError{Language: req.Language, Supported: h.catalog.Languages()}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "supported": err.Supported})
		return
	}

	id, err := h.queue.Enqueue(c.Request.Context(), domain.JobSpec{
		Code:     req.Code,
		Language: req.Language,
		Input:    req.Input,
		UserID:   req.UserID,
	}, domain.EnqueueOptions{
		ID:       req.ID,
		Priority: req.Priority,
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		if errors.Is(err, domain.ErrQueueUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
			return
		}
		h.logger.Error("Enqueue job failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusAccepted, EnqueueResponse{JobID: id, Status: domain.StatusQueued})
}

// GetByID handles GET /api/v1/jobs/:id
func (h *JobHandler) GetByID(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	status, err := h.queue.GetStatus(c.Request.Context(), id)
	if err != nil {
		h.unavailable(c, err, id)
		return
	}
	if status.Status == domain.StatusNotFound {
		c.JSON(http.StatusNotFound, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Cancel handles DELETE /api/v1/jobs/:id
func (h *JobHandler) Cancel(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	err := h.queue.Cancel(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"id": id, "status": domain.StatusCancelled})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, domain.ErrJobNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.unavailable(c, err, id)
	}
}

func (h *JobHandler) unavailable(c *gin.Context, err error, id uuid.UUID) {
	if errors.Is(err, domain.ErrQueueUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
		return
	}
	h.logger.Error("Job request failed", zap.Error(err), zap.String("job_id", id.String()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func jobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID format"})
		return uuid.Nil, false
	}
	return id, true
}
