package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/domain"
)

// TestRunner grades code against test cases.
type TestRunner interface {
	ExecuteCodeTests(ctx context.Context, req *domain.TestRequest) (*domain.TestReport, error)
}

// ExecutionHandler handles test-run requests.
type ExecutionHandler struct {
	tests  TestRunner
	logger *zap.Logger
}

// NewExecutionHandler creates a new ExecutionHandler.
func NewExecutionHandler(tests TestRunner, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{tests: tests, logger: logger}
}

// Execute handles POST /api/v1/executions
func (h *ExecutionHandler) Execute(c *gin.Context) {
	var req domain.TestRequest
	if !bindJSON(c, &req) {
		return
	}

	report, err := h.tests.ExecuteCodeTests(c.Request.Context(), &req)
	if err != nil {
		var unsupported *domain.UnsupportedLanguageError
		switch {
		case errors.As(err, &unsupported):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "supported": unsupported.Supported})
		case errors.Is(err, domain.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrQueueUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
		case errors.Is(err, context.DeadlineExceeded):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Test run did not finish in time"})
		case errors.Is(err, context.Canceled):
			// Client went away.
			c.Status(499)
		default:
			h.logger.Error("Test run failed", zap.Error(err), zap.String("language", req.Language))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, report)
}

// bindJSON decodes the body, answering 413 or 400 itself on failure.
func bindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
	return false
}
