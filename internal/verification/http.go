package verification

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	httperr "github.com/trailguard-lab/project-trailguard/internal/core/errors"
)

// Service exposes the engine over HTTP.
type Service struct {
	engine *Engine
}

func NewService(engine *Engine) *Service {
	if engine == nil {
		panic("verification: engine must not be nil")
	}
	return &Service{engine: engine}
}

// RegisterRoutes registers the audit routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/verify", s.VerifyHandler)
}

// VerifyHandler handles POST /v1/verify. A report with breaks is still a
// 200: tamper findings are the endpoint's product, not a request failure.
func (s *Service) VerifyHandler(c *gin.Context) {
	var opts Options
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid verification request",
			Details:   err.Error(),
		})
		return
	}
	if opts.TenantID == "" {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "tenant_id is required",
		})
		return
	}

	report, err := s.engine.Verify(c.Request.Context(), opts)
	if err != nil {
		slog.Error("Verification run failed", "error", err, "tenant_id", opts.TenantID)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Verification could not be completed",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}
