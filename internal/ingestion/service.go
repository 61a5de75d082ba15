package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/trailguard-lab/project-trailguard/internal/chain"
	"github.com/trailguard-lab/project-trailguard/internal/core/storage"
)

type Service struct {
	writer           *chain.Writer
	repo             storage.EventRepository
	maxBodySizeBytes int
}

func NewService(writer *chain.Writer, repo storage.EventRepository, maxBodySizeMB int) *Service {
	if writer == nil {
		panic("ingestion: writer must not be nil")
	}
	if repo == nil {
		panic("ingestion: repository must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		writer:           writer,
		repo:             repo,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", s.IngestHandler)
	r.POST("/v1/events/batch", s.IngestBatchHandler)

	// Raw chain read in storage order, for diagnostics and export.
	r.GET("/v1/tenants/:tenant_id/sessions/:session_id/events", s.ListEventsHandler)
}
