package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	v1 "github.com/trailguard-lab/project-trailguard/internal/api/v1"
	"github.com/trailguard-lab/project-trailguard/internal/chain"
	httperr "github.com/trailguard-lab/project-trailguard/internal/core/errors"
	"github.com/trailguard-lab/project-trailguard/internal/core/storage"
)

const (
	msgReadBodyFailed  = "Failed to read request body"
	msgInvalidJSON     = "Invalid JSON body"
	msgPersistFailed   = "Failed to persist event"
	msgDuplicateEvent  = "Event already exists"
	msgSuppliedDigest  = "Hash and prev_hash are server-assigned and must not be supplied"
	msgChainContention = "Chain write could not be completed"
)

const (
	defaultListLimit = 1000
	maxListLimit     = 5000
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// submittedEvent is the ingestion wire shape. The linkage fields exist only
// so that writers who try to supply them can be rejected: hash and prev_hash
// are derived server-side and never accepted from the caller.
type submittedEvent struct {
	v1.NewEvent
	PrevHash *string `json:"prev_hash"`
	Hash     *string `json:"hash"`
}

// IngestHandler handles HTTP POST requests appending one event to its session chain.
func (s *Service) IngestHandler(c *gin.Context) {
	sub, payloadSize, err := s.parseEvent(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := validateEvent(sub); err != nil {
		writeError(c, err)
		return
	}

	slog.Info("Received Event",
		"event_id", sub.ID,
		"tenant_id", sub.TenantID,
		"session_id", sub.SessionID,
		"event_type", sub.EventType,
		"payload_size", payloadSize)

	persisted, err := s.appendEvent(c.Request.Context(), &sub.NewEvent)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, persisted)
}

// IngestBatchHandler appends an ordered batch of events. Events for the same
// session link to one another in input order within a single request.
func (s *Service) IngestBatchHandler(c *gin.Context) {
	subs, _, err := s.parseBatch(c)
	if err != nil {
		writeError(c, err)
		return
	}

	events := make([]*v1.NewEvent, 0, len(subs))
	for i := range subs {
		if err := validateEvent(&subs[i]); err != nil {
			err.details = map[string]interface{}{"index": i}
			writeError(c, err)
			return
		}
		events = append(events, &subs[i].NewEvent)
	}

	slog.Info("Received Event Batch", "count", len(events))

	persisted, appendErr := s.writer.AppendAll(c.Request.Context(), events)
	if appendErr != nil {
		writeError(c, mapAppendError(appendErr))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"events": persisted})
}

// ListEventsHandler returns a page of a session's chain in storage order.
func (s *Service) ListEventsHandler(c *gin.Context) {
	var uri struct {
		TenantID  string `uri:"tenant_id" binding:"required"`
		SessionID string `uri:"session_id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Invalid path parameters",
			details:    err.Error(),
		})
		return
	}

	offset, perr := parseNonNegative(c.DefaultQuery("offset", "0"))
	if perr != nil {
		writeError(c, perr)
		return
	}
	limit, perr := parseNonNegative(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if perr != nil {
		writeError(c, perr)
		return
	}
	if limit == 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	events, err := s.repo.GetEventsBatch(c.Request.Context(), uri.TenantID, uri.SessionID, offset, limit)
	if err != nil {
		slog.Error("Failed to read session chain", "error", err, "tenant_id", uri.TenantID, "session_id", uri.SessionID)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to read events",
		})
		return
	}
	if events == nil {
		events = []*v1.ChainEvent{}
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id":  uri.TenantID,
		"session_id": uri.SessionID,
		"offset":     offset,
		"events":     events,
	})
}

// parseEvent reads the raw request body and binds it into a submittedEvent.
// Returns the parsed event and the raw payload size (used for structured logging upstream).
func (s *Service) parseEvent(c *gin.Context) (*submittedEvent, int, *ingestionError) {
	bodyBytes, err := s.readBody(c)
	if err != nil {
		return nil, 0, err
	}

	var sub submittedEvent
	if err := c.ShouldBindJSON(&sub); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	return &sub, len(bodyBytes), nil
}

func (s *Service) parseBatch(c *gin.Context) ([]submittedEvent, int, *ingestionError) {
	bodyBytes, err := s.readBody(c)
	if err != nil {
		return nil, 0, err
	}

	var req struct {
		Events []submittedEvent `json:"events"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("Invalid JSON batch received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	if len(req.Events) == 0 {
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Batch must contain at least one event",
		}
	}
	return req.Events, len(bodyBytes), nil
}

// readBody consumes the request body under the configured size limit and
// rewinds it for gin's JSON binding.
func (s *Service) readBody(c *gin.Context) ([]byte, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	return bodyBytes, nil
}

// validateEvent rejects caller-supplied linkage fields, then runs envelope validation.
func validateEvent(sub *submittedEvent) *ingestionError {
	if sub.Hash != nil || sub.PrevHash != nil {
		slog.Warn("Rejected event with caller-supplied digest",
			"error", chain.NewSuppliedLinkageError(sub.TenantID, sub.SessionID),
			"event_id", sub.ID)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpChainIntegrityError,
			message:    msgSuppliedDigest,
		}
	}

	if err := sub.Validate(); err != nil {
		slog.Warn("Envelope validation failed", "error", err, "event_id", sub.ID)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    err.Error(),
		}
	}
	return nil
}

// appendEvent links the event onto its session chain via the chain writer.
func (s *Service) appendEvent(ctx context.Context, evt *v1.NewEvent) (*v1.ChainEvent, *ingestionError) {
	persisted, err := s.writer.Append(ctx, evt)
	if err != nil {
		return nil, mapAppendError(err)
	}
	return persisted, nil
}

func mapAppendError(err error) *ingestionError {
	if errors.Is(err, storage.ErrDuplicate) {
		slog.Info("Duplicate event rejected", "error", err)
		return &ingestionError{
			statusCode: http.StatusConflict,
			errorType:  httperr.HttpDuplicateEventError,
			message:    msgDuplicateEvent,
		}
	}

	var integrity *chain.IntegrityError
	if errors.As(err, &integrity) {
		slog.Error("Chain append exhausted retries", "error", err,
			"tenant_id", integrity.TenantID, "session_id", integrity.SessionID)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpChainIntegrityError,
			message:    msgChainContention,
		}
	}

	slog.Error("Failed to persist event", "error", err)
	return &ingestionError{
		statusCode: http.StatusInternalServerError,
		errorType:  httperr.HttpInternalError,
		message:    msgPersistFailed,
	}
}

func parseNonNegative(raw string) (int, *ingestionError) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "offset and limit must be non-negative integers",
		}
	}
	return n, nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
