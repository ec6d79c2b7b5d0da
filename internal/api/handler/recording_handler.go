package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/media-pipeline/internal/api/dto"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/review"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/gin-gonic/gin"
)

// RecordingHandler handles recording actions and artifact listings
type RecordingHandler struct {
	logger   *slog.Logger
	store    *storage.Storage
	pipeline *pipeline.Service
	review   *review.Service
}

// NewRecordingHandler creates a new RecordingHandler instance
func NewRecordingHandler(deps *Dependencies) *RecordingHandler {
	return &RecordingHandler{
		logger:   deps.Logger,
		store:    deps.Store,
		pipeline: deps.Pipeline,
		review:   deps.Review,
	}
}

// EnqueueTranscription handles POST /api/v1/recordings/:id/transcriptions
func (h *RecordingHandler) EnqueueTranscription(c *gin.Context) {
	var req dto.EnqueueTranscriptionRequest
	// the body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request body")
		return
	}

	job, created, err := h.pipeline.EnqueueTranscription(c.Request.Context(), ActorFrom(c), c.Param("id"), req.Language)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.EnqueueTranscriptionResponse{
		JobID:   job.ID,
		Created: created,
	})
}

// EnqueueDubbing handles POST /api/v1/recordings/:id/dubs.
// Without segment_id every segment of the recording is queued.
func (h *RecordingHandler) EnqueueDubbing(c *gin.Context) {
	var req dto.EnqueueDubbingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	ctx := c.Request.Context()
	actor := ActorFrom(c)
	recordingID := c.Param("id")

	var ids []string
	if segmentID := strings.TrimSpace(req.SegmentID); segmentID != "" {
		job, _, err := h.pipeline.EnqueueDubbing(ctx, actor, recordingID, segmentID, req.Language, req.VoiceID)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		ids = []string{job.ID}
	} else {
		var err error
		ids, err = h.pipeline.QueueRecordingDubbing(ctx, actor, recordingID, req.Language, req.VoiceID)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
	}

	c.JSON(http.StatusAccepted, dto.EnqueueDubbingResponse{JobIDs: ids})
}

// SetVisibility handles PUT /api/v1/recordings/:id/visibility
func (h *RecordingHandler) SetVisibility(c *gin.Context) {
	var req dto.SetVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	rec, err := h.review.SetVisibility(c.Request.Context(), ActorFrom(c), c.Param("id"), domain.Visibility(req.Visibility))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

// ListSegments handles GET /api/v1/recordings/:id/segments
func (h *RecordingHandler) ListSegments(c *gin.Context) {
	ctx := c.Request.Context()
	recordingID := c.Param("id")

	if _, err := h.store.GetRecording(ctx, recordingID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	segments, err := h.store.ListSegments(ctx, recordingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.SegmentsResponse{Segments: segments})
}

// ListDubs handles GET /api/v1/recordings/:id/dubs. Dubs missing their
// disclosure are never listed.
func (h *RecordingHandler) ListDubs(c *gin.Context) {
	ctx := c.Request.Context()
	recordingID := c.Param("id")

	if _, err := h.store.GetRecording(ctx, recordingID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	dubs, err := h.store.ListDubs(ctx, recordingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.DubsResponse{Dubs: dubs})
}

// ListReviewTasks handles GET /api/v1/recordings/:id/review-tasks
func (h *RecordingHandler) ListReviewTasks(c *gin.Context) {
	tasks, err := h.review.ListForRecording(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.ReviewTasksResponse{Tasks: tasks})
}
