package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/media-pipeline/internal/api/dto"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/queue"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	queue  *queue.Queue
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		queue:  deps.Queue,
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		badRequest(c, "job_id must be a valid UUID")
		return
	}

	job, err := h.queue.Get(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first, filtered by job_type and status, with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Debug("Invalid query parameters", slog.String("error", err.Error()))
		badRequest(c, "Invalid query parameters")
		return
	}

	filter := storage.JobFilter{PageSize: req.PageSize}

	if req.JobType != "" {
		switch jt := domain.JobType(req.JobType); jt {
		case domain.JobTypeTranscription, domain.JobTypeDubbing:
			filter.JobType = jt
		default:
			badRequest(c, "unknown job_type")
			return
		}
	}

	if req.Status != "" {
		switch st := domain.JobStatus(req.Status); st {
		case domain.JobStatusQueued, domain.JobStatusRunning, domain.JobStatusCompleted,
			domain.JobStatusFailed, domain.JobStatusTimedOut:
			filter.Status = st
		default:
			badRequest(c, "unknown status")
			return
		}
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Debug("Invalid cursor", slog.String("error", err.Error()))
		badRequest(c, "Invalid cursor")
		return
	}
	filter.Cursor = cursor

	page, err := h.queue.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(page.Jobs))}
	for i := range page.Jobs {
		resp.Jobs[i] = dto.NewJobDTO(&page.Jobs[i])
	}
	if page.NextCursor != nil {
		resp.NextCursor = EncodeJobCursor(page.NextCursor)
	}

	c.JSON(http.StatusOK, resp)
}
