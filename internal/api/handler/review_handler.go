package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/media-pipeline/internal/api/dto"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/review"
	"github.com/gin-gonic/gin"
)

// ReviewHandler handles review task requests
type ReviewHandler struct {
	logger *slog.Logger
	review *review.Service
}

// NewReviewHandler creates a new ReviewHandler instance
func NewReviewHandler(deps *Dependencies) *ReviewHandler {
	return &ReviewHandler{
		logger: deps.Logger,
		review: deps.Review,
	}
}

// CreateTask handles POST /api/v1/review-tasks
func (h *ReviewHandler) CreateTask(c *gin.Context) {
	var req dto.CreateReviewTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	taskType, err := domain.ParseTaskType(req.TaskType)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	task, err := h.review.Create(c.Request.Context(), ActorFrom(c), review.CreateInput{
		Target: domain.TargetRef{
			Kind: domain.TargetKind(strings.ToLower(strings.TrimSpace(req.TargetKind))),
			ID:   strings.TrimSpace(req.TargetID),
		},
		TaskType:   taskType,
		AssignedTo: req.AssignedTo,
		Notes:      req.Notes,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

// GetTask handles GET /api/v1/review-tasks/:id
func (h *ReviewHandler) GetTask(c *gin.Context) {
	task, err := h.review.Get(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// AssignTask handles POST /api/v1/review-tasks/:id/assign
func (h *ReviewHandler) AssignTask(c *gin.Context) {
	var req dto.AssignReviewTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	task, err := h.review.Assign(c.Request.Context(), ActorFrom(c), c.Param("id"), req.AssignedTo)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ApproveTask handles POST /api/v1/review-tasks/:id/approve
func (h *ReviewHandler) ApproveTask(c *gin.Context) {
	input, ok := h.bindDecision(c)
	if !ok {
		return
	}

	task, err := h.review.Approve(c.Request.Context(), ActorFrom(c), c.Param("id"), input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// RejectTask handles POST /api/v1/review-tasks/:id/reject
func (h *ReviewHandler) RejectTask(c *gin.Context) {
	input, ok := h.bindDecision(c)
	if !ok {
		return
	}

	task, err := h.review.Reject(c.Request.Context(), ActorFrom(c), c.Param("id"), input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// bindDecision reads an optional decision body
func (h *ReviewHandler) bindDecision(c *gin.Context) (review.DecisionInput, bool) {
	var req dto.DecisionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return review.DecisionInput{}, false
		}
	}

	input := review.DecisionInput{Notes: req.Notes}
	if req.PublishVisibility != nil {
		v := domain.Visibility(strings.ToLower(strings.TrimSpace(*req.PublishVisibility)))
		input.PublishVisibility = &v
	}
	return input, true
}
