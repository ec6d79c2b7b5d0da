package dto

import "github.com/cuongbtq/media-pipeline/internal/domain"

type CreateReviewTaskRequest struct {
	TargetKind string  `json:"target_kind" binding:"required"`
	TargetID   string  `json:"target_id" binding:"required"`
	TaskType   string  `json:"task_type" binding:"required"`
	AssignedTo *string `json:"assigned_to"`
	Notes      string  `json:"notes"`
}

type AssignReviewTaskRequest struct {
	AssignedTo string `json:"assigned_to" binding:"required"`
}

type DecisionRequest struct {
	Notes             string  `json:"notes"`
	PublishVisibility *string `json:"publish_visibility"`
}

type ReviewTasksResponse struct {
	Tasks []domain.ReviewTask `json:"tasks"`
}

type SetVisibilityRequest struct {
	Visibility string `json:"visibility" binding:"required"`
}

type SegmentsResponse struct {
	Segments []domain.TranscriptSegment `json:"segments"`
}

type DubsResponse struct {
	Dubs []domain.Dub `json:"dubs"`
}
