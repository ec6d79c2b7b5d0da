package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID           string          `json:"job_id"`
	JobType         string          `json:"job_type"`
	Status          string          `json:"status"`
	Payload         json.RawMessage `json:"payload"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Attempts        int             `json:"attempts"`
	WorkerID        string          `json:"worker_id,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
	StartedAt       string          `json:"started_at,omitempty"`
	LastHeartbeatAt string          `json:"last_heartbeat_at,omitempty"`
	CompletedAt     string          `json:"completed_at,omitempty"`
}

// NewJobDTO converts a job for the wire. Payload and result are stored JSON
// and are embedded as-is.
func NewJobDTO(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:           job.ID,
		JobType:         string(job.Type),
		Status:          string(job.Status),
		Payload:         rawJSON(job.Payload),
		Attempts:        job.Attempts,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
		StartedAt:       formatTime(job.StartedAt),
		LastHeartbeatAt: formatTime(job.LastHeartbeatAt),
		CompletedAt:     formatTime(job.CompletedAt),
	}
	if job.Result != nil {
		out.Result = rawJSON(*job.Result)
	}
	if job.ErrorMessage != nil {
		out.ErrorMessage = *job.ErrorMessage
	}
	if job.WorkerID != nil {
		out.WorkerID = *job.WorkerID
	}
	return out
}

type EnqueueTranscriptionRequest struct {
	Language string `json:"language"`
}

type EnqueueTranscriptionResponse struct {
	JobID   string `json:"job_id"`
	Created bool   `json:"created"`
}

type EnqueueDubbingRequest struct {
	SegmentID string `json:"segment_id"`
	Language  string `json:"language" binding:"required"`
	VoiceID   string `json:"voice_id"`
}

type EnqueueDubbingResponse struct {
	JobIDs []string `json:"job_ids"`
}

func rawJSON(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		quoted, _ := json.Marshal(s)
		return quoted
	}
	return json.RawMessage(s)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
