package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskType is the kind of human review a task asks for
type TaskType string

const (
	TaskTypeTranscriptionQC TaskType = "transcription_qc"
	TaskTypeTranslationQC   TaskType = "translation_qc"
	TaskTypeSacredSignOff   TaskType = "sacred_sign_off"
	TaskTypeDubReview       TaskType = "dub_review"
)

// ParseTaskType accepts the canonical names plus the consent_signoff alias
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(strings.ToLower(strings.TrimSpace(s))) {
	case TaskTypeTranscriptionQC:
		return TaskTypeTranscriptionQC, nil
	case TaskTypeTranslationQC:
		return TaskTypeTranslationQC, nil
	case TaskTypeSacredSignOff, "consent_signoff":
		return TaskTypeSacredSignOff, nil
	case TaskTypeDubReview:
		return TaskTypeDubReview, nil
	default:
		return "", fmt.Errorf("%w: unknown task type %q", ErrValidation, s)
	}
}

// TaskStatus is the review task lifecycle status
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusApproved   TaskStatus = "approved"
	TaskStatusRejected   TaskStatus = "rejected"
)

// IsTerminal reports whether the task has been decided
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusApproved || s == TaskStatusRejected
}

// CanTransition enforces pending -> in_progress -> {approved, rejected}.
// Unassigned tasks may be decided directly by elevated reviewers.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return to == TaskStatusInProgress || to == TaskStatusApproved || to == TaskStatusRejected
	case TaskStatusInProgress:
		return to == TaskStatusInProgress || to == TaskStatusApproved || to == TaskStatusRejected
	default:
		return false
	}
}

// TargetKind tags what a review task points at
type TargetKind string

const (
	TargetRecording   TargetKind = "recording"
	TargetSegment     TargetKind = "segment"
	TargetTranslation TargetKind = "translation"
	TargetDub         TargetKind = "dub"
)

// TargetRef is a tagged reference to a reviewable artifact
type TargetRef struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func (t TargetRef) String() string {
	return string(t.Kind) + ":" + t.ID
}

// Validate checks the reference is well formed and compatible with taskType
func (t TargetRef) Validate(taskType TaskType) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: target id is required", ErrValidation)
	}

	var allowed []TargetKind
	switch taskType {
	case TaskTypeTranscriptionQC:
		allowed = []TargetKind{TargetRecording, TargetSegment}
	case TaskTypeTranslationQC:
		allowed = []TargetKind{TargetTranslation}
	case TaskTypeSacredSignOff:
		allowed = []TargetKind{TargetRecording, TargetSegment}
	case TaskTypeDubReview:
		allowed = []TargetKind{TargetDub}
	default:
		return fmt.Errorf("%w: unknown task type %q", ErrValidation, taskType)
	}

	for _, kind := range allowed {
		if t.Kind == kind {
			return nil
		}
	}
	return fmt.Errorf("%w: %s tasks cannot target a %s", ErrValidation, taskType, t.Kind)
}

// ReviewTask is a unit of human approval work
type ReviewTask struct {
	ID          string     `db:"id" json:"id"`
	TargetKind  TargetKind `db:"target_kind" json:"target_kind"`
	TargetID    string     `db:"target_id" json:"target_id"`
	RecordingID string     `db:"recording_id" json:"recording_id"`
	TaskType    TaskType   `db:"task_type" json:"task_type"`
	Status      TaskStatus `db:"status" json:"status"`
	AssignedTo  *string    `db:"assigned_to" json:"assigned_to,omitempty"`
	Notes       string     `db:"notes" json:"notes"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Target returns the tagged reference of the task
func (t ReviewTask) Target() TargetRef {
	return TargetRef{Kind: t.TargetKind, ID: t.TargetID}
}

// IsAssignedTo reports whether actorID is the task's reviewer
func (t ReviewTask) IsAssignedTo(actorID string) bool {
	return t.AssignedTo != nil && actorID != "" && *t.AssignedTo == actorID
}
