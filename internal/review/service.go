// Package review runs the human QC state machine and the visibility gate it controls.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/google/uuid"
)

// CreateInput describes a new review task
type CreateInput struct {
	Target     domain.TargetRef
	TaskType   domain.TaskType
	AssignedTo *string
	Notes      string
}

// DecisionInput carries the reviewer's notes and, for sacred sign-off approvals by
// an actor with content-edit capability, an optional visibility to apply to the
// recording in the same transaction
type DecisionInput struct {
	Notes             string
	PublishVisibility *domain.Visibility
}

// Service handles review task operations
type Service struct {
	store  *storage.Storage
	logger *slog.Logger
}

// NewService creates a new review Service
func NewService(store *storage.Storage, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Create opens a review task on an existing artifact. Pre-assigned tasks start in_progress.
func (s *Service) Create(ctx context.Context, actor domain.Actor, input CreateInput) (*domain.ReviewTask, error) {
	if err := requireContentEdit(actor); err != nil {
		return nil, err
	}
	if err := input.Target.Validate(input.TaskType); err != nil {
		return nil, err
	}

	var assignee *string
	if input.AssignedTo != nil {
		trimmed := strings.TrimSpace(*input.AssignedTo)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: assignee must not be blank", domain.ErrValidation)
		}
		assignee = &trimmed
	}

	var task *domain.ReviewTask
	err := s.store.InTx(ctx, func(tx *storage.Storage) error {
		recordingID, err := ResolveRecording(ctx, tx, input.Target)
		if err != nil {
			return err
		}

		open, err := tx.FindOpenReviewTask(ctx, input.Target, input.TaskType)
		if err == nil {
			return fmt.Errorf("%w: %s task %s is already open on %s", domain.ErrConflict, input.TaskType, open.ID, input.Target)
		}
		if !storage.IsNotFound(err) {
			return err
		}

		task = newTask(input.Target, recordingID, input.TaskType)
		task.Notes = input.Notes
		if assignee != nil {
			task.AssignedTo = assignee
			task.Status = domain.TaskStatusInProgress
		}
		return tx.CreateReviewTask(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Review task opened",
		slog.String("task_id", task.ID),
		slog.String("task_type", string(task.TaskType)),
		slog.String("actor_id", actor.ID),
	)
	return task, nil
}

// Assign hands a non-terminal task to a reviewer and moves it to in_progress
func (s *Service) Assign(ctx context.Context, actor domain.Actor, taskID, assignee string) (*domain.ReviewTask, error) {
	if !actor.IsAuthenticated() {
		return nil, domain.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: assigning review tasks requires admin capability", domain.ErrForbidden)
	}
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil, fmt.Errorf("%w: assignee is required", domain.ErrValidation)
	}

	var task *domain.ReviewTask
	err := s.store.InTx(ctx, func(tx *storage.Storage) error {
		var err error
		task, err = tx.GetReviewTask(ctx, taskID)
		if err != nil {
			return err
		}
		if !task.Status.CanTransition(domain.TaskStatusInProgress) {
			return fmt.Errorf("%w: review task %s is already %s", domain.ErrConflict, task.ID, task.Status)
		}

		task.Status = domain.TaskStatusInProgress
		task.AssignedTo = &assignee
		return tx.UpdateReviewTask(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Review task assigned",
		slog.String("task_id", task.ID),
		slog.String("assignee", assignee),
		slog.String("actor_id", actor.ID),
	)
	return task, nil
}

// Approve decides a task as approved and applies its side effects
func (s *Service) Approve(ctx context.Context, actor domain.Actor, taskID string, input DecisionInput) (*domain.ReviewTask, error) {
	return s.decide(ctx, actor, taskID, domain.TaskStatusApproved, input)
}

// Reject decides a task as rejected and applies its side effects
func (s *Service) Reject(ctx context.Context, actor domain.Actor, taskID string, input DecisionInput) (*domain.ReviewTask, error) {
	if input.PublishVisibility != nil {
		return nil, fmt.Errorf("%w: a rejection cannot change visibility", domain.ErrValidation)
	}
	return s.decide(ctx, actor, taskID, domain.TaskStatusRejected, input)
}

func (s *Service) decide(ctx context.Context, actor domain.Actor, taskID string, to domain.TaskStatus, input DecisionInput) (*domain.ReviewTask, error) {
	if !actor.IsAuthenticated() {
		return nil, domain.ErrUnauthorized
	}
	if input.PublishVisibility != nil {
		if err := requireContentEdit(actor); err != nil {
			return nil, err
		}
		if !input.PublishVisibility.Valid() {
			return nil, fmt.Errorf("%w: unknown visibility %q", domain.ErrValidation, *input.PublishVisibility)
		}
	}

	var task *domain.ReviewTask
	err := s.store.InTx(ctx, func(tx *storage.Storage) error {
		var err error
		task, err = tx.GetReviewTask(ctx, taskID)
		if err != nil {
			return err
		}
		if !canDecide(actor, task) {
			return fmt.Errorf("%w: %s may not decide %s task %s", domain.ErrForbidden, actor.ID, task.TaskType, task.ID)
		}
		if !task.Status.CanTransition(to) {
			return fmt.Errorf("%w: review task %s is already %s", domain.ErrConflict, task.ID, task.Status)
		}
		if input.PublishVisibility != nil && task.TaskType != domain.TaskTypeSacredSignOff {
			return fmt.Errorf("%w: only %s approvals can change visibility", domain.ErrValidation, domain.TaskTypeSacredSignOff)
		}

		completed := time.Now().UTC()
		task.Status = to
		task.CompletedAt = &completed
		if input.Notes != "" {
			task.Notes = input.Notes
		}
		if err := tx.UpdateReviewTask(ctx, task); err != nil {
			return err
		}

		if err := applyDecision(ctx, tx, task); err != nil {
			return err
		}

		if input.PublishVisibility != nil {
			return setVisibility(ctx, tx, task.RecordingID, *input.PublishVisibility)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Review decision not applied",
			slog.String("task_id", taskID),
			slog.String("decision", string(to)),
			slog.String("actor_id", actor.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("Review task decided",
		slog.String("task_id", task.ID),
		slog.String("task_type", string(task.TaskType)),
		slog.String("status", string(task.Status)),
		slog.String("actor_id", actor.ID),
	)
	return task, nil
}

// canDecide reports whether actor may approve or reject task. Sacred sign-offs
// need cultural authority even from the assigned reviewer.
func canDecide(actor domain.Actor, task *domain.ReviewTask) bool {
	if actor.HasElevatedCapability(task.TaskType) {
		return true
	}
	if !task.IsAssignedTo(actor.ID) {
		return false
	}
	if task.TaskType == domain.TaskTypeSacredSignOff {
		return actor.Role == domain.RoleSteward
	}
	return true
}

// applyDecision propagates a decided task onto the artifact it reviews
func applyDecision(ctx context.Context, tx *storage.Storage, task *domain.ReviewTask) error {
	switch task.TaskType {
	case domain.TaskTypeTranscriptionQC:
		qc := qcStatusFor(task.Status)
		if task.TargetKind == domain.TargetSegment {
			return tx.UpdateSegmentQCStatus(ctx, task.TargetID, qc)
		}
		return tx.UpdateRecordingSegmentsQCStatus(ctx, task.TargetID, qc)
	case domain.TaskTypeTranslationQC:
		return tx.UpdateTranslationQCStatus(ctx, task.TargetID, qcStatusFor(task.Status))
	case domain.TaskTypeDubReview:
		status := domain.DubStatusRejected
		if task.Status == domain.TaskStatusApproved {
			status = domain.DubStatusApproved
		}
		return tx.UpdateDubStatus(ctx, task.TargetID, status)
	default:
		// sign-offs act through the visibility gate
		return nil
	}
}

func qcStatusFor(status domain.TaskStatus) domain.QCStatus {
	if status == domain.TaskStatusApproved {
		return domain.QCStatusApproved
	}
	return domain.QCStatusRejected
}

// Get retrieves a review task by ID
func (s *Service) Get(ctx context.Context, actor domain.Actor, taskID string) (*domain.ReviewTask, error) {
	if !actor.IsAuthenticated() {
		return nil, domain.ErrUnauthorized
	}
	return s.store.GetReviewTask(ctx, taskID)
}

// ListForRecording returns every review task scoped to a recording
func (s *Service) ListForRecording(ctx context.Context, actor domain.Actor, recordingID string) ([]domain.ReviewTask, error) {
	if !actor.IsAuthenticated() {
		return nil, domain.ErrUnauthorized
	}
	if _, err := s.store.GetRecording(ctx, recordingID); err != nil {
		return nil, err
	}
	return s.store.ListReviewTasksForRecording(ctx, recordingID)
}

// EnsureOpenTask returns the open task of taskType on target, opening a pending
// one when none exists. created reports whether a task was inserted.
func EnsureOpenTask(ctx context.Context, tx *storage.Storage, target domain.TargetRef, taskType domain.TaskType) (task *domain.ReviewTask, created bool, err error) {
	if err := target.Validate(taskType); err != nil {
		return nil, false, err
	}

	open, err := tx.FindOpenReviewTask(ctx, target, taskType)
	if err == nil {
		return open, false, nil
	}
	if !storage.IsNotFound(err) {
		return nil, false, err
	}

	recordingID, err := ResolveRecording(ctx, tx, target)
	if err != nil {
		return nil, false, err
	}

	task = newTask(target, recordingID, taskType)
	if err := tx.CreateReviewTask(ctx, task); err != nil {
		return nil, false, err
	}
	return task, true, nil
}

// ResolveRecording finds the recording that owns target. A missing artifact is ErrNotFound.
func ResolveRecording(ctx context.Context, store *storage.Storage, target domain.TargetRef) (string, error) {
	switch target.Kind {
	case domain.TargetRecording:
		rec, err := store.GetRecording(ctx, target.ID)
		if err != nil {
			return "", err
		}
		return rec.ID, nil
	case domain.TargetSegment:
		seg, err := store.GetSegment(ctx, target.ID)
		if err != nil {
			return "", err
		}
		return seg.RecordingID, nil
	case domain.TargetTranslation:
		tr, err := store.GetTranslation(ctx, target.ID)
		if err != nil {
			return "", err
		}
		seg, err := store.GetSegment(ctx, tr.SegmentID)
		if err != nil {
			return "", err
		}
		return seg.RecordingID, nil
	case domain.TargetDub:
		dub, err := store.GetDub(ctx, target.ID)
		if err != nil {
			return "", err
		}
		return dub.RecordingID, nil
	default:
		return "", fmt.Errorf("%w: unknown target kind %q", domain.ErrValidation, target.Kind)
	}
}

func newTask(target domain.TargetRef, recordingID string, taskType domain.TaskType) *domain.ReviewTask {
	return &domain.ReviewTask{
		ID:          uuid.New().String(),
		TargetKind:  target.Kind,
		TargetID:    target.ID,
		RecordingID: recordingID,
		TaskType:    taskType,
		Status:      domain.TaskStatusPending,
	}
}

func requireContentEdit(actor domain.Actor) error {
	if !actor.IsAuthenticated() {
		return domain.ErrUnauthorized
	}
	if !actor.CanEditContent() {
		return fmt.Errorf("%w: %s lacks content-edit capability", domain.ErrForbidden, actor.ID)
	}
	return nil
}
