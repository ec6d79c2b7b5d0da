package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

const reviewTaskColumns = `id, target_kind, target_id, recording_id, task_type, status, assigned_to, notes,
	created_at, updated_at, completed_at`

// CreateReviewTask inserts a review task
func (s *Storage) CreateReviewTask(ctx context.Context, task *domain.ReviewTask) error {
	ts := now()
	task.CreatedAt = ts
	task.UpdatedAt = ts

	query := `
		INSERT INTO review_tasks (` + reviewTaskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, "create review task", query,
		task.ID, string(task.TargetKind), task.TargetID, task.RecordingID, string(task.TaskType),
		string(task.Status), nullString(task.AssignedTo), task.Notes, ts, ts, nullTime(task.CompletedAt),
	)
	if err != nil {
		return err
	}

	s.logger.Info("Review task created",
		slog.String("task_id", task.ID),
		slog.String("task_type", string(task.TaskType)),
		slog.String("target", task.Target().String()),
	)
	return nil
}

// GetReviewTask retrieves a review task by ID
func (s *Storage) GetReviewTask(ctx context.Context, taskID string) (*domain.ReviewTask, error) {
	var task domain.ReviewTask
	query := `SELECT ` + reviewTaskColumns + ` FROM review_tasks WHERE id = ?`
	if err := s.get(ctx, &task, "review task "+taskID, query, taskID); err != nil {
		return nil, err
	}
	return &task, nil
}

// FindOpenReviewTask returns the pending or in-progress task of taskType on target
func (s *Storage) FindOpenReviewTask(ctx context.Context, target domain.TargetRef, taskType domain.TaskType) (*domain.ReviewTask, error) {
	var task domain.ReviewTask
	query := `SELECT ` + reviewTaskColumns + ` FROM review_tasks
		WHERE target_kind = ? AND target_id = ? AND task_type = ? AND status IN (?, ?)
		ORDER BY created_at ASC
		LIMIT 1`
	err := s.get(ctx, &task, "open "+string(taskType)+" task on "+target.String(), query,
		string(target.Kind), target.ID, string(taskType),
		string(domain.TaskStatusPending), string(domain.TaskStatusInProgress))
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateReviewTask writes status, assignee, notes and completion time.
// The update only matches non-terminal rows, so a decided task never changes again.
func (s *Storage) UpdateReviewTask(ctx context.Context, task *domain.ReviewTask) error {
	task.UpdatedAt = now()
	query := `
		UPDATE review_tasks
		SET status = ?,
		    assigned_to = ?,
		    notes = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
		  AND status IN (?, ?)
	`

	rows, err := s.exec(ctx, "update review task", query,
		string(task.Status), nullString(task.AssignedTo), task.Notes, nullTime(task.CompletedAt), task.UpdatedAt,
		task.ID, string(domain.TaskStatusPending), string(domain.TaskStatusInProgress),
	)
	if err != nil {
		return err
	}
	if rows == 0 {
		current, getErr := s.GetReviewTask(ctx, task.ID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: review task %s is already %s", domain.ErrConflict, task.ID, current.Status)
	}
	return nil
}

// ListReviewTasksForRecording returns every task scoped to a recording, oldest first
func (s *Storage) ListReviewTasksForRecording(ctx context.Context, recordingID string) ([]domain.ReviewTask, error) {
	query := `SELECT ` + reviewTaskColumns + ` FROM review_tasks WHERE recording_id = ? ORDER BY created_at ASC, id ASC`
	tasks := []domain.ReviewTask{}
	if err := s.selectAll(ctx, &tasks, "review tasks", query, recordingID); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountSignOffs counts sacred sign-off tasks scoped to a recording in the given statuses
func (s *Storage) CountSignOffs(ctx context.Context, recordingID string, statuses ...domain.TaskStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	query := `SELECT COUNT(*) FROM review_tasks WHERE recording_id = ? AND task_type = ? AND status IN (`
	args := []any{recordingID, string(domain.TaskTypeSacredSignOff)}
	for i, st := range statuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, string(st))
	}
	query += ")"

	var count int
	if err := s.get(ctx, &count, "sign-off count", query, args...); err != nil {
		return 0, err
	}
	return count, nil
}
