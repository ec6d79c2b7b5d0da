package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/storage"
)

// blockingSignOffStatuses keep a recording out of non-private visibility
var blockingSignOffStatuses = []domain.TaskStatus{
	domain.TaskStatusPending,
	domain.TaskStatusInProgress,
	domain.TaskStatusRejected,
}

// SetVisibility changes a recording's visibility, subject to the sacred sign-off gate
func (s *Service) SetVisibility(ctx context.Context, actor domain.Actor, recordingID string, visibility domain.Visibility) (*domain.Recording, error) {
	if err := requireContentEdit(actor); err != nil {
		return nil, err
	}
	if !visibility.Valid() {
		return nil, fmt.Errorf("%w: unknown visibility %q", domain.ErrValidation, visibility)
	}

	var rec *domain.Recording
	err := s.store.InTx(ctx, func(tx *storage.Storage) error {
		if err := setVisibility(ctx, tx, recordingID, visibility); err != nil {
			return err
		}
		var err error
		rec, err = tx.GetRecording(ctx, recordingID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Recording visibility changed",
		slog.String("recording_id", recordingID),
		slog.String("visibility", string(visibility)),
		slog.String("actor_id", actor.ID),
	)
	return rec, nil
}

// CheckVisibility reports whether recordingID may move to visibility right now
func (s *Service) CheckVisibility(ctx context.Context, recordingID string, visibility domain.Visibility) error {
	rec, err := s.store.GetRecording(ctx, recordingID)
	if err != nil {
		return err
	}
	return checkGate(ctx, s.store, rec, visibility)
}

func setVisibility(ctx context.Context, tx *storage.Storage, recordingID string, visibility domain.Visibility) error {
	rec, err := tx.GetRecording(ctx, recordingID)
	if err != nil {
		return err
	}
	if err := checkGate(ctx, tx, rec, visibility); err != nil {
		return err
	}
	return tx.UpdateRecordingVisibility(ctx, recordingID, visibility)
}

// checkGate blocks elevation while any sacred sign-off scoped to the recording
// is open or rejected. Sacred recordings also need one approved sign-off.
func checkGate(ctx context.Context, store *storage.Storage, rec *domain.Recording, visibility domain.Visibility) error {
	if !visibility.IsElevated() {
		return nil
	}

	blocking, err := store.CountSignOffs(ctx, rec.ID, blockingSignOffStatuses...)
	if err != nil {
		return err
	}
	if blocking > 0 {
		return fmt.Errorf("%w: %w: recording %s has %d unresolved sacred sign-off task(s)",
			domain.ErrForbidden, domain.ErrVisibilityBlocked, rec.ID, blocking)
	}

	if rec.Sensitivity == domain.SensitivitySacred {
		approved, err := store.CountSignOffs(ctx, rec.ID, domain.TaskStatusApproved)
		if err != nil {
			return err
		}
		if approved == 0 {
			return fmt.Errorf("%w: %w: sacred recording %s requires an approved sign-off",
				domain.ErrForbidden, domain.ErrVisibilityBlocked, rec.ID)
		}
	}
	return nil
}
