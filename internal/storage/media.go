package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

const recordingColumns = `id, title, audio_url, duration_ms, language_code, sensitivity, visibility, created_at, updated_at`

const segmentColumns = `id, recording_id, segment_index, start_ms, end_ms, text_original, qc_status, created_at, updated_at`

const translationColumns = `id, segment_id, language_code, translated_text, qc_status, created_at, updated_at`

const dubColumns = `id, recording_id, segment_id, language_code, is_synthetic, audio_url, disclosure_label,
	duration_ms, params_hash, status, created_at`

// CreateRecording inserts a recording. Recordings are owned by the surrounding site;
// this exists for seeding and tooling.
func (s *Storage) CreateRecording(ctx context.Context, rec *domain.Recording) error {
	if rec.Sensitivity == "" {
		rec.Sensitivity = domain.SensitivityStandard
	}
	if rec.Visibility == "" {
		rec.Visibility = domain.VisibilityPrivate
	}
	ts := now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = ts
	}
	rec.UpdatedAt = ts

	query := `
		INSERT INTO recordings (` + recordingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, "create recording", query,
		rec.ID, rec.Title, rec.AudioURL, rec.DurationMs, rec.LanguageCode,
		string(rec.Sensitivity), string(rec.Visibility), rec.CreatedAt.UTC(), rec.UpdatedAt,
	)
	return err
}

// GetRecording retrieves a recording by ID
func (s *Storage) GetRecording(ctx context.Context, recordingID string) (*domain.Recording, error) {
	var rec domain.Recording
	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE id = ?`
	if err := s.get(ctx, &rec, "recording "+recordingID, query, recordingID); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateRecordingVisibility sets a recording's visibility level
func (s *Storage) UpdateRecordingVisibility(ctx context.Context, recordingID string, visibility domain.Visibility) error {
	query := `UPDATE recordings SET visibility = ?, updated_at = ? WHERE id = ?`
	rows, err := s.exec(ctx, "update recording visibility", query, string(visibility), now(), recordingID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: recording %s", domain.ErrNotFound, recordingID)
	}
	return nil
}

// ListSegments returns a recording's segments in index order
func (s *Storage) ListSegments(ctx context.Context, recordingID string) ([]domain.TranscriptSegment, error) {
	query := `SELECT ` + segmentColumns + ` FROM transcript_segments WHERE recording_id = ? ORDER BY segment_index ASC`
	segments := []domain.TranscriptSegment{}
	if err := s.selectAll(ctx, &segments, "segments", query, recordingID); err != nil {
		return nil, err
	}
	return segments, nil
}

// GetSegment retrieves a transcript segment by ID
func (s *Storage) GetSegment(ctx context.Context, segmentID string) (*domain.TranscriptSegment, error) {
	var seg domain.TranscriptSegment
	query := `SELECT ` + segmentColumns + ` FROM transcript_segments WHERE id = ?`
	if err := s.get(ctx, &seg, "segment "+segmentID, query, segmentID); err != nil {
		return nil, err
	}
	return &seg, nil
}

// ReplaceSegments swaps a recording's whole segment set inside one transaction.
// Translations of the old segments go with them; dubs keep their recording but lose the segment link.
// Open QC tasks on the removed segments and translations are closed as rejected.
func (s *Storage) ReplaceSegments(ctx context.Context, recordingID string, segments []domain.TranscriptSegment) error {
	if err := domain.ValidateSegmentSet(segments); err != nil {
		return err
	}

	return s.InTx(ctx, func(tx *Storage) error {
		superseded, err := tx.closeSupersededQCTasks(ctx, recordingID)
		if err != nil {
			return err
		}

		if _, err := tx.exec(ctx, "delete translations",
			`DELETE FROM translations WHERE segment_id IN (SELECT id FROM transcript_segments WHERE recording_id = ?)`,
			recordingID); err != nil {
			return err
		}

		if _, err := tx.exec(ctx, "detach dubs",
			`UPDATE dubs SET segment_id = NULL WHERE segment_id IN (SELECT id FROM transcript_segments WHERE recording_id = ?)`,
			recordingID); err != nil {
			return err
		}

		deleted, err := tx.exec(ctx, "delete segments", `DELETE FROM transcript_segments WHERE recording_id = ?`, recordingID)
		if err != nil {
			return err
		}

		ts := now()
		query := `
			INSERT INTO transcript_segments (` + segmentColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		for i := range segments {
			seg := &segments[i]
			seg.RecordingID = recordingID
			seg.CreatedAt = ts
			seg.UpdatedAt = ts
			if seg.QCStatus == "" {
				seg.QCStatus = domain.QCStatusPending
			}
			if _, err := tx.exec(ctx, "insert segment", query,
				seg.ID, seg.RecordingID, int64(seg.SegmentIndex), seg.StartMs, seg.EndMs,
				seg.TextOriginal, string(seg.QCStatus), ts, ts,
			); err != nil {
				return err
			}
		}

		tx.logger.Info("Segments replaced",
			slog.String("recording_id", recordingID),
			slog.Int64("deleted", deleted),
			slog.Int("inserted", len(segments)),
			slog.Int64("qc_tasks_closed", superseded),
		)
		return nil
	})
}

// UpdateSegmentQCStatus sets one segment's QC status
func (s *Storage) UpdateSegmentQCStatus(ctx context.Context, segmentID string, status domain.QCStatus) error {
	rows, err := s.exec(ctx, "update segment qc status",
		`UPDATE transcript_segments SET qc_status = ?, updated_at = ? WHERE id = ?`,
		string(status), now(), segmentID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: segment %s", domain.ErrNotFound, segmentID)
	}
	return nil
}

// UpdateRecordingSegmentsQCStatus sets the QC status of every segment of a recording
func (s *Storage) UpdateRecordingSegmentsQCStatus(ctx context.Context, recordingID string, status domain.QCStatus) error {
	_, err := s.exec(ctx, "update recording qc status",
		`UPDATE transcript_segments SET qc_status = ?, updated_at = ? WHERE recording_id = ?`,
		string(status), now(), recordingID)
	return err
}

// UpsertTranslation writes the single translation of a segment in a language
func (s *Storage) UpsertTranslation(ctx context.Context, tr *domain.Translation) error {
	ts := now()
	if tr.QCStatus == "" {
		tr.QCStatus = domain.QCStatusPending
	}
	tr.CreatedAt = ts
	tr.UpdatedAt = ts

	query := `
		INSERT INTO translations (` + translationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (segment_id, language_code) DO UPDATE
		SET translated_text = excluded.translated_text,
		    qc_status = excluded.qc_status,
		    updated_at = excluded.updated_at
	`
	_, err := s.exec(ctx, "upsert translation", query,
		tr.ID, tr.SegmentID, tr.LanguageCode, tr.TranslatedText, string(tr.QCStatus), ts, ts)
	return err
}

// GetTranslation retrieves a translation by ID
func (s *Storage) GetTranslation(ctx context.Context, translationID string) (*domain.Translation, error) {
	var tr domain.Translation
	query := `SELECT ` + translationColumns + ` FROM translations WHERE id = ?`
	if err := s.get(ctx, &tr, "translation "+translationID, query, translationID); err != nil {
		return nil, err
	}
	return &tr, nil
}

// ListTranslations returns the translations of a segment
func (s *Storage) ListTranslations(ctx context.Context, segmentID string) ([]domain.Translation, error) {
	query := `SELECT ` + translationColumns + ` FROM translations WHERE segment_id = ? ORDER BY language_code ASC`
	out := []domain.Translation{}
	if err := s.selectAll(ctx, &out, "translations", query, segmentID); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateTranslationQCStatus sets a translation's QC status
func (s *Storage) UpdateTranslationQCStatus(ctx context.Context, translationID string, status domain.QCStatus) error {
	rows, err := s.exec(ctx, "update translation qc status",
		`UPDATE translations SET qc_status = ?, updated_at = ? WHERE id = ?`,
		string(status), now(), translationID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: translation %s", domain.ErrNotFound, translationID)
	}
	return nil
}

// CreateDub inserts a dub after checking its disclosure invariant
func (s *Storage) CreateDub(ctx context.Context, dub *domain.Dub) error {
	if err := dub.Validate(); err != nil {
		return err
	}
	if dub.Status == "" {
		dub.Status = domain.DubStatusGenerated
	}
	dub.CreatedAt = now()

	query := `
		INSERT INTO dubs (` + dubColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, "create dub", query,
		dub.ID, dub.RecordingID, nullString(dub.SegmentID), dub.LanguageCode, dub.IsSynthetic,
		dub.AudioURL, dub.DisclosureLabel, dub.DurationMs, dub.ParamsHash, string(dub.Status), dub.CreatedAt,
	)
	return err
}

// GetDub retrieves a dub by ID
func (s *Storage) GetDub(ctx context.Context, dubID string) (*domain.Dub, error) {
	var dub domain.Dub
	query := `SELECT ` + dubColumns + ` FROM dubs WHERE id = ?`
	if err := s.get(ctx, &dub, "dub "+dubID, query, dubID); err != nil {
		return nil, err
	}
	return &dub, nil
}

// ListDubs returns the dubs of a recording that satisfy the disclosure invariant.
// Rows violating it are logged and never returned.
func (s *Storage) ListDubs(ctx context.Context, recordingID string) ([]domain.Dub, error) {
	query := `SELECT ` + dubColumns + ` FROM dubs WHERE recording_id = ? ORDER BY created_at ASC, id ASC`
	rows := []domain.Dub{}
	if err := s.selectAll(ctx, &rows, "dubs", query, recordingID); err != nil {
		return nil, err
	}

	valid := make([]domain.Dub, 0, len(rows))
	for _, dub := range rows {
		if err := dub.Validate(); err != nil {
			s.logger.Warn("Skipping invalid dub",
				slog.String("dub_id", dub.ID),
				slog.String("recording_id", recordingID),
				slog.String("error", err.Error()),
			)
			continue
		}
		valid = append(valid, dub)
	}
	return valid, nil
}

// UpdateDubStatus sets a dub's review status
func (s *Storage) UpdateDubStatus(ctx context.Context, dubID string, status domain.DubStatus) error {
	rows, err := s.exec(ctx, "update dub status", `UPDATE dubs SET status = ? WHERE id = ?`, string(status), dubID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: dub %s", domain.ErrNotFound, dubID)
	}
	return nil
}

// SupersededTaskNote is recorded on QC tasks closed because their target was re-transcribed
const SupersededTaskNote = "closed: target removed by re-transcription"

// closeSupersededQCTasks rejects open segment and translation QC tasks of a
// recording whose targets are about to be deleted. Sign-offs are left open so
// the visibility gate still sees them.
func (s *Storage) closeSupersededQCTasks(ctx context.Context, recordingID string) (int64, error) {
	ts := now()
	query := `
		UPDATE review_tasks
		SET status = ?,
		    notes = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE status IN (?, ?)
		  AND (
		    (task_type = ? AND target_kind = ? AND target_id IN (
		        SELECT id FROM transcript_segments WHERE recording_id = ?))
		    OR
		    (task_type = ? AND target_kind = ? AND target_id IN (
		        SELECT t.id FROM translations t
		        JOIN transcript_segments seg ON seg.id = t.segment_id
		        WHERE seg.recording_id = ?))
		  )
	`
	return s.exec(ctx, "close superseded qc tasks", query,
		string(domain.TaskStatusRejected), SupersededTaskNote, ts, ts,
		string(domain.TaskStatusPending), string(domain.TaskStatusInProgress),
		string(domain.TaskTypeTranscriptionQC), string(domain.TargetSegment), recordingID,
		string(domain.TaskTypeTranslationQC), string(domain.TargetTranslation), recordingID,
	)
}
