package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/processing"
	"github.com/cuongbtq/media-pipeline/internal/review"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/google/uuid"
)

// TranscriptionProcessor turns a recording's audio into its transcript segments
type TranscriptionProcessor struct {
	base
}

// NewTranscriptionProcessor creates a new TranscriptionProcessor
func NewTranscriptionProcessor(deps Deps) *TranscriptionProcessor {
	return &TranscriptionProcessor{base: newBase(deps)}
}

// JobType implements Processor
func (p *TranscriptionProcessor) JobType() domain.JobType {
	return domain.JobTypeTranscription
}

// Process runs a transcription job. The segment replacement, the QC task and
// the job completion commit together.
func (p *TranscriptionProcessor) Process(ctx context.Context, jobID string) error {
	job, payload, err := p.load(ctx, jobID, domain.JobTypeTranscription)
	if err != nil {
		return err
	}
	tp := payload.(domain.TranscriptionPayload)

	rec, err := p.store.GetRecording(ctx, tp.RecordingID)
	if err != nil {
		return p.lookup(ctx, job.ID, err)
	}

	if err := p.claim(ctx, job.ID); err != nil {
		return err
	}

	p.logger.Info("Processing transcription",
		slog.String("job_id", job.ID),
		slog.String("recording_id", rec.ID),
		slog.String("language", tp.Language),
	)
	started := time.Now()

	out, err := callWithRetry(ctx, &p.base, job.ID, "transcribe", func(ctx context.Context) (*processing.Transcription, error) {
		return p.service.Transcribe(ctx, rec.AudioURL, tp.Language)
	})
	if err != nil {
		return p.fail(ctx, job.ID, err)
	}

	segments := buildSegments(out.Segments)
	if err := domain.ValidateSegmentSet(segments); err != nil {
		return p.fail(ctx, job.ID, err)
	}

	result := domain.TranscriptionResult{
		SegmentsCreated: len(segments),
		FullText:        fullText(out),
		Confidence:      out.Confidence,
	}
	if tp.Language == "" {
		result.DetectedLanguage = detectLanguage(result.FullText)
	}

	err = p.store.InTx(ctx, func(tx *storage.Storage) error {
		if err := tx.ReplaceSegments(ctx, rec.ID, segments); err != nil {
			return err
		}
		target := domain.TargetRef{Kind: domain.TargetRecording, ID: rec.ID}
		if _, _, err := review.EnsureOpenTask(ctx, tx, target, domain.TaskTypeTranscriptionQC); err != nil {
			return err
		}
		return p.queue.Bind(tx).Complete(ctx, job.ID, result)
	})
	if err != nil {
		return p.fail(ctx, job.ID, err)
	}

	p.logger.Info("Transcription completed",
		slog.String("job_id", job.ID),
		slog.String("recording_id", rec.ID),
		slog.Int("segments_created", result.SegmentsCreated),
		slog.Float64("confidence", result.Confidence),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// buildSegments orders the service's segments by start time and indexes them 0..n-1
func buildSegments(in []processing.Segment) []domain.TranscriptSegment {
	ordered := make([]processing.Segment, len(in))
	copy(ordered, in)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartMs < ordered[j].StartMs
	})

	segments := make([]domain.TranscriptSegment, len(ordered))
	for i, s := range ordered {
		segments[i] = domain.TranscriptSegment{
			ID:           uuid.New().String(),
			SegmentIndex: i,
			StartMs:      s.StartMs,
			EndMs:        s.EndMs,
			TextOriginal: strings.TrimSpace(s.Text),
			QCStatus:     domain.QCStatusPending,
		}
	}
	return segments
}

func fullText(t *processing.Transcription) string {
	if text := strings.TrimSpace(t.Text); text != "" {
		return text
	}
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// detectLanguage guesses the ISO 639-1 code of text, empty when unsure
func detectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
