package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/processing"
	"github.com/cuongbtq/media-pipeline/internal/review"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/google/uuid"
)

// DubbingProcessor synthesizes one segment's text as speech in a target language
type DubbingProcessor struct {
	base
	disclosureLabel string
}

// NewDubbingProcessor creates a new DubbingProcessor. A blank disclosureLabel
// falls back to domain.DefaultDisclosureLabel.
func NewDubbingProcessor(deps Deps, disclosureLabel string) *DubbingProcessor {
	if strings.TrimSpace(disclosureLabel) == "" {
		disclosureLabel = domain.DefaultDisclosureLabel
	}
	return &DubbingProcessor{
		base:            newBase(deps),
		disclosureLabel: disclosureLabel,
	}
}

// JobType implements Processor
func (p *DubbingProcessor) JobType() domain.JobType {
	return domain.JobTypeDubbing
}

// Process runs a dubbing job. The dub, its review task and the job completion commit together.
func (p *DubbingProcessor) Process(ctx context.Context, jobID string) error {
	job, payload, err := p.load(ctx, jobID, domain.JobTypeDubbing)
	if err != nil {
		return err
	}
	dp := payload.(domain.DubbingPayload)

	seg, err := p.store.GetSegment(ctx, dp.SegmentID)
	if err != nil {
		return p.lookup(ctx, job.ID, err)
	}
	if seg.RecordingID != dp.RecordingID {
		return p.fail(ctx, job.ID, fmt.Errorf("%w: segment %s does not belong to recording %s", domain.ErrNotFound, seg.ID, dp.RecordingID))
	}

	if err := p.claim(ctx, job.ID); err != nil {
		return err
	}

	p.logger.Info("Processing dubbing",
		slog.String("job_id", job.ID),
		slog.String("segment_id", seg.ID),
		slog.String("language", dp.Language),
		slog.String("voice_id", dp.VoiceID),
	)
	started := time.Now()

	out, err := callWithRetry(ctx, &p.base, job.ID, "synthesize", func(ctx context.Context) (*processing.Synthesis, error) {
		return p.service.Synthesize(ctx, seg.TextOriginal, dp.Language, dp.VoiceID)
	})
	if err != nil {
		return p.fail(ctx, job.ID, err)
	}

	language := strings.TrimSpace(out.Language)
	if language == "" {
		language = dp.Language
	}
	segmentID := seg.ID
	dub := &domain.Dub{
		ID:              uuid.New().String(),
		RecordingID:     seg.RecordingID,
		SegmentID:       &segmentID,
		LanguageCode:    language,
		IsSynthetic:     true,
		AudioURL:        strings.TrimSpace(out.AudioURL),
		DisclosureLabel: p.disclosureLabel,
		DurationMs:      out.DurationMs,
		ParamsHash:      out.ParamsHash,
		Status:          domain.DubStatusGenerated,
	}
	if err := dub.Validate(); err != nil {
		return p.fail(ctx, job.ID, err)
	}

	result := domain.DubbingResult{
		DubID:      dub.ID,
		AudioURL:   dub.AudioURL,
		DurationMs: dub.DurationMs,
	}

	err = p.store.InTx(ctx, func(tx *storage.Storage) error {
		if err := tx.CreateDub(ctx, dub); err != nil {
			return err
		}
		target := domain.TargetRef{Kind: domain.TargetDub, ID: dub.ID}
		if _, _, err := review.EnsureOpenTask(ctx, tx, target, domain.TaskTypeDubReview); err != nil {
			return err
		}
		return p.queue.Bind(tx).Complete(ctx, job.ID, result)
	})
	if err != nil {
		return p.fail(ctx, job.ID, err)
	}

	p.logger.Info("Dubbing completed",
		slog.String("job_id", job.ID),
		slog.String("dub_id", dub.ID),
		slog.String("language", dub.LanguageCode),
		slog.Int64("duration_ms", dub.DurationMs),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}
