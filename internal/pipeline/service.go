package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/queue"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
)

// DefaultFanOutConcurrency bounds concurrent enqueues of a recording fan-out
const DefaultFanOutConcurrency = 4

// Service is the action-level entry point that turns user requests into jobs
type Service struct {
	queue  *queue.Queue
	store  *storage.Storage
	fanOut int
	flight singleflight.Group
	logger *slog.Logger
}

// NewService creates a new pipeline Service
func NewService(q *queue.Queue, store *storage.Storage, fanOutConcurrency int, logger *slog.Logger) *Service {
	if fanOutConcurrency <= 0 {
		fanOutConcurrency = DefaultFanOutConcurrency
	}
	return &Service{
		queue:  q,
		store:  store,
		fanOut: fanOutConcurrency,
		logger: logger,
	}
}

// EnqueueTranscription queues transcription of a recording. An empty language
// asks the service to detect it.
func (s *Service) EnqueueTranscription(ctx context.Context, actor domain.Actor, recordingID, lang string) (*domain.Job, bool, error) {
	if err := requireContentEdit(actor); err != nil {
		return nil, false, err
	}
	lang, err := canonicalLanguage(lang, false)
	if err != nil {
		return nil, false, err
	}
	if _, err := s.store.GetRecording(ctx, recordingID); err != nil {
		return nil, false, err
	}

	return s.queue.Enqueue(ctx, domain.TranscriptionPayload{RecordingID: recordingID, Language: lang})
}

// EnqueueDubbing queues synthesis of one segment in a target language
func (s *Service) EnqueueDubbing(ctx context.Context, actor domain.Actor, recordingID, segmentID, lang, voiceID string) (*domain.Job, bool, error) {
	if err := requireContentEdit(actor); err != nil {
		return nil, false, err
	}
	lang, err := canonicalLanguage(lang, true)
	if err != nil {
		return nil, false, err
	}

	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, false, err
	}
	if seg.RecordingID != recordingID {
		return nil, false, fmt.Errorf("%w: segment %s of recording %s", domain.ErrNotFound, segmentID, recordingID)
	}

	return s.queue.Enqueue(ctx, domain.DubbingPayload{
		RecordingID: recordingID,
		SegmentID:   segmentID,
		Language:    lang,
		VoiceID:     strings.TrimSpace(voiceID),
	})
}

// QueueRecordingDubbing queues one dubbing job per segment of a recording and
// returns their ids in segment order. Identical concurrent requests share one fan-out.
func (s *Service) QueueRecordingDubbing(ctx context.Context, actor domain.Actor, recordingID, lang, voiceID string) ([]string, error) {
	if err := requireContentEdit(actor); err != nil {
		return nil, err
	}
	lang, err := canonicalLanguage(lang, true)
	if err != nil {
		return nil, err
	}
	voiceID = strings.TrimSpace(voiceID)

	if _, err := s.store.GetRecording(ctx, recordingID); err != nil {
		return nil, err
	}

	key := strings.Join([]string{recordingID, lang, voiceID}, ":")
	v, err, shared := s.flight.Do(key, func() (any, error) {
		return s.fanOutDubbing(ctx, recordingID, lang, voiceID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("Joined in-flight dubbing fan-out",
			slog.String("recording_id", recordingID),
			slog.String("language", lang),
		)
	}

	ids := v.([]string)
	return append([]string(nil), ids...), nil
}

func (s *Service) fanOutDubbing(ctx context.Context, recordingID, lang, voiceID string) ([]string, error) {
	segments, err := s.store.ListSegments(ctx, recordingID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)

	for i := range segments {
		seg := segments[i]
		g.Go(func() error {
			job, _, err := s.queue.Enqueue(gctx, domain.DubbingPayload{
				RecordingID: recordingID,
				SegmentID:   seg.ID,
				Language:    lang,
				VoiceID:     voiceID,
			})
			if err != nil {
				return fmt.Errorf("segment %d: %w", seg.SegmentIndex, err)
			}
			ids[i] = job.ID
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("Dubbing fan-out failed",
			slog.String("recording_id", recordingID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("Dubbing fan-out queued",
		slog.String("recording_id", recordingID),
		slog.String("language", lang),
		slog.Int("jobs", len(ids)),
	)
	return ids, nil
}

// canonicalLanguage validates a BCP 47 code and returns its canonical form
func canonicalLanguage(code string, required bool) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		if required {
			return "", fmt.Errorf("%w: language is required", domain.ErrValidation)
		}
		return "", nil
	}

	tag, err := language.Parse(code)
	if err != nil || tag == language.Und {
		return "", fmt.Errorf("%w: invalid language code %q", domain.ErrValidation, code)
	}
	return tag.String(), nil
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
