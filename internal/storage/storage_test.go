package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/cuongbtq/media-pipeline/internal/testsupport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueuedJob(t *testing.T, store *storage.Storage, payload domain.Payload) *domain.Job {
	t.Helper()

	raw, err := domain.EncodePayload(payload)
	require.NoError(t, err)

	ts := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Type:      payload.JobType(),
		Status:    domain.JobStatusQueued,
		Payload:   raw,
		DedupeKey: payload.DedupeKey(),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func TestMigrate_Idempotent(t *testing.T) {
	store := testsupport.NewStorage(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewStorage(t)
	job := newQueuedJob(t, store, domain.TranscriptionPayload{RecordingID: "rec-1", Language: "en"})

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.ErrorMessage)

	claimed, err := store.ClaimJob(ctx, job.ID, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, claimed.Status)
	require.NotNil(t, claimed.WorkerID)
	assert.Equal(t, "worker-a", *claimed.WorkerID)
	assert.NotNil(t, claimed.StartedAt)

	require.NoError(t, store.CompleteJob(ctx, job.ID, `{"segments_created":0}`))

	done, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.JSONEq(t, `{"segments_created":0}`, *done.Result)
	assert.Nil(t, done.ErrorMessage)
	assert.NotNil(t, done.CompletedAt)

	err = store.TerminateJob(ctx, job.ID, domain.JobStatusFailed, "late failure")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestClaimJob_NotFound(t *testing.T) {
	store := testsupport.NewStorage(t)

	_, err := store.ClaimJob(context.Background(), uuid.NewString(), "worker-a")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
}

func TestClaimJob_OnlyOneWinner(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewStorage(t)
	job := newQueuedJob(t, store, domain.TranscriptionPayload{RecordingID: "rec-1"})

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.ClaimJob(ctx, job.ID, uuid.NewString())
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, claimers-1, conflicts)
}

func TestTerminateJob(t *testing.T) {
	ctx := context.Background()

	t.Run("queued job can fail", func(t *testing.T) {
		store := testsupport.NewStorage(t)
		job := newQueuedJob(t, store, domain.TranscriptionPayload{RecordingID: "rec-1"})

		require.NoError(t, store.TerminateJob(ctx, job.ID, domain.JobStatusFailed, "recording missing"))
		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "recording missing", *got.ErrorMessage)
		assert.Nil(t, got.Result)
	})

	t.Run("queued job cannot time out", func(t *testing.T) {
		store := testsupport.NewStorage(t)
		job := newQueuedJob(t, store, domain.TranscriptionPayload{RecordingID: "rec-1"})

		err := store.TerminateJob(ctx, job.ID, domain.JobStatusTimedOut, "deadline")
		assert.True(t, errors.Is(err, domain.ErrConflict))
	})

	t.Run("running job times out", func(t *testing.T) {
		store := testsupport.NewStorage(t)
		job := newQueuedJob(t, store, domain.TranscriptionPayload{RecordingID: "rec-1"})
		_, err := store.ClaimJob(ctx, job.ID, "w")
		require.NoError(t, err)

		require.NoError(t, store.TerminateJob(ctx, job.ID, domain.JobStatusTimedOut, "deadline exceeded"))
		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusTimedOut, got.Status)
	})

	t.Run("completed is not a failure status", func(t *testing.T) {
		store := testsupport.NewStorage(t)
		job := newQueuedJob(t, store, domain.TranscriptionPayload{RecordingID: "rec-1"})

		err := store.TerminateJob(ctx, job.ID, domain.JobStatusCompleted, "")
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})
}

func TestFindActiveJobByDedupeKey(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewStorage(t)
	payload := domain.TranscriptionPayload{RecordingID: "rec-1", Language: "en"}
	job := newQueuedJob(t, store, payload)

	found, err := store.FindActiveJobByDedupeKey(ctx, payload.DedupeKey())
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.ID)

	require.NoError(t, store.TerminateJob(ctx, job.ID, domain.JobStatusFailed, "boom"))
	_, err = store.FindActiveJobByDedupeKey(ctx, payload.DedupeKey())
	assert.True(t, storage.IsNotFound(err))
}

func TestListJobs_Pagination(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewStorage(t)

	for i := 0; i < 5; i++ {
		newQueuedJob(t, store, domain.TranscriptionPayload{RecordingID: uuid.NewString()})
	}
	newQueuedJob(t, store, domain.DubbingPayload{RecordingID: "r", SegmentID: "s", Language: "fr"})

	page, err := store.ListJobs(ctx, storage.JobFilter{JobType: domain.JobTypeTranscription, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3, "one extra row signals another page")

	last := page[1]
	next, err := store.ListJobs(ctx, storage.JobFilter{
		JobType:  domain.JobTypeTranscription,
		PageSize: 10,
		Cursor:   &storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID},
	})
	require.NoError(t, err)
	assert.Len(t, next, 3)
	for _, j := range next {
		assert.NotEqual(t, page[0].ID, j.ID)
		assert.NotEqual(t, page[1].ID, j.ID)
	}
}

func TestListStaleRunningJobs(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewStorage(t)
	job := newQueuedJob(t, store, domain.TranscriptionPayload{RecordingID: "rec-1"})
	_, err := store.ClaimJob(ctx, job.ID, "w")
	require.NoError(t, err)

	stale, err := store.ListStaleRunningJobs(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = store.ListStaleRunningJobs(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, job.ID, stale[0].ID)
}

func TestReplaceSegments(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewStorage(t)
	testsupport.SeedRecording(t, store, "rec-1")

	old := testsupport.SeedSegments(t, store, "rec-1", "one", "two", "three")
	require.NoError(t, store.UpsertTranslation(ctx, &domain.Translation{
		ID: uuid.NewString(), SegmentID: old[0].ID, LanguageCode: "fr", TranslatedText: "un",
	}))

	fresh := []domain.TranscriptSegment{
		{ID: uuid.NewString(), SegmentIndex: 0, StartMs: 0, EndMs: 2000, TextOriginal: "a"},
		{ID: uuid.NewString(), SegmentIndex: 1, StartMs: 2000, EndMs: 5000, TextOriginal: "b"},
	}
	require.NoError(t, store.ReplaceSegments(ctx, "rec-1", fresh))

	got, err := store.ListSegments(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i, seg := range got {
		assert.Equal(t, i, seg.SegmentIndex)
		assert.Equal(t, domain.QCStatusPending, seg.QCStatus)
	}

	translations, err := store.ListTranslations(ctx, old[0].ID)
	require.NoError(t, err)
	assert.Empty(t, translations, "translations of replaced segments are removed")

	_, err = store.GetSegment(ctx, old[0].ID)
	assert.True(t, storage.IsNotFound(err))
}

func TestReplaceSegments_ClosesQCTasksOnRemovedTargets(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewStorage(t)
	testsupport.SeedRecording(t, store, "rec-1")

	old := testsupport.SeedSegments(t, store, "rec-1", "one", "two")
	translation := &domain.Translation{ID: uuid.NewString(), SegmentID: old[0].ID, LanguageCode: "fr", TranslatedText: "un"}
	require.NoError(t, store.UpsertTranslation(ctx, translation))

	newTask := func(kind domain.TargetKind, targetID string, taskType domain.TaskType) *domain.ReviewTask {
		task := &domain.ReviewTask{
			ID:          uuid.NewString(),
			TargetKind:  kind,
			TargetID:    targetID,
			RecordingID: "rec-1",
			TaskType:    taskType,
			Status:      domain.TaskStatusPending,
		}
		require.NoError(t, store.CreateReviewTask(ctx, task))
		return task
	}

	segmentQC := newTask(domain.TargetSegment, old[0].ID, domain.TaskTypeTranscriptionQC)
	translationQC := newTask(domain.TargetTranslation, translation.ID, domain.TaskTypeTranslationQC)
	recordingQC := newTask(domain.TargetRecording, "rec-1", domain.TaskTypeTranscriptionQC)
	signOff := newTask(domain.TargetSegment, old[1].ID, domain.TaskTypeSacredSignOff)

	require.NoError(t, store.ReplaceSegments(ctx, "rec-1", []domain.TranscriptSegment{
		{ID: uuid.NewString(), SegmentIndex: 0, StartMs: 0, EndMs: 1000, TextOriginal: "fresh"},
	}))

	for _, task := range []*domain.ReviewTask{segmentQC, translationQC} {
		got, err := store.GetReviewTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusRejected, got.Status, task.TaskType)
		assert.Equal(t, storage.SupersededTaskNote, got.Notes)
		assert.NotNil(t, got.CompletedAt)
	}

	for _, task := range []*domain.ReviewTask{recordingQC, signOff} {
		got, err := store.GetReviewTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, got.Status, task.TaskType)
	}

	blocking, err := store.CountSignOffs(ctx, "rec-1", domain.TaskStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, blocking)
}

func TestReplaceSegments_InvalidSetLeavesOldSegments(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewStorage(t)
	testsupport.SeedRecording(t, store, "rec-1")
	testsupport.SeedSegments(t, store, "rec-1", "keep")

	err := store.ReplaceSegments(ctx, "rec-1", []domain.TranscriptSegment{
		{ID: uuid.NewString(), SegmentIndex: 0, StartMs: 3000, EndMs: 1000, TextOriginal: "bad"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	got, err := store.ListSegments(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].TextOriginal)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewStorage(t)
	testsupport.SeedRecording(t, store, "rec-1")

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx *storage.Storage) error {
		if err := tx.UpdateRecordingVisibility(ctx, "rec-1", domain.VisibilityPublic); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := store.GetRecording(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityPrivate, rec.Visibility)
}

func TestDubs_DisclosureInvariant(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewStorage(t)
	testsupport.SeedRecording(t, store, "rec-1")

	err := store.CreateDub(ctx, &domain.Dub{
		ID: uuid.NewString(), RecordingID: "rec-1", LanguageCode: "fr",
		IsSynthetic: true, AudioURL: "https://cdn/a.mp3", DisclosureLabel: "  ",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	valid := &domain.Dub{
		ID: uuid.NewString(), RecordingID: "rec-1", LanguageCode: "fr",
		IsSynthetic: true, AudioURL: "https://cdn/b.mp3", DisclosureLabel: domain.DefaultDisclosureLabel,
	}
	require.NoError(t, store.CreateDub(ctx, valid))

	dubs, err := store.ListDubs(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, dubs, 1)
	assert.Equal(t, valid.ID, dubs[0].ID)
	assert.True(t, dubs[0].IsSynthetic)
	assert.Equal(t, domain.DubStatusGenerated, dubs[0].Status)
}

func TestReviewTasks(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewStorage(t)
	testsupport.SeedRecording(t, store, "rec-1")

	task := &domain.ReviewTask{
		ID:          uuid.NewString(),
		TargetKind:  domain.TargetRecording,
		TargetID:    "rec-1",
		RecordingID: "rec-1",
		TaskType:    domain.TaskTypeSacredSignOff,
		Status:      domain.TaskStatusPending,
	}
	require.NoError(t, store.CreateReviewTask(ctx, task))

	open, err := store.FindOpenReviewTask(ctx, task.Target(), domain.TaskTypeSacredSignOff)
	require.NoError(t, err)
	assert.Equal(t, task.ID, open.ID)

	blocking, err := store.CountSignOffs(ctx, "rec-1", domain.TaskStatusPending, domain.TaskStatusInProgress, domain.TaskStatusRejected)
	require.NoError(t, err)
	assert.Equal(t, 1, blocking)

	completed := time.Now().UTC()
	task.Status = domain.TaskStatusApproved
	task.CompletedAt = &completed
	task.Notes = "elders consulted"
	require.NoError(t, store.UpdateReviewTask(ctx, task))

	task.Status = domain.TaskStatusRejected
	err = store.UpdateReviewTask(ctx, task)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	got, err := store.GetReviewTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusApproved, got.Status)
	assert.Equal(t, "elders consulted", got.Notes)
	assert.NotNil(t, got.CompletedAt)

	approved, err := store.CountSignOffs(ctx, "rec-1", domain.TaskStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, 1, approved)
}
