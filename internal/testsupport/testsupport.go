// Package testsupport builds in-memory stores and fixtures for package tests.
package testsupport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/cuongbtq/media-pipeline/shared/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Logger returns a logger that discards output
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewStorage opens a migrated in-memory SQLite store closed with the test
func NewStorage(t *testing.T) *storage.Storage {
	t.Helper()

	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   ":memory:",
	}, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := storage.NewStorage(client.GetDB(), Logger())
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// ClosedStorage returns a migrated store whose connection is already closed, so every query fails
func ClosedStorage(t *testing.T) *storage.Storage {
	t.Helper()

	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   ":memory:",
	}, Logger())
	require.NoError(t, err)

	store := storage.NewStorage(client.GetDB(), Logger())
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, client.Close())
	return store
}

// SeedRecording inserts a private standard recording; opts adjust it before insert
func SeedRecording(t *testing.T, store *storage.Storage, id string, opts ...func(*domain.Recording)) *domain.Recording {
	t.Helper()

	rec := &domain.Recording{
		ID:           id,
		Title:        "Recording " + id,
		AudioURL:     fmt.Sprintf("https://media.example/%s.wav", id),
		DurationMs:   5000,
		LanguageCode: "en",
		Sensitivity:  domain.SensitivityStandard,
		Visibility:   domain.VisibilityPrivate,
	}
	for _, opt := range opts {
		opt(rec)
	}
	require.NoError(t, store.CreateRecording(context.Background(), rec))
	return rec
}

// Sacred marks a seeded recording as culturally sensitive
func Sacred(rec *domain.Recording) {
	rec.Sensitivity = domain.SensitivitySacred
}

// SeedSegments replaces a recording's segments with one 1s segment per text
func SeedSegments(t *testing.T, store *storage.Storage, recordingID string, texts ...string) []domain.TranscriptSegment {
	t.Helper()

	segments := make([]domain.TranscriptSegment, len(texts))
	for i, text := range texts {
		segments[i] = domain.TranscriptSegment{
			ID:           uuid.NewString(),
			SegmentIndex: i,
			StartMs:      int64(i) * 1000,
			EndMs:        int64(i+1) * 1000,
			TextOriginal: text,
			QCStatus:     domain.QCStatusPending,
		}
	}
	require.NoError(t, store.ReplaceSegments(context.Background(), recordingID, segments))

	stored, err := store.ListSegments(context.Background(), recordingID)
	require.NoError(t, err)
	return stored
}

// Publisher records dispatch messages in memory
type Publisher struct {
	mu       sync.Mutex
	Err      error
	Messages []domain.JobMessage
}

// PublishWithRetry records the message or returns p.Err
func (p *Publisher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	var msg domain.JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return err
	}
	p.Messages = append(p.Messages, msg)
	return nil
}

// Published returns a copy of the recorded messages
func (p *Publisher) Published() []domain.JobMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.JobMessage(nil), p.Messages...)
}

// SetErr makes later publishes fail with err
func (p *Publisher) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}
