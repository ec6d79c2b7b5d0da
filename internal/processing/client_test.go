package processing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "secret", Timeout: 2 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestTranscribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transcribe", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req transcribeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://media.example/rec-1.wav", req.AudioURL)
		assert.Equal(t, "en", req.Language)

		writeJSON(w, http.StatusOK, Transcription{
			Text:       "Hello world",
			Confidence: 0.93,
			Segments: []Segment{
				{StartMs: 0, EndMs: 1200, Text: "Hello"},
				{StartMs: 1200, EndMs: 2500, Text: "world"},
			},
		})
	})

	out, err := c.Transcribe(context.Background(), "https://media.example/rec-1.wav", "en")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", out.Text)
	assert.InDelta(t, 0.93, out.Confidence, 0.0001)
	require.Len(t, out.Segments, 2)
	assert.Equal(t, int64(1200), out.Segments[1].StartMs)
}

func TestSynthesize(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/synthesize", r.URL.Path)

		var req synthesizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Bonjour", req.Text)
		assert.Equal(t, "fr", req.Language)
		assert.Equal(t, "v1", req.VoiceID)

		writeJSON(w, http.StatusOK, Synthesis{
			AudioURL: "https://cdn.example/d1.mp3", Language: "fr", DurationMs: 1200, ParamsHash: "abc",
		})
	})

	out, err := c.Synthesize(context.Background(), "Bonjour", "fr", "v1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/d1.mp3", out.AudioURL)
	assert.Equal(t, int64(1200), out.DurationMs)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"unavailable", http.StatusServiceUnavailable, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"unprocessable", http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, errorResponse{Message: "nope"})
			})

			_, err := c.Transcribe(context.Background(), "https://media.example/a.wav", "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrExternalService))
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, Timeout: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer c.Close()

	_, err := c.Synthesize(context.Background(), "x", "fr", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExternalService))
	assert.True(t, domain.IsRetryable(err))
}

func TestClassifyStatus(t *testing.T) {
	err := classifyStatus("/v1/transcribe", http.StatusBadGateway, "upstream")
	assert.True(t, domain.IsRetryable(err))
	assert.Contains(t, err.Error(), "502")
}

func TestErrorResponse_DescribeTruncatesOnRuneBoundary(t *testing.T) {
	tests := []struct {
		name      string
		resp      errorResponse
		raw       string
		want      string
		wantRunes int
	}{
		{name: "message wins", resp: errorResponse{Message: "bad audio", Error: "ignored"}, raw: "body", want: "bad audio"},
		{name: "error field", resp: errorResponse{Error: "quota"}, raw: "body", want: "quota"},
		{name: "short raw body", raw: "  plain failure  ", want: "plain failure"},
		{name: "long ascii body", raw: strings.Repeat("x", 250), wantRunes: maxDetailRunes},
		{name: "long multibyte body", raw: "a" + strings.Repeat("語", 250), wantRunes: maxDetailRunes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.resp.describe(tt.raw)
			assert.True(t, utf8.ValidString(got))
			if tt.want != "" {
				assert.Equal(t, tt.want, got)
				return
			}
			assert.Equal(t, tt.wantRunes, utf8.RuneCountInString(got))
		})
	}
}

func TestErrorClassification_MultibyteBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, strings.Repeat("é", 300))
	})

	_, err := c.Transcribe(context.Background(), "https://media.example/a.wav", "")
	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()))
}
