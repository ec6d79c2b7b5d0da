// Package processing calls the external speech service that transcribes and synthesizes audio.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"resty.dev/v3"
)

// Config holds processing service connection settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Segment is one timed piece of a transcription
type Segment struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// Transcription is the service's answer to a transcribe request
type Transcription struct {
	Text       string    `json:"text"`
	Segments   []Segment `json:"segments"`
	Confidence float64   `json:"confidence"`
}

// Synthesis is the service's answer to a synthesize request
type Synthesis struct {
	AudioURL   string `json:"audio_url"`
	Language   string `json:"language"`
	DurationMs int64  `json:"duration_ms"`
	ParamsHash string `json:"params_hash"`
}

// Service is the capability processors depend on
type Service interface {
	Transcribe(ctx context.Context, audioURL, language string) (*Transcription, error)
	Synthesize(ctx context.Context, text, language, voiceID string) (*Synthesis, error)
}

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
	Language string `json:"language,omitempty"`
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	VoiceID  string `json:"voice_id,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the processing service over HTTP JSON
type Client struct {
	client *resty.Client
	logger *slog.Logger
}

// NewClient creates a new processing service client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Client{
		client: client,
		logger: logger,
	}
}

// Close releases the underlying HTTP resources
func (c *Client) Close() error {
	return c.client.Close()
}

// Transcribe converts the audio at audioURL into text segments
func (c *Client) Transcribe(ctx context.Context, audioURL, language string) (*Transcription, error) {
	var out Transcription
	if err := c.post(ctx, "/v1/transcribe", transcribeRequest{AudioURL: audioURL, Language: language}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Synthesize renders text as speech in language
func (c *Client) Synthesize(ctx context.Context, text, language, voiceID string) (*Synthesis, error) {
	var out Synthesis
	if err := c.post(ctx, "/v1/synthesize", synthesizeRequest{Text: text, Language: language, VoiceID: voiceID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var apiErr errorResponse
	start := time.Now()

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&apiErr).
		Post(path)

	if err != nil {
		c.logger.Warn("Processing service request failed",
			slog.String("path", path),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		// Transport errors and per-attempt timeouts are worth another attempt.
		return domain.NewRetryableError(fmt.Errorf("%w: %s: %v", domain.ErrExternalService, path, err))
	}

	c.logger.Debug("Processing service responded",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode()),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.IsError() || resp.StatusCode() >= http.StatusMultipleChoices {
		return classifyStatus(path, resp.StatusCode(), apiErr.describe(resp.String()))
	}
	return nil
}

// classifyStatus maps a non-2xx answer to an error; 5xx and 429 are transient
func classifyStatus(path string, status int, detail string) error {
	err := fmt.Errorf("%w: %s returned %d: %s", domain.ErrExternalService, path, status, detail)
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return domain.NewRetryableError(err)
	}
	return err
}

func (e errorResponse) describe(raw string) string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	default:
		return truncate(strings.TrimSpace(raw), maxDetailRunes)
	}
}

const maxDetailRunes = 200

// truncate keeps at most n runes of s
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
