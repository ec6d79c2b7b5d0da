package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Job is a durable unit of asynchronous work
type Job struct {
	ID              string     `db:"id" json:"id"`
	Type            JobType    `db:"job_type" json:"job_type"`
	Status          JobStatus  `db:"status" json:"status"`
	Payload         string     `db:"payload" json:"payload"` // JSON of the typed payload
	Result          *string    `db:"result" json:"result,omitempty"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
	DedupeKey       string     `db:"dedupe_key" json:"dedupe_key"`
	Attempts        int        `db:"attempts" json:"attempts"`
	WorkerID        *string    `db:"worker_id" json:"worker_id,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	LastHeartbeatAt *time.Time `db:"last_heartbeat_at" json:"last_heartbeat_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Payload is the type-specific input of a job. Each variant fixes its job type.
type Payload interface {
	JobType() JobType
	// DedupeKey identifies the logical work so duplicate active jobs can be detected
	DedupeKey() string
	Validate() error
}

// TranscriptionPayload asks for a recording to be transcribed
type TranscriptionPayload struct {
	RecordingID string `json:"recording_id"`
	Language    string `json:"language,omitempty"`
}

func (p TranscriptionPayload) JobType() JobType { return JobTypeTranscription }

func (p TranscriptionPayload) DedupeKey() string {
	return fmt.Sprintf("%s:%s:%s", JobTypeTranscription, p.RecordingID, p.Language)
}

func (p TranscriptionPayload) Validate() error {
	if strings.TrimSpace(p.RecordingID) == "" {
		return fmt.Errorf("%w: recording_id is required", ErrValidation)
	}
	return nil
}

// DubbingPayload asks for one segment to be synthesized in a target language
type DubbingPayload struct {
	RecordingID string `json:"recording_id"`
	SegmentID   string `json:"segment_id"`
	Language    string `json:"language"`
	VoiceID     string `json:"voice_id,omitempty"`
}

func (p DubbingPayload) JobType() JobType { return JobTypeDubbing }

func (p DubbingPayload) DedupeKey() string {
	return fmt.Sprintf("%s:%s:%s:%s", JobTypeDubbing, p.SegmentID, p.Language, p.VoiceID)
}

func (p DubbingPayload) Validate() error {
	if strings.TrimSpace(p.RecordingID) == "" {
		return fmt.Errorf("%w: recording_id is required", ErrValidation)
	}
	if strings.TrimSpace(p.SegmentID) == "" {
		return fmt.Errorf("%w: segment_id is required", ErrValidation)
	}
	if strings.TrimSpace(p.Language) == "" {
		return fmt.Errorf("%w: language is required", ErrValidation)
	}
	return nil
}

// EncodePayload serializes a payload for storage
func EncodePayload(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses the stored payload into the variant matching jobType
func DecodePayload(jobType JobType, raw string) (Payload, error) {
	var p Payload
	switch jobType {
	case JobTypeTranscription:
		var tp TranscriptionPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return nil, fmt.Errorf("%w: malformed transcription payload: %v", ErrValidation, err)
		}
		p = tp
	case JobTypeDubbing:
		var dp DubbingPayload
		if err := json.Unmarshal([]byte(raw), &dp); err != nil {
			return nil, fmt.Errorf("%w: malformed dubbing payload: %v", ErrValidation, err)
		}
		p = dp
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobType, jobType)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// TranscriptionResult summarizes a completed transcription job
type TranscriptionResult struct {
	SegmentsCreated  int     `json:"segments_created"`
	FullText         string  `json:"full_text"`
	Confidence       float64 `json:"confidence"`
	DetectedLanguage string  `json:"detected_language,omitempty"`
}

// DubbingResult summarizes a completed dubbing job
type DubbingResult struct {
	DubID      string `json:"dub_id"`
	AudioURL   string `json:"audio_url"`
	DurationMs int64  `json:"duration_ms"`
}

// JobMessage is the broker message announcing a job to workers
type JobMessage struct {
	JobID   string  `json:"job_id"`
	JobType JobType `json:"job_type"`
}
