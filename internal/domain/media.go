package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultDisclosureLabel marks machine-generated audio when no label is configured
const DefaultDisclosureLabel = "Synthetic voice: this audio was generated by a machine and is not a recording of a human speaker."

// Recording is an archived audio item owned by the surrounding site
type Recording struct {
	ID           string      `db:"id" json:"id"`
	Title        string      `db:"title" json:"title"`
	AudioURL     string      `db:"audio_url" json:"audio_url"`
	DurationMs   int64       `db:"duration_ms" json:"duration_ms"`
	LanguageCode string      `db:"language_code" json:"language_code"`
	Sensitivity  Sensitivity `db:"sensitivity" json:"sensitivity"`
	Visibility   Visibility  `db:"visibility" json:"visibility"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// TranscriptSegment is a time-bounded slice of a recording's transcript
type TranscriptSegment struct {
	ID           string    `db:"id" json:"id"`
	RecordingID  string    `db:"recording_id" json:"recording_id"`
	SegmentIndex int       `db:"segment_index" json:"segment_index"`
	StartMs      int64     `db:"start_ms" json:"start_ms"`
	EndMs        int64     `db:"end_ms" json:"end_ms"`
	TextOriginal string    `db:"text_original" json:"text_original"`
	QCStatus     QCStatus  `db:"qc_status" json:"qc_status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Validate checks the segment bounds
func (s TranscriptSegment) Validate() error {
	if s.StartMs < 0 {
		return fmt.Errorf("%w: segment %d starts before 0ms", ErrValidation, s.SegmentIndex)
	}
	if s.StartMs >= s.EndMs {
		return fmt.Errorf("%w: segment %d has start_ms %d >= end_ms %d", ErrValidation, s.SegmentIndex, s.StartMs, s.EndMs)
	}
	return nil
}

// ValidateSegmentSet checks that a recording's segments are indexed 0..n-1 with valid bounds
func ValidateSegmentSet(segments []TranscriptSegment) error {
	for i, s := range segments {
		if s.SegmentIndex != i {
			return fmt.Errorf("%w: segment indices are not contiguous at position %d (got %d)", ErrValidation, i, s.SegmentIndex)
		}
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Translation is the rendering of one segment in one language
type Translation struct {
	ID             string    `db:"id" json:"id"`
	SegmentID      string    `db:"segment_id" json:"segment_id"`
	LanguageCode   string    `db:"language_code" json:"language_code"`
	TranslatedText string    `db:"translated_text" json:"translated_text"`
	QCStatus       QCStatus  `db:"qc_status" json:"qc_status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Dub is an audio rendering of a recording (or one of its segments) in a language
type Dub struct {
	ID              string    `db:"id" json:"id"`
	RecordingID     string    `db:"recording_id" json:"recording_id"`
	SegmentID       *string   `db:"segment_id" json:"segment_id,omitempty"`
	LanguageCode    string    `db:"language_code" json:"language_code"`
	IsSynthetic     bool      `db:"is_synthetic" json:"is_synthetic"`
	AudioURL        string    `db:"audio_url" json:"audio_url"`
	DisclosureLabel string    `db:"disclosure_label" json:"disclosure_label"`
	DurationMs      int64     `db:"duration_ms" json:"duration_ms"`
	ParamsHash      string    `db:"params_hash" json:"params_hash"`
	Status          DubStatus `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Validate enforces the disclosure requirement on synthetic audio
func (d Dub) Validate() error {
	if d.IsSynthetic && strings.TrimSpace(d.DisclosureLabel) == "" {
		return fmt.Errorf("%w: synthetic dub requires a disclosure label", ErrValidation)
	}
	if strings.TrimSpace(d.AudioURL) == "" {
		return fmt.Errorf("%w: dub requires an audio location", ErrValidation)
	}
	if strings.TrimSpace(d.LanguageCode) == "" {
		return fmt.Errorf("%w: dub requires a language code", ErrValidation)
	}
	return nil
}
