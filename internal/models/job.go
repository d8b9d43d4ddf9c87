package models

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

type JobStatus string

const (
	StatusDraft      JobStatus = "draft"
	StatusPending    JobStatus = "pending"
	StatusScheduled  JobStatus = "scheduled"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCanceled   JobStatus = "canceled"
)

type MessageType string

const (
	MessageText         MessageType = "text"
	MessageImage        MessageType = "image"
	MessageVideo        MessageType = "video"
	MessageButtons      MessageType = "buttons"
	MessageQuickReplies MessageType = "quickReplies"
)

// HasMedia reports whether the message type always carries media.
func (t MessageType) HasMedia() bool {
	return t == MessageImage || t == MessageVideo
}

type DelayMode string

const (
	DelayFixed       DelayMode = "fixed"
	DelayRandom      DelayMode = "random"
	DelayIncremental DelayMode = "incremental"
	DelayAdaptive    DelayMode = "adaptive"
)

// Recipient is a single entry of a job's recipient list.
type Recipient struct {
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

var errInvalidRecipient = errors.New("invalid recipient identifier")

// Validate rejects malformed recipient entries before any dispatch attempt.
// An identifier must be non-empty and contain only digits, letters, '+',
// '-', '_', '.' or '@'.
func (r Recipient) Validate() error {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return errInvalidRecipient
	}
	for _, c := range id {
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			continue
		}
		switch c {
		case '+', '-', '_', '.', '@':
		default:
			return errInvalidRecipient
		}
	}
	return nil
}

// Button is one interactive element of a buttons/quickReplies message.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// DelayConfig holds the pacing parameters of a job. Bounds (for example
// min < max in random mode) are validated at job creation time, outside
// this engine.
type DelayConfig struct {
	Enabled           bool      `json:"enabled"`
	Mode              DelayMode `json:"mode"`
	DelaySeconds      int       `json:"delaySeconds"`
	MinDelaySeconds   int       `json:"minDelaySeconds"`
	MaxDelaySeconds   int       `json:"maxDelaySeconds"`
	IncrementalStart  int       `json:"incrementalStart"`
	IncrementalStep   int       `json:"incrementalStep"`
	AdaptiveBaseDelay int       `json:"adaptiveBaseDelay"`
}

// Job is one persisted unit of bulk-delivery work: a campaign or a
// scheduled send. Configuration fields are immutable once the job is
// running; run-state fields are mutated only by the worker holding the
// processing lock.
type Job struct {
	ID      int64 `json:"id"`
	OwnerID int64 `json:"owner_id"`

	Recipients  []Recipient `json:"recipients"`
	MessageType MessageType `json:"message_type"`
	Message     string      `json:"message"`
	MediaURL    string      `json:"media_url,omitempty"`
	Caption     string      `json:"caption,omitempty"`
	Buttons     []Button    `json:"buttons,omitempty"`
	Personalize bool        `json:"personalize"`
	Delay       DelayConfig `json:"delay"`

	Scheduled     bool       `json:"scheduled"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`

	Status  JobStatus        `json:"status"`
	Current int              `json:"current"`
	Sent    int              `json:"sent"`
	Failed  int              `json:"failed"`
	Results []DeliveryResult `json:"results"`

	ProcessingLock           bool       `json:"processing_lock"`
	ProcessingLockAcquiredAt *time.Time `json:"processing_lock_acquired_at,omitempty"`
	ProcessingStartedAt      *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt    *time.Time `json:"processing_completed_at,omitempty"`

	PointsPerMessage int64 `json:"points_per_message"`
	DeductedPoints   int64 `json:"deducted_points"`
	PointsRefunded   int64 `json:"points_refunded"`

	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasMedia reports whether the job's payload carries an image or video,
// including rich interactive templates with a header image.
func (j *Job) HasMedia() bool {
	return j.MessageType.HasMedia() || strings.TrimSpace(j.MediaURL) != ""
}

// Remaining returns how many recipients have not been processed yet.
func (j *Job) Remaining() int {
	if j.Current >= len(j.Recipients) {
		return 0
	}
	return len(j.Recipients) - j.Current
}

// Due reports whether a scheduled job has reached its scheduled time.
// Unscheduled jobs are always due.
func (j *Job) Due(now time.Time) bool {
	if !j.Scheduled || j.ScheduledTime == nil {
		return true
	}
	return !j.ScheduledTime.After(now)
}

// ValidateConfig checks that the job carries the message content its
// declared type requires. A violation aborts the job before any send.
func (j *Job) ValidateConfig() error {
	switch j.MessageType {
	case MessageText:
		if strings.TrimSpace(j.Message) == "" {
			return errors.New("text job has no message body")
		}
	case MessageImage, MessageVideo:
		if strings.TrimSpace(j.MediaURL) == "" {
			return errors.New("media job has no media url")
		}
	case MessageButtons, MessageQuickReplies:
		if strings.TrimSpace(j.Message) == "" {
			return errors.New("interactive job has no message body")
		}
		if len(j.Buttons) == 0 {
			return errors.New("interactive job has no buttons")
		}
	default:
		return errors.New("unknown message type: " + string(j.MessageType))
	}
	return nil
}

// DeliveryResult is the recorded outcome of one recipient dispatch. Only a
// bounded most-recent window of these is kept on the job record.
type DeliveryResult struct {
	RecipientID       string    `json:"recipient_id"`
	Success           bool      `json:"success"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Error             string    `json:"error,omitempty"`
	ErrorCode         string    `json:"error_code,omitempty"`
	Retries           int       `json:"retries"`
	ResponseTimeMs    int64     `json:"response_time_ms"`
	SentAt            time.Time `json:"sent_at"`
}

// DelayMetric is per-send pacing telemetry, appended in batches.
type DelayMetric struct {
	MessageIndex int       `json:"message_index"`
	RecipientID  string    `json:"recipient_id"`
	TargetMs     int64     `json:"target_ms"`
	ActualMs     int64     `json:"actual_ms"`
	Mode         DelayMode `json:"mode"`
	Timestamp    time.Time `json:"timestamp"`
}

// DeliveryStats summarizes a finished run for the final progress flush.
type DeliveryStats struct {
	AvgResponseTimeMs int64   `json:"avg_response_time_ms"`
	AvgDelayMs        int64   `json:"avg_delay_ms"`
	SuccessRate       float64 `json:"success_rate"`
	DurationMs        int64   `json:"duration_ms"`
}
