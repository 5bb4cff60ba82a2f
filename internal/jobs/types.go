// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package jobs holds the transcode job model shared by the store, the
// worker and the HTTP API.
package jobs

import "time"

// Status is the persisted lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Classification decides which completed subtree output is published to.
type Classification string

const (
	ClassMovie Classification = "movie"
	ClassTV    Classification = "tv"
	ClassAudio Classification = "audio"
)

// Family identifies the hardware encoder backend resolved at job start.
type Family string

const (
	FamilyNVENC    Family = "nvenc"
	FamilyVAAPI    Family = "vaapi"
	FamilyAMF      Family = "amf"
	FamilyQSV      Family = "qsv"
	FamilySoftware Family = "software"
)

// Job is the central entity: one row per accepted notification.
type Job struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title"`
	SourceHint     string         `json:"source_hint"`
	SourceResolved string         `json:"source_resolved,omitempty"`
	Status         Status         `json:"status"`
	Progress       float64        `json:"progress"`
	RetryCount     int            `json:"retry_count"`
	ErrorKind      Kind           `json:"error_kind,omitempty"`
	Error          string         `json:"error,omitempty"`
	OutputPath     string         `json:"output_path,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Family         Family         `json:"encoder_family,omitempty"`
	ArmJobID       string         `json:"arm_job_id,omitempty"`
	TotalTracks    int            `json:"total_tracks"`
	MainFeature    string         `json:"main_feature_file,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// Stats aggregates queue counters for the control plane.
type Stats struct {
	Pending        int64   `json:"pending"`
	Running        int64   `json:"running"`
	Completed      int64   `json:"completed"`
	Failed         int64   `json:"failed"`
	Cancelled      int64   `json:"cancelled"`
	TotalProcessed int64   `json:"total_processed"`
	AvgDurationSec float64 `json:"avg_duration_seconds"`
}
