// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldState     = "state"

	// Media fields
	FieldEncoder    = "encoder"
	FieldFamily     = "family"
	FieldResolution = "resolution"
	FieldDevice     = "device"
	FieldTool       = "tool"

	// Path fields
	FieldPath       = "path"
	FieldSource     = "source"
	FieldOutput     = "output"
	FieldTitle      = "title"
	FieldErrorKind  = "error_kind"
	FieldRetryCount = "retry_count"
)
