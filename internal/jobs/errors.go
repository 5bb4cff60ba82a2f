// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import "fmt"

// Kind is a stable machine-readable error category. It is stored on the job
// record and echoed as error_kind in API responses.
type Kind string

const (
	KindMalformed      Kind = "malformed"
	KindUnauthorized   Kind = "unauthorized"
	KindOversized      Kind = "oversized"
	KindMissing        Kind = "missing"
	KindUnstable       Kind = "unstable"
	KindNoSpace        Kind = "nospace"
	KindEncode         Kind = "encode"
	KindPublish        Kind = "publish"
	KindShutdown       Kind = "shutdown"
	KindInterrupted    Kind = "interrupted"
	KindRetryExhausted Kind = "retry_exhausted"
)

// Retryable reports whether the control plane may requeue a job that failed
// with this kind. Shutdown and interrupted jobs are requeued automatically.
func (k Kind) Retryable() bool {
	switch k {
	case KindMissing, KindUnstable, KindNoSpace, KindEncode, KindPublish:
		return true
	}
	return false
}

// Error pairs a kind with a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// E builds a job error with the given kind and formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
