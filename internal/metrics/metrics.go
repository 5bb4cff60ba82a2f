// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the job pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsAdmitted counts webhook notifications that produced a job.
	JobsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripflow_jobs_admitted_total",
		Help: "Jobs created from accepted webhook notifications",
	})

	// JobsFinished counts jobs reaching a terminal state, by status and error kind.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripflow_jobs_finished_total",
		Help: "Jobs that reached a terminal state",
	}, []string{"status", "kind"})

	// QueueDepth tracks the number of pending jobs.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ripflow_queue_depth",
		Help: "Jobs currently waiting in the queue",
	})

	// TranscodeDuration observes wall-clock seconds per completed transcode.
	TranscodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ripflow_transcode_duration_seconds",
		Help:    "Wall-clock duration of transcode executions",
		Buckets: prometheus.ExponentialBuckets(30, 2, 12), // 30s to ~34h
	}, []string{"family", "tool"})

	// ProgressCommits counts progress updates by outcome (committed vs gated).
	ProgressCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripflow_progress_commits_total",
		Help: "Progress updates offered to the store",
	}, []string{"outcome"})

	// ProcTerminations counts subprocess signal escalations.
	ProcTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripflow_proc_terminations_total",
		Help: "Subprocess terminations by signal and result",
	}, []string{"signal", "result"})

	// WebhookRejections counts admission rejections by error kind.
	WebhookRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripflow_webhook_rejections_total",
		Help: "Webhook requests rejected at admission",
	}, []string{"kind"})
)

// IncProcTermination records a signal escalation outcome.
func IncProcTermination(signal, result string) {
	ProcTerminations.WithLabelValues(signal, result).Inc()
}
