// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/ripflow/internal/jobs"
	"github.com/ManuGH/ripflow/internal/metrics"
)

const jobColumns = `id, title, source_hint, source_resolved, status, progress,
	retry_count, error_kind, error, output_path, classification, family,
	arm_job_id, total_tracks, main_feature,
	created_at, updated_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*jobs.Job, error) {
	var (
		j                   jobs.Job
		created, updated    int64
		started, completed  sql.NullInt64
		status, kind, class string
		family              string
	)
	err := row.Scan(&j.ID, &j.Title, &j.SourceHint, &j.SourceResolved,
		&status, &j.Progress, &j.RetryCount, &kind, &j.Error, &j.OutputPath,
		&class, &family, &j.ArmJobID, &j.TotalTracks, &j.MainFeature,
		&created, &updated, &started, &completed)
	if err != nil {
		return nil, err
	}
	j.Status = jobs.Status(status)
	j.ErrorKind = jobs.Kind(kind)
	j.Classification = jobs.Classification(class)
	j.Family = jobs.Family(family)
	j.CreatedAt = time.Unix(0, created).UTC()
	j.UpdatedAt = time.Unix(0, updated).UTC()
	if started.Valid {
		t := time.Unix(0, started.Int64).UTC()
		j.StartedAt = &t
	}
	if completed.Valid {
		t := time.Unix(0, completed.Int64).UTC()
		j.CompletedAt = &t
	}
	return &j, nil
}

// Insert persists a newly admitted job in PENDING state and returns its id.
// The row is durable before the webhook response is written.
func (s *Store) Insert(ctx context.Context, title, sourceHint, armJobID string) (int64, error) {
	now := time.Now().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (title, source_hint, arm_job_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'pending', ?, ?)`,
		title, sourceHint, armJobID, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: insert failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert id: %w", err)
	}
	metrics.JobsAdmitted.Inc()
	s.refreshQueueDepth(ctx)
	return id, nil
}

// ClaimNext atomically promotes the oldest PENDING job to RUNNING and
// returns it. Returns (nil, nil) when the queue is empty. The claim is a
// single UPDATE with a subselect so two workers can never grab the same row.
func (s *Store) ClaimNext(ctx context.Context) (*jobs.Job, error) {
	now := time.Now().UnixNano()
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs WHERE status = 'pending'
			ORDER BY created_at ASC, id ASC LIMIT 1
		)
		RETURNING `+jobColumns, now, now)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim failed: %w", err)
	}
	s.refreshQueueDepth(ctx)
	return j, nil
}

// SetResolved records the resolved source path, classification and encoder
// family once the worker has stabilized and planned the job.
func (s *Store) SetResolved(ctx context.Context, id int64, resolved string, class jobs.Classification, family jobs.Family, totalTracks int, mainFeature string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET source_resolved = ?, classification = ?, family = ?,
			total_tracks = ?, main_feature = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		resolved, string(class), string(family), totalTracks, mainFeature,
		time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("store: set resolved: %w", err)
	}
	return requireAffected(res)
}

// UpdateProgress offers a progress value for a RUNNING job. The write is
// committed only when it advances at least 5 points, reaches 100, or the
// row has not been touched for 10 seconds. Returns whether it was committed.
func (s *Store) UpdateProgress(ctx context.Context, id int64, progress float64) (bool, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	now := time.Now().UnixNano()
	stale := now - progressMaxAge.Nanoseconds()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
		  AND (? >= progress + ? OR ? >= 100.0 OR updated_at <= ?)`,
		progress, now, id, progress, progressMinDelta, progress, stale)
	if err != nil {
		return false, fmt.Errorf("store: progress update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		metrics.ProgressCommits.WithLabelValues("committed").Inc()
		return true, nil
	}
	metrics.ProgressCommits.WithLabelValues("gated").Inc()
	return false, nil
}

// Finish moves a job to a terminal state. Completed jobs get progress 100
// and an output path; failed and cancelled jobs carry the error kind.
func (s *Store) Finish(ctx context.Context, id int64, status jobs.Status, outputPath string, kind jobs.Kind, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("store: finish with non-terminal status %q", status)
	}
	now := time.Now().UnixNano()
	progress := `progress`
	if status == jobs.StatusCompleted {
		progress = `100.0`
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE jobs SET status = ?, output_path = ?, error_kind = ?, error = ?,
			progress = %s, completed_at = ?, updated_at = ?
		WHERE id = ?`, progress),
		string(status), outputPath, string(kind), errMsg, now, now, id)
	if err != nil {
		return fmt.Errorf("store: finish failed: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	metrics.JobsFinished.WithLabelValues(string(status), string(kind)).Inc()
	return nil
}

// Requeue resets a FAILED job to PENDING on operator request, incrementing
// its retry count. The failure kind must be retryable and the retry budget
// must not be spent; the error message is cleared so the next run starts
// fresh.
func (s *Store) Requeue(ctx context.Context, id int64, maxRetries int) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status == jobs.StatusRunning {
		return ErrJobRunning
	}
	if j.Status != jobs.StatusFailed || !j.ErrorKind.Retryable() || j.RetryCount >= maxRetries {
		return ErrNotRetryable
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', retry_count = retry_count + 1,
			progress = 0, error_kind = '', error = '', output_path = '',
			started_at = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed' AND retry_count < ?`,
		time.Now().UnixNano(), id, maxRetries)
	if err != nil {
		return fmt.Errorf("store: requeue failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Lost a race with the worker or another operator.
		return ErrNotRetryable
	}
	s.refreshQueueDepth(ctx)
	return nil
}

// Release puts a RUNNING job back to PENDING without touching its retry
// count. Used for graceful shutdown: the subprocess is gone but the job
// deserves another run.
func (s *Store) Release(ctx context.Context, id int64, kind jobs.Kind, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', progress = 0,
			error_kind = ?, error = ?, started_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		string(kind), errMsg, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("store: release failed: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	s.refreshQueueDepth(ctx)
	return nil
}

// Cancel marks a PENDING job as CANCELLED.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	now := time.Now().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'cancelled', error_kind = '', error = '',
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`, now, now, id)
	if err != nil {
		return fmt.Errorf("store: cancel failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		j, gerr := s.Get(ctx, id)
		if gerr != nil {
			return gerr
		}
		if j.Status == jobs.StatusRunning {
			return ErrJobRunning
		}
		return fmt.Errorf("store: cancel: job %d is %s", id, j.Status)
	}
	metrics.JobsFinished.WithLabelValues(string(jobs.StatusCancelled), "").Inc()
	s.refreshQueueDepth(ctx)
	return nil
}

// Delete removes a terminal job row. Running jobs are protected.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = ? AND status != 'running'`, id)
	if err != nil {
		return fmt.Errorf("store: delete failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return gerr
		}
		return ErrJobRunning
	}
	s.refreshQueueDepth(ctx)
	return nil
}

// Get returns a single job by id.
func (s *Store) Get(ctx context.Context, id int64) (*jobs.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get failed: %w", err)
	}
	return j, nil
}

// List returns jobs newest-first, optionally filtered by status.
// Limit is clamped to 500.
func (s *Store) List(ctx context.Context, status jobs.Status, limit, offset int) ([]*jobs.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*jobs.Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Count returns the number of jobs matching the status filter, ignoring
// limit and offset.
func (s *Store) Count(ctx context.Context, status jobs.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count failed: %w", err)
	}
	return n, nil
}

// Stats aggregates queue counters and the average completed duration.
func (s *Store) Stats(ctx context.Context) (*jobs.Stats, error) {
	var st jobs.Stats
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: stats failed: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch jobs.Status(status) {
		case jobs.StatusPending:
			st.Pending = n
		case jobs.StatusRunning:
			st.Running = n
		case jobs.StatusCompleted:
			st.Completed = n
		case jobs.StatusFailed:
			st.Failed = n
		case jobs.StatusCancelled:
			st.Cancelled = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	st.TotalProcessed = st.Completed + st.Failed + st.Cancelled

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(completed_at - started_at) FROM jobs
		WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL`).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("store: stats avg: %w", err)
	}
	if avg.Valid {
		st.AvgDurationSec = avg.Float64 / float64(time.Second)
	}
	return &st, nil
}

// RecoverOrphans resets jobs left RUNNING by a crash or unclean shutdown to
// PENDING so the worker picks them up again. The retry count is preserved.
// Returns the number of recovered jobs.
func (s *Store) RecoverOrphans(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', progress = 0,
			error_kind = ?, error = 'interrupted',
			started_at = NULL, updated_at = ?
		WHERE status = 'running'`,
		string(jobs.KindInterrupted), time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: recover failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.refreshQueueDepth(ctx)
	return n, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
