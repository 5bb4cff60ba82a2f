// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ripflow/internal/encode"
	"github.com/ManuGH/ripflow/internal/fsutil"
	"github.com/ManuGH/ripflow/internal/jobs"
	"github.com/ManuGH/ripflow/internal/log"
	"github.com/ManuGH/ripflow/internal/metrics"
)

// spaceMultiplier estimates transcode output size relative to the source.
const spaceMultiplier = 0.6

// process drives one claimed job to a terminal state or releases it back
// to PENDING on shutdown. The local scratch directory keeps the heavy I/O
// off the NFS mounts: copy in, transcode locally, move out.
func (w *Worker) process(ctx context.Context, job *jobs.Job) {
	ctx = log.ContextWithJobID(ctx, job.ID)
	logger := log.WithComponent("worker").With().Int64(log.FieldJobID, job.ID).Logger()
	logger.Info().Str(log.FieldTitle, job.Title).Msg("processing job")

	start := time.Now()
	err := w.run(ctx, job, logger)
	switch {
	case err == nil:
		logger.Info().Dur("elapsed", time.Since(start)).Msg("job completed")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Shutdown: the job goes back to the queue with its retry budget
		// intact. Store calls use a fresh context, ours is dead.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := w.store.Release(rctx, job.ID, jobs.KindShutdown, "shutdown"); rerr != nil {
			logger.Error().Err(rerr).Msg("release on shutdown failed")
		} else {
			logger.Info().Msg("job released for restart")
		}
	default:
		kind := jobs.KindEncode
		var jerr *jobs.Error
		if errors.As(err, &jerr) {
			kind = jerr.Kind
		}
		msg := err.Error()
		if len(msg) > 2000 {
			msg = msg[:2000]
		}
		if ferr := w.store.Finish(ctx, job.ID, jobs.StatusFailed, "", kind, msg); ferr != nil {
			logger.Error().Err(ferr).Msg("persisting failure failed")
		}
		logger.Error().Err(err).Str(log.FieldErrorKind, string(kind)).Msg("job failed")
	}
}

func (w *Worker) run(ctx context.Context, job *jobs.Job, logger zerolog.Logger) error {
	began := time.Now()

	// Resolve the hint under the raw root. The source may still be
	// arriving over the mount, which is why missing is retryable.
	w.setState(StateResolving)
	source, err := fsutil.ResolveHint(w.cfg.RawPath, job.SourceHint, true)
	if err != nil {
		return jobs.E(jobs.KindMissing, "resolve %q: %v", job.SourceHint, err)
	}

	w.setState(StateStabilizing)
	if err := w.stab.Wait(ctx, source); err != nil {
		return err
	}

	videos, err := discoverVideos(source)
	if err != nil {
		return jobs.E(jobs.KindMissing, "discover: %v", err)
	}
	if len(videos) == 0 {
		audios, aerr := discoverAudios(source)
		if aerr != nil {
			return jobs.E(jobs.KindMissing, "discover: %v", aerr)
		}
		if len(audios) == 0 {
			return jobs.E(jobs.KindMissing, "no video or audio files in %s", source)
		}
		return w.publishAudio(ctx, job, source, audios, logger)
	}

	class := jobs.ClassMovie
	if c, cerr := encode.Classify(sourceDirOf(source), job.SourceHint+" "+job.Title); cerr == nil {
		class = c
	}

	if err := w.admitDiskSpace(source); err != nil {
		return err
	}

	mainFeature := filepath.Base(videos[0]) // largest first
	if err := w.store.SetResolved(ctx, job.ID, source, class, w.planner.Family(), len(videos), mainFeature); err != nil {
		return fmt.Errorf("record resolution: %w", err)
	}
	if w.planner.FellBack {
		logger.Warn().Str(log.FieldEncoder, w.planner.Encoder()).Msg("configured encoder unavailable, using software fallback")
	}

	// Local scratch, partitioned by job id. Removed on every exit path;
	// cleanup failure never fails the job.
	workDir := filepath.Join(w.cfg.WorkPath, fmt.Sprintf("job-%d", job.ID))
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			logger.Warn().Err(rmErr).Str(log.FieldPath, workDir).Msg("scratch cleanup failed")
		}
	}()

	w.setState(StateCopying)
	localVideos, err := w.copyToScratch(source, workDir, videos)
	if err != nil {
		return fmt.Errorf("scratch copy: %w", err)
	}
	outputDir := filepath.Join(workDir, "output")

	w.setState(StateTranscoding)
	var tool encode.Tool
	total := len(localVideos)
	for i, src := range localVideos {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		info, perr := w.prober.Inspect(ctx, src)
		if perr != nil {
			logger.Warn().Err(perr).Str(log.FieldSource, src).Msg("probe failed, planning without dimensions")
		}
		base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		out := filepath.Join(outputDir, base+"."+w.cfg.OutputExtension)

		plan, perr := w.planner.Plan(src, out, info)
		if perr != nil {
			return fmt.Errorf("plan %s: %w", filepath.Base(src), perr)
		}
		tool = plan.Tool
		logger.Info().
			Str(log.FieldTool, string(plan.Tool)).
			Str(log.FieldFamily, string(plan.Family)).
			Str(log.FieldResolution, string(plan.Resolution)).
			Int("track", i+1).Int("total_tracks", total).
			Msg("transcoding")

		fileIndex := i
		onProgress := func(pct float64) {
			overall := (float64(fileIndex) + pct/100) / float64(total) * 100
			if _, uerr := w.store.UpdateProgress(ctx, job.ID, overall); uerr != nil && ctx.Err() == nil {
				logger.Debug().Err(uerr).Msg("progress update failed")
			}
		}

		res, rerr := w.exec.Run(ctx, plan.Argv, workDir, info.Duration, onProgress)
		if rerr != nil {
			return rerr
		}
		if res.ExitCode != 0 {
			return jobs.E(jobs.KindEncode, "%s exited %d: %s", plan.Tool, res.ExitCode, res.StderrTail)
		}
		if _, serr := os.Stat(out); serr != nil {
			return jobs.E(jobs.KindEncode, "output not created: %s", out)
		}
	}

	w.setState(StatePublishing)
	published, err := w.publish(outputDir, job.Title, class)
	if err != nil {
		return jobs.E(jobs.KindPublish, "publish: %v", err)
	}

	w.setState(StateCleaningUp)
	w.cleanupSource(source, logger)

	if err := w.store.Finish(ctx, job.ID, jobs.StatusCompleted, published, "", ""); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	metrics.TranscodeDuration.WithLabelValues(string(w.planner.Family()), string(tool)).
		Observe(time.Since(began).Seconds())
	return nil
}

// admitDiskSpace rejects the job when the work filesystem cannot hold an
// estimated output plus the configured reserve.
func (w *Worker) admitDiskSpace(source string) error {
	size, err := fsutil.DirSize(sourceDirOf(source))
	if err != nil {
		return jobs.E(jobs.KindMissing, "size %s: %v", source, err)
	}
	free, err := fsutil.FreeSpace(w.cfg.WorkPath)
	if err != nil {
		return fmt.Errorf("statfs %s: %w", w.cfg.WorkPath, err)
	}
	required := uint64(float64(size)*spaceMultiplier) + uint64(w.cfg.MinimumFreeSpaceGB*1024*1024*1024)
	if free < required {
		return jobs.E(jobs.KindNoSpace, "need %d bytes on %s, have %d", required, w.cfg.WorkPath, free)
	}
	return nil
}

// copyToScratch mirrors the source into <workDir>/source and returns the
// local video paths, preserving the largest-first order.
func (w *Worker) copyToScratch(source, workDir string, videos []string) ([]string, error) {
	srcDir := filepath.Join(workDir, "source")
	outDir := filepath.Join(workDir, "output")
	for _, d := range []string{srcDir, outDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		if err := fsutil.CopyTree(source, srcDir); err != nil {
			return nil, err
		}
	} else if err := fsutil.CopyFile(source, filepath.Join(srcDir, filepath.Base(source))); err != nil {
		return nil, err
	}

	local := make([]string, 0, len(videos))
	for _, v := range videos {
		local = append(local, filepath.Join(srcDir, filepath.Base(v)))
	}
	return local, nil
}

// publish moves transcoded artifacts from local scratch to the completed
// tree. A single track becomes <subdir>/<title>.<ext>; multi-track discs
// get a titled directory.
func (w *Worker) publish(outputDir, title string, class jobs.Classification) (string, error) {
	destRoot := filepath.Join(w.cfg.CompletedPath, w.subdirFor(class))
	clean := fsutil.CleanTitle(title)

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no artifacts in %s", outputDir)
	}

	if len(entries) == 1 {
		if err := os.MkdirAll(destRoot, 0o755); err != nil {
			return "", err
		}
		dest := filepath.Join(destRoot, clean+filepath.Ext(entries[0].Name()))
		if err := fsutil.MoveFile(filepath.Join(outputDir, entries[0].Name()), dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	destDir := filepath.Join(destRoot, clean)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	for _, e := range entries {
		if err := fsutil.MoveFile(filepath.Join(outputDir, e.Name()), filepath.Join(destDir, e.Name())); err != nil {
			return "", err
		}
	}
	return destDir, nil
}

// publishAudio copies audio files straight to the completed tree; audio
// discs never invoke the video encoder.
func (w *Worker) publishAudio(ctx context.Context, job *jobs.Job, source string, audios []string, logger zerolog.Logger) error {
	if err := w.store.SetResolved(ctx, job.ID, source, jobs.ClassAudio, "", len(audios), ""); err != nil {
		return fmt.Errorf("record resolution: %w", err)
	}

	w.setState(StatePublishing)
	destDir := filepath.Join(w.cfg.CompletedPath, w.cfg.AudioSubdir, fsutil.CleanTitle(job.Title))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return jobs.E(jobs.KindPublish, "audio publish: %v", err)
	}
	logger.Info().Int("total_tracks", len(audios)).Str(log.FieldOutput, destDir).Msg("audio passthrough")
	for _, a := range audios {
		if err := fsutil.CopyFile(a, filepath.Join(destDir, filepath.Base(a))); err != nil {
			return jobs.E(jobs.KindPublish, "copy %s: %v", filepath.Base(a), err)
		}
	}

	w.setState(StateCleaningUp)
	w.cleanupSource(source, logger)

	return w.store.Finish(ctx, job.ID, jobs.StatusCompleted, destDir, "", "")
}

// cleanupSource removes the raw source when configured. Failures are
// logged and swallowed.
func (w *Worker) cleanupSource(source string, logger zerolog.Logger) {
	if !w.cfg.DeleteSource {
		return
	}
	if err := os.RemoveAll(source); err != nil {
		logger.Warn().Err(err).Str(log.FieldSource, source).Msg("source cleanup failed")
		return
	}
	logger.Info().Str(log.FieldSource, source).Msg("source removed")
}

func (w *Worker) subdirFor(class jobs.Classification) string {
	switch class {
	case jobs.ClassTV:
		return w.cfg.TVSubdir
	case jobs.ClassAudio:
		return w.cfg.AudioSubdir
	default:
		return w.cfg.MoviesSubdir
	}
}

func sourceDirOf(source string) string {
	if info, err := os.Stat(source); err == nil && !info.IsDir() {
		return filepath.Dir(source)
	}
	return source
}
