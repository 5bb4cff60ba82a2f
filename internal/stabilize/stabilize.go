// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package stabilize waits for a rip directory to stop changing before the
// worker touches it. The upstream ripper writes over NFS, so completion of
// the webhook does not mean the files are done landing.
package stabilize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManuGH/ripflow/internal/jobs"
	"github.com/ManuGH/ripflow/internal/log"
)

const (
	// DefaultInterval is the sampling period between snapshots.
	DefaultInterval = 5 * time.Second
	// DefaultCeiling bounds the total wait. A directory still changing
	// after this long is considered stuck.
	DefaultCeiling = 30 * time.Minute
)

// Stabilizer samples a directory until it has been quiet for Window.
type Stabilizer struct {
	Interval time.Duration
	Window   time.Duration
	Ceiling  time.Duration
}

// New returns a Stabilizer with the given quiet window and default
// interval and ceiling.
func New(window time.Duration) *Stabilizer {
	return &Stabilizer{
		Interval: DefaultInterval,
		Window:   window,
		Ceiling:  DefaultCeiling,
	}
}

// snapshot hashes the sorted (path, size, mtime) tuples of every regular
// file under dir. Walk errors count as instability: a file that vanished
// mid-walk means the ripper is still working.
func snapshot(dir string) (string, bool) {
	var tuples []string
	clean := true
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			clean = false
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			clean = false
			return nil
		}
		tuples = append(tuples, fmt.Sprintf("%s\x00%d\x00%d", path, info.Size(), info.ModTime().UnixNano()))
		return nil
	})
	if err != nil {
		return "", false
	}
	sort.Strings(tuples)
	h := sha256.New()
	for _, t := range tuples {
		h.Write([]byte(t))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), clean
}

// Wait blocks until dir has been unchanged for the quiet window, the
// ceiling elapses, or ctx is cancelled. A ceiling hit returns an unstable
// job error.
func (s *Stabilizer) Wait(ctx context.Context, dir string) error {
	logger := log.WithComponent("stabilize")

	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ceiling := s.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}

	// The watcher shortens reaction time when the ripper writes between
	// polls. It is best-effort: NFS often delivers no events at all, the
	// poll loop alone is still correct.
	var events chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(dir); err == nil {
			events = make(chan fsnotify.Event, 16)
			go func() {
				for {
					select {
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						select {
						case events <- ev:
						default:
						}
					case _, ok := <-watcher.Errors:
						if !ok {
							return
						}
					}
				}
			}()
		}
	}

	deadline := time.Now().Add(ceiling)
	last, _ := snapshot(dir)
	stableSince := time.Now()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			logger.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("change event, window reset")
			stableSince = time.Now()
			last, _ = snapshot(dir)
		case <-ticker.C:
			if time.Now().After(deadline) {
				return jobs.E(jobs.KindUnstable, "directory still changing after %s: %s", ceiling, dir)
			}
			current, clean := snapshot(dir)
			if !clean || current != last {
				last = current
				stableSince = time.Now()
				continue
			}
			if time.Since(stableSince) >= s.Window {
				logger.Debug().Str("path", dir).Dur("window", s.Window).Msg("directory stable")
				return nil
			}
		}
	}
}
