// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package executor runs transcode subprocesses, parses live progress from
// their output, and enforces cancellation with signal escalation.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ManuGH/ripflow/internal/log"
	"github.com/ManuGH/ripflow/internal/procgroup"
)

const (
	// stderrTailSize is how much trailing stderr is kept for the job's
	// error field on nonzero exit.
	stderrTailSize = 8 * 1024
	// killGrace is how long a cancelled subprocess gets between SIGTERM
	// and SIGKILL.
	killGrace = 10 * time.Second
)

// ffmpeg reports position as "time=HH:MM:SS.ss" on stderr; progress is the
// position over the probed duration. HandBrakeCLI prints percentages
// directly ("Encoding: task 1 of 1, 45.23 %").
var (
	ffmpegTimeRe = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.?\d*)`)
	percentRe    = regexp.MustCompile(`(\d+\.?\d*)\s*%`)
)

// ProgressFunc receives percentages in [0,100]. Calls arrive from reader
// goroutines; implementations do their own throttling or locking.
type ProgressFunc func(percent float64)

// Result is the outcome of a finished subprocess.
type Result struct {
	ExitCode   int
	StderrTail string
}

// Executor spawns one subprocess at a time.
type Executor struct {
	Grace time.Duration
}

// New returns an Executor with the default kill grace.
func New() *Executor {
	return &Executor{Grace: killGrace}
}

// Run executes argv with cwd, streaming progress to onProgress. duration
// is the probed source length in seconds, used to turn ffmpeg timestamps
// into percentages; zero disables timestamp-based progress.
//
// A nonzero exit is not an error here: the Result carries the exit code
// and stderr tail and the caller decides. Run returns an error only for
// spawn failures and context cancellation.
func (e *Executor) Run(ctx context.Context, argv []string, cwd string, duration float64, onProgress ProgressFunc) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("executor: empty argv")
	}
	logger := log.WithComponent("executor")

	// #nosec G204 -- argv comes from the planner's allowlisted assembly
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("executor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("executor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("executor: start %s: %w", argv[0], err)
	}
	logger.Info().Str("tool", argv[0]).Int("pid", cmd.Process.Pid).Msg("subprocess started")

	tail := newTailBuffer(stderrTailSize)
	throttle := rate.Sometimes{Interval: 10 * time.Second}
	parse := func(line string) {
		pct, ok := parseProgress(line, duration)
		if !ok {
			return
		}
		throttle.Do(func() {
			logger.Debug().Float64("percent", pct).Msg("transcode progress")
		})
		if onProgress != nil {
			onProgress(pct)
		}
	}

	// Both pipes are drained concurrently so neither can block the child.
	var g errgroup.Group
	g.Go(func() error {
		return scanLines(stdout, func(line string) {
			parse(line)
		})
	})
	g.Go(func() error {
		return scanLines(stderr, func(line string) {
			tail.Write([]byte(line + "\n"))
			parse(line)
		})
	})

	waitCh := make(chan error, 1)
	go func() {
		rerr := g.Wait()
		werr := cmd.Wait()
		if werr == nil && rerr != nil {
			werr = rerr
		}
		waitCh <- werr
	}()

	select {
	case werr := <-waitCh:
		res := &Result{ExitCode: exitCode(cmd, werr), StderrTail: tail.String()}
		logger.Info().Int("exit_code", res.ExitCode).Msg("subprocess finished")
		return res, nil
	case <-ctx.Done():
		logger.Warn().Str("tool", argv[0]).Msg("cancelling subprocess")
		_ = procgroup.Terminate(cmd, waitCh, e.Grace)
		return &Result{ExitCode: exitCode(cmd, nil), StderrTail: tail.String()}, ctx.Err()
	}
}

func exitCode(cmd *exec.Cmd, werr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if werr != nil {
		return -1
	}
	return 0
}

// parseProgress extracts a percentage from one output line. ffmpeg
// timestamps need the source duration; HandBrake percentages stand alone.
func parseProgress(line string, duration float64) (float64, bool) {
	if m := ffmpegTimeRe.FindStringSubmatch(line); m != nil {
		if duration <= 0 {
			return 0, false
		}
		hours, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		secs, _ := strconv.ParseFloat(m[3], 64)
		position := float64(hours)*3600 + float64(mins)*60 + secs
		pct := position / duration * 100
		if pct > 100 {
			pct = 100
		}
		return pct, true
	}
	if m := percentRe.FindStringSubmatch(line); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil || pct > 100 {
			return 0, false
		}
		return pct, true
	}
	return 0, false
}

// scanLines reads a stream line by line, treating both \n and \r as
// terminators. ffmpeg rewrites its status line with bare carriage returns.
func scanLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(splitCRorLF)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			fn(line)
		}
	}
	return scanner.Err()
}

func splitCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last n bytes written.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		b.data = b.data[len(b.data)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
