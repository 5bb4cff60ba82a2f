// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package worker drives claimed jobs through the transcode state machine:
// stabilize, discover, plan, execute, publish, clean up. Execution is
// strictly single-flight; one transcode owns the GPU at a time.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ManuGH/ripflow/internal/config"
	"github.com/ManuGH/ripflow/internal/encode"
	"github.com/ManuGH/ripflow/internal/executor"
	"github.com/ManuGH/ripflow/internal/log"
	"github.com/ManuGH/ripflow/internal/probe"
	"github.com/ManuGH/ripflow/internal/stabilize"
	"github.com/ManuGH/ripflow/internal/store"
)

const (
	pollInterval = 1 * time.Second
	// Infra-error backoff bounds. Job failures never back off; these are
	// for the store or filesystem being unreachable.
	backoffMin = 500 * time.Millisecond
	backoffMax = 30 * time.Second
)

// State is the observable phase of the worker, exposed on /health.
type State string

const (
	StateIdle         State = "idle"
	StateStabilizing  State = "stabilizing"
	StateResolving    State = "resolving"
	StateCopying      State = "copying"
	StateTranscoding  State = "transcoding"
	StatePublishing   State = "publishing"
	StateCleaningUp   State = "cleanup"
	StateShuttingDown State = "shutting_down"
)

// Worker owns the background transcode loop.
type Worker struct {
	store   *store.Store
	cfg     *config.Config
	planner *encode.Planner
	prober  *probe.Prober
	stab    *stabilize.Stabilizer
	exec    *executor.Executor
	state   atomic.Value // State
	wake    chan struct{}
}

// New wires a worker. The planner has already resolved the effective
// encoder against host capabilities.
func New(st *store.Store, cfg *config.Config, planner *encode.Planner, prober *probe.Prober) *Worker {
	w := &Worker{
		store:   st,
		cfg:     cfg,
		planner: planner,
		prober:  prober,
		stab:    stabilize.New(cfg.StabilizeWindow),
		exec:    executor.New(),
		wake:    make(chan struct{}, 1),
	}
	w.state.Store(StateIdle)
	return w
}

// Notify wakes the loop after an admission so a fresh job starts without
// waiting out the poll interval.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// State returns the current phase for the health endpoint.
func (w *Worker) State() State {
	return w.state.Load().(State)
}

func (w *Worker) setState(s State) {
	w.state.Store(s)
}

// Run claims and processes jobs until ctx is cancelled. A job claimed when
// shutdown hits is released back to PENDING with error "shutdown" and an
// untouched retry count.
func (w *Worker) Run(ctx context.Context) {
	logger := log.WithComponent("worker")
	logger.Info().Str("encoder", w.planner.Encoder()).Msg("worker started")

	backoff := backoffMin
	for {
		select {
		case <-ctx.Done():
			w.setState(StateShuttingDown)
			logger.Info().Msg("worker stopped")
			return
		default:
		}

		job, err := w.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Dur("backoff", backoff).Msg("claim failed, backing off")
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		backoff = backoffMin

		if job == nil {
			w.setState(StateIdle)
			select {
			case <-ctx.Done():
			case <-w.wake:
			case <-time.After(pollInterval):
			}
			continue
		}

		w.process(ctx, job)
		w.setState(StateIdle)
	}
}
