// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// transcoderd is the disc-to-library transcode daemon: it admits ripper
// webhooks, queues jobs durably and drives them through the GPU one at a
// time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ripflow/internal/api"
	"github.com/ManuGH/ripflow/internal/config"
	"github.com/ManuGH/ripflow/internal/encode"
	"github.com/ManuGH/ripflow/internal/log"
	"github.com/ManuGH/ripflow/internal/probe"
	"github.com/ManuGH/ripflow/internal/store"
	"github.com/ManuGH/ripflow/internal/worker"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownGrace = 10 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}
	if *configPath != "" {
		os.Setenv("CONFIG_FILE", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Configure(log.Config{Service: "transcoderd"})
		logger := log.WithComponent("daemon")
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "transcoderd"})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.WorkPath, cfg.CompletedPath, filepath.Dir(cfg.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal().Err(err).Str(log.FieldPath, dir).Msg("cannot create directory")
		}
	}

	ffmpeg := lookupTool(logger, "FFMPEG_PATH", "ffmpeg", true)
	ffprobe := lookupTool(logger, "FFPROBE_PATH", "ffprobe", true)
	handbrake := lookupTool(logger, "HANDBRAKE_PATH", "HandBrakeCLI", false)

	caps := probe.Detect(ctx, ffmpeg, handbrake, cfg.VAAPIDevice)
	capsPath := filepath.Join(cfg.WorkPath, "capabilities.json")
	if err := caps.WriteCache(capsPath); err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, capsPath).Msg("capability cache not written")
	}

	planner, err := encode.NewPlanner(encode.Settings{
		VideoEncoder:     cfg.VideoEncoder,
		VideoQuality:     cfg.VideoQuality,
		AudioEncoder:     cfg.AudioEncoder,
		SubtitleMode:     cfg.SubtitleMode,
		Preset:           cfg.HandBrakePreset,
		Preset4K:         cfg.HandBrakePreset4K,
		PresetImportFile: cfg.HandBrakePresetIn,
		VAAPIDevice:      cfg.VAAPIDevice,
		OutputExtension:  cfg.OutputExtension,
		FFmpegPath:       ffmpeg,
		HandBrakePath:    handbrake,
	}, caps)
	if err != nil {
		logger.Fatal().Err(err).Msg("encoder settings rejected")
	}
	if planner.FellBack {
		logger.Warn().
			Str(log.FieldEncoder, planner.Encoder()).
			Msg("requested hardware encoder unavailable, using software")
	}
	logger.Info().
		Str(log.FieldEncoder, planner.Encoder()).
		Str(log.FieldFamily, string(planner.Family())).
		Msg("encoder resolved")

	st, err := store.Open(cfg.DBPath, store.DefaultConfig())
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldPath, cfg.DBPath).Msg("cannot open job store")
	}
	defer st.Close()

	// Jobs left RUNNING by a crash go back to PENDING before the worker
	// starts claiming.
	if n, err := st.RecoverOrphans(ctx); err != nil {
		logger.Fatal().Err(err).Msg("orphan recovery failed")
	} else if n > 0 {
		logger.Warn().Int64("count", n).Msg("requeued jobs interrupted by restart")
	}

	w := worker.New(st, &cfg, planner, probe.New(ffprobe))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(st, &cfg, w).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("http server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}

	// The worker releases an in-flight job back to PENDING on its way out.
	select {
	case <-workerDone:
	case <-time.After(shutdownGrace + executorKillGrace):
		logger.Warn().Msg("worker did not stop in time")
	}
	logger.Info().Msg("daemon stopped")
}

// executorKillGrace mirrors the SIGTERM escalation window so shutdown waits
// long enough for a terminated transcode to be reaped.
const executorKillGrace = 10 * time.Second

// lookupTool resolves a tool binary: explicit env override first, then PATH.
// Required tools are fatal when missing; optional ones degrade with a warning.
func lookupTool(logger zerolog.Logger, env, name string, required bool) string {
	if p := os.Getenv(env); p != "" {
		if _, err := os.Stat(p); err != nil {
			logger.Fatal().Err(err).Str(log.FieldPath, p).Msgf("%s not usable", env)
		}
		return p
	}
	p, err := exec.LookPath(name)
	if err != nil {
		if required {
			logger.Fatal().Err(err).Str(log.FieldTool, name).Msg("required tool not found")
		}
		logger.Warn().Str(log.FieldTool, name).Msg("optional tool not found")
		return ""
	}
	return p
}
