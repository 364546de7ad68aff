package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "streamgate/internal/api/http"
	"streamgate/internal/app"
	"streamgate/internal/metrics"
	"streamgate/internal/resource"
	"streamgate/internal/session"
	"streamgate/internal/source"
	"streamgate/internal/supervisor"
	"streamgate/internal/telemetry"
	"streamgate/internal/transcode"
	"streamgate/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "streamgate")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "streamgate"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("streamBaseDir", cfg.StreamBaseDir),
		slog.String("torrentDataDir", cfg.TorrentDataDir),
		slog.Int64("maxStreamStorageBytes", cfg.MaxStreamStorageBytes),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe := resource.NewProbe(cfg.ResourceWatchInterval, logger)
	go probe.Start(rootCtx)

	tuning := resource.Tune(probe.Current(), cfg.MaxConcurrentFFMPEG, cfg.FFMPEGThreads)
	logger.Info("resource envelope detected",
		slog.Int64("memoryMB", probe.Current().MemoryMB),
		slog.Int("cpuCount", probe.Current().CPUCount),
		slog.Int("maxConcurrent", tuning.MaxConcurrent),
		slog.Int("threads", tuning.Threads),
	)

	scheduler := transcode.NewScheduler(tuning.MaxConcurrent, logger)
	go retuneScheduler(rootCtx, probe, scheduler, cfg)

	registry := session.NewRegistry(logger)

	torrents, err := source.NewTorrentAdapter(cfg.TorrentDataDir, logger)
	if err != nil {
		logger.Error("torrent client init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	urls := source.NewURLAdapter(cfg.YTDLPPath, logger)
	prober := transcode.NewProber(cfg.FFProbePath)

	sup := supervisor.New(registry, logger)
	sup.MaxStorageBytes = cfg.MaxStreamStorageBytes
	sup.KeepSegments = cfg.KeepSegments
	sup.MonitorInterval = cfg.SegmentMonitorInterval
	sup.RetentionInterval = cfg.RetentionInterval

	streams := &usecase.Streams{
		Registry:       registry,
		Scheduler:      scheduler,
		Supervisor:     sup,
		Logger:         logger,
		ResolveTorrent: torrents.Resolve,
		StageURL:       urls.Stage,
		Probe:          usecase.ProbeSource(prober, logger),
		FFMPEGPath:     cfg.FFMPEGPath,
		StreamBaseDir:  cfg.StreamBaseDir,
		Threads: func() int {
			return resource.Tune(probe.Current(), cfg.MaxConcurrentFFMPEG, cfg.FFMPEGThreads).Threads
		},
		SegmentSeconds: func(active int) int {
			return resource.SegmentDuration(active, cfg.MinSegmentSeconds, cfg.MaxSegmentSeconds, cfg.TargetStreamsPerSegment)
		},
	}

	go streams.SweepIdle(rootCtx, cfg.SessionIdleTimeout)

	handler := apihttp.NewServer(streams, registry,
		apihttp.WithResourceProbe(probe),
		apihttp.WithScheduler(scheduler),
		apihttp.WithTools(cfg.FFMPEGPath, cfg.FFProbePath, cfg.YTDLPPath),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithLogger(logger),
	)

	go broadcastStatus(rootCtx, handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Segment and range responses stream for as long as the client plays.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	streams.Shutdown()
	if err := torrents.Close(); err != nil {
		logger.Warn("torrent client close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// retuneScheduler re-derives the transcoder concurrency limit as the detected
// resource envelope changes (container limits can be adjusted at runtime).
func retuneScheduler(ctx context.Context, probe *resource.Probe, scheduler *transcode.Scheduler, cfg app.Config) {
	interval := cfg.ResourceWatchInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tuning := resource.Tune(probe.Current(), cfg.MaxConcurrentFFMPEG, cfg.FFMPEGThreads)
			scheduler.SetMaxConcurrent(tuning.MaxConcurrent)
		}
	}
}

// broadcastStatus pushes session snapshots to WebSocket clients on a timer.
func broadcastStatus(ctx context.Context, handler *apihttp.Server) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handler.BroadcastStatus()
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
