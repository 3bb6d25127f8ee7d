package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cubebot/micstream/internal/audio"
	"github.com/cubebot/micstream/internal/capture"
	"github.com/cubebot/micstream/internal/config"
	"github.com/cubebot/micstream/internal/encoder"
	"github.com/cubebot/micstream/internal/observability"
	"github.com/cubebot/micstream/internal/resilience"
	"github.com/cubebot/micstream/internal/stream"
)

const (
	serviceName    = "micstream"
	serviceVersion = "0.3.0"

	// Segments queue here between the capture goroutine and the sink
	// goroutine so persistence and broadcast never stall detection.
	segmentQueueSize = 16
)

// sessionRef shares the active capture session between the HTTP handlers
// and the reconnect loop, which replaces it after a device failure.
type sessionRef struct {
	mu   sync.Mutex
	sess *audio.Session
}

func (r *sessionRef) get() *audio.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

func (r *sessionRef) set(s *audio.Session) {
	r.mu.Lock()
	r.sess = s
	r.mu.Unlock()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("device", cfg.AudioDeviceName).
		Int("sample_rate", cfg.SampleRate).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Mic streaming service starting")

	// Segment sinks: optional disk store plus the WebSocket hub
	var store *encoder.Store
	if cfg.RecordingFormat != "none" {
		format, err := encoder.ParseFormat(cfg.RecordingFormat)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid recording format")
		}
		store, err = encoder.NewStore(cfg.RecordingsDir, format, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create recordings directory")
		}
	}
	hub := stream.NewHub()
	defer hub.Close()

	segments := make(chan audio.Segment, segmentQueueSize)
	go consumeSegments(segments, store, hub, logger)

	// Open the capture device with startup retries; microphones on the robot
	// are sometimes still held by the previous process for a moment.
	sess, err := startSession(cfg, segments, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start capture session")
	}
	ref := &sessionRef{sess: sess}

	// Create HTTP server
	mux := http.NewServeMux()

	// Segment stream for downstream consumers (STT host, debugging tools)
	mux.HandleFunc("/streams/segments", hub.Handler())

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler(serviceName, serviceVersion))

	// Readiness: the service is ready while the capture loop is running
	captureCheck := observability.Check{
		Name: "capture",
		Fn: func(ctx context.Context) (bool, error) {
			if !ref.get().IsRunning() {
				return false, fmt.Errorf("capture session not running")
			}
			return true, nil
		},
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(serviceName, serviceVersion, captureCheck))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/segments", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for shutdown signal, restarting the session on device failures
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

running:
	for {
		select {
		case <-quit:
			break running

		case err := <-ref.get().Err():
			logger.Error().Err(err).Msg("Capture session died, attempting device reopen")

			reconnectCfg := &resilience.ReconnectConfig{
				MaxAttempts: cfg.ReconnectMaxAttempts,
				Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
				Multiplier:  2.0,
				MaxBackoff:  30 * time.Second,
			}
			reopenErr := resilience.Reconnect(ctx, func() error {
				next, err := startSession(cfg, segments, logger)
				if err != nil {
					return err
				}
				ref.set(next)
				return nil
			}, reconnectCfg)
			if reopenErr != nil {
				logger.Fatal().Err(reopenErr).Msg("Could not recover capture device")
			}
		}
	}

	logger.Info().Msg("Shutting down...")

	ref.get().Stop()
	close(segments)

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Service exited gracefully")
}

// startSession opens the capture device and launches a detection session
// whose handler enqueues finished segments for the sink goroutine.
func startSession(cfg *config.Config, segments chan<- audio.Segment, logger zerolog.Logger) (*audio.Session, error) {
	var dev *capture.Device
	retryCfg := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	err := resilience.Retry(func() error {
		var err error
		dev, err = capture.Open(capture.Config{
			DeviceName: cfg.AudioDeviceName,
			SampleRate: cfg.SampleRate,
			ChunkSize:  cfg.ChunkSize,
		}, logger)
		return err
	}, retryCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("open capture device: %w", err)
	}

	sess := audio.NewSession(dev, cfg.SessionConfig(), logger)
	handler := func(seg audio.Segment) {
		select {
		case segments <- seg:
		default:
			logger.Warn().
				Str("segment_id", seg.ID).
				Msg("Segment queue full, dropping segment")
			observability.RecordSegmentDropped("queue")
		}
	}

	if err := sess.Start(handler); err != nil {
		dev.Close()
		return nil, err
	}

	cal := sess.Calibration()
	logger.Info().
		Float64("start_threshold", cal.StartThreshold).
		Float64("continue_threshold", cal.ContinueThreshold).
		Msg("Capture session running")
	return sess, nil
}

// consumeSegments drains the segment queue into the configured sinks.
func consumeSegments(segments <-chan audio.Segment, store *encoder.Store, hub *stream.Hub, logger zerolog.Logger) {
	for seg := range segments {
		if store != nil {
			if path, err := store.Save(seg); err != nil {
				logger.Error().Err(err).Str("segment_id", seg.ID).Msg("Failed to persist segment")
				observability.RecordSegmentDropped("store")
			} else {
				logger.Debug().Str("segment_id", seg.ID).Str("path", path).Msg("Segment persisted")
			}
		}
		hub.Broadcast(seg)
	}
}
