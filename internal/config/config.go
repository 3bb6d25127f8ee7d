package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/cubebot/micstream/internal/audio"
	"github.com/cubebot/micstream/internal/encoder"
)

// Config holds all configuration for the mic streaming service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Capture device configuration
	AudioDeviceName string `envconfig:"AUDIO_DEVICE_NAME" default:""`   // Substring match; empty picks the default device
	SampleRate      int    `envconfig:"SAMPLE_RATE" default:"44100"`    // Capture sample rate in Hz
	ChunkSize       int    `envconfig:"CHUNK_SIZE" default:"1024"`      // Samples per chunk

	// VAD configuration (durations in seconds)
	VADMinSpeechSeconds    float64 `envconfig:"VAD_MIN_SPEECH_SECONDS" default:"0.3"`    // Shorter segments are discarded
	VADMaxSilenceSeconds   float64 `envconfig:"VAD_MAX_SILENCE_SECONDS" default:"1.0"`   // Trailing silence before a segment ends
	VADMaxRecordingSeconds float64 `envconfig:"VAD_MAX_RECORDING_SECONDS" default:"8.0"` // Hard cap per segment
	VADPreRecordingSeconds float64 `envconfig:"VAD_PRE_RECORDING_SECONDS" default:"0.5"` // Pre-roll retained before speech onset
	VADCalibrationSeconds  float64 `envconfig:"VAD_CALIBRATION_SECONDS" default:"3.0"`   // Noise floor sampling window

	// Manual thresholds on the 0-1000 amplitude scale; both zero enables auto-calibration
	VADStartThreshold    float64 `envconfig:"VAD_START_THRESHOLD" default:"0"`
	VADContinueThreshold float64 `envconfig:"VAD_CONTINUE_THRESHOLD" default:"0"`

	// Calibration tuning
	VADHysteresisRatio    float64 `envconfig:"VAD_HYSTERESIS_RATIO" default:"0.4"` // continue = start * ratio
	VADCalibrationGain    float64 `envconfig:"VAD_CALIBRATION_GAIN" default:"20"`  // start = noise + noise*gain + offset
	VADCalibrationOffset  float64 `envconfig:"VAD_CALIBRATION_OFFSET" default:"10"`

	// Segment persistence
	RecordingsDir   string `envconfig:"RECORDINGS_DIR" default:"recordings"`
	RecordingFormat string `envconfig:"RECORDING_FORMAT" default:"wav"` // wav, flac, or none

	// Resilience configuration
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`  // Maximum device reopen attempts
	ReconnectBackoff     int `envconfig:"RECONNECT_BACKOFF" default:"1000"`    // Reopen backoff in milliseconds
	RetryMaxAttempts     int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`      // Maximum retry attempts for startup
	RetryInitialBackoff  int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("SAMPLE_RATE must be positive, got %d", cfg.SampleRate)
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("CHUNK_SIZE must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.RecordingFormat != "none" {
		if _, err := encoder.ParseFormat(cfg.RecordingFormat); err != nil {
			return nil, fmt.Errorf("RECORDING_FORMAT: %w", err)
		}
	}
	if err := cfg.SessionConfig().Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SessionConfig maps the environment-driven VAD settings onto a detection
// session configuration.
func (c *Config) SessionConfig() audio.SessionConfig {
	return audio.SessionConfig{
		ChunkSize:            c.ChunkSize,
		MinSpeechDuration:    secondsToDuration(c.VADMinSpeechSeconds),
		MaxSilenceDuration:   secondsToDuration(c.VADMaxSilenceSeconds),
		MaxRecordingDuration: secondsToDuration(c.VADMaxRecordingSeconds),
		PreRecordingDuration: secondsToDuration(c.VADPreRecordingSeconds),
		StartThreshold:       c.VADStartThreshold,
		ContinueThreshold:    c.VADContinueThreshold,
		CalibrationDuration:  secondsToDuration(c.VADCalibrationSeconds),
		Calibration: audio.CalibrationParams{
			Gain:            c.VADCalibrationGain,
			Offset:          c.VADCalibrationOffset,
			HysteresisRatio: c.VADHysteresisRatio,
		},
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
