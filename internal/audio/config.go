package audio

import (
	"fmt"
	"time"
)

// CalibrationParams control how detection thresholds are derived from the
// measured noise floor:
//
//	startThreshold    = noiseFloor + (noiseFloor*Gain + Offset)
//	continueThreshold = startThreshold * HysteresisRatio
//
// The defaults were chosen empirically to reject typical room noise while
// staying responsive to quiet speech.
type CalibrationParams struct {
	Gain            float64 // multiplier applied to the noise floor
	Offset          float64 // constant margin on the 0-1000 scale
	HysteresisRatio float64 // continue threshold as a fraction of start, in (0,1)
}

// DefaultCalibrationParams returns the stock calibration constants.
func DefaultCalibrationParams() CalibrationParams {
	return CalibrationParams{
		Gain:            20.0,
		Offset:          10.0,
		HysteresisRatio: 0.4,
	}
}

// SessionConfig holds the tunable behavior of one capture session.
type SessionConfig struct {
	// ChunkSize is the number of samples per captured chunk. The source must
	// deliver chunks of exactly this size.
	ChunkSize int

	// MinSpeechDuration is the shortest utterance worth emitting; anything
	// shorter is discarded silently.
	MinSpeechDuration time.Duration

	// MaxSilenceDuration of trailing silence ends an utterance.
	MaxSilenceDuration time.Duration

	// MaxRecordingDuration force-ends an utterance regardless of silence.
	MaxRecordingDuration time.Duration

	// PreRecordingDuration of audio preceding an onset is retained and
	// prepended to every emitted segment. Zero disables pre-roll.
	PreRecordingDuration time.Duration

	// StartThreshold and ContinueThreshold, when both set (> 0), bypass
	// calibration entirely.
	StartThreshold    float64
	ContinueThreshold float64

	// CalibrationDuration is how long Start samples the noise floor when
	// manual thresholds are not supplied.
	CalibrationDuration time.Duration

	// Calibration tunes the threshold derivation. Zero values fall back to
	// the defaults.
	Calibration CalibrationParams
}

// DefaultSessionConfig returns the stock tuning: 1024-sample chunks, 0.3s
// minimum speech, 1.0s silence cut-off, 8.0s recording cap, 0.5s pre-roll
// and a 3s calibration window.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ChunkSize:            1024,
		MinSpeechDuration:    300 * time.Millisecond,
		MaxSilenceDuration:   1 * time.Second,
		MaxRecordingDuration: 8 * time.Second,
		PreRecordingDuration: 500 * time.Millisecond,
		CalibrationDuration:  3 * time.Second,
		Calibration:          DefaultCalibrationParams(),
	}
}

// ManualThresholds reports whether calibration is bypassed.
func (c SessionConfig) ManualThresholds() bool {
	return c.StartThreshold > 0 && c.ContinueThreshold > 0
}

// Validate rejects configs that would make the detector misbehave. Values
// are never clamped.
func (c SessionConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.MinSpeechDuration <= 0 {
		return fmt.Errorf("%w: min speech duration must be positive, got %v", ErrInvalidConfig, c.MinSpeechDuration)
	}
	if c.MaxSilenceDuration <= 0 {
		return fmt.Errorf("%w: max silence duration must be positive, got %v", ErrInvalidConfig, c.MaxSilenceDuration)
	}
	if c.MaxRecordingDuration <= c.MaxSilenceDuration {
		return fmt.Errorf("%w: max recording duration %v must exceed max silence duration %v",
			ErrInvalidConfig, c.MaxRecordingDuration, c.MaxSilenceDuration)
	}
	if c.PreRecordingDuration < 0 {
		return fmt.Errorf("%w: pre-recording duration must not be negative, got %v", ErrInvalidConfig, c.PreRecordingDuration)
	}
	if c.StartThreshold < 0 || c.ContinueThreshold < 0 {
		return fmt.Errorf("%w: thresholds must not be negative", ErrInvalidConfig)
	}
	if c.ManualThresholds() && c.ContinueThreshold >= c.StartThreshold {
		return fmt.Errorf("%w: continue threshold %.1f must be below start threshold %.1f",
			ErrInvalidConfig, c.ContinueThreshold, c.StartThreshold)
	}
	if !c.ManualThresholds() {
		if c.StartThreshold > 0 || c.ContinueThreshold > 0 {
			return fmt.Errorf("%w: manual thresholds must be set together", ErrInvalidConfig)
		}
		if c.CalibrationDuration <= 0 {
			return fmt.Errorf("%w: calibration duration must be positive, got %v", ErrInvalidConfig, c.CalibrationDuration)
		}
	}
	if r := c.Calibration.HysteresisRatio; r != 0 && (r <= 0 || r >= 1) {
		return fmt.Errorf("%w: hysteresis ratio must be in (0,1), got %.2f", ErrInvalidConfig, r)
	}
	return nil
}

// withDefaults fills zero-value calibration params.
func (p CalibrationParams) withDefaults() CalibrationParams {
	def := DefaultCalibrationParams()
	if p.Gain == 0 {
		p.Gain = def.Gain
	}
	if p.Offset == 0 {
		p.Offset = def.Offset
	}
	if p.HysteresisRatio == 0 {
		p.HysteresisRatio = def.HysteresisRatio
	}
	return p
}
