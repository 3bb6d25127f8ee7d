package audio

import (
	"fmt"
	"time"
)

// Calibration holds the measured noise floor and the thresholds derived
// from it. It is computed once per session (or on demand) and is immutable
// afterward. ContinueThreshold is always below StartThreshold.
type Calibration struct {
	NoiseFloor        float64
	StartThreshold    float64
	ContinueThreshold float64
}

// Calibrate samples the source for the given duration, takes the mean
// amplitude as the noise floor and derives the detection thresholds from
// it. The room should be quiet while it runs.
//
// If the source yields no audio inside the window the error wraps both
// ErrCalibrationFailed and the underlying device condition.
func Calibrate(src Source, duration time.Duration, params CalibrationParams) (Calibration, error) {
	if duration <= 0 {
		return Calibration{}, fmt.Errorf("%w: duration must be positive, got %v", ErrCalibrationFailed, duration)
	}
	params = params.withDefaults()

	var (
		sum      float64
		count    int
		captured time.Duration
	)
	for captured < duration {
		chunk, err := src.ReadChunk()
		if err != nil {
			if count == 0 {
				return Calibration{}, fmt.Errorf("%w: no audio captured: %w", ErrCalibrationFailed, err)
			}
			// Partial window is enough to estimate a floor from.
			break
		}
		if len(chunk.Samples) == 0 {
			continue
		}
		sum += Amplitude(chunk)
		count++
		captured += chunk.Duration()
	}
	if count == 0 {
		return Calibration{}, fmt.Errorf("%w: no audio captured: %w", ErrCalibrationFailed, ErrDeviceUnavailable)
	}

	noise := sum / float64(count)
	start := noise + (noise*params.Gain + params.Offset)
	cal := Calibration{
		NoiseFloor:        noise,
		StartThreshold:    start,
		ContinueThreshold: start * params.HysteresisRatio,
	}
	return cal, nil
}
