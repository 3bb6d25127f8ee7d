package audio

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when a capture loop is active.
	// The running session is unaffected.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrDeviceUnavailable reports a capture device that is disconnected or
	// unreadable. Sources wrap it on read failures.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrInvalidConfig is wrapped by config validation failures. Invalid
	// values are rejected, never clamped.
	ErrInvalidConfig = errors.New("invalid session config")

	// ErrCalibrationFailed reports that the calibration window yielded no
	// usable audio. The caller must supply manual thresholds or abort.
	ErrCalibrationFailed = errors.New("calibration failed")

	// ErrSessionClosed is returned by Start after Stop has released the
	// capture device. A session is single-use.
	ErrSessionClosed = errors.New("session closed")
)
