package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cubebot/micstream/internal/observability"
)

// SegmentHandler receives each finished speech segment. It is invoked
// synchronously from the capture goroutine after the segment finalizes, so
// it must not block for long or it will stall detection of the next
// utterance; slow consumers should hand the segment off to their own queue.
type SegmentHandler func(Segment)

// Session owns a capture source exclusively and runs the
// capture-amplitude-detect loop on one background goroutine. A session is
// single-use: Stop releases the device and a new Session must be built for
// the next run.
type Session struct {
	cfg    SessionConfig
	src    Source
	logger zerolog.Logger

	mu       sync.Mutex
	running  bool
	stopping bool
	closed   bool
	cal      Calibration
	stop     chan struct{}
	done     chan struct{}

	errCh chan error
}

// NewSession wraps an exclusively-owned source. The caller must already
// hold whatever device-level lock guards the microphone; the session
// assumes sole ownership from here until Stop.
func NewSession(src Source, cfg SessionConfig, logger zerolog.Logger) *Session {
	return &Session{
		cfg:    cfg,
		src:    src,
		logger: logger.With().Str("component", "session").Logger(),
		errCh:  make(chan error, 1),
	}
}

// Start validates the config, calibrates unless manual thresholds were
// supplied, and launches the capture loop. A second Start while running
// returns ErrAlreadyRunning and leaves the first session untouched.
func (s *Session) Start(handler SegmentHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil segment handler", ErrInvalidConfig)
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	// Claim the session before the (slow) calibration read so a concurrent
	// Start fails fast instead of racing the device.
	s.running = true
	s.mu.Unlock()

	cal := Calibration{
		StartThreshold:    s.cfg.StartThreshold,
		ContinueThreshold: s.cfg.ContinueThreshold,
	}
	if !s.cfg.ManualThresholds() {
		var err error
		cal, err = Calibrate(s.src, s.cfg.CalibrationDuration, s.cfg.Calibration)
		if err != nil {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return err
		}
		s.logger.Info().
			Float64("noise_floor", cal.NoiseFloor).
			Float64("start_threshold", cal.StartThreshold).
			Float64("continue_threshold", cal.ContinueThreshold).
			Msg("Calibration complete")
	}
	observability.RecordCalibration(cal.NoiseFloor, cal.StartThreshold, cal.ContinueThreshold)

	rate := s.src.SampleRate()
	if rate <= 0 {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("%w: source reports sample rate %d", ErrDeviceUnavailable, rate)
	}

	chunkDur := time.Duration(s.cfg.ChunkSize) * time.Second / time.Duration(rate)
	preChunks := 0
	if s.cfg.PreRecordingDuration > 0 {
		preChunks = int(math.Ceil(float64(s.cfg.PreRecordingDuration) / float64(chunkDur)))
	}

	ring := NewRing(preChunks)
	detector := NewDetector(cal, s.cfg, preChunks)
	assembler := NewAssembler(ring)

	s.mu.Lock()
	s.cal = cal
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.stopping = false
	s.mu.Unlock()

	observability.SetSessionActive(true)
	s.logger.Info().
		Int("sample_rate", rate).
		Int("chunk_size", s.cfg.ChunkSize).
		Int("pre_roll_chunks", preChunks).
		Msg("Capture session started")

	go s.captureLoop(ring, detector, assembler, handler, rate)
	return nil
}

// Stop requests cancellation and blocks until the capture loop has exited
// and the device is released. Stop is idempotent; calling it on a session
// that never started is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	done := s.done
	if done == nil {
		s.mu.Unlock()
		return
	}
	if !s.stopping {
		s.stopping = true
		close(s.stop)
	}
	s.mu.Unlock()

	<-done
}

// IsRunning reports whether the capture loop is active.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Calibration returns the thresholds the running (or last) session used.
func (s *Session) Calibration() Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cal
}

// Err delivers at most one session-terminating runtime error, on a channel
// distinct from the segment handler. Device errors are not retried here;
// reopen policy belongs to the caller.
func (s *Session) Err() <-chan error {
	return s.errCh
}

// Calibrate runs a standalone pre-flight calibration on the owned source.
// It fails if a capture loop is already consuming the device.
func (s *Session) Calibrate(duration time.Duration) (Calibration, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Calibration{}, ErrAlreadyRunning
	}
	if s.closed {
		s.mu.Unlock()
		return Calibration{}, ErrSessionClosed
	}
	s.mu.Unlock()

	return Calibrate(s.src, duration, s.cfg.Calibration)
}

// captureLoop reads chunks in capture order, classifies each one and drives
// the assembler. It exits on cancellation or on the first device error and
// never emits a partial segment on the way out.
//
// Chunk timestamps are derived from the sample position rather than read
// wall-clock time, so silence and recording timeouts stay exact under
// delivery jitter.
func (s *Session) captureLoop(ring *Ring, detector *Detector, assembler *Assembler, handler SegmentHandler, rate int) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.closed = true
		s.mu.Unlock()

		if err := s.src.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to release capture device")
		}
		observability.SetSessionActive(false)
		s.logger.Info().Msg("Capture session stopped")
		close(s.done)
	}()

	epoch := time.Now()
	samplesRead := int64(0)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		chunk, err := s.src.ReadChunk()
		if err != nil {
			// Cancellation may surface as a read error once the device is
			// torn down; don't report that as a failure.
			select {
			case <-s.stop:
				return
			default:
			}
			observability.RecordDeviceError()
			s.logger.Error().Err(err).Msg("Capture device failed, ending session")
			s.reportErr(fmt.Errorf("%w: %w", ErrDeviceUnavailable, err))
			return
		}
		if len(chunk.Samples) == 0 {
			continue
		}

		samplesRead += int64(len(chunk.Samples))
		at := epoch.Add(time.Duration(samplesRead) * time.Second / time.Duration(rate))

		// Every chunk lands in the pre-roll ring first, regardless of state.
		ring.Push(chunk)

		amp := Amplitude(chunk)
		observability.RecordChunk(amp)

		dec := detector.Process(amp, at)

		if dec.Started {
			// The onset chunk is already in the ring, so the snapshot
			// carries it. With pre-roll disabled the ring holds nothing
			// and the chunk must be appended directly.
			assembler.Begin()
			if ring.Cap() == 0 {
				assembler.Append(chunk)
			}
			s.logger.Info().
				Float64("amplitude", amp).
				Int("pre_roll_chunks", ring.Len()).
				Msg("Speech started")
		} else if assembler.Active() {
			assembler.Append(chunk)
		}

		if !dec.Ended {
			continue
		}

		if !dec.Emit {
			assembler.Discard()
			observability.RecordSegmentDiscarded()
			s.logger.Debug().
				Dur("duration", dec.End.Sub(dec.Onset)).
				Msg("Speech too short, segment discarded")
			continue
		}

		seg := assembler.Finalize(dec.Onset, dec.End, dec.Reason)
		observability.RecordSegment(dec.Reason.String(), seg.Duration())
		s.logger.Info().
			Str("segment_id", seg.ID).
			Dur("duration", seg.Duration()).
			Str("reason", dec.Reason.String()).
			Int("samples", len(seg.Samples)).
			Msg("Speech ended")

		// Synchronous by contract; see SegmentHandler.
		handler(seg)
	}
}

// reportErr delivers the session error once; later errors are logged only.
func (s *Session) reportErr(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}
