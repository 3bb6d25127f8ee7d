package audio

import "time"

// State is the detector's position in the utterance lifecycle. Exactly one
// state is active per session.
type State int

const (
	// StatePreRollOnly: no speech yet and the pre-roll ring has not filled
	// once. Detection behaves exactly as in StateIdle.
	StatePreRollOnly State = iota
	// StateIdle: waiting for an amplitude at or above the start threshold.
	StateIdle
	// StateSpeaking: inside an utterance, amplitude recently active.
	StateSpeaking
	// StateTrailingSilence: inside an utterance but below the continue
	// threshold, counting down to the silence cut-off.
	StateTrailingSilence
)

func (s State) String() string {
	switch s {
	case StatePreRollOnly:
		return "pre_roll_only"
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StateTrailingSilence:
		return "trailing_silence"
	default:
		return "unknown"
	}
}

// EndReason says why a segment ended.
type EndReason int

const (
	EndReasonNone EndReason = iota
	// EndSilence: trailing silence reached the max silence duration.
	EndSilence
	// EndMaxDuration: the utterance hit the recording cap and was force-ended.
	EndMaxDuration
)

func (r EndReason) String() string {
	switch r {
	case EndSilence:
		return "silence"
	case EndMaxDuration:
		return "max_duration"
	default:
		return "none"
	}
}

// Decision is the detector's verdict for one amplitude sample.
type Decision struct {
	State   State
	Started bool // an onset was recognized on this sample
	Ended   bool // the in-progress utterance ended on this sample
	Emit    bool // Ended and long enough to hand to the consumer
	Reason  EndReason
	Onset   time.Time // valid when Ended
	End     time.Time // last active sample time, valid when Ended
}

// Detector is the hysteresis speech state machine. It consumes amplitude
// samples with their capture timestamps, strictly in chunk order, one at a
// time, and reports onset/end transitions. Amplitude exactly equal to a
// threshold satisfies that threshold (>= start starts, < continue is
// silence); the band in between counts as active while an utterance is in
// progress.
//
// Timeouts are measured by comparing the captured timestamps, so the
// detector stays correct under chunk delivery jitter. Not safe for
// concurrent use.
type Detector struct {
	startThreshold    float64
	continueThreshold float64
	minSpeech         time.Duration
	maxSilence        time.Duration
	maxRecording      time.Duration

	state      State
	warmupLeft int // chunks until the pre-roll ring has filled once
	onset      time.Time
	lastActive time.Time
}

// NewDetector builds a detector from calibrated (or manual) thresholds.
// warmupChunks is the pre-roll ring capacity; the detector reports
// StatePreRollOnly until that many samples have been seen.
func NewDetector(cal Calibration, cfg SessionConfig, warmupChunks int) *Detector {
	d := &Detector{
		startThreshold:    cal.StartThreshold,
		continueThreshold: cal.ContinueThreshold,
		minSpeech:         cfg.MinSpeechDuration,
		maxSilence:        cfg.MaxSilenceDuration,
		maxRecording:      cfg.MaxRecordingDuration,
		state:             StatePreRollOnly,
		warmupLeft:        warmupChunks,
	}
	if warmupChunks <= 0 {
		d.state = StateIdle
	}
	return d
}

// State returns the current detector state.
func (d *Detector) State() State {
	return d.state
}

// Process classifies one amplitude sample captured at the given time and
// advances the state machine. Samples must arrive in capture order.
func (d *Detector) Process(amp float64, at time.Time) Decision {
	var dec Decision

	switch d.state {
	case StatePreRollOnly, StateIdle:
		if d.warmupLeft > 0 {
			d.warmupLeft--
			if d.warmupLeft == 0 && d.state == StatePreRollOnly {
				d.state = StateIdle
			}
		}
		if amp >= d.startThreshold {
			d.state = StateSpeaking
			d.onset = at
			d.lastActive = at
			dec.Started = true
		}

	case StateSpeaking, StateTrailingSilence:
		// Any amplitude at or above the continue threshold counts as active
		// and resets the silence timer; returning to StateSpeaking requires
		// the full start threshold again.
		if amp >= d.continueThreshold {
			d.lastActive = at
			if amp >= d.startThreshold {
				d.state = StateSpeaking
			}
		} else {
			d.state = StateTrailingSilence
		}

		if at.Sub(d.onset) >= d.maxRecording {
			d.end(&dec, EndMaxDuration, d.onset.Add(d.maxRecording))
		} else if d.state == StateTrailingSilence && at.Sub(d.lastActive) >= d.maxSilence {
			d.end(&dec, EndSilence, d.lastActive)
		}
	}

	dec.State = d.state
	return dec
}

// end finalizes the in-progress utterance. The reported end corresponds to
// the last active sample (or the recording cap), never to the later time
// the timeout was noticed. Segments shorter than the minimum speech
// duration are marked for silent discard.
func (d *Detector) end(dec *Decision, reason EndReason, capAt time.Time) {
	end := d.lastActive
	if end.After(capAt) {
		end = capAt
	}

	dec.Ended = true
	dec.Reason = reason
	dec.Onset = d.onset
	dec.End = end
	dec.Emit = end.Sub(d.onset) >= d.minSpeech

	d.state = StateIdle
	d.onset = time.Time{}
	d.lastActive = time.Time{}
}

// Reset returns the detector to idle, abandoning any in-progress utterance.
func (d *Detector) Reset() {
	d.state = StateIdle
	if d.warmupLeft > 0 {
		d.state = StatePreRollOnly
	}
	d.onset = time.Time{}
	d.lastActive = time.Time{}
}
