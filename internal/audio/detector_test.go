package audio

import (
	"testing"
	"time"
)

func testDetectorConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.ChunkSize = 160
	cfg.MinSpeechDuration = 300 * time.Millisecond
	cfg.MaxSilenceDuration = 1 * time.Second
	cfg.MaxRecordingDuration = 8 * time.Second
	return cfg
}

func testCalibration() Calibration {
	return Calibration{NoiseFloor: 5, StartThreshold: 30, ContinueThreshold: 12}
}

// feed drives the detector with a run-length amplitude script at a fixed
// 20ms cadence and returns every decision.
func feed(d *Detector, runs []ampRun, start time.Time) []Decision {
	const step = 20 * time.Millisecond
	var decisions []Decision
	at := start
	for _, r := range runs {
		for i := 0; i < r.count; i++ {
			at = at.Add(step)
			decisions = append(decisions, d.Process(r.amplitude, at))
		}
	}
	return decisions
}

func emitted(decisions []Decision) []Decision {
	var out []Decision
	for _, dec := range decisions {
		if dec.Ended && dec.Emit {
			out = append(out, dec)
		}
	}
	return out
}

func TestDetector_SpeechThenSilence(t *testing.T) {
	// 50 chunks of silence, 30 of speech, 60 of silence at 20ms per chunk.
	d := NewDetector(testCalibration(), testDetectorConfig(), 0)
	epoch := time.Unix(0, 0)

	decisions := feed(d, []ampRun{
		{amplitude: 5, count: 50},
		{amplitude: 50, count: 30},
		{amplitude: 2, count: 60},
	}, epoch)

	segs := emitted(decisions)
	if len(segs) != 1 {
		t.Fatalf("Expected exactly one emitted segment, got %d", len(segs))
	}
	seg := segs[0]

	// Onset at chunk 51 (1.02s), last active at chunk 80 (1.60s), silence
	// timeout fires at 2.60s, i.e. chunk 130.
	if want := epoch.Add(1020 * time.Millisecond); !seg.Onset.Equal(want) {
		t.Errorf("Expected onset %v, got %v", want, seg.Onset)
	}
	if want := epoch.Add(1600 * time.Millisecond); !seg.End.Equal(want) {
		t.Errorf("Expected end at last active sample %v, got %v", want, seg.End)
	}
	if seg.Reason != EndSilence {
		t.Errorf("Expected end reason silence, got %v", seg.Reason)
	}

	endIdx := -1
	for i, dec := range decisions {
		if dec.Ended {
			endIdx = i
		}
	}
	if endIdx != 129 {
		t.Errorf("Expected the segment to end on chunk index 129, got %d", endIdx)
	}
}

// A burst shorter than the minimum speech duration never emits.
func TestDetector_ShortBurstDiscarded(t *testing.T) {
	d := NewDetector(testCalibration(), testDetectorConfig(), 0)

	decisions := feed(d, []ampRun{
		{amplitude: 5, count: 50},
		{amplitude: 50, count: 5}, // 100ms, below the 300ms minimum
		{amplitude: 2, count: 60},
	}, time.Unix(0, 0))

	if segs := emitted(decisions); len(segs) != 0 {
		t.Fatalf("Expected no emitted segments for a 100ms burst, got %d", len(segs))
	}

	ends := 0
	for _, dec := range decisions {
		if dec.Ended {
			ends++
			if dec.Emit {
				t.Error("Short segment must be discarded, not emitted")
			}
		}
	}
	if ends != 1 {
		t.Errorf("Expected exactly one (discarded) end, got %d", ends)
	}
	if d.State() != StateIdle {
		t.Errorf("Expected detector back in idle after discard, got %v", d.State())
	}
}

// Continuous loud audio must be force-ended at the recording cap, not later.
func TestDetector_MaxDurationForceEnd(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.MaxRecordingDuration = 2 * time.Second
	d := NewDetector(testCalibration(), cfg, 0)
	epoch := time.Unix(0, 0)

	decisions := feed(d, []ampRun{{amplitude: 50, count: 200}}, epoch) // 4s of speech

	segs := emitted(decisions)
	if len(segs) != 1 {
		t.Fatalf("Expected exactly one force-ended segment, got %d", len(segs))
	}
	seg := segs[0]

	if seg.Reason != EndMaxDuration {
		t.Errorf("Expected end reason max_duration, got %v", seg.Reason)
	}
	// Onset at 20ms; cap reached exactly at onset + 2s.
	if want := epoch.Add(20 * time.Millisecond).Add(2 * time.Second); !seg.End.Equal(want) {
		t.Errorf("Expected end capped at %v, got %v", want, seg.End)
	}
	if got := seg.End.Sub(seg.Onset); got != 2*time.Second {
		t.Errorf("Expected segment finalized at the 2s cap, got %v", got)
	}
}

// Segment end corresponds to the last sample at or above the continue
// threshold, not to the time the timeout was noticed.
func TestDetector_EndIsLastActiveSample(t *testing.T) {
	d := NewDetector(testCalibration(), testDetectorConfig(), 0)
	epoch := time.Unix(0, 0)

	decisions := feed(d, []ampRun{
		{amplitude: 50, count: 20}, // speech until 400ms
		{amplitude: 20, count: 10}, // between thresholds: still active, until 600ms
		{amplitude: 2, count: 80},  // silence
	}, epoch)

	segs := emitted(decisions)
	if len(segs) != 1 {
		t.Fatalf("Expected one segment, got %d", len(segs))
	}
	if want := epoch.Add(600 * time.Millisecond); !segs[0].End.Equal(want) {
		t.Errorf("Expected end at last active sample %v, got %v", want, segs[0].End)
	}
}

func TestDetector_ThresholdTieBreaks(t *testing.T) {
	d := NewDetector(testCalibration(), testDetectorConfig(), 0)
	at := time.Unix(0, 0)

	// Exactly the start threshold satisfies >= and starts speech.
	dec := d.Process(30, at.Add(20*time.Millisecond))
	if !dec.Started {
		t.Fatal("Expected amplitude equal to start threshold to begin speech")
	}

	// Exactly the continue threshold keeps the utterance alive.
	dec = d.Process(12, at.Add(40*time.Millisecond))
	if dec.State != StateSpeaking {
		t.Errorf("Expected amplitude equal to continue threshold to stay active, got %v", dec.State)
	}

	// Just below the continue threshold counts as silence.
	dec = d.Process(11.999, at.Add(60*time.Millisecond))
	if dec.State != StateTrailingSilence {
		t.Errorf("Expected trailing silence below continue threshold, got %v", dec.State)
	}
}

func TestDetector_TrailingSilenceRecovery(t *testing.T) {
	d := NewDetector(testCalibration(), testDetectorConfig(), 0)
	epoch := time.Unix(0, 0)

	decisions := feed(d, []ampRun{
		{amplitude: 50, count: 20},
		{amplitude: 2, count: 30}, // 600ms of silence, below the 1s cut-off
		{amplitude: 50, count: 20},
		{amplitude: 2, count: 60}, // now long enough to end
	}, epoch)

	segs := emitted(decisions)
	if len(segs) != 1 {
		t.Fatalf("Expected the pause to be bridged into one segment, got %d", len(segs))
	}
	// Last active sample is the end of the second burst: chunk 70 at 1.40s.
	if want := epoch.Add(1400 * time.Millisecond); !segs[0].End.Equal(want) {
		t.Errorf("Expected end %v, got %v", want, segs[0].End)
	}
}

// In trailing silence only the start threshold returns the detector to
// speaking; mid-band amplitudes keep it in trailing silence but still reset
// the silence clock.
func TestDetector_MidBandInTrailingSilence(t *testing.T) {
	d := NewDetector(testCalibration(), testDetectorConfig(), 0)
	epoch := time.Unix(0, 0)
	step := 20 * time.Millisecond
	at := epoch

	advance := func(amp float64) Decision {
		at = at.Add(step)
		return d.Process(amp, at)
	}

	advance(50) // speaking
	dec := advance(2)
	if dec.State != StateTrailingSilence {
		t.Fatalf("Expected trailing silence, got %v", dec.State)
	}

	dec = advance(20) // between thresholds
	if dec.State != StateTrailingSilence {
		t.Errorf("Expected mid-band amplitude to stay in trailing silence, got %v", dec.State)
	}

	// The mid-band sample reset the silence clock, so the cut-off now needs
	// a full second from it, not from the first silent sample.
	var endDec Decision
	for i := 0; i < 60; i++ {
		endDec = advance(2)
		if endDec.Ended {
			break
		}
	}
	if !endDec.Ended {
		t.Fatal("Expected the utterance to end in sustained silence")
	}
	if want := epoch.Add(3 * step); !endDec.End.Equal(want) {
		t.Errorf("Expected end at the mid-band sample %v, got %v", want, endDec.End)
	}
}

func TestDetector_PreRollWarmup(t *testing.T) {
	d := NewDetector(testCalibration(), testDetectorConfig(), 3)
	at := time.Unix(0, 0)

	if d.State() != StatePreRollOnly {
		t.Fatalf("Expected pre_roll_only before the ring fills, got %v", d.State())
	}
	for i := 0; i < 3; i++ {
		at = at.Add(20 * time.Millisecond)
		d.Process(2, at)
	}
	if d.State() != StateIdle {
		t.Errorf("Expected idle once the ring has filled, got %v", d.State())
	}
}

// Speech can start while the ring is still warming up.
func TestDetector_OnsetDuringWarmup(t *testing.T) {
	d := NewDetector(testCalibration(), testDetectorConfig(), 10)

	dec := d.Process(50, time.Unix(0, 0).Add(20*time.Millisecond))
	if !dec.Started {
		t.Error("Expected onset to be recognized during pre-roll warmup")
	}
	if dec.State != StateSpeaking {
		t.Errorf("Expected speaking state, got %v", dec.State)
	}
}

func TestDetector_Reset(t *testing.T) {
	d := NewDetector(testCalibration(), testDetectorConfig(), 0)
	d.Process(50, time.Unix(0, 0).Add(20*time.Millisecond))

	if d.State() != StateSpeaking {
		t.Fatal("Expected detector to be speaking")
	}
	d.Reset()
	if d.State() != StateIdle {
		t.Errorf("Expected idle after reset, got %v", d.State())
	}
}
