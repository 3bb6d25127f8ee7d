package audio

import (
	"time"

	"github.com/google/uuid"
)

// Segment is one complete detected utterance: the pre-roll audio plus every
// chunk captured from onset to end, flattened into a single sample sequence.
// A segment is immutable once handed to the consumer.
type Segment struct {
	ID         string
	Samples    []int16
	SampleRate int
	Onset      time.Time
	End        time.Time
	Reason     EndReason
}

// Duration is the speech duration (onset to last active sample), excluding
// pre-roll and trailing silence.
func (s Segment) Duration() time.Duration {
	return s.End.Sub(s.Onset)
}

// AudioDuration is the wall-clock length of the carried samples.
func (s Segment) AudioDuration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Assembler collects the chunks of one in-progress utterance. At onset it
// snapshots the pre-roll ring as the segment prefix; the capture loop then
// appends every chunk until the detector ends the utterance. Memory is
// bounded by the recording cap plus the fixed pre-roll capacity.
type Assembler struct {
	pre    *Ring
	chunks []Chunk
	active bool
}

// NewAssembler wires the assembler to the session's pre-roll ring.
func NewAssembler(pre *Ring) *Assembler {
	return &Assembler{pre: pre}
}

// Begin starts a new segment from the current pre-roll contents. The chunk
// that triggered the onset must already have been pushed to the ring, so it
// arrives via the snapshot and is not appended twice.
func (a *Assembler) Begin() {
	a.chunks = a.pre.Snapshot()
	a.active = true
}

// Append adds a chunk captured while the utterance is in progress.
func (a *Assembler) Append(c Chunk) {
	if !a.active {
		return
	}
	a.chunks = append(a.chunks, c)
}

// Active reports whether a segment is being collected.
func (a *Assembler) Active() bool {
	return a.active
}

// Finalize concatenates the collected chunks into a finished segment and
// resets the assembler.
func (a *Assembler) Finalize(onset, end time.Time, reason EndReason) Segment {
	total := 0
	rate := 0
	for _, c := range a.chunks {
		total += len(c.Samples)
		if rate == 0 {
			rate = c.SampleRate
		}
	}

	samples := make([]int16, 0, total)
	for _, c := range a.chunks {
		samples = append(samples, c.Samples...)
	}

	a.chunks = nil
	a.active = false

	return Segment{
		ID:         uuid.New().String(),
		Samples:    samples,
		SampleRate: rate,
		Onset:      onset,
		End:        end,
		Reason:     reason,
	}
}

// Discard drops the in-progress segment without emitting it.
func (a *Assembler) Discard() {
	a.chunks = nil
	a.active = false
}
