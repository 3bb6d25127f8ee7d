package audio

import "time"

// Chunk is one fixed-size unit of captured PCM audio: signed 16-bit mono
// samples tagged with the sample rate they were captured at. A Chunk is
// never mutated after capture.
type Chunk struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the wall-clock time the chunk spans.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Source delivers fixed-size chunks from an exclusively-owned capture device.
// ReadChunk blocks until a full chunk is available and returns an error
// wrapping ErrDeviceUnavailable once the device is gone. A Source is read by
// at most one goroutine at a time.
type Source interface {
	// ReadChunk returns the next chunk in capture order.
	ReadChunk() (Chunk, error)

	// SampleRate returns the actual capture rate, which may differ from the
	// rate the caller asked the device for.
	SampleRate() int

	// Close releases the underlying device. Reads in flight fail after Close.
	Close() error
}
