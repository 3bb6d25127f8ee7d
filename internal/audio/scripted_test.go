package audio

import (
	"sync"
	"time"
)

// scriptedSource plays back a fixed chunk sequence, then fails every read
// with finalErr (ErrDeviceUnavailable unless overridden). When loop is set
// it repeats the last chunk forever instead, pacing reads slightly so a
// test's capture loop does not spin.
type scriptedSource struct {
	rate     int
	chunks   []Chunk
	finalErr error
	loop     bool

	mu     sync.Mutex
	next   int
	closed bool
}

func newScriptedSource(rate int, chunks []Chunk) *scriptedSource {
	return &scriptedSource{
		rate:     rate,
		chunks:   chunks,
		finalErr: ErrDeviceUnavailable,
	}
}

func (s *scriptedSource) ReadChunk() (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Chunk{}, ErrDeviceUnavailable
	}
	if s.next < len(s.chunks) {
		c := s.chunks[s.next]
		s.next++
		return c, nil
	}
	if s.loop && len(s.chunks) > 0 {
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
		s.mu.Lock()
		if s.closed {
			return Chunk{}, ErrDeviceUnavailable
		}
		return s.chunks[len(s.chunks)-1], nil
	}
	return Chunk{}, s.finalErr
}

func (s *scriptedSource) SampleRate() int {
	return s.rate
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// constChunk builds a chunk whose every sample maps to the given amplitude
// on the 0-1000 scale (RMS of a constant signal is the constant itself).
func constChunk(amplitude float64, size, rate int) Chunk {
	samples := make([]int16, size)
	v := int16(amplitude * amplitudeScale)
	for i := range samples {
		samples[i] = v
	}
	return Chunk{Samples: samples, SampleRate: rate}
}

// amplitudeScript expands a run-length script like {5.0: 50, 50.0: 30} in
// order into chunks.
type ampRun struct {
	amplitude float64
	count     int
}

func scriptChunks(runs []ampRun, size, rate int) []Chunk {
	var chunks []Chunk
	for _, r := range runs {
		for i := 0; i < r.count; i++ {
			chunks = append(chunks, constChunk(r.amplitude, size, rate))
		}
	}
	return chunks
}
