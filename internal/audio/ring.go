package audio

import "sync"

// Ring is a fixed-capacity circular buffer of chunks used for pre-roll:
// it always holds the most recent chunks pushed into it, so a detected
// speech onset can be emitted with the audio that preceded it.
type Ring struct {
	chunks []Chunk
	start  int
	count  int
	mu     sync.Mutex
}

// NewRing creates a ring holding at most capacity chunks. A zero capacity
// ring is valid and always empty.
func NewRing(capacity int) *Ring {
	if capacity < 0 {
		capacity = 0
	}
	return &Ring{
		chunks: make([]Chunk, capacity),
	}
}

// Push appends a chunk, evicting the oldest one when at capacity.
// Push always succeeds.
func (r *Ring) Push(c Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.chunks) == 0 {
		return
	}

	if r.count < len(r.chunks) {
		r.chunks[(r.start+r.count)%len(r.chunks)] = c
		r.count++
		return
	}

	// Full: overwrite the oldest slot and advance.
	r.chunks[r.start] = c
	r.start = (r.start + 1) % len(r.chunks)
}

// Snapshot returns the current contents in chronological order without
// mutating the ring.
func (r *Ring) Snapshot() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Chunk, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.chunks[(r.start+i)%len(r.chunks)]
	}
	return out
}

// Len returns the number of chunks currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the maximum number of chunks the ring holds.
func (r *Ring) Cap() int {
	return len(r.chunks)
}

// Clear empties the ring without releasing its storage.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.count = 0
}
