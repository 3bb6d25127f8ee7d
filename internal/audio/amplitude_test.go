package audio

import (
	"testing"
	"time"
)

func TestCalculateRMS(t *testing.T) {
	// Expected RMS: sqrt((1000^2 + 1000^2 + 2000^2 + 2000^2) / 4)
	samples := []int16{1000, -1000, 2000, -2000}
	rms := CalculateRMS(samples)

	expected := 1581.14
	tolerance := 1.0

	if rms < expected-tolerance || rms > expected+tolerance {
		t.Errorf("Expected RMS around %.2f, got %.2f", expected, rms)
	}
}

func TestCalculateRMS_Empty(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("Expected RMS 0 for empty input, got %f", rms)
	}
}

func TestAmplitude_EmptyChunk(t *testing.T) {
	if amp := Amplitude(Chunk{SampleRate: 44100}); amp != 0 {
		t.Errorf("Expected amplitude 0 for empty chunk, got %f", amp)
	}
}

func TestAmplitude_Scale(t *testing.T) {
	// A constant signal's RMS equals the constant, so a full-scale square
	// wave should land near the nominal 1000 ceiling.
	samples := make([]int16, 1024)
	for i := range samples {
		samples[i] = 32767
	}
	amp := Amplitude(Chunk{Samples: samples, SampleRate: 44100})
	if amp < 999.0 || amp > 1001.0 {
		t.Errorf("Expected full-scale amplitude near 1000, got %f", amp)
	}
}

func TestAmplitude_ConstChunkHelper(t *testing.T) {
	c := constChunk(50.0, 1024, 44100)
	amp := Amplitude(c)
	if amp < 49.0 || amp > 51.0 {
		t.Errorf("Expected amplitude near 50, got %f", amp)
	}
}

func TestChunk_Duration(t *testing.T) {
	c := Chunk{Samples: make([]int16, 160), SampleRate: 8000}
	if got := c.Duration(); got != 20*time.Millisecond {
		t.Errorf("Expected 20ms chunk duration, got %v", got)
	}

	if got := (Chunk{Samples: make([]int16, 160)}).Duration(); got != 0 {
		t.Errorf("Expected zero duration without a sample rate, got %v", got)
	}
}
