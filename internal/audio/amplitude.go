package audio

import "math"

// amplitudeScale maps the 16-bit RMS range (0..32767) onto the 0-1000
// loudness scale the thresholds are expressed in. Clipped input can push
// values slightly past 1000.
const amplitudeScale = 32.767

// CalculateRMS calculates the root mean square of audio samples.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Amplitude converts a chunk into a scalar loudness value on the 0-1000
// scale. An empty chunk has amplitude 0.
func Amplitude(c Chunk) float64 {
	return CalculateRMS(c.Samples) / amplitudeScale
}
