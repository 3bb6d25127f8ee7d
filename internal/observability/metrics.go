package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capture loop metrics
	chunksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "micstream_chunks_processed_total",
		Help: "Total audio chunks consumed by the capture loop",
	})

	currentAmplitude = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "micstream_amplitude",
		Help: "Most recent chunk amplitude on the 0-1000 loudness scale",
	})

	sessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "micstream_session_active",
		Help: "Whether a capture session is running (0 or 1)",
	})

	// Segment metrics
	segmentsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "micstream_segments_emitted_total",
		Help: "Speech segments handed to the consumer, by end reason",
	}, []string{"reason"}) // reason: "silence" or "max_duration"

	segmentsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "micstream_segments_discarded_total",
		Help: "Speech segments discarded for being shorter than the minimum",
	})

	segmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "micstream_segment_duration_seconds",
		Help:    "Speech duration of emitted segments in seconds",
		Buckets: []float64{0.3, 0.5, 1, 2, 4, 8, 16},
	})

	// Calibration metrics
	noiseFloor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "micstream_noise_floor",
		Help: "Calibrated background noise floor on the 0-1000 scale",
	})

	startThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "micstream_start_threshold",
		Help: "Amplitude needed to begin an utterance",
	})

	continueThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "micstream_continue_threshold",
		Help: "Amplitude needed to keep an utterance alive",
	})

	// Error metrics
	deviceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "micstream_device_errors_total",
		Help: "Capture device failures that terminated a session",
	})

	segmentsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "micstream_segments_dropped_total",
		Help: "Finished segments dropped downstream of the detector",
	}, []string{"sink"}) // sink: "queue", "stream", "store"
)

// RecordChunk records one processed chunk and its amplitude.
func RecordChunk(amplitude float64) {
	chunksProcessed.Inc()
	currentAmplitude.Set(amplitude)
}

// SetSessionActive flips the session gauge.
func SetSessionActive(active bool) {
	if active {
		sessionActive.Set(1)
	} else {
		sessionActive.Set(0)
	}
}

// RecordSegment records an emitted segment.
func RecordSegment(reason string, speechDuration time.Duration) {
	segmentsEmitted.WithLabelValues(reason).Inc()
	segmentDuration.Observe(speechDuration.Seconds())
}

// RecordSegmentDiscarded records a segment rejected as too short.
func RecordSegmentDiscarded() {
	segmentsDiscarded.Inc()
}

// RecordCalibration publishes the thresholds a session is running with.
func RecordCalibration(noise, start, cont float64) {
	noiseFloor.Set(noise)
	startThreshold.Set(start)
	continueThreshold.Set(cont)
}

// RecordDeviceError records a capture device failure.
func RecordDeviceError() {
	deviceErrors.Inc()
}

// RecordSegmentDropped records a finished segment a sink could not take.
func RecordSegmentDropped(sink string) {
	segmentsDropped.WithLabelValues(sink).Inc()
}
