// Package capture implements audio.Source on top of miniaudio (malgo),
// turning the device's push-style data callback into the blocking,
// fixed-size chunk reads the detection loop wants.
package capture

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/cubebot/micstream/internal/audio"
)

// Config selects and shapes the capture device.
type Config struct {
	// DeviceName picks the first capture device whose name contains this
	// substring (case-insensitive), e.g. "USB Audio". Empty selects the
	// system default.
	DeviceName string

	// SampleRate is the rate to ask the backend for; miniaudio converts the
	// hardware stream to it, so it is also the delivered rate.
	SampleRate int

	// ChunkSize is the number of samples per ReadChunk result.
	ChunkSize int
}

// frameBuffer bounds how many callback deliveries can pile up before the
// reader falls behind; at typical callback sizes this is several seconds
// of audio.
const frameBuffer = 256

// Device is a malgo-backed audio.Source. The data callback runs on
// miniaudio's thread and must never block, so samples are handed to
// ReadChunk through a buffered channel.
type Device struct {
	ctx    *malgo.AllocatedContext
	dev    *malgo.Device
	rate   int
	chunk  int
	logger zerolog.Logger

	frames  chan []int16
	lost    chan struct{} // closed when the backend stops the device
	pending []int16

	lostOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Open initializes a capture device and starts the stream. The returned
// device is exclusively owned by the caller until Close.
func Open(cfg Config, logger zerolog.Logger) (*Device, error) {
	if cfg.SampleRate <= 0 || cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("capture: sample rate and chunk size must be positive")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init context: %w", err)
	}

	d := &Device{
		ctx:    ctx,
		rate:   cfg.SampleRate,
		chunk:  cfg.ChunkSize,
		logger: logger.With().Str("component", "capture").Logger(),
		frames: make(chan []int16, frameBuffer),
		lost:   make(chan struct{}),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)

	if cfg.DeviceName != "" {
		id, name, err := findDevice(ctx, cfg.DeviceName)
		if err != nil {
			ctx.Uninit()
			ctx.Free()
			return nil, err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
		d.logger.Info().Str("device", name).Msg("Capture device selected")
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			d.onData(input, frameCount)
		},
		Stop: func() {
			// Fired by the backend on unplug or route loss; readers turn
			// this into ErrDeviceUnavailable.
			d.lostOnce.Do(func() { close(d.lost) })
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("capture: %w: init device: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("capture: %w: start device: %w", audio.ErrDeviceUnavailable, err)
	}

	d.dev = dev
	d.logger.Info().
		Int("sample_rate", d.rate).
		Int("chunk_size", d.chunk).
		Msg("Capture stream started")
	return d, nil
}

// findDevice returns the first capture device whose name contains the
// given substring, case-insensitively.
func findDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceID, string, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, "", fmt.Errorf("capture: enumerate devices: %w", err)
	}
	needle := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), needle) {
			return info.ID, info.Name(), nil
		}
	}
	return malgo.DeviceID{}, "", fmt.Errorf("capture: %w: no capture device matching %q",
		audio.ErrDeviceUnavailable, name)
}

// onData runs on miniaudio's thread. It converts and queues the delivery
// without blocking; if the reader has fallen impossibly far behind the
// delivery is dropped and logged rather than stalling the audio thread.
func (d *Device) onData(input []byte, frameCount uint32) {
	if frameCount == 0 || len(input) < 2 {
		return
	}
	samples := make([]int16, frameCount)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(input[i*2 : i*2+2]))
	}

	select {
	case d.frames <- samples:
	default:
		d.logger.Warn().Uint32("frames", frameCount).Msg("Capture reader stalled, dropping audio")
	}
}

// ReadChunk blocks until a full chunk has accumulated. It returns an error
// wrapping audio.ErrDeviceUnavailable once the device is lost or closed.
func (d *Device) ReadChunk() (audio.Chunk, error) {
	for len(d.pending) < d.chunk {
		select {
		case samples := <-d.frames:
			d.pending = append(d.pending, samples...)
		case <-d.lost:
			// Drain anything already queued before giving up.
			select {
			case samples := <-d.frames:
				d.pending = append(d.pending, samples...)
				continue
			default:
			}
			return audio.Chunk{}, fmt.Errorf("capture: %w", audio.ErrDeviceUnavailable)
		}
	}

	samples := make([]int16, d.chunk)
	copy(samples, d.pending[:d.chunk])
	d.pending = d.pending[d.chunk:]

	return audio.Chunk{Samples: samples, SampleRate: d.rate}, nil
}

// SampleRate returns the delivered capture rate.
func (d *Device) SampleRate() int {
	return d.rate
}

// Close stops the stream and releases the device and backend context.
// Reads in flight fail after Close. Safe to call more than once.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		if d.dev != nil {
			d.dev.Uninit()
		}
		if err := d.ctx.Uninit(); err != nil {
			d.closeErr = fmt.Errorf("capture: uninit context: %w", err)
		}
		d.ctx.Free()
		d.lostOnce.Do(func() { close(d.lost) })
		d.logger.Info().Msg("Capture device released")
	})
	return d.closeErr
}
