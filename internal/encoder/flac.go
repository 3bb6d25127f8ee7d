package encoder

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const (
	flacChannels      = 1
	flacBitsPerSample = 16
	flacBlockSize     = 4096
)

// WriteFLAC losslessly compresses mono 16-bit PCM samples into a FLAC
// stream.
func WriteFLAC(w io.Writer, samples []int16, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("encoder: invalid sample rate %d", sampleRate)
	}

	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     flacChannels,
		BitsPerSample: flacBitsPerSample,
		NSamples:      uint64(len(samples)),
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return fmt.Errorf("encoder: create flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)

	for off := 0; off < len(samples); off += flacBlockSize {
		end := off + flacBlockSize
		if end > len(samples) {
			end = len(samples)
		}
		if err := writeFlacBlock(enc, samples[off:end], sampleRate); err != nil {
			return err
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoder: close flac encoder: %w", err)
	}
	return nil
}

func writeFlacBlock(enc *flac.Encoder, block []int16, sampleRate int) error {
	samples32 := make([]int32, len(block))
	for i, s := range block {
		samples32[i] = int32(s)
	}

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples32,
		NSamples: len(block),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    uint32(sampleRate),
			Channels:      frame.ChannelsMono,
			BitsPerSample: flacBitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := enc.WriteFrame(f); err != nil {
		return fmt.Errorf("encoder: write flac frame: %w", err)
	}
	return nil
}
