package encoder

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of the canonical PCM WAV header.
const WAVHeaderSize = 44

const (
	wavChannels      = 1
	wavBitsPerSample = 16
)

// WriteWAV writes mono 16-bit PCM samples as a complete WAV file.
func WriteWAV(w io.Writer, samples []int16, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("encoder: invalid sample rate %d", sampleRate)
	}

	dataLen := len(samples) * 2
	byteRate := sampleRate * wavChannels * wavBitsPerSample / 8
	blockAlign := wavChannels * wavBitsPerSample / 8

	header := make([]byte, WAVHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(header[22:24], wavChannels)
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], wavBitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("encoder: write wav header: %w", err)
	}

	pcm := make([]byte, dataLen)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("encoder: write wav data: %w", err)
	}
	return nil
}
