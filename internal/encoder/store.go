// Package encoder turns finished speech segments into audio files.
package encoder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/cubebot/micstream/internal/audio"
)

// Format selects the on-disk encoding for saved segments.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
)

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatWAV, FormatFLAC:
		return Format(s), nil
	default:
		return "", fmt.Errorf("encoder: unknown recording format %q (want wav or flac)", s)
	}
}

// Store writes each emitted segment into a base directory, one file per
// utterance, named by onset time and segment ID.
type Store struct {
	dir    string
	format Format
	logger zerolog.Logger
}

// NewStore creates the base directory if needed.
func NewStore(dir string, format Format, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("encoder: create recordings dir: %w", err)
	}
	return &Store{
		dir:    dir,
		format: format,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// Save encodes the segment and returns the written path.
func (s *Store) Save(seg audio.Segment) (string, error) {
	name := fmt.Sprintf("%s-%s.%s",
		seg.Onset.Format("20060102-150405.000"), shortID(seg.ID), s.format)
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("encoder: create %s: %w", path, err)
	}
	defer f.Close()

	switch s.format {
	case FormatFLAC:
		err = WriteFLAC(f, seg.Samples, seg.SampleRate)
	default:
		err = WriteWAV(f, seg.Samples, seg.SampleRate)
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}

	s.logger.Debug().Str("path", path).Int("samples", len(seg.Samples)).Msg("Segment saved")
	return path, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
