// Package audio loads speech audio into the mono 16 kHz float32 buffers the
// recognizer consumes and normalizes them to the fixed decode window.
package audio

import "errors"

const (
	// SampleRate is the rate every buffer is converted to before feature extraction.
	SampleRate = 16000
	// ChunkSeconds is the length of the decode window.
	ChunkSeconds = 30
	// WindowSamples is the number of samples in one decode window.
	WindowSamples = SampleRate * ChunkSeconds
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrInvalidAudio      = errors.New("invalid audio file")
)

// PadOrTrim returns a copy of samples that is exactly length long, cutting the
// tail or appending silence as needed.
func PadOrTrim(samples []float32, length int) []float32 {
	if length < 0 {
		length = 0
	}

	out := make([]float32, length)
	copy(out, samples)
	return out
}
