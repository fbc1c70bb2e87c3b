package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/wav"
	"go.uber.org/zap"
)

const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

type LoadOptions struct {
	// SampleRate defaults to SampleRate.
	SampleRate int
	// FFmpeg decodes non-WAV input. Nil disables the fallback.
	FFmpeg *FFmpeg
	Logger *zap.Logger
}

// Load reads the audio file at path and returns mono samples in [-1, 1] at
// opts.SampleRate. WAV files are decoded in-process; anything else goes
// through ffmpeg.
func Load(ctx context.Context, path string, opts LoadOptions) ([]float32, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = SampleRate
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read audio header: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind audio: %w", err)
	}

	if n == len(header) && isWAVHeader(header) {
		samples, rate, err := decodeWAV(f)
		if err != nil {
			return nil, err
		}
		opts.Logger.Debug("decoded wav", zap.String("path", path), zap.Int("sample_rate", rate), zap.Int("samples", len(samples)))
		return Resample(samples, rate, opts.SampleRate), nil
	}

	if opts.FFmpeg == nil || !opts.FFmpeg.Available() {
		return nil, fmt.Errorf("%w: %s is not a WAV file and ffmpeg is unavailable", ErrUnsupportedFormat, path)
	}

	opts.Logger.Debug("decoding audio with ffmpeg", zap.String("path", path))
	return opts.FFmpeg.Decode(ctx, path, opts.SampleRate)
}

func isWAVHeader(header []byte) bool {
	return string(header[:4]) == "RIFF" && string(header[8:12]) == "WAVE"
}

func decodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
		}
		return nil, 0, ErrInvalidAudio
	}

	bitDepth := int(dec.BitDepth)
	switch dec.WavAudioFormat {
	case wavFormatPCM, wavFormatExtensible:
		switch bitDepth {
		case 8, 16, 24, 32:
		default:
			return nil, 0, fmt.Errorf("%w: %d-bit PCM", ErrUnsupportedFormat, bitDepth)
		}
	case wavFormatIEEEFloat:
		if bitDepth != 32 {
			return nil, 0, fmt.Errorf("%w: %d-bit float", ErrUnsupportedFormat, bitDepth)
		}
	default:
		return nil, 0, fmt.Errorf("%w: wav format tag %d", ErrUnsupportedFormat, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}

	samples := make([]float32, len(buf.Data))
	isFloat := dec.WavAudioFormat == wavFormatIEEEFloat
	scale := float32(int64(1) << (bitDepth - 1))
	for i, v := range buf.Data {
		switch {
		case isFloat:
			samples[i] = math.Float32frombits(uint32(int32(v)))
		case bitDepth == 8:
			samples[i] = (float32(v) - 128) / 128
		default:
			samples[i] = float32(v) / scale
		}
	}

	return Downmix(samples, int(dec.NumChans)), int(dec.SampleRate), nil
}

func pcm16ToFloat32(raw []byte) []float32 {
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768.0
	}
	return samples
}
