package audio

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPadOrTrim(t *testing.T) {
	t.Parallel()

	padded := PadOrTrim([]float32{0.1, 0.2}, 4)
	require.Equal(t, []float32{0.1, 0.2, 0, 0}, padded)

	trimmed := PadOrTrim([]float32{0.1, 0.2, 0.3}, 2)
	require.Equal(t, []float32{0.1, 0.2}, trimmed)

	require.Len(t, PadOrTrim(nil, WindowSamples), WindowSamples)
	require.Empty(t, PadOrTrim([]float32{1}, -1))
}

func TestPadOrTrimDoesNotAliasInput(t *testing.T) {
	t.Parallel()

	in := []float32{0.5, 0.5}
	out := PadOrTrim(in, 2)
	out[0] = 0
	require.Equal(t, float32(0.5), in[0])
}

func TestLoadPCM16Mono(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "output.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAV([]int16{16384, -16384, 0, 32767}, SampleRate, 1), 0o644))

	samples, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, samples, 4)
	require.InDelta(t, 0.5, samples[0], 1e-6)
	require.InDelta(t, -0.5, samples[1], 1e-6)
	require.InDelta(t, 0, samples[2], 1e-6)
	require.InDelta(t, 1, samples[3], 1e-3)
}

func TestLoadDownmixesAndResamples(t *testing.T) {
	t.Parallel()

	// stereo at 8 kHz: left 0.5, right -0.5 averages to silence
	frames := 800
	samples := make([]int16, 0, frames*2)
	for i := 0; i < frames; i++ {
		samples = append(samples, 16384, -16384)
	}

	path := filepath.Join(t.TempDir(), "stereo.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAV(samples, 8000, 2), 0o644))

	out, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, out, frames*2)
	for _, s := range out {
		require.InDelta(t, 0, s, 1e-6)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "output.wav"), LoadOptions{})
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsNonAudioWithoutFFmpeg(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	_, err := Load(context.Background(), path, LoadOptions{
		FFmpeg: NewFFmpeg(WithFFmpegBinary(filepath.Join(t.TempDir(), "no-ffmpeg"))),
	})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadRejectsTruncatedWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.wav")
	payload := makePCM16WAV([]int16{1, 2, 3}, SampleRate, 1)
	require.NoError(t, os.WriteFile(path, payload[:16], 0o644))

	_, err := Load(context.Background(), path, LoadOptions{})
	require.ErrorIs(t, err, ErrInvalidAudio)
}

func TestLoadFallsBackToFFmpeg(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}

	dir := t.TempDir()
	fake := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\nprintf '\\000\\100\\000\\300'\n"
	require.NoError(t, os.WriteFile(fake, []byte(script), 0o755))

	path := filepath.Join(dir, "clip.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS-not-really"), 0o644))

	samples, err := Load(context.Background(), path, LoadOptions{FFmpeg: NewFFmpeg(WithFFmpegBinary(fake))})
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, -0.5}, samples)
}

func TestWriteWAVRoundTripsThroughLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "window.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteWAV(f, []float32{0.5, -0.5, 0}, SampleRate))
	require.NoError(t, f.Close())

	samples, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, samples, 3)
	require.InDelta(t, 0.5, samples[0], 1e-4)
	require.InDelta(t, -0.5, samples[1], 1e-4)
}

func TestResample(t *testing.T) {
	t.Parallel()

	up := Resample([]float32{0, 1}, 8000, 16000)
	require.Equal(t, []float32{0, 0.5, 1, 1}, up)

	same := Resample([]float32{0.25}, SampleRate, SampleRate)
	require.Equal(t, []float32{0.25}, same)

	require.Len(t, Resample(make([]float32, 44100), 44100, SampleRate), SampleRate)
}

func TestIsSilentDetectsSilence(t *testing.T) {
	t.Parallel()

	silent, level := IsSilent(make([]float32, SampleRate), -65)
	require.True(t, silent)
	require.True(t, math.IsInf(level.RMSdBFS, -1))
	require.EqualValues(t, SampleRate, level.Samples)
}

func TestIsSilentDetectsTone(t *testing.T) {
	t.Parallel()

	samples := make([]float32, SampleRate)
	for i := range samples {
		samples[i] = float32(0.25 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}

	silent, level := IsSilent(samples, -65)
	require.False(t, silent)
	require.Greater(t, level.PeakdBFS, -20.0)
	require.Greater(t, level.RMSdBFS, -20.0)
}

func makePCM16WAV(samples []int16, sampleRate int, channels int) []byte {
	bytesPerSample := 2
	dataSize := len(samples) * bytesPerSample
	fmtChunkSize := 16
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(fmtChunkSize))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(channels))
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate*channels*bytesPerSample))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(channels*bytesPerSample))
	off += 2
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}
