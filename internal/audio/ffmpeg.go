package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultFFmpegBinary   = "ffmpeg"
	DefaultCommandTimeout = 2 * time.Minute
)

type FFmpegOption func(*FFmpeg)

// FFmpeg decodes arbitrary containers to raw PCM with an external ffmpeg binary.
type FFmpeg struct {
	binary         string
	commandTimeout time.Duration
}

func WithFFmpegBinary(binary string) FFmpegOption {
	return func(f *FFmpeg) {
		f.binary = binary
	}
}

func WithCommandTimeout(timeout time.Duration) FFmpegOption {
	return func(f *FFmpeg) {
		f.commandTimeout = timeout
	}
}

func NewFFmpeg(options ...FFmpegOption) *FFmpeg {
	f := &FFmpeg{
		binary:         DefaultFFmpegBinary,
		commandTimeout: DefaultCommandTimeout,
	}

	for _, option := range options {
		option(f)
	}

	return f
}

func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.binary)
	return err == nil
}

// Decode converts path to mono signed 16-bit PCM at sampleRate and returns it
// as float32 samples.
func (f *FFmpeg) Decode(ctx context.Context, path string, sampleRate int) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, f.commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx,
		f.binary,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-threads", "0",
		"-i", path,
		"-f", "s16le",
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg could not decode %s: %v (%s)", ErrInvalidAudio, path, err, strings.TrimSpace(stderr.String()))
	}

	return pcm16ToFloat32(stdout.Bytes()), nil
}
