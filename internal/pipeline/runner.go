// Package pipeline turns filenames read from a stream into transcripts:
// load audio, pad or trim to one window, extract log-mel features and
// decode them with a whisper engine.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fmueller/voxpipe/internal/audio"
	"github.com/fmueller/voxpipe/internal/features"
	"github.com/fmueller/voxpipe/internal/whisper"
	"go.uber.org/zap"
)

type SilenceGate struct {
	Enabled       bool
	ThresholdDBFS float64
}

type Options struct {
	// AudioPath is decoded for every input line unless UseInputPath is set.
	AudioPath string
	// UseInputPath decodes the file named on each line instead of AudioPath.
	UseInputPath bool
	// All processes every line; by default the loop stops after the first.
	All      bool
	Plain    bool
	Decoding whisper.DecodingOptions
	Features features.Options
	Silence  SilenceGate
	FFmpeg   *audio.FFmpeg
}

type Runner struct {
	engine whisper.Engine
	opts   Options
	logger *zap.Logger

	// Spinner starts a progress indicator and returns its stop function.
	Spinner func(description string) func()
}

func New(engine whisper.Engine, opts Options, logger *zap.Logger) (*Runner, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Features.NMels == 0 {
		workers := opts.Features.Workers
		opts.Features = features.DefaultOptions()
		opts.Features.Workers = workers
	}
	return &Runner{engine: engine, opts: opts, logger: logger}, nil
}

// Run reads newline-delimited filenames from in. For each processed line it
// announces the file on errOut, prints the transcript to out and flushes it,
// then echoes the transcript to errOut. It returns the number of lines
// transcribed. The first error stops the loop.
func (r *Runner) Run(ctx context.Context, in io.Reader, out, errOut io.Writer) (int, error) {
	reader := bufio.NewReader(in)
	stdout := bufio.NewWriter(out)
	processed := 0

	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return processed, fmt.Errorf("read input: %w", readErr)
		}
		if line == "" && readErr != nil {
			return processed, nil
		}

		file := trimLineEnding(line)
		fmt.Fprintf(errOut, "Running on `%s`\n", file)

		source := r.opts.AudioPath
		if r.opts.UseInputPath {
			source = file
		}

		text, err := r.Transcribe(ctx, source)
		if err != nil {
			return processed, err
		}

		fmt.Fprintln(stdout, text)
		if err := stdout.Flush(); err != nil {
			return processed, fmt.Errorf("flush output: %w", err)
		}
		fmt.Fprintln(errOut, text)
		processed++

		if !r.opts.All || readErr != nil {
			return processed, nil
		}
	}
}

// Transcribe runs the full pipeline on one audio file and returns the text.
func (r *Runner) Transcribe(ctx context.Context, path string) (string, error) {
	samples, err := audio.Load(ctx, path, audio.LoadOptions{
		SampleRate: audio.SampleRate,
		FFmpeg:     r.opts.FFmpeg,
		Logger:     r.logger,
	})
	if err != nil {
		return "", err
	}

	window := audio.PadOrTrim(samples, audio.WindowSamples)

	if r.opts.Silence.Enabled {
		if silent, level := audio.IsSilent(window, r.opts.Silence.ThresholdDBFS); silent {
			r.logger.Info(
				"audio considered silent; skipping decode",
				zap.String("audio", path),
				zap.Float64("rms_dbfs", level.RMSdBFS),
				zap.Float64("peak_dbfs", level.PeakdBFS),
				zap.Float64("threshold_dbfs", r.opts.Silence.ThresholdDBFS),
			)
			return r.finish(BlankAudioToken), nil
		}
	}

	mel, err := features.LogMel(ctx, window, r.opts.Features)
	if err != nil {
		return "", fmt.Errorf("compute log-mel spectrogram: %w", err)
	}
	mel = mel.To(r.engine.Device())

	r.logger.Debug("decoding", zap.String("audio", path), zap.String("engine", r.engine.Name()), zap.String("device", string(r.engine.Device())))
	stop := r.startSpinner("Transcribing")
	started := time.Now()
	result, err := r.engine.Decode(ctx, mel, r.opts.Decoding)
	stop()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	r.logger.Debug("decode finished", zap.Duration("elapsed", time.Since(started)), zap.String("language", result.Language))

	return r.finish(result.Text), nil
}

func (r *Runner) finish(text string) string {
	text = SingleLine(text)
	if IsBlankTranscript(text) {
		r.logger.Info(noSpeechHint())
	}
	if r.opts.Plain {
		return PlainText(text)
	}
	return text
}

func (r *Runner) startSpinner(description string) func() {
	if r.Spinner == nil {
		return func() {}
	}
	return r.Spinner(description)
}
