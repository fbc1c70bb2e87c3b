package cli

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/fmueller/voxpipe/internal/record"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type recordOptions struct {
	duration time.Duration
	backend  string
	input    string
}

func newRecordCmd(app *appState) *cobra.Command {
	opts := &recordOptions{duration: record.DefaultDuration, backend: "auto"}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a fixed-length clip into the configured audio file",
		Long: "record captures a fixed-length clip from the microphone into the audio file the pipeline transcribes " +
			"(output.wav unless --audio or the config says otherwise).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := app.recordAudio(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	bindLoggingFlags(cmd, app)
	bindProgressFlag(cmd, app)
	bindAudioPathFlag(cmd, app)
	cmd.Flags().DurationVar(&opts.duration, "duration", opts.duration, "Record duration, e.g. 5s")
	cmd.Flags().StringVar(&opts.backend, "backend", opts.backend, "Recording backend: "+strings.Join(record.BackendNames(runtime.GOOS), "|"))
	cmd.Flags().StringVar(&opts.input, "input", "", "Capture device in the backend's syntax")

	return cmd
}

func (a *appState) recordAudio(ctx context.Context, opts recordOptions) (string, error) {
	if opts.duration <= 0 {
		return "", fmt.Errorf("duration must be positive, got %s", opts.duration)
	}

	cfg := a.config()
	recordFn := a.recordFn
	if recordFn == nil {
		recordFn = record.Record
	}

	stopProgress := startDurationProgress(a.progressEnabled(), "Recording", opts.duration)
	backend, err := recordFn(ctx, opts.backend, record.Config{
		OutputPath: cfg.Audio,
		Duration:   opts.duration,
		Input:      opts.input,
		Logger:     a.log(),
	})
	stopProgress()
	if err != nil {
		return "", fmt.Errorf("record audio: %w", err)
	}

	a.log().Info("recording finished", zap.String("backend", backend), zap.String("path", cfg.Audio))

	silent, level, err := record.Inspect(ctx, cfg.Audio, cfg.Silence.ThresholdDBFS)
	if err != nil {
		return "", err
	}
	if silent {
		a.log().Warn("recording looks silent; check the input device",
			zap.Float64("rms_dbfs", level.RMSdBFS),
			zap.Float64("peak_dbfs", level.PeakdBFS),
		)
	}
	return cfg.Audio, nil
}
