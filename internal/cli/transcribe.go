package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fmueller/voxpipe/internal/download"
	"github.com/fmueller/voxpipe/internal/features"
	"github.com/fmueller/voxpipe/internal/pipeline"
	"github.com/fmueller/voxpipe/internal/whisper"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audioPath := filepath.Clean(args[0])
			if _, err := os.Stat(audioPath); err != nil {
				return fmt.Errorf("audio file not found: %w", err)
			}

			runner, closeEngine, err := app.newRunner(cmd.Context())
			if err != nil {
				return err
			}
			defer closeEngine()

			started := time.Now()
			transcript, err := runner.Transcribe(cmd.Context(), audioPath)
			if err != nil {
				app.log().Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
				return err
			}
			app.log().Info("transcription finished", zap.String("audio", audioPath), zap.Duration("elapsed", time.Since(started)))

			fmt.Fprintln(cmd.OutOrStdout(), transcript)
			if pipeline.IsBlankTranscript(transcript) {
				app.log().Warn("no speech detected", zap.String("audio", audioPath))
			}
			return nil
		},
	}

	bindLoggingFlags(cmd, app)
	bindProgressFlag(cmd, app)
	bindModelFlags(cmd, app)
	bindLanguageAndModelDownloadFlags(cmd, app)
	bindEngineFlags(cmd, app)
	cmd.Flags().BoolVar(&app.plain, "plain", app.plain, "Print only lowercase letters and whitespace")
	cmd.Flags().BoolVar(&app.silenceGate, "silence-gate", app.silenceGate, "Skip decoding near-silent audio")
	cmd.Flags().Float64Var(&app.silenceDBFS, "silence-threshold-dbfs", app.silenceDBFS, "Silence gate threshold in dBFS")
	return cmd
}

// openEngine loads the configured engine once. Local engines get their
// model resolved, and downloaded when allowed, before loading.
func (a *appState) openEngine(ctx context.Context) (whisper.Engine, error) {
	cfg := a.config()
	engineCfg := whisper.Config{
		Kind:      cfg.Engine,
		Device:    features.Device(cfg.Device),
		Threads:   cfg.Threads,
		ExtraArgs: cfg.EngineArgs,
		OpenAI: whisper.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		},
		Logger: a.log(),
	}

	if whisper.NeedsLocalModel(cfg.Engine) {
		model, err := a.ensureModelAvailable(ctx)
		if err != nil {
			return nil, err
		}
		if err := model.CheckLanguage(a.decoding.Language); err != nil {
			return nil, err
		}
		engineCfg.ModelPath = model.Path
	}

	stopSpinner := startSpinner(a.progressEnabled(), "Loading model")
	engine, err := whisper.Open(engineCfg)
	stopSpinner()
	if err != nil {
		return nil, err
	}
	a.log().Debug("engine ready", zap.String("engine", engine.Name()), zap.String("device", string(engine.Device())))
	return engine, nil
}

func (a *appState) ensureModelAvailable(ctx context.Context) (whisper.ResolvedModel, error) {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return whisper.ResolvedModel{}, err
	}

	resolved, err := whisper.ResolveModel(a.config().Model, modelDir)
	if err != nil {
		return whisper.ResolvedModel{}, err
	}

	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !a.config().AutoDownload {
		return whisper.ResolvedModel{}, fmt.Errorf("model %q is missing at %s; run `voxpipe setup --model %s` or use --auto-download=true", resolved.Name, resolved.Path, resolved.Name)
	}

	a.log().Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := a.downloadModel(ctx, resolved, resolved.SHA256); err != nil {
		return whisper.ResolvedModel{}, err
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

func (a *appState) downloadModel(ctx context.Context, model whisper.ResolvedModel, expectedSHA256 string) error {
	downloadFn := a.downloadFn
	if downloadFn == nil {
		downloadFn = download.DownloadFile
	}

	if err := downloadFn(ctx, download.Options{
		URL:            model.URL,
		Destination:    model.Path,
		ExpectedSHA256: expectedSHA256,
		LinkedChecksum: expectedSHA256 == "",
		NoProgress:     a.noProgress,
		Logger:         a.log(),
	}); err != nil {
		return fmt.Errorf("download model %q: %w", model.Name, err)
	}
	return nil
}

func pipelineFeatureOptions(threads int) features.Options {
	opts := features.DefaultOptions()
	opts.Workers = threads
	return opts
}
