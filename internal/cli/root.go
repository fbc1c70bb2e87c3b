package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fmueller/voxpipe/internal/audio"
	"github.com/fmueller/voxpipe/internal/config"
	"github.com/fmueller/voxpipe/internal/download"
	"github.com/fmueller/voxpipe/internal/logging"
	"github.com/fmueller/voxpipe/internal/pipeline"
	"github.com/fmueller/voxpipe/internal/platform"
	"github.com/fmueller/voxpipe/internal/record"
	"github.com/fmueller/voxpipe/internal/version"
	"github.com/fmueller/voxpipe/internal/whisper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spf13/cobra"
)

const skipConfigAnnotation = "voxpipe/skip-config"

type appState struct {
	configPath   string
	verbose      bool
	jsonLogs     bool
	noProgress   bool
	model        string
	modelDir     string
	audioPath    string
	language     string
	engine       string
	engineArgs   string
	device       string
	threads      int
	autoDownload bool
	useInputPath bool
	all          bool
	plain        bool
	silenceGate  bool
	silenceDBFS  float64

	cfg      *config.Config
	decoding whisper.DecodingOptions
	logger   *zap.Logger

	environFn        func() (map[string]string, error)
	configPathFn     func(override string) (string, error)
	openEngineFn     func(ctx context.Context) (whisper.Engine, error)
	downloadFn       func(ctx context.Context, opts download.Options) error
	linkedChecksumFn func(ctx context.Context, url string) (string, error)
	recordFn         func(ctx context.Context, backend string, cfg record.Config) (string, error)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newAppState() *appState {
	defaults := config.Default()
	app := &appState{
		model:        defaults.Model,
		audioPath:    defaults.Audio,
		language:     defaults.Language,
		engine:       defaults.Engine,
		device:       defaults.Device,
		autoDownload: defaults.AutoDownload,
		silenceGate:  defaults.Silence.Gate,
		silenceDBFS:  defaults.Silence.ThresholdDBFS,
	}
	app.environFn = func() (map[string]string, error) {
		return config.Environ(config.DotEnvFile)
	}
	app.configPathFn = platform.ResolveConfigPath
	app.openEngineFn = app.openEngine
	app.downloadFn = download.DownloadFile
	app.linkedChecksumFn = func(ctx context.Context, url string) (string, error) {
		return download.ResolveLinkedChecksum(ctx, url, nil)
	}
	app.recordFn = record.Record
	return app
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voxpipe",
		Short: "Transcribe speech for each filename read from stdin",
		Long: "voxpipe reads newline-delimited filenames from stdin, transcribes the configured audio " +
			"file with a whisper model and prints the transcript to stdout and stderr.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.prepare(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runPipeline(cmd)
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindLoggingFlags(cmd, app)
	bindProgressFlag(cmd, app)
	bindModelFlags(cmd, app)
	bindLanguageAndModelDownloadFlags(cmd, app)
	bindEngineFlags(cmd, app)
	bindAudioFlags(cmd, app)
	cmd.Flags().BoolVar(&app.useInputPath, "use-input-path", app.useInputPath, "Transcribe the file named on each input line instead of --audio")
	cmd.Flags().BoolVar(&app.all, "all", app.all, "Process every input line instead of stopping after the first")

	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newRecordCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.configPath, "config", app.configPath, "Path to a YAML config file (default $XDG_CONFIG_HOME/voxpipe/config.yaml)")
	cmd.Flags().BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	cmd.Flags().BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
}

func bindProgressFlag(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
}

func bindModelFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.model, "model", app.model, "Model name or model file path")
	cmd.Flags().StringVar(&app.modelDir, "model-dir", app.modelDir, "Directory where models are stored")
}

func bindLanguageAndModelDownloadFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.language, "language", app.language, "Language name or code (auto|en|english|de|...) for decoding")
	cmd.Flags().BoolVar(&app.autoDownload, "auto-download", app.autoDownload, "Automatically download missing models")
}

func bindEngineFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.engine, "engine", app.engine, "Decoding engine: auto|native|bundled|openai")
	cmd.Flags().StringVar(&app.engineArgs, "engine-args", app.engineArgs, "Extra arguments passed to the bundled whisper-cli")
	cmd.Flags().StringVar(&app.device, "device", app.device, "Device the features are bound to: cpu|gpu")
	cmd.Flags().IntVar(&app.threads, "threads", app.threads, "Threads for feature extraction and decoding; 0 picks automatically")
}

func bindAudioPathFlag(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.audioPath, "audio", app.audioPath, "Audio file transcribed for each input line")
}

func bindAudioFlags(cmd *cobra.Command, app *appState) {
	bindAudioPathFlag(cmd, app)
	cmd.Flags().BoolVar(&app.plain, "plain", app.plain, "Print only lowercase letters and whitespace")
	cmd.Flags().BoolVar(&app.silenceGate, "silence-gate", app.silenceGate, "Skip decoding near-silent audio")
	cmd.Flags().Float64Var(&app.silenceDBFS, "silence-threshold-dbfs", app.silenceDBFS, "Silence gate threshold in dBFS")
}

// prepare merges defaults, the config file, the environment and the flags
// that were set explicitly, then builds the logger.
func (a *appState) prepare(cmd *cobra.Command) error {
	if cmd.Annotations[skipConfigAnnotation] == "true" {
		return a.initLogger(logging.DefaultLevel)
	}

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	a.cfg = cfg

	language, err := whisper.NormalizeLanguage(cfg.Language)
	if err != nil {
		return err
	}
	a.decoding = whisper.DecodingOptions{Language: language}

	return a.initLogger(cfg.LogLevel)
}

func (a *appState) initLogger(level string) error {
	logger, err := logging.New(logging.Options{Level: level, Verbose: a.verbose, JSON: a.jsonLogs})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

func (a *appState) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit := a.configPath != ""
	path, err := a.configPathFn(a.configPath)
	if err != nil {
		if explicit {
			return nil, err
		}
		path = ""
	}

	cfg, err := config.LoadOptional(path, explicit)
	if err != nil {
		return nil, err
	}

	environ, err := a.environFn()
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(environ); err != nil {
		return nil, err
	}

	a.applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (a *appState) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Model = a.model
	}
	if flags.Changed("model-dir") {
		cfg.ModelDir = a.modelDir
	}
	if flags.Changed("audio") {
		cfg.Audio = a.audioPath
	}
	if flags.Changed("language") {
		cfg.Language = a.language
	}
	if flags.Changed("engine") {
		cfg.Engine = a.engine
	}
	if flags.Changed("engine-args") {
		cfg.EngineArgs = a.engineArgs
	}
	if flags.Changed("device") {
		cfg.Device = a.device
	}
	if flags.Changed("threads") {
		cfg.Threads = a.threads
	}
	if flags.Changed("auto-download") {
		cfg.AutoDownload = a.autoDownload
	}
	if flags.Changed("silence-gate") {
		cfg.Silence.Gate = a.silenceGate
	}
	if flags.Changed("silence-threshold-dbfs") {
		cfg.Silence.ThresholdDBFS = a.silenceDBFS
	}
}

func (a *appState) runPipeline(cmd *cobra.Command) error {
	runner, closeEngine, err := a.newRunner(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	_, err = runner.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	return err
}

func (a *appState) newRunner(ctx context.Context) (*pipeline.Runner, func(), error) {
	openEngineFn := a.openEngineFn
	if openEngineFn == nil {
		openEngineFn = a.openEngine
	}

	engine, err := openEngineFn(ctx)
	if err != nil {
		return nil, nil, err
	}
	closeEngine := func() {
		if err := engine.Close(); err != nil {
			a.log().Warn("failed to release engine", zap.String("engine", engine.Name()), zap.Error(err))
		}
	}

	cfg := a.config()
	featureOpts := pipelineFeatureOptions(cfg.Threads)
	runner, err := pipeline.New(engine, pipeline.Options{
		AudioPath:    cfg.Audio,
		UseInputPath: a.useInputPath,
		All:          a.all,
		Plain:        a.plain,
		Decoding:     a.decoding,
		Features:     featureOpts,
		Silence: pipeline.SilenceGate{
			Enabled:       cfg.Silence.Gate,
			ThresholdDBFS: cfg.Silence.ThresholdDBFS,
		},
		FFmpeg: audio.NewFFmpeg(),
	}, a.log())
	if err != nil {
		closeEngine()
		return nil, nil, err
	}
	runner.Spinner = func(description string) func() {
		return startSpinner(a.progressEnabled(), description)
	}
	return runner, closeEngine, nil
}

func (a *appState) config() *config.Config {
	if a.cfg == nil {
		a.cfg = config.Default()
	}
	return a.cfg
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.config().ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
