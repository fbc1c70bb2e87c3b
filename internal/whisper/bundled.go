package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/fmueller/voxpipe/internal/audio"
	"github.com/fmueller/voxpipe/internal/features"
	"github.com/fmueller/voxpipe/internal/platform"
	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"
)

const WhisperPathEnv = "VOXPIPE_WHISPER_PATH"

// BundledEngine runs the whisper-cli binary shipped next to voxpipe on the
// normalised decode window.
type BundledEngine struct {
	Executable string
	ModelPath  string
	ExtraArgs  []string
	Threads    int
	device     features.Device
	Logger     *zap.Logger
}

func NewBundledEngine(cfg Config) (*BundledEngine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, errors.New("model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	extra, err := shellwords.Parse(cfg.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("parse engine args: %w", err)
	}

	executable, err := resolveExecutable()
	if err != nil {
		return nil, err
	}

	return &BundledEngine{
		Executable: executable,
		ModelPath:  cfg.ModelPath,
		ExtraArgs:  extra,
		Threads:    cfg.Threads,
		device:     deviceOrCPU(cfg.Device),
		Logger:     logger,
	}, nil
}

func resolveExecutable() (string, error) {
	if override := strings.TrimSpace(os.Getenv(WhisperPathEnv)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return "", fmt.Errorf("%s is not executable: %w", WhisperPathEnv, err)
		}
		return override, nil
	}

	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve voxpipe executable path: %w", err)
	}

	return ResolveBundledEnginePath(self)
}

func ResolveBundledEnginePath(selfExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	if found, err := exec.LookPath(engineBinaryName()); err == nil {
		return found, nil
	}

	return "", fmt.Errorf("%w: whisper-cli not found near %s or on PATH; expected at ../libexec/whisper/%s or set %s", ErrEngineUnavailable, selfExecutable, engineBinaryName(), WhisperPathEnv)
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()
	hostTarget := platform.CurrentRuntime().Target()

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, engineName),
		filepath.Join(binDir, engineName),
	}
}

func (b *BundledEngine) Name() string {
	return "bundled"
}

func (b *BundledEngine) Device() features.Device {
	return b.device
}

func (b *BundledEngine) Close() error {
	return nil
}

func (b *BundledEngine) Decode(ctx context.Context, mel *features.Spectrogram, opts DecodingOptions) (Result, error) {
	if err := checkFeatures(b, mel); err != nil {
		return Result{}, err
	}

	if err := ensureExecutable(b.Executable); err != nil {
		return Result{}, fmt.Errorf("bundled whisper engine missing or not executable: %w", err)
	}

	outBase := filepath.Join(os.TempDir(), "voxpipe-"+uuid.NewString())
	wavPath := outBase + ".wav"
	txtOut := outBase + ".txt"
	defer os.Remove(wavPath)
	defer os.Remove(txtOut)

	window, err := audioWindow(mel)
	if err != nil {
		return Result{}, err
	}
	if err := writeWindow(wavPath, window); err != nil {
		return Result{}, err
	}

	args := b.buildArgs(wavPath, outBase, opts)
	cmd := exec.CommandContext(ctx, b.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	b.Logger.Debug("running whisper engine", zap.String("engine", b.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		errText := strings.TrimSpace(stderr.String())
		if isMissingSharedLibraryError(errText) {
			return Result{}, fmt.Errorf("bundled whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", b.Executable, errText)
		}
		if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
			return Result{}, fmt.Errorf("bundled whisper engine crashed with an illegal CPU instruction; " +
				"your CPU may lack required instruction set extensions; " +
				"set " + WhisperPathEnv + " to a whisper-cli binary built for your CPU")
		}
		return Result{}, fmt.Errorf("whisper decode failed: %w (%s)", err, errText)
	}

	content, err := os.ReadFile(txtOut)
	if err != nil {
		return Result{}, fmt.Errorf("read whisper output: %w", err)
	}

	return Result{Text: joinLines(string(content)), Language: opts.Language}, nil
}

func (b *BundledEngine) buildArgs(wavPath, outBase string, opts DecodingOptions) []string {
	args := []string{"-m", b.ModelPath, "-f", wavPath, "-nt", "-otxt", "-of", outBase}
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		args = append(args, "-l", lang)
	}
	if b.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(b.Threads))
	}
	if b.device == features.DeviceCPU {
		args = append(args, "-ng")
	}
	return append(args, b.ExtraArgs...)
}

func writeWindow(path string, window []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create decode window: %w", err)
	}
	defer f.Close()

	if err := audio.WriteWAV(f, window, audio.SampleRate); err != nil {
		return fmt.Errorf("write decode window: %w", err)
	}
	return nil
}

// joinLines folds per-segment output into a single line.
func joinLines(content string) string {
	lines := strings.Split(content, "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
