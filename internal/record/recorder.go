// Package record captures a fixed-length microphone clip into the WAV file
// the transcription pipeline reads, using whichever capture tool the host
// has installed.
package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/fmueller/voxpipe/internal/audio"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDuration is how long a clip runs when no duration is given.
const DefaultDuration = 5 * time.Second

var ErrNoBackendAvailable = errors.New("no recording backend available")

type Config struct {
	OutputPath string
	Duration   time.Duration
	// Input selects the capture device in the backend's own syntax.
	Input  string
	Logger *zap.Logger
}

// Backend is a capture tool invoked as a subprocess that writes a 16 kHz
// mono PCM WAV file and stops on SIGINT.
type Backend struct {
	Name   string
	Binary string
	Args   func(cfg Config) []string
	// SelfTimed backends stop on their own after cfg.Duration.
	SelfTimed bool
}

func (b Backend) Available() bool {
	_, err := exec.LookPath(b.Binary)
	return err == nil
}

func DefaultBackends(goos string) []Backend {
	switch goos {
	case "linux":
		return []Backend{pipewireBackend(), alsaBackend(), ffmpegBackend("pulse", "default")}
	case "darwin":
		return []Backend{ffmpegBackend("avfoundation", ":0")}
	default:
		return nil
	}
}

func BackendNames(goos string) []string {
	names := []string{"auto"}
	for _, backend := range DefaultBackends(goos) {
		names = append(names, backend.Name)
	}
	return names
}

// Record captures cfg.Duration of audio into cfg.OutputPath with the first
// available backend, trying the next one when a backend fails. It returns
// the name of the backend that produced the file.
func Record(ctx context.Context, preferred string, cfg Config) (string, error) {
	backends := DefaultBackends(runtime.GOOS)
	if len(backends) == 0 {
		return "", fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
	return recordWithFallback(ctx, backends, preferred, cfg)
}

func recordWithFallback(ctx context.Context, backends []Backend, preferred string, cfg Config) (string, error) {
	if strings.TrimSpace(cfg.OutputPath) == "" {
		return "", errors.New("output path is required")
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(cfg.OutputPath)), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	ordered, err := orderBackends(backends, preferred)
	if err != nil {
		return "", err
	}

	// Backends write to a sibling file so a failed take never clobbers the
	// previous recording.
	finalPath := cfg.OutputPath
	cfg.OutputPath = partialPath(finalPath)

	var errs []error
	for _, backend := range ordered {
		if !backend.Available() {
			errs = append(errs, fmt.Errorf("%s: %s not found", backend.Name, backend.Binary))
			continue
		}

		cfg.Logger.Debug("recording", zap.String("backend", backend.Name), zap.Duration("duration", cfg.Duration), zap.String("output", finalPath))
		err := runBackend(ctx, backend, cfg)
		if err == nil {
			if err := os.Rename(cfg.OutputPath, finalPath); err != nil {
				_ = removePartialRecording(cfg.OutputPath)
				return "", fmt.Errorf("%s: move recording into place: %w", backend.Name, err)
			}
			return backend.Name, nil
		}

		if cleanupErr := removePartialRecording(cfg.OutputPath); cleanupErr != nil {
			errs = append(errs, fmt.Errorf("%s: cleanup partial recording %q: %w", backend.Name, cfg.OutputPath, cleanupErr))
		}

		err = fmt.Errorf("%s: %w", backend.Name, err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return "", ErrNoBackendAvailable
	}
	return "", fmt.Errorf("%w: %w", ErrNoBackendAvailable, errors.Join(errs...))
}

func orderBackends(backends []Backend, preferred string) ([]Backend, error) {
	if len(backends) == 0 {
		return nil, errors.New("no backends configured")
	}

	if preferred == "" || preferred == "auto" {
		return backends, nil
	}

	ordered := make([]Backend, 0, len(backends))
	for _, backend := range backends {
		if backend.Name == preferred {
			ordered = append(ordered, backend)
		}
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("unknown backend %q", preferred)
	}
	for _, backend := range backends {
		if backend.Name != preferred {
			ordered = append(ordered, backend)
		}
	}
	return ordered, nil
}

func runBackend(ctx context.Context, backend Backend, cfg Config) error {
	cmd := exec.Command(backend.Binary, backend.Args(cfg)...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	limit := cfg.Duration
	if backend.SelfTimed {
		// grace period for tools that stop themselves
		limit += 2 * time.Second
	}
	return runTimedCommand(ctx, cmd, limit, cfg.Logger)
}

// partialPath names a hidden file next to path. It keeps the extension
// because ffmpeg picks the container from it.
func partialPath(path string) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+"-"+uuid.NewString()+".partial"+ext)
}

func removePartialRecording(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// runTimedCommand interrupts cmd once duration has elapsed. An exit caused
// by that interrupt counts as success.
func runTimedCommand(ctx context.Context, cmd *exec.Cmd, duration time.Duration, logger *zap.Logger) error {
	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		stopSignalSent := cmd.Process.Signal(os.Interrupt) == nil
		err := <-done
		if err == nil {
			return nil
		}
		if stopSignalSent || stoppedBySignal(err) {
			logger.Debug("recording process stopped after timeout", zap.Error(err))
			return nil
		}
		return err
	case <-ctx.Done():
		_ = cmd.Process.Signal(os.Interrupt)
		<-done
		return ctx.Err()
	}
}

func stoppedBySignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled()
}

// Inspect loads a finished recording and reports whether it stays below
// thresholdDBFS, which usually means a muted or wrong input device.
func Inspect(ctx context.Context, path string, thresholdDBFS float64) (bool, audio.Level, error) {
	samples, err := audio.Load(ctx, path, audio.LoadOptions{SampleRate: audio.SampleRate})
	if err != nil {
		return false, audio.Level{}, fmt.Errorf("inspect recording: %w", err)
	}
	silent, level := audio.IsSilent(samples, thresholdDBFS)
	return silent, level, nil
}
