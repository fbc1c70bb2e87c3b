package cli

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fmueller/voxpipe/internal/audio"
	"github.com/fmueller/voxpipe/internal/features"
	"github.com/fmueller/voxpipe/internal/whisper"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runApp(t, newTestApp(t, &fakeEngine{text: "unused"}), args, "")
}

// runApp executes the root command built around app with stdin set to input.
func runApp(t *testing.T, app *appState, args []string, input string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// newTestApp isolates the app from the process environment and the user's
// config file and replaces model loading with engine.
func newTestApp(t *testing.T, engine whisper.Engine) *appState {
	t.Helper()

	app := newAppState()
	app.environFn = func() (map[string]string, error) {
		return map[string]string{}, nil
	}
	app.configPathFn = func(override string) (string, error) {
		return override, nil
	}
	app.openEngineFn = func(context.Context) (whisper.Engine, error) {
		return engine, nil
	}
	return app
}

type fakeEngine struct {
	mu       sync.Mutex
	text     string
	err      error
	calls    int
	options  []whisper.DecodingOptions
	closed   bool
	lastMels int
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Device() features.Device { return features.DeviceCPU }

func (f *fakeEngine) Decode(_ context.Context, mel *features.Spectrogram, opts whisper.DecodingOptions) (whisper.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.options = append(f.options, opts)
	f.lastMels = mel.NMels
	if f.err != nil {
		return whisper.Result{}, f.err
	}
	return whisper.Result{Text: f.text, Language: opts.Language}, nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) decodeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// writeToneWAV writes a one second 440 Hz tone at 16 kHz to dir/name.
func writeToneWAV(t *testing.T, dir, name string) string {
	t.Helper()

	samples := make([]float32, audio.SampleRate)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return writeWAV(t, filepath.Join(dir, name), samples)
}

func writeSilentWAV(t *testing.T, dir, name string) string {
	t.Helper()
	return writeWAV(t, filepath.Join(dir, name), make([]float32, audio.SampleRate))
}

func writeWAV(t *testing.T, path string, samples []float32) string {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, audio.WriteWAV(f, samples, audio.SampleRate))
	return path
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
