//go:build whispercpp

package whisper

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/fmueller/voxpipe/internal/audio"
	"github.com/fmueller/voxpipe/internal/features"
	"github.com/stretchr/testify/require"
)

const testModelEnv = "VOXPIPE_TEST_MODEL"

func openTestNativeEngine(t *testing.T) Engine {
	t.Helper()

	modelPath := strings.TrimSpace(os.Getenv(testModelEnv))
	if modelPath == "" {
		t.Skip("set VOXPIPE_TEST_MODEL to a ggml model file to run native engine tests")
	}

	engine, err := NewNativeEngine(Config{ModelPath: modelPath, Threads: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestNativeEngineDecodesSpectrogramWithoutWindow(t *testing.T) {
	engine := openTestNativeEngine(t)

	mel, err := features.LogMel(context.Background(), make([]float32, audio.WindowSamples), features.DefaultOptions())
	require.NoError(t, err)
	mel.Window = nil

	first, err := engine.Decode(context.Background(), mel, DecodingOptions{Language: "en"})
	require.NoError(t, err)
	second, err := engine.Decode(context.Background(), mel, DecodingOptions{Language: "en"})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.NotContains(t, first.Text, "\n")
}

func TestNativeEngineRejectsWrongShape(t *testing.T) {
	engine := openTestNativeEngine(t)

	mel := &features.Spectrogram{NMels: 80, NFrames: 10, Data: make([]float32, 800), Device: features.DeviceCPU}
	_, err := engine.Decode(context.Background(), mel, DecodingOptions{Language: "en"})
	require.ErrorIs(t, err, features.ErrShape)
}

func TestNativeEngineFailsAfterClose(t *testing.T) {
	engine := openTestNativeEngine(t)
	require.NoError(t, engine.Close())

	mel := testWindow(features.DeviceCPU)
	_, err := engine.Decode(context.Background(), mel, DecodingOptions{Language: "en"})
	require.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestNativeEngineMissingModel(t *testing.T) {
	_, err := NewNativeEngine(Config{ModelPath: "/no/such/model.bin"})
	require.ErrorIs(t, err, ErrEngineUnavailable)
}
