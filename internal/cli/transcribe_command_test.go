package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranscribeCommandPrintsTranscript(t *testing.T) {
	t.Parallel()

	audioPath := writeToneWAV(t, t.TempDir(), "clip.wav")
	engine := &fakeEngine{text: "hello there"}
	app := newTestApp(t, engine)

	stdout, stderr, err := runApp(t, app, []string{"transcribe", audioPath}, "")
	require.NoError(t, err)
	require.Equal(t, "hello there\n", stdout)
	require.Empty(t, stderr)
	require.Equal(t, 1, engine.decodeCalls())
	require.Equal(t, 80, engine.lastMels)
	require.True(t, engine.closed)
}

func TestTranscribeCommandPlain(t *testing.T) {
	t.Parallel()

	audioPath := writeToneWAV(t, t.TempDir(), "clip.wav")
	app := newTestApp(t, &fakeEngine{text: "Turn ON the lights."})

	stdout, _, err := runApp(t, app, []string{"transcribe", "--plain", audioPath}, "")
	require.NoError(t, err)
	require.Equal(t, "turn on the lights\n", stdout)
}

func TestTranscribeCommandPrintsBlankToken(t *testing.T) {
	t.Parallel()

	audioPath := writeSilentWAV(t, t.TempDir(), "silent.wav")
	engine := &fakeEngine{text: "ignored"}
	app := newTestApp(t, engine)

	stdout, _, err := runApp(t, app, []string{"transcribe", "--silence-gate", audioPath}, "")
	require.NoError(t, err)
	require.Equal(t, "[BLANK_AUDIO]\n", stdout)
	require.Zero(t, engine.decodeCalls())
}
