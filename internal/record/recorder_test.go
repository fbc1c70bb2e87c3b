package record

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRecorder writes a shell script standing in for a capture tool. The
// output path is passed as $1.
func fakeRecorder(t *testing.T, dir, name, body string) Backend {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script recorder stand-in requires a POSIX shell")
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return Backend{
		Name:   name,
		Binary: path,
		Args: func(cfg Config) []string {
			return []string{cfg.OutputPath}
		},
	}
}

func TestDefaultBackendsPerOS(t *testing.T) {
	t.Parallel()

	linux := DefaultBackends("linux")
	require.Len(t, linux, 3)
	require.Equal(t, "pw-record", linux[0].Name)
	require.Equal(t, "arecord", linux[1].Name)
	require.Equal(t, "ffmpeg", linux[2].Name)

	darwin := DefaultBackends("darwin")
	require.Len(t, darwin, 1)
	require.Equal(t, "ffmpeg", darwin[0].Name)

	require.Empty(t, DefaultBackends("plan9"))
	require.Equal(t, []string{"auto", "pw-record", "arecord", "ffmpeg"}, BackendNames("linux"))
}

func TestBackendArgs(t *testing.T) {
	t.Parallel()

	cfg := Config{OutputPath: "/tmp/out.wav", Duration: 5 * time.Second}

	require.Equal(t,
		[]string{"--rate", "16000", "--channels", "1", "--format", "s16", "/tmp/out.wav"},
		pipewireBackend().Args(cfg))
	require.Equal(t,
		[]string{"-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-d", "5", "/tmp/out.wav"},
		alsaBackend().Args(cfg))

	withInput := cfg
	withInput.Input = "hw:1,0"
	require.Equal(t,
		[]string{"-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-d", "5", "-D", "hw:1,0", "/tmp/out.wav"},
		alsaBackend().Args(withInput))

	ffmpegArgs := ffmpegBackend("avfoundation", ":0").Args(cfg)
	require.Contains(t, ffmpegArgs, ":0")
	require.Contains(t, ffmpegArgs, "avfoundation")
	require.Equal(t, "/tmp/out.wav", ffmpegArgs[len(ffmpegArgs)-1])
}

func TestWholeSecondsRoundsUp(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1", wholeSeconds(0))
	require.Equal(t, "1", wholeSeconds(300*time.Millisecond))
	require.Equal(t, "5", wholeSeconds(5*time.Second))
	require.Equal(t, "6", wholeSeconds(5*time.Second+time.Millisecond))
}

func TestOrderBackends(t *testing.T) {
	t.Parallel()

	backends := []Backend{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	ordered, err := orderBackends(backends, "auto")
	require.NoError(t, err)
	require.Equal(t, backends, ordered)

	ordered, err = orderBackends(backends, "c")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, names(ordered))

	_, err = orderBackends(backends, "zzz")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown backend")

	_, err = orderBackends(nil, "auto")
	require.Error(t, err)
}

func names(backends []Backend) []string {
	out := make([]string, 0, len(backends))
	for _, b := range backends {
		out = append(out, b.Name)
	}
	return out
}

func TestRecordFallsBackAfterFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "clip", "output.wav")

	broken := fakeRecorder(t, dir, "broken", `echo partial > "$1"; exit 3`)
	working := fakeRecorder(t, dir, "working", `echo ok > "$1"`)
	missing := Backend{Name: "missing", Binary: filepath.Join(dir, "nope"), Args: func(Config) []string { return nil }}

	name, err := recordWithFallback(context.Background(), []Backend{missing, broken, working}, "auto", Config{
		OutputPath: out,
		Duration:   time.Second,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	require.Equal(t, "working", name)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "ok\n", string(data))
}

func TestRecordReportsEveryFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "output.wav")
	broken := fakeRecorder(t, dir, "broken", `echo partial > "$1"; exit 3`)
	missing := Backend{Name: "missing", Binary: filepath.Join(dir, "nope"), Args: func(Config) []string { return nil }}

	_, err := recordWithFallback(context.Background(), []Backend{missing, broken}, "", Config{OutputPath: out, Duration: time.Second})
	require.ErrorIs(t, err, ErrNoBackendAvailable)
	require.Contains(t, err.Error(), "missing")
	require.Contains(t, err.Error(), "broken")

	_, statErr := os.Stat(out)
	require.True(t, os.IsNotExist(statErr), "partial recording should be removed")
}

func TestRecordKeepsPreviousClipWhenEveryBackendFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "output.wav")
	require.NoError(t, os.WriteFile(out, []byte("previous take"), 0o644))
	broken := fakeRecorder(t, dir, "broken", `echo partial > "$1"; exit 3`)

	_, err := recordWithFallback(context.Background(), []Backend{broken}, "auto", Config{OutputPath: out, Duration: time.Second})
	require.ErrorIs(t, err, ErrNoBackendAvailable)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "previous take", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.NotContains(t, entry.Name(), ".partial", "partial recording should be removed")
	}
}

func TestRecordReplacesPreviousClipOnSuccess(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "output.wav")
	require.NoError(t, os.WriteFile(out, []byte("previous take"), 0o644))
	working := fakeRecorder(t, dir, "working", `case "$1" in *.partial.wav) echo fresh > "$1";; *) exit 9;; esac`)

	name, err := recordWithFallback(context.Background(), []Backend{working}, "auto", Config{OutputPath: out, Duration: time.Second})
	require.NoError(t, err)
	require.Equal(t, "working", name)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "fresh\n", string(data))
}

func TestPartialPathKeepsDirectoryAndExtension(t *testing.T) {
	t.Parallel()

	got := partialPath(filepath.Join("clips", "output.wav"))
	require.Equal(t, "clips", filepath.Dir(got))
	require.Equal(t, ".wav", filepath.Ext(got))
	require.True(t, strings.HasPrefix(filepath.Base(got), ".output-"))
	require.NotEqual(t, got, partialPath(filepath.Join("clips", "output.wav")))
}

func TestRecordRequiresOutputPath(t *testing.T) {
	t.Parallel()

	_, err := recordWithFallback(context.Background(), []Backend{{Name: "a"}}, "auto", Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "output path is required")
}

func TestRunTimedCommandStopsLongRunningRecorder(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX signals")
	}

	cmd := exec.Command("sh", "-c", "trap 'exit 0' INT; while :; do sleep 0.05; done")
	started := time.Now()
	err := runTimedCommand(context.Background(), cmd, 200*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.Less(t, time.Since(started), 5*time.Second)
}

func TestRunTimedCommandHonoursCancellation(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX signals")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.Command("sh", "-c", "trap 'exit 0' INT; while :; do sleep 0.05; done")

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := runTimedCommand(ctx, cmd, time.Minute, zap.NewNop())
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunTimedCommandReturnsEarlyExitError(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	err := runTimedCommand(context.Background(), exec.Command("sh", "-c", "exit 4"), time.Minute, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), fmt.Sprint(4))
}
