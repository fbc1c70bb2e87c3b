package cli

import (
	"io"
	"testing"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/stretchr/testify/require"
)

func TestStartSpinner(t *testing.T) {
	t.Parallel()

	for _, enabled := range []bool{true, false} {
		stop := startSpinner(enabled, "Transcribing")
		require.NotNil(t, stop)
		stop()
		stop()
	}
}

func TestStartDurationProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		enabled  bool
		duration time.Duration
	}{
		{name: "enabled", enabled: true, duration: 5 * time.Second},
		{name: "disabled", enabled: false, duration: 5 * time.Second},
		{name: "zero duration", enabled: true, duration: 0},
		{name: "sub-second duration", enabled: true, duration: 500 * time.Millisecond},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			stop := startDurationProgress(tt.enabled, "Recording", tt.duration)
			require.NotNil(t, stop)
			stop()
		})
	}
}

func TestTickAdvancesUntilStopped(t *testing.T) {
	t.Parallel()

	bar := progressbar.NewOptions(-1, progressbar.OptionSetWriter(io.Discard))
	stop := tick(bar, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return bar.State().CurrentNum > 0
	}, time.Second, 5*time.Millisecond)
	stop()
}
