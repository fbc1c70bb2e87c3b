package cli

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

type stopFunc func()

// progressOutput is where indicators draw. Indicators only run when stderr
// is a terminal, so they never mix with the transcript lines on stderr.
var progressOutput io.Writer = os.Stderr

func noopStop() {}

// startSpinner animates an indeterminate spinner until the returned stop
// function is called.
func startSpinner(enabled bool, description string) stopFunc {
	if !enabled {
		return noopStop
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(progressOutput),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(80*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return tick(bar, 120*time.Millisecond)
}

// startDurationProgress counts whole seconds up to duration, for timed
// recordings.
func startDurationProgress(enabled bool, description string, duration time.Duration) stopFunc {
	if !enabled || duration <= 0 {
		return noopStop
	}

	seconds := int64(duration / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	bar := progressbar.NewOptions64(seconds,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(progressOutput),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(20),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return tick(bar, time.Second)
}

// tick advances bar every interval on a goroutine. The returned function
// finishes the bar and waits for the goroutine; it is safe to call twice.
func tick(bar *progressbar.ProgressBar, interval time.Duration) stopFunc {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
		})
	}
}
