package record

import (
	"strconv"
	"time"

	"github.com/fmueller/voxpipe/internal/audio"
)

var (
	sampleRateArg = strconv.Itoa(audio.SampleRate)
	channelsArg   = "1"
)

func pipewireBackend() Backend {
	return Backend{
		Name:   "pw-record",
		Binary: "pw-record",
		Args: func(cfg Config) []string {
			args := []string{"--rate", sampleRateArg, "--channels", channelsArg, "--format", "s16"}
			if cfg.Input != "" {
				args = append(args, "--target", cfg.Input)
			}
			return append(args, cfg.OutputPath)
		},
	}
}

func alsaBackend() Backend {
	return Backend{
		Name:      "arecord",
		Binary:    "arecord",
		SelfTimed: true,
		Args: func(cfg Config) []string {
			args := []string{"-q", "-f", "S16_LE", "-r", sampleRateArg, "-c", channelsArg, "-d", wholeSeconds(cfg.Duration)}
			if cfg.Input != "" {
				args = append(args, "-D", cfg.Input)
			}
			return append(args, cfg.OutputPath)
		},
	}
}

func ffmpegBackend(format, defaultInput string) Backend {
	return Backend{
		Name:      "ffmpeg",
		Binary:    "ffmpeg",
		SelfTimed: true,
		Args: func(cfg Config) []string {
			input := cfg.Input
			if input == "" {
				input = defaultInput
			}
			return []string{
				"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
				"-f", format, "-i", input,
				"-t", wholeSeconds(cfg.Duration),
				"-ac", channelsArg, "-ar", sampleRateArg, "-c:a", "pcm_s16le",
				cfg.OutputPath,
			}
		},
	}
}

// wholeSeconds rounds up so a sub-second duration still records something.
func wholeSeconds(d time.Duration) string {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
