package whisper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fmueller/voxpipe/internal/features"
)

var (
	ErrEngineUnavailable    = errors.New("whisper engine unavailable")
	ErrDeviceMismatch       = errors.New("features are bound to a different device than the engine")
	ErrUnsupportedLanguage  = errors.New("unsupported language")
	ErrModelNotMultilingual = errors.New("model is not multilingual")
)

// DecodingOptions is fixed for the lifetime of a run.
type DecodingOptions struct {
	// Language is an ISO 639-1 code or "auto".
	Language string
}

type Result struct {
	Text     string
	Language string
}

// Engine decodes one 30 s log-mel window into text. Implementations are
// created once and reused for every decode call.
type Engine interface {
	Name() string
	Device() features.Device
	Decode(ctx context.Context, mel *features.Spectrogram, opts DecodingOptions) (Result, error)
	Close() error
}

func checkFeatures(e Engine, mel *features.Spectrogram) error {
	if err := mel.Validate(features.NMels, features.NFrames); err != nil {
		return err
	}
	if mel.Device != e.Device() {
		return fmt.Errorf("%w: features on %s, %s engine on %s", ErrDeviceMismatch, mel.Device, e.Name(), e.Device())
	}
	return nil
}

// audioWindow returns the samples mel was derived from. Engines that hand
// audio to another process or service need it because those only accept
// waveforms, not precomputed features.
func audioWindow(mel *features.Spectrogram) ([]float32, error) {
	if len(mel.Window) == 0 {
		return nil, fmt.Errorf("%w: spectrogram carries no audio window", features.ErrShape)
	}
	return mel.Window, nil
}

var languageNames = map[string]string{
	"english":    "en",
	"german":     "de",
	"spanish":    "es",
	"french":     "fr",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"russian":    "ru",
	"polish":     "pl",
	"ukrainian":  "uk",
	"turkish":    "tr",
	"swedish":    "sv",
	"norwegian":  "no",
	"danish":     "da",
	"finnish":    "fi",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"arabic":     "ar",
	"hindi":      "hi",
}

// NormalizeLanguage maps a language name or code to the code the engines
// expect. An empty value means auto-detection.
func NormalizeLanguage(input string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(input))
	if value == "" || value == "auto" {
		return "auto", nil
	}

	if code, ok := languageNames[value]; ok {
		return code, nil
	}

	if len(value) == 2 || value == "haw" || value == "yue" {
		for _, r := range value {
			if r < 'a' || r > 'z' {
				return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, input)
			}
		}
		return value, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, input)
}
