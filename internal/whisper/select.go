package whisper

import (
	"fmt"
	"strings"

	"github.com/fmueller/voxpipe/internal/features"
	"go.uber.org/zap"
)

const (
	EngineAuto    = "auto"
	EngineNative  = "native"
	EngineBundled = "bundled"
	EngineOpenAI  = "openai"
)

func EngineNames() []string {
	return []string{EngineAuto, EngineNative, EngineBundled, EngineOpenAI}
}

type Config struct {
	Kind      string
	ModelPath string
	Device    features.Device
	Threads   int
	// ExtraArgs is appended to the whisper-cli command line.
	ExtraArgs string
	OpenAI    OpenAIConfig
	Logger    *zap.Logger
}

// Open creates the engine named by cfg.Kind. "auto" picks the in-process
// whisper.cpp engine when the binary was built with it and whisper-cli otherwise.
func Open(cfg Config) (Engine, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = EngineAuto
	}

	switch kind {
	case EngineAuto:
		if NativeAvailable {
			return NewNativeEngine(cfg)
		}
		return openBundled(cfg)
	case EngineNative:
		return NewNativeEngine(cfg)
	case EngineBundled:
		return openBundled(cfg)
	case EngineOpenAI:
		return NewOpenAIEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown engine %q (supported: %s)", cfg.Kind, strings.Join(EngineNames(), ", "))
	}
}

func openBundled(cfg Config) (Engine, error) {
	engine, err := NewBundledEngine(cfg)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// NeedsLocalModel reports whether the engine kind reads a ggml model file.
func NeedsLocalModel(kind string) bool {
	return !strings.EqualFold(strings.TrimSpace(kind), EngineOpenAI)
}

func deviceOrCPU(device features.Device) features.Device {
	if device == "" {
		return features.DeviceCPU
	}
	return device
}
