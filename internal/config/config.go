// Package config merges voxpipe settings from built-in defaults, an optional
// YAML file and VOXPIPE_* environment variables. Command-line flags are
// applied on top by the cli package.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v9"
	"github.com/fmueller/voxpipe/internal/logging"
	"github.com/fmueller/voxpipe/internal/whisper"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "VOXPIPE_"

// DefaultAudioPath is the fixed file transcribed for every input line.
const DefaultAudioPath = "output.wav"

// DotEnvFile is read from the working directory when present.
const DotEnvFile = ".env"

// Config holds all application configuration.
type Config struct {
	Model        string        `yaml:"model" env:"MODEL"`
	ModelDir     string        `yaml:"model_dir" env:"MODEL_DIR"`
	Audio        string        `yaml:"audio" env:"AUDIO"`
	Language     string        `yaml:"language" env:"LANGUAGE"`
	Engine       string        `yaml:"engine" env:"ENGINE"`
	EngineArgs   string        `yaml:"engine_args" env:"ENGINE_ARGS"`
	Device       string        `yaml:"device" env:"DEVICE"`
	Threads      int           `yaml:"threads" env:"THREADS"`
	AutoDownload bool          `yaml:"auto_download" env:"AUTO_DOWNLOAD"`
	Silence      SilenceConfig `yaml:"silence" envPrefix:"SILENCE_"`
	LogLevel     string        `yaml:"log_level" env:"LOG_LEVEL"`
	OpenAI       OpenAIConfig  `yaml:"openai" envPrefix:"OPENAI_"`
}

// SilenceConfig controls skipping decode for near-silent windows.
type SilenceConfig struct {
	Gate          bool    `yaml:"gate" env:"GATE"`
	ThresholdDBFS float64 `yaml:"threshold_dbfs" env:"THRESHOLD_DBFS"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	Model   string `yaml:"model" env:"MODEL"`
}

// Default returns a Config with the values voxpipe uses when nothing is
// configured.
func Default() *Config {
	return &Config{
		Model:        whisper.DefaultModel,
		Audio:        DefaultAudioPath,
		Language:     "en",
		Engine:       whisper.EngineAuto,
		Device:       "cpu",
		AutoDownload: true,
		Silence: SilenceConfig{
			ThresholdDBFS: -65,
		},
		LogLevel: logging.DefaultLevel,
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults. A leading ~ in path-valued fields is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.expandPaths()
	return cfg, nil
}

// LoadOptional is Load for the default location: a missing file yields the
// defaults. When explicit is set the file must exist.
func LoadOptional(path string, explicit bool) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}

	cfg, err := Load(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays VOXPIPE_* variables from environ. The conventional
// OPENAI_API_KEY is honoured when no prefixed key is set.
func (c *Config) ApplyEnv(environ map[string]string) error {
	if err := env.ParseWithOptions(c, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}

	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = environ[whisper.OpenAIKeyEnv]
	}

	c.expandPaths()
	return nil
}

// Environ returns the process environment with variables from the dotenv
// file added. Variables already set in the process win.
func Environ(dotenvPath string) (map[string]string, error) {
	environ := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok {
			environ[key] = value
		}
	}

	if strings.TrimSpace(dotenvPath) == "" {
		return environ, nil
	}

	values, err := godotenv.Read(dotenvPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return environ, nil
		}
		return nil, fmt.Errorf("reading %s: %w", dotenvPath, err)
	}

	for key, value := range values {
		if _, set := environ[key]; !set {
			environ[key] = value
		}
	}
	return environ, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Audio) == "" {
		return fmt.Errorf("audio must not be empty")
	}

	if err := c.validateEngine(); err != nil {
		return err
	}

	if _, err := whisper.NormalizeLanguage(c.Language); err != nil {
		return fmt.Errorf("language: %w", err)
	}

	switch c.Device {
	case "cpu", "gpu":
	default:
		return fmt.Errorf("device must be \"cpu\" or \"gpu\", got %q", c.Device)
	}

	if c.Threads < 0 {
		return fmt.Errorf("threads must be >= 0, got %d", c.Threads)
	}

	if c.Silence.ThresholdDBFS > 0 {
		return fmt.Errorf("silence.threshold_dbfs must be <= 0, got %g", c.Silence.ThresholdDBFS)
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

func (c *Config) validateEngine() error {
	engine := strings.ToLower(strings.TrimSpace(c.Engine))
	for _, name := range whisper.EngineNames() {
		if engine == name {
			if engine == whisper.EngineOpenAI && strings.TrimSpace(c.OpenAI.APIKey) == "" {
				return fmt.Errorf("engine openai requires openai.api_key or %s", whisper.OpenAIKeyEnv)
			}
			return nil
		}
	}
	return fmt.Errorf("engine must be one of %s, got %q", strings.Join(whisper.EngineNames(), ", "), c.Engine)
}

func (c *Config) expandPaths() {
	c.Model = expandTilde(c.Model)
	c.ModelDir = expandTilde(c.ModelDir)
	c.Audio = expandTilde(c.Audio)
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
