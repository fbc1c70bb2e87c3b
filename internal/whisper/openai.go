package whisper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fmueller/voxpipe/internal/features"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const OpenAIKeyEnv = "OPENAI_API_KEY"

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIEngine uploads each window to the hosted transcription endpoint.
type OpenAIEngine struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

func NewOpenAIEngine(cfg Config) (Engine, error) {
	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		return nil, fmt.Errorf("%w: openai engine requires an API key (set %s)", ErrEngineUnavailable, OpenAIKeyEnv)
	}

	clientCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if base := strings.TrimSpace(cfg.OpenAI.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}

	model := strings.TrimSpace(cfg.OpenAI.Model)
	if model == "" {
		model = openai.Whisper1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIEngine{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}, nil
}

func (e *OpenAIEngine) Name() string {
	return "openai"
}

func (e *OpenAIEngine) Device() features.Device {
	return features.DeviceRemote
}

func (e *OpenAIEngine) Close() error {
	return nil
}

func (e *OpenAIEngine) Decode(ctx context.Context, mel *features.Spectrogram, opts DecodingOptions) (Result, error) {
	if err := checkFeatures(e, mel); err != nil {
		return Result{}, err
	}
	window, err := audioWindow(mel)
	if err != nil {
		return Result{}, err
	}

	wavPath := filepath.Join(os.TempDir(), "voxpipe-"+uuid.NewString()+".wav")
	defer os.Remove(wavPath)
	if err := writeWindow(wavPath, window); err != nil {
		return Result{}, err
	}

	req := openai.AudioRequest{
		Model:    e.model,
		FilePath: wavPath,
		Format:   openai.AudioResponseFormatJSON,
	}
	if opts.Language != "" && opts.Language != "auto" {
		req.Language = opts.Language
	}

	e.logger.Debug("uploading window", zap.String("model", e.model), zap.String("path", wavPath))
	resp, err := e.client.CreateTranscription(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("openai transcription: %w", err)
	}

	language := opts.Language
	if resp.Language != "" {
		language = resp.Language
	}
	return Result{Text: strings.TrimSpace(resp.Text), Language: language}, nil
}
