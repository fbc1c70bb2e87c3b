//go:build whispercpp

package whisper

/*
#include <stddef.h>
#include <whisper.h>

static void voxpipe_discard_log(enum ggml_log_level level, const char *text, void *user_data) {
	(void)level;
	(void)text;
	(void)user_data;
}

static void voxpipe_quiet_whisper(void) {
	whisper_log_set(voxpipe_discard_log, NULL);
}

// whisper_full skips its own PCM to mel conversion when given no samples
// and decodes the spectrogram already stored by whisper_set_mel.
static int voxpipe_full_from_mel(struct whisper_context *ctx, struct whisper_full_params params) {
	return whisper_full(ctx, params, NULL, 0);
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/fmueller/voxpipe/internal/features"
	cpp "github.com/ggerganov/whisper.cpp/bindings/go"
	"go.uber.org/zap"
)

const NativeAvailable = true

var quietOnce sync.Once

// NativeEngine decodes in-process through the whisper.cpp bindings. It
// hands the log-mel spectrogram computed by the features package straight
// to the encoder, so whisper.cpp never sees the waveform. The model stays
// loaded until Close.
type NativeEngine struct {
	mu      sync.Mutex
	ctx     *cpp.Context
	threads int
	device  features.Device
	logger  *zap.Logger
}

func NewNativeEngine(cfg Config) (Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// whisper.cpp logs model loading and system info to stderr, which
	// would break the two-line stderr output.
	quietOnce.Do(func() { C.voxpipe_quiet_whisper() })

	wctx := cpp.Whisper_init(cfg.ModelPath)
	if wctx == nil {
		return nil, fmt.Errorf("load whisper model %q: %w", cfg.ModelPath, ErrEngineUnavailable)
	}

	return &NativeEngine{
		ctx:     wctx,
		threads: cfg.Threads,
		device:  deviceOrCPU(cfg.Device),
		logger:  logger,
	}, nil
}

func (e *NativeEngine) Name() string {
	return "native"
}

func (e *NativeEngine) Device() features.Device {
	return e.device
}

func (e *NativeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx != nil {
		e.ctx.Whisper_free()
		e.ctx = nil
	}
	return nil
}

func (e *NativeEngine) Decode(ctx context.Context, mel *features.Spectrogram, opts DecodingOptions) (Result, error) {
	if err := checkFeatures(e, mel); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return Result{}, fmt.Errorf("%w: native engine is closed", ErrEngineUnavailable)
	}

	if err := e.ctx.Whisper_set_mel(mel.Data, mel.NMels); err != nil {
		return Result{}, fmt.Errorf("set mel spectrogram: %w", err)
	}

	params, err := e.params(opts)
	if err != nil {
		return Result{}, err
	}

	e.logger.Debug("decoding spectrogram", zap.Int("mels", mel.NMels), zap.Int("frames", mel.NFrames), zap.String("language", opts.Language))
	cctx := (*C.struct_whisper_context)(unsafe.Pointer(e.ctx))
	cparams := *(*C.struct_whisper_full_params)(unsafe.Pointer(&params))
	if C.voxpipe_full_from_mel(cctx, cparams) != 0 {
		return Result{}, errors.New("whisper decode failed")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	n := e.ctx.Whisper_full_n_segments()
	segments := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if text := strings.TrimSpace(e.ctx.Whisper_full_get_segment_text(i)); text != "" {
			segments = append(segments, text)
		}
	}

	language := opts.Language
	if language == "auto" {
		if id := e.ctx.Whisper_full_lang_id(); id >= 0 {
			language = cpp.Whisper_lang_str(id)
		}
	}
	return Result{Text: strings.Join(segments, " "), Language: language}, nil
}

func (e *NativeEngine) params(opts DecodingOptions) (cpp.Params, error) {
	params := e.ctx.Whisper_full_default_params(cpp.SAMPLING_GREEDY)
	params.SetTranslate(false)
	params.SetPrintProgress(false)
	params.SetPrintRealtime(false)
	params.SetPrintTimestamps(false)
	params.SetPrintSpecial(false)
	if e.threads > 0 {
		params.SetThreads(e.threads)
	}

	multilingual := e.ctx.Whisper_is_multilingual() != 0
	switch {
	case opts.Language == "" || opts.Language == "auto":
		if multilingual {
			_ = params.SetLanguage(-1)
		}
	case !multilingual && opts.Language != "en":
		return params, fmt.Errorf("%w: got language %q", ErrModelNotMultilingual, opts.Language)
	case multilingual:
		id := e.ctx.Whisper_lang_id(opts.Language)
		if id < 0 {
			return params, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, opts.Language)
		}
		if err := params.SetLanguage(id); err != nil {
			return params, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, opts.Language)
		}
	}
	return params, nil
}
