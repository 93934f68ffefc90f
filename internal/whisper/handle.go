package whisper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	whispercpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"go.uber.org/zap"

	"github.com/voxserve/voxserve/internal/audio"
)

var (
	// ErrLoad is startup-fatal: the service cannot run without its model.
	ErrLoad = errors.New("model load failed")

	ErrOutOfMemory   = errors.New("inference out of memory")
	ErrInternalFault = errors.New("inference internal fault")
)

type Config struct {
	ModelPath       string
	DefaultLanguage string
	// Threads caps whisper's internal thread pool; 0 lets the engine pick.
	Threads uint
	Logger  *zap.Logger
}

// Handle owns the resident model. The weights are the only state shared
// across calls: every Infer gets a fresh decoding context, so interleaved
// calls cannot corrupt each other. The underlying engine is still not
// proven reentrant, which is why the scheduler serializes execution.
type Handle struct {
	model           whispercpp.Model
	defaultLanguage string
	threads         uint
	log             *zap.Logger
}

// Load reads model weights into memory. Expensive (seconds); call once at
// startup and share the handle for the process lifetime.
func Load(cfg Config) (*Handle, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, fmt.Errorf("%w: model path is required", ErrLoad)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	model, err := whispercpp.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	cfg.Logger.Info("model loaded",
		zap.String("path", cfg.ModelPath),
		zap.Bool("multilingual", model.IsMultilingual()))

	return &Handle{
		model:           model,
		defaultLanguage: cfg.DefaultLanguage,
		threads:         cfg.Threads,
		log:             cfg.Logger,
	}, nil
}

func (h *Handle) Close() error {
	return h.model.Close()
}

// Infer runs one transcription over a decoded buffer. The call is
// synchronous and cannot be interrupted once the engine starts; the caller
// is expected to have been admitted by the scheduler.
func (h *Handle) Infer(ctx context.Context, buf *audio.Buffer, opts DecodeOptions) (string, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return "", fmt.Errorf("%w: no samples to transcribe", ErrInternalFault)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := h.model.NewContext()
	if err != nil {
		return "", classifyFault(fmt.Errorf("create decoding context: %w", err))
	}

	if h.threads > 0 {
		wctx.SetThreads(h.threads)
	}
	wctx.SetTranslate(false)
	wctx.SetBeamSize(opts.beamSize())

	lang := opts.Language.Tag(h.defaultLanguage)
	if h.model.IsMultilingual() {
		if err := wctx.SetLanguage(lang); err != nil {
			return "", classifyFault(fmt.Errorf("set language %q: %w", lang, err))
		}
	} else if lang != "en" && lang != "auto" {
		return "", fmt.Errorf("%w: model is english-only, cannot transcribe %q", ErrInternalFault, lang)
	}

	h.log.Debug("running inference",
		zap.Duration("audio", buf.Duration),
		zap.String("language", lang),
		zap.Bool("quick", opts.Quick),
		zap.Int("beam_size", opts.beamSize()))

	var sb strings.Builder
	err = wctx.Process(buf.Samples, nil, func(segment whispercpp.Segment) {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}, nil)
	if err != nil {
		return "", classifyFault(fmt.Errorf("process audio: %w", err))
	}

	return sb.String(), nil
}

// classifyFault maps raw engine failures onto the stable error kinds.
// Allocation failures are recognized by message since the engine reports
// them as plain errors.
func classifyFault(err error) error {
	message := strings.ToLower(err.Error())
	for _, pattern := range []string{"out of memory", "failed to allocate", "alloc failed", "cannot allocate"} {
		if strings.Contains(message, pattern) {
			return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrInternalFault, err)
}
