// Package transcribe sequences one transcription request end to end:
// decode the upload, submit it to the scheduler, time the whole thing.
package transcribe

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/voxserve/voxserve/internal/audio"
	"github.com/voxserve/voxserve/internal/whisper"
)

// Decoder and Submitter are the two collaborators the orchestrator drives.
type Decoder interface {
	Decode(raw []byte, filename string) (*audio.Buffer, error)
}

type Submitter interface {
	Submit(ctx context.Context, buf *audio.Buffer, opts whisper.DecodeOptions) (string, error)
}

// Request mirrors the public API surface: raw upload plus the two
// quality/latency axes and an optional forced language.
type Request struct {
	Raw            []byte
	Filename       string
	Quick          bool
	AnyLang        bool
	ForcedLanguage string
}

type Result struct {
	Text           string  `json:"text"`
	ElapsedSeconds float64 `json:"elapsed_time"`
	QuickMode      bool    `json:"quick_mode"`
	AnyLang        bool    `json:"any_lang"`
}

type Orchestrator struct {
	decoder   Decoder
	submitter Submitter
	log       *zap.Logger
	now       func() time.Time
}

func NewOrchestrator(decoder Decoder, submitter Submitter, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		decoder:   decoder,
		submitter: submitter,
		log:       logger,
		now:       time.Now,
	}
}

// Transcribe holds no state across calls; elapsed time spans decode start
// through inference completion.
func (o *Orchestrator) Transcribe(ctx context.Context, req Request) (Result, error) {
	started := o.now()

	buf, err := o.decoder.Decode(req.Raw, req.Filename)
	if err != nil {
		o.log.Debug("decode failed", zap.String("filename", req.Filename), zap.Error(err))
		return Result{}, classify(err)
	}

	opts := whisper.DecodeOptions{
		Quick:    req.Quick,
		Language: whisper.ResolveLanguagePolicy(req.AnyLang, req.ForcedLanguage),
	}

	text, err := o.submitter.Submit(ctx, buf, opts)
	elapsed := o.now().Sub(started)
	if err != nil {
		o.log.Warn("transcription failed",
			zap.Duration("elapsed", elapsed),
			zap.String("format", buf.SourceFormat),
			zap.Duration("audio", buf.Duration),
			zap.Error(err))
		return Result{}, classify(err)
	}

	o.log.Info("transcription finished",
		zap.Duration("elapsed", elapsed),
		zap.String("format", buf.SourceFormat),
		zap.Duration("audio", buf.Duration),
		zap.Bool("quick", req.Quick),
		zap.String("language_mode", opts.Language.Mode().String()))

	return Result{
		Text:           text,
		ElapsedSeconds: roundSeconds(elapsed),
		QuickMode:      req.Quick,
		AnyLang:        req.AnyLang,
	}, nil
}

// roundSeconds matches the wire precision clients already rely on.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
