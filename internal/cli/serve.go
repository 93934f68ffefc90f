package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voxserve/voxserve/internal/audio"
	"github.com/voxserve/voxserve/internal/download"
	"github.com/voxserve/voxserve/internal/scheduler"
	"github.com/voxserve/voxserve/internal/server"
	"github.com/voxserve/voxserve/internal/transcribe"
	"github.com/voxserve/voxserve/internal/version"
	"github.com/voxserve/voxserve/internal/whisper"
)

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the transcription HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.serveFn(cmd.Context())
		},
	}
	bindServeFlags(cmd, app)
	return cmd
}

// engineRef lets the scheduler start accepting work before the model has
// finished loading. Until the pointer is published, execution fails with an
// internal fault; the server's readiness gate keeps such requests out in
// practice.
type engineRef struct {
	handle atomic.Pointer[whisper.Handle]
}

func (e *engineRef) Infer(ctx context.Context, buf *audio.Buffer, opts whisper.DecodeOptions) (string, error) {
	h := e.handle.Load()
	if h == nil {
		return "", fmt.Errorf("%w: model not loaded", whisper.ErrInternalFault)
	}
	return h.Infer(ctx, buf, opts)
}

func (a *appState) runServe(parent context.Context) error {
	log := a.log()
	settings := a.settings

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	modelDir, err := a.modelStorageDir()
	if err != nil {
		return err
	}

	resolved, err := whisper.ResolveModel(settings.Model.Name, modelDir)
	if err != nil {
		return err
	}
	if resolved.NeedsDownload {
		if !settings.Model.AutoDownload {
			return fmt.Errorf("model %s is not present at %s and auto-download is disabled; run 'voxserve setup' first", resolved.Name, resolved.Path)
		}
		log.Info("downloading model", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
		if err := download.DownloadFile(ctx, download.Options{
			URL:            resolved.URL,
			Destination:    resolved.Path,
			ExpectedSHA256: resolved.SHA256,
			NoProgress:     a.noProgress,
			Logger:         log,
		}); err != nil {
			return fmt.Errorf("download model %s: %w", resolved.Name, err)
		}
	}

	decoder := audio.NewDecoder(audio.Options{
		SilenceThresholdDBFS: settings.Audio.SilenceThresholdDBFS,
		FFmpegPath:           settings.Audio.FFmpegPath,
		Logger:               log,
	})

	engine := &engineRef{}
	sched := scheduler.New(engine, scheduler.Config{
		Concurrency: settings.Transcribe.Concurrency,
		QueueDepth:  settings.Transcribe.QueueDepth,
		ExecTimeout: settings.Transcribe.Timeout,
		Logger:      log,
	})
	defer sched.Close()

	orchestrator := transcribe.NewOrchestrator(decoder, sched, log)

	srv := server.New(orchestrator, server.Config{
		Host:        settings.Host,
		Port:        settings.Port,
		MaxUploadMB: settings.Audio.MaxUploadMB,
		Version:     version.ResolveInfo(),
		Logger:      log,
	})

	group, groupCtx := errgroup.WithContext(ctx)

	// The listener comes up immediately; /health reports initializing and
	// /transcribe returns 503 until the weights are resident.
	group.Go(func() error {
		handle, err := whisper.Load(whisper.Config{
			ModelPath:       resolved.Path,
			DefaultLanguage: settings.Transcribe.DefaultLanguage,
			Threads:         settings.Model.Threads,
			Logger:          log,
		})
		if err != nil {
			return fmt.Errorf("load model: %w", err)
		}
		engine.handle.Store(handle)
		srv.SetReady()
		log.Info("model ready", zap.String("path", resolved.Path))

		<-groupCtx.Done()
		return handle.Close()
	})

	group.Go(func() error {
		return srv.Start(groupCtx)
	})

	log.Info("voxserve starting",
		zap.String("host", settings.Host),
		zap.Int("port", settings.Port),
		zap.String("model", resolved.Path),
		zap.Int("concurrency", settings.Transcribe.Concurrency),
		zap.Int("queue_depth", settings.Transcribe.QueueDepth))

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
