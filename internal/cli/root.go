package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voxserve/voxserve/internal/conf"
	"github.com/voxserve/voxserve/internal/logging"
	"github.com/voxserve/voxserve/internal/platform"
	"github.com/voxserve/voxserve/internal/version"
)

type appState struct {
	configFile string
	verbose    bool
	jsonLogs   bool
	noProgress bool

	host         string
	port         int
	model        string
	modelDir     string
	language     string
	concurrency  int
	queueDepth   int
	timeout      time.Duration
	autoDownload bool

	settings *conf.Settings
	logger   *zap.Logger

	serveFn func(ctx context.Context) error
}

func NewRootCmd() *cobra.Command {
	app := &appState{}
	app.serveFn = app.runServe

	cmd := &cobra.Command{
		Use:           "voxserve",
		Short:         "Self-hosted speech-to-text HTTP service backed by a whisper model",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := conf.Load(app.configFile)
			if err != nil {
				return err
			}
			app.applyFlagOverrides(cmd, settings)
			app.settings = settings

			logger, err := logging.New(logging.Options{
				Level:   settings.Log.Level,
				Verbose: app.verbose,
				JSON:    app.jsonLogs || settings.Log.JSON,
			})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.logger = logger
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.serveFn(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindConfigFlags(cmd, app)
	bindLoggingFlags(cmd, app)
	bindServeFlags(cmd, app)

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindConfigFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().StringVar(&app.configFile, "config", "", "Path to voxserve.yaml (default: search working directory)")
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().BoolVar(&app.verbose, "verbose", false, "Enable verbose logs")
	cmd.PersistentFlags().BoolVar(&app.jsonLogs, "json", false, "Enable JSON logging")
	cmd.PersistentFlags().BoolVar(&app.noProgress, "no-progress", false, "Disable download progress indicators")
}

func bindModelFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.Flags()
	flags.StringVar(&app.model, "model", "", "Model name or model file path")
	flags.StringVar(&app.modelDir, "model-dir", "", "Directory where models are stored")
}

func bindServeFlags(cmd *cobra.Command, app *appState) {
	bindModelFlags(cmd, app)
	flags := cmd.Flags()
	flags.StringVar(&app.host, "host", "0.0.0.0", "Listen address")
	flags.IntVar(&app.port, "port", 8000, "Listen port")
	flags.StringVar(&app.language, "language", "en", "Default language when detection is disabled")
	flags.IntVar(&app.concurrency, "concurrency", 1, "Concurrent inference ceiling (raise only with a reentrant-safe setup)")
	flags.IntVar(&app.queueDepth, "queue-depth", 32, "Maximum queued requests before rejecting with overload")
	flags.DurationVar(&app.timeout, "timeout", 5*time.Minute, "Per-request inference timeout")
	flags.BoolVar(&app.autoDownload, "auto-download", true, "Automatically download missing models at startup")
}

// applyFlagOverrides lets explicit flags win over file and environment
// configuration.
func (a *appState) applyFlagOverrides(cmd *cobra.Command, settings *conf.Settings) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		settings.Host = a.host
	}
	if flags.Changed("port") {
		settings.Port = a.port
	}
	if flags.Changed("model") {
		settings.Model.Name = a.model
	}
	if flags.Changed("model-dir") {
		settings.Model.Dir = a.modelDir
	}
	if flags.Changed("language") {
		settings.Transcribe.DefaultLanguage = a.language
	}
	if flags.Changed("concurrency") {
		settings.Transcribe.Concurrency = a.concurrency
	}
	if flags.Changed("queue-depth") {
		settings.Transcribe.QueueDepth = a.queueDepth
	}
	if flags.Changed("timeout") {
		settings.Transcribe.Timeout = a.timeout
	}
	if flags.Changed("auto-download") {
		settings.Model.AutoDownload = a.autoDownload
	}
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.settings.Model.Dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}
