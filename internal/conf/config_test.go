package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(writeConfig(t, "{}"), "voxserve.yaml"))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", settings.Host)
	require.Equal(t, 8000, settings.Port)
	require.True(t, settings.Model.AutoDownload)
	require.Equal(t, "en", settings.Transcribe.DefaultLanguage)
	require.Equal(t, 1, settings.Transcribe.Concurrency)
	require.Equal(t, 32, settings.Transcribe.QueueDepth)
	require.Equal(t, 5*time.Minute, settings.Transcribe.Timeout)
	require.Equal(t, -65.0, settings.Audio.SilenceThresholdDBFS)
}

func TestLoadFromFile(t *testing.T) {
	dir := writeConfig(t, `
host: 127.0.0.1
port: 9090
model:
  name: small
transcribe:
  concurrency: 2
  queuedepth: 8
  timeout: 90s
`)

	settings, err := Load(filepath.Join(dir, "voxserve.yaml"))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", settings.Host)
	require.Equal(t, 9090, settings.Port)
	require.Equal(t, "small", settings.Model.Name)
	require.Equal(t, 2, settings.Transcribe.Concurrency)
	require.Equal(t, 8, settings.Transcribe.QueueDepth)
	require.Equal(t, 90*time.Second, settings.Transcribe.Timeout)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VOXSERVE_PORT", "7070")
	t.Setenv("VOXSERVE_TRANSCRIBE_DEFAULTLANGUAGE", "no")

	settings, err := Load(filepath.Join(writeConfig(t, "{}"), "voxserve.yaml"))
	require.NoError(t, err)
	require.Equal(t, 7070, settings.Port)
	require.Equal(t, "no", settings.Transcribe.DefaultLanguage)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"port too low", func(s *Settings) { s.Port = 0 }},
		{"port too high", func(s *Settings) { s.Port = 70000 }},
		{"zero concurrency", func(s *Settings) { s.Transcribe.Concurrency = 0 }},
		{"zero queue depth", func(s *Settings) { s.Transcribe.QueueDepth = 0 }},
		{"negative timeout", func(s *Settings) { s.Transcribe.Timeout = -time.Second }},
		{"zero upload cap", func(s *Settings) { s.Audio.MaxUploadMB = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			settings := validSettings()
			tt.mutate(settings)
			require.Error(t, settings.Validate())
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func validSettings() *Settings {
	s := &Settings{}
	s.Host = "0.0.0.0"
	s.Port = 8000
	s.Transcribe.Concurrency = 1
	s.Transcribe.QueueDepth = 32
	s.Audio.MaxUploadMB = 100
	return s
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "voxserve.yaml"), []byte(contents), 0o644))
	return dir
}
