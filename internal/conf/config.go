// Package conf layers service configuration: built-in defaults, an
// optional voxserve.yaml, then VOXSERVE_* environment variables. Command
// line flags override on top in the cli package.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Settings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	Model struct {
		Name         string `mapstructure:"name"`
		Dir          string `mapstructure:"dir"`
		AutoDownload bool   `mapstructure:"autodownload"`
		Threads      uint   `mapstructure:"threads"`
	} `mapstructure:"model"`

	Transcribe struct {
		DefaultLanguage string        `mapstructure:"defaultlanguage"`
		Concurrency     int           `mapstructure:"concurrency"`
		QueueDepth      int           `mapstructure:"queuedepth"`
		Timeout         time.Duration `mapstructure:"timeout"`
	} `mapstructure:"transcribe"`

	Audio struct {
		MaxUploadMB          int     `mapstructure:"maxuploadmb"`
		SilenceThresholdDBFS float64 `mapstructure:"silencethresholddbfs"`
		FFmpegPath           string  `mapstructure:"ffmpegpath"`
	} `mapstructure:"audio"`

	Log struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)

	v.SetDefault("model.name", "")
	v.SetDefault("model.dir", "")
	v.SetDefault("model.autodownload", true)
	v.SetDefault("model.threads", 0)

	v.SetDefault("transcribe.defaultlanguage", "en")
	v.SetDefault("transcribe.concurrency", 1)
	v.SetDefault("transcribe.queuedepth", 32)
	v.SetDefault("transcribe.timeout", 5*time.Minute)

	v.SetDefault("audio.maxuploadmb", 100)
	v.SetDefault("audio.silencethresholddbfs", -65.0)
	v.SetDefault("audio.ffmpegpath", "ffmpeg")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads settings from configFile (optional, "" searches the working
// directory) merged with VOXSERVE_* environment variables.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("voxserve")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("voxserve")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/voxserve")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if s.Transcribe.Concurrency < 1 {
		return fmt.Errorf("transcribe concurrency must be at least 1, got %d", s.Transcribe.Concurrency)
	}
	if s.Transcribe.QueueDepth < 1 {
		return fmt.Errorf("transcribe queue depth must be at least 1, got %d", s.Transcribe.QueueDepth)
	}
	if s.Transcribe.Timeout < 0 {
		return fmt.Errorf("transcribe timeout must not be negative, got %s", s.Transcribe.Timeout)
	}
	if s.Audio.MaxUploadMB < 1 {
		return fmt.Errorf("max upload size must be at least 1 MB, got %d", s.Audio.MaxUploadMB)
	}
	return nil
}
