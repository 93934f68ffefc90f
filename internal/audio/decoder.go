package audio

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SampleRate is the rate the model was trained on; every decode path
// converges on mono float32 at this rate.
const SampleRate = 16000

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrCorruptAudio      = errors.New("corrupt audio")
	ErrEmptyAudio        = errors.New("empty audio")
)

// Buffer is an immutable decoded waveform: mono float32 at SampleRate.
// Source metadata is kept for diagnostics only.
type Buffer struct {
	Samples      []float32
	SampleRate   int
	SourceFormat string
	Duration     time.Duration
}

type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatM4A  Format = "m4a"
)

type Options struct {
	// SilenceThresholdDBFS gates audio that parses but carries no signal.
	// Zero means the default gate; NaN is not supported, use a very low
	// value (e.g. -120) to effectively disable it.
	SilenceThresholdDBFS float64
	// FFmpegPath overrides the ffmpeg binary used for the M4A path.
	FFmpegPath string
	Logger     *zap.Logger
}

const defaultSilenceThresholdDBFS = -65

type Decoder struct {
	silenceDBFS float64
	ffmpegPath  string
	log         *zap.Logger
}

func NewDecoder(opts Options) *Decoder {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SilenceThresholdDBFS == 0 {
		opts.SilenceThresholdDBFS = defaultSilenceThresholdDBFS
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	return &Decoder{
		silenceDBFS: opts.SilenceThresholdDBFS,
		ffmpegPath:  opts.FFmpegPath,
		log:         opts.Logger,
	}
}

// Decode converts an uploaded byte stream into a model-ready Buffer.
// The container is sniffed from content first; the declared filename only
// breaks ties when the payload has no recognizable magic bytes.
func (d *Decoder) Decode(raw []byte, filename string) (*Buffer, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: zero-byte upload", ErrEmptyAudio)
	}

	format, ok := DetectFormat(raw, filename)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, describeInput(raw, filename))
	}

	var (
		samples []float32
		rate    int
		err     error
	)
	switch format {
	case FormatWAV:
		samples, rate, err = decodeWAV(raw)
	case FormatMP3:
		samples, rate, err = decodeMP3(raw)
	case FormatFLAC:
		samples, rate, err = decodeFLAC(raw)
	case FormatM4A:
		samples, rate, err = decodeM4A(raw, d.ffmpegPath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: decoded zero samples from %s", ErrEmptyAudio, format)
	}

	samples, err = Resample(samples, rate, SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: resample from %d Hz: %v", ErrCorruptAudio, rate, err)
	}

	metrics := Measure(samples)
	if metrics.Silent(d.silenceDBFS) {
		d.log.Debug("decoded audio below silence gate",
			zap.Float64("rms_dbfs", metrics.RMSdBFS),
			zap.Float64("peak_dbfs", metrics.PeakdBFS),
			zap.Float64("threshold_dbfs", d.silenceDBFS))
		return nil, fmt.Errorf("%w: audio below %.0f dBFS silence gate", ErrEmptyAudio, d.silenceDBFS)
	}

	return &Buffer{
		Samples:      samples,
		SampleRate:   SampleRate,
		SourceFormat: string(format),
		Duration:     time.Duration(len(samples)) * time.Second / SampleRate,
	}, nil
}

// DetectFormat sniffs magic bytes, falling back to the declared extension.
func DetectFormat(raw []byte, filename string) (Format, bool) {
	switch {
	case len(raw) >= 12 && bytes.Equal(raw[:4], []byte("RIFF")) && bytes.Equal(raw[8:12], []byte("WAVE")):
		return FormatWAV, true
	case len(raw) >= 4 && bytes.Equal(raw[:4], []byte("fLaC")):
		return FormatFLAC, true
	case len(raw) >= 12 && bytes.Equal(raw[4:8], []byte("ftyp")):
		return FormatM4A, true
	case len(raw) >= 3 && bytes.Equal(raw[:3], []byte("ID3")):
		return FormatMP3, true
	case len(raw) >= 2 && raw[0] == 0xFF && raw[1]&0xE0 == 0xE0:
		return FormatMP3, true
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		return FormatWAV, true
	case ".mp3":
		return FormatMP3, true
	case ".flac":
		return FormatFLAC, true
	case ".m4a", ".mp4":
		return FormatM4A, true
	}

	return "", false
}

func describeInput(raw []byte, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = "(no extension)"
	}
	return fmt.Sprintf("%s, %d bytes", ext, len(raw))
}

// downmix averages interleaved channels into mono. A single-channel input
// is returned as-is.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
