package audio

import (
	"bytes"
	"fmt"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func decodeWAV(raw []byte) ([]float32, int, error) {
	decoder := wav.NewDecoder(bytes.NewReader(raw))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: not a valid WAV file", ErrCorruptAudio)
	}

	divisor, err := pcmDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, 0, err
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		return nil, 0, fmt.Errorf("%w: WAV reports %d channels", ErrCorruptAudio, channels)
	}

	rate := int(decoder.SampleRate)
	if rate <= 0 {
		return nil, 0, fmt.Errorf("%w: WAV reports %d Hz sample rate", ErrCorruptAudio, rate)
	}

	buf := &gaudio.IntBuffer{
		Data:   make([]int, 8192),
		Format: &gaudio.Format{SampleRate: rate, NumChannels: channels},
	}

	var samples []float32
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: read WAV PCM: %v", ErrCorruptAudio, err)
		}
		if n == 0 {
			break
		}

		for _, sample := range buf.Data[:n] {
			samples = append(samples, float32(sample)/divisor)
		}
	}

	return downmix(samples, channels), rate, nil
}

func pcmDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 8:
		return 128.0, nil
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("%w: %d-bit PCM", ErrUnsupportedFormat, bitDepth)
	}
}
