package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// decodeMP3 decodes an MP3 stream. go-mp3 always emits 16-bit little-endian
// stereo at the file's sample rate.
func decodeMP3(raw []byte) ([]float32, int, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: parse MP3: %v", ErrCorruptAudio, err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read MP3 frames: %v", ErrCorruptAudio, err)
	}

	const bytesPerFrame = 4 // 2 channels x int16
	frames := len(pcm) / bytesPerFrame
	samples := make([]float32, 0, frames)
	for i := 0; i+bytesPerFrame <= len(pcm); i += bytesPerFrame {
		left := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		right := int16(uint16(pcm[i+2]) | uint16(pcm[i+3])<<8)
		samples = append(samples, (float32(left)+float32(right))/2/32768.0)
	}

	return samples, decoder.SampleRate(), nil
}
