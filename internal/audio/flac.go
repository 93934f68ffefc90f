package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tphakala/flac"
)

// decodeFLAC decodes a FLAC stream frame by frame. Frames arrive as
// little-endian interleaved PCM bytes at the stream's bit depth.
func decodeFLAC(raw []byte) ([]float32, int, error) {
	decoder, err := flac.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: parse FLAC: %v", ErrCorruptAudio, err)
	}

	divisor, err := pcmDivisor(decoder.BitsPerSample)
	if err != nil {
		return nil, 0, err
	}

	channels := decoder.NChannels
	if channels < 1 {
		return nil, 0, fmt.Errorf("%w: FLAC reports %d channels", ErrCorruptAudio, channels)
	}

	bytesPerSample := decoder.BitsPerSample / 8

	var samples []float32
	for {
		frame, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: read FLAC frame: %v", ErrCorruptAudio, err)
		}

		for i := 0; i+bytesPerSample <= len(frame); i += bytesPerSample {
			var sample int32
			switch decoder.BitsPerSample {
			case 8:
				sample = int32(int8(frame[i]))
			case 16:
				sample = int32(int16(binary.LittleEndian.Uint16(frame[i:])))
			case 24:
				sample = int32(frame[i]) | int32(frame[i+1])<<8 | int32(frame[i+2])<<16
				if sample&0x800000 != 0 {
					sample |= ^int32(0xFFFFFF)
				}
			case 32:
				sample = int32(binary.LittleEndian.Uint32(frame[i:]))
			}
			samples = append(samples, float32(sample)/divisor)
		}
	}

	return downmix(samples, channels), decoder.SampleRate, nil
}
