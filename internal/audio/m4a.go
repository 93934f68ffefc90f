package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// decodeM4A shells out to ffmpeg: there is no maintained pure-Go AAC
// decoder. ffmpeg reads a scratch file and emits raw mono float32 at the
// model rate on stdout; the scratch file is removed on every exit path.
func decodeM4A(raw []byte, ffmpegPath string) ([]float32, int, error) {
	if _, err := exec.LookPath(ffmpegPath); err != nil {
		return nil, 0, fmt.Errorf("%w: m4a decoding requires ffmpeg: %v", ErrUnsupportedFormat, err)
	}

	tmp, err := os.CreateTemp("", "voxserve-*.m4a")
	if err != nil {
		return nil, 0, fmt.Errorf("create scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return nil, 0, fmt.Errorf("write scratch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, 0, fmt.Errorf("close scratch file: %w", err)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", tmpPath,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(SampleRate),
		"-",
	}

	cmd := exec.Command(ffmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errText := strings.TrimSpace(stderr.String())
		return nil, 0, fmt.Errorf("%w: ffmpeg decode failed: %v (%s)", ErrCorruptAudio, err, errText)
	}

	pcm := stdout.Bytes()
	if len(pcm)%4 != 0 {
		return nil, 0, fmt.Errorf("%w: ffmpeg emitted %d bytes, not float32-aligned", ErrCorruptAudio, len(pcm))
	}

	samples := make([]float32, 0, len(pcm)/4)
	for i := 0; i+4 <= len(pcm); i += 4 {
		bits := binary.LittleEndian.Uint32(pcm[i:])
		value := math.Float32frombits(bits)
		if err := validSample(value); err != nil {
			return nil, 0, err
		}
		samples = append(samples, value)
	}

	return samples, SampleRate, nil
}

func validSample(value float32) error {
	if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
		return fmt.Errorf("%w: non-finite sample in decoded stream", ErrCorruptAudio)
	}
	return nil
}
