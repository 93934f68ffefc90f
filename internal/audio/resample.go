package audio

import "fmt"

// Resample converts mono samples between rates using cubic interpolation.
// Identical inputs always yield identical outputs; the decoder contract
// depends on that.
func Resample(samples []float32, originalRate, targetRate int) ([]float32, error) {
	if originalRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: %d -> %d", originalRate, targetRate)
	}
	if originalRate == targetRate {
		return samples, nil
	}
	if len(samples) < 4 {
		// Too short for cubic neighbors; nearest-sample fallback.
		return resampleNearest(samples, originalRate, targetRate), nil
	}

	ratio := float64(targetRate) / float64(originalRate)
	newLength := int(float64(len(samples)) * ratio)
	resampled := make([]float32, newLength)

	lastIndex := len(samples) - 3

	for i := 0; i < newLength; i++ {
		origPos := float64(i) / ratio
		index := int(origPos)

		if index < 1 {
			index = 1
		} else if index > lastIndex {
			index = lastIndex
		}

		frac := float32(origPos) - float32(index)

		y0, y1, y2, y3 := samples[index-1], samples[index], samples[index+1], samples[index+2]
		mu2 := frac * frac
		a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
		a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
		a2 := -0.5*y0 + 0.5*y2
		a3 := y1

		resampled[i] = a0*frac*mu2 + a1*mu2 + a2*frac + a3
	}

	return resampled, nil
}

func resampleNearest(samples []float32, originalRate, targetRate int) []float32 {
	ratio := float64(targetRate) / float64(originalRate)
	newLength := int(float64(len(samples)) * ratio)
	resampled := make([]float32, newLength)
	for i := range resampled {
		index := int(float64(i) / ratio)
		if index >= len(samples) {
			index = len(samples) - 1
		}
		resampled[i] = samples[index]
	}
	return resampled
}
