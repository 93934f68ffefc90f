package audio

import "math"

type SilenceMetrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int
}

// Silent reports whether the measured audio falls under the threshold.
// The peak gate sits 6 dB above the RMS threshold so a short transient
// keeps otherwise quiet audio out of the gate.
func (m SilenceMetrics) Silent(thresholdDBFS float64) bool {
	if m.Samples == 0 {
		return true
	}
	if math.IsInf(m.RMSdBFS, -1) && math.IsInf(m.PeakdBFS, -1) {
		return true
	}

	peakGate := thresholdDBFS + 6
	return m.RMSdBFS <= thresholdDBFS && m.PeakdBFS <= peakGate
}

// Measure computes RMS and peak levels in dBFS over decoded samples.
func Measure(samples []float32) SilenceMetrics {
	if len(samples) == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}
	}

	var peak float64
	var sumSquares float64
	for _, sample := range samples {
		value := float64(sample)
		abs := math.Abs(value)
		if abs > peak {
			peak = abs
		}
		sumSquares += value * value
	}

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return SilenceMetrics{
		RMSdBFS:  amplitudeToDBFS(rms),
		PeakdBFS: amplitudeToDBFS(peak),
		Samples:  len(samples),
	}
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(amplitude)
}
