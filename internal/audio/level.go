package audio

import "math"

type Level struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int64
}

// IsSilent reports whether the buffer stays below thresholdDBFS. The peak may
// exceed the threshold by 6 dB to tolerate clicks.
func IsSilent(samples []float32, thresholdDBFS float64) (bool, Level) {
	level := Measure(samples)

	if level.Samples == 0 {
		return true, level
	}

	if math.IsInf(level.RMSdBFS, -1) && math.IsInf(level.PeakdBFS, -1) {
		return true, level
	}

	peakGate := thresholdDBFS + 6
	return level.RMSdBFS <= thresholdDBFS && level.PeakdBFS <= peakGate, level
}

func Measure(samples []float32) Level {
	if len(samples) == 0 {
		return Level{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}
	}

	var peak, sumSquares float64
	for _, s := range samples {
		v := float64(s)
		if abs := math.Abs(v); abs > peak {
			peak = abs
		}
		sumSquares += v * v
	}

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return Level{
		RMSdBFS:  amplitudeToDBFS(rms),
		PeakdBFS: amplitudeToDBFS(peak),
		Samples:  int64(len(samples)),
	}
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(amplitude)
}
