// Package audio decodes drum stems into mono waveforms
package audio

// Waveform is a mono sample buffer at its native sample rate.
// The zero value is the empty sentinel returned when decoding fails.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// IsEmpty reports whether the waveform carries no usable audio
func (w Waveform) IsEmpty() bool {
	return len(w.Samples) == 0 || w.SampleRate <= 0
}

// Duration returns the length of the waveform in seconds
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Slice returns samples [start, end) with both bounds clamped to the buffer.
// The returned slice shares memory with the waveform.
func (w Waveform) Slice(start, end int) []float32 {
	if start < 0 {
		start = 0
	}
	if end > len(w.Samples) {
		end = len(w.Samples)
	}
	if start >= end {
		return nil
	}
	return w.Samples[start:end]
}
