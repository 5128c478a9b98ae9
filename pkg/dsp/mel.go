package dsp

import "math"

// Slaney mel scale constants: linear below 1 kHz, logarithmic above
const (
	melFSp       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27.0

// HzToMel converts a frequency to the Slaney mel scale
func HzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSp
}

// MelToHz converts a Slaney mel value back to Hz
func MelToHz(mel float64) float64 {
	if mel >= melMinLogMel {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
	}
	return mel * melFSp
}

// MelFilterbank holds slaney-normalized triangular filters over FFT bins.
// Each band stores only its non-zero span.
type MelFilterbank struct {
	bands []melBand
	bins  int
}

type melBand struct {
	first   int
	weights []float64
}

// NewMelFilterbank builds nMels triangular filters between fmin and fmax.
// fmax is capped at the Nyquist frequency.
func NewMelFilterbank(sampleRate, nfft, nMels int, fmin, fmax float64) *MelFilterbank {
	nyquist := float64(sampleRate) / 2
	if fmax <= 0 || fmax > nyquist {
		fmax = nyquist
	}
	bins := nfft/2 + 1

	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / float64(nfft)
	}

	minMel, maxMel := HzToMel(fmin), HzToMel(fmax)
	melF := make([]float64, nMels+2)
	for i := range melF {
		melF[i] = MelToHz(minMel + (maxMel-minMel)*float64(i)/float64(nMels+1))
	}

	fb := &MelFilterbank{bands: make([]melBand, nMels), bins: bins}
	for m := range nMels {
		lowerW := melF[m+1] - melF[m]
		upperW := melF[m+2] - melF[m+1]
		enorm := 2.0 / (melF[m+2] - melF[m])

		first, last := -1, -1
		weights := make([]float64, bins)
		for k, f := range fftFreqs {
			lower := (f - melF[m]) / lowerW
			upper := (melF[m+2] - f) / upperW
			w := math.Max(0, math.Min(lower, upper)) * enorm
			if w > 0 {
				if first < 0 {
					first = k
				}
				last = k
			}
			weights[k] = w
		}
		if first < 0 {
			fb.bands[m] = melBand{}
			continue
		}
		fb.bands[m] = melBand{first: first, weights: weights[first : last+1]}
	}
	return fb
}

// Bands returns the number of mel bands
func (fb *MelFilterbank) Bands() int {
	return len(fb.bands)
}

// Apply projects a [frame][bin] power spectrogram onto the mel bands,
// returning [band][frame].
func (fb *MelFilterbank) Apply(power [][]float64) [][]float64 {
	out := make([][]float64, len(fb.bands))
	for m, band := range fb.bands {
		row := make([]float64, len(power))
		for t, frame := range power {
			var sum float64
			for i, w := range band.weights {
				k := band.first + i
				if k >= len(frame) {
					break
				}
				sum += w * frame[k]
			}
			row[t] = sum
		}
		out[m] = row
	}
	return out
}
