// Package onset finds the attack times of percussive hits in a waveform
package onset

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/james-see/drumstem2midi/pkg/audio"
	"github.com/james-see/drumstem2midi/pkg/dsp"
)

// Config controls the onset-strength envelope and the peak picker
type Config struct {
	HopLength int     // samples between envelope frames
	NFFT      int     // STFT size
	NMels     int     // mel bands in the envelope spectrogram
	FMax      float64 // upper frequency of the mel bands, Hz
	Delta     float64 // peak threshold above the local mean, on the [0,1] envelope
	Wait      int     // frames to skip after an accepted onset
}

// DefaultConfig returns settings tuned for drum stems: a 12 kHz ceiling keeps
// snare crack and cymbals while ignoring inaudible highs, and a 3 frame wait
// still lets flams and rolls through.
func DefaultConfig() Config {
	return Config{
		HopLength: 256,
		NFFT:      2048,
		NMels:     128,
		FMax:      12000,
		Delta:     0.15,
		Wait:      3,
	}
}

// Detector picks onset times from a waveform. It holds no mutable state and
// is safe for concurrent use.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector with the given configuration
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Config returns the detector configuration
func (d *Detector) Config() Config {
	return d.cfg
}

// Detect returns onset times in seconds, non-decreasing and within the
// waveform duration. An empty waveform yields an empty list.
func (d *Detector) Detect(w audio.Waveform) []float64 {
	times := []float64{}
	if w.IsEmpty() {
		return times
	}

	env := d.Envelope(w)
	if !normalize(env) {
		return times
	}

	frames := PickPeaks(env, PeakParams{
		PreMax:  int(0.03 * float64(w.SampleRate) / float64(d.cfg.HopLength)),
		PostMax: 1,
		PreAvg:  int(0.10 * float64(w.SampleRate) / float64(d.cfg.HopLength)),
		PostAvg: int(0.10*float64(w.SampleRate)/float64(d.cfg.HopLength)) + 1,
		Delta:   d.cfg.Delta,
		Wait:    d.cfg.Wait,
	})
	frames = Backtrack(frames, env)

	duration := w.Duration()
	last := math.Inf(-1)
	for _, f := range frames {
		t := float64(f*d.cfg.HopLength) / float64(w.SampleRate)
		t = math.Min(t, duration)
		if t < last {
			t = last
		}
		times = append(times, t)
		last = t
	}
	return times
}

// Envelope computes the onset-strength envelope: positive spectral flux of
// the log-power mel spectrogram, aggregated across bands by the median and
// shifted to compensate for frame centering. One value per STFT frame.
func (d *Detector) Envelope(w audio.Waveform) []float64 {
	if w.IsEmpty() {
		return nil
	}
	mel := dsp.MelSpectrogram(w.Samples, w.SampleRate, d.cfg.NFFT, d.cfg.HopLength, d.cfg.NMels, 0, d.cfg.FMax)
	if len(mel) == 0 {
		return nil
	}
	dsp.PowerToDB(mel, 1.0, dsp.DefaultTopDB)

	const lag = 1
	frames := len(mel[0])
	env := make([]float64, frames)
	shift := lag + d.cfg.NFFT/(2*d.cfg.HopLength)

	flux := make([]float64, len(mel))
	scratch := make([]float64, len(mel))
	for t := lag; t < frames; t++ {
		out := t - lag + shift
		if out >= frames {
			break
		}
		for m, row := range mel {
			flux[m] = math.Max(0, row[t]-row[t-lag])
		}
		env[out] = dsp.Median(flux, scratch)
	}
	return env
}

// normalize rescales env to [0,1] in place. It reports false when the
// envelope is flat, in which case nothing can be picked.
func normalize(env []float64) bool {
	if len(env) == 0 {
		return false
	}
	lo := floats.Min(env)
	floats.AddConst(-lo, env)
	hi := floats.Max(env)
	if hi <= 0 {
		return false
	}
	floats.Scale(1/hi, env)
	return true
}

// PeakParams configures PickPeaks. Windows are in frames.
type PeakParams struct {
	PreMax, PostMax int
	PreAvg, PostAvg int
	Delta           float64
	Wait            int
}

// PickPeaks returns frames n where x[n] is the maximum of
// x[n-PreMax : n+PostMax], exceeds the mean of x[n-PreAvg : n+PostAvg] by
// Delta, and lies more than Wait frames after the previous pick.
func PickPeaks(x []float64, p PeakParams) []int {
	var peaks []int
	n := 0
	for n < len(x) {
		lo, hi := max(0, n-p.PreMax), min(n+p.PostMax, len(x))
		if hi <= lo || x[n] != floats.Max(x[lo:hi]) {
			n++
			continue
		}
		lo, hi = max(0, n-p.PreAvg), min(n+p.PostAvg, len(x))
		if hi <= lo {
			n++
			continue
		}
		mean := floats.Sum(x[lo:hi]) / float64(hi-lo)
		if x[n] < mean+p.Delta {
			n++
			continue
		}
		peaks = append(peaks, n)
		n += p.Wait + 1
	}
	return peaks
}

// Backtrack moves each onset frame back to the nearest local minimum of
// energy at or before it. Frame 0 always counts as a minimum.
func Backtrack(frames []int, energy []float64) []int {
	minima := []int{0}
	for i := 1; i+1 < len(energy); i++ {
		if energy[i] <= energy[i-1] && energy[i] < energy[i+1] {
			minima = append(minima, i)
		}
	}

	out := make([]int, len(frames))
	for i, f := range frames {
		// largest minimum <= f
		j := sort.SearchInts(minima, f+1) - 1
		if j < 0 {
			j = 0
		}
		out[i] = minima[j]
	}
	return out
}
