// Package dsp provides the spectral building blocks shared by onset
// detection and feature extraction: STFT power, mel filterbanks, decibel
// scaling and image resizing.
package dsp

import (
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

// PeriodicHann returns an n-point periodic Hann window, the variant used for
// spectral analysis (the symmetric n+1 window with its last point dropped).
func PeriodicHann(n int) []float64 {
	if n <= 1 {
		return []float64{1}
	}
	return window.Hann(n + 1)[:n]
}

// FrameCount returns the number of centered STFT frames for a signal
func FrameCount(signalLen, hop int) int {
	if signalLen <= 0 || hop <= 0 {
		return 0
	}
	return 1 + signalLen/hop
}

// PowerSpectrogram computes |STFT|² of x with centered frames.
// The signal is zero-padded by nfft/2 on both sides, so frame t is centered
// on sample t*hop. The result is indexed [frame][bin] with nfft/2+1 bins.
func PowerSpectrogram(x []float32, nfft, hop int) [][]float64 {
	frames := FrameCount(len(x), hop)
	if frames == 0 || nfft <= 0 {
		return nil
	}

	win := PeriodicHann(nfft)
	fft := fourier.NewFFT(nfft)
	pad := nfft / 2
	buf := make([]float64, nfft)
	coeffs := make([]complex128, nfft/2+1)

	spec := make([][]float64, frames)
	for t := range frames {
		start := t*hop - pad
		for k := range nfft {
			idx := start + k
			if idx >= 0 && idx < len(x) {
				buf[k] = float64(x[idx]) * win[k]
			} else {
				buf[k] = 0
			}
		}
		coeffs = fft.Coefficients(coeffs, buf)
		row := make([]float64, len(coeffs))
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			row[k] = re*re + im*im
		}
		spec[t] = row
	}
	return spec
}

// MelSpectrogram computes a power mel spectrogram indexed [band][frame]
func MelSpectrogram(x []float32, sampleRate, nfft, hop, nMels int, fmin, fmax float64) [][]float64 {
	power := PowerSpectrogram(x, nfft, hop)
	if power == nil {
		return nil
	}
	fb := NewMelFilterbank(sampleRate, nfft, nMels, fmin, fmax)
	return fb.Apply(power)
}
