// Package audiotest synthesizes drum-like waveforms and WAV fixtures for tests
package audiotest

import (
	"math"
	"math/rand/v2"
	"os"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/james-see/drumstem2midi/pkg/audio"
)

// Voice selects the synthesized drum sound
type Voice int

const (
	// Kick is a decaying low sine with a short pitch drop and a beater click
	Kick Voice = iota
	// Hat is decaying high-frequency noise
	Hat
	// Tone is a decaying mid-range sine
	Tone
)

// Strike is one synthesized hit
type Strike struct {
	Time  float64
	Voice Voice
}

// Silence returns a zeroed waveform of the given length
func Silence(sampleRate int, seconds float64) audio.Waveform {
	return audio.Waveform{
		Samples:    make([]float32, int(seconds*float64(sampleRate))),
		SampleRate: sampleRate,
	}
}

// Render mixes strikes into a waveform of the given length
func Render(sampleRate int, seconds float64, strikes ...Strike) audio.Waveform {
	w := Silence(sampleRate, seconds)
	rng := rand.New(rand.NewPCG(7, 11))
	sr := float64(sampleRate)

	for _, s := range strikes {
		start := int(s.Time * sr)
		length := int(0.25 * sr)
		for i := 0; i < length && start+i < len(w.Samples); i++ {
			t := float64(i) / sr
			var v float64
			switch s.Voice {
			case Kick:
				freq := 50 + 60*math.Exp(-t*40)
				v = math.Sin(2*math.Pi*freq*t) * math.Exp(-t*12)
				if t < 0.002 {
					v += 0.3 * (rng.Float64()*2 - 1)
				}
			case Hat:
				v = (rng.Float64()*2 - 1) * math.Exp(-t*60)
				if i%2 == 1 {
					v = -v
				}
			case Tone:
				v = math.Sin(2*math.Pi*1200*t) * math.Exp(-t*20)
			}
			w.Samples[start+i] += float32(0.8 * v)
		}
	}
	return w
}

// WriteWAV encodes w as a 16-bit mono WAV file at path
func WriteWAV(t testing.TB, path string, w audio.Waveform) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer func() { _ = f.Close() }()

	enc := wav.NewEncoder(f, w.SampleRate, 16, 1, 1)
	data := make([]int, len(w.Samples))
	for i, s := range w.Samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		data[i] = int(v * 32767)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}
