// Package features turns onsets into fixed-size normalized mel-spectrogram
// tiles suitable for classification.
package features

import (
	"gonum.org/v1/gonum/floats"

	"github.com/james-see/drumstem2midi/pkg/audio"
	"github.com/james-see/drumstem2midi/pkg/dsp"
)

// Config controls tile geometry and the spectrogram behind each tile
type Config struct {
	Height     int     // tile rows (frequency axis)
	Width      int     // tile columns (time axis)
	WindowSize float64 // seconds of audio per tile
	PreOffset  float64 // seconds of audio kept before the onset
	NMels      int
	FMax       float64
	NFFT       int
	HopLength  int
}

// DefaultConfig returns the 256x256 tile layout used for drum hits
func DefaultConfig() Config {
	return Config{
		Height:     256,
		Width:      256,
		WindowSize: 0.32,
		PreOffset:  0.03,
		NMels:      64,
		FMax:       12000,
		NFFT:       2048,
		HopLength:  512,
	}
}

// Extractor cuts one tile per onset
type Extractor struct {
	cfg Config
}

// NewExtractor creates an extractor with the given configuration
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{cfg: cfg}
}

// Config returns the extractor configuration
func (e *Extractor) Config() Config {
	return e.cfg
}

// Window renders the tile for a single onset. It reports false when the
// onset's audio slice is empty, for example past the end of the waveform.
func (e *Extractor) Window(w audio.Waveform, onset float64) (Tile, bool) {
	if w.IsEmpty() {
		return Tile{}, false
	}
	sr := float64(w.SampleRate)
	start := max(0, int((onset-e.cfg.PreOffset)*sr))
	end := start + int(e.cfg.WindowSize*sr)

	slice := w.Slice(start, end)
	if len(slice) == 0 {
		return Tile{}, false
	}

	mel := dsp.MelSpectrogram(slice, w.SampleRate, e.cfg.NFFT, e.cfg.HopLength, e.cfg.NMels, 0, e.cfg.FMax)
	if len(mel) == 0 {
		return Tile{}, false
	}
	dsp.PowerToDB(mel, dsp.MatrixMax(mel), dsp.DefaultTopDB)

	img := dsp.Resize(mel, e.cfg.Height, e.cfg.Width)
	return newTile(img), true
}

// ExtractAll renders tiles for every onset that yields audio. Skipped onsets
// leave no tile; OnsetIndex records which onset each tile came from.
func (e *Extractor) ExtractAll(w audio.Waveform, onsets []float64) *Batch {
	b := NewBatch(e.cfg.Height, e.cfg.Width)
	for i, onset := range onsets {
		tile, ok := e.Window(w, onset)
		if !ok {
			continue
		}
		b.Append(tile, i)
	}
	return b
}

// newTile min-max normalizes img into a float32 tile
func newTile(img [][]float64) Tile {
	h := len(img)
	wd := 0
	if h > 0 {
		wd = len(img[0])
	}
	lo, hi := 0.0, 0.0
	if h > 0 && wd > 0 {
		lo, hi = floats.Min(img[0]), floats.Max(img[0])
		for _, row := range img[1:] {
			lo = min(lo, floats.Min(row))
			hi = max(hi, floats.Max(row))
		}
	}
	scale := hi - lo + 1e-6

	data := make([]float32, 0, h*wd)
	for _, row := range img {
		for _, v := range row {
			data = append(data, float32((v-lo)/scale))
		}
	}
	return Tile{Height: h, Width: wd, Data: data}
}
