package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMelScaleRoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 200, 999, 1000, 4000, 12000, 22050} {
		assert.InDelta(t, hz, MelToHz(HzToMel(hz)), 1e-6, "hz=%v", hz)
	}
	// linear region
	assert.InDelta(t, 3.0, HzToMel(200), 1e-12)
	assert.InDelta(t, 15.0, HzToMel(1000), 1e-12)
}

func TestPowerSpectrogramShapeAndPeak(t *testing.T) {
	const (
		sr   = 8000
		nfft = 256
		hop  = 64
	)
	x := make([]float32, sr/2)
	for i := range x {
		x[i] = float32(math.Sin(2 * math.Pi * 1000 * float64(i) / sr))
	}

	spec := PowerSpectrogram(x, nfft, hop)
	require.Len(t, spec, FrameCount(len(x), hop))
	require.Len(t, spec[0], nfft/2+1)

	// a 1 kHz tone lands in bin 1000 / (8000/256) = 32
	mid := spec[len(spec)/2]
	best := 0
	for k := range mid {
		if mid[k] > mid[best] {
			best = k
		}
	}
	assert.Equal(t, 32, best)
}

func TestPowerSpectrogramEmpty(t *testing.T) {
	assert.Nil(t, PowerSpectrogram(nil, 256, 64))
}

func TestMelFilterbankCoversRange(t *testing.T) {
	fb := NewMelFilterbank(22050, 2048, 64, 0, 12000)
	require.Equal(t, 64, fb.Bands())

	// a flat spectrum excites every band
	frame := make([]float64, 1025)
	for i := range frame {
		frame[i] = 1
	}
	mel := fb.Apply([][]float64{frame})
	for m, row := range mel {
		assert.Greater(t, row[0], 0.0, "band %d", m)
	}
}

func TestPowerToDB(t *testing.T) {
	s := [][]float64{{1, 0.1}, {0.01, 0}}
	PowerToDB(s, 1, DefaultTopDB)

	assert.InDelta(t, 0, s[0][0], 1e-9)
	assert.InDelta(t, -10, s[0][1], 1e-9)
	assert.InDelta(t, -20, s[1][0], 1e-9)
	// silence is clipped to top_db below the peak
	assert.InDelta(t, -80, s[1][1], 1e-9)
}

func TestPowerToDBReferencedToPeak(t *testing.T) {
	s := [][]float64{{4, 2}}
	PowerToDB(s, MatrixMax(s), 0)
	assert.InDelta(t, 0, s[0][0], 1e-9)
	assert.InDelta(t, 10*math.Log10(0.5), s[0][1], 1e-9)
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Median(tt.values, nil))
		})
	}

	values := []float64{3, 1, 2}
	Median(values, make([]float64, 1))
	assert.Equal(t, []float64{3, 1, 2}, values, "input must not be reordered")
}

func TestResize(t *testing.T) {
	src := [][]float64{
		{0, 1},
		{2, 3},
	}

	same := Resize(src, 2, 2)
	assert.Equal(t, src, same)

	up := Resize(src, 4, 4)
	require.Len(t, up, 4)
	require.Len(t, up[0], 4)
	assert.InDelta(t, 0, up[0][0], 1e-12)
	assert.InDelta(t, 3, up[3][3], 1e-12)
	// interior values interpolate between corners
	assert.InDelta(t, 0.25, up[0][1], 1e-12)

	flat := Resize([][]float64{{5}}, 3, 3)
	for _, row := range flat {
		for _, v := range row {
			assert.Equal(t, 5.0, v)
		}
	}
}
