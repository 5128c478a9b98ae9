package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-see/drumstem2midi/pkg/features"
)

func TestDecideRules(t *testing.T) {
	tests := []struct {
		name  string
		bands Bands
		want  string
	}{
		{"low dominant", Bands{Low: 1}, Kick},
		{"high dominant", Bands{High: 1}, HiHat},
		{"bright wash", Bands{Low: 0.5, LowMid: 0.5, Mid: 0.3, HighMid: 0.6, High: 0.6}, Crash},
		{"mid body", Bands{Low: 0.5, LowMid: 0.5, Mid: 0.6, HighMid: 0.3, High: 0.1}, Snare},
		{"high tom", Bands{Low: 0.4, LowMid: 0.8, Mid: 0.5, HighMid: 0.1, High: 0.05}, Tom1},
		{"mid tom", Bands{Low: 0.4, LowMid: 0.6, Mid: 0.6}, Tom2},
		{"floor tom", Bands{Low: 0.9, LowMid: 0.8, Mid: 0.7}, Tom3},
		{"fallback high-mid", Bands{Low: 1, LowMid: 1, Mid: 0.1, HighMid: 1.1}, Snare},
		{"fallback high", Bands{Low: 1, LowMid: 1, High: 0.05}, HiHat},
		{"fallback", Bands{Low: 1, LowMid: 1}, Kick},
		{"silent", Bands{}, Kick},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.bands))
		})
	}
}

func TestRulesEndWithCatchAll(t *testing.T) {
	require.NotEmpty(t, Rules)
	last := Rules[len(Rules)-1]
	assert.True(t, last.Match(Bands{}))

	names := map[string]bool{}
	for _, r := range Rules {
		assert.False(t, names[r.Name], "duplicate rule %s", r.Name)
		names[r.Name] = true
		assert.Contains(t, Labels, r.Label)
	}
}

// bandTile lights rows [from, to) of an otherwise dark tile
func bandTile(height, width, from, to int) features.Tile {
	tile := features.Tile{Height: height, Width: width, Data: make([]float32, height*width)}
	for r := from; r < to; r++ {
		for c := range width {
			tile.Data[r*width+c] = 1
		}
	}
	return tile
}

func TestBandEnergies(t *testing.T) {
	b := BandEnergies(bandTile(100, 4, 0, 12))
	assert.Equal(t, Bands{Low: 1}, b)

	b = BandEnergies(bandTile(100, 4, 30, 45))
	assert.InDelta(t, 0.5, b.Mid, 1e-12)

	// too few rows leave the lower bands empty
	b = BandEnergies(bandTile(2, 2, 0, 2))
	assert.Zero(t, b.Low)
	assert.Zero(t, b.LowMid)
	assert.Equal(t, 1.0, b.High)
}

func TestHeuristicExtremes(t *testing.T) {
	h := Heuristic{}
	assert.Equal(t, Kick, h.Classify(bandTile(256, 8, 0, 30)))
	assert.Equal(t, HiHat, h.Classify(bandTile(256, 8, 204, 256)))
}

func TestHeuristicIsPure(t *testing.T) {
	h := Heuristic{}
	tiles := []features.Tile{
		bandTile(64, 8, 0, 7),
		bandTile(64, 8, 20, 40),
		bandTile(64, 8, 51, 64),
	}

	b := features.NewBatch(64, 8)
	for i, tile := range tiles {
		b.Append(tile, i)
	}

	labels := h.ClassifyBatch(b)
	require.Len(t, labels, len(tiles))
	for i, tile := range tiles {
		assert.Equal(t, h.Classify(tile), labels[i])
		assert.Equal(t, labels[i], h.Classify(tile), "repeat classification differs")
	}
	assert.Equal(t, labels, h.ClassifyBatch(b))

	assert.Empty(t, h.ClassifyBatch(features.NewBatch(64, 8)))
}

func TestNew(t *testing.T) {
	c, err := New("heuristic")
	require.NoError(t, err)
	assert.Equal(t, KindHeuristic, c.Name())

	c, err = New("")
	require.NoError(t, err)
	assert.Equal(t, KindHeuristic, c.Name())

	_, err = New("cnn")
	assert.Error(t, err)
}
