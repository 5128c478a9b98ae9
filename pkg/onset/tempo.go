package onset

import "math"

// Tempo search range and the resolution of the onset impulse train
const (
	MinTempo     = 60.0
	MaxTempo     = 200.0
	tempoRate    = 200.0
	tempoMinHits = 4
)

// EstimateTempo guesses the tempo in BPM from onset times by autocorrelating
// a smoothed impulse train. The raw correlation favors the shortest period in
// range over its multiples. It returns 0 when there are too few onsets or no
// periodicity in the searched range.
func EstimateTempo(onsets []float64) float64 {
	if len(onsets) < tempoMinHits {
		return 0
	}
	last := onsets[len(onsets)-1]
	if last <= 0 {
		return 0
	}

	n := int(math.Ceil(last*tempoRate)) + 3
	train := make([]float64, n)
	// triangular spread absorbs frame jitter
	kernel := []float64{0.25, 0.5, 1, 0.5, 0.25}
	for _, t := range onsets {
		c := int(math.Round(t * tempoRate))
		for k, w := range kernel {
			i := c + k - 2
			if i >= 0 && i < n {
				train[i] += w
			}
		}
	}

	minLag := int(math.Floor(60 * tempoRate / MaxTempo))
	maxLag := int(math.Ceil(60 * tempoRate / MinTempo))
	bestLag, bestScore := 0, 0.0
	for lag := minLag; lag <= maxLag && lag < n; lag++ {
		var score float64
		for i := 0; i+lag < n; i++ {
			score += train[i] * train[i+lag]
		}
		if score > bestScore {
			bestLag, bestScore = lag, score
		}
	}
	if bestLag == 0 {
		return 0
	}
	bpm := 60 * tempoRate / float64(bestLag)
	return math.Round(bpm*100) / 100
}
