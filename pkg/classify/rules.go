// Package classify assigns drum labels to spectrogram tiles
package classify

import "github.com/james-see/drumstem2midi/pkg/features"

// Drum labels produced by the classifiers
const (
	Kick  = "kick"
	Snare = "snare"
	HiHat = "hihat"
	Tom1  = "tom1"
	Tom2  = "tom2"
	Tom3  = "tom3"
	Crash = "crash"
	Ride  = "ride"
)

// Labels lists every label a classifier may emit
var Labels = []string{Kick, Snare, HiHat, Tom1, Tom2, Tom3, Crash, Ride}

// Bands holds the mean tile energy of five frequency bands, low to high
type Bands struct {
	Low, LowMid, Mid, HighMid, High float64
}

// BandEnergies splits the tile rows at 12%, 30%, 60% and 80% of its height
// and averages each band. An empty band has energy 0.
func BandEnergies(t features.Tile) Bands {
	n := t.Height
	cuts := []int{0, int(float64(n) * 0.12), int(float64(n) * 0.30), int(float64(n) * 0.60), int(float64(n) * 0.80), n}

	var means [5]float64
	for i := range means {
		means[i] = bandMean(t, cuts[i], cuts[i+1])
	}
	return Bands{Low: means[0], LowMid: means[1], Mid: means[2], HighMid: means[3], High: means[4]}
}

func bandMean(t features.Tile, lo, hi int) float64 {
	if hi <= lo || t.Width == 0 {
		return 0
	}
	var sum float64
	for r := lo; r < hi; r++ {
		for c := range t.Width {
			sum += t.At(r, c)
		}
	}
	return sum / float64((hi-lo)*t.Width)
}

// Rule is one entry of the decision table
type Rule struct {
	Name  string
	Label string
	Match func(Bands) bool
}

// Rules is evaluated in order; the first matching rule decides the label.
// The trailing fallback rules always end in a match.
var Rules = []Rule{
	{"low-dominant", Kick, func(b Bands) bool {
		return b.Low > max(b.LowMid*1.2, b.Mid*1.4, b.High*1.5)
	}},
	{"high-dominant", HiHat, func(b Bands) bool {
		return b.High > max(b.HighMid*1.1, b.Mid*1.5, b.Low*2.0)
	}},
	{"bright-wash", Crash, func(b Bands) bool {
		top := b.High + b.HighMid
		return top > b.Mid*1.6 && top > b.LowMid*1.2
	}},
	{"mid-body", Snare, func(b Bands) bool {
		return b.Mid+b.HighMid > b.LowMid*1.2 && b.Mid > b.Low*0.9
	}},
	{"high-tom", Tom1, func(b Bands) bool {
		return b.LowMid > b.Mid*1.1 && b.LowMid > b.Low
	}},
	{"mid-tom", Tom2, func(b Bands) bool {
		return b.LowMid > b.Low && b.Mid > b.LowMid*0.8
	}},
	{"floor-tom", Tom3, func(b Bands) bool {
		return b.Low > b.LowMid*1.1 && b.LowMid > b.Mid*0.8
	}},
	{"fallback-mid", Snare, func(b Bands) bool {
		return b.Mid > b.Low || b.HighMid > b.Low
	}},
	{"fallback-high", HiHat, func(b Bands) bool {
		return b.High > 0.01
	}},
	{"fallback", Kick, func(Bands) bool { return true }},
}

// Decide returns the label of the first rule matching b
func Decide(b Bands) string {
	for _, r := range Rules {
		if r.Match(b) {
			return r.Label
		}
	}
	return Kick
}
