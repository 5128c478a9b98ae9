package classify

import (
	"fmt"
	"strings"

	"github.com/james-see/drumstem2midi/pkg/features"
)

// Classifier labels feature tiles
type Classifier interface {
	Name() string
	Classify(t features.Tile) string
	ClassifyBatch(b *features.Batch) []string
}

// KindHeuristic selects the band-energy rule classifier
const KindHeuristic = "heuristic"

// New returns the classifier variant named by kind
func New(kind string) (Classifier, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindHeuristic:
		return Heuristic{}, nil
	default:
		return nil, fmt.Errorf("unknown classifier: %s", kind)
	}
}

// Heuristic classifies tiles by comparing mean energy across frequency bands.
// It is stateless and deterministic.
type Heuristic struct{}

// Name returns the classifier kind
func (Heuristic) Name() string { return KindHeuristic }

// Classify returns the label for one tile
func (Heuristic) Classify(t features.Tile) string {
	return Decide(BandEnergies(t))
}

// ClassifyBatch labels every tile of b in order
func (h Heuristic) ClassifyBatch(b *features.Batch) []string {
	if b.Empty() {
		return []string{}
	}
	labels := make([]string, b.Count)
	for i := range b.Count {
		labels[i] = h.Classify(b.Tile(i))
	}
	return labels
}
