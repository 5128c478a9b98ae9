package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/james-see/drumstem2midi/pkg/cache"
	"github.com/james-see/drumstem2midi/pkg/converter"
)

type onsetsDocument struct {
	Onsets []float64 `json:"onsets"`
}

func marshalOnsets(onsets []float64) ([]byte, error) {
	if onsets == nil {
		onsets = []float64{}
	}
	return json.Marshal(onsetsDocument{Onsets: onsets})
}

func unmarshalOnsets(data []byte) ([]float64, error) {
	var doc onsetsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse onsets: %w", err)
	}
	if doc.Onsets == nil {
		doc.Onsets = []float64{}
	}
	return doc.Onsets, nil
}

// LoadHits returns the hits stored for a stem. path may be the stem itself or
// its hits artifact. A missing or unreadable artifact yields an empty list.
func LoadHits(path string) []converter.Hit {
	hitsPath := path
	if !strings.HasSuffix(path, ".hits.json") {
		hitsPath = cache.ArtifactsFor(path).Hits
	}
	data, err := os.ReadFile(hitsPath)
	if err != nil {
		return []converter.Hit{}
	}
	hits, err := converter.UnmarshalHits(data)
	if err != nil {
		return []converter.Hit{}
	}
	return hits
}
